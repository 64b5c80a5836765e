package manager

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"sync/atomic"

	"github.com/ternarybob/arbor"

	"github.com/dongbohu/biohub/internal/interfaces"
)

// processWorker is one persistent merge-worker subprocess: a re-exec of the
// running binary with "-merge-worker", communicating one JSON object per
// line each way over its stdin/stdout pipes.
type processWorker struct {
	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	reader *bufio.Scanner
}

// processPool is a fixed-size round-robin pool of processWorker instances.
// Badger permits only one process to hold its data directory open, so
// workers never touch the document store themselves: the caller (running
// in the main process) reads source documents and hands them, already
// loaded, to the worker inside the WorkerTask; the worker only runs the
// mapper transform (the genuinely CPU-isolable step) and returns the
// transformed documents for the caller to write.
type processPool struct {
	binPath string
	logger  arbor.ILogger
	ctx     context.Context

	mu      sync.Mutex
	workers []*processWorker
	next    uint64
}

func newProcessPool(ctx context.Context, binPath string, n int, logger arbor.ILogger) (*processPool, error) {
	p := &processPool{binPath: binPath, logger: logger, ctx: ctx, workers: make([]*processWorker, n)}
	for i := 0; i < n; i++ {
		w, err := p.spawn()
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("spawn merge-worker %d: %w", i, err)
		}
		p.workers[i] = w
	}
	return p, nil
}

func (p *processPool) spawn() (*processWorker, error) {
	cmd := exec.CommandContext(p.ctx, p.binPath, "-merge-worker")
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 64*1024*1024)

	return &processWorker{cmd: cmd, stdin: stdin, reader: scanner}, nil
}

// Run sends task to the next worker in round-robin order and waits for its
// response. If the worker's pipe is broken, the worker is respawned and the
// failure is returned to the caller as a transport error (distinct from a
// WorkerResult carrying a mapper error). If ctx is cancelled while the task
// is in flight, the worker subprocess is killed and respawned, and ctx's
// error is returned.
func (p *processPool) Run(ctx context.Context, task interfaces.WorkerTask) (interfaces.WorkerResult, error) {
	idx := int(atomic.AddUint64(&p.next, 1)-1) % len(p.workers)

	p.mu.Lock()
	w := p.workers[idx]
	p.mu.Unlock()

	w.mu.Lock()
	defer w.mu.Unlock()

	stopKill := context.AfterFunc(ctx, func() { _ = w.cmd.Process.Kill() })
	result, err := p.exchange(w, task)
	if !stopKill() {
		p.respawn(idx, w)
		return interfaces.WorkerResult{}, fmt.Errorf("merge worker cancelled: %w", ctx.Err())
	}
	if err != nil {
		p.respawn(idx, w)
		return interfaces.WorkerResult{}, fmt.Errorf("merge worker transport: %w", err)
	}
	return result, nil
}

func (p *processPool) exchange(w *processWorker, task interfaces.WorkerTask) (interfaces.WorkerResult, error) {
	line, err := json.Marshal(task)
	if err != nil {
		return interfaces.WorkerResult{}, fmt.Errorf("encode task: %w", err)
	}
	if _, err := w.stdin.Write(append(line, '\n')); err != nil {
		return interfaces.WorkerResult{}, fmt.Errorf("write task: %w", err)
	}

	if !w.reader.Scan() {
		if err := w.reader.Err(); err != nil {
			return interfaces.WorkerResult{}, fmt.Errorf("read result: %w", err)
		}
		return interfaces.WorkerResult{}, fmt.Errorf("read result: worker closed stdout")
	}

	var result interfaces.WorkerResult
	if err := json.Unmarshal(w.reader.Bytes(), &result); err != nil {
		return interfaces.WorkerResult{}, fmt.Errorf("decode result: %w", err)
	}
	return result, nil
}

// respawn replaces a dead worker at idx with a fresh subprocess. Must be
// called with w.mu held (w is the old worker at idx).
func (p *processPool) respawn(idx int, dead *processWorker) {
	_ = dead.stdin.Close()
	_ = dead.cmd.Process.Kill()
	_, _ = dead.cmd.Process.Wait()

	fresh, err := p.spawn()
	if err != nil {
		p.logger.Error().Err(err).Int("worker_index", idx).Msg("failed to respawn merge worker")
		return
	}
	p.mu.Lock()
	p.workers[idx] = fresh
	p.mu.Unlock()
}

// Close terminates every worker subprocess.
func (p *processPool) Close() error {
	p.mu.Lock()
	workers := p.workers
	p.mu.Unlock()

	for _, w := range workers {
		if w == nil {
			continue
		}
		_ = w.stdin.Close()
		if w.cmd.Process != nil {
			_ = w.cmd.Process.Kill()
			_, _ = w.cmd.Process.Wait()
		}
	}
	return nil
}
