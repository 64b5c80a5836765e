// Package manager implements the Job Manager: two submission primitives,
// defer_to_thread (cooperative in-process goroutines) and defer_to_process
// (isolated worker subprocesses), plus the observability surface (Top) and
// memory-admission-controlled scheduling spec.md §4.1 requires.
package manager

import (
	"context"
	"fmt"
	"sync"

	"github.com/ternarybob/arbor"
	"golang.org/x/sync/semaphore"

	"github.com/dongbohu/biohub/internal/common"
	"github.com/dongbohu/biohub/internal/interfaces"
)

// Config controls pool sizing and admission.
type Config struct {
	// NumThreadWorkers bounds concurrent DeferToThread goroutines.
	NumThreadWorkers int

	// NumProcessWorkers is the size of the merge-worker subprocess pool.
	NumProcessWorkers int

	// MaxMemoryUsage bounds the aggregate estimated memory of in-flight
	// process-pool tasks. DeferToProcess blocks until enough budget frees
	// up rather than rejecting the submission.
	MaxMemoryUsage int64

	// DefaultTaskMemoryBytes is used for a WorkerTask that does not
	// declare EstimatedMemoryBytes.
	DefaultTaskMemoryBytes int64

	// WorkerBinaryPath is the executable re-exec'd (with -merge-worker)
	// to start each subprocess worker.
	WorkerBinaryPath string
}

// Manager is the concrete interfaces.JobManager.
type Manager struct {
	cfg    Config
	logger arbor.ILogger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	threadSem chan struct{}
	memSem    *semaphore.Weighted

	pool *processPool

	mu       sync.Mutex
	inFlight map[string]interfaces.PInfo
}

// New constructs a Manager and starts its worker-subprocess pool.
func New(cfg Config, logger arbor.ILogger) (*Manager, error) {
	if cfg.NumThreadWorkers <= 0 {
		cfg.NumThreadWorkers = 4
	}
	if cfg.NumProcessWorkers <= 0 {
		cfg.NumProcessWorkers = 2
	}
	if cfg.DefaultTaskMemoryBytes <= 0 {
		cfg.DefaultTaskMemoryBytes = 64 * 1024 * 1024
	}
	if cfg.MaxMemoryUsage <= 0 {
		cfg.MaxMemoryUsage = int64(cfg.NumProcessWorkers) * cfg.DefaultTaskMemoryBytes * 4
	}

	ctx, cancel := context.WithCancel(context.Background())

	pool, err := newProcessPool(ctx, cfg.WorkerBinaryPath, cfg.NumProcessWorkers, logger)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("start merge-worker pool: %w", err)
	}

	return &Manager{
		cfg:       cfg,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		threadSem: make(chan struct{}, cfg.NumThreadWorkers),
		memSem:    semaphore.NewWeighted(cfg.MaxMemoryUsage),
		pool:      pool,
		inFlight:  make(map[string]interfaces.PInfo),
	}, nil
}

func (m *Manager) track(id string, info interfaces.PInfo) {
	m.mu.Lock()
	m.inFlight[id] = info
	m.mu.Unlock()
}

func (m *Manager) untrack(id string) {
	m.mu.Lock()
	delete(m.inFlight, id)
	m.mu.Unlock()
}

// Top returns the PInfo of every currently in-flight submission.
func (m *Manager) Top() []interfaces.PInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]interfaces.PInfo, 0, len(m.inFlight))
	for _, info := range m.inFlight {
		out = append(out, info)
	}
	return out
}

// JobInfo returns the PInfo for one in-flight submission by id.
func (m *Manager) JobInfo(id string) (interfaces.PInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	info, ok := m.inFlight[id]
	return info, ok
}

// DeferToThread runs fn on a bounded in-process goroutine, blocking the
// caller's submission (not the goroutine) until a slot is free.
func (m *Manager) DeferToThread(ctx context.Context, info interfaces.PInfo, fn interfaces.ThreadFunc) interfaces.Future {
	id := common.NewJobTaskID()
	childCtx, cancel := context.WithCancel(ctx)
	f := newFuture(id, cancel)

	select {
	case m.threadSem <- struct{}{}:
	case <-ctx.Done():
		f.resolve(interfaces.FutureResult{Err: ctx.Err()})
		return f
	}

	m.track(id, info)
	m.wg.Add(1)
	common.SafeGo(m.logger, "defer_to_thread:"+info.Description, func() {
		defer m.wg.Done()
		defer func() { <-m.threadSem }()
		defer m.untrack(id)

		value, err := fn(childCtx)
		f.resolve(interfaces.FutureResult{Value: value, Err: err})
	})

	return f
}

// DeferToProcess hands task to the subprocess pool, blocking the caller
// until enough estimated-memory budget is available.
func (m *Manager) DeferToProcess(ctx context.Context, info interfaces.PInfo, task interfaces.WorkerTask) interfaces.Future {
	weight := task.EstimatedMemoryBytes
	if weight <= 0 {
		weight = m.cfg.DefaultTaskMemoryBytes
	}
	if weight > m.memSem.Size() {
		weight = m.memSem.Size()
	}

	id := common.NewJobTaskID()
	childCtx, cancel := context.WithCancel(ctx)
	f := newFuture(id, cancel)

	if err := m.memSem.Acquire(ctx, weight); err != nil {
		f.resolve(interfaces.FutureResult{Err: fmt.Errorf("memory admission: %w", err)})
		return f
	}

	m.track(id, info)
	m.wg.Add(1)
	common.SafeGo(m.logger, "defer_to_process:"+info.Description, func() {
		defer m.wg.Done()
		defer m.memSem.Release(weight)
		defer m.untrack(id)

		result, err := m.pool.Run(childCtx, task)
		if err != nil {
			f.resolve(interfaces.FutureResult{Err: err})
			return
		}
		f.resolve(interfaces.FutureResult{Value: result})
	})

	return f
}

// Shutdown stops accepting new work, tears down the subprocess pool, and
// waits for in-flight submissions to finish or ctx to expire.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
	}

	return m.pool.Close()
}
