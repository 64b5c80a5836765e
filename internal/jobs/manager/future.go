package manager

import (
	"context"

	"github.com/dongbohu/biohub/internal/interfaces"
)

// future is the shared interfaces.Future implementation for both pools.
type future struct {
	id     string
	done   chan struct{}
	result interfaces.FutureResult
	cancel func()
}

func newFuture(id string, cancel func()) *future {
	return &future{id: id, done: make(chan struct{}), cancel: cancel}
}

// ID returns the submission id JobInfo/Top correlate this future to.
func (f *future) ID() string {
	return f.id
}

func (f *future) resolve(result interfaces.FutureResult) {
	f.result = result
	close(f.done)
}

func (f *future) Wait(ctx context.Context) interfaces.FutureResult {
	select {
	case <-f.done:
		return f.result
	case <-ctx.Done():
		return interfaces.FutureResult{Err: ctx.Err()}
	}
}

func (f *future) Cancel() {
	if f.cancel != nil {
		f.cancel()
	}
}

func (f *future) Done() <-chan struct{} {
	return f.done
}
