package interfaces

import (
	"context"

	"github.com/dongbohu/biohub/internal/storage/collections"
)

// JobCategory classifies a PInfo for observability grouping.
type JobCategory string

const (
	JobCategoryMerge     JobCategory = "merge"
	JobCategoryPostMerge JobCategory = "post-merge"
	JobCategoryGlue      JobCategory = "glue"
)

// PInfo describes one unit of work submitted to the Job Manager, recorded
// for observability (spec.md's "top"/"job_info").
type PInfo struct {
	Category    JobCategory
	Source      string
	Step        string
	Description string
}

// FutureResult is the outcome of one JobManager submission.
type FutureResult struct {
	Value interface{}
	Err   error
}

// Future is a cancelable handle to a submitted unit of work.
type Future interface {
	// ID returns the submission id JobManager.JobInfo correlates this
	// future back to.
	ID() string

	// Wait blocks until the future resolves or ctx is cancelled.
	Wait(ctx context.Context) FutureResult

	// Cancel requests cancellation. For a process-pool future this kills
	// the owning worker subprocess.
	Cancel()

	// Done returns a channel closed when the future resolves.
	Done() <-chan struct{}
}

// ThreadFunc is cooperative, in-process work submitted via DeferToThread.
type ThreadFunc func(ctx context.Context) (interface{}, error)

// JobManager exposes the two submission primitives spec.md §4.1 requires.
type JobManager interface {
	// DeferToThread runs fn on a bounded in-process goroutine pool.
	DeferToThread(ctx context.Context, info PInfo, fn ThreadFunc) Future

	// DeferToProcess runs task in an isolated worker subprocess.
	DeferToProcess(ctx context.Context, info PInfo, task WorkerTask) Future

	// Top returns the PInfo of every currently in-flight submission.
	Top() []PInfo

	// JobInfo returns the PInfo for one in-flight submission by id, and
	// false if id is unknown or already resolved.
	JobInfo(id string) (PInfo, bool)

	// Shutdown stops accepting new work and waits for in-flight work to
	// finish (or ctx to expire).
	Shutdown(ctx context.Context) error
}

// WorkerTask is the serializable unit of work handed to a merge-worker
// subprocess: one merge batch. Badger permits only one process to hold its
// data directory open, so the main process reads the source documents and
// ships them inline; the worker subprocess runs only the (genuinely
// CPU-isolable) mapper transform and hands the results back.
type WorkerTask struct {
	TaskID               string            `json:"task_id"`
	SourceCollection     string            `json:"source_collection"`
	TargetCollection     string            `json:"target_collection"`
	Docs                 []collections.Doc `json:"docs"`
	MapperName           string            `json:"mapper_name"`
	Upsert               bool              `json:"upsert"`
	BatchNum             int               `json:"batch_num"`
	EstimatedMemoryBytes int64             `json:"estimated_memory_bytes"`
}

// WorkerResult is the serializable response a merge-worker subprocess sends
// back for one WorkerTask.
type WorkerResult struct {
	TaskID       string            `json:"task_id"`
	Docs         []collections.Doc `json:"docs"`
	ErrorType    string            `json:"error_type,omitempty"`
	ErrorMessage string            `json:"error_message,omitempty"`
	ErrorStack   string            `json:"error_stack,omitempty"`
}

// Failed reports whether the result represents a batch failure.
func (r WorkerResult) Failed() bool {
	return r.ErrorMessage != ""
}
