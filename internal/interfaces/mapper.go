package interfaces

import "github.com/dongbohu/biohub/internal/storage/collections"

// Mapper is a named, idempotent-on-load transformation applied to raw
// source documents before they are written to a build's target collection.
type Mapper interface {
	// Name returns the mapper's registered name.
	Name() string

	// NeedLoad reports whether Load must still run. Implementations that
	// have no state to load should always return false.
	NeedLoad() bool

	// Load performs any one-time setup the mapper needs (e.g. compiling a
	// schema). Safe to call multiple times; a no-op after the first
	// successful call.
	Load() error

	// Process transforms one batch of input documents into zero or more
	// output documents each. It must be deterministic given the same input
	// batch and mapper state.
	Process(docs []collections.Doc) ([]collections.Doc, error)
}
