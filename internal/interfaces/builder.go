package interfaces

import "context"

// MergeOptions configures one Merge call. All fields are optional.
type MergeOptions struct {
	// Sources restricts the merge to these source names (each possibly a
	// regex). Empty means "use the config's full source list".
	Sources []string

	// TargetName overrides the computed target collection name.
	TargetName string

	// Force skips the readiness check.
	Force bool

	// IDs restricts the merge to documents whose _id is in this list.
	IDs []string

	// Post controls whether the post-merge hook runs after this merge.
	// Defaults to true when unset via NewMergeOptions.
	Post bool
}

// NewMergeOptions returns MergeOptions with Post defaulted to true, the
// policy every caller other than a test harness should start from.
func NewMergeOptions() MergeOptions {
	return MergeOptions{Post: true}
}

// Builder is the merge engine contract, bound to one build name and its two
// backends.
type Builder interface {
	// Merge resolves sources, fans out batches across the Job Manager's
	// pools, and records build history. It returns a Future that resolves
	// when the whole merge is complete.
	Merge(ctx context.Context, opts MergeOptions) (Future, error)
}

// BuilderFactory constructs a fresh Builder (and its backends) bound to one
// build name. Invoked per call so connections are never held idle between
// builds.
type BuilderFactory func() (Builder, error)

// BuilderManager enumerates build configurations, instantiates Builders on
// demand, tracks build history via the underlying store, polls for pending
// builds, and exposes the command surface.
type BuilderManager interface {
	// Sync enumerates every persisted build config and registers a
	// factory for it.
	Sync(ctx context.Context) error

	// RegisterBuilder stores a factory for one build name.
	RegisterBuilder(buildName string)

	// Merge fetches a fresh Builder for buildName and calls its Merge.
	Merge(ctx context.Context, buildName string, opts MergeOptions) (Future, error)

	// Poll scans for configs with PendingToBuild set and launches a merge
	// for each, in lexical build-name order, isolating errors per config.
	Poll(ctx context.Context) error

	// CleanTempCollections drops archived target collections for
	// buildName matching the given prefix/date, never those containing
	// "current".
	CleanTempCollections(ctx context.Context, buildName, prefix, date string) error

	// ListSources returns buildName's configured source list.
	ListSources(ctx context.Context, buildName string) ([]string, error)
}
