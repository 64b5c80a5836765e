package interfaces

import (
	"context"

	"github.com/dongbohu/biohub/internal/models"
	"github.com/dongbohu/biohub/internal/storage/collections"
)

// SourceBackend is the read-only facade a Builder uses to resolve and read
// from its configured sources.
type SourceBackend interface {
	// GetMaster fetches the master record for a source name.
	GetMaster(ctx context.Context, name string) (*models.SourceMaster, error)

	// ListMasters returns every persisted master record, used by
	// get_mapper_for_source and by regex-expansion callers that need to
	// scan all masters for a matching pattern.
	ListMasters(ctx context.Context) ([]models.SourceMaster, error)

	// UploadReady reports whether name's last recorded upload status is
	// "success".
	UploadReady(ctx context.Context, name string) (bool, error)

	// ListCollections returns the live collection catalog.
	ListCollections(ctx context.Context) ([]string, error)

	// IterIDs streams every document ID in collection.
	IterIDs(ctx context.Context, collection string) (<-chan string, error)

	// GetByIDs fetches documents by ID from collection.
	GetByIDs(ctx context.Context, collection string, ids []string) ([]collections.Doc, error)
}

// TargetBackend is the write facade a Builder uses for the one target
// collection it produces.
type TargetBackend interface {
	// AssignName computes and records the timestamped target collection
	// name for this build run, given the build name and an optional
	// explicit target-name override. It asserts the fixed-width timestamp
	// suffix invariant (spec.md §9): lexical order must equal chronological
	// order.
	AssignName(buildName, targetNameOverride string) (string, error)

	// Name returns the collection name assigned by the last AssignName
	// call.
	Name() string

	// Drop removes the current target collection entirely.
	Drop(ctx context.Context) error

	// Prepare creates the current target collection if absent. Idempotent.
	Prepare(ctx context.Context) error

	// Exists reports whether id is already present in the target
	// collection.
	Exists(ctx context.Context, id string) (bool, error)

	// Write applies docs to the target collection: upsert=true creates
	// missing documents, upsert=false only merges into existing ones.
	// Returns the number of documents actually written.
	Write(ctx context.Context, docs []collections.Doc, upsert bool) (int, error)

	// Finalize is called once per build, after every source has been
	// merged and before the post-merge hook runs.
	Finalize(ctx context.Context) error

	// ListArchived returns every collection name that starts with
	// buildName plus an underscore and ends in the fixed-width timestamp
	// suffix, in lexical (== chronological) order.
	ListArchived(ctx context.Context, buildName string) ([]string, error)

	// DropCollection drops an arbitrary named collection, used by the
	// retention sweep, the rmmerge command and the builder manager's
	// CleanTempCollections.
	DropCollection(ctx context.Context, name string) error
}

// UploadJournal is the one method this module consumes from the
// out-of-scope Dumper/Uploader subsystem: the readiness probe.
type UploadJournal interface {
	LastUploadStatus(source string) (string, error)
}
