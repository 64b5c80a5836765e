// Package backends implements the concrete SourceBackend and TargetBackend
// facades a Builder is constructed with, built on top of the metastore
// (build configs, source masters, upload journal) and collections (the
// generic document store) packages.
package backends

import (
	"context"
	"fmt"

	"github.com/dongbohu/biohub/internal/interfaces"
	"github.com/dongbohu/biohub/internal/models"
	"github.com/dongbohu/biohub/internal/storage/collections"
	"github.com/dongbohu/biohub/internal/storage/metastore"
)

// SourceBackend reads source masters, the upload journal, and source
// collections.
type SourceBackend struct {
	meta  *metastore.Store
	store collections.Store
}

// NewSourceBackend constructs a SourceBackend.
func NewSourceBackend(meta *metastore.Store, store collections.Store) *SourceBackend {
	return &SourceBackend{meta: meta, store: store}
}

var _ interfaces.SourceBackend = (*SourceBackend)(nil)

func (b *SourceBackend) GetMaster(ctx context.Context, name string) (*models.SourceMaster, error) {
	return b.meta.GetSourceMaster(name)
}

func (b *SourceBackend) ListMasters(ctx context.Context) ([]models.SourceMaster, error) {
	return b.meta.ListSourceMasters()
}

func (b *SourceBackend) UploadReady(ctx context.Context, name string) (bool, error) {
	status, err := b.meta.LastUploadStatus(name)
	if err != nil {
		return false, fmt.Errorf("upload status for %q: %w", name, err)
	}
	return status == models.UploadStatusSuccess, nil
}

func (b *SourceBackend) ListCollections(ctx context.Context) ([]string, error) {
	return b.store.ListCollections(ctx)
}

func (b *SourceBackend) IterIDs(ctx context.Context, collection string) (<-chan string, error) {
	return b.store.IterIDs(ctx, collection)
}

func (b *SourceBackend) GetByIDs(ctx context.Context, collection string, ids []string) ([]collections.Doc, error) {
	return b.store.GetByIDs(ctx, collection, ids)
}
