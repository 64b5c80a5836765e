package backends

import (
	"context"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/require"

	"github.com/dongbohu/biohub/internal/storage/collections"
)

func newTestCollectionsStore(t *testing.T) collections.Store {
	t.Helper()
	opts := badger.DefaultOptions(t.TempDir())
	opts.Logger = nil
	db, err := badger.Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return collections.NewBadgerStore(db, nil)
}

func TestTargetBackend_AssignName_GeneratesTimestampedName(t *testing.T) {
	b := NewTargetBackend(newTestCollectionsStore(t))

	name, err := b.AssignName("target_a", "")
	require.NoError(t, err)
	require.Regexp(t, `^target_a_\d{14}$`, name)
	require.Equal(t, name, b.Name())
}

func TestTargetBackend_AssignName_RejectsNonConformingOverride(t *testing.T) {
	b := NewTargetBackend(newTestCollectionsStore(t))

	_, err := b.AssignName("target_a", "target_a_not_a_timestamp")
	require.Error(t, err)
}

func TestTargetBackend_AssignName_AcceptsConformingOverride(t *testing.T) {
	b := NewTargetBackend(newTestCollectionsStore(t))

	name, err := b.AssignName("target_a", "target_a_20250101120000")
	require.NoError(t, err)
	require.Equal(t, "target_a_20250101120000", name)
}

func TestTargetBackend_PrepareWriteExists(t *testing.T) {
	ctx := context.Background()
	b := NewTargetBackend(newTestCollectionsStore(t))
	_, err := b.AssignName("target_a", "target_a_20250101120000")
	require.NoError(t, err)

	require.NoError(t, b.Prepare(ctx))

	n, err := b.Write(ctx, []collections.Doc{{ID: "1", Fields: map[string]interface{}{"k": "v"}}}, true)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	exists, err := b.Exists(ctx, "1")
	require.NoError(t, err)
	require.True(t, exists)

	n, err = b.Write(ctx, []collections.Doc{{ID: "2", Fields: map[string]interface{}{}}}, false)
	require.NoError(t, err)
	require.Equal(t, 0, n, "Update must skip documents with no existing counterpart")
}

func TestTargetBackend_ListArchived_SortedAndFiltered(t *testing.T) {
	ctx := context.Background()
	store := newTestCollectionsStore(t)
	b := NewTargetBackend(store)

	for _, name := range []string{
		"target_a_20250103000000",
		"target_a_20250101000000",
		"target_a_20250102000000",
		"target_b_20250101000000",
		"target_a_current",
	} {
		require.NoError(t, store.Prepare(ctx, name))
	}

	archived, err := b.ListArchived(ctx, "target_a")
	require.NoError(t, err)
	require.Equal(t, []string{
		"target_a_20250101000000",
		"target_a_20250102000000",
		"target_a_20250103000000",
	}, archived)
}

func TestTargetBackend_DropCollection(t *testing.T) {
	ctx := context.Background()
	store := newTestCollectionsStore(t)
	b := NewTargetBackend(store)

	require.NoError(t, store.Prepare(ctx, "target_a_20250101000000"))
	require.NoError(t, b.DropCollection(ctx, "target_a_20250101000000"))

	names, err := store.ListCollections(ctx)
	require.NoError(t, err)
	require.NotContains(t, names, "target_a_20250101000000")
}
