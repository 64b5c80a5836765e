package build

import (
	"context"
	"strings"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	arbormodels "github.com/ternarybob/arbor/models"
	"github.com/timshannon/badgerhold/v4"

	"github.com/dongbohu/biohub/internal/backends"
	"github.com/dongbohu/biohub/internal/common"
	"github.com/dongbohu/biohub/internal/interfaces"
	"github.com/dongbohu/biohub/internal/mappers"
	"github.com/dongbohu/biohub/internal/models"
	"github.com/dongbohu/biohub/internal/storage/collections"
	"github.com/dongbohu/biohub/internal/storage/metastore"
)

// inlineFuture resolves immediately; every fake job manager method below
// runs its work synchronously before returning one.
type inlineFuture struct {
	id     string
	result interfaces.FutureResult
	done   chan struct{}
}

func newInlineFuture(result interfaces.FutureResult) *inlineFuture {
	f := &inlineFuture{id: common.NewJobTaskID(), result: result, done: make(chan struct{})}
	close(f.done)
	return f
}

func (f *inlineFuture) ID() string                                      { return f.id }
func (f *inlineFuture) Wait(ctx context.Context) interfaces.FutureResult { return f.result }
func (f *inlineFuture) Cancel()                                         {}
func (f *inlineFuture) Done() <-chan struct{}                           { return f.done }

// fakeJobManager runs DeferToThread inline and DeferToProcess through the
// real mapper registry, standing in for the subprocess pool a test has no
// need to actually spawn.
type fakeJobManager struct {
	registry *mappers.Registry
}

func newFakeJobManager() *fakeJobManager {
	return &fakeJobManager{registry: mappers.NewRegistry()}
}

func (f *fakeJobManager) DeferToThread(ctx context.Context, info interfaces.PInfo, fn interfaces.ThreadFunc) interfaces.Future {
	v, err := fn(ctx)
	return newInlineFuture(interfaces.FutureResult{Value: v, Err: err})
}

func (f *fakeJobManager) DeferToProcess(ctx context.Context, info interfaces.PInfo, task interfaces.WorkerTask) interfaces.Future {
	mapperName := task.MapperName
	if mapperName == "" {
		mapperName = mappers.DefaultMapperName
	}
	mapper, err := f.registry.Get(mapperName)
	if err != nil {
		return newInlineFuture(interfaces.FutureResult{Value: interfaces.WorkerResult{
			TaskID: task.TaskID, ErrorType: "MapperNotFound", ErrorMessage: err.Error(),
		}})
	}
	docs, err := mapper.Process(task.Docs)
	if err != nil {
		return newInlineFuture(interfaces.FutureResult{Value: interfaces.WorkerResult{
			TaskID: task.TaskID, ErrorType: "MapperProcessError", ErrorMessage: err.Error(),
		}})
	}
	return newInlineFuture(interfaces.FutureResult{Value: interfaces.WorkerResult{TaskID: task.TaskID, Docs: docs}})
}

func (f *fakeJobManager) Top() []interfaces.PInfo { return nil }
func (f *fakeJobManager) JobInfo(id string) (interfaces.PInfo, bool) {
	return interfaces.PInfo{}, false
}
func (f *fakeJobManager) Shutdown(ctx context.Context) error { return nil }

// testLogger returns a memory-writer-only logger, avoiding both file I/O and
// the nil-interface panics a bare nil arbor.ILogger would cause.
func testLogger() arbor.ILogger {
	return arbor.NewLogger().
		WithMemoryWriter(arbormodels.WriterConfiguration{Type: arbormodels.LogWriterTypeMemory}).
		WithLevelFromString("error")
}

// testHarness wires a Builder against real Badger-backed storage, so merge
// scenarios exercise the same document/catalog semantics production does.
type testHarness struct {
	t      *testing.T
	meta   *metastore.Store
	docs   collections.Store
	source *backends.SourceBackend
	target *backends.TargetBackend
	jobs   *fakeJobManager
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()

	badgerOpts := badger.DefaultOptions(t.TempDir())
	badgerOpts.Logger = nil
	db, err := badger.Open(badgerOpts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	docStore := collections.NewBadgerStore(db, nil)

	holdOpts := badgerhold.DefaultOptions
	holdOpts.Dir = t.TempDir()
	holdOpts.ValueDir = holdOpts.Dir
	holdOpts.Logger = nil
	hold, err := badgerhold.Open(holdOpts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = hold.Close() })
	meta := metastore.New(hold, nil)

	return &testHarness{
		t:      t,
		meta:   meta,
		docs:   docStore,
		source: backends.NewSourceBackend(meta, docStore),
		target: backends.NewTargetBackend(docStore),
		jobs:   newFakeJobManager(),
	}
}

func (h *testHarness) newBuilder(buildName string) *Builder {
	return New(buildName, h.source, h.target, h.jobs, h.meta, h.t.TempDir(), testLogger())
}

func (h *testHarness) seedSource(name string, ids ...string) {
	ctx := context.Background()
	require.NoError(h.t, h.meta.SaveSourceMaster(&models.SourceMaster{ID: name}))
	require.NoError(h.t, h.docs.Prepare(ctx, name))
	var docs []collections.Doc
	for _, id := range ids {
		docs = append(docs, collections.Doc{ID: id, Fields: map[string]interface{}{"src": name}})
	}
	if len(docs) > 0 {
		_, err := h.docs.Upsert(ctx, name, docs)
		require.NoError(h.t, err)
	}
}

func (h *testHarness) markReady(name string) {
	require.NoError(h.t, h.meta.SetUploadStatus(name, models.UploadStatusSuccess))
}

func runMerge(t *testing.T, b *Builder, opts interfaces.MergeOptions) error {
	t.Helper()
	ctx := context.Background()
	future, err := b.Merge(ctx, opts)
	require.NoError(t, err)
	res := future.Wait(ctx)
	return res.Err
}

// S1: a single source with no configured Root list merges every document
// into a fresh target, upserting since an empty Root list lets every source
// create documents.
func TestBuild_S1_SingleRootSourceFullMerge(t *testing.T) {
	h := newHarness(t)
	h.seedSource("source_a", "1", "2", "3")
	h.markReady("source_a")
	require.NoError(t, h.meta.SaveBuildConfig(&models.BuildConfig{BuildName: "build_a", Sources: []string{"source_a"}}))

	b := h.newBuilder("build_a")
	err := runMerge(t, b, interfaces.NewMergeOptions())
	require.NoError(t, err)

	cfg, err := h.meta.GetBuildConfig("build_a")
	require.NoError(t, err)
	last := cfg.LastHistory()
	require.NotNil(t, last)
	require.Equal(t, models.BuildStatusSuccess, last.Status)
	require.Equal(t, int64(3), last.Stats["source_a"])
	require.True(t, strings.HasPrefix(last.RunID, "run_"), "each build attempt must be stamped with a fresh run id")
}

// S2: a positive root list restricts which sources may create documents;
// a non-root source only merges into documents root already created.
func TestBuild_S2_PositiveRootListRestrictsCreation(t *testing.T) {
	h := newHarness(t)
	h.seedSource("root_src", "1", "2")
	h.seedSource("other_src", "2", "3")
	h.markReady("root_src")
	h.markReady("other_src")
	require.NoError(t, h.meta.SaveBuildConfig(&models.BuildConfig{
		BuildName: "build_b",
		Sources:   []string{"root_src", "other_src"},
		Root:      []string{"root_src"},
	}))

	b := h.newBuilder("build_b")
	err := runMerge(t, b, interfaces.NewMergeOptions())
	require.NoError(t, err)

	ctx := context.Background()
	exists3, err := h.target.Exists(ctx, "3")
	require.NoError(t, err)
	require.False(t, exists3, "non-root source must not create new documents")

	exists2, err := h.target.Exists(ctx, "2")
	require.NoError(t, err)
	require.True(t, exists2)
}

// S3: a negated root list treats every other configured source as root.
func TestBuild_S3_NegatedRootList(t *testing.T) {
	h := newHarness(t)
	h.seedSource("source_a", "1")
	h.seedSource("source_b", "2")
	h.markReady("source_a")
	h.markReady("source_b")
	require.NoError(t, h.meta.SaveBuildConfig(&models.BuildConfig{
		BuildName: "build_c",
		Sources:   []string{"source_a", "source_b"},
		Root:      []string{"!source_b"},
	}))

	b := h.newBuilder("build_c")
	err := runMerge(t, b, interfaces.NewMergeOptions())
	require.NoError(t, err)

	ctx := context.Background()
	e1, _ := h.target.Exists(ctx, "1")
	e2, _ := h.target.Exists(ctx, "2")
	require.True(t, e1, "source_a is root under negated list")
	require.False(t, e2, "source_b is excluded from root and created nothing new")
}

// S4: readiness failure aborts the merge before any target write and
// records a failed terminal history entry.
func TestBuild_S4_ReadinessFailureAborts(t *testing.T) {
	h := newHarness(t)
	h.seedSource("source_a", "1")
	// not marked ready
	require.NoError(t, h.meta.SaveBuildConfig(&models.BuildConfig{BuildName: "build_d", Sources: []string{"source_a"}}))

	b := h.newBuilder("build_d")
	err := runMerge(t, b, interfaces.NewMergeOptions())
	require.Error(t, err)
	require.IsType(t, &ResourceNotReadyError{}, err)

	cfg, err := h.meta.GetBuildConfig("build_d")
	require.NoError(t, err)
	last := cfg.LastHistory()
	require.NotNil(t, last)
	require.Equal(t, models.BuildStatusFailed, last.Status)
}

// S5: Force skips the readiness check.
func TestBuild_S5_ForceSkipsReadiness(t *testing.T) {
	h := newHarness(t)
	h.seedSource("source_a", "1")
	require.NoError(t, h.meta.SaveBuildConfig(&models.BuildConfig{BuildName: "build_e", Sources: []string{"source_a"}}))

	b := h.newBuilder("build_e")
	err := runMerge(t, b, interfaces.MergeOptions{Force: true})
	require.NoError(t, err)
}

// S6: an empty root list (default) lets every configured source create
// documents, including a partial merge restricted by opts.Sources.
func TestBuild_S6_EmptyRootAllowsAnySourceToCreate(t *testing.T) {
	h := newHarness(t)
	h.seedSource("source_a", "1")
	h.seedSource("source_b", "2")
	h.markReady("source_a")
	h.markReady("source_b")
	require.NoError(t, h.meta.SaveBuildConfig(&models.BuildConfig{
		BuildName: "build_f",
		Sources:   []string{"source_a", "source_b"},
	}))

	b := h.newBuilder("build_f")
	err := runMerge(t, b, interfaces.MergeOptions{Sources: []string{"source_b"}, Post: true})
	require.NoError(t, err)

	ctx := context.Background()
	e2, _ := h.target.Exists(ctx, "2")
	require.True(t, e2)
	e1, _ := h.target.Exists(ctx, "1")
	require.False(t, e1, "a partial merge restricted to source_b must not touch source_a's documents")
}

func TestBuild_ResolutionEmptyError(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.meta.SaveSourceMaster(&models.SourceMaster{ID: "no_such_collection"}))
	require.NoError(t, h.meta.SaveBuildConfig(&models.BuildConfig{BuildName: "build_g", Sources: []string{"no_such_collection"}}))
	h.markReady("no_such_collection")

	b := h.newBuilder("build_g")
	err := runMerge(t, b, interfaces.NewMergeOptions())
	require.Error(t, err)
	require.IsType(t, &ResolutionEmptyError{}, err)
}

func TestBuild_MissingBuildConfig(t *testing.T) {
	h := newHarness(t)
	b := h.newBuilder("does_not_exist")
	err := runMerge(t, b, interfaces.NewMergeOptions())
	require.Error(t, err)
	require.IsType(t, &BuildConfigurationError{}, err)
}

func TestBuild_RetentionSweepDropsOldestBeyondKeepArchive(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for _, name := range []string{
		"build_h_20250101000000",
		"build_h_20250102000000",
		"build_h_20250103000000",
	} {
		require.NoError(t, h.docs.Prepare(ctx, name))
	}
	h.seedSource("source_a", "1")
	h.markReady("source_a")
	require.NoError(t, h.meta.SaveBuildConfig(&models.BuildConfig{
		BuildName:   "build_h",
		Sources:     []string{"source_a"},
		KeepArchive: 3,
	}))

	b := h.newBuilder("build_h")
	err := runMerge(t, b, interfaces.NewMergeOptions())
	require.NoError(t, err)

	names, err := h.docs.ListCollections(ctx)
	require.NoError(t, err)
	require.NotContains(t, names, "build_h_20250101000000", "oldest archived collection beyond keep_archive must be dropped")
	require.Contains(t, names, "build_h_20250102000000")
	require.Contains(t, names, "build_h_20250103000000")
}

// Stats must count documents a batch processed, not documents a non-root
// upsert=false write actually found a target counterpart for: source "a" is
// root with ids {1,2,3}, source "b" is non-root with ids {2,3,4}; id 4 has no
// prior root doc so it's skipped by the target write, but it was still
// merged-attempted and counts toward stats["b"].
func TestBuild_OverlappingIDsStatsCountBatchSizeNotWriteCount(t *testing.T) {
	h := newHarness(t)
	h.seedSource("a", "1", "2", "3")
	h.seedSource("b", "2", "3", "4")
	h.markReady("a")
	h.markReady("b")
	require.NoError(t, h.meta.SaveBuildConfig(&models.BuildConfig{
		BuildName: "c1",
		Sources:   []string{"a", "b"},
		Root:      []string{"a"},
	}))

	b := h.newBuilder("c1")
	err := runMerge(t, b, interfaces.NewMergeOptions())
	require.NoError(t, err)

	ctx := context.Background()
	for _, id := range []string{"1", "2", "3"} {
		exists, err := h.target.Exists(ctx, id)
		require.NoError(t, err)
		require.True(t, exists, "id %s must exist in the target", id)
	}
	exists4, err := h.target.Exists(ctx, "4")
	require.NoError(t, err)
	require.False(t, exists4, "non-root source must not create new documents")

	cfg, err := h.meta.GetBuildConfig("c1")
	require.NoError(t, err)
	last := cfg.LastHistory()
	require.NotNil(t, last)
	require.Equal(t, models.BuildStatusSuccess, last.Status)
	require.Len(t, cfg.Build, 1)
	require.Equal(t, int64(3), last.Stats["a"])
	require.Equal(t, int64(3), last.Stats["b"])
}

func TestBuild_IDsOptionRestrictsMergeToExplicitIDs(t *testing.T) {
	h := newHarness(t)
	h.seedSource("source_a", "1", "2", "3")
	h.markReady("source_a")
	require.NoError(t, h.meta.SaveBuildConfig(&models.BuildConfig{BuildName: "build_i", Sources: []string{"source_a"}}))

	b := h.newBuilder("build_i")
	err := runMerge(t, b, interfaces.MergeOptions{IDs: []string{"2"}, Post: true})
	require.NoError(t, err)

	ctx := context.Background()
	e1, _ := h.target.Exists(ctx, "1")
	e2, _ := h.target.Exists(ctx, "2")
	require.False(t, e1)
	require.True(t, e2)
}
