package commands

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dongbohu/biohub/internal/interfaces"
)

// fakeManagerOps is a scriptable ManagerOps for exercising the command
// table without a real Builder Manager.
type fakeManagerOps struct {
	mergeFunc func(ctx context.Context, buildName string, opts interfaces.MergeOptions) (interfaces.Future, error)
	archived  []string
	dropped   []string
	archiveOf string
	pending   []string
}

func (f *fakeManagerOps) Sync(ctx context.Context) error          { return nil }
func (f *fakeManagerOps) RegisterBuilder(buildName string)        {}
func (f *fakeManagerOps) Poll(ctx context.Context) error          { return nil }
func (f *fakeManagerOps) CleanTempCollections(ctx context.Context, buildName, prefix, date string) error {
	return nil
}
func (f *fakeManagerOps) ListSources(ctx context.Context, buildName string) ([]string, error) {
	return nil, nil
}

func (f *fakeManagerOps) Merge(ctx context.Context, buildName string, opts interfaces.MergeOptions) (interfaces.Future, error) {
	return f.mergeFunc(ctx, buildName, opts)
}
func (f *fakeManagerOps) ListArchived(ctx context.Context, buildName string) ([]string, error) {
	return f.archived, nil
}
func (f *fakeManagerOps) DropCollection(ctx context.Context, name string) error {
	f.dropped = append(f.dropped, name)
	return nil
}
func (f *fakeManagerOps) Archive(ctx context.Context, buildName string) (string, error) {
	return f.archiveOf, nil
}
func (f *fakeManagerOps) WhatsNew(ctx context.Context) ([]string, error) {
	return f.pending, nil
}

type noopFuture struct{}

func (noopFuture) ID() string                                       { return "noop" }
func (noopFuture) Wait(ctx context.Context) interfaces.FutureResult { return interfaces.FutureResult{} }
func (noopFuture) Cancel()                                          {}
func (noopFuture) Done() <-chan struct{}                            { return nil }

func TestTable_Merge_RequiresBuildName(t *testing.T) {
	table := NewTable(&fakeManagerOps{})
	cmd, ok := table.Lookup("merge")
	require.True(t, ok)

	_, err := cmd.Run(context.Background(), nil)
	require.Error(t, err)
}

func TestTable_Merge_PassesSourcesThrough(t *testing.T) {
	var gotOpts interfaces.MergeOptions
	mgr := &fakeManagerOps{
		mergeFunc: func(ctx context.Context, buildName string, opts interfaces.MergeOptions) (interfaces.Future, error) {
			gotOpts = opts
			return noopFuture{}, nil
		},
	}
	table := NewTable(mgr)
	cmd, _ := table.Lookup("merge")

	_, err := cmd.Run(context.Background(), []string{"build_a", "source_a", "source_b"})
	require.NoError(t, err)
	require.Equal(t, []string{"source_a", "source_b"}, gotOpts.Sources)
}

func TestTable_Merge_PropagatesError(t *testing.T) {
	mgr := &fakeManagerOps{
		mergeFunc: func(ctx context.Context, buildName string, opts interfaces.MergeOptions) (interfaces.Future, error) {
			return nil, errors.New("already running")
		},
	}
	table := NewTable(mgr)
	cmd, _ := table.Lookup("merge")

	_, err := cmd.Run(context.Background(), []string{"build_a"})
	require.Error(t, err)
}

func TestTable_Lsmerge_RequiresBuildName(t *testing.T) {
	table := NewTable(&fakeManagerOps{})
	cmd, _ := table.Lookup("lsmerge")

	_, err := cmd.Run(context.Background(), nil)
	require.Error(t, err)
}

func TestTable_Lsmerge_ReturnsArchivedList(t *testing.T) {
	mgr := &fakeManagerOps{archived: []string{"build_a_20250101000000"}}
	table := NewTable(mgr)
	cmd, _ := table.Lookup("lsmerge")

	result, err := cmd.Run(context.Background(), []string{"build_a"})
	require.NoError(t, err)
	require.Equal(t, []string{"build_a_20250101000000"}, result)
}

func TestTable_Rmmerge_RequiresTargetName(t *testing.T) {
	table := NewTable(&fakeManagerOps{})
	cmd, _ := table.Lookup("rmmerge")

	_, err := cmd.Run(context.Background(), nil)
	require.Error(t, err)
}

func TestTable_Rmmerge_DropsNamedCollection(t *testing.T) {
	mgr := &fakeManagerOps{}
	table := NewTable(mgr)
	cmd, _ := table.Lookup("rmmerge")

	_, err := cmd.Run(context.Background(), []string{"build_a_20250101000000"})
	require.NoError(t, err)
	require.Equal(t, []string{"build_a_20250101000000"}, mgr.dropped)
}

func TestTable_Archive_RequiresBuildName(t *testing.T) {
	table := NewTable(&fakeManagerOps{})
	cmd, _ := table.Lookup("archive")

	_, err := cmd.Run(context.Background(), nil)
	require.Error(t, err)
}

func TestTable_Whatsnew_NoArgsRequired(t *testing.T) {
	mgr := &fakeManagerOps{pending: []string{"build_a"}}
	table := NewTable(mgr)
	cmd, _ := table.Lookup("whatsnew")

	result, err := cmd.Run(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, []string{"build_a"}, result)
}

func TestTable_Lookup_UnknownCommand(t *testing.T) {
	table := NewTable(&fakeManagerOps{})
	_, ok := table.Lookup("no_such_command")
	require.False(t, ok)
}
