package metastore

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/timshannon/badgerhold/v4"

	"github.com/dongbohu/biohub/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	opts := badgerhold.DefaultOptions
	opts.Dir = t.TempDir()
	opts.ValueDir = opts.Dir
	opts.Logger = nil
	hold, err := badgerhold.Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = hold.Close() })
	return New(hold, nil)
}

func TestStore_BuildConfigRoundTrip(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetBuildConfig("missing")
	require.Error(t, err)

	cfg := &models.BuildConfig{BuildName: "target_a", PendingToBuild: true}
	require.NoError(t, s.SaveBuildConfig(cfg))

	got, err := s.GetBuildConfig("target_a")
	require.NoError(t, err)
	require.Equal(t, "target_a", got.BuildName)
	require.True(t, got.PendingToBuild)

	cfg.PendingToBuild = false
	require.NoError(t, s.SaveBuildConfig(cfg))
	got, err = s.GetBuildConfig("target_a")
	require.NoError(t, err)
	require.False(t, got.PendingToBuild)
}

func TestStore_ListBuildConfigs(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.SaveBuildConfig(&models.BuildConfig{BuildName: "b"}))
	require.NoError(t, s.SaveBuildConfig(&models.BuildConfig{BuildName: "a"}))

	cfgs, err := s.ListBuildConfigs()
	require.NoError(t, err)
	require.Len(t, cfgs, 2)
}

func TestStore_ListPendingBuildConfigs_SortedByName(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.SaveBuildConfig(&models.BuildConfig{BuildName: "zeta", PendingToBuild: true}))
	require.NoError(t, s.SaveBuildConfig(&models.BuildConfig{BuildName: "alpha", PendingToBuild: true}))
	require.NoError(t, s.SaveBuildConfig(&models.BuildConfig{BuildName: "middle", PendingToBuild: false}))

	pending, err := s.ListPendingBuildConfigs()
	require.NoError(t, err)
	require.Len(t, pending, 2)
	require.Equal(t, "alpha", pending[0].BuildName)
	require.Equal(t, "zeta", pending[1].BuildName)
}

func TestStore_SourceMasterRoundTrip(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetSourceMaster("missing")
	require.Error(t, err)

	m := &models.SourceMaster{ID: "source_a", Mapper: "custom"}
	require.NoError(t, s.SaveSourceMaster(m))

	got, err := s.GetSourceMaster("source_a")
	require.NoError(t, err)
	require.Equal(t, "custom", got.Mapper)

	require.NoError(t, s.SaveSourceMaster(&models.SourceMaster{ID: "source_b"}))
	all, err := s.ListSourceMasters()
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestStore_UploadStatus(t *testing.T) {
	s := newTestStore(t)

	status, err := s.LastUploadStatus("source_a")
	require.NoError(t, err)
	require.Empty(t, status)

	require.NoError(t, s.SetUploadStatus("source_a", "ready"))
	status, err = s.LastUploadStatus("source_a")
	require.NoError(t, err)
	require.Equal(t, "ready", status)

	require.NoError(t, s.SetUploadStatus("source_a", "stale"))
	status, err = s.LastUploadStatus("source_a")
	require.NoError(t, err)
	require.Equal(t, "stale", status)
}
