package common

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadBiohubConfig_NoPathsReturnsDefaults(t *testing.T) {
	config, err := LoadBiohubConfig()
	require.NoError(t, err)
	require.Equal(t, "development", config.Environment)
	require.Equal(t, 4, config.Jobs.NumThreadWorkers)
}

func TestLoadBiohubConfig_LaterFileOverridesEarlier(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "base.toml")
	override := filepath.Join(dir, "override.toml")

	require.NoError(t, os.WriteFile(base, []byte(`
environment = "staging"

[jobs]
num_thread_workers = 8
`), 0o644))
	require.NoError(t, os.WriteFile(override, []byte(`
environment = "production"
`), 0o644))

	config, err := LoadBiohubConfig(base, override)
	require.NoError(t, err)
	require.Equal(t, "production", config.Environment, "the later file must win")
	require.Equal(t, 8, config.Jobs.NumThreadWorkers, "fields the later file doesn't set must survive from the earlier one")
}

func TestLoadBiohubConfig_MissingFileErrors(t *testing.T) {
	_, err := LoadBiohubConfig(filepath.Join(t.TempDir(), "no-such-file.toml"))
	require.Error(t, err)
}

func TestLoadBiohubConfig_EnvOverridesWinOverFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`environment = "staging"`), 0o644))

	t.Setenv("BIOHUB_ENV", "production")
	t.Setenv("BIOHUB_NUM_THREAD_WORKERS", "16")

	config, err := LoadBiohubConfig(path)
	require.NoError(t, err)
	require.Equal(t, "production", config.Environment)
	require.Equal(t, 16, config.Jobs.NumThreadWorkers)
}

func TestLoadBiohubConfig_InvalidEnvIntIsIgnored(t *testing.T) {
	t.Setenv("BIOHUB_NUM_PROCESS_WORKERS", "not-a-number")

	config, err := LoadBiohubConfig()
	require.NoError(t, err)
	require.Equal(t, 2, config.Jobs.NumProcessWorkers, "an unparseable override must leave the default in place")
}
