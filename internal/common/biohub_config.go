// -----------------------------------------------------------------------
// Biohubd configuration - trimmed TOML config for the merge-engine daemon
// -----------------------------------------------------------------------

package common

import (
	"fmt"
	"os"
	"strconv"

	"github.com/pelletier/go-toml/v2"
)

// BiohubDocStoreConfig configures the raw Badger instance documents (source
// and target collections) live in.
type BiohubDocStoreConfig struct {
	Path           string `toml:"path"`
	ResetOnStartup bool   `toml:"reset_on_startup"`
}

// BiohubMetaStoreConfig configures the badgerhold instance build configs,
// source masters and upload journal entries live in.
type BiohubMetaStoreConfig struct {
	Path           string `toml:"path"`
	ResetOnStartup bool   `toml:"reset_on_startup"`
}

// BiohubJobsConfig sizes the Job Manager's two worker pools and its memory
// admission budget.
type BiohubJobsConfig struct {
	NumThreadWorkers       int   `toml:"num_thread_workers"`
	NumProcessWorkers      int   `toml:"num_process_workers"`
	MaxMemoryUsage         int64 `toml:"max_memory_usage_bytes"`
	DefaultTaskMemoryBytes int64 `toml:"default_task_memory_bytes"`
}

// BiohubPollConfig controls the Builder Manager's cron-driven pending-build
// sweep. An empty Schedule disables polling.
type BiohubPollConfig struct {
	Schedule string `toml:"schedule"`
}

// BiohubConfig is biohubd's full configuration surface, carrying only what
// the merge engine daemon needs.
type BiohubConfig struct {
	Environment string                `toml:"environment"`
	DocStore    BiohubDocStoreConfig  `toml:"doc_store"`
	MetaStore   BiohubMetaStoreConfig `toml:"meta_store"`
	Jobs        BiohubJobsConfig      `toml:"jobs"`
	Poll        BiohubPollConfig      `toml:"poll"`
	Logging     LoggingConfig         `toml:"logging"`
	CrashDumpDir string               `toml:"crash_dump_dir"`
}

// NewDefaultBiohubConfig returns the baseline configuration, overridden by
// config file(s) and then the environment in LoadBiohubConfig.
func NewDefaultBiohubConfig() *BiohubConfig {
	return &BiohubConfig{
		Environment: "development",
		DocStore: BiohubDocStoreConfig{
			Path: "./data/docs",
		},
		MetaStore: BiohubMetaStoreConfig{
			Path: "./data/meta",
		},
		Jobs: BiohubJobsConfig{
			NumThreadWorkers:       4,
			NumProcessWorkers:      2,
			MaxMemoryUsage:         0, // Manager derives a default from the pool size when unset
			DefaultTaskMemoryBytes: 16 * 1024 * 1024,
		},
		Poll: BiohubPollConfig{
			Schedule: "", // disabled by default; set to a cron expression to enable
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     []string{"stdout"},
			TimeFormat: "15:04:05",
		},
		CrashDumpDir: "./data/crashdumps",
	}
}

// LoadBiohubConfig loads defaults, merges each TOML file in paths in order
// (later files win), then applies BIOHUB_* environment overrides, following
// the teacher's default->file->env priority chain.
func LoadBiohubConfig(paths ...string) (*BiohubConfig, error) {
	config := NewDefaultBiohubConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyBiohubEnvOverrides(config)
	return config, nil
}

func applyBiohubEnvOverrides(config *BiohubConfig) {
	if env := os.Getenv("BIOHUB_ENV"); env != "" {
		config.Environment = env
	}
	if p := os.Getenv("BIOHUB_DOC_STORE_PATH"); p != "" {
		config.DocStore.Path = p
	}
	if p := os.Getenv("BIOHUB_META_STORE_PATH"); p != "" {
		config.MetaStore.Path = p
	}
	if level := os.Getenv("BIOHUB_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if schedule := os.Getenv("BIOHUB_POLL_SCHEDULE"); schedule != "" {
		config.Poll.Schedule = schedule
	}
	if n := os.Getenv("BIOHUB_NUM_THREAD_WORKERS"); n != "" {
		if v, err := strconv.Atoi(n); err == nil {
			config.Jobs.NumThreadWorkers = v
		}
	}
	if n := os.Getenv("BIOHUB_NUM_PROCESS_WORKERS"); n != "" {
		if v, err := strconv.Atoi(n); err == nil {
			config.Jobs.NumProcessWorkers = v
		}
	}
}
