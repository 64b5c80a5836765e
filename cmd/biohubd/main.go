package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/banner"
	"github.com/timshannon/badgerhold/v4"

	"github.com/dongbohu/biohub/internal/backends"
	"github.com/dongbohu/biohub/internal/build"
	"github.com/dongbohu/biohub/internal/buildermanager"
	"github.com/dongbohu/biohub/internal/commands"
	"github.com/dongbohu/biohub/internal/common"
	"github.com/dongbohu/biohub/internal/interfaces"
	jobsmanager "github.com/dongbohu/biohub/internal/jobs/manager"
	"github.com/dongbohu/biohub/internal/mappers"
	"github.com/dongbohu/biohub/internal/storage/collections"
	"github.com/dongbohu/biohub/internal/storage/metastore"
)

// configPaths is a custom flag type allowing multiple -config flags,
// merged in order with later files overriding earlier ones.
type configPaths []string

func (c *configPaths) String() string { return fmt.Sprintf("%v", *c) }
func (c *configPaths) Set(value string) error {
	*c = append(*c, value)
	return nil
}

var (
	configFiles configPaths
	mergeWorker = flag.Bool("merge-worker", false, "run as a merge-worker subprocess (internal use, spawned by the Job Manager)")
	showVersion = flag.Bool("version", false, "print version information")
)

func init() {
	flag.Var(&configFiles, "config", "configuration file path (may be repeated; later files override earlier ones)")
	flag.Var(&configFiles, "c", "configuration file path (shorthand)")
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("biohubd version %s\n", common.GetVersion())
		os.Exit(0)
	}

	// A merge-worker subprocess never touches the document store or reads
	// its own config file: the parent process already validated config and
	// re-execs this binary with only "-merge-worker" on the command line.
	if *mergeWorker {
		runMergeWorker()
		return
	}

	if len(configFiles) == 0 {
		if _, err := os.Stat("biohubd.toml"); err == nil {
			configFiles = append(configFiles, "biohubd.toml")
		}
	}

	config, err := common.LoadBiohubConfig(configFiles...)
	if err != nil {
		tempLogger := arbor.NewLogger()
		tempLogger.Fatal().Strs("paths", configFiles).Err(err).Msg("failed to load configuration")
		os.Exit(1)
	}

	logger := common.SetupBiohubLogger(config)
	printBiohubBanner(config)

	logger.Info().Strs("config_files", configFiles).Str("environment", config.Environment).Msg("biohubd starting")

	docDB, metaHold, err := openStores(config, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open storage")
	}
	defer docDB.Close()
	defer metaHold.Close()

	docStore := collections.NewBadgerStore(docDB, logger)
	meta := metastore.New(metaHold, logger)

	execPath, err := os.Executable()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to resolve own executable path for merge-worker pool")
	}

	jobsCfg := jobsmanager.Config{
		NumThreadWorkers:       config.Jobs.NumThreadWorkers,
		NumProcessWorkers:      config.Jobs.NumProcessWorkers,
		MaxMemoryUsage:         config.Jobs.MaxMemoryUsage,
		DefaultTaskMemoryBytes: config.Jobs.DefaultTaskMemoryBytes,
		WorkerBinaryPath:       execPath,
	}
	jobMgr, err := jobsmanager.New(jobsCfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to start job manager")
	}

	builderFactory := func(buildName string) (interfaces.Builder, error) {
		source := backends.NewSourceBackend(meta, docStore)
		target := backends.NewTargetBackend(docStore)
		return build.New(buildName, source, target, jobMgr, meta, config.CrashDumpDir, logger), nil
	}
	targetFactory := func(buildName string) (interfaces.TargetBackend, error) {
		return backends.NewTargetBackend(docStore), nil
	}

	mgr := buildermanager.New(meta, logger, builderFactory, targetFactory)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := mgr.Sync(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to sync build configs")
	}
	if err := mgr.StartPoll(ctx, config.Poll.Schedule); err != nil {
		logger.Fatal().Err(err).Msg("failed to start poll loop")
	}

	table := commands.NewTable(mgr)
	shell := commands.NewShellAdapter(table, os.Stdin, os.Stdout, "biohub> ")

	shellDone := make(chan error, 1)
	go func() {
		shellDone <- shell.Run(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info().Msg("interrupt signal received")
	case err := <-shellDone:
		if err != nil && err != io.EOF {
			logger.Warn().Err(err).Msg("shell adapter exited with error")
		}
	}

	logger.Info().Msg("shutting down biohubd")
	cancel()
	mgr.StopPoll()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := jobMgr.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("job manager shutdown did not complete cleanly")
	}

	logger.Info().Msg("biohubd stopped")
}

// openStores opens the two independent Badger data directories: a raw
// badger.DB for document collections (internal/storage/collections) and a
// badgerhold.Store for structured metadata (internal/storage/metastore).
// Badger permits only one process to hold either directory open, which is
// why every merge-worker subprocess is document-store-free.
func openStores(config *common.BiohubConfig, logger arbor.ILogger) (*badger.DB, *badgerhold.Store, error) {
	if config.DocStore.ResetOnStartup {
		if _, err := os.Stat(config.DocStore.Path); err == nil {
			logger.Debug().Str("path", config.DocStore.Path).Msg("reset_on_startup: removing doc store directory")
			_ = os.RemoveAll(config.DocStore.Path)
		}
	}
	if config.MetaStore.ResetOnStartup {
		if _, err := os.Stat(config.MetaStore.Path); err == nil {
			logger.Debug().Str("path", config.MetaStore.Path).Msg("reset_on_startup: removing meta store directory")
			_ = os.RemoveAll(config.MetaStore.Path)
		}
	}

	if err := os.MkdirAll(config.DocStore.Path, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create doc store directory: %w", err)
	}
	if err := os.MkdirAll(config.MetaStore.Path, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create meta store directory: %w", err)
	}

	docOpts := badger.DefaultOptions(config.DocStore.Path)
	docOpts.Logger = nil
	docDB, err := badger.Open(docOpts)
	if err != nil {
		return nil, nil, fmt.Errorf("open doc store: %w", err)
	}

	metaOpts := badgerhold.DefaultOptions
	metaOpts.Dir = config.MetaStore.Path
	metaOpts.ValueDir = config.MetaStore.Path
	metaOpts.Logger = nil
	metaHold, err := badgerhold.Open(metaOpts)
	if err != nil {
		_ = docDB.Close()
		return nil, nil, fmt.Errorf("open meta store: %w", err)
	}

	return docDB, metaHold, nil
}

func printBiohubBanner(config *common.BiohubConfig) {
	b := banner.New().
		SetStyle(banner.StyleDouble).
		SetBorderColor(banner.ColorGreen).
		SetTextColor(banner.ColorWhite).
		SetBold(true).
		SetWidth(80)

	fmt.Printf("\n")
	b.PrintTopLine()
	b.PrintCenteredText("BIOHUBD")
	b.PrintCenteredText("Data Integration Hub - Merge Engine")
	b.PrintSeparatorLine()
	b.PrintKeyValue("Version", common.GetVersion(), 15)
	b.PrintKeyValue("Environment", config.Environment, 15)
	b.PrintKeyValue("Doc Store", config.DocStore.Path, 15)
	b.PrintKeyValue("Meta Store", config.MetaStore.Path, 15)
	b.PrintBottomLine()
	fmt.Printf("\n")
}

// runMergeWorker runs the JSON-line merge-worker subprocess loop: decode a
// WorkerTask from stdin, run its declared mapper, encode the WorkerResult to
// stdout, and repeat until stdin closes. The worker never opens Badger: its
// only job is the CPU-isolable mapper transform on documents the parent
// process already loaded.
func runMergeWorker() {
	common.InstallCrashHandler(os.TempDir())
	defer common.RecoverWithCrashFile()

	registry := mappers.NewRegistry()

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 64*1024), 64*1024*1024)
	encoder := json.NewEncoder(os.Stdout)

	for scanner.Scan() {
		var task interfaces.WorkerTask
		if err := json.Unmarshal(scanner.Bytes(), &task); err != nil {
			_ = encoder.Encode(interfaces.WorkerResult{ErrorType: "DecodeError", ErrorMessage: err.Error()})
			continue
		}

		result := processTask(registry, task)
		if err := encoder.Encode(result); err != nil {
			// The parent's pipe is gone; nothing left to report to.
			return
		}
	}
}

func processTask(registry *mappers.Registry, task interfaces.WorkerTask) interfaces.WorkerResult {
	mapperName := task.MapperName
	if mapperName == "" {
		mapperName = mappers.DefaultMapperName
	}

	mapper, err := registry.Get(mapperName)
	if err != nil {
		return interfaces.WorkerResult{TaskID: task.TaskID, ErrorType: "MapperNotFound", ErrorMessage: err.Error()}
	}

	if mapper.NeedLoad() {
		if err := mapper.Load(); err != nil {
			return interfaces.WorkerResult{TaskID: task.TaskID, ErrorType: "MapperLoadError", ErrorMessage: err.Error()}
		}
	}

	docs, err := mapper.Process(task.Docs)
	if err != nil {
		return interfaces.WorkerResult{TaskID: task.TaskID, ErrorType: "MapperProcessError", ErrorMessage: err.Error()}
	}

	return interfaces.WorkerResult{TaskID: task.TaskID, Docs: docs}
}
