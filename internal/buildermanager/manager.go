// Package buildermanager implements the Builder Manager: per-build-name
// factories, the cron-driven poll loop for pending builds, old-collection
// retention, and the command-facing surface (spec.md §4.3).
package buildermanager

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/dongbohu/biohub/internal/interfaces"
	"github.com/dongbohu/biohub/internal/storage/metastore"
)

// BuilderConstructor constructs a ready-to-use Builder for one build name.
type BuilderConstructor func(buildName string) (interfaces.Builder, error)

// TargetFactory constructs the TargetBackend for one build name, used by
// CleanTempCollections without needing a full Builder.
type TargetFactory func(buildName string) (interfaces.TargetBackend, error)

// Manager is the concrete interfaces.BuilderManager.
type Manager struct {
	meta   *metastore.Store
	logger arbor.ILogger

	cron *cron.Cron

	builderFactory BuilderConstructor
	targetFactory  TargetFactory

	mu        sync.RWMutex
	factories map[string]interfaces.BuilderFactory

	running sync.Map // build name -> struct{}, guards the "already running" singleton check
}

// New constructs a Manager. builderFactory and targetFactory are bound once
// at construction; RegisterBuilder/Sync use builderFactory to produce a
// per-build-name zero-arg factory so no backend connection is held idle
// between builds.
func New(meta *metastore.Store, logger arbor.ILogger, builderFactory BuilderConstructor, targetFactory TargetFactory) *Manager {
	return &Manager{
		meta:           meta,
		logger:         logger,
		cron:           cron.New(),
		builderFactory: builderFactory,
		targetFactory:  targetFactory,
		factories:      make(map[string]interfaces.BuilderFactory),
	}
}

var _ interfaces.BuilderManager = (*Manager)(nil)

// Sync enumerates every persisted build config and registers a factory for
// it, per RegisterBuilder.
func (m *Manager) Sync(ctx context.Context) error {
	cfgs, err := m.meta.ListBuildConfigs()
	if err != nil {
		return fmt.Errorf("sync build configs: %w", err)
	}
	for _, cfg := range cfgs {
		m.RegisterBuilder(cfg.BuildName)
	}
	m.logger.Info().Int("count", len(cfgs)).Msg("builder manager synced build configs")
	return nil
}

// RegisterBuilder stores a zero-arg factory for buildName that invokes the
// manager's BuilderFactory at call time, never at registration time.
func (m *Manager) RegisterBuilder(buildName string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.factories[buildName] = func() (interfaces.Builder, error) {
		return m.builderFactory(buildName)
	}
}

// Merge fetches a fresh Builder for buildName via its registered factory and
// calls Merge, enforcing the "already running" singleton guard: a build
// already in flight for this name is rejected rather than double-launched.
func (m *Manager) Merge(ctx context.Context, buildName string, opts interfaces.MergeOptions) (interfaces.Future, error) {
	if _, alreadyRunning := m.running.LoadOrStore(buildName, struct{}{}); alreadyRunning {
		return nil, fmt.Errorf("build %q is already running", buildName)
	}

	m.mu.RLock()
	factory, ok := m.factories[buildName]
	m.mu.RUnlock()
	if !ok {
		m.running.Delete(buildName)
		return nil, fmt.Errorf("unknown build %q", buildName)
	}

	builder, err := factory()
	if err != nil {
		m.running.Delete(buildName)
		return nil, fmt.Errorf("construct builder for %q: %w", buildName, err)
	}

	future, err := builder.Merge(ctx, opts)
	if err != nil {
		m.running.Delete(buildName)
		return nil, err
	}

	go func() {
		future.Wait(context.Background())
		m.running.Delete(buildName)
	}()

	return future, nil
}

// Poll scans for configs with PendingToBuild set and launches a merge for
// each, in lexical build-name order, isolating errors per config so one bad
// build does not halt the tick.
func (m *Manager) Poll(ctx context.Context) error {
	cfgs, err := m.meta.ListPendingBuildConfigs()
	if err != nil {
		return fmt.Errorf("list pending build configs: %w", err)
	}

	names := make([]string, 0, len(cfgs))
	for _, cfg := range cfgs {
		names = append(names, cfg.BuildName)
	}
	sort.Strings(names)

	for _, name := range names {
		if _, err := m.Merge(ctx, name, interfaces.NewMergeOptions()); err != nil {
			m.logger.Warn().Str("build", name).Err(err).Msg("poll tick: merge launch failed")
			continue
		}
		m.logger.Info().Str("build", name).Msg("poll tick: merge launched")
	}
	return nil
}

// StartPoll registers the poll tick on cronSchedule and starts the cron
// scheduler. An empty cronSchedule is a no-op.
func (m *Manager) StartPoll(ctx context.Context, cronSchedule string) error {
	if cronSchedule == "" {
		return nil
	}
	_, err := m.cron.AddFunc(cronSchedule, func() {
		if err := m.Poll(ctx); err != nil {
			m.logger.Error().Err(err).Msg("poll tick failed")
		}
	})
	if err != nil {
		return fmt.Errorf("register poll schedule %q: %w", cronSchedule, err)
	}
	m.cron.Start()
	return nil
}

// StopPoll stops the cron scheduler and waits for any running tick.
func (m *Manager) StopPoll() {
	<-m.cron.Stop().Done()
}

// CleanTempCollections drops archived collections for buildName matching
// prefix/date, never those containing the literal substring "current".
func (m *Manager) CleanTempCollections(ctx context.Context, buildName, prefix, date string) error {
	target, err := m.targetFactory(buildName)
	if err != nil {
		return fmt.Errorf("construct target backend for %q: %w", buildName, err)
	}

	matchPrefix := prefix
	if matchPrefix == "" {
		matchPrefix = buildName
	}
	if date != "" {
		matchPrefix = matchPrefix + "_" + date
	}

	archived, err := target.ListArchived(ctx, buildName)
	if err != nil {
		return fmt.Errorf("list archived collections for %q: %w", buildName, err)
	}
	for _, name := range archived {
		if strings.Contains(name, "current") {
			continue
		}
		if !strings.HasPrefix(name, matchPrefix) {
			continue
		}
		if err := target.DropCollection(ctx, name); err != nil {
			m.logger.Warn().Str("collection", name).Err(err).Msg("clean_temp_collections: drop failed")
		}
	}
	return nil
}

// ListSources returns buildName's configured source list.
func (m *Manager) ListSources(ctx context.Context, buildName string) ([]string, error) {
	cfg, err := m.meta.GetBuildConfig(buildName)
	if err != nil {
		return nil, fmt.Errorf("get build config %q: %w", buildName, err)
	}
	return cfg.Sources, nil
}

// ListArchived lists buildName's historical target collections, for the
// lsmerge command.
func (m *Manager) ListArchived(ctx context.Context, buildName string) ([]string, error) {
	target, err := m.targetFactory(buildName)
	if err != nil {
		return nil, fmt.Errorf("construct target backend for %q: %w", buildName, err)
	}
	return target.ListArchived(ctx, buildName)
}

// DropCollection drops a single named target collection, for the rmmerge
// command. The collection name alone is enough to address it: target
// collection names are globally unique regardless of which build produced
// them.
func (m *Manager) DropCollection(ctx context.Context, name string) error {
	target, err := m.targetFactory("")
	if err != nil {
		return fmt.Errorf("construct target backend: %w", err)
	}
	return target.DropCollection(ctx, name)
}

// Archive reports the target collection name of buildName's last successful
// build. The fixed-width timestamp suffix every target collection already
// carries means "archived" naming is the default naming, so archive is a
// read-only confirmation rather than a rename.
func (m *Manager) Archive(ctx context.Context, buildName string) (string, error) {
	cfg, err := m.meta.GetBuildConfig(buildName)
	if err != nil {
		return "", fmt.Errorf("get build config %q: %w", buildName, err)
	}
	for i := len(cfg.Build) - 1; i >= 0; i-- {
		entry := cfg.Build[i]
		if entry.TargetName != "" {
			return entry.TargetName, nil
		}
	}
	return "", fmt.Errorf("build %q has no completed target collection to archive", buildName)
}

// WhatsNew lists every build config with PendingToBuild set.
func (m *Manager) WhatsNew(ctx context.Context) ([]string, error) {
	cfgs, err := m.meta.ListPendingBuildConfigs()
	if err != nil {
		return nil, fmt.Errorf("list pending build configs: %w", err)
	}
	names := make([]string, 0, len(cfgs))
	for _, cfg := range cfgs {
		names = append(names, cfg.BuildName)
	}
	return names, nil
}
