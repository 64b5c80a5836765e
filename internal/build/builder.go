// Package build implements the Data Builder: the merge engine that fans a
// build configuration's sources out across the Job Manager's pools and
// writes a consolidated target collection.
package build

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/dongbohu/biohub/internal/common"
	"github.com/dongbohu/biohub/internal/interfaces"
	"github.com/dongbohu/biohub/internal/models"
	"github.com/dongbohu/biohub/internal/storage/metastore"
)

// DefaultBatchSize is the number of documents per merge batch. The id-batch
// cursor (the metadata-level fetch granularity) is ten times this.
const DefaultBatchSize = 100_000

// Builder is the merge engine for one build configuration, bound to its
// source and target backends at construction (per buildermanager's
// per-call factory, so no backend connection is held idle between builds).
type Builder struct {
	buildName string
	source    interfaces.SourceBackend
	target    interfaces.TargetBackend
	jobs      interfaces.JobManager
	meta      *metastore.Store

	crashDir  string
	batchSize int
	pacer     *rate.Limiter
	logger    arbor.ILogger
}

// New constructs a Builder bound to buildName and its backends.
func New(buildName string, source interfaces.SourceBackend, target interfaces.TargetBackend, jobManager interfaces.JobManager, meta *metastore.Store, crashDir string, logger arbor.ILogger) *Builder {
	if crashDir == "" {
		crashDir = "crashdumps"
	}
	return &Builder{
		buildName: buildName,
		source:    source,
		target:    target,
		jobs:      jobManager,
		meta:      meta,
		crashDir:  crashDir,
		batchSize: DefaultBatchSize,
		pacer:     rate.NewLimiter(rate.Limit(1000), 50),
		logger:    logger,
	}
}

var _ interfaces.Builder = (*Builder)(nil)

// Merge submits the whole merge as a single cooperative task on the thread
// pool, returning a Future that resolves when every step completes.
func (b *Builder) Merge(ctx context.Context, opts interfaces.MergeOptions) (interfaces.Future, error) {
	info := interfaces.PInfo{
		Category:    interfaces.JobCategoryGlue,
		Source:      b.buildName,
		Step:        "merge",
		Description: fmt.Sprintf("merge %s", b.buildName),
	}
	future := b.jobs.DeferToThread(ctx, info, func(ctx context.Context) (interface{}, error) {
		return nil, b.doMerge(ctx, opts)
	})
	return future, nil
}

func (b *Builder) doMerge(ctx context.Context, opts interfaces.MergeOptions) error {
	cfg, err := b.meta.GetBuildConfig(b.buildName)
	if err != nil {
		return &BuildConfigurationError{BuildName: b.buildName, Reason: err.Error()}
	}

	requested := opts.Sources
	fullMerge := len(requested) == 0
	if fullMerge {
		requested = cfg.Sources
	}

	b.appendInitEntry(cfg, requested)
	if err := b.meta.SaveBuildConfig(cfg); err != nil {
		return &InfrastructureError{Reason: "persist init history", Err: err}
	}

	fail := func(buildErr error) error {
		b.finishFailure(cfg, buildErr)
		if saveErr := b.meta.SaveBuildConfig(cfg); saveErr != nil {
			b.logger.Error().Err(saveErr).Msg("persist terminal build history")
		}
		return buildErr
	}

	if !opts.Force {
		if err := b.checkReadiness(ctx, requested); err != nil {
			return fail(err)
		}
	}

	resolvedRequested, err := b.resolveSources(ctx, requested)
	if err != nil {
		return fail(err)
	}
	if len(resolvedRequested) == 0 {
		return fail(&ResolutionEmptyError{Requested: requested})
	}

	resolvedConfigSources, err := b.resolveSources(ctx, cfg.Sources)
	if err != nil {
		return fail(err)
	}
	rootSources, err := b.getRootDocumentSources(ctx, cfg, resolvedConfigSources)
	if err != nil {
		return fail(err)
	}

	targetName, err := b.target.AssignName(b.buildName, opts.TargetName)
	if err != nil {
		return fail(&InfrastructureError{Reason: "assign target name", Err: err})
	}

	if fullMerge {
		if err := b.target.Drop(ctx); err != nil {
			b.logger.Warn().Err(err).Msg("drop target before full merge")
		}
	}
	if err := b.target.Prepare(ctx); err != nil {
		return fail(&InfrastructureError{Reason: "prepare target", Err: err})
	}

	b.sweepRetention(ctx, cfg)

	rootSet := toSet(rootSources)
	var rootInRun, otherInRun []string
	if len(rootSources) == 0 {
		rootInRun = resolvedRequested
	} else {
		for _, s := range resolvedRequested {
			if rootSet[s] {
				rootInRun = append(rootInRun, s)
			} else {
				otherInRun = append(otherInRun, s)
			}
		}
		if len(rootInRun) == 0 {
			b.logger.Warn().Str("build", b.buildName).Msg("root sources configured but none included in this merge; no document can be created in this run")
		}
	}

	stats := make(map[string]int64)

	b.updateStep(cfg, models.BuildStepMergeRoot, rootInRun)
	if err := b.meta.SaveBuildConfig(cfg); err != nil {
		return fail(&InfrastructureError{Reason: "persist merge-root step", Err: err})
	}
	rootStats, err := b.mergeClass(ctx, rootInRun, true, opts.IDs)
	for k, v := range rootStats {
		stats[k] = v
	}
	if err != nil {
		return fail(err)
	}

	b.updateStep(cfg, models.BuildStepMergeOthers, otherInRun)
	if err := b.meta.SaveBuildConfig(cfg); err != nil {
		return fail(&InfrastructureError{Reason: "persist merge-others step", Err: err})
	}
	otherStats, err := b.mergeClass(ctx, otherInRun, false, opts.IDs)
	for k, v := range otherStats {
		stats[k] = v
	}
	if err != nil {
		return fail(err)
	}

	b.updateStep(cfg, models.BuildStepFinalizing, nil)
	if err := b.meta.SaveBuildConfig(cfg); err != nil {
		return fail(&InfrastructureError{Reason: "persist finalizing step", Err: err})
	}
	if err := b.target.Finalize(ctx); err != nil {
		return fail(&InfrastructureError{Reason: "finalize target", Err: err})
	}

	if opts.Post {
		b.updateStep(cfg, models.BuildStepPostMerge, nil)
		if err := b.meta.SaveBuildConfig(cfg); err != nil {
			return fail(&InfrastructureError{Reason: "persist post-merge step", Err: err})
		}
		postInfo := interfaces.PInfo{
			Category:    interfaces.JobCategoryPostMerge,
			Source:      b.buildName,
			Step:        "post-merge",
			Description: fmt.Sprintf("post-merge %s", b.buildName),
		}
		postFuture := b.jobs.DeferToThread(ctx, postInfo, func(ctx context.Context) (interface{}, error) {
			return nil, nil
		})
		if res := postFuture.Wait(ctx); res.Err != nil {
			return fail(&InfrastructureError{Reason: "post-merge", Err: res.Err})
		}
	}

	srcVersion := make(map[string]string, len(resolvedRequested))
	for _, src := range resolvedRequested {
		srcVersion[src] = targetName
	}

	last := cfg.LastHistory()
	now := time.Now().UTC()
	last.Status = models.BuildStatusSuccess
	last.Time = now
	last.TimeInS = now.Sub(last.StartedAt).Seconds()
	last.Stats = stats
	last.SrcVersion = srcVersion
	last.TargetName = targetName
	last.TargetBackend = "badger"
	last.PID = 0
	if err := b.meta.SaveBuildConfig(cfg); err != nil {
		b.logger.Error().Err(err).Msg("persist terminal build history")
	}
	return nil
}

func (b *Builder) checkReadiness(ctx context.Context, sources []string) error {
	for _, name := range sources {
		master, err := b.source.GetMaster(ctx, name)
		if err != nil || master == nil {
			return &ResourceNotReadyError{Source: name, Reason: "no master record"}
		}
		ready, err := b.source.UploadReady(ctx, name)
		if err != nil {
			return &ResourceNotReadyError{Source: name, Reason: err.Error()}
		}
		if !ready {
			return &ResourceNotReadyError{Source: name, Reason: "last upload status is not success"}
		}
	}
	return nil
}

func (b *Builder) sweepRetention(ctx context.Context, cfg *models.BuildConfig) {
	archived, err := b.target.ListArchived(ctx, b.buildName)
	if err != nil {
		b.logger.Warn().Err(err).Msg("list archived collections for retention sweep")
		return
	}
	keep := cfg.EffectiveKeepArchive()
	if len(archived) <= keep {
		return
	}
	for _, name := range archived[:len(archived)-keep] {
		if strings.Contains(name, "current") {
			continue
		}
		if err := b.target.DropCollection(ctx, name); err != nil {
			b.logger.Warn().Str("collection", name).Err(err).Msg("drop retained collection")
		}
	}
}

func (b *Builder) appendInitEntry(cfg *models.BuildConfig, sources []string) {
	version := 0
	for _, h := range cfg.Build {
		if h.BuildVersion > version {
			version = h.BuildVersion
		}
	}
	now := time.Now().UTC()
	entry := models.BuildHistoryEntry{
		RunID:         common.NewBuildRunID(),
		Status:        models.BuildStatusBuilding,
		StartedAt:     now,
		StepStartedAt: now,
		Step:          models.BuildStepInit,
		Sources:       sources,
		PID:           os.Getpid(),
		BuildVersion:  version + 1,
	}
	cfg.Build = append(cfg.Build, entry)
	if max := cfg.EffectiveMaxBuildStatus(); len(cfg.Build) > max {
		cfg.Build = cfg.Build[len(cfg.Build)-max:]
	}
	cfg.PendingToBuild = false
}

func (b *Builder) updateStep(cfg *models.BuildConfig, step models.BuildStep, sources []string) {
	last := cfg.LastHistory()
	if last == nil {
		return
	}
	last.Step = step
	last.StepStartedAt = time.Now().UTC()
	if sources != nil {
		last.Sources = sources
	}
}

func (b *Builder) finishFailure(cfg *models.BuildConfig, err error) {
	last := cfg.LastHistory()
	if last == nil {
		return
	}
	now := time.Now().UTC()
	last.Status = models.BuildStatusFailed
	last.Time = now
	last.TimeInS = now.Sub(last.StartedAt).Seconds()
	last.Err = err.Error()
	last.PID = 0
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, i := range items {
		set[i] = true
	}
	return set
}
