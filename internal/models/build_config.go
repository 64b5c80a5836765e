package models

import (
	"fmt"
	"strings"
	"time"
)

// DefaultRootKey is the BuildConfig field name holding the root-source list
// when a config does not specify root_key explicitly.
const DefaultRootKey = "root"

// DefaultMaxBuildStatus bounds the number of retained BuildHistoryEntry
// records per BuildConfig.
const DefaultMaxBuildStatus = 10

// DefaultKeepArchive bounds the number of retained target collections per
// build prefix.
const DefaultKeepArchive = 10

// BuildConfig is the persisted declaration of a build's sources and root
// policy, keyed by BuildName.
type BuildConfig struct {
	BuildName string `json:"build_name"`

	// Sources is the ordered sequence of source-name patterns. Each entry is
	// either a literal collection name or a regex to be matched against the
	// live collection catalog.
	Sources []string `json:"sources"`

	// RootKey records the configured root_key name; EffectiveRootKey
	// defaults it to DefaultRootKey when empty. The root-source list itself
	// is always read from Root, whatever RootKey says.
	RootKey string `json:"root_key"`

	// Root holds the root-source declaration in one of three mutually
	// exclusive shapes: empty (all sources may create), a positive list
	// (only these may create), or a negated list (every entry prefixed
	// "!", meaning every other configured source may create).
	Root []string `json:"root"`

	// PendingToBuild is set by an operator or an upstream event to request
	// a build on the next poll tick, and cleared when the build transitions
	// to "building".
	PendingToBuild bool `json:"pending_to_build"`

	// MaxBuildStatus caps len(Build). Defaults to DefaultMaxBuildStatus
	// when zero.
	MaxBuildStatus int `json:"max_build_status"`

	// KeepArchive caps the number of retained target collections sharing
	// this build's prefix. Defaults to DefaultKeepArchive when zero.
	KeepArchive int `json:"keep_archive"`

	// Build is the bounded, most-recent-last history of builds for this
	// config.
	Build []BuildHistoryEntry `json:"build"`

	// DocType is an optional free-text annotation stored with the config;
	// nothing in this module reads or interprets it.
	DocType string `json:"doc_type,omitempty"`
}

// EffectiveRootKey returns RootKey or DefaultRootKey if unset.
func (c *BuildConfig) EffectiveRootKey() string {
	if c.RootKey == "" {
		return DefaultRootKey
	}
	return c.RootKey
}

// EffectiveMaxBuildStatus returns MaxBuildStatus or DefaultMaxBuildStatus if zero.
func (c *BuildConfig) EffectiveMaxBuildStatus() int {
	if c.MaxBuildStatus <= 0 {
		return DefaultMaxBuildStatus
	}
	return c.MaxBuildStatus
}

// EffectiveKeepArchive returns KeepArchive or DefaultKeepArchive if zero.
func (c *BuildConfig) EffectiveKeepArchive() int {
	if c.KeepArchive <= 0 {
		return DefaultKeepArchive
	}
	return c.KeepArchive
}

// RootListMode classifies c.Root.
type RootListMode int

const (
	// RootListEmpty means every configured source may create documents.
	RootListEmpty RootListMode = iota
	// RootListPositive means only the listed sources may create documents.
	RootListPositive
	// RootListNegated means every entry is prefixed "!" and excluded from root.
	RootListNegated
)

// ClassifyRoot inspects c.Root and returns its mode, or an error if the list
// mixes negated and non-negated entries.
func (c *BuildConfig) ClassifyRoot() (RootListMode, error) {
	if len(c.Root) == 0 {
		return RootListEmpty, nil
	}

	negated := 0
	for _, entry := range c.Root {
		if strings.HasPrefix(entry, "!") {
			negated++
		}
	}

	switch {
	case negated == len(c.Root):
		return RootListNegated, nil
	case negated == 0:
		return RootListPositive, nil
	default:
		return 0, fmt.Errorf("build config %q: root list mixes negated and positive entries: %v", c.BuildName, c.Root)
	}
}

// LastHistory returns the last BuildHistoryEntry, or nil if Build is empty.
func (c *BuildConfig) LastHistory() *BuildHistoryEntry {
	if len(c.Build) == 0 {
		return nil
	}
	return &c.Build[len(c.Build)-1]
}

// BuildStatus enumerates the terminal/transient states of a BuildHistoryEntry.
type BuildStatus string

const (
	BuildStatusBuilding BuildStatus = "building"
	BuildStatusSuccess  BuildStatus = "success"
	BuildStatusFailed   BuildStatus = "failed"
)

// BuildStep enumerates the steps a build passes through.
type BuildStep string

const (
	BuildStepInit         BuildStep = "init"
	BuildStepMergeRoot    BuildStep = "merge-root"
	BuildStepMergeOthers  BuildStep = "merge-others"
	BuildStepFinalizing   BuildStep = "finalizing"
	BuildStepPostMerge    BuildStep = "post-merge"
)

// BuildHistoryEntry records one build attempt for a BuildConfig.
type BuildHistoryEntry struct {
	// RunID identifies this merge() invocation, minted once via
	// common.NewBuildRunID when the entry is created.
	RunID         string      `json:"run_id,omitempty"`
	Status        BuildStatus `json:"status"`
	StartedAt     time.Time   `json:"started_at"`
	StepStartedAt time.Time   `json:"step_started_at"`
	Step          BuildStep   `json:"step"`
	Sources       []string    `json:"sources"`

	// PID is set iff Status == BuildStatusBuilding. It identifies the
	// process running this build (the hub's own PID, since the Builder
	// itself runs cooperatively in-process).
	PID int `json:"pid,omitempty"`

	// Time/TimeInS are populated only when Status is terminal.
	Time     time.Time `json:"time,omitempty"`
	TimeInS  float64   `json:"time_in_s,omitempty"`

	LogFile        string `json:"logfile,omitempty"`
	TargetBackend  string `json:"target_backend,omitempty"`
	TargetName     string `json:"target_name,omitempty"`

	// Stats maps source name to merged document count.
	Stats map[string]int64 `json:"stats,omitempty"`

	// SrcVersion maps source name to a version tag.
	SrcVersion map[string]string `json:"src_version,omitempty"`

	// Err is the terminating error's string representation, present iff
	// Status == BuildStatusFailed.
	Err string `json:"err,omitempty"`

	// BuildVersion is a monotonic counter incremented on every append for a
	// given config, so two entries created in the same second remain
	// distinguishable to operators.
	BuildVersion int `json:"build_version"`
}

// IsTerminal reports whether Status is a terminal state.
func (e *BuildHistoryEntry) IsTerminal() bool {
	return e.Status == BuildStatusSuccess || e.Status == BuildStatusFailed
}
