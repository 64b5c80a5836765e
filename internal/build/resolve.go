package build

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/dongbohu/biohub/internal/mappers"
	"github.com/dongbohu/biohub/internal/models"
)

// resolveSources expands each entry of names (a literal collection name or a
// master's regex pattern) against the live collection catalog. A name with
// no master record is a configuration error; an empty result is left for
// the caller to judge (fatal for merge, acceptable for root derivation).
func (b *Builder) resolveSources(ctx context.Context, names []string) ([]string, error) {
	if len(names) == 0 {
		return nil, nil
	}

	catalog, err := b.source.ListCollections(ctx)
	if err != nil {
		return nil, &InfrastructureError{Reason: "list collections", Err: err}
	}

	seen := make(map[string]bool)
	var out []string
	for _, name := range names {
		master, err := b.source.GetMaster(ctx, name)
		if err != nil || master == nil {
			return nil, &BuildConfigurationError{BuildName: b.buildName, Reason: fmt.Sprintf("source %q has no master record", name)}
		}
		re, err := regexp.Compile("^" + master.Pattern() + "$")
		if err != nil {
			return nil, &BuildConfigurationError{BuildName: b.buildName, Reason: fmt.Sprintf("source %q pattern %q does not compile: %v", name, master.Pattern(), err)}
		}
		for _, coll := range catalog {
			if !seen[coll] && re.MatchString(coll) {
				seen[coll] = true
				out = append(out, coll)
			}
		}
	}
	return out, nil
}

// getRootDocumentSources derives the resolved root-source list from cfg's
// root policy. allResolvedConfigSources is cfg.Sources already resolved
// against the live catalog, used by the negated-list form.
func (b *Builder) getRootDocumentSources(ctx context.Context, cfg *models.BuildConfig, allResolvedConfigSources []string) ([]string, error) {
	mode, err := cfg.ClassifyRoot()
	if err != nil {
		return nil, &BuildConfigurationError{BuildName: cfg.BuildName, Reason: err.Error()}
	}

	switch mode {
	case models.RootListEmpty:
		return nil, nil

	case models.RootListPositive:
		return b.resolveSources(ctx, cfg.Root)

	case models.RootListNegated:
		stripped := make([]string, len(cfg.Root))
		for i, entry := range cfg.Root {
			stripped[i] = strings.TrimPrefix(entry, "!")
		}
		excluded, err := b.resolveSources(ctx, stripped)
		if err != nil {
			return nil, err
		}
		excludedSet := toSet(excluded)
		var root []string
		for _, s := range allResolvedConfigSources {
			if !excludedSet[s] {
				root = append(root, s)
			}
		}
		return root, nil

	default:
		return nil, nil
	}
}

// getMapperForSource scans the source master records for the one whose
// pattern matches srcName and returns its declared mapper name, or the
// default identity mapper's name if none is declared. No matching master
// is a configuration error.
func (b *Builder) getMapperForSource(ctx context.Context, srcName string) (string, error) {
	masters, err := b.source.ListMasters(ctx)
	if err != nil {
		return "", &InfrastructureError{Reason: "list source masters", Err: err}
	}
	for _, m := range masters {
		re, err := regexp.Compile("^" + m.Pattern() + "$")
		if err != nil {
			continue
		}
		if re.MatchString(srcName) {
			return m.MapperName(mappers.DefaultMapperName), nil
		}
	}
	return "", &BuildConfigurationError{BuildName: b.buildName, Reason: fmt.Sprintf("no master matches source %q for mapper selection", srcName)}
}
