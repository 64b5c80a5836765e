package backends

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dongbohu/biohub/internal/interfaces"
	"github.com/dongbohu/biohub/internal/storage/collections"
)

// targetNameSuffix matches the fixed-width timestamp suffix a target
// collection name must carry so that lexical order equals chronological
// order: an underscore followed by 14 digits (YYYYMMDDhhmmss).
var targetNameSuffix = regexp.MustCompile(`_(\d{14})$`)

// TargetBackend writes the one target collection a build run produces.
type TargetBackend struct {
	store collections.Store

	mu   sync.Mutex
	name string
}

// NewTargetBackend constructs a TargetBackend.
func NewTargetBackend(store collections.Store) *TargetBackend {
	return &TargetBackend{store: store}
}

var _ interfaces.TargetBackend = (*TargetBackend)(nil)

// AssignName computes the timestamped target collection name for this build
// run. If targetNameOverride is non-empty it is used verbatim but must still
// carry a fixed-width timestamp suffix; an implementer who builds an
// override some other way must make the same assertion at creation time, per
// the fixed-width ordering invariant this package depends on for
// ListArchived and the builder manager's retention sweep.
func (b *TargetBackend) AssignName(buildName, targetNameOverride string) (string, error) {
	name := targetNameOverride
	if name == "" {
		name = fmt.Sprintf("%s_%s", buildName, time.Now().UTC().Format("20060102150405"))
	}
	if !targetNameSuffix.MatchString(name) {
		return "", fmt.Errorf("target collection name %q does not carry a fixed-width timestamp suffix", name)
	}
	b.mu.Lock()
	b.name = name
	b.mu.Unlock()
	return name, nil
}

// Name returns the collection name assigned by the last AssignName call.
func (b *TargetBackend) Name() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.name
}

func (b *TargetBackend) Drop(ctx context.Context) error {
	return b.store.Drop(ctx, b.Name())
}

func (b *TargetBackend) Prepare(ctx context.Context) error {
	return b.store.Prepare(ctx, b.Name())
}

func (b *TargetBackend) Exists(ctx context.Context, id string) (bool, error) {
	return b.store.Exists(ctx, b.Name(), id)
}

func (b *TargetBackend) Write(ctx context.Context, docs []collections.Doc, upsert bool) (int, error) {
	if upsert {
		return b.store.Upsert(ctx, b.Name(), docs)
	}
	return b.store.Update(ctx, b.Name(), docs)
}

// Finalize has nothing to flush: every write already lands directly in
// Badger. It exists so a future target backend with buffered writes has a
// natural place to put a final flush.
func (b *TargetBackend) Finalize(ctx context.Context) error {
	return nil
}

// ListArchived returns every collection that shares buildName's underscore
// prefix and carries the fixed-width timestamp suffix, sorted lexically,
// which that suffix makes equivalent to chronological order.
func (b *TargetBackend) ListArchived(ctx context.Context, buildName string) ([]string, error) {
	all, err := b.store.ListCollections(ctx)
	if err != nil {
		return nil, fmt.Errorf("list archived for %q: %w", buildName, err)
	}
	prefix := buildName + "_"
	var matched []string
	for _, name := range all {
		if strings.HasPrefix(name, prefix) && targetNameSuffix.MatchString(name) {
			matched = append(matched, name)
		}
	}
	sort.Strings(matched)
	return matched, nil
}

func (b *TargetBackend) DropCollection(ctx context.Context, name string) error {
	return b.store.Drop(ctx, name)
}
