// Package commands exposes the Builder Manager as a table of named
// operator commands and a thin line-oriented shell adapter over it. No
// business logic lives here: every command is a direct call into
// ManagerOps.
package commands

import (
	"context"
	"fmt"

	"github.com/dongbohu/biohub/internal/interfaces"
)

// ManagerOps is the surface the command table needs from a Builder
// Manager: the core interfaces.BuilderManager contract plus the handful of
// read/cleanup operations the command names require but the core engine
// interface does not (lsmerge/rmmerge/archive/whatsnew).
type ManagerOps interface {
	interfaces.BuilderManager

	ListArchived(ctx context.Context, buildName string) ([]string, error)
	DropCollection(ctx context.Context, name string) error
	Archive(ctx context.Context, buildName string) (string, error)
	WhatsNew(ctx context.Context) ([]string, error)
}

// Command is one named entry in the table: Run either returns a
// synchronous value or an interfaces.Future handle for an in-flight job.
type Command struct {
	Name string
	Run  func(ctx context.Context, args []string) (interface{}, error)
}

// Table is the map[string]Command surface built over a ManagerOps.
type Table struct {
	mgr      ManagerOps
	commands map[string]Command
}

// NewTable builds the stable command surface: merge, lsmerge, rmmerge,
// archive, whatsnew.
func NewTable(mgr ManagerOps) *Table {
	t := &Table{mgr: mgr, commands: make(map[string]Command)}
	t.register(Command{Name: "merge", Run: t.merge})
	t.register(Command{Name: "lsmerge", Run: t.lsmerge})
	t.register(Command{Name: "rmmerge", Run: t.rmmerge})
	t.register(Command{Name: "archive", Run: t.archive})
	t.register(Command{Name: "whatsnew", Run: t.whatsnew})
	return t
}

func (t *Table) register(c Command) {
	t.commands[c.Name] = c
}

// Lookup returns the command registered under name, if any.
func (t *Table) Lookup(name string) (Command, bool) {
	c, ok := t.commands[name]
	return c, ok
}

// merge <build_name> [source...] — trigger a merge, returns a handle. Every
// argument after the build name is taken as a source; the command has no
// target-name argument.
func (t *Table) merge(ctx context.Context, args []string) (interface{}, error) {
	if len(args) < 1 {
		return nil, fmt.Errorf("usage: merge <build_name> [source...]")
	}
	buildName := args[0]
	opts := interfaces.NewMergeOptions()
	if len(args) > 1 {
		opts.Sources = args[1:]
	}
	return t.mgr.Merge(ctx, buildName, opts)
}

// lsmerge <build_name> — list historical target collections for a build.
// The build name is required.
func (t *Table) lsmerge(ctx context.Context, args []string) (interface{}, error) {
	if len(args) < 1 {
		return nil, fmt.Errorf("usage: lsmerge <build_name>")
	}
	return t.mgr.ListArchived(ctx, args[0])
}

// rmmerge(target_name) — drop a specific target collection.
func (t *Table) rmmerge(ctx context.Context, args []string) (interface{}, error) {
	if len(args) < 1 {
		return nil, fmt.Errorf("usage: rmmerge <target_name>")
	}
	return nil, t.mgr.DropCollection(ctx, args[0])
}

// archive <build_name> — report the target collection name of the build's
// latest completed run. No collection is renamed.
func (t *Table) archive(ctx context.Context, args []string) (interface{}, error) {
	if len(args) < 1 {
		return nil, fmt.Errorf("usage: archive <build_name>")
	}
	return t.mgr.Archive(ctx, args[0])
}

// whatsnew() — list pending-to-build configs.
func (t *Table) whatsnew(ctx context.Context, args []string) (interface{}, error) {
	return t.mgr.WhatsNew(ctx)
}
