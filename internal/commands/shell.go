package commands

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/dongbohu/biohub/internal/interfaces"
)

// ShellAdapter is a thin line-oriented REPL over any io.Reader/io.Writer
// pair (stdin/stdout by default). It tokenizes each line, looks up the
// command, and prints the result or error. No business logic: everything
// interesting happens inside Table's commands.
type ShellAdapter struct {
	table  *Table
	in     *bufio.Scanner
	out    io.Writer
	prompt string
}

// NewShellAdapter wraps table over in/out. prompt is printed before each
// read; an empty prompt disables it.
func NewShellAdapter(table *Table, in io.Reader, out io.Writer, prompt string) *ShellAdapter {
	return &ShellAdapter{table: table, in: bufio.NewScanner(in), out: out, prompt: prompt}
}

// Run reads lines until EOF, ctx cancellation, or a "quit"/"exit" command.
func (s *ShellAdapter) Run(ctx context.Context) error {
	for {
		if s.prompt != "" {
			fmt.Fprint(s.out, s.prompt)
		}
		if !s.in.Scan() {
			return s.in.Err()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := strings.TrimSpace(s.in.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		name, args := fields[0], fields[1:]
		if name == "quit" || name == "exit" {
			return nil
		}

		s.dispatch(ctx, name, args)
	}
}

func (s *ShellAdapter) dispatch(ctx context.Context, name string, args []string) {
	cmd, ok := s.table.Lookup(name)
	if !ok {
		fmt.Fprintf(s.out, "unknown command %q\n", name)
		return
	}

	value, err := cmd.Run(ctx, args)
	if err != nil {
		fmt.Fprintf(s.out, "error: %v\n", err)
		return
	}

	if future, ok := value.(interfaces.Future); ok {
		fmt.Fprintln(s.out, "ok: job submitted")
		_ = future // handle is returned to a programmatic caller; the shell only confirms submission
		return
	}
	fmt.Fprintf(s.out, "%v\n", value)
}
