// Package jobs holds cross-cutting job-control helpers shared by the
// manager and the merge engine: crash-dump serialization for failed
// batches (spec.md §9).
package jobs

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// crashDump is the on-disk shape of one failed batch, round-tripping the
// error's type, message and stack trace for operator post-mortem.
type crashDump struct {
	Type    string `yaml:"type"`
	Message string `yaml:"message"`
	Stack   string `yaml:"stack"`
}

// DumpBatchFailure writes build_<target>_<source>_batch_<n>.yaml into dir,
// returning the written path.
func DumpBatchFailure(dir, target, source string, batchNum int, errType, message, stack string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create crash dump dir: %w", err)
	}

	name := fmt.Sprintf("build_%s_%s_batch_%d.yaml", target, source, batchNum)
	path := filepath.Join(dir, name)

	dump := crashDump{Type: errType, Message: message, Stack: stack}
	buf, err := yaml.Marshal(dump)
	if err != nil {
		return "", fmt.Errorf("encode crash dump: %w", err)
	}

	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return "", fmt.Errorf("write crash dump %q: %w", path, err)
	}
	return path, nil
}
