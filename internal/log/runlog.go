package log

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gosimple/slug"
)

// RunLogName is the file name of the run log for a command invocation, for
// example 'create-snapshot-i-0abc-i-0def-<run id>.log'.
func RunLogName(command string, targets []string, runID string) string {
	name := slug.Make(strings.Join(append([]string{command}, targets...), " "))
	if runID != "" {
		name += "-" + runID
	}
	return name + ".log"
}

func createRunLog(opts Options) (*os.File, string, error) {
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, "", fmt.Errorf("creating log directory %s: %w", opts.Dir, err)
	}
	path := filepath.Join(opts.Dir, RunLogName(opts.Command, opts.Targets, opts.RunID))
	f, err := os.Create(path)
	if err != nil {
		return nil, "", fmt.Errorf("creating run log %s: %w", path, err)
	}
	return f, path, nil
}
