package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/chainguard-dev/clog"
	charmlog "github.com/charmbracelet/log"
	slogmulti "github.com/samber/slog-multi"
)

// Options configures the logger installed by 'Setup'.
type Options struct {
	// Console receives human-readable output. Defaults to 'os.Stderr'.
	Console io.Writer

	// Level is the minimum console level. The run log always records debug.
	Level slog.Level

	// Command and Targets name the run log file. See 'RunLogName'.
	Command string
	Targets []string

	// RunID is attached to every record as 'run_id'.
	RunID string

	// Dir, if set, receives a JSON run log for this invocation.
	Dir string
}

// Setup installs a clog logger into 'ctx' which writes to the console and,
// when 'Options.Dir' is set, tees every record into a JSON run log.
//
// The returned func closes the run log and must be called before exit.
func Setup(ctx context.Context, opts Options) (context.Context, func(), error) {
	if opts.Console == nil {
		opts.Console = os.Stderr
	}
	console := charmlog.NewWithOptions(opts.Console, charmlog.Options{
		Level:           charmlog.Level(opts.Level),
		Prefix:          opts.Command,
		ReportTimestamp: true,
	})

	handlers := []slog.Handler{console}
	closer := func() {}
	if opts.Dir != "" {
		f, path, err := createRunLog(opts)
		if err != nil {
			return ctx, closer, err
		}
		handlers = append(handlers, slog.NewJSONHandler(f, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		}))
		closer = func() {
			if err := f.Close(); err != nil {
				fmt.Fprintf(opts.Console, "failed to close run log %s: %s\n", path, err)
			}
		}
	}

	logger := clog.New(slogmulti.Fanout(handlers...))
	if opts.RunID != "" {
		logger = logger.With("run_id", opts.RunID)
	}
	return clog.WithLogger(ctx, logger), closer, nil
}

// ParseLevel converts a level name ('debug', 'info', 'warn', 'error') into an
// 'slog.Level'.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return level, nil
}

// With returns a copy of 'ctx' whose logger carries 'args'.
func With(ctx context.Context, args ...any) context.Context {
	return clog.WithLogger(ctx, clog.FromContext(ctx).With(args...))
}
