// cli holds the scaffolding shared by the command binaries: common flags,
// logger and tracing setup, the AWS session and exit code handling.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/smithy-go"
	"github.com/chainguard-dev/clog"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"

	"github.com/chainguard-dev/ec2ops/internal/awsx"
	"github.com/chainguard-dev/ec2ops/internal/log"
	"github.com/chainguard-dev/ec2ops/internal/o11y"
)

// runError is an error raised after flag validation. It is never a usage
// problem. 'logged' errors have already been reported through the logger.
type runError struct {
	err    error
	logged bool
}

func (e *runError) Error() string { return e.err.Error() }
func (e *runError) Unwrap() error { return e.err }

// Run is the body of every command's 'RunE'. It sets up logging, tracing and
// the AWS session, then runs 'fn'. 'targets' name the resources acted on and
// end up in the run log's file name.
//
// The outcome is logged along with the elapsed time. Errors returned from
// here are reported without usage text.
func Run(cmd *cobra.Command, g *Globals, targets []string, fn func(ctx context.Context, sess *awsx.Session) error) error {
	level, err := log.ParseLevel(g.LogLevel)
	if err != nil {
		return &runError{err: err}
	}
	runID := uuid.NewString()
	ctx, closeLog, err := log.Setup(cmd.Context(), log.Options{
		Console: cmd.ErrOrStderr(),
		Level:   level,
		Command: cmd.Name(),
		Targets: targets,
		RunID:   runID,
		Dir:     g.LogDir,
	})
	if err != nil {
		return &runError{err: err}
	}
	defer closeLog()
	logger := clog.FromContext(ctx)

	shutdown, err := o11y.SetupTracing(ctx)
	if err != nil {
		logger.Warn("tracing disabled", "error", err)
	}
	defer func() {
		if err := shutdown(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("failed to flush traces", "error", err)
		}
	}()

	ctx, span := o11y.Start(ctx, cmd.Name(),
		attribute.String(o11y.AttrRunID, runID),
		attribute.String(o11y.AttrCommand, cmd.Name()),
	)
	start := time.Now()
	err = func() error {
		sess, err := awsx.NewSession(ctx, g.Region, g.Credentials())
		if err != nil {
			return err
		}
		logger.Debug("AWS session ready", "region", sess.Config.Region)
		return fn(ctx, sess)
	}()
	o11y.Finish(span, err)

	elapsed := time.Since(start).Round(time.Millisecond)
	if err != nil {
		logger.Error("failed", append(errorAttrs(err), "elapsed", elapsed)...)
		return &runError{err: err, logged: true}
	}
	logger.Info("done", "elapsed", elapsed)
	return nil
}

// errorAttrs describes 'err' for logging, surfacing the AWS error code when
// there is one.
func errorAttrs(err error) []any {
	attrs := []any{"error", err}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		attrs = append(attrs,
			"aws_error_code", apiErr.ErrorCode(),
			"aws_error_message", apiErr.ErrorMessage(),
		)
	}
	return attrs
}

// Execute runs 'cmd' with 'args' and returns the process exit code: 0 on
// success, 1 on any failure. Invoked with no arguments, it prints usage.
//
// SIGINT and SIGTERM cancel the command's context.
func Execute(cmd *cobra.Command, args []string, stdout, stderr io.Writer) int {
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SilenceErrors = true
	cmd.SilenceUsage = true
	if len(args) == 0 {
		fmt.Fprint(stderr, cmd.UsageString())
		return 1
	}
	cmd.SetArgs(args)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	var re *runError
	switch {
	case !errors.As(err, &re):
		fmt.Fprintln(stderr, "Error:", err)
		fmt.Fprint(stderr, cmd.UsageString())
	case !re.logged:
		fmt.Fprintln(stderr, "Error:", err)
	}
	return 1
}
