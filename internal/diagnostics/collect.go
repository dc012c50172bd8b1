// diagnostics captures JVM thread dumps and application logs from a host
// before it is taken out of service.
package diagnostics

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/chainguard-dev/clog"
	"k8s.io/utils/clock"

	"github.com/chainguard-dev/ec2ops/internal/ssh"
)

// Remote is a connected host. '*ssh.Client' satisfies it.
type Remote interface {
	Exec(cmd string) (ssh.Result, error)
	Stat(path string) (fs.FileInfo, error)
	Fetch(remote, local string) (int64, error)
}

var (
	ErrNoJavaProcess = errors.New("no java process found")
	ErrOutputDir     = errors.New("failed to prepare output directory")
)

const defaultDumpCount = 5

// Config controls what is collected from a host and where it is saved.
type Config struct {
	// OutputDir receives the downloaded files. Defaults to the working
	// directory.
	OutputDir string
	// Manifest lists the remote files to download. Defaults to
	// 'DefaultManifest'.
	Manifest Manifest
	// DumpCount is the number of thread dumps taken. Defaults to 5.
	DumpCount int
	// DumpInterval is the pause after each thread dump.
	DumpInterval time.Duration
	// ServiceUser owns the JVM. Defaults to 'jboss'.
	ServiceUser string
	// Clock times the pauses between dumps. Defaults to the real clock.
	Clock clock.Clock
}

func (c *Config) applyDefaults() {
	if c.OutputDir == "" {
		c.OutputDir = "."
	}
	if c.Manifest == nil {
		c.Manifest = DefaultManifest
	}
	if c.DumpCount <= 0 {
		c.DumpCount = defaultDumpCount
	}
	if c.ServiceUser == "" {
		c.ServiceUser = defaultServiceUser
	}
	if c.Clock == nil {
		c.Clock = clock.RealClock{}
	}
}

// Step is one remote command and what came of it. 'Err' is set only when the
// command could not be run at all.
type Step struct {
	Name    string
	Command string
	Result  ssh.Result
	Err     error
}

// Status is the outcome of a single manifest entry.
type Status string

const (
	StatusFetched  Status = "fetched"
	StatusNotFound Status = "not-found"
	StatusFailed   Status = "failed"
)

// Transfer records the outcome for one manifest path.
type Transfer struct {
	Remote string
	Local  string
	Status Status
	Bytes  int64
	Err    error
}

// Report is everything that happened on one host.
type Report struct {
	Host      string
	Steps     []Step
	Transfers []Transfer
}

// Fetched counts the transfers that succeeded.
func (r Report) Fetched() int {
	n := 0
	for _, t := range r.Transfers {
		if t.Status == StatusFetched {
			n++
		}
	}
	return n
}

// Collect takes thread dumps on 'remote' and downloads every manifest path.
//
// Remote command failures, including non-zero exits, are recorded in the
// report and logged but never stop collection. Every manifest path is
// attempted. Only a cancelled context or an unusable output directory
// returns an error.
func Collect(ctx context.Context, remote Remote, host string, cfg Config) (Report, error) {
	cfg.applyDefaults()
	log := clog.FromContext(ctx).With("host", host)
	report := Report{Host: host}

	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return report, fmt.Errorf("%w: %w", ErrOutputDir, err)
	}

	run := func(name, cmd string) Step {
		log.Info("running remote command", "step", name, "command", cmd)
		step := Step{Name: name, Command: cmd}
		step.Result, step.Err = remote.Exec(cmd)
		switch {
		case step.Err != nil:
			log.Warn("remote command could not be run", "step", name, "error", step.Err)
		case step.Result.ExitStatus != 0:
			log.Warn("remote command exited non-zero",
				"step", name,
				"exit_status", step.Result.ExitStatus,
				"stderr", step.Result.Stderr,
			)
		}
		report.Steps = append(report.Steps, step)
		return step
	}

	for _, cmd := range installCommands {
		run("install", cmd)
	}

	pgrep := run("find-java", findJavaCommand)
	pid, err := parsePID(pgrep.Result.Stdout)
	if pgrep.Err != nil {
		err = pgrep.Err
	}
	if err != nil {
		log.Warn("skipping heap histogram and thread dumps", "error", err)
	} else {
		log.Info("found java process", "pid", pid)
		run("heap-histogram", heapHistogramCommand(cfg.ServiceUser, pid))
		for n := 1; n <= cfg.DumpCount; n++ {
			run("thread-dump", threadDumpCommand(cfg.ServiceUser, pid, n))
			if err := sleep(ctx, cfg.Clock, cfg.DumpInterval); err != nil {
				return report, err
			}
		}
	}
	run("archive", archiveCommand)

	for _, path := range cfg.Manifest {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		t := transfer(remote, path, filepath.Join(cfg.OutputDir, LocalName(host, path)))
		switch t.Status {
		case StatusFetched:
			log.Info("downloaded remote file", "remote", t.Remote, "local", t.Local, "bytes", t.Bytes)
		case StatusNotFound:
			log.Debug("remote file not present", "remote", t.Remote)
		default:
			log.Warn("failed to download remote file", "remote", t.Remote, "error", t.Err)
		}
		report.Transfers = append(report.Transfers, t)
	}
	log.Info("log collection complete",
		"fetched", report.Fetched(),
		"attempted", len(report.Transfers),
	)
	return report, nil
}

func transfer(remote Remote, path, local string) Transfer {
	t := Transfer{Remote: path, Local: local}
	if _, err := remote.Stat(path); err != nil {
		t.Err = err
		t.Status = StatusFailed
		if errors.Is(err, ssh.ErrRemoteNotFound) {
			t.Status = StatusNotFound
		}
		return t
	}
	t.Bytes, t.Err = remote.Fetch(path, local)
	switch {
	case t.Err == nil:
		t.Status = StatusFetched
	case errors.Is(t.Err, ssh.ErrRemoteNotFound):
		t.Status = StatusNotFound
	default:
		t.Status = StatusFailed
	}
	return t
}

func sleep(ctx context.Context, clk clock.Clock, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := clk.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C():
		return nil
	}
}
