package diagnostics

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/chainguard-dev/ec2ops/internal/ssh"
)

// mockRemote serves a fixed set of files and scripted command results.
type mockRemote struct {
	files    map[string]string
	execFunc func(cmd string) (ssh.Result, error)
	statErr  map[string]error
	fetchErr map[string]error

	// Track operations for testing.
	commands []string
	stats    []string
}

func (m *mockRemote) Exec(cmd string) (ssh.Result, error) {
	m.commands = append(m.commands, cmd)
	if m.execFunc != nil {
		return m.execFunc(cmd)
	}
	if cmd == findJavaCommand {
		return ssh.Result{Stdout: "4242\n"}, nil
	}
	return ssh.Result{}, nil
}

func (m *mockRemote) Stat(path string) (fs.FileInfo, error) {
	m.stats = append(m.stats, path)
	if err := m.statErr[path]; err != nil {
		return nil, err
	}
	if _, ok := m.files[path]; !ok {
		return nil, fmt.Errorf("%w: %s", ssh.ErrRemoteNotFound, path)
	}
	return nil, nil
}

func (m *mockRemote) Fetch(remote, local string) (int64, error) {
	if err := m.fetchErr[remote]; err != nil {
		return 0, err
	}
	content := m.files[remote]
	if err := os.WriteFile(local, []byte(content), 0o644); err != nil {
		return 0, err
	}
	return int64(len(content)), nil
}

func TestCollect(t *testing.T) {
	const host = "10.0.0.5"

	t.Run("runs commands in order", func(t *testing.T) {
		remote := &mockRemote{}
		_, err := Collect(t.Context(), remote, host, Config{OutputDir: t.TempDir()})
		require.NoError(t, err)

		want := []string{
			"sudo yum -y install java-1.8.0-openjdk-devel",
			"sudo yum -y install zip",
			"pgrep -f java | head -1",
			"sudo su -c 'jmap -histo 4242 > /tmp/threaddump_mem_usage.txt' -s /bin/sh jboss",
			"sudo su -c 'jstack 4242 > /tmp/threaddump_1.txt' -s /bin/sh jboss",
			"sudo su -c 'jstack 4242 > /tmp/threaddump_2.txt' -s /bin/sh jboss",
			"sudo su -c 'jstack 4242 > /tmp/threaddump_3.txt' -s /bin/sh jboss",
			"sudo su -c 'jstack 4242 > /tmp/threaddump_4.txt' -s /bin/sh jboss",
			"sudo su -c 'jstack 4242 > /tmp/threaddump_5.txt' -s /bin/sh jboss",
			archiveCommand,
		}
		if diff := cmp.Diff(want, remote.commands); diff != "" {
			t.Errorf("commands mismatch (-want +got):\n%s", diff)
		}
		assert.True(t, strings.HasSuffix(archiveCommand, "| sudo zip /tmp/threaddumps.zip -@"))
	})

	t.Run("attempts every manifest path", func(t *testing.T) {
		dir := t.TempDir()
		remote := &mockRemote{
			files: map[string]string{
				"/var/log/wildfly/console.log":          "console",
				"/opt/wildfly/standalone/log/gc.log":    "gc",
				"/opt/wildfly/standalone/log/server.log": "server",
				ThreadDumpArchive:                       "PK",
			},
			statErr: map[string]error{
				"/var/log/jboss/console.log": fmt.Errorf("%w: permission denied", ssh.ErrRemoteStat),
			},
			fetchErr: map[string]error{
				"/opt/wildfly/standalone/log/server.log": fmt.Errorf("%w: connection lost", ssh.ErrFetch),
			},
		}
		report, err := Collect(t.Context(), remote, host, Config{OutputDir: dir})
		require.NoError(t, err)

		assert.Equal(t, []string(DefaultManifest), remote.stats)
		require.Len(t, report.Transfers, len(DefaultManifest))
		statuses := map[string]Status{}
		for _, tr := range report.Transfers {
			statuses[tr.Remote] = tr.Status
		}
		assert.Equal(t, StatusFetched, statuses["/var/log/wildfly/console.log"])
		assert.Equal(t, StatusFailed, statuses["/var/log/jboss/console.log"])
		assert.Equal(t, StatusNotFound, statuses["/var/log/jboss-as/console.log"])
		assert.Equal(t, StatusFailed, statuses["/opt/wildfly/standalone/log/server.log"])
		assert.Equal(t, StatusFetched, statuses["/opt/wildfly/standalone/log/gc.log"])
		assert.Equal(t, StatusFetched, statuses[ThreadDumpArchive])
		assert.Equal(t, 3, report.Fetched())

		got, err := os.ReadFile(filepath.Join(dir, "10.0.0.5_gc.log"))
		require.NoError(t, err)
		assert.Equal(t, "gc", string(got))
		assert.FileExists(t, filepath.Join(dir, "10.0.0.5_threaddumps.zip"))
	})

	t.Run("non-zero exits are not fatal", func(t *testing.T) {
		remote := &mockRemote{execFunc: func(cmd string) (ssh.Result, error) {
			switch {
			case cmd == findJavaCommand:
				return ssh.Result{Stdout: "77\n"}, nil
			case strings.Contains(cmd, "yum"):
				return ssh.Result{ExitStatus: 1, Stderr: "no network"}, nil
			case strings.Contains(cmd, "jstack"):
				return ssh.Result{}, errors.New("channel closed")
			}
			return ssh.Result{}, nil
		}}
		report, err := Collect(t.Context(), remote, host, Config{OutputDir: t.TempDir(), DumpCount: 2})
		require.NoError(t, err)
		assert.Len(t, report.Steps, 7)
		assert.Equal(t, 1, report.Steps[0].Result.ExitStatus)
		assert.Error(t, report.Steps[4].Err)
		assert.Len(t, report.Transfers, len(DefaultManifest))
	})

	t.Run("no java process skips dumps", func(t *testing.T) {
		remote := &mockRemote{execFunc: func(cmd string) (ssh.Result, error) {
			if cmd == findJavaCommand {
				return ssh.Result{ExitStatus: 1}, nil
			}
			return ssh.Result{}, nil
		}}
		_, err := Collect(t.Context(), remote, host, Config{OutputDir: t.TempDir()})
		require.NoError(t, err)
		for _, cmd := range remote.commands {
			assert.NotContains(t, cmd, "jstack")
			assert.NotContains(t, cmd, "jmap")
		}
		assert.Equal(t, archiveCommand, remote.commands[len(remote.commands)-1])
	})

	t.Run("waits after each dump", func(t *testing.T) {
		remote := &mockRemote{}
		clk := testingclock.NewFakeClock(time.Now())
		done := make(chan error, 1)
		go func() {
			_, err := Collect(t.Context(), remote, host, Config{
				OutputDir:    t.TempDir(),
				DumpCount:    3,
				DumpInterval: time.Minute,
				Clock:        clk,
			})
			done <- err
		}()
		for range 3 {
			require.Eventually(t, clk.HasWaiters, 5*time.Second, time.Millisecond)
			select {
			case err := <-done:
				t.Fatalf("collection finished early: %v", err)
			default:
			}
			clk.Step(time.Minute)
		}
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("collection did not finish")
		}
		assert.Len(t, remote.stats, len(DefaultManifest))
	})

	t.Run("cancellation stops collection", func(t *testing.T) {
		ctx, cancel := context.WithCancel(t.Context())
		remote := &mockRemote{execFunc: func(cmd string) (ssh.Result, error) {
			if strings.Contains(cmd, "jstack") {
				cancel()
			}
			if cmd == findJavaCommand {
				return ssh.Result{Stdout: "1\n"}, nil
			}
			return ssh.Result{}, nil
		}}
		_, err := Collect(ctx, remote, host, Config{OutputDir: t.TempDir(), DumpInterval: time.Hour})
		require.ErrorIs(t, err, context.Canceled)
		assert.Empty(t, remote.stats)
	})
}

func TestParsePID(t *testing.T) {
	pid, err := parsePID("1234\n")
	require.NoError(t, err)
	assert.Equal(t, 1234, pid)

	pid, err = parsePID("  99\n100\n")
	require.NoError(t, err)
	assert.Equal(t, 99, pid)

	for _, bad := range []string{"", "\n", "java", "-1"} {
		_, err := parsePID(bad)
		assert.ErrorIs(t, err, ErrNoJavaProcess, "input %q", bad)
	}
}

func TestLocalName(t *testing.T) {
	assert.Equal(t, "10.0.0.5_console.log", LocalName("10.0.0.5", "/var/log/wildfly/console.log"))
	assert.Equal(t, "10.0.0.5_threaddumps.zip", LocalName("10.0.0.5", ThreadDumpArchive))
}
