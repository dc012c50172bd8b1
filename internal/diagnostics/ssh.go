package diagnostics

import (
	"context"
	"fmt"
	"time"

	"github.com/chainguard-dev/clog"
	cryptossh "golang.org/x/crypto/ssh"

	"github.com/chainguard-dev/ec2ops/internal/o11y"
	"github.com/chainguard-dev/ec2ops/internal/ssh"
)

var ErrConnect = fmt.Errorf("failed to connect to host for log collection")

// SSHCollector collects diagnostics from hosts over SSH.
type SSHCollector struct {
	User       string
	KeyPath    string
	KnownHosts string
	Port       uint16
	// ReachTimeout bounds the wait for the SSH port to open. Zero waits
	// until the context is done.
	ReachTimeout time.Duration

	Config Config
}

// Collect connects to 'host', runs 'Collect' against it and disconnects.
// Failing to connect is an error; everything after that is best effort.
func (c SSHCollector) Collect(ctx context.Context, host string) (err error) {
	ctx, span := o11y.Start(ctx, "diagnostics.collect")
	defer func() { o11y.Finish(span, err) }()

	port := c.Port
	if port == 0 {
		port = ssh.PortSSH
	}
	signer, err := ssh.LoadSigner(c.KeyPath, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConnect, err)
	}
	var hostKey cryptossh.HostKeyCallback
	if c.KnownHosts != "" {
		if hostKey, err = ssh.KnownHosts(c.KnownHosts); err != nil {
			return fmt.Errorf("%w: %w", ErrConnect, err)
		}
	}
	if err := ssh.WaitReachable(ctx, host, port, c.ReachTimeout); err != nil {
		return fmt.Errorf("%w: %s unreachable: %w", ErrConnect, host, err)
	}
	client, err := ssh.Connect(host, port, c.User, signer, hostKey)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConnect, err)
	}
	defer func() {
		if err := client.Close(); err != nil {
			clog.FromContext(ctx).Warn("failed to close SSH connection", "error", err)
		}
	}()
	clog.FromContext(ctx).Info("connected for log collection", "host", host, "user", c.User)

	_, err = Collect(ctx, client, host, c.Config)
	return err
}
