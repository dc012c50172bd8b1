package ssh

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/chainguard-dev/clog"

	"github.com/chainguard-dev/ec2ops/internal/poll"
)

// PortSSH is the TCP port SSH connections are made to by default.
const PortSSH = 22

var (
	reachInterval = time.Second
	dialer        = &net.Dialer{
		Timeout: 3 * time.Second,
	}
)

// WaitReachable waits for a TCP port to accept connections on 'host'. A zero
// 'timeout' waits until 'ctx' is done; otherwise 'poll.ErrTimeout' is returned
// once it elapses.
func WaitReachable(ctx context.Context, host string, port uint16, timeout time.Duration) error {
	log := clog.FromContext(ctx).With("host", host, "port", port)
	log.Debug("waiting for host to accept TCP connections")
	target := net.JoinHostPort(host, strconv.Itoa(int(port)))
	return poll.Until(ctx, reachInterval, timeout, func(ctx context.Context) (bool, error) {
		return tcpPortOpen(ctx, target), nil
	})
}

func tcpPortOpen(ctx context.Context, target string) bool {
	log := clog.FromContext(ctx).With("target", target)
	conn, err := dialer.DialContext(ctx, "tcp", target)
	if err != nil {
		log.Debug("target is not yet reachable", "error", err)
		return false
	}
	if err := conn.Close(); err != nil {
		log.Warn("encountered error closing TCP connection", "error", err)
	}
	log.Debug("target is now reachable")
	return true
}
