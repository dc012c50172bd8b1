package ssh

// ssh.go implements a facade over 'x/crypto/ssh', simplifying SSH connection
// construction and SSH command execution.

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

const sshDefaultTimeout = 10 * time.Second

var (
	ErrSSHFailedDial   = fmt.Errorf("failed to establish SSH connection")
	ErrFailedHostParse = fmt.Errorf("failed to parse hostname")
	ErrHostKeyInvalid  = fmt.Errorf("target's host key is invalid")
	ErrKnownHosts      = fmt.Errorf("failed to load known_hosts file")
)

// Client is a connected SSH client. The SFTP session used by 'Stat' and
// 'Fetch' is opened on first use and shares the SSH connection.
type Client struct {
	conn *ssh.Client
	addr string

	sftpOnce sync.Once
	sftp     *sftp.Client
	sftpErr  error
}

// Connect establishes an SSH connection to 'host' on TCP port 'port'.
//
// 'host' can be any of: hostname, ipv4 address or ipv6 address. If 'host' is
// an empty string, ipv4 loopback is used.
//
// If 'port' is 0, a default value of '22' is used.
//
// 'signer' is used for public key authentication when connecting to 'host'.
//
// 'hostKey' verifies the host key offered by 'host'. If it is nil, all host
// keys will be accepted.
func Connect(host string, port uint16, user string, signer ssh.Signer, hostKey ssh.HostKeyCallback) (*Client, error) {
	if host == "" {
		host = "127.0.0.1"
	}
	if port == 0 {
		port = 22
	}
	if hostKey == nil {
		hostKey = HostKeys()
	}
	config := &ssh.ClientConfig{
		User: user,
		Auth: []ssh.AuthMethod{
			ssh.PublicKeys(signer),
		},
		HostKeyCallback: hostKey,
		Timeout:         sshDefaultTimeout,
	}
	// Parse the host + port combination to a ssh.Dial-compatible 'addr' (host+
	// port string).
	target, err := joinHostPort(host, port)
	if err != nil {
		return nil, err
	}
	conn, err := ssh.Dial("tcp", target, config)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSSHFailedDial, err)
	}
	return &Client{conn: conn, addr: target}, nil
}

// HostKeys returns a host key callback accepting only the provided keys. With
// no keys, every host key is accepted (the same as 'ssh.InsecureIgnoreHostKey').
func HostKeys(keys ...ssh.PublicKey) ssh.HostKeyCallback {
	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		if len(keys) == 0 {
			return nil
		}
		for _, hostKey := range keys {
			if bytes.Equal(hostKey.Marshal(), key.Marshal()) {
				return nil
			}
		}
		return ErrHostKeyInvalid
	}
}

// KnownHosts returns a host key callback backed by an OpenSSH known_hosts
// file.
func KnownHosts(path string) (ssh.HostKeyCallback, error) {
	cb, err := knownhosts.New(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrKnownHosts, path, err)
	}
	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		if err := cb(hostname, remote, key); err != nil {
			return fmt.Errorf("%w: %w", ErrHostKeyInvalid, err)
		}
		return nil
	}, nil
}

// joinHostPort parses and validates 'host' is a valid IPv4 or IPv6 address,
// then joins it with the port in the address-family-specific format.
//
// If 'host' is a hostname, the hostname will be resolved, then joinHostPort
// will recurse using the first of the resolved addresses.
func joinHostPort(host string, port uint16) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if addr := net.ParseIP(host); addr == nil {
		addrs, err := net.DefaultResolver.LookupHost(ctx, host)
		if err != nil || len(addrs) == 0 {
			return "", fmt.Errorf("%w: %s", ErrFailedHostParse, host)
		}
		return joinHostPort(addrs[0], port)
	} else if ipv4 := addr.To4(); ipv4 != nil {
		return fmt.Sprintf("%s:%d", ipv4.String(), port), nil
	} else {
		return fmt.Sprintf("[%s]:%d", addr.To16().String(), port), nil
	}
}

var (
	ErrSessionInit = fmt.Errorf("failed to begin SSH session")
	ErrCMDExec     = fmt.Errorf("failed to execute SSH command")
)

// Result is the outcome of a remote command that ran to completion.
type Result struct {
	Stdout     string
	Stderr     string
	ExitStatus int
}

// Exec executes a single command, returning any standard out/err received
// along with its exit status.
//
// A command that runs and exits non-zero is not an error; callers inspect
// 'Result.ExitStatus'. Errors are reserved for transport failures, including
// a command that ends without reporting an exit status.
func (c *Client) Exec(cmd string) (Result, error) {
	session, err := c.conn.NewSession()
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrSessionInit, err)
	}
	defer session.Close()
	stdout := new(bytes.Buffer)
	session.Stdout = stdout
	stderr := new(bytes.Buffer)
	session.Stderr = stderr

	err = session.Run(cmd)
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	var exitErr *ssh.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		res.ExitStatus = exitErr.ExitStatus()
	default:
		return res, fmt.Errorf("%w: %w", ErrCMDExec, err)
	}
	return res, nil
}

// Addr is the resolved 'host:port' the client is connected to.
func (c *Client) Addr() string {
	return c.addr
}

// Close tears down the SFTP session, if any, then the SSH connection.
func (c *Client) Close() error {
	var errs []error
	if c.sftp != nil {
		errs = append(errs, c.sftp.Close())
	}
	if err := c.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
