package mock

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

type (
	// server represents an SSH server.
	//
	// server is constructed by 'NewServer', can be started (begin listening and
	// serving connections) by calling its 'ListenAndServe' method. When finished,
	// a call to 'Shutdown' closes the listener and every open connection.
	server struct {
		// The SSH server configuration.
		//
		// These options may be modified _prior_ to calling 'ListenAndServe',
		// modifying after will have no effect.
		Config *ssh.ServerConfig

		handler ExecHandler

		// Holds the closure we'll use to shut down the Server.
		cancel   context.CancelFunc
		listener net.Listener

		mu       sync.Mutex
		commands []string

		wait Waiter
	}

	// PubKeyCallback is the function called when the server receives an
	// authentication attempt via public key. Any non-nil error returned will
	// immediately abort the connection.
	PubKeyCallback func(ssh.ConnMetadata, ssh.PublicKey) (*ssh.Permissions, error)

	// ExecHandler scripts the response to an 'exec' request: whatever it
	// returns is written to the channel's stdout, followed by 'exitStatus'.
	ExecHandler func(cmd string) (stdout string, exitStatus uint32)
)

// NewServer constructs a server that authenticates with 'fn', presents 'signer'
// as its host key and answers 'exec' requests with 'handler'. A nil handler
// succeeds every command with no output.
//
// The 'sftp' subsystem is always available and serves the local filesystem.
func NewServer(signer ssh.Signer, fn PubKeyCallback, handler ExecHandler) (*server, error) {
	if signer == nil {
		return nil, fmt.Errorf("a non-nil ssh.Signer is required")
	}
	if fn == nil {
		return nil, fmt.Errorf("a non-nil public key callback is required")
	}
	if handler == nil {
		handler = func(string) (string, uint32) { return "", 0 }
	}
	config := &ssh.ServerConfig{
		PublicKeyCallback: fn,
	}
	config.AddHostKey(signer)
	return &server{
		Config:  config,
		handler: handler,
		wait:    NewWaiter(),
	}, nil
}

// ListenAndServe listens on an ephemeral loopback port and serves connections
// until 'Shutdown' is called or 'ctx' is done.
func (s *server) ListenAndServe(ctx context.Context) error {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.listener = listener
	// Unblock 'Accept' on shutdown.
	go func() {
		<-ctx.Done()
		listener.Close()
	}()
	s.wait.Add()
	go s.serve(ctx, listener)
	return nil
}

// Addr returns the host and port the server is listening on.
func (s *server) Addr() (string, uint16) {
	addr := s.listener.Addr().(*net.TCPAddr)
	return addr.IP.String(), uint16(addr.Port)
}

// Commands returns every 'exec' command received so far, in order.
func (s *server) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

func (s *server) serve(ctx context.Context, listener net.Listener) {
	defer s.wait.Done()
	for {
		conn, err := listener.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				log.Error("accept failed", "error", err)
			}
			return
		}
		s.wait.Add()
		go s.handleConn(ctx, conn)
	}
}

// handleConn attempts an SSH handshake over 'conn'. If successful it accepts
// 'session' channels, handling each in a separate Goroutine.
func (s *server) handleConn(ctx context.Context, conn net.Conn) {
	defer s.wait.Done()
	sshConn, chans, reqs, err := ssh.NewServerConn(conn, s.Config)
	if err != nil {
		// Failed auth and host key rejections land here; the client sees them.
		log.Debug("handshake failed", "error", err)
		conn.Close()
		return
	}
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			sshConn.Close()
		case <-done:
		}
	}()
	go ssh.DiscardRequests(reqs)
	for newChannel := range chans {
		if newChannel.ChannelType() != "session" {
			newChannel.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}
		channel, requests, err := newChannel.Accept()
		if err != nil {
			log.Error("failed to accept channel", "error", err)
			continue
		}
		s.wait.Add()
		go s.handleChannel(channel, requests)
	}
}

// handleChannel processes the out-of-band requests delivered over a session
// channel.
//
// 'exec' requests are recorded, answered through the 'ExecHandler' and then
// the channel is closed. A 'subsystem' request for 'sftp' hands the channel
// to an SFTP server. Everything else is refused.
func (s *server) handleChannel(channel ssh.Channel, requests <-chan *ssh.Request) {
	defer s.wait.Done()
	for req := range requests {
		switch req.Type {
		case "exec":
			cmd, err := unmarshalString(req.Payload)
			if err != nil {
				log.Error("malformed exec payload", "error", err)
				req.Reply(false, nil)
				continue
			}
			log.Debug("received an 'exec' channel request", "command", cmd)
			if req.WantReply {
				req.Reply(true, nil)
			}
			s.mu.Lock()
			s.commands = append(s.commands, cmd)
			s.mu.Unlock()

			stdout, status := s.handler(cmd)
			if _, err := io.WriteString(channel, stdout); err != nil {
				log.Error("failed to write stdout", "error", err)
			}
			if _, err := channel.SendRequest("exit-status", false, marshalExitStatus(status)); err != nil {
				log.Error("failed to send exit status", "error", err)
			}
			channel.Close()
		case "subsystem":
			name, err := unmarshalString(req.Payload)
			if err != nil || name != "sftp" {
				log.Error("unsupported subsystem", "name", name)
				req.Reply(false, nil)
				continue
			}
			if req.WantReply {
				req.Reply(true, nil)
			}
			s.wait.Add()
			go s.serveSFTP(channel)
		default:
			log.Debug("refusing channel request", "type", req.Type)
			if req.WantReply {
				req.Reply(false, nil)
			}
		}
	}
}

func (s *server) serveSFTP(channel ssh.Channel) {
	defer s.wait.Done()
	defer channel.Close()
	srv, err := sftp.NewServer(channel)
	if err != nil {
		log.Error("failed to start sftp server", "error", err)
		return
	}
	if err := srv.Serve(); err != nil && !errors.Is(err, io.EOF) {
		log.Debug("sftp server exited", "error", err)
	}
	srv.Close()
}

var ErrServerNotStarted = fmt.Errorf(
	"shutdown called without a call to 'ListenAndServe' first",
)

// Shutdown calls the 'context.CancelFunc' and waits for all Goroutines to exit.
func (s *server) Shutdown(ctx context.Context) error {
	if s.cancel == nil {
		return ErrServerNotStarted
	}
	s.cancel()
	return s.wait.WaitContext(ctx)
}
