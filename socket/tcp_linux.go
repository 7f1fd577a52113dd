//go:build linux

// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

package socket

import (
	"io"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-sock/addr"
	"github.com/momentics/hioload-sock/api"
)

// DefaultBacklog is the listen(2) backlog used by Listen when none is given.
const DefaultBacklog = 128

// TCPClient is a stream socket with a fixed remote address, either dialed by
// the caller or produced by TCPServer.Accept.
type TCPClient struct {
	h      *Handle
	remote addr.IPAddress
}

// NewTCPClient creates an unconnected stream socket for remote.
func NewTCPClient(remote addr.IPAddress) (*TCPClient, error) {
	if !remote.IsValid() {
		return nil, api.Internal("tcp client", "invalid remote address")
	}
	h, err := NewHandle(remote.Type(), TCP)
	if err != nil {
		return nil, err
	}
	return &TCPClient{h: h, remote: remote}, nil
}

// Handle returns the underlying descriptor owner.
func (c *TCPClient) Handle() *Handle { return c.h }

// RemoteAddress returns the peer address.
func (c *TCPClient) RemoteAddress() addr.IPAddress { return c.remote }

// Connect issues connect(2) against the stored remote address.
func (c *TCPClient) Connect() error { return c.h.Connect(c.remote) }

// Read returns up to n bytes. An orderly shutdown by the peer yields io.EOF
// with no data, which is not an operation failure.
func (c *TCPClient) Read(n int) ([]byte, error) {
	fd, err := c.h.live("tcp read")
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, api.Internal("tcp read", "negative read size")
	}
	buf := make([]byte, n)
	got, err := unix.Read(fd, buf)
	if err != nil {
		return nil, api.OSError("tcp read", err)
	}
	if got == 0 && n > 0 {
		return nil, io.EOF
	}
	return buf[:got], nil
}

// Write sends data in one call. A partial write is reported as a failure and
// not retried.
func (c *TCPClient) Write(data []byte) error {
	return c.h.send("tcp write", data, nil)
}

// Close releases the descriptor.
func (c *TCPClient) Close() error { return c.h.Close() }

// TCPServer is a listening stream socket driven by StreamMode.
type TCPServer struct {
	h    *Handle
	mu   sync.Mutex
	mode StreamMode
}

// NewTCPServer creates an unbound server socket for port with SO_REUSEADDR.
func NewTCPServer(port uint16, family addr.Family) (*TCPServer, error) {
	h, err := NewHandle(family, TCP)
	if err != nil {
		return nil, err
	}
	if err := h.SetOption(Reuse(true)); err != nil {
		_ = h.Close()
		return nil, err
	}
	return &TCPServer{h: h, mode: Unbound(port)}, nil
}

// Handle returns the underlying descriptor owner.
func (s *TCPServer) Handle() *Handle { return s.h }

// Mode returns the current StreamMode.
func (s *TCPServer) Mode() StreamMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// Port returns the port held by the current mode. After binding port 0 it is
// the kernel-assigned port.
func (s *TCPServer) Port() uint16 { return s.Mode().Port }

// Bind binds the wildcard address and moves Unbound to Listening.
func (s *TCPServer) Bind() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mode.State != ModeUnbound {
		return api.Internal("tcp bind", "server is "+s.mode.String()+", want unbound")
	}
	if err := s.h.Bind(addr.Wildcard(s.mode.Port, s.h.Family())); err != nil {
		return err
	}
	port := s.mode.Port
	if port == 0 {
		local, err := s.h.LocalAddress()
		if err != nil {
			return err
		}
		port = local.Port()
	}
	s.mode = Listening(port)
	return nil
}

// Listen issues listen(2). A backlog <= 0 selects DefaultBacklog.
func (s *TCPServer) Listen(backlog int) error {
	if backlog <= 0 {
		backlog = DefaultBacklog
	}
	if err := s.requireListening("tcp listen"); err != nil {
		return err
	}
	fd, err := s.h.live("tcp listen")
	if err != nil {
		return err
	}
	if err := unix.Listen(fd, backlog); err != nil {
		return api.OSError("tcp listen", err)
	}
	logger.WithFields(logrus.Fields{
		"function": "TCPServer.Listen",
		"port":     s.Port(),
		"backlog":  backlog,
	}).Debug("listening")
	return nil
}

// Accept takes one pending connection. It returns (nil, nil) when a
// non-blocking socket has no pending connection.
func (s *TCPServer) Accept() (*TCPClient, error) {
	if err := s.requireListening("tcp accept"); err != nil {
		return nil, err
	}
	fd, err := s.h.live("tcp accept")
	if err != nil {
		return nil, err
	}
	nfd, sa, err := unix.Accept4(fd, unix.SOCK_CLOEXEC)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return nil, nil
		}
		return nil, api.OSError("tcp accept", err)
	}
	peer, err := addr.FromSockaddr(sa)
	if err != nil {
		_ = unix.Close(nfd)
		return nil, api.Internal("tcp accept", errors.Wrap(err, "peer address").Error())
	}
	return &TCPClient{h: wrapFD(nfd, s.h.Family(), TCP), remote: peer}, nil
}

func (s *TCPServer) requireListening(op string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mode.State != ModeListening {
		return api.Internal(op, "server is "+s.mode.String()+", want listening")
	}
	return nil
}

// Close moves the mode to Closed before releasing the descriptor, so no
// bind or accept observes a stale Listening mode across the close.
func (s *TCPServer) Close() error {
	s.mu.Lock()
	s.mode = ClosedMode()
	s.mu.Unlock()
	return s.h.Close()
}
