//go:build linux

// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

package socket

import (
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-sock/addr"
	"github.com/momentics/hioload-sock/api"
)

// DefaultUDPSendBuffer is the SO_SNDBUF applied to every UDP server.
const DefaultUDPSendBuffer = 900

// UDPServer is a datagram socket that receives from and replies to any peer.
type UDPServer struct {
	h    *Handle
	port uint16
}

// NewUDPServer creates the socket and applies the send-buffer and
// reuse-address options. If either option fails no server is returned.
func NewUDPServer(port uint16, family addr.Family) (*UDPServer, error) {
	h, err := NewHandle(family, UDP)
	if err != nil {
		return nil, err
	}
	for _, o := range []Option{SendBuffer(DefaultUDPSendBuffer), Reuse(true)} {
		if err := h.SetOption(o); err != nil {
			logger.WithFields(logrus.Fields{
				"function": "NewUDPServer",
				"option":   o.String(),
				"error":    err.Error(),
			}).Error("failed to apply construction option")
			_ = h.Close()
			return nil, err
		}
	}
	return &UDPServer{h: h, port: port}, nil
}

// Handle returns the underlying descriptor owner.
func (s *UDPServer) Handle() *Handle { return s.h }

// Port returns the configured port.
func (s *UDPServer) Port() uint16 { return s.port }

// Bind binds to the wildcard address of the server's family.
func (s *UDPServer) Bind() error {
	if err := s.h.Bind(addr.Wildcard(s.port, s.h.Family())); err != nil {
		return err
	}
	if s.port == 0 {
		if local, err := s.h.LocalAddress(); err == nil {
			s.port = local.Port()
		}
	}
	return nil
}

// Receive reads one datagram of at most n bytes and reports its sender.
func (s *UDPServer) Receive(n int) ([]byte, addr.IPAddress, error) {
	return recvFrom(s.h, "udp receive", n)
}

// Send sends data to an explicit destination. A short send is an error.
func (s *UDPServer) Send(data []byte, to addr.IPAddress) error {
	if !to.IsValid() {
		return api.Internal("udp send", "invalid destination address")
	}
	return s.h.send("udp send", data, to.Sockaddr())
}

// Close releases the descriptor.
func (s *UDPServer) Close() error { return s.h.Close() }

// UDPClient is a datagram socket tied to one server address. Datagrams from
// any other source are rejected with api.ErrUnexpectedSender.
type UDPClient struct {
	h      *Handle
	server addr.IPAddress
}

// NewUDPClient creates an unconnected client for server.
func NewUDPClient(server addr.IPAddress) (*UDPClient, error) {
	if !server.IsValid() {
		return nil, api.Internal("udp client", "invalid server address")
	}
	h, err := NewHandle(server.Type(), UDP)
	if err != nil {
		return nil, err
	}
	return &UDPClient{h: h, server: server}, nil
}

// Handle returns the underlying descriptor owner.
func (c *UDPClient) Handle() *Handle { return c.h }

// ServerAddress returns the fixed peer address.
func (c *UDPClient) ServerAddress() addr.IPAddress { return c.server }

// Connect associates the descriptor with the server address so the kernel
// filters inbound datagrams and fills in the destination for sends.
func (c *UDPClient) Connect() error { return c.h.Connect(c.server) }

// Send sends data to the server. A short send is an error.
func (c *UDPClient) Send(data []byte) error {
	return c.h.send("udp send", data, c.server.Sockaddr())
}

// Receive reads one datagram of at most n bytes and verifies it came from
// the server.
func (c *UDPClient) Receive(n int) ([]byte, error) {
	data, from, err := recvFrom(c.h, "udp receive", n)
	if err != nil {
		return nil, err
	}
	if !from.Equal(c.server) {
		logger.WithFields(logrus.Fields{
			"function": "UDPClient.Receive",
			"sender":   from.String(),
			"expected": c.server.String(),
		}).Warn("dropping datagram from unexpected sender")
		return nil, api.UnexpectedSender("udp receive", from, c.server)
	}
	return data, nil
}

// Close releases the descriptor.
func (c *UDPClient) Close() error { return c.h.Close() }

func recvFrom(h *Handle, op string, n int) ([]byte, addr.IPAddress, error) {
	fd, err := h.live(op)
	if err != nil {
		return nil, addr.IPAddress{}, err
	}
	if n < 0 {
		return nil, addr.IPAddress{}, api.Internal(op, "negative read size")
	}
	buf := make([]byte, n)
	got, sa, err := unix.Recvfrom(fd, buf, 0)
	if err != nil {
		return nil, addr.IPAddress{}, api.OSError(op, err)
	}
	from, err := addr.FromSockaddr(sa)
	if err != nil {
		return nil, addr.IPAddress{}, api.Internal(op, "unresolvable sender: "+err.Error())
	}
	return buf[:got], from, nil
}
