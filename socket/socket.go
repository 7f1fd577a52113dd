//go:build linux

// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

package socket

// Socket is the capability shared by every typed socket.
type Socket interface {
	Handle() *Handle
	Close() error
}

var (
	_ Socket = (*UDPServer)(nil)
	_ Socket = (*UDPClient)(nil)
	_ Socket = (*TCPClient)(nil)
	_ Socket = (*TCPServer)(nil)
)
