//go:build linux

// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

package reactor

import "github.com/momentics/hioload-sock/socket"

// Delegate receives reactor notifications. Every method is invoked on the
// loop goroutine, never concurrently with another method of the same reactor.
type Delegate interface {
	// OnAccept delivers a connection accepted on a registered server. The
	// client is not registered; call AddClient to watch it.
	OnAccept(r *Reactor, server *socket.TCPServer, client *socket.TCPClient)

	// OnServerClosed reports that server is no longer watched. err is nil
	// for a hang-up and carries the OS error when accept failed.
	OnServerClosed(r *Reactor, server *socket.TCPServer, err error)

	// OnData reports that client is readable. The delegate does the reading.
	OnData(r *Reactor, client *socket.TCPClient, ctx any)

	// OnClientClosed reports that client is no longer watched. err is nil
	// when the peer closed cleanly.
	OnClientClosed(r *Reactor, client *socket.TCPClient, err error, ctx any)
}
