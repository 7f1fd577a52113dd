// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor multiplexes readiness for TCP server and client sockets on
// one dedicated goroutine and dispatches it to a Delegate.
//
// Registration (AddServer, AddClient, Remove) mutates the registration table
// under the reactor lock, marks the watch set dirty and then rings a wake-up
// socket pair so a blocked wait call is re-issued with the new set. The wait
// loop snapshots the set under the same lock before each wait. Delegate
// methods run synchronously on the loop goroutine: a slow callback delays
// every other socket.
//
// Two kernel backends are available, epoll (default) and poll(2); both watch
// for input and peer hang-up only.
package reactor
