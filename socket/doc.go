// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package socket owns raw OS socket descriptors and layers typed TCP and UDP
// sockets on top of them.
//
// A Handle wraps exactly one descriptor and is closed exactly once. The typed
// sockets (UDPServer, UDPClient, TCPClient, TCPServer) share a Handle and add
// protocol-specific operations and, for TCPServer, the StreamMode state
// machine. Every failing system call is reported as an *api.Error carrying the
// errno captured at the failure point; nothing is retried.
package socket
