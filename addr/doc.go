// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package addr canonicalizes raw IPv4/IPv6 socket-address structures into
// comparable, hashable IPAddress values rendered as "ip:port".
//
// Raw structures follow the Linux sockaddr_in / sockaddr_in6 layout and are
// kept as fixed-size byte arrays; they are encoded and decoded by explicit
// family-aware functions, never by reinterpreting memory.
package addr
