//go:build linux

// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

package addr

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-sock/api"
)

// FromSockaddr converts a kernel-returned unix.Sockaddr through the raw
// encoding, so accepted peers resolve exactly like FromRawBytes input.
func FromSockaddr(sa unix.Sockaddr) (IPAddress, error) {
	switch s := sa.(type) {
	case *unix.SockaddrInet4:
		return FromRaw(encodeIPv4(s.Addr, uint16(s.Port)))
	case *unix.SockaddrInet6:
		return FromRaw(encodeIPv6(s.Addr, uint16(s.Port), 0, s.ZoneId))
	case nil:
		return IPAddress{}, errors.Wrap(api.ErrInvalidAddress, "nil sockaddr")
	default:
		return IPAddress{}, errors.Wrapf(api.ErrInvalidAddress, "unsupported sockaddr %T", sa)
	}
}

// Sockaddr returns the unix.Sockaddr used by bind, connect and sendto.
func (a IPAddress) Sockaddr() unix.Sockaddr {
	switch a.raw.family {
	case IPv4:
		sa := &unix.SockaddrInet4{Port: int(a.Port())}
		copy(sa.Addr[:], a.raw.addrBytes())
		return sa
	case IPv6:
		sa := &unix.SockaddrInet6{Port: int(a.Port()), ZoneId: a.raw.ScopeID()}
		copy(sa.Addr[:], a.raw.addrBytes())
		return sa
	}
	return nil
}

// Domain returns the AF_* constant for the family.
func (f Family) Domain() int {
	if f == IPv6 {
		return unix.AF_INET6
	}
	return unix.AF_INET
}
