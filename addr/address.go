// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

package addr

import (
	"net/netip"
	"strconv"

	"github.com/pkg/errors"

	"github.com/momentics/hioload-sock/api"
)

// IPAddress is an immutable, validated socket address. Its family always
// agrees with the tag of the underlying RawAddress.
type IPAddress struct {
	raw  RawAddress
	host string
}

// Parse builds an address from a numeric IPv6 or IPv4 literal. The IPv6 form
// is tried first, so IPv4-mapped literals such as "::ffff:10.0.0.1" stay IPv6.
// Zones, hostnames and non-canonical IPv4 forms are rejected.
func Parse(ip string, port uint16) (IPAddress, error) {
	a, err := netip.ParseAddr(ip)
	if err != nil || a.Zone() != "" {
		return IPAddress{}, errors.Wrapf(api.ErrInvalidAddress, "parse %q", ip)
	}
	if a.Is4() {
		return FromRaw(encodeIPv4(a.As4(), port))
	}
	return FromRaw(encodeIPv6(a.As16(), port, 0, 0))
}

// MustParse is Parse that panics on error. Intended for literals in tests and
// examples.
func MustParse(ip string, port uint16) IPAddress {
	a, err := Parse(ip, port)
	if err != nil {
		panic(err)
	}
	return a
}

// FromRawBytes infers the family from len(b), which must equal SizeIPv4 or
// SizeIPv6 exactly, and resolves the numeric host and port.
func FromRawBytes(b []byte) (IPAddress, error) {
	r, err := decodeRaw(b)
	if err != nil {
		return IPAddress{}, errors.Wrap(api.ErrInvalidAddress, err.Error())
	}
	return FromRaw(r)
}

// FromRaw resolves a RawAddress into an IPAddress. Only numeric formatting is
// performed; there is no name lookup.
func FromRaw(r RawAddress) (IPAddress, error) {
	host, ok := numericHost(r)
	if !ok {
		return IPAddress{}, errors.Wrapf(api.ErrInvalidAddress, "unresolvable raw address (family %v)", r.family)
	}
	return IPAddress{raw: r, host: host}, nil
}

// numericHost renders the address part the way getnameinfo(NI_NUMERICHOST)
// does, with a numeric %scope suffix for scoped IPv6 addresses.
func numericHost(r RawAddress) (string, bool) {
	switch r.family {
	case IPv4:
		var b [4]byte
		copy(b[:], r.addrBytes())
		return netip.AddrFrom4(b).String(), true
	case IPv6:
		var b [16]byte
		copy(b[:], r.addrBytes())
		host := netip.AddrFrom16(b).String()
		if scope := r.ScopeID(); scope != 0 {
			host += "%" + strconv.FormatUint(uint64(scope), 10)
		}
		return host, true
	}
	return "", false
}

// Localhost returns the loopback address for the family.
func Localhost(port uint16, family Family) IPAddress {
	if family == IPv6 {
		return MustParse("::1", port)
	}
	return MustParse("127.0.0.1", port)
}

// Wildcard returns the unspecified address for the family.
func Wildcard(port uint16, family Family) IPAddress {
	if family == IPv6 {
		return MustParse("::", port)
	}
	return MustParse("0.0.0.0", port)
}

// Type returns the address family, derived from the raw tag.
func (a IPAddress) Type() Family { return a.raw.family }

// Raw returns the underlying raw structure.
func (a IPAddress) Raw() RawAddress { return a.raw }

// Host returns the canonical numeric host.
func (a IPAddress) Host() string { return a.host }

// Port returns the port in host order.
func (a IPAddress) Port() uint16 { return a.raw.Port() }

// IP returns the numeric address as a netip.Addr, without zone.
func (a IPAddress) IP() netip.Addr {
	switch a.raw.family {
	case IPv4:
		var b [4]byte
		copy(b[:], a.raw.addrBytes())
		return netip.AddrFrom4(b)
	case IPv6:
		var b [16]byte
		copy(b[:], a.raw.addrBytes())
		return netip.AddrFrom16(b)
	}
	return netip.Addr{}
}

// IsValid reports whether a was produced by a successful constructor.
func (a IPAddress) IsValid() bool { return a.raw.family != 0 }

// Equal compares the raw structures, not the rendered strings.
func (a IPAddress) Equal(o IPAddress) bool { return a.raw.Equal(o.raw) }

// Hash is stable across processes; see RawAddress.Hash.
func (a IPAddress) Hash() uint64 { return a.raw.Hash() }

// String renders "{numeric-ip}:{port}" without brackets, for both families.
func (a IPAddress) String() string {
	if !a.IsValid() {
		return "<invalid>"
	}
	return a.host + ":" + strconv.Itoa(int(a.Port()))
}
