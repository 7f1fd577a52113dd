// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

package addr

import (
	"encoding/binary"
	"fmt"

	"github.com/spaolacci/murmur3"
)

// Linux ABI values for sa_family.
const (
	afInet  = 2
	afInet6 = 10
)

// Sizes of struct sockaddr_in and struct sockaddr_in6.
const (
	SizeIPv4 = 16
	SizeIPv6 = 28
)

// Family is the address family of a raw socket address.
type Family uint8

const (
	IPv4 Family = iota + 1
	IPv6
)

// Size returns the byte size of the raw structure for the family.
func (f Family) Size() int {
	switch f {
	case IPv4:
		return SizeIPv4
	case IPv6:
		return SizeIPv6
	}
	return 0
}

func (f Family) String() string {
	switch f {
	case IPv4:
		return "IPv4"
	case IPv6:
		return "IPv6"
	default:
		return fmt.Sprintf("Family(%d)", uint8(f))
	}
}

// familyForSize infers the family from a raw structure length.
func familyForSize(n int) (Family, bool) {
	switch n {
	case SizeIPv4:
		return IPv4, true
	case SizeIPv6:
		return IPv6, true
	}
	return 0, false
}

// RawAddress holds the exact bytes of a sockaddr_in or sockaddr_in6.
// Only the array matching family is populated; the other stays zero, so the
// struct compares field by field with == and can key a map.
type RawAddress struct {
	family Family
	v4     [SizeIPv4]byte
	v6     [SizeIPv6]byte
}

// Layout (offsets in bytes):
//
//	sockaddr_in:  family[0:2] host order, port[2:4] network order, addr[4:8], zero[8:16]
//	sockaddr_in6: family[0:2] host order, port[2:4] network order, flowinfo[4:8],
//	              addr[8:24], scope_id[24:28] host order

func encodeIPv4(ip [4]byte, port uint16) RawAddress {
	r := RawAddress{family: IPv4}
	binary.NativeEndian.PutUint16(r.v4[0:2], afInet)
	binary.BigEndian.PutUint16(r.v4[2:4], port)
	copy(r.v4[4:8], ip[:])
	return r
}

func encodeIPv6(ip [16]byte, port uint16, flowinfo, scope uint32) RawAddress {
	r := RawAddress{family: IPv6}
	binary.NativeEndian.PutUint16(r.v6[0:2], afInet6)
	binary.BigEndian.PutUint16(r.v6[2:4], port)
	binary.BigEndian.PutUint32(r.v6[4:8], flowinfo)
	copy(r.v6[8:24], ip[:])
	binary.NativeEndian.PutUint32(r.v6[24:28], scope)
	return r
}

// decodeRaw validates b as a raw structure and copies it into a RawAddress.
func decodeRaw(b []byte) (RawAddress, error) {
	fam, ok := familyForSize(len(b))
	if !ok {
		return RawAddress{}, fmt.Errorf("raw address length %d matches neither IPv4 (%d) nor IPv6 (%d)", len(b), SizeIPv4, SizeIPv6)
	}
	tag := binary.NativeEndian.Uint16(b[0:2])
	r := RawAddress{family: fam}
	switch fam {
	case IPv4:
		if tag != afInet {
			return RawAddress{}, fmt.Errorf("raw address family %d does not match IPv4 length", tag)
		}
		copy(r.v4[:], b)
	case IPv6:
		if tag != afInet6 {
			return RawAddress{}, fmt.Errorf("raw address family %d does not match IPv6 length", tag)
		}
		copy(r.v6[:], b)
	}
	return r, nil
}

// Family returns the tag of the raw structure.
func (r RawAddress) Family() Family { return r.family }

// Len returns the size of the populated structure.
func (r RawAddress) Len() int { return r.family.Size() }

// Bytes returns a copy of the raw structure.
func (r RawAddress) Bytes() []byte {
	switch r.family {
	case IPv4:
		b := r.v4
		return b[:]
	case IPv6:
		b := r.v6
		return b[:]
	}
	return nil
}

// Port returns the port in host order.
func (r RawAddress) Port() uint16 {
	switch r.family {
	case IPv4:
		return binary.BigEndian.Uint16(r.v4[2:4])
	case IPv6:
		return binary.BigEndian.Uint16(r.v6[2:4])
	}
	return 0
}

// addrBytes returns the numeric address portion.
func (r RawAddress) addrBytes() []byte {
	switch r.family {
	case IPv4:
		return r.v4[4:8]
	case IPv6:
		return r.v6[8:24]
	}
	return nil
}

// FlowInfo returns the IPv6 flow information, zero for IPv4.
func (r RawAddress) FlowInfo() uint32 {
	if r.family != IPv6 {
		return 0
	}
	return binary.BigEndian.Uint32(r.v6[4:8])
}

// ScopeID returns the IPv6 scope identifier, zero for IPv4.
func (r RawAddress) ScopeID() uint32 {
	if r.family != IPv6 {
		return 0
	}
	return binary.NativeEndian.Uint32(r.v6[24:28])
}

// Equal compares the raw structures byte for byte.
func (r RawAddress) Equal(o RawAddress) bool { return r == o }

// Hash is murmur3 over the numeric address followed by the port in network
// order. It does not depend on string formatting or process state.
func (r RawAddress) Hash() uint64 {
	a := r.addrBytes()
	buf := make([]byte, 0, len(a)+2)
	buf = append(buf, a...)
	buf = binary.BigEndian.AppendUint16(buf, r.Port())
	return murmur3.Sum64(buf)
}
