// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

package socket

import (
	"fmt"
	"math"
	"time"

	"github.com/momentics/hioload-sock/api"
)

// OptionKind enumerates the supported socket options.
type OptionKind uint8

const (
	SendBufferSize OptionKind = iota + 1
	ReceiveBufferSize
	ReuseAddress
	KeepAlive
	ReceiveTimeout
	IgnoreBrokenPipe
)

func (k OptionKind) String() string {
	switch k {
	case SendBufferSize:
		return "send-buffer-size"
	case ReceiveBufferSize:
		return "receive-buffer-size"
	case ReuseAddress:
		return "reuse-address"
	case KeepAlive:
		return "keep-alive"
	case ReceiveTimeout:
		return "receive-timeout"
	case IgnoreBrokenPipe:
		return "ignore-broken-pipe-signal"
	default:
		return fmt.Sprintf("OptionKind(%d)", uint8(k))
	}
}

// Option is a socket option together with its typed value. Size options use
// Size, flag options use Flag, and ReceiveTimeout uses Timeout.
type Option struct {
	Kind    OptionKind
	Size    int
	Flag    bool
	Timeout time.Duration
}

func SendBuffer(n int) Option { return Option{Kind: SendBufferSize, Size: n} }
func ReceiveBuffer(n int) Option { return Option{Kind: ReceiveBufferSize, Size: n} }
func Reuse(on bool) Option { return Option{Kind: ReuseAddress, Flag: on} }
func KeepAliveOption(on bool) Option { return Option{Kind: KeepAlive, Flag: on} }
func RecvTimeout(d time.Duration) Option { return Option{Kind: ReceiveTimeout, Timeout: d} }
func NoSigPipe(on bool) Option { return Option{Kind: IgnoreBrokenPipe, Flag: on} }

// validate rejects values that do not fit the kernel's int option.
func (o Option) validate() error {
	switch o.Kind {
	case SendBufferSize, ReceiveBufferSize:
		if o.Size < 0 || o.Size > math.MaxInt32 {
			return api.Internal("setsockopt "+o.Kind.String(), fmt.Sprintf("size %d out of range", o.Size))
		}
	case ReceiveTimeout:
		if o.Timeout < 0 {
			return api.Internal("setsockopt "+o.Kind.String(), fmt.Sprintf("negative timeout %v", o.Timeout))
		}
	}
	return nil
}

// raw returns the 32-bit value handed to setsockopt for int-valued options.
func (o Option) raw() int32 {
	switch o.Kind {
	case SendBufferSize, ReceiveBufferSize:
		return int32(o.Size)
	case ReuseAddress, KeepAlive, IgnoreBrokenPipe:
		if o.Flag {
			return 1
		}
		return 0
	case ReceiveTimeout:
		return int32(o.Timeout / time.Millisecond)
	}
	return 0
}

// fromRaw rebuilds the logical option from a value read back by getsockopt.
func fromRaw(kind OptionKind, v int32) Option {
	switch kind {
	case SendBufferSize, ReceiveBufferSize:
		return Option{Kind: kind, Size: int(v)}
	case ReceiveTimeout:
		return Option{Kind: kind, Timeout: time.Duration(v) * time.Millisecond}
	default:
		return Option{Kind: kind, Flag: v != 0}
	}
}

func (o Option) String() string {
	switch o.Kind {
	case SendBufferSize, ReceiveBufferSize:
		return fmt.Sprintf("%v=%d", o.Kind, o.Size)
	case ReceiveTimeout:
		return fmt.Sprintf("%v=%v", o.Kind, o.Timeout)
	default:
		return fmt.Sprintf("%v=%t", o.Kind, o.Flag)
	}
}
