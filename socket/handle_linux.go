//go:build linux

// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

package socket

import (
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-sock/addr"
	"github.com/momentics/hioload-sock/api"
)

// Transport is the socket's transport protocol.
type Transport uint8

const (
	TCP Transport = iota + 1
	UDP
)

func (t Transport) String() string {
	if t == UDP {
		return "udp"
	}
	return "tcp"
}

func (t Transport) sockType() int {
	if t == UDP {
		return unix.SOCK_DGRAM
	}
	return unix.SOCK_STREAM
}

// Handle owns exactly one OS socket descriptor.
type Handle struct {
	fd        int
	family    addr.Family
	transport Transport
	closed    atomic.Bool
	noSigPipe atomic.Bool
}

// NewHandle issues socket(2) for the family and transport.
func NewHandle(family addr.Family, transport Transport) (*Handle, error) {
	fd, err := unix.Socket(family.Domain(), transport.sockType()|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		logger.WithFields(logrus.Fields{
			"function":  "NewHandle",
			"family":    family,
			"transport": transport,
			"error":     err.Error(),
		}).Error("socket creation failed")
		return nil, api.OSError("socket", err)
	}
	return wrapFD(fd, family, transport), nil
}

func wrapFD(fd int, family addr.Family, transport Transport) *Handle {
	return &Handle{fd: fd, family: family, transport: transport}
}

// FD returns the descriptor. It stays valid only until Close.
func (h *Handle) FD() int { return h.fd }

// Family returns the declared address family.
func (h *Handle) Family() addr.Family { return h.family }

// Transport returns the declared transport.
func (h *Handle) Transport() Transport { return h.transport }

// Closed reports whether Close has been called.
func (h *Handle) Closed() bool { return h.closed.Load() }

// live returns the descriptor or a closed-resource error.
func (h *Handle) live(op string) (int, error) {
	if h.closed.Load() {
		return -1, api.Closed(op)
	}
	return h.fd, nil
}

// SetOption applies o to the descriptor.
func (h *Handle) SetOption(o Option) error {
	fd, err := h.live("setsockopt")
	if err != nil {
		return err
	}
	if err := o.validate(); err != nil {
		return err
	}
	switch o.Kind {
	case IgnoreBrokenPipe:
		// Linux has no SO_NOSIGPIPE; writes carry MSG_NOSIGNAL instead.
		h.noSigPipe.Store(o.Flag)
		return nil
	case ReceiveTimeout:
		tv := unix.NsecToTimeval(o.Timeout.Nanoseconds())
		if err := unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
			return api.OSError("setsockopt "+o.Kind.String(), err)
		}
		return nil
	}
	name, ok := optionName(o.Kind)
	if !ok {
		return api.Internal("setsockopt", "unknown option "+o.Kind.String())
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, name, int(o.raw())); err != nil {
		return api.OSError("setsockopt "+o.Kind.String(), err)
	}
	logger.WithFields(logrus.Fields{
		"function": "Handle.SetOption",
		"fd":       fd,
		"option":   o.String(),
	}).Debug("socket option applied")
	return nil
}

// GetOption reads the current value of kind. Buffer sizes reflect any
// rounding the kernel applied.
func (h *Handle) GetOption(kind OptionKind) (Option, error) {
	fd, err := h.live("getsockopt")
	if err != nil {
		return Option{}, err
	}
	switch kind {
	case IgnoreBrokenPipe:
		return Option{Kind: kind, Flag: h.noSigPipe.Load()}, nil
	case ReceiveTimeout:
		tv, err := unix.GetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO)
		if err != nil {
			return Option{}, api.OSError("getsockopt "+kind.String(), err)
		}
		return Option{Kind: kind, Timeout: time.Duration(tv.Nano())}, nil
	}
	name, ok := optionName(kind)
	if !ok {
		return Option{}, api.Internal("getsockopt", "unknown option "+kind.String())
	}
	v, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, name)
	if err != nil {
		return Option{}, api.OSError("getsockopt "+kind.String(), err)
	}
	return fromRaw(kind, int32(v)), nil
}

func optionName(kind OptionKind) (int, bool) {
	switch kind {
	case SendBufferSize:
		return unix.SO_SNDBUF, true
	case ReceiveBufferSize:
		return unix.SO_RCVBUF, true
	case ReuseAddress:
		return unix.SO_REUSEADDR, true
	case KeepAlive:
		return unix.SO_KEEPALIVE, true
	}
	return 0, false
}

// SetNonBlocking toggles O_NONBLOCK. Failures are logged and returned.
func (h *Handle) SetNonBlocking(on bool) error {
	fd, err := h.live("fcntl")
	if err != nil {
		return err
	}
	if err := unix.SetNonblock(fd, on); err != nil {
		logger.WithFields(logrus.Fields{
			"function": "Handle.SetNonBlocking",
			"fd":       fd,
			"error":    err.Error(),
		}).Warn("failed to change blocking mode")
		return api.OSError("fcntl O_NONBLOCK", err)
	}
	return nil
}

// NonBlocking reports whether O_NONBLOCK is set.
func (h *Handle) NonBlocking() (bool, error) {
	fd, err := h.live("fcntl")
	if err != nil {
		return false, err
	}
	flags, err := unix.FcntlInt(uintptr(fd), unix.F_GETFL, 0)
	if err != nil {
		return false, api.OSError("fcntl F_GETFL", err)
	}
	return flags&unix.O_NONBLOCK != 0, nil
}

// Bind binds the descriptor to a.
func (h *Handle) Bind(a addr.IPAddress) error {
	fd, err := h.live("bind")
	if err != nil {
		return err
	}
	if a.Type() != h.family {
		return api.Internal("bind", "address family "+a.Type().String()+" does not match socket family "+h.family.String())
	}
	if err := unix.Bind(fd, a.Sockaddr()); err != nil {
		return api.OSError("bind", err).WithContext("address", a.String())
	}
	return nil
}

// Connect connects the descriptor to a.
func (h *Handle) Connect(a addr.IPAddress) error {
	fd, err := h.live("connect")
	if err != nil {
		return err
	}
	if a.Type() != h.family {
		return api.Internal("connect", "address family "+a.Type().String()+" does not match socket family "+h.family.String())
	}
	if err := unix.Connect(fd, a.Sockaddr()); err != nil {
		return api.OSError("connect", err).WithContext("address", a.String())
	}
	return nil
}

// LocalAddress returns the address the descriptor is bound to.
func (h *Handle) LocalAddress() (addr.IPAddress, error) {
	fd, err := h.live("getsockname")
	if err != nil {
		return addr.IPAddress{}, err
	}
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return addr.IPAddress{}, api.OSError("getsockname", err)
	}
	return addr.FromSockaddr(sa)
}

// PendingError reads and clears SO_ERROR. It returns nil when no error is pending.
func (h *Handle) PendingError() error {
	fd, err := h.live("getsockopt")
	if err != nil {
		return err
	}
	v, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return api.OSError("getsockopt SO_ERROR", err)
	}
	if v != 0 {
		return api.OSError("socket error", unix.Errno(v))
	}
	return nil
}

// send writes p in one call and treats a short count as failure.
func (h *Handle) send(op string, p []byte, to unix.Sockaddr) error {
	fd, err := h.live(op)
	if err != nil {
		return err
	}
	flags := 0
	if h.noSigPipe.Load() {
		flags |= unix.MSG_NOSIGNAL
	}
	n, err := unix.SendmsgN(fd, p, nil, to, flags)
	if err != nil {
		return api.OSError(op, err)
	}
	if n == 0 || n < len(p) {
		return api.ShortTransfer(op, n, len(p))
	}
	return nil
}

// Close releases the descriptor exactly once. The handle is marked closed
// even when close(2) reports an error; that error is still returned.
func (h *Handle) Close() error {
	if !h.closed.CompareAndSwap(false, true) {
		return api.Closed("close")
	}
	if err := unix.Close(h.fd); err != nil {
		return api.OSError("close", err)
	}
	return nil
}
