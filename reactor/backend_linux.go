//go:build linux

// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

package reactor

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-sock/api"
	"github.com/momentics/hioload-sock/control"
)

// watchEntry is one descriptor of a watch-set snapshot. id changes whenever
// the descriptor is registered again, so a reused descriptor number is
// re-armed rather than mistaken for the old socket.
type watchEntry struct {
	fd int
	id uint64
}

// readiness is a backend-neutral ready event.
type readiness struct {
	fd       int
	readable bool
	hangup   bool
	failed   bool
}

// backend is the kernel readiness facility. It is only touched by the loop
// goroutine, apart from close after the loop has stopped.
type backend interface {
	// update installs the watch set used by subsequent wait calls. The
	// wake-up descriptor is always watched and is never part of set.
	update(set []watchEntry) error
	// wait blocks with no timeout until at least one descriptor is ready.
	// An interrupted wait returns (0, nil).
	wait(out []readiness) (int, error)
	close() error
}

func newBackend(name string, wakeFD, maxEvents int) (backend, error) {
	switch name {
	case control.BackendEpoll, "":
		return newEpollBackend(wakeFD, maxEvents)
	case control.BackendPoll:
		return newPollBackend(wakeFD), nil
	}
	return nil, fmt.Errorf("reactor: backend %q: %w", name, api.ErrNotSupported)
}

// epollBackend watches with level-triggered epoll.
type epollBackend struct {
	epfd   int
	events []unix.EpollEvent
	armed  map[int]uint64
}

const epollInterest = unix.EPOLLIN | unix.EPOLLRDHUP

func newEpollBackend(wakeFD, maxEvents int) (*epollBackend, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll create: %w", err)
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakeFD)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakeFD, &ev); err != nil {
		_ = unix.Close(epfd)
		return nil, fmt.Errorf("epoll ctl add wake-up: %w", err)
	}
	return &epollBackend{
		epfd:   epfd,
		events: make([]unix.EpollEvent, maxEvents),
		armed:  make(map[int]uint64),
	}, nil
}

func (b *epollBackend) update(set []watchEntry) error {
	want := make(map[int]uint64, len(set))
	for _, w := range set {
		want[w.fd] = w.id
	}
	for fd, id := range b.armed {
		if wid, ok := want[fd]; ok && wid == id {
			continue
		}
		// Closed descriptors have already left the epoll set.
		_ = unix.EpollCtl(b.epfd, unix.EPOLL_CTL_DEL, fd, nil)
		delete(b.armed, fd)
	}
	for fd, id := range want {
		if _, ok := b.armed[fd]; ok {
			continue
		}
		ev := unix.EpollEvent{Events: epollInterest, Fd: int32(fd)}
		if err := unix.EpollCtl(b.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
			if err == unix.EBADF {
				continue
			}
			return fmt.Errorf("epoll ctl add fd=%d: %w", fd, err)
		}
		b.armed[fd] = id
	}
	return nil
}

func (b *epollBackend) wait(out []readiness) (int, error) {
	limit := len(out)
	if limit > len(b.events) {
		limit = len(b.events)
	}
	n, err := unix.EpollWait(b.epfd, b.events[:limit], -1)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, fmt.Errorf("epoll wait: %w", err)
	}
	for i := 0; i < n; i++ {
		ev := b.events[i].Events
		out[i] = readiness{
			fd:       int(b.events[i].Fd),
			readable: ev&unix.EPOLLIN != 0,
			hangup:   ev&(unix.EPOLLRDHUP|unix.EPOLLHUP) != 0,
			failed:   ev&unix.EPOLLERR != 0,
		}
	}
	return n, nil
}

func (b *epollBackend) close() error {
	return unix.Close(b.epfd)
}

// pollBackend rebuilds a pollfd array from each snapshot and calls poll(2).
type pollBackend struct {
	fds []unix.PollFd
}

const pollInterest = unix.POLLIN | unix.POLLRDHUP

func newPollBackend(wakeFD int) *pollBackend {
	return &pollBackend{fds: []unix.PollFd{{Fd: int32(wakeFD), Events: unix.POLLIN}}}
}

func (b *pollBackend) update(set []watchEntry) error {
	fds := b.fds[:1]
	for _, w := range set {
		fds = append(fds, unix.PollFd{Fd: int32(w.fd), Events: pollInterest})
	}
	b.fds = fds
	return nil
}

func (b *pollBackend) wait(out []readiness) (int, error) {
	for i := range b.fds {
		b.fds[i].Revents = 0
	}
	if _, err := unix.Poll(b.fds, -1); err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, fmt.Errorf("poll: %w", err)
	}
	n := 0
	for _, p := range b.fds {
		if p.Revents == 0 || n == len(out) {
			continue
		}
		out[n] = readiness{
			fd:       int(p.Fd),
			readable: p.Revents&unix.POLLIN != 0,
			hangup:   p.Revents&(unix.POLLRDHUP|unix.POLLHUP) != 0,
			failed:   p.Revents&(unix.POLLERR|unix.POLLNVAL) != 0,
		}
		n++
	}
	return n, nil
}

func (b *pollBackend) close() error { return nil }
