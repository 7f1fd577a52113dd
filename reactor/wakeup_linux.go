//go:build linux

// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

package reactor

import (
	"fmt"

	"go.uber.org/multierr"
	"golang.org/x/sys/unix"
)

// wakeup is a connected pair of local sockets used as a doorbell: one byte
// written to w makes r readable and interrupts the loop's wait call.
type wakeup struct {
	r, w int
}

func newWakeup() (*wakeup, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("wake-up socketpair: %w", err)
	}
	return &wakeup{r: fds[0], w: fds[1]}, nil
}

// signal rings the doorbell. A full buffer already guarantees a wake-up, so
// EAGAIN is not an error.
func (wk *wakeup) signal() error {
	_, err := unix.Write(wk.w, []byte{1})
	if err != nil && err != unix.EAGAIN {
		return fmt.Errorf("wake-up write: %w", err)
	}
	return nil
}

// drain consumes every pending doorbell byte so that several signals collapse
// into a single re-evaluation.
func (wk *wakeup) drain() (int, error) {
	var buf [64]byte
	total := 0
	for {
		n, err := unix.Read(wk.r, buf[:])
		if n > 0 {
			total += n
		}
		if err == unix.EAGAIN {
			return total, nil
		}
		if err != nil {
			return total, fmt.Errorf("wake-up read: %w", err)
		}
		if n < len(buf) {
			return total, nil
		}
	}
}

func (wk *wakeup) close() error {
	return multierr.Combine(unix.Close(wk.r), unix.Close(wk.w))
}
