// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

package socket

import "fmt"

// ModeState is the tag of a StreamMode.
type ModeState uint8

const (
	ModeUnbound ModeState = iota
	ModeListening
	ModeClosed
)

// StreamMode is the TCP server lifecycle: Unbound(port) -> Listening(port),
// with Closed reachable from either.
type StreamMode struct {
	State ModeState
	Port  uint16
}

func Unbound(port uint16) StreamMode { return StreamMode{State: ModeUnbound, Port: port} }
func Listening(port uint16) StreamMode { return StreamMode{State: ModeListening, Port: port} }
func ClosedMode() StreamMode { return StreamMode{State: ModeClosed} }

func (m StreamMode) String() string {
	switch m.State {
	case ModeUnbound:
		return fmt.Sprintf("unbound(%d)", m.Port)
	case ModeListening:
		return fmt.Sprintf("listening(%d)", m.Port)
	case ModeClosed:
		return "closed"
	default:
		return fmt.Sprintf("StreamMode(%d)", m.State)
	}
}
