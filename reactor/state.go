// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

package reactor

import "fmt"

// State is the lifecycle of the wait loop.
type State uint8

const (
	Stopped State = iota
	Running
	Stopping
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}
