package stream

import (
	"fmt"
	"time"
)

// State is the lifecycle state of a Connection.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
	Failed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Active reports whether the connection is working towards or holding a
// session. Connect is a no-op in these states.
func (s State) Active() bool {
	return s == Connecting || s == Connected || s == Reconnecting
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Transition describes one state change.
type Transition struct {
	From State
	To   State
	Err  error // cause, for Reconnecting and Failed
	At   time.Time
}
