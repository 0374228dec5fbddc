// Package lifecycle implements the open/close/abort/fault state machine that
// every factory, listener and channel is built on.
package lifecycle

// State is the lifecycle state of an Object.
type State int32

const (
	Created State = iota
	Opening
	Opened
	Closing
	Closed
	Faulted
)

func (s State) String() string {
	switch s {
	case Created:
		return "Created"
	case Opening:
		return "Opening"
	case Opened:
		return "Opened"
	case Closing:
		return "Closing"
	case Closed:
		return "Closed"
	case Faulted:
		return "Faulted"
	}
	return "Unknown"
}

// Terminal reports whether no further transitions happen except Abort
// moving a Faulted object to Closed.
func (s State) Terminal() bool {
	return s == Closed || s == Faulted
}
