package poller

// State is a step of the session state machine:
//
//	Idle -> Submitted -> Polling -> Done
//	                  \          \-> Error
//	                   \-> Error
//
// Any non-terminal state moves to Canceled when the session context ends.
type State int

// Session states.
const (
	StateIdle State = iota
	StateSubmitted
	StatePolling
	StateDone
	StateError
	StateCanceled
)

// Terminal reports whether the state is final.
func (s State) Terminal() bool {
	return s == StateDone || s == StateError || s == StateCanceled
}

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSubmitted:
		return "submitted"
	case StatePolling:
		return "polling"
	case StateDone:
		return "done"
	case StateError:
		return "error"
	case StateCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}
