// Package supervisor drains a child process's output channels while the
// caller waits for it to exit.
package supervisor

// State is the lifecycle stage of one supervision session.
//
//	created -> launched -> finished | cancelled | timed_out
//
// The three right-hand states are terminal.
type State int

const (
	// StateCreated is the initial state; channels are captured, drains idle.
	StateCreated State = iota

	// StateLaunched indicates both drains are running.
	StateLaunched

	// StateFinished indicates both drains were joined after the process exited.
	StateFinished

	// StateCancelled indicates the drains were told to stop early.
	StateCancelled

	// StateTimedOut indicates a bounded wait expired and the process was killed.
	StateTimedOut
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateLaunched:
		return "launched"
	case StateFinished:
		return "finished"
	case StateCancelled:
		return "cancelled"
	case StateTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// IsActive returns true while the drains are running.
func (s State) IsActive() bool {
	return s == StateLaunched
}

// IsTerminal returns true if no further transition is possible.
func (s State) IsTerminal() bool {
	return s == StateFinished || s == StateCancelled || s == StateTimedOut
}

// canTransition reports whether from -> to is a legal move.
func canTransition(from, to State) bool {
	switch from {
	case StateCreated:
		return to == StateLaunched || to == StateCancelled
	case StateLaunched:
		return to.IsTerminal()
	default:
		return false
	}
}
