package activity

// State is the classified activity of a monitored session.
type State string

const (
	// StateIdle means the agent finished its work and is waiting for the user.
	StateIdle State = "idle"
	// StateProcessing means the agent is actively working (busy glyph visible).
	StateProcessing State = "processing"
	// StateInputNeeded means the agent is blocked on an interactive prompt.
	StateInputNeeded State = "input_needed"
	// StateUnknown means the capture gave no usable signal.
	StateUnknown State = "unknown"
)

// Valid reports whether s is one of the four defined states.
func (s State) Valid() bool {
	switch s {
	case StateIdle, StateProcessing, StateInputNeeded, StateUnknown:
		return true
	}
	return false
}

// Resolve applies the sticky rule: an inconclusive classification keeps the
// previous known state instead of manufacturing a spurious transition.
func Resolve(prev, classified State) State {
	if classified != StateUnknown {
		return classified
	}
	if prev.Valid() && prev != StateUnknown {
		return prev
	}
	return StateUnknown
}

// Transition is one observed state change for a session, reported per scan cycle.
type Transition struct {
	SessionID string `json:"session_id"`
	Previous  State  `json:"previous"`
	Current   State  `json:"current"`
}
