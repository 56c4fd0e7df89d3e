package reset

import "fmt"

// State is the phase of the reset session.
type State int

const (
	Idle State = iota
	Armed
	Running
	// Closed is entered on Shutdown and never left.
	Closed
)

var stateToString = map[State]string{
	Idle:    "idle",
	Armed:   "armed",
	Running: "running",
	Closed:  "closed",
}

func (s State) String() string {
	if str, ok := stateToString[s]; ok {
		return str
	}
	return fmt.Sprintf("unknown_state(%d)", s)
}

// Status is a point-in-time view of the session for the status command.
type Status struct {
	State    State
	Identity string
	Slot     int
	// Holder is the operation currently holding the guard, if any.
	Holder string
	// Abortable is false once a running cycle is past its countdown.
	Abortable bool
}
