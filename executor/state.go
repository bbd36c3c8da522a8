package executor

import "fmt"

// State is the phase a simulator is in.
type State int

const (
	StateIdle State = iota
	StatePreCheck
	StateRejected
	StateExecuting
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePreCheck:
		return "pre-check"
	case StateRejected:
		return "rejected"
	case StateExecuting:
		return "executing"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}
