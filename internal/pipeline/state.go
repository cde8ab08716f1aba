package pipeline

import "fmt"

// State is where a run currently is
type State string

const (
	StateIdle        State = "IDLE"
	StateAcquiring   State = "ACQUIRING"
	StateConverting  State = "CONVERTING"
	StateCalibrating State = "CALIBRATING"
	StateQuantizing  State = "QUANTIZING"
	StatePublishing  State = "PUBLISHING"
	StateDone        State = "DONE"
	StateFailed      State = "FAILED"
)

// IsTerminal reports whether the state ends a run
func IsTerminal(s State) bool {
	return s == StateDone || s == StateFailed
}

func isAllowedTransition(from, to State) bool {
	if to == StateFailed {
		return !IsTerminal(from)
	}
	switch from {
	case StateIdle:
		return to == StateAcquiring
	case StateAcquiring:
		return to == StateConverting
	case StateConverting:
		return to == StateCalibrating || to == StateQuantizing
	case StateCalibrating:
		return to == StateQuantizing
	case StateQuantizing:
		// Publishing is skipped when uploads are disabled
		return to == StatePublishing || to == StateDone
	case StatePublishing:
		return to == StateDone
	default:
		return false
	}
}

// transition moves the run to the next state
func (p *Pipeline) transition(to State) error {
	from := p.state
	if !isAllowedTransition(from, to) {
		return fmt.Errorf("disallowed transition: %s -> %s", from, to)
	}
	p.state = to
	if p.OnTransition != nil {
		p.OnTransition(from, to)
	}
	return nil
}
