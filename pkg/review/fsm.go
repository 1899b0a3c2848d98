package review

import "errors"

// Delivery states for a review notice.
const (
	StatePending      = "PENDING"
	StateDispatched   = "DISPATCHED"
	StateAcknowledged = "ACKNOWLEDGED"
	StateFailed       = "FAILED"
)

var ErrInvalidTransition = errors.New("review: invalid delivery transition")

type Event string

const (
	EventDispatch Event = "DISPATCH"
	EventAck      Event = "ACK"
	EventFail     Event = "FAIL"
	EventRetry    Event = "RETRY"
)

func CanTransition(from, to string) bool {
	switch from {
	case StatePending:
		return to == StateDispatched
	case StateDispatched:
		return to == StateAcknowledged || to == StateFailed
	case StateFailed:
		// Failures are retried, never dropped.
		return to == StateDispatched
	default:
		return false
	}
}

func Transition(from, to string) (string, error) {
	if !CanTransition(from, to) {
		return from, ErrInvalidTransition
	}
	return to, nil
}

func Next(from string, event Event) (string, error) {
	switch event {
	case EventDispatch, EventRetry:
		return Transition(from, StateDispatched)
	case EventAck:
		return Transition(from, StateAcknowledged)
	case EventFail:
		return Transition(from, StateFailed)
	default:
		return from, ErrInvalidTransition
	}
}

func IsTerminal(state string) bool {
	return state == StateAcknowledged
}
