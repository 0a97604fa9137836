package engine

import (
	"errors"
	"fmt"
)

// ErrEmptyHistory is returned when an advance is attempted on a session with
// no messages; every session starts with the topic statement, so an empty
// transcript is an engine defect, not a routing case.
var ErrEmptyHistory = errors.New("session has no messages")

// ValidationError reports malformed input. It is rejected synchronously and
// never changes session state.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation: " + e.Reason
}

// ResponderFailure wraps an errored or timed-out responder invocation. The
// turn is not advanced and remains eligible for retry.
type ResponderFailure struct {
	Role Role
	Err  error
}

func (e *ResponderFailure) Error() string {
	return fmt.Sprintf("responder %s: %v", e.Role, e.Err)
}

func (e *ResponderFailure) Unwrap() error { return e.Err }

// ConcurrencyConflict means a second actor tried to advance a session whose
// lease is held. The caller must back off; it must never double-append.
type ConcurrencyConflict struct {
	SessionID string
}

func (e *ConcurrencyConflict) Error() string {
	return fmt.Sprintf("session %s is already being advanced", e.SessionID)
}

// WorkflowIntegrityError reports a planning workflow wedged in a state it
// cannot legally leave: a step with no bound handler or an illegal
// transition. It is surfaced to the human; the workflow parks.
type WorkflowIntegrityError struct {
	SessionID string
	Step      Step
	Reason    string
}

func (e *WorkflowIntegrityError) Error() string {
	return fmt.Sprintf("workflow %s at %s: %s", e.SessionID, e.Step, e.Reason)
}
