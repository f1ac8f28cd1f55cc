package callflow

import (
	"errors"
	"fmt"
)

var (
	ErrAlreadySettled      = errors.New("callflow: continuation already settled")
	ErrContinuationPending = errors.New("callflow: continuation already pending")
	ErrNoPendingRequest    = errors.New("callflow: no markup request pending for call")
	ErrMissingCallID       = errors.New("callflow: callback carries no call id")
	ErrDuplicateSession    = errors.New("callflow: session already registered")
	ErrSessionClosed       = errors.New("callflow: session closed")
	ErrConcurrencyLimit    = errors.New("callflow: outbound concurrency limit reached")

	// errNotAwaiting marks a callback that found no script continuation to resume.
	errNotAwaiting = errors.New("callflow: script not awaiting")
)

// Validation reasons.
const (
	ReasonReserved    = "reserved for callback routing"
	ReasonUnsupported = "unsupported"
	ReasonRequired    = "required"
	ReasonAnswered    = "call already answered"
	ReasonEnded       = "call already ended"
)

// ValidationError is raised synchronously when script code asks for a verb,
// attribute or option the engine does not allow. Nothing has been sent or
// changed when it is returned.
type ValidationError struct {
	Verb   string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("callflow: %s: %s", e.Verb, e.Reason)
	}
	return fmt.Sprintf("callflow: %s %q: %s", e.Verb, e.Field, e.Reason)
}

// InvocationError wraps a failed request to the provider's REST API.
type InvocationError struct {
	Op  string
	Err error
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("callflow: %s call: %v", e.Op, e.Err)
}

func (e *InvocationError) Unwrap() error { return e.Err }

// CallEndedError rejects a pending script continuation when the far end hung
// up before the script reached a terminating action. Session is left readable.
type CallEndedError struct {
	Session *Session
}

func (e *CallEndedError) Error() string {
	if e.Session == nil {
		return "callflow: call ended prematurely"
	}
	return fmt.Sprintf("callflow: call %s ended prematurely", e.Session.ID())
}

// RoutingWarning describes a callback that could not be matched to a live
// session or a suspended script. It is acknowledged harmlessly and never
// reaches script code.
type RoutingWarning struct {
	Class  string
	CallID string
	Reason string
}

func (w *RoutingWarning) Error() string {
	return fmt.Sprintf("callflow: %s callback for %q: %s", w.Class, w.CallID, w.Reason)
}

// IsCallEnded reports whether err is (or wraps) a CallEndedError.
func IsCallEnded(err error) bool {
	var ended *CallEndedError
	return errors.As(err, &ended)
}
