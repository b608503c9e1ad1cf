package models

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInFlight          = errors.New("operation is in flight")
	ErrDuplicate         = errors.New("duplicate record")
	ErrNothingToTransfer = errors.New("no commission pending transfer")
)

// ValidationError rejects bad input synchronously; it is never queued.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	msg := "validation failed"
	if e.Field != "" {
		msg += " on " + e.Field
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ValidationError) Unwrap() error { return e.Err }

// InvalidTransitionError is an integrity fault: the caller asked for a state
// change the transition table forbids.
type InvalidTransitionError struct {
	EntryID string
	From    EntryState
	To      EntryState
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("entry %s: invalid transition %s -> %s", e.EntryID, e.From, e.To)
}

// TransientGatewayError covers timeouts, 5xx responses, open circuits and
// lost connectivity. The operation is retried per the backoff policy.
type TransientGatewayError struct {
	Op  string
	Err error
}

func (e *TransientGatewayError) Error() string {
	if e.Op == "" {
		return "gateway unavailable: " + e.Err.Error()
	}
	return fmt.Sprintf("gateway %s unavailable: %v", e.Op, e.Err)
}

func (e *TransientGatewayError) Unwrap() error { return e.Err }

// DefinitiveGatewayError is a rejection by the gateway. It is not retried.
type DefinitiveGatewayError struct {
	Reason string
	Code   string
}

func (e *DefinitiveGatewayError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("gateway rejected operation (%s): %s", e.Code, e.Reason)
	}
	return "gateway rejected operation: " + e.Reason
}

// ReconciliationConflict records disagreement between two definitive
// outcomes for the same idempotency key. It lands in the review set.
type ReconciliationConflict struct {
	EntryID        string
	IdempotencyKey string
	Local          EntryState
	Remote         Outcome
	Detail         string
}

func (e *ReconciliationConflict) Error() string {
	return fmt.Sprintf("entry %s: local state %s disagrees with remote outcome %s: %s",
		e.EntryID, e.Local, e.Remote, e.Detail)
}

func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

func IsTransient(err error) bool {
	var t *TransientGatewayError
	return errors.As(err, &t)
}

func IsDefinitive(err error) bool {
	var d *DefinitiveGatewayError
	return errors.As(err, &d)
}

func IsInvalidTransition(err error) bool {
	var t *InvalidTransitionError
	return errors.As(err, &t)
}
