package aaa

import (
	"errors"
	"fmt"
)

var (
	ErrExhausted          = errors.New("aaa: correlation store exhausted")
	ErrNotFound           = errors.New("aaa: correlation record not found")
	ErrStaleRecord        = errors.New("aaa: stale correlation record")
	ErrEmptyKey           = errors.New("aaa: empty exchange key")
	ErrMissingContext     = errors.New("aaa: missing session context")
	ErrMissingDestination = errors.New("aaa: missing destination host")
	ErrMissingOutcome     = errors.New("aaa: answer missing outcome avp")
	ErrRecordExpired      = errors.New("aaa: correlation record expired")
	ErrCorrelatorStopped  = errors.New("aaa: correlator stopped")
)

type Reason string

const (
	ReasonMissingContext     Reason = "missing_context"
	ReasonMissingDestination Reason = "missing_destination"
	ReasonTransport          Reason = "transport"
)

// SendError is returned by the sender when a request was not handed to the
// transport, or the transport rejected it synchronously.
type SendError struct {
	Kind    RequestKind
	Session SessionID
	Reason  Reason
	Err     error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("aaa: %s request session=%s %s: %v", e.Kind, e.Session, e.Reason, e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}
