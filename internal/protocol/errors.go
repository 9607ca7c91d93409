package protocol

import "errors"

var (
	ErrNilMessage          = errors.New("protocol: nil message")
	ErrMissingSessionID    = errors.New("protocol: missing session-id")
	ErrMissingResultCode   = errors.New("protocol: missing result-code")
	ErrNotRequest          = errors.New("protocol: message is not a request")
	ErrApplicationMismatch = errors.New("protocol: application id mismatch")
)
