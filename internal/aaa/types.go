package aaa

import (
	"context"

	"github.com/danmuck/smfaaa/internal/protocol"
)

// SessionID is the lookup key of a local session. It never keeps the session
// alive.
type SessionID string

// TxnID correlates a local transaction waiting on an exchange.
type TxnID uint64

const NoTransaction TxnID = 0

// SessionContext is the subscriber data a request is built from.
type SessionContext struct {
	IMSI             string
	IMEI             string
	APN              string
	TAC              string
	CGI              string
	EUCGI            string
	DestinationHost  string
	DestinationRealm string
	PendingTxn       TxnID
}

// SessionDirectory resolves owners. SetAuthSucceeded reports false when the
// session no longer exists.
type SessionDirectory interface {
	SessionContext(id SessionID) (SessionContext, bool)
	SetAuthSucceeded(id SessionID, ok bool) bool
}

type EventKind uint8

const (
	EventAAAOutcome EventKind = iota + 1
)

func (k EventKind) String() string {
	switch k {
	case EventAAAOutcome:
		return "aaa_outcome"
	default:
		return "unknown"
	}
}

// Event tells the session manager an outcome is available. The receiver reads
// the session's authSucceeded flag.
type Event struct {
	Kind    EventKind
	Session SessionID
}

type EventSink interface {
	Emit(Event)
}

// Stack is the protocol collaborator the sender writes through.
type Stack interface {
	NewExchangeID() string
	Send(ctx context.Context, msg *protocol.Message, expectAnswer bool) error
}

type RequestKind uint8

const (
	RequestAuth RequestKind = iota + 1
	RequestTermination
)

func (k RequestKind) String() string {
	switch k {
	case RequestAuth:
		return "auth"
	case RequestTermination:
		return "term"
	default:
		return "unknown"
	}
}
