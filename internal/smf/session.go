package smf

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/smfaaa/internal/aaa"
)

type State uint8

const (
	StateWaitAuth State = iota + 1
	StateActive
	StateRejected
	StateReleased
)

func (s State) String() string {
	switch s {
	case StateWaitAuth:
		return "wait_auth"
	case StateActive:
		return "active"
	case StateRejected:
		return "rejected"
	case StateReleased:
		return "released"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Params is the subscriber data a session is established with.
type Params struct {
	IMSI             string `json:"imsi"`
	IMEI             string `json:"imei,omitempty"`
	APN              string `json:"apn,omitempty"`
	TAC              string `json:"tac,omitempty"`
	CGI              string `json:"cgi,omitempty"`
	EUCGI            string `json:"eucgi,omitempty"`
	DestinationHost  string `json:"destination_host,omitempty"`
	DestinationRealm string `json:"destination_realm,omitempty"`
}

// Session is one local subscriber session. authSucceeded is written by the
// correlation layer; state only by the manager's control loop.
type Session struct {
	ID        aaa.SessionID
	Params    Params
	CreatedAt time.Time

	authSucceeded atomic.Bool

	mu         sync.Mutex
	state      State
	pendingTxn aaa.TxnID
	updatedAt  time.Time
}

func newSession(id aaa.SessionID, p Params, txn aaa.TxnID, now time.Time) *Session {
	return &Session{
		ID:         id,
		Params:     p,
		CreatedAt:  now,
		state:      StateWaitAuth,
		pendingTxn: txn,
		updatedAt:  now,
	}
}

func (s *Session) AuthSucceeded() bool {
	return s.authSucceeded.Load()
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// transition moves the session to next when it is currently in from; a zero
// from matches any state. It returns the previous state.
func (s *Session) transition(from, next State, now time.Time) (State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.state
	if from != 0 && prev != from {
		return prev, false
	}
	s.state = next
	s.pendingTxn = aaa.NoTransaction
	s.updatedAt = now
	return prev, true
}

func (s *Session) context() aaa.SessionContext {
	s.mu.Lock()
	txn := s.pendingTxn
	s.mu.Unlock()
	return aaa.SessionContext{
		IMSI:             s.Params.IMSI,
		IMEI:             s.Params.IMEI,
		APN:              s.Params.APN,
		TAC:              s.Params.TAC,
		CGI:              s.Params.CGI,
		EUCGI:            s.Params.EUCGI,
		DestinationHost:  s.Params.DestinationHost,
		DestinationRealm: s.Params.DestinationRealm,
		PendingTxn:       txn,
	}
}

// Snapshot is the read-only view served by the admin surface.
type Snapshot struct {
	ID            aaa.SessionID `json:"id"`
	Params        Params        `json:"params"`
	State         State         `json:"state"`
	AuthSucceeded bool          `json:"auth_succeeded"`
	PendingTxn    aaa.TxnID     `json:"pending_txn,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		ID:            s.ID,
		Params:        s.Params,
		State:         s.state,
		AuthSucceeded: s.authSucceeded.Load(),
		PendingTxn:    s.pendingTxn,
		CreatedAt:     s.CreatedAt,
		UpdatedAt:     s.updatedAt,
	}
}
