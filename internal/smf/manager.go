package smf

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"
	"github.com/oklog/ulid/v2"

	"github.com/danmuck/smfaaa/internal/aaa"
	logs "github.com/danmuck/smfaaa/internal/logging"
	"github.com/danmuck/smfaaa/internal/observability"
)

var (
	ErrIMSIRequired    = errors.New("smf: imsi required")
	ErrSessionNotFound = errors.New("smf: session not found")
)

// AAASender is the request side of the correlation layer.
type AAASender interface {
	SendAuthRequest(ctx context.Context, id aaa.SessionID) error
	SendTerminationRequest(ctx context.Context, id aaa.SessionID) error
}

type Transition struct {
	Session aaa.SessionID
	From    State
	To      State
}

type ManagerConfig struct {
	DestinationHost  string
	DestinationRealm string
	Shards           int
}

// Manager owns the session table and the control loop that applies AAA
// outcomes. Emit only queues; outcome transitions happen in Run.
type Manager struct {
	cfg    ManagerConfig
	table  *Table
	sender AAASender
	now    func() time.Time
	txn    atomic.Uint64

	qmu    sync.Mutex
	events *queue.Queue
	wake   chan struct{}

	obsMu     sync.RWMutex
	observers []func(Transition)
}

func NewManager(cfg ManagerConfig, table *Table) *Manager {
	if table == nil {
		table = NewTable(cfg.Shards)
	}
	return &Manager{
		cfg:    cfg,
		table:  table,
		now:    time.Now,
		events: queue.New(),
		wake:   make(chan struct{}, 1),
	}
}

// SetSender wires the request side. The sender and correlator depend on the
// table, so the manager is built first.
func (m *Manager) SetSender(s AAASender) {
	m.sender = s
}

func (m *Manager) Table() *Table {
	return m.table
}

// Observe registers fn for every applied transition. fn runs on the goroutine
// applying the transition and must not block.
func (m *Manager) Observe(fn func(Transition)) {
	m.obsMu.Lock()
	defer m.obsMu.Unlock()
	m.observers = append(m.observers, fn)
}

// Emit queues ev for the control loop.
func (m *Manager) Emit(ev aaa.Event) {
	m.qmu.Lock()
	m.events.Add(ev)
	m.qmu.Unlock()
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// QueueLen returns the number of events waiting for the control loop.
func (m *Manager) QueueLen() int {
	m.qmu.Lock()
	defer m.qmu.Unlock()
	return m.events.Length()
}

func (m *Manager) next() (aaa.Event, bool) {
	m.qmu.Lock()
	defer m.qmu.Unlock()
	if m.events.Length() == 0 {
		return aaa.Event{}, false
	}
	return m.events.Remove().(aaa.Event), true
}

// Run drains the event queue until ctx ends.
func (m *Manager) Run(ctx context.Context) error {
	for {
		for {
			ev, ok := m.next()
			if !ok {
				break
			}
			m.apply(ev)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-m.wake:
		}
	}
}

func (m *Manager) apply(ev aaa.Event) {
	if ev.Kind != aaa.EventAAAOutcome {
		logs.Warnf("smf.Manager.apply unknown event kind=%s session=%s", ev.Kind, ev.Session)
		return
	}
	s, ok := m.table.Get(ev.Session)
	if !ok {
		logs.Debugf("smf.Manager.apply session gone session=%s", ev.Session)
		return
	}
	next := StateRejected
	if s.AuthSucceeded() {
		next = StateActive
	}
	if !m.move(s, StateWaitAuth, next) {
		logs.Debugf("smf.Manager.apply ignoring outcome session=%s state=%s", ev.Session, s.State())
	}
}

func (m *Manager) move(s *Session, from, next State) bool {
	prev, ok := s.transition(from, next, m.now())
	if !ok {
		return false
	}
	observability.RecordSessionTransition(prev.String(), next.String())
	logs.Infof("smf.Manager.transition session=%s imsi=%s from=%s to=%s", s.ID, s.Params.IMSI, prev, next)

	m.obsMu.RLock()
	observers := append(([]func(Transition))(nil), m.observers...)
	m.obsMu.RUnlock()
	for _, fn := range observers {
		fn(Transition{Session: s.ID, From: prev, To: next})
	}
	return true
}

// Establish creates a session in WaitAuth and sends its Auth-Request. A
// session whose request could not be sent is removed again.
func (m *Manager) Establish(ctx context.Context, p Params) (Snapshot, error) {
	p.IMSI = strings.TrimSpace(p.IMSI)
	if p.IMSI == "" {
		return Snapshot{}, ErrIMSIRequired
	}
	if p.DestinationHost == "" {
		p.DestinationHost = m.cfg.DestinationHost
	}
	if p.DestinationRealm == "" {
		p.DestinationRealm = m.cfg.DestinationRealm
	}

	id := aaa.SessionID(ulid.Make().String())
	s := newSession(id, p, aaa.TxnID(m.txn.Add(1)), m.now())
	m.table.Put(s)

	if err := m.sender.SendAuthRequest(ctx, id); err != nil {
		m.table.Delete(id)
		logs.Warnf("smf.Manager.Establish auth send failed session=%s imsi=%s err=%v", id, p.IMSI, err)
		return Snapshot{}, err
	}
	logs.Infof("smf.Manager.Establish session=%s imsi=%s dest=%q", id, p.IMSI, p.DestinationHost)
	return s.Snapshot(), nil
}

// Release sends a Term-Request for id and drops the session. Termination is
// fire-and-forget, so a send failure is logged and the session still goes.
func (m *Manager) Release(ctx context.Context, id aaa.SessionID) (Snapshot, error) {
	s, ok := m.table.Get(id)
	if !ok {
		return Snapshot{}, ErrSessionNotFound
	}
	if err := m.sender.SendTerminationRequest(ctx, id); err != nil {
		logs.Warnf("smf.Manager.Release term send failed session=%s err=%v", id, err)
	}
	m.move(s, 0, StateReleased)
	m.table.Delete(id)
	return s.Snapshot(), nil
}

func (m *Manager) Get(id aaa.SessionID) (Snapshot, bool) {
	s, ok := m.table.Get(id)
	if !ok {
		return Snapshot{}, false
	}
	return s.Snapshot(), true
}

func (m *Manager) List() []Snapshot {
	return m.table.List()
}
