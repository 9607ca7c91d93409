package aaa

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/danmuck/smfaaa/internal/protocol"
	"github.com/danmuck/smfaaa/internal/protocol/avp"
	"github.com/danmuck/smfaaa/internal/protocol/schema"
)

type sentMessage struct {
	msg          *protocol.Message
	expectAnswer bool
}

type fakeStack struct {
	mu      sync.Mutex
	next    atomic.Uint64
	sent    []sentMessage
	sendErr error
}

func (s *fakeStack) NewExchangeID() string {
	return fmt.Sprintf("smf.test;1;%d;x", s.next.Add(1))
}

func (s *fakeStack) Send(_ context.Context, msg *protocol.Message, expectAnswer bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return s.sendErr
	}
	s.sent = append(s.sent, sentMessage{msg: msg, expectAnswer: expectAnswer})
	return nil
}

func (s *fakeStack) messages() []sentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sentMessage(nil), s.sent...)
}

type fakeSession struct {
	ctx           SessionContext
	authSucceeded bool
	authSet       int
}

type fakeDirectory struct {
	mu       sync.Mutex
	sessions map[SessionID]*fakeSession
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{sessions: make(map[SessionID]*fakeSession)}
}

func (d *fakeDirectory) add(id SessionID, sc SessionContext) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sessions[id] = &fakeSession{ctx: sc}
}

func (d *fakeDirectory) remove(id SessionID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.sessions, id)
}

func (d *fakeDirectory) SessionContext(id SessionID) (SessionContext, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.sessions[id]
	if !ok {
		return SessionContext{}, false
	}
	return s.ctx, true
}

func (d *fakeDirectory) SetAuthSucceeded(id SessionID, ok bool) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, exists := d.sessions[id]
	if !exists {
		return false
	}
	s.authSucceeded = ok
	s.authSet++
	return true
}

func (d *fakeDirectory) auth(id SessionID) (succeeded bool, sets int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.sessions[id]
	if !ok {
		return false, 0
	}
	return s.authSucceeded, s.authSet
}

type fakeSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *fakeSink) Emit(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *fakeSink) snapshot() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

func (s *fakeSink) count(id SessionID) int {
	n := 0
	for _, ev := range s.snapshot() {
		if ev.Session == id {
			n++
		}
	}
	return n
}

func subscriber(imsi string) SessionContext {
	return SessionContext{
		IMSI:             imsi,
		APN:              "internet",
		DestinationHost:  "aaa.local",
		DestinationRealm: "local",
	}
}

func authAnswer(exchangeID string, outcome uint32) *protocol.Message {
	req := protocol.NewRequest(schema.CmdAuth)
	req.Add(avp.Base(schema.AVPSessionID, avp.UTF8String(exchangeID)))
	ans := protocol.NewAnswer(req)
	ans.Add(
		avp.Base(schema.AVPResultCode, avp.Unsigned32(schema.ResultSuccess)),
		avp.Vendor(schema.AVPResult, schema.VendorID, avp.Unsigned32(outcome)),
	)
	return ans
}

type harness struct {
	stack *fakeStack
	store *Store
	dir   *fakeDirectory
	sink  *fakeSink
	snd   *Sender
	corr  *Correlator
}

func newHarness(capacity int) *harness {
	h := &harness{
		stack: &fakeStack{},
		store: NewStore(capacity),
		dir:   newFakeDirectory(),
		sink:  &fakeSink{},
	}
	h.snd = NewSender(h.stack, h.store, h.dir, Origin{Host: "smf.test", Realm: "test"})
	h.corr = NewCorrelator(h.store, h.dir, h.sink, CorrelatorConfig{Workers: 2})
	return h
}

// lastExchange returns the Session-Id of the most recent sent message.
func (h *harness) lastExchange() string {
	msgs := h.stack.messages()
	if len(msgs) == 0 {
		return ""
	}
	sid, _ := msgs[len(msgs)-1].msg.SessionID()
	return sid
}
