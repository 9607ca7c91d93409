package smf

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/smfaaa/internal/aaa"
	"github.com/danmuck/smfaaa/internal/testutil/testlog"
)

type fakeSender struct {
	mu      sync.Mutex
	auth    []aaa.SessionID
	term    []aaa.SessionID
	authErr error
	termErr error
}

func (f *fakeSender) SendAuthRequest(_ context.Context, id aaa.SessionID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.auth = append(f.auth, id)
	return f.authErr
}

func (f *fakeSender) SendTerminationRequest(_ context.Context, id aaa.SessionID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.term = append(f.term, id)
	return f.termErr
}

func newTestManager(t *testing.T) (*Manager, *fakeSender, chan Transition) {
	t.Helper()
	m := NewManager(ManagerConfig{DestinationHost: "aaa.local", DestinationRealm: "local", Shards: 4}, nil)
	sender := &fakeSender{}
	m.SetSender(sender)
	transitions := make(chan Transition, 16)
	m.Observe(func(tr Transition) { transitions <- tr })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return m, sender, transitions
}

func waitTransition(t *testing.T, ch chan Transition) Transition {
	t.Helper()
	select {
	case tr := <-ch:
		return tr
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for transition")
		return Transition{}
	}
}

func TestEstablishThenOutcomeActivates(t *testing.T) {
	testlog.Start(t)
	m, sender, transitions := newTestManager(t)

	snap, err := m.Establish(context.Background(), Params{IMSI: " 001010000000001 "})
	if err != nil {
		t.Fatalf("establish: %v", err)
	}
	if snap.State != StateWaitAuth || snap.Params.DestinationHost != "aaa.local" || snap.Params.IMSI != "001010000000001" {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if snap.PendingTxn == aaa.NoTransaction {
		t.Fatalf("expected a pending transaction")
	}
	if len(sender.auth) != 1 || sender.auth[0] != snap.ID {
		t.Fatalf("auth request not sent for %s: %v", snap.ID, sender.auth)
	}

	sc, ok := m.Table().SessionContext(snap.ID)
	if !ok || sc.IMSI != "001010000000001" || sc.DestinationRealm != "local" {
		t.Fatalf("unexpected session context: %+v ok=%v", sc, ok)
	}

	m.Table().SetAuthSucceeded(snap.ID, true)
	m.Emit(aaa.Event{Kind: aaa.EventAAAOutcome, Session: snap.ID})

	tr := waitTransition(t, transitions)
	if tr.Session != snap.ID || tr.From != StateWaitAuth || tr.To != StateActive {
		t.Fatalf("unexpected transition: %+v", tr)
	}
	got, _ := m.Get(snap.ID)
	if got.State != StateActive || !got.AuthSucceeded || got.PendingTxn != aaa.NoTransaction {
		t.Fatalf("unexpected state after outcome: %+v", got)
	}
}

func TestOutcomeFailureRejects(t *testing.T) {
	testlog.Start(t)
	m, _, transitions := newTestManager(t)
	snap, err := m.Establish(context.Background(), Params{IMSI: "001010000000002"})
	if err != nil {
		t.Fatalf("establish: %v", err)
	}
	m.Table().SetAuthSucceeded(snap.ID, false)
	m.Emit(aaa.Event{Kind: aaa.EventAAAOutcome, Session: snap.ID})
	if tr := waitTransition(t, transitions); tr.To != StateRejected {
		t.Fatalf("expected rejected, got %+v", tr)
	}

	// A second outcome for a settled session changes nothing.
	m.Emit(aaa.Event{Kind: aaa.EventAAAOutcome, Session: snap.ID})
	select {
	case tr := <-transitions:
		t.Fatalf("unexpected transition: %+v", tr)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEstablishSendFailureRemovesSession(t *testing.T) {
	testlog.Start(t)
	m, sender, _ := newTestManager(t)
	sender.authErr = errors.New("peer down")
	if _, err := m.Establish(context.Background(), Params{IMSI: "001010000000003"}); err == nil {
		t.Fatalf("expected establish error")
	}
	if m.Table().Len() != 0 {
		t.Fatalf("failed session should be removed")
	}
	if _, err := m.Establish(context.Background(), Params{}); !errors.Is(err, ErrIMSIRequired) {
		t.Fatalf("expected ErrIMSIRequired, got %v", err)
	}
}

func TestReleaseSendsTerminationAndDrops(t *testing.T) {
	testlog.Start(t)
	m, sender, transitions := newTestManager(t)
	snap, err := m.Establish(context.Background(), Params{IMSI: "001010000000004"})
	if err != nil {
		t.Fatalf("establish: %v", err)
	}
	sender.termErr = errors.New("peer down")

	out, err := m.Release(context.Background(), snap.ID)
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if out.State != StateReleased {
		t.Fatalf("expected released snapshot, got %s", out.State)
	}
	if tr := waitTransition(t, transitions); tr.To != StateReleased || tr.From != StateWaitAuth {
		t.Fatalf("unexpected transition: %+v", tr)
	}
	if len(sender.term) != 1 {
		t.Fatalf("termination not sent")
	}
	if _, ok := m.Get(snap.ID); ok {
		t.Fatalf("released session still present")
	}
	if _, err := m.Release(context.Background(), snap.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}

	// Outcome for a released session is dropped.
	if m.Table().SetAuthSucceeded(snap.ID, true) {
		t.Fatalf("directory should report owner gone")
	}
	m.Emit(aaa.Event{Kind: aaa.EventAAAOutcome, Session: snap.ID})
}

func TestTableListOrderAndShards(t *testing.T) {
	testlog.Start(t)
	tbl := NewTable(3)
	if len(tbl.shards) != 4 {
		t.Fatalf("shard count should round up to a power of two, got %d", len(tbl.shards))
	}
	base := time.Unix(1700000000, 0)
	for i, id := range []aaa.SessionID{"c", "a", "b"} {
		tbl.Put(newSession(id, Params{IMSI: string(id)}, aaa.NoTransaction, base.Add(time.Duration(i)*time.Second)))
	}
	list := tbl.List()
	if len(list) != 3 || list[0].ID != "c" || list[1].ID != "a" || list[2].ID != "b" {
		t.Fatalf("unexpected order: %+v", list)
	}
	if _, ok := tbl.Delete("a"); !ok || tbl.Len() != 2 {
		t.Fatalf("delete failed")
	}
}
