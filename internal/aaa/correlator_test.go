package aaa

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danmuck/smfaaa/internal/protocol"
	"github.com/danmuck/smfaaa/internal/protocol/avp"
	"github.com/danmuck/smfaaa/internal/protocol/schema"
	"github.com/danmuck/smfaaa/internal/testutil/testlog"
)

func sendAuth(t *testing.T, h *harness, id SessionID, imsi string) string {
	t.Helper()
	h.dir.add(id, subscriber(imsi))
	require.NoError(t, h.snd.SendAuthRequest(context.Background(), id))
	return h.lastExchange()
}

func TestAnswerSuccessEmitsOnce(t *testing.T) {
	testlog.Start(t)
	h := newHarness(4)
	e1 := sendAuth(t, h, "S", "001010000000001")

	h.corr.Process(Completion{Kind: CompletionAnswer, ExchangeID: e1, Answer: authAnswer(e1, 0)})
	ok, sets := h.dir.auth("S")
	assert.True(t, ok)
	assert.Equal(t, 1, sets)
	assert.Equal(t, []Event{{Kind: EventAAAOutcome, Session: "S"}}, h.sink.snapshot())

	rec, err := h.store.Retrieve(e1)
	require.NoError(t, err)
	assert.True(t, rec.Completed, "record waits for cleanup marked completed")

	// A duplicate answer before cleanup is ignored.
	h.corr.Process(Completion{Kind: CompletionAnswer, ExchangeID: e1, Answer: authAnswer(e1, 1)})
	ok, _ = h.dir.auth("S")
	assert.True(t, ok)
	assert.Equal(t, 1, h.sink.count("S"))

	h.corr.Process(Completion{Kind: CompletionCleanup, ExchangeID: e1})
	assert.Equal(t, 0, h.store.Len())

	// Late answer after cleanup is not found.
	h.corr.Process(Completion{Kind: CompletionAnswer, ExchangeID: e1, Answer: authAnswer(e1, 0)})
	assert.Equal(t, 1, h.sink.count("S"))
}

func TestAnswerNonzeroOutcomeIsFailure(t *testing.T) {
	testlog.Start(t)
	h := newHarness(4)
	e1 := sendAuth(t, h, "S", "001010000000001")
	h.dir.SetAuthSucceeded("S", true)

	h.corr.Process(Completion{Kind: CompletionAnswer, ExchangeID: e1, Answer: authAnswer(e1, 7)})
	ok, _ := h.dir.auth("S")
	assert.False(t, ok)
	assert.Equal(t, 1, h.sink.count("S"))
}

func TestErrorPathFailsWithoutOutcomeLookup(t *testing.T) {
	testlog.Start(t)
	h := newHarness(4)
	e1 := sendAuth(t, h, "S", "001010000000001")
	h.dir.SetAuthSucceeded("S", true)

	h.corr.Process(Completion{Kind: CompletionError, ExchangeID: e1, Err: errors.New("malformed answer")})
	ok, _ := h.dir.auth("S")
	assert.False(t, ok)
	assert.Equal(t, 1, h.sink.count("S"))

	h.corr.Process(Completion{Kind: CompletionCleanup, ExchangeID: e1})
	assert.Equal(t, 0, h.store.Len())
}

func TestUnknownExchangeIsNotAFault(t *testing.T) {
	testlog.Start(t)
	h := newHarness(4)
	h.corr.Process(Completion{Kind: CompletionAnswer, ExchangeID: "nope", Answer: authAnswer("nope", 0)})
	h.corr.Process(Completion{Kind: CompletionError, ExchangeID: "nope", Err: errors.New("x")})
	h.corr.Process(Completion{Kind: CompletionCleanup, ExchangeID: "nope"})
	assert.Empty(t, h.sink.snapshot())
}

func TestOwnerGoneReleasesWithoutEvent(t *testing.T) {
	testlog.Start(t)
	h := newHarness(4)
	e1 := sendAuth(t, h, "S", "001010000000001")
	h.dir.remove("S")

	h.corr.Process(Completion{Kind: CompletionAnswer, ExchangeID: e1, Answer: authAnswer(e1, 0)})
	assert.Empty(t, h.sink.snapshot())
	assert.Equal(t, 0, h.store.Len())

	// Cleanup after the early release is harmless.
	h.corr.Process(Completion{Kind: CompletionCleanup, ExchangeID: e1})
	assert.Equal(t, 0, h.store.Len())
}

func TestMissingOutcomeReleasesWithoutEvent(t *testing.T) {
	testlog.Start(t)
	h := newHarness(4)
	e1 := sendAuth(t, h, "S", "001010000000001")

	req := protocol.NewRequest(schema.CmdAuth)
	req.Add(avp.Base(schema.AVPSessionID, avp.UTF8String(e1)))
	ans := protocol.NewAnswer(req)
	ans.Add(avp.Base(schema.AVPResultCode, avp.Unsigned32(schema.ResultSuccess)))

	h.corr.Process(Completion{Kind: CompletionAnswer, ExchangeID: e1, Answer: ans})
	assert.Empty(t, h.sink.snapshot())
	_, sets := h.dir.auth("S")
	assert.Equal(t, 0, sets, "no outcome may be guessed")
	assert.Equal(t, 0, h.store.Len())
}

func TestTerminationWhileAuthPending(t *testing.T) {
	testlog.Start(t)
	h := newHarness(4)
	e1 := sendAuth(t, h, "S", "001010000000001")
	require.Equal(t, 1, h.store.Len())

	require.NoError(t, h.snd.SendTerminationRequest(context.Background(), "S"))
	assert.Equal(t, 1, h.store.Len(), "termination adds no record")

	// The transport gives up on E1 and tears the exchange down.
	h.corr.Process(Completion{Kind: CompletionError, ExchangeID: e1, Err: errors.New("answer timeout")})
	h.corr.Process(Completion{Kind: CompletionCleanup, ExchangeID: e1})
	assert.Equal(t, 0, h.store.Len())
}

func TestRunProcessesAnswerBeforeCleanup(t *testing.T) {
	testlog.Start(t)
	h := newHarness(16)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.corr.Run(ctx) }()

	ids := []SessionID{"a", "b", "c", "d", "e", "f"}
	for i, id := range ids {
		e := sendAuth(t, h, id, "00101000000000"+string(rune('1'+i)))
		h.corr.OnAnswer(e, authAnswer(e, uint32(i%2)))
		h.corr.OnCleanup(e)
	}

	require.Eventually(t, func() bool {
		return len(h.sink.snapshot()) == len(ids) && h.store.Len() == 0
	}, 2*time.Second, 5*time.Millisecond)
	for i, id := range ids {
		ok, _ := h.dir.auth(id)
		assert.Equal(t, i%2 == 0, ok, "session %s", id)
		assert.Equal(t, 1, h.sink.count(id))
	}

	cancel()
	require.NoError(t, <-done)

	// Completions after stop are dropped instead of blocking.
	h.corr.OnCleanup("late")
}

func TestSweepExpiresStaleRecords(t *testing.T) {
	testlog.Start(t)
	h := newHarness(4)
	h.corr.cfg.RecordTTL = 30 * time.Second
	base := time.Unix(1700000000, 0)
	h.store.now = func() time.Time { return base }
	h.corr.now = func() time.Time { return base.Add(31 * time.Second) }

	e1 := sendAuth(t, h, "S", "001010000000001")
	assert.Equal(t, 1, h.corr.Sweep())

	// Drain the queued error and cleanup for e1 in order.
	q := h.corr.queues[h.corr.shard(e1)]
	for i := 0; i < 2; i++ {
		select {
		case comp := <-q:
			h.corr.Process(comp)
		case <-time.After(time.Second):
			t.Fatalf("missing queued completion %d", i)
		}
	}
	ok, sets := h.dir.auth("S")
	assert.False(t, ok)
	assert.Equal(t, 1, sets)
	assert.Equal(t, 1, h.sink.count("S"))
	assert.Equal(t, 0, h.store.Len())
	assert.Equal(t, 0, h.corr.Sweep())
}

// gatedDirectory holds every owner lookup until gate is closed.
type gatedDirectory struct {
	*fakeDirectory
	entered chan struct{}
	gate    chan struct{}
}

func (d *gatedDirectory) SessionContext(id SessionID) (SessionContext, bool) {
	select {
	case d.entered <- struct{}{}:
	default:
	}
	<-d.gate
	return d.fakeDirectory.SessionContext(id)
}

func TestRunCancelReleasesBlockedSubmit(t *testing.T) {
	testlog.Start(t)
	h := newHarness(4)
	e1 := sendAuth(t, h, "S", "001010000000001")
	dir := &gatedDirectory{fakeDirectory: h.dir, entered: make(chan struct{}, 1), gate: make(chan struct{})}
	corr := NewCorrelator(h.store, dir, h.sink, CorrelatorConfig{Workers: 1, QueueDepth: 1})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- corr.Run(ctx) }()

	// The only worker parks inside the first completion.
	corr.Submit(Completion{Kind: CompletionAnswer, ExchangeID: e1, Answer: authAnswer(e1, 0)})
	select {
	case <-dir.entered:
	case <-time.After(2 * time.Second):
		t.Fatalf("worker never picked up the answer")
	}
	corr.Submit(Completion{Kind: CompletionCleanup, ExchangeID: e1})

	submitted := make(chan struct{})
	go func() {
		defer close(submitted)
		corr.Submit(Completion{Kind: CompletionCleanup, ExchangeID: "other"})
	}()
	select {
	case <-submitted:
		t.Fatalf("submit into a full queue returned before shutdown")
	case <-time.After(50 * time.Millisecond):
	}

	cancel()
	select {
	case <-submitted:
	case <-time.After(2 * time.Second):
		t.Fatalf("submit still blocked after cancel")
	}

	close(dir.gate)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return after cancel")
	}
}

func TestRunCancelWithSweeperBacklog(t *testing.T) {
	testlog.Start(t)
	h := newHarness(16)
	for i := 0; i < 10; i++ {
		sendAuth(t, h, SessionID(fmt.Sprintf("s%d", i)), fmt.Sprintf("0010100000000%02d", i))
	}
	dir := &gatedDirectory{fakeDirectory: h.dir, entered: make(chan struct{}, 1), gate: make(chan struct{})}
	corr := NewCorrelator(h.store, dir, h.sink, CorrelatorConfig{
		Workers:       1,
		QueueDepth:    1,
		RecordTTL:     time.Millisecond,
		SweepInterval: time.Millisecond,
	})
	base := time.Now()
	corr.now = func() time.Time { return base.Add(time.Hour) }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- corr.Run(ctx) }()

	select {
	case <-dir.entered:
	case <-time.After(2 * time.Second):
		t.Fatalf("sweeper never fed the worker")
	}
	cancel()
	close(dir.gate)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return with the sweeper blocked in Submit")
	}
}
