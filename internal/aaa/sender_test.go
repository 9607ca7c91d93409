package aaa

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danmuck/smfaaa/internal/protocol/schema"
	"github.com/danmuck/smfaaa/internal/testutil/testlog"
)

func TestSendAuthRequestMissingContext(t *testing.T) {
	testlog.Start(t)
	h := newHarness(4)

	err := h.snd.SendAuthRequest(context.Background(), "nobody")
	var se *SendError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, ReasonMissingContext, se.Reason)
	assert.Equal(t, RequestAuth, se.Kind)
	require.ErrorIs(t, err, ErrMissingContext)
	assert.Empty(t, h.stack.messages())
	assert.Equal(t, 0, h.store.Len())
}

func TestSendAuthRequestMissingDestination(t *testing.T) {
	testlog.Start(t)
	h := newHarness(4)
	sc := subscriber("001010000000001")
	sc.DestinationHost = ""
	h.dir.add("s1", sc)

	err := h.snd.SendAuthRequest(context.Background(), "s1")
	var se *SendError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, ReasonMissingDestination, se.Reason)
	assert.Empty(t, h.stack.messages())
	assert.Equal(t, 0, h.store.Len())
}

func TestSendAuthRequestStoresRecordBeforeSend(t *testing.T) {
	testlog.Start(t)
	h := newHarness(4)
	sc := subscriber("001010000000001")
	sc.IMEI = "490154203237518"
	sc.PendingTxn = 9
	h.dir.add("s1", sc)

	require.NoError(t, h.snd.SendAuthRequest(context.Background(), "s1"))
	msgs := h.stack.messages()
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].expectAnswer)

	msg := msgs[0].msg
	require.NoError(t, msg.Validate())
	exchangeID, ok := msg.SessionID()
	require.True(t, ok)

	rec, err := h.store.Retrieve(exchangeID)
	require.NoError(t, err)
	assert.Equal(t, SessionID("s1"), rec.Owner)
	assert.Equal(t, "aaa.local", rec.PeerHost)
	assert.Equal(t, TxnID(9), rec.PendingTxn)
	assert.Equal(t, 1, h.store.Len())
	assert.Equal(t, 1, h.store.Stats().Indexed)

	imsi, ok := msg.Find(schema.AVPIMSI, schema.VendorID)
	require.True(t, ok)
	assert.Equal(t, "001010000000001", imsi.Text())
	_, ok = msg.Find(schema.AVPIMEI, schema.VendorID)
	assert.True(t, ok)
	_, ok = msg.Find(schema.AVPAPN, schema.VendorID)
	assert.True(t, ok)
	for _, code := range []uint32{schema.AVPTAC, schema.AVPCGI, schema.AVPEUCGI} {
		_, ok := msg.Find(code, schema.VendorID)
		assert.False(t, ok, "absent session data must not produce avp %d", code)
	}
	appID, ok := msg.Find(schema.AVPAuthApplicationID, 0)
	require.True(t, ok)
	v, _ := appID.Uint32()
	assert.Equal(t, schema.ApplicationID, v)
}

func TestSendTerminationRequestNeverTracks(t *testing.T) {
	testlog.Start(t)
	h := newHarness(4)
	h.dir.add("s1", subscriber("001010000000001"))

	for i := 0; i < 5; i++ {
		require.NoError(t, h.snd.SendTerminationRequest(context.Background(), "s1"))
	}
	assert.Equal(t, 0, h.store.Len())

	msgs := h.stack.messages()
	require.Len(t, msgs, 5)
	msg := msgs[0].msg
	assert.False(t, msgs[0].expectAnswer)
	assert.Equal(t, schema.CmdTerm, msg.Header.CommandCode)
	require.NoError(t, msg.Validate())
	cause, ok := msg.Find(schema.AVPTerminationCause, 0)
	require.True(t, ok)
	v, _ := cause.Uint32()
	assert.Equal(t, schema.TerminationCauseLogout, v)
	_, ok = msg.Find(schema.AVPAPN, schema.VendorID)
	assert.True(t, ok)
}

func TestSendTerminationRequestMissingContext(t *testing.T) {
	testlog.Start(t)
	h := newHarness(4)
	err := h.snd.SendTerminationRequest(context.Background(), "gone")
	var se *SendError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, RequestTermination, se.Kind)
	assert.Equal(t, ReasonMissingContext, se.Reason)
	assert.Empty(t, h.stack.messages())
}

func TestSendAuthRequestExhaustedStillSends(t *testing.T) {
	testlog.Start(t)
	h := newHarness(1)
	h.dir.add("s1", subscriber("001010000000001"))
	h.dir.add("s2", subscriber("001010000000002"))

	require.NoError(t, h.snd.SendAuthRequest(context.Background(), "s1"))
	require.NoError(t, h.snd.SendAuthRequest(context.Background(), "s2"))
	require.Len(t, h.stack.messages(), 2)
	assert.Equal(t, uint64(1), h.store.Stats().Exhausted)

	e2 := h.lastExchange()
	h.corr.Process(Completion{Kind: CompletionAnswer, ExchangeID: e2, Answer: authAnswer(e2, schema.OutcomeSuccess)})
	h.corr.Process(Completion{Kind: CompletionCleanup, ExchangeID: e2})
	assert.Equal(t, 0, h.sink.count("s2"), "unmatched answer must not emit")
	_, sets := h.dir.auth("s2")
	assert.Equal(t, 0, sets)
	assert.Equal(t, 1, h.store.Len(), "s1 record untouched")
}

func TestSendAuthRequestTransportFailureReleases(t *testing.T) {
	testlog.Start(t)
	h := newHarness(2)
	h.dir.add("s1", subscriber("001010000000001"))
	down := errors.New("peer down")
	h.stack.sendErr = down

	err := h.snd.SendAuthRequest(context.Background(), "s1")
	var se *SendError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, ReasonTransport, se.Reason)
	require.ErrorIs(t, err, down)
	assert.Equal(t, 0, h.store.Len())
	assert.Equal(t, 0, h.store.Stats().Indexed)
}
