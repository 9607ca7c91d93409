package protocol

import (
	"bytes"
	"errors"
	"testing"

	"github.com/danmuck/smfaaa/internal/protocol/avp"
	"github.com/danmuck/smfaaa/internal/protocol/frame"
	"github.com/danmuck/smfaaa/internal/protocol/schema"
)

func TestRoundTripEncodeDecode(t *testing.T) {
	msg := NewRequest(schema.CmdAuth)
	msg.Header.HopByHopID = 11
	msg.Header.EndToEndID = 12
	msg.Add(
		avp.Base(schema.AVPSessionID, avp.UTF8String("smf.local;1;2;x")),
		avp.Vendor(schema.AVPIMSI, schema.VendorID, avp.OctetString([]byte("001010000000001"))),
	)

	var buf bytes.Buffer
	if err := Encode(&buf, msg, frame.DefaultLimits()); err != nil {
		t.Fatalf("encode: %v", err)
	}
	first := append([]byte(nil), buf.Bytes()...)

	decoded, err := Decode(bytes.NewReader(first), frame.DefaultLimits())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if sid, ok := decoded.SessionID(); !ok || sid != "smf.local;1;2;x" {
		t.Fatalf("session id mismatch: %q %v", sid, ok)
	}
	if !decoded.IsRequest() || decoded.Header.ApplicationID != schema.ApplicationID {
		t.Fatalf("header mismatch: %+v", decoded.Header)
	}

	var buf2 bytes.Buffer
	if err := Encode(&buf2, decoded, frame.DefaultLimits()); err != nil {
		t.Fatalf("re-encode: %v", err)
	}
	if !bytes.Equal(first, buf2.Bytes()) {
		t.Fatalf("round-trip mismatch")
	}
}

func TestNewAnswerEchoesRouting(t *testing.T) {
	req := NewRequest(schema.CmdTerm)
	req.Header.HopByHopID = 99
	req.Header.EndToEndID = 100
	req.Header.Flags |= frame.FlagRetransmitted
	req.Add(avp.Base(schema.AVPSessionID, avp.UTF8String("sid")))

	ans := NewAnswer(req)
	if ans.IsRequest() || ans.Header.Flags&frame.FlagRetransmitted != 0 {
		t.Fatalf("answer flags not cleared: %#x", ans.Header.Flags)
	}
	if ans.Header.HopByHopID != 99 || ans.Header.EndToEndID != 100 || ans.Header.CommandCode != schema.CmdTerm {
		t.Fatalf("routing not echoed: %+v", ans.Header)
	}
	if sid, _ := ans.SessionID(); sid != "sid" {
		t.Fatalf("session id not echoed: %q", sid)
	}
	if _, err := ans.ResultCode(); !errors.Is(err, ErrMissingResultCode) {
		t.Fatalf("expected ErrMissingResultCode, got %v", err)
	}
	ans.Add(avp.Base(schema.AVPResultCode, avp.Unsigned32(schema.ResultSuccess)))
	if rc, err := ans.ResultCode(); err != nil || rc != schema.ResultSuccess {
		t.Fatalf("result code got=%d err=%v", rc, err)
	}
}

func TestValidateApplicationMismatch(t *testing.T) {
	msg := NewRequest(schema.CmdAuth)
	msg.Header.ApplicationID = 4
	if err := msg.Validate(); !errors.Is(err, ErrApplicationMismatch) {
		t.Fatalf("expected ErrApplicationMismatch, got %v", err)
	}
	var nilMsg *Message
	if err := nilMsg.Validate(); !errors.Is(err, ErrNilMessage) {
		t.Fatalf("expected ErrNilMessage, got %v", err)
	}
}
