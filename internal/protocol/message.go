package protocol

import (
	"io"

	"github.com/danmuck/smfaaa/internal/protocol/avp"
	"github.com/danmuck/smfaaa/internal/protocol/frame"
	"github.com/danmuck/smfaaa/internal/protocol/schema"
)

// Message is one decoded request or answer.
type Message struct {
	Header frame.Header
	AVPs   []avp.AVP
}

// NewRequest returns a Nextranet-AAA request for cmd with the proxiable bit set.
func NewRequest(cmd uint32) *Message {
	return &Message{
		Header: frame.Header{
			Flags:         frame.FlagRequest | frame.FlagProxiable,
			CommandCode:   cmd,
			ApplicationID: schema.ApplicationID,
		},
	}
}

// NewAnswer returns an answer skeleton that echoes the request's routing ids
// and Session-Id.
func NewAnswer(req *Message) *Message {
	ans := &Message{
		Header: frame.Header{
			Flags:         req.Header.Flags &^ (frame.FlagRequest | frame.FlagRetransmitted),
			CommandCode:   req.Header.CommandCode,
			ApplicationID: req.Header.ApplicationID,
			HopByHopID:    req.Header.HopByHopID,
			EndToEndID:    req.Header.EndToEndID,
		},
	}
	if sid, ok := req.SessionID(); ok {
		ans.Add(avp.Base(schema.AVPSessionID, avp.UTF8String(sid)))
	}
	return ans
}

func (m *Message) Add(a ...avp.AVP) {
	m.AVPs = append(m.AVPs, a...)
}

func (m *Message) IsRequest() bool { return m.Header.IsRequest() }
func (m *Message) IsError() bool   { return m.Header.IsError() }

// Find returns the first AVP matching code and vendor.
func (m *Message) Find(code, vendor uint32) (avp.AVP, bool) {
	return avp.Find(m.AVPs, code, vendor)
}

// SessionID returns the Session-Id AVP value.
func (m *Message) SessionID() (string, bool) {
	a, ok := m.Find(schema.AVPSessionID, 0)
	if !ok || len(a.Data) == 0 {
		return "", false
	}
	return a.Text(), true
}

// ResultCode returns the base Result-Code AVP value.
func (m *Message) ResultCode() (uint32, error) {
	a, ok := m.Find(schema.AVPResultCode, 0)
	if !ok {
		return 0, ErrMissingResultCode
	}
	return a.Uint32()
}

// Validate checks the message against the dictionary.
func (m *Message) Validate() error {
	if m == nil {
		return ErrNilMessage
	}
	if m.Header.ApplicationID != schema.ApplicationID {
		return ErrApplicationMismatch
	}
	return schema.Validate(m.Header.CommandCode, m.IsRequest(), m.AVPs)
}

// Encode writes msg to w using the wire format.
func Encode(w io.Writer, msg *Message, limits frame.Limits) error {
	if msg == nil {
		return ErrNilMessage
	}
	payload, err := avp.EncodeAll(msg.AVPs)
	if err != nil {
		return err
	}
	return frame.WriteFrame(w, frame.Frame{Header: msg.Header, Payload: payload}, limits)
}

// Decode reads one message from r.
func Decode(r io.Reader, limits frame.Limits) (*Message, error) {
	f, err := frame.ReadFrame(r, limits)
	if err != nil {
		return nil, err
	}
	return FromFrame(f)
}

// FromFrame parses the AVP payload of an already-read frame.
func FromFrame(f frame.Frame) (*Message, error) {
	avps, err := avp.DecodeAll(f.Payload)
	if err != nil {
		return nil, err
	}
	return &Message{Header: f.Header, AVPs: avps}, nil
}
