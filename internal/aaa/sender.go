package aaa

import (
	"context"
	"errors"

	logs "github.com/danmuck/smfaaa/internal/logging"
	"github.com/danmuck/smfaaa/internal/observability"
	"github.com/danmuck/smfaaa/internal/protocol"
	"github.com/danmuck/smfaaa/internal/protocol/avp"
	"github.com/danmuck/smfaaa/internal/protocol/schema"
)

// Origin identifies this node in outbound requests.
type Origin struct {
	Host  string
	Realm string
}

// Sender builds and dispatches requests for local sessions.
type Sender struct {
	stack            Stack
	store            *Store
	dir              SessionDirectory
	origin           Origin
	terminationCause uint32
}

func NewSender(stack Stack, store *Store, dir SessionDirectory, origin Origin) *Sender {
	return &Sender{
		stack:            stack,
		store:            store,
		dir:              dir,
		origin:           origin,
		terminationCause: schema.TerminationCauseLogout,
	}
}

// SendAuthRequest sends one tracked Auth-Request for id. A correlation record
// is stored under the new exchange id before the write. When the store is full
// the request is still sent and its answer will go unmatched.
func (s *Sender) SendAuthRequest(ctx context.Context, id SessionID) error {
	sc, err := s.resolve(RequestAuth, id)
	if err != nil {
		return err
	}

	exchangeID := s.stack.NewExchangeID()
	msg := s.build(schema.CmdAuth, exchangeID, sc)
	optional(msg, schema.AVPIMEI, sc.IMEI)
	optional(msg, schema.AVPAPN, sc.APN)
	optional(msg, schema.AVPTAC, sc.TAC)
	optional(msg, schema.AVPCGI, sc.CGI)
	optional(msg, schema.AVPEUCGI, sc.EUCGI)

	rec, tracked := s.track(exchangeID, id, sc)

	if err := s.stack.Send(ctx, msg, true); err != nil {
		if tracked {
			if relErr := s.store.Release(rec); relErr != nil && !errors.Is(relErr, ErrStaleRecord) {
				logs.Errf("aaa.Sender.SendAuthRequest release after send failure exchange=%q err=%v", exchangeID, relErr)
			}
		}
		observability.RecordAAARequest(RequestAuth.String(), string(ReasonTransport))
		logs.Warnf("aaa.Sender.SendAuthRequest send failed session=%s exchange=%q err=%v", id, exchangeID, err)
		return &SendError{Kind: RequestAuth, Session: id, Reason: ReasonTransport, Err: err}
	}
	observability.RecordAAARequest(RequestAuth.String(), "sent")
	logs.Debugf("aaa.Sender.SendAuthRequest session=%s exchange=%q tracked=%v", id, exchangeID, tracked)
	return nil
}

// SendTerminationRequest sends a fire-and-forget Term-Request for id. It never
// touches the correlation store.
func (s *Sender) SendTerminationRequest(ctx context.Context, id SessionID) error {
	sc, err := s.resolve(RequestTermination, id)
	if err != nil {
		return err
	}

	exchangeID := s.stack.NewExchangeID()
	msg := s.build(schema.CmdTerm, exchangeID, sc)
	msg.Add(avp.Base(schema.AVPTerminationCause, avp.Unsigned32(s.terminationCause)))
	optional(msg, schema.AVPAPN, sc.APN)

	if err := s.stack.Send(ctx, msg, false); err != nil {
		observability.RecordAAARequest(RequestTermination.String(), string(ReasonTransport))
		logs.Warnf("aaa.Sender.SendTerminationRequest send failed session=%s exchange=%q err=%v", id, exchangeID, err)
		return &SendError{Kind: RequestTermination, Session: id, Reason: ReasonTransport, Err: err}
	}
	observability.RecordAAARequest(RequestTermination.String(), "sent")
	logs.Debugf("aaa.Sender.SendTerminationRequest session=%s exchange=%q", id, exchangeID)
	return nil
}

func (s *Sender) resolve(kind RequestKind, id SessionID) (SessionContext, error) {
	sc, ok := s.dir.SessionContext(id)
	if !ok || sc.IMSI == "" {
		observability.RecordAAARequest(kind.String(), string(ReasonMissingContext))
		return SessionContext{}, &SendError{Kind: kind, Session: id, Reason: ReasonMissingContext, Err: ErrMissingContext}
	}
	if sc.DestinationHost == "" {
		observability.RecordAAARequest(kind.String(), string(ReasonMissingDestination))
		return SessionContext{}, &SendError{Kind: kind, Session: id, Reason: ReasonMissingDestination, Err: ErrMissingDestination}
	}
	return sc, nil
}

// track allocates and stores the record for an auth exchange. Failures are
// diagnostics only.
func (s *Sender) track(exchangeID string, id SessionID, sc SessionContext) (Record, bool) {
	rec, err := s.store.Allocate()
	if err != nil {
		observability.RecordStoreExhausted()
		logs.Warnf("aaa.Sender.track store exhausted session=%s exchange=%q cap=%d; answer will be unmatched",
			id, exchangeID, s.store.Cap())
		return Record{}, false
	}
	rec.Owner = id
	rec.PeerHost = sc.DestinationHost
	rec.PendingTxn = sc.PendingTxn
	if err := s.store.Store(exchangeID, rec); err != nil {
		logs.Errf("aaa.Sender.track store session=%s exchange=%q err=%v", id, exchangeID, err)
		_ = s.store.Release(rec)
		return Record{}, false
	}
	return rec, true
}

func (s *Sender) build(cmd uint32, exchangeID string, sc SessionContext) *protocol.Message {
	realm := sc.DestinationRealm
	if realm == "" {
		realm = s.origin.Realm
	}
	msg := protocol.NewRequest(cmd)
	msg.Add(
		avp.Base(schema.AVPSessionID, avp.UTF8String(exchangeID)),
		avp.Base(schema.AVPOriginHost, avp.UTF8String(s.origin.Host)),
		avp.Base(schema.AVPOriginRealm, avp.UTF8String(s.origin.Realm)),
		avp.Base(schema.AVPDestinationHost, avp.UTF8String(sc.DestinationHost)),
		avp.Base(schema.AVPDestinationRealm, avp.UTF8String(realm)),
		avp.Base(schema.AVPAuthApplicationID, avp.Unsigned32(schema.ApplicationID)),
		avp.Vendor(schema.AVPIMSI, schema.VendorID, avp.OctetString([]byte(sc.IMSI))),
	)
	return msg
}

func optional(msg *protocol.Message, code uint32, value string) {
	if value == "" {
		return
	}
	msg.Add(avp.Vendor(code, schema.VendorID, avp.OctetString([]byte(value))))
}
