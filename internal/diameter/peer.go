package diameter

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"

	logs "github.com/danmuck/smfaaa/internal/logging"
	"github.com/danmuck/smfaaa/internal/observability"
	"github.com/danmuck/smfaaa/internal/protocol"
	"github.com/danmuck/smfaaa/internal/protocol/frame"
	"github.com/danmuck/smfaaa/internal/protocol/schema"
)

// Handler receives the completions of one command's exchanges. Calls arrive
// on peer goroutines. For a given exchange, OnAnswer or OnError is followed by
// exactly one OnCleanup.
type Handler interface {
	OnAnswer(exchangeID string, answer *protocol.Message)
	OnError(exchangeID string, err error)
	OnCleanup(exchangeID string)
}

type pendingExchange struct {
	exchangeID string
	command    uint32
	sentAt     time.Time
	timer      *time.Timer
}

// Peer is the client connection toward one AAA server.
type Peer struct {
	cfg    Config
	tlsCfg *tls.Config
	rng    *rand.Rand

	idHigh   uint32
	idLow    atomic.Uint32
	hopByHop atomic.Uint32
	endToEnd atomic.Uint32

	connMu sync.Mutex
	conn   net.Conn
	ready  chan struct{}
	closed bool

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[uint32]*pendingExchange

	handlersMu sync.RWMutex
	handlers   map[uint32]Handler
}

func NewPeer(cfg Config) (*Peer, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	now := time.Now()
	p := &Peer{
		cfg:      cfg,
		rng:      rand.New(rand.NewSource(now.UnixNano())),
		idHigh:   uint32(now.Unix()),
		ready:    make(chan struct{}),
		pending:  make(map[uint32]*pendingExchange),
		handlers: make(map[uint32]Handler),
	}
	if cfg.TLS.Enabled {
		tlsCfg, err := cfg.ClientTLSConfig()
		if err != nil {
			return nil, err
		}
		p.tlsCfg = tlsCfg
	}
	p.hopByHop.Store(p.rng.Uint32())
	// End-to-end ids carry the low 12 bits of boot time in the high bits.
	p.endToEnd.Store(uint32(now.Unix())<<20 | p.rng.Uint32()&0xFFFFF)
	return p, nil
}

func (p *Peer) Config() Config {
	return p.cfg
}

// NewExchangeID returns a Session-Id unique to this peer instance:
// <origin-host>;<boot-seconds>;<counter>;<ulid>.
func (p *Peer) NewExchangeID() string {
	return fmt.Sprintf("%s;%d;%d;%s", p.cfg.OriginHost, p.idHigh, p.idLow.Add(1), ulid.Make().String())
}

// RegisterHandler routes completions for cmd to h. A later registration for
// the same command replaces the earlier one.
func (p *Peer) RegisterHandler(cmd uint32, h Handler) {
	p.handlersMu.Lock()
	defer p.handlersMu.Unlock()
	logs.Debugf("diameter.Peer.RegisterHandler command=%s", schema.CommandName(cmd))
	p.handlers[cmd] = h
}

func (p *Peer) handler(cmd uint32) Handler {
	p.handlersMu.RLock()
	defer p.handlersMu.RUnlock()
	return p.handlers[cmd]
}

// Send stamps routing ids on msg and writes it. When expectAnswer is set the
// exchange is tracked until an answer, a timeout or a disconnect completes it.
// A write failure is returned without invoking any handler when Send still
// owns the exchange. If a concurrent disconnect already failed it through the
// handler, Send returns nil so the exchange completes exactly once.
func (p *Peer) Send(ctx context.Context, msg *protocol.Message, expectAnswer bool) error {
	if msg == nil {
		return protocol.ErrNilMessage
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	conn, err := p.currentConn()
	if err != nil {
		return err
	}

	hbh := p.hopByHop.Add(1)
	msg.Header.HopByHopID = hbh
	msg.Header.EndToEndID = p.endToEnd.Add(1)
	cmd := msg.Header.CommandCode

	if expectAnswer {
		sid, ok := msg.SessionID()
		if !ok {
			return ErrNoSessionID
		}
		if err := p.track(hbh, sid, cmd); err != nil {
			return err
		}
	}

	if err := p.write(ctx, conn, msg); err != nil {
		logs.Warnf("diameter.Peer.Send write failed command=%s hop_by_hop=%d err=%v", schema.CommandName(cmd), hbh, err)
		_ = conn.Close()
		if expectAnswer {
			if _, owned := p.take(hbh); !owned {
				return nil
			}
		}
		return fmt.Errorf("diameter: write %s: %w", schema.CommandName(cmd), err)
	}
	logs.Debugf("diameter.Peer.Send command=%s hop_by_hop=%d expect_answer=%v", schema.CommandName(cmd), hbh, expectAnswer)
	return nil
}

func (p *Peer) write(ctx context.Context, conn net.Conn, msg *protocol.Message) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	deadline := time.Now().Add(p.cfg.WriteTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return protocol.Encode(conn, msg, p.cfg.Limits())
}

func (p *Peer) track(hbh uint32, exchangeID string, cmd uint32) error {
	p.pendingMu.Lock()
	defer p.pendingMu.Unlock()
	if _, exists := p.pending[hbh]; exists {
		return ErrDuplicateHop
	}
	p.pending[hbh] = &pendingExchange{
		exchangeID: exchangeID,
		command:    cmd,
		sentAt:     time.Now(),
		timer:      time.AfterFunc(p.cfg.AnswerTimeout, func() { p.expire(hbh) }),
	}
	return nil
}

func (p *Peer) take(hbh uint32) (*pendingExchange, bool) {
	p.pendingMu.Lock()
	defer p.pendingMu.Unlock()
	pe, ok := p.pending[hbh]
	if !ok {
		return nil, false
	}
	delete(p.pending, hbh)
	pe.timer.Stop()
	return pe, true
}

// Pending returns the number of exchanges awaiting an answer.
func (p *Peer) Pending() int {
	p.pendingMu.Lock()
	defer p.pendingMu.Unlock()
	return len(p.pending)
}

func (p *Peer) expire(hbh uint32) {
	pe, ok := p.take(hbh)
	if !ok {
		return
	}
	logs.Warnf("diameter.Peer.expire answer timeout command=%s exchange=%q after=%s",
		schema.CommandName(pe.command), pe.exchangeID, p.cfg.AnswerTimeout)
	p.fail(pe, ErrAnswerTimeout)
}

func (p *Peer) failAll(err error) {
	p.pendingMu.Lock()
	drained := make([]*pendingExchange, 0, len(p.pending))
	for hbh, pe := range p.pending {
		pe.timer.Stop()
		drained = append(drained, pe)
		delete(p.pending, hbh)
	}
	p.pendingMu.Unlock()

	if len(drained) > 0 {
		logs.Warnf("diameter.Peer.failAll exchanges=%d err=%v", len(drained), err)
	}
	for _, pe := range drained {
		p.fail(pe, err)
	}
}

func (p *Peer) fail(pe *pendingExchange, err error) {
	h := p.handler(pe.command)
	if h == nil {
		logs.Warnf("diameter.Peer.fail no handler command=%s exchange=%q", schema.CommandName(pe.command), pe.exchangeID)
		return
	}
	h.OnError(pe.exchangeID, err)
	h.OnCleanup(pe.exchangeID)
}

func (p *Peer) dispatch(msg *protocol.Message) {
	if msg.IsRequest() {
		logs.Debugf("diameter.Peer.dispatch ignoring inbound request command=%d", msg.Header.CommandCode)
		return
	}
	pe, ok := p.take(msg.Header.HopByHopID)
	if !ok {
		logs.Debugf("diameter.Peer.dispatch unmatched answer hop_by_hop=%d command=%d",
			msg.Header.HopByHopID, msg.Header.CommandCode)
		return
	}
	observability.RecordAnswerLatency(schema.CommandName(pe.command), time.Since(pe.sentAt))

	h := p.handler(pe.command)
	if h == nil {
		logs.Warnf("diameter.Peer.dispatch no handler command=%s exchange=%q", schema.CommandName(pe.command), pe.exchangeID)
		return
	}
	if err := classify(pe.command, msg); err != nil {
		h.OnError(pe.exchangeID, err)
	} else {
		h.OnAnswer(pe.exchangeID, msg)
	}
	h.OnCleanup(pe.exchangeID)
}

// classify maps server-signalled failures onto a ProtocolError. An answer
// without a base Result-Code is left to the command handler.
func classify(cmd uint32, msg *protocol.Message) error {
	rc, rcErr := msg.ResultCode()
	if msg.Header.CommandCode != cmd {
		return &ProtocolError{CommandCode: msg.Header.CommandCode, ResultCode: rc, ErrorBit: msg.IsError()}
	}
	if msg.IsError() {
		return &ProtocolError{CommandCode: cmd, ResultCode: rc, ErrorBit: true}
	}
	if rcErr == nil && !isSuccessClass(rc) {
		return &ProtocolError{CommandCode: cmd, ResultCode: rc}
	}
	return nil
}

func (p *Peer) currentConn() (net.Conn, error) {
	p.connMu.Lock()
	defer p.connMu.Unlock()
	if p.closed {
		return nil, ErrPeerClosed
	}
	if p.conn == nil {
		return nil, ErrNotConnected
	}
	return p.conn, nil
}

// Connected reports whether the peer link is up.
func (p *Peer) Connected() bool {
	_, err := p.currentConn()
	return err == nil
}

// WaitConnected blocks until the link is up or ctx ends.
func (p *Peer) WaitConnected(ctx context.Context) error {
	for {
		p.connMu.Lock()
		up, ready, closed := p.conn != nil, p.ready, p.closed
		p.connMu.Unlock()
		if closed {
			return ErrPeerClosed
		}
		if up {
			return nil
		}
		select {
		case <-ready:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (p *Peer) attach(conn net.Conn) bool {
	p.connMu.Lock()
	defer p.connMu.Unlock()
	if p.closed {
		return false
	}
	p.conn = conn
	close(p.ready)
	observability.SetPeerConnected(true)
	return true
}

func (p *Peer) detach(conn net.Conn) {
	p.connMu.Lock()
	if p.conn == conn {
		p.conn = nil
		p.ready = make(chan struct{})
	}
	p.connMu.Unlock()
	_ = conn.Close()
	observability.SetPeerConnected(false)
	p.failAll(ErrPeerDisconnected)
}

// Close tears down the current link and stops Run from redialing.
func (p *Peer) Close() error {
	p.connMu.Lock()
	p.closed = true
	conn := p.conn
	p.connMu.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

// Run dials the server and serves the link until ctx ends or Close is called,
// redialing with backoff after each failure.
func (p *Peer) Run(ctx context.Context) error {
	attempt := 0
	for {
		if ctx.Err() != nil {
			return nil
		}
		if _, err := p.currentConn(); errors.Is(err, ErrPeerClosed) {
			return nil
		}
		conn, err := p.dial(ctx)
		if err != nil {
			attempt++
			observability.RecordPeerDial(false)
			delay := p.cfg.Backoff.Delay(attempt, p.rng)
			logs.Warnf("diameter.Peer.Run dial attempt=%d addr=%q retry_in=%s err=%v", attempt, p.cfg.PeerAddr, delay, err)
			if sleepContext(ctx, delay) != nil {
				return nil
			}
			continue
		}
		attempt = 0
		observability.RecordPeerDial(true)
		logs.Infof("diameter.Peer.Run connected addr=%q tls=%v", p.cfg.PeerAddr, p.tlsCfg != nil)

		err = p.serve(ctx, conn)
		if ctx.Err() != nil {
			return nil
		}
		logs.Warnf("diameter.Peer.Run link lost addr=%q err=%v", p.cfg.PeerAddr, err)
	}
}

func (p *Peer) dial(ctx context.Context) (net.Conn, error) {
	dialer := net.Dialer{Timeout: p.cfg.ConnectTimeout}
	rawConn, err := dialer.DialContext(ctx, "tcp", p.cfg.PeerAddr)
	if err != nil {
		return nil, err
	}
	if p.tlsCfg == nil {
		return rawConn, nil
	}
	conn := tls.Client(rawConn, p.tlsCfg)
	handshakeCtx, cancel := context.WithTimeout(ctx, p.cfg.HandshakeTimeout)
	defer cancel()
	if err := conn.HandshakeContext(handshakeCtx); err != nil {
		_ = rawConn.Close()
		return nil, err
	}
	return conn, nil
}

func (p *Peer) serve(ctx context.Context, conn net.Conn) error {
	if !p.attach(conn) {
		_ = conn.Close()
		return ErrPeerClosed
	}
	defer p.detach(conn)
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	reader := bufio.NewReader(conn)
	for {
		f, err := frame.ReadFrame(reader, p.cfg.Limits())
		if err != nil {
			return err
		}
		msg, err := protocol.FromFrame(f)
		if err != nil {
			p.reject(f.Header, err)
			continue
		}
		p.dispatch(msg)
	}
}

// reject completes the exchange an undecodable answer belongs to. The frame
// boundary is intact, so the link stays up.
func (p *Peer) reject(h frame.Header, err error) {
	if h.IsRequest() {
		logs.Warnf("diameter.Peer.reject malformed inbound request command=%d err=%v", h.CommandCode, err)
		return
	}
	pe, ok := p.take(h.HopByHopID)
	if !ok {
		logs.Warnf("diameter.Peer.reject malformed unmatched answer hop_by_hop=%d err=%v", h.HopByHopID, err)
		return
	}
	logs.Warnf("diameter.Peer.reject malformed answer command=%s exchange=%q err=%v",
		schema.CommandName(pe.command), pe.exchangeID, err)
	p.fail(pe, fmt.Errorf("diameter: decode %s answer: %w", schema.CommandName(pe.command), err))
}
