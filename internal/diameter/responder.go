package diameter

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	logs "github.com/danmuck/smfaaa/internal/logging"
	"github.com/danmuck/smfaaa/internal/protocol"
	"github.com/danmuck/smfaaa/internal/protocol/avp"
	"github.com/danmuck/smfaaa/internal/protocol/frame"
	"github.com/danmuck/smfaaa/internal/protocol/schema"
)

// Rule decides how the responder answers one subscriber's Auth-Request.
type Rule struct {
	Outcome uint32
	// ResultCode overrides the base Result-Code; zero means 2001.
	ResultCode uint32
	OmitResult bool
	Drop       bool
	Delay      time.Duration
}

type ResponderConfig struct {
	OriginHost  string
	OriginRealm string
	Default     Rule
	// Rules are keyed by IMSI.
	Rules  map[string]Rule
	Limits frame.Limits
}

type ResponderStats struct {
	Auth    uint64
	Term    uint64
	Dropped uint64
	Invalid uint64
}

// Responder is a minimal AAA server speaking the Nextranet application.
type Responder struct {
	cfg    ResponderConfig
	tlsCfg *tls.Config

	rulesMu sync.RWMutex
	rules   map[string]Rule

	auth    atomic.Uint64
	term    atomic.Uint64
	dropped atomic.Uint64
	invalid atomic.Uint64

	connsMu sync.Mutex
	conns   map[net.Conn]struct{}
	wg      sync.WaitGroup
}

// NewResponder builds a responder; tlsCfg may be nil for plain TCP.
func NewResponder(cfg ResponderConfig, tlsCfg *tls.Config) *Responder {
	if cfg.OriginHost == "" {
		cfg.OriginHost = "aaa.local"
	}
	if cfg.OriginRealm == "" {
		cfg.OriginRealm = "local"
	}
	if cfg.Limits.MaxMessageBytes == 0 {
		cfg.Limits = frame.DefaultLimits()
	}
	rules := make(map[string]Rule, len(cfg.Rules))
	for imsi, rule := range cfg.Rules {
		rules[imsi] = rule
	}
	return &Responder{
		cfg:    cfg,
		tlsCfg: tlsCfg,
		rules:  rules,
		conns:  make(map[net.Conn]struct{}),
	}
}

func (r *Responder) SetRule(imsi string, rule Rule) {
	r.rulesMu.Lock()
	defer r.rulesMu.Unlock()
	r.rules[imsi] = rule
}

func (r *Responder) rule(imsi string) Rule {
	r.rulesMu.RLock()
	defer r.rulesMu.RUnlock()
	if rule, ok := r.rules[imsi]; ok {
		return rule
	}
	return r.cfg.Default
}

func (r *Responder) Stats() ResponderStats {
	return ResponderStats{
		Auth:    r.auth.Load(),
		Term:    r.term.Load(),
		Dropped: r.dropped.Load(),
		Invalid: r.invalid.Load(),
	}
}

// ListenAndServe listens on addr and serves until ctx ends.
func (r *Responder) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	logs.Infof("diameter.Responder listening addr=%q tls=%v", ln.Addr().String(), r.tlsCfg != nil)
	return r.Serve(ctx, ln)
}

// Serve accepts peers on ln until ctx ends, then closes every live link.
func (r *Responder) Serve(ctx context.Context, ln net.Listener) error {
	if r.tlsCfg != nil {
		ln = tls.NewListener(ln, r.tlsCfg)
	}
	defer ln.Close()
	stop := context.AfterFunc(ctx, func() {
		r.closeAllConns()
		_ = ln.Close()
	})
	defer stop()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				r.wg.Wait()
				return nil
			}
			return err
		}
		r.trackConn(conn)
		r.wg.Add(1)
		go r.handleConn(conn)
	}
}

func (r *Responder) handleConn(conn net.Conn) {
	defer r.wg.Done()
	defer r.untrackConn(conn)
	defer conn.Close()
	remote := conn.RemoteAddr().String()
	logs.Infof("diameter.Responder peer connected remote=%q", remote)

	var writeMu sync.Mutex
	var pending sync.WaitGroup
	defer pending.Wait()
	reader := bufio.NewReader(conn)
	for {
		req, err := protocol.Decode(reader, r.cfg.Limits)
		if err != nil {
			logs.Debugf("diameter.Responder peer closed remote=%q err=%v", remote, err)
			return
		}
		ans, delay := r.answer(req)
		if ans == nil {
			continue
		}
		if delay <= 0 {
			writeMu.Lock()
			err = protocol.Encode(conn, ans, r.cfg.Limits)
			writeMu.Unlock()
			if err != nil {
				logs.Warnf("diameter.Responder write remote=%q err=%v", remote, err)
				return
			}
			continue
		}
		pending.Add(1)
		go func() {
			defer pending.Done()
			time.Sleep(delay)
			writeMu.Lock()
			defer writeMu.Unlock()
			if err := protocol.Encode(conn, ans, r.cfg.Limits); err != nil {
				logs.Debugf("diameter.Responder delayed write remote=%q err=%v", remote, err)
			}
		}()
	}
}

// answer builds the reply for req, or nil when the request is dropped.
func (r *Responder) answer(req *protocol.Message) (*protocol.Message, time.Duration) {
	if !req.IsRequest() {
		return nil, 0
	}
	ans := protocol.NewAnswer(req)
	ans.Add(
		avp.Base(schema.AVPOriginHost, avp.UTF8String(r.cfg.OriginHost)),
		avp.Base(schema.AVPOriginRealm, avp.UTF8String(r.cfg.OriginRealm)),
	)
	if err := req.Validate(); err != nil {
		r.invalid.Add(1)
		logs.Warnf("diameter.Responder invalid request command=%d err=%v", req.Header.CommandCode, err)
		ans.Add(avp.Base(schema.AVPResultCode, avp.Unsigned32(schema.ResultMissingAVP)))
		return ans, 0
	}

	imsi := ""
	if a, ok := req.Find(schema.AVPIMSI, schema.VendorID); ok {
		imsi = a.Text()
	}

	switch req.Header.CommandCode {
	case schema.CmdAuth:
		r.auth.Add(1)
		rule := r.rule(imsi)
		if rule.Drop {
			r.dropped.Add(1)
			logs.Debugf("diameter.Responder dropping auth imsi=%s", imsi)
			return nil, 0
		}
		rc := rule.ResultCode
		if rc == 0 {
			rc = schema.ResultSuccess
		}
		ans.Add(avp.Base(schema.AVPResultCode, avp.Unsigned32(rc)))
		if !rule.OmitResult {
			ans.Add(avp.Vendor(schema.AVPResult, schema.VendorID, avp.Unsigned32(rule.Outcome)))
		}
		return ans, rule.Delay
	case schema.CmdTerm:
		r.term.Add(1)
		ans.Add(avp.Base(schema.AVPResultCode, avp.Unsigned32(schema.ResultSuccess)))
		return ans, 0
	default:
		return nil, 0
	}
}

func (r *Responder) trackConn(conn net.Conn) {
	r.connsMu.Lock()
	defer r.connsMu.Unlock()
	r.conns[conn] = struct{}{}
}

func (r *Responder) untrackConn(conn net.Conn) {
	r.connsMu.Lock()
	defer r.connsMu.Unlock()
	delete(r.conns, conn)
}

func (r *Responder) closeAllConns() {
	r.connsMu.Lock()
	defer r.connsMu.Unlock()
	for conn := range r.conns {
		_ = conn.Close()
		delete(r.conns, conn)
	}
}
