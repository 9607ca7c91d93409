package service

import (
	"context"
	"crypto/tls"
	"net"
	"os/signal"
	"syscall"

	"github.com/danmuck/smfaaa/internal/config"
	"github.com/danmuck/smfaaa/internal/diameter"
	logs "github.com/danmuck/smfaaa/internal/logging"
)

// Simulator serves the Nextranet AAA application for local runs and tests.
type Simulator struct {
	cfg       config.SimulatorConfig
	responder *diameter.Responder
}

func NewSimulator(cfg config.SimulatorConfig) (*Simulator, error) {
	if err := cfg.Transport.ValidateServerTransport(); err != nil {
		return nil, err
	}
	var tlsCfg *tls.Config
	if cfg.Transport.TLS.Enabled {
		var err error
		tlsCfg, err = cfg.Transport.ServerTLSConfig()
		if err != nil {
			return nil, err
		}
	}
	return &Simulator{cfg: cfg, responder: diameter.NewResponder(cfg.Responder, tlsCfg)}, nil
}

func (s *Simulator) Responder() *diameter.Responder {
	return s.responder
}

// Run blocks until SIGINT or SIGTERM.
func (s *Simulator) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return s.Serve(ctx)
}

func (s *Simulator) Serve(ctx context.Context) error {
	logs.Infof("service.Simulator.Serve addr=%s origin=%s rules=%d",
		s.cfg.ListenAddr, s.cfg.Responder.OriginHost, len(s.cfg.Responder.Rules))
	return s.responder.ListenAndServe(ctx, s.cfg.ListenAddr)
}

// ServeListener serves on an already bound listener.
func (s *Simulator) ServeListener(ctx context.Context, ln net.Listener) error {
	return s.responder.Serve(ctx, ln)
}
