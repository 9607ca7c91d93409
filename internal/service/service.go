package service

import (
	"context"
	"errors"
	"net"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/danmuck/smfaaa/internal/aaa"
	"github.com/danmuck/smfaaa/internal/auth"
	"github.com/danmuck/smfaaa/internal/config"
	"github.com/danmuck/smfaaa/internal/diameter"
	logs "github.com/danmuck/smfaaa/internal/logging"
	"github.com/danmuck/smfaaa/internal/observability"
	"github.com/danmuck/smfaaa/internal/protocol/schema"
	"github.com/danmuck/smfaaa/internal/server"
	"github.com/danmuck/smfaaa/internal/smf"
)

// Service runs one session-manager node.
type Service struct {
	cfg        config.Config
	manager    *smf.Manager
	store      *aaa.Store
	correlator *aaa.Correlator
	peer       *diameter.Peer
	admin      *server.Admin
}

// New wires a node. The table is shared: the manager owns sessions and the
// correlation layer reads and marks them through aaa.SessionDirectory.
func New(cfg config.Config) (*Service, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	observability.RegisterMetrics()

	peer, err := diameter.NewPeer(cfg.Diameter)
	if err != nil {
		return nil, err
	}

	manager := smf.NewManager(smf.ManagerConfig{
		DestinationHost:  cfg.Node.DestinationHost,
		DestinationRealm: cfg.Node.DestinationRealm,
	}, nil)
	store := aaa.NewStore(cfg.Correlation.Capacity)
	sender := aaa.NewSender(peer, store, manager.Table(), aaa.Origin{
		Host:  cfg.Diameter.OriginHost,
		Realm: cfg.Diameter.OriginRealm,
	})
	manager.SetSender(sender)
	correlator := aaa.NewCorrelator(store, manager.Table(), manager, cfg.Correlation.CorrelatorConfig)
	peer.RegisterHandler(schema.CmdAuth, correlator)

	s := &Service{
		cfg:        cfg,
		manager:    manager,
		store:      store,
		correlator: correlator,
		peer:       peer,
	}
	if strings.TrimSpace(cfg.Admin.Addr) != "" {
		var validator auth.Validator
		if cfg.Admin.Token != "" {
			validator = auth.StaticToken{Token: cfg.Admin.Token}
		}
		s.admin = server.New(server.Options{
			NodeID:      cfg.Node.ID,
			Addr:        cfg.Admin.Addr,
			CorsOrigins: cfg.Admin.CorsOrigins,
			Logger:      observability.InitLogger(cfg.Node.ID),
			Sessions:    manager,
			Store:       store,
			Peer:        peer,
			Auth:        validator,
		})
	}
	return s, nil
}

func (s *Service) Manager() *smf.Manager {
	return s.manager
}

func (s *Service) Store() *aaa.Store {
	return s.store
}

func (s *Service) Peer() *diameter.Peer {
	return s.peer
}

// Admin returns nil when the admin API is disabled.
func (s *Service) Admin() *server.Admin {
	return s.admin
}

// Run blocks until SIGINT or SIGTERM.
func (s *Service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return s.Serve(ctx)
}

// Serve runs every component until ctx ends or one of them fails.
func (s *Service) Serve(ctx context.Context) error {
	logs.Infof("service.Service.Serve node=%s peer=%s origin=%s admin=%q",
		s.cfg.Node.ID, s.cfg.Diameter.PeerAddr, s.cfg.Diameter.OriginHost, s.cfg.Admin.Addr)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.manager.Run(gctx) })
	g.Go(func() error { return s.correlator.Run(gctx) })
	g.Go(func() error { return s.peer.Run(gctx) })
	if s.admin != nil {
		g.Go(func() error { return s.admin.Serve(gctx) })
	}
	if s.cfg.Node.HeartbeatInterval > 0 {
		g.Go(func() error { return s.heartbeat(gctx) })
	}

	err := g.Wait()
	if cerr := s.peer.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
		logs.Warnf("service.Service.Serve peer close err=%v", cerr)
	}
	logs.Infof("service.Service.Serve shutdown node=%s", s.cfg.Node.ID)
	return err
}

func (s *Service) heartbeat(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Node.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			st := s.store.Stats()
			logs.Infof(
				"service.Service.heartbeat node=%s peer_connected=%v pending=%d sessions=%d records=%d/%d exhausted=%d events=%d",
				s.cfg.Node.ID,
				s.peer.Connected(),
				s.peer.Pending(),
				s.manager.Table().Len(),
				st.InUse,
				st.Capacity,
				st.Exhausted,
				s.manager.QueueLen(),
			)
		}
	}
}
