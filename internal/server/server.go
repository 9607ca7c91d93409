package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/danmuck/smfaaa/internal/aaa"
	"github.com/danmuck/smfaaa/internal/auth"
	logs "github.com/danmuck/smfaaa/internal/logging"
	"github.com/danmuck/smfaaa/internal/observability"
	"github.com/danmuck/smfaaa/internal/smf"
)

const Version = "0.1.0"

const shutdownGrace = 5 * time.Second

// Sessions is the session manager surface the admin API drives.
type Sessions interface {
	Establish(ctx context.Context, p smf.Params) (smf.Snapshot, error)
	Release(ctx context.Context, id aaa.SessionID) (smf.Snapshot, error)
	Get(id aaa.SessionID) (smf.Snapshot, bool)
	List() []smf.Snapshot
	QueueLen() int
}

type StoreStats interface {
	Stats() aaa.StoreStats
}

type PeerStatus interface {
	Connected() bool
	Pending() int
}

type Options struct {
	NodeID      string
	Addr        string
	CorsOrigins []string
	Logger      zerolog.Logger
	Sessions    Sessions
	Store       StoreStats
	Peer        PeerStatus
	// Auth guards mutating routes when set.
	Auth auth.Validator
}

// Admin is the HTTP control surface of a running node.
type Admin struct {
	opts    Options
	router  *gin.Engine
	started time.Time
}

func New(opts Options) *Admin {
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestID())
	r.Use(observability.RequestLogger(opts.Logger))
	r.Use(observability.RequestMetricsMiddleware(opts.NodeID))
	r.Use(cors.New(cors.Config{
		AllowOrigins:  normalizeOrigins(opts.CorsOrigins),
		AllowMethods:  []string{"GET", "POST", "DELETE"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization", observability.RequestIDHeader},
		ExposeHeaders: []string{observability.RequestIDHeader},
		MaxAge:        12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	a := &Admin{
		opts:    opts,
		router:  r,
		started: time.Now(),
	}
	a.registerRoutes()
	return a
}

func (a *Admin) HTTPRouter() *gin.Engine {
	return a.router
}

// Serve listens on the configured address until ctx ends, then drains
// in-flight requests.
func (a *Admin) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.opts.Addr,
		Handler:           a.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	logs.Infof("server.Admin.Serve node=%s addr=%s", a.opts.NodeID, a.opts.Addr)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logs.Warnf("server.Admin.Serve shutdown err=%v", err)
		return err
	}
	logs.Infof("server.Admin.Serve stopped addr=%s", a.opts.Addr)
	return nil
}

func (a *Admin) requireToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		if a.opts.Auth == nil {
			c.Next()
			return
		}
		if err := auth.Check(a.opts.Auth, c.GetHeader("Authorization")); err != nil {
			logs.Warnf("server.Admin.requireToken denied path=%s err=%v", c.FullPath(), err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.Next()
	}
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
