package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/danmuck/smfaaa/internal/aaa"
	logs "github.com/danmuck/smfaaa/internal/logging"
	"github.com/danmuck/smfaaa/internal/smf"
)

type CorrelationInfo struct {
	Store         aaa.StoreStats `json:"store"`
	PeerConnected bool           `json:"peer_connected"`
	PeerPending   int            `json:"peer_pending"`
	EventQueue    int            `json:"event_queue"`
}

func (a *Admin) registerRoutes() {
	r := a.router
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(a.started).String(),
			"node":    a.opts.NodeID,
			"version": Version,
		})
	})

	r.GET("/ready", func(c *gin.Context) {
		ready := a.opts.Peer != nil && a.opts.Peer.Connected()
		status := http.StatusOK
		if !ready {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"ready": ready, "node": a.opts.NodeID})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/correlation", a.correlation)

	sessions := r.Group("/sessions")
	sessions.GET("", a.listSessions)
	sessions.GET("/:id", a.getSession)
	sessions.POST("", a.requireToken(), a.establish)
	sessions.DELETE("/:id", a.requireToken(), a.release)
}

func (a *Admin) correlation(c *gin.Context) {
	var info CorrelationInfo
	if a.opts.Store != nil {
		info.Store = a.opts.Store.Stats()
	}
	if a.opts.Peer != nil {
		info.PeerConnected = a.opts.Peer.Connected()
		info.PeerPending = a.opts.Peer.Pending()
	}
	info.EventQueue = a.opts.Sessions.QueueLen()
	c.JSON(http.StatusOK, info)
}

func (a *Admin) listSessions(c *gin.Context) {
	list := a.opts.Sessions.List()
	if list == nil {
		list = []smf.Snapshot{}
	}
	c.JSON(http.StatusOK, gin.H{"sessions": list})
}

func (a *Admin) getSession(c *gin.Context) {
	snap, ok := a.opts.Sessions.Get(aaa.SessionID(c.Param("id")))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": smf.ErrSessionNotFound.Error()})
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (a *Admin) establish(c *gin.Context) {
	var p smf.Params
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	snap, err := a.opts.Sessions.Establish(c.Request.Context(), p)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, snap)
}

func (a *Admin) release(c *gin.Context) {
	snap, err := a.opts.Sessions.Release(c.Request.Context(), aaa.SessionID(c.Param("id")))
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, snap)
}

func statusFor(err error) int {
	var se *aaa.SendError
	switch {
	case errors.Is(err, smf.ErrIMSIRequired):
		return http.StatusBadRequest
	case errors.Is(err, smf.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.As(err, &se):
		if se.Reason == aaa.ReasonTransport {
			return http.StatusBadGateway
		}
		return http.StatusUnprocessableEntity
	default:
		logs.Errf("server.statusFor unexpected err=%v", err)
		return http.StatusInternalServerError
	}
}
