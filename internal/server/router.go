package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/rollout/internal/metrics"
	"github.com/loykin/rollout/internal/updater"
)

// Router provides the read-only status HTTP API.
// Endpoints:
//
//	GET {basePath}/status    current state, versions and process status
//	GET {basePath}/versions  ordered version history, oldest first
//	GET {basePath}/healthz   200 while the server is up
//	GET {basePath}/metrics   Prometheus metrics
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	ctrl     *updater.Controller
	basePath string
}

// NewRouter constructs a Router over the controller's snapshots.
func NewRouter(ctrl *updater.Controller, basePath string) *Router {
	return &Router{ctrl: ctrl, basePath: sanitizeBase(basePath)}
}

func sanitizeBase(bp string) string {
	bp = strings.TrimSpace(bp)
	if bp == "" {
		return ""
	}
	if !strings.HasPrefix(bp, "/") {
		bp = "/" + bp
	}
	return strings.TrimRight(bp, "/")
}

// Handler returns an http.Handler powered by gin that can be mounted in any
// server/mux.
func (r *Router) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/status", r.handleStatus)
	group.GET("/versions", r.handleVersions)
	group.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	group.GET("/metrics", gin.WrapH(metrics.Handler()))
	return g
}

func (r *Router) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, r.ctrl.Snapshot())
}

func (r *Router) handleVersions(c *gin.Context) {
	snap := r.ctrl.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"versions": snap.History,
		"current":  snap.Current,
		"previous": snap.Previous,
	})
}

// NewServer starts a standalone HTTP server on addr using this router.
func NewServer(addr, basePath string, ctrl *updater.Controller) *http.Server {
	r := NewRouter(ctrl, basePath)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
