package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/applauncher/internal/events"
	"github.com/loykin/applauncher/internal/history"
	"github.com/loykin/applauncher/internal/logger"
	mng "github.com/loykin/applauncher/internal/manager"
	"github.com/loykin/applauncher/internal/metrics"
)

// Router provides embeddable HTTP handlers for the launcher engine.
// Endpoints, relative to basePath:
//
//	GET    /profiles                          list profiles
//	POST   /profiles                          body: {"name": ...}
//	GET    /profiles/:name                    one profile
//	PATCH  /profiles/:name                    body: {"name": ...} rename
//	DELETE /profiles/:name                    stop if needed, then remove
//	POST   /profiles/:name/apps               body: {"name","path","arguments"}
//	PUT    /profiles/:name/apps/:index        body: partial entry
//	DELETE /profiles/:name/apps/:index
//	POST   /profiles/:name/apps/:index/move   body: {"to": n}
//	POST   /profiles/:name/apps/:index/stop
//	POST   /profiles/:name/launch             toggle
//	POST   /profiles/:name/stop
//	POST   /stop-all
//	GET    /status                            launching indicator and running profiles
//	GET    /events                            server-sent events
//	GET    /history                           query: limit=50
//	GET    /resources                         per-entry CPU and memory
//	GET    /metrics                           Prometheus, when enabled
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	mgr      *mng.Manager
	basePath string

	bus       *events.Bus
	hist      history.Reader
	resources *metrics.ResourceCollector
	metrics   bool
}

// NewRouter constructs a new Router with configurable basePath.
func NewRouter(mgr *mng.Manager, basePath string) *Router {
	return &Router{mgr: mgr, basePath: sanitizeBase(basePath)}
}

// SetBus enables GET /events.
func (r *Router) SetBus(b *events.Bus) { r.bus = b }

// SetHistory enables GET /history.
func (r *Router) SetHistory(h history.Reader) { r.hist = h }

// SetResources enables GET /resources.
func (r *Router) SetResources(c *metrics.ResourceCollector) { r.resources = c }

// EnableMetrics serves the Prometheus handler at GET /metrics.
func (r *Router) EnableMetrics() { r.metrics = true }

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(recovery(), requestLog())
	group := g.Group(r.basePath)

	group.GET("/profiles", r.handleListProfiles)
	group.POST("/profiles", r.handleAddProfile)
	group.GET("/profiles/:name", r.handleGetProfile)
	group.PATCH("/profiles/:name", r.handleRenameProfile)
	group.DELETE("/profiles/:name", r.handleRemoveProfile)

	group.POST("/profiles/:name/apps", r.handleAddApp)
	group.PUT("/profiles/:name/apps/:index", r.handleUpdateApp)
	group.DELETE("/profiles/:name/apps/:index", r.handleRemoveApp)
	group.POST("/profiles/:name/apps/:index/move", r.handleMoveApp)
	group.POST("/profiles/:name/apps/:index/stop", r.handleStopApp)

	group.POST("/profiles/:name/launch", r.handleLaunch)
	group.POST("/profiles/:name/stop", r.handleStop)
	group.POST("/stop-all", r.handleStopAll)

	group.GET("/status", r.handleStatus)
	group.GET("/events", r.handleEvents)
	group.GET("/history", r.handleHistory)
	group.GET("/resources", r.handleResources)
	if r.metrics {
		group.GET("/metrics", gin.WrapH(metrics.Handler()))
	}
	return g
}

// NewServer wraps the router in an http.Server for addr. The caller runs
// ListenAndServe and Shutdown.
func NewServer(addr string, r *Router) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// no WriteTimeout: /events streams stay open
		IdleTimeout: 60 * time.Second,
	}
}

// recovery logs a handler panic with its stack to the durable log and
// answers 500; the server keeps serving.
func recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, v any) {
		logger.LogPanic(fmt.Sprintf("%s %s", c.Request.Method, c.FullPath()), v)
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: fmt.Sprintf("internal error: %v", v)})
		c.Abort()
	})
}

func requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Debug("HTTP request", "method", c.Request.Method, "path", c.Request.URL.Path,
			"status", c.Writer.Status(), "duration", time.Since(start))
	}
}
