package server

import (
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/resultstream/internal/event"
	"github.com/loykin/resultstream/internal/hub"
	"github.com/loykin/resultstream/internal/router"
	"github.com/loykin/resultstream/internal/sink"
	"github.com/loykin/resultstream/internal/stream"
	"github.com/loykin/resultstream/internal/tenant"
)

// Router provides embeddable HTTP handlers for ingestion, cursor reads and
// live streaming.
// Endpoints:
//   POST {basePath}/log                body: JSON with event_type (fallback category)
//   POST {basePath}/metric             body: metric JSON
//   POST {basePath}/event              body: test lifecycle JSON
//   POST {basePath}/event/log_message  body: test log message JSON
//   GET  {basePath}/events             query: since=<last_id> (cursor) or none (capped dump)
//   GET  {basePath}/applog             capped dump of application logs
//   GET  {basePath}/metric/records     capped dump of metrics
//   POST {basePath}/events/clear       tenant-scoped clear
//   GET  {basePath}/events/stream      SSE live tail of test events
//   GET  {basePath}/applog/stream      SSE live tail of application logs
//   GET  {basePath}/subscribers        hub subscriber counts
//   GET  {basePath}/healthz
// basePath may be empty or start with '/'; no trailing slash.

type Router struct {
	store    sink.Sink
	hub      *hub.Hub
	ingest   *router.Router
	resolver *tenant.Resolver
	logger   *slog.Logger
	basePath string

	snapshotCount int
	keepalive     time.Duration
	retryHint     time.Duration
}

// Config carries the construction knobs of a Router. Zero values fall back
// to package defaults.
type Config struct {
	BasePath      string
	SnapshotCount int
	Keepalive     time.Duration
	RetryHint     time.Duration
	JWTSecret     string
	Logger        *slog.Logger
}

// NewRouter constructs a Router around an already-opened sink, hub and
// ingest dispatch.
func NewRouter(store sink.Sink, h *hub.Hub, ingest *router.Router, cfg Config) *Router {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		store:         store,
		hub:           h,
		ingest:        ingest,
		resolver:      tenant.NewResolver(cfg.JWTSecret),
		logger:        logger,
		basePath:      sanitizeBase(cfg.BasePath),
		snapshotCount: cfg.SnapshotCount,
		keepalive:     cfg.Keepalive,
		retryHint:     cfg.RetryHint,
	}
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.Use(r.resolver.Middleware())

	group.POST("/log", r.ingestHandler(router.CategoryLog))
	group.GET("/log", r.handleLogInfo)
	group.POST("/metric", r.ingestHandler(router.CategoryMetric))
	group.POST("/event", r.ingestHandler(router.CategoryTestEvent))
	group.POST("/event/log_message", r.ingestHandler(router.CategoryTestLogMessage))

	group.GET("/events", r.handleEvents)
	group.GET("/applog", r.handleAppLog)
	group.GET("/metric/records", r.handleMetricRecords)
	group.POST("/events/clear", r.handleClear)
	group.GET("/events/clear", r.handleClearRedirect)

	group.GET("/events/stream", r.streamHandler(hub.StreamTestEvents, event.KindTestEvent))
	group.GET("/applog/stream", r.streamHandler(hub.StreamAppLogs, event.KindAppLog))

	group.GET("/subscribers", r.handleSubscribers)
	group.GET("/healthz", r.handleHealthz)
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
// Shut it down via http.Server's Shutdown or Close.
func NewServer(addr string, r *Router) *http.Server {
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// No WriteTimeout: SSE streams stay open until the viewer leaves.
		IdleTimeout: 60 * time.Second,
	}
	go func() { _ = server.ListenAndServe() }()
	return server
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

func (r *Router) ingestHandler(category router.Category) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "unreadable body"})
			return
		}
		res := r.ingest.Ingest(c.Request.Context(), category, tenant.FromContext(c), body)
		writeJSON(c, res.Status, res.Body)
	}
}

func (r *Router) handleLogInfo(c *gin.Context) {
	writeJSON(c, http.StatusOK, gin.H{"status": "log endpoint expects POST with JSON payload"})
}

func (r *Router) handleEvents(c *gin.Context) {
	tn := tenant.FromContext(c)
	sinceStr := c.Query("since")
	if sinceStr == "" {
		r.dump(c, event.KindTestEvent, tn)
		return
	}
	since, err := strconv.ParseInt(sinceStr, 10, 64)
	if err != nil || since < 0 {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid since cursor"})
		return
	}
	records, err := r.store.QuerySince(c.Request.Context(), event.KindTestEvent, tn, since)
	if err != nil {
		r.logger.Error("cursor read failed", "tenant", tn, "since", since, "error", err)
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: "query failed"})
		return
	}
	writeJSON(c, http.StatusOK, records)
}

func (r *Router) handleAppLog(c *gin.Context) {
	r.dump(c, event.KindAppLog, tenant.FromContext(c))
}

func (r *Router) handleMetricRecords(c *gin.Context) {
	r.dump(c, event.KindMetric, tenant.FromContext(c))
}

// dump is the legacy capped full read: the trailing rows in ascending order.
func (r *Router) dump(c *gin.Context, kind event.Kind, tn string) {
	records, err := r.store.QueryRecent(c.Request.Context(), kind, tn, sink.DefaultRecentLimit)
	if err != nil {
		r.logger.Error("dump read failed", "kind", kind.String(), "tenant", tn, "error", err)
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: "query failed"})
		return
	}
	writeJSON(c, http.StatusOK, records)
}

func (r *Router) handleClear(c *gin.Context) {
	tn := tenant.FromContext(c)
	if err := r.store.Clear(c.Request.Context(), tn); err != nil {
		r.logger.Error("clear failed", "tenant", tn, "error", err)
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: "clear failed"})
		return
	}
	r.logger.Info("cleared all records", "tenant", tn)
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

// handleClearRedirect keeps the old browser-facing clear link working.
func (r *Router) handleClearRedirect(c *gin.Context) {
	tn := tenant.FromContext(c)
	if err := r.store.Clear(c.Request.Context(), tn); err != nil {
		r.logger.Error("clear failed", "tenant", tn, "error", err)
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: "clear failed"})
		return
	}
	c.Redirect(http.StatusSeeOther, r.basePath+"/events")
}

func (r *Router) streamHandler(st hub.Stream, kind event.Kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		tn := tenant.FromContext(c)
		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Status(http.StatusOK)

		sess := stream.New(r.store, r.hub, stream.Options{
			Stream:        st,
			Kind:          kind,
			Tenant:        tn,
			SnapshotCount: r.snapshotCount,
			Keepalive:     r.keepalive,
			RetryHint:     r.retryHint,
		}, r.logger)
		if err := sess.Run(c.Request.Context(), c.Writer); err != nil {
			r.logger.Debug("stream session ended with error", "tenant", tn, "error", err)
		}
	}
}

func (r *Router) handleSubscribers(c *gin.Context) {
	writeJSON(c, http.StatusOK, gin.H{
		"test_events": r.hub.SubscriberCounts(hub.StreamTestEvents),
		"app_logs":    r.hub.SubscriberCounts(hub.StreamAppLogs),
	})
}

func (r *Router) handleHealthz(c *gin.Context) {
	writeJSON(c, http.StatusOK, okResp{OK: true})
}
