package resultstream

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	cfg "github.com/loykin/resultstream/internal/config"
	"github.com/loykin/resultstream/internal/event"
	"github.com/loykin/resultstream/internal/export"
	"github.com/loykin/resultstream/internal/export/clickhouse"
	"github.com/loykin/resultstream/internal/hub"
	"github.com/loykin/resultstream/internal/metrics"
	"github.com/loykin/resultstream/internal/router"
	"github.com/loykin/resultstream/internal/server"
	"github.com/loykin/resultstream/internal/sink"
	"github.com/loykin/resultstream/internal/sink/factory"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Event = event.Event

type TestLogMessage = event.TestLogMessage

type AppLogRecord = event.AppLogRecord

type MetricRecord = event.MetricRecord

type Config = cfg.FileConfig

type Sink = sink.Sink

func LoadConfig(path string) (Config, error) { return cfg.Load(path) }

func DefaultConfig() Config { return cfg.Default() }

// Service wires a sink, a broadcast hub and the ingest dispatch into one
// embeddable unit. It provides a stable public API for embedding.
type Service struct {
	store    sink.Sink
	hub      *hub.Hub
	exporter export.Sink
	api      *server.Router
}

// New opens the configured sink, prepares its schema and assembles the
// service. Close releases the sink and the optional export connection.
func New(ctx context.Context, c Config, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	store, err := factory.Open(c.DSN)
	if err != nil {
		return nil, fmt.Errorf("open sink %q: %w", c.DSN, err)
	}
	if err := store.EnsureSchema(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	var exporter export.Sink
	if c.Export.Enabled {
		ch, err := clickhouse.New(c.Export.Addr, c.Export.Database, c.Export.Username, c.Export.Password, c.Export.Table)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("open export: %w", err)
		}
		if err := ch.EnsureSchema(ctx); err != nil {
			_ = ch.Close()
			_ = store.Close()
			return nil, fmt.Errorf("export schema: %w", err)
		}
		exporter = ch
	}

	h := hub.New(c.Hub.QueueCapacity, logger)
	ingest := router.New(store, h, exporter, logger)
	api := server.NewRouter(store, h, ingest, server.Config{
		BasePath:      c.BasePath,
		SnapshotCount: c.Stream.SnapshotCount,
		Keepalive:     c.Stream.Keepalive,
		RetryHint:     c.Stream.RetryHint,
		JWTSecret:     c.JWTSecret,
		Logger:        logger,
	})
	return &Service{store: store, hub: h, exporter: exporter, api: api}, nil
}

// Handler returns the HTTP API so it can be mounted in any server or mux.
func (s *Service) Handler() http.Handler { return s.api.Handler() }

// NewServer starts a standalone HTTP server on addr serving the API.
func (s *Service) NewServer(addr string) *http.Server { return server.NewServer(addr, s.api) }

// Sink exposes the underlying store, mainly for embedders and tests.
func (s *Service) Sink() sink.Sink { return s.store }

// Close releases the sink and the export connection.
func (s *Service) Close() error {
	var firstErr error
	if s.exporter != nil {
		if err := s.exporter.Close(); err != nil {
			firstErr = err
		}
	}
	if err := s.store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// ServeMetrics starts an HTTP server on addr exposing /metrics using the default registry.
// It returns any immediate listen error; otherwise it runs the server in the caller goroutine.
func ServeMetrics(addr string) error {
	http.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           nil,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv.ListenAndServe()
}
