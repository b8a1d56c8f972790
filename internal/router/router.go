// Package router validates inbound events and routes them by declared
// event_type: every accepted record is persisted first, then fanned out to
// live viewers and forwarded best-effort to the analytics exporter.
// Ingestion is at-most-once; a failed write is never retried here.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/loykin/resultstream/internal/event"
	"github.com/loykin/resultstream/internal/export"
	"github.com/loykin/resultstream/internal/hub"
	"github.com/loykin/resultstream/internal/metrics"
	"github.com/loykin/resultstream/internal/sink"
)

// Category is the ingest endpoint family a request arrived on. Each category
// accepts a fixed set of event types; only CategoryLog falls back to the
// application-log handler for types outside its set.
type Category int

const (
	CategoryLog Category = iota
	CategoryMetric
	CategoryTestEvent
	CategoryTestLogMessage
)

func (c Category) String() string {
	switch c {
	case CategoryLog:
		return "log"
	case CategoryMetric:
		return "metric"
	case CategoryTestEvent:
		return "event"
	case CategoryTestLogMessage:
		return "event/log_message"
	default:
		return "unknown"
	}
}

// Result is the outcome of one ingest request, ready for the HTTP layer.
type Result struct {
	Status int
	Body   any
}

type errorBody struct {
	Error string `json:"error"`
}

type receivedBody struct {
	Received bool `json:"received"`
}

func reject(category Category, status int, reason string) Result {
	metrics.IncRejected(category.String(), reasonLabel(status))
	return Result{Status: status, Body: errorBody{Error: reason}}
}

func reasonLabel(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "client_error"
	case http.StatusServiceUnavailable:
		return "storage_unavailable"
	default:
		return "internal_error"
	}
}

// Router is the ingestion dispatch. It is constructed once at startup and
// holds no mutable state of its own.
type Router struct {
	sink     sink.Sink
	hub      *hub.Hub
	exporter export.Sink
	logger   *slog.Logger
	now      func() time.Time
}

// New builds a Router. exporter may be nil when no analytics export is
// configured; logger nil falls back to slog.Default.
func New(s sink.Sink, h *hub.Hub, exporter export.Sink, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{sink: s, hub: h, exporter: exporter, logger: logger, now: time.Now}
}

// Ingest applies the category's validation and dispatch contract to one
// parsed JSON body. tenant is the identity-layer tenant, which wins over any
// tenant_id field inside the body.
func (r *Router) Ingest(ctx context.Context, category Category, tenant string, body []byte) Result {
	var probe struct {
		EventType event.Type `json:"event_type"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return reject(category, http.StatusBadRequest, "invalid JSON")
	}
	if probe.EventType == "" {
		return reject(category, http.StatusBadRequest, "missing event_type")
	}

	rec, res := decode(category, probe.EventType, body)
	if rec == nil {
		return res
	}
	event.Normalize(rec, tenant, r.now())

	if err := r.handle(ctx, rec); err != nil {
		if isTransient(err) {
			r.logger.Warn("storage unavailable during ingest",
				"category", category.String(), "event_type", string(probe.EventType), "error", err)
			return reject(category, http.StatusServiceUnavailable, "storage unavailable")
		}
		r.logger.Error("event handler failed",
			"category", category.String(), "event_type", string(probe.EventType),
			"tenant", rec.Tenant(), "error", err)
		return reject(category, http.StatusInternalServerError, "internal server error")
	}
	return Result{Status: http.StatusOK, Body: receivedBody{Received: true}}
}

// decode selects the record type for the declared event_type, or rejects.
func decode(category Category, t event.Type, body []byte) (event.Record, Result) {
	switch category {
	case CategoryTestEvent:
		if !t.IsLifecycle() {
			return nil, invalidType(category, t)
		}
		return unmarshalInto(category, &event.Event{})(body)
	case CategoryTestLogMessage:
		if t != event.TypeLogMessage {
			return nil, invalidType(category, t)
		}
		return unmarshalInto(category, &event.TestLogMessage{})(body)
	case CategoryMetric:
		if t != event.TypeMetric {
			return nil, invalidType(category, t)
		}
		return unmarshalInto(category, &event.MetricRecord{})(body)
	case CategoryLog:
		// The generic log endpoint routes declared metrics to the metric
		// handler and treats every other type as an application log line.
		if t == event.TypeMetric {
			return unmarshalInto(category, &event.MetricRecord{})(body)
		}
		return unmarshalInto(category, &event.AppLogRecord{})(body)
	default:
		return nil, invalidType(category, t)
	}
}

func invalidType(category Category, t event.Type) Result {
	return reject(category, http.StatusBadRequest,
		fmt.Sprintf("invalid event_type %q for category %s", string(t), category.String()))
}

func unmarshalInto[T event.Record](category Category, rec T) func([]byte) (event.Record, Result) {
	return func(body []byte) (event.Record, Result) {
		if err := json.Unmarshal(body, rec); err != nil {
			return nil, reject(category, http.StatusBadRequest, "invalid JSON")
		}
		return rec, Result{}
	}
}

// handle persists rec, then publishes the stored form (carrying its assigned
// id) to live subscribers and the exporter. Broadcast and export are
// best-effort: the persisted row is the durability guarantee.
func (r *Router) handle(ctx context.Context, rec event.Record) error {
	start := r.now()
	id, err := r.sink.Append(ctx, rec)
	if err != nil {
		return fmt.Errorf("append %s: %w", rec.Kind(), err)
	}
	metrics.ObserveAppend(rec.Kind().String(), r.now().Sub(start).Seconds())
	metrics.IncIngested(rec.Kind().String(), rec.Tenant())
	// Sinks do not modify rec; the assigned id must be on the record before
	// it is marshalled for subscribers or handed to the exporter.
	event.SetRowID(rec, id)

	if r.hub != nil {
		if stream, ok := streamFor(rec.Kind()); ok {
			frame, err := json.Marshal(rec)
			if err == nil {
				r.hub.Publish(stream, rec.Tenant(), frame)
			}
		}
	}
	if r.exporter != nil {
		if err := r.exporter.Send(ctx, rec); err != nil {
			r.logger.Warn("export sink rejected record",
				"kind", rec.Kind().String(), "id", id, "error", err)
		}
	}
	return nil
}

// streamFor maps a record kind to its broadcast stream. Metrics are
// persisted and exported but not streamed live.
func streamFor(kind event.Kind) (hub.Stream, bool) {
	switch kind {
	case event.KindTestEvent, event.KindTestLogMessage:
		return hub.StreamTestEvents, true
	case event.KindAppLog:
		return hub.StreamAppLogs, true
	default:
		return 0, false
	}
}

// isTransient classifies storage errors that a producer may retry later:
// the store is reachable in principle but refused this write.
func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, probe := range []string{
		"database is locked",
		"connection refused",
		"connection reset",
		"too many connections",
		"failed to connect",
	} {
		if strings.Contains(msg, probe) {
			return true
		}
	}
	return false
}
