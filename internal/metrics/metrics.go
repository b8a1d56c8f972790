package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	ingestedRecords = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "resultstream",
			Subsystem: "ingest",
			Name:      "records_total",
			Help:      "Number of records accepted and persisted, by kind and tenant.",
		}, []string{"kind", "tenant"},
	)
	ingestRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "resultstream",
			Subsystem: "ingest",
			Name:      "rejections_total",
			Help:      "Number of rejected ingest requests, by category and reason.",
		}, []string{"category", "reason"},
	)
	appendDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "resultstream",
			Subsystem: "sink",
			Name:      "append_duration_seconds",
			Help:      "Observed storage append latency per record kind.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"},
	)
	publishedFrames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "resultstream",
			Subsystem: "hub",
			Name:      "published_frames_total",
			Help:      "Number of frames offered to subscriber queues.",
		}, []string{"stream"},
	)
	droppedFrames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "resultstream",
			Subsystem: "hub",
			Name:      "dropped_frames_total",
			Help:      "Number of frames discarded by drop-oldest backpressure.",
		}, []string{"stream"},
	)
	evictedSubscribers = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "resultstream",
			Subsystem: "hub",
			Name:      "evicted_subscribers_total",
			Help:      "Number of subscribers dropped because their queue stayed full.",
		}, []string{"stream"},
	)
	activeSubscribers = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "resultstream",
			Subsystem: "hub",
			Name:      "subscribers",
			Help:      "Current subscriber queues per stream.",
		}, []string{"stream"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{ingestedRecords, ingestRejections, appendDuration, publishedFrames, droppedFrames, evictedSubscribers, activeSubscribers}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
// The caller is responsible for starting an HTTP server and wiring the route.
func Handler() http.Handler { return promhttp.Handler() }

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncIngested(kind, tenant string) {
	if regOK.Load() {
		ingestedRecords.WithLabelValues(kind, tenant).Inc()
	}
}

func IncRejected(category, reason string) {
	if regOK.Load() {
		ingestRejections.WithLabelValues(category, reason).Inc()
	}
}

func ObserveAppend(kind string, seconds float64) {
	if regOK.Load() {
		appendDuration.WithLabelValues(kind).Observe(seconds)
	}
}

func IncPublished(stream string) {
	if regOK.Load() {
		publishedFrames.WithLabelValues(stream).Inc()
	}
}

func IncDropped(stream string) {
	if regOK.Load() {
		droppedFrames.WithLabelValues(stream).Inc()
	}
}

func IncEvicted(stream string) {
	if regOK.Load() {
		evictedSubscribers.WithLabelValues(stream).Inc()
	}
}

func SetSubscribers(stream string, n int) {
	if regOK.Load() {
		activeSubscribers.WithLabelValues(stream).Set(float64(n))
	}
}
