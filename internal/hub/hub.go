package hub

import (
	"log/slog"
	"sync"

	"github.com/loykin/resultstream/internal/metrics"
)

// Stream selects one of the two fan-out channels the hub maintains.
type Stream int

const (
	StreamTestEvents Stream = iota
	StreamAppLogs
)

func (s Stream) String() string {
	if s == StreamAppLogs {
		return "app_logs"
	}
	return "test_events"
}

// DefaultQueueCapacity bounds each subscriber queue.
const DefaultQueueCapacity = 100

// Queue is one subscriber's bounded frame buffer. The hub owns enqueueing;
// the subscriber drains it.
type Queue chan []byte

// Hub fans newly ingested records out to per-tenant subscriber queues.
// Publish never blocks: a full queue loses its own oldest frame, and a queue
// that stays full is dropped entirely so one stalled viewer can never delay
// the publisher or other viewers.
type Hub struct {
	mu       sync.Mutex
	capacity int
	logger   *slog.Logger
	// stream -> tenant -> subscriber set
	subs map[Stream]map[string]map[Queue]struct{}
}

func New(capacity int, logger *slog.Logger) *Hub {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		capacity: capacity,
		logger:   logger,
		subs: map[Stream]map[string]map[Queue]struct{}{
			StreamTestEvents: {},
			StreamAppLogs:    {},
		},
	}
}

// Subscribe registers a fresh queue for tenant on the given stream and
// returns it. The caller must Unsubscribe it when done.
func (h *Hub) Subscribe(stream Stream, tenant string) Queue {
	q := make(Queue, h.capacity)
	h.mu.Lock()
	defer h.mu.Unlock()
	h.addLocked(stream, tenant, q)
	h.logger.Debug("subscriber added", "stream", stream.String(), "tenant", tenant,
		"tenant_subscribers", len(h.subs[stream][tenant]))
	return q
}

// Unsubscribe removes q from tenant's subscriber set. Removing a queue that
// is not subscribed is a no-op.
func (h *Hub) Unsubscribe(stream Stream, tenant string, q Queue) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(stream, tenant, q)
	h.logger.Debug("subscriber removed", "stream", stream.String(), "tenant", tenant,
		"tenant_subscribers", len(h.subs[stream][tenant]))
}

// Publish offers frame to every current subscriber of tenant. A publish to a
// tenant with zero subscribers does nothing.
func (h *Hub) Publish(stream Stream, tenant string, frame []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	tenants := h.subs[stream]
	set, ok := tenants[tenant]
	if !ok || len(set) == 0 {
		return
	}
	var unhealthy []Queue
	for q := range set {
		metrics.IncPublished(stream.String())
		select {
		case q <- frame:
			continue
		default:
		}
		// Full: drop the oldest frame, then retry exactly once.
		select {
		case <-q:
			metrics.IncDropped(stream.String())
		default:
		}
		select {
		case q <- frame:
		default:
			unhealthy = append(unhealthy, q)
		}
	}
	for _, q := range unhealthy {
		h.logger.Warn("subscriber queue unhealthy, dropping client",
			"stream", stream.String(), "tenant", tenant)
		metrics.IncEvicted(stream.String())
		h.removeLocked(stream, tenant, q)
	}
}

// SubscriberCounts reports the current per-tenant subscriber totals of one
// stream, for operational visibility.
func (h *Hub) SubscriberCounts(stream Stream) map[string]int {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[string]int, len(h.subs[stream]))
	for tenant, set := range h.subs[stream] {
		if len(set) > 0 {
			out[tenant] = len(set)
		}
	}
	return out
}

func (h *Hub) addLocked(stream Stream, tenant string, q Queue) {
	tenants := h.subs[stream]
	set, ok := tenants[tenant]
	if !ok {
		set = make(map[Queue]struct{})
		tenants[tenant] = set
	}
	set[q] = struct{}{}
	metrics.SetSubscribers(stream.String(), h.totalLocked(stream))
}

func (h *Hub) removeLocked(stream Stream, tenant string, q Queue) {
	set, ok := h.subs[stream][tenant]
	if !ok {
		return
	}
	delete(set, q)
	if len(set) == 0 {
		delete(h.subs[stream], tenant)
	}
	metrics.SetSubscribers(stream.String(), h.totalLocked(stream))
}

func (h *Hub) totalLocked(stream Stream) int {
	n := 0
	for _, set := range h.subs[stream] {
		n += len(set)
	}
	return n
}
