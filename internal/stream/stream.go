// Package stream implements the per-viewer streaming session: subscribe to
// the broadcast hub, replay a bounded historical snapshot, then relay the
// live tail with periodic keepalives. Subscribing before the snapshot is
// deliberate: a record ingested during the snapshot may be delivered twice,
// but never skipped.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/loykin/resultstream/internal/event"
	"github.com/loykin/resultstream/internal/hub"
	"github.com/loykin/resultstream/internal/sink"
)

const (
	// DefaultSnapshotCount is how many trailing records the snapshot replays.
	DefaultSnapshotCount = 50
	// DefaultKeepalive is the idle interval before a keepalive comment frame.
	DefaultKeepalive = 30 * time.Second
	// DefaultRetryHint is the reconnect delay suggested to the client.
	DefaultRetryHint = 2 * time.Second
)

// Options configures one session.
type Options struct {
	Stream        hub.Stream
	Kind          event.Kind
	Tenant        string
	SnapshotCount int
	Keepalive     time.Duration
	RetryHint     time.Duration
}

func (o *Options) fill() {
	if o.SnapshotCount <= 0 {
		o.SnapshotCount = DefaultSnapshotCount
	}
	if o.Keepalive <= 0 {
		o.Keepalive = DefaultKeepalive
	}
	if o.RetryHint <= 0 {
		o.RetryHint = DefaultRetryHint
	}
	if o.Tenant == "" {
		o.Tenant = event.DefaultTenant
	}
}

// phase tracks where in the protocol a session is; it exists for logging and
// error context, the transitions themselves are fixed.
type phase int

const (
	phaseSubscribe phase = iota
	phaseSnapshot
	phaseLive
	phaseDone
)

func (p phase) String() string {
	switch p {
	case phaseSubscribe:
		return "subscribe"
	case phaseSnapshot:
		return "snapshot"
	case phaseLive:
		return "live"
	default:
		return "done"
	}
}

// Session is one viewer connection's protocol run.
type Session struct {
	store  sink.Sink
	hub    *hub.Hub
	opts   Options
	logger *slog.Logger
	phase  phase
}

func New(store sink.Sink, h *hub.Hub, opts Options, logger *slog.Logger) *Session {
	opts.fill()
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{store: store, hub: h, opts: opts, logger: logger}
}

// Run drives the session until the client disconnects (ctx cancellation), a
// write fails, or the snapshot read errors. The hub subscription is released
// on every exit path.
func (s *Session) Run(ctx context.Context, w io.Writer) error {
	flush := func() {}
	if f, ok := w.(http.Flusher); ok {
		flush = f.Flush
	}

	s.phase = phaseSubscribe
	q := s.hub.Subscribe(s.opts.Stream, s.opts.Tenant)
	defer s.hub.Unsubscribe(s.opts.Stream, s.opts.Tenant, q)
	defer func() { s.phase = phaseDone }()

	if err := s.writeRetryHint(w, flush); err != nil {
		return err
	}
	if err := s.snapshot(ctx, w, flush); err != nil {
		return err
	}
	return s.live(ctx, q, w, flush)
}

func (s *Session) writeRetryHint(w io.Writer, flush func()) error {
	if _, err := fmt.Fprintf(w, "retry: %d\n\n", s.opts.RetryHint.Milliseconds()); err != nil {
		return fmt.Errorf("stream %s: %w", s.phase, err)
	}
	flush()
	return nil
}

// snapshot replays the trailing records so a reconnecting viewer catches up
// before the live tail takes over.
func (s *Session) snapshot(ctx context.Context, w io.Writer, flush func()) error {
	s.phase = phaseSnapshot
	latest, err := s.store.LatestID(ctx, s.opts.Kind, s.opts.Tenant)
	if err != nil {
		return fmt.Errorf("stream %s: %w", s.phase, err)
	}
	since := latest - int64(s.opts.SnapshotCount)
	if since < 0 {
		since = 0
	}
	records, err := s.store.QuerySince(ctx, s.opts.Kind, s.opts.Tenant, since)
	if err != nil {
		return fmt.Errorf("stream %s: %w", s.phase, err)
	}
	for _, rec := range records {
		frame, err := json.Marshal(rec)
		if err != nil {
			continue
		}
		if err := writeData(w, frame); err != nil {
			return fmt.Errorf("stream %s: %w", s.phase, err)
		}
	}
	flush()
	return nil
}

// live relays hub frames as they arrive, emitting a keepalive comment frame
// whenever the queue stays idle for the configured interval.
func (s *Session) live(ctx context.Context, q hub.Queue, w io.Writer, flush func()) error {
	s.phase = phaseLive
	idle := time.NewTimer(s.opts.Keepalive)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("stream session closed", "stream", s.opts.Stream.String(), "tenant", s.opts.Tenant)
			return nil
		case frame := <-q:
			if err := writeData(w, frame); err != nil {
				return fmt.Errorf("stream %s: %w", s.phase, err)
			}
			flush()
		case <-idle.C:
			if _, err := io.WriteString(w, ": keep-alive\n\n"); err != nil {
				return fmt.Errorf("stream %s: %w", s.phase, err)
			}
			flush()
		}
		if !idle.Stop() {
			select {
			case <-idle.C:
			default:
			}
		}
		idle.Reset(s.opts.Keepalive)
	}
}

func writeData(w io.Writer, frame []byte) error {
	_, err := fmt.Fprintf(w, "data: %s\n\n", frame)
	return err
}
