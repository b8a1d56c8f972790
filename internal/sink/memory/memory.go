package memory

import (
	"context"
	"sync"

	"github.com/loykin/resultstream/internal/event"
	"github.com/loykin/resultstream/internal/sink"
)

func init() {
	sink.Register("memory", func(string) (sink.Sink, error) { return New(), nil })
}

// Store implements sink.Sink entirely in process memory. It backs tests and
// short-lived demo deployments; nothing survives a restart.
type Store struct {
	mu     sync.RWMutex
	rows   map[event.Kind][]event.Record
	nextID map[event.Kind]int64
}

func New() *Store {
	s := &Store{
		rows:   make(map[event.Kind][]event.Record),
		nextID: make(map[event.Kind]int64),
	}
	for _, k := range event.AllKinds() {
		s.rows[k] = nil
		s.nextID[k] = 1
	}
	return s
}

func (s *Store) EnsureSchema(context.Context) error { return nil }

func (s *Store) Append(_ context.Context, rec event.Record) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kind := rec.Kind()
	id := s.nextID[kind]
	s.nextID[kind] = id + 1
	stored := assignID(rec, id)
	s.rows[kind] = append(s.rows[kind], stored)
	return id, nil
}

func (s *Store) QuerySince(_ context.Context, kind event.Kind, tenant string, lastID int64) ([]event.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]event.Record, 0)
	for _, r := range s.rows[kind] {
		if r.Tenant() == tenant && r.RowID() > lastID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *Store) QueryRecent(ctx context.Context, kind event.Kind, tenant string, limit int) ([]event.Record, error) {
	if limit <= 0 {
		limit = sink.DefaultRecentLimit
	}
	all, err := s.QuerySince(ctx, kind, tenant, 0)
	if err != nil {
		return nil, err
	}
	if len(all) > limit {
		all = all[len(all)-limit:]
	}
	return all, nil
}

func (s *Store) LatestID(_ context.Context, kind event.Kind, tenant string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest int64
	for _, r := range s.rows[kind] {
		if r.Tenant() == tenant && r.RowID() > latest {
			latest = r.RowID()
		}
	}
	return latest, nil
}

func (s *Store) Clear(_ context.Context, tenant string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for kind, rows := range s.rows {
		kept := rows[:0:0]
		for _, r := range rows {
			if r.Tenant() != tenant {
				kept = append(kept, r)
			}
		}
		s.rows[kind] = kept
	}
	return nil
}

func (s *Store) Close() error { return nil }

// assignID copies rec so stored rows stay immutable even if the caller
// mutates its struct afterwards. The caller's record is left unchanged,
// matching the SQL backends.
func assignID(rec event.Record, id int64) event.Record {
	switch r := rec.(type) {
	case *event.Event:
		c := *r
		c.ID = id
		c.Tags = append([]string(nil), r.Tags...)
		return &c
	case *event.TestLogMessage:
		c := *r
		c.ID = id
		return &c
	case *event.AppLogRecord:
		c := *r
		c.ID = id
		return &c
	case *event.MetricRecord:
		c := *r
		c.ID = id
		return &c
	default:
		return rec
	}
}
