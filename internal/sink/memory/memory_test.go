package memory

import (
	"context"
	"testing"
	"time"

	"github.com/loykin/resultstream/internal/event"
)

func TestAppendAssignsPerKindIDs(t *testing.T) {
	s := New()
	ctx := context.Background()

	id1, err := s.Append(ctx, &event.Event{TenantID: "a", EventType: event.TypeStartTest})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	id2, _ := s.Append(ctx, &event.Event{TenantID: "a", EventType: event.TypeEndTest})
	if id1 != 1 || id2 != 2 {
		t.Fatalf("event ids should be 1,2; got %d,%d", id1, id2)
	}

	// ids count independently per kind
	mid, _ := s.Append(ctx, &event.MetricRecord{TenantID: "a", MetricName: "cpu"})
	if mid != 1 {
		t.Fatalf("metric ids start at 1, got %d", mid)
	}
}

func TestQuerySinceCursor(t *testing.T) {
	s := New()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if _, err := s.Append(ctx, &event.AppLogRecord{TenantID: "a", Message: "m"}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	rows, err := s.QuerySince(ctx, event.KindAppLog, "a", 3)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected rows 4 and 5, got %d rows", len(rows))
	}
	if rows[0].RowID() != 4 || rows[1].RowID() != 5 {
		t.Fatalf("unexpected ids %d,%d", rows[0].RowID(), rows[1].RowID())
	}

	latest, _ := s.LatestID(ctx, event.KindAppLog, "a")
	if latest != 5 {
		t.Fatalf("latest id should be 5, got %d", latest)
	}
}

func TestQueryRecentCapsAndKeepsOrder(t *testing.T) {
	s := New()
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		_, _ = s.Append(ctx, &event.Event{TenantID: "a", EventType: event.TypeStartTest})
	}

	rows, err := s.QueryRecent(ctx, event.KindTestEvent, "a", 3)
	if err != nil {
		t.Fatalf("query recent: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}
	// newest rows, ascending
	if rows[0].RowID() != 8 || rows[2].RowID() != 10 {
		t.Fatalf("expected ids 8..10, got %d..%d", rows[0].RowID(), rows[2].RowID())
	}
}

func TestClearIsTenantScoped(t *testing.T) {
	s := New()
	ctx := context.Background()
	_, _ = s.Append(ctx, &event.Event{TenantID: "a", EventType: event.TypeStartTest})
	_, _ = s.Append(ctx, &event.Event{TenantID: "b", EventType: event.TypeStartTest})
	_, _ = s.Append(ctx, &event.MetricRecord{TenantID: "a", MetricName: "cpu"})

	if err := s.Clear(ctx, "a"); err != nil {
		t.Fatalf("clear: %v", err)
	}

	gone, _ := s.QuerySince(ctx, event.KindTestEvent, "a", 0)
	if len(gone) != 0 {
		t.Fatalf("tenant a events should be gone, got %d", len(gone))
	}
	goneM, _ := s.QuerySince(ctx, event.KindMetric, "a", 0)
	if len(goneM) != 0 {
		t.Fatalf("tenant a metrics should be gone, got %d", len(goneM))
	}
	kept, _ := s.QuerySince(ctx, event.KindTestEvent, "b", 0)
	if len(kept) != 1 {
		t.Fatalf("tenant b must be untouched, got %d rows", len(kept))
	}
}

func TestStoredRowsAreImmutable(t *testing.T) {
	s := New()
	ctx := context.Background()
	ev := &event.Event{TenantID: "a", EventType: event.TypeStartTest, Name: "first", Timestamp: time.Now()}
	if _, err := s.Append(ctx, ev); err != nil {
		t.Fatalf("append: %v", err)
	}
	ev.Name = "mutated"

	rows, _ := s.QuerySince(ctx, event.KindTestEvent, "a", 0)
	got := rows[0].(*event.Event)
	if got.Name != "first" {
		t.Fatalf("stored row mutated: %q", got.Name)
	}
}
