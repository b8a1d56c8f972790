package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/loykin/resultstream/internal/event"
)

// startPostgresContainer starts a PostgreSQL container for tests
// and returns a DSN suitable for pgx stdlib. It skips the test if Docker is unavailable.
func startPostgresContainer(t *testing.T) (dsn string, terminate func()) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)

	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
	)
	if err != nil {
		cancel()
		t.Skipf("Failed to start PostgreSQL container: %v", err)
		return "", nil
	}

	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		cancel()
		t.Skipf("Failed to get host info: %v", err)
		return "", nil
	}

	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		_ = container.Terminate(ctx)
		cancel()
		t.Skipf("Failed to get mapped port: %v", err)
		return "", nil
	}

	dsn = fmt.Sprintf("postgres://test:test@%s:%s/testdb?sslmode=disable", host, port.Port())

	terminate = func() {
		_ = container.Terminate(ctx)
		cancel()
	}

	return dsn, terminate
}

func waitForPostgres(t *testing.T, dsn string) {
	// Try to ping until timeout; helps when container reports ready but DB not yet accepting connections
	deadline := time.Now().Add(45 * time.Second)
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		db, err := sql.Open("pgx", dsn)
		if err == nil {
			if err = db.PingContext(ctx); err == nil {
				_ = db.Close()
				cancel()
				return
			}
			_ = db.Close()
		}
		cancel()
		if time.Now().After(deadline) {
			t.Fatalf("postgres not ready in time: %v", err)
		}
		time.Sleep(500 * time.Millisecond)
	}
}

func TestPostgresSinkRoundTrip(t *testing.T) {
	dsn, terminate := startPostgresContainer(t)
	waitForPostgres(t, dsn)
	defer func() {
		if terminate != nil {
			terminate()
		}
	}()

	s, err := New(dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = s.Close() }()

	ctx := context.Background()
	if err := s.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	// idempotent
	if err := s.EnsureSchema(ctx); err != nil {
		t.Fatalf("second ensure schema: %v", err)
	}

	ts := time.Date(2025, 7, 2, 13, 45, 1, 0, time.UTC)
	id, err := s.Append(ctx, &event.Event{TenantID: "a", EventType: event.TypeEndTest,
		TestID: "t1", Status: "PASS", Elapsed: 2.5, Tags: []string{"smoke"}, Timestamp: ts})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if id != 1 {
		t.Fatalf("first id should be 1, got %d", id)
	}
	id2, err := s.Append(ctx, &event.Event{TenantID: "a", EventType: event.TypeStartTest, Timestamp: ts})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if id2 != 2 {
		t.Fatalf("ids must ascend, got %d", id2)
	}

	rows, err := s.QuerySince(ctx, event.KindTestEvent, "a", 0)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	got := rows[0].(*event.Event)
	if got.Status != "PASS" || len(got.Tags) != 1 || got.Tags[0] != "smoke" {
		t.Fatalf("row did not round-trip: %+v", got)
	}
	if !got.Timestamp.Equal(ts) {
		t.Fatalf("timestamp changed: %v", got.Timestamp)
	}

	latest, err := s.LatestID(ctx, event.KindTestEvent, "a")
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest != 2 {
		t.Fatalf("latest should be 2, got %d", latest)
	}
}

func TestPostgresClearAndIsolation(t *testing.T) {
	dsn, terminate := startPostgresContainer(t)
	waitForPostgres(t, dsn)
	defer func() {
		if terminate != nil {
			terminate()
		}
	}()

	s, err := New(dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = s.Close() }()

	ctx := context.Background()
	if err := s.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}

	now := time.Now().UTC()
	_, _ = s.Append(ctx, &event.AppLogRecord{TenantID: "a", EventType: event.TypeAppLog, Message: "a1", Timestamp: now})
	_, _ = s.Append(ctx, &event.AppLogRecord{TenantID: "b", EventType: event.TypeAppLog, Message: "b1", Timestamp: now})
	_, _ = s.Append(ctx, &event.MetricRecord{TenantID: "a", MetricName: "cpu", Value: 1, Timestamp: now})

	if err := s.Clear(ctx, "a"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	aLogs, _ := s.QuerySince(ctx, event.KindAppLog, "a", 0)
	aMetrics, _ := s.QuerySince(ctx, event.KindMetric, "a", 0)
	bLogs, _ := s.QuerySince(ctx, event.KindAppLog, "b", 0)
	if len(aLogs) != 0 || len(aMetrics) != 0 {
		t.Fatalf("tenant a should be empty: %d logs %d metrics", len(aLogs), len(aMetrics))
	}
	if len(bLogs) != 1 {
		t.Fatalf("tenant b must survive, got %d", len(bLogs))
	}
}
