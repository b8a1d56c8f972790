package clickhouse

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/loykin/resultstream/internal/event"
)

// Sink exports ingested records to ClickHouse using the official Go client.
// Rows land in one wide table keyed by (kind, tenant, row id) with the full
// record as a JSON column, which keeps the export schema stable as record
// shapes evolve.
type Sink struct {
	conn  driver.Conn
	table string
}

func New(addr, database, username, password, table string) (*Sink, error) {
	if database == "" {
		database = "default"
	}
	if table == "" {
		table = "resultstream_records"
	}
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: database,
			Username: username,
			Password: password,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	// Test the connection
	if err := conn.Ping(context.Background()); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	return &Sink{conn: conn, table: table}, nil
}

// EnsureSchema creates the export table when missing.
func (s *Sink) EnsureSchema(ctx context.Context) error {
	q := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			kind String,
			tenant_id String,
			row_id Int64,
			payload String,
			ingested_at DateTime DEFAULT now()
		) ENGINE = MergeTree()
		ORDER BY (kind, tenant_id, row_id)`, s.table)
	if err := s.conn.Exec(ctx, q); err != nil {
		return fmt.Errorf("failed to create export table: %w", err)
	}
	return nil
}

func (s *Sink) Send(ctx context.Context, rec event.Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}
	q := fmt.Sprintf(`INSERT INTO %s (kind, tenant_id, row_id, payload) VALUES (?, ?, ?, ?)`, s.table)
	if err := s.conn.Exec(ctx, q, rec.Kind().String(), rec.Tenant(), rec.RowID(), string(payload)); err != nil {
		return fmt.Errorf("failed to insert record into ClickHouse: %w", err)
	}
	return nil
}

func (s *Sink) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}
