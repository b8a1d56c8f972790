package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/loykin/resultstream/internal/event"
	"github.com/loykin/resultstream/internal/sink"
)

func init() {
	open := func(dsn string) (sink.Sink, error) { return New(dsn) }
	sink.Register("postgres", open)
	sink.Register("postgresql", open)
}

// DB implements sink.Sink for PostgreSQL via the pgx stdlib adapter.
type DB struct {
	db *sql.DB
}

func New(dsn string) (*DB, error) {
	d, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &DB{db: d}, nil
}

func (p *DB) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS events(
			id BIGSERIAL PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			testid TEXT,
			name TEXT,
			suite TEXT,
			status TEXT,
			message TEXT,
			elapsed DOUBLE PRECISION,
			tags TEXT,
			statistics TEXT,
			timestamp TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_events_tenant_id ON events(tenant_id, id);`,
		`CREATE TABLE IF NOT EXISTS test_log_messages(
			id BIGSERIAL PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			testid TEXT,
			level TEXT,
			message TEXT,
			html TEXT,
			timestamp TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_test_log_messages_tenant_id ON test_log_messages(tenant_id, id);`,
		`CREATE TABLE IF NOT EXISTS app_logs(
			id BIGSERIAL PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			source TEXT,
			level TEXT,
			message TEXT,
			timestamp TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_app_logs_tenant_id ON app_logs(tenant_id, id);`,
		`CREATE TABLE IF NOT EXISTS metrics(
			id BIGSERIAL PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			metric_name TEXT NOT NULL,
			value DOUBLE PRECISION,
			unit TEXT,
			source TEXT,
			timestamp TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_metrics_tenant_id ON metrics(tenant_id, id);`,
	}
	for _, q := range stmts {
		if _, err := p.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (p *DB) Close() error { return p.db.Close() }

func (p *DB) Append(ctx context.Context, rec event.Record) (int64, error) {
	var id int64
	var err error
	switch r := rec.(type) {
	case *event.Event:
		err = p.db.QueryRowContext(ctx, `
			INSERT INTO events(tenant_id, event_type, testid, name, suite, status, message, elapsed, tags, statistics, timestamp)
			VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11) RETURNING id;`,
			r.TenantID, string(r.EventType), r.TestID, r.Name, r.Suite, r.Status, r.Message, r.Elapsed, encodeTags(r.Tags), r.Statistics, r.Timestamp.UTC()).Scan(&id)
	case *event.TestLogMessage:
		err = p.db.QueryRowContext(ctx, `
			INSERT INTO test_log_messages(tenant_id, event_type, testid, level, message, html, timestamp)
			VALUES($1,$2,$3,$4,$5,$6,$7) RETURNING id;`,
			r.TenantID, string(r.EventType), r.TestID, r.Level, r.Message, r.HTML, r.Timestamp.UTC()).Scan(&id)
	case *event.AppLogRecord:
		err = p.db.QueryRowContext(ctx, `
			INSERT INTO app_logs(tenant_id, event_type, source, level, message, timestamp)
			VALUES($1,$2,$3,$4,$5,$6) RETURNING id;`,
			r.TenantID, string(r.EventType), r.Source, r.Level, r.Message, r.Timestamp.UTC()).Scan(&id)
	case *event.MetricRecord:
		err = p.db.QueryRowContext(ctx, `
			INSERT INTO metrics(tenant_id, metric_name, value, unit, source, timestamp)
			VALUES($1,$2,$3,$4,$5,$6) RETURNING id;`,
			r.TenantID, r.MetricName, r.Value, r.Unit, r.Source, r.Timestamp.UTC()).Scan(&id)
	default:
		return 0, fmt.Errorf("unsupported record kind %v", rec.Kind())
	}
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (p *DB) QuerySince(ctx context.Context, kind event.Kind, tenant string, lastID int64) ([]event.Record, error) {
	q := fmt.Sprintf(`SELECT %s FROM %s WHERE tenant_id=$1 AND id>$2 ORDER BY id ASC;`, columns(kind), table(kind))
	rows, err := p.db.QueryContext(ctx, q, tenant, lastID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanRecords(kind, rows)
}

func (p *DB) QueryRecent(ctx context.Context, kind event.Kind, tenant string, limit int) ([]event.Record, error) {
	if limit <= 0 {
		limit = sink.DefaultRecentLimit
	}
	q := fmt.Sprintf(`
		SELECT %s FROM (
			SELECT %s FROM %s WHERE tenant_id=$1 ORDER BY id DESC LIMIT $2
		) recent ORDER BY id ASC;`, columns(kind), columns(kind), table(kind))
	rows, err := p.db.QueryContext(ctx, q, tenant, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanRecords(kind, rows)
}

func (p *DB) LatestID(ctx context.Context, kind event.Kind, tenant string) (int64, error) {
	var latest int64
	q := fmt.Sprintf(`SELECT COALESCE(MAX(id), 0) FROM %s WHERE tenant_id=$1;`, table(kind))
	if err := p.db.QueryRowContext(ctx, q, tenant).Scan(&latest); err != nil {
		return 0, err
	}
	return latest, nil
}

func (p *DB) Clear(ctx context.Context, tenant string) error {
	for _, kind := range event.AllKinds() {
		q := fmt.Sprintf(`DELETE FROM %s WHERE tenant_id=$1;`, table(kind))
		if _, err := p.db.ExecContext(ctx, q, tenant); err != nil {
			return err
		}
	}
	return nil
}

func table(kind event.Kind) string {
	switch kind {
	case event.KindTestEvent:
		return "events"
	case event.KindTestLogMessage:
		return "test_log_messages"
	case event.KindAppLog:
		return "app_logs"
	case event.KindMetric:
		return "metrics"
	default:
		panic(fmt.Sprintf("unknown kind %d", kind))
	}
}

func columns(kind event.Kind) string {
	switch kind {
	case event.KindTestEvent:
		return "id, tenant_id, event_type, testid, name, suite, status, message, elapsed, tags, statistics, timestamp"
	case event.KindTestLogMessage:
		return "id, tenant_id, event_type, testid, level, message, html, timestamp"
	case event.KindAppLog:
		return "id, tenant_id, event_type, source, level, message, timestamp"
	case event.KindMetric:
		return "id, tenant_id, metric_name, value, unit, source, timestamp"
	default:
		panic(fmt.Sprintf("unknown kind %d", kind))
	}
}

func scanRecords(kind event.Kind, rows *sql.Rows) ([]event.Record, error) {
	out := make([]event.Record, 0)
	for rows.Next() {
		rec, err := scanRecord(kind, rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanRecord(kind event.Kind, rows *sql.Rows) (event.Record, error) {
	switch kind {
	case event.KindTestEvent:
		var r event.Event
		var evType string
		var tags sql.NullString
		var ts time.Time
		if err := rows.Scan(&r.ID, &r.TenantID, &evType, &r.TestID, &r.Name, &r.Suite, &r.Status, &r.Message, &r.Elapsed, &tags, &r.Statistics, &ts); err != nil {
			return nil, err
		}
		r.EventType = event.Type(evType)
		r.Tags = decodeTags(tags)
		r.Timestamp = ts.UTC()
		return &r, nil
	case event.KindTestLogMessage:
		var r event.TestLogMessage
		var evType string
		var ts time.Time
		if err := rows.Scan(&r.ID, &r.TenantID, &evType, &r.TestID, &r.Level, &r.Message, &r.HTML, &ts); err != nil {
			return nil, err
		}
		r.EventType = event.Type(evType)
		r.Timestamp = ts.UTC()
		return &r, nil
	case event.KindAppLog:
		var r event.AppLogRecord
		var evType string
		var ts time.Time
		if err := rows.Scan(&r.ID, &r.TenantID, &evType, &r.Source, &r.Level, &r.Message, &ts); err != nil {
			return nil, err
		}
		r.EventType = event.Type(evType)
		r.Timestamp = ts.UTC()
		return &r, nil
	case event.KindMetric:
		var r event.MetricRecord
		var ts time.Time
		if err := rows.Scan(&r.ID, &r.TenantID, &r.MetricName, &r.Value, &r.Unit, &r.Source, &ts); err != nil {
			return nil, err
		}
		r.EventType = event.TypeMetric
		r.Timestamp = ts.UTC()
		return &r, nil
	default:
		return nil, fmt.Errorf("unknown kind %d", kind)
	}
}

func encodeTags(tags []string) string {
	if len(tags) == 0 {
		return ""
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return ""
	}
	return string(b)
}

func decodeTags(raw sql.NullString) []string {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	var tags []string
	if err := json.Unmarshal([]byte(raw.String), &tags); err != nil {
		return nil
	}
	return tags
}
