package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/loykin/resultstream/internal/event"
	"github.com/loykin/resultstream/internal/sink"
)

func init() {
	sink.Register("sqlite", func(dsn string) (sink.Sink, error) {
		// "sqlite:///eventlog.db" addresses a relative path, matching the
		// common three-slash DSN convention for embedded files.
		path := dsn
		if strings.HasPrefix(dsn, "sqlite:///") {
			path = dsn[len("sqlite:///"):]
		} else if strings.HasPrefix(dsn, "sqlite://") {
			path = dsn[len("sqlite://"):]
		}
		return New(path)
	})
}

// DB implements sink.Sink for SQLite (modernc.org/sqlite driver, CGO-free).
// Use ":memory:" for an in-process throwaway database.
type DB struct {
	db *sql.DB
}

// New opens a SQLite database at path.
func New(path string) (*DB, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty sqlite path")
	}
	d, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	// busy timeout helps with short concurrent locks
	_, _ = d.Exec("PRAGMA busy_timeout=3000;")
	return &DB{db: d}, nil
}

func (s *DB) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS events(
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			tenant_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			testid TEXT,
			name TEXT,
			suite TEXT,
			status TEXT,
			message TEXT,
			elapsed REAL,
			tags TEXT,
			statistics TEXT,
			timestamp TIMESTAMP NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_events_tenant_id ON events(tenant_id, id);`,
		`CREATE TABLE IF NOT EXISTS test_log_messages(
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			tenant_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			testid TEXT,
			level TEXT,
			message TEXT,
			html TEXT,
			timestamp TIMESTAMP NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_test_log_messages_tenant_id ON test_log_messages(tenant_id, id);`,
		`CREATE TABLE IF NOT EXISTS app_logs(
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			tenant_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			source TEXT,
			level TEXT,
			message TEXT,
			timestamp TIMESTAMP NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_app_logs_tenant_id ON app_logs(tenant_id, id);`,
		`CREATE TABLE IF NOT EXISTS metrics(
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			tenant_id TEXT NOT NULL,
			metric_name TEXT NOT NULL,
			value REAL,
			unit TEXT,
			source TEXT,
			timestamp TIMESTAMP NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_metrics_tenant_id ON metrics(tenant_id, id);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *DB) Close() error { return s.db.Close() }

func (s *DB) Append(ctx context.Context, rec event.Record) (int64, error) {
	var res sql.Result
	var err error
	switch r := rec.(type) {
	case *event.Event:
		res, err = s.db.ExecContext(ctx, `
			INSERT INTO events(tenant_id, event_type, testid, name, suite, status, message, elapsed, tags, statistics, timestamp)
			VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`,
			r.TenantID, string(r.EventType), r.TestID, r.Name, r.Suite, r.Status, r.Message, r.Elapsed, encodeTags(r.Tags), r.Statistics, r.Timestamp.UTC())
	case *event.TestLogMessage:
		res, err = s.db.ExecContext(ctx, `
			INSERT INTO test_log_messages(tenant_id, event_type, testid, level, message, html, timestamp)
			VALUES(?, ?, ?, ?, ?, ?, ?);`,
			r.TenantID, string(r.EventType), r.TestID, r.Level, r.Message, r.HTML, r.Timestamp.UTC())
	case *event.AppLogRecord:
		res, err = s.db.ExecContext(ctx, `
			INSERT INTO app_logs(tenant_id, event_type, source, level, message, timestamp)
			VALUES(?, ?, ?, ?, ?, ?);`,
			r.TenantID, string(r.EventType), r.Source, r.Level, r.Message, r.Timestamp.UTC())
	case *event.MetricRecord:
		res, err = s.db.ExecContext(ctx, `
			INSERT INTO metrics(tenant_id, metric_name, value, unit, source, timestamp)
			VALUES(?, ?, ?, ?, ?, ?);`,
			r.TenantID, r.MetricName, r.Value, r.Unit, r.Source, r.Timestamp.UTC())
	default:
		return 0, fmt.Errorf("unsupported record kind %v", rec.Kind())
	}
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *DB) QuerySince(ctx context.Context, kind event.Kind, tenant string, lastID int64) ([]event.Record, error) {
	q := fmt.Sprintf(`SELECT %s FROM %s WHERE tenant_id=? AND id>? ORDER BY id ASC;`, columns(kind), table(kind))
	rows, err := s.db.QueryContext(ctx, q, tenant, lastID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanRecords(kind, rows)
}

func (s *DB) QueryRecent(ctx context.Context, kind event.Kind, tenant string, limit int) ([]event.Record, error) {
	if limit <= 0 {
		limit = sink.DefaultRecentLimit
	}
	q := fmt.Sprintf(`
		SELECT %s FROM (
			SELECT %s FROM %s WHERE tenant_id=? ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC;`, columns(kind), columns(kind), table(kind))
	rows, err := s.db.QueryContext(ctx, q, tenant, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanRecords(kind, rows)
}

func (s *DB) LatestID(ctx context.Context, kind event.Kind, tenant string) (int64, error) {
	var latest int64
	q := fmt.Sprintf(`SELECT COALESCE(MAX(id), 0) FROM %s WHERE tenant_id=?;`, table(kind))
	if err := s.db.QueryRowContext(ctx, q, tenant).Scan(&latest); err != nil {
		return 0, err
	}
	return latest, nil
}

func (s *DB) Clear(ctx context.Context, tenant string) error {
	for _, kind := range event.AllKinds() {
		q := fmt.Sprintf(`DELETE FROM %s WHERE tenant_id=?;`, table(kind))
		if _, err := s.db.ExecContext(ctx, q, tenant); err != nil {
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
