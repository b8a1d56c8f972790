package event

import (
	"time"
)

// DefaultTenant is used whenever a producer or viewer does not declare one.
const DefaultTenant = "default"

// Kind identifies one of the four persisted record kinds. It is a closed
// union: storage backends and the broadcast hub switch over it exhaustively.
type Kind int

const (
	KindTestEvent Kind = iota
	KindTestLogMessage
	KindAppLog
	KindMetric
)

func (k Kind) String() string {
	switch k {
	case KindTestEvent:
		return "test_event"
	case KindTestLogMessage:
		return "test_log_message"
	case KindAppLog:
		return "app_log"
	case KindMetric:
		return "metric"
	default:
		return "unknown"
	}
}

// AllKinds lists every record kind, in schema order.
func AllKinds() []Kind {
	return []Kind{KindTestEvent, KindTestLogMessage, KindAppLog, KindMetric}
}

// Type is the declared event_type of an inbound payload.
type Type string

// Test-run lifecycle types emitted by test-framework listeners.
const (
	TypeStartSuite Type = "start_suite"
	TypeEndSuite   Type = "end_suite"
	TypeStartTest  Type = "start_test"
	TypeEndTest    Type = "end_test"
	TypeLogMessage Type = "log_message"
)

// Generic producer types accepted on the log endpoint.
const (
	TypeAppLog      Type = "app_log"
	TypeWWWLog      Type = "www_log"
	TypeMetric      Type = "metric"
	TypeRFOutputXML Type = "rf_output_xml"
	TypeRFDebugLog  Type = "rf_debug_log"
	TypeRFDebug     Type = "rf_debug"
)

// IsLifecycle reports whether t is one of the test-run lifecycle types
// accepted on the event endpoint.
func (t Type) IsLifecycle() bool {
	switch t {
	case TypeStartSuite, TypeEndSuite, TypeStartTest, TypeEndTest:
		return true
	}
	return false
}

// Record is one persisted row of any kind. Records are immutable once
// written; RowID is assigned by the sink at append time and is unique and
// monotonically increasing within the record's kind.
type Record interface {
	Kind() Kind
	Tenant() string
	RowID() int64
}

// Event is a test-run lifecycle record.
type Event struct {
	ID         int64     `json:"id,omitempty"`
	TenantID   string    `json:"tenant_id,omitempty"`
	EventType  Type      `json:"event_type"`
	TestID     string    `json:"testid,omitempty"`
	Name       string    `json:"name,omitempty"`
	Suite      string    `json:"suite,omitempty"`
	Status     string    `json:"status,omitempty"`
	Message    string    `json:"message,omitempty"`
	Elapsed    float64   `json:"elapsed,omitempty"`
	Tags       []string  `json:"tags,omitempty"`
	Statistics string    `json:"statistics,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

func (e *Event) Kind() Kind     { return KindTestEvent }
func (e *Event) Tenant() string { return e.TenantID }
func (e *Event) RowID() int64   { return e.ID }

// TestLogMessage is one log line emitted from within a running test.
type TestLogMessage struct {
	ID        int64     `json:"id,omitempty"`
	TenantID  string    `json:"tenant_id,omitempty"`
	EventType Type      `json:"event_type"`
	TestID    string    `json:"testid,omitempty"`
	Level     string    `json:"level,omitempty"`
	Message   string    `json:"message,omitempty"`
	HTML      string    `json:"html,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func (m *TestLogMessage) Kind() Kind     { return KindTestLogMessage }
func (m *TestLogMessage) Tenant() string { return m.TenantID }
func (m *TestLogMessage) RowID() int64   { return m.ID }

// AppLogRecord is one tailed application log line.
type AppLogRecord struct {
	ID        int64     `json:"id,omitempty"`
	TenantID  string    `json:"tenant_id,omitempty"`
	EventType Type      `json:"event_type"`
	Source    string    `json:"source,omitempty"`
	Level     string    `json:"level,omitempty"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func (a *AppLogRecord) Kind() Kind     { return KindAppLog }
func (a *AppLogRecord) Tenant() string { return a.TenantID }
func (a *AppLogRecord) RowID() int64   { return a.ID }

// MetricRecord is one sampled metric value.
type MetricRecord struct {
	ID         int64     `json:"id,omitempty"`
	TenantID   string    `json:"tenant_id,omitempty"`
	EventType  Type      `json:"event_type"`
	MetricName string    `json:"metric_name"`
	Value      float64   `json:"value"`
	Unit       string    `json:"unit,omitempty"`
	Source     string    `json:"source,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

func (m *MetricRecord) Kind() Kind     { return KindMetric }
func (m *MetricRecord) Tenant() string { return m.TenantID }
func (m *MetricRecord) RowID() int64   { return m.ID }

// Normalize fills the tenant and timestamp defaults on rec in place.
// The tenant argument wins over the record's own field when non-empty;
// timestamps are forced to UTC, defaulting to now when unset.
func Normalize(rec Record, tenant string, now time.Time) {
	switch r := rec.(type) {
	case *Event:
		r.TenantID = pickTenant(tenant, r.TenantID)
		r.Timestamp = pickTime(r.Timestamp, now)
	case *TestLogMessage:
		r.TenantID = pickTenant(tenant, r.TenantID)
		r.Timestamp = pickTime(r.Timestamp, now)
	case *AppLogRecord:
		r.TenantID = pickTenant(tenant, r.TenantID)
		r.Timestamp = pickTime(r.Timestamp, now)
	case *MetricRecord:
		r.TenantID = pickTenant(tenant, r.TenantID)
		r.Timestamp = pickTime(r.Timestamp, now)
	}
}

// SetRowID writes the sink-assigned id back into rec. Storage backends leave
// the appended record untouched, so the ingest path applies the returned id
// here before the record is broadcast or exported.
func SetRowID(rec Record, id int64) {
	switch r := rec.(type) {
	case *Event:
		r.ID = id
	case *TestLogMessage:
		r.ID = id
	case *AppLogRecord:
		r.ID = id
	case *MetricRecord:
		r.ID = id
	}
}

func pickTenant(requestTenant, recordTenant string) string {
	if requestTenant != "" {
		return requestTenant
	}
	if recordTenant != "" {
		return recordTenant
	}
	return DefaultTenant
}

func pickTime(ts, now time.Time) time.Time {
	if ts.IsZero() {
		return now.UTC()
	}
	return ts.UTC()
}
