package router

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/loykin/resultstream/internal/event"
	"github.com/loykin/resultstream/internal/hub"
	"github.com/loykin/resultstream/internal/sink/memory"
	"github.com/loykin/resultstream/internal/sink/sqlite"
)

func newTestRouter() (*Router, *memory.Store, *hub.Hub) {
	store := memory.New()
	h := hub.New(8, nil)
	return New(store, h, nil, nil), store, h
}

func TestIngestMetricPersists(t *testing.T) {
	r, store, _ := newTestRouter()
	body := []byte(`{"event_type":"metric","metric_name":"cpu_percent","value":55.5,"unit":"%"}`)

	res := r.Ingest(context.Background(), CategoryMetric, "a", body)
	if res.Status != http.StatusOK {
		t.Fatalf("status %d body %+v", res.Status, res.Body)
	}
	if rb, ok := res.Body.(receivedBody); !ok || !rb.Received {
		t.Fatalf("expected received ack, got %+v", res.Body)
	}

	rows, _ := store.QuerySince(context.Background(), event.KindMetric, "a", 0)
	if len(rows) != 1 {
		t.Fatalf("expected 1 stored metric, got %d", len(rows))
	}
	m := rows[0].(*event.MetricRecord)
	if m.MetricName != "cpu_percent" || m.Value != 55.5 || m.TenantID != "a" {
		t.Fatalf("metric not normalized/stored: %+v", m)
	}
	if m.Timestamp.IsZero() {
		t.Fatalf("timestamp should default to now")
	}
}

func TestIngestInvalidJSON(t *testing.T) {
	r, _, _ := newTestRouter()
	res := r.Ingest(context.Background(), CategoryLog, "a", []byte("{nope"))
	if res.Status != http.StatusBadRequest {
		t.Fatalf("status %d", res.Status)
	}
	if eb := res.Body.(errorBody); eb.Error != "invalid JSON" {
		t.Fatalf("error %q", eb.Error)
	}
}

func TestIngestMissingEventType(t *testing.T) {
	r, _, _ := newTestRouter()
	res := r.Ingest(context.Background(), CategoryLog, "a", []byte(`{"message":"hi"}`))
	if res.Status != http.StatusBadRequest {
		t.Fatalf("status %d", res.Status)
	}
	if eb := res.Body.(errorBody); eb.Error != "missing event_type" {
		t.Fatalf("error %q", eb.Error)
	}
}

func TestIngestRejectsWrongTypeForCategory(t *testing.T) {
	r, store, _ := newTestRouter()
	cases := []struct {
		category Category
		body     string
	}{
		{CategoryTestEvent, `{"event_type":"metric","metric_name":"x"}`},
		{CategoryTestEvent, `{"event_type":"log_message","message":"x"}`},
		{CategoryTestLogMessage, `{"event_type":"start_test","name":"x"}`},
		{CategoryMetric, `{"event_type":"app_log","message":"x"}`},
	}
	for _, tc := range cases {
		res := r.Ingest(context.Background(), tc.category, "a", []byte(tc.body))
		if res.Status != http.StatusBadRequest {
			t.Fatalf("category %s body %s: status %d", tc.category, tc.body, res.Status)
		}
		eb := res.Body.(errorBody)
		if !strings.Contains(eb.Error, "invalid event_type") {
			t.Fatalf("error %q should name the invalid type", eb.Error)
		}
	}
	for _, kind := range event.AllKinds() {
		rows, _ := store.QuerySince(context.Background(), kind, "a", 0)
		if len(rows) != 0 {
			t.Fatalf("rejected payloads must not be stored, kind %v has %d", kind, len(rows))
		}
	}
}

func TestLogCategoryRoutesDeclaredMetrics(t *testing.T) {
	r, store, _ := newTestRouter()

	res := r.Ingest(context.Background(), CategoryLog, "a",
		[]byte(`{"event_type":"metric","metric_name":"mem","value":1}`))
	if res.Status != http.StatusOK {
		t.Fatalf("status %d body %+v", res.Status, res.Body)
	}
	res = r.Ingest(context.Background(), CategoryLog, "a",
		[]byte(`{"event_type":"www_log","message":"GET /"}`))
	if res.Status != http.StatusOK {
		t.Fatalf("status %d body %+v", res.Status, res.Body)
	}

	mrows, _ := store.QuerySince(context.Background(), event.KindMetric, "a", 0)
	lrows, _ := store.QuerySince(context.Background(), event.KindAppLog, "a", 0)
	if len(mrows) != 1 || len(lrows) != 1 {
		t.Fatalf("expected 1 metric and 1 app log, got %d/%d", len(mrows), len(lrows))
	}
}

func TestIngestPublishesStoredFormToHub(t *testing.T) {
	r, _, h := newTestRouter()
	q := h.Subscribe(hub.StreamTestEvents, "a")
	defer h.Unsubscribe(hub.StreamTestEvents, "a", q)

	res := r.Ingest(context.Background(), CategoryTestEvent, "a",
		[]byte(`{"event_type":"end_test","testid":"t1","status":"PASS"}`))
	if res.Status != http.StatusOK {
		t.Fatalf("status %d body %+v", res.Status, res.Body)
	}

	select {
	case frame := <-q:
		var ev event.Event
		if err := json.Unmarshal(frame, &ev); err != nil {
			t.Fatalf("frame not JSON: %v", err)
		}
		if ev.ID != 1 {
			t.Fatalf("published frame must carry the assigned id, got %d", ev.ID)
		}
		if ev.Status != "PASS" || ev.TenantID != "a" {
			t.Fatalf("frame content wrong: %+v", ev)
		}
	default:
		t.Fatalf("subscriber should have received the event")
	}
}

type captureExporter struct {
	recs []event.Record
}

func (c *captureExporter) Send(_ context.Context, rec event.Record) error {
	c.recs = append(c.recs, rec)
	return nil
}

func (c *captureExporter) Close() error { return nil }

// SQL backends return the assigned id without touching the record; the
// published frame and the exported row must still carry it.
func TestSQLBackedIngestCarriesAssignedID(t *testing.T) {
	store, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer func() { _ = store.Close() }()
	if err := store.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}

	h := hub.New(8, nil)
	exp := &captureExporter{}
	r := New(store, h, exp, nil)
	q := h.Subscribe(hub.StreamTestEvents, "a")
	defer h.Unsubscribe(hub.StreamTestEvents, "a", q)

	res := r.Ingest(context.Background(), CategoryTestEvent, "a",
		[]byte(`{"event_type":"end_test","testid":"t1","status":"PASS"}`))
	if res.Status != http.StatusOK {
		t.Fatalf("status %d body %+v", res.Status, res.Body)
	}

	select {
	case frame := <-q:
		var ev event.Event
		if err := json.Unmarshal(frame, &ev); err != nil {
			t.Fatalf("frame not JSON: %v", err)
		}
		if ev.ID != 1 {
			t.Fatalf("published frame must carry the assigned id, got %d", ev.ID)
		}
	default:
		t.Fatalf("subscriber should have received the event")
	}

	if len(exp.recs) != 1 {
		t.Fatalf("exporter should have received 1 record, got %d", len(exp.recs))
	}
	if got := exp.recs[0].RowID(); got != 1 {
		t.Fatalf("exported record must carry the assigned id, got %d", got)
	}
}

func TestMetricsAreNotStreamed(t *testing.T) {
	r, _, h := newTestRouter()
	qe := h.Subscribe(hub.StreamTestEvents, "a")
	ql := h.Subscribe(hub.StreamAppLogs, "a")
	defer h.Unsubscribe(hub.StreamTestEvents, "a", qe)
	defer h.Unsubscribe(hub.StreamAppLogs, "a", ql)

	res := r.Ingest(context.Background(), CategoryMetric, "a",
		[]byte(`{"event_type":"metric","metric_name":"cpu","value":1}`))
	if res.Status != http.StatusOK {
		t.Fatalf("status %d", res.Status)
	}
	select {
	case <-qe:
		t.Fatalf("metric leaked onto the test event stream")
	default:
	}
	select {
	case <-ql:
		t.Fatalf("metric leaked onto the app log stream")
	default:
	}
}

type failingSink struct {
	memory.Store
	err error
}

func (f *failingSink) Append(context.Context, event.Record) (int64, error) {
	return 0, f.err
}

func TestTransientStorageErrorMaps503(t *testing.T) {
	s := &failingSink{err: errors.New("database is locked")}
	r := New(s, hub.New(8, nil), nil, nil)

	res := r.Ingest(context.Background(), CategoryMetric, "a",
		[]byte(`{"event_type":"metric","metric_name":"cpu","value":1}`))
	if res.Status != http.StatusServiceUnavailable {
		t.Fatalf("status %d", res.Status)
	}
}

func TestUnknownStorageErrorMaps500(t *testing.T) {
	s := &failingSink{err: errors.New("constraint violated")}
	r := New(s, hub.New(8, nil), nil, nil)

	res := r.Ingest(context.Background(), CategoryMetric, "a",
		[]byte(`{"event_type":"metric","metric_name":"cpu","value":1}`))
	if res.Status != http.StatusInternalServerError {
		t.Fatalf("status %d", res.Status)
	}
}
