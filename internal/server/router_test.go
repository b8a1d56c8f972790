package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/resultstream/internal/event"
	"github.com/loykin/resultstream/internal/hub"
	"github.com/loykin/resultstream/internal/router"
	"github.com/loykin/resultstream/internal/sink/memory"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	store := memory.New()
	h := hub.New(8, nil)
	ingest := router.New(store, h, nil, nil)
	r := NewRouter(store, h, ingest, Config{BasePath: "/api"})
	ts := httptest.NewServer(r.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func doJSON(t *testing.T, ts *httptest.Server, method, path, tenant, body string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body == "" {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader([]byte(body))
	}
	req, err := http.NewRequest(method, ts.URL+path, reader)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if tenant != "" {
		req.Header.Set("X-Tenant-ID", tenant)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, buf.Bytes()
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t)
	resp, body := doJSON(t, ts, http.MethodGet, "/api/healthz", "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), `"ok":true`) {
		t.Fatalf("body %s", body)
	}
}

func TestIngestAndCursorRead(t *testing.T) {
	ts := newTestServer(t)

	resp, body := doJSON(t, ts, http.MethodPost, "/api/event", "a",
		`{"event_type":"end_test","testid":"t1","status":"PASS"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("post status %d body %s", resp.StatusCode, body)
	}
	if !strings.Contains(string(body), `"received":true`) {
		t.Fatalf("post ack missing: %s", body)
	}

	resp, body = doJSON(t, ts, http.MethodGet, "/api/events?since=0", "a", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status %d", resp.StatusCode)
	}
	var events []event.Event
	if err := json.Unmarshal(body, &events); err != nil {
		t.Fatalf("decode: %v (%s)", err, body)
	}
	if len(events) != 1 || events[0].ID != 1 || events[0].Status != "PASS" {
		t.Fatalf("unexpected events %+v", events)
	}

	// cursor past the last id returns nothing
	resp, body = doJSON(t, ts, http.MethodGet, "/api/events?since=1", "a", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status %d", resp.StatusCode)
	}
	if err := json.Unmarshal(body, &events); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("cursor should be past the end, got %+v", events)
	}
}

func TestInvalidCursorRejected(t *testing.T) {
	ts := newTestServer(t)
	for _, q := range []string{"since=abc", "since=-1"} {
		resp, body := doJSON(t, ts, http.MethodGet, "/api/events?"+q, "a", "")
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("%s: status %d body %s", q, resp.StatusCode, body)
		}
	}
}

func TestTenantIsolationOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	_, _ = doJSON(t, ts, http.MethodPost, "/api/event", "a", `{"event_type":"start_test","testid":"t1"}`)
	_, _ = doJSON(t, ts, http.MethodPost, "/api/event", "b", `{"event_type":"start_test","testid":"t2"}`)

	_, body := doJSON(t, ts, http.MethodGet, "/api/events?since=0", "b", "")
	var events []event.Event
	if err := json.Unmarshal(body, &events); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(events) != 1 || events[0].TestID != "t2" {
		t.Fatalf("tenant b should only see its own event: %+v", events)
	}
}

func TestClearIsTenantScoped(t *testing.T) {
	ts := newTestServer(t)
	_, _ = doJSON(t, ts, http.MethodPost, "/api/event", "a", `{"event_type":"start_test"}`)
	_, _ = doJSON(t, ts, http.MethodPost, "/api/event", "b", `{"event_type":"start_test"}`)

	resp, body := doJSON(t, ts, http.MethodPost, "/api/events/clear", "a", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("clear status %d body %s", resp.StatusCode, body)
	}

	_, body = doJSON(t, ts, http.MethodGet, "/api/events?since=0", "a", "")
	if string(bytes.TrimSpace(body)) != "[]" {
		t.Fatalf("tenant a should be empty, got %s", body)
	}
	var events []event.Event
	_, body = doJSON(t, ts, http.MethodGet, "/api/events?since=0", "b", "")
	if err := json.Unmarshal(body, &events); err != nil || len(events) != 1 {
		t.Fatalf("tenant b must survive a's clear: %s", body)
	}
}

func TestMetricAndAppLogDumps(t *testing.T) {
	ts := newTestServer(t)
	_, _ = doJSON(t, ts, http.MethodPost, "/api/metric", "a", `{"event_type":"metric","metric_name":"cpu","value":1}`)
	_, _ = doJSON(t, ts, http.MethodPost, "/api/log", "a", `{"event_type":"app_log","message":"hi"}`)

	resp, body := doJSON(t, ts, http.MethodGet, "/api/metric/records", "a", "")
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), `"cpu"`) {
		t.Fatalf("metric dump: %d %s", resp.StatusCode, body)
	}
	resp, body = doJSON(t, ts, http.MethodGet, "/api/applog", "a", "")
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), `"hi"`) {
		t.Fatalf("applog dump: %d %s", resp.StatusCode, body)
	}
}

func TestIngestRejectionsOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	cases := []struct {
		path string
		body string
	}{
		{"/api/event", `{"event_type":"bogus_type"}`},
		{"/api/metric", `{"event_type":"app_log"}`},
		{"/api/event/log_message", `{"event_type":"end_test"}`},
		{"/api/log", `{nope`},
		{"/api/log", `{"message":"no type"}`},
	}
	for _, tc := range cases {
		resp, body := doJSON(t, ts, http.MethodPost, tc.path, "a", tc.body)
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("%s %s: status %d body %s", tc.path, tc.body, resp.StatusCode, body)
		}
		if !strings.Contains(string(body), `"error"`) {
			t.Fatalf("rejection body should carry an error: %s", body)
		}
	}
}

func TestSSEStreamDeliversSnapshotAndLive(t *testing.T) {
	ts := newTestServer(t)
	_, _ = doJSON(t, ts, http.MethodPost, "/api/event", "a", `{"event_type":"start_test","testid":"old"}`)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/events/stream", nil)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	req.Header.Set("X-Tenant-ID", "a")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("content type %q", ct)
	}

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("read retry hint: %v", err)
	}
	if !strings.HasPrefix(line, "retry: ") {
		t.Fatalf("expected retry hint first, got %q", line)
	}

	// snapshot frame
	frame := readFrame(t, reader)
	if !strings.Contains(frame, `"old"`) {
		t.Fatalf("snapshot frame missing: %q", frame)
	}

	// live frame after a new ingest
	_, _ = doJSON(t, ts, http.MethodPost, "/api/event", "a", `{"event_type":"end_test","testid":"new"}`)
	frame = readFrame(t, reader)
	if !strings.Contains(frame, `"new"`) {
		t.Fatalf("live frame missing: %q", frame)
	}
}

// readFrame skips blank lines and returns the next data line.
func readFrame(t *testing.T, reader *bufio.Reader) string {
	t.Helper()
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read frame: %v", err)
		}
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "data: ") {
			return line
		}
	}
}

func TestSubscribersEndpoint(t *testing.T) {
	ts := newTestServer(t)
	resp, body := doJSON(t, ts, http.MethodGet, "/api/subscribers", "", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	var counts map[string]map[string]int
	if err := json.Unmarshal(body, &counts); err != nil {
		t.Fatalf("decode: %v (%s)", err, body)
	}
	for _, key := range []string{"test_events", "app_logs"} {
		if _, ok := counts[key]; !ok {
			t.Fatalf("missing stream key %q in %s", key, body)
		}
	}
}
