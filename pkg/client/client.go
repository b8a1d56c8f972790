// Package client is the HTTP client producers use to push records into the
// ingest service. Embedders can use it as well to submit events or drive a
// tenant reset programmatically.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/loykin/resultstream/internal/event"
)

// Client talks to a running resultstream ingest service.
type Client struct {
	baseURL string
	tenant  string
	token   string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration.
type Config struct {
	BaseURL string        // ingest base, e.g. "http://127.0.0.1:8000/api"
	Tenant  string        // sent as X-Tenant-ID when no Token is set
	Token   string        // optional bearer token carrying the tenant claim
	Timeout time.Duration
	Logger  *slog.Logger
}

// DefaultConfig returns default client configuration.
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://127.0.0.1:8000/api",
		Timeout: 2 * time.Second,
	}
}

// New creates a new ingest API client.
func New(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = "http://127.0.0.1:8000/api"
	}
	if config.Timeout == 0 {
		config.Timeout = 2 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Client{
		baseURL: config.BaseURL,
		tenant:  config.Tenant,
		token:   config.Token,
		logger:  config.Logger,
		client:  &http.Client{Timeout: config.Timeout},
	}
}

// IsReachable checks whether the ingest service answers at all.
func (c *Client) IsReachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("ingest service unreachable", "error", err)
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

// PostAppLog submits one application log record to the generic log endpoint.
func (c *Client) PostAppLog(ctx context.Context, rec event.AppLogRecord) error {
	if rec.EventType == "" {
		rec.EventType = event.TypeAppLog
	}
	return c.post(ctx, "/log", rec)
}

// PostMetric submits one metric sample.
func (c *Client) PostMetric(ctx context.Context, rec event.MetricRecord) error {
	rec.EventType = event.TypeMetric
	return c.post(ctx, "/metric", rec)
}

// PostEvent submits one test lifecycle event.
func (c *Client) PostEvent(ctx context.Context, rec event.Event) error {
	return c.post(ctx, "/event", rec)
}

// PostTestLogMessage submits one in-test log message.
func (c *Client) PostTestLogMessage(ctx context.Context, rec event.TestLogMessage) error {
	rec.EventType = event.TypeLogMessage
	return c.post(ctx, "/event/log_message", rec)
}

// EventsSince fetches all test events with id greater than lastID.
func (c *Client) EventsSince(ctx context.Context, lastID int64) ([]event.Event, error) {
	url := fmt.Sprintf("%s/events?since=%d", c.baseURL, lastID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	c.decorate(req)
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("events query failed: %s", readError(resp))
	}
	var events []event.Event
	if err := json.NewDecoder(resp.Body).Decode(&events); err != nil {
		return nil, fmt.Errorf("decode events: %w", err)
	}
	return events, nil
}

// Clear wipes every record of the client's tenant.
func (c *Client) Clear(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/events/clear", nil)
	if err != nil {
		return err
	}
	c.decorate(req)
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("clear failed: %s", readError(resp))
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.decorate(req)
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ingest rejected %s: %s", path, readError(resp))
	}
	return nil
}

func (c *Client) decorate(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	} else if c.tenant != "" {
		req.Header.Set("X-Tenant-ID", c.tenant)
	}
}

func readError(resp *http.Response) string {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil || len(body) == 0 {
		return resp.Status
	}
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		return fmt.Sprintf("%s (%s)", e.Error, resp.Status)
	}
	return resp.Status
}
