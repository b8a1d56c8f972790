package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.Listen != ":8000" || cfg.BasePath != "/api" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.DSN != "sqlite:///eventlog.db" {
		t.Fatalf("dsn default %q", cfg.DSN)
	}
	if cfg.Hub.QueueCapacity != 100 || cfg.Stream.SnapshotCount != 50 {
		t.Fatalf("hub/stream defaults %+v %+v", cfg.Hub, cfg.Stream)
	}
	if cfg.Stream.Keepalive != 30*time.Second {
		t.Fatalf("keepalive default %v", cfg.Stream.Keepalive)
	}
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Listen != ":8000" {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
}

func TestLoadTOML(t *testing.T) {
	content := `
listen = ":9000"
dsn = "memory://"
jwt_secret = "s3cret"

[hub]
queue_capacity = 10

[stream]
snapshot_count = 5
keepalive = "10s"

[log]
level = "debug"

[export]
enabled = true
addr = "127.0.0.1:9440"
database = "analytics"

[[sources]]
name = "www"
path = "/var/log/nginx/access.log"
poll_interval = "500ms"

[scraper]
enabled = true
interval = "2s"

[client]
ingest_url = "http://127.0.0.1:9000/api"
tenant = "ci"
`
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Listen != ":9000" || cfg.DSN != "memory://" || cfg.JWTSecret != "s3cret" {
		t.Fatalf("top level not applied: %+v", cfg)
	}
	// unset keys keep their defaults
	if cfg.BasePath != "/api" || cfg.MetricsListen != ":9100" {
		t.Fatalf("defaults lost: %+v", cfg)
	}
	if cfg.Hub.QueueCapacity != 10 {
		t.Fatalf("hub %+v", cfg.Hub)
	}
	if cfg.Stream.SnapshotCount != 5 || cfg.Stream.Keepalive != 10*time.Second {
		t.Fatalf("stream %+v", cfg.Stream)
	}
	if cfg.Stream.RetryHint != 2*time.Second {
		t.Fatalf("retry hint default lost: %v", cfg.Stream.RetryHint)
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("log %+v", cfg.Log)
	}
	if !cfg.Export.Enabled || cfg.Export.Database != "analytics" {
		t.Fatalf("export %+v", cfg.Export)
	}
	if len(cfg.Sources) != 1 || cfg.Sources[0].Name != "www" || cfg.Sources[0].PollInterval != 500*time.Millisecond {
		t.Fatalf("sources %+v", cfg.Sources)
	}
	if !cfg.Scraper.Enabled || cfg.Scraper.Interval != 2*time.Second {
		t.Fatalf("scraper %+v", cfg.Scraper)
	}
	if cfg.Client.Tenant != "ci" {
		t.Fatalf("client %+v", cfg.Client)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
