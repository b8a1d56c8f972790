package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// FileConfig represents the top-level TOML structure. YAML files are
// accepted as well; viper picks the format from the file extension.
type FileConfig struct {
	Listen          string `toml:"listen" mapstructure:"listen"`
	MetricsListen   string `toml:"metrics_listen" mapstructure:"metrics_listen"`
	BasePath        string `toml:"base_path" mapstructure:"base_path"`
	DSN             string `toml:"dsn" mapstructure:"dsn"`
	DefaultTimezone string `toml:"default_timezone" mapstructure:"default_timezone"`
	JWTSecret       string `toml:"jwt_secret" mapstructure:"jwt_secret"`

	Hub     HubConfig      `toml:"hub" mapstructure:"hub"`
	Stream  StreamConfig   `toml:"stream" mapstructure:"stream"`
	Log     LogConfig      `toml:"log" mapstructure:"log"`
	Export  ExportConfig   `toml:"export" mapstructure:"export"`
	Sources []SourceConfig `toml:"sources" mapstructure:"sources"`
	Scraper ScraperConfig  `toml:"scraper" mapstructure:"scraper"`
	Client  ClientConfig   `toml:"client" mapstructure:"client"`
}

type HubConfig struct {
	QueueCapacity int `toml:"queue_capacity" mapstructure:"queue_capacity"`
}

type StreamConfig struct {
	SnapshotCount int           `toml:"snapshot_count" mapstructure:"snapshot_count"`
	Keepalive     time.Duration `toml:"keepalive" mapstructure:"keepalive"`
	RetryHint     time.Duration `toml:"retry_hint" mapstructure:"retry_hint"`
}

type LogConfig struct {
	Level      string `toml:"level" mapstructure:"level"`
	Path       string `toml:"path" mapstructure:"path"`
	MaxSizeMB  int    `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `toml:"compress" mapstructure:"compress"`
}

type ExportConfig struct {
	Enabled  bool   `toml:"enabled" mapstructure:"enabled"`
	Addr     string `toml:"addr" mapstructure:"addr"`
	Database string `toml:"database" mapstructure:"database"`
	Username string `toml:"username" mapstructure:"username"`
	Password string `toml:"password" mapstructure:"password"`
	Table    string `toml:"table" mapstructure:"table"`
}

// SourceConfig describes one watched log file for the tail producer.
type SourceConfig struct {
	Name         string        `toml:"name" mapstructure:"name"`
	Path         string        `toml:"path" mapstructure:"path"`
	PollInterval time.Duration `toml:"poll_interval" mapstructure:"poll_interval"`
}

type ScraperConfig struct {
	Enabled  bool          `toml:"enabled" mapstructure:"enabled"`
	Interval time.Duration `toml:"interval" mapstructure:"interval"`
}

// ClientConfig points producers at the ingest service.
type ClientConfig struct {
	IngestURL string        `toml:"ingest_url" mapstructure:"ingest_url"`
	Tenant    string        `toml:"tenant" mapstructure:"tenant"`
	Timeout   time.Duration `toml:"timeout" mapstructure:"timeout"`
}

// Default returns the configuration used when no file is given.
func Default() FileConfig {
	return FileConfig{
		Listen:          ":8000",
		MetricsListen:   ":9100",
		BasePath:        "/api",
		DSN:             "sqlite:///eventlog.db",
		DefaultTimezone: "Europe/Amsterdam",
		Hub:             HubConfig{QueueCapacity: 100},
		Stream: StreamConfig{
			SnapshotCount: 50,
			Keepalive:     30 * time.Second,
			RetryHint:     2 * time.Second,
		},
		Log:     LogConfig{Level: "info"},
		Scraper: ScraperConfig{Interval: 5 * time.Second},
		Client: ClientConfig{
			IngestURL: "http://127.0.0.1:8000/api",
			Timeout:   2 * time.Second,
		},
	}
}

// Load reads path into a FileConfig, applying Default for unset keys.
// An empty path returns Default unchanged.
func Load(path string) (FileConfig, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}
