package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/loykin/resultstream"
	"github.com/loykin/resultstream/internal/config"
	"github.com/loykin/resultstream/internal/logger"
	"github.com/loykin/resultstream/internal/logline"
	"github.com/loykin/resultstream/internal/scraper"
	"github.com/loykin/resultstream/internal/tail"
	"github.com/loykin/resultstream/pkg/client"
)

// runServe runs the ingest service until SIGINT/SIGTERM. The configured log
// sources and the host metric scraper run in-process, posting through the
// same HTTP API external producers use.
func runServe(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log, closer := loggerFor(cfg)
	if closer != nil {
		defer func() { _ = closer.Close() }()
	}
	slog.SetDefault(log)

	if err := resultstream.RegisterMetricsDefault(); err != nil {
		log.Warn("failed to register metrics", "error", err)
	}
	if cfg.MetricsListen != "" {
		go func() {
			if err := resultstream.ServeMetrics(cfg.MetricsListen); err != nil {
				log.Error("metrics server error", "error", err)
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc, err := resultstream.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close() }()

	server := svc.NewServer(cfg.Listen)
	log.Info("serving", "listen", cfg.Listen, "base_path", cfg.BasePath, "dsn", cfg.DSN)

	loop := clientFor(cfg, ProducerFlags{}, log)
	if len(cfg.Sources) > 0 {
		tailer := tail.New(sourcesFrom(cfg), loop, normalizerFor(cfg, log), log)
		tailer.Start(ctx)
		defer tailer.Stop()
	}
	if cfg.Scraper.Enabled {
		sc := scraper.New(loop, cfg.Scraper.Interval, log)
		sc.Start(ctx)
		defer sc.Stop()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	return server.Shutdown(shutdownCtx)
}

// runTail ships configured log files until SIGINT/SIGTERM.
func runTail(configPath string, flags TailFlags) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log, closer := loggerFor(cfg)
	if closer != nil {
		defer func() { _ = closer.Close() }()
	}

	sources := sourcesFrom(cfg)
	if flags.Path != "" {
		name := flags.Name
		if name == "" {
			name = flags.Path
		}
		sources = append(sources, tail.Source{Name: name, Path: flags.Path, PollInterval: flags.Interval})
	}
	if len(sources) == 0 {
		return fmt.Errorf("no sources: add [[sources]] to the config or pass --path")
	}

	tailer := tail.New(sources, clientFor(cfg, flags.ProducerFlags, log), normalizerFor(cfg, log), log)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tailer.Start(ctx)
	defer tailer.Stop()

	waitForSignal()
	return nil
}

// runScrape ships host metric samples until SIGINT/SIGTERM.
func runScrape(configPath string, flags ScrapeFlags) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log, closer := loggerFor(cfg)
	if closer != nil {
		defer func() { _ = closer.Close() }()
	}

	interval := flags.Interval
	if interval <= 0 {
		interval = cfg.Scraper.Interval
	}
	sc := scraper.New(clientFor(cfg, flags.ProducerFlags, log), interval, log)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sc.Start(ctx)
	defer sc.Stop()

	waitForSignal()
	return nil
}

// runClear wipes the calling tenant's records via the service API.
func runClear(configPath string, flags ProducerFlags) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log, closer := loggerFor(cfg)
	if closer != nil {
		defer func() { _ = closer.Close() }()
	}

	c := clientFor(cfg, flags, log)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.Clear(ctx); err != nil {
		return err
	}
	fmt.Println("cleared")
	return nil
}

func loggerFor(cfg config.FileConfig) (*slog.Logger, io.Closer) {
	lc := logger.Config{
		Level:      cfg.Log.Level,
		Path:       cfg.Log.Path,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	}
	return lc.New()
}

func clientFor(cfg config.FileConfig, flags ProducerFlags, log *slog.Logger) *client.Client {
	cc := client.Config{
		BaseURL: cfg.Client.IngestURL,
		Tenant:  cfg.Client.Tenant,
		Timeout: cfg.Client.Timeout,
		Logger:  log,
	}
	if flags.APIUrl != "" {
		cc.BaseURL = flags.APIUrl
	}
	if flags.Tenant != "" {
		cc.Tenant = flags.Tenant
	}
	if flags.Token != "" {
		cc.Token = flags.Token
	}
	if flags.Timeout > 0 {
		cc.Timeout = flags.Timeout
	}
	return client.New(cc)
}

func sourcesFrom(cfg config.FileConfig) []tail.Source {
	sources := make([]tail.Source, 0, len(cfg.Sources))
	for _, s := range cfg.Sources {
		sources = append(sources, tail.Source{Name: s.Name, Path: s.Path, PollInterval: s.PollInterval})
	}
	return sources
}

func normalizerFor(cfg config.FileConfig, log *slog.Logger) *logline.Normalizer {
	if cfg.DefaultTimezone == "" {
		return logline.New(nil)
	}
	loc, err := time.LoadLocation(cfg.DefaultTimezone)
	if err != nil {
		log.Warn("unknown timezone, falling back to default", "timezone", cfg.DefaultTimezone)
		return logline.New(nil)
	}
	return logline.New(loc)
}

func waitForSignal() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
}
