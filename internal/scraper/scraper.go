// Package scraper samples host CPU and memory usage on an interval and
// ships the samples to the ingest service as metric records.
package scraper

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/loykin/resultstream/internal/event"
)

// DefaultInterval between samples.
const DefaultInterval = 5 * time.Second

// Poster abstracts the ingest client.
type Poster interface {
	PostMetric(ctx context.Context, rec event.MetricRecord) error
}

// Scraper runs the sampling loop.
type Scraper struct {
	post     Poster
	interval time.Duration
	logger   *slog.Logger
	hostname string
	sampler  *sampler

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(post Poster, interval time.Duration, logger *slog.Logger) *Scraper {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return &Scraper{
		post:     post,
		interval: interval,
		logger:   logger,
		hostname: hostname,
		sampler:  newSampler(),
	}
}

// Start launches the loop. Call Stop to end it.
func (s *Scraper) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.run(ctx)
}

// Stop cancels the loop and waits for it to finish.
func (s *Scraper) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Scraper) run(ctx context.Context) {
	defer s.wg.Done()
	s.logger.Info("metric scraper started", "interval", s.interval.String(), "source", s.hostname)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		s.sample(ctx)
	}
}

func (s *Scraper) sample(ctx context.Context) {
	now := time.Now().UTC()
	for _, m := range s.sampler.sample() {
		rec := event.MetricRecord{
			EventType:  event.TypeMetric,
			MetricName: m.name,
			Value:      m.value,
			Unit:       "%",
			Source:     s.hostname,
			Timestamp:  now,
		}
		if err := s.post.PostMetric(ctx, rec); err != nil {
			s.logger.Warn("failed to ship metric", "metric", m.name, "error", err)
		}
	}
}

type measurement struct {
	name  string
	value float64
}
