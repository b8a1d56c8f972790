// Package tail watches configured log files and pushes every new line into
// the ingest service as an application log record. Each source runs its own
// poll loop; a missing file or a failing ingest call affects only that
// source, never its siblings.
package tail

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/loykin/resultstream/internal/event"
	"github.com/loykin/resultstream/internal/logline"
)

// DefaultPollInterval applies to sources that do not set their own.
const DefaultPollInterval = time.Second

// Source is one watched log file.
type Source struct {
	Name         string // source label attached to every record
	Path         string
	PollInterval time.Duration
}

// Poster abstracts the ingest client.
type Poster interface {
	PostAppLog(ctx context.Context, rec event.AppLogRecord) error
}

// Tailer runs one poll loop per source.
type Tailer struct {
	sources []Source
	post    Poster
	norm    *logline.Normalizer
	logger  *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(sources []Source, post Poster, norm *logline.Normalizer, logger *slog.Logger) *Tailer {
	if norm == nil {
		norm = logline.New(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Tailer{sources: sources, post: post, norm: norm, logger: logger}
}

// Start launches every source loop. Call Stop to end them.
func (t *Tailer) Start(ctx context.Context) {
	ctx, t.cancel = context.WithCancel(ctx)
	for _, src := range t.sources {
		t.wg.Add(1)
		go t.run(ctx, src)
	}
}

// Stop cancels all loops and waits for them to finish.
func (t *Tailer) Stop() {
	if t.cancel != nil {
		t.cancel()
	}
	t.wg.Wait()
}

func (t *Tailer) run(ctx context.Context, src Source) {
	defer t.wg.Done()
	interval := src.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	logger := t.logger.With("source", src.Name, "path", src.Path)
	logger.Info("tailing log file")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var offset int64
	if fi, err := os.Stat(src.Path); err == nil {
		// start at the end; only lines written after startup are shipped
		offset = fi.Size()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		offset = t.poll(ctx, src, logger, offset)
	}
}

// poll ships every complete line appended since offset and returns the new
// offset. The cursor advances regardless of ingest failures: a lost line is
// not replayed, the next cycle picks up from here.
func (t *Tailer) poll(ctx context.Context, src Source, logger *slog.Logger, offset int64) (next int64) {
	// Named so a recovered panic resumes from the last good offset instead
	// of re-shipping the whole file on the next tick.
	next = offset
	defer func() {
		if r := recover(); r != nil {
			logger.Error("tail loop panicked", "panic", r)
		}
	}()

	fi, err := os.Stat(src.Path)
	if err != nil {
		// keep retrying until the file shows up
		return next
	}
	size := fi.Size()
	if size < next {
		logger.Warn("log file truncated, restarting from beginning")
		next = 0
	}
	if size == next {
		return next
	}

	f, err := os.Open(src.Path)
	if err != nil {
		logger.Warn("cannot open log file", "error", err)
		return next
	}
	defer func() { _ = f.Close() }()
	if _, err := f.Seek(next, 0); err != nil {
		logger.Warn("cannot seek log file", "error", err)
		return next
	}
	buf := make([]byte, size-next)
	n, err := f.Read(buf)
	if err != nil && n == 0 {
		logger.Warn("cannot read log file", "error", err)
		return next
	}
	chunk := string(buf[:n])

	// only ship complete lines; a trailing partial line waits for the next poll
	consumed := len(chunk)
	if !strings.HasSuffix(chunk, "\n") {
		if i := strings.LastIndexByte(chunk, '\n'); i >= 0 {
			consumed = i + 1
			chunk = chunk[:consumed]
		} else {
			return next
		}
	}

	for _, line := range strings.Split(chunk, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		ts, level, fields := t.norm.Parse(line)
		rec := event.AppLogRecord{
			EventType: event.TypeAppLog,
			Source:    src.Name,
			Level:     level,
			Message:   strings.Join(fields, " "),
			Timestamp: ts,
		}
		if err := t.post.PostAppLog(ctx, rec); err != nil {
			logger.Warn("failed to ship log line", "error", err)
		}
	}
	return next + int64(consumed)
}
