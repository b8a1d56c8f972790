package sink

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/loykin/resultstream/internal/event"
)

// Sink is the durable, append-only, tenant-scoped store for the four record
// kinds. Rows are never updated; each append assigns the next per-kind id,
// and that id is the sole ordering and cursor key for reads.
// Implementations must be safe for concurrent use.
type Sink interface {
	// EnsureSchema creates the backing tables for all kinds. It is
	// idempotent and safe to call on every process start.
	EnsureSchema(ctx context.Context) error
	// Append inserts one record and returns its assigned id. rec itself is
	// left unchanged; callers that need the id on the record apply the
	// returned value themselves (see event.SetRowID).
	Append(ctx context.Context, rec event.Record) (int64, error)
	// QuerySince returns all rows of kind for tenant with id > lastID,
	// ascending by id. The caller tracks its own cursor.
	QuerySince(ctx context.Context, kind event.Kind, tenant string, lastID int64) ([]event.Record, error)
	// QueryRecent returns the last limit rows of kind for tenant in
	// ascending id order (the legacy capped dump; limit <= 0 means 100).
	QueryRecent(ctx context.Context, kind event.Kind, tenant string, limit int) ([]event.Record, error)
	// LatestID returns the highest assigned id of kind for tenant, 0 when
	// no rows exist.
	LatestID(ctx context.Context, kind event.Kind, tenant string) (int64, error)
	// Clear deletes all rows of all kinds for tenant, leaving every other
	// tenant untouched.
	Clear(ctx context.Context, tenant string) error
	Close() error
}

// DefaultRecentLimit caps the legacy full-dump reads.
const DefaultRecentLimit = 100

// ErrUnknownScheme is returned by Open for a DSN whose scheme has no
// registered backend.
var ErrUnknownScheme = errors.New("unknown sink scheme")

// Opener constructs a Sink from a full DSN. Backends strip their own
// scheme prefix.
type Opener func(dsn string) (Sink, error)

var (
	regMu   sync.RWMutex
	openers = map[string]Opener{}
)

// Register makes a backend available to Open under the given scheme.
// Backends call this from init; registering a duplicate scheme panics.
func Register(scheme string, open Opener) {
	regMu.Lock()
	defer regMu.Unlock()
	s := strings.ToLower(scheme)
	if _, dup := openers[s]; dup {
		panic(fmt.Sprintf("sink: scheme %q registered twice", s))
	}
	openers[s] = open
}

// Schemes returns the registered scheme names, sorted.
func Schemes() []string {
	regMu.RLock()
	defer regMu.RUnlock()
	out := make([]string, 0, len(openers))
	for s := range openers {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Open selects a backend by DSN scheme. A DSN without a scheme is treated
// as a sqlite file path.
func Open(dsn string) (Sink, error) {
	d := strings.TrimSpace(dsn)
	if d == "" {
		return nil, errors.New("empty DSN")
	}
	scheme := "sqlite"
	if i := strings.Index(d, "://"); i >= 0 {
		scheme = strings.ToLower(d[:i])
	}
	regMu.RLock()
	open, ok := openers[scheme]
	regMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownScheme, scheme)
	}
	return open(d)
}
