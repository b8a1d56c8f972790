package export

import (
	"context"

	"github.com/loykin/resultstream/internal/event"
)

// Sink is a best-effort destination for ingested records (analytics and
// long-term statistics systems). Delivery failures never fail ingestion;
// the persistence sink is the durability guarantee.
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, rec event.Record) error
	Close() error
}
