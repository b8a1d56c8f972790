// Package factory links every built-in storage backend into one import.
// Backends register their DSN scheme with the sink registry from init, so
// adding a backend means adding an import line here, not a branch anywhere.
package factory

import (
	"github.com/loykin/resultstream/internal/sink"

	_ "github.com/loykin/resultstream/internal/sink/memory"
	_ "github.com/loykin/resultstream/internal/sink/postgres"
	_ "github.com/loykin/resultstream/internal/sink/sqlite"
)

// Open resolves dsn against the registered backends.
// Supported:
//   - memory:  "memory://"
//   - sqlite:  "sqlite:///<path>" or a bare filepath
//   - postgres: "postgres://..." or "postgresql://..."
func Open(dsn string) (sink.Sink, error) {
	return sink.Open(dsn)
}
