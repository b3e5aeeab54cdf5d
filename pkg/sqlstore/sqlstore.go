// Package sqlstore exposes the SQL storage backend of the fieldkit reference
// server while keeping its implementation internal.
package sqlstore

import (
	"go.uber.org/zap"

	"github.com/mesh-intelligence/fieldkit/internal/sqlstore"
)

// DBFileName is the SQLite database file created under the data directory.
const DBFileName = sqlstore.DBFileName

// Backend is an attachable SQL backend with JSONL export and import.
type Backend = sqlstore.Backend

// NewBackend creates a detached backend. A nil logger discards output.
//
//	backend := sqlstore.NewBackend(nil)
//	err := backend.Attach(types.Config{
//	    Backend: types.BackendSQLite,
//	    DataDir: ".fieldkit-db",
//	})
//	defer backend.Detach()
func NewBackend(log *zap.Logger) *Backend {
	return sqlstore.NewBackend(log)
}
