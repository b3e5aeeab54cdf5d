// Package sqlstore implements the SQL storage backend of the fieldkit
// reference server. SQLite (modernc), PostgreSQL (lib/pq), and MySQL
// (go-sql-driver) share one portable schema.
package sqlstore

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/mesh-intelligence/fieldkit/pkg/types"
)

// DBFileName is the SQLite database file created under DataDir.
const DBFileName = "fieldkit.db"

// Backend implements types.Backend on database/sql.
type Backend struct {
	mu       sync.RWMutex
	attached bool
	config   types.Config
	db       *sql.DB
	dialect  dialect
	tables   map[string]*table
	log      *zap.Logger
}

// NewBackend creates a detached backend. Call Attach with a Config to use it.
func NewBackend(log *zap.Logger) *Backend {
	if log == nil {
		log = zap.NewNop()
	}
	return &Backend{
		tables: make(map[string]*table),
		log:    log,
	}
}

// GetTable returns the accessor for a standard table name.
func (b *Backend) GetTable(name string) (types.Table, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.attached {
		return nil, types.ErrBackendDetached
	}
	t, ok := b.tables[name]
	if !ok {
		return nil, types.ErrTableNotFound
	}
	return t, nil
}

// Attach opens the database, creates the schema when missing, and seeds
// field definitions from config.SeedFile when the fields table is empty.
func (b *Backend) Attach(config types.Config) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.attached {
		return types.ErrAlreadyAttached
	}
	if err := config.Validate(); err != nil {
		return err
	}

	d := dialectFor(config.Backend)
	dsn := config.DSN
	if config.Backend == types.BackendSQLite {
		dataDir := config.DataDir
		if dataDir == "" {
			dataDir = "."
		}
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return err
		}
		dsn = sqliteDSN(filepath.Join(dataDir, DBFileName))
	}

	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return fmt.Errorf("open %s: %w", config.Backend, err)
	}
	if config.Backend == types.BackendSQLite {
		// One writer at a time; SQLite serialises anyway.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return fmt.Errorf("connect %s: %w", config.Backend, err)
	}
	if err := createSchema(db); err != nil {
		db.Close()
		return fmt.Errorf("create schema: %w", err)
	}

	b.db = db
	b.dialect = d
	b.config = config
	for _, name := range types.StandardTableNames {
		b.tables[name] = &table{name: name, backend: b}
	}

	if config.SeedFile != "" {
		if err := b.seedFromFile(config.SeedFile); err != nil {
			db.Close()
			b.db = nil
			b.tables = make(map[string]*table)
			return fmt.Errorf("seed: %w", err)
		}
	}

	b.attached = true
	b.log.Info("backend attached", zap.String("backend", config.Backend))
	return nil
}

// Detach closes the database. Detach is idempotent.
func (b *Backend) Detach() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.attached {
		return nil
	}
	if b.db != nil {
		if err := b.db.Close(); err != nil {
			return err
		}
		b.db = nil
	}
	b.attached = false
	b.tables = make(map[string]*table)
	return nil
}

// Ping checks the database connection.
func (b *Backend) Ping() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.attached {
		return types.ErrBackendDetached
	}
	return b.db.Ping()
}

func sqliteDSN(path string) string {
	return "file:" + path + "?_pragma=busy_timeout(5000)"
}

// newUUID generates a UUID v7 string.
func newUUID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// beginTx starts a transaction whose statements go through the dialect.
func (b *Backend) beginTx() (*tx, error) {
	sqlTx, err := b.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return &tx{Tx: sqlTx, d: b.dialect}, nil
}

func (b *Backend) query(q string, args ...any) (*sql.Rows, error) {
	return b.db.Query(b.dialect.rebind(q), args...)
}

func (b *Backend) queryRow(q string, args ...any) *sql.Row {
	return b.db.QueryRow(b.dialect.rebind(q), args...)
}
