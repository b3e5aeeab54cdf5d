package sqlstore

import (
	"database/sql"
	"strconv"
	"strings"

	"github.com/mesh-intelligence/fieldkit/pkg/types"
)

// dialect holds the per-engine differences. Queries are written with ?
// placeholders and rebound for PostgreSQL.
type dialect struct {
	name   string
	driver string
	dollar bool
}

func dialectFor(backend string) dialect {
	switch backend {
	case types.BackendPostgres:
		return dialect{name: backend, driver: "postgres", dollar: true}
	case types.BackendMySQL:
		return dialect{name: backend, driver: "mysql"}
	default:
		return dialect{name: types.BackendSQLite, driver: "sqlite"}
	}
}

// rebind rewrites ? placeholders to $1, $2, ... when the engine needs it.
func (d dialect) rebind(q string) string {
	if !d.dollar {
		return q
	}
	var sb strings.Builder
	sb.Grow(len(q) + 8)
	n := 0
	for i := 0; i < len(q); i++ {
		if q[i] == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteByte(q[i])
	}
	return sb.String()
}

// tx wraps sql.Tx so every statement is rebound.
type tx struct {
	*sql.Tx
	d dialect
}

func (t *tx) exec(q string, args ...any) (sql.Result, error) {
	return t.Tx.Exec(t.d.rebind(q), args...)
}

func (t *tx) query(q string, args ...any) (*sql.Rows, error) {
	return t.Tx.Query(t.d.rebind(q), args...)
}

func (t *tx) queryRow(q string, args ...any) *sql.Row {
	return t.Tx.QueryRow(t.d.rebind(q), args...)
}

// exists reports whether q returns a row.
func (t *tx) exists(q string, args ...any) (bool, error) {
	var one int
	err := t.queryRow(q, args...).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// nullBoolInt stores a tri-state flag; nil stays NULL.
func nullBoolInt(p *bool) any {
	if p == nil {
		return nil
	}
	return boolInt(*p)
}
