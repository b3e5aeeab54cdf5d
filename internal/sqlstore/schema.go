package sqlstore

import (
	"database/sql"
	"strings"
)

// schemaStatements create the tables. The DDL sticks to types every engine
// accepts; booleans are INTEGER 0/1 and option selections are a JSON array
// in TEXT. Cascades are done in code.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS fields (
		field_id VARCHAR(64) PRIMARY KEY,
		name VARCHAR(255) NOT NULL UNIQUE,
		label TEXT NOT NULL,
		field_type VARCHAR(32) NOT NULL,
		is_required INTEGER NOT NULL DEFAULT 0,
		is_multiple_selection INTEGER NOT NULL DEFAULT 0,
		ordinal INTEGER NOT NULL DEFAULT 0,
		created_at VARCHAR(40) NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS field_options (
		option_id VARCHAR(64) PRIMARY KEY,
		field_id VARCHAR(64) NOT NULL,
		label TEXT NOT NULL,
		value TEXT NOT NULL,
		ordinal INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS subjects (
		subject_id VARCHAR(255) PRIMARY KEY,
		updated_at VARCHAR(40) NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS field_values (
		subject_id VARCHAR(255) NOT NULL,
		field_id VARCHAR(64) NOT NULL,
		value TEXT,
		selected_option_ids TEXT,
		is_missing INTEGER,
		is_available INTEGER,
		PRIMARY KEY (subject_id, field_id)
	)`,
}

// createSchema runs each statement separately; the MySQL driver rejects
// multi-statement Exec by default.
func createSchema(db *sql.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.Exec(strings.TrimSpace(stmt)); err != nil {
			return err
		}
	}
	return nil
}
