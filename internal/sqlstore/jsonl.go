// This file implements JSONL export and import of the whole store, with
// atomic file writes.
package sqlstore

import (
	"bufio"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/mesh-intelligence/fieldkit/pkg/types"
)

type columnKind int

const (
	colString columnKind = iota
	colNullString
	colInt
	colNullInt
)

type column struct {
	name string
	kind columnKind
}

// jsonlTableMapping maps JSONL files to tables. Referenced tables come first.
var jsonlTableMapping = []struct {
	file    string
	table   string
	columns []column
}{
	{"fields.jsonl", types.TableFields, []column{
		{"field_id", colString}, {"name", colString}, {"label", colString}, {"field_type", colString},
		{"is_required", colInt}, {"is_multiple_selection", colInt}, {"ordinal", colInt}, {"created_at", colString},
	}},
	{"field_options.jsonl", types.TableOptions, []column{
		{"option_id", colString}, {"field_id", colString}, {"label", colString}, {"value", colString}, {"ordinal", colInt},
	}},
	{"subjects.jsonl", types.TableSubjects, []column{
		{"subject_id", colString}, {"updated_at", colString},
	}},
	{"field_values.jsonl", types.TableValues, []column{
		{"subject_id", colString}, {"field_id", colString}, {"value", colNullString},
		{"selected_option_ids", colNullString}, {"is_missing", colNullInt}, {"is_available", colNullInt},
	}},
}

// ExportJSONL writes one JSONL file per table into dir.
func (b *Backend) ExportJSONL(dir string) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.attached {
		return types.ErrBackendDetached
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	for _, m := range jsonlTableMapping {
		records, err := b.dumpTable(m.table, m.columns)
		if err != nil {
			return fmt.Errorf("exporting %s: %w", m.table, err)
		}
		if err := writeJSONL(filepath.Join(dir, m.file), records); err != nil {
			return fmt.Errorf("writing %s: %w", m.file, err)
		}
		b.log.Debug("exported table", zap.String("table", m.table), zap.Int("records", len(records)))
	}
	return nil
}

func (b *Backend) dumpTable(name string, cols []column) ([]json.RawMessage, error) {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.name
	}
	rows, err := b.query(fmt.Sprintf("SELECT %s FROM %s ORDER BY %s", strings.Join(names, ", "), name, names[0]))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []json.RawMessage
	for rows.Next() {
		dest := make([]any, len(cols))
		for i, c := range cols {
			switch c.kind {
			case colString:
				dest[i] = new(string)
			case colNullString:
				dest[i] = new(sql.NullString)
			case colInt:
				dest[i] = new(int64)
			case colNullInt:
				dest[i] = new(sql.NullInt64)
			}
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		obj := make(map[string]any, len(cols))
		for i, c := range cols {
			switch v := dest[i].(type) {
			case *string:
				obj[c.name] = *v
			case *int64:
				obj[c.name] = *v
			case *sql.NullString:
				if v.Valid {
					obj[c.name] = v.String
				} else {
					obj[c.name] = nil
				}
			case *sql.NullInt64:
				if v.Valid {
					obj[c.name] = v.Int64
				} else {
					obj[c.name] = nil
				}
			}
		}
		data, err := json.Marshal(obj)
		if err != nil {
			return nil, err
		}
		records = append(records, data)
	}
	return records, rows.Err()
}

// ImportJSONL replaces the store contents with the JSONL files in dir.
// Missing files load as empty tables. Loading is transactional: either every
// file loads or the store is unchanged. Malformed lines and rows that violate
// constraints are skipped.
func (b *Backend) ImportJSONL(dir string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.attached {
		return types.ErrBackendDetached
	}

	t, err := b.beginTx()
	if err != nil {
		return err
	}
	defer t.Rollback()

	for i := len(jsonlTableMapping) - 1; i >= 0; i-- {
		if _, err := t.exec("DELETE FROM " + jsonlTableMapping[i].table); err != nil {
			return fmt.Errorf("clearing %s: %w", jsonlTableMapping[i].table, err)
		}
	}

	for _, m := range jsonlTableMapping {
		records, err := readJSONL(filepath.Join(dir, m.file))
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return err
		}
		n, err := insertRecords(t, m.table, m.columns, records)
		if err != nil {
			return fmt.Errorf("loading %s into %s: %w", m.file, m.table, err)
		}
		b.log.Debug("imported table", zap.String("table", m.table), zap.Int("records", n))
	}

	if err := t.Commit(); err != nil {
		return fmt.Errorf("committing import: %w", err)
	}
	return nil
}

// insertRecords inserts the mapped columns of each record. Unknown JSON keys
// are ignored; absent keys insert NULL.
func insertRecords(t *tx, table string, cols []column, records []json.RawMessage) (int, error) {
	names := make([]string, len(cols))
	marks := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.name
		marks[i] = "?"
	}
	insertSQL := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(names, ", "), strings.Join(marks, ", "))

	stmt, err := t.Prepare(t.d.rebind(insertSQL))
	if err != nil {
		return 0, fmt.Errorf("preparing insert for %s: %w", table, err)
	}
	defer stmt.Close()

	inserted := 0
	for _, rec := range records {
		var obj map[string]any
		if err := json.Unmarshal(rec, &obj); err != nil {
			continue
		}
		args := make([]any, len(cols))
		for i, c := range cols {
			args[i] = columnValue(obj[c.name], c.kind)
		}
		// A failed statement aborts a PostgreSQL transaction, so each row
		// gets its own savepoint.
		if _, err := t.exec("SAVEPOINT import_row"); err != nil {
			return inserted, err
		}
		if _, err := stmt.Exec(args...); err != nil {
			if _, err := t.exec("ROLLBACK TO SAVEPOINT import_row"); err != nil {
				return inserted, err
			}
			continue
		}
		if _, err := t.exec("RELEASE SAVEPOINT import_row"); err != nil {
			return inserted, err
		}
		inserted++
	}
	return inserted, nil
}

// columnValue converts a decoded JSON value to the column's Go type.
func columnValue(v any, kind columnKind) any {
	switch kind {
	case colInt, colNullInt:
		switch n := v.(type) {
		case float64:
			return int64(n)
		case bool:
			return int64(boolInt(n))
		case nil:
			if kind == colInt {
				return int64(0)
			}
			return nil
		}
		return nil
	default:
		switch s := v.(type) {
		case string:
			return s
		case nil:
			if kind == colString {
				return ""
			}
			return nil
		default:
			data, _ := json.Marshal(s)
			return string(data)
		}
	}
}

// readJSONL returns each non-empty, well-formed line of path.
func readJSONL(path string) ([]json.RawMessage, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var records []json.RawMessage
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 || !json.Valid(line) {
			continue
		}
		cp := make([]byte, len(line))
		copy(cp, line)
		records = append(records, cp)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning %s: %w", path, err)
	}
	return records, nil
}

// writeJSONL writes records to path through a synced temp file and a rename.
func writeJSONL(path string, records []json.RawMessage) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".jsonl-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	fail := func(err error) error {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}

	w := bufio.NewWriter(tmp)
	for _, rec := range records {
		if _, err := w.Write(rec); err != nil {
			return fail(fmt.Errorf("writing record: %w", err))
		}
		if err := w.WriteByte('\n'); err != nil {
			return fail(fmt.Errorf("writing newline: %w", err))
		}
	}
	if err := w.Flush(); err != nil {
		return fail(fmt.Errorf("flushing buffer: %w", err))
	}
	if err := tmp.Sync(); err != nil {
		return fail(fmt.Errorf("syncing temp file: %w", err))
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}
