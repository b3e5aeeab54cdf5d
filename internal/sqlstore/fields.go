package sqlstore

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/mesh-intelligence/fieldkit/pkg/types"
)

const fieldColumns = "field_id, name, label, field_type, is_required, is_multiple_selection, ordinal"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanField(row rowScanner) (*types.FieldDefinition, error) {
	var d types.FieldDefinition
	var fieldType string
	if err := row.Scan(&d.ID, &d.Name, &d.Label, &fieldType, &d.IsRequired, &d.IsMultiSelect, &d.Order); err != nil {
		return nil, err
	}
	ft, err := types.ParseFieldType(fieldType)
	if err != nil {
		return nil, fmt.Errorf("field %s: %w", d.ID, err)
	}
	d.Type = ft
	d.Normalize()
	return &d, nil
}

func (b *Backend) getField(id string) (any, error) {
	d, err := scanField(b.queryRow("SELECT "+fieldColumns+" FROM fields WHERE field_id = ?", id))
	if err == sql.ErrNoRows {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning field: %w", err)
	}
	opts, err := b.optionsByField(d.ID)
	if err != nil {
		return nil, err
	}
	d.Options = opts[d.ID]
	return d, nil
}

func (b *Backend) fetchFields(filter types.Filter) ([]any, error) {
	fieldType, hasType, err := stringFilter(filter, "field_type")
	if err != nil {
		return nil, err
	}
	q := "SELECT " + fieldColumns + " FROM fields"
	var args []any
	if hasType {
		q += " WHERE field_type = ?"
		args = append(args, fieldType)
	}
	q += " ORDER BY ordinal, created_at, field_id"

	rows, err := b.query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("fetching fields: %w", err)
	}
	defer rows.Close()

	var defs []*types.FieldDefinition
	for rows.Next() {
		d, err := scanField(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning field: %w", err)
		}
		defs = append(defs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	opts, err := b.optionsByField("")
	if err != nil {
		return nil, err
	}
	results := make([]any, 0, len(defs))
	for _, d := range defs {
		d.Options = opts[d.ID]
		results = append(results, d)
	}
	return results, nil
}

// setField creates or updates a definition. On create an empty Name is
// derived from Label and Order goes after every existing field. The field
// type never changes after creation.
func (b *Backend) setField(id string, d *types.FieldDefinition) (string, error) {
	d.Label = strings.TrimSpace(d.Label)
	if d.Label == "" {
		return "", types.ErrInvalidLabel
	}
	if !d.Type.Valid() {
		return "", types.ErrInvalidFieldType
	}
	d.Normalize()
	if id != "" {
		d.ID = id
	}

	t, err := b.beginTx()
	if err != nil {
		return "", err
	}
	defer t.Rollback()

	var (
		existingType  string
		existingName  string
		existingOrder int
	)
	isCreate := d.ID == ""
	if !isCreate {
		err := t.queryRow("SELECT field_type, name, ordinal FROM fields WHERE field_id = ?", d.ID).
			Scan(&existingType, &existingName, &existingOrder)
		switch {
		case err == sql.ErrNoRows:
			isCreate = true
		case err != nil:
			return "", fmt.Errorf("loading field: %w", err)
		}
	}

	if isCreate {
		if d.ID == "" {
			d.ID = newUUID()
		}
		if err := b.createField(t, d); err != nil {
			return "", err
		}
	} else {
		if existingType != string(d.Type) {
			return "", types.ErrTypeMismatch
		}
		if d.Name == "" {
			d.Name = existingName
		} else if d.Name != existingName {
			taken, err := t.exists("SELECT 1 FROM fields WHERE name = ? AND field_id <> ?", d.Name, d.ID)
			if err != nil {
				return "", fmt.Errorf("checking field name: %w", err)
			}
			if taken {
				return "", types.ErrDuplicateName
			}
		}
		if d.Order == 0 {
			d.Order = existingOrder
		}
		if _, err := t.exec(`UPDATE fields SET name = ?, label = ?, is_required = ?, is_multiple_selection = ?, ordinal = ?
			WHERE field_id = ?`,
			d.Name, d.Label, boolInt(d.IsRequired), boolInt(d.IsMultiSelect), d.Order, d.ID); err != nil {
			return "", fmt.Errorf("updating field: %w", err)
		}
	}

	if err := t.Commit(); err != nil {
		return "", fmt.Errorf("committing field: %w", err)
	}
	return d.ID, nil
}

func (b *Backend) createField(t *tx, d *types.FieldDefinition) error {
	names, err := fieldNames(t)
	if err != nil {
		return err
	}
	if d.Name == "" {
		d.Name = types.DeriveName(d.Label, func(n string) bool { return names[n] }, time.Now())
	} else if names[d.Name] {
		return types.ErrDuplicateName
	}

	var maxOrder int64
	if err := t.queryRow("SELECT COALESCE(MAX(ordinal), -1) FROM fields").Scan(&maxOrder); err != nil {
		return fmt.Errorf("reading field order: %w", err)
	}
	d.Order = int(maxOrder) + 1

	if _, err := t.exec(`INSERT INTO fields (`+fieldColumns+`, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.Name, d.Label, string(d.Type), boolInt(d.IsRequired), boolInt(d.IsMultiSelect), d.Order,
		time.Now().UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("inserting field: %w", err)
	}
	return nil
}

func fieldNames(t *tx) (map[string]bool, error) {
	rows, err := t.query("SELECT name FROM fields")
	if err != nil {
		return nil, fmt.Errorf("loading field names: %w", err)
	}
	defer rows.Close()
	names := make(map[string]bool)
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names[n] = true
	}
	return names, rows.Err()
}

// deleteField removes a definition with its options and every stored value.
func (b *Backend) deleteField(id string) error {
	t, err := b.beginTx()
	if err != nil {
		return err
	}
	defer t.Rollback()

	ok, err := t.exists("SELECT 1 FROM fields WHERE field_id = ?", id)
	if err != nil {
		return fmt.Errorf("checking field: %w", err)
	}
	if !ok {
		return types.ErrNotFound
	}
	for _, q := range []string{
		"DELETE FROM field_values WHERE field_id = ?",
		"DELETE FROM field_options WHERE field_id = ?",
		"DELETE FROM fields WHERE field_id = ?",
	} {
		if _, err := t.exec(q, id); err != nil {
			return fmt.Errorf("deleting field: %w", err)
		}
	}
	return t.Commit()
}
