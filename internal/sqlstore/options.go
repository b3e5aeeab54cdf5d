package sqlstore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mesh-intelligence/fieldkit/pkg/types"
)

const optionColumns = "option_id, field_id, label, value"

// optionsByField loads options grouped by field, in creation order. An empty
// fieldID loads every field's options.
func (b *Backend) optionsByField(fieldID string) (map[string][]types.FieldOption, error) {
	q := "SELECT " + optionColumns + " FROM field_options"
	var args []any
	if fieldID != "" {
		q += " WHERE field_id = ?"
		args = append(args, fieldID)
	}
	q += " ORDER BY ordinal, option_id"

	rows, err := b.query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("fetching options: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]types.FieldOption)
	for rows.Next() {
		var o types.FieldOption
		if err := rows.Scan(&o.ID, &o.FieldID, &o.Label, &o.Value); err != nil {
			return nil, fmt.Errorf("scanning option: %w", err)
		}
		out[o.FieldID] = append(out[o.FieldID], o)
	}
	return out, rows.Err()
}

func (b *Backend) getOption(id string) (any, error) {
	var o types.FieldOption
	err := b.queryRow("SELECT "+optionColumns+" FROM field_options WHERE option_id = ?", id).
		Scan(&o.ID, &o.FieldID, &o.Label, &o.Value)
	if err == sql.ErrNoRows {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning option: %w", err)
	}
	return &o, nil
}

func (b *Backend) fetchOptions(filter types.Filter) ([]any, error) {
	fieldID, _, err := stringFilter(filter, "field_id")
	if err != nil {
		return nil, err
	}
	byField, err := b.optionsByField(fieldID)
	if err != nil {
		return nil, err
	}
	results := []any{}
	if fieldID != "" {
		for i := range byField[fieldID] {
			results = append(results, &byField[fieldID][i])
		}
		return results, nil
	}
	// Keep field order stable across calls.
	fields, err := b.fetchFields(nil)
	if err != nil {
		return nil, err
	}
	for _, f := range fields {
		opts := byField[f.(*types.FieldDefinition).ID]
		for i := range opts {
			results = append(results, &opts[i])
		}
	}
	return results, nil
}

// setOption creates or relabels an option of a choice field. An empty Value
// is derived from Label.
func (b *Backend) setOption(id string, o *types.FieldOption) (string, error) {
	o.Label = strings.TrimSpace(o.Label)
	if o.Label == "" {
		return "", types.ErrInvalidLabel
	}
	if o.FieldID == "" {
		return "", types.ErrInvalidData
	}
	if o.Value == "" {
		o.Value = types.OptionValue(o.Label, time.Now())
	}
	if id != "" {
		o.ID = id
	}

	t, err := b.beginTx()
	if err != nil {
		return "", err
	}
	defer t.Rollback()

	var fieldType string
	err = t.queryRow("SELECT field_type FROM fields WHERE field_id = ?", o.FieldID).Scan(&fieldType)
	if err == sql.ErrNoRows {
		return "", types.ErrFieldNotFound
	}
	if err != nil {
		return "", fmt.Errorf("loading field: %w", err)
	}
	if ft, err := types.ParseFieldType(fieldType); err != nil || !ft.IsChoice() {
		return "", types.ErrNotChoiceField
	}

	var existingField string
	isCreate := o.ID == ""
	if !isCreate {
		err := t.queryRow("SELECT field_id FROM field_options WHERE option_id = ?", o.ID).Scan(&existingField)
		switch {
		case err == sql.ErrNoRows:
			isCreate = true
		case err != nil:
			return "", fmt.Errorf("loading option: %w", err)
		case existingField != o.FieldID:
			return "", types.ErrInvalidData
		}
	}

	if isCreate {
		if o.ID == "" {
			o.ID = newUUID()
		}
		var maxOrder int64
		if err := t.queryRow("SELECT COALESCE(MAX(ordinal), -1) FROM field_options WHERE field_id = ?", o.FieldID).
			Scan(&maxOrder); err != nil {
			return "", fmt.Errorf("reading option order: %w", err)
		}
		if _, err := t.exec("INSERT INTO field_options ("+optionColumns+", ordinal) VALUES (?, ?, ?, ?, ?)",
			o.ID, o.FieldID, o.Label, o.Value, maxOrder+1); err != nil {
			return "", fmt.Errorf("inserting option: %w", err)
		}
	} else {
		if _, err := t.exec("UPDATE field_options SET label = ?, value = ? WHERE option_id = ?",
			o.Label, o.Value, o.ID); err != nil {
			return "", fmt.Errorf("updating option: %w", err)
		}
	}

	if err := t.Commit(); err != nil {
		return "", fmt.Errorf("committing option: %w", err)
	}
	return o.ID, nil
}

// deleteOption removes an option and strips it from every stored selection.
func (b *Backend) deleteOption(id string) error {
	t, err := b.beginTx()
	if err != nil {
		return err
	}
	defer t.Rollback()

	var fieldID string
	err = t.queryRow("SELECT field_id FROM field_options WHERE option_id = ?", id).Scan(&fieldID)
	if err == sql.ErrNoRows {
		return types.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("loading option: %w", err)
	}
	if _, err := t.exec("DELETE FROM field_options WHERE option_id = ?", id); err != nil {
		return fmt.Errorf("deleting option: %w", err)
	}
	if err := stripOption(t, fieldID, id); err != nil {
		return err
	}
	return t.Commit()
}

type selectionRow struct {
	subjectID string
	ids       []string
}

func stripOption(t *tx, fieldID, optionID string) error {
	rows, err := t.query(
		"SELECT subject_id, selected_option_ids FROM field_values WHERE field_id = ? AND selected_option_ids IS NOT NULL",
		fieldID)
	if err != nil {
		return fmt.Errorf("loading selections: %w", err)
	}
	var changed []selectionRow
	for rows.Next() {
		var subjectID, raw string
		if err := rows.Scan(&subjectID, &raw); err != nil {
			rows.Close()
			return fmt.Errorf("scanning selection: %w", err)
		}
		ids := decodeIDs(raw)
		kept := ids[:0]
		for _, x := range ids {
			if x != optionID {
				kept = append(kept, x)
			}
		}
		if len(kept) != len(ids) {
			changed = append(changed, selectionRow{subjectID: subjectID, ids: kept})
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, c := range changed {
		if _, err := t.exec("UPDATE field_values SET selected_option_ids = ? WHERE subject_id = ? AND field_id = ?",
			encodeIDs(c.ids), c.subjectID, fieldID); err != nil {
			return fmt.Errorf("updating selection: %w", err)
		}
	}
	if _, err := t.exec(`DELETE FROM field_values WHERE field_id = ? AND value IS NULL AND selected_option_ids IS NULL
		AND (is_missing IS NULL OR is_missing = 0) AND (is_available IS NULL OR is_available = 0)`, fieldID); err != nil {
		return fmt.Errorf("pruning values: %w", err)
	}
	return nil
}

// encodeIDs stores a selection as a JSON array; an empty selection is NULL.
func encodeIDs(ids []string) any {
	if len(ids) == 0 {
		return nil
	}
	data, _ := json.Marshal(ids)
	return string(data)
}

func decodeIDs(raw string) []string {
	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return nil
	}
	return ids
}
