package sqlstore

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/mesh-intelligence/fieldkit/pkg/types"
)

func (b *Backend) getSubject(id string) (any, error) {
	var s types.Subject
	var updatedAt string
	err := b.queryRow("SELECT subject_id, updated_at FROM subjects WHERE subject_id = ?", id).
		Scan(&s.SubjectID, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning subject: %w", err)
	}
	s.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &s, nil
}

func (b *Backend) setSubject(id string, s *types.Subject) (string, error) {
	if id != "" {
		s.SubjectID = id
	}
	if s.SubjectID == "" {
		return "", types.ErrInvalidID
	}
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = time.Now().UTC()
	}
	t, err := b.beginTx()
	if err != nil {
		return "", err
	}
	defer t.Rollback()
	if err := touchSubject(t, s.SubjectID, s.UpdatedAt); err != nil {
		return "", err
	}
	return s.SubjectID, t.Commit()
}

func touchSubject(t *tx, subjectID string, at time.Time) error {
	ok, err := t.exists("SELECT 1 FROM subjects WHERE subject_id = ?", subjectID)
	if err != nil {
		return fmt.Errorf("checking subject: %w", err)
	}
	stamp := at.UTC().Format(time.RFC3339)
	if ok {
		_, err = t.exec("UPDATE subjects SET updated_at = ? WHERE subject_id = ?", stamp, subjectID)
	} else {
		_, err = t.exec("INSERT INTO subjects (subject_id, updated_at) VALUES (?, ?)", subjectID, stamp)
	}
	if err != nil {
		return fmt.Errorf("writing subject: %w", err)
	}
	return nil
}

func (b *Backend) fetchSubjects(filter types.Filter) ([]any, error) {
	if len(filter) > 0 {
		return nil, types.ErrInvalidFilter
	}
	rows, err := b.query("SELECT subject_id FROM subjects ORDER BY subject_id")
	if err != nil {
		return nil, fmt.Errorf("fetching subjects: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	results := make([]any, 0, len(ids))
	for _, id := range ids {
		s, err := b.getSubject(id)
		if err != nil {
			return nil, err
		}
		results = append(results, s)
	}
	return results, nil
}

// getSnapshot returns the stored values of a subject. A subject that was
// never saved is ErrNotFound; a saved subject with no values is an empty
// snapshot. Choice fields always carry a selection array.
func (b *Backend) getSnapshot(subjectID string) (any, error) {
	var one int
	err := b.queryRow("SELECT 1 FROM subjects WHERE subject_id = ?", subjectID).Scan(&one)
	if err == sql.ErrNoRows {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("checking subject: %w", err)
	}

	rows, err := b.query(`SELECT v.field_id, f.field_type, v.value, v.selected_option_ids, v.is_missing, v.is_available
		FROM field_values v JOIN fields f ON f.field_id = v.field_id
		WHERE v.subject_id = ?
		ORDER BY f.ordinal, f.field_id`, subjectID)
	if err != nil {
		return nil, fmt.Errorf("fetching values: %w", err)
	}
	defer rows.Close()

	snap := &types.Snapshot{SubjectID: subjectID, Fields: []types.FieldValue{}}
	for rows.Next() {
		var (
			v                  types.FieldValue
			fieldType          string
			value, selected    sql.NullString
			missing, available sql.NullBool
		)
		if err := rows.Scan(&v.FieldID, &fieldType, &value, &selected, &missing, &available); err != nil {
			return nil, fmt.Errorf("scanning value: %w", err)
		}
		if types.FieldType(fieldType).IsChoice() {
			v.SelectedOptionIDs = []string{}
			if selected.Valid {
				v.SelectedOptionIDs = append(v.SelectedOptionIDs, decodeIDs(selected.String)...)
			}
		} else if value.Valid {
			v.Value = types.StringPtr(value.String)
		}
		if missing.Valid {
			v.IsMissing = types.BoolPtr(missing.Bool)
		}
		if available.Valid {
			v.IsAvailable = types.BoolPtr(available.Bool)
		}
		snap.Fields = append(snap.Fields, v)
	}
	return snap, rows.Err()
}

func (b *Backend) fetchSnapshots(filter types.Filter) ([]any, error) {
	subjectID, ok, err := stringFilter(filter, "subject_id")
	if err != nil {
		return nil, err
	}
	if ok {
		snap, err := b.getSnapshot(subjectID)
		if err == types.ErrNotFound {
			return []any{}, nil
		}
		if err != nil {
			return nil, err
		}
		return []any{snap}, nil
	}
	subjects, err := b.fetchSubjects(nil)
	if err != nil {
		return nil, err
	}
	results := make([]any, 0, len(subjects))
	for _, s := range subjects {
		snap, err := b.getSnapshot(s.(*types.Subject).SubjectID)
		if err != nil {
			return nil, err
		}
		results = append(results, snap)
	}
	return results, nil
}

// fieldShape is what setValues needs to know about a definition.
type fieldShape struct {
	choice      bool
	multiSelect bool
	options     map[string]bool
}

// setValues replaces every stored value of a subject. data is a
// *types.SavePayload or *types.Snapshot. Entries for unknown fields, option
// ids the field does not own, and entries that hold nothing are dropped.
func (b *Backend) setValues(id string, data any) (string, error) {
	var subjectID string
	var entries []types.FieldValue
	switch v := data.(type) {
	case *types.SavePayload:
		subjectID, entries = v.SubjectID, v.Fields
	case *types.Snapshot:
		subjectID, entries = v.SubjectID, v.Fields
	default:
		return "", types.ErrInvalidData
	}
	switch {
	case id == "" && subjectID == "":
		return "", types.ErrInvalidID
	case id == "":
		id = subjectID
	case subjectID != "" && subjectID != id:
		return "", types.ErrInvalidData
	}

	shapes, err := b.fieldShapes()
	if err != nil {
		return "", err
	}

	t, err := b.beginTx()
	if err != nil {
		return "", err
	}
	defer t.Rollback()

	if err := touchSubject(t, id, time.Now()); err != nil {
		return "", err
	}
	if _, err := t.exec("DELETE FROM field_values WHERE subject_id = ?", id); err != nil {
		return "", fmt.Errorf("clearing values: %w", err)
	}

	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		shape, ok := shapes[e.FieldID]
		if !ok || seen[e.FieldID] {
			continue
		}
		seen[e.FieldID] = true

		stored := types.FieldValue{FieldID: e.FieldID, IsMissing: e.IsMissing, IsAvailable: e.IsAvailable}
		if shape.choice {
			for _, oid := range e.SelectedOptionIDs {
				if shape.options[oid] && !containsID(stored.SelectedOptionIDs, oid) {
					stored.SelectedOptionIDs = append(stored.SelectedOptionIDs, oid)
				}
			}
			if !shape.multiSelect && len(stored.SelectedOptionIDs) > 1 {
				stored.SelectedOptionIDs = stored.SelectedOptionIDs[:1]
			}
		} else {
			stored.Value = e.Value
		}
		if types.BoolValue(stored.IsMissing) && types.BoolValue(stored.IsAvailable) {
			stored.IsAvailable = types.BoolPtr(false)
		}
		if stored.IsEmpty() {
			continue
		}

		var value any
		if stored.Value != nil && *stored.Value != "" {
			value = *stored.Value
		}
		if _, err := t.exec(`INSERT INTO field_values
			(subject_id, field_id, value, selected_option_ids, is_missing, is_available)
			VALUES (?, ?, ?, ?, ?, ?)`,
			id, e.FieldID, value, encodeIDs(stored.SelectedOptionIDs),
			nullBoolInt(stored.IsMissing), nullBoolInt(stored.IsAvailable)); err != nil {
			return "", fmt.Errorf("inserting value: %w", err)
		}
	}

	if err := t.Commit(); err != nil {
		return "", fmt.Errorf("committing values: %w", err)
	}
	return id, nil
}

func (b *Backend) fieldShapes() (map[string]fieldShape, error) {
	defs, err := b.fetchFields(nil)
	if err != nil {
		return nil, err
	}
	shapes := make(map[string]fieldShape, len(defs))
	for _, item := range defs {
		d := item.(*types.FieldDefinition)
		s := fieldShape{choice: d.Type.IsChoice(), multiSelect: d.IsMultiSelect, options: make(map[string]bool)}
		for _, o := range d.Options {
			s.options[o.ID] = true
		}
		shapes[d.ID] = s
	}
	return shapes, nil
}

// deleteSubject removes a subject and its values.
func (b *Backend) deleteSubject(id string) error {
	t, err := b.beginTx()
	if err != nil {
		return err
	}
	defer t.Rollback()

	ok, err := t.exists("SELECT 1 FROM subjects WHERE subject_id = ?", id)
	if err != nil {
		return fmt.Errorf("checking subject: %w", err)
	}
	if !ok {
		return types.ErrNotFound
	}
	if _, err := t.exec("DELETE FROM field_values WHERE subject_id = ?", id); err != nil {
		return fmt.Errorf("deleting values: %w", err)
	}
	if _, err := t.exec("DELETE FROM subjects WHERE subject_id = ?", id); err != nil {
		return fmt.Errorf("deleting subject: %w", err)
	}
	return t.Commit()
}

func containsID(ids []string, id string) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}
