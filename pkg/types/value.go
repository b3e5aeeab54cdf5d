package types

import "time"

// FieldValue is the value one subject record holds for one field definition.
// Scalar fields use Value; choice fields use SelectedOptionIDs. IsMissing and
// IsAvailable are set only by the client-data variant.
type FieldValue struct {
	FieldID           string   `json:"fieldId"`
	Value             *string  `json:"value"`
	SelectedOptionIDs []string `json:"selectedOptionIds"`
	IsMissing         *bool    `json:"isMissing,omitempty"`
	IsAvailable       *bool    `json:"isAvailable,omitempty"`
}

// Snapshot is the value set the remote API holds for a subject record.
type Snapshot struct {
	SubjectID string       `json:"subjectId,omitempty"`
	Fields    []FieldValue `json:"fields"`
}

// Subject is a record that holds field values, e.g. a task.
type Subject struct {
	SubjectID string    `json:"subject_id"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SavePayload replaces every field value of a subject record.
type SavePayload struct {
	SubjectID string       `json:"subjectId"`
	Fields    []FieldValue `json:"fields"`
}

// Field returns the entry for fieldID.
func (s Snapshot) Field(fieldID string) (FieldValue, bool) {
	for _, f := range s.Fields {
		if f.FieldID == fieldID {
			return f, true
		}
	}
	return FieldValue{}, false
}

// IsEmpty reports whether the value carries nothing worth keeping: no scalar
// (an empty string counts as none), no selection, and no presence flag set.
func (v FieldValue) IsEmpty() bool {
	return (v.Value == nil || *v.Value == "") &&
		len(v.SelectedOptionIDs) == 0 &&
		!BoolValue(v.IsMissing) &&
		!BoolValue(v.IsAvailable)
}

// Clone returns a deep copy of v.
func (v FieldValue) Clone() FieldValue {
	if v.Value != nil {
		s := *v.Value
		v.Value = &s
	}
	if v.SelectedOptionIDs != nil {
		ids := make([]string, len(v.SelectedOptionIDs))
		copy(ids, v.SelectedOptionIDs)
		v.SelectedOptionIDs = ids
	}
	if v.IsMissing != nil {
		b := *v.IsMissing
		v.IsMissing = &b
	}
	if v.IsAvailable != nil {
		b := *v.IsAvailable
		v.IsAvailable = &b
	}
	return v
}

// StringPtr returns a pointer to s.
func StringPtr(s string) *string {
	return &s
}

// BoolPtr returns a pointer to b.
func BoolPtr(b bool) *bool {
	return &b
}

// BoolValue dereferences p, treating nil as false.
func BoolValue(p *bool) bool {
	return p != nil && *p
}

// StringValue dereferences p, treating nil as "".
func StringValue(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
