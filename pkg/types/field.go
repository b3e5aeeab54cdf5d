package types

import (
	"encoding/json"
	"strings"
)

// FieldType is the closed set of configurable field kinds.
type FieldType string

// Field types. FieldTypeButton is the choice field; whether it accepts more than
// one option is carried by FieldDefinition.IsMultiSelect.
const (
	FieldTypeTextbox  FieldType = "textbox"
	FieldTypeNumber   FieldType = "number"
	FieldTypeEmail    FieldType = "email"
	FieldTypeTextarea FieldType = "textarea"
	FieldTypeButton   FieldType = "button"
)

// FieldTypes lists every field type in display order.
var FieldTypes = []FieldType{
	FieldTypeTextbox,
	FieldTypeNumber,
	FieldTypeEmail,
	FieldTypeTextarea,
	FieldTypeButton,
}

// ParseFieldType converts a wire string to a FieldType. Matching is
// case-insensitive and ignores surrounding whitespace.
// Returns ErrInvalidFieldType for anything outside the closed set.
func ParseFieldType(s string) (FieldType, error) {
	ft := FieldType(strings.ToLower(strings.TrimSpace(s)))
	if !ft.Valid() {
		return "", ErrInvalidFieldType
	}
	return ft, nil
}

// Valid reports whether ft is one of the FieldType constants.
func (ft FieldType) Valid() bool {
	switch ft {
	case FieldTypeTextbox, FieldTypeNumber, FieldTypeEmail, FieldTypeTextarea, FieldTypeButton:
		return true
	default:
		return false
	}
}

// IsChoice reports whether values of this type are option selections rather
// than scalar strings.
func (ft FieldType) IsChoice() bool {
	return ft == FieldTypeButton
}

func (ft FieldType) String() string {
	return string(ft)
}

// UnmarshalJSON accepts any casing of a known type ("Button", "TEXTBOX").
// An empty string decodes to the zero FieldType.
func (ft *FieldType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*ft = ""
		return nil
	}
	parsed, err := ParseFieldType(s)
	if err != nil {
		return err
	}
	*ft = parsed
	return nil
}

// FieldDefinition is one configurable form field.
type FieldDefinition struct {
	ID            string        `json:"id"`
	Name          string        `json:"name,omitempty"`
	Label         string        `json:"label"`
	Type          FieldType     `json:"fieldType"`
	IsRequired    bool          `json:"isRequired"`
	IsMultiSelect bool          `json:"isMultipleSelection"`
	Order         int           `json:"order"`
	Options       []FieldOption `json:"options,omitempty"`
}

// FieldOption is one selectable choice of a button field.
type FieldOption struct {
	ID      string `json:"id"`
	FieldID string `json:"fieldId,omitempty"`
	Label   string `json:"label"`
	Value   string `json:"value"`
}

// FieldInput is the create/update request for a field definition.
type FieldInput struct {
	Name          string    `json:"name,omitempty"`
	Label         string    `json:"label"`
	Type          FieldType `json:"fieldType"`
	IsRequired    bool      `json:"isRequired"`
	IsMultiSelect bool      `json:"isMultipleSelection"`
}

// OptionInput is the create request for a field option.
type OptionInput struct {
	FieldID string `json:"fieldId"`
	Label   string `json:"label"`
	Value   string `json:"value"`
}

// IsSingleSelect reports whether the field is a choice field holding at most
// one option.
func (d *FieldDefinition) IsSingleSelect() bool {
	return d.Type.IsChoice() && !d.IsMultiSelect
}

// Normalize clears IsMultiSelect on non-choice fields and drops options that
// only choice fields may carry.
func (d *FieldDefinition) Normalize() {
	if !d.Type.IsChoice() {
		d.IsMultiSelect = false
		d.Options = nil
	}
}

// Option returns the option with the given ID.
func (d *FieldDefinition) Option(optionID string) (FieldOption, bool) {
	for _, o := range d.Options {
		if o.ID == optionID {
			return o, true
		}
	}
	return FieldOption{}, false
}

// Clone returns a deep copy so callers can hand definitions out without
// sharing the options slice.
func (d FieldDefinition) Clone() FieldDefinition {
	if d.Options != nil {
		opts := make([]FieldOption, len(d.Options))
		copy(opts, d.Options)
		d.Options = opts
	}
	return d
}
