package types

import "context"

// FieldAPI is the remote half that owns field definitions and options.
type FieldAPI interface {
	// ListFields returns every definition with its options nested.
	ListFields(ctx context.Context) ([]FieldDefinition, error)
	// CreateField creates a definition; the server assigns the ID.
	CreateField(ctx context.Context, in FieldInput) (FieldDefinition, error)
	// UpdateField replaces label, required, and multi-select of a definition.
	UpdateField(ctx context.Context, id string, in FieldInput) (FieldDefinition, error)
	// DeleteField removes a definition together with its options and values.
	DeleteField(ctx context.Context, id string) error
	// CreateOption adds an option to a choice field.
	CreateOption(ctx context.Context, in OptionInput) (FieldOption, error)
	// DeleteOption removes an option.
	DeleteOption(ctx context.Context, id string) error
}

// ValueAPI is the remote half that owns per-subject values.
type ValueAPI interface {
	// GetValues returns the saved values of a subject. A subject that was
	// never saved yields an error matching ErrNotFound.
	GetValues(ctx context.Context, subjectID string) (Snapshot, error)
	// SaveValues replaces every value of the subject and returns the
	// authoritative result.
	SaveValues(ctx context.Context, payload SavePayload) (Snapshot, error)
}

// RemoteAPI is the complete remote data API.
type RemoteAPI interface {
	FieldAPI
	ValueAPI
}
