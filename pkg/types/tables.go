package types

// Standard table names for Backend.GetTable.
const (
	TableFields   = "fields"
	TableOptions  = "field_options"
	TableValues   = "field_values"
	TableSubjects = "subjects"
)

// StandardTableNames lists all standard table names for enumeration.
var StandardTableNames = []string{
	TableFields,
	TableOptions,
	TableValues,
	TableSubjects,
}
