package schema

// FieldType is the generic, backend-agnostic type of an entity field.
type FieldType string

const (
	TypeString   FieldType = "string"
	TypeNumber   FieldType = "number"
	TypeBoolean  FieldType = "boolean"
	TypeDate     FieldType = "date"
	TypeObjectID FieldType = "objectId"
	TypeArray    FieldType = "array"
	TypeObject   FieldType = "object"
)

// Known reports whether t is one of the declared field types.
// Unknown types are still accepted; every backend maps them to its most permissive representation.
func (t FieldType) Known() bool {
	switch t {
	case TypeString, TypeNumber, TypeBoolean, TypeDate, TypeObjectID, TypeArray, TypeObject:
		return true
	}
	return false
}

// FieldDefinition describes one field of an entity.
// Only Type is mandatory. Attributes a backend cannot enforce (e.g. Length for the
// document store) are advisory and silently ignored by that backend.
type FieldDefinition struct {
	Type      FieldType        `json:"type"`
	Required  bool             `json:"required,omitempty"`
	Default   any              `json:"default,omitempty"`
	Unique    bool             `json:"unique,omitempty"`
	Enum      []any            `json:"enum,omitempty"`
	Length    int              `json:"length,omitempty"`
	Decimal   bool             `json:"decimal,omitempty"`
	Precision int              `json:"precision,omitempty"`
	Scale     int              `json:"scale,omitempty"`
	Match     string           `json:"match,omitempty"`
	Of        *FieldDefinition `json:"of,omitempty"`
}

// Index declares a secondary index on an entity's storage.
type Index struct {
	Name   string
	Fields []string
	Unique bool
}
