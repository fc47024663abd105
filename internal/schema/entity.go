package schema

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Definition is the static declaration of an entity.
type Definition struct {
	Name       string
	Domain     string
	Collection string
	Fields     map[string]FieldDefinition
	Hooks      []HookBinding
	Methods    map[string]Method
	Statics    map[string]Static
	Indexes    []Index
}

// Entity is a validated, immutable Definition with compiled field validators.
type Entity struct {
	def        Definition
	names      []string
	validators map[string]Validator
}

// New validates d and compiles its field validators.
func New(d Definition) (*Entity, error) {
	if d.Name == "" {
		return nil, &SchemaError{Message: "entity name is required"}
	}
	if d.Domain == "" {
		d.Domain = DefaultDomain
	}
	e := &Entity{
		def:        d,
		names:      make([]string, 0, len(d.Fields)),
		validators: make(map[string]Validator, len(d.Fields)),
	}
	for name, f := range d.Fields {
		if err := checkField(d.Name, name, f); err != nil {
			return nil, err
		}
		switch name {
		case FieldID, FieldCreatedAt, FieldUpdatedAt:
			return nil, &SchemaError{Entity: d.Name, Field: name, Message: "is a reserved system field"}
		}
		e.names = append(e.names, name)
		e.validators[name] = ToFileValidator(f)
	}
	sort.Strings(e.names)
	for _, idx := range d.Indexes {
		for _, f := range idx.Fields {
			if _, ok := d.Fields[f]; !ok && f != FieldCreatedAt && f != FieldUpdatedAt {
				return nil, &SchemaError{Entity: d.Name, Field: f, Message: "index references an undeclared field"}
			}
		}
	}
	return e, nil
}

// MustNew is New for static declarations; it panics on a malformed definition.
func MustNew(d Definition) *Entity {
	e, err := New(d)
	if err != nil {
		panic(err)
	}
	return e
}

func checkField(entity, name string, f FieldDefinition) error {
	if f.Type == "" {
		return &SchemaError{Entity: entity, Field: name, Message: "type is required"}
	}
	if f.Match != "" {
		if _, err := regexp.Compile(f.Match); err != nil {
			return &SchemaError{Entity: entity, Field: name, Message: "invalid match pattern: " + err.Error()}
		}
	}
	if f.Of != nil {
		return checkField(entity, name+"[]", *f.Of)
	}
	return nil
}

func (e *Entity) Name() string { return e.def.Name }
func (e *Entity) Domain() string { return e.def.Domain }
func (e *Entity) Key() string { return CacheKey(e.def.Domain, e.def.Name) }
func (e *Entity) Indexes() []Index { return e.def.Indexes }
func (e *Entity) Hooks() []HookBinding { return e.def.Hooks }

// StorageName is the collection/table/directory name: the declared Collection, or the
// lower-cased plural of the entity name.
func (e *Entity) StorageName() string {
	if e.def.Collection != "" {
		return e.def.Collection
	}
	n := strings.ToLower(e.def.Name)
	if strings.HasSuffix(n, "s") {
		return n
	}
	return n + "s"
}

// FieldNames returns declared field names in lexical order.
func (e *Entity) FieldNames() []string { return e.names }

// Field returns the definition of a declared field.
func (e *Entity) Field(name string) (FieldDefinition, bool) {
	f, ok := e.def.Fields[name]
	return f, ok
}

// HasField reports whether name is a declared or system field.
func (e *Entity) HasField(name string) bool {
	switch name {
	case FieldID, FieldCreatedAt, FieldUpdatedAt:
		return true
	}
	_, ok := e.def.Fields[name]
	return ok
}

// UniqueFields returns the fields declared unique, in lexical order.
func (e *Entity) UniqueFields() []string {
	var out []string
	for _, n := range e.names {
		if e.def.Fields[n].Unique {
			out = append(out, n)
		}
	}
	return out
}

func (e *Entity) Method(name string) (Method, bool) {
	m, ok := e.def.Methods[name]
	return m, ok
}

func (e *Entity) Static(name string) (Static, bool) {
	s, ok := e.def.Statics[name]
	return s, ok
}

// Validate runs every field validator against rec and returns the normalized record.
// Missing fields take their default. Undeclared fields are dropped; system fields pass
// through untouched. The first failing field is reported as a *ValidationError.
func (e *Entity) Validate(rec Record) (Record, error) {
	out := make(Record, len(e.names)+3)
	for _, k := range []string{FieldID, FieldCreatedAt, FieldUpdatedAt} {
		if v, ok := rec[k]; ok {
			out[k] = v
		}
	}
	for _, name := range e.names {
		v := e.validators[name]
		value, present := rec[name]
		if (!present || value == nil) && v.HasDefault {
			value = v.Default
		}
		res := v.Validate(value)
		if !res.Valid {
			return nil, NewValidationError(name, res.Message)
		}
		if res.Value != nil {
			out[name] = res.Value
		} else if present {
			out[name] = nil
		}
	}
	return out, nil
}

// ParseFilter converts textual equality filters (query parameters, CLI flags) to a
// Query, parsing each value as its field's declared type. Unknown fields are a
// *ValidationError.
func (e *Entity) ParseFilter(raw map[string]string) (Query, error) {
	q := Query{}
	for key, s := range raw {
		if !e.HasField(key) {
			return nil, NewValidationError(key, "is not a field of "+e.Name())
		}
		def, _ := e.Field(key)
		if key == FieldCreatedAt || key == FieldUpdatedAt {
			def.Type = TypeDate
		}
		switch def.Type {
		case TypeDate:
			t, ok := ParseTime(s)
			if !ok {
				return nil, NewValidationError(key, "must be a date")
			}
			q[key] = t
		case TypeNumber:
			f, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, NewValidationError(key, "must be a number")
			}
			q[key] = f
		case TypeBoolean:
			b, err := strconv.ParseBool(s)
			if err != nil {
				return nil, NewValidationError(key, "must be a boolean")
			}
			q[key] = b
		default:
			q[key] = s
		}
	}
	return q, nil
}
