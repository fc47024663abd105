package schema

import (
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
)

// DocumentField is the document-store realization of a FieldDefinition.
// Length is advisory for documents and never appears here.
type DocumentField struct {
	BSONTypes []string
	Required  bool
	Unique    bool
	Default   any
	Enum      []any
	Pattern   string
	Items     *DocumentField
}

// JSONSchema renders the field as a $jsonSchema property.
// Untyped (mixed) fields render as an empty schema that accepts anything.
func (f DocumentField) JSONSchema() bson.M {
	m := bson.M{}
	if len(f.BSONTypes) > 0 {
		types := append([]string{}, f.BSONTypes...)
		if !f.Required {
			types = append(types, "null")
		}
		if len(types) == 1 {
			m["bsonType"] = types[0]
		} else {
			m["bsonType"] = types
		}
	}
	if len(f.Enum) > 0 {
		enum := append([]any{}, f.Enum...)
		if !f.Required {
			enum = append(enum, nil)
		}
		m["enum"] = enum
	}
	if f.Pattern != "" {
		m["pattern"] = f.Pattern
	}
	if f.Items != nil {
		m["items"] = f.Items.JSONSchema()
	}
	return m
}

// ToDocument maps a field definition to document-store field options.
func ToDocument(def FieldDefinition) DocumentField {
	f := DocumentField{
		Required: def.Required,
		Unique:   def.Unique,
		Default:  def.Default,
		Enum:     def.Enum,
	}
	switch def.Type {
	case TypeString:
		f.BSONTypes = []string{"string"}
		f.Pattern = def.Match
	case TypeNumber:
		f.BSONTypes = []string{"int", "long", "double", "decimal"}
	case TypeBoolean:
		f.BSONTypes = []string{"bool"}
	case TypeDate:
		f.BSONTypes = []string{"date"}
	case TypeObjectID:
		f.BSONTypes = []string{"objectId", "string"}
	case TypeArray:
		f.BSONTypes = []string{"array"}
		if def.Of != nil {
			items := ToDocument(*def.Of)
			f.Items = &items
		}
	}
	return f
}

// Column is the relational realization of a FieldDefinition.
type Column struct {
	Type    string
	NotNull bool
	Unique  bool
	Default any
	// JSON columns hold arrays, objects and untyped values serialized as JSON.
	JSON bool
	// Time columns hold dates.
	Time bool
	// Integer columns hold 32-bit whole numbers.
	Integer bool
}

// ToRelational maps a field definition to relational column options.
func ToRelational(def FieldDefinition) Column {
	c := Column{
		NotNull: def.Required,
		Unique:  def.Unique,
		Default: def.Default,
	}
	switch def.Type {
	case TypeString:
		if def.Length > 0 {
			c.Type = fmt.Sprintf("VARCHAR(%d)", def.Length)
		} else {
			c.Type = "TEXT"
		}
	case TypeNumber:
		if def.Decimal {
			p, s := def.Precision, def.Scale
			if p <= 0 {
				p = 10
			}
			if s < 0 || (s == 0 && def.Precision == 0) {
				s = 2
			}
			c.Type = fmt.Sprintf("DECIMAL(%d,%d)", p, s)
		} else {
			c.Type = "INTEGER"
			c.Integer = true
		}
	case TypeBoolean:
		c.Type = "BOOLEAN"
	case TypeDate:
		c.Type = "TIMESTAMPTZ"
		c.Time = true
	case TypeObjectID:
		c.Type = "UUID"
	default:
		c.Type = "JSONB"
		c.JSON = true
	}
	return c
}

// Result is the outcome of validating one value.
// Value carries the normalized value to persist when Valid is true.
type Result struct {
	Valid   bool
	Message string
	Value   any
}

// Validator checks one field of a record before it is written.
type Validator struct {
	Validate   func(v any) Result
	Default    any
	HasDefault bool
}

// ToFileValidator maps a field definition to an in-process validator.
func ToFileValidator(def FieldDefinition) Validator {
	check := typeCheck(def)
	var re *regexp.Regexp
	if def.Match != "" {
		re, _ = regexp.Compile(def.Match)
	}

	validate := func(value any) Result {
		if value == nil {
			if def.Required {
				return Result{Message: "is required"}
			}
			return Result{Valid: true}
		}
		out, msg := check(value)
		if msg != "" {
			return Result{Message: msg}
		}
		if s, ok := out.(string); ok && def.Type == TypeString {
			if def.Required && s == "" {
				return Result{Message: "is required"}
			}
			if def.Length > 0 && utf8.RuneCountInString(s) > def.Length {
				return Result{Message: fmt.Sprintf("must be at most %d characters", def.Length)}
			}
			if re != nil && !re.MatchString(s) {
				return Result{Message: fmt.Sprintf("does not match pattern %s", def.Match)}
			}
		}
		if len(def.Enum) > 0 && !inEnum(out, def.Enum) {
			return Result{Message: fmt.Sprintf("must be one of %v", def.Enum)}
		}
		return Result{Valid: true, Value: out}
	}

	return Validator{
		Validate:   validate,
		Default:    def.Default,
		HasDefault: def.Default != nil,
	}
}

func typeCheck(def FieldDefinition) func(any) (any, string) {
	switch def.Type {
	case TypeString:
		return func(v any) (any, string) {
			if s, ok := v.(string); ok {
				return s, ""
			}
			return nil, "must be a string"
		}
	case TypeNumber:
		return func(v any) (any, string) {
			if n, ok := v.(json.Number); ok {
				f, err := n.Float64()
				if err != nil {
					return nil, "must be a number"
				}
				return f, ""
			}
			if isNumber(v) {
				return v, ""
			}
			return nil, "must be a number"
		}
	case TypeBoolean:
		return func(v any) (any, string) {
			if b, ok := v.(bool); ok {
				return b, ""
			}
			return nil, "must be a boolean"
		}
	case TypeDate:
		return func(v any) (any, string) {
			switch t := v.(type) {
			case time.Time:
				return t.UTC().Format(time.RFC3339Nano), ""
			case string:
				if _, ok := ParseTime(t); ok {
					return t, ""
				}
			}
			return nil, "must be a valid date"
		}
	case TypeObjectID:
		return func(v any) (any, string) {
			switch id := v.(type) {
			case uuid.UUID:
				return id.String(), ""
			case string:
				if err := uuid.Validate(id); err == nil {
					return id, ""
				}
			}
			return nil, "must be a valid UUID"
		}
	case TypeArray:
		var elem *Validator
		if def.Of != nil {
			ev := ToFileValidator(*def.Of)
			elem = &ev
		}
		return func(v any) (any, string) {
			items, ok := asSlice(v)
			if !ok {
				return nil, "must be an array"
			}
			if elem == nil {
				return items, ""
			}
			for i, item := range items {
				res := elem.Validate(item)
				if !res.Valid {
					return nil, fmt.Sprintf("element %d %s", i, res.Message)
				}
				items[i] = res.Value
			}
			return items, ""
		}
	case TypeObject:
		return func(v any) (any, string) {
			if m, ok := asMap(v); ok {
				return m, ""
			}
			return nil, "must be an object"
		}
	default:
		return func(v any) (any, string) { return v, "" }
	}
}

func inEnum(v any, enum []any) bool {
	for _, e := range enum {
		if Equal(v, e) {
			return true
		}
	}
	return false
}

func asSlice(v any) ([]any, bool) {
	if items, ok := v.([]any); ok {
		return append([]any{}, items...), true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	if rv.Type().Elem().Kind() == reflect.Uint8 {
		return nil, false
	}
	items := make([]any, rv.Len())
	for i := range items {
		items[i] = rv.Index(i).Interface()
	}
	return items, true
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Record:
		return map[string]any(m), true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
		return nil, false
	}
	out := make(map[string]any, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		out[iter.Key().String()] = iter.Value().Interface()
	}
	return out, true
}
