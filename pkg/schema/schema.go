package schema

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"gopkg.in/yaml.v3"
)

// Schema defines the structure for data extraction.
type Schema struct {
	Name        string  `json:"name" yaml:"name"`
	Description string  `json:"description,omitempty" yaml:"description,omitempty"`
	Fields      []Field `json:"fields" yaml:"fields"`
}

// SchemaOption configures schema creation.
type SchemaOption func(*schemaBuilder)

type schemaBuilder struct {
	name        string
	description string
}

// WithDescription sets the schema description (the document context).
func WithDescription(desc string) SchemaOption {
	return func(b *schemaBuilder) {
		b.description = desc
	}
}

// WithName overrides the schema name derived from the struct type.
func WithName(name string) SchemaOption {
	return func(b *schemaBuilder) {
		b.name = name
	}
}

// NewSchema creates a Schema from a struct type using reflection.
//
// Field names come from json tags. A field is required unless its json tag
// has omitempty or it is a pointer. The description, enum and examples tags
// populate the matching Field attributes; enum and examples are
// comma-separated.
func NewSchema[T any](opts ...SchemaOption) (*Schema, error) {
	var zero T
	t := reflect.TypeOf(zero)
	if t == nil {
		return nil, fmt.Errorf("schema must be created from a struct type")
	}
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("schema must be created from a struct type, got %v", t.Kind())
	}

	builder := &schemaBuilder{name: t.Name()}
	for _, opt := range opts {
		opt(builder)
	}

	fields, err := structFields(t)
	if err != nil {
		return nil, err
	}

	return &Schema{
		Name:        builder.name,
		Description: builder.description,
		Fields:      fields,
	}, nil
}

// MustSchema is like NewSchema but panics on error. Intended for package-level
// declarations.
func MustSchema[T any](opts ...SchemaOption) *Schema {
	s, err := NewSchema[T](opts...)
	if err != nil {
		panic(err)
	}
	return s
}

func structFields(t reflect.Type) ([]Field, error) {
	fields := make([]Field, 0, t.NumField())

	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() || sf.Tag.Get("json") == "-" {
			continue
		}

		ft := sf.Type
		required := !hasOmitempty(sf)
		if ft.Kind() == reflect.Ptr {
			ft = ft.Elem()
			required = false
		}

		field, err := typeField(ft)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", sf.Name, err)
		}
		field.Name = jsonName(sf)
		field.Required = required
		field.Description = sf.Tag.Get("description")
		if enum := sf.Tag.Get("enum"); enum != "" {
			field.Enum = splitTag(enum)
		}
		if examples := sf.Tag.Get("examples"); examples != "" {
			field.Examples = splitTag(examples)
		}

		fields = append(fields, field)
	}

	return fields, nil
}

// typeField maps a Go type onto a schema variant.
func typeField(t reflect.Type) (Field, error) {
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	switch t.Kind() {
	case reflect.String:
		return Field{Type: TypeString}, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return Field{Type: TypeInteger}, nil
	case reflect.Float32, reflect.Float64:
		return Field{Type: TypeNumber}, nil
	case reflect.Bool:
		return Field{Type: TypeBoolean}, nil
	case reflect.Slice, reflect.Array:
		item, err := typeField(t.Elem())
		if err != nil {
			return Field{}, err
		}
		return Field{Type: TypeArray, Items: &item}, nil
	case reflect.Struct:
		props, err := structFields(t)
		if err != nil {
			return Field{}, err
		}
		return Field{Type: TypeObject, Properties: props}, nil
	case reflect.Map:
		return Field{Type: TypeObject}, nil
	default:
		return Field{}, fmt.Errorf("unsupported type: %v", t.Kind())
	}
}

func jsonName(sf reflect.StructField) string {
	tag := sf.Tag.Get("json")
	if name, _, _ := strings.Cut(tag, ","); name != "" {
		return name
	}
	return sf.Name
}

func hasOmitempty(sf reflect.StructField) bool {
	_, opts, _ := strings.Cut(sf.Tag.Get("json"), ",")
	return strings.Contains(opts, "omitempty")
}

func splitTag(tag string) []string {
	parts := strings.Split(tag, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// FromFile loads a schema from a JSON or YAML file. Both the native format
// (a "fields" list) and JSON Schema documents are accepted.
func FromFile(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema file: %w", err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		return FromJSON(data)
	case ".yaml", ".yml":
		return FromYAML(data)
	default:
		return nil, fmt.Errorf("unsupported schema file format: %s", ext)
	}
}

// FromJSON creates a schema from JSON data.
func FromJSON(data []byte) (*Schema, error) {
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse JSON schema: %w", err)
	}
	if _, native := doc["fields"]; !native {
		return FromMap(doc)
	}

	var s Schema
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse JSON schema: %w", err)
	}
	if err := s.Check(); err != nil {
		return nil, err
	}
	return &s, nil
}

// FromYAML creates a schema from YAML data.
func FromYAML(data []byte) (*Schema, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse YAML schema: %w", err)
	}
	if _, native := doc["fields"]; !native {
		return FromMap(doc)
	}

	var s Schema
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse YAML schema: %w", err)
	}
	if err := s.Check(); err != nil {
		return nil, err
	}
	return &s, nil
}

// FromMap converts a JSON Schema style document (type/properties/items/
// required/enum) into a Schema. The root must describe an object.
func FromMap(doc map[string]any) (*Schema, error) {
	root, err := mapField(doc, true)
	if err != nil {
		return nil, err
	}
	if root.Type != TypeObject {
		return nil, fmt.Errorf("root schema must be an object, got %s", root.Type)
	}

	title, _ := doc["title"].(string)
	return &Schema{
		Name:        title,
		Description: root.Description,
		Fields:      root.Properties,
	}, nil
}

func mapField(m map[string]any, required bool) (Field, error) {
	f := Field{Required: required}
	f.Description, _ = m["description"].(string)

	t, _ := m["type"].(string)
	switch {
	case t != "":
		f.Type = FieldType(t)
	case m["properties"] != nil:
		f.Type = TypeObject
	case m["items"] != nil:
		f.Type = TypeArray
	default:
		return Field{}, fmt.Errorf("schema node without a type")
	}
	if !f.Type.Valid() {
		return Field{}, fmt.Errorf("unsupported type %q", t)
	}

	if enum, ok := m["enum"].([]any); ok {
		for _, v := range enum {
			f.Enum = append(f.Enum, fmt.Sprint(v))
		}
	}
	if def, ok := m["default"]; ok {
		f.Default = def
	}

	switch f.Type {
	case TypeArray:
		if items, ok := asMap(m["items"]); ok {
			item, err := mapField(items, true)
			if err != nil {
				return Field{}, fmt.Errorf("items: %w", err)
			}
			f.Items = &item
		}
	case TypeObject:
		props, _ := asMap(m["properties"])
		req := map[string]bool{}
		if list, ok := m["required"].([]any); ok {
			for _, v := range list {
				if name, ok := v.(string); ok {
					req[name] = true
				}
			}
		}
		fields := make(map[string]Field, len(props))
		for name, raw := range props {
			pm, ok := asMap(raw)
			if !ok {
				return Field{}, fmt.Errorf("property %q: expected a schema object", name)
			}
			pf, err := mapField(pm, req[name])
			if err != nil {
				return Field{}, fmt.Errorf("property %q: %w", name, err)
			}
			fields[name] = pf
		}
		f.Properties = namedProperties(fields)
	}

	return f, nil
}

// asMap accepts both JSON-decoded and YAML-decoded mappings.
func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, val := range m {
			out[fmt.Sprint(k)] = val
		}
		return out, true
	}
	return nil, false
}

// Check verifies that every node is a supported variant and that names are
// unique within each object.
func (s *Schema) Check() error {
	seen := make(map[string]bool, len(s.Fields))
	for _, f := range s.Fields {
		if f.Name == "" {
			return fmt.Errorf("schema %q: field without a name", s.Name)
		}
		if seen[f.Name] {
			return fmt.Errorf("schema %q: duplicate field %q", s.Name, f.Name)
		}
		seen[f.Name] = true
		if err := f.check(f.Name); err != nil {
			return err
		}
	}
	return nil
}

// Field returns the top-level field with the given name.
func (s *Schema) Field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}
