// Package schema describes the shape of the data strutex extracts.
//
// A Schema is a closed tree of typed fields: every node is one of string,
// number, integer, boolean, array or object. Schemas can be declared from Go
// structs, loaded from native JSON/YAML files, or converted from JSON Schema
// documents.
package schema

import (
	"encoding/json"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

// FieldType represents the type of a schema field.
type FieldType string

const (
	TypeString  FieldType = "string"
	TypeNumber  FieldType = "number"
	TypeInteger FieldType = "integer"
	TypeBoolean FieldType = "boolean"
	TypeArray   FieldType = "array"
	TypeObject  FieldType = "object"
)

// Valid reports whether t is one of the supported variants.
func (t FieldType) Valid() bool {
	switch t {
	case TypeString, TypeNumber, TypeInteger, TypeBoolean, TypeArray, TypeObject:
		return true
	}
	return false
}

// Field is a single node in the schema tree.
type Field struct {
	Name        string    `json:"name,omitempty" yaml:"name,omitempty"`
	Type        FieldType `json:"type" yaml:"type"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
	Required    bool      `json:"required,omitempty" yaml:"required,omitempty"`
	Items       *Field    `json:"items,omitempty" yaml:"items,omitempty"` // array element
	Properties  []Field   `json:"-" yaml:"-"`                             // object members, set by the custom unmarshalers
	Enum        []string  `json:"enum,omitempty" yaml:"enum,omitempty"`
	Default     any       `json:"default,omitempty" yaml:"default,omitempty"`
	Examples    []string  `json:"examples,omitempty" yaml:"examples,omitempty"`
}

// check verifies the variant tree below f.
func (f Field) check(path string) error {
	if !f.Type.Valid() {
		return fmt.Errorf("field %q: unsupported type %q", path, f.Type)
	}
	if f.Type == TypeArray && f.Items != nil {
		if err := f.Items.check(path + "[]"); err != nil {
			return err
		}
	}
	seen := make(map[string]bool, len(f.Properties))
	for _, p := range f.Properties {
		if p.Name == "" {
			return fmt.Errorf("field %q: property without a name", path)
		}
		if seen[p.Name] {
			return fmt.Errorf("field %q: duplicate property %q", path, p.Name)
		}
		seen[p.Name] = true
		if err := p.check(joinPath(path, p.Name)); err != nil {
			return err
		}
	}
	return nil
}

type fieldAlias Field

// fieldRaw lets properties arrive either as a mapping or as a sequence.
type fieldRaw struct {
	fieldAlias    `yaml:",inline"`
	PropertiesRaw yaml.Node `yaml:"properties"`
}

// UnmarshalYAML accepts properties as a map (name -> field) or a list.
func (f *Field) UnmarshalYAML(node *yaml.Node) error {
	var raw fieldRaw
	if err := node.Decode(&raw); err != nil {
		return err
	}
	*f = Field(raw.fieldAlias)

	switch raw.PropertiesRaw.Kind {
	case yaml.MappingNode:
		var props map[string]Field
		if err := raw.PropertiesRaw.Decode(&props); err != nil {
			return err
		}
		f.Properties = namedProperties(props)
	case yaml.SequenceNode:
		if err := raw.PropertiesRaw.Decode(&f.Properties); err != nil {
			return err
		}
	}
	return nil
}

type fieldJSON struct {
	Name        string          `json:"name,omitempty"`
	Type        FieldType       `json:"type"`
	Description string          `json:"description,omitempty"`
	Required    bool            `json:"required,omitempty"`
	Items       *Field          `json:"items,omitempty"`
	Properties  json.RawMessage `json:"properties,omitempty"`
	Enum        []string        `json:"enum,omitempty"`
	Default     any             `json:"default,omitempty"`
	Examples    []string        `json:"examples,omitempty"`
}

// MarshalJSON emits properties as an ordered list.
func (f Field) MarshalJSON() ([]byte, error) {
	var props json.RawMessage
	if len(f.Properties) > 0 {
		b, err := json.Marshal(f.Properties)
		if err != nil {
			return nil, err
		}
		props = b
	}
	return json.Marshal(fieldJSON{
		Name:        f.Name,
		Type:        f.Type,
		Description: f.Description,
		Required:    f.Required,
		Items:       f.Items,
		Properties:  props,
		Enum:        f.Enum,
		Default:     f.Default,
		Examples:    f.Examples,
	})
}

// UnmarshalJSON accepts properties as a map (name -> field) or a list.
func (f *Field) UnmarshalJSON(data []byte) error {
	var raw fieldJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*f = Field{
		Name:        raw.Name,
		Type:        raw.Type,
		Description: raw.Description,
		Required:    raw.Required,
		Items:       raw.Items,
		Enum:        raw.Enum,
		Default:     raw.Default,
		Examples:    raw.Examples,
	}

	if len(raw.Properties) == 0 {
		return nil
	}
	var list []Field
	if err := json.Unmarshal(raw.Properties, &list); err == nil {
		f.Properties = list
		return nil
	}
	var props map[string]Field
	if err := json.Unmarshal(raw.Properties, &props); err != nil {
		return err
	}
	f.Properties = namedProperties(props)
	return nil
}

// namedProperties flattens a name->field map into a list sorted by name so
// decoding the same document always yields the same order.
func namedProperties(props map[string]Field) []Field {
	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]Field, 0, len(props))
	for _, name := range names {
		p := props[name]
		p.Name = name
		out = append(out, p)
	}
	return out
}

// ValidationError describes one mismatch between data and schema.
type ValidationError struct {
	Path    string // e.g. "person.age" or "scores[2]"; empty for the root
	Message string
	Value   any
}

func (e ValidationError) Error() string {
	if e.Path == "" {
		return e.Message
	}
	return e.Path + ": " + e.Message
}

func joinPath(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "." + name
}
