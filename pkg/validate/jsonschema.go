package validate

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/Aquilesorei/strutex/pkg/schema"
)

// JSONSchemaValidator validates data with a JSON Schema engine. It uses the
// raw document when one is set and otherwise the JSON Schema generated from
// the extraction schema.
type JSONSchemaValidator struct {
	raw []byte

	once     sync.Once
	compiled *jsonschema.Schema
	err      error
}

// NewJSONSchemaValidator validates against the schema derived from each
// call's extraction schema.
func NewJSONSchemaValidator() *JSONSchemaValidator {
	return &JSONSchemaValidator{}
}

// NewRawJSONSchemaValidator validates against a fixed JSON Schema document.
// The document is compiled on first use.
func NewRawJSONSchemaValidator(doc []byte) *JSONSchemaValidator {
	return &JSONSchemaValidator{raw: doc}
}

func (*JSONSchemaValidator) Name() string { return "jsonschema" }

func (v *JSONSchemaValidator) Validate(data map[string]any, s *schema.Schema) Result {
	compiled, err := v.schemaFor(s)
	if err != nil {
		return Fail(data, fmt.Sprintf("json schema: %v", err))
	}
	if compiled == nil {
		return Pass(data)
	}

	// the engine expects values as produced by encoding/json with UseNumber
	doc, err := normalize(data)
	if err != nil {
		return Fail(data, fmt.Sprintf("json schema: %v", err))
	}
	err = compiled.Validate(doc)
	if err == nil {
		return Pass(data)
	}

	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return Fail(data, err.Error())
	}
	return Fail(data, leafIssues(verr)...)
}

func (v *JSONSchemaValidator) schemaFor(s *schema.Schema) (*jsonschema.Schema, error) {
	if v.raw != nil {
		v.once.Do(func() { v.compiled, v.err = compile(v.raw) })
		return v.compiled, v.err
	}
	if s == nil {
		return nil, nil
	}
	doc, err := json.Marshal(s.ToJSONSchema())
	if err != nil {
		return nil, err
	}
	return compile(doc)
}

func compile(doc []byte) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(doc)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	compiled, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return compiled, nil
}

func normalize(data map[string]any) (any, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// leafIssues flattens the error tree into one issue per failing location.
func leafIssues(e *jsonschema.ValidationError) []string {
	if len(e.Causes) == 0 {
		loc := strings.TrimPrefix(e.InstanceLocation, "/")
		loc = strings.ReplaceAll(loc, "/", ".")
		if loc == "" {
			return []string{e.Message}
		}
		return []string{loc + ": " + e.Message}
	}
	var out []string
	for _, c := range e.Causes {
		out = append(out, leafIssues(c)...)
	}
	return out
}
