package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"
)

// ValidateOption configures structural validation.
type ValidateOption func(*validateConfig)

type validateConfig struct {
	strict bool
}

// Strict makes objects reject fields the schema does not declare.
func Strict() ValidateOption {
	return func(c *validateConfig) { c.strict = true }
}

// Validate checks decoded JSON data against the schema. Required fields must
// be present and type-compatible, optional fields may be missing, and arrays
// and objects are checked recursively. A nil schema accepts everything.
func (s *Schema) Validate(data any, opts ...ValidateOption) []ValidationError {
	if s == nil {
		return nil
	}
	cfg := validateConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	obj, ok := data.(map[string]any)
	if !ok {
		return []ValidationError{{
			Message: fmt.Sprintf("expected object, got %s", kindOf(data)),
			Value:   data,
		}}
	}

	var errs []ValidationError
	validateObject("", s.Fields, obj, cfg, &errs)
	return errs
}

func validateObject(path string, fields []Field, obj map[string]any, cfg validateConfig, errs *[]ValidationError) {
	for _, f := range fields {
		p := joinPath(path, f.Name)
		val, exists := obj[f.Name]
		if !exists {
			if f.Required {
				*errs = append(*errs, ValidationError{Path: p, Message: "required field is missing"})
			}
			continue
		}
		validateValue(p, f, val, cfg, errs)
	}

	if !cfg.strict || len(fields) == 0 {
		return
	}
	known := make(map[string]bool, len(fields))
	for _, f := range fields {
		known[f.Name] = true
	}
	keys := make([]string, 0, len(obj))
	for k := range obj {
		if !known[k] {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	for _, k := range keys {
		*errs = append(*errs, ValidationError{Path: joinPath(path, k), Message: "unexpected field", Value: obj[k]})
	}
}

func validateValue(path string, f Field, val any, cfg validateConfig, errs *[]ValidationError) {
	if val == nil {
		if f.Required {
			*errs = append(*errs, ValidationError{Path: path, Message: "value is null but field is required"})
		}
		return
	}

	mismatch := func() {
		*errs = append(*errs, ValidationError{
			Path:    path,
			Message: fmt.Sprintf("expected %s, got %s", f.Type, kindOf(val)),
			Value:   val,
		})
	}

	switch f.Type {
	case TypeString:
		str, ok := val.(string)
		if !ok {
			mismatch()
			return
		}
		if len(f.Enum) > 0 && !slices.Contains(f.Enum, str) {
			*errs = append(*errs, ValidationError{
				Path:    path,
				Message: fmt.Sprintf("value %q is not one of %v", str, f.Enum),
				Value:   val,
			})
		}
	case TypeInteger:
		n, ok := toFloat(val)
		if !ok {
			mismatch()
			return
		}
		if n != math.Trunc(n) {
			*errs = append(*errs, ValidationError{Path: path, Message: fmt.Sprintf("expected integer, got %v", val), Value: val})
		}
	case TypeNumber:
		if _, ok := toFloat(val); !ok {
			mismatch()
		}
	case TypeBoolean:
		if _, ok := val.(bool); !ok {
			mismatch()
		}
	case TypeArray:
		arr, ok := val.([]any)
		if !ok {
			mismatch()
			return
		}
		if f.Items == nil {
			return
		}
		for i, item := range arr {
			validateValue(fmt.Sprintf("%s[%d]", path, i), *f.Items, item, cfg, errs)
		}
	case TypeObject:
		obj, ok := val.(map[string]any)
		if !ok {
			mismatch()
			return
		}
		validateObject(path, f.Properties, obj, cfg, errs)
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// kindOf names the JSON kind of a decoded value.
func kindOf(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	}
	if _, ok := toFloat(v); ok {
		return "number"
	}
	return fmt.Sprintf("%T", v)
}
