package validate

import "github.com/Aquilesorei/strutex/pkg/schema"

// SchemaValidator checks structure: required fields are present and every
// value has the declared type. A nil schema accepts anything.
type SchemaValidator struct {
	// Strict also reports fields the schema does not declare.
	Strict bool
}

func (SchemaValidator) Name() string { return "schema" }

func (v SchemaValidator) Validate(data map[string]any, s *schema.Schema) Result {
	var opts []schema.ValidateOption
	if v.Strict {
		opts = append(opts, schema.Strict())
	}
	// a nil map is an absent root, which Validate reports as not an object
	var root any = data
	if data == nil {
		root = nil
	}
	errs := s.Validate(root, opts...)
	issues := make([]string, 0, len(errs))
	for _, e := range errs {
		issues = append(issues, e.Error())
	}
	return Fail(data, issues...)
}
