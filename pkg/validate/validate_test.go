package validate

import (
	"slices"
	"strings"
	"testing"

	"github.com/Aquilesorei/strutex/pkg/schema"
)

var personSchema = &schema.Schema{
	Name: "Person",
	Fields: []schema.Field{
		{Name: "name", Type: schema.TypeString, Required: true},
		{Name: "age", Type: schema.TypeInteger},
		{Name: "scores", Type: schema.TypeArray, Items: &schema.Field{Type: schema.TypeNumber}},
	},
}

func invoice(total any) map[string]any {
	return map[string]any{
		"items": []any{
			map[string]any{"amount": 10.0},
			map[string]any{"amount": 20.0},
		},
		"total": total,
	}
}

// --- Chain ---

func TestEmptyChain(t *testing.T) {
	data := map[string]any{"a": 1.0}
	res := NewChain().Validate(data, nil)
	if !res.Valid || len(res.Issues) != 0 || res.Data["a"] != 1.0 {
		t.Errorf("empty chain = %+v", res)
	}
}

func TestPermissiveChainCollectsIssues(t *testing.T) {
	first := Func("first", func(d map[string]any, _ *schema.Schema) Result { return Fail(d, "one") })
	second := Func("second", func(d map[string]any, _ *schema.Schema) Result { return Fail(d, "two", "three") })

	res := NewChain(first, second).Validate(map[string]any{}, nil)
	if res.Valid {
		t.Fatal("chain should be invalid")
	}
	if !slices.Equal(res.Issues, []string{"one", "two", "three"}) {
		t.Errorf("Issues = %v", res.Issues)
	}
}

func TestPermissiveChainPassesRepairedData(t *testing.T) {
	repair := Func("repair", func(d map[string]any, _ *schema.Schema) Result {
		return Pass(map[string]any{"fixed": true})
	})
	var seen map[string]any
	check := Func("check", func(d map[string]any, _ *schema.Schema) Result {
		seen = d
		return Pass(d)
	})

	res := NewChain(repair, check).Validate(map[string]any{"fixed": false}, nil)
	if seen["fixed"] != true || res.Data["fixed"] != true {
		t.Errorf("repaired data not propagated: seen %v, result %v", seen, res.Data)
	}
}

func TestStrictChainStopsAtFirstFailure(t *testing.T) {
	ran := false
	failing := Func("failing", func(d map[string]any, _ *schema.Schema) Result { return Fail(d, "bad") })
	later := Func("later", func(d map[string]any, _ *schema.Schema) Result {
		ran = true
		return Fail(d, "worse")
	})

	c := NewStrictChain(failing, later)
	res := c.Validate(map[string]any{}, nil)
	if res.Valid || !slices.Equal(res.Issues, []string{"bad"}) {
		t.Errorf("strict result = %+v", res)
	}
	if ran {
		t.Error("strict chain should not run validators after a failure")
	}
	if !c.Strict() || c.Len() != 2 {
		t.Errorf("Strict() = %v, Len() = %d", c.Strict(), c.Len())
	}
}

func TestValidFalseImpliesIssues(t *testing.T) {
	if res := Fail(nil); !res.Valid {
		t.Error("Fail without issues should be valid")
	}
	if res := Fail(nil, "x"); res.Valid || res.AsError() == nil {
		t.Error("Fail with issues should be invalid")
	}
	if Pass(nil).AsError() != nil {
		t.Error("Pass should not produce an error")
	}
}

func TestErrorMessage(t *testing.T) {
	short := &Error{Issues: []string{"a", "b"}}
	if got := short.Error(); got != "validation failed: a; b" {
		t.Errorf("Error() = %q", got)
	}
	long := &Error{Issues: []string{"a", "b", "c", "d", "e"}}
	if got := long.Error(); got != "validation failed: a; b; c (+2 more)" {
		t.Errorf("Error() = %q", got)
	}
}

// --- SchemaValidator ---

func TestSchemaValidator(t *testing.T) {
	tests := []struct {
		name   string
		data   map[string]any
		issues []string
	}{
		{"valid", map[string]any{"name": "Ada", "age": 36.0}, nil},
		{"optional missing", map[string]any{"name": "Ada"}, nil},
		{"required missing", map[string]any{"age": 36.0}, []string{"name: required field is missing"}},
		{"wrong type", map[string]any{"name": "Ada", "age": "old"}, []string{"age: expected integer, got string"}},
		{"array item", map[string]any{"name": "Ada", "scores": []any{1.0, 2.0, "x"}}, []string{"scores[2]: expected number, got string"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := SchemaValidator{}.Validate(tt.data, personSchema)
			if !slices.Equal(res.Issues, tt.issues) {
				t.Errorf("Issues = %q, want %q", res.Issues, tt.issues)
			}
			if res.Valid != (len(tt.issues) == 0) {
				t.Errorf("Valid = %v", res.Valid)
			}
		})
	}
}

func TestSchemaValidatorEdges(t *testing.T) {
	if res := (SchemaValidator{}).Validate(map[string]any{"x": 1.0}, nil); !res.Valid {
		t.Error("nil schema should accept anything")
	}
	res := SchemaValidator{}.Validate(nil, personSchema)
	if res.Valid || !strings.Contains(res.Issues[0], "expected object") {
		t.Errorf("nil data = %+v", res)
	}
	strict := SchemaValidator{Strict: true}.Validate(map[string]any{"name": "Ada", "extra": 1.0}, personSchema)
	if strict.Valid {
		t.Error("strict schema validation should flag unexpected fields")
	}
}

// --- SumValidator ---

func TestSumValidator(t *testing.T) {
	tests := []struct {
		total  any
		valid  bool
		issues int
	}{
		{30.00, true, 0},
		{30.02, true, 0},
		{31.00, false, 1},
		{"30.00", true, 0},
	}
	for _, tt := range tests {
		res := SumValidator{}.Validate(invoice(tt.total), nil)
		if res.Valid != tt.valid || len(res.Issues) != tt.issues {
			t.Errorf("total %v: Valid = %v, Issues = %v", tt.total, res.Valid, res.Issues)
		}
	}
}

func TestSumValidatorExplicitToleranceIsExact(t *testing.T) {
	big := map[string]any{
		"items": []any{
			map[string]any{"amount": 6000.0},
			map[string]any{"amount": 4000.0},
		},
		"total": 10009.0,
	}
	res := SumValidator{Tolerance: 0.01}.Validate(big, nil)
	if res.Valid || len(res.Issues) != 1 {
		t.Errorf("explicit tolerance 0.01 on a 9.00 difference: Valid = %v, Issues = %v", res.Valid, res.Issues)
	}
	if res := (SumValidator{Tolerance: 0.01}).Validate(invoice(30.02), nil); res.Valid {
		t.Error("30.02 should fail with an explicit tolerance of 0.01")
	}
	if res := (SumValidator{Tolerance: 0.01, RelativeTolerance: 0.001}).Validate(big, nil); !res.Valid {
		t.Errorf("an explicit relative tolerance should still apply: %v", res.Issues)
	}
}

func TestSumValidatorAbsoluteOnly(t *testing.T) {
	v := SumValidator{Tolerance: 0.01, RelativeTolerance: -1}
	if res := v.Validate(invoice(30.02), nil); res.Valid {
		t.Error("30.02 should fail with only an absolute tolerance of 0.01")
	}
	if res := v.Validate(invoice(30.005), nil); !res.Valid {
		t.Errorf("30.005 should pass: %v", res.Issues)
	}
}

func TestSumValidatorSkipsAndFields(t *testing.T) {
	if res := (SumValidator{}).Validate(map[string]any{"total": 5.0}, nil); !res.Valid {
		t.Error("data without items should not be checked")
	}
	if res := (SumValidator{}).Validate(invoice(nil), nil); !res.Valid {
		t.Error("null total should not be checked")
	}

	data := map[string]any{
		"lines":  []any{map[string]any{"price": 5.0}, map[string]any{"price": 5.0}},
		"totals": map[string]any{"grand": 12.0},
	}
	res := SumValidator{ItemsField: "lines", AmountField: "price", TotalField: "totals.grand"}.Validate(data, nil)
	if res.Valid || !strings.Contains(res.Issues[0], "totals.grand") {
		t.Errorf("nested fields = %+v", res)
	}

	bad := SumValidator{}.Validate(map[string]any{"items": []any{map[string]any{"amount": "ten"}}, "total": 10.0}, nil)
	if bad.Valid || len(bad.Issues) != 2 {
		t.Errorf("non-numeric amount = %+v", bad)
	}
}

// --- DateValidator ---

func TestDateValidator(t *testing.T) {
	tests := []struct {
		name  string
		value any
		valid bool
	}{
		{"iso", "2024-03-15", true},
		{"german", "15.03.2024", true},
		{"us", "03/15/2024", true},
		{"garbage", "invalid-date", false},
		{"too old", "1850-01-01", false},
		{"empty", "", true},
		{"null", nil, true},
		{"number", 20240315.0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := DateValidator{Fields: []string{"invoice_date"}}.Validate(map[string]any{"invoice_date": tt.value}, nil)
			if res.Valid != tt.valid {
				t.Errorf("Valid = %v, issues %v", res.Valid, res.Issues)
			}
		})
	}
}

func TestDateValidatorAutoFields(t *testing.T) {
	data := map[string]any{"invoice_date": "invalid-date", "due_date": "2024-01-01", "vendor": "not a date"}
	res := DateValidator{}.Validate(data, nil)
	if len(res.Issues) != 1 || !strings.HasPrefix(res.Issues[0], "invoice_date:") {
		t.Errorf("Issues = %v", res.Issues)
	}
}

func TestDateValidatorNormalize(t *testing.T) {
	data := map[string]any{"meta": map[string]any{"date": "15.03.2024"}}
	res := DateValidator{Fields: []string{"meta.date"}, Normalize: true}.Validate(data, nil)
	if !res.Valid {
		t.Fatalf("Issues = %v", res.Issues)
	}
	if got := res.Data["meta"].(map[string]any)["date"]; got != "2024-03-15" {
		t.Errorf("normalized = %v", got)
	}
	if data["meta"].(map[string]any)["date"] != "15.03.2024" {
		t.Error("input must not be modified")
	}
}

// --- JSONSchemaValidator ---

func TestJSONSchemaValidatorFromSchema(t *testing.T) {
	v := NewJSONSchemaValidator()
	if res := v.Validate(map[string]any{"name": "Ada", "age": 36.0}, personSchema); !res.Valid {
		t.Errorf("valid data rejected: %v", res.Issues)
	}

	res := v.Validate(map[string]any{"name": "Ada", "age": 36.5}, personSchema)
	if res.Valid {
		t.Fatal("fractional age should fail integer type")
	}
	if !strings.HasPrefix(res.Issues[0], "age:") {
		t.Errorf("Issues = %v", res.Issues)
	}

	if res := v.Validate(map[string]any{"x": 1.0}, nil); !res.Valid {
		t.Error("nil schema should be skipped")
	}
}

func TestJSONSchemaValidatorRaw(t *testing.T) {
	v := NewRawJSONSchemaValidator([]byte(`{
		"type": "object",
		"properties": {"total": {"type": "number", "minimum": 0}},
		"required": ["total"]
	}`))

	if res := v.Validate(map[string]any{"total": 12.5}, nil); !res.Valid {
		t.Errorf("valid data rejected: %v", res.Issues)
	}
	if res := v.Validate(map[string]any{"total": -1.0}, nil); res.Valid {
		t.Error("negative total should fail minimum")
	}
	if res := v.Validate(map[string]any{}, nil); res.Valid {
		t.Error("missing total should fail required")
	}

	broken := NewRawJSONSchemaValidator([]byte(`{not json`))
	if res := broken.Validate(map[string]any{}, nil); res.Valid || !strings.Contains(res.Issues[0], "json schema") {
		t.Errorf("broken schema = %+v", res)
	}
}
