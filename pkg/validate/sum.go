package validate

import (
	"fmt"
	"math"

	"github.com/Aquilesorei/strutex/pkg/schema"
)

const (
	// DefaultTolerance is the absolute difference allowed between the sum of
	// the items and the total.
	DefaultTolerance = 0.01

	// DefaultRelativeTolerance is the difference allowed as a fraction of
	// the total. The larger of the two tolerances applies.
	DefaultRelativeTolerance = 0.001
)

// SumValidator checks that the amounts of a list of items add up to a total.
// Data without the items list or the total is not checked.
type SumValidator struct {
	ItemsField  string  // default "items"; dot paths reach nested objects
	AmountField string  // default "amount"
	TotalField  string  // default "total"
	Tolerance   float64 // default DefaultTolerance

	// RelativeTolerance defaults to DefaultRelativeTolerance when Tolerance
	// is unset too, so an explicit Tolerance alone is applied exactly. A
	// negative value disables it.
	RelativeTolerance float64
}

func (SumValidator) Name() string { return "sum" }

func (v SumValidator) Validate(data map[string]any, _ *schema.Schema) Result {
	itemsField := orDefault(v.ItemsField, "items")
	amountField := orDefault(v.AmountField, "amount")
	totalField := orDefault(v.TotalField, "total")
	tolerance := v.Tolerance
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}

	rawItems, ok := lookup(data, itemsField)
	if !ok {
		return Pass(data)
	}
	rawTotal, ok := lookup(data, totalField)
	if !ok || rawTotal == nil {
		return Pass(data)
	}

	items, ok := rawItems.([]any)
	if !ok {
		return Fail(data, fmt.Sprintf("%s: expected array, got %T", itemsField, rawItems))
	}
	total, ok := number(rawTotal)
	if !ok {
		return Fail(data, fmt.Sprintf("%s: total %v is not a number", totalField, rawTotal))
	}

	var sum float64
	var issues []string
	for i, it := range items {
		obj, ok := it.(map[string]any)
		if !ok {
			issues = append(issues, fmt.Sprintf("%s[%d]: expected object", itemsField, i))
			continue
		}
		raw, present := obj[amountField]
		if !present || raw == nil {
			continue
		}
		amount, ok := number(raw)
		if !ok {
			issues = append(issues, fmt.Sprintf("%s[%d].%s: %v is not a number", itemsField, i, amountField, raw))
			continue
		}
		sum += amount
	}

	rel := v.RelativeTolerance
	if rel == 0 && v.Tolerance <= 0 {
		rel = DefaultRelativeTolerance
	}
	if rel > 0 {
		tolerance = max(tolerance, rel*math.Abs(total))
	}

	if diff := math.Abs(sum - total); diff > tolerance {
		issues = append(issues, fmt.Sprintf("%s: sum of %s.%s is %.2f but total is %.2f (difference %.2f)",
			totalField, itemsField, amountField, sum, total, diff))
	}
	return Fail(data, issues...)
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
