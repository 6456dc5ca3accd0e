package validate

import (
	"encoding/json"
	"maps"
	"strconv"
	"strings"
)

// lookup resolves a dot path ("totals.grand") through nested objects.
func lookup(data map[string]any, path string) (any, bool) {
	var cur any = data
	for part := range strings.SplitSeq(path, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = obj[part]; !ok {
			return nil, false
		}
	}
	return cur, true
}

// assign returns a copy of data with path set to value. Objects along the
// path are copied; data itself is left untouched.
func assign(data map[string]any, path string, value any) map[string]any {
	out := maps.Clone(data)
	if out == nil {
		out = map[string]any{}
	}
	head, rest, nested := strings.Cut(path, ".")
	if !nested {
		out[head] = value
		return out
	}
	child, _ := out[head].(map[string]any)
	out[head] = assign(child, rest, value)
	return out
}

// number converts decoded JSON numbers, and numeric strings such as
// "1,234.50", to float64.
func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		s := strings.ReplaceAll(strings.TrimSpace(n), ",", "")
		f, err := strconv.ParseFloat(s, 64)
		return f, err == nil
	}
	return 0, false
}
