package schema

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"slices"
	"strings"
)

// canonical is the hashed form of a field. Struct field order fixes the
// encoding; properties are sorted by name.
type canonical struct {
	N string      `json:"n,omitempty"`
	T FieldType   `json:"t"`
	R bool        `json:"r,omitempty"`
	D string      `json:"d,omitempty"`
	E []string    `json:"e,omitempty"`
	I *canonical  `json:"i,omitempty"`
	P []canonical `json:"p,omitempty"`
}

// Hash returns a stable SHA-256 hex digest of the schema's structure. Two
// schemas that differ only in declaration order of object properties hash
// identically; any change to names, types, required flags, enums,
// descriptions or nesting changes the digest. The schema Name is a label
// and is not part of the hash.
func (s *Schema) Hash() string {
	root := canonical{
		T: TypeObject,
		D: s.Description,
		P: canonicalProps(s.Fields),
	}
	b, _ := json.Marshal(root)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func canonicalField(f Field) canonical {
	c := canonical{
		N: f.Name,
		T: f.Type,
		R: f.Required,
		D: f.Description,
		E: f.Enum,
	}
	if f.Items != nil {
		item := canonicalField(*f.Items)
		c.I = &item
	}
	c.P = canonicalProps(f.Properties)
	return c
}

func canonicalProps(fields []Field) []canonical {
	if len(fields) == 0 {
		return nil
	}
	out := make([]canonical, len(fields))
	for i, f := range fields {
		out[i] = canonicalField(f)
	}
	slices.SortStableFunc(out, func(a, b canonical) int { return strings.Compare(a.N, b.N) })
	return out
}
