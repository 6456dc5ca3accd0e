package schema

import (
	"strings"
)

// ToJSONSchema converts the schema to JSON Schema format for LLM structured output.
func (s *Schema) ToJSONSchema() map[string]any {
	out := objectSchema(s.Fields)
	if s.Description != "" {
		out["description"] = s.Description
	}
	return out
}

// objectSchema builds a closed object node. additionalProperties must be
// false for OpenAI strict mode.
func objectSchema(fields []Field) map[string]any {
	props := make(map[string]any, len(fields))
	required := make([]string, 0)
	for _, f := range fields {
		props[f.Name] = fieldToJSONSchema(f)
		if f.Required {
			required = append(required, f.Name)
		}
	}

	out := map[string]any{
		"type":                 "object",
		"properties":           props,
		"additionalProperties": false,
	}
	if len(required) > 0 {
		out["required"] = required
	}
	return out
}

func fieldToJSONSchema(f Field) map[string]any {
	var out map[string]any
	switch {
	case f.Type == TypeObject && len(f.Properties) > 0:
		out = objectSchema(f.Properties)
	default:
		out = map[string]any{"type": string(f.Type)}
	}

	if f.Description != "" {
		out["description"] = f.Description
	}
	if len(f.Enum) > 0 {
		out["enum"] = f.Enum
	}
	if len(f.Examples) > 0 {
		out["examples"] = f.Examples
	}
	if f.Default != nil {
		out["default"] = f.Default
	}
	if f.Type == TypeArray && f.Items != nil {
		out["items"] = fieldToJSONSchema(*f.Items)
	}
	return out
}

// ToPromptDescription generates a human-readable description for the LLM prompt.
func (s *Schema) ToPromptDescription() string {
	var sb strings.Builder

	sb.WriteString("## Document Type\n")
	if s.Description != "" {
		sb.WriteString(s.Description)
	} else {
		sb.WriteString("Extract the following structured data.")
	}
	sb.WriteString("\n\n## Fields to Extract\n")

	for _, field := range s.Fields {
		writeFieldDescription(&sb, field, 0)
	}

	return sb.String()
}

func writeFieldDescription(sb *strings.Builder, f Field, indent int) {
	prefix := strings.Repeat("  ", indent)

	sb.WriteString(prefix)
	sb.WriteString("- ")
	sb.WriteString(f.Name)
	sb.WriteString(" (")
	sb.WriteString(string(f.Type))
	if f.Required {
		sb.WriteString(", required")
	}
	sb.WriteString(")")

	if f.Description != "" {
		sb.WriteString(": ")
		sb.WriteString(f.Description)
	}
	if len(f.Enum) > 0 {
		sb.WriteString(" [one of: ")
		sb.WriteString(strings.Join(f.Enum, ", "))
		sb.WriteString("]")
	}
	sb.WriteString("\n")

	if f.Type == TypeArray && f.Items != nil && f.Items.Type == TypeObject {
		sb.WriteString(prefix)
		sb.WriteString("  Each item:\n")
		for _, prop := range f.Items.Properties {
			writeFieldDescription(sb, prop, indent+2)
		}
	}

	for _, prop := range f.Properties {
		writeFieldDescription(sb, prop, indent+1)
	}
}
