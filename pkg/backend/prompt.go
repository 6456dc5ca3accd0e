package backend

import (
	"strings"

	"github.com/Aquilesorei/strutex/pkg/schema"
)

// SystemPrompt is the shared system prompt for LLM backends.
const SystemPrompt = `You are a data extraction assistant. Extract structured data from documents.

The document may be attached (image or PDF) or provided as plain text.

Respond with ONLY valid JSON matching the schema. No explanations.

Rules:
1. Required fields: use null if not found
2. Optional fields: omit if not found
3. Numbers: extract numeric value only (no currency symbols)
4. Dates: keep the format used in the document unless told otherwise`

// BuildPrompt creates the user prompt from the caller's instructions, the
// schema description and, when the document is not attached, its text.
func BuildPrompt(req Request, attached bool, maxContentSize int) string {
	var prompt strings.Builder

	if p := strings.TrimSpace(req.Prompt); p != "" {
		prompt.WriteString(p)
		prompt.WriteString("\n\n")
	}
	if req.Schema != nil {
		prompt.WriteString(req.Schema.ToPromptDescription())
	}

	if attached {
		prompt.WriteString("\n## Document\nThe document is attached to this message.\n")
		return prompt.String()
	}

	prompt.WriteString("\n## Document Content\n")
	prompt.WriteString("```\n")
	prompt.WriteString(TruncateContent(req.Text, maxContentSize))
	prompt.WriteString("\n```\n")
	return prompt.String()
}

// TruncateContent limits content size to avoid token limits.
// maxLen of 0 means no limit.
func TruncateContent(content string, maxLen int) string {
	if maxLen <= 0 || len(content) <= maxLen {
		return content
	}
	return content[:maxLen] + "\n\n[Content truncated due to length...]"
}

// StripMarkdownCodeBlock removes markdown code block wrappers from JSON responses.
// Some models wrap their JSON output in ```json ... ``` blocks.
func StripMarkdownCodeBlock(s string) string {
	s = strings.TrimSpace(s)

	switch {
	case strings.HasPrefix(s, "```json"):
		s = strings.TrimPrefix(s, "```json")
	case strings.HasPrefix(s, "```"):
		s = strings.TrimPrefix(s, "```")
	default:
		return s
	}
	return strings.TrimSpace(strings.TrimSuffix(s, "```"))
}

// promptSchema is the JSON Schema sent for structured output, nil without a
// schema.
func promptSchema(s *schema.Schema) map[string]any {
	if s == nil {
		return nil
	}
	return s.ToJSONSchema()
}

func truncateForError(s string) string {
	if len(s) <= 200 {
		return s
	}
	return s[:200] + "..."
}
