package security

import (
	"fmt"
	"maps"
	"regexp"
	"slices"
	"strings"
)

type secretPattern struct {
	name string
	re   *regexp.Regexp
}

// anthropic before openai: both share the sk- prefix.
var secretPatterns = []secretPattern{
	{"anthropic_api_key", regexp.MustCompile(`sk-ant-[A-Za-z0-9_-]{20,}`)},
	{"openai_api_key", regexp.MustCompile(`sk-(proj-)?[A-Za-z0-9]{20,}`)},
	{"github_token", regexp.MustCompile(`gh[pousr]_[A-Za-z0-9]{30,}`)},
	{"aws_access_key", regexp.MustCompile(`\b(AKIA|ASIA)[0-9A-Z]{16}\b`)},
	{"slack_token", regexp.MustCompile(`xox[baprs]-[A-Za-z0-9-]{10,}`)},
	{"private_key", regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----`)},
}

const redacted = "[REDACTED]"

// OutputValidator rejects extracted data containing credentials that look
// like they leaked from the prompt or the model's context.
type OutputValidator struct {
	// Redact replaces matches with [REDACTED] instead of rejecting.
	Redact bool
}

func NewOutputValidator() *OutputValidator { return &OutputValidator{} }

func (*OutputValidator) Name() string { return "output" }

func (*OutputValidator) ValidateInput(text string) InputVerdict { return passInput(text) }

func (v *OutputValidator) ValidateOutput(data map[string]any) OutputVerdict {
	var findings []string
	clean := scrub("", data, v.Redact, &findings)
	if len(findings) == 0 {
		return passOutput(data)
	}
	if v.Redact {
		out, _ := clean.(map[string]any)
		return passOutput(out)
	}
	return OutputVerdict{Reason: "Sensitive data detected: " + strings.Join(findings, ", ")}
}

// scrub walks v in key order, records "name (path)" for every secret found
// and, when redact is set, returns a copy with the secrets replaced.
func scrub(path string, v any, redact bool, findings *[]string) any {
	switch val := v.(type) {
	case string:
		out := val
		for _, p := range secretPatterns {
			if !p.re.MatchString(out) {
				continue
			}
			*findings = append(*findings, fmt.Sprintf("%s (%s)", p.name, displayPath(path)))
			if redact {
				out = p.re.ReplaceAllString(out, redacted)
			}
		}
		return out
	case map[string]any:
		if val == nil {
			return val
		}
		out := make(map[string]any, len(val))
		for _, k := range slices.Sorted(maps.Keys(val)) {
			child := k
			if path != "" {
				child = path + "." + k
			}
			out[k] = scrub(child, val[k], redact, findings)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = scrub(fmt.Sprintf("%s[%d]", path, i), item, redact, findings)
		}
		return out
	}
	return v
}

func displayPath(p string) string {
	if p == "" {
		return "$"
	}
	return p
}
