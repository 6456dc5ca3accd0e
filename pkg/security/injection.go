package security

import (
	"regexp"
	"slices"
	"strings"
)

// Injection categories.
const (
	CategoryInstructionOverride = "instruction_override"
	CategoryRoleManipulation    = "role_manipulation"
	CategoryPromptExtraction    = "prompt_extraction"
	CategoryDelimiter           = "delimiter"
)

type injectionPattern struct {
	category string
	re       *regexp.Regexp
}

var injectionPatterns = []injectionPattern{
	{CategoryInstructionOverride, regexp.MustCompile(`(?i)\b(ignore|disregard|forget|override)\b.{0,30}\b(previous|prior|above|earlier|all)\b.{0,20}\b(instructions?|prompts?|rules|directions)\b`)},
	{CategoryInstructionOverride, regexp.MustCompile(`(?i)\bnew\s+instructions?\s*:`)},
	{CategoryRoleManipulation, regexp.MustCompile(`(?i)\b(you\s+are\s+now|from\s+now\s+on,?\s+you\s+are|pretend\s+(to\s+be|you\s+are)|roleplay\s+as)\b`)},
	{CategoryRoleManipulation, regexp.MustCompile(`(?i)\bact\s+as\s+(an?\s+)?(unrestricted|jailbroken|different)\b`)},
	{CategoryPromptExtraction, regexp.MustCompile(`(?i)\b(show|reveal|print|repeat|tell|display|output)\b.{0,20}\b(your|the)\s+(system\s+)?(prompt|instructions)\b`)},
	{CategoryDelimiter, regexp.MustCompile(`(?i)<\s*/?\s*(system|assistant|instructions?)\s*>`)},
	{CategoryDelimiter, regexp.MustCompile(`\[/?(INST|SYS)\]|<\|im_(start|end)\|>`)},
	{CategoryDelimiter, regexp.MustCompile(`(?im)^#{2,}\s*(system|instructions?)\s*:?\s*$`)},
}

// Detection is one suspicious match in the input.
type Detection struct {
	Category string
	Match    string
}

// InjectionDetector looks for prompt injection attempts.
type InjectionDetector struct {
	// BlockOnDetection rejects input with detections. When false the
	// detections are reported as warnings and the input passes.
	BlockOnDetection bool
}

// NewInjectionDetector returns a detector that blocks on detection.
func NewInjectionDetector() *InjectionDetector {
	return &InjectionDetector{BlockOnDetection: true}
}

func (*InjectionDetector) Name() string { return "injection" }

// Detections returns every match in text, in pattern order.
func (*InjectionDetector) Detections(text string) []Detection {
	var out []Detection
	for _, p := range injectionPatterns {
		for _, m := range p.re.FindAllString(text, -1) {
			out = append(out, Detection{Category: p.category, Match: m})
		}
	}
	return out
}

func (d *InjectionDetector) ValidateInput(text string) InputVerdict {
	found := d.Detections(text)
	if len(found) == 0 {
		return passInput(text)
	}

	var categories []string
	for _, f := range found {
		if !slices.Contains(categories, f.Category) {
			categories = append(categories, f.Category)
		}
	}
	reason := "Prompt injection detected: " + strings.Join(categories, ", ")
	if !d.BlockOnDetection {
		return InputVerdict{Valid: true, Text: text, Warnings: []string{reason}}
	}
	return InputVerdict{Reason: reason}
}

func (*InjectionDetector) ValidateOutput(data map[string]any) OutputVerdict { return passOutput(data) }
