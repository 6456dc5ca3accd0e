package security

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	spaceRun   = regexp.MustCompile(`[ \t\f\v]+`)
	newlineRun = regexp.MustCompile(`\n{3,}`)
)

// Sanitizer normalizes input text and enforces a length limit.
type Sanitizer struct {
	// MaxLength is the maximum length in characters after cleaning.
	// Zero means unlimited.
	MaxLength int

	CollapseWhitespace bool // spaces and tabs to one space, 3+ newlines to 2
	RemoveInvisible    bool // zero-width and other format characters, stray controls
}

// NewSanitizer returns a sanitizer that collapses whitespace and removes
// invisible characters, without a length limit.
func NewSanitizer() *Sanitizer {
	return &Sanitizer{CollapseWhitespace: true, RemoveInvisible: true}
}

func (*Sanitizer) Name() string { return "sanitizer" }

func (s *Sanitizer) ValidateInput(text string) InputVerdict {
	if s.RemoveInvisible {
		text = strings.Map(dropInvisible, text)
	}
	if s.CollapseWhitespace {
		text = strings.ReplaceAll(text, "\r\n", "\n")
		text = spaceRun.ReplaceAllString(text, " ")
		text = newlineRun.ReplaceAllString(text, "\n\n")
	}
	if s.MaxLength > 0 {
		if n := utf8.RuneCountInString(text); n > s.MaxLength {
			return InputVerdict{Reason: fmt.Sprintf("input length %d exceeds maximum %d", n, s.MaxLength)}
		}
	}
	return passInput(text)
}

func (*Sanitizer) ValidateOutput(data map[string]any) OutputVerdict { return passOutput(data) }

func dropInvisible(r rune) rune {
	switch {
	case r == '\n' || r == '\t' || r == '\r':
		return r
	case unicode.Is(unicode.Cf, r), unicode.IsControl(r):
		return -1
	}
	return r
}
