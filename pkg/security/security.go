// Package security screens what goes into a backend and what comes out of it.
//
// Input plugins see the prompt and the document text before any backend is
// called and may rewrite it (sanitizing) or reject it. Output plugins see the
// extracted data before it is cached or returned.
package security

import (
	"fmt"
	"strings"

	"github.com/Aquilesorei/strutex/internal/logger"
)

// InputVerdict is the outcome of screening input text.
type InputVerdict struct {
	Valid  bool
	Text   string // possibly rewritten text; only meaningful when Valid
	Reason string

	// Warnings are findings that did not block the input.
	Warnings []string
}

// OutputVerdict is the outcome of screening extracted data.
type OutputVerdict struct {
	Valid  bool
	Data   map[string]any
	Reason string
}

// Plugin screens input text, extracted data, or both. A plugin that only
// cares about one side passes the other through unchanged.
type Plugin interface {
	Name() string
	ValidateInput(text string) InputVerdict
	ValidateOutput(data map[string]any) OutputVerdict
}

// Stage names where a rejection happened.
const (
	StageInput  = "input"
	StageOutput = "output"
)

// Error is returned when a plugin rejects input or output.
type Error struct {
	Stage  string
	Plugin string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("security: %s rejected by %s: %s", e.Stage, e.Plugin, e.Reason)
}

// Chain runs plugins in order. Input text flows from one plugin to the next
// and the first rejection stops the chain.
type Chain struct {
	plugins []Plugin
}

// NewChain creates a chain of the given plugins.
func NewChain(plugins ...Plugin) *Chain {
	return &Chain{plugins: plugins}
}

// Default returns a chain with a Sanitizer, a blocking InjectionDetector and
// an OutputValidator.
func Default() *Chain {
	return NewChain(NewSanitizer(), NewInjectionDetector(), NewOutputValidator())
}

// Add appends a plugin and returns the chain.
func (c *Chain) Add(p Plugin) *Chain {
	c.plugins = append(c.plugins, p)
	return c
}

// Len returns the number of plugins.
func (c *Chain) Len() int { return len(c.plugins) }

// Name lists the chained plugins.
func (c *Chain) Name() string {
	names := make([]string, len(c.plugins))
	for i, p := range c.plugins {
		names[i] = p.Name()
	}
	return "chain(" + strings.Join(names, "->") + ")"
}

func (c *Chain) ValidateInput(text string) InputVerdict {
	out := InputVerdict{Valid: true, Text: text}
	for _, p := range c.plugins {
		v := p.ValidateInput(out.Text)
		out.Warnings = append(out.Warnings, v.Warnings...)
		if !v.Valid {
			v.Warnings = out.Warnings
			return v
		}
		out.Text = v.Text
	}
	return out
}

func (c *Chain) ValidateOutput(data map[string]any) OutputVerdict {
	out := OutputVerdict{Valid: true, Data: data}
	for _, p := range c.plugins {
		v := p.ValidateOutput(out.Data)
		if !v.Valid {
			return v
		}
		out.Data = v.Data
	}
	return out
}

// CheckInput screens text and returns the rewritten text, or an *Error
// naming the rejecting plugin.
func (c *Chain) CheckInput(text string) (string, error) {
	out := text
	for _, p := range c.plugins {
		v := p.ValidateInput(out)
		for _, w := range v.Warnings {
			logger.Warn("security warning", "plugin", p.Name(), "warning", w)
		}
		if !v.Valid {
			return "", &Error{Stage: StageInput, Plugin: p.Name(), Reason: v.Reason}
		}
		out = v.Text
	}
	return out, nil
}

// CheckOutput screens data and returns the possibly redacted data, or an
// *Error naming the rejecting plugin.
func (c *Chain) CheckOutput(data map[string]any) (map[string]any, error) {
	out := data
	for _, p := range c.plugins {
		v := p.ValidateOutput(out)
		if !v.Valid {
			return nil, &Error{Stage: StageOutput, Plugin: p.Name(), Reason: v.Reason}
		}
		out = v.Data
	}
	return out, nil
}

func passInput(text string) InputVerdict { return InputVerdict{Valid: true, Text: text} }

func passOutput(data map[string]any) OutputVerdict { return OutputVerdict{Valid: true, Data: data} }
