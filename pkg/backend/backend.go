// Package backend defines the capability that turns a document, a prompt and
// a schema into structured data.
//
// A Backend is what the provider chain tries in order. The LLM adapter in this
// package builds prompts and parses JSON on top of an llm.Provider; any other
// implementation (a rules engine, a remote service, a test double) only has to
// satisfy Call.
package backend

import (
	"context"
	"slices"
	"time"

	"github.com/Aquilesorei/strutex/pkg/schema"
)

// Capability is a feature a backend advertises. Capabilities are used for
// ordering and selection only; a backend without a capability still gets
// called and reports an unsupported error itself.
type Capability string

const (
	CapVision           Capability = "vision"
	CapStreaming        Capability = "streaming"
	CapLargeContext     Capability = "large_context"
	CapStructuredOutput Capability = "structured_output"
)

// Descriptor describes a backend to registries and selection logic.
type Descriptor struct {
	Name         string       `json:"name"`
	Model        string       `json:"model,omitempty"`
	CostHint     float64      `json:"cost_hint,omitempty"` // relative cost, lower is cheaper
	Priority     int          `json:"priority,omitempty"`  // higher runs first
	Capabilities []Capability `json:"capabilities,omitempty"`
}

// Has reports whether the descriptor lists c.
func (d Descriptor) Has(c Capability) bool {
	return slices.Contains(d.Capabilities, c)
}

// ID is the backend identity used in cache keys: name, then model after a
// slash when set.
func (d Descriptor) ID() string {
	if d.Model == "" {
		return d.Name
	}
	return d.Name + "/" + d.Model
}

// Request is one extraction call.
type Request struct {
	// Document is the raw input. MediaType describes it.
	Document  []byte
	MediaType string

	// Text is the extracted text of Document, empty when no extractor
	// handled the media type.
	Text string

	Prompt string
	Schema *schema.Schema

	// MaxTokens and Temperature override the backend defaults when non-zero.
	MaxTokens   int
	Temperature float64
}

// Usage is the token consumption and estimated cost of one or more calls.
type Usage struct {
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	Cost         float64 `json:"cost"`
}

// Add returns the sum of u and o.
func (u Usage) Add(o Usage) Usage {
	return Usage{
		InputTokens:  u.InputTokens + o.InputTokens,
		OutputTokens: u.OutputTokens + o.OutputTokens,
		Cost:         u.Cost + o.Cost,
	}
}

// Result is the outcome of a successful call.
type Result struct {
	Data     map[string]any
	Raw      string
	Usage    Usage
	Backend  string
	Model    string
	Duration time.Duration
}

// Backend extracts structured data.
type Backend interface {
	Name() string
	Model() string
	Descriptor() Descriptor
	Call(ctx context.Context, req Request) (*Result, error)
}

// Streamer is implemented by backends that can deliver raw output as it is
// generated. onDelta receives fragments in order; an error from it aborts
// the call.
type Streamer interface {
	Backend
	StreamCall(ctx context.Context, req Request, onDelta func(string) error) (*Result, error)
}

// CanStream reports whether b implements Streamer.
func CanStream(b Backend) bool {
	_, ok := b.(Streamer)
	return ok
}

type attemptKey struct{}

// WithAttempt records the 1-based attempt number on ctx for observers.
func WithAttempt(ctx context.Context, attempt int) context.Context {
	return context.WithValue(ctx, attemptKey{}, attempt)
}

// AttemptFrom returns the attempt number recorded on ctx, or 1.
func AttemptFrom(ctx context.Context) int {
	if n, ok := ctx.Value(attemptKey{}).(int); ok && n > 0 {
		return n
	}
	return 1
}
