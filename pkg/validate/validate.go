// Package validate checks, and optionally repairs, extracted data.
//
// Validators are composed into a Chain. In permissive mode (the default)
// every validator runs, each receiving the previous one's possibly repaired
// data, and their issues are collected in order. In strict mode the chain
// stops at the first invalid result.
package validate

import (
	"fmt"
	"strings"

	"github.com/Aquilesorei/strutex/pkg/schema"
)

// Result is the outcome of a validation. Valid is false exactly when Issues
// is non-empty.
type Result struct {
	Valid  bool
	Data   map[string]any
	Issues []string
}

// Pass returns a valid result carrying data.
func Pass(data map[string]any) Result {
	return Result{Valid: true, Data: data}
}

// Fail returns an invalid result. With no issues it is valid.
func Fail(data map[string]any, issues ...string) Result {
	return Result{Valid: len(issues) == 0, Data: data, Issues: issues}
}

// Validator checks data against a schema. Implementations may return
// repaired data; they must not modify the input map.
type Validator interface {
	Name() string
	Validate(data map[string]any, s *schema.Schema) Result
}

// Func adapts a function to Validator.
func Func(name string, fn func(data map[string]any, s *schema.Schema) Result) Validator {
	return funcValidator{name: name, fn: fn}
}

type funcValidator struct {
	name string
	fn   func(map[string]any, *schema.Schema) Result
}

func (f funcValidator) Name() string { return f.name }
func (f funcValidator) Validate(data map[string]any, s *schema.Schema) Result {
	return f.fn(data, s)
}

// Chain runs validators in order.
type Chain struct {
	validators []Validator
	strict     bool
}

// NewChain creates a permissive chain.
func NewChain(validators ...Validator) *Chain {
	return &Chain{validators: validators}
}

// NewStrictChain creates a chain that stops at the first invalid result.
func NewStrictChain(validators ...Validator) *Chain {
	return &Chain{validators: validators, strict: true}
}

// Add appends a validator and returns the chain.
func (c *Chain) Add(v Validator) *Chain {
	c.validators = append(c.validators, v)
	return c
}

// Len returns the number of validators.
func (c *Chain) Len() int { return len(c.validators) }

// Strict reports whether the chain stops at the first failure.
func (c *Chain) Strict() bool { return c.strict }

// Validate runs the chain. An empty chain accepts data unchanged.
func (c *Chain) Validate(data map[string]any, s *schema.Schema) Result {
	current := data
	var issues []string

	for _, v := range c.validators {
		res := v.Validate(current, s)
		if res.Data != nil {
			current = res.Data
		}
		if len(res.Issues) == 0 {
			continue
		}
		if c.strict {
			return Result{Valid: false, Data: current, Issues: res.Issues}
		}
		issues = append(issues, res.Issues...)
	}
	return Result{Valid: len(issues) == 0, Data: current, Issues: issues}
}

// Error reports failed validation.
type Error struct {
	Issues []string
	Data   map[string]any
}

// maxListedIssues is how many issues Error lists before summarising.
const maxListedIssues = 3

func (e *Error) Error() string {
	shown := e.Issues
	if len(shown) > maxListedIssues {
		shown = shown[:maxListedIssues]
	}
	msg := "validation failed: " + strings.Join(shown, "; ")
	if extra := len(e.Issues) - len(shown); extra > 0 {
		msg += fmt.Sprintf(" (+%d more)", extra)
	}
	return msg
}

// AsError returns an *Error for an invalid result, nil otherwise.
func (r Result) AsError() error {
	if r.Valid {
		return nil
	}
	return &Error{Issues: r.Issues, Data: r.Data}
}
