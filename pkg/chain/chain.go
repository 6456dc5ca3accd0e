// Package chain tries backends in order until one produces a result.
//
// Each backend is attempted under the chain's retry policy. A backend whose
// error is not retryable, or whose retries run out, hands over to the next
// one. When every backend has failed the chain returns an *ExhaustedError
// listing each failure in order. Cancelling the context stops the chain at
// once and returns the context error instead.
package chain

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/Aquilesorei/strutex/internal/logger"
	"github.com/Aquilesorei/strutex/pkg/backend"
	"github.com/Aquilesorei/strutex/pkg/retry"
)

var (
	// ErrEmpty is returned when a chain has no backends.
	ErrEmpty = errors.New("provider chain has no backends")

	// ErrBackendCoolingDown is recorded for backends skipped after a rate limit.
	ErrBackendCoolingDown = errors.New("backend cooling down after rate limit")
)

// Failure is one backend's final error in an exhausted chain.
type Failure struct {
	Backend string
	Err     error
}

// ExhaustedError is returned when every backend failed.
type ExhaustedError struct {
	Failures []Failure
}

func (e *ExhaustedError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s: %v", f.Backend, f.Err))
	}
	return fmt.Sprintf("all %d backends failed: %s", len(e.Failures), strings.Join(parts, "; "))
}

// Unwrap exposes every backend error to errors.Is and errors.As.
func (e *ExhaustedError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}

// FallbackFunc is told about a failed backend when the chain moves past it.
type FallbackFunc func(failed backend.Backend, err error)

// Chain is an ordered list of backends sharing one retry policy. It is safe
// for concurrent use.
type Chain struct {
	backends   []backend.Backend
	circuits   []*circuitState
	policy     retry.Policy
	onFallback FallbackFunc
	cooldown   time.Duration
	now        func() time.Time

	mu   sync.RWMutex
	last backend.Backend
}

// Option configures a Chain.
type Option func(*Chain)

// WithPolicy sets the retry policy applied to each backend.
func WithPolicy(p retry.Policy) Option {
	return func(c *Chain) { c.policy = p }
}

// WithFallbackObserver registers fn, called with the failing backend and its
// error each time the chain moves on to the next backend.
func WithFallbackObserver(fn FallbackFunc) Option {
	return func(c *Chain) { c.onFallback = fn }
}

// WithCooldown skips a rate-limited backend for the server's Retry-After, or
// for d when none was given. 0 disables cooldown.
func WithCooldown(d time.Duration) Option {
	return func(c *Chain) { c.cooldown = d }
}

// New creates a chain over backends, tried in the given order.
func New(backends []backend.Backend, opts ...Option) *Chain {
	c := &Chain{
		backends: slices.Clone(backends),
		policy:   retry.New(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.circuits = make([]*circuitState, len(c.backends))
	for i := range c.circuits {
		c.circuits[i] = &circuitState{}
	}
	return c
}

// Backends returns the backends in order.
func (c *Chain) Backends() []backend.Backend { return slices.Clone(c.backends) }

// Len returns the number of backends.
func (c *Chain) Len() int { return len(c.backends) }

// Policy returns the chain's retry policy.
func (c *Chain) Policy() retry.Policy { return c.policy }

// ID returns the ordered backend identities joined by commas, the chain's
// identity in cache keys.
func (c *Chain) ID() string {
	ids := make([]string, 0, len(c.backends))
	for _, b := range c.backends {
		ids = append(ids, b.Descriptor().ID())
	}
	return strings.Join(ids, ",")
}

// Name describes the chain for logs.
func (c *Chain) Name() string {
	names := make([]string, 0, len(c.backends))
	for _, b := range c.backends {
		names = append(names, b.Name())
	}
	return "chain(" + strings.Join(names, "->") + ")"
}

// LastBackend returns the backend that produced the most recent success, or
// nil before the first.
func (c *Chain) LastBackend() backend.Backend {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.last
}

func (c *Chain) succeeded(b backend.Backend) {
	c.mu.Lock()
	c.last = b
	c.mu.Unlock()
}

// Execute runs req against each backend in turn and returns the first
// result together with the backend that produced it.
func (c *Chain) Execute(ctx context.Context, req backend.Request) (*backend.Result, backend.Backend, error) {
	return c.run(ctx, func(ctx context.Context, b backend.Backend) (*backend.Result, error) {
		return c.call(ctx, b, req)
	})
}

// call runs one backend under the retry policy. Errors come back classified.
func (c *Chain) call(ctx context.Context, b backend.Backend, req backend.Request) (*backend.Result, error) {
	var res *backend.Result
	err := retry.Do(ctx, c.policy, func(ctx context.Context, attempt int) error {
		r, err := b.Call(ctx, req)
		if err != nil {
			logger.Debug("backend attempt failed", "backend", b.Name(), "attempt", attempt, "error", err)
			return backend.Classify(b.Name(), err)
		}
		res = r
		return nil
	})
	return res, err
}

// run walks the backends with the shared state machine: skip cooling
// backends, try the rest in order, stop on success or cancellation.
func (c *Chain) run(ctx context.Context, try func(context.Context, backend.Backend) (*backend.Result, error)) (*backend.Result, backend.Backend, error) {
	if len(c.backends) == 0 {
		return nil, nil, ErrEmpty
	}

	var failures []Failure
	for i, b := range c.backends {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}

		if resetAt, open := c.circuits[i].isOpen(c.now()); open {
			logger.Debug("skipping backend in cooldown", "backend", b.Name(), "until", resetAt.Format(time.RFC3339))
			failures = append(failures, Failure{
				Backend: b.Name(),
				Err:     fmt.Errorf("%w (until %s)", ErrBackendCoolingDown, resetAt.Format(time.RFC3339)),
			})
			continue
		}

		res, err := try(ctx, b)
		if err == nil {
			c.succeeded(b)
			if res.Backend == "" {
				res.Backend = b.Name()
			}
			logger.Debug("backend succeeded", "backend", b.Name(), "position", i+1)
			return res, b, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, nil, ctxErr
		}
		var abort *abortError
		if errors.As(err, &abort) {
			return nil, nil, abort.err
		}

		failures = append(failures, Failure{Backend: b.Name(), Err: err})
		c.trip(i, err)

		if i < len(c.backends)-1 {
			logger.Info("falling back to next backend", "failed", b.Name(), "next", c.backends[i+1].Name(), "error", err)
			if c.onFallback != nil {
				c.onFallback(b, err)
			}
		}
	}
	return nil, nil, &ExhaustedError{Failures: failures}
}

// trip opens the circuit of a rate-limited backend.
func (c *Chain) trip(i int, err error) {
	if c.cooldown <= 0 || !backend.IsRateLimit(err) {
		return
	}
	wait := c.cooldown
	var be *backend.Error
	if errors.As(err, &be) && be.RetryAfter > 0 {
		wait = be.RetryAfter
	}
	c.circuits[i].open(c.now().Add(wait))
}

// circuitState tracks rate-limit cooldown for a single backend.
type circuitState struct {
	mu      sync.RWMutex
	resetAt time.Time // zero value = closed (healthy)
}

func (s *circuitState) isOpen(now time.Time) (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.resetAt, !s.resetAt.IsZero() && now.Before(s.resetAt)
}

func (s *circuitState) open(resetAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetAt = resetAt
}

// SortByPriority orders backends by descending priority, then ascending cost
// hint. Equal backends keep their relative order.
func SortByPriority(backends []backend.Backend) {
	slices.SortStableFunc(backends, func(a, b backend.Backend) int {
		da, db := a.Descriptor(), b.Descriptor()
		if da.Priority != db.Priority {
			return db.Priority - da.Priority
		}
		switch {
		case da.CostHint < db.CostHint:
			return -1
		case da.CostHint > db.CostHint:
			return 1
		}
		return 0
	})
}
