// Package retry decides whether and when a failed backend call is attempted
// again.
//
// A Policy is immutable once built. Attempts are numbered from 1; the delay
// before attempt n+1 is min(maxDelay, base * multiplier^(n-1)).
package retry

import (
	"context"
	"errors"
	"math"
	"time"

	retrygo "github.com/avast/retry-go/v4"

	"github.com/Aquilesorei/strutex/internal/logger"
	"github.com/Aquilesorei/strutex/pkg/backend"
)

// Timer schedules retry delays. It matches retry-go's timer so tests can
// record delays instead of sleeping.
type Timer interface {
	After(time.Duration) <-chan time.Time
}

// Policy holds retry settings. The zero value never retries.
type Policy struct {
	maxRetries     int
	baseDelay      time.Duration
	multiplier     float64
	maxDelay       time.Duration
	attemptTimeout time.Duration
	retryable      func(error) bool
	timer          Timer
}

// Option configures a Policy.
type Option func(*Policy)

// WithMaxRetries sets how many times a failed call is retried. 0 disables
// retry.
func WithMaxRetries(n int) Option {
	return func(p *Policy) { p.maxRetries = max(n, 0) }
}

// WithBaseDelay sets the delay before the first retry.
func WithBaseDelay(d time.Duration) Option {
	return func(p *Policy) { p.baseDelay = d }
}

// WithMultiplier sets the growth factor between delays.
func WithMultiplier(m float64) Option {
	return func(p *Policy) { p.multiplier = m }
}

// WithMaxDelay caps a single delay.
func WithMaxDelay(d time.Duration) Option {
	return func(p *Policy) { p.maxDelay = d }
}

// WithAttemptTimeout bounds each attempt. 0 means no per-attempt bound.
func WithAttemptTimeout(d time.Duration) Option {
	return func(p *Policy) { p.attemptTimeout = d }
}

// WithClassifier replaces the retryable-error test. Errors classified as
// auth, malformed or unsupported are never retried whatever it returns.
func WithClassifier(fn func(error) bool) Option {
	return func(p *Policy) { p.retryable = fn }
}

// WithTimer replaces the clock used between attempts.
func WithTimer(t Timer) Option {
	return func(p *Policy) { p.timer = t }
}

// New returns a policy with defaults of 2 retries, a 1s base delay, a
// multiplier of 2 and a 30s cap, retrying transient backend errors only.
func New(opts ...Option) Policy {
	p := Policy{
		maxRetries: 2,
		baseDelay:  time.Second,
		multiplier: 2,
		maxDelay:   30 * time.Second,
		retryable:  backend.IsRetryable,
	}
	for _, opt := range opts {
		opt(&p)
	}
	if p.multiplier < 1 {
		p.multiplier = 1
	}
	return p
}

// None returns a policy that never retries.
func None() Policy {
	return New(WithMaxRetries(0))
}

func (p Policy) MaxRetries() int               { return p.maxRetries }
func (p Policy) BaseDelay() time.Duration      { return p.baseDelay }
func (p Policy) Multiplier() float64           { return p.multiplier }
func (p Policy) MaxDelay() time.Duration       { return p.maxDelay }
func (p Policy) AttemptTimeout() time.Duration { return p.attemptTimeout }

// ShouldRetry reports whether a call that failed on the given attempt with
// err gets another attempt.
func (p Policy) ShouldRetry(attempt int, err error) bool {
	if err == nil || attempt > p.maxRetries || attempt < 1 {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var be *backend.Error
	if errors.As(err, &be) {
		switch be.Kind {
		case backend.KindAuth, backend.KindMalformed, backend.KindUnsupported:
			return false
		}
	}
	if p.retryable == nil {
		return backend.IsRetryable(err)
	}
	return p.retryable(err)
}

// DelayFor returns the wait after the given failed attempt.
func (p Policy) DelayFor(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(p.baseDelay) * math.Pow(p.multiplier, float64(attempt-1))
	if p.maxDelay > 0 && d > float64(p.maxDelay) {
		return p.maxDelay
	}
	return time.Duration(d)
}

// delayAfter honours a server supplied Retry-After when it asks for more
// than the policy would wait, within the policy cap.
func (p Policy) delayAfter(attempt int, err error) time.Duration {
	d := p.DelayFor(attempt)
	var be *backend.Error
	if errors.As(err, &be) && be.RetryAfter > d {
		d = be.RetryAfter
		if p.maxDelay > 0 && d > p.maxDelay {
			d = p.maxDelay
		}
	}
	return d
}

// Do calls fn until it succeeds, the policy gives up or ctx is done. fn
// receives the 1-based attempt number and a context bounded by the attempt
// timeout. The last error is returned unwrapped.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) error) error {
	attempt := 0
	opts := []retrygo.Option{
		retrygo.Context(ctx),
		retrygo.Attempts(uint(p.maxRetries + 1)),
		retrygo.LastErrorOnly(true),
		retrygo.RetryIf(func(err error) bool {
			return p.ShouldRetry(attempt, err)
		}),
		retrygo.DelayType(func(n uint, err error, _ *retrygo.Config) time.Duration {
			return p.delayAfter(int(n), err)
		}),
		retrygo.OnRetry(func(n uint, err error) {
			logger.Debug("retrying after failure", "attempt", n+1, "delay", p.delayAfter(int(n)+1, err), "error", err)
		}),
	}
	if p.timer != nil {
		opts = append(opts, retrygo.WithTimer(p.timer))
	}

	return retrygo.Do(func() error {
		attempt++
		if err := ctx.Err(); err != nil {
			return err
		}
		actx := backend.WithAttempt(ctx, attempt)
		if p.attemptTimeout > 0 {
			var cancel context.CancelFunc
			actx, cancel = context.WithTimeout(actx, p.attemptTimeout)
			defer cancel()
		}
		return fn(actx, attempt)
	}, opts...)
}
