package chain

import (
	"context"
	"errors"
	"slices"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Aquilesorei/strutex/pkg/backend"
	"github.com/Aquilesorei/strutex/pkg/retry"
)

// instantTimer skips retry delays.
type instantTimer struct{}

func (instantTimer) After(time.Duration) <-chan time.Time {
	c := make(chan time.Time, 1)
	c <- time.Now()
	return c
}

// recordingTimer fires immediately and keeps every requested delay.
type recordingTimer struct {
	delays []time.Duration
}

func (r *recordingTimer) After(d time.Duration) <-chan time.Time {
	r.delays = append(r.delays, d)
	c := make(chan time.Time, 1)
	c <- time.Now()
	return c
}

func fastPolicy(retries int) retry.Policy {
	return retry.New(retry.WithMaxRetries(retries), retry.WithTimer(instantTimer{}))
}

// scripted returns a backend that answers with results[i] on call i (the
// last entry repeats) and counts calls.
func scripted(name string, calls *atomic.Int32, results ...error) backend.Backend {
	return &backend.Func{
		Desc: backend.Descriptor{Name: name},
		Fn: func(ctx context.Context, req backend.Request) (*backend.Result, error) {
			n := int(calls.Add(1)) - 1
			err := results[min(n, len(results)-1)]
			if err != nil {
				return nil, err
			}
			return &backend.Result{Data: map[string]any{"from": name}, Raw: `{"from":"` + name + `"}`}, nil
		},
	}
}

func authErr(name string) error {
	return &backend.Error{Kind: backend.KindAuth, Backend: name, StatusCode: 401, Err: errors.New("bad key")}
}

func rateLimited(name string, after time.Duration) error {
	return &backend.Error{Kind: backend.KindTransient, Backend: name, StatusCode: 429, RetryAfter: after, Err: errors.New("slow down")}
}

// --- Execute ---

func TestExecuteFallsBack(t *testing.T) {
	var aCalls, bCalls atomic.Int32
	a := scripted("a", &aCalls, authErr("a"))
	b := scripted("b", &bCalls, nil)

	var fallbacks []string
	c := New([]backend.Backend{a, b}, WithPolicy(fastPolicy(2)), WithFallbackObserver(func(failed backend.Backend, err error) {
		fallbacks = append(fallbacks, failed.Name())
	}))

	res, used, err := c.Execute(context.Background(), backend.Request{})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if used != b || res.Data["from"] != "b" || res.Backend != "b" {
		t.Errorf("result from %v: %+v", used, res)
	}
	if c.LastBackend() != b {
		t.Error("LastBackend() should be b")
	}
	if aCalls.Load() != 1 {
		t.Errorf("a calls = %d, want 1 (auth errors are not retried)", aCalls.Load())
	}
	if !slices.Equal(fallbacks, []string{"a"}) {
		t.Errorf("fallbacks = %v, want [a]", fallbacks)
	}
}

func TestExecuteExhausted(t *testing.T) {
	var aCalls, bCalls atomic.Int32
	errA, errB := authErr("a"), errors.New("b exploded")
	a := scripted("a", &aCalls, errA)
	b := scripted("b", &bCalls, errB)

	var fallbacks int
	c := New([]backend.Backend{a, b}, WithPolicy(fastPolicy(0)), WithFallbackObserver(func(backend.Backend, error) {
		fallbacks++
	}))

	_, used, err := c.Execute(context.Background(), backend.Request{})
	var ex *ExhaustedError
	if !errors.As(err, &ex) {
		t.Fatalf("Execute() error = %v, want *ExhaustedError", err)
	}
	if used != nil {
		t.Error("no backend should be returned")
	}
	if len(ex.Failures) != 2 || ex.Failures[0].Backend != "a" || ex.Failures[1].Backend != "b" {
		t.Fatalf("Failures = %+v", ex.Failures)
	}
	if !errors.Is(err, errA) || !errors.Is(err, errB) {
		t.Error("ExhaustedError should expose every backend error")
	}
	if fallbacks != 1 {
		t.Errorf("fallbacks = %d, want 1", fallbacks)
	}
	if c.LastBackend() != nil {
		t.Error("LastBackend() should stay nil")
	}
}

func TestExecuteNoFallbackOnSuccess(t *testing.T) {
	var calls atomic.Int32
	called := false
	c := New([]backend.Backend{scripted("a", &calls, nil)}, WithFallbackObserver(func(backend.Backend, error) {
		called = true
	}))
	if _, _, err := c.Execute(context.Background(), backend.Request{}); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if called {
		t.Error("fallback observer must not fire on success")
	}
}

func TestExecuteRetriesTransient(t *testing.T) {
	var calls atomic.Int32
	a := scripted("a", &calls, rateLimited("a", 0), nil)

	c := New([]backend.Backend{a}, WithPolicy(fastPolicy(2)))
	if _, _, err := c.Execute(context.Background(), backend.Request{}); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
}

func TestExecuteBackoffFollowsPolicy(t *testing.T) {
	timer := &recordingTimer{}
	policy := retry.New(
		retry.WithMaxRetries(2),
		retry.WithBaseDelay(time.Second),
		retry.WithMultiplier(2),
		retry.WithTimer(timer),
	)
	var calls atomic.Int32
	a := scripted("a", &calls, rateLimited("a", 0))

	_, _, err := New([]backend.Backend{a}, WithPolicy(policy)).Execute(context.Background(), backend.Request{})
	var ex *ExhaustedError
	if !errors.As(err, &ex) {
		t.Fatalf("Execute() error = %v, want *ExhaustedError", err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
	if !slices.Equal(timer.delays, []time.Duration{time.Second, 2 * time.Second}) {
		t.Errorf("delays = %v, want [1s 2s]", timer.delays)
	}
}

func TestExecuteCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	a := &backend.Func{Desc: backend.Descriptor{Name: "a"}, Fn: func(ctx context.Context, req backend.Request) (*backend.Result, error) {
		cancel()
		return nil, ctx.Err()
	}}
	var bCalls atomic.Int32
	b := scripted("b", &bCalls, nil)

	_, _, err := New([]backend.Backend{a, b}, WithPolicy(fastPolicy(2))).Execute(ctx, backend.Request{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Execute() error = %v, want context.Canceled", err)
	}
	var ex *ExhaustedError
	if errors.As(err, &ex) {
		t.Error("cancellation is not exhaustion")
	}
	if bCalls.Load() != 0 {
		t.Error("b must not be called after cancellation")
	}
}

func TestExecuteEmpty(t *testing.T) {
	if _, _, err := New(nil).Execute(context.Background(), backend.Request{}); !errors.Is(err, ErrEmpty) {
		t.Errorf("Execute() error = %v, want ErrEmpty", err)
	}
}

func TestCooldown(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	var aCalls, bCalls atomic.Int32
	a := scripted("a", &aCalls, rateLimited("a", time.Minute))
	b := scripted("b", &bCalls, nil, errors.New("down"))

	c := New([]backend.Backend{a, b}, WithPolicy(fastPolicy(0)), WithCooldown(time.Second))
	c.now = func() time.Time { return now }

	if _, used, err := c.Execute(context.Background(), backend.Request{}); err != nil || used != b {
		t.Fatalf("first Execute() = %v, %v", used, err)
	}

	// a is cooling down for a minute, b now fails
	_, _, err := c.Execute(context.Background(), backend.Request{})
	if aCalls.Load() != 1 {
		t.Errorf("a calls = %d, want 1 while cooling down", aCalls.Load())
	}
	if !errors.Is(err, ErrBackendCoolingDown) {
		t.Errorf("Execute() error = %v, want ErrBackendCoolingDown recorded", err)
	}

	now = now.Add(2 * time.Minute)
	_, _, _ = c.Execute(context.Background(), backend.Request{})
	if aCalls.Load() != 2 {
		t.Errorf("a calls = %d, want 2 after cooldown expired", aCalls.Load())
	}
}

func TestCooldownDisabled(t *testing.T) {
	var aCalls, bCalls atomic.Int32
	a := scripted("a", &aCalls, rateLimited("a", time.Minute))
	b := scripted("b", &bCalls, nil)

	c := New([]backend.Backend{a, b}, WithPolicy(fastPolicy(0)))
	for range 2 {
		_, _, _ = c.Execute(context.Background(), backend.Request{})
	}
	if aCalls.Load() != 2 {
		t.Errorf("a calls = %d, want 2 without cooldown", aCalls.Load())
	}
}

// --- Identity and ordering ---

func TestIDAndName(t *testing.T) {
	a := &backend.Func{Desc: backend.Descriptor{Name: "anthropic", Model: "claude"}}
	b := &backend.Func{Desc: backend.Descriptor{Name: "rules"}}
	c := New([]backend.Backend{a, b})

	if got := c.ID(); got != "anthropic/claude,rules" {
		t.Errorf("ID() = %q", got)
	}
	if got := c.Name(); got != "chain(anthropic->rules)" {
		t.Errorf("Name() = %q", got)
	}
	if c.Len() != 2 {
		t.Errorf("Len() = %d", c.Len())
	}
}

func TestSortByPriority(t *testing.T) {
	mk := func(name string, prio int, cost float64) backend.Backend {
		return &backend.Func{Desc: backend.Descriptor{Name: name, Priority: prio, CostHint: cost}}
	}
	bs := []backend.Backend{mk("cheap", 0, 0.1), mk("first", 10, 5), mk("pricey", 0, 1), mk("free", 0, 0)}
	SortByPriority(bs)

	var names []string
	for _, b := range bs {
		names = append(names, b.Name())
	}
	if !slices.Equal(names, []string{"first", "free", "cheap", "pricey"}) {
		t.Errorf("order = %v", names)
	}
}
