package retry

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/Aquilesorei/strutex/pkg/backend"
)

// recordTimer fires immediately and remembers every requested delay.
type recordTimer struct {
	delays []time.Duration
}

func (r *recordTimer) After(d time.Duration) <-chan time.Time {
	r.delays = append(r.delays, d)
	c := make(chan time.Time, 1)
	c <- time.Now()
	return c
}

func transient() error {
	return &backend.Error{Kind: backend.KindTransient, Backend: "a", StatusCode: 429, Err: errors.New("rate limited")}
}

func authErr() error {
	return &backend.Error{Kind: backend.KindAuth, Backend: "a", StatusCode: 401, Err: errors.New("bad key")}
}

// --- Policy ---

func TestDelayFor(t *testing.T) {
	p := New(WithBaseDelay(time.Second), WithMultiplier(2), WithMaxDelay(5*time.Second))
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second}
	for i, w := range want {
		if got := p.DelayFor(i + 1); got != w {
			t.Errorf("DelayFor(%d) = %v, want %v", i+1, got, w)
		}
	}
}

func TestDefaults(t *testing.T) {
	p := New()
	if p.MaxRetries() != 2 || p.BaseDelay() != time.Second || p.Multiplier() != 2 || p.MaxDelay() != 30*time.Second {
		t.Errorf("defaults = %d %v %v %v", p.MaxRetries(), p.BaseDelay(), p.Multiplier(), p.MaxDelay())
	}
	if None().MaxRetries() != 0 {
		t.Error("None() should not retry")
	}
	if New(WithMaxRetries(-3)).MaxRetries() != 0 {
		t.Error("negative retries should clamp to 0")
	}
}

func TestShouldRetry(t *testing.T) {
	p := New(WithMaxRetries(2))
	tests := []struct {
		name    string
		attempt int
		err     error
		want    bool
	}{
		{"nil error", 1, nil, false},
		{"transient first", 1, transient(), true},
		{"transient second", 2, transient(), true},
		{"transient exhausted", 3, transient(), false},
		{"auth", 1, authErr(), false},
		{"plain error", 1, errors.New("boom"), false},
		{"canceled", 1, context.Canceled, false},
	}
	for _, tt := range tests {
		if got := p.ShouldRetry(tt.attempt, tt.err); got != tt.want {
			t.Errorf("%s: ShouldRetry(%d) = %v, want %v", tt.name, tt.attempt, got, tt.want)
		}
	}

	if New(WithMaxRetries(0)).ShouldRetry(1, transient()) {
		t.Error("max_retries=0 should disable retry")
	}
}

func TestCustomClassifier(t *testing.T) {
	p := New(WithClassifier(func(error) bool { return true }))
	if !p.ShouldRetry(1, errors.New("boom")) {
		t.Error("custom classifier should allow plain errors")
	}
	if p.ShouldRetry(1, authErr()) {
		t.Error("auth errors are never retried")
	}
}

// --- Do ---

func TestDoDelaysBeforeEachRetry(t *testing.T) {
	timer := &recordTimer{}
	p := New(WithMaxRetries(2), WithBaseDelay(time.Second), WithMultiplier(2), WithTimer(timer))

	var attempts []int
	err := Do(context.Background(), p, func(ctx context.Context, attempt int) error {
		attempts = append(attempts, attempt)
		if backend.AttemptFrom(ctx) != attempt {
			t.Errorf("AttemptFrom(ctx) = %d, want %d", backend.AttemptFrom(ctx), attempt)
		}
		return transient()
	})

	var be *backend.Error
	if !errors.As(err, &be) || be.Kind != backend.KindTransient {
		t.Fatalf("Do() error = %v, want last transient error", err)
	}
	if !slices.Equal(attempts, []int{1, 2, 3}) {
		t.Errorf("attempts = %v, want [1 2 3]", attempts)
	}
	if !slices.Equal(timer.delays, []time.Duration{time.Second, 2 * time.Second}) {
		t.Errorf("delays = %v, want [1s 2s]", timer.delays)
	}
}

func TestDoStopsOnNonRetryable(t *testing.T) {
	timer := &recordTimer{}
	p := New(WithMaxRetries(2), WithTimer(timer))

	calls := 0
	err := Do(context.Background(), p, func(ctx context.Context, attempt int) error {
		calls++
		return authErr()
	})
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if len(timer.delays) != 0 {
		t.Errorf("delays = %v, want none", timer.delays)
	}
	var be *backend.Error
	if !errors.As(err, &be) || be.Kind != backend.KindAuth {
		t.Errorf("Do() error = %v, want auth error", err)
	}
}

func TestDoSucceedsAfterRetry(t *testing.T) {
	timer := &recordTimer{}
	p := New(WithTimer(timer))

	calls := 0
	err := Do(context.Background(), p, func(ctx context.Context, attempt int) error {
		calls++
		if attempt == 1 {
			return transient()
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if calls != 2 || len(timer.delays) != 1 {
		t.Errorf("calls = %d, delays = %v", calls, timer.delays)
	}
}

func TestDoHonoursRetryAfter(t *testing.T) {
	timer := &recordTimer{}
	p := New(WithMaxRetries(1), WithMaxDelay(10*time.Second), WithTimer(timer))

	_ = Do(context.Background(), p, func(ctx context.Context, attempt int) error {
		return &backend.Error{Kind: backend.KindTransient, RetryAfter: 5 * time.Second, Err: errors.New("slow down")}
	})
	if !slices.Equal(timer.delays, []time.Duration{5 * time.Second}) {
		t.Errorf("delays = %v, want [5s]", timer.delays)
	}
}

func TestDoAttemptTimeout(t *testing.T) {
	p := New(WithMaxRetries(0), WithAttemptTimeout(time.Minute))
	err := Do(context.Background(), p, func(ctx context.Context, attempt int) error {
		if _, ok := ctx.Deadline(); !ok {
			t.Error("attempt context should carry a deadline")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
}

func TestDoCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := Do(ctx, New(), func(ctx context.Context, attempt int) error {
		calls++
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Do() error = %v, want context.Canceled", err)
	}
	if calls != 0 {
		t.Errorf("calls = %d, want 0", calls)
	}
}
