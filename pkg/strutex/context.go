package strutex

import (
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Aquilesorei/strutex/pkg/backend"
)

// Step is one recorded extraction.
type Step struct {
	ID       string         `json:"id"`
	Document string         `json:"document,omitempty"`
	Prompt   string         `json:"prompt,omitempty"`
	Backend  string         `json:"backend,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
	Err      error          `json:"-"`
	Duration time.Duration  `json:"duration"`
	At       time.Time      `json:"at"`
}

// OK reports whether the step succeeded.
func (s Step) OK() bool { return s.Err == nil }

// ProcessingContext carries state across the requests of a multi-step
// workflow and records each of them. It is safe for concurrent use.
type ProcessingContext struct {
	id        string
	createdAt time.Time

	mu        sync.RWMutex
	state     map[string]any
	history   []Step
	listeners []func(Step)
	usage     backend.Usage
}

// NewProcessingContext returns an empty context with a fresh ID.
func NewProcessingContext() *ProcessingContext {
	return &ProcessingContext{
		id:        uuid.NewString(),
		createdAt: time.Now(),
		state:     make(map[string]any),
	}
}

func (c *ProcessingContext) ID() string { return c.id }

func (c *ProcessingContext) CreatedAt() time.Time { return c.createdAt }

// Set stores a value under key.
func (c *ProcessingContext) Set(key string, value any) {
	c.mu.Lock()
	c.state[key] = value
	c.mu.Unlock()
}

// Get returns the value stored under key.
func (c *ProcessingContext) Get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.state[key]
	return v, ok
}

// GetOr returns the value under key, or def when it is unset.
func (c *ProcessingContext) GetOr(key string, def any) any {
	if v, ok := c.Get(key); ok {
		return v
	}
	return def
}

func (c *ProcessingContext) Has(key string) bool {
	_, ok := c.Get(key)
	return ok
}

// OnStep registers fn to be called after each recorded step.
func (c *ProcessingContext) OnStep(fn func(Step)) {
	c.mu.Lock()
	c.listeners = append(c.listeners, fn)
	c.mu.Unlock()
}

// History returns a copy of the recorded steps in completion order.
func (c *ProcessingContext) History() []Step {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.history)
}

// TotalDuration sums the durations of all steps.
func (c *ProcessingContext) TotalDuration() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var d time.Duration
	for _, s := range c.history {
		d += s.Duration
	}
	return d
}

func (c *ProcessingContext) SuccessCount() int { return c.count(true) }
func (c *ProcessingContext) ErrorCount() int   { return c.count(false) }

func (c *ProcessingContext) count(ok bool) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, s := range c.history {
		if s.OK() == ok {
			n++
		}
	}
	return n
}

// Usage returns the token usage accumulated by every step.
func (c *ProcessingContext) Usage() backend.Usage {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.usage
}

// Summary is a serializable view of a context.
type Summary struct {
	ID            string         `json:"id"`
	CreatedAt     time.Time      `json:"created_at"`
	Steps         int            `json:"steps"`
	Successes     int            `json:"successes"`
	Errors        int            `json:"errors"`
	TotalDuration time.Duration  `json:"total_duration"`
	Usage         backend.Usage  `json:"usage"`
	State         map[string]any `json:"state,omitempty"`
}

func (c *ProcessingContext) Summary() Summary {
	c.mu.RLock()
	state := make(map[string]any, len(c.state))
	for k, v := range c.state {
		state[k] = v
	}
	steps := len(c.history)
	c.mu.RUnlock()
	return Summary{
		ID:            c.id,
		CreatedAt:     c.createdAt,
		Steps:         steps,
		Successes:     c.SuccessCount(),
		Errors:        c.ErrorCount(),
		TotalDuration: c.TotalDuration(),
		Usage:         c.Usage(),
		State:         state,
	}
}

func (c *ProcessingContext) record(s Step, usage backend.Usage) {
	c.mu.Lock()
	c.history = append(c.history, s)
	c.usage = c.usage.Add(usage)
	listeners := slices.Clone(c.listeners)
	c.mu.Unlock()

	for _, fn := range listeners {
		fn(s)
	}
}

// BatchContext is a ProcessingContext that knows how many documents the
// batch holds and reports progress against it.
type BatchContext struct {
	*ProcessingContext
	total int
}

// NewBatchContext returns a context for a batch of total documents.
func NewBatchContext(total int) *BatchContext {
	return &BatchContext{ProcessingContext: NewProcessingContext(), total: total}
}

func (b *BatchContext) Total() int { return b.total }

// Progress is the number of finished documents.
func (b *BatchContext) Progress() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.history)
}

// ProgressPercent is Progress as a percentage of Total.
func (b *BatchContext) ProgressPercent() float64 {
	if b.total <= 0 {
		return 0
	}
	return float64(b.Progress()) / float64(b.total) * 100
}

// SuccessRate is the percentage of finished documents that succeeded.
func (b *BatchContext) SuccessRate() float64 {
	done := b.Progress()
	if done == 0 {
		return 0
	}
	return float64(b.SuccessCount()) / float64(done) * 100
}

// AverageDuration is the mean step duration.
func (b *BatchContext) AverageDuration() time.Duration {
	done := b.Progress()
	if done == 0 {
		return 0
	}
	return b.TotalDuration() / time.Duration(done)
}

// EstimatedRemaining extrapolates AverageDuration over the unfinished
// documents. Concurrent workers make it an upper bound.
func (b *BatchContext) EstimatedRemaining() time.Duration {
	left := b.total - b.Progress()
	if left <= 0 {
		return 0
	}
	return b.AverageDuration() * time.Duration(left)
}
