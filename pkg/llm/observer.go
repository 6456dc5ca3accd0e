package llm

import (
	"context"
	"time"
)

// LLMObserver receives notifications about LLM calls for observability.
// It is called after every provider execution, successful or not.
// Implementations should not block.
type LLMObserver interface {
	OnLLMCall(ctx context.Context, event LLMCallEvent)
}

// LLMCallEvent contains all information about an LLM call.
type LLMCallEvent struct {
	Provider string
	Model    string

	Request LLMCallRequest

	// Response is nil if the call failed before getting a response.
	Response *LLMCallResponse
	Error    error

	Duration  time.Duration
	Attempt   int // 1 for the first attempt
	Streamed  bool
	StartedAt time.Time
}

// LLMCallRequest contains the request sent to the LLM.
type LLMCallRequest struct {
	Messages    []Message
	MaxTokens   int
	Temperature float64
	StrictMode  bool

	// InputContentSize is the size in bytes of the document text or
	// attachments being extracted.
	InputContentSize int
}

// LLMCallResponse contains the response from the LLM.
type LLMCallResponse struct {
	Content      string
	InputTokens  int
	OutputTokens int
	FinishReason string
	Cost         float64
}

// ObserverFunc is a convenience type for using a function as an LLMObserver.
type ObserverFunc func(ctx context.Context, event LLMCallEvent)

// OnLLMCall implements LLMObserver.
func (f ObserverFunc) OnLLMCall(ctx context.Context, event LLMCallEvent) {
	f(ctx, event)
}

// MultiObserver combines multiple observers into one.
type MultiObserver struct {
	observers []LLMObserver
}

// NewMultiObserver creates an observer that dispatches to multiple observers.
func NewMultiObserver(observers ...LLMObserver) *MultiObserver {
	return &MultiObserver{observers: observers}
}

// OnLLMCall dispatches the event to all registered observers.
func (m *MultiObserver) OnLLMCall(ctx context.Context, event LLMCallEvent) {
	for _, obs := range m.observers {
		obs.OnLLMCall(ctx, event)
	}
}

// Add adds an observer to the multi-observer.
func (m *MultiObserver) Add(obs LLMObserver) {
	m.observers = append(m.observers, obs)
}
