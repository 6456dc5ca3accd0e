// Package llm provides a unified interface for LLM providers.
//
// Providers are thin network clients: they turn a Request into one API call
// and report token usage and cost. Prompt construction and JSON parsing live
// in pkg/backend.
package llm

import (
	"context"
	"time"
)

// Role represents the role of a message sender.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Attachment is binary content sent alongside a user message (a page image
// or a PDF). Providers without support for a media type return an
// unsupported error.
type Attachment struct {
	MediaType string
	Data      []byte
}

// IsImage reports whether the attachment is an image.
func (a Attachment) IsImage() bool {
	return len(a.MediaType) > 6 && a.MediaType[:6] == "image/"
}

// Message represents a chat message.
type Message struct {
	Role        Role
	Content     string
	Attachments []Attachment
}

// Request represents a completion request to the LLM.
type Request struct {
	Messages    []Message
	MaxTokens   int
	Temperature float64
	JSONSchema  map[string]any // For structured output
	StrictMode  bool           // Use strict JSON schema validation (only for supported models)
}

// Usage tracks token consumption.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Response represents the result of an LLM execution.
type Response struct {
	Content      string
	FinishReason string
	Usage        Usage
	Model        string  // Actual model used (may differ from requested for auto-routing)
	Cost         float64 // Estimated from known pricing, 0 when unknown
	Duration     time.Duration
}

// Provider is the core interface that all LLM backends must implement.
type Provider interface {
	// Execute sends a completion request and returns the response.
	Execute(ctx context.Context, req Request) (*Response, error)

	// Name returns the provider identifier (e.g., "openrouter", "anthropic").
	Name() string

	// Model returns the configured model name.
	Model() string
}

// StreamingProvider is implemented by providers that can deliver output
// incrementally. onDelta receives text fragments in order; returning an
// error from it aborts the stream. The final Response carries the complete
// content.
type StreamingProvider interface {
	Provider
	ExecuteStream(ctx context.Context, req Request, onDelta func(string) error) (*Response, error)
}

// ModelInfo contains metadata about a model including pricing and capabilities.
type ModelInfo struct {
	ID              string            `json:"id"`
	Name            string            `json:"name"`
	Description     string            `json:"description,omitempty"`
	ContextLength   int               `json:"context_length"`
	PromptPrice     float64           `json:"prompt_price"`     // Price per token (USD)
	CompletionPrice float64           `json:"completion_price"` // Price per token (USD)
	IsFree          bool              `json:"is_free"`
	Capabilities    ModelCapabilities `json:"capabilities"`
}

// ModelCapabilities describes what features a model supports.
type ModelCapabilities struct {
	SupportsStructuredOutputs bool `json:"supports_structured_outputs"` // JSON schema enforcement
	SupportsStreaming         bool `json:"supports_streaming"`
	SupportsVision            bool `json:"supports_vision"`
	SupportsDocuments         bool `json:"supports_documents"` // native PDF input
	LargeContext              bool `json:"large_context"`      // 100k tokens or more
}

// CapabilityReporter is implemented by providers that know what their
// configured model supports without a network call.
type CapabilityReporter interface {
	Capabilities() ModelCapabilities
}

// ModelLister is an optional interface for providers that can list available models.
type ModelLister interface {
	ListModels(ctx context.Context) ([]ModelInfo, error)
}

// CostEstimator is an optional interface for providers that can estimate
// costs based on token counts without making an API call.
type CostEstimator interface {
	EstimateCost(ctx context.Context, modelID string, inputTokens, outputTokens int) (float64, error)
}

// ProviderConfig holds common configuration for providers.
type ProviderConfig struct {
	APIKey     string
	BaseURL    string // For custom endpoints or OpenRouter
	Model      string
	MaxRetries int // SDK-level retries; strutex retries above the provider, so 0 by default
	Timeout    time.Duration
	// HTTPReferer and AppTitle for OpenRouter attribution
	HTTPReferer string
	AppTitle    string
}

// DefaultProviderConfig returns sensible defaults.
func DefaultProviderConfig() ProviderConfig {
	return ProviderConfig{
		Timeout: 120 * time.Second,
	}
}

// CanStream returns true if the provider implements StreamingProvider.
func CanStream(p Provider) bool {
	_, ok := p.(StreamingProvider)
	return ok
}

// CanListModels returns true if the provider implements ModelLister.
func CanListModels(p Provider) bool {
	_, ok := p.(ModelLister)
	return ok
}

// AsCostEstimator returns the provider as a CostEstimator if it implements the interface.
func AsCostEstimator(p Provider) (CostEstimator, bool) {
	ce, ok := p.(CostEstimator)
	return ce, ok
}

// CapabilitiesOf returns the provider's reported capabilities, or the zero
// value when it does not report any.
func CapabilitiesOf(p Provider) ModelCapabilities {
	if r, ok := p.(CapabilityReporter); ok {
		return r.Capabilities()
	}
	return ModelCapabilities{}
}

type pricing struct {
	prompt, completion float64
	contextLength      int
}

func (p pricing) cost(in, out int) float64 {
	return float64(in)*p.prompt + float64(out)*p.completion
}
