package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Aquilesorei/strutex/internal/logger"
	"github.com/Aquilesorei/strutex/pkg/llm"
)

// Config holds the settings of an LLM-backed backend.
type Config struct {
	// Temperature for LLM responses (default: 0.1).
	Temperature float64

	// MaxTokens for LLM responses (default: 16384).
	MaxTokens int

	// MaxContentSize limits document text in bytes (default: 100000, 0 = unlimited).
	MaxContentSize int

	// StrictMode enables strict JSON schema validation in the API request.
	// Only some OpenAI-compatible models support it.
	StrictMode bool

	// Priority and CostHint are copied into the descriptor.
	Priority int
	CostHint float64

	// Observer receives an event after every provider call.
	Observer llm.LLMObserver
}

// DefaultConfig returns sensible defaults for LLM extraction.
func DefaultConfig() Config {
	return Config{
		Temperature:    0.1,
		MaxTokens:      16384,
		MaxContentSize: 100000,
	}
}

// Option configures an LLMBackend.
type Option func(*Config)

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(c *Config) { c.Temperature = t }
}

// WithMaxTokens sets the maximum output tokens.
func WithMaxTokens(n int) Option {
	return func(c *Config) { c.MaxTokens = n }
}

// WithMaxContentSize limits the document text placed in the prompt.
func WithMaxContentSize(n int) Option {
	return func(c *Config) { c.MaxContentSize = n }
}

// WithStrictMode enables strict JSON schema validation.
func WithStrictMode(strict bool) Option {
	return func(c *Config) { c.StrictMode = strict }
}

// WithPriority sets the descriptor priority.
func WithPriority(p int) Option {
	return func(c *Config) { c.Priority = p }
}

// WithCostHint overrides the cost estimate in the descriptor.
func WithCostHint(h float64) Option {
	return func(c *Config) { c.CostHint = h }
}

// WithObserver sets the LLM observer.
func WithObserver(obs llm.LLMObserver) Option {
	return func(c *Config) { c.Observer = obs }
}

// LLMBackend adapts an llm.Provider to Backend: it builds the prompt, sends
// the document natively when the model accepts it, and parses the JSON reply.
type LLMBackend struct {
	provider llm.Provider
	config   Config
}

// NewLLM creates a backend over provider.
func NewLLM(provider llm.Provider, opts ...Option) *LLMBackend {
	config := DefaultConfig()
	for _, opt := range opts {
		opt(&config)
	}
	return &LLMBackend{provider: provider, config: config}
}

// Name returns the provider name.
func (b *LLMBackend) Name() string { return b.provider.Name() }

// Model returns the provider's configured model.
func (b *LLMBackend) Model() string { return b.provider.Model() }

// Provider returns the wrapped provider.
func (b *LLMBackend) Provider() llm.Provider { return b.provider }

// Descriptor reports the provider's capabilities. The cost hint defaults to
// the estimated price of 1k input and 1k output tokens.
func (b *LLMBackend) Descriptor() Descriptor {
	caps := llm.CapabilitiesOf(b.provider)
	d := Descriptor{
		Name:     b.Name(),
		Model:    b.Model(),
		Priority: b.config.Priority,
		CostHint: b.config.CostHint,
	}
	if caps.SupportsVision {
		d.Capabilities = append(d.Capabilities, CapVision)
	}
	if caps.SupportsStreaming || llm.CanStream(b.provider) {
		d.Capabilities = append(d.Capabilities, CapStreaming)
	}
	if caps.LargeContext {
		d.Capabilities = append(d.Capabilities, CapLargeContext)
	}
	if caps.SupportsStructuredOutputs {
		d.Capabilities = append(d.Capabilities, CapStructuredOutput)
	}
	if d.CostHint == 0 {
		if ce, ok := llm.AsCostEstimator(b.provider); ok {
			d.CostHint, _ = ce.EstimateCost(context.Background(), b.Model(), 1000, 1000)
		}
	}
	return d
}

// Call performs one extraction. Failures are returned as *Error.
func (b *LLMBackend) Call(ctx context.Context, req Request) (*Result, error) {
	return b.call(ctx, req, nil)
}

// StreamCall streams raw output through onDelta when the provider supports
// it; otherwise the complete output is delivered as a single fragment.
func (b *LLMBackend) StreamCall(ctx context.Context, req Request, onDelta func(string) error) (*Result, error) {
	if !llm.CanStream(b.provider) {
		res, err := b.call(ctx, req, nil)
		if err != nil {
			return nil, err
		}
		if err := onDelta(res.Raw); err != nil {
			return nil, err
		}
		return res, nil
	}
	return b.call(ctx, req, onDelta)
}

func (b *LLMBackend) call(ctx context.Context, req Request, onDelta func(string) error) (*Result, error) {
	llmReq, err := b.request(req)
	if err != nil {
		return nil, Classify(b.Name(), err)
	}

	logger.Debug("backend calling LLM",
		"backend", b.Name(),
		"model", b.Model(),
		"max_tokens", llmReq.MaxTokens,
		"attachments", len(llmReq.Messages[len(llmReq.Messages)-1].Attachments),
		"streaming", onDelta != nil)

	startedAt := time.Now()
	var resp *llm.Response
	if onDelta != nil {
		resp, err = b.provider.(llm.StreamingProvider).ExecuteStream(ctx, llmReq, onDelta)
	} else {
		resp, err = b.provider.Execute(ctx, llmReq)
	}
	duration := time.Since(startedAt)

	b.notify(ctx, req, llmReq, resp, err, startedAt, duration, onDelta != nil)

	if err != nil {
		logger.Debug("backend LLM call failed", "backend", b.Name(), "error", err)
		return nil, Classify(b.Name(), err)
	}

	data, err := parseObject(resp.Content)
	if err != nil {
		logger.Debug("backend failed to parse response", "backend", b.Name(), "error", err)
		return nil, Classify(b.Name(), err)
	}

	model := resp.Model
	if model == "" {
		model = b.Model()
	}
	return &Result{
		Data: data,
		Raw:  resp.Content,
		Usage: Usage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
			Cost:         resp.Cost,
		},
		Backend:  b.Name(),
		Model:    model,
		Duration: duration,
	}, nil
}

// request builds the provider request. Images and PDFs are attached when the
// model takes them natively; everything else goes in as text.
func (b *LLMBackend) request(req Request) (llm.Request, error) {
	caps := llm.CapabilitiesOf(b.provider)

	var attachments []llm.Attachment
	switch {
	case strings.HasPrefix(req.MediaType, "image/") && caps.SupportsVision,
		req.MediaType == "application/pdf" && caps.SupportsDocuments:
		attachments = []llm.Attachment{{MediaType: req.MediaType, Data: req.Document}}
	case req.Text == "" && strings.HasPrefix(req.MediaType, "text/"):
		req.Text = string(req.Document)
	case req.Text == "" && len(req.Document) > 0:
		return llm.Request{}, fmt.Errorf("%w: %s (model %s)", llm.ErrUnsupportedAttachment, req.MediaType, b.Model())
	}

	maxTokens := b.config.MaxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}
	temperature := b.config.Temperature
	if req.Temperature > 0 {
		temperature = req.Temperature
	}

	return llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: SystemPrompt},
			{
				Role:        llm.RoleUser,
				Content:     BuildPrompt(req, len(attachments) > 0, b.config.MaxContentSize),
				Attachments: attachments,
			},
		},
		MaxTokens:   maxTokens,
		Temperature: temperature,
		JSONSchema:  promptSchema(req.Schema),
		StrictMode:  b.config.StrictMode,
	}, nil
}

func (b *LLMBackend) notify(ctx context.Context, req Request, llmReq llm.Request, resp *llm.Response, err error, startedAt time.Time, duration time.Duration, streamed bool) {
	if b.config.Observer == nil {
		return
	}
	inputSize := len(req.Text)
	if inputSize == 0 {
		inputSize = len(req.Document)
	}
	event := llm.LLMCallEvent{
		Provider:  b.Name(),
		Model:     b.Model(),
		Error:     err,
		Duration:  duration,
		Attempt:   AttemptFrom(ctx),
		Streamed:  streamed,
		StartedAt: startedAt,
		Request: llm.LLMCallRequest{
			Messages:         llmReq.Messages,
			MaxTokens:        llmReq.MaxTokens,
			Temperature:      llmReq.Temperature,
			StrictMode:       llmReq.StrictMode,
			InputContentSize: inputSize,
		},
	}
	if resp != nil {
		if resp.Model != "" {
			event.Model = resp.Model
		}
		event.Response = &llm.LLMCallResponse{
			Content:      resp.Content,
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
			FinishReason: resp.FinishReason,
			Cost:         resp.Cost,
		}
	}
	b.config.Observer.OnLLMCall(ctx, event)
}

// parseObject decodes a model reply into a JSON object.
func parseObject(content string) (map[string]any, error) {
	jsonContent := StripMarkdownCodeBlock(content)
	var data map[string]any
	if err := json.Unmarshal([]byte(jsonContent), &data); err != nil {
		return nil, fmt.Errorf("%w: %v (response: %s)", ErrMalformedOutput, err, truncateForError(content))
	}
	if data == nil {
		return nil, fmt.Errorf("%w: got null (response: %s)", ErrMalformedOutput, truncateForError(content))
	}
	return data, nil
}

var _ Streamer = (*LLMBackend)(nil)
