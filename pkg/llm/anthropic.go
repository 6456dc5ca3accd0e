package llm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// Known Anthropic model pricing (per token, USD).
var anthropicPricing = map[string]pricing{
	"claude-opus-4-20250514":     {15.0 / 1_000_000, 75.0 / 1_000_000, 200000},
	"claude-sonnet-4-20250514":   {3.0 / 1_000_000, 15.0 / 1_000_000, 200000},
	"claude-3-5-sonnet-20241022": {3.0 / 1_000_000, 15.0 / 1_000_000, 200000},
	"claude-3-5-haiku-20241022":  {0.80 / 1_000_000, 4.0 / 1_000_000, 200000},
	"claude-3-haiku-20240307":    {0.25 / 1_000_000, 1.25 / 1_000_000, 200000},
}

const extractToolName = "extract_data"

// AnthropicProvider calls the Anthropic Messages API. Structured output uses
// a forced tool call whose input schema is the extraction schema.
type AnthropicProvider struct {
	client anthropic.Client
	model  string
}

// NewAnthropicProvider creates a new Anthropic provider.
func NewAnthropicProvider(cfg ProviderConfig) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic API key required")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}

	model := cfg.Model
	if model == "" {
		model = string(anthropic.ModelClaudeSonnet4_20250514)
	}

	return &AnthropicProvider{
		client: anthropic.NewClient(opts...),
		model:  model,
	}, nil
}

func (p *AnthropicProvider) params(req Request) (anthropic.MessageNewParams, error) {
	messages := make([]anthropic.MessageParam, 0, len(req.Messages))
	var systemPrompt string

	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleSystem:
			systemPrompt = msg.Content
		case RoleUser:
			blocks := make([]anthropic.ContentBlockParamUnion, 0, len(msg.Attachments)+1)
			for _, att := range msg.Attachments {
				encoded := base64.StdEncoding.EncodeToString(att.Data)
				switch {
				case att.IsImage():
					blocks = append(blocks, anthropic.NewImageBlockBase64(att.MediaType, encoded))
				case att.MediaType == "application/pdf":
					blocks = append(blocks, anthropic.NewDocumentBlock(anthropic.Base64PDFSourceParam{Data: encoded}))
				default:
					return anthropic.MessageNewParams{}, fmt.Errorf("%w: %s", ErrUnsupportedAttachment, att.MediaType)
				}
			}
			blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			messages = append(messages, anthropic.NewUserMessage(blocks...))
		case RoleAssistant:
			messages = append(messages, anthropic.NewAssistantMessage(
				anthropic.NewTextBlock(msg.Content),
			))
		}
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(p.model),
		MaxTokens:   int64(maxTokens),
		Messages:    messages,
		Temperature: anthropic.Float(req.Temperature),
	}
	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: systemPrompt}}
	}

	// Anthropic has no response_format; a forced tool call returns the JSON.
	if req.JSONSchema != nil {
		properties, _ := req.JSONSchema["properties"].(map[string]any)
		params.Tools = []anthropic.ToolUnionParam{{
			OfTool: &anthropic.ToolParam{
				Name:        extractToolName,
				Description: anthropic.String("Extract structured data from the document"),
				InputSchema: anthropic.ToolInputSchemaParam{
					Type:       "object",
					Properties: properties,
					Required:   requiredFields(req.JSONSchema),
				},
			},
		}}
		params.ToolChoice = anthropic.ToolChoiceParamOfTool(extractToolName)
	}
	return params, nil
}

// requiredFields accepts both []string (from schema.ToJSONSchema) and []any
// (from decoded JSON).
func requiredFields(js map[string]any) []string {
	switch r := js["required"].(type) {
	case []string:
		return r
	case []any:
		out := make([]string, 0, len(r))
		for _, v := range r {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Execute sends a completion request to Anthropic.
func (p *AnthropicProvider) Execute(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()

	params, err := p.params(req)
	if err != nil {
		return nil, err
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, wrapSDKError(p.Name(), err)
	}
	return p.response(ctx, msg, start)
}

// ExecuteStream streams text and tool-input deltas as they arrive.
func (p *AnthropicProvider) ExecuteStream(ctx context.Context, req Request, onDelta func(string) error) (*Response, error) {
	start := time.Now()

	params, err := p.params(req)
	if err != nil {
		return nil, err
	}

	stream := p.client.Messages.NewStreaming(ctx, params)
	defer stream.Close()

	msg := anthropic.Message{}
	for stream.Next() {
		event := stream.Current()
		if err := msg.Accumulate(event); err != nil {
			return nil, fmt.Errorf("anthropic stream: %w", err)
		}

		ev, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent)
		if !ok {
			continue
		}
		var fragment string
		switch d := ev.Delta.AsAny().(type) {
		case anthropic.TextDelta:
			fragment = d.Text
		case anthropic.InputJSONDelta:
			fragment = d.PartialJSON
		}
		if fragment == "" {
			continue
		}
		if err := onDelta(fragment); err != nil {
			return nil, err
		}
	}
	if err := stream.Err(); err != nil {
		return nil, wrapSDKError(p.Name(), err)
	}
	return p.response(ctx, &msg, start)
}

func (p *AnthropicProvider) response(ctx context.Context, msg *anthropic.Message, start time.Time) (*Response, error) {
	var content string
	for _, block := range msg.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			content = b.Text
		case anthropic.ToolUseBlock:
			// the tool input is the extracted data
			raw, err := json.Marshal(b.Input)
			if err != nil {
				return nil, fmt.Errorf("failed to marshal tool input: %w", err)
			}
			content = string(raw)
		}
	}

	usage := Usage{
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
	}
	cost, _ := p.EstimateCost(ctx, p.model, usage.InputTokens, usage.OutputTokens)

	return &Response{
		Content:      content,
		FinishReason: string(msg.StopReason),
		Usage:        usage,
		Model:        string(msg.Model),
		Cost:         cost,
		Duration:     time.Since(start),
	}, nil
}

// Name returns the provider identifier.
func (p *AnthropicProvider) Name() string { return "anthropic" }

// Model returns the configured model name.
func (p *AnthropicProvider) Model() string { return p.model }

// Capabilities reports Claude's feature set; every current model takes
// images and PDFs and has a 200k context window.
func (p *AnthropicProvider) Capabilities() ModelCapabilities {
	return ModelCapabilities{
		SupportsStructuredOutputs: true,
		SupportsStreaming:         true,
		SupportsVision:            true,
		SupportsDocuments:         true,
		LargeContext:              true,
	}
}

// ListModels returns the known Anthropic models.
func (p *AnthropicProvider) ListModels(ctx context.Context) ([]ModelInfo, error) {
	names := map[string]string{
		"claude-opus-4-20250514":     "Claude Opus 4",
		"claude-sonnet-4-20250514":   "Claude Sonnet 4",
		"claude-3-5-sonnet-20241022": "Claude 3.5 Sonnet",
		"claude-3-5-haiku-20241022":  "Claude 3.5 Haiku",
		"claude-3-haiku-20240307":    "Claude 3 Haiku",
	}
	models := make([]ModelInfo, 0, len(names))
	for _, id := range sortedKeys(anthropicPricing) {
		pr := anthropicPricing[id]
		models = append(models, ModelInfo{
			ID:              id,
			Name:            names[id],
			ContextLength:   pr.contextLength,
			PromptPrice:     pr.prompt,
			CompletionPrice: pr.completion,
			Capabilities:    p.Capabilities(),
		})
	}
	return models, nil
}

// EstimateCost calculates cost based on known Anthropic pricing, falling
// back to Sonnet pricing for unknown models.
func (p *AnthropicProvider) EstimateCost(ctx context.Context, modelID string, inputTokens, outputTokens int) (float64, error) {
	if pr, ok := anthropicPricing[modelID]; ok {
		return pr.cost(inputTokens, outputTokens), nil
	}
	return anthropicPricing["claude-sonnet-4-20250514"].cost(inputTokens, outputTokens), nil
}

var (
	_ StreamingProvider  = (*AnthropicProvider)(nil)
	_ ModelLister        = (*AnthropicProvider)(nil)
	_ CostEstimator      = (*AnthropicProvider)(nil)
	_ CapabilityReporter = (*AnthropicProvider)(nil)
)
