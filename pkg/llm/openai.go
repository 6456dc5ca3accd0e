package llm

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const openRouterBaseURL = "https://openrouter.ai/api/v1"

// Known OpenAI model pricing (per token, USD).
var openaiPricing = map[string]pricing{
	"gpt-4o":        {2.50 / 1_000_000, 10.0 / 1_000_000, 128000},
	"gpt-4o-mini":   {0.15 / 1_000_000, 0.60 / 1_000_000, 128000},
	"gpt-4.1":       {2.0 / 1_000_000, 8.0 / 1_000_000, 1047576},
	"gpt-4.1-mini":  {0.40 / 1_000_000, 1.60 / 1_000_000, 1047576},
	"gpt-4-turbo":   {10.0 / 1_000_000, 30.0 / 1_000_000, 128000},
	"gpt-3.5-turbo": {0.50 / 1_000_000, 1.50 / 1_000_000, 16385},
}

// OpenAIProvider talks to the OpenAI chat completions API or any
// compatible endpoint (OpenRouter, vLLM, LM Studio).
type OpenAIProvider struct {
	client openai.Client
	name   string
	model  string
}

// NewOpenAIProvider creates a new OpenAI provider.
func NewOpenAIProvider(cfg ProviderConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key required")
	}
	model := cfg.Model
	if model == "" {
		model = string(openai.ChatModelGPT4o)
	}
	return newOpenAICompatible("openai", model, cfg), nil
}

// NewOpenRouterProvider creates an OpenAI-compatible provider pointed at
// OpenRouter, with its attribution headers.
func NewOpenRouterProvider(cfg ProviderConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OpenRouter API key required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = openRouterBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = "openrouter/auto"
	}
	return newOpenAICompatible("openrouter", model, cfg), nil
}

func newOpenAICompatible(name, model string, cfg ProviderConfig) *OpenAIProvider {
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
	if cfg.HTTPReferer != "" {
		opts = append(opts, option.WithHeader("HTTP-Referer", cfg.HTTPReferer))
	}
	if cfg.AppTitle != "" {
		opts = append(opts, option.WithHeader("X-Title", cfg.AppTitle))
	}

	return &OpenAIProvider{
		client: openai.NewClient(opts...),
		name:   name,
		model:  model,
	}
}

func (p *OpenAIProvider) params(req Request) (openai.ChatCompletionNewParams, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleSystem:
			messages = append(messages, openai.SystemMessage(msg.Content))
		case RoleUser:
			if len(msg.Attachments) == 0 {
				messages = append(messages, openai.UserMessage(msg.Content))
				continue
			}
			parts := make([]openai.ChatCompletionContentPartUnionParam, 0, len(msg.Attachments)+1)
			for _, att := range msg.Attachments {
				if !att.IsImage() {
					return openai.ChatCompletionNewParams{}, fmt.Errorf("%w: %s", ErrUnsupportedAttachment, att.MediaType)
				}
				dataURL := "data:" + att.MediaType + ";base64," + base64.StdEncoding.EncodeToString(att.Data)
				parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
					URL: dataURL,
				}))
			}
			parts = append(parts, openai.TextContentPart(msg.Content))
			messages = append(messages, openai.UserMessage(parts))
		case RoleAssistant:
			messages = append(messages, openai.AssistantMessage(msg.Content))
		}
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}

	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(p.model),
		Messages:    messages,
		MaxTokens:   openai.Int(int64(maxTokens)),
		Temperature: openai.Float(req.Temperature),
	}

	if req.JSONSchema != nil {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   "extraction_result",
					Schema: req.JSONSchema,
					Strict: openai.Bool(req.StrictMode),
				},
			},
		}
	}
	return params, nil
}

// Execute sends a completion request.
func (p *OpenAIProvider) Execute(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()

	params, err := p.params(req)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, wrapSDKError(p.name, err)
	}
	return p.response(ctx, resp, start)
}

// ExecuteStream streams content deltas and accumulates the final completion.
func (p *OpenAIProvider) ExecuteStream(ctx context.Context, req Request, onDelta func(string) error) (*Response, error) {
	start := time.Now()

	params, err := p.params(req)
	if err != nil {
		return nil, err
	}
	params.StreamOptions = openai.ChatCompletionStreamOptionsParam{
		IncludeUsage: openai.Bool(true),
	}

	stream := p.client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	acc := openai.ChatCompletionAccumulator{}
	for stream.Next() {
		chunk := stream.Current()
		acc.AddChunk(chunk)

		if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
			continue
		}
		if err := onDelta(chunk.Choices[0].Delta.Content); err != nil {
			return nil, err
		}
	}
	if err := stream.Err(); err != nil {
		return nil, wrapSDKError(p.name, err)
	}
	return p.response(ctx, &acc.ChatCompletion, start)
}

func (p *OpenAIProvider) response(ctx context.Context, resp *openai.ChatCompletion, start time.Time) (*Response, error) {
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%s: no choices in response", p.name)
	}

	usage := Usage{
		InputTokens:  int(resp.Usage.PromptTokens),
		OutputTokens: int(resp.Usage.CompletionTokens),
	}
	cost, _ := p.EstimateCost(ctx, p.model, usage.InputTokens, usage.OutputTokens)

	return &Response{
		Content:      resp.Choices[0].Message.Content,
		FinishReason: string(resp.Choices[0].FinishReason),
		Usage:        usage,
		Model:        resp.Model,
		Cost:         cost,
		Duration:     time.Since(start),
	}, nil
}

// Name returns the provider identifier.
func (p *OpenAIProvider) Name() string { return p.name }

// Model returns the configured model name.
func (p *OpenAIProvider) Model() string { return p.model }

// Capabilities reports what the configured model supports. Models routed
// through OpenRouter are assumed to take images; the API rejects them
// otherwise and the chain falls back.
func (p *OpenAIProvider) Capabilities() ModelCapabilities {
	caps := ModelCapabilities{
		SupportsStructuredOutputs: true,
		SupportsStreaming:         true,
		SupportsVision:            p.name == "openrouter" || strings.HasPrefix(p.model, "gpt-4o") || strings.HasPrefix(p.model, "gpt-4.1"),
	}
	if pr, ok := lookupOpenAIPricing(p.model); ok {
		caps.LargeContext = pr.contextLength >= 100000
	}
	return caps
}

// ListModels returns the known OpenAI models.
func (p *OpenAIProvider) ListModels(ctx context.Context) ([]ModelInfo, error) {
	models := make([]ModelInfo, 0, len(openaiPricing))
	for _, id := range sortedKeys(openaiPricing) {
		pr := openaiPricing[id]
		models = append(models, ModelInfo{
			ID:              id,
			Name:            id,
			ContextLength:   pr.contextLength,
			PromptPrice:     pr.prompt,
			CompletionPrice: pr.completion,
			Capabilities: ModelCapabilities{
				SupportsStructuredOutputs: true,
				SupportsStreaming:         true,
				SupportsVision:            strings.HasPrefix(id, "gpt-4o") || strings.HasPrefix(id, "gpt-4.1"),
				LargeContext:              pr.contextLength >= 100000,
			},
		})
	}
	return models, nil
}

// EstimateCost calculates cost based on known OpenAI pricing. OpenRouter
// model IDs carry a vendor prefix ("openai/gpt-4o") which is stripped.
func (p *OpenAIProvider) EstimateCost(ctx context.Context, modelID string, inputTokens, outputTokens int) (float64, error) {
	if pr, ok := lookupOpenAIPricing(modelID); ok {
		return pr.cost(inputTokens, outputTokens), nil
	}
	return openaiPricing["gpt-4o-mini"].cost(inputTokens, outputTokens), nil
}

func lookupOpenAIPricing(modelID string) (pricing, bool) {
	modelID = strings.TrimPrefix(modelID, "openai/")
	if pr, ok := openaiPricing[modelID]; ok {
		return pr, true
	}
	// longest prefix wins so "gpt-4o-mini-2024" does not match "gpt-4o"
	best := ""
	for id := range openaiPricing {
		if strings.HasPrefix(modelID, id) && len(id) > len(best) {
			best = id
		}
	}
	if best == "" {
		return pricing{}, false
	}
	return openaiPricing[best], true
}

var (
	_ StreamingProvider  = (*OpenAIProvider)(nil)
	_ ModelLister        = (*OpenAIProvider)(nil)
	_ CostEstimator      = (*OpenAIProvider)(nil)
	_ CapabilityReporter = (*OpenAIProvider)(nil)
)
