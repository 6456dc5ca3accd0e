package llm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// --- Errors ---

func TestParseRetryAfter(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"", 0},
		{"5", 5 * time.Second},
		{"0", 0},
		{"soon", 0},
		{"Wed, 21 Oct 2015 07:28:00 GMT", 0}, // in the past
	}
	for _, tt := range tests {
		if got := parseRetryAfter(tt.in); got != tt.want {
			t.Errorf("parseRetryAfter(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}

	future := time.Now().Add(time.Hour).UTC().Format(http.TimeFormat)
	if got := parseRetryAfter(future); got <= 0 || got > time.Hour {
		t.Errorf("parseRetryAfter(future) = %v, want (0, 1h]", got)
	}
}

func TestStatusCode(t *testing.T) {
	apiErr := &APIError{Provider: "ollama", StatusCode: 429, Message: "slow down"}
	if got := StatusCode(apiErr); got != 429 {
		t.Errorf("StatusCode(APIError) = %d, want 429", got)
	}
	if got := StatusCode(fmt.Errorf("call: %w", apiErr)); got != 429 {
		t.Errorf("StatusCode(wrapped) = %d, want 429", got)
	}
	if got := StatusCode(errors.New("connection refused")); got != 0 {
		t.Errorf("StatusCode(plain) = %d, want 0", got)
	}
}

func TestAPIErrorMessage(t *testing.T) {
	err := &APIError{Provider: "ollama", StatusCode: 500, Message: "boom"}
	if got := err.Error(); got != "ollama API error (status 500): boom" {
		t.Errorf("Error() = %q", got)
	}

	cause := errors.New("bad gateway")
	wrapped := &APIError{Provider: "openai", StatusCode: 502, Err: cause}
	if !errors.Is(wrapped, cause) {
		t.Error("APIError should unwrap to its cause")
	}
}

func TestAttachmentIsImage(t *testing.T) {
	if !(Attachment{MediaType: "image/png"}).IsImage() {
		t.Error("image/png should be an image")
	}
	if (Attachment{MediaType: "application/pdf"}).IsImage() {
		t.Error("application/pdf should not be an image")
	}
	if (Attachment{MediaType: "image"}).IsImage() {
		t.Error("bare 'image' should not be an image")
	}
}

// --- Ollama ---

func newOllamaServer(t *testing.T, handler func(w http.ResponseWriter, req ollamaRequest)) *OllamaProvider {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			http.NotFound(w, r)
			return
		}
		body, _ := io.ReadAll(r.Body)
		var req ollamaRequest
		if err := json.Unmarshal(body, &req); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		handler(w, req)
	}))
	t.Cleanup(srv.Close)

	p, err := NewOllamaProvider(ProviderConfig{BaseURL: srv.URL + "/", Model: "llava"})
	if err != nil {
		t.Fatalf("NewOllamaProvider() error = %v", err)
	}
	return p
}

func TestOllamaExecute(t *testing.T) {
	var got ollamaRequest
	p := newOllamaServer(t, func(w http.ResponseWriter, req ollamaRequest) {
		got = req
		_ = json.NewEncoder(w).Encode(map[string]any{
			"model":             "llava",
			"message":           map[string]any{"role": "assistant", "content": `{"total": 30}`},
			"done":              true,
			"prompt_eval_count": 12,
			"eval_count":        5,
		})
	})

	resp, err := p.Execute(context.Background(), Request{
		Messages: []Message{
			{Role: RoleSystem, Content: "extract"},
			{Role: RoleUser, Content: "invoice", Attachments: []Attachment{{MediaType: "image/png", Data: []byte("png")}}},
		},
		JSONSchema: map[string]any{"type": "object"},
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if resp.Content != `{"total": 30}` {
		t.Errorf("Content = %q", resp.Content)
	}
	if resp.Usage.InputTokens != 12 || resp.Usage.OutputTokens != 5 {
		t.Errorf("Usage = %+v", resp.Usage)
	}
	if resp.FinishReason != "stop" {
		t.Errorf("FinishReason = %q, want stop", resp.FinishReason)
	}
	if resp.Cost != 0 {
		t.Errorf("Cost = %v, want 0", resp.Cost)
	}

	if got.Stream {
		t.Error("Execute should not request a stream")
	}
	if len(got.Messages) != 2 || len(got.Messages[1].Images) != 1 {
		t.Fatalf("messages = %+v", got.Messages)
	}
	if got.Messages[1].Images[0] != base64.StdEncoding.EncodeToString([]byte("png")) {
		t.Errorf("image = %q", got.Messages[1].Images[0])
	}
	if string(got.Format) != `{"type":"object"}` {
		t.Errorf("format = %s", got.Format)
	}
}

func TestOllamaExecuteStream(t *testing.T) {
	p := newOllamaServer(t, func(w http.ResponseWriter, req ollamaRequest) {
		if !req.Stream {
			t.Error("ExecuteStream should request a stream")
		}
		for _, part := range []string{`{"a":`, ` 1`, `}`} {
			line, _ := json.Marshal(map[string]any{"message": map[string]any{"content": part}})
			_, _ = fmt.Fprintf(w, "%s\n", line)
		}
		_, _ = fmt.Fprintln(w, `{"model":"llava","done":true,"done_reason":"stop","prompt_eval_count":3,"eval_count":4}`)
	})

	var deltas []string
	resp, err := p.ExecuteStream(context.Background(), Request{
		Messages: []Message{{Role: RoleUser, Content: "go"}},
	}, func(s string) error {
		deltas = append(deltas, s)
		return nil
	})
	if err != nil {
		t.Fatalf("ExecuteStream() error = %v", err)
	}
	if strings.Join(deltas, "") != `{"a": 1}` || len(deltas) != 3 {
		t.Errorf("deltas = %q", deltas)
	}
	if resp.Content != `{"a": 1}` {
		t.Errorf("Content = %q", resp.Content)
	}
	if resp.Usage.OutputTokens != 4 {
		t.Errorf("OutputTokens = %d, want 4", resp.Usage.OutputTokens)
	}
}

func TestOllamaStreamAbort(t *testing.T) {
	p := newOllamaServer(t, func(w http.ResponseWriter, req ollamaRequest) {
		_, _ = fmt.Fprintln(w, `{"message":{"content":"x"}}`)
		_, _ = fmt.Fprintln(w, `{"done":true}`)
	})

	stop := errors.New("stop")
	_, err := p.ExecuteStream(context.Background(), Request{}, func(string) error { return stop })
	if !errors.Is(err, stop) {
		t.Errorf("error = %v, want callback error", err)
	}
}

func TestOllamaStreamTruncated(t *testing.T) {
	p := newOllamaServer(t, func(w http.ResponseWriter, req ollamaRequest) {
		_, _ = fmt.Fprintln(w, `{"message":{"content":"x"}}`)
	})

	_, err := p.ExecuteStream(context.Background(), Request{}, func(string) error { return nil })
	if err == nil {
		t.Fatal("expected error for stream without done marker")
	}
}

func TestOllamaAPIError(t *testing.T) {
	p := newOllamaServer(t, func(w http.ResponseWriter, req ollamaRequest) {
		w.Header().Set("Retry-After", "2")
		http.Error(w, "model is loading", http.StatusServiceUnavailable)
	})

	_, err := p.Execute(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "x"}}})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("StatusCode = %d", apiErr.StatusCode)
	}
	if apiErr.RetryAfter != 2*time.Second {
		t.Errorf("RetryAfter = %v, want 2s", apiErr.RetryAfter)
	}
	if apiErr.Message != "model is loading" {
		t.Errorf("Message = %q", apiErr.Message)
	}
}

func TestOllamaRejectsPDF(t *testing.T) {
	p, _ := NewOllamaProvider(ProviderConfig{BaseURL: "http://127.0.0.1:1"})
	_, err := p.Execute(context.Background(), Request{
		Messages: []Message{{Role: RoleUser, Attachments: []Attachment{{MediaType: "application/pdf"}}}},
	})
	if !errors.Is(err, ErrUnsupportedAttachment) {
		t.Errorf("error = %v, want ErrUnsupportedAttachment", err)
	}
}

func TestOllamaCapabilities(t *testing.T) {
	p, _ := NewOllamaProvider(ProviderConfig{})
	if p.Model() != "llama3.2" {
		t.Errorf("default model = %q", p.Model())
	}
	if CapabilitiesOf(p).SupportsVision {
		t.Error("llama3.2 should not report vision")
	}

	v, _ := NewOllamaProvider(ProviderConfig{Model: "llama3.2-vision"})
	if !CapabilitiesOf(v).SupportsVision {
		t.Error("llama3.2-vision should report vision")
	}
}

// --- Anthropic ---

func TestAnthropicToolParams(t *testing.T) {
	p, err := NewAnthropicProvider(ProviderConfig{APIKey: "test"})
	if err != nil {
		t.Fatalf("NewAnthropicProvider() error = %v", err)
	}

	params, err := p.params(Request{
		Messages: []Message{
			{Role: RoleSystem, Content: "sys"},
			{Role: RoleUser, Content: "doc", Attachments: []Attachment{{MediaType: "application/pdf", Data: []byte("%PDF")}}},
		},
		JSONSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"total": map[string]any{"type": "number"}},
			"required":   []any{"total"},
		},
	})
	if err != nil {
		t.Fatalf("params() error = %v", err)
	}
	if len(params.System) != 1 || params.System[0].Text != "sys" {
		t.Errorf("System = %+v", params.System)
	}
	if len(params.Tools) != 1 || params.Tools[0].OfTool == nil {
		t.Fatalf("Tools = %+v", params.Tools)
	}
	schema := params.Tools[0].OfTool.InputSchema
	if len(schema.Required) != 1 || schema.Required[0] != "total" {
		t.Errorf("Required = %v", schema.Required)
	}
	if len(params.Messages) != 1 || len(params.Messages[0].Content) != 2 {
		t.Errorf("expected one user message with document and text blocks")
	}

	_, err = p.params(Request{Messages: []Message{{Role: RoleUser, Attachments: []Attachment{{MediaType: "text/csv"}}}}})
	if !errors.Is(err, ErrUnsupportedAttachment) {
		t.Errorf("error = %v, want ErrUnsupportedAttachment", err)
	}
}

func TestAnthropicEstimateCost(t *testing.T) {
	p, _ := NewAnthropicProvider(ProviderConfig{APIKey: "test"})
	cost, _ := p.EstimateCost(context.Background(), "claude-3-haiku-20240307", 1_000_000, 0)
	if math.Abs(cost-0.25) > 1e-9 {
		t.Errorf("haiku cost = %v, want 0.25", cost)
	}
	unknown, _ := p.EstimateCost(context.Background(), "claude-next", 1_000_000, 0)
	if math.Abs(unknown-3.0) > 1e-9 {
		t.Errorf("unknown model cost = %v, want sonnet pricing 3.0", unknown)
	}

	models, _ := p.ListModels(context.Background())
	if len(models) != len(anthropicPricing) || models[0].ID != "claude-3-5-haiku-20241022" {
		t.Errorf("ListModels() = %+v", models)
	}
}

// --- OpenAI ---

func TestLookupOpenAIPricing(t *testing.T) {
	tests := []struct {
		model  string
		prompt float64
		ok     bool
	}{
		{"gpt-4o", 2.50 / 1_000_000, true},
		{"openai/gpt-4o", 2.50 / 1_000_000, true},
		{"gpt-4o-mini-2024-07-18", 0.15 / 1_000_000, true},
		{"mistral-large", 0, false},
	}
	for _, tt := range tests {
		pr, ok := lookupOpenAIPricing(tt.model)
		if ok != tt.ok || pr.prompt != tt.prompt {
			t.Errorf("lookupOpenAIPricing(%q) = %v, %v", tt.model, pr.prompt, ok)
		}
	}
}

func TestOpenAIParamsRejectPDF(t *testing.T) {
	p, err := NewOpenAIProvider(ProviderConfig{APIKey: "test"})
	if err != nil {
		t.Fatalf("NewOpenAIProvider() error = %v", err)
	}
	_, err = p.params(Request{Messages: []Message{{Role: RoleUser, Attachments: []Attachment{{MediaType: "application/pdf"}}}}})
	if !errors.Is(err, ErrUnsupportedAttachment) {
		t.Errorf("error = %v, want ErrUnsupportedAttachment", err)
	}
}

// --- Registry ---

func TestNewProvider(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("OPENROUTER_API_KEY", "or-key")

	if _, err := NewProvider("nope", ProviderConfig{}); err == nil {
		t.Error("expected error for unknown provider")
	}
	if _, err := NewProvider("anthropic", ProviderConfig{}); err == nil {
		t.Error("expected error for anthropic without key")
	}

	p, err := NewProvider("openrouter", ProviderConfig{})
	if err != nil {
		t.Fatalf("NewProvider(openrouter) error = %v", err)
	}
	if p.Name() != "openrouter" || p.Model() != "openrouter/auto" {
		t.Errorf("openrouter provider = %s/%s", p.Name(), p.Model())
	}

	o, err := NewProvider("ollama", ProviderConfig{})
	if err != nil || !CanStream(o) || !CanListModels(o) {
		t.Errorf("ollama provider = %v, %v", o, err)
	}
}

func TestDetectProvider(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("OPENROUTER_API_KEY", "")

	if name, _ := DetectProvider(); name != "ollama" {
		t.Errorf("DetectProvider() = %q, want ollama", name)
	}

	t.Setenv("OPENAI_API_KEY", "sk-test")
	name, key := DetectProvider()
	if name != "openai" || key != "sk-test" {
		t.Errorf("DetectProvider() = %q, %q", name, key)
	}
	if !HasAPIKey("openai") || HasAPIKey("ollama") {
		t.Error("HasAPIKey mismatch")
	}
	if GetDefaultModel("ollama") != "llama3.2" {
		t.Errorf("GetDefaultModel(ollama) = %q", GetDefaultModel("ollama"))
	}
}

// --- Observer ---

func TestMultiObserver(t *testing.T) {
	var calls []string
	m := NewMultiObserver(ObserverFunc(func(ctx context.Context, e LLMCallEvent) {
		calls = append(calls, "a:"+e.Provider)
	}))
	m.Add(ObserverFunc(func(ctx context.Context, e LLMCallEvent) {
		calls = append(calls, "b:"+e.Provider)
	}))

	m.OnLLMCall(context.Background(), LLMCallEvent{Provider: "ollama"})
	if strings.Join(calls, ",") != "a:ollama,b:ollama" {
		t.Errorf("calls = %v", calls)
	}
}
