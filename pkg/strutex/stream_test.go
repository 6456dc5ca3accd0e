package strutex

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/Aquilesorei/strutex/pkg/backend"
	"github.com/Aquilesorei/strutex/pkg/chain"
)

// chunked streams its chunks, then fails with err or answers like Func.
type chunked struct {
	*backend.Func
	chunks []string
	err    error
}

func (c *chunked) StreamCall(ctx context.Context, req backend.Request, onDelta func(string) error) (*backend.Result, error) {
	for _, s := range c.chunks {
		if err := onDelta(s); err != nil {
			return nil, err
		}
	}
	if c.err != nil {
		return nil, c.err
	}
	return c.Call(ctx, req)
}

func newChunked(name string, data map[string]any, err error, chunks ...string) *chunked {
	return &chunked{
		Func: &backend.Func{
			Desc: backend.Descriptor{Name: name, Capabilities: []backend.Capability{backend.CapStreaming}},
			Fn: func(ctx context.Context, req backend.Request) (*backend.Result, error) {
				return &backend.Result{Data: data}, nil
			},
		},
		chunks: chunks,
		err:    err,
	}
}

func collect(ch <-chan StreamEvent) []StreamEvent {
	var out []StreamEvent
	for ev := range ch {
		out = append(out, ev)
	}
	return out
}

func eventTypes(events []StreamEvent) []StreamEventType {
	out := make([]StreamEventType, len(events))
	for i, ev := range events {
		out[i] = ev.Type
	}
	return out
}

// --- Stream ---

func TestStreamDeltasThenDone(t *testing.T) {
	b := newChunked("a", map[string]any{"number": "1"}, nil, `{"number":`, `"1"}`)
	p := newProcessor(t, WithBackends(b))
	p.AddPostProcessHook(func(ctx context.Context, res *Result, _ *ProcessingContext) (*Result, error) {
		res.Data["hooked"] = true
		return nil, nil
	})

	events := collect(p.Stream(context.Background(), testDoc("x"), "extract", nil))

	want := []StreamEventType{StreamDelta, StreamDelta, StreamDone}
	if got := eventTypes(events); !slices.Equal(got, want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	if events[0].Delta+events[1].Delta != `{"number":"1"}` {
		t.Errorf("deltas = %q %q", events[0].Delta, events[1].Delta)
	}
	done := events[2]
	if done.Result == nil || done.Result.Data["hooked"] != true || done.Backend != "a" {
		t.Errorf("done = %+v", done)
	}
}

func TestStreamResetOnFallback(t *testing.T) {
	a := newChunked("a", nil, authErr("a"), "partial")
	b := newChunked("b", map[string]any{"number": "2"}, nil, "full")
	p := newProcessor(t, WithBackends(a, b))

	events := collect(p.Stream(context.Background(), testDoc("x"), "extract", nil))

	want := []StreamEventType{StreamDelta, StreamReset, StreamDelta, StreamDone}
	if got := eventTypes(events); !slices.Equal(got, want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	if events[1].Backend != "a" || events[2].Backend != "b" {
		t.Errorf("backends = %q, %q", events[1].Backend, events[2].Backend)
	}
	if events[3].Result.Data["number"] != "2" {
		t.Errorf("result = %+v", events[3].Result)
	}
}

func TestStreamErrorEvent(t *testing.T) {
	p := newProcessor(t, WithBackends(newChunked("a", nil, authErr("a"))))

	events := collect(p.Stream(context.Background(), testDoc("x"), "extract", nil))

	if len(events) != 1 || events[0].Type != StreamError {
		t.Fatalf("events = %v", eventTypes(events))
	}
	var ex *chain.ExhaustedError
	if !errors.As(events[0].Err, &ex) {
		t.Errorf("error = %v", events[0].Err)
	}
}

func TestStreamNonStreamingBackend(t *testing.T) {
	b := &backend.Func{
		Desc: backend.Descriptor{Name: "plain"},
		Fn: func(ctx context.Context, req backend.Request) (*backend.Result, error) {
			return &backend.Result{Data: map[string]any{"number": "3"}, Raw: `{"number":"3"}`}, nil
		},
	}
	p := newProcessor(t, WithBackends(b))

	events := collect(p.Stream(context.Background(), testDoc("x"), "extract", nil))

	want := []StreamEventType{StreamDelta, StreamDone}
	if got := eventTypes(events); !slices.Equal(got, want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	if events[0].Delta != `{"number":"3"}` {
		t.Errorf("delta = %q", events[0].Delta)
	}
}
