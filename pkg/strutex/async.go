package strutex

import (
	"context"

	"github.com/Aquilesorei/strutex/pkg/chain"
	"github.com/Aquilesorei/strutex/pkg/document"
	"github.com/Aquilesorei/strutex/pkg/schema"
)

// ProcessAsync runs Process in a goroutine. The channel yields one Outcome
// and is closed.
func (p *Processor) ProcessAsync(ctx context.Context, doc *document.Document, prompt string, s *schema.Schema, opts ...CallOption) <-chan Outcome {
	out := make(chan Outcome, 1)
	go func() {
		defer close(out)
		res, err := p.Process(ctx, doc, prompt, s, opts...)
		out <- Outcome{Result: res, Err: err}
	}()
	return out
}

// VerifyAsync runs Verify in a goroutine. The channel yields one Outcome
// and is closed.
func (p *Processor) VerifyAsync(ctx context.Context, doc *document.Document, prompt string, s *schema.Schema, first *Result, opts ...CallOption) <-chan Outcome {
	out := make(chan Outcome, 1)
	go func() {
		defer close(out)
		res, err := p.Verify(ctx, doc, prompt, s, first, opts...)
		out <- Outcome{Result: res, Err: err}
	}()
	return out
}

// Stream runs the pipeline and delivers backend output as it is generated.
// Deltas of a backend that fails are followed by a reset event. The stream
// ends with one done event carrying the final result, after validation and
// hooks, or one error event; then the channel is closed. Callers must drain
// the channel.
func (p *Processor) Stream(ctx context.Context, doc *document.Document, prompt string, s *schema.Schema, opts ...CallOption) <-chan StreamEvent {
	out := make(chan StreamEvent, 16)
	go func() {
		defer close(out)
		send := func(ev StreamEvent) error {
			select {
			case out <- ev:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		emit := func(ev chain.Event) error {
			switch ev.Type {
			case chain.EventDelta:
				return send(StreamEvent{Type: StreamDelta, Delta: ev.Delta, Backend: ev.Backend})
			case chain.EventReset:
				return send(StreamEvent{Type: StreamReset, Backend: ev.Backend})
			}
			// The final result is sent once the pipeline finishes.
			return nil
		}

		res, err := p.process(ctx, doc, prompt, s, p.callConfig(opts), emit)
		if err != nil {
			out <- StreamEvent{Type: StreamError, Err: err}
			return
		}
		out <- StreamEvent{Type: StreamDone, Backend: res.Backend, Result: res}
	}()
	return out
}
