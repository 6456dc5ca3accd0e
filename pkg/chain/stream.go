package chain

import (
	"context"
	"errors"

	"github.com/Aquilesorei/strutex/pkg/backend"
	"github.com/Aquilesorei/strutex/pkg/retry"
)

// EventType distinguishes stream events.
type EventType int

const (
	// EventDelta carries a fragment of raw backend output.
	EventDelta EventType = iota
	// EventReset tells the consumer to discard every delta received so far;
	// the backend that produced them failed.
	EventReset
	// EventDone carries the final result. It is emitted once.
	EventDone
)

func (t EventType) String() string {
	switch t {
	case EventDelta:
		return "delta"
	case EventReset:
		return "reset"
	case EventDone:
		return "done"
	}
	return "unknown"
}

// Event is one step of a streamed execution.
type Event struct {
	Type    EventType
	Delta   string
	Backend string
	Result  *backend.Result // set on EventDone
}

// abortError marks a failure of the consumer's emit function; it stops the
// chain instead of triggering fallback.
type abortError struct{ err error }

func (e *abortError) Error() string { return e.err.Error() }
func (e *abortError) Unwrap() error { return e.err }

// Stream is Execute with live output. Deltas are passed to emit as they
// arrive. If a backend fails after emitting deltas, a reset event precedes
// the next attempt. Backends that cannot stream deliver their full output as
// a single delta. On success a done event with the result is emitted. An
// error returned by emit aborts the stream and is returned as is.
func (c *Chain) Stream(ctx context.Context, req backend.Request, emit func(Event) error) (*backend.Result, backend.Backend, error) {
	res, b, err := c.run(ctx, func(ctx context.Context, b backend.Backend) (*backend.Result, error) {
		return c.stream(ctx, b, req, emit)
	})
	if err != nil {
		return nil, nil, err
	}
	if err := emit(Event{Type: EventDone, Backend: b.Name(), Result: res}); err != nil {
		return nil, nil, err
	}
	return res, b, nil
}

func (c *Chain) stream(ctx context.Context, b backend.Backend, req backend.Request, emit func(Event) error) (*backend.Result, error) {
	var res *backend.Result
	err := retry.Do(ctx, c.policy, func(ctx context.Context, attempt int) error {
		emitted := false
		onDelta := func(s string) error {
			if s == "" {
				return nil
			}
			emitted = true
			if err := emit(Event{Type: EventDelta, Delta: s, Backend: b.Name()}); err != nil {
				return &abortError{err: err}
			}
			return nil
		}

		var (
			r   *backend.Result
			err error
		)
		if s, ok := b.(backend.Streamer); ok {
			r, err = s.StreamCall(ctx, req, onDelta)
		} else {
			r, err = b.Call(ctx, req)
			if err == nil {
				err = onDelta(r.Raw)
			}
		}

		if err == nil {
			res = r
			return nil
		}
		var abort *abortError
		if errors.As(err, &abort) {
			return abort
		}
		if emitted {
			if rerr := emit(Event{Type: EventReset, Backend: b.Name()}); rerr != nil {
				return &abortError{err: rerr}
			}
		}
		return backend.Classify(b.Name(), err)
	})
	return res, err
}
