package backend

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// RateLimited wraps b so that calls wait for a token from a limiter allowing
// r calls per second with the given burst. The limiter is shared by every
// caller of the returned backend. Streaming is preserved when b streams.
func RateLimited(b Backend, r rate.Limit, burst int) Backend {
	if burst < 1 {
		burst = 1
	}
	l := &limited{Backend: b, limiter: rate.NewLimiter(r, burst)}
	if s, ok := b.(Streamer); ok {
		return &limitedStreamer{limited: l, streamer: s}
	}
	return l
}

type limited struct {
	Backend
	limiter *rate.Limiter
}

func (l *limited) wait(ctx context.Context) error {
	if err := l.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait for %s: %w", l.Name(), err)
	}
	return nil
}

func (l *limited) Call(ctx context.Context, req Request) (*Result, error) {
	if err := l.wait(ctx); err != nil {
		return nil, err
	}
	return l.Backend.Call(ctx, req)
}

type limitedStreamer struct {
	*limited
	streamer Streamer
}

func (l *limitedStreamer) StreamCall(ctx context.Context, req Request, onDelta func(string) error) (*Result, error) {
	if err := l.wait(ctx); err != nil {
		return nil, err
	}
	return l.streamer.StreamCall(ctx, req, onDelta)
}
