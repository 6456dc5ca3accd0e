package strutex

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Aquilesorei/strutex/internal/logger"
)

// BatchItem is the outcome of one batch request. Index is its position in
// the input.
type BatchItem struct {
	Index  int
	Result *Result
	Err    error
}

// BatchResult collects a finished batch in input order.
type BatchResult struct {
	Items        []BatchItem
	SuccessCount int
	ErrorCount   int
	Duration     time.Duration
	Context      *BatchContext
}

// Results returns the results in input order, nil for failed items.
func (b *BatchResult) Results() []*Result {
	out := make([]*Result, len(b.Items))
	for i, it := range b.Items {
		out[i] = it.Result
	}
	return out
}

// Errors returns the failed items.
func (b *BatchResult) Errors() []BatchItem {
	var out []BatchItem
	for _, it := range b.Items {
		if it.Err != nil {
			out = append(out, it)
		}
	}
	return out
}

// ProcessBatch processes reqs with at most Config.Concurrency requests in
// flight. A failing item never stops the others. opts apply to every item
// before the item's own options.
func (p *Processor) ProcessBatch(ctx context.Context, reqs []Request, opts ...CallOption) *BatchResult {
	start := time.Now()
	bctx := NewBatchContext(len(reqs))
	items := make([]BatchItem, len(reqs))

	p.runBatch(ctx, reqs, bctx, opts, func(it BatchItem) {
		items[it.Index] = it
	})

	res := &BatchResult{Items: items, Duration: time.Since(start), Context: bctx}
	for _, it := range items {
		if it.Err != nil {
			res.ErrorCount++
		} else {
			res.SuccessCount++
		}
	}
	logger.Debug("batch finished",
		"total", len(reqs),
		"succeeded", res.SuccessCount,
		"failed", res.ErrorCount,
		"duration", res.Duration)
	return res
}

// ProcessBatchAsync is ProcessBatch delivering items as they finish, in
// completion order. The channel is closed after the last item.
func (p *Processor) ProcessBatchAsync(ctx context.Context, reqs []Request, opts ...CallOption) <-chan BatchItem {
	out := make(chan BatchItem, len(reqs))
	go func() {
		defer close(out)
		p.runBatch(ctx, reqs, NewBatchContext(len(reqs)), opts, func(it BatchItem) {
			out <- it
		})
	}()
	return out
}

func (p *Processor) runBatch(ctx context.Context, reqs []Request, bctx *BatchContext, opts []CallOption, deliver func(BatchItem)) {
	var g errgroup.Group
	g.SetLimit(p.cfg.Concurrency)
	for i, req := range reqs {
		g.Go(func() error {
			callOpts := make([]CallOption, 0, 1+len(opts)+len(req.Options))
			callOpts = append(callOpts, InContext(bctx.ProcessingContext))
			callOpts = append(callOpts, opts...)
			callOpts = append(callOpts, req.Options...)

			res, err := p.Process(ctx, req.Document, req.Prompt, req.Schema, callOpts...)
			deliver(BatchItem{Index: i, Result: res, Err: err})
			return nil
		})
	}
	_ = g.Wait()
}
