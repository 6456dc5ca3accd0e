package strutex

import (
	"context"
	"slices"

	"github.com/Aquilesorei/strutex/pkg/document"
	"github.com/Aquilesorei/strutex/pkg/schema"
)

// PreProcess is the request as a pre-process hook sees it, including the
// overrides of earlier hooks.
type PreProcess struct {
	Document  *document.Document
	Prompt    string
	Schema    *schema.Schema
	MediaType string
	Context   *ProcessingContext
}

// Overrides replace request inputs. Zero fields keep the current value.
type Overrides struct {
	Prompt    string
	Schema    *schema.Schema
	MediaType string
}

// PreProcessHook runs before the cache lookup and may override the prompt,
// schema or media type. An error fails the request.
type PreProcessHook func(ctx context.Context, in PreProcess) (*Overrides, error)

// PostProcessHook transforms a result, cached or fresh. Returning nil keeps
// the result it was given.
type PostProcessHook func(ctx context.Context, res *Result, pctx *ProcessingContext) (*Result, error)

// ErrorHook sees a failed request. A non-nil return value replaces the error
// and becomes the request's result; later error hooks are skipped.
type ErrorHook func(ctx context.Context, err error, doc *document.Document, pctx *ProcessingContext) *Result

// AddPreProcessHook appends fn. Hooks run in registration order.
func (p *Processor) AddPreProcessHook(fn PreProcessHook) {
	p.hooksMu.Lock()
	p.pre = append(p.pre, fn)
	p.hooksMu.Unlock()
}

// AddPostProcessHook appends fn. Hooks run in registration order.
func (p *Processor) AddPostProcessHook(fn PostProcessHook) {
	p.hooksMu.Lock()
	p.post = append(p.post, fn)
	p.hooksMu.Unlock()
}

// AddErrorHook appends fn. Hooks run in registration order.
func (p *Processor) AddErrorHook(fn ErrorHook) {
	p.hooksMu.Lock()
	p.onError = append(p.onError, fn)
	p.hooksMu.Unlock()
}

func (p *Processor) hooks() ([]PreProcessHook, []PostProcessHook, []ErrorHook) {
	p.hooksMu.RLock()
	defer p.hooksMu.RUnlock()
	return slices.Clone(p.pre), slices.Clone(p.post), slices.Clone(p.onError)
}

// substitute offers err to the error hooks and returns the first substitute.
func (p *Processor) substitute(ctx context.Context, err error, doc *document.Document, pctx *ProcessingContext) *Result {
	_, _, handlers := p.hooks()
	for _, h := range handlers {
		if res := h(ctx, err, doc, pctx); res != nil {
			return res
		}
	}
	return nil
}
