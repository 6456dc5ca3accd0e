package strutex

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Aquilesorei/strutex/internal/logger"
	"github.com/Aquilesorei/strutex/pkg/backend"
	"github.com/Aquilesorei/strutex/pkg/cache"
	"github.com/Aquilesorei/strutex/pkg/chain"
	"github.com/Aquilesorei/strutex/pkg/document"
	"github.com/Aquilesorei/strutex/pkg/schema"
	"github.com/Aquilesorei/strutex/pkg/validate"
)

// Processor is the main entry point for document extraction. It is safe for
// concurrent use.
type Processor struct {
	cfg   Config
	chain *chain.Chain

	hooksMu sync.RWMutex
	pre     []PreProcessHook
	post    []PostProcessHook
	onError []ErrorHook
}

// New creates a Processor. Backends or a chain are required.
func New(opts ...Option) (*Processor, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Cache == nil {
		cfg.Cache = &cache.Nop{}
	}
	if cfg.Validation == nil {
		cfg.Validation = validate.NewChain()
	}
	if cfg.Recorder == nil {
		cfg.Recorder = nopRecorder{}
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}

	p := &Processor{cfg: cfg}
	switch {
	case cfg.Chain != nil:
		p.chain = cfg.Chain
	case len(cfg.Backends) > 0:
		chainOpts := append([]chain.Option{chain.WithFallbackObserver(p.onFallback)}, cfg.ChainOptions...)
		p.chain = chain.New(cfg.Backends, chainOpts...)
	default:
		return nil, ErrNoBackends
	}
	return p, nil
}

func (p *Processor) onFallback(failed backend.Backend, err error) {
	logger.Warn("backend failed, falling back", "backend", failed.Name(), "error", err)
	p.cfg.Recorder.ObserveFallback(failed.Name())
}

func (p *Processor) cacheFailed(err error) {
	logger.Warn("cache unavailable, treating as miss", "error", err)
	p.cfg.Recorder.ObserveCache("error")
	if p.cfg.OnCacheError != nil {
		p.cfg.OnCacheError(err)
	}
}

// Chain returns the provider chain.
func (p *Processor) Chain() *chain.Chain { return p.chain }

// Cache returns the result cache.
func (p *Processor) Cache() cache.Cache { return p.cfg.Cache }

// Close releases the cache.
func (p *Processor) Close() error {
	return p.cfg.Cache.Close()
}

// Process extracts structured data from doc.
func (p *Processor) Process(ctx context.Context, doc *document.Document, prompt string, s *schema.Schema, opts ...CallOption) (*Result, error) {
	return p.process(ctx, doc, prompt, s, p.callConfig(opts), nil)
}

// Verify runs only the verification pass over a previous result: the
// backends see the document and first's data and return corrected data.
func (p *Processor) Verify(ctx context.Context, doc *document.Document, prompt string, s *schema.Schema, first *Result, opts ...CallOption) (*Result, error) {
	r := p.newRun(doc, prompt, s, p.callConfig(opts))
	res, err := r.verifyOnly(ctx, first)
	r.record(res, err, time.Since(r.start))
	return res, err
}

func (p *Processor) newRun(doc *document.Document, prompt string, s *schema.Schema, cc callConfig) *run {
	r := &run{
		p:      p,
		cc:     cc,
		doc:    doc,
		prompt: prompt,
		schema: s,
		pctx:   cc.context,
		id:     uuid.NewString(),
		start:  time.Now(),
	}
	if r.pctx == nil {
		r.pctx = NewProcessingContext()
	}
	if doc != nil {
		r.mediaType = doc.MediaType
	}
	if cc.mediaType != "" {
		r.mediaType = cc.mediaType
	}
	return r
}

func (p *Processor) process(ctx context.Context, doc *document.Document, prompt string, s *schema.Schema, cc callConfig, emit func(chain.Event) error) (*Result, error) {
	rec := p.cfg.Recorder
	rec.InFlight(1)
	defer rec.InFlight(-1)

	r := p.newRun(doc, prompt, s, cc)
	res, err := r.execute(ctx, emit)

	outcome := "success"
	switch {
	case err != nil:
		if sub := p.substitute(ctx, err, doc, r.pctx); sub != nil {
			logger.Debug("error hook supplied result", "request", r.id, "error", err)
			if sub.RequestID == "" {
				sub.RequestID = r.id
			}
			res, err, outcome = sub, nil, "recovered"
		} else {
			outcome = "error"
		}
	case res.Cached:
		outcome = "cache_hit"
	}

	elapsed := time.Since(r.start)
	rec.ObserveRequest(outcome, elapsed)
	r.record(res, err, elapsed)
	if err != nil {
		logger.Debug("extraction failed", "request", r.id, "stage", StageOf(err), "error", err)
	}
	return res, err
}
