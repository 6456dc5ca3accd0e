package strutex

import (
	"time"

	"github.com/Aquilesorei/strutex/pkg/backend"
	"github.com/Aquilesorei/strutex/pkg/cache"
	"github.com/Aquilesorei/strutex/pkg/chain"
	"github.com/Aquilesorei/strutex/pkg/extractor"
	"github.com/Aquilesorei/strutex/pkg/retry"
	"github.com/Aquilesorei/strutex/pkg/security"
	"github.com/Aquilesorei/strutex/pkg/validate"
)

// Recorder receives pipeline measurements. *metrics.Metrics from the CLI
// satisfies it.
type Recorder interface {
	ObserveRequest(outcome string, d time.Duration)
	ObserveCache(result string)
	ObserveFallback(backend string)
	ObserveValidationIssues(n int)
	InFlight(delta int)
}

type nopRecorder struct{}

func (nopRecorder) ObserveRequest(string, time.Duration) {}
func (nopRecorder) ObserveCache(string)                  {}
func (nopRecorder) ObserveFallback(string)               {}
func (nopRecorder) ObserveValidationIssues(int)          {}
func (nopRecorder) InFlight(int)                         {}

// Config holds all Processor configuration.
type Config struct {
	// Backends are tried in order. Chain, when set, is used instead.
	Backends     []backend.Backend
	Chain        *chain.Chain
	ChainOptions []chain.Option

	// Cache settings
	Cache    cache.Cache
	CacheTTL time.Duration // zero uses the store default

	// Pipeline stages. A nil Security chain skips the security checks; a nil
	// Extractor sends documents to the backends without text.
	Validation *validate.Chain
	Security   *security.Chain
	Extractor  extractor.Extractor

	Verify          bool
	FailOnIssues    bool
	RequireSchema   bool
	MaxDocumentSize int64 // bytes, zero means unlimited
	Concurrency     int   // batch workers

	Recorder     Recorder
	OnCacheError func(err error)
}

// DefaultConfig returns sensible defaults: no cache, schema validation,
// the default text extractors and four batch workers.
func DefaultConfig() Config {
	return Config{
		Cache:       &cache.Nop{},
		Validation:  validate.NewChain(validate.SchemaValidator{}),
		Extractor:   extractor.Default(),
		Concurrency: 4,
		Recorder:    nopRecorder{},
	}
}

// Option configures a Processor.
type Option func(*Config)

// WithBackends sets the backends of the provider chain, in fallback order.
func WithBackends(backends ...backend.Backend) Option {
	return func(c *Config) {
		c.Backends = backends
	}
}

// WithChain uses a prebuilt provider chain. Fallback metrics are only
// recorded for chains the Processor builds itself.
func WithChain(ch *chain.Chain) Option {
	return func(c *Config) {
		c.Chain = ch
	}
}

// WithRetryPolicy sets the retry policy shared by every backend.
func WithRetryPolicy(p retry.Policy) Option {
	return func(c *Config) {
		c.ChainOptions = append(c.ChainOptions, chain.WithPolicy(p))
	}
}

// WithCooldown sets how long a rate limited backend is skipped.
func WithCooldown(d time.Duration) Option {
	return func(c *Config) {
		c.ChainOptions = append(c.ChainOptions, chain.WithCooldown(d))
	}
}

// WithCache sets the result cache.
func WithCache(store cache.Cache) Option {
	return func(c *Config) {
		if store != nil {
			c.Cache = store
		}
	}
}

// WithCacheTTL sets the TTL of written entries.
func WithCacheTTL(d time.Duration) Option {
	return func(c *Config) {
		c.CacheTTL = d
	}
}

// WithValidation replaces the validation chain.
func WithValidation(v *validate.Chain) Option {
	return func(c *Config) {
		c.Validation = v
	}
}

// WithSecurity enables input and output security checks.
func WithSecurity(s *security.Chain) Option {
	return func(c *Config) {
		c.Security = s
	}
}

// WithExtractor sets the text extractor; nil disables text extraction.
func WithExtractor(e extractor.Extractor) Option {
	return func(c *Config) {
		c.Extractor = e
	}
}

// WithVerify enables the verification pass for every request.
func WithVerify(enabled bool) Option {
	return func(c *Config) {
		c.Verify = enabled
	}
}

// WithFailOnIssues turns permissive validation issues into errors.
func WithFailOnIssues(enabled bool) Option {
	return func(c *Config) {
		c.FailOnIssues = enabled
	}
}

// WithRequireSchema rejects requests without a schema.
func WithRequireSchema(enabled bool) Option {
	return func(c *Config) {
		c.RequireSchema = enabled
	}
}

// WithMaxDocumentSize rejects documents larger than n bytes.
func WithMaxDocumentSize(n int64) Option {
	return func(c *Config) {
		c.MaxDocumentSize = n
	}
}

// WithConcurrency sets the number of batch workers.
func WithConcurrency(n int) Option {
	return func(c *Config) {
		c.Concurrency = n
	}
}

// WithMetrics sets the measurement recorder.
func WithMetrics(r Recorder) Option {
	return func(c *Config) {
		if r != nil {
			c.Recorder = r
		}
	}
}

// OnCacheError registers a callback for cache store failures. They never
// fail a request; without a callback they are only logged.
func OnCacheError(fn func(err error)) Option {
	return func(c *Config) {
		c.OnCacheError = fn
	}
}

// CallOption adjusts a single request.
type CallOption func(*callConfig)

type callConfig struct {
	verify    bool
	skipCache bool
	mediaType string
	context   *ProcessingContext
}

// VerifyPass enables or disables the verification pass for this request.
func VerifyPass(enabled bool) CallOption {
	return func(c *callConfig) {
		c.verify = enabled
	}
}

// SkipCache bypasses both cache lookup and write.
func SkipCache() CallOption {
	return func(c *callConfig) {
		c.skipCache = true
	}
}

// MediaType overrides the document's media type.
func MediaType(mt string) CallOption {
	return func(c *callConfig) {
		c.mediaType = mt
	}
}

// InContext records the request in pctx.
func InContext(pctx *ProcessingContext) CallOption {
	return func(c *callConfig) {
		c.context = pctx
	}
}

func (p *Processor) callConfig(opts []CallOption) callConfig {
	cc := callConfig{verify: p.cfg.Verify}
	for _, opt := range opts {
		opt(&cc)
	}
	return cc
}
