package commands

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/Aquilesorei/strutex/internal/config"
	"github.com/Aquilesorei/strutex/internal/logger"
	"github.com/Aquilesorei/strutex/internal/metrics"
	"github.com/Aquilesorei/strutex/pkg/backend"
	"github.com/Aquilesorei/strutex/pkg/cache"
	"github.com/Aquilesorei/strutex/pkg/extractor"
	"github.com/Aquilesorei/strutex/pkg/llm"
	"github.com/Aquilesorei/strutex/pkg/plugin"
	"github.com/Aquilesorei/strutex/pkg/security"
	"github.com/Aquilesorei/strutex/pkg/strutex"
	"github.com/Aquilesorei/strutex/pkg/validate"
)

func newRegistry() (*plugin.Registry, error) {
	r := plugin.NewRegistry()
	if err := plugin.RegisterBuiltins(r); err != nil {
		return nil, err
	}
	return r, nil
}

// buildProcessor assembles a Processor from the configuration manifest.
// m may be nil.
func buildProcessor(cfg *config.Config, m *metrics.Metrics) (*strutex.Processor, error) {
	r, err := newRegistry()
	if err != nil {
		return nil, err
	}
	man := cfg.Manifest()
	if err := man.Check(r); err != nil {
		return nil, err
	}

	backends, err := buildBackends(r, man, m)
	if err != nil {
		return nil, err
	}
	store, err := buildCache(r, man)
	if err != nil {
		return nil, err
	}
	validators, err := plugin.Build[validate.Validator](r, man, plugin.KindValidator)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	guards, err := plugin.Build[security.Plugin](r, man, plugin.KindSecurity)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	extractors, err := plugin.Build[extractor.Extractor](r, man, plugin.KindExtractor)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	maxSize, _ := cfg.MaxDocumentBytes() // checked by Validate

	vchain := validate.NewChain(validators...)
	if cfg.Validation.Strict {
		vchain = validate.NewStrictChain(validators...)
	}
	var schain *security.Chain
	if len(guards) > 0 {
		schain = security.NewChain(guards...)
	}

	opts := []strutex.Option{
		strutex.WithBackends(backends...),
		strutex.WithRetryPolicy(cfg.RetryPolicy()),
		strutex.WithCache(store),
		strutex.WithCacheTTL(cfg.Cache.TTL),
		strutex.WithValidation(vchain),
		strutex.WithSecurity(schain),
		strutex.WithExtractor(extractor.NewAuto(append(extractors, extractor.Default())...)),
		strutex.WithVerify(cfg.Verify),
		strutex.WithFailOnIssues(cfg.Validation.FailOnIssues),
		strutex.WithMaxDocumentSize(maxSize),
		strutex.WithConcurrency(cfg.Concurrency),
		strutex.WithMetrics(m),
		strutex.OnCacheError(func(err error) {
			logger.Debug("cache error", "backend", cfg.Cache.Backend, "error", err)
		}),
	}
	if cfg.Retry.Cooldown > 0 {
		opts = append(opts, strutex.WithCooldown(cfg.Retry.Cooldown))
	}

	p, err := strutex.New(opts...)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return p, nil
}

// buildBackends constructs the builtin LLM backends directly so the metrics
// observer can be attached; other registered backends go through the
// registry. A backend that cannot be constructed, typically for a missing
// API key, is skipped as long as another one remains.
func buildBackends(r *plugin.Registry, man *plugin.Manifest, m *metrics.Metrics) ([]backend.Backend, error) {
	var extra []backend.Option
	if m != nil {
		extra = append(extra, backend.WithObserver(m))
	}
	var (
		out  []backend.Backend
		errs []error
	)
	for _, spec := range man.Enabled(plugin.KindBackend) {
		b, err := newBackend(r, spec, extra)
		if err != nil {
			logger.Warn("backend skipped", "backend", spec.Name, "error", err)
			errs = append(errs, fmt.Errorf("backend %s: %w", spec.Name, err))
			continue
		}
		logger.Debug("backend configured", "backend", b.Name(), "model", b.Model())
		out = append(out, b)
	}
	if len(out) == 0 {
		return nil, errors.Join(append([]error{strutex.ErrNoBackends}, errs...)...)
	}
	return out, nil
}

func newBackend(r *plugin.Registry, spec plugin.Spec, extra []backend.Option) (backend.Backend, error) {
	name := strings.ToLower(spec.Name)
	if !slices.Contains(llm.Providers(), name) {
		return plugin.Resolve[backend.Backend](r, plugin.KindBackend, name, spec.Options)
	}
	var o plugin.BackendOptions
	if err := plugin.Decode(spec.Options, &o); err != nil {
		return nil, err
	}
	return plugin.NewBackend(name, o, extra...)
}

// buildCache returns the last enabled cache entry, or a no-op cache.
func buildCache(r *plugin.Registry, man *plugin.Manifest) (cache.Cache, error) {
	specs := man.Enabled(plugin.KindCache)
	if len(specs) == 0 {
		return &cache.Nop{}, nil
	}
	spec := specs[len(specs)-1]
	store, err := plugin.Resolve[cache.Cache](r, plugin.KindCache, spec.Name, spec.Options)
	if err != nil {
		return nil, fmt.Errorf("cache %s: %w", spec.Name, err)
	}
	return store, nil
}
