package plugin

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/time/rate"

	"github.com/Aquilesorei/strutex/pkg/backend"
	"github.com/Aquilesorei/strutex/pkg/cache"
	"github.com/Aquilesorei/strutex/pkg/extractor"
	"github.com/Aquilesorei/strutex/pkg/llm"
	"github.com/Aquilesorei/strutex/pkg/security"
	"github.com/Aquilesorei/strutex/pkg/validate"
)

// BackendOptions configure the LLM backends.
type BackendOptions struct {
	Model          string        `mapstructure:"model"`
	APIKey         string        `mapstructure:"api_key"`
	BaseURL        string        `mapstructure:"base_url"`
	Timeout        time.Duration `mapstructure:"timeout"`
	Temperature    *float64      `mapstructure:"temperature"`
	MaxTokens      int           `mapstructure:"max_tokens"`
	MaxContentSize int           `mapstructure:"max_content_size"`
	StrictMode     bool          `mapstructure:"strict_mode"`
	Priority       int           `mapstructure:"priority"`
	RateLimit      float64       `mapstructure:"rate_limit"` // requests per second, 0 = unlimited
	Burst          int           `mapstructure:"burst"`
}

// NewBackend builds an LLM backend for provider from decoded options. extra
// is applied after the options, for settings that cannot come from a
// manifest such as an observer.
func NewBackend(provider string, o BackendOptions, extra ...backend.Option) (backend.Backend, error) {
	cfg := llm.DefaultProviderConfig()
	cfg.Model = o.Model
	cfg.APIKey = o.APIKey
	cfg.BaseURL = o.BaseURL
	if o.Timeout > 0 {
		cfg.Timeout = o.Timeout
	}
	p, err := llm.NewProvider(provider, cfg)
	if err != nil {
		return nil, err
	}

	opts := []backend.Option{backend.WithPriority(o.Priority), backend.WithStrictMode(o.StrictMode)}
	if o.Temperature != nil {
		opts = append(opts, backend.WithTemperature(*o.Temperature))
	}
	if o.MaxTokens > 0 {
		opts = append(opts, backend.WithMaxTokens(o.MaxTokens))
	}
	if o.MaxContentSize > 0 {
		opts = append(opts, backend.WithMaxContentSize(o.MaxContentSize))
	}
	opts = append(opts, extra...)
	var b backend.Backend = backend.NewLLM(p, opts...)
	if o.RateLimit > 0 {
		b = backend.RateLimited(b, rate.Limit(o.RateLimit), max(o.Burst, 1))
	}
	return b, nil
}

type cacheOptions struct {
	TTL     time.Duration `mapstructure:"ttl"`
	MaxSize int           `mapstructure:"max_size"`
	Dir     string        `mapstructure:"dir"`
	Path    string        `mapstructure:"path"`
	DSN     string        `mapstructure:"dsn"`
	URL     string        `mapstructure:"url"`
	Table   string        `mapstructure:"table"`
	Prefix  string        `mapstructure:"prefix"`
}

type builtin struct {
	desc    Descriptor
	factory Factory
}

// RegisterBuiltins registers every plugin shipped with strutex.
func RegisterBuiltins(r *Registry) error {
	var errs []error
	for _, b := range builtins() {
		errs = append(errs, r.Register(b.desc, b.factory))
	}
	return errors.Join(errs...)
}

func builtins() []builtin {
	var out []builtin
	for _, name := range llm.Providers() {
		out = append(out, builtin{
			desc: Descriptor{
				Kind:         KindBackend,
				Name:         name,
				Version:      "1",
				Description:  fmt.Sprintf("%s LLM backend (default model %s)", name, llm.DefaultModels[name]),
				Capabilities: []string{string(backend.CapStructuredOutput)},
				Tags:         []string{"llm"},
			},
			factory: func(opts Options) (any, error) {
				var o BackendOptions
				if err := Decode(opts, &o); err != nil {
					return nil, err
				}
				return NewBackend(name, o)
			},
		})
	}

	out = append(out,
		builtin{
			desc: Descriptor{Kind: KindValidator, Name: "schema", Version: "1", Priority: 100,
				Description: "structural check against the extraction schema"},
			factory: decoded(func(v *validate.SchemaValidator) any { return *v }),
		},
		builtin{
			desc: Descriptor{Kind: KindValidator, Name: "sum", Version: "1", Priority: 50,
				Description: "line items add up to the total", Tags: []string{"invoice"}},
			factory: decoded(func(v *sumOptions) any { return v.validator() }),
		},
		builtin{
			desc: Descriptor{Kind: KindValidator, Name: "date", Version: "1", Priority: 50,
				Description: "date fields parse and fall in a year range", Capabilities: []string{"repair"}},
			factory: decoded(func(v *dateOptions) any { return v.validator() }),
		},
		builtin{
			desc: Descriptor{Kind: KindValidator, Name: "jsonschema", Version: "1", Priority: 90,
				Description: "JSON Schema validation of the extracted data"},
			factory: newJSONSchemaValidator,
		},
		builtin{
			desc: Descriptor{Kind: KindSecurity, Name: "sanitizer", Version: "1", Priority: 100,
				Description: "whitespace and invisible character cleanup, length limit", Capabilities: []string{"input"}},
			factory: decoded(func(o *sanitizerOptions) any {
				return &security.Sanitizer{MaxLength: o.MaxLength, CollapseWhitespace: o.CollapseWhitespace, RemoveInvisible: o.RemoveInvisible}
			}, sanitizerOptions{CollapseWhitespace: true, RemoveInvisible: true}),
		},
		builtin{
			desc: Descriptor{Kind: KindSecurity, Name: "injection", Version: "1", Priority: 90,
				Description: "prompt injection detection", Capabilities: []string{"input"}},
			factory: decoded(func(o *injectionOptions) any {
				return &security.InjectionDetector{BlockOnDetection: o.BlockOnDetection}
			}, injectionOptions{BlockOnDetection: true}),
		},
		builtin{
			desc: Descriptor{Kind: KindSecurity, Name: "output", Version: "1", Priority: 80,
				Description: "leaked credential detection in extracted data", Capabilities: []string{"output"}},
			factory: decoded(func(o *security.OutputValidator) any { return o }),
		},
		builtin{
			desc:    Descriptor{Kind: KindExtractor, Name: "text", Version: "1", Priority: 100, Capabilities: []string{"text/*"}},
			factory: decoded(func(*struct{}) any { return extractor.NewText() }),
		},
		builtin{
			desc:    Descriptor{Kind: KindExtractor, Name: "html", Version: "1", Priority: 90, Capabilities: []string{"text/html"}},
			factory: decoded(func(o *htmlOptions) any { return &extractor.HTML{StripNavigation: o.StripNavigation} }),
		},
		builtin{
			desc:    Descriptor{Kind: KindExtractor, Name: "pdf", Version: "1", Priority: 80, Capabilities: []string{"application/pdf"}},
			factory: decoded(func(o *pdfOptions) any { return &extractor.PDF{MaxPages: o.MaxPages} }),
		},
		builtin{
			desc:    Descriptor{Kind: KindExtractor, Name: "spreadsheet", Version: "1", Priority: 70, Capabilities: []string{"xlsx"}},
			factory: decoded(func(o *spreadsheetOptions) any { return &extractor.Spreadsheet{MaxRows: o.MaxRows} }),
		},
		builtin{
			desc:    Descriptor{Kind: KindCache, Name: "none", Version: "1"},
			factory: func(Options) (any, error) { return &cache.Nop{}, nil },
		},
		builtin{
			desc: Descriptor{Kind: KindCache, Name: "memory", Version: "1", Priority: 100, Capabilities: []string{"lru", "ttl"}},
			factory: cacheFactory(func(o cacheOptions) (cache.Cache, error) {
				return cache.NewMemory(cache.MemoryOptions{MaxSize: o.MaxSize, TTL: o.TTL}), nil
			}),
		},
		builtin{
			desc: Descriptor{Kind: KindCache, Name: "file", Version: "1", Priority: 80, Capabilities: []string{"persistent", "ttl"}},
			factory: cacheFactory(func(o cacheOptions) (cache.Cache, error) {
				return cache.NewFile(o.Dir, o.TTL)
			}),
		},
		builtin{
			desc: Descriptor{Kind: KindCache, Name: "sqlite", Version: "1", Priority: 70, Capabilities: []string{"persistent", "ttl", "shared"}},
			factory: cacheFactory(func(o cacheOptions) (cache.Cache, error) {
				return cache.OpenSQLite(o.Path, cache.SQLOptions{Table: o.Table, TTL: o.TTL, MaxSize: o.MaxSize})
			}),
		},
		builtin{
			desc: Descriptor{Kind: KindCache, Name: "postgres", Version: "1", Priority: 60, Capabilities: []string{"persistent", "ttl", "shared"}},
			factory: cacheFactory(func(o cacheOptions) (cache.Cache, error) {
				return cache.OpenPostgres(o.DSN, cache.SQLOptions{Table: o.Table, TTL: o.TTL, MaxSize: o.MaxSize})
			}),
		},
		builtin{
			desc: Descriptor{Kind: KindCache, Name: "redis", Version: "1", Priority: 60, Capabilities: []string{"persistent", "ttl", "shared"}},
			factory: cacheFactory(func(o cacheOptions) (cache.Cache, error) {
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return cache.OpenRedis(ctx, o.URL, cache.RedisOptions{Prefix: o.Prefix, TTL: o.TTL})
			}),
		},
	)
	return out
}

// decoded adapts a constructor taking decoded options into a Factory. An
// optional default value seeds the options before decoding.
func decoded[O any](build func(*O) any, defaults ...O) Factory {
	return func(opts Options) (any, error) {
		var o O
		if len(defaults) > 0 {
			o = defaults[0]
		}
		if err := Decode(opts, &o); err != nil {
			return nil, err
		}
		return build(&o), nil
	}
}

func cacheFactory(open func(cacheOptions) (cache.Cache, error)) Factory {
	return func(opts Options) (any, error) {
		var o cacheOptions
		if err := Decode(opts, &o); err != nil {
			return nil, err
		}
		return open(o)
	}
}

type sumOptions struct {
	ItemsField        string  `mapstructure:"items_field"`
	AmountField       string  `mapstructure:"amount_field"`
	TotalField        string  `mapstructure:"total_field"`
	Tolerance         float64 `mapstructure:"tolerance"`
	RelativeTolerance float64 `mapstructure:"relative_tolerance"`
}

func (o *sumOptions) validator() validate.SumValidator {
	return validate.SumValidator{
		ItemsField:        o.ItemsField,
		AmountField:       o.AmountField,
		TotalField:        o.TotalField,
		Tolerance:         o.Tolerance,
		RelativeTolerance: o.RelativeTolerance,
	}
}

type dateOptions struct {
	Fields    []string `mapstructure:"fields"`
	Formats   []string `mapstructure:"formats"`
	MinYear   int      `mapstructure:"min_year"`
	MaxYear   int      `mapstructure:"max_year"`
	Normalize bool     `mapstructure:"normalize"`
}

func (o *dateOptions) validator() validate.DateValidator {
	return validate.DateValidator{
		Fields:    o.Fields,
		Formats:   o.Formats,
		MinYear:   o.MinYear,
		MaxYear:   o.MaxYear,
		Normalize: o.Normalize,
	}
}

type sanitizerOptions struct {
	MaxLength          int  `mapstructure:"max_length"`
	CollapseWhitespace bool `mapstructure:"collapse_whitespace"`
	RemoveInvisible    bool `mapstructure:"remove_invisible"`
}

type injectionOptions struct {
	BlockOnDetection bool `mapstructure:"block_on_detection"`
}

type htmlOptions struct {
	StripNavigation bool `mapstructure:"strip_navigation"`
}

type pdfOptions struct {
	MaxPages int `mapstructure:"max_pages"`
}

type spreadsheetOptions struct {
	MaxRows int `mapstructure:"max_rows"`
}

// newJSONSchemaValidator validates against an inline schema, a schema file,
// or, with neither, the extraction schema of each call.
func newJSONSchemaValidator(opts Options) (any, error) {
	var o struct {
		Schema string `mapstructure:"schema"`
		File   string `mapstructure:"file"`
	}
	if err := Decode(opts, &o); err != nil {
		return nil, err
	}
	switch {
	case o.Schema != "":
		return validate.NewRawJSONSchemaValidator([]byte(o.Schema)), nil
	case o.File != "":
		doc, err := os.ReadFile(o.File) //#nosec G304 -- schema path is user supplied
		if err != nil {
			return nil, fmt.Errorf("read json schema: %w", err)
		}
		return validate.NewRawJSONSchemaValidator(doc), nil
	}
	return validate.NewJSONSchemaValidator(), nil
}
