// Package config loads CLI configuration from a YAML file, STRUTEX_*
// environment variables and a .env file, and turns it into a plugin
// manifest.
package config

import (
	"fmt"
	"os"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-playground/validator/v10"

	"github.com/Aquilesorei/strutex/pkg/llm"
	"github.com/Aquilesorei/strutex/pkg/plugin"
	"github.com/Aquilesorei/strutex/pkg/retry"
)

// Config is the full CLI configuration.
type Config struct {
	Version         int                       `mapstructure:"version" validate:"omitempty,eq=1"`
	Provider        string                    `mapstructure:"provider"`
	Model           string                    `mapstructure:"model"`
	FallbackOrder   []string                  `mapstructure:"fallback_order"`
	Providers       map[string]ProviderConfig `mapstructure:"providers" validate:"dive"`
	Retry           RetryConfig               `mapstructure:"retry"`
	Cache           CacheConfig               `mapstructure:"cache"`
	Security        SecurityConfig            `mapstructure:"security"`
	Validation      ValidationConfig          `mapstructure:"validation"`
	Plugins         []plugin.Spec             `mapstructure:"plugins" validate:"dive"`
	Concurrency     int                       `mapstructure:"concurrency" validate:"min=1,max=64"`
	MaxDocumentSize string                    `mapstructure:"max_document_size"`
	Verify          bool                      `mapstructure:"verify"`
	MetricsAddr     string                    `mapstructure:"metrics_addr" validate:"omitempty,hostname_port"`
	LogFile         string                    `mapstructure:"log_file"`
}

// ProviderConfig configures one LLM provider. APIKey may reference an
// environment variable as ${NAME}.
type ProviderConfig struct {
	Model       string        `mapstructure:"model"`
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url" validate:"omitempty,url"`
	Timeout     time.Duration `mapstructure:"timeout" validate:"gte=0"`
	Temperature *float64      `mapstructure:"temperature" validate:"omitempty,gte=0,lte=2"`
	MaxTokens   int           `mapstructure:"max_tokens" validate:"gte=0"`
	RateLimit   float64       `mapstructure:"rate_limit" validate:"gte=0"`
	Burst       int           `mapstructure:"burst" validate:"gte=0"`
}

type RetryConfig struct {
	MaxRetries     int           `mapstructure:"max_retries" validate:"gte=0,lte=10"`
	BaseDelay      time.Duration `mapstructure:"base_delay" validate:"gte=0"`
	Multiplier     float64       `mapstructure:"multiplier" validate:"omitempty,gte=1"`
	MaxDelay       time.Duration `mapstructure:"max_delay" validate:"gte=0"`
	AttemptTimeout time.Duration `mapstructure:"attempt_timeout" validate:"gte=0"`
	Cooldown       time.Duration `mapstructure:"cooldown" validate:"gte=0"`
}

type CacheConfig struct {
	Backend string        `mapstructure:"backend" validate:"oneof=none memory file sqlite postgres redis"`
	TTL     time.Duration `mapstructure:"ttl" validate:"gte=0"`
	MaxSize int           `mapstructure:"max_size" validate:"gte=0"`
	Dir     string        `mapstructure:"dir" validate:"required_if=Backend file"`
	Path    string        `mapstructure:"path" validate:"required_if=Backend sqlite"`
	DSN     string        `mapstructure:"dsn" validate:"required_if=Backend postgres"`
	URL     string        `mapstructure:"url" validate:"required_if=Backend redis"`
}

type SecurityConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	MaxLength      int  `mapstructure:"max_length" validate:"gte=0"`
	BlockInjection bool `mapstructure:"block_injection"`
	RedactSecrets  bool `mapstructure:"redact_secrets"`
}

type ValidationConfig struct {
	Strict       bool       `mapstructure:"strict"`
	FailOnIssues bool       `mapstructure:"fail_on_issues"`
	JSONSchema   string     `mapstructure:"json_schema"` // file path
	SumChecks    []SumCheck `mapstructure:"sum_checks" validate:"dive"`
	DateFields   []string   `mapstructure:"date_fields"`
	DateFormats  []string   `mapstructure:"date_formats"`
	MinYear      int        `mapstructure:"min_year" validate:"gte=0"`
	MaxYear      int        `mapstructure:"max_year" validate:"omitempty,gtefield=MinYear"`
}

// SumCheck configures one sum validator.
type SumCheck struct {
	Items     string  `mapstructure:"items"`
	Amount    string  `mapstructure:"amount"`
	Total     string  `mapstructure:"total"`
	Tolerance float64 `mapstructure:"tolerance" validate:"gte=0"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Version: plugin.ManifestVersion,
		Retry: RetryConfig{
			MaxRetries: 3,
			BaseDelay:  time.Second,
			Multiplier: 2,
			MaxDelay:   30 * time.Second,
			Cooldown:   time.Minute,
		},
		Cache: CacheConfig{
			Backend: "memory",
			TTL:     24 * time.Hour,
			MaxSize: 1000,
		},
		Security: SecurityConfig{
			BlockInjection: true,
		},
		Concurrency:     4,
		MaxDocumentSize: "50MiB",
	}
}

var structValidator = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and cross-field rules.
func (c *Config) Validate() error {
	if err := structValidator.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	known := llm.Providers()
	for _, name := range c.Backends() {
		if !slices.Contains(known, name) {
			return fmt.Errorf("invalid config: unknown provider %q (available: %s)", name, strings.Join(known, ", "))
		}
	}
	if _, err := c.MaxDocumentBytes(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// MaxDocumentBytes parses MaxDocumentSize ("50MiB", "10 MB"). Empty or "0"
// means unlimited.
func (c *Config) MaxDocumentBytes() (int64, error) {
	s := strings.TrimSpace(c.MaxDocumentSize)
	if s == "" || s == "0" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("max_document_size: %w", err)
	}
	return int64(n), nil //#nosec G115 -- document sizes fit in int64
}

// Backends returns the providers in fallback order: Provider first (or the
// one detected from API key variables), then FallbackOrder without
// duplicates.
func (c *Config) Backends() []string {
	primary := c.Provider
	if primary == "" {
		primary, _ = llm.DetectProvider()
	}
	order := []string{primary}
	for _, name := range c.FallbackOrder {
		if !slices.Contains(order, name) {
			order = append(order, name)
		}
	}
	return order
}

// RetryPolicy builds the shared retry policy.
func (c *Config) RetryPolicy() retry.Policy {
	r := c.Retry
	opts := []retry.Option{retry.WithMaxRetries(r.MaxRetries)}
	if r.BaseDelay > 0 {
		opts = append(opts, retry.WithBaseDelay(r.BaseDelay))
	}
	if r.Multiplier > 0 {
		opts = append(opts, retry.WithMultiplier(r.Multiplier))
	}
	if r.MaxDelay > 0 {
		opts = append(opts, retry.WithMaxDelay(r.MaxDelay))
	}
	if r.AttemptTimeout > 0 {
		opts = append(opts, retry.WithAttemptTimeout(r.AttemptTimeout))
	}
	return retry.New(opts...)
}

var envRef = regexp.MustCompile(`\$\{([^}]+)\}`)

// ResolveEnvVars expands ${NAME} references. Unset variables become empty.
func ResolveEnvVars(value string) string {
	if !strings.Contains(value, "${") {
		return value
	}
	return envRef.ReplaceAllStringFunc(value, func(m string) string {
		return os.Getenv(m[2 : len(m)-1])
	})
}

// resolveSecrets expands environment references in credentials and
// connection strings.
func (c *Config) resolveSecrets() {
	for name, p := range c.Providers {
		p.APIKey = ResolveEnvVars(p.APIKey)
		p.BaseURL = ResolveEnvVars(p.BaseURL)
		c.Providers[name] = p
	}
	c.Cache.DSN = ResolveEnvVars(c.Cache.DSN)
	c.Cache.URL = ResolveEnvVars(c.Cache.URL)
}
