package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Manager loads the configuration and reloads it when the file changes.
type Manager struct {
	v *viper.Viper

	mu        sync.RWMutex
	config    *Config
	callbacks []func(*Config)
}

// NewManager reads .env, then cfgFile (or .strutex.yaml in the home or
// current directory when empty), then STRUTEX_* variables on top. A missing
// default config file is not an error.
func NewManager(cfgFile string) (*Manager, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	m := &Manager{v: viper.New()}
	if err := m.init(cfgFile); err != nil {
		return nil, err
	}
	cfg, err := m.load()
	if err != nil {
		return nil, err
	}
	m.config = cfg
	return m, nil
}

func (m *Manager) init(cfgFile string) error {
	v := m.v
	setDefaults(v)

	v.SetEnvPrefix("STRUTEX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
		v.AddConfigPath(".")
		v.SetConfigName(".strutex")
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("read config file: %w", err)
		}
	}
	return nil
}

// setDefaults registers every leaf key so STRUTEX_* variables can override
// values that are absent from the file.
func setDefaults(v *viper.Viper) {
	d := DefaultConfig()
	v.SetDefault("version", d.Version)
	v.SetDefault("provider", "")
	v.SetDefault("model", "")
	v.SetDefault("concurrency", d.Concurrency)
	v.SetDefault("max_document_size", d.MaxDocumentSize)
	v.SetDefault("verify", d.Verify)
	v.SetDefault("metrics_addr", "")
	v.SetDefault("log_file", "")

	v.SetDefault("retry.max_retries", d.Retry.MaxRetries)
	v.SetDefault("retry.base_delay", d.Retry.BaseDelay)
	v.SetDefault("retry.multiplier", d.Retry.Multiplier)
	v.SetDefault("retry.max_delay", d.Retry.MaxDelay)
	v.SetDefault("retry.attempt_timeout", d.Retry.AttemptTimeout)
	v.SetDefault("retry.cooldown", d.Retry.Cooldown)

	v.SetDefault("cache.backend", d.Cache.Backend)
	v.SetDefault("cache.ttl", d.Cache.TTL)
	v.SetDefault("cache.max_size", d.Cache.MaxSize)
	v.SetDefault("cache.dir", "")
	v.SetDefault("cache.path", "")
	v.SetDefault("cache.dsn", "")
	v.SetDefault("cache.url", "")

	v.SetDefault("security.enabled", d.Security.Enabled)
	v.SetDefault("security.max_length", d.Security.MaxLength)
	v.SetDefault("security.block_injection", d.Security.BlockInjection)
	v.SetDefault("security.redact_secrets", d.Security.RedactSecrets)

	v.SetDefault("validation.strict", false)
	v.SetDefault("validation.fail_on_issues", false)
	v.SetDefault("validation.json_schema", "")
}

func (m *Manager) load() (*Config, error) {
	var cfg Config
	if err := m.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.resolveSecrets()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Get returns the current configuration.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// OnChange registers fn to run after every successful reload.
func (m *Manager) OnChange(fn func(*Config)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, fn)
}

// WatchConfig reloads the file when it changes. A reload that fails to
// parse or validate keeps the previous configuration and is passed to
// onError when set.
func (m *Manager) WatchConfig(onError func(error)) {
	m.v.OnConfigChange(func(fsnotify.Event) {
		cfg, err := m.load()
		if err != nil {
			if onError != nil {
				onError(err)
			}
			return
		}

		m.mu.Lock()
		m.config = cfg
		callbacks := make([]func(*Config), len(m.callbacks))
		copy(callbacks, m.callbacks)
		m.mu.Unlock()

		for _, fn := range callbacks {
			fn(cfg)
		}
	})
	m.v.WatchConfig()
}

// ConfigFile returns the file that was read, or "" when running on defaults.
func (m *Manager) ConfigFile() string { return m.v.ConfigFileUsed() }

// Viper exposes the underlying instance for flag binding.
func (m *Manager) Viper() *viper.Viper { return m.v }

// Reload re-reads the merged settings, for example after flags were bound
// with Viper().BindPFlag.
func (m *Manager) Reload() (*Config, error) {
	cfg, err := m.load()
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
	return cfg, nil
}
