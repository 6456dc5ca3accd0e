package config

import (
	"github.com/Aquilesorei/strutex/pkg/plugin"
)

// Manifest translates the configuration into plugin entries: backends in
// fallback order, the cache, validators, security plugins, then any entries
// listed under plugins.
func (c *Config) Manifest() *plugin.Manifest {
	m := &plugin.Manifest{Version: plugin.ManifestVersion}
	add := func(kind plugin.Kind, name string, opts plugin.Options) {
		m.Plugins = append(m.Plugins, plugin.Spec{Kind: kind, Name: name, Options: opts})
	}

	for i, name := range c.Backends() {
		opts := c.Providers[name].options()
		if i == 0 && c.Model != "" {
			opts["model"] = c.Model
		}
		add(plugin.KindBackend, name, opts)
	}

	add(plugin.KindCache, c.Cache.Backend, c.Cache.options())

	v := c.Validation
	add(plugin.KindValidator, "schema", plugin.Options{"strict": v.Strict})
	if v.JSONSchema != "" {
		add(plugin.KindValidator, "jsonschema", plugin.Options{"file": v.JSONSchema})
	}
	for _, s := range v.SumChecks {
		opts := plugin.Options{}
		setIf(opts, "items_field", s.Items)
		setIf(opts, "amount_field", s.Amount)
		setIf(opts, "total_field", s.Total)
		if s.Tolerance > 0 {
			opts["tolerance"] = s.Tolerance
		}
		add(plugin.KindValidator, "sum", opts)
	}
	if len(v.DateFields) > 0 {
		opts := plugin.Options{"fields": v.DateFields}
		if len(v.DateFormats) > 0 {
			opts["formats"] = v.DateFormats
		}
		if v.MinYear > 0 {
			opts["min_year"] = v.MinYear
		}
		if v.MaxYear > 0 {
			opts["max_year"] = v.MaxYear
		}
		add(plugin.KindValidator, "date", opts)
	}

	if s := c.Security; s.Enabled {
		add(plugin.KindSecurity, "sanitizer", plugin.Options{"max_length": s.MaxLength})
		add(plugin.KindSecurity, "injection", plugin.Options{"block_on_detection": s.BlockInjection})
		add(plugin.KindSecurity, "output", plugin.Options{"redact": s.RedactSecrets})
	}

	m.Plugins = append(m.Plugins, c.Plugins...)
	return m
}

func (p ProviderConfig) options() plugin.Options {
	opts := plugin.Options{}
	setIf(opts, "model", p.Model)
	setIf(opts, "api_key", p.APIKey)
	setIf(opts, "base_url", p.BaseURL)
	if p.Timeout > 0 {
		opts["timeout"] = p.Timeout
	}
	if p.Temperature != nil {
		opts["temperature"] = *p.Temperature
	}
	if p.MaxTokens > 0 {
		opts["max_tokens"] = p.MaxTokens
	}
	if p.RateLimit > 0 {
		opts["rate_limit"] = p.RateLimit
		opts["burst"] = p.Burst
	}
	return opts
}

func (cc CacheConfig) options() plugin.Options {
	opts := plugin.Options{}
	switch cc.Backend {
	case "none":
		return opts
	case "memory":
		opts["max_size"] = cc.MaxSize
	case "file":
		opts["dir"] = cc.Dir
	case "sqlite":
		opts["path"] = cc.Path
		opts["max_size"] = cc.MaxSize
	case "postgres":
		opts["dsn"] = cc.DSN
		opts["max_size"] = cc.MaxSize
	case "redis":
		opts["url"] = cc.URL
	}
	if cc.TTL > 0 {
		opts["ttl"] = cc.TTL
	}
	return opts
}

func setIf(opts plugin.Options, key, value string) {
	if value != "" {
		opts[key] = value
	}
}
