// Package plugin provides an explicit registry of named component factories.
//
// Nothing registers itself: callers populate a Registry with
// RegisterBuiltins or their own Register calls, and a versioned Manifest
// selects and configures the plugins to use. Plugins are constructed lazily,
// on first use.
package plugin

import (
	"errors"
	"slices"
	"strings"

	"github.com/go-viper/mapstructure/v2"
)

// Kind groups plugins by the interface they implement.
type Kind string

const (
	KindBackend   Kind = "backend"   // backend.Backend
	KindValidator Kind = "validator" // validate.Validator
	KindSecurity  Kind = "security"  // security.Plugin
	KindExtractor Kind = "extractor" // extractor.Extractor
	KindCache     Kind = "cache"     // cache.Cache
)

var (
	ErrNotFound    = errors.New("plugin not found")
	ErrDuplicate   = errors.New("plugin already registered")
	ErrInvalid     = errors.New("invalid plugin registration")
	ErrWrongType   = errors.New("plugin has unexpected type")
	ErrBadManifest = errors.New("invalid plugin manifest")
)

// Descriptor describes a registered plugin.
type Descriptor struct {
	Kind         Kind     `json:"kind" yaml:"kind"`
	Name         string   `json:"name" yaml:"name"`
	Version      string   `json:"version,omitempty" yaml:"version,omitempty"`
	Description  string   `json:"description,omitempty" yaml:"description,omitempty"`
	Priority     int      `json:"priority" yaml:"priority"` // higher sorts first
	Capabilities []string `json:"capabilities,omitempty" yaml:"capabilities,omitempty"`
	Tags         []string `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// HasCapability reports whether the plugin declares capability c.
func (d Descriptor) HasCapability(c string) bool {
	return slices.ContainsFunc(d.Capabilities, func(have string) bool { return strings.EqualFold(have, c) })
}

// Options configure a plugin instance. Values come from YAML, JSON or the
// config file and are decoded into typed structs with Decode.
type Options map[string]any

// Factory builds a plugin instance.
type Factory func(opts Options) (any, error)

// Decode copies opts into target, a pointer to a struct with mapstructure
// tags. Strings are converted to numbers, bools and durations where needed;
// unknown keys are an error.
func Decode(opts Options, target any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           target,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return err
	}
	return dec.Decode(map[string]any(opts))
}
