package plugin

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ManifestVersion is the manifest format this package reads.
const ManifestVersion = 1

// Manifest selects and configures plugins.
//
//	version: 1
//	plugins:
//	  - kind: validator
//	    name: sum
//	    options:
//	      tolerance: 0.05
type Manifest struct {
	Version int    `yaml:"version" json:"version" mapstructure:"version"`
	Plugins []Spec `yaml:"plugins" json:"plugins" mapstructure:"plugins"`
}

// Spec is one manifest entry. Entries are enabled unless Enabled is false.
type Spec struct {
	Kind    Kind    `yaml:"kind" json:"kind" mapstructure:"kind"`
	Name    string  `yaml:"name" json:"name" mapstructure:"name"`
	Enabled *bool   `yaml:"enabled,omitempty" json:"enabled,omitempty" mapstructure:"enabled"`
	Options Options `yaml:"options,omitempty" json:"options,omitempty" mapstructure:"options"`
}

func (s Spec) enabled() bool { return s.Enabled == nil || *s.Enabled }

// LoadManifest reads a YAML or JSON manifest file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path) //#nosec G304 -- manifest path is user supplied
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return ParseManifest(data)
}

// ParseManifest decodes a YAML or JSON manifest. A missing version means the
// current one.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadManifest, err)
	}
	if m.Version == 0 {
		m.Version = ManifestVersion
	}
	if m.Version != ManifestVersion {
		return nil, fmt.Errorf("%w: unsupported version %d (want %d)", ErrBadManifest, m.Version, ManifestVersion)
	}
	for i, p := range m.Plugins {
		if p.Kind == "" || p.Name == "" {
			return nil, fmt.Errorf("%w: entry %d needs kind and name", ErrBadManifest, i)
		}
	}
	return &m, nil
}

// Enabled returns the enabled entries of a kind in manifest order.
func (m *Manifest) Enabled(kind Kind) []Spec {
	var out []Spec
	for _, p := range m.Plugins {
		if p.Kind == kind && p.enabled() {
			out = append(out, p)
		}
	}
	return out
}

// Check verifies that every enabled entry names a registered plugin.
func (m *Manifest) Check(r *Registry) error {
	var missing []string
	for _, p := range m.Plugins {
		if !p.enabled() {
			continue
		}
		if _, err := r.Get(p.Kind, p.Name); err != nil {
			missing = append(missing, fmt.Sprintf("%s/%s (available: %s)", p.Kind, p.Name, strings.Join(r.names(p.Kind), ", ")))
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: unknown plugins %s", ErrNotFound, strings.Join(missing, "; "))
	}
	return nil
}

// BuildLazy returns a lazy instance for every enabled entry of a kind.
// Unknown names fail here; construction errors surface on first Get.
func BuildLazy[T any](r *Registry, m *Manifest, kind Kind) ([]*Lazy[T], error) {
	var out []*Lazy[T]
	for _, p := range m.Enabled(kind) {
		if _, err := r.Get(kind, p.Name); err != nil {
			return nil, err
		}
		out = append(out, LazyResolve[T](r, kind, p.Name, p.Options))
	}
	return out, nil
}

// Build constructs every enabled entry of a kind.
func Build[T any](r *Registry, m *Manifest, kind Kind) ([]T, error) {
	lazies, err := BuildLazy[T](r, m, kind)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(lazies))
	for _, l := range lazies {
		v, err := l.Get()
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
