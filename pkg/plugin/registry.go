package plugin

import (
	"cmp"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
)

type entry struct {
	desc    Descriptor
	factory Factory
}

// Registry maps a kind and a case-insensitive name to a factory. It is safe
// for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[Kind]map[string]entry
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[Kind]map[string]entry)}
}

// Register adds a factory. Registering the same kind and name twice fails
// with ErrDuplicate.
func (r *Registry) Register(d Descriptor, f Factory) error {
	if d.Kind == "" || d.Name == "" || f == nil {
		return fmt.Errorf("%w: kind, name and factory are required", ErrInvalid)
	}
	key := strings.ToLower(d.Name)

	r.mu.Lock()
	defer r.mu.Unlock()
	byName := r.entries[d.Kind]
	if byName == nil {
		byName = make(map[string]entry)
		r.entries[d.Kind] = byName
	}
	if _, exists := byName[key]; exists {
		return fmt.Errorf("%w: %s/%s", ErrDuplicate, d.Kind, d.Name)
	}
	byName[key] = entry{desc: d, factory: f}
	return nil
}

// Get returns the descriptor of a registered plugin.
func (r *Registry) Get(kind Kind, name string) (Descriptor, error) {
	e, err := r.lookup(kind, name)
	return e.desc, err
}

// New builds a plugin instance with the given options.
func (r *Registry) New(kind Kind, name string, opts Options) (any, error) {
	e, err := r.lookup(kind, name)
	if err != nil {
		return nil, err
	}
	v, err := e.factory(opts)
	if err != nil {
		return nil, fmt.Errorf("plugin %s/%s: %w", kind, e.desc.Name, err)
	}
	return v, nil
}

func (r *Registry) lookup(kind Kind, name string) (entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[kind][strings.ToLower(name)]
	if !ok {
		return entry{}, fmt.Errorf("%w: %s/%s", ErrNotFound, kind, name)
	}
	return e, nil
}

// ListOption filters List results.
type ListOption func(*listConfig)

type listConfig struct {
	capability string
	tags       []string
}

// WithCapability keeps plugins declaring the capability.
func WithCapability(c string) ListOption {
	return func(l *listConfig) { l.capability = c }
}

// WithTags keeps plugins carrying all of the tags.
func WithTags(tags ...string) ListOption {
	return func(l *listConfig) { l.tags = tags }
}

// List returns the plugins of a kind ordered by descending priority, then
// name. An empty kind lists every plugin.
func (r *Registry) List(kind Kind, opts ...ListOption) []Descriptor {
	cfg := &listConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	r.mu.RLock()
	var out []Descriptor
	for k, byName := range r.entries {
		if kind != "" && k != kind {
			continue
		}
		for _, e := range byName {
			if cfg.capability != "" && !e.desc.HasCapability(cfg.capability) {
				continue
			}
			if !hasAllTags(e.desc.Tags, cfg.tags) {
				continue
			}
			out = append(out, e.desc)
		}
	}
	r.mu.RUnlock()

	slices.SortFunc(out, func(a, b Descriptor) int {
		return cmp.Or(
			cmp.Compare(b.Priority, a.Priority),
			cmp.Compare(a.Kind, b.Kind),
			cmp.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name)),
		)
	})
	return out
}

// Kinds returns the kinds with at least one plugin, sorted.
func (r *Registry) Kinds() []Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var kinds []Kind
	for k, byName := range r.entries {
		if len(byName) > 0 {
			kinds = append(kinds, k)
		}
	}
	slices.Sort(kinds)
	return kinds
}

// Clear removes the plugins of a kind, or every plugin when kind is empty,
// and returns how many were removed.
func (r *Registry) Clear(kind Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if kind == "" {
		n := 0
		for _, byName := range r.entries {
			n += len(byName)
		}
		r.entries = make(map[Kind]map[string]entry)
		return n
	}
	n := len(r.entries[kind])
	delete(r.entries, kind)
	return n
}

// Resolve builds a plugin and asserts its type.
func Resolve[T any](r *Registry, kind Kind, name string, opts Options) (T, error) {
	var zero T
	v, err := r.New(kind, name, opts)
	if err != nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %s/%s is %T", ErrWrongType, kind, name, v)
	}
	return t, nil
}

func hasAllTags(have, want []string) bool {
	set := make(map[string]bool, len(have))
	for _, t := range have {
		set[strings.ToLower(t)] = true
	}
	for _, t := range want {
		if !set[strings.ToLower(t)] {
			return false
		}
	}
	return true
}

// names returns the registered names of a kind, sorted.
func (r *Registry) names(kind Kind) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.entries[kind]))
}
