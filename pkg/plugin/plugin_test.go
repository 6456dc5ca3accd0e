package plugin

import (
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Aquilesorei/strutex/pkg/backend"
	"github.com/Aquilesorei/strutex/pkg/cache"
	"github.com/Aquilesorei/strutex/pkg/extractor"
	"github.com/Aquilesorei/strutex/pkg/security"
	"github.com/Aquilesorei/strutex/pkg/validate"
)

func builtinRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry()
	if err := RegisterBuiltins(r); err != nil {
		t.Fatalf("RegisterBuiltins: %v", err)
	}
	return r
}

func constant(v any) Factory {
	return func(Options) (any, error) { return v, nil }
}

// --- Registry ---

func TestRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(Descriptor{Kind: KindValidator, Name: "Custom"}, constant("x")); err != nil {
		t.Fatal(err)
	}

	d, err := r.Get(KindValidator, "custom")
	if err != nil {
		t.Fatalf("case-insensitive Get failed: %v", err)
	}
	if d.Name != "Custom" {
		t.Errorf("Name = %q", d.Name)
	}

	if _, err := r.Get(KindSecurity, "custom"); !errors.Is(err, ErrNotFound) {
		t.Errorf("other kind error = %v", err)
	}
	if err := r.Register(Descriptor{Kind: KindValidator, Name: "CUSTOM"}, constant("y")); !errors.Is(err, ErrDuplicate) {
		t.Errorf("duplicate error = %v", err)
	}
	if err := r.Register(Descriptor{Kind: KindValidator}, constant("z")); !errors.Is(err, ErrInvalid) {
		t.Errorf("invalid error = %v", err)
	}
}

func TestListOrdering(t *testing.T) {
	r := NewRegistry()
	for _, d := range []Descriptor{
		{Kind: KindValidator, Name: "low", Priority: 1},
		{Kind: KindValidator, Name: "high", Priority: 10, Capabilities: []string{"repair"}},
		{Kind: KindValidator, Name: "also-low", Priority: 1, Tags: []string{"invoice"}},
		{Kind: KindSecurity, Name: "other", Priority: 5},
	} {
		if err := r.Register(d, constant(nil)); err != nil {
			t.Fatal(err)
		}
	}

	var names []string
	for _, d := range r.List(KindValidator) {
		names = append(names, d.Name)
	}
	want := []string{"high", "also-low", "low"}
	if len(names) != len(want) {
		t.Fatalf("List = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("List = %v, want %v", names, want)
		}
	}

	if got := r.List("", WithCapability("REPAIR")); len(got) != 1 || got[0].Name != "high" {
		t.Errorf("WithCapability = %v", got)
	}
	if got := r.List(KindValidator, WithTags("invoice")); len(got) != 1 || got[0].Name != "also-low" {
		t.Errorf("WithTags = %v", got)
	}
	if got := r.List(""); len(got) != 4 {
		t.Errorf("List all = %d entries", len(got))
	}
}

func TestKindsAndClear(t *testing.T) {
	r := NewRegistry()
	_ = r.Register(Descriptor{Kind: KindValidator, Name: "a"}, constant(nil))
	_ = r.Register(Descriptor{Kind: KindCache, Name: "b"}, constant(nil))
	_ = r.Register(Descriptor{Kind: KindCache, Name: "c"}, constant(nil))

	kinds := r.Kinds()
	if len(kinds) != 2 || kinds[0] != KindCache || kinds[1] != KindValidator {
		t.Errorf("Kinds = %v", kinds)
	}
	if n := r.Clear(KindCache); n != 2 {
		t.Errorf("Clear(cache) = %d", n)
	}
	if n := r.Clear(""); n != 1 {
		t.Errorf("Clear(all) = %d", n)
	}
	if len(r.Kinds()) != 0 {
		t.Error("registry should be empty")
	}
}

func TestDescriptorHasCapability(t *testing.T) {
	d := Descriptor{Capabilities: []string{"vision", "Streaming"}}
	if !d.HasCapability("streaming") || d.HasCapability("repair") {
		t.Error("unexpected HasCapability result")
	}
}

func TestResolve(t *testing.T) {
	r := NewRegistry()
	_ = r.Register(Descriptor{Kind: KindExtractor, Name: "text"}, constant(extractor.NewText()))

	e, err := Resolve[extractor.Extractor](r, KindExtractor, "text", nil)
	if err != nil || e.Name() != "text" {
		t.Fatalf("Resolve = %v, %v", e, err)
	}
	if _, err := Resolve[validate.Validator](r, KindExtractor, "text", nil); !errors.Is(err, ErrWrongType) {
		t.Errorf("wrong type error = %v", err)
	}
}

func TestFactoryErrorIsWrapped(t *testing.T) {
	r := NewRegistry()
	boom := errors.New("boom")
	_ = r.Register(Descriptor{Kind: KindCache, Name: "broken"}, func(Options) (any, error) { return nil, boom })
	if _, err := r.New(KindCache, "broken", nil); !errors.Is(err, boom) {
		t.Errorf("error = %v", err)
	}
}

// --- Lazy ---

func TestLazyBuildsOnce(t *testing.T) {
	var calls atomic.Int32
	l := NewLazy(func() (int, error) {
		calls.Add(1)
		return 42, nil
	})
	if calls.Load() != 0 {
		t.Fatal("built before first Get")
	}
	for range 3 {
		if v, err := l.Get(); v != 42 || err != nil {
			t.Fatalf("Get = %d, %v", v, err)
		}
	}
	if calls.Load() != 1 {
		t.Errorf("built %d times", calls.Load())
	}
}

// --- Options ---

func TestDecode(t *testing.T) {
	var o struct {
		Tolerance float64       `mapstructure:"tolerance"`
		Fields    []string      `mapstructure:"fields"`
		TTL       time.Duration `mapstructure:"ttl"`
		Strict    bool          `mapstructure:"strict"`
	}
	err := Decode(Options{"tolerance": "0.05", "fields": "a,b", "ttl": "1h", "strict": "true"}, &o)
	if err != nil {
		t.Fatal(err)
	}
	if o.Tolerance != 0.05 || len(o.Fields) != 2 || o.TTL != time.Hour || !o.Strict {
		t.Errorf("decoded = %+v", o)
	}
	if err := Decode(Options{"unknown": 1}, &o); err == nil {
		t.Error("unknown keys should fail")
	}
}

// --- Manifest ---

const manifestYAML = `
version: 1
plugins:
  - kind: validator
    name: schema
    options:
      strict: true
  - kind: validator
    name: sum
    options:
      tolerance: 0.05
      total_field: totals.grand
  - kind: validator
    name: date
    enabled: false
  - kind: security
    name: injection
    options:
      block_on_detection: false
`

func TestParseManifest(t *testing.T) {
	m, err := ParseManifest([]byte(manifestYAML))
	if err != nil {
		t.Fatal(err)
	}
	if m.Version != 1 || len(m.Plugins) != 4 {
		t.Fatalf("manifest = %+v", m)
	}
	if got := m.Enabled(KindValidator); len(got) != 2 {
		t.Errorf("enabled validators = %v", got)
	}

	if _, err := ParseManifest([]byte("version: 2\nplugins: []")); !errors.Is(err, ErrBadManifest) {
		t.Errorf("version 2 error = %v", err)
	}
	if _, err := ParseManifest([]byte("plugins:\n  - name: sum")); !errors.Is(err, ErrBadManifest) {
		t.Errorf("missing kind error = %v", err)
	}

	json, err := ParseManifest([]byte(`{"plugins": [{"kind": "cache", "name": "memory"}]}`))
	if err != nil || json.Version != ManifestVersion || json.Plugins[0].Name != "memory" {
		t.Errorf("json manifest = %+v, %v", json, err)
	}
}

func TestManifestBuild(t *testing.T) {
	r := builtinRegistry(t)
	m, err := ParseManifest([]byte(manifestYAML))
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Check(r); err != nil {
		t.Fatal(err)
	}

	validators, err := Build[validate.Validator](r, m, KindValidator)
	if err != nil {
		t.Fatal(err)
	}
	if len(validators) != 2 {
		t.Fatalf("built %d validators", len(validators))
	}
	sum, ok := validators[1].(validate.SumValidator)
	if !ok || sum.Tolerance != 0.05 || sum.TotalField != "totals.grand" {
		t.Errorf("sum validator = %#v", validators[1])
	}

	plugins, err := Build[security.Plugin](r, m, KindSecurity)
	if err != nil {
		t.Fatal(err)
	}
	if det, ok := plugins[0].(*security.InjectionDetector); !ok || det.BlockOnDetection {
		t.Errorf("injection detector = %#v", plugins[0])
	}
}

func TestManifestUnknownPlugin(t *testing.T) {
	r := builtinRegistry(t)
	m := &Manifest{Version: 1, Plugins: []Spec{{Kind: KindValidator, Name: "nope"}}}
	if err := m.Check(r); !errors.Is(err, ErrNotFound) {
		t.Errorf("Check error = %v", err)
	}
	if _, err := BuildLazy[validate.Validator](r, m, KindValidator); !errors.Is(err, ErrNotFound) {
		t.Errorf("BuildLazy error = %v", err)
	}
}

func TestLoadManifest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plugins.yaml")
	if err := os.WriteFile(path, []byte(manifestYAML), 0o600); err != nil {
		t.Fatal(err)
	}
	m, err := LoadManifest(path)
	if err != nil || len(m.Plugins) != 4 {
		t.Fatalf("LoadManifest = %+v, %v", m, err)
	}
}

// --- Builtins ---

func TestBuiltinKinds(t *testing.T) {
	r := builtinRegistry(t)
	for _, kind := range []Kind{KindBackend, KindValidator, KindSecurity, KindExtractor, KindCache} {
		if len(r.List(kind)) == 0 {
			t.Errorf("no builtins of kind %s", kind)
		}
	}
	if err := RegisterBuiltins(r); !errors.Is(err, ErrDuplicate) {
		t.Errorf("second RegisterBuiltins error = %v", err)
	}
}

func TestBuiltinBackend(t *testing.T) {
	r := builtinRegistry(t)
	b, err := Resolve[backend.Backend](r, KindBackend, "ollama", Options{
		"model":      "llava",
		"base_url":   "http://127.0.0.1:1",
		"rate_limit": 2,
		"priority":   5,
	})
	if err != nil {
		t.Fatal(err)
	}
	d := b.Descriptor()
	if d.Name != "ollama" || d.Model != "llava" || d.Priority != 5 || !d.Has(backend.CapVision) {
		t.Errorf("descriptor = %+v", d)
	}
	if _, err := Resolve[backend.Backend](r, KindBackend, "ollama", Options{"bogus": 1}); err == nil {
		t.Error("unknown backend option should fail")
	}
}

func TestBuiltinCaches(t *testing.T) {
	r := builtinRegistry(t)
	dir := t.TempDir()

	mem, err := Resolve[cache.Cache](r, KindCache, "memory", Options{"max_size": 10, "ttl": "1m"})
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = mem.Close() }()

	file, err := Resolve[cache.Cache](r, KindCache, "file", Options{"dir": filepath.Join(dir, "files")})
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = file.Close() }()

	sqlite, err := Resolve[cache.Cache](r, KindCache, "sqlite", Options{"path": filepath.Join(dir, "cache.db")})
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = sqlite.Close() }()
}

func TestBuiltinJSONSchemaFile(t *testing.T) {
	r := builtinRegistry(t)
	path := filepath.Join(t.TempDir(), "schema.json")
	doc := `{"type": "object", "required": ["total"]}`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}
	v, err := Resolve[validate.Validator](r, KindValidator, "jsonschema", Options{"file": path})
	if err != nil {
		t.Fatal(err)
	}
	if res := v.Validate(map[string]any{}, nil); res.Valid {
		t.Error("missing total should fail")
	}
}
