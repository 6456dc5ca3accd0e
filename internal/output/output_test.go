package output

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Aquilesorei/strutex/pkg/backend"
	"github.com/Aquilesorei/strutex/pkg/strutex"
)

func sampleRecords() []Record {
	return []Record{
		{Source: "a.pdf", Data: map[string]any{"total": 30.0}, Backend: "anthropic", Tokens: Tokens{Input: 10, Output: 2}},
		{Source: "b.pdf", Error: "all 1 backends failed"},
	}
}

func writeAll(t *testing.T, format Format, records []Record) string {
	t.Helper()
	var buf bytes.Buffer
	w, err := New(&buf, format)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	for _, r := range records {
		if err := w.Write(r); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	return buf.String()
}

// --- Formats ---

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"", FormatJSON, false},
		{"JSON", FormatJSON, false},
		{"ndjson", FormatJSONL, false},
		{"jsonl", FormatJSONL, false},
		{"yml", FormatYAML, false},
		{"csv", "", true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseFormat(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestFormatFromPath(t *testing.T) {
	tests := map[string]Format{
		"out.jsonl":   FormatJSONL,
		"out.YAML":    FormatYAML,
		"out.json":    FormatJSON,
		"out.txt":     FormatJSONL,
		"no-ext":      FormatJSONL,
		"dir/x.yml":   FormatYAML,
		"x.ndjson":    FormatJSONL,
		"report.Json": FormatJSON,
	}
	for path, want := range tests {
		if got := FormatFromPath(path, FormatJSONL); got != want {
			t.Errorf("FormatFromPath(%q) = %q, want %q", path, got, want)
		}
	}
}

func TestNewUnsupported(t *testing.T) {
	if _, err := New(&bytes.Buffer{}, Format("xml")); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

// --- Writers ---

func TestJSONSingleRecordIsObject(t *testing.T) {
	out := writeAll(t, FormatJSON, sampleRecords()[:1])
	var r Record
	if err := json.Unmarshal([]byte(out), &r); err != nil {
		t.Fatalf("output is not an object: %v\n%s", err, out)
	}
	if r.Source != "a.pdf" || r.Tokens.Input != 10 {
		t.Errorf("record = %+v", r)
	}
}

func TestJSONManyRecordsIsArray(t *testing.T) {
	out := writeAll(t, FormatJSON, sampleRecords())
	var rs []Record
	if err := json.Unmarshal([]byte(out), &rs); err != nil {
		t.Fatalf("output is not an array: %v", err)
	}
	if len(rs) != 2 || rs[1].Error == "" {
		t.Errorf("records = %+v", rs)
	}
}

func TestJSONEmpty(t *testing.T) {
	if out := strings.TrimSpace(writeAll(t, FormatJSON, nil)); out != "[]" {
		t.Errorf("output = %q", out)
	}
}

func TestJSONLOneLinePerRecord(t *testing.T) {
	out := writeAll(t, FormatJSONL, sampleRecords())
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %d:\n%s", len(lines), out)
	}
	if !strings.Contains(lines[0], `"source":"a.pdf"`) || strings.Contains(lines[0], `"error"`) {
		t.Errorf("line 1 = %s", lines[0])
	}
}

func TestYAMLDocuments(t *testing.T) {
	out := writeAll(t, FormatYAML, sampleRecords())
	dec := yaml.NewDecoder(strings.NewReader(out))
	var got []Record
	for {
		var r Record
		if err := dec.Decode(&r); err != nil {
			break
		}
		got = append(got, r)
	}
	if len(got) != 2 || got[0].Backend != "anthropic" || got[1].Source != "b.pdf" {
		t.Errorf("documents = %+v\n%s", got, out)
	}
}

func TestCreateFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.jsonl")
	w, err := Create(path, FormatJSONL)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Write(sampleRecords()[0]); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(data), `{"source":"a.pdf"`) {
		t.Errorf("file = %s", data)
	}
}

// --- Records ---

func TestNewRecord(t *testing.T) {
	res := &strutex.Result{
		Data:     map[string]any{"n": 1.0},
		Backend:  "openai",
		Model:    "gpt",
		Cached:   true,
		Verified: true,
		Issues:   []string{"x"},
		Usage:    backend.Usage{InputTokens: 5, OutputTokens: 6, Cost: 0.5},
	}
	r := NewRecord("in.pdf", res, nil, 1500*time.Millisecond)
	if r.Backend != "openai" || !r.Cached || !r.Verified || r.Tokens.Output != 6 || r.DurationMS != 1500 {
		t.Errorf("record = %+v", r)
	}

	failed := NewRecord("in.pdf", res, errors.New("boom"), time.Second)
	if failed.Error != "boom" || failed.Data != nil {
		t.Errorf("failed record = %+v", failed)
	}
}
