// Package output writes extraction records for the CLI.
package output

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Aquilesorei/strutex/pkg/strutex"
)

// Format is an output encoding.
type Format string

const (
	FormatJSON  Format = "json"
	FormatJSONL Format = "jsonl"
	FormatYAML  Format = "yaml"
)

// ParseFormat accepts json, jsonl (or ndjson) and yaml (or yml).
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "json":
		return FormatJSON, nil
	case "jsonl", "ndjson":
		return FormatJSONL, nil
	case "yaml", "yml":
		return FormatYAML, nil
	}
	return "", fmt.Errorf("unsupported output format %q (use json, jsonl or yaml)", s)
}

// FormatFromPath infers the format from a file extension, falling back to
// def.
func FormatFromPath(path string, def Format) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jsonl", ".ndjson":
		return FormatJSONL
	case ".yaml", ".yml":
		return FormatYAML
	case ".json":
		return FormatJSON
	}
	return def
}

// Record is one extraction as written by the CLI.
type Record struct {
	Source     string         `json:"source" yaml:"source"`
	Data       map[string]any `json:"data,omitempty" yaml:"data,omitempty"`
	Backend    string         `json:"backend,omitempty" yaml:"backend,omitempty"`
	Model      string         `json:"model,omitempty" yaml:"model,omitempty"`
	Cached     bool           `json:"cached,omitempty" yaml:"cached,omitempty"`
	Verified   bool           `json:"verified,omitempty" yaml:"verified,omitempty"`
	Issues     []string       `json:"issues,omitempty" yaml:"issues,omitempty"`
	Tokens     Tokens         `json:"tokens" yaml:"tokens"`
	DurationMS int64          `json:"duration_ms" yaml:"duration_ms"`
	Error      string         `json:"error,omitempty" yaml:"error,omitempty"`
}

// Tokens is the usage part of a Record.
type Tokens struct {
	Input  int     `json:"input" yaml:"input"`
	Output int     `json:"output" yaml:"output"`
	Cost   float64 `json:"cost,omitempty" yaml:"cost,omitempty"`
}

// NewRecord converts a pipeline outcome. err wins over res.
func NewRecord(source string, res *strutex.Result, err error, elapsed time.Duration) Record {
	r := Record{Source: source, DurationMS: elapsed.Milliseconds()}
	if err != nil {
		r.Error = err.Error()
		return r
	}
	if res == nil {
		return r
	}
	r.Data = res.Data
	r.Backend = res.Backend
	r.Model = res.Model
	r.Cached = res.Cached
	r.Verified = res.Verified
	r.Issues = res.Issues
	r.Tokens = Tokens{Input: res.Usage.InputTokens, Output: res.Usage.OutputTokens, Cost: res.Usage.Cost}
	return r
}

// Writer emits records. Close must be called to flush buffered formats.
type Writer interface {
	Write(r Record) error
	Close() error
}

// New returns a writer for format on w.
func New(w io.Writer, format Format) (Writer, error) {
	switch format {
	case FormatJSON:
		return newJSONWriter(w), nil
	case FormatJSONL:
		return newJSONLWriter(w), nil
	case FormatYAML:
		return newYAMLWriter(w), nil
	}
	return nil, fmt.Errorf("unsupported output format %q", format)
}

// Create opens path for writing ("" or "-" is stdout) and wraps it in a
// writer for format. Closing the writer closes the file.
func Create(path string, format Format) (Writer, error) {
	if path == "" || path == "-" {
		return New(os.Stdout, format)
	}
	f, err := os.Create(path) //#nosec G304 -- output path is user supplied
	if err != nil {
		return nil, fmt.Errorf("create output: %w", err)
	}
	w, err := New(f, format)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return &fileWriter{Writer: w, f: f}, nil
}

type fileWriter struct {
	Writer
	f *os.File
}

func (w *fileWriter) Close() error {
	err := w.Writer.Close()
	if cerr := w.f.Close(); err == nil {
		err = cerr
	}
	return err
}
