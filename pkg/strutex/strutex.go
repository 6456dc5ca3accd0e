// Package strutex extracts structured data from documents.
//
// A Processor runs every request through the same pipeline: a cache lookup,
// input security checks, text extraction, the provider chain, validation, an
// optional verification pass and finally the cache write. Hooks registered on
// the Processor observe and adjust the pipeline before processing, after it
// and when it fails.
package strutex

import (
	"runtime/debug"
	"time"

	"github.com/Aquilesorei/strutex/pkg/backend"
	"github.com/Aquilesorei/strutex/pkg/document"
	"github.com/Aquilesorei/strutex/pkg/schema"
)

// Version returns the module version of the strutex library, "(devel)" when
// built from source.
func Version() string {
	if info, ok := debug.ReadBuildInfo(); ok {
		return info.Main.Version
	}
	return "(unknown)"
}

// Result is the outcome of one extraction.
type Result struct {
	Data      map[string]any `json:"data"`
	Raw       string         `json:"raw,omitempty"`
	Backend   string         `json:"backend,omitempty"`
	Model     string         `json:"model,omitempty"`
	Usage     backend.Usage  `json:"usage"`
	Duration  time.Duration  `json:"duration"`
	Cached    bool           `json:"cached,omitempty"`
	Verified  bool           `json:"verified,omitempty"`
	Issues    []string       `json:"issues,omitempty"` // permissive validation findings
	RequestID string         `json:"request_id,omitempty"`
}

// Request is one item of a batch.
type Request struct {
	Document *document.Document
	Prompt   string
	Schema   *schema.Schema
	Options  []CallOption
}

// Outcome is delivered by the async variants.
type Outcome struct {
	Result *Result
	Err    error
}

// StreamEventType distinguishes stream events.
type StreamEventType string

const (
	StreamDelta StreamEventType = "delta"
	StreamReset StreamEventType = "reset"
	StreamDone  StreamEventType = "done"
	StreamError StreamEventType = "error"
)

// StreamEvent is one step of a streamed extraction. A stream ends with
// exactly one done or error event.
type StreamEvent struct {
	Type    StreamEventType
	Delta   string
	Backend string
	Result  *Result // set on done
	Err     error   // set on error
}
