// Package extractor turns document bytes into plain text for backends that
// cannot read the document natively.
package extractor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Aquilesorei/strutex/internal/logger"
)

// ErrUnsupportedMediaType is returned when no extractor handles a media type.
var ErrUnsupportedMediaType = errors.New("unsupported media type")

// Extractor produces text from document bytes.
type Extractor interface {
	// Extract returns the text content of data.
	Extract(ctx context.Context, data []byte, mediaType string) (string, error)

	// Supports reports whether the extractor handles the media type.
	Supports(mediaType string) bool

	// Name returns the extractor identifier.
	Name() string
}

// Auto dispatches to the first extractor supporting the media type.
type Auto struct {
	extractors []Extractor
}

// NewAuto creates a dispatcher over the given extractors, tried in order.
func NewAuto(extractors ...Extractor) *Auto {
	return &Auto{extractors: extractors}
}

// Default returns a dispatcher over every built-in extractor.
func Default() *Auto {
	return NewAuto(NewText(), NewHTML(), NewPDF(), NewSpreadsheet())
}

func (a *Auto) Name() string {
	names := make([]string, len(a.extractors))
	for i, e := range a.extractors {
		names[i] = e.Name()
	}
	return "auto(" + strings.Join(names, ",") + ")"
}

func (a *Auto) Supports(mediaType string) bool {
	return a.find(mediaType) != nil
}

func (a *Auto) Extract(ctx context.Context, data []byte, mediaType string) (string, error) {
	e := a.find(mediaType)
	if e == nil {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedMediaType, mediaType)
	}
	logger.Debug("extracting text", "extractor", e.Name(), "media_type", mediaType, "bytes", len(data))
	return e.Extract(ctx, data, mediaType)
}

func (a *Auto) find(mediaType string) Extractor {
	mt := baseType(mediaType)
	for _, e := range a.extractors {
		if e.Supports(mt) {
			return e
		}
	}
	return nil
}

// baseType strips parameters such as "; charset=utf-8".
func baseType(mediaType string) string {
	mt, _, _ := strings.Cut(mediaType, ";")
	return strings.ToLower(strings.TrimSpace(mt))
}
