package extractor

import (
	"bytes"
	"context"
	"slices"
	"strings"
)

var textTypes = []string{
	"application/json",
	"application/xml",
	"application/x-yaml",
	"application/yaml",
}

// Text passes textual documents through, replacing invalid UTF-8.
type Text struct{}

func NewText() *Text { return &Text{} }

func (*Text) Name() string { return "text" }

func (*Text) Supports(mediaType string) bool {
	mt := baseType(mediaType)
	if mt == "text/html" {
		return false
	}
	return strings.HasPrefix(mt, "text/") || slices.Contains(textTypes, mt)
}

func (*Text) Extract(ctx context.Context, data []byte, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	return strings.ToValidUTF8(string(data), "\uFFFD"), nil
}
