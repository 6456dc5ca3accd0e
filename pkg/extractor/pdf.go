package extractor

import (
	"context"
	"fmt"
	"strings"

	"github.com/gen2brain/go-fitz"

	"github.com/Aquilesorei/strutex/internal/logger"
)

// PDF extracts the text layer of a PDF with MuPDF. Scanned pages without a
// text layer yield no text; those documents need a vision backend.
type PDF struct {
	// MaxPages limits how many pages are read. Zero reads all pages.
	MaxPages int
}

func NewPDF() *PDF { return &PDF{} }

func (*PDF) Name() string { return "pdf" }

func (*PDF) Supports(mediaType string) bool { return baseType(mediaType) == "application/pdf" }

func (p *PDF) Extract(ctx context.Context, data []byte, _ string) (string, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	defer doc.Close()

	pages := doc.NumPage()
	if p.MaxPages > 0 && pages > p.MaxPages {
		pages = p.MaxPages
	}

	var b strings.Builder
	for i := range pages {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		text, err := doc.Text(i)
		if err != nil {
			logger.Warn("pdf page text failed", "page", i+1, "error", err)
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(strings.TrimSpace(text))
	}

	logger.Debug("extracted pdf text", "pages", pages, "chars", b.Len())
	return b.String(), nil
}
