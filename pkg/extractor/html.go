package extractor

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var horizontalSpace = regexp.MustCompile(`[ \t\f\v\x{00a0}]+`)

const (
	noiseSelectors  = "script, style, noscript, svg, iframe, template, object, embed, head"
	hiddenSelectors = `[hidden], [aria-hidden="true"], [style*="display:none"], [style*="display: none"]`
	blockSelectors  = "p, div, section, article, header, footer, main, aside, nav, ul, ol, li, " +
		"dl, dt, dd, blockquote, pre, address, figure, figcaption, form, fieldset, h1, h2, h3, h4, h5, h6, hr"
)

// HTML extracts readable text from HTML. Each block element becomes its own
// line and tables are rendered as pipe separated rows.
type HTML struct {
	// StripNavigation also removes nav, header and footer elements.
	StripNavigation bool
}

func NewHTML() *HTML { return &HTML{} }

func (*HTML) Name() string { return "html" }

func (*HTML) Supports(mediaType string) bool {
	mt := baseType(mediaType)
	return mt == "text/html" || mt == "application/xhtml+xml"
}

func (h *HTML) Extract(ctx context.Context, data []byte, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}

	doc.Find(noiseSelectors).Remove()
	doc.Find(hiddenSelectors).Remove()
	if h.StripNavigation {
		doc.Find("nav, header, footer").Remove()
	}

	doc.Find("table").Each(func(_ int, table *goquery.Selection) {
		var rows []string
		table.Find("tr").Each(func(_ int, tr *goquery.Selection) {
			var cells []string
			tr.Find("th, td").Each(func(_ int, cell *goquery.Selection) {
				cells = append(cells, collapse(cell.Text()))
			})
			if len(cells) > 0 {
				rows = append(rows, strings.Join(cells, " | "))
			}
		})
		escaped := make([]string, len(rows))
		for i, r := range rows {
			escaped[i] = html.EscapeString(r)
		}
		table.ReplaceWithHtml("<div>" + strings.Join(escaped, "<br>") + "</div>")
	})

	doc.Find("h1, h2, h3, h4, h5, h6").Each(func(_ int, s *goquery.Selection) {
		level := int(goquery.NodeName(s)[1] - '0')
		s.PrependHtml(strings.Repeat("#", level) + " ")
	})
	doc.Find("li").Each(func(_ int, s *goquery.Selection) {
		s.PrependHtml("- ")
	})
	doc.Find("br").ReplaceWithHtml("\n")
	doc.Find(blockSelectors).Each(func(_ int, s *goquery.Selection) {
		s.PrependHtml("\n")
		s.AppendHtml("\n")
	})

	root := doc.Find("body")
	if root.Length() == 0 {
		root = doc.Selection
	}
	return tidyLines(root.Text()), nil
}

func collapse(s string) string {
	return strings.TrimSpace(horizontalSpace.ReplaceAllString(strings.ReplaceAll(s, "\n", " "), " "))
}

// tidyLines collapses spaces within lines and drops empty lines.
func tidyLines(text string) string {
	var out []string
	for line := range strings.SplitSeq(text, "\n") {
		if line = strings.TrimSpace(horizontalSpace.ReplaceAllString(line, " ")); line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
