package extractor

import (
	"bytes"
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/xuri/excelize/v2"
)

var spreadsheetTypes = []string{
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	"application/vnd.ms-excel.sheet.macroenabled.12",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.template",
}

// Spreadsheet renders every sheet of an XLSX workbook as pipe separated
// rows under a "## Sheet: name" heading.
type Spreadsheet struct {
	// MaxRows limits the rows read per sheet. Zero reads all rows.
	MaxRows int
}

func NewSpreadsheet() *Spreadsheet { return &Spreadsheet{} }

func (*Spreadsheet) Name() string { return "spreadsheet" }

func (*Spreadsheet) Supports(mediaType string) bool {
	return slices.Contains(spreadsheetTypes, baseType(mediaType))
}

func (s *Spreadsheet) Extract(ctx context.Context, data []byte, _ string) (string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("open workbook: %w", err)
	}
	defer func() { _ = f.Close() }()

	var sections []string
	for _, sheet := range f.GetSheetList() {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		rows, err := f.GetRows(sheet)
		if err != nil {
			return "", fmt.Errorf("read sheet %q: %w", sheet, err)
		}
		if s.MaxRows > 0 && len(rows) > s.MaxRows {
			rows = rows[:s.MaxRows]
		}

		lines := []string{"## Sheet: " + sheet}
		for _, row := range rows {
			if !slices.ContainsFunc(row, func(c string) bool { return strings.TrimSpace(c) != "" }) {
				continue
			}
			lines = append(lines, strings.Join(row, " | "))
		}
		sections = append(sections, strings.Join(lines, "\n"))
	}
	return strings.Join(sections, "\n\n"), nil
}
