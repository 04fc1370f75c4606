package loaders

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/extrame/xls"
	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/enterprise-rag/internal/core/domain"
)

// maxLegacyRows caps how many rows are read from a binary workbook.
const maxLegacyRows = 1 << 20

// SpreadsheetLoader emits every non-empty row of every sheet, one line per row.
// Binary .xls workbooks go through a BIFF reader, everything else through
// excelize.
type SpreadsheetLoader struct{}

func (SpreadsheetLoader) Extract(_ context.Context, path string) (string, error) {
	if strings.EqualFold(filepath.Ext(path), ".xls") {
		return extractLegacyWorkbook(path)
	}
	f, err := excelize.OpenFile(path)
	if err != nil {
		return "", fmt.Errorf("open spreadsheet %s: %w", path, err)
	}
	defer f.Close()

	var lines []string
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return "", fmt.Errorf("read sheet %q of %s: %w", sheet, path, err)
		}
		lines = appendRows(lines, rows)
	}
	return strings.Join(lines, "\n"), nil
}

func extractLegacyWorkbook(path string) (text string, err error) {
	name := filepath.Base(path)
	// The BIFF parser panics on truncated records.
	defer func() {
		if r := recover(); r != nil {
			text, err = "", domain.InvalidInput("extract spreadsheet", "%s is not a readable .xls workbook: %v", name, r)
		}
	}()

	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open spreadsheet %s: %w", path, err)
	}
	defer f.Close()

	wb, err := xls.OpenReader(f, "utf-8")
	if err != nil {
		return "", domain.InvalidInput("extract spreadsheet", "%s is not a readable .xls workbook: %v", name, err)
	}
	if wb == nil {
		return "", domain.InvalidInput("extract spreadsheet", "%s has no Workbook stream", name)
	}
	return strings.Join(appendRows(nil, wb.ReadAllCells(maxLegacyRows)), "\n"), nil
}

// appendRows joins the trimmed non-empty cells of each row with a space.
func appendRows(lines []string, rows [][]string) []string {
	for _, row := range rows {
		cells := make([]string, 0, len(row))
		for _, cell := range row {
			if cell = strings.TrimSpace(cell); cell != "" {
				cells = append(cells, cell)
			}
		}
		if len(cells) > 0 {
			lines = append(lines, strings.Join(cells, " "))
		}
	}
	return lines
}
