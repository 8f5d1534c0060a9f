package extractor

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/jamal-campbell/ai-tax-assistant/internal/core/domain"
)

// extractXLSX treats each sheet as one page. Rows are rendered as
// tab-separated lines so tabular figures keep their column alignment.
func extractXLSX(_ context.Context, r io.Reader) ([]domain.Page, error) {
	book, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer book.Close()

	sheets := book.GetSheetList()
	pages := make([]domain.Page, 0, len(sheets))
	for i, sheet := range sheets {
		rows, err := book.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
		}

		var sb strings.Builder
		sb.WriteString(sheet)
		sb.WriteString("\n")
		for _, row := range rows {
			line := strings.TrimSpace(strings.Join(row, "\t"))
			if line == "" {
				continue
			}
			sb.WriteString(line)
			sb.WriteString("\n")
		}

		text := strings.TrimSpace(sb.String())
		if text == sheet {
			continue // empty sheet
		}
		pages = append(pages, domain.Page{Number: i + 1, Text: text})
	}
	return pages, nil
}
