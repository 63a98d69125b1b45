package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// loadXLSX reads every sheet as tab-separated rows under a "Sheet: <name>" heading. Each sheet
// counts as a page.
func loadXLSX(data []byte) (*Loaded, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open Excel: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	parts := make([]string, 0, len(sheets))
	for _, sheet := range sheets {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("get rows for sheet %q: %w", sheet, err)
		}
		var b strings.Builder
		b.WriteString("Sheet: " + sheet)
		for _, row := range rows {
			line := strings.TrimRight(strings.Join(row, "\t"), "\t")
			if line == "" {
				continue
			}
			b.WriteByte('\n')
			b.WriteString(line)
		}
		parts = append(parts, b.String())
	}
	return &Loaded{Text: strings.Join(parts, "\n\n"), PageCount: len(sheets)}, nil
}
