package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/warp/renewal-engine/renewal"
)

// ParseXLSX reads the first worksheet of a workbook. Cells come back as
// their formatted text, so dates arrive in whatever layout the sheet shows.
func ParseXLSX(r io.Reader) ([]renewal.RawRow, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrEmptyReport
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %q: %w", sheets[0], err)
	}
	if len(rows) == 0 || isBlank(rows[0]) {
		return nil, ErrEmptyReport
	}

	// Columns are resolved by position, so the left-most of two headers
	// naming the same column wins, as in ParseCSV.
	header := canonicalHeader(rows[0])
	var out []renewal.RawRow
	for _, cells := range rows[1:] {
		// excelize trims trailing empty cells, so rows can be shorter
		// than the header.
		if isBlank(cells) {
			continue
		}
		raw := make(renewal.RawRow, len(header))
		for i, col := range header {
			if strings.HasPrefix(col, ignoredColumnPrefix) {
				continue
			}
			if i < len(cells) {
				raw[col] = strings.TrimSpace(cells[i])
			} else {
				raw[col] = ""
			}
		}
		out = append(out, raw)
	}
	return out, nil
}
