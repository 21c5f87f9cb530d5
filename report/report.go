/*
Package report turns uploaded carrier renewal reports into renewal.RawRow.

PURPOSE:
  Carriers export renewal reports as CSV or XLSX with their own header
  spellings. This package only reads cells; validation, classification and
  reconciliation stay in the renewal package.

FORMATS:
  .csv         encoding/csv + csvutil, header aliases canonicalized first
  .xlsx/.xlsm  excelize, first worksheet, first row is the header

Rows whose cells are all blank are skipped. Everything else is passed
through untouched so the engine can reject bad rows with a reason.

SEE ALSO:
  - renewal/rows.go: column aliases and row validation
*/
package report

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/warp/renewal-engine/renewal"
)

// ErrUnsupportedFormat is returned for files that are neither CSV nor XLSX.
var ErrUnsupportedFormat = errors.New("unsupported report format")

// ErrEmptyReport is returned for a file without a header row.
var ErrEmptyReport = errors.New("report has no header row")

// Parse reads a report, choosing the parser from filename's extension.
func Parse(filename string, r io.Reader) ([]renewal.RawRow, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv", ".txt":
		return ParseCSV(r)
	case ".xlsx", ".xlsm":
		return ParseXLSX(r)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(filename))
	}
}

// ParseFile opens path and parses it.
func ParseFile(path string) ([]renewal.RawRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open report: %w", err)
	}
	defer f.Close()
	return Parse(filepath.Base(path), f)
}

func isBlank(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
