package report

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/jszwec/csvutil"

	"github.com/warp/renewal-engine/renewal"
)

// csvRow is one report line after headers are mapped to canonical columns.
type csvRow struct {
	PolicyNumber  string `csv:"policy_number"`
	EffectiveDate string `csv:"renewal_effective_date"`
	FirstName     string `csv:"first_name"`
	LastName      string `csv:"last_name"`
	ProductName   string `csv:"product_name"`
	ProductCode   string `csv:"product_code"`
	PremiumOld    string `csv:"premium_old"`
	PremiumNew    string `csv:"premium_new"`
	RenewalStatus string `csv:"renewal_status"`
	AmountDue     string `csv:"amount_due"`
	MultiLine     string `csv:"multi_line_indicator"`
	OriginalYear  string `csv:"original_year"`
}

func (c csvRow) raw() renewal.RawRow {
	return renewal.RawRow{
		renewal.ColPolicyNumber:  c.PolicyNumber,
		renewal.ColEffectiveDate: c.EffectiveDate,
		renewal.ColFirstName:     c.FirstName,
		renewal.ColLastName:      c.LastName,
		renewal.ColProductName:   c.ProductName,
		renewal.ColProductCode:   c.ProductCode,
		renewal.ColPremiumOld:    c.PremiumOld,
		renewal.ColPremiumNew:    c.PremiumNew,
		renewal.ColRenewalStatus: c.RenewalStatus,
		renewal.ColAmountDue:     c.AmountDue,
		renewal.ColMultiLine:     c.MultiLine,
		renewal.ColOriginalYear:  c.OriginalYear,
	}
}

func (c csvRow) blank() bool {
	return isBlank([]string{
		c.PolicyNumber, c.EffectiveDate, c.FirstName, c.LastName, c.ProductName, c.ProductCode,
		c.PremiumOld, c.PremiumNew, c.RenewalStatus, c.AmountDue, c.MultiLine, c.OriginalYear,
	})
}

// ParseCSV reads a CSV report. The header row is required.
func ParseCSV(r io.Reader) ([]renewal.RawRow, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrEmptyReport
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV headers: %w", err)
	}

	decoder, err := csvutil.NewDecoder(reader, canonicalHeader(header)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create CSV decoder: %w", err)
	}

	var rows []renewal.RawRow
	for {
		var row csvRow
		err := decoder.Decode(&row)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to decode CSV line %d: %w", len(rows)+2, err)
		}
		if row.blank() {
			continue
		}
		rows = append(rows, row.raw())
	}
	return rows, nil
}

// ignoredColumnPrefix marks header positions that carry no column.
const ignoredColumnPrefix = "_ignored_"

// canonicalHeader maps header cells onto canonical columns. A column seen
// twice keeps its first position; later copies are renamed so the decoder
// ignores them.
func canonicalHeader(header []string) []string {
	out := make([]string, len(header))
	seen := make(map[string]bool, len(header))
	for i, h := range header {
		if i == 0 {
			h = strings.TrimPrefix(h, "\ufeff")
		}
		col := renewal.CanonicalColumn(h)
		if col == "" || seen[col] {
			col = ignoredColumnPrefix + strconv.Itoa(i)
		}
		seen[col] = true
		out[i] = col
	}
	return out
}
