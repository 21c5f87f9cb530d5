package report_test

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/warp/renewal-engine/renewal"
	"github.com/warp/renewal-engine/report"
)

// =============================================================================
// CSV
// =============================================================================

func TestParseCSV_CanonicalizesHeaders(t *testing.T) {
	// GIVEN: A carrier export with a BOM, alias headers and an unknown column
	input := "\ufeffPolicy #,Effective Date,First Name,Last Name,Prior Premium,New Premium,Agent Code\n" +
		"pol-1, 03/15/2025,Ada,Lovelace,\"$1,000.00\",1200,X1\n" +
		",,,,,,\n" +
		"POL-2,2025-03-20,Alan,Turing,,,\n"

	// WHEN: Parsing it
	rows, err := report.ParseCSV(strings.NewReader(input))

	// THEN: Two rows keyed by canonical columns, the blank line skipped
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "pol-1", rows[0][renewal.ColPolicyNumber])
	assert.Equal(t, "03/15/2025", rows[0][renewal.ColEffectiveDate])
	assert.Equal(t, "$1,000.00", rows[0][renewal.ColPremiumOld])
	assert.Equal(t, "1200", rows[0][renewal.ColPremiumNew])
	assert.Equal(t, "Turing", rows[1][renewal.ColLastName])

	rec, err := renewal.ParseRow(0, renewal.Window{
		Start: renewal.NewDate(2025, 3, 1), End: renewal.NewDate(2025, 3, 31),
	}, rows[0])
	require.NoError(t, err)
	assert.Equal(t, renewal.BucketHigh, rec.Bucket())
}

func TestParseCSV_DuplicateColumnFirstWins(t *testing.T) {
	input := "Policy Number,Policy,Renewal Date\nA1,B2,2025-03-01\n"

	rows, err := report.ParseCSV(strings.NewReader(input))

	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "A1", rows[0][renewal.ColPolicyNumber])
}

func TestParseCSV_Errors(t *testing.T) {
	_, err := report.ParseCSV(strings.NewReader(""))
	assert.ErrorIs(t, err, report.ErrEmptyReport)

	_, err = report.ParseCSV(strings.NewReader("policy_number,renewal_effective_date\nP1,2025-03-01,extra\n"))
	assert.Error(t, err)
}

func TestParse_DispatchesOnExtension(t *testing.T) {
	rows, err := report.Parse("March.CSV", strings.NewReader("policy_number\nP1\n"))
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	_, err = report.Parse("march.pdf", strings.NewReader(""))
	assert.ErrorIs(t, err, report.ErrUnsupportedFormat)
}

// =============================================================================
// XLSX
// =============================================================================

func writeWorkbook(t *testing.T, rows [][]any) string {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	sheet := f.GetSheetName(0)
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow(sheet, cell, &row))
	}

	path := filepath.Join(t.TempDir(), "report.xlsx")
	require.NoError(t, f.SaveAs(path))
	return path
}

func TestParseXLSX_FirstSheet(t *testing.T) {
	// GIVEN: A workbook with alias headers, a blank row and a short row
	path := writeWorkbook(t, [][]any{
		{"Policy No", "Renewal Date", "Insured Last Name", "Current Premium", "Renewal Premium", "Multi Line"},
		{"P-1", "2025-03-05", "Hopper", 1000, 1040, "Y"},
		{nil, nil, nil, nil, nil, nil},
		{"P-2", "2025-03-06"},
	})

	// WHEN: Parsing the file
	rows, err := report.ParseFile(path)

	// THEN: Rows use canonical columns, short rows are padded
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "P-1", rows[0][renewal.ColPolicyNumber])
	assert.Equal(t, "Hopper", rows[0][renewal.ColLastName])
	assert.Equal(t, "1000", rows[0][renewal.ColPremiumOld])
	assert.Equal(t, "Y", rows[0][renewal.ColMultiLine])
	assert.Equal(t, "P-2", rows[1][renewal.ColPolicyNumber])
	assert.Equal(t, "", rows[1][renewal.ColPremiumNew])
}

func TestParseXLSX_DuplicateColumnFirstWins(t *testing.T) {
	// GIVEN: Two headers for the policy column, and a repeated header
	path := writeWorkbook(t, [][]any{
		{"Policy Number", "Policy", "Renewal Date", "Last Name", "Last Name"},
		{"A1", "B2", "2025-03-01", "Hopper", "Lamarr"},
	})

	// WHEN: Parsing it
	rows, err := report.ParseFile(path)

	// THEN: The left-most column wins, the same as for CSV
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "A1", rows[0][renewal.ColPolicyNumber])
	assert.Equal(t, "Hopper", rows[0][renewal.ColLastName])

	csvRows, err := report.ParseCSV(strings.NewReader(
		"Policy Number,Policy,Renewal Date,Last Name,Last Name\nA1,B2,2025-03-01,Hopper,Lamarr\n"))
	require.NoError(t, err)
	assert.Equal(t, csvRows[0][renewal.ColPolicyNumber], rows[0][renewal.ColPolicyNumber])
	assert.Equal(t, csvRows[0][renewal.ColLastName], rows[0][renewal.ColLastName])
}

func TestParseXLSX_EmptySheet(t *testing.T) {
	path := writeWorkbook(t, nil)
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	_, err = report.Parse("empty.xlsx", bytes.NewReader(data))

	assert.ErrorIs(t, err, report.ErrEmptyReport)
}

func TestParseXLSX_NotAWorkbook(t *testing.T) {
	_, err := report.ParseXLSX(strings.NewReader("policy_number\nP1\n"))

	assert.Error(t, err)
}
