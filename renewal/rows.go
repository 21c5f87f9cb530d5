/*
rows.go - Validation and classification of untyped upload rows

PURPOSE:
  Report parsers hand the engine rows as loose string maps (column -> cell).
  ParseRow checks the required natural-key fields, parses numbers and dates,
  runs the classifier and returns a RenewalRecord with only descriptive
  fields set. Workflow and lineage are the reconciler's job.

REQUIRED FIELDS:
  policy_number           natural key within the agency
  renewal_effective_date  must fall inside the upload window

Rows missing either are rejected with a *MalformedRowError. A non-key cell
that is present but unparseable (e.g. "abc" as a premium) also rejects the
row: the engine does not guess.

COLUMN ALIASES:
  Header names are normalized (lower-case, spaces and dashes to "_") and then
  mapped through columnAliases so "Policy #", "Policy No" and "policy_number"
  all land on the same field.
*/
package renewal

import (
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// RawRow is one parsed report row keyed by column name.
type RawRow map[string]string

// Canonical column names.
const (
	ColPolicyNumber  = "policy_number"
	ColEffectiveDate = "renewal_effective_date"
	ColFirstName     = "first_name"
	ColLastName      = "last_name"
	ColProductName   = "product_name"
	ColProductCode   = "product_code"
	ColPremiumOld    = "premium_old"
	ColPremiumNew    = "premium_new"
	ColRenewalStatus = "renewal_status"
	ColAmountDue     = "amount_due"
	ColMultiLine     = "multi_line_indicator"
	ColOriginalYear  = "original_year"
)

var columnAliases = map[string]string{
	"policy":                  ColPolicyNumber,
	"policy_no":               ColPolicyNumber,
	"policy_#":                ColPolicyNumber,
	"policy_num":              ColPolicyNumber,
	"effective_date":          ColEffectiveDate,
	"renewal_date":            ColEffectiveDate,
	"renewal_effective":       ColEffectiveDate,
	"eff_date":                ColEffectiveDate,
	"first":                   ColFirstName,
	"insured_first_name":      ColFirstName,
	"last":                    ColLastName,
	"insured_last_name":       ColLastName,
	"product":                 ColProductName,
	"line_of_business":        ColProductName,
	"product_line_code":       ColProductCode,
	"old_premium":             ColPremiumOld,
	"prior_premium":           ColPremiumOld,
	"current_premium":         ColPremiumOld,
	"new_premium":             ColPremiumNew,
	"renewal_premium":         ColPremiumNew,
	"status":                  ColRenewalStatus,
	"due":                     ColAmountDue,
	"balance_due":             ColAmountDue,
	"multi_line":              ColMultiLine,
	"multiline":               ColMultiLine,
	"multi_line_ind":          ColMultiLine,
	"bundled":                 ColMultiLine,
	"orig_year":               ColOriginalYear,
	"original_inception_year": ColOriginalYear,
	"inception_year":          ColOriginalYear,
}

// CanonicalColumn normalizes a header name to the engine's column set.
// Unknown headers are returned normalized but otherwise unchanged.
func CanonicalColumn(header string) string {
	h := normalizeToken(header)
	h = strings.NewReplacer(".", "", "__", "_").Replace(h)
	if c, ok := columnAliases[h]; ok {
		return c
	}
	return h
}

// Normalize returns a copy of the row with canonical column names and
// trimmed cells. When two headers land on the same column the first
// non-empty value in header order wins.
func (r RawRow) Normalize() RawRow {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(RawRow, len(r))
	for _, k := range keys {
		col := CanonicalColumn(k)
		v := strings.TrimSpace(r[k])
		if existing, ok := out[col]; ok && existing != "" {
			continue
		}
		out[col] = v
	}
	return out
}

// PolicyNumber returns the row's natural key, normalized.
func (r RawRow) PolicyNumber() string {
	return normalizePolicyNumber(r.Normalize()[ColPolicyNumber])
}

func normalizePolicyNumber(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// ParseRow validates and classifies one upload row. index is the row's
// position in the upload and is only used for error reporting.
func ParseRow(index int, window Window, raw RawRow) (RenewalRecord, error) {
	row := raw.Normalize()
	policy := normalizePolicyNumber(row[ColPolicyNumber])

	fail := func(field, reason string) (RenewalRecord, error) {
		return RenewalRecord{}, &MalformedRowError{Row: index, PolicyNumber: policy, Field: field, Reason: reason}
	}

	if policy == "" {
		return fail(ColPolicyNumber, "missing")
	}

	rawDate := row[ColEffectiveDate]
	if rawDate == "" {
		return fail(ColEffectiveDate, "missing")
	}
	effective, err := ParseDate(rawDate)
	if err != nil {
		return fail(ColEffectiveDate, err.Error())
	}
	if !window.Contains(effective) {
		return fail(ColEffectiveDate, "outside upload window "+window.Key())
	}

	rec := RenewalRecord{
		PolicyNumber:         policy,
		RenewalEffectiveDate: effective,
		FirstName:            row[ColFirstName],
		LastName:             row[ColLastName],
		ProductName:          row[ColProductName],
		ProductCode:          row[ColProductCode],
		RenewalStatus:        ParseRenewalStatus(row[ColRenewalStatus]),
		MultiLineIndicator:   ClassifyBundling(row[ColMultiLine]),
	}

	for _, f := range []struct {
		col string
		dst *decimal.NullDecimal
	}{
		{ColPremiumOld, &rec.PremiumOld},
		{ColPremiumNew, &rec.PremiumNew},
		{ColAmountDue, &rec.AmountDue},
	} {
		v, err := parseMoney(row[f.col])
		if err != nil {
			return fail(f.col, err.Error())
		}
		*f.dst = v
	}
	rec.PremiumChangePercent = PremiumChange(rec.PremiumOld, rec.PremiumNew)

	if y := row[ColOriginalYear]; y != "" {
		year, err := strconv.Atoi(y)
		if err != nil || year < 1900 || year > 9999 {
			return fail(ColOriginalYear, "not a year: "+y)
		}
		rec.OriginalYear = &year
	}

	return rec, nil
}

// parseMoney accepts "1,234.50", "$1234.5", "(12.00)" and blanks.
func parseMoney(s string) (decimal.NullDecimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.NullDecimal{}, nil
	}
	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = s[1 : len(s)-1]
	}
	s = strings.NewReplacer("$", "", ",", "", " ", "").Replace(s)
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	if negative {
		d = d.Neg()
	}
	return decimal.NullDecimal{Decimal: d, Valid: true}, nil
}
