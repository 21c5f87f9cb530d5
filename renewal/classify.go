package renewal

import (
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// CLASSIFIER - Pure derivations from raw record fields
// =============================================================================
// Every function here is total: missing input yields a safe default, never a
// panic or an error.

var (
	highThreshold     = decimal.NewFromInt(15)
	moderateThreshold = decimal.NewFromInt(5)
	decreaseThreshold = decimal.NewFromInt(-5)
)

// ClassifyPremiumChange buckets a premium change percentage.
func ClassifyPremiumChange(percent decimal.NullDecimal) Bucket {
	if !percent.Valid {
		return BucketUnknown
	}
	p := percent.Decimal
	switch {
	case p.GreaterThan(highThreshold):
		return BucketHigh
	case p.GreaterThan(moderateThreshold):
		return BucketModerate
	case p.GreaterThanOrEqual(decreaseThreshold):
		return BucketMinimal
	default:
		return BucketDecrease
	}
}

// IsFirstTermRenewal is true when the renewal takes effect in the year right
// after the policy's original year. The product code is not consulted:
// annual terms are assumed for every product.
func IsFirstTermRenewal(_ string, originalYear *int, effective Date) bool {
	if originalYear == nil || *originalYear <= 0 || effective.IsZero() {
		return false
	}
	return effective.Year() == *originalYear+1
}

// ClassifyBundling maps the report's multi-line column to yes / no / n/a.
func ClassifyBundling(raw string) MultiLine {
	switch normalizeToken(raw) {
	case "yes", "y", "true", "1", "multi", "multiline", "multi_line", "bundled":
		return MultiLineYes
	case "no", "n", "false", "0", "mono", "monoline", "mono_line", "single", "unbundled":
		return MultiLineNo
	default:
		return MultiLineNA
	}
}

// ParseRenewalStatus maps report spellings onto the carrier status set.
func ParseRenewalStatus(raw string) RenewalStatus {
	switch normalizeToken(raw) {
	case "renewal_taken", "taken", "renewed":
		return RenewalTaken
	case "renewal_not_taken", "not_taken", "not_renewed", "nonrenewed", "non_renewed":
		return RenewalNotTaken
	case "pending", "renewal_pending":
		return RenewalPending
	default:
		return RenewalUnknown
	}
}

func normalizeToken(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(s)
}
