/*
query.go - Filtering renewal records for the renewals desk

PURPOSE:
  Query turns a record collection plus a FilterSpec and sort criteria into
  the ordered list the UI shows. It is a pure function over an in-memory
  slice: no store access, no mutation of the input, no errors.

FILTERS (all ANDed, each independently togglable):
  View              active (default) / dropped / all, on DroppedFromReportAt
  PriorityOnly      starred OR premium change > 10% OR "Renewal Not Taken"
                    OR still uncontacted
  HideRenewalTaken  drop "Renewal Taken"
  HideInActiveAudit drop policies in AuditPolicies (active cancel-audits)
  FirstTermOnly     keep first-term renewals
  ChartDate         effective date equals the date
  ChartDayOfWeek    effective date falls on weekday 0 (Sunday) .. 6
  Search            case-insensitive substring of "first last" or policy #
  BundledStatus, ProductName, CurrentStatus: exact match

Unrecognized values ("all", "", a weekday of 9, an unknown status) switch
the predicate off instead of hiding everything.

SEE ALSO:
  - sort.go: Multi-key ordering
  - paginate.go: Paging of the result
*/
package renewal

import (
	"strings"

	"github.com/shopspring/decimal"
)

// PriorityPremiumThreshold is the premium change (in percent) above which a
// record counts as priority without being starred. It is deliberately not
// the 15% "high" bucket boundary; both values come from the business rules.
var PriorityPremiumThreshold = decimal.NewFromInt(10)

// View selects records by drop state.
type View string

const (
	ViewActive  View = "active"
	ViewDropped View = "dropped"
	ViewAll     View = "all"
)

// FilterSpec is the full set of toggles for one query. Session-persisted UI
// toggles are passed in on every call; the engine keeps no state.
type FilterSpec struct {
	View View

	PriorityOnly      bool
	HideRenewalTaken  bool
	HideInActiveAudit bool
	FirstTermOnly     bool

	// AuditPolicies holds policy numbers under active cancel-audit.
	// Only consulted when HideInActiveAudit is set. See AuditSet.
	AuditPolicies map[string]struct{}

	// ChartDate and ChartDayOfWeek are independent here even though the UI
	// only ever sets one of them.
	ChartDate      *Date
	ChartDayOfWeek *int

	Search        string
	BundledStatus string
	ProductName   string
	CurrentStatus string
}

// IsPriority reports whether a record qualifies for the priority view.
func IsPriority(r *RenewalRecord) bool {
	if r.IsPriority {
		return true
	}
	if r.PremiumChangePercent.Valid && r.PremiumChangePercent.Decimal.GreaterThan(PriorityPremiumThreshold) {
		return true
	}
	return r.RenewalStatus == RenewalNotTaken || r.CurrentStatus == StatusUncontacted
}

// Match reports whether r passes every enabled predicate.
func (f FilterSpec) Match(r *RenewalRecord) bool {
	switch f.View {
	case ViewDropped:
		if !r.IsDropped() {
			return false
		}
	case ViewAll:
	default:
		if r.IsDropped() {
			return false
		}
	}

	if f.PriorityOnly && !IsPriority(r) {
		return false
	}
	if f.HideRenewalTaken && r.RenewalStatus == RenewalTaken {
		return false
	}
	if f.HideInActiveAudit {
		if _, audited := f.AuditPolicies[normalizePolicyNumber(r.PolicyNumber)]; audited {
			return false
		}
	}
	if f.FirstTermOnly && !r.IsFirstTerm() {
		return false
	}
	if f.ChartDate != nil && !f.ChartDate.IsZero() && !r.RenewalEffectiveDate.Equal(*f.ChartDate) {
		return false
	}
	if dow := f.ChartDayOfWeek; dow != nil && *dow >= 0 && *dow <= 6 {
		if r.RenewalEffectiveDate.IsZero() || int(r.RenewalEffectiveDate.Weekday()) != *dow {
			return false
		}
	}
	if !matchesSearch(r, f.Search) {
		return false
	}
	if b := MultiLine(strings.ToLower(strings.TrimSpace(f.BundledStatus))); b.Valid() && r.MultiLineIndicator != b {
		return false
	}
	if p := strings.TrimSpace(f.ProductName); p != "" && !strings.EqualFold(p, "all") && r.ProductName != p {
		return false
	}
	if s := WorkflowStatus(strings.ToLower(strings.TrimSpace(f.CurrentStatus))); s.Valid() && r.CurrentStatus != s {
		return false
	}
	return true
}

func matchesSearch(r *RenewalRecord, search string) bool {
	q := strings.ToLower(strings.TrimSpace(search))
	if q == "" {
		return true
	}
	name := strings.ToLower(r.FirstName + " " + r.LastName)
	return strings.Contains(name, q) || strings.Contains(strings.ToLower(r.PolicyNumber), q)
}

// Query filters and sorts records. The input slice is not modified and the
// returned records do not share pointers with it.
func Query(records []RenewalRecord, filters FilterSpec, criteria []SortCriterion) []RenewalRecord {
	out := make([]RenewalRecord, 0, len(records))
	for i := range records {
		if filters.Match(&records[i]) {
			out = append(out, records[i].Clone())
		}
	}
	SortRecords(out, criteria, filters.PriorityOnly)
	return out
}

// =============================================================================
// SUMMARY - Derived metrics over a record set
// =============================================================================

// Summary counts records by the derived views the desk charts.
type Summary struct {
	Total     int
	Active    int
	Dropped   int
	Priority  int
	FirstTerm int
	ByBucket  map[Bucket]int
	ByStatus  map[WorkflowStatus]int
	ByRenewal map[RenewalStatus]int
}

// Summarize computes metrics over every record given, dropped included.
// Priority, first-term and the breakdowns only count active records.
func Summarize(records []RenewalRecord) Summary {
	s := Summary{
		ByBucket:  make(map[Bucket]int),
		ByStatus:  make(map[WorkflowStatus]int),
		ByRenewal: make(map[RenewalStatus]int),
	}
	for i := range records {
		r := &records[i]
		s.Total++
		if r.IsDropped() {
			s.Dropped++
			continue
		}
		s.Active++
		if IsPriority(r) {
			s.Priority++
		}
		if r.IsFirstTerm() {
			s.FirstTerm++
		}
		s.ByBucket[r.Bucket()]++
		s.ByStatus[r.CurrentStatus]++
		s.ByRenewal[r.RenewalStatus]++
	}
	return s
}
