package renewal

import (
	"slices"
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SORT CRITERIA
// =============================================================================

type Column string

const (
	ColumnCustomerName   Column = "customer_name"
	ColumnFirstName      Column = "first_name"
	ColumnLastName       Column = "last_name"
	ColumnPolicyNumber   Column = "policy_number"
	ColumnProductName    Column = "product_name"
	ColumnEffectiveDate  Column = "renewal_effective_date"
	ColumnPremiumOld     Column = "premium_old"
	ColumnPremiumNew     Column = "premium_new"
	ColumnPremiumChange  Column = "premium_change_percent"
	ColumnAmountDue      Column = "amount_due"
	ColumnRenewalStatus  Column = "renewal_status"
	ColumnMultiLine      Column = "multi_line_indicator"
	ColumnCurrentStatus  Column = "current_status"
	ColumnPriority       Column = "is_priority"
	ColumnOriginalYear   Column = "original_year"
	ColumnDroppedAt      Column = "dropped_from_report_at"
	ColumnAssignedMember Column = "assigned_team_member_id"
)

type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

// SortCriterion is one (column, direction) pair. Earlier criteria win.
type SortCriterion struct {
	Column    Column
	Direction Direction
}

// comparator returns <0, 0, >0. fixed means the result already encodes a
// null placement and must not be flipped by direction.
type comparator func(a, b *RenewalRecord) (c int, fixed bool)

// Enum rank tables.
var (
	multiLineRank = map[MultiLine]int{MultiLineYes: 2, MultiLineNo: 1, MultiLineNA: 0}
	renewalRank   = map[RenewalStatus]int{RenewalNotTaken: 3, RenewalPending: 2, RenewalTaken: 1, RenewalUnknown: 0}
	workflowRank  = map[WorkflowStatus]int{StatusUncontacted: 0, StatusPending: 1, StatusSuccess: 2, StatusUnsuccessful: 3}
)

var comparators = map[Column]comparator{
	ColumnCustomerName: func(a, b *RenewalRecord) (int, bool) {
		return compareFold(a.FirstName+" "+a.LastName, b.FirstName+" "+b.LastName), false
	},
	ColumnFirstName:    func(a, b *RenewalRecord) (int, bool) { return compareFold(a.FirstName, b.FirstName), false },
	ColumnLastName:     func(a, b *RenewalRecord) (int, bool) { return compareFold(a.LastName, b.LastName), false },
	ColumnPolicyNumber: func(a, b *RenewalRecord) (int, bool) { return compareFold(a.PolicyNumber, b.PolicyNumber), false },
	ColumnProductName:  func(a, b *RenewalRecord) (int, bool) { return compareFold(a.ProductName, b.ProductName), false },
	ColumnEffectiveDate: func(a, b *RenewalRecord) (int, bool) {
		return compareInt64(a.RenewalEffectiveDate.UnixMilli(), b.RenewalEffectiveDate.UnixMilli()), false
	},
	ColumnPremiumOld:    func(a, b *RenewalRecord) (int, bool) { return compareNullDecimal(a.PremiumOld, b.PremiumOld) },
	ColumnPremiumNew:    func(a, b *RenewalRecord) (int, bool) { return compareNullDecimal(a.PremiumNew, b.PremiumNew) },
	ColumnPremiumChange: func(a, b *RenewalRecord) (int, bool) { return compareNullDecimal(a.PremiumChangePercent, b.PremiumChangePercent) },
	ColumnAmountDue:     func(a, b *RenewalRecord) (int, bool) { return compareNullDecimal(a.AmountDue, b.AmountDue) },
	ColumnRenewalStatus: func(a, b *RenewalRecord) (int, bool) {
		return compareInt64(int64(renewalRank[a.RenewalStatus]), int64(renewalRank[b.RenewalStatus])), false
	},
	ColumnMultiLine: func(a, b *RenewalRecord) (int, bool) {
		return compareInt64(int64(multiLineRank[a.MultiLineIndicator]), int64(multiLineRank[b.MultiLineIndicator])), false
	},
	ColumnCurrentStatus: func(a, b *RenewalRecord) (int, bool) {
		return compareInt64(int64(workflowRank[a.CurrentStatus]), int64(workflowRank[b.CurrentStatus])), false
	},
	ColumnPriority: func(a, b *RenewalRecord) (int, bool) {
		return compareInt64(boolRank(a.IsPriority), boolRank(b.IsPriority)), false
	},
	ColumnOriginalYear: func(a, b *RenewalRecord) (int, bool) {
		if c, decided := nullsLast(a.OriginalYear == nil, b.OriginalYear == nil); decided {
			return c, true
		}
		return compareInt64(int64(*a.OriginalYear), int64(*b.OriginalYear)), false
	},
	ColumnDroppedAt: func(a, b *RenewalRecord) (int, bool) {
		if c, decided := nullsLast(a.DroppedFromReportAt == nil, b.DroppedFromReportAt == nil); decided {
			return c, true
		}
		return compareInt64(a.DroppedFromReportAt.UnixMilli(), b.DroppedFromReportAt.UnixMilli()), false
	},
	ColumnAssignedMember: func(a, b *RenewalRecord) (int, bool) {
		if c, decided := nullsLast(a.AssignedTeamMemberID == nil, b.AssignedTeamMemberID == nil); decided {
			return c, true
		}
		return compareFold(*a.AssignedTeamMemberID, *b.AssignedTeamMemberID), false
	},
}

// columnLookup accepts snake_case and camelCase spellings of a column.
var columnLookup = func() map[string]Column {
	m := make(map[string]Column, len(comparators))
	for c := range comparators {
		m[columnKey(string(c))] = c
	}
	m[columnKey("effective_date")] = ColumnEffectiveDate
	m[columnKey("premium_change")] = ColumnPremiumChange
	m[columnKey("bundled_status")] = ColumnMultiLine
	m[columnKey("priority")] = ColumnPriority
	return m
}()

func columnKey(s string) string {
	return strings.ToLower(strings.NewReplacer("_", "", "-", "", " ", "").Replace(s))
}

// ResolveColumn maps a client column name to a known Column. ok is false for
// unknown names; such criteria still sort (as no-ops) rather than fail.
func ResolveColumn(name string) (Column, bool) {
	c, ok := columnLookup[columnKey(name)]
	return c, ok
}

func compareWith(c SortCriterion, a, b *RenewalRecord) int {
	col, ok := ResolveColumn(string(c.Column))
	if !ok {
		return 0
	}
	v, fixed := comparators[col](a, b)
	if fixed || v == 0 {
		return v
	}
	if c.Direction == Desc {
		return -v
	}
	return v
}

// CompareRecords orders a and b by criteria, falling back to effective date
// then id. priorityFirst puts starred records ahead of everything else.
func CompareRecords(a, b *RenewalRecord, criteria []SortCriterion, priorityFirst bool) int {
	if priorityFirst && a.IsPriority != b.IsPriority {
		if a.IsPriority {
			return -1
		}
		return 1
	}
	for _, c := range criteria {
		if v := compareWith(c, a, b); v != 0 {
			return v
		}
	}
	if v := compareInt64(a.RenewalEffectiveDate.UnixMilli(), b.RenewalEffectiveDate.UnixMilli()); v != 0 {
		return v
	}
	return strings.Compare(string(a.ID), string(b.ID))
}

// SortRecords sorts in place. The fallback keys make the order total, so
// sorting an already sorted slice leaves it unchanged.
func SortRecords(records []RenewalRecord, criteria []SortCriterion, priorityFirst bool) {
	slices.SortStableFunc(records, func(a, b RenewalRecord) int {
		return CompareRecords(&a, &b, criteria, priorityFirst)
	})
}

// =============================================================================
// CLICK-TO-SORT
// =============================================================================

// ToggleSort returns the criteria after a header click on column.
//
//	plain click, column unsorted   -> [{column asc}]
//	plain click, column sorted     -> flip its direction, keep the rest
//	additive click, column unsorted -> append {column asc}
//	additive click, asc            -> desc
//	additive click, desc secondary -> remove it
//	additive click, desc primary   -> asc
//
// The input slice is not modified.
func ToggleSort(criteria []SortCriterion, column Column, additive bool) []SortCriterion {
	if c, ok := ResolveColumn(string(column)); ok {
		column = c
	}
	idx := -1
	for i, c := range criteria {
		if sameColumn(c.Column, column) {
			idx = i
			break
		}
	}

	out := make([]SortCriterion, len(criteria))
	copy(out, criteria)

	switch {
	case idx < 0 && !additive:
		return []SortCriterion{{Column: column, Direction: Asc}}
	case idx < 0:
		return append(out, SortCriterion{Column: column, Direction: Asc})
	case !additive:
		out[idx].Direction = flip(out[idx].Direction)
		return out
	case out[idx].Direction != Desc:
		out[idx].Direction = Desc
		return out
	case idx > 0:
		return append(out[:idx], out[idx+1:]...)
	default:
		out[idx].Direction = Asc
		return out
	}
}

func sameColumn(a, b Column) bool {
	return columnKey(string(a)) == columnKey(string(b))
}

func flip(d Direction) Direction {
	if d == Desc {
		return Asc
	}
	return Desc
}

// ParseSort reads "premium_change_percent:desc,customer_name" style specs.
// A missing or unknown direction means ascending.
func ParseSort(spec string) []SortCriterion {
	var out []SortCriterion
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		col, dir, _ := strings.Cut(part, ":")
		d := Asc
		if strings.EqualFold(strings.TrimSpace(dir), string(Desc)) {
			d = Desc
		}
		out = append(out, SortCriterion{Column: Column(strings.TrimSpace(col)), Direction: d})
	}
	return out
}

// FormatSort is the inverse of ParseSort.
func FormatSort(criteria []SortCriterion) string {
	parts := make([]string, len(criteria))
	for i, c := range criteria {
		d := c.Direction
		if d != Desc {
			d = Asc
		}
		parts[i] = string(c.Column) + ":" + string(d)
	}
	return strings.Join(parts, ",")
}

// =============================================================================
// HELPERS
// =============================================================================

func compareFold(a, b string) int {
	return strings.Compare(strings.ToLower(a), strings.ToLower(b))
}

func compareInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func compareNullDecimal(a, b decimal.NullDecimal) (int, bool) {
	if c, decided := nullsLast(!a.Valid, !b.Valid); decided {
		return c, true
	}
	return a.Decimal.Cmp(b.Decimal), false
}

// nullsLast places nulls after values in both directions.
func nullsLast(aNull, bNull bool) (int, bool) {
	switch {
	case aNull && bNull:
		return 0, true
	case aNull:
		return 1, true
	case bNull:
		return -1, true
	}
	return 0, false
}

func boolRank(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
