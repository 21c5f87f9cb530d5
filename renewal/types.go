/*
Package renewal provides the renewal record reconciliation and query engine.

PURPOSE:
  Carriers send agencies a renewal report for a date window (e.g. all
  policies renewing in March). Agencies upload that report again and again as
  the carrier refreshes it. This package keeps one tracked record per policy
  renewal, works out what changed between uploads, and serves the filtered,
  sorted, paginated views the renewals desk works from.

KEY CONCEPTS IN THIS FILE (types.go):
  - RenewalRecord: One tracked policy renewal opportunity
  - RenewalUpload: One ingested report (append-only history)
  - Status enums: renewal status, workflow status, multi-line indicator
  - Premium change: derived percent and its display bucket

DATA FLOW:
  Upload -> ParseRow classifies each raw row -> Reconciler diffs against the
  Store -> Store persists the merged state -> Query filters/sorts/pages the
  current records.

DESIGN PRINCIPLES:
  1. No data loss: records are marked dropped, never deleted by an upload
  2. Workflow survives: priority, status and assignment are never overwritten
     by report data
  3. Precision: premiums use decimal.Decimal
  4. Determinism: every ordering has a total tiebreak (effective date, id)

SEE ALSO:
  - classify.go: Term and bundling classification
  - reconcile.go: Upload diffing
  - query.go / sort.go / paginate.go: Query engine
  - store.go: Persistence interface
*/
package renewal

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type RecordID string
type UploadID string
type AgencyID string

// =============================================================================
// ENUMS
// =============================================================================

// RenewalStatus is the carrier-reported outcome. Empty means not reported.
type RenewalStatus string

const (
	RenewalTaken    RenewalStatus = "Renewal Taken"
	RenewalNotTaken RenewalStatus = "Renewal Not Taken"
	RenewalPending  RenewalStatus = "Pending"
	RenewalUnknown  RenewalStatus = ""
)

// WorkflowStatus is the agency's own contact status for the renewal.
type WorkflowStatus string

const (
	StatusUncontacted  WorkflowStatus = "uncontacted"
	StatusPending      WorkflowStatus = "pending"
	StatusSuccess      WorkflowStatus = "success"
	StatusUnsuccessful WorkflowStatus = "unsuccessful"
)

func (s WorkflowStatus) Valid() bool {
	switch s {
	case StatusUncontacted, StatusPending, StatusSuccess, StatusUnsuccessful:
		return true
	}
	return false
}

// MultiLine is the bundling indicator: does the customer hold other lines.
type MultiLine string

const (
	MultiLineYes MultiLine = "yes"
	MultiLineNo  MultiLine = "no"
	MultiLineNA  MultiLine = "n/a"
)

func (m MultiLine) Valid() bool {
	return m == MultiLineYes || m == MultiLineNo || m == MultiLineNA
}

// Bucket groups premium change percentages for display.
type Bucket string

const (
	BucketHigh     Bucket = "high"     // > 15%
	BucketModerate Bucket = "moderate" // 5% < p <= 15%
	BucketMinimal  Bucket = "minimal"  // -5% <= p <= 5%
	BucketDecrease Bucket = "decrease" // < -5%
	BucketUnknown  Bucket = "unknown"  // no percent
)

// =============================================================================
// RENEWAL RECORD
// =============================================================================

// RenewalRecord is one tracked policy renewal opportunity.
type RenewalRecord struct {
	// Identity. ID is assigned on insert and survives every reconciliation.
	ID                   RecordID
	AgencyID             AgencyID
	PolicyNumber         string
	RenewalEffectiveDate Date

	// Descriptive fields, refreshed from each upload that confirms the record.
	FirstName            string
	LastName             string
	ProductName          string
	ProductCode          string
	PremiumOld           decimal.NullDecimal
	PremiumNew           decimal.NullDecimal
	PremiumChangePercent decimal.NullDecimal
	RenewalStatus        RenewalStatus
	AmountDue            decimal.NullDecimal
	MultiLineIndicator   MultiLine
	OriginalYear         *int

	// Workflow fields, owned by the agency. Uploads never touch these.
	CurrentStatus        WorkflowStatus
	IsPriority           bool
	AssignedTeamMemberID *string

	// Lineage
	DroppedFromReportAt *time.Time
	LastSeenUploadID    UploadID

	CreatedAt time.Time
	UpdatedAt time.Time
}

// CustomerName is "First Last" with blanks trimmed.
func (r *RenewalRecord) CustomerName() string {
	switch {
	case r.FirstName == "":
		return r.LastName
	case r.LastName == "":
		return r.FirstName
	}
	return r.FirstName + " " + r.LastName
}

func (r *RenewalRecord) IsDropped() bool {
	return r.DroppedFromReportAt != nil
}

// Bucket classifies the record's premium change.
func (r *RenewalRecord) Bucket() Bucket {
	return ClassifyPremiumChange(r.PremiumChangePercent)
}

// IsFirstTerm reports whether this is the policy's first renewal.
func (r *RenewalRecord) IsFirstTerm() bool {
	return IsFirstTermRenewal(r.ProductCode, r.OriginalYear, r.RenewalEffectiveDate)
}

// Clone returns a deep copy; pointers are not shared with the original.
func (r RenewalRecord) Clone() RenewalRecord {
	c := r
	if r.OriginalYear != nil {
		y := *r.OriginalYear
		c.OriginalYear = &y
	}
	if r.AssignedTeamMemberID != nil {
		m := *r.AssignedTeamMemberID
		c.AssignedTeamMemberID = &m
	}
	if r.DroppedFromReportAt != nil {
		t := *r.DroppedFromReportAt
		c.DroppedFromReportAt = &t
	}
	return c
}

// PremiumChange computes (new-old)/old*100 rounded to two places. It is null
// when either premium is absent or the old premium is zero.
func PremiumChange(oldPremium, newPremium decimal.NullDecimal) decimal.NullDecimal {
	if !oldPremium.Valid || !newPremium.Valid || oldPremium.Decimal.IsZero() {
		return decimal.NullDecimal{}
	}
	pct := newPremium.Decimal.Sub(oldPremium.Decimal).
		Div(oldPremium.Decimal).
		Mul(decimal.NewFromInt(100)).
		Round(2)
	return decimal.NullDecimal{Decimal: pct, Valid: true}
}

// =============================================================================
// RENEWAL UPLOAD
// =============================================================================

// RenewalUpload is one ingested report. Written once, in the same store
// transaction as the reconciliation it triggered, and never modified.
type RenewalUpload struct {
	ID                    UploadID
	AgencyID              AgencyID
	Filename              string
	UploadedByDisplayName string
	CreatedAt             time.Time
	RecordCount           int
	DateRangeStart        Date
	DateRangeEnd          Date
}

func (u RenewalUpload) Window() Window {
	return Window{Start: u.DateRangeStart, End: u.DateRangeEnd}
}

// =============================================================================
// WORKFLOW UPDATE - Partial edit of agency-owned fields
// =============================================================================

// WorkflowUpdate carries the fields a user may edit. Nil means unchanged.
// ClearAssignment unassigns; it wins over AssignedTeamMemberID.
type WorkflowUpdate struct {
	IsPriority           *bool
	CurrentStatus        *WorkflowStatus
	AssignedTeamMemberID *string
	ClearAssignment      bool
}

// Apply writes the update onto r.
func (u WorkflowUpdate) Apply(r *RenewalRecord) {
	if u.IsPriority != nil {
		r.IsPriority = *u.IsPriority
	}
	if u.CurrentStatus != nil {
		r.CurrentStatus = *u.CurrentStatus
	}
	if u.ClearAssignment {
		r.AssignedTeamMemberID = nil
	} else if u.AssignedTeamMemberID != nil {
		m := *u.AssignedTeamMemberID
		r.AssignedTeamMemberID = &m
	}
}

func (u WorkflowUpdate) Validate() error {
	if u.CurrentStatus != nil && !u.CurrentStatus.Valid() {
		return ErrInvalidWorkflowStatus
	}
	return nil
}

// RecordPage is one page of stored records plus the unpaged total.
type RecordPage struct {
	Records    []RenewalRecord
	TotalCount int
}
