/*
reconcile.go - Diffing a new upload against the tracked records

PURPOSE:
  A carrier report for a window is uploaded many times. Each upload must be
  folded into the existing records without losing anything the agency did
  with them (stars, contact status, assignments) and without losing track of
  policies that quietly disappeared from the report.

ALGORITHM:
  1. Index existing records for the window by policy number. Where a policy
     has more than one stored record, the non-dropped one (then lowest id)
     is the match; the others are left untouched.
  2. Parse every incoming row (ParseRow). Malformed rows and repeated policy
     numbers are rejected per row; the batch carries on.
  3. Incoming row with a match   -> confirm: refresh descriptive fields, keep
     workflow fields, clear DroppedFromReportAt if it was set ("came back").
  4. Incoming row with no match  -> insert: new id, workflow defaults
     (uncontacted, not priority).
  5. Active existing, no row     -> mark dropped at Now(). Nothing else changes.
  6. Dropped existing, no row    -> untouched. The original drop time stays.

INVARIANTS:
  - Every existing record lands in exactly one of ToConfirm, ToMarkDropped,
    Untouched.
  - ToConfirm and ToMarkDropped never share a record.
  - Same input, same Now/NewID -> same Plan. Re-running an upload against
    its own result confirms everything and changes no workflow data.

The Reconciler is pure. Persisting a Plan is the Ingestor's job (ingest.go).
*/
package renewal

import (
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// PLAN - Output of a reconciliation run
// =============================================================================

// Plan is the diff between an upload and the stored records of its window.
type Plan struct {
	AgencyID AgencyID
	Window   Window
	UploadID UploadID

	// BaseVersion is the window version the diff was computed against.
	// Commit refuses the plan if the window has moved on since.
	BaseVersion int64

	ToInsert        []RenewalRecord
	ToConfirm       []RenewalRecord
	ToMarkDropped   []RenewalRecord
	ToUnmarkDropped []RenewalRecord
	Untouched       []RenewalRecord
	Rejected        []*MalformedRowError

	// RowsReceived counts every incoming row, accepted or not.
	RowsReceived int
	ComputedAt   time.Time
}

// Accepted is the number of rows that became an insert or a confirm.
func (p *Plan) Accepted() int {
	return len(p.ToInsert) + len(p.ToConfirm)
}

// Upserts returns inserts followed by confirms, the records Commit writes.
func (p *Plan) Upserts() []RenewalRecord {
	out := make([]RenewalRecord, 0, p.Accepted())
	out = append(out, p.ToInsert...)
	return append(out, p.ToConfirm...)
}

// DroppedIDs returns the ids to mark dropped.
func (p *Plan) DroppedIDs() []RecordID {
	ids := make([]RecordID, len(p.ToMarkDropped))
	for i, r := range p.ToMarkDropped {
		ids[i] = r.ID
	}
	return ids
}

// =============================================================================
// RECONCILER
// =============================================================================

// ReconcileInput is everything a reconciliation run needs.
type ReconcileInput struct {
	AgencyID AgencyID
	Window   Window
	UploadID UploadID
	Rows     []RawRow

	// Existing holds the stored records for the agency whose effective date
	// falls in Window, dropped ones included.
	Existing []RenewalRecord
}

// Reconciler computes Plans. The zero value uses time.Now and uuid.
type Reconciler struct {
	Now   func() time.Time
	NewID func() string
}

func NewReconciler() *Reconciler {
	return &Reconciler{}
}

func (rc *Reconciler) now() time.Time {
	if rc.Now != nil {
		return rc.Now().UTC()
	}
	return time.Now().UTC()
}

func (rc *Reconciler) newID() RecordID {
	if rc.NewID != nil {
		return RecordID(rc.NewID())
	}
	return RecordID(uuid.NewString())
}

// Reconcile diffs in.Rows against in.Existing.
func (rc *Reconciler) Reconcile(in ReconcileInput) *Plan {
	now := rc.now()
	plan := &Plan{
		AgencyID:     in.AgencyID,
		Window:       in.Window,
		UploadID:     in.UploadID,
		RowsReceived: len(in.Rows),
		ComputedAt:   now,
	}

	// Step 1: index existing records by natural key.
	matches, extras := indexExisting(in.AgencyID, in.Window, in.Existing)
	plan.Untouched = append(plan.Untouched, extras...)

	// Steps 2-4: walk incoming rows in upload order.
	seen := make(map[string]bool, len(in.Rows))
	for i, raw := range in.Rows {
		incoming, err := ParseRow(i, in.Window, raw)
		if err != nil {
			var malformed *MalformedRowError
			if !errors.As(err, &malformed) {
				malformed = &MalformedRowError{Row: i, Field: "row", Reason: err.Error()}
			}
			plan.Rejected = append(plan.Rejected, malformed)
			continue
		}
		if seen[incoming.PolicyNumber] {
			plan.Rejected = append(plan.Rejected, &MalformedRowError{
				Row:          i,
				PolicyNumber: incoming.PolicyNumber,
				Field:        ColPolicyNumber,
				Reason:       "duplicate policy number in upload",
			})
			continue
		}
		seen[incoming.PolicyNumber] = true

		existing, ok := matches[incoming.PolicyNumber]
		if !ok {
			plan.ToInsert = append(plan.ToInsert, rc.newRecord(in, incoming, now))
			continue
		}

		confirmed := existing.Clone()
		applyReport(&confirmed, incoming)
		confirmed.LastSeenUploadID = in.UploadID
		confirmed.UpdatedAt = now
		if confirmed.DroppedFromReportAt != nil {
			confirmed.DroppedFromReportAt = nil
			plan.ToUnmarkDropped = append(plan.ToUnmarkDropped, confirmed)
		}
		plan.ToConfirm = append(plan.ToConfirm, confirmed)
	}

	// Steps 5-6: existing records the upload no longer mentions.
	for _, policy := range sortedKeys(matches) {
		if seen[policy] {
			continue
		}
		existing := matches[policy]
		if existing.IsDropped() {
			plan.Untouched = append(plan.Untouched, existing.Clone())
			continue
		}
		dropped := existing.Clone()
		at := now
		dropped.DroppedFromReportAt = &at
		plan.ToMarkDropped = append(plan.ToMarkDropped, dropped)
	}

	return plan
}

func (rc *Reconciler) newRecord(in ReconcileInput, incoming RenewalRecord, now time.Time) RenewalRecord {
	rec := incoming
	rec.ID = rc.newID()
	rec.AgencyID = in.AgencyID
	rec.CurrentStatus = StatusUncontacted
	rec.IsPriority = false
	rec.AssignedTeamMemberID = nil
	rec.DroppedFromReportAt = nil
	rec.LastSeenUploadID = in.UploadID
	rec.CreatedAt = now
	rec.UpdatedAt = now
	return rec
}

// indexExisting picks one match per policy number. Records that lose the
// pick, or that do not belong to the agency/window, come back as extras so
// the caller can account for them.
func indexExisting(agency AgencyID, window Window, existing []RenewalRecord) (map[string]RenewalRecord, []RenewalRecord) {
	matches := make(map[string]RenewalRecord, len(existing))
	var extras []RenewalRecord

	for _, rec := range existing {
		if rec.AgencyID != agency || !window.Contains(rec.RenewalEffectiveDate) {
			extras = append(extras, rec.Clone())
			continue
		}
		key := normalizePolicyNumber(rec.PolicyNumber)
		current, ok := matches[key]
		if !ok {
			matches[key] = rec.Clone()
			continue
		}
		if preferMatch(rec, current) {
			extras = append(extras, current)
			matches[key] = rec.Clone()
		} else {
			extras = append(extras, rec.Clone())
		}
	}

	sort.SliceStable(extras, func(i, j int) bool { return extras[i].ID < extras[j].ID })
	return matches, extras
}

// preferMatch reports whether a should replace b as a policy's match.
func preferMatch(a, b RenewalRecord) bool {
	if a.IsDropped() != b.IsDropped() {
		return !a.IsDropped()
	}
	return a.ID < b.ID
}

// applyReport copies report-owned fields from src onto dst.
func applyReport(dst *RenewalRecord, src RenewalRecord) {
	dst.RenewalEffectiveDate = src.RenewalEffectiveDate
	dst.FirstName = src.FirstName
	dst.LastName = src.LastName
	dst.ProductName = src.ProductName
	dst.ProductCode = src.ProductCode
	dst.PremiumOld = src.PremiumOld
	dst.PremiumNew = src.PremiumNew
	dst.PremiumChangePercent = src.PremiumChangePercent
	dst.RenewalStatus = src.RenewalStatus
	dst.AmountDue = src.AmountDue
	dst.MultiLineIndicator = src.MultiLineIndicator
	if src.OriginalYear != nil {
		y := *src.OriginalYear
		dst.OriginalYear = &y
	} else {
		dst.OriginalYear = nil
	}
}

func sortedKeys(m map[string]RenewalRecord) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
