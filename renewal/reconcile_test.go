package renewal_test

import (
	"fmt"
	"slices"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/renewal-engine/renewal"
)

// =============================================================================
// TEST SETUP
// =============================================================================

const agency = renewal.AgencyID("agency-1")

var fixedNow = time.Date(2025, 3, 20, 9, 0, 0, 0, time.UTC)

func newTestReconciler() *renewal.Reconciler {
	n := 0
	return &renewal.Reconciler{
		Now: func() time.Time { return fixedNow },
		NewID: func() string {
			n++
			return fmt.Sprintf("rec-%d", n)
		},
	}
}

func reportRow(policy, effective string) renewal.RawRow {
	return renewal.RawRow{
		"Policy Number":  policy,
		"Effective Date": effective,
		"First Name":     "Customer",
		"Last Name":      policy,
		"Old Premium":    "1000",
		"New Premium":    "1100",
	}
}

func reportRows(policies ...string) []renewal.RawRow {
	rows := make([]renewal.RawRow, len(policies))
	for i, p := range policies {
		rows[i] = reportRow(p, fmt.Sprintf("2025-03-%02d", i+1))
	}
	return rows
}

// applyPlan does to a slice what Commit does to a store.
func applyPlan(existing []renewal.RenewalRecord, plan *renewal.Plan) []renewal.RenewalRecord {
	byID := make(map[renewal.RecordID]renewal.RenewalRecord, len(existing))
	for _, r := range existing {
		byID[r.ID] = r
	}
	for _, r := range plan.Upserts() {
		byID[r.ID] = r
	}
	for _, r := range plan.ToMarkDropped {
		byID[r.ID] = r
	}
	out := make([]renewal.RenewalRecord, 0, len(byID))
	for _, r := range byID {
		out = append(out, r)
	}
	slices.SortFunc(out, func(a, b renewal.RenewalRecord) int {
		return renewal.CompareRecords(&a, &b, nil, false)
	})
	return out
}

func reconcile(rc *renewal.Reconciler, existing []renewal.RenewalRecord, rows []renewal.RawRow) *renewal.Plan {
	return rc.Reconcile(renewal.ReconcileInput{
		AgencyID: agency,
		Window:   march,
		UploadID: renewal.UploadID("upload"),
		Rows:     rows,
		Existing: existing,
	})
}

func policies(records []renewal.RenewalRecord) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.PolicyNumber
	}
	slices.Sort(out)
	return out
}

func byPolicy(records []renewal.RenewalRecord, policy string) renewal.RenewalRecord {
	for _, r := range records {
		if r.PolicyNumber == policy {
			return r
		}
	}
	return renewal.RenewalRecord{}
}

// =============================================================================
// UPLOAD SEQUENCE
// =============================================================================

func TestReconcile_FirstUpload_InsertsEverything(t *testing.T) {
	// GIVEN: An empty store
	rc := newTestReconciler()

	// WHEN: Upload A brings P1, P2, P3
	plan := reconcile(rc, nil, reportRows("P1", "P2", "P3"))

	// THEN: All three are inserted with workflow defaults
	assert.Equal(t, []string{"P1", "P2", "P3"}, policies(plan.ToInsert))
	assert.Empty(t, plan.ToConfirm)
	assert.Empty(t, plan.ToMarkDropped)
	assert.Empty(t, plan.Rejected)
	assert.Equal(t, 3, plan.RowsReceived)
	assert.Equal(t, fixedNow, plan.ComputedAt)

	for _, r := range plan.ToInsert {
		assert.NotEmpty(t, r.ID)
		assert.Equal(t, agency, r.AgencyID)
		assert.Equal(t, renewal.StatusUncontacted, r.CurrentStatus)
		assert.False(t, r.IsPriority)
		assert.Nil(t, r.DroppedFromReportAt)
		assert.Equal(t, renewal.UploadID("upload"), r.LastSeenUploadID)
	}
}

func TestReconcile_SecondUpload_ConfirmsInsertsAndDrops(t *testing.T) {
	// GIVEN: The store after upload A
	rc := newTestReconciler()
	stored := applyPlan(nil, reconcile(rc, nil, reportRows("P1", "P2", "P3")))

	// WHEN: Upload B brings P1, P3, P4
	plan := reconcile(rc, stored, reportRows("P1", "P3", "P4"))

	// THEN: P1 and P3 confirmed, P4 inserted, P2 dropped but retained
	assert.Equal(t, []string{"P1", "P3"}, policies(plan.ToConfirm))
	assert.Equal(t, []string{"P4"}, policies(plan.ToInsert))
	require.Equal(t, []string{"P2"}, policies(plan.ToMarkDropped))
	require.NotNil(t, plan.ToMarkDropped[0].DroppedFromReportAt)
	assert.Equal(t, fixedNow, *plan.ToMarkDropped[0].DroppedFromReportAt)
	assert.Equal(t, byPolicy(stored, "P2").ID, plan.ToMarkDropped[0].ID)

	after := applyPlan(stored, plan)
	assert.Len(t, after, 4, "dropped records are kept")
}

func TestReconcile_PolicyReturns_ClearsDroppedAt(t *testing.T) {
	// GIVEN: The store after uploads A and B (P2 dropped)
	rc := newTestReconciler()
	stored := applyPlan(nil, reconcile(rc, nil, reportRows("P1", "P2", "P3")))
	stored = applyPlan(stored, reconcile(rc, stored, reportRows("P1", "P3", "P4")))
	require.NotNil(t, byPolicy(stored, "P2").DroppedFromReportAt)

	// WHEN: Upload C brings all four
	plan := reconcile(rc, stored, reportRows("P1", "P2", "P3", "P4"))

	// THEN: All four confirmed and P2 is active again under the same id
	assert.Equal(t, []string{"P1", "P2", "P3", "P4"}, policies(plan.ToConfirm))
	assert.Empty(t, plan.ToInsert)
	assert.Empty(t, plan.ToMarkDropped)
	require.Equal(t, []string{"P2"}, policies(plan.ToUnmarkDropped))

	p2 := byPolicy(plan.ToConfirm, "P2")
	assert.Nil(t, p2.DroppedFromReportAt)
	assert.Equal(t, byPolicy(stored, "P2").ID, p2.ID)
}

// =============================================================================
// INVARIANTS
// =============================================================================

func TestReconcile_WorkflowFieldsSurviveConfirm(t *testing.T) {
	// GIVEN: A stored record the agency has starred, contacted and assigned
	rc := newTestReconciler()
	stored := applyPlan(nil, reconcile(rc, nil, reportRows("P1")))
	member := "member-7"
	stored[0].IsPriority = true
	stored[0].CurrentStatus = renewal.StatusPending
	stored[0].AssignedTeamMemberID = &member

	// WHEN: The next upload changes the report fields
	row := reportRow("P1", "2025-03-01")
	row["New Premium"] = "1300"
	row["Last Name"] = "Renamed"
	plan := reconcile(rc, stored, []renewal.RawRow{row})

	// THEN: Report fields refresh, workflow fields do not
	require.Len(t, plan.ToConfirm, 1)
	got := plan.ToConfirm[0]
	assert.Equal(t, "Renamed", got.LastName)
	assert.Equal(t, renewal.BucketHigh, got.Bucket())
	assert.True(t, got.IsPriority)
	assert.Equal(t, renewal.StatusPending, got.CurrentStatus)
	require.NotNil(t, got.AssignedTeamMemberID)
	assert.Equal(t, member, *got.AssignedTeamMemberID)
}

func TestReconcile_Idempotent(t *testing.T) {
	// GIVEN: The result of an upload
	rc := newTestReconciler()
	rows := reportRows("P1", "P2", "P3")
	stored := applyPlan(nil, reconcile(rc, nil, rows))

	// WHEN: The same upload is reconciled against its own result
	plan := reconcile(rc, stored, rows)

	// THEN: Everything is confirmed and re-applying changes nothing but UpdatedAt
	assert.Len(t, plan.ToConfirm, 3)
	assert.Empty(t, plan.ToInsert)
	assert.Empty(t, plan.ToMarkDropped)

	again := applyPlan(stored, plan)
	ignoreTimes := cmp.Comparer(func(a, b time.Time) bool { return true })
	if diff := cmp.Diff(stored, again, ignoreTimes); diff != "" {
		t.Errorf("re-applying the same upload changed records (-before +after):\n%s", diff)
	}
}

func TestReconcile_Deterministic(t *testing.T) {
	stored := applyPlan(nil, reconcile(newTestReconciler(), nil, reportRows("P1", "P2", "P3")))
	rows := reportRows("P3", "P5")

	first := reconcile(newTestReconciler(), stored, rows)
	second := reconcile(newTestReconciler(), stored, rows)

	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("plans differ (-first +second):\n%s", diff)
	}
}

func TestReconcile_EveryExistingRecordAccountedForOnce(t *testing.T) {
	// GIVEN: Active, dropped and out-of-window records
	rc := newTestReconciler()
	stored := applyPlan(nil, reconcile(rc, nil, reportRows("P1", "P2", "P3", "P4")))
	stored = applyPlan(stored, reconcile(rc, stored, reportRows("P1", "P2", "P3")))
	outside := stored[0].Clone()
	outside.ID = "outside"
	outside.RenewalEffectiveDate = renewal.NewDate(2025, 4, 2)
	stored = append(stored, outside)

	// WHEN: An upload mentions only some of them
	plan := reconcile(rc, stored, reportRows("P2", "P9"))

	// THEN: Confirm, drop and untouched partition the existing set
	seen := map[renewal.RecordID]int{}
	for _, set := range [][]renewal.RenewalRecord{plan.ToConfirm, plan.ToMarkDropped, plan.Untouched} {
		for _, r := range set {
			seen[r.ID]++
		}
	}
	for _, r := range stored {
		assert.Equal(t, 1, seen[r.ID], "record %s (%s)", r.ID, r.PolicyNumber)
	}
	assert.Equal(t, []string{"P1", "P3"}, policies(plan.ToMarkDropped))
	assert.Contains(t, policies(plan.Untouched), "P4", "already dropped stays untouched")
}

func TestReconcile_DroppedRecordKeepsOriginalDropTime(t *testing.T) {
	// GIVEN: P2 dropped by an earlier upload
	rc := newTestReconciler()
	stored := applyPlan(nil, reconcile(rc, nil, reportRows("P1", "P2")))
	stored = applyPlan(stored, reconcile(rc, stored, reportRows("P1")))
	droppedAt := *byPolicy(stored, "P2").DroppedFromReportAt

	// WHEN: A later upload still does not mention it
	later := &renewal.Reconciler{Now: func() time.Time { return fixedNow.Add(48 * time.Hour) }}
	plan := reconcile(later, stored, reportRows("P1"))

	// THEN: It is untouched and the drop time is unchanged
	assert.Empty(t, plan.ToMarkDropped)
	require.Equal(t, []string{"P2"}, policies(plan.Untouched))
	assert.Equal(t, droppedAt, *plan.Untouched[0].DroppedFromReportAt)
}

// =============================================================================
// MALFORMED INPUT
// =============================================================================

func TestReconcile_MalformedRowsRejectedBatchContinues(t *testing.T) {
	// GIVEN: One good row, one without a policy number, one duplicate
	rows := []renewal.RawRow{
		reportRow("P1", "2025-03-01"),
		reportRow("", "2025-03-02"),
		reportRow("p1", "2025-03-03"),
		reportRow("P2", "2025-05-01"),
	}

	// WHEN: Reconciling against an empty store
	plan := reconcile(newTestReconciler(), nil, rows)

	// THEN: Only the first row is accepted; each rejection names its row
	assert.Equal(t, []string{"P1"}, policies(plan.ToInsert))
	assert.Equal(t, 1, plan.Accepted())
	assert.Equal(t, 4, plan.RowsReceived)
	require.Len(t, plan.Rejected, 3)
	assert.Equal(t, 1, plan.Rejected[0].Row)
	assert.Equal(t, renewal.ColPolicyNumber, plan.Rejected[0].Field)
	assert.Equal(t, 2, plan.Rejected[1].Row)
	assert.Equal(t, "duplicate policy number in upload", plan.Rejected[1].Reason)
	assert.Equal(t, 3, plan.Rejected[2].Row)
	assert.Equal(t, renewal.ColEffectiveDate, plan.Rejected[2].Field)
}

func TestReconcile_RejectedRowDoesNotConfirm(t *testing.T) {
	// GIVEN: P1 stored
	rc := newTestReconciler()
	stored := applyPlan(nil, reconcile(rc, nil, reportRows("P1")))

	// WHEN: The next upload has P1 with a broken premium
	row := reportRow("P1", "2025-03-01")
	row["New Premium"] = "abc"
	plan := reconcile(rc, stored, []renewal.RawRow{row})

	// THEN: The row is rejected and P1 counts as absent
	require.Len(t, plan.Rejected, 1)
	assert.Equal(t, []string{"P1"}, policies(plan.ToMarkDropped))
}

func TestPlan_DroppedIDsAndUpserts(t *testing.T) {
	rc := newTestReconciler()
	stored := applyPlan(nil, reconcile(rc, nil, reportRows("P1", "P2")))
	plan := reconcile(rc, stored, reportRows("P1", "P3"))

	assert.Equal(t, []renewal.RecordID{byPolicy(stored, "P2").ID}, plan.DroppedIDs())
	upserts := plan.Upserts()
	require.Len(t, upserts, 2)
	assert.Equal(t, "P3", upserts[0].PolicyNumber, "inserts come first")
	assert.Equal(t, "P1", upserts[1].PolicyNumber)
}
