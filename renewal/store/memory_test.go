package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/renewal-engine/renewal"
	"github.com/warp/renewal-engine/renewal/store"
)

const agency = renewal.AgencyID("agency-1")

var march = renewal.Window{Start: renewal.NewDate(2025, 3, 1), End: renewal.NewDate(2025, 3, 31)}

func rec(id, policy string, day int) renewal.RenewalRecord {
	return renewal.RenewalRecord{
		ID:                   renewal.RecordID(id),
		AgencyID:             agency,
		PolicyNumber:         policy,
		RenewalEffectiveDate: renewal.NewDate(2025, 3, day),
		CurrentStatus:        renewal.StatusUncontacted,
		MultiLineIndicator:   renewal.MultiLineNA,
	}
}

func TestMemory_UpsertKeepsWorkflowFields(t *testing.T) {
	// GIVEN: A stored record the agency has starred
	ctx := context.Background()
	mem := store.NewMemory()
	require.NoError(t, mem.UpsertRecords(ctx, agency, []renewal.RenewalRecord{rec("r1", "P1", 1)}))
	star := true
	_, err := mem.UpdateWorkflow(ctx, "r1", renewal.WorkflowUpdate{IsPriority: &star})
	require.NoError(t, err)

	// WHEN: An upload upserts it with defaults and a new name
	next := rec("r1", "P1", 2)
	next.LastName = "Changed"
	require.NoError(t, mem.UpsertRecords(ctx, agency, []renewal.RenewalRecord{next}))

	// THEN: Report fields change, the star stays
	got, err := mem.GetRecord(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "Changed", got.LastName)
	assert.True(t, got.RenewalEffectiveDate.Equal(renewal.NewDate(2025, 3, 2)))
	assert.True(t, got.IsPriority)
}

func TestMemory_WindowListsAndDropped(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	april := rec("r4", "P4", 1)
	april.RenewalEffectiveDate = renewal.NewDate(2025, 4, 1)
	require.NoError(t, mem.UpsertRecords(ctx, agency, []renewal.RenewalRecord{
		rec("r2", "P2", 2), rec("r1", "P1", 1), rec("r3", "P3", 3), april,
	}))

	first := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	second := first.Add(time.Hour)
	require.NoError(t, mem.MarkDropped(ctx, []renewal.RecordID{"r1"}, first))
	require.NoError(t, mem.MarkDropped(ctx, []renewal.RecordID{"r3", "r1", "missing"}, second))

	active, err := mem.ListActiveRecords(ctx, agency, march)
	require.NoError(t, err)
	assert.Len(t, active, 1)

	window, err := mem.ListWindowRecords(ctx, agency, march)
	require.NoError(t, err)
	assert.Len(t, window, 3)

	page, err := mem.ListDropped(ctx, agency, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, page.TotalCount)
	require.Len(t, page.Records, 1)
	assert.Equal(t, renewal.RecordID("r3"), page.Records[0].ID, "most recently dropped first")

	page, err = mem.ListDropped(ctx, agency, 2, 1)
	require.NoError(t, err)
	require.Len(t, page.Records, 1)
	assert.Equal(t, first, *page.Records[0].DroppedFromReportAt, "drop time is not moved")
}

func TestMemory_ResolveDropped(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	require.NoError(t, mem.UpsertRecords(ctx, agency, []renewal.RenewalRecord{rec("r1", "P1", 1)}))

	assert.ErrorIs(t, mem.ResolveDropped(ctx, "r1"), renewal.ErrRecordNotDropped)
	assert.ErrorIs(t, mem.ResolveDropped(ctx, "nope"), renewal.ErrRecordNotFound)

	require.NoError(t, mem.MarkDropped(ctx, []renewal.RecordID{"r1"}, time.Now()))
	require.NoError(t, mem.ResolveDropped(ctx, "r1"))

	_, err := mem.GetRecord(ctx, "r1")
	assert.ErrorIs(t, err, renewal.ErrRecordNotFound)
}

func TestMemory_UpdateWorkflowValidates(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	require.NoError(t, mem.UpsertRecords(ctx, agency, []renewal.RenewalRecord{rec("r1", "P1", 1)}))

	bad := renewal.WorkflowStatus("done")
	_, err := mem.UpdateWorkflow(ctx, "r1", renewal.WorkflowUpdate{CurrentStatus: &bad})
	assert.ErrorIs(t, err, renewal.ErrInvalidWorkflowStatus)

	_, err = mem.UpdateWorkflow(ctx, "nope", renewal.WorkflowUpdate{})
	assert.ErrorIs(t, err, renewal.ErrRecordNotFound)
}

func TestMemory_WindowVersion(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()

	require.NoError(t, mem.BumpWindowVersion(ctx, agency, march, 0))
	assert.ErrorIs(t, mem.BumpWindowVersion(ctx, agency, march, 0), renewal.ErrConcurrentUpload)
	require.NoError(t, mem.BumpWindowVersion(ctx, agency, march, 1))

	v, err := mem.WindowVersion(ctx, agency, march)
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)

	other, err := mem.WindowVersion(ctx, "agency-2", march)
	require.NoError(t, err)
	assert.Zero(t, other)
}

func TestMemory_AuditPolicies(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()

	require.NoError(t, mem.SetAuditPolicies(ctx, agency, []string{"p2", " P1", "P2", ""}))
	got, err := mem.ListAuditPolicies(ctx, agency)
	require.NoError(t, err)
	assert.Equal(t, []string{"P1", "P2"}, got)

	require.NoError(t, mem.SetAuditPolicies(ctx, agency, nil))
	got, err = mem.ListAuditPolicies(ctx, agency)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestTxMemory_RollbackOnError(t *testing.T) {
	// GIVEN: One stored record
	ctx := context.Background()
	tm := store.NewTxMemory()
	require.NoError(t, tm.UpsertRecords(ctx, agency, []renewal.RenewalRecord{rec("r1", "P1", 1)}))
	boom := errors.New("boom")

	// WHEN: A transaction writes and then fails
	err := tm.WithTx(ctx, func(tx renewal.Store) error {
		require.NoError(t, tx.BumpWindowVersion(ctx, agency, march, 0))
		require.NoError(t, tx.UpsertRecords(ctx, agency, []renewal.RenewalRecord{rec("r2", "P2", 2)}))
		require.NoError(t, tx.MarkDropped(ctx, []renewal.RecordID{"r1"}, time.Now()))
		require.NoError(t, tx.SaveUpload(ctx, renewal.RenewalUpload{ID: "u1", AgencyID: agency}))
		return boom
	})

	// THEN: Nothing it did is visible
	require.ErrorIs(t, err, boom)
	records, err := tm.ListRecords(ctx, agency)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.False(t, records[0].IsDropped())

	v, err := tm.WindowVersion(ctx, agency, march)
	require.NoError(t, err)
	assert.Zero(t, v)

	uploads, err := tm.ListUploads(ctx, agency)
	require.NoError(t, err)
	assert.Empty(t, uploads)
}

func TestTxMemory_Reset(t *testing.T) {
	ctx := context.Background()
	tm := store.NewTxMemory()
	require.NoError(t, tm.UpsertRecords(ctx, agency, []renewal.RenewalRecord{rec("r1", "P1", 1)}))
	require.NoError(t, tm.SetAuditPolicies(ctx, agency, []string{"P1"}))

	require.NoError(t, tm.Reset(ctx))

	records, err := tm.ListRecords(ctx, agency)
	require.NoError(t, err)
	assert.Empty(t, records)
	audits, err := tm.ListAuditPolicies(ctx, agency)
	require.NoError(t, err)
	assert.Empty(t, audits)
}
