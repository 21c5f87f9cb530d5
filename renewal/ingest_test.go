package renewal_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/warp/renewal-engine/renewal"
	"github.com/warp/renewal-engine/renewal/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestIngestor(t *testing.T) (*renewal.Ingestor, *store.TxMemory) {
	t.Helper()
	mem := store.NewTxMemory()
	return renewal.NewIngestor(mem, zap.NewNop()), mem
}

func upload(name string, policies ...string) renewal.UploadRequest {
	return renewal.UploadRequest{
		AgencyID:   agency,
		Filename:   name,
		UploadedBy: "tester",
		Window:     march,
		Rows:       reportRows(policies...),
	}
}

// =============================================================================
// INGEST
// =============================================================================

func TestIngest_UploadSequence(t *testing.T) {
	ctx := context.Background()
	ingestor, mem := newTestIngestor(t)

	// Upload A
	res, err := ingestor.Ingest(ctx, upload("a.csv", "P1", "P2", "P3"))
	require.NoError(t, err)
	assert.Equal(t, 3, res.Inserted)
	assert.Equal(t, 3, res.Upload.RecordCount)
	assert.Equal(t, "3 processed, 0 errored (3 new, 0 confirmed, 0 dropped, 0 restored)", res.String())

	// Upload B
	res, err = ingestor.Ingest(ctx, upload("b.csv", "P1", "P3", "P4"))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Inserted)
	assert.Equal(t, 2, res.Confirmed)
	assert.Equal(t, 1, res.Dropped)

	dropped, err := mem.ListDropped(ctx, agency, 1, 10)
	require.NoError(t, err)
	require.Equal(t, 1, dropped.TotalCount)
	assert.Equal(t, "P2", dropped.Records[0].PolicyNumber)

	// Upload C
	res, err = ingestor.Ingest(ctx, upload("c.csv", "P1", "P2", "P3", "P4"))
	require.NoError(t, err)
	assert.Equal(t, 4, res.Confirmed)
	assert.Equal(t, 1, res.Restored)

	active, err := mem.ListActiveRecords(ctx, agency, march)
	require.NoError(t, err)
	assert.Len(t, active, 4)

	uploads, err := mem.ListUploads(ctx, agency)
	require.NoError(t, err)
	require.Len(t, uploads, 3)
	assert.Equal(t, "c.csv", uploads[0].Filename, "newest first")

	version, err := mem.WindowVersion(ctx, agency, march)
	require.NoError(t, err)
	assert.Equal(t, int64(3), version)
}

func TestIngest_RejectsBadRequests(t *testing.T) {
	ctx := context.Background()
	ingestor, _ := newTestIngestor(t)

	req := upload("x.csv", "P1")
	req.AgencyID = " "
	_, err := ingestor.Ingest(ctx, req)
	assert.ErrorIs(t, err, renewal.ErrMissingAgency)

	req = upload("x.csv", "P1")
	req.Window = renewal.Window{Start: renewal.NewDate(2025, 3, 31), End: renewal.NewDate(2025, 3, 1)}
	_, err = ingestor.Ingest(ctx, req)
	assert.ErrorIs(t, err, renewal.ErrInvalidWindow)
	assert.True(t, renewal.IsClientError(err))
}

func TestIngest_MalformedRowsReported(t *testing.T) {
	ctx := context.Background()
	ingestor, mem := newTestIngestor(t)

	req := upload("a.csv", "P1", "P2")
	req.Rows = append(req.Rows, renewal.RawRow{"policy_number": "P3"})

	res, err := ingestor.Ingest(ctx, req)

	require.NoError(t, err)
	assert.Equal(t, 3, res.Processed)
	assert.Equal(t, 1, res.Errored)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, 2, res.Errors[0].Row)

	records, err := mem.ListRecords(ctx, agency)
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

// =============================================================================
// CONCURRENCY
// =============================================================================

func TestCommit_StalePlanIsRetryable(t *testing.T) {
	// GIVEN: Two previews computed against the same window version
	ctx := context.Background()
	ingestor, mem := newTestIngestor(t)
	first := upload("a.csv", "P1", "P2")
	second := upload("b.csv", "P2", "P3")

	planA, err := ingestor.Preview(ctx, first)
	require.NoError(t, err)
	planB, err := ingestor.Preview(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, planA.BaseVersion, planB.BaseVersion)

	// WHEN: Both commit
	_, err = ingestor.Commit(ctx, first, planA)
	require.NoError(t, err)
	_, err = ingestor.Commit(ctx, second, planB)

	// THEN: The second fails retryably and wrote nothing
	require.ErrorIs(t, err, renewal.ErrConcurrentUpload)
	assert.True(t, renewal.IsRetryable(err))

	records, err := mem.ListRecords(ctx, agency)
	require.NoError(t, err)
	assert.Equal(t, []string{"P1", "P2"}, policies(records))

	uploads, err := mem.ListUploads(ctx, agency)
	require.NoError(t, err)
	assert.Len(t, uploads, 1)
}

func TestCommit_PlanForOtherWindowRejected(t *testing.T) {
	ctx := context.Background()
	ingestor, _ := newTestIngestor(t)
	req := upload("a.csv", "P1")

	plan, err := ingestor.Preview(ctx, req)
	require.NoError(t, err)

	req.Window = renewal.Window{Start: renewal.NewDate(2025, 4, 1), End: renewal.NewDate(2025, 4, 30)}
	_, err = ingestor.Commit(ctx, req, plan)
	assert.ErrorIs(t, err, renewal.ErrStalePlan)

	_, err = ingestor.Commit(ctx, req, nil)
	assert.ErrorIs(t, err, renewal.ErrStalePlan)
}

func TestIngest_ConcurrentUploadsSameWindowSerialize(t *testing.T) {
	// GIVEN: Several uploads for the same window racing each other
	ctx := context.Background()
	ingestor, mem := newTestIngestor(t)
	const n = 8

	// WHEN: They all ingest at once
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			_, err := ingestor.Ingest(gctx, upload(fmt.Sprintf("u%d.csv", i), "P1", "P2"))
			return err
		})
	}

	// THEN: None fails, each committed once, no duplicate records
	require.NoError(t, g.Wait())

	version, err := mem.WindowVersion(ctx, agency, march)
	require.NoError(t, err)
	assert.Equal(t, int64(n), version)

	records, err := mem.ListRecords(ctx, agency)
	require.NoError(t, err)
	assert.Equal(t, []string{"P1", "P2"}, policies(records))
}

func TestCommit_WorkflowEditBetweenPreviewAndCommitSurvives(t *testing.T) {
	// GIVEN: P1 stored and a preview of the next upload
	ctx := context.Background()
	ingestor, mem := newTestIngestor(t)
	_, err := ingestor.Ingest(ctx, upload("a.csv", "P1"))
	require.NoError(t, err)

	req := upload("b.csv", "P1")
	plan, err := ingestor.Preview(ctx, req)
	require.NoError(t, err)
	require.Len(t, plan.ToConfirm, 1)
	id := plan.ToConfirm[0].ID

	// WHEN: The user stars P1 before the commit lands
	star := true
	_, err = mem.UpdateWorkflow(ctx, id, renewal.WorkflowUpdate{IsPriority: &star})
	require.NoError(t, err)
	_, err = ingestor.Commit(ctx, req, plan)
	require.NoError(t, err)

	// THEN: The star is still there
	got, err := mem.GetRecord(ctx, id)
	require.NoError(t, err)
	assert.True(t, got.IsPriority)
	assert.Equal(t, plan.UploadID, got.LastSeenUploadID)
}

func TestIngest_CancelledContextWhileWaitingForLock(t *testing.T) {
	ingestor, _ := newTestIngestor(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ingestor.Ingest(ctx, upload("a.csv", "P1"))

	assert.ErrorIs(t, err, context.Canceled)
}
