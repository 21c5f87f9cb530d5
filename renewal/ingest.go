/*
ingest.go - Applying an upload to the store

PURPOSE:
  The Ingestor is the single writer of reconciliation results. It reads the
  window's current records, asks the Reconciler for a Plan, and commits the
  plan together with the RenewalUpload row in one store transaction.

TWO-PHASE FLOW:
  Preview(ctx, req)        -> *Plan (no writes; safe to show to a user)
  Commit(ctx, req, plan)   -> *IngestResult
  Ingest(ctx, req)         =  Preview + Commit under the window lock

CONCURRENCY:
  Uploads for the same (agency, window) are serialized by an in-process
  keyed lock held across Preview and Commit. Across processes, or when a
  caller commits a plan it previewed earlier, the window version catches the
  race: Commit bumps the version from plan.BaseVersion inside the
  transaction and fails with ErrConcurrentUpload if someone else already
  moved it. The caller re-previews and retries.

PARTIAL SUCCESS:
  Malformed rows are logged and counted; they never abort the batch.
*/
package renewal

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// UploadRequest is one parsed report ready for reconciliation.
type UploadRequest struct {
	AgencyID   AgencyID
	Filename   string
	UploadedBy string
	Window     Window
	Rows       []RawRow
}

func (r UploadRequest) validate() error {
	if strings.TrimSpace(string(r.AgencyID)) == "" {
		return ErrMissingAgency
	}
	if _, err := NewWindow(r.Window.Start, r.Window.End); err != nil {
		return err
	}
	return nil
}

// IngestResult summarizes a committed upload.
type IngestResult struct {
	Upload    RenewalUpload
	Processed int
	Inserted  int
	Confirmed int
	Dropped   int
	Restored  int
	Errored   int
	Errors    []*MalformedRowError
}

// =============================================================================
// INGESTOR
// =============================================================================

type Ingestor struct {
	Store      TxStore
	Reconciler *Reconciler
	Logger     *zap.Logger

	Now         func() time.Time
	NewUploadID func() string

	locks keyedLock
}

func NewIngestor(store TxStore, logger *zap.Logger) *Ingestor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ingestor{
		Store:      store,
		Reconciler: NewReconciler(),
		Logger:     logger,
	}
}

func (in *Ingestor) now() time.Time {
	if in.Now != nil {
		return in.Now().UTC()
	}
	return time.Now().UTC()
}

func (in *Ingestor) newUploadID() UploadID {
	if in.NewUploadID != nil {
		return UploadID(in.NewUploadID())
	}
	return UploadID(uuid.NewString())
}

// Preview computes the plan for req against the current store state.
func (in *Ingestor) Preview(ctx context.Context, req UploadRequest) (*Plan, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	version, err := in.Store.WindowVersion(ctx, req.AgencyID, req.Window)
	if err != nil {
		return nil, persistErr("window version", err)
	}
	existing, err := in.Store.ListWindowRecords(ctx, req.AgencyID, req.Window)
	if err != nil {
		return nil, persistErr("list window records", err)
	}

	plan := in.Reconciler.Reconcile(ReconcileInput{
		AgencyID: req.AgencyID,
		Window:   req.Window,
		UploadID: in.newUploadID(),
		Rows:     req.Rows,
		Existing: existing,
	})
	plan.BaseVersion = version
	return plan, nil
}

// Commit writes plan atomically. It fails with ErrConcurrentUpload if the
// window changed after the plan was computed.
func (in *Ingestor) Commit(ctx context.Context, req UploadRequest, plan *Plan) (*IngestResult, error) {
	if plan == nil || plan.AgencyID != req.AgencyID || plan.Window != req.Window {
		return nil, ErrStalePlan
	}

	upload := RenewalUpload{
		ID:                    plan.UploadID,
		AgencyID:              req.AgencyID,
		Filename:              req.Filename,
		UploadedByDisplayName: req.UploadedBy,
		CreatedAt:             in.now(),
		RecordCount:           plan.Accepted(),
		DateRangeStart:        req.Window.Start,
		DateRangeEnd:          req.Window.End,
	}

	err := in.Store.WithTx(ctx, func(tx Store) error {
		if err := tx.BumpWindowVersion(ctx, req.AgencyID, req.Window, plan.BaseVersion); err != nil {
			return persistErr("bump window version", err)
		}
		if upserts := plan.Upserts(); len(upserts) > 0 {
			if err := tx.UpsertRecords(ctx, req.AgencyID, upserts); err != nil {
				return persistErr("upsert records", err)
			}
		}
		if ids := plan.DroppedIDs(); len(ids) > 0 {
			if err := tx.MarkDropped(ctx, ids, plan.ComputedAt); err != nil {
				return persistErr("mark dropped", err)
			}
		}
		return persistErr("save upload", tx.SaveUpload(ctx, upload))
	})
	if err != nil {
		in.Logger.Warn("upload commit failed",
			zap.String("agency_id", string(req.AgencyID)),
			zap.String("window", req.Window.Key()),
			zap.Int64("base_version", plan.BaseVersion),
			zap.Bool("retryable", IsRetryable(err)),
			zap.Error(err))
		return nil, err
	}

	result := &IngestResult{
		Upload:    upload,
		Processed: plan.RowsReceived,
		Inserted:  len(plan.ToInsert),
		Confirmed: len(plan.ToConfirm),
		Dropped:   len(plan.ToMarkDropped),
		Restored:  len(plan.ToUnmarkDropped),
		Errored:   len(plan.Rejected),
		Errors:    plan.Rejected,
	}
	in.logResult(req, result)
	return result, nil
}

// Ingest previews and commits req while holding the window lock.
func (in *Ingestor) Ingest(ctx context.Context, req UploadRequest) (*IngestResult, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	unlock, err := in.locks.lock(ctx, string(req.AgencyID)+"|"+req.Window.Key())
	if err != nil {
		return nil, err
	}
	defer unlock()

	plan, err := in.Preview(ctx, req)
	if err != nil {
		return nil, err
	}
	return in.Commit(ctx, req, plan)
}

func (in *Ingestor) logResult(req UploadRequest, res *IngestResult) {
	for _, rowErr := range res.Errors {
		in.Logger.Warn("rejected upload row",
			zap.String("upload_id", string(res.Upload.ID)),
			zap.Int("row", rowErr.Row),
			zap.String("policy_number", rowErr.PolicyNumber),
			zap.String("field", rowErr.Field),
			zap.String("reason", rowErr.Reason))
	}
	in.Logger.Info("upload reconciled",
		zap.String("upload_id", string(res.Upload.ID)),
		zap.String("agency_id", string(req.AgencyID)),
		zap.String("window", req.Window.Key()),
		zap.String("filename", req.Filename),
		zap.Int("processed", res.Processed),
		zap.Int("inserted", res.Inserted),
		zap.Int("confirmed", res.Confirmed),
		zap.Int("dropped", res.Dropped),
		zap.Int("restored", res.Restored),
		zap.Int("errored", res.Errored))
}

// String renders the user-facing processed/errored summary.
func (r *IngestResult) String() string {
	return fmt.Sprintf("%d processed, %d errored (%d new, %d confirmed, %d dropped, %d restored)",
		r.Processed, r.Errored, r.Inserted, r.Confirmed, r.Dropped, r.Restored)
}

// =============================================================================
// KEYED LOCK - One holder per (agency, window)
// =============================================================================

type keyedLock struct {
	mu    sync.Mutex
	slots map[string]*lockSlot
}

type lockSlot struct {
	ch   chan struct{}
	refs int
}

// lock blocks until key is free or ctx is done. The returned func releases.
func (k *keyedLock) lock(ctx context.Context, key string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	k.mu.Lock()
	if k.slots == nil {
		k.slots = make(map[string]*lockSlot)
	}
	slot, ok := k.slots[key]
	if !ok {
		slot = &lockSlot{ch: make(chan struct{}, 1)}
		k.slots[key] = slot
	}
	slot.refs++
	k.mu.Unlock()

	select {
	case slot.ch <- struct{}{}:
		return func() {
			<-slot.ch
			k.release(key, slot)
		}, nil
	case <-ctx.Done():
		k.release(key, slot)
		return nil, ctx.Err()
	}
}

func (k *keyedLock) release(key string, slot *lockSlot) {
	k.mu.Lock()
	defer k.mu.Unlock()
	slot.refs--
	if slot.refs == 0 {
		delete(k.slots, key)
	}
}
