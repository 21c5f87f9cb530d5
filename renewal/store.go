/*
store.go - Persistence interface for renewal records and uploads

PURPOSE:
  Defines the boundary between the engine and the database. The engine
  never deletes a record as a side effect of an upload; the only delete is
  ResolveDropped, an explicit user action on an already-dropped record.

KEY INTERFACES:
  Store:   Record, upload, window-version and audit-set persistence
  TxStore: Store plus WithTx for the atomic commit of one upload

WINDOW VERSIONS:
  Every committed upload bumps a per-(agency, window) version. A Plan
  remembers the version it was computed against; Commit calls
  BumpWindowVersion with that expected value inside the transaction, and a
  mismatch (another upload got there first) yields ErrConcurrentUpload.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite
  - renewal/store/memory.go: In-memory for tests and demos

SEE ALSO:
  - ingest.go: The only writer of reconciliation results
  - optimistic.go: Workflow edits from the UI
*/
package renewal

import (
	"context"
	"time"
)

// =============================================================================
// STORE
// =============================================================================

type Store interface {
	// ListActiveRecords returns non-dropped records of the agency whose
	// effective date falls in window.
	ListActiveRecords(ctx context.Context, agencyID AgencyID, window Window) ([]RenewalRecord, error)

	// ListWindowRecords is ListActiveRecords including dropped records.
	ListWindowRecords(ctx context.Context, agencyID AgencyID, window Window) ([]RenewalRecord, error)

	// ListRecords returns every record of the agency, dropped included.
	ListRecords(ctx context.Context, agencyID AgencyID) ([]RenewalRecord, error)

	// GetRecord returns ErrRecordNotFound for an unknown id.
	GetRecord(ctx context.Context, id RecordID) (*RenewalRecord, error)

	// UpsertRecords inserts new ids with every field. For ids already stored
	// it overwrites report fields and lineage (a nil DroppedFromReportAt
	// clears the drop mark) but keeps the stored workflow fields, so an edit
	// made after a Preview survives the Commit.
	UpsertRecords(ctx context.Context, agencyID AgencyID, records []RenewalRecord) error

	// MarkDropped sets DroppedFromReportAt on ids that are not already dropped.
	MarkDropped(ctx context.Context, ids []RecordID, at time.Time) error

	// ListDropped pages through dropped records, most recently dropped first.
	// page is 1-based.
	ListDropped(ctx context.Context, agencyID AgencyID, page, pageSize int) (RecordPage, error)

	// UpdateWorkflow applies a user edit and returns the updated record.
	UpdateWorkflow(ctx context.Context, id RecordID, update WorkflowUpdate) (*RenewalRecord, error)

	// ResolveDropped removes a dropped record once the user has dealt with it.
	// Returns ErrRecordNotDropped if the record is still active.
	ResolveDropped(ctx context.Context, id RecordID) error

	SaveUpload(ctx context.Context, upload RenewalUpload) error
	ListUploads(ctx context.Context, agencyID AgencyID) ([]RenewalUpload, error)

	WindowVersion(ctx context.Context, agencyID AgencyID, window Window) (int64, error)
	BumpWindowVersion(ctx context.Context, agencyID AgencyID, window Window, expected int64) error

	// SetAuditPolicies replaces the agency's active cancel-audit set.
	SetAuditPolicies(ctx context.Context, agencyID AgencyID, policyNumbers []string) error
	ListAuditPolicies(ctx context.Context, agencyID AgencyID) ([]string, error)
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction. If fn returns an error the
	// transaction is rolled back, otherwise committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// AuditSet builds the lookup FilterSpec.AuditPolicies expects.
func AuditSet(policyNumbers []string) map[string]struct{} {
	set := make(map[string]struct{}, len(policyNumbers))
	for _, p := range policyNumbers {
		if p = normalizePolicyNumber(p); p != "" {
			set[p] = struct{}{}
		}
	}
	return set
}
