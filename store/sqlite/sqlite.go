/*
Package sqlite provides a SQLite-backed implementation of renewal.TxStore.

PURPOSE:
  Persists renewal records, upload history, per-window versions and the
  cancel-audit set. In production, the same patterns apply to PostgreSQL -
  only minor SQL dialect differences (ON CONFLICT is shared).

KEY TABLES:
  renewal_records:  One row per (agency, policy number, window) lineage
  renewal_uploads:  Immutable upload history
  window_versions:  Optimistic-concurrency counter per (agency, window)
  cancel_audits:    Policy numbers currently under cancel audit

INDEXES:
  - idx_records_agency_date: Window reads (hot path for every upload)
  - idx_records_dropped: Dropped view, most recent first
  - idx_uploads_agency_created: Upload history

NO SIDE-EFFECT DELETES:
  The only DELETE on renewal_records is ResolveDropped, and it refuses
  records that are still active.

CONCURRENCY:
  The pool is capped at one connection, so a transaction opened by WithTx
  owns the database until it commits and ":memory:" databases survive
  across calls. Every query runs through a querier, so the Store and the
  transactional view share one implementation.

STORAGE FORMATS:
  Dates are TEXT "2006-01-02", timestamps fixed-width RFC3339 in UTC, and
  money is the decimal string. Dates and timestamps sort lexically in
  value order. Money strings do not, and no query orders by them.

USAGE:
  store, err := sqlite.New("./data/renewals.db")
  if err != nil {
      return err
  }
  defer store.Close()

  ingestor := renewal.NewIngestor(store, logger)

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - renewal/store.go: Interface definitions
  - renewal/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/warp/renewal-engine/renewal"
)

// timestampLayout is fixed width so stored timestamps order lexically.
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

// querier is the part of *sql.DB and *sql.Tx the store uses.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// queries implements renewal.Store against a querier.
type queries struct {
	q querier
}

// Store implements renewal.TxStore using SQLite.
type Store struct {
	*queries
	db *sql.DB
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{queries: &queries{q: db}, db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS renewal_records (
		id TEXT PRIMARY KEY,
		agency_id TEXT NOT NULL,
		policy_number TEXT NOT NULL,
		renewal_effective_date TEXT NOT NULL,
		first_name TEXT NOT NULL DEFAULT '',
		last_name TEXT NOT NULL DEFAULT '',
		product_name TEXT NOT NULL DEFAULT '',
		product_code TEXT NOT NULL DEFAULT '',
		premium_old TEXT,
		premium_new TEXT,
		premium_change_percent TEXT,
		amount_due TEXT,
		renewal_status TEXT NOT NULL DEFAULT '',
		multi_line_indicator TEXT NOT NULL DEFAULT 'n/a',
		original_year INTEGER,
		current_status TEXT NOT NULL DEFAULT 'uncontacted',
		is_priority INTEGER NOT NULL DEFAULT 0,
		assigned_team_member_id TEXT,
		dropped_from_report_at TEXT,
		last_seen_upload_id TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_records_agency_date
		ON renewal_records(agency_id, renewal_effective_date);
	CREATE INDEX IF NOT EXISTS idx_records_dropped
		ON renewal_records(agency_id, dropped_from_report_at)
		WHERE dropped_from_report_at IS NOT NULL;

	CREATE TABLE IF NOT EXISTS renewal_uploads (
		id TEXT PRIMARY KEY,
		agency_id TEXT NOT NULL,
		filename TEXT NOT NULL DEFAULT '',
		uploaded_by TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		record_count INTEGER NOT NULL DEFAULT 0,
		date_range_start TEXT NOT NULL,
		date_range_end TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_uploads_agency_created
		ON renewal_uploads(agency_id, created_at);

	CREATE TABLE IF NOT EXISTS window_versions (
		agency_id TEXT NOT NULL,
		window_key TEXT NOT NULL,
		version INTEGER NOT NULL,
		PRIMARY KEY (agency_id, window_key)
	);

	CREATE TABLE IF NOT EXISTS cancel_audits (
		agency_id TEXT NOT NULL,
		policy_number TEXT NOT NULL,
		PRIMARY KEY (agency_id, policy_number)
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONAL STORE (renewal.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store renewal.Store) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&queries{q: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// The multi-statement writes below run in their own transaction when called
// outside WithTx.

func (s *Store) UpsertRecords(ctx context.Context, agencyID renewal.AgencyID, records []renewal.RenewalRecord) error {
	return s.WithTx(ctx, func(tx renewal.Store) error {
		return tx.UpsertRecords(ctx, agencyID, records)
	})
}

func (s *Store) MarkDropped(ctx context.Context, ids []renewal.RecordID, at time.Time) error {
	return s.WithTx(ctx, func(tx renewal.Store) error {
		return tx.MarkDropped(ctx, ids, at)
	})
}

func (s *Store) UpdateWorkflow(ctx context.Context, id renewal.RecordID, update renewal.WorkflowUpdate) (*renewal.RenewalRecord, error) {
	var updated *renewal.RenewalRecord
	err := s.WithTx(ctx, func(tx renewal.Store) error {
		var err error
		updated, err = tx.UpdateWorkflow(ctx, id, update)
		return err
	})
	return updated, err
}

func (s *Store) ResolveDropped(ctx context.Context, id renewal.RecordID) error {
	return s.WithTx(ctx, func(tx renewal.Store) error {
		return tx.ResolveDropped(ctx, id)
	})
}

func (s *Store) SetAuditPolicies(ctx context.Context, agencyID renewal.AgencyID, policyNumbers []string) error {
	return s.WithTx(ctx, func(tx renewal.Store) error {
		return tx.SetAuditPolicies(ctx, agencyID, policyNumbers)
	})
}

// =============================================================================
// RECORDS
// =============================================================================

const recordColumns = `
	id, agency_id, policy_number, renewal_effective_date,
	first_name, last_name, product_name, product_code,
	premium_old, premium_new, premium_change_percent, amount_due,
	renewal_status, multi_line_indicator, original_year,
	current_status, is_priority, assigned_team_member_id,
	dropped_from_report_at, last_seen_upload_id, created_at, updated_at`

func (q *queries) ListActiveRecords(ctx context.Context, agencyID renewal.AgencyID, window renewal.Window) ([]renewal.RenewalRecord, error) {
	query := `SELECT ` + recordColumns + `
		FROM renewal_records
		WHERE agency_id = ?
		  AND renewal_effective_date >= ? AND renewal_effective_date <= ?
		  AND dropped_from_report_at IS NULL
		ORDER BY renewal_effective_date ASC, id ASC`
	return q.queryRecords(ctx, query, agencyID, window.Start, window.End)
}

func (q *queries) ListWindowRecords(ctx context.Context, agencyID renewal.AgencyID, window renewal.Window) ([]renewal.RenewalRecord, error) {
	query := `SELECT ` + recordColumns + `
		FROM renewal_records
		WHERE agency_id = ?
		  AND renewal_effective_date >= ? AND renewal_effective_date <= ?
		ORDER BY renewal_effective_date ASC, id ASC`
	return q.queryRecords(ctx, query, agencyID, window.Start, window.End)
}

func (q *queries) ListRecords(ctx context.Context, agencyID renewal.AgencyID) ([]renewal.RenewalRecord, error) {
	query := `SELECT ` + recordColumns + `
		FROM renewal_records
		WHERE agency_id = ?
		ORDER BY renewal_effective_date ASC, id ASC`
	return q.queryRecords(ctx, query, agencyID)
}

func (q *queries) GetRecord(ctx context.Context, id renewal.RecordID) (*renewal.RenewalRecord, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM renewal_records WHERE id = ?`, id)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, renewal.ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// UpsertRecords inserts new rows and, for existing ids, overwrites report
// fields and lineage only. Workflow columns are left as stored.
func (q *queries) UpsertRecords(ctx context.Context, agencyID renewal.AgencyID, records []renewal.RenewalRecord) error {
	query := `
		INSERT INTO renewal_records (` + recordColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			policy_number = excluded.policy_number,
			renewal_effective_date = excluded.renewal_effective_date,
			first_name = excluded.first_name,
			last_name = excluded.last_name,
			product_name = excluded.product_name,
			product_code = excluded.product_code,
			premium_old = excluded.premium_old,
			premium_new = excluded.premium_new,
			premium_change_percent = excluded.premium_change_percent,
			amount_due = excluded.amount_due,
			renewal_status = excluded.renewal_status,
			multi_line_indicator = excluded.multi_line_indicator,
			original_year = excluded.original_year,
			dropped_from_report_at = excluded.dropped_from_report_at,
			last_seen_upload_id = excluded.last_seen_upload_id,
			updated_at = excluded.updated_at`

	for _, r := range records {
		_, err := q.q.ExecContext(ctx, query,
			r.ID,
			agencyID,
			r.PolicyNumber,
			r.RenewalEffectiveDate,
			r.FirstName,
			r.LastName,
			r.ProductName,
			r.ProductCode,
			r.PremiumOld,
			r.PremiumNew,
			r.PremiumChangePercent,
			r.AmountDue,
			string(r.RenewalStatus),
			string(r.MultiLineIndicator),
			nullInt(r.OriginalYear),
			string(r.CurrentStatus),
			r.IsPriority,
			nullStringPtr(r.AssignedTeamMemberID),
			nullTime(r.DroppedFromReportAt),
			string(r.LastSeenUploadID),
			formatTime(r.CreatedAt),
			formatTime(r.UpdatedAt),
		)
		if err != nil {
			return fmt.Errorf("failed to upsert record %s: %w", r.ID, err)
		}
	}
	return nil
}

func (q *queries) MarkDropped(ctx context.Context, ids []renewal.RecordID, at time.Time) error {
	stamp := formatTime(at)
	for _, id := range ids {
		_, err := q.q.ExecContext(ctx, `
			UPDATE renewal_records
			SET dropped_from_report_at = ?, updated_at = ?
			WHERE id = ? AND dropped_from_report_at IS NULL`,
			stamp, stamp, id)
		if err != nil {
			return fmt.Errorf("failed to mark %s dropped: %w", id, err)
		}
	}
	return nil
}

func (q *queries) ListDropped(ctx context.Context, agencyID renewal.AgencyID, page, pageSize int) (renewal.RecordPage, error) {
	limit, offset := pageBounds(page, pageSize)

	var total int
	err := q.q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM renewal_records
		WHERE agency_id = ? AND dropped_from_report_at IS NOT NULL`,
		agencyID,
	).Scan(&total)
	if err != nil {
		return renewal.RecordPage{}, fmt.Errorf("failed to count dropped records: %w", err)
	}

	records, err := q.queryRecords(ctx, `SELECT `+recordColumns+`
		FROM renewal_records
		WHERE agency_id = ? AND dropped_from_report_at IS NOT NULL
		ORDER BY dropped_from_report_at DESC, id ASC
		LIMIT ? OFFSET ?`,
		agencyID, limit, offset)
	if err != nil {
		return renewal.RecordPage{}, err
	}
	if records == nil {
		records = []renewal.RenewalRecord{}
	}
	return renewal.RecordPage{Records: records, TotalCount: total}, nil
}

func (q *queries) UpdateWorkflow(ctx context.Context, id renewal.RecordID, update renewal.WorkflowUpdate) (*renewal.RenewalRecord, error) {
	if err := update.Validate(); err != nil {
		return nil, err
	}
	r, err := q.GetRecord(ctx, id)
	if err != nil {
		return nil, err
	}

	update.Apply(r)
	r.UpdatedAt = time.Now().UTC()

	_, err = q.q.ExecContext(ctx, `
		UPDATE renewal_records
		SET is_priority = ?, current_status = ?, assigned_team_member_id = ?, updated_at = ?
		WHERE id = ?`,
		r.IsPriority, string(r.CurrentStatus), nullStringPtr(r.AssignedTeamMemberID), formatTime(r.UpdatedAt), id)
	if err != nil {
		return nil, fmt.Errorf("failed to update workflow: %w", err)
	}
	return r, nil
}

func (q *queries) ResolveDropped(ctx context.Context, id renewal.RecordID) error {
	r, err := q.GetRecord(ctx, id)
	if err != nil {
		return err
	}
	if !r.IsDropped() {
		return renewal.ErrRecordNotDropped
	}
	_, err = q.q.ExecContext(ctx,
		"DELETE FROM renewal_records WHERE id = ? AND dropped_from_report_at IS NOT NULL", id)
	return err
}

func (q *queries) queryRecords(ctx context.Context, query string, args ...any) ([]renewal.RenewalRecord, error) {
	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	var records []renewal.RenewalRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (renewal.RenewalRecord, error) {
	var (
		r              renewal.RenewalRecord
		renewalStatus  string
		multiLine      string
		currentStatus  string
		originalYear   sql.NullInt64
		assignedMember sql.NullString
		droppedAt      sql.NullString
		lastSeen       string
		createdAt      string
		updatedAt      string
	)

	err := row.Scan(
		&r.ID, &r.AgencyID, &r.PolicyNumber, &r.RenewalEffectiveDate,
		&r.FirstName, &r.LastName, &r.ProductName, &r.ProductCode,
		&r.PremiumOld, &r.PremiumNew, &r.PremiumChangePercent, &r.AmountDue,
		&renewalStatus, &multiLine, &originalYear,
		&currentStatus, &r.IsPriority, &assignedMember,
		&droppedAt, &lastSeen, &createdAt, &updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return r, err
		}
		return r, fmt.Errorf("failed to scan record: %w", err)
	}

	r.RenewalStatus = renewal.RenewalStatus(renewalStatus)
	r.MultiLineIndicator = renewal.MultiLine(multiLine)
	r.CurrentStatus = renewal.WorkflowStatus(currentStatus)
	r.LastSeenUploadID = renewal.UploadID(lastSeen)
	if originalYear.Valid {
		y := int(originalYear.Int64)
		r.OriginalYear = &y
	}
	if assignedMember.Valid {
		m := assignedMember.String
		r.AssignedTeamMemberID = &m
	}
	if droppedAt.Valid {
		t := parseTime(droppedAt.String)
		r.DroppedFromReportAt = &t
	}
	r.CreatedAt = parseTime(createdAt)
	r.UpdatedAt = parseTime(updatedAt)
	return r, nil
}

// =============================================================================
// UPLOADS
// =============================================================================

func (q *queries) SaveUpload(ctx context.Context, u renewal.RenewalUpload) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO renewal_uploads
		(id, agency_id, filename, uploaded_by, created_at, record_count, date_range_start, date_range_end)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.AgencyID, u.Filename, u.UploadedByDisplayName,
		formatTime(u.CreatedAt), u.RecordCount, u.DateRangeStart, u.DateRangeEnd,
	)
	if err != nil {
		return fmt.Errorf("failed to save upload: %w", err)
	}
	return nil
}

// ListUploads returns the agency's uploads, newest first.
func (q *queries) ListUploads(ctx context.Context, agencyID renewal.AgencyID) ([]renewal.RenewalUpload, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT id, agency_id, filename, uploaded_by, created_at, record_count, date_range_start, date_range_end
		FROM renewal_uploads
		WHERE agency_id = ?
		ORDER BY created_at DESC, rowid DESC`,
		agencyID)
	if err != nil {
		return nil, fmt.Errorf("failed to query uploads: %w", err)
	}
	defer rows.Close()

	var uploads []renewal.RenewalUpload
	for rows.Next() {
		var (
			u         renewal.RenewalUpload
			createdAt string
		)
		if err := rows.Scan(&u.ID, &u.AgencyID, &u.Filename, &u.UploadedByDisplayName,
			&createdAt, &u.RecordCount, &u.DateRangeStart, &u.DateRangeEnd); err != nil {
			return nil, fmt.Errorf("failed to scan upload: %w", err)
		}
		u.CreatedAt = parseTime(createdAt)
		uploads = append(uploads, u)
	}
	return uploads, rows.Err()
}

// =============================================================================
// WINDOW VERSIONS
// =============================================================================

func (q *queries) WindowVersion(ctx context.Context, agencyID renewal.AgencyID, window renewal.Window) (int64, error) {
	var version int64
	err := q.q.QueryRowContext(ctx,
		"SELECT version FROM window_versions WHERE agency_id = ? AND window_key = ?",
		agencyID, window.Key(),
	).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return version, err
}

// BumpWindowVersion moves the version from expected to expected+1, or fails
// with ErrConcurrentUpload if another commit already moved it.
func (q *queries) BumpWindowVersion(ctx context.Context, agencyID renewal.AgencyID, window renewal.Window, expected int64) error {
	var (
		res sql.Result
		err error
	)
	if expected == 0 {
		res, err = q.q.ExecContext(ctx, `
			INSERT INTO window_versions (agency_id, window_key, version)
			VALUES (?, ?, 1)
			ON CONFLICT(agency_id, window_key) DO NOTHING`,
			agencyID, window.Key())
	} else {
		res, err = q.q.ExecContext(ctx, `
			UPDATE window_versions SET version = version + 1
			WHERE agency_id = ? AND window_key = ? AND version = ?`,
			agencyID, window.Key(), expected)
	}
	if err != nil {
		return fmt.Errorf("failed to bump window version: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return renewal.ErrConcurrentUpload
	}
	return nil
}

// =============================================================================
// CANCEL AUDITS
// =============================================================================

func (q *queries) SetAuditPolicies(ctx context.Context, agencyID renewal.AgencyID, policyNumbers []string) error {
	if _, err := q.q.ExecContext(ctx, "DELETE FROM cancel_audits WHERE agency_id = ?", agencyID); err != nil {
		return fmt.Errorf("failed to clear audits: %w", err)
	}
	for _, p := range policyNumbers {
		p = strings.ToUpper(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		_, err := q.q.ExecContext(ctx, `
			INSERT INTO cancel_audits (agency_id, policy_number) VALUES (?, ?)
			ON CONFLICT(agency_id, policy_number) DO NOTHING`,
			agencyID, p)
		if err != nil {
			return fmt.Errorf("failed to save audit %s: %w", p, err)
		}
	}
	return nil
}

func (q *queries) ListAuditPolicies(ctx context.Context, agencyID renewal.AgencyID) ([]string, error) {
	rows, err := q.q.QueryContext(ctx,
		"SELECT policy_number FROM cancel_audits WHERE agency_id = ? ORDER BY policy_number", agencyID)
	if err != nil {
		return nil, fmt.Errorf("failed to query audits: %w", err)
	}
	defer rows.Close()

	var policies []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		policies = append(policies, p)
	}
	return policies, rows.Err()
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	tables := []string{"renewal_records", "renewal_uploads", "window_versions", "cancel_audits"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// pageBounds applies the same page rules as renewal.Paginate.
func pageBounds(page, pageSize int) (limit, offset int) {
	if pageSize <= 0 {
		pageSize = renewal.DefaultPageSize
	}
	if pageSize > renewal.MaxPageSize {
		pageSize = renewal.MaxPageSize
	}
	if page < 1 {
		page = 1
	}
	if page > math.MaxInt/pageSize {
		page = math.MaxInt / pageSize
	}
	return pageSize, (page - 1) * pageSize
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timestampLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t.UTC()
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func nullStringPtr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullInt(n *int) sql.NullInt64 {
	if n == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*n), Valid: true}
}

var (
	_ renewal.TxStore = (*Store)(nil)
	_ renewal.Store   = (*queries)(nil)
)
