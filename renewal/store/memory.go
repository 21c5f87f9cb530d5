// Package store provides in-process renewal.Store implementations.
package store

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/warp/renewal-engine/renewal"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu       sync.RWMutex
	records  map[renewal.RecordID]renewal.RenewalRecord
	uploads  []renewal.RenewalUpload
	versions map[string]int64
	audits   map[renewal.AgencyID][]string

	// Now stamps UpdatedAt on workflow edits. Defaults to time.Now.
	Now func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		records:  make(map[renewal.RecordID]renewal.RenewalRecord),
		versions: make(map[string]int64),
		audits:   make(map[renewal.AgencyID][]string),
	}
}

func versionKey(agencyID renewal.AgencyID, window renewal.Window) string {
	return string(agencyID) + "|" + window.Key()
}

func (m *Memory) now() time.Time {
	if m.Now != nil {
		return m.Now().UTC()
	}
	return time.Now().UTC()
}

func (m *Memory) ListActiveRecords(_ context.Context, agencyID renewal.AgencyID, window renewal.Window) ([]renewal.RenewalRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listLocked(agencyID, &window, false), nil
}

func (m *Memory) ListWindowRecords(_ context.Context, agencyID renewal.AgencyID, window renewal.Window) ([]renewal.RenewalRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listLocked(agencyID, &window, true), nil
}

func (m *Memory) ListRecords(_ context.Context, agencyID renewal.AgencyID) ([]renewal.RenewalRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listLocked(agencyID, nil, true), nil
}

// listLocked returns copies ordered by effective date then id, the same
// order the SQLite store uses.
func (m *Memory) listLocked(agencyID renewal.AgencyID, window *renewal.Window, withDropped bool) []renewal.RenewalRecord {
	var out []renewal.RenewalRecord
	for _, r := range m.records {
		if r.AgencyID != agencyID {
			continue
		}
		if window != nil && !window.Contains(r.RenewalEffectiveDate) {
			continue
		}
		if !withDropped && r.IsDropped() {
			continue
		}
		out = append(out, r.Clone())
	}
	slices.SortFunc(out, func(a, b renewal.RenewalRecord) int {
		if c := a.RenewalEffectiveDate.Compare(b.RenewalEffectiveDate); c != 0 {
			return c
		}
		return strings.Compare(string(a.ID), string(b.ID))
	})
	return out
}

func (m *Memory) GetRecord(_ context.Context, id renewal.RecordID) (*renewal.RenewalRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getLocked(id)
}

func (m *Memory) getLocked(id renewal.RecordID) (*renewal.RenewalRecord, error) {
	r, ok := m.records[id]
	if !ok {
		return nil, renewal.ErrRecordNotFound
	}
	c := r.Clone()
	return &c, nil
}

func (m *Memory) UpsertRecords(_ context.Context, agencyID renewal.AgencyID, records []renewal.RenewalRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upsertLocked(agencyID, records)
	return nil
}

func (m *Memory) upsertLocked(agencyID renewal.AgencyID, records []renewal.RenewalRecord) {
	for _, r := range records {
		next := r.Clone()
		next.AgencyID = agencyID
		if stored, ok := m.records[r.ID]; ok {
			// Workflow fields belong to the agency, not the report.
			next.IsPriority = stored.IsPriority
			next.CurrentStatus = stored.CurrentStatus
			next.AssignedTeamMemberID = stored.AssignedTeamMemberID
			next.CreatedAt = stored.CreatedAt
		}
		m.records[r.ID] = next
	}
}

func (m *Memory) MarkDropped(_ context.Context, ids []renewal.RecordID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.markDroppedLocked(ids, at)
	return nil
}

func (m *Memory) markDroppedLocked(ids []renewal.RecordID, at time.Time) {
	for _, id := range ids {
		r, ok := m.records[id]
		if !ok || r.IsDropped() {
			continue
		}
		t := at.UTC()
		r.DroppedFromReportAt = &t
		r.UpdatedAt = t
		m.records[id] = r
	}
}

func (m *Memory) ListDropped(_ context.Context, agencyID renewal.AgencyID, page, pageSize int) (renewal.RecordPage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listDroppedLocked(agencyID, page, pageSize), nil
}

func (m *Memory) listDroppedLocked(agencyID renewal.AgencyID, page, pageSize int) renewal.RecordPage {
	var dropped []renewal.RenewalRecord
	for _, r := range m.records {
		if r.AgencyID == agencyID && r.IsDropped() {
			dropped = append(dropped, r.Clone())
		}
	}
	slices.SortFunc(dropped, func(a, b renewal.RenewalRecord) int {
		if c := b.DroppedFromReportAt.Compare(*a.DroppedFromReportAt); c != 0 {
			return c
		}
		return strings.Compare(string(a.ID), string(b.ID))
	})

	p := renewal.Paginate(dropped, page, pageSize)
	return renewal.RecordPage{Records: p.Rows, TotalCount: p.TotalCount}
}

func (m *Memory) UpdateWorkflow(_ context.Context, id renewal.RecordID, update renewal.WorkflowUpdate) (*renewal.RenewalRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateWorkflowLocked(id, update)
}

func (m *Memory) updateWorkflowLocked(id renewal.RecordID, update renewal.WorkflowUpdate) (*renewal.RenewalRecord, error) {
	if err := update.Validate(); err != nil {
		return nil, err
	}
	r, ok := m.records[id]
	if !ok {
		return nil, renewal.ErrRecordNotFound
	}
	update.Apply(&r)
	r.UpdatedAt = m.now()
	m.records[id] = r
	c := r.Clone()
	return &c, nil
}

func (m *Memory) ResolveDropped(_ context.Context, id renewal.RecordID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resolveLocked(id)
}

func (m *Memory) resolveLocked(id renewal.RecordID) error {
	r, ok := m.records[id]
	if !ok {
		return renewal.ErrRecordNotFound
	}
	if !r.IsDropped() {
		return renewal.ErrRecordNotDropped
	}
	delete(m.records, id)
	return nil
}

func (m *Memory) SaveUpload(_ context.Context, upload renewal.RenewalUpload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.uploads = append(m.uploads, upload)
	return nil
}

// ListUploads returns the agency's uploads, newest first.
func (m *Memory) ListUploads(_ context.Context, agencyID renewal.AgencyID) ([]renewal.RenewalUpload, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listUploadsLocked(agencyID), nil
}

func (m *Memory) listUploadsLocked(agencyID renewal.AgencyID) []renewal.RenewalUpload {
	var out []renewal.RenewalUpload
	for i := len(m.uploads) - 1; i >= 0; i-- {
		if m.uploads[i].AgencyID == agencyID {
			out = append(out, m.uploads[i])
		}
	}
	return out
}

func (m *Memory) WindowVersion(_ context.Context, agencyID renewal.AgencyID, window renewal.Window) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.versions[versionKey(agencyID, window)], nil
}

func (m *Memory) BumpWindowVersion(_ context.Context, agencyID renewal.AgencyID, window renewal.Window, expected int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bumpLocked(agencyID, window, expected)
}

func (m *Memory) bumpLocked(agencyID renewal.AgencyID, window renewal.Window, expected int64) error {
	k := versionKey(agencyID, window)
	if m.versions[k] != expected {
		return renewal.ErrConcurrentUpload
	}
	m.versions[k] = expected + 1
	return nil
}

func (m *Memory) SetAuditPolicies(_ context.Context, agencyID renewal.AgencyID, policyNumbers []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audits[agencyID] = normalizeAudits(policyNumbers)
	return nil
}

// normalizeAudits upper-cases, dedupes and sorts, matching the SQLite store.
func normalizeAudits(policyNumbers []string) []string {
	out := make([]string, 0, len(policyNumbers))
	for _, p := range policyNumbers {
		if p = strings.ToUpper(strings.TrimSpace(p)); p != "" {
			out = append(out, p)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

func (m *Memory) ListAuditPolicies(_ context.Context, agencyID renewal.AgencyID) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.audits[agencyID]), nil
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (tm *TxMemory) WithTx(ctx context.Context, fn func(renewal.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.snapshot()
	if err := fn(&txMemoryView{parent: tm.Memory}); err != nil {
		tm.restore(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	records  map[renewal.RecordID]renewal.RenewalRecord
	uploads  []renewal.RenewalUpload
	versions map[string]int64
	audits   map[renewal.AgencyID][]string
}

func (tm *TxMemory) snapshot() memorySnapshot {
	s := memorySnapshot{
		records:  make(map[renewal.RecordID]renewal.RenewalRecord, len(tm.records)),
		uploads:  slices.Clone(tm.uploads),
		versions: make(map[string]int64, len(tm.versions)),
		audits:   make(map[renewal.AgencyID][]string, len(tm.audits)),
	}
	for k, v := range tm.records {
		s.records[k] = v.Clone()
	}
	for k, v := range tm.versions {
		s.versions[k] = v
	}
	for k, v := range tm.audits {
		s.audits[k] = slices.Clone(v)
	}
	return s
}

func (tm *TxMemory) restore(s memorySnapshot) {
	tm.records = s.records
	tm.uploads = s.uploads
	tm.versions = s.versions
	tm.audits = s.audits
}

// txMemoryView runs under the lock WithTx already holds, so it calls the
// locked helpers directly.
type txMemoryView struct {
	parent *Memory
}

func (tv *txMemoryView) ListActiveRecords(_ context.Context, agencyID renewal.AgencyID, window renewal.Window) ([]renewal.RenewalRecord, error) {
	return tv.parent.listLocked(agencyID, &window, false), nil
}

func (tv *txMemoryView) ListWindowRecords(_ context.Context, agencyID renewal.AgencyID, window renewal.Window) ([]renewal.RenewalRecord, error) {
	return tv.parent.listLocked(agencyID, &window, true), nil
}

func (tv *txMemoryView) ListRecords(_ context.Context, agencyID renewal.AgencyID) ([]renewal.RenewalRecord, error) {
	return tv.parent.listLocked(agencyID, nil, true), nil
}

func (tv *txMemoryView) GetRecord(_ context.Context, id renewal.RecordID) (*renewal.RenewalRecord, error) {
	return tv.parent.getLocked(id)
}

func (tv *txMemoryView) UpsertRecords(_ context.Context, agencyID renewal.AgencyID, records []renewal.RenewalRecord) error {
	tv.parent.upsertLocked(agencyID, records)
	return nil
}

func (tv *txMemoryView) MarkDropped(_ context.Context, ids []renewal.RecordID, at time.Time) error {
	tv.parent.markDroppedLocked(ids, at)
	return nil
}

func (tv *txMemoryView) ListDropped(_ context.Context, agencyID renewal.AgencyID, page, pageSize int) (renewal.RecordPage, error) {
	return tv.parent.listDroppedLocked(agencyID, page, pageSize), nil
}

func (tv *txMemoryView) UpdateWorkflow(_ context.Context, id renewal.RecordID, update renewal.WorkflowUpdate) (*renewal.RenewalRecord, error) {
	return tv.parent.updateWorkflowLocked(id, update)
}

func (tv *txMemoryView) ResolveDropped(_ context.Context, id renewal.RecordID) error {
	return tv.parent.resolveLocked(id)
}

func (tv *txMemoryView) SaveUpload(_ context.Context, upload renewal.RenewalUpload) error {
	tv.parent.uploads = append(tv.parent.uploads, upload)
	return nil
}

func (tv *txMemoryView) ListUploads(_ context.Context, agencyID renewal.AgencyID) ([]renewal.RenewalUpload, error) {
	return tv.parent.listUploadsLocked(agencyID), nil
}

func (tv *txMemoryView) WindowVersion(_ context.Context, agencyID renewal.AgencyID, window renewal.Window) (int64, error) {
	return tv.parent.versions[versionKey(agencyID, window)], nil
}

func (tv *txMemoryView) BumpWindowVersion(_ context.Context, agencyID renewal.AgencyID, window renewal.Window, expected int64) error {
	return tv.parent.bumpLocked(agencyID, window, expected)
}

func (tv *txMemoryView) SetAuditPolicies(_ context.Context, agencyID renewal.AgencyID, policyNumbers []string) error {
	tv.parent.audits[agencyID] = normalizeAudits(policyNumbers)
	return nil
}

func (tv *txMemoryView) ListAuditPolicies(_ context.Context, agencyID renewal.AgencyID) ([]string, error) {
	return slices.Clone(tv.parent.audits[agencyID]), nil
}

// Reset clears all data (for testing/demo).
func (tm *TxMemory) Reset(_ context.Context) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.records = make(map[renewal.RecordID]renewal.RenewalRecord)
	tm.uploads = nil
	tm.versions = make(map[string]int64)
	tm.audits = make(map[renewal.AgencyID][]string)
	return nil
}

var (
	_ renewal.TxStore = (*TxMemory)(nil)
	_ renewal.Store   = (*txMemoryView)(nil)
)
