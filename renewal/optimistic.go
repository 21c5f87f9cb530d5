/*
optimistic.go - Optimistic workflow edits with revert on failure

PURPOSE:
  Starring a record or changing its contact status must feel instant. The
  Editor applies the change to a LocalView straight away, persists it on a
  goroutine, and if the store call fails applies the inverse mutation and
  reports the error once. There is no retry and no cancellation: a failed
  edit surfaces and the view goes back to what it was.

COMMAND PATTERN:
  A Mutation changes a record and hands back its own inverse plus the
  WorkflowUpdate to persist. Persisted updates carry absolute values
  (IsPriority=true, not "toggle") so a late store write cannot flip a
  record the wrong way.

USAGE:
  view := renewal.NewLocalView(page.Rows)
  editor := renewal.NewEditor(view, store, logger)
  errc := editor.Execute(ctx, id, renewal.TogglePriority{})
  // view already shows the star; errc yields nil or the failure
*/
package renewal

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// =============================================================================
// MUTATIONS
// =============================================================================

// Mutation is one reversible workflow edit.
type Mutation interface {
	// Apply changes r and returns the mutation that undoes it together with
	// the update to persist.
	Apply(r *RenewalRecord) (inverse Mutation, update WorkflowUpdate)
}

// TogglePriority flips the manual star. Its inverse restores the previous
// value rather than flipping again, so overlapping toggles revert cleanly.
type TogglePriority struct{}

func (TogglePriority) Apply(r *RenewalRecord) (Mutation, WorkflowUpdate) {
	prev := r.IsPriority
	r.IsPriority = !prev
	v := r.IsPriority
	return SetPriority{Priority: prev}, WorkflowUpdate{IsPriority: &v}
}

// SetPriority sets the star to a fixed value.
type SetPriority struct{ Priority bool }

func (m SetPriority) Apply(r *RenewalRecord) (Mutation, WorkflowUpdate) {
	prev := r.IsPriority
	r.IsPriority = m.Priority
	v := m.Priority
	return SetPriority{Priority: prev}, WorkflowUpdate{IsPriority: &v}
}

// SetStatus changes the contact status.
type SetStatus struct{ Status WorkflowStatus }

func (m SetStatus) Apply(r *RenewalRecord) (Mutation, WorkflowUpdate) {
	prev := r.CurrentStatus
	r.CurrentStatus = m.Status
	s := m.Status
	return SetStatus{Status: prev}, WorkflowUpdate{CurrentStatus: &s}
}

// AssignTeamMember assigns the record; a nil MemberID unassigns.
type AssignTeamMember struct{ MemberID *string }

func (m AssignTeamMember) Apply(r *RenewalRecord) (Mutation, WorkflowUpdate) {
	prev := AssignTeamMember{}
	if r.AssignedTeamMemberID != nil {
		id := *r.AssignedTeamMemberID
		prev.MemberID = &id
	}
	update := WorkflowUpdate{AssignedTeamMemberID: m.MemberID, ClearAssignment: m.MemberID == nil}
	update.Apply(r)
	return prev, update
}

// =============================================================================
// LOCAL VIEW
// =============================================================================

// LocalView is the caller's in-memory copy of the records on screen.
type LocalView struct {
	mu      sync.RWMutex
	order   []RecordID
	records map[RecordID]*RenewalRecord
}

func NewLocalView(records []RenewalRecord) *LocalView {
	v := &LocalView{records: make(map[RecordID]*RenewalRecord, len(records))}
	for _, r := range records {
		c := r.Clone()
		if _, dup := v.records[c.ID]; !dup {
			v.order = append(v.order, c.ID)
		}
		v.records[c.ID] = &c
	}
	return v
}

// Get returns a copy of one record.
func (v *LocalView) Get(id RecordID) (RenewalRecord, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	r, ok := v.records[id]
	if !ok {
		return RenewalRecord{}, false
	}
	return r.Clone(), true
}

// Records returns copies in the order the view was built with.
func (v *LocalView) Records() []RenewalRecord {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]RenewalRecord, 0, len(v.order))
	for _, id := range v.order {
		out = append(out, v.records[id].Clone())
	}
	return out
}

// apply runs m against record id. Nothing changes if the record is unknown
// or the resulting update is invalid.
func (v *LocalView) apply(id RecordID, m Mutation) (Mutation, WorkflowUpdate, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	r, ok := v.records[id]
	if !ok {
		return nil, WorkflowUpdate{}, ErrRecordNotFound
	}
	scratch := r.Clone()
	inverse, update := m.Apply(&scratch)
	if err := update.Validate(); err != nil {
		return nil, WorkflowUpdate{}, err
	}
	*r = scratch
	return inverse, update, nil
}

// =============================================================================
// EDITOR
// =============================================================================

// WorkflowWriter is the slice of Store the Editor needs.
type WorkflowWriter interface {
	UpdateWorkflow(ctx context.Context, id RecordID, update WorkflowUpdate) (*RenewalRecord, error)
}

type Editor struct {
	View   *LocalView
	Store  WorkflowWriter
	Logger *zap.Logger

	// OnError is called once per failed edit, after the view is restored.
	OnError func(id RecordID, err error)

	wg sync.WaitGroup
}

func NewEditor(view *LocalView, store WorkflowWriter, logger *zap.Logger) *Editor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Editor{View: view, Store: store, Logger: logger}
}

// Execute applies m locally and persists it in the background. The channel
// receives the persistence error (nil on success) and is then closed.
func (e *Editor) Execute(ctx context.Context, id RecordID, m Mutation) <-chan error {
	result := make(chan error, 1)

	inverse, update, err := e.View.apply(id, m)
	if err != nil {
		result <- err
		close(result)
		return result
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer close(result)

		if _, err := e.Store.UpdateWorkflow(ctx, id, update); err != nil {
			err = persistErr("update workflow", err)
			if _, _, revertErr := e.View.apply(id, inverse); revertErr != nil {
				e.Logger.Error("revert failed", zap.String("record_id", string(id)), zap.Error(revertErr))
			}
			e.Logger.Warn("optimistic edit reverted", zap.String("record_id", string(id)), zap.Error(err))
			if e.OnError != nil {
				e.OnError(id, err)
			}
			result <- err
			return
		}
		result <- nil
	}()
	return result
}

// Wait blocks until every in-flight edit has settled.
func (e *Editor) Wait() {
	e.wg.Wait()
}
