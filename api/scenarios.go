/*
scenarios.go - Demo upload sequences for testing and demonstrations

PURPOSE:
  Replays realistic carrier reports for one demo agency so the dropped,
  restored and priority views have something to show.

AVAILABLE SCENARIOS:
  first-upload:   Upload A only. Everything is new.
  report-changed: Uploads A then B. One policy disappears, one appears.
  policy-returns: Uploads A, B then C. The missing policy comes back.

All uploads cover March 2025 for agency "demo-agency".

HOW SCENARIOS WORK:
 1. Reset the store when it supports it
 2. Ingest each upload in order through the Ingestor
 3. Star one record and set a cancel audit so every filter has data

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "report-changed"}

NOTE:
  Scenarios reset the database. Only use in development/demo environments.
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/warp/renewal-engine/renewal"
)

// DemoAgency owns every record the scenarios create.
const DemoAgency renewal.AgencyID = "demo-agency"

// DemoWindow is the reporting window the demo uploads cover.
var DemoWindow = renewal.Window{
	Start: renewal.NewDate(2025, 3, 1),
	End:   renewal.NewDate(2025, 3, 31),
}

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "first-upload",
		Name:        "First Upload",
		Description: "Upload A: three policies, all new",
	},
	{
		ID:          "report-changed",
		Name:        "Report Changed",
		Description: "Upload B drops P2 and adds P4",
	},
	{
		ID:          "policy-returns",
		Name:        "Policy Returns",
		Description: "Upload C brings P2 back; its dropped mark is cleared",
	},
}

// demoUploads maps a scenario to the policy numbers of each upload, in order.
var demoUploads = map[string][][]string{
	"first-upload":   {{"P1", "P2", "P3"}},
	"report-changed": {{"P1", "P2", "P3"}, {"P1", "P3", "P4"}},
	"policy-returns": {{"P1", "P2", "P3"}, {"P1", "P3", "P4"}, {"P1", "P2", "P3", "P4"}},
}

// demoCatalog is what the carrier report says about each demo policy.
var demoCatalog = map[string]renewal.RawRow{
	"P1": {
		"Policy Number": "P1", "Effective Date": "03/05/2025",
		"First Name": "Maria", "Last Name": "Alvarez",
		"Product": "Auto", "Product Code": "PA",
		"Old Premium": "$1,200.00", "New Premium": "$1,380.00",
		"Status": "Pending", "Amount Due": "690.00",
		"Multi Line": "Y", "Original Year": "2024",
	},
	"P2": {
		"Policy Number": "P2", "Effective Date": "03/12/2025",
		"First Name": "James", "Last Name": "Chen",
		"Product": "Homeowners", "Product Code": "HO",
		"Old Premium": "2,450.00", "New Premium": "2,303.00",
		"Status": "Renewal Not Taken", "Amount Due": "0",
		"Multi Line": "N", "Original Year": "2019",
	},
	"P3": {
		"Policy Number": "P3", "Effective Date": "03/18/2025",
		"First Name": "Priya", "Last Name": "Natarajan",
		"Product": "Auto", "Product Code": "PA",
		"Old Premium": "980.00", "New Premium": "1,009.40",
		"Status": "Renewal Taken", "Amount Due": "(25.00)",
		"Multi Line": "Y", "Original Year": "2021",
	},
	"P4": {
		"Policy Number": "P4", "Effective Date": "03/27/2025",
		"First Name": "Samuel", "Last Name": "Okafor",
		"Product": "Renters", "Product Code": "RE",
		"Old Premium": "180.00", "New Premium": "216.00",
		"Status": "Pending", "Amount Due": "108.00",
		"Multi Line": "", "Original Year": "2024",
	},
}

func demoRows(policies []string) []renewal.RawRow {
	rows := make([]renewal.RawRow, 0, len(policies))
	for _, p := range policies {
		row := make(renewal.RawRow, len(demoCatalog[p]))
		for k, v := range demoCatalog[p] {
			row[k] = v
		}
		rows = append(rows, row)
	}
	return rows
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario resets the store and replays a scenario's uploads.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if _, ok := demoUploads[req.ScenarioID]; !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.currentScenario = ""

	results, err := h.loadScenario(r.Context(), req.ScenarioID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}
	h.currentScenario = req.ScenarioID

	dtos := make([]IngestResultDTO, len(results))
	for i, res := range results {
		dtos[i] = toIngestResultDTO(res)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "loaded",
		"scenario": req.ScenarioID,
		"uploads":  dtos,
	})
}

// resetter is implemented by stores that can be wiped for demos.
type resetter interface {
	Reset(ctx context.Context) error
}

// =============================================================================
// SCENARIO LOADER
// =============================================================================

func (h *Handler) loadScenario(ctx context.Context, id string) ([]*renewal.IngestResult, error) {
	rs, ok := h.Store.(resetter)
	if !ok {
		return nil, errors.New("store does not support reset")
	}
	if err := rs.Reset(ctx); err != nil {
		return nil, fmt.Errorf("reset: %w", err)
	}

	var results []*renewal.IngestResult
	for i, policies := range demoUploads[id] {
		res, err := h.Ingestor.Ingest(ctx, renewal.UploadRequest{
			AgencyID:   DemoAgency,
			Filename:   fmt.Sprintf("upload-%c.csv", 'A'+i),
			UploadedBy: "Demo Loader",
			Window:     DemoWindow,
			Rows:       demoRows(policies),
		})
		if err != nil {
			return nil, fmt.Errorf("upload %c: %w", 'A'+i, err)
		}
		results = append(results, res)
	}

	// Star P3 and put P1 under cancel audit so the filters have something
	// to show.
	records, err := h.Store.ListRecords(ctx, DemoAgency)
	if err != nil {
		return nil, err
	}
	starred := true
	for _, rec := range records {
		if rec.PolicyNumber == "P3" {
			if _, err := h.Store.UpdateWorkflow(ctx, rec.ID, renewal.WorkflowUpdate{IsPriority: &starred}); err != nil {
				return nil, err
			}
		}
	}
	if err := h.Store.SetAuditPolicies(ctx, DemoAgency, []string{"P1"}); err != nil {
		return nil, err
	}
	return results, nil
}
