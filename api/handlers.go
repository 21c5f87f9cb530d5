/*
handlers.go - HTTP API handlers for the renewal engine

PURPOSE:
  Exposes upload reconciliation and the renewal query engine via REST.
  Handles HTTP request/response and JSON, and delegates to the renewal
  package. No reconciliation or filtering logic lives here.

ENDPOINTS:
  Uploads:
    POST   /api/agencies/{agencyID}/uploads          Ingest parsed rows (JSON)
    POST   /api/agencies/{agencyID}/uploads/file     Ingest a CSV/XLSX report
    POST   /api/agencies/{agencyID}/uploads/preview  Dry-run reconciliation
    GET    /api/agencies/{agencyID}/uploads          Upload history

  Renewals:
    GET    /api/agencies/{agencyID}/renewals          Filter, sort, page
    GET    /api/agencies/{agencyID}/renewals/dropped  Dropped records
    GET    /api/agencies/{agencyID}/renewals/summary  Dashboard metrics
    PATCH  /api/renewals/{id}                          Workflow edit
    DELETE /api/renewals/{id}                          Resolve a dropped record

  Cancel audits:
    GET    /api/agencies/{agencyID}/audits
    PUT    /api/agencies/{agencyID}/audits

QUERY PARAMETERS (GET renewals):
  view=active|dropped|all, priority_only, hide_renewal_taken,
  hide_in_active_audit, first_term_only, chart_date=YYYY-MM-DD,
  chart_day_of_week=0..6, search, bundled_status, product_name,
  current_status, sort=col:dir,col2:dir, page, page_size

  Unknown or unparseable values are ignored rather than rejected, so the
  list always renders.

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Malformed input, invalid window or workflow status
  - 404: Record not found
  - 409: Concurrent upload for the same window (retry)
  - 500: Store failures

SECURITY NOTE:
  No authentication or authorization. Agency scoping comes from the URL.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo upload sequences
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/warp/renewal-engine/renewal"
	"github.com/warp/renewal-engine/report"
)

// maxUploadBytes bounds multipart report uploads.
const maxUploadBytes = 32 << 20

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store    renewal.TxStore
	Ingestor *renewal.Ingestor
	Logger   *zap.Logger

	DefaultPageSize int
	MaxPageSize     int

	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a new handler with the given store.
func NewHandler(store renewal.TxStore, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		Store:           store,
		Ingestor:        renewal.NewIngestor(store, logger),
		Logger:          logger,
		DefaultPageSize: renewal.DefaultPageSize,
		MaxPageSize:     renewal.MaxPageSize,
	}
}

func agencyParam(r *http.Request) renewal.AgencyID {
	return renewal.AgencyID(strings.TrimSpace(chi.URLParam(r, "agencyID")))
}

// =============================================================================
// UPLOAD HANDLERS
// =============================================================================

// Ingest reconciles a JSON upload of already-parsed rows.
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeUpload(w, r)
	if !ok {
		return
	}
	res, err := h.Ingestor.Ingest(r.Context(), req)
	if err != nil {
		h.writeDomainError(w, "Failed to ingest upload", err)
		return
	}
	writeJSON(w, http.StatusCreated, toIngestResultDTO(res))
}

// Preview returns the plan an upload would apply without writing it.
func (h *Handler) Preview(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeUpload(w, r)
	if !ok {
		return
	}
	plan, err := h.Ingestor.Preview(r.Context(), req)
	if err != nil {
		h.writeDomainError(w, "Failed to preview upload", err)
		return
	}
	writeJSON(w, http.StatusOK, toPlanDTO(plan))
}

func (h *Handler) decodeUpload(w http.ResponseWriter, r *http.Request) (renewal.UploadRequest, bool) {
	var body UploadRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return renewal.UploadRequest{}, false
	}
	return renewal.UploadRequest{
		AgencyID:   agencyParam(r),
		Filename:   body.Filename,
		UploadedBy: body.UploadedBy,
		Window:     renewal.Window{Start: body.DateRangeStart, End: body.DateRangeEnd},
		Rows:       toRawRows(body.Rows),
	}, true
}

// IngestFile reconciles a multipart CSV or XLSX report. Form fields:
// file, date_range_start, date_range_end, uploaded_by.
func (h *Handler) IngestFile(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid multipart form", err)
		return
	}

	start, err := renewal.ParseDate(r.FormValue("date_range_start"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date_range_start", err)
		return
	}
	end, err := renewal.ParseDate(r.FormValue("date_range_end"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date_range_end", err)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Missing report file", err)
		return
	}
	defer file.Close()

	rows, err := report.Parse(header.Filename, file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to parse report", err)
		return
	}

	res, err := h.Ingestor.Ingest(r.Context(), renewal.UploadRequest{
		AgencyID:   agencyParam(r),
		Filename:   header.Filename,
		UploadedBy: r.FormValue("uploaded_by"),
		Window:     renewal.Window{Start: start, End: end},
		Rows:       rows,
	})
	if err != nil {
		h.writeDomainError(w, "Failed to ingest report", err)
		return
	}
	writeJSON(w, http.StatusCreated, toIngestResultDTO(res))
}

// ListUploads returns the agency's upload history, newest first.
func (h *Handler) ListUploads(w http.ResponseWriter, r *http.Request) {
	uploads, err := h.Store.ListUploads(r.Context(), agencyParam(r))
	if err != nil {
		h.writeDomainError(w, "Failed to list uploads", err)
		return
	}
	dtos := make([]UploadDTO, len(uploads))
	for i, u := range uploads {
		dtos[i] = toUploadDTO(u)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// RENEWAL HANDLERS
// =============================================================================

// ListRenewals runs the query engine over the agency's records.
func (h *Handler) ListRenewals(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	agencyID := agencyParam(r)
	q := r.URL.Query()

	filters := parseFilters(q)
	if filters.HideInActiveAudit {
		audits, err := h.Store.ListAuditPolicies(ctx, agencyID)
		if err != nil {
			h.writeDomainError(w, "Failed to load cancel audits", err)
			return
		}
		filters.AuditPolicies = renewal.AuditSet(audits)
	}

	records, err := h.Store.ListRecords(ctx, agencyID)
	if err != nil {
		h.writeDomainError(w, "Failed to list renewals", err)
		return
	}

	criteria := renewal.ParseSort(q.Get("sort"))
	page, pageSize := h.pageParams(q)
	p := renewal.QueryPage(records, filters, criteria, page, pageSize)

	writeJSON(w, http.StatusOK, PageDTO{
		Records:    toRecordDTOs(p.Rows),
		TotalCount: p.TotalCount,
		Page:       p.Page,
		PageSize:   p.PageSize,
		PageCount:  p.PageCount,
		Sort:       renewal.FormatSort(criteria),
	})
}

// ListDropped pages through dropped records, most recently dropped first.
func (h *Handler) ListDropped(w http.ResponseWriter, r *http.Request) {
	page, pageSize := h.pageParams(r.URL.Query())
	result, err := h.Store.ListDropped(r.Context(), agencyParam(r), page, pageSize)
	if err != nil {
		h.writeDomainError(w, "Failed to list dropped renewals", err)
		return
	}

	pageCount := 0
	if pageSize > 0 {
		pageCount = (result.TotalCount + pageSize - 1) / pageSize
	}
	writeJSON(w, http.StatusOK, PageDTO{
		Records:    toRecordDTOs(result.Records),
		TotalCount: result.TotalCount,
		Page:       page,
		PageSize:   pageSize,
		PageCount:  pageCount,
	})
}

// Summary returns dashboard metrics for the agency.
func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	records, err := h.Store.ListRecords(r.Context(), agencyParam(r))
	if err != nil {
		h.writeDomainError(w, "Failed to summarize renewals", err)
		return
	}
	writeJSON(w, http.StatusOK, toSummaryDTO(renewal.Summarize(records)))
}

// UpdateRecord applies a workflow edit (star, status, assignment).
func (h *Handler) UpdateRecord(w http.ResponseWriter, r *http.Request) {
	var body WorkflowUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	id := renewal.RecordID(chi.URLParam(r, "id"))
	updated, err := h.Store.UpdateWorkflow(r.Context(), id, body.toUpdate())
	if err != nil {
		h.writeDomainError(w, "Failed to update renewal", err)
		return
	}
	writeJSON(w, http.StatusOK, toRecordDTO(*updated))
}

// ResolveRecord removes a dropped record the user has dealt with.
func (h *Handler) ResolveRecord(w http.ResponseWriter, r *http.Request) {
	id := renewal.RecordID(chi.URLParam(r, "id"))
	if err := h.Store.ResolveDropped(r.Context(), id); err != nil {
		h.writeDomainError(w, "Failed to resolve renewal", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// CANCEL AUDIT HANDLERS
// =============================================================================

func (h *Handler) GetAudits(w http.ResponseWriter, r *http.Request) {
	policies, err := h.Store.ListAuditPolicies(r.Context(), agencyParam(r))
	if err != nil {
		h.writeDomainError(w, "Failed to list cancel audits", err)
		return
	}
	if policies == nil {
		policies = []string{}
	}
	writeJSON(w, http.StatusOK, AuditsDTO{PolicyNumbers: policies})
}

// PutAudits replaces the agency's active cancel-audit set.
func (h *Handler) PutAudits(w http.ResponseWriter, r *http.Request) {
	var body AuditsDTO
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	ctx := r.Context()
	agencyID := agencyParam(r)
	if err := h.Store.SetAuditPolicies(ctx, agencyID, body.PolicyNumbers); err != nil {
		h.writeDomainError(w, "Failed to save cancel audits", err)
		return
	}
	policies, err := h.Store.ListAuditPolicies(ctx, agencyID)
	if err != nil {
		h.writeDomainError(w, "Failed to list cancel audits", err)
		return
	}
	if policies == nil {
		policies = []string{}
	}
	writeJSON(w, http.StatusOK, AuditsDTO{PolicyNumbers: policies})
}

// =============================================================================
// REQUEST PARSING
// =============================================================================

type queryValues interface {
	Get(key string) string
}

func parseFilters(q queryValues) renewal.FilterSpec {
	f := renewal.FilterSpec{
		View:              renewal.View(strings.ToLower(q.Get("view"))),
		PriorityOnly:      parseBool(q.Get("priority_only")),
		HideRenewalTaken:  parseBool(q.Get("hide_renewal_taken")),
		HideInActiveAudit: parseBool(q.Get("hide_in_active_audit")),
		FirstTermOnly:     parseBool(q.Get("first_term_only")),
		Search:            q.Get("search"),
		BundledStatus:     q.Get("bundled_status"),
		ProductName:       q.Get("product_name"),
		CurrentStatus:     q.Get("current_status"),
	}
	if v := q.Get("chart_date"); v != "" {
		if d, err := renewal.ParseDate(v); err == nil {
			f.ChartDate = &d
		}
	}
	if v := q.Get("chart_day_of_week"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			f.ChartDayOfWeek = &n
		}
	}
	return f
}

func parseBool(s string) bool {
	b, err := strconv.ParseBool(s)
	return err == nil && b
}

// pageParams reads page and page_size, applying the handler's limits.
func (h *Handler) pageParams(q queryValues) (page, pageSize int) {
	page, _ = strconv.Atoi(q.Get("page"))
	if page < 1 {
		page = 1
	}
	pageSize, _ = strconv.Atoi(q.Get("page_size"))
	if pageSize <= 0 {
		pageSize = h.DefaultPageSize
	}
	if h.MaxPageSize > 0 && pageSize > h.MaxPageSize {
		pageSize = h.MaxPageSize
	}
	// The engine and the stores never return more than renewal.MaxPageSize
	// rows, so page_size and page_count must not promise more.
	if pageSize > renewal.MaxPageSize {
		pageSize = renewal.MaxPageSize
	}
	return page, pageSize
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps renewal errors onto HTTP statuses.
func (h *Handler) writeDomainError(w http.ResponseWriter, message string, err error) {
	switch {
	case renewal.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case renewal.IsRetryable(err):
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: message, Code: "concurrent_upload", Details: err.Error()})
	case renewal.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	case errors.Is(err, report.ErrUnsupportedFormat), errors.Is(err, report.ErrEmptyReport):
		writeError(w, http.StatusBadRequest, message, err)
	default:
		h.Logger.Error(message, zap.Error(err))
		writeError(w, http.StatusInternalServerError, message, err)
	}
}
