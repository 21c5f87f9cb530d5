package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/renewal-engine/renewal"
)

// =============================================================================
// RENEWAL RECORD DTOs
// =============================================================================

// RecordDTO is a renewal record as the UI sees it, with derived fields.
type RecordDTO struct {
	ID                   string              `json:"id"`
	AgencyID             string              `json:"agency_id"`
	PolicyNumber         string              `json:"policy_number"`
	RenewalEffectiveDate renewal.Date        `json:"renewal_effective_date"`
	FirstName            string              `json:"first_name"`
	LastName             string              `json:"last_name"`
	CustomerName         string              `json:"customer_name"`
	ProductName          string              `json:"product_name"`
	ProductCode          string              `json:"product_code"`
	PremiumOld           decimal.NullDecimal `json:"premium_old"`
	PremiumNew           decimal.NullDecimal `json:"premium_new"`
	PremiumChangePercent decimal.NullDecimal `json:"premium_change_percent"`
	PremiumChangeBucket  string              `json:"premium_change_bucket"`
	AmountDue            decimal.NullDecimal `json:"amount_due"`
	RenewalStatus        string              `json:"renewal_status"`
	MultiLineIndicator   string              `json:"multi_line_indicator"`
	OriginalYear         *int                `json:"original_year"`
	IsFirstTerm          bool                `json:"is_first_term"`
	CurrentStatus        string              `json:"current_status"`
	IsPriority           bool                `json:"is_priority"`
	NeedsAttention       bool                `json:"needs_attention"`
	AssignedTeamMemberID *string             `json:"assigned_team_member_id"`
	DroppedFromReportAt  *time.Time          `json:"dropped_from_report_at"`
	LastSeenUploadID     string              `json:"last_seen_upload_id"`
	CreatedAt            time.Time           `json:"created_at"`
	UpdatedAt            time.Time           `json:"updated_at"`
}

// PageDTO is one page of the filtered, sorted record list.
type PageDTO struct {
	Records    []RecordDTO `json:"records"`
	TotalCount int         `json:"total_count"`
	Page       int         `json:"page"`
	PageSize   int         `json:"page_size"`
	PageCount  int         `json:"page_count"`
	Sort       string      `json:"sort,omitempty"`
}

// SummaryDTO carries the dashboard metrics.
type SummaryDTO struct {
	Total     int                            `json:"total"`
	Active    int                            `json:"active"`
	Dropped   int                            `json:"dropped"`
	Priority  int                            `json:"priority"`
	FirstTerm int                            `json:"first_term"`
	ByBucket  map[renewal.Bucket]int         `json:"by_bucket"`
	ByStatus  map[renewal.WorkflowStatus]int `json:"by_status"`
	ByRenewal map[renewal.RenewalStatus]int  `json:"by_renewal_status"`
}

// WorkflowUpdateRequest is the PATCH body for a record.
type WorkflowUpdateRequest struct {
	IsPriority           *bool   `json:"is_priority,omitempty"`
	CurrentStatus        *string `json:"current_status,omitempty"`
	AssignedTeamMemberID *string `json:"assigned_team_member_id,omitempty"`
	ClearAssignment      bool    `json:"clear_assignment,omitempty"`
}

// =============================================================================
// UPLOAD DTOs
// =============================================================================

// UploadRequestDTO submits already-parsed report rows.
type UploadRequestDTO struct {
	Filename       string              `json:"filename"`
	UploadedBy     string              `json:"uploaded_by"`
	DateRangeStart renewal.Date        `json:"date_range_start"`
	DateRangeEnd   renewal.Date        `json:"date_range_end"`
	Rows           []map[string]string `json:"rows"`
}

type UploadDTO struct {
	ID             string       `json:"id"`
	AgencyID       string       `json:"agency_id"`
	Filename       string       `json:"filename"`
	UploadedBy     string       `json:"uploaded_by"`
	CreatedAt      time.Time    `json:"created_at"`
	RecordCount    int          `json:"record_count"`
	DateRangeStart renewal.Date `json:"date_range_start"`
	DateRangeEnd   renewal.Date `json:"date_range_end"`
}

type RowErrorDTO struct {
	Row          int    `json:"row"`
	PolicyNumber string `json:"policy_number,omitempty"`
	Field        string `json:"field"`
	Reason       string `json:"reason"`
}

// IngestResultDTO reports counts; row detail is included for the log view.
type IngestResultDTO struct {
	Upload    UploadDTO     `json:"upload"`
	Summary   string        `json:"summary"`
	Processed int           `json:"processed"`
	Inserted  int           `json:"inserted"`
	Confirmed int           `json:"confirmed"`
	Dropped   int           `json:"dropped"`
	Restored  int           `json:"restored"`
	Errored   int           `json:"errored"`
	Errors    []RowErrorDTO `json:"errors"`
}

// PlanDTO is a dry-run reconciliation.
type PlanDTO struct {
	UploadID        string        `json:"upload_id"`
	BaseVersion     int64         `json:"base_version"`
	RowsReceived    int           `json:"rows_received"`
	ToInsert        []RecordDTO   `json:"to_insert"`
	ToConfirm       []RecordDTO   `json:"to_confirm"`
	ToMarkDropped   []RecordDTO   `json:"to_mark_dropped"`
	ToUnmarkDropped []RecordDTO   `json:"to_unmark_dropped"`
	Rejected        []RowErrorDTO `json:"rejected"`
}

// AuditsDTO is the active cancel-audit set.
type AuditsDTO struct {
	PolicyNumbers []string `json:"policy_numbers"`
}

// =============================================================================
// SCENARIO DTOs
// =============================================================================

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toRecordDTO(r renewal.RenewalRecord) RecordDTO {
	return RecordDTO{
		ID:                   string(r.ID),
		AgencyID:             string(r.AgencyID),
		PolicyNumber:         r.PolicyNumber,
		RenewalEffectiveDate: r.RenewalEffectiveDate,
		FirstName:            r.FirstName,
		LastName:             r.LastName,
		CustomerName:         r.CustomerName(),
		ProductName:          r.ProductName,
		ProductCode:          r.ProductCode,
		PremiumOld:           r.PremiumOld,
		PremiumNew:           r.PremiumNew,
		PremiumChangePercent: r.PremiumChangePercent,
		PremiumChangeBucket:  string(r.Bucket()),
		AmountDue:            r.AmountDue,
		RenewalStatus:        string(r.RenewalStatus),
		MultiLineIndicator:   string(r.MultiLineIndicator),
		OriginalYear:         r.OriginalYear,
		IsFirstTerm:          r.IsFirstTerm(),
		CurrentStatus:        string(r.CurrentStatus),
		IsPriority:           r.IsPriority,
		NeedsAttention:       renewal.IsPriority(&r),
		AssignedTeamMemberID: r.AssignedTeamMemberID,
		DroppedFromReportAt:  r.DroppedFromReportAt,
		LastSeenUploadID:     string(r.LastSeenUploadID),
		CreatedAt:            r.CreatedAt,
		UpdatedAt:            r.UpdatedAt,
	}
}

func toRecordDTOs(records []renewal.RenewalRecord) []RecordDTO {
	out := make([]RecordDTO, len(records))
	for i, r := range records {
		out[i] = toRecordDTO(r)
	}
	return out
}

func toUploadDTO(u renewal.RenewalUpload) UploadDTO {
	return UploadDTO{
		ID:             string(u.ID),
		AgencyID:       string(u.AgencyID),
		Filename:       u.Filename,
		UploadedBy:     u.UploadedByDisplayName,
		CreatedAt:      u.CreatedAt,
		RecordCount:    u.RecordCount,
		DateRangeStart: u.DateRangeStart,
		DateRangeEnd:   u.DateRangeEnd,
	}
}

func toRowErrorDTOs(errs []*renewal.MalformedRowError) []RowErrorDTO {
	out := make([]RowErrorDTO, len(errs))
	for i, e := range errs {
		out[i] = RowErrorDTO{Row: e.Row, PolicyNumber: e.PolicyNumber, Field: e.Field, Reason: e.Reason}
	}
	return out
}

func toIngestResultDTO(res *renewal.IngestResult) IngestResultDTO {
	return IngestResultDTO{
		Upload:    toUploadDTO(res.Upload),
		Summary:   res.String(),
		Processed: res.Processed,
		Inserted:  res.Inserted,
		Confirmed: res.Confirmed,
		Dropped:   res.Dropped,
		Restored:  res.Restored,
		Errored:   res.Errored,
		Errors:    toRowErrorDTOs(res.Errors),
	}
}

func toPlanDTO(p *renewal.Plan) PlanDTO {
	return PlanDTO{
		UploadID:        string(p.UploadID),
		BaseVersion:     p.BaseVersion,
		RowsReceived:    p.RowsReceived,
		ToInsert:        toRecordDTOs(p.ToInsert),
		ToConfirm:       toRecordDTOs(p.ToConfirm),
		ToMarkDropped:   toRecordDTOs(p.ToMarkDropped),
		ToUnmarkDropped: toRecordDTOs(p.ToUnmarkDropped),
		Rejected:        toRowErrorDTOs(p.Rejected),
	}
}

func toSummaryDTO(s renewal.Summary) SummaryDTO {
	return SummaryDTO{
		Total:     s.Total,
		Active:    s.Active,
		Dropped:   s.Dropped,
		Priority:  s.Priority,
		FirstTerm: s.FirstTerm,
		ByBucket:  s.ByBucket,
		ByStatus:  s.ByStatus,
		ByRenewal: s.ByRenewal,
	}
}

func (u WorkflowUpdateRequest) toUpdate() renewal.WorkflowUpdate {
	update := renewal.WorkflowUpdate{
		IsPriority:           u.IsPriority,
		AssignedTeamMemberID: u.AssignedTeamMemberID,
		ClearAssignment:      u.ClearAssignment,
	}
	if u.CurrentStatus != nil {
		s := renewal.WorkflowStatus(*u.CurrentStatus)
		update.CurrentStatus = &s
	}
	return update
}

func toRawRows(rows []map[string]string) []renewal.RawRow {
	out := make([]renewal.RawRow, len(rows))
	for i, r := range rows {
		out[i] = renewal.RawRow(r)
	}
	return out
}
