package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/deplai/api/internal/app"
	infrahttp "github.com/deplai/api/internal/infra/http"
	"github.com/deplai/api/internal/infra/http/middleware"
	"github.com/deplai/api/pkg/apierror"
	"github.com/deplai/api/pkg/domain/run"
	"github.com/deplai/api/pkg/domain/shared"
	"github.com/deplai/api/pkg/logger"
	"github.com/deplai/api/pkg/validator"
)

// ScanHandler handles scan trigger, lookup and worker result callbacks.
type ScanHandler struct {
	scans     *app.ScanService
	results   *app.ResultService
	validator *validator.Validator
	logger    *logger.Logger
}

// NewScanHandler creates a new ScanHandler.
func NewScanHandler(scans *app.ScanService, results *app.ResultService, v *validator.Validator, log *logger.Logger) *ScanHandler {
	return &ScanHandler{
		scans:     scans,
		results:   results,
		validator: v,
		logger:    log,
	}
}

// RunResponse represents a scan run in the response.
type RunResponse struct {
	ID                string         `json:"id"`
	ProjectID         string         `json:"project_id"`
	Trigger           string         `json:"trigger"`
	ScanType          string         `json:"scan_type"`
	Ref               string         `json:"ref,omitempty"`
	CommitSha         string         `json:"commit_sha,omitempty"`
	PRNumber          *int           `json:"pr_number,omitempty"`
	Status            string         `json:"status"`
	ErrorMessage      string         `json:"error_message,omitempty"`
	ToolsRun          []string       `json:"tools_run,omitempty"`
	FindingsCount     int            `json:"findings_count"`
	SeverityBreakdown map[string]int `json:"severity_breakdown,omitempty"`
	StartedAt         *time.Time     `json:"started_at,omitempty"`
	FinishedAt        *time.Time     `json:"finished_at,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
}

// Trigger handles POST /api/v1/scans.
func (h *ScanHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	userID, err := shared.IDFromString(middleware.MustGetUserID(r.Context()))
	if err != nil {
		apierror.Unauthorized("").WriteJSON(w)
		return
	}

	var req app.TriggerScanInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierror.BadRequest("Invalid request body").WriteJSON(w)
		return
	}

	if err := h.validator.Validate(req); err != nil {
		writeValidationError(w, err)
		return
	}

	out, err := h.scans.TriggerScan(r.Context(), userID, req)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}

	status := http.StatusAccepted
	if out.Cached {
		status = http.StatusOK
	}
	writeJSON(w, status, out)
}

// Get handles GET /api/v1/scans/{id}.
func (h *ScanHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, err := shared.IDFromString(middleware.MustGetUserID(r.Context()))
	if err != nil {
		apierror.Unauthorized("").WriteJSON(w)
		return
	}

	rn, err := h.scans.GetRun(r.Context(), userID, infrahttp.PathParam(r, "id"))
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, toRunResponse(rn))
}

// FindingResponse represents a finding in the response.
type FindingResponse struct {
	ID          string          `json:"id"`
	Category    string          `json:"category"`
	Tool        string          `json:"tool"`
	RuleID      string          `json:"rule_id,omitempty"`
	Title       string          `json:"title"`
	Severity    string          `json:"severity"`
	Confidence  string          `json:"confidence"`
	FilePath    string          `json:"file_path,omitempty"`
	LineNumber  int             `json:"line_number,omitempty"`
	Fingerprint string          `json:"fingerprint"`
	Evidence    json.RawMessage `json:"evidence,omitempty"`
	Status      string          `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Findings handles GET /api/v1/scans/{id}/findings.
func (h *ScanHandler) Findings(w http.ResponseWriter, r *http.Request) {
	userID, err := shared.IDFromString(middleware.MustGetUserID(r.Context()))
	if err != nil {
		apierror.Unauthorized("").WriteJSON(w)
		return
	}

	findings, err := h.scans.ListFindings(r.Context(), userID, infrahttp.PathParam(r, "id"))
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}

	out := make([]FindingResponse, 0, len(findings))
	for _, f := range findings {
		out = append(out, toFindingResponse(f))
	}
	writeJSON(w, http.StatusOK, map[string]any{"findings": out})
}

// Results handles POST /api/v1/scans/results, the worker callback. The
// caller authenticates with the run's own callback token, not a user
// session.
func (h *ScanHandler) Results(w http.ResponseWriter, r *http.Request) {
	var req app.ProcessResultsInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierror.BadRequest("Invalid request body").WriteJSON(w)
		return
	}
	req.CallbackToken = callbackToken(r)

	if err := h.validator.Validate(req); err != nil {
		writeValidationError(w, err)
		return
	}

	out, err := h.results.ProcessResults(r.Context(), req)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, out)
}

// callbackToken extracts the worker's callback token. Workers send it as a
// bearer token; the X-Callback-Token header is kept for older workers.
func callbackToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) > len(prefix) && auth[:len(prefix)] == prefix {
		return auth[len(prefix):]
	}
	return r.Header.Get("X-Callback-Token")
}

func toFindingResponse(f *run.Finding) FindingResponse {
	return FindingResponse{
		ID:          f.ID.String(),
		Category:    f.Category,
		Tool:        f.Tool,
		RuleID:      f.RuleID,
		Title:       f.Title,
		Severity:    f.Severity,
		Confidence:  f.Confidence,
		FilePath:    f.FilePath,
		LineNumber:  f.LineNumber,
		Fingerprint: f.Fingerprint,
		Evidence:    f.Evidence,
		Status:      string(f.Status),
		CreatedAt:   f.CreatedAt,
	}
}

func toRunResponse(rn *run.Run) RunResponse {
	return RunResponse{
		ID:                rn.ID.String(),
		ProjectID:         rn.ProjectID.String(),
		Trigger:           string(rn.Trigger),
		ScanType:          string(rn.ScanType),
		Ref:               rn.Ref,
		CommitSha:         rn.CommitSha,
		PRNumber:          rn.PRNumber,
		Status:            rn.Status.String(),
		ErrorMessage:      rn.ErrorMessage,
		ToolsRun:          rn.ToolsRun,
		FindingsCount:     rn.FindingsCount,
		SeverityBreakdown: rn.SeverityBreakdown,
		StartedAt:         rn.StartedAt,
		FinishedAt:        rn.FinishedAt,
		CreatedAt:         rn.CreatedAt,
	}
}
