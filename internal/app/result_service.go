package app

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/deplai/api/internal/metrics"
	"github.com/deplai/api/pkg/crypto"
	"github.com/deplai/api/pkg/domain/run"
	"github.com/deplai/api/pkg/domain/shared"
	"github.com/deplai/api/pkg/logger"
)

// ResultService ingests worker result callbacks: it authenticates the caller
// with the run's own callback secret, normalizes the reported findings and
// finalizes the run and its findings in one transaction.
type ResultService struct {
	runRepo run.Repository
	logger  *logger.Logger
}

// NewResultService creates a new ResultService.
func NewResultService(runRepo run.Repository, log *logger.Logger) *ResultService {
	return &ResultService{
		runRepo: runRepo,
		logger:  log.With("service", "result"),
	}
}

// FindingPayload is one finding as workers report it. Older workers send
// file/line, newer ones file_path/line_number; both are accepted.
type FindingPayload struct {
	Category    string          `json:"category"`
	Tool        string          `json:"tool"`
	RuleID      string          `json:"rule_id"`
	Title       string          `json:"title"`
	Severity    string          `json:"severity"`
	Confidence  string          `json:"confidence"`
	File        string          `json:"file"`
	FilePath    string          `json:"file_path"`
	Line        int             `json:"line"`
	LineNumber  int             `json:"line_number"`
	Fingerprint string          `json:"fingerprint"`
	Evidence    json.RawMessage `json:"evidence"`
}

// ProcessResultsInput represents a worker's result callback. Workers report
// the executed tool list as tools; tools_run is accepted as an alias.
type ProcessResultsInput struct {
	RunID         string           `json:"run_id" validate:"required,uuid"`
	CallbackToken string           `json:"-"`
	Status        string           `json:"status" validate:"required,oneof=completed failed"`
	ErrorMessage  string           `json:"error_message"`
	Tools         []string         `json:"tools"`
	ToolsRun      []string         `json:"tools_run"`
	Findings      []FindingPayload `json:"findings"`
}

// ProcessResultsOutput represents the outcome of results ingestion.
type ProcessResultsOutput struct {
	RunID         string `json:"run_id"`
	Status        string `json:"status"`
	FindingsCount int    `json:"findings_count"`
}

// ProcessResults records a worker's outcome against its run. The caller must
// present the run's callback secret; nothing is written before that check
// passes. A callback for a run that does not exist is an error, never a
// silent drop.
func (s *ResultService) ProcessResults(ctx context.Context, input ProcessResultsInput) (*ProcessResultsOutput, error) {
	id, err := shared.IDFromString(input.RunID)
	if err != nil {
		return nil, shared.NewDomainError("VALIDATION", "invalid run_id", shared.ErrValidation)
	}

	rn, err := s.runRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if rn.CallbackSecret == "" || !crypto.SecureCompare(input.CallbackToken, rn.CallbackSecret) {
		return nil, shared.NewDomainError("UNAUTHORIZED", "invalid callback token", shared.ErrUnauthorized)
	}

	if rn.IsFinished() {
		return nil, shared.NewDomainError("CONFLICT", "run already finished", shared.ErrConflict)
	}

	findings := make([]*run.Finding, 0, len(input.Findings))
	for _, fp := range input.Findings {
		findings = append(findings, run.NewFinding(rn.ID, s.normalizeFinding(rn, fp)))
	}

	breakdown := severityBreakdown(findings)

	tools := input.Tools
	if len(tools) == 0 {
		tools = input.ToolsRun
	}

	status := run.StatusFailed
	if input.Status == "completed" {
		status = run.StatusCompleted
	}

	if err := rn.Finalize(status, tools, len(findings), breakdown); err != nil {
		return nil, err
	}
	if status == run.StatusFailed {
		rn.ErrorMessage = input.ErrorMessage
	}

	if err := s.runRepo.Finalize(ctx, rn, findings); err != nil {
		return nil, err
	}

	s.recordMetrics(rn, breakdown)

	s.logger.Info("scan results processed",
		"run_id", rn.ID.String(),
		"status", rn.Status.String(),
		"findings", len(findings),
		"tools", len(tools),
	)

	return &ProcessResultsOutput{
		RunID:         rn.ID.String(),
		Status:        rn.Status.String(),
		FindingsCount: len(findings),
	}, nil
}

// normalizeFinding coalesces field aliases and drops malformed evidence
// before the domain defaults fill in the rest.
func (s *ResultService) normalizeFinding(rn *run.Run, fp FindingPayload) run.FindingInput {
	in := run.FindingInput{
		Category:    fp.Category,
		Tool:        fp.Tool,
		RuleID:      fp.RuleID,
		Title:       fp.Title,
		Severity:    fp.Severity,
		Confidence:  fp.Confidence,
		FilePath:    fp.FilePath,
		LineNumber:  fp.LineNumber,
		Fingerprint: fp.Fingerprint,
	}
	if in.FilePath == "" {
		in.FilePath = fp.File
	}
	if in.LineNumber == 0 {
		in.LineNumber = fp.Line
	}

	if len(fp.Evidence) > 0 {
		if json.Valid(fp.Evidence) {
			in.Evidence = fp.Evidence
		} else {
			s.logger.Warn("dropping malformed finding evidence",
				"run_id", rn.ID.String(),
				"tool", fp.Tool,
				"rule_id", fp.RuleID,
			)
		}
	}

	return in
}

// severityBreakdown histograms findings into the recognized buckets. A
// severity outside the buckets still counts toward the total but not here.
func severityBreakdown(findings []*run.Finding) map[string]int {
	breakdown := make(map[string]int, len(run.SeverityBuckets))
	for _, bucket := range run.SeverityBuckets {
		breakdown[bucket] = 0
	}
	for _, f := range findings {
		sev := strings.ToLower(f.Severity)
		if _, ok := breakdown[sev]; ok {
			breakdown[sev]++
		}
	}
	return breakdown
}

func (s *ResultService) recordMetrics(rn *run.Run, breakdown map[string]int) {
	metrics.ScansInProgress.Dec()
	metrics.ScansTotal.WithLabelValues(string(rn.Trigger), string(rn.ScanType), rn.Status.String()).Inc()
	if rn.StartedAt != nil && rn.FinishedAt != nil {
		metrics.ScanDuration.WithLabelValues(string(rn.ScanType)).Observe(rn.FinishedAt.Sub(*rn.StartedAt).Seconds())
	}
	for bucket, count := range breakdown {
		if count > 0 {
			metrics.ScanFindingsTotal.WithLabelValues(bucket).Add(float64(count))
		}
	}
}
