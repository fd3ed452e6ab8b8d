package run

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/deplai/api/pkg/domain/shared"
)

// TriageStatus represents the review state of a finding.
type TriageStatus string

const (
	TriageOpen          TriageStatus = "open"
	TriageConfirmed     TriageStatus = "confirmed"
	TriageFalsePositive TriageStatus = "false_positive"
	TriageResolved      TriageStatus = "resolved"
)

// Finding is one reported issue from a scan run. Findings are append-only;
// triage state is the only thing that changes after ingestion.
type Finding struct {
	ID         shared.ID
	RunID      shared.ID
	Category   string
	Tool       string
	RuleID     string
	Title      string
	Severity   string
	Confidence string
	FilePath   string
	LineNumber int
	// Fingerprint deduplicates the same issue across runs. Workers that
	// don't compute one get a random fingerprint, so the row is kept but
	// never collides.
	Fingerprint string
	// Evidence is tool-specific structured data, validated to be well-formed
	// JSON at the ingestion boundary and stored as-is.
	Evidence  json.RawMessage
	Status    TriageStatus
	CreatedAt time.Time
}

// NewFinding builds a finding from worker-reported fields, defaulting
// whatever the tool left out. A sparse finding is stored, not rejected.
func NewFinding(runID shared.ID, in FindingInput) *Finding {
	f := &Finding{
		ID:          shared.NewID(),
		RunID:       runID,
		Category:    in.Category,
		Tool:        in.Tool,
		RuleID:      in.RuleID,
		Title:       in.Title,
		Severity:    in.Severity,
		Confidence:  in.Confidence,
		FilePath:    in.FilePath,
		LineNumber:  in.LineNumber,
		Fingerprint: in.Fingerprint,
		Evidence:    in.Evidence,
		Status:      TriageOpen,
		CreatedAt:   time.Now(),
	}

	if f.Category == "" {
		f.Category = "UNKNOWN"
	}
	if f.Tool == "" {
		f.Tool = "unknown"
	}
	if f.Title == "" {
		f.Title = "Untitled Finding"
	}
	if f.Severity == "" {
		f.Severity = "LOW"
	}
	if f.Confidence == "" {
		f.Confidence = "UNKNOWN"
	}
	if f.LineNumber < 0 {
		f.LineNumber = 0
	}
	if f.Fingerprint == "" {
		f.Fingerprint = uuid.New().String()
	}

	return f
}

// FindingInput carries the raw fields a worker reported for one finding.
type FindingInput struct {
	Category    string
	Tool        string
	RuleID      string
	Title       string
	Severity    string
	Confidence  string
	FilePath    string
	LineNumber  int
	Fingerprint string
	Evidence    json.RawMessage
}
