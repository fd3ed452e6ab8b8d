// Package run provides the domain model for scan runs and their findings.
package run

import (
	"time"

	"github.com/deplai/api/pkg/domain/shared"
)

// Status represents the run lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"   // created by a webhook, waiting for launch
	StatusRunning   Status = "running"   // worker process launched
	StatusCompleted Status = "completed" // results ingested
	StatusFailed    Status = "failed"    // launch failed or worker reported failure
)

// IsTerminal returns true if the status is a final state.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// Trigger represents what initiated a run.
type Trigger string

const (
	TriggerManual      Trigger = "manual"
	TriggerPush        Trigger = "push"
	TriggerPullRequest Trigger = "pull_request"
)

// ScanType represents the scan coverage requested.
type ScanType string

const (
	ScanTypeFull ScanType = "full"
	ScanTypeSAST ScanType = "sast"
	ScanTypeDAST ScanType = "dast"
	ScanTypeSCA  ScanType = "sca"
)

// IsValid checks if the scan type is a known value.
func (t ScanType) IsValid() bool {
	switch t {
	case ScanTypeFull, ScanTypeSAST, ScanTypeDAST, ScanTypeSCA:
		return true
	}
	return false
}

// Severity buckets recognized in the breakdown histogram. Anything else a
// worker reports is counted into the total but not the breakdown.
var SeverityBuckets = []string{"critical", "high", "medium", "low"}

// Run represents one scan execution against a project.
type Run struct {
	ID           shared.ID
	ProjectID    shared.ID
	RepositoryID *shared.ID
	Trigger      Trigger
	ScanType     ScanType

	// Git context
	Ref       string
	CommitSha string
	PRNumber  *int

	Status       Status
	ErrorMessage string

	// Filled in on completion
	ToolsRun          []string
	FindingsCount     int
	SeverityBreakdown map[string]int

	// Per-run secret the worker must present on the results callback.
	CallbackSecret string

	StartedAt  *time.Time
	FinishedAt *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// NewRun creates a run in the given initial status. Webhook-created runs start
// pending; manually triggered runs start running once the worker is launched.
func NewRun(projectID shared.ID, trigger Trigger, scanType ScanType, status Status) (*Run, error) {
	if !scanType.IsValid() {
		return nil, shared.NewDomainError("VALIDATION", "invalid scan_type", shared.ErrValidation)
	}
	if status != StatusPending && status != StatusRunning {
		return nil, shared.NewDomainError("INVALID_STATE", "runs start pending or running", shared.ErrValidation)
	}

	now := time.Now()
	r := &Run{
		ID:                shared.NewID(),
		ProjectID:         projectID,
		Trigger:           trigger,
		ScanType:          scanType,
		Status:            status,
		SeverityBreakdown: make(map[string]int),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if status == StatusRunning {
		r.StartedAt = &now
	}
	return r, nil
}

// Start transitions a pending run to running.
func (r *Run) Start() error {
	if r.Status != StatusPending {
		return shared.NewDomainError("INVALID_STATE", "can only start a pending run", shared.ErrValidation)
	}
	now := time.Now()
	r.Status = StatusRunning
	r.StartedAt = &now
	r.UpdatedAt = now
	return nil
}

// Finalize records the worker's reported outcome. Terminal runs stay final.
func (r *Run) Finalize(status Status, toolsRun []string, findingsCount int, breakdown map[string]int) error {
	if r.Status.IsTerminal() {
		return shared.NewDomainError("INVALID_STATE", "run already finished", shared.ErrValidation)
	}
	if !status.IsTerminal() {
		return shared.NewDomainError("INVALID_STATE", "finalize requires a terminal status", shared.ErrValidation)
	}

	now := time.Now()
	r.Status = status
	r.ToolsRun = toolsRun
	r.FindingsCount = findingsCount
	if breakdown != nil {
		r.SeverityBreakdown = breakdown
	}
	r.FinishedAt = &now
	r.UpdatedAt = now
	return nil
}

// Fail marks the run failed, used when the worker could not be launched.
func (r *Run) Fail(errorMessage string) error {
	if r.Status.IsTerminal() {
		return shared.NewDomainError("INVALID_STATE", "run already finished", shared.ErrValidation)
	}
	now := time.Now()
	r.Status = StatusFailed
	r.ErrorMessage = errorMessage
	r.FinishedAt = &now
	r.UpdatedAt = now
	return nil
}

// IsFinished returns true if the run has reached a terminal state.
func (r *Run) IsFinished() bool {
	return r.Status.IsTerminal()
}
