// Package jobs provides background job definitions and handlers using Asynq.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/deplai/api/pkg/logger"
)

// Task types for scan jobs
const (
	TypeScanLaunch = "scan:launch"
)

// ScanLaunchPayload carries the run a queued launch task refers to.
type ScanLaunchPayload struct {
	RunID string `json:"run_id"`
}

// NewScanLaunchTask creates a new scan launch task.
func NewScanLaunchTask(payload ScanLaunchPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal scan launch payload: %w", err)
	}
	return asynq.NewTask(
		TypeScanLaunch,
		data,
		asynq.MaxRetry(3),
		asynq.Timeout(2*time.Minute),
		asynq.Queue("scans"),
	), nil
}

// ScanLauncher launches a queued pending run. Implemented by the scan
// orchestration service.
type ScanLauncher interface {
	LaunchQueued(ctx context.Context, runID string) error
}

// ScanTaskHandler handles scan task processing.
type ScanTaskHandler struct {
	launcher ScanLauncher
	logger   *logger.Logger
}

// NewScanTaskHandler creates a new scan task handler.
func NewScanTaskHandler(launcher ScanLauncher, log *logger.Logger) *ScanTaskHandler {
	return &ScanTaskHandler{
		launcher: launcher,
		logger:   log.With("handler", "scan_tasks"),
	}
}

// HandleScanLaunch processes scan launch tasks.
func (h *ScanTaskHandler) HandleScanLaunch(ctx context.Context, t *asynq.Task) error {
	var payload ScanLaunchPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal payload: %w", err)
	}

	h.logger.Info("processing scan launch", "run_id", payload.RunID)

	if err := h.launcher.LaunchQueued(ctx, payload.RunID); err != nil {
		h.logger.Error("failed to launch queued scan",
			"run_id", payload.RunID,
			"error", err,
		)
		return err
	}

	h.logger.Info("queued scan launched", "run_id", payload.RunID)
	return nil
}
