// Package scanner launches isolated worker processes for scan runs.
package scanner

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"

	"github.com/deplai/api/pkg/logger"
)

// DASTTarget carries the dynamic-analysis target, when requested.
type DASTTarget struct {
	TargetURL string `json:"target_url"`
}

// Job is the descriptor handed to a worker process through its environment.
// Paths are expressed in the worker's own path convention.
type Job struct {
	RunID         string      `json:"run_id"`
	Languages     []string    `json:"languages"`
	Frameworks    []string    `json:"frameworks"`
	Dependencies  []string    `json:"dependencies"`
	IsPR          bool        `json:"is_pr"`
	ChangedFiles  []string    `json:"changed_files"`
	CallbackURL   string      `json:"callback_url"`
	CallbackToken string      `json:"callback_token"`
	RepoPath      string      `json:"repo_path"`
	RepoURL       string      `json:"repo_url,omitempty"`
	DAST          *DASTTarget `json:"dast,omitempty"`
}

// Launcher starts one worker process per scan run.
type Launcher interface {
	Launch(ctx context.Context, job Job) error
}

// ProcessLauncher implements Launcher by spawning the configured worker
// command. The worker runs fully out-of-band; the launcher only guarantees
// the process started.
type ProcessLauncher struct {
	command string
	log     *logger.Logger
}

// NewProcessLauncher creates a new ProcessLauncher.
func NewProcessLauncher(command string, log *logger.Logger) *ProcessLauncher {
	return &ProcessLauncher{
		command: command,
		log:     log.With("component", "scanner_launcher"),
	}
}

// Launch serializes the job descriptor into SCAN_INPUT_JSON and starts the
// worker. The request context does not bound the worker's lifetime.
func (l *ProcessLauncher) Launch(ctx context.Context, job Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job descriptor: %w", err)
	}

	cmd := exec.Command(l.command)
	cmd.Env = append(os.Environ(), "SCAN_INPUT_JSON="+string(payload))
	cmd.Stdout = nil
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start worker: %w", err)
	}

	l.log.InfoContext(ctx, "worker launched",
		"run_id", job.RunID,
		"pid", cmd.Process.Pid,
	)

	// Reap the process so finished workers never linger as zombies.
	go func() {
		if err := cmd.Wait(); err != nil {
			l.log.Warn("worker exited with error", "run_id", job.RunID, "error", err)
			return
		}
		l.log.Debug("worker exited", "run_id", job.RunID)
	}()

	return nil
}

// Ensure implementation
var _ Launcher = (*ProcessLauncher)(nil)
