package app

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/deplai/api/internal/infra/scanner"
	"github.com/deplai/api/internal/metrics"
	"github.com/deplai/api/pkg/crypto"
	"github.com/deplai/api/pkg/domain/project"
	"github.com/deplai/api/pkg/domain/repo"
	"github.com/deplai/api/pkg/domain/run"
	"github.com/deplai/api/pkg/domain/shared"
	"github.com/deplai/api/pkg/logger"
)

// ScanServiceConfig carries the environment facts the orchestrator needs to
// build job descriptors.
type ScanServiceConfig struct {
	// CallbackBaseURL is the externally reachable base URL workers POST
	// results to.
	CallbackBaseURL string
	// WorkspaceDir is where working copies live on this host.
	WorkspaceDir string
	// WorkerPathPrefix is where the worker sees WorkspaceDir mounted.
	WorkerPathPrefix string
}

// ScanService orchestrates scan runs: resolves the target project, reuses
// completed runs when allowed, builds the job descriptor and launches one
// worker process per run.
type ScanService struct {
	projectRepo project.Repository
	repoRepo    repo.Repository
	runRepo     run.Repository
	findingRepo run.FindingRepository
	syncer      RepoSyncer
	launcher    scanner.Launcher
	cfg         ScanServiceConfig
	logger      *logger.Logger
}

// NewScanService creates a new ScanService.
func NewScanService(
	projectRepo project.Repository,
	repoRepo repo.Repository,
	runRepo run.Repository,
	findingRepo run.FindingRepository,
	syncer RepoSyncer,
	launcher scanner.Launcher,
	cfg ScanServiceConfig,
	log *logger.Logger,
) *ScanService {
	return &ScanService{
		projectRepo: projectRepo,
		repoRepo:    repoRepo,
		runRepo:     runRepo,
		findingRepo: findingRepo,
		syncer:      syncer,
		launcher:    launcher,
		cfg:         cfg,
		logger:      log.With("service", "scan"),
	}
}

// TriggerScanInput represents the input to trigger a scan.
type TriggerScanInput struct {
	ProjectID    string `json:"project_id" validate:"omitempty,uuid"`
	RepositoryID int64  `json:"repository_id"`
	ScanType     string `json:"scan_type" validate:"required,scan_type"`
	Force        bool   `json:"force"`
	TargetURL    string `json:"target_url" validate:"omitempty,url"`
}

// TriggerScanOutput represents the output from triggering a scan.
type TriggerScanOutput struct {
	ScanID string `json:"scan_id"`
	Status string `json:"status"`
	Cached bool   `json:"cached"`
}

// TriggerScan starts a scan for the caller's project. Without force, the most
// recent completed run for the project is returned instead of starting new
// work.
func (s *ScanService) TriggerScan(ctx context.Context, userID shared.ID, input TriggerScanInput) (*TriggerScanOutput, error) {
	proj, err := s.resolveProject(ctx, userID, input)
	if err != nil {
		return nil, err
	}

	if !proj.OwnedBy(userID) {
		return nil, shared.NewDomainError("FORBIDDEN", "project belongs to another user", shared.ErrForbidden)
	}

	if !input.Force {
		latest, err := s.runRepo.FindLatestCompleted(ctx, proj.ID)
		if err == nil {
			metrics.ScanCacheHits.Inc()
			s.logger.Info("returning completed run",
				"run_id", latest.ID.String(),
				"project_id", proj.ID.String(),
			)
			return &TriggerScanOutput{
				ScanID: latest.ID.String(),
				Status: latest.Status.String(),
				Cached: true,
			}, nil
		}
		if !shared.IsNotFound(err) {
			return nil, err
		}
	}

	rn, err := run.NewRun(proj.ID, run.TriggerManual, run.ScanType(input.ScanType), run.StatusRunning)
	if err != nil {
		return nil, err
	}
	rn.RepositoryID = proj.RepositoryID

	secret, err := crypto.RandomHex(32)
	if err != nil {
		return nil, err
	}
	rn.CallbackSecret = secret

	if err := s.runRepo.Create(ctx, rn); err != nil {
		return nil, err
	}

	if err := s.launch(ctx, rn, proj, input.TargetURL); err != nil {
		return nil, err
	}

	s.logger.Info("scan triggered",
		"run_id", rn.ID.String(),
		"project_id", proj.ID.String(),
		"scan_type", input.ScanType,
	)

	return &TriggerScanOutput{
		ScanID: rn.ID.String(),
		Status: rn.Status.String(),
	}, nil
}

// LaunchQueued launches a webhook-created pending run. Called from the job
// worker; runs already past pending are acknowledged without action so task
// retries stay harmless.
func (s *ScanService) LaunchQueued(ctx context.Context, runID string) error {
	id, err := shared.IDFromString(runID)
	if err != nil {
		return shared.NewDomainError("VALIDATION", "invalid run id", shared.ErrValidation)
	}

	rn, err := s.runRepo.GetByID(ctx, id)
	if err != nil {
		return err
	}

	if rn.Status != run.StatusPending {
		s.logger.Debug("run no longer pending, skipping launch",
			"run_id", runID,
			"status", rn.Status.String(),
		)
		return nil
	}

	proj, err := s.projectRepo.GetByID(ctx, rn.ProjectID)
	if err != nil {
		return err
	}

	if err := rn.Start(); err != nil {
		return err
	}
	if err := s.runRepo.Update(ctx, rn); err != nil {
		return err
	}

	// Launch failure has already marked the run failed; returning nil
	// keeps the queue from retrying a terminal run.
	if err := s.launch(ctx, rn, proj, ""); err != nil {
		s.logger.Error("queued launch failed", "run_id", runID, "error", err)
	}

	return nil
}

// GetRun returns a run owned by the caller.
func (s *ScanService) GetRun(ctx context.Context, userID shared.ID, runID string) (*run.Run, error) {
	id, err := shared.IDFromString(runID)
	if err != nil {
		return nil, shared.NewDomainError("VALIDATION", "invalid run id", shared.ErrValidation)
	}

	rn, err := s.runRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	proj, err := s.projectRepo.GetByID(ctx, rn.ProjectID)
	if err != nil {
		return nil, err
	}
	if !proj.OwnedBy(userID) {
		return nil, shared.NewDomainError("FORBIDDEN", "run belongs to another user", shared.ErrForbidden)
	}

	return rn, nil
}

// ListFindings returns the findings of a run owned by the caller.
func (s *ScanService) ListFindings(ctx context.Context, userID shared.ID, runID string) ([]*run.Finding, error) {
	rn, err := s.GetRun(ctx, userID, runID)
	if err != nil {
		return nil, err
	}
	return s.findingRepo.ListByRun(ctx, rn.ID)
}

// SweepStaleRunning fails runs that have been running longer than deadline.
// A worker that dies without calling back would otherwise leave its run
// running forever.
func (s *ScanService) SweepStaleRunning(ctx context.Context, deadline time.Duration) (int, error) {
	cutoff := time.Now().Add(-deadline)

	stale, err := s.runRepo.ListStaleRunning(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	failed := 0
	for _, rn := range stale {
		if err := rn.Fail("worker did not report results before the deadline"); err != nil {
			continue
		}
		if err := s.runRepo.Update(ctx, rn); err != nil {
			s.logger.Error("failed to mark stale run", "run_id", rn.ID.String(), "error", err)
			continue
		}
		metrics.StaleRunsFailed.Inc()
		metrics.ScansInProgress.Dec()
		failed++
	}

	if failed > 0 {
		s.logger.Info("stale runs failed", "count", failed, "cutoff", cutoff)
	}

	return failed, nil
}

// resolveProject resolves the scan target, lazily creating the wrapper
// project for a bare repository. Wrapper creation is idempotent: lookup by
// repository id first, and a lost creation race falls back to the winner's
// row.
func (s *ScanService) resolveProject(ctx context.Context, userID shared.ID, input TriggerScanInput) (*project.Project, error) {
	if input.ProjectID != "" {
		id, err := shared.IDFromString(input.ProjectID)
		if err != nil {
			return nil, shared.NewDomainError("VALIDATION", "invalid project_id", shared.ErrValidation)
		}
		return s.projectRepo.GetByID(ctx, id)
	}

	if input.RepositoryID <= 0 {
		return nil, shared.NewDomainError("VALIDATION", "project_id or repository_id is required", shared.ErrValidation)
	}

	rp, err := s.repoRepo.GetByRepoID(ctx, input.RepositoryID)
	if err != nil {
		return nil, err
	}

	proj, err := s.projectRepo.GetByRepositoryID(ctx, rp.ID)
	if err == nil {
		return proj, nil
	}
	if !shared.IsNotFound(err) {
		return nil, err
	}

	proj, err = project.NewGitHubProject(userID, rp.ID, rp.FullName)
	if err != nil {
		return nil, err
	}

	if err := s.projectRepo.Create(ctx, proj); err != nil {
		if errors.Is(err, shared.ErrAlreadyExists) {
			return s.projectRepo.GetByRepositoryID(ctx, rp.ID)
		}
		return nil, err
	}

	return proj, nil
}

// launch builds the job descriptor and starts the worker. Any failure here
// transitions the run to failed so it never lingers running with no worker
// behind it.
func (s *ScanService) launch(ctx context.Context, rn *run.Run, proj *project.Project, targetURL string) error {
	job := scanner.Job{
		RunID:         rn.ID.String(),
		Languages:     []string{},
		Frameworks:    []string{},
		Dependencies:  []string{},
		ChangedFiles:  []string{},
		IsPR:          rn.Trigger == run.TriggerPullRequest,
		CallbackURL:   s.cfg.CallbackBaseURL + "/api/v1/scans/results",
		CallbackToken: rn.CallbackSecret,
	}
	if targetURL != "" {
		job.DAST = &scanner.DASTTarget{TargetURL: targetURL}
	}

	switch proj.Type {
	case project.TypeGitHub:
		rp, err := s.repoRepo.GetByID(ctx, *proj.RepositoryID)
		if err != nil {
			return s.failLaunch(ctx, rn, err)
		}
		localPath, err := s.syncer.EnsureFresh(ctx, rp.FullName)
		if err != nil {
			return s.failLaunch(ctx, rn, err)
		}
		job.RepoPath = scanner.WorkerPath(localPath, s.cfg.WorkspaceDir, s.cfg.WorkerPathPrefix)
		job.RepoURL = rp.RemoteURL()
		job.Languages = languageNames(rp.Languages)

	case project.TypeLocal:
		job.RepoPath = scanner.WorkerPath(proj.LocalPath, s.cfg.WorkspaceDir, s.cfg.WorkerPathPrefix)

	default:
		return s.failLaunch(ctx, rn, shared.NewDomainError("VALIDATION", "unknown project type", shared.ErrValidation))
	}

	// Workers pick tools from the language list and assume python when
	// nothing is known; dependencies mirrors the list for older workers.
	if len(job.Languages) == 0 {
		job.Languages = []string{"python"}
	}
	job.Dependencies = job.Languages

	if err := s.launcher.Launch(ctx, job); err != nil {
		return s.failLaunch(ctx, rn, err)
	}

	metrics.ScansInProgress.Inc()
	return nil
}

// failLaunch marks the run failed with a finish timestamp and reports the
// launch as an upstream failure.
func (s *ScanService) failLaunch(ctx context.Context, rn *run.Run, cause error) error {
	metrics.ScanLaunchFailures.Inc()
	s.logger.Error("scan launch failed", "run_id", rn.ID.String(), "error", cause)

	if err := rn.Fail("worker launch failed: " + cause.Error()); err != nil {
		return err
	}
	if err := s.runRepo.Update(ctx, rn); err != nil {
		return err
	}

	return shared.NewDomainError("UPSTREAM", "scan launch failed", shared.ErrUpstream)
}

// languageNames orders languages by reported byte count, largest first.
func languageNames(languages map[string]int64) []string {
	names := make([]string, 0, len(languages))
	for name := range languages {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if languages[names[i]] != languages[names[j]] {
			return languages[names[i]] > languages[names[j]]
		}
		return names[i] < names[j]
	})
	return names
}
