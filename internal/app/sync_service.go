package app

import (
	"context"
	"path/filepath"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/deplai/api/internal/infra/gitsync"
	"github.com/deplai/api/internal/infra/scm"
	"github.com/deplai/api/internal/metrics"
	"github.com/deplai/api/pkg/domain/repo"
	"github.com/deplai/api/pkg/domain/shared"
	"github.com/deplai/api/pkg/logger"
)

// RepoSyncer keeps local working copies fresh for other services.
type RepoSyncer interface {
	EnsureFresh(ctx context.Context, fullName string) (string, error)
}

// SyncService maintains the clone cache: one working copy per tracked
// repository, refreshed when webhooks mark it stale. Concurrent syncs of the
// same repository collapse into a single underlying clone or pull.
type SyncService struct {
	repoRepo  repo.Repository
	tokens    TokenProvider
	engine    gitsync.Engine
	scmClient scm.AppClient

	workspaceDir string
	group        singleflight.Group
	logger       *logger.Logger
}

// NewSyncService creates a new SyncService.
func NewSyncService(
	repoRepo repo.Repository,
	tokens TokenProvider,
	engine gitsync.Engine,
	scmClient scm.AppClient,
	workspaceDir string,
	log *logger.Logger,
) *SyncService {
	return &SyncService{
		repoRepo:     repoRepo,
		tokens:       tokens,
		engine:       engine,
		scmClient:    scmClient,
		workspaceDir: workspaceDir,
		logger:       log.With("service", "sync"),
	}
}

// WorkingCopyDir returns the host directory a repository syncs into.
func (s *SyncService) WorkingCopyDir(rp *repo.Repo) string {
	return filepath.Join(s.workspaceDir, rp.Owner, rp.Name)
}

// EnsureFresh returns the path of an up-to-date working copy for the
// repository, cloning or pulling as needed. When the repository is already
// fresh and a working copy exists, no network access happens.
func (s *SyncService) EnsureFresh(ctx context.Context, fullName string) (string, error) {
	v, err, _ := s.group.Do(fullName, func() (any, error) {
		return s.ensureFresh(ctx, fullName)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (s *SyncService) ensureFresh(ctx context.Context, fullName string) (string, error) {
	rp, err := s.repoRepo.GetByFullName(ctx, fullName)
	if err != nil {
		return "", err
	}

	dir := s.WorkingCopyDir(rp)

	// Fast path: fresh flag intact and a working copy on disk.
	if !rp.NeedsRefresh && s.engine.HasWorkingCopy(dir) {
		return dir, nil
	}

	token, err := s.tokens.GetToken(ctx, rp.InstallationID)
	if err != nil {
		return "", err
	}

	mode := "pull"
	if !s.engine.HasWorkingCopy(dir) {
		mode = "clone"
	}

	start := time.Now()
	result, err := s.engine.Sync(ctx, gitsync.Request{
		URL:    rp.RemoteURL(),
		Branch: rp.DefaultBranch,
		Dir:    dir,
		Token:  token,
	})
	metrics.RepoSyncDuration.WithLabelValues(mode).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.RepoSyncsTotal.WithLabelValues(mode, "error").Inc()
		return "", shared.NewDomainError("UPSTREAM", "repository sync failed", shared.ErrUpstream)
	}
	metrics.RepoSyncsTotal.WithLabelValues(mode, "success").Inc()

	if result.Branch != rp.DefaultBranch {
		metrics.RepoBranchFallbacks.Inc()
		s.logger.Info("default branch corrected",
			"repo", rp.FullName,
			"from", rp.DefaultBranch,
			"to", result.Branch,
		)
		rp.CorrectDefaultBranch(result.Branch)
	}

	rp.MarkSynced(result.CommitSha, time.Now())
	if err := s.repoRepo.UpdateSyncState(ctx, rp); err != nil {
		return "", err
	}

	s.logger.Info("repository synced",
		"repo", rp.FullName,
		"mode", mode,
		"commit", result.CommitSha,
	)

	return dir, nil
}

// ForceRefresh invalidates the freshness flag and syncs immediately.
func (s *SyncService) ForceRefresh(ctx context.Context, fullName string) (string, error) {
	rp, err := s.repoRepo.GetByFullName(ctx, fullName)
	if err != nil {
		return "", err
	}

	rp.Invalidate()
	if err := s.repoRepo.UpdateSyncState(ctx, rp); err != nil {
		return "", err
	}

	return s.EnsureFresh(ctx, fullName)
}

// SyncInstallation refreshes the repository catalogue for an installation
// from the provider, upserting everything the installation grants access to.
// Returns the number of repositories seen.
func (s *SyncService) SyncInstallation(ctx context.Context, installationID int64) (int, error) {
	token, err := s.tokens.GetToken(ctx, installationID)
	if err != nil {
		return 0, err
	}

	remote, err := s.scmClient.ListInstallationRepositories(ctx, token)
	if err != nil {
		return 0, shared.NewDomainError("UPSTREAM", "failed to list installation repositories", shared.ErrUpstream)
	}

	for _, rr := range remote {
		rp, err := repo.New(installationID, rr.ID, rr.FullName, rr.Private, rr.DefaultBranch)
		if err != nil {
			s.logger.Warn("skipping malformed repository", "full_name", rr.FullName, "error", err)
			continue
		}

		// Best effort; a repo without language data still syncs and scans.
		if languages, err := s.scmClient.GetRepositoryLanguages(ctx, token, rr.FullName); err == nil {
			rp.Languages = languages
		} else {
			s.logger.Warn("failed to fetch repository languages", "full_name", rr.FullName, "error", err)
		}

		if err := s.repoRepo.Upsert(ctx, rp); err != nil {
			return 0, err
		}
	}

	s.logger.Info("installation repositories synced",
		"installation_id", installationID,
		"count", len(remote),
	)

	return len(remote), nil
}

// Ensure implementation
var _ RepoSyncer = (*SyncService)(nil)
