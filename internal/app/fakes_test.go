package app

import (
	"context"
	"sync"
	"time"

	"github.com/deplai/api/internal/infra/gitsync"
	"github.com/deplai/api/internal/infra/jobs"
	"github.com/deplai/api/internal/infra/scanner"
	"github.com/deplai/api/internal/infra/scm"
	"github.com/deplai/api/pkg/domain/installation"
	"github.com/deplai/api/pkg/domain/project"
	"github.com/deplai/api/pkg/domain/repo"
	"github.com/deplai/api/pkg/domain/run"
	"github.com/deplai/api/pkg/domain/shared"
	"github.com/deplai/api/pkg/logger"
)

// In-memory fakes shared by the service tests. They implement just enough of
// each contract for the tests to observe service behavior.

func testLogger() *logger.Logger {
	return logger.NewNop()
}

func notFound(what string) error {
	return shared.NewDomainError("NOT_FOUND", what+" not found", shared.ErrNotFound)
}

// ----------------------------------------------------------------------------
// installation.Repository

type fakeInstallationRepo struct {
	installations map[int64]*installation.Installation
}

func newFakeInstallationRepo() *fakeInstallationRepo {
	return &fakeInstallationRepo{installations: make(map[int64]*installation.Installation)}
}

func (f *fakeInstallationRepo) Upsert(_ context.Context, inst *installation.Installation) error {
	f.installations[inst.InstallationID] = inst
	return nil
}

func (f *fakeInstallationRepo) GetByInstallationID(_ context.Context, installationID int64) (*installation.Installation, error) {
	inst, ok := f.installations[installationID]
	if !ok {
		return nil, notFound("installation")
	}
	return inst, nil
}

func (f *fakeInstallationRepo) Update(_ context.Context, inst *installation.Installation) error {
	if _, ok := f.installations[inst.InstallationID]; !ok {
		return notFound("installation")
	}
	f.installations[inst.InstallationID] = inst
	return nil
}

func (f *fakeInstallationRepo) Delete(_ context.Context, installationID int64) error {
	if _, ok := f.installations[installationID]; !ok {
		return notFound("installation")
	}
	delete(f.installations, installationID)
	return nil
}

func (f *fakeInstallationRepo) List(_ context.Context, _ installation.Filter) ([]*installation.Installation, error) {
	out := make([]*installation.Installation, 0, len(f.installations))
	for _, inst := range f.installations {
		out = append(out, inst)
	}
	return out, nil
}

// ----------------------------------------------------------------------------
// installation.TokenCache

type fakeTokenCache struct {
	tokens   []*installation.AccessToken
	putCalls int
}

func (f *fakeTokenCache) Get(_ context.Context, installationID int64) (*installation.AccessToken, error) {
	var newest *installation.AccessToken
	for _, t := range f.tokens {
		if t.InstallationID != installationID {
			continue
		}
		if newest == nil || t.CreatedAt.After(newest.CreatedAt) {
			newest = t
		}
	}
	if newest == nil {
		return nil, notFound("token")
	}
	return newest, nil
}

func (f *fakeTokenCache) Put(_ context.Context, token *installation.AccessToken) error {
	f.putCalls++
	f.tokens = append(f.tokens, token)
	return nil
}

func (f *fakeTokenCache) DeleteExpiredBefore(_ context.Context, cutoff time.Time) (int64, error) {
	kept := f.tokens[:0]
	var deleted int64
	for _, t := range f.tokens {
		if t.ExpiresAt.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, t)
	}
	f.tokens = kept
	return deleted, nil
}

// ----------------------------------------------------------------------------
// scm.AppClient

type fakeSCMClient struct {
	mintToken  string
	mintExpiry time.Time
	mintErr    error
	mintCalls  int

	repositories []scm.Repository
	listErr      error
	languages    map[string]map[string]int64
}

func (f *fakeSCMClient) CreateInstallationToken(_ context.Context, _ int64) (*scm.InstallationToken, error) {
	f.mintCalls++
	if f.mintErr != nil {
		return nil, f.mintErr
	}
	expiry := f.mintExpiry
	if expiry.IsZero() {
		expiry = time.Now().Add(time.Hour)
	}
	return &scm.InstallationToken{Token: f.mintToken, ExpiresAt: expiry}, nil
}

func (f *fakeSCMClient) ListInstallationRepositories(_ context.Context, _ string) ([]scm.Repository, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.repositories, nil
}

func (f *fakeSCMClient) GetRepositoryLanguages(_ context.Context, _, fullName string) (map[string]int64, error) {
	langs, ok := f.languages[fullName]
	if !ok {
		return nil, scm.ErrNotFound
	}
	return langs, nil
}

// ----------------------------------------------------------------------------
// repo.Repository

type fakeRepoRepo struct {
	mu    sync.Mutex
	repos map[shared.ID]*repo.Repo

	syncStateUpdates int
}

func newFakeRepoRepo() *fakeRepoRepo {
	return &fakeRepoRepo{repos: make(map[shared.ID]*repo.Repo)}
}

func (f *fakeRepoRepo) add(r *repo.Repo) *repo.Repo {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.repos[r.ID] = r
	return r
}

func (f *fakeRepoRepo) Upsert(_ context.Context, r *repo.Repo) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, existing := range f.repos {
		if existing.RepoID == r.RepoID {
			// Preserve identity and clone bookkeeping, refresh metadata and
			// mark stale, mirroring the SQL upsert.
			existing.FullName = r.FullName
			existing.Owner = r.Owner
			existing.Name = r.Name
			existing.Private = r.Private
			existing.DefaultBranch = r.DefaultBranch
			existing.NeedsRefresh = true
			if r.Languages != nil {
				existing.Languages = r.Languages
			}
			f.repos[id] = existing
			return nil
		}
	}
	f.repos[r.ID] = r
	return nil
}

func (f *fakeRepoRepo) GetByID(_ context.Context, id shared.ID) (*repo.Repo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.repos[id]
	if !ok {
		return nil, notFound("repository")
	}
	return r, nil
}

func (f *fakeRepoRepo) GetByRepoID(_ context.Context, repoID int64) (*repo.Repo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.repos {
		if r.RepoID == repoID {
			return r, nil
		}
	}
	return nil, notFound("repository")
}

func (f *fakeRepoRepo) GetByFullName(_ context.Context, fullName string) (*repo.Repo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.repos {
		if r.FullName == fullName {
			return r, nil
		}
	}
	return nil, notFound("repository")
}

func (f *fakeRepoRepo) Update(_ context.Context, r *repo.Repo) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.repos[r.ID] = r
	return nil
}

func (f *fakeRepoRepo) UpdateSyncState(_ context.Context, r *repo.Repo) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.syncStateUpdates++
	f.repos[r.ID] = r
	return nil
}

func (f *fakeRepoRepo) DeleteByRepoIDs(_ context.Context, repoIDs []int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, repoID := range repoIDs {
		for id, r := range f.repos {
			if r.RepoID == repoID {
				delete(f.repos, id)
			}
		}
	}
	return nil
}

func (f *fakeRepoRepo) ListByInstallation(_ context.Context, installationID int64) ([]*repo.Repo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*repo.Repo
	for _, r := range f.repos {
		if r.InstallationID == installationID {
			out = append(out, r)
		}
	}
	return out, nil
}

// ----------------------------------------------------------------------------
// project.Repository

type fakeProjectRepo struct {
	projects map[shared.ID]*project.Project
	creates  int
}

func newFakeProjectRepo() *fakeProjectRepo {
	return &fakeProjectRepo{projects: make(map[shared.ID]*project.Project)}
}

func (f *fakeProjectRepo) add(p *project.Project) *project.Project {
	f.projects[p.ID] = p
	return p
}

func (f *fakeProjectRepo) Create(_ context.Context, p *project.Project) error {
	if p.RepositoryID != nil {
		for _, existing := range f.projects {
			if existing.RepositoryID != nil && existing.RepositoryID.Equals(*p.RepositoryID) {
				return shared.NewDomainError("ALREADY_EXISTS", "project exists for repository", shared.ErrAlreadyExists)
			}
		}
	}
	f.creates++
	f.projects[p.ID] = p
	return nil
}

func (f *fakeProjectRepo) GetByID(_ context.Context, id shared.ID) (*project.Project, error) {
	p, ok := f.projects[id]
	if !ok {
		return nil, notFound("project")
	}
	return p, nil
}

func (f *fakeProjectRepo) GetByRepositoryID(_ context.Context, repositoryID shared.ID) (*project.Project, error) {
	for _, p := range f.projects {
		if p.RepositoryID != nil && p.RepositoryID.Equals(repositoryID) {
			return p, nil
		}
	}
	return nil, notFound("project")
}

func (f *fakeProjectRepo) ListByUser(_ context.Context, userID shared.ID) ([]*project.Project, error) {
	var out []*project.Project
	for _, p := range f.projects {
		if p.OwnedBy(userID) {
			out = append(out, p)
		}
	}
	return out, nil
}

// ----------------------------------------------------------------------------
// run.Repository

type fakeRunRepo struct {
	runs     map[shared.ID]*run.Run
	findings map[shared.ID][]*run.Finding

	finalizeCalls int
}

func newFakeRunRepo() *fakeRunRepo {
	return &fakeRunRepo{
		runs:     make(map[shared.ID]*run.Run),
		findings: make(map[shared.ID][]*run.Finding),
	}
}

func (f *fakeRunRepo) add(r *run.Run) *run.Run {
	f.runs[r.ID] = r
	return r
}

func (f *fakeRunRepo) Create(_ context.Context, r *run.Run) error {
	f.runs[r.ID] = r
	return nil
}

func (f *fakeRunRepo) GetByID(_ context.Context, id shared.ID) (*run.Run, error) {
	r, ok := f.runs[id]
	if !ok {
		return nil, notFound("run")
	}
	return r, nil
}

func (f *fakeRunRepo) Update(_ context.Context, r *run.Run) error {
	if _, ok := f.runs[r.ID]; !ok {
		return notFound("run")
	}
	f.runs[r.ID] = r
	return nil
}

func (f *fakeRunRepo) FindLatestCompleted(_ context.Context, projectID shared.ID) (*run.Run, error) {
	var latest *run.Run
	for _, r := range f.runs {
		if !r.ProjectID.Equals(projectID) || r.Status != run.StatusCompleted {
			continue
		}
		if latest == nil || r.CreatedAt.After(latest.CreatedAt) {
			latest = r
		}
	}
	if latest == nil {
		return nil, notFound("run")
	}
	return latest, nil
}

func (f *fakeRunRepo) Finalize(_ context.Context, r *run.Run, findings []*run.Finding) error {
	if _, ok := f.runs[r.ID]; !ok {
		return notFound("run")
	}
	f.finalizeCalls++
	f.runs[r.ID] = r
	f.findings[r.ID] = findings
	return nil
}

func (f *fakeRunRepo) ListStaleRunning(_ context.Context, cutoff time.Time) ([]*run.Run, error) {
	var out []*run.Run
	for _, r := range f.runs {
		if r.Status == run.StatusRunning && r.StartedAt != nil && r.StartedAt.Before(cutoff) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeRunRepo) CreateBatch(_ context.Context, findings []*run.Finding) error {
	for _, fd := range findings {
		f.findings[fd.RunID] = append(f.findings[fd.RunID], fd)
	}
	return nil
}

func (f *fakeRunRepo) ListByRun(_ context.Context, runID shared.ID) ([]*run.Finding, error) {
	return f.findings[runID], nil
}

// ----------------------------------------------------------------------------
// Collaborator fakes

type fakeEngine struct {
	mu        sync.Mutex
	hasCopy   map[string]bool
	result    *gitsync.Result
	syncErr   error
	syncCalls int
	lastReq   gitsync.Request

	// When set, Sync blocks until the channel closes.
	block chan struct{}
}

func (f *fakeEngine) HasWorkingCopy(dir string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hasCopy[dir]
}

func (f *fakeEngine) Sync(_ context.Context, req gitsync.Request) (*gitsync.Result, error) {
	f.mu.Lock()
	f.syncCalls++
	f.lastReq = req
	block := f.block
	f.mu.Unlock()

	if block != nil {
		<-block
	}
	if f.syncErr != nil {
		return nil, f.syncErr
	}
	result := *f.result
	if result.Branch == "" {
		result.Branch = req.Branch
	}
	return &result, nil
}

type fakeLauncher struct {
	jobs      []scanner.Job
	launchErr error
}

func (f *fakeLauncher) Launch(_ context.Context, job scanner.Job) error {
	if f.launchErr != nil {
		return f.launchErr
	}
	f.jobs = append(f.jobs, job)
	return nil
}

type fakeQueue struct {
	payloads []jobs.ScanLaunchPayload
	err      error
}

func (f *fakeQueue) EnqueueScanLaunch(_ context.Context, payload jobs.ScanLaunchPayload) error {
	if f.err != nil {
		return f.err
	}
	f.payloads = append(f.payloads, payload)
	return nil
}

type fakeSyncer struct {
	path  string
	err   error
	calls int
	last  string
}

func (f *fakeSyncer) EnsureFresh(_ context.Context, fullName string) (string, error) {
	f.calls++
	f.last = fullName
	if f.err != nil {
		return "", f.err
	}
	return f.path, nil
}

type fakeTokenProvider struct {
	token string
	err   error
	calls int
}

func (f *fakeTokenProvider) GetToken(_ context.Context, _ int64) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.token, nil
}
