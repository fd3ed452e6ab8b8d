package app

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/deplai/api/internal/infra/jobs"
	"github.com/deplai/api/internal/metrics"
	"github.com/deplai/api/pkg/crypto"
	"github.com/deplai/api/pkg/domain/installation"
	"github.com/deplai/api/pkg/domain/project"
	"github.com/deplai/api/pkg/domain/repo"
	"github.com/deplai/api/pkg/domain/run"
	"github.com/deplai/api/pkg/domain/shared"
	"github.com/deplai/api/pkg/logger"
)

// ScanLaunchQueue enqueues launch tasks for webhook-created pending runs.
type ScanLaunchQueue interface {
	EnqueueScanLaunch(ctx context.Context, payload jobs.ScanLaunchPayload) error
}

// GitHubEventService routes verified webhook payloads into state changes.
// Handlers are idempotent under replay: creates are upserts keyed on the
// provider's natural ids, and runs are only created for events that name a
// wrapped project.
type GitHubEventService struct {
	installationRepo installation.Repository
	repoRepo         repo.Repository
	projectRepo      project.Repository
	runRepo          run.Repository
	queue            ScanLaunchQueue
	logger           *logger.Logger
}

// NewGitHubEventService creates a new GitHubEventService.
func NewGitHubEventService(
	installationRepo installation.Repository,
	repoRepo repo.Repository,
	projectRepo project.Repository,
	runRepo run.Repository,
	queue ScanLaunchQueue,
	log *logger.Logger,
) *GitHubEventService {
	return &GitHubEventService{
		installationRepo: installationRepo,
		repoRepo:         repoRepo,
		projectRepo:      projectRepo,
		runRepo:          runRepo,
		queue:            queue,
		logger:           log.With("service", "github_event"),
	}
}

// Webhook payload structures, decoded once per delivery.

type ghAccount struct {
	Login string `json:"login"`
	Type  string `json:"type"`
}

type ghInstallation struct {
	ID      int64     `json:"id"`
	Account ghAccount `json:"account"`
}

type ghRepository struct {
	ID            int64  `json:"id"`
	FullName      string `json:"full_name"`
	Private       bool   `json:"private"`
	DefaultBranch string `json:"default_branch"`
}

type installationEvent struct {
	Action       string         `json:"action"`
	Installation ghInstallation `json:"installation"`
	Repositories []ghRepository `json:"repositories"`
}

type installationRepositoriesEvent struct {
	Action              string         `json:"action"`
	Installation        ghInstallation `json:"installation"`
	RepositoriesAdded   []ghRepository `json:"repositories_added"`
	RepositoriesRemoved []ghRepository `json:"repositories_removed"`
}

type pushEvent struct {
	Ref          string         `json:"ref"`
	After        string         `json:"after"`
	Repository   ghRepository   `json:"repository"`
	Installation ghInstallation `json:"installation"`
}

type pullRequestEvent struct {
	Action      string `json:"action"`
	Number      int    `json:"number"`
	PullRequest struct {
		Head struct {
			Ref string `json:"ref"`
			Sha string `json:"sha"`
		} `json:"head"`
	} `json:"pull_request"`
	Repository   ghRepository   `json:"repository"`
	Installation ghInstallation `json:"installation"`
}

// HandleEvent dispatches a verified webhook delivery by event type. Unknown
// event types are acknowledged and ignored.
func (s *GitHubEventService) HandleEvent(ctx context.Context, event string, payload []byte) error {
	var err error

	switch event {
	case "installation":
		err = s.handleInstallation(ctx, payload)
	case "installation_repositories":
		err = s.handleInstallationRepositories(ctx, payload)
	case "push":
		err = s.handlePush(ctx, payload)
	case "pull_request":
		err = s.handlePullRequest(ctx, payload)
	default:
		s.logger.Debug("ignoring webhook event", "event", event)
		metrics.WebhookEventsTotal.WithLabelValues(event, "ignored").Inc()
		return nil
	}

	if err != nil {
		metrics.WebhookEventsTotal.WithLabelValues(event, "error").Inc()
		return err
	}

	metrics.WebhookEventsTotal.WithLabelValues(event, "processed").Inc()
	return nil
}

func (s *GitHubEventService) handleInstallation(ctx context.Context, payload []byte) error {
	var ev installationEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return fmt.Errorf("failed to decode installation event: %w", err)
	}

	switch ev.Action {
	case "created":
		inst, err := installation.NewInstallation(
			ev.Installation.ID,
			ev.Installation.Account.Login,
			installation.AccountType(ev.Installation.Account.Type),
		)
		if err != nil {
			return err
		}
		if err := s.installationRepo.Upsert(ctx, inst); err != nil {
			return err
		}
		if err := s.upsertRepositories(ctx, ev.Installation.ID, ev.Repositories); err != nil {
			return err
		}
		s.logger.Info("installation created",
			"installation_id", ev.Installation.ID,
			"account", ev.Installation.Account.Login,
			"repositories", len(ev.Repositories),
		)

	case "deleted":
		// Repositories die with the installation: their tokens can never be
		// minted again. Projects and runs cascade off the repository rows.
		repos, err := s.repoRepo.ListByInstallation(ctx, ev.Installation.ID)
		if err != nil {
			return err
		}
		if len(repos) > 0 {
			repoIDs := make([]int64, len(repos))
			for i, rp := range repos {
				repoIDs[i] = rp.RepoID
			}
			if err := s.repoRepo.DeleteByRepoIDs(ctx, repoIDs); err != nil {
				return err
			}
		}
		if err := s.installationRepo.Delete(ctx, ev.Installation.ID); err != nil && !shared.IsNotFound(err) {
			return err
		}
		s.logger.Info("installation deleted",
			"installation_id", ev.Installation.ID,
			"repositories", len(repos),
		)

	case "suspend":
		inst, err := s.installationRepo.GetByInstallationID(ctx, ev.Installation.ID)
		if err != nil {
			return err
		}
		inst.Suspend()
		if err := s.installationRepo.Update(ctx, inst); err != nil {
			return err
		}
		s.logger.Info("installation suspended", "installation_id", ev.Installation.ID)

	case "unsuspend":
		inst, err := s.installationRepo.GetByInstallationID(ctx, ev.Installation.ID)
		if err != nil {
			return err
		}
		inst.Unsuspend()
		if err := s.installationRepo.Update(ctx, inst); err != nil {
			return err
		}
		s.logger.Info("installation unsuspended", "installation_id", ev.Installation.ID)

	default:
		s.logger.Debug("ignoring installation action", "action", ev.Action)
	}

	return nil
}

func (s *GitHubEventService) handleInstallationRepositories(ctx context.Context, payload []byte) error {
	var ev installationRepositoriesEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return fmt.Errorf("failed to decode installation_repositories event: %w", err)
	}

	if err := s.upsertRepositories(ctx, ev.Installation.ID, ev.RepositoriesAdded); err != nil {
		return err
	}

	if len(ev.RepositoriesRemoved) > 0 {
		repoIDs := make([]int64, len(ev.RepositoriesRemoved))
		for i, rr := range ev.RepositoriesRemoved {
			repoIDs[i] = rr.ID
		}
		if err := s.repoRepo.DeleteByRepoIDs(ctx, repoIDs); err != nil {
			return err
		}
	}

	s.logger.Info("installation repositories changed",
		"installation_id", ev.Installation.ID,
		"added", len(ev.RepositoriesAdded),
		"removed", len(ev.RepositoriesRemoved),
	)

	return nil
}

func (s *GitHubEventService) handlePush(ctx context.Context, payload []byte) error {
	var ev pushEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return fmt.Errorf("failed to decode push event: %w", err)
	}

	rp, err := s.repoRepo.GetByRepoID(ctx, ev.Repository.ID)
	if err != nil {
		if shared.IsNotFound(err) {
			s.logger.Debug("push for untracked repository", "repo_id", ev.Repository.ID)
			return nil
		}
		return err
	}

	rp.MarkStale(time.Now())
	if err := s.repoRepo.UpdateSyncState(ctx, rp); err != nil {
		return err
	}

	// Only pushes to the default branch start a scan.
	if ev.Ref != "refs/heads/"+rp.DefaultBranch {
		return nil
	}

	return s.createPendingRun(ctx, rp, run.TriggerPush, ev.Ref, ev.After, nil)
}

func (s *GitHubEventService) handlePullRequest(ctx context.Context, payload []byte) error {
	var ev pullRequestEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return fmt.Errorf("failed to decode pull_request event: %w", err)
	}

	if ev.Action != "opened" && ev.Action != "synchronize" {
		s.logger.Debug("ignoring pull_request action", "action", ev.Action)
		return nil
	}

	rp, err := s.repoRepo.GetByRepoID(ctx, ev.Repository.ID)
	if err != nil {
		if shared.IsNotFound(err) {
			s.logger.Debug("pull_request for untracked repository", "repo_id", ev.Repository.ID)
			return nil
		}
		return err
	}

	rp.MarkStale(time.Now())
	if err := s.repoRepo.UpdateSyncState(ctx, rp); err != nil {
		return err
	}

	prNumber := ev.Number
	return s.createPendingRun(ctx, rp, run.TriggerPullRequest, ev.PullRequest.Head.Ref, ev.PullRequest.Head.Sha, &prNumber)
}

// createPendingRun creates a pending run for a wrapped repository and queues
// its launch. Repositories without a wrapper project no-op: there is nothing
// to scan into yet.
func (s *GitHubEventService) createPendingRun(ctx context.Context, rp *repo.Repo, trigger run.Trigger, ref, commitSha string, prNumber *int) error {
	proj, err := s.projectRepo.GetByRepositoryID(ctx, rp.ID)
	if err != nil {
		if shared.IsNotFound(err) {
			return nil
		}
		return err
	}

	rn, err := run.NewRun(proj.ID, trigger, run.ScanTypeFull, run.StatusPending)
	if err != nil {
		return err
	}
	rn.RepositoryID = &rp.ID
	rn.Ref = ref
	rn.CommitSha = commitSha
	rn.PRNumber = prNumber

	secret, err := crypto.RandomHex(32)
	if err != nil {
		return err
	}
	rn.CallbackSecret = secret

	if err := s.runRepo.Create(ctx, rn); err != nil {
		return err
	}

	s.logger.Info("run created from webhook",
		"run_id", rn.ID.String(),
		"project_id", proj.ID.String(),
		"trigger", string(trigger),
		"ref", ref,
	)

	// Enqueue failure leaves the pending run for manual pickup; the
	// delivery itself still succeeded.
	if err := s.queue.EnqueueScanLaunch(ctx, jobs.ScanLaunchPayload{RunID: rn.ID.String()}); err != nil {
		s.logger.Error("failed to enqueue scan launch", "run_id", rn.ID.String(), "error", err)
	}

	return nil
}

func (s *GitHubEventService) upsertRepositories(ctx context.Context, installationID int64, repos []ghRepository) error {
	for _, rr := range repos {
		rp, err := repo.New(installationID, rr.ID, rr.FullName, rr.Private, rr.DefaultBranch)
		if err != nil {
			s.logger.Warn("skipping malformed repository", "full_name", rr.FullName, "error", err)
			continue
		}
		if err := s.repoRepo.Upsert(ctx, rp); err != nil {
			return err
		}
	}
	return nil
}
