// Package service implements the business logic of the job pipeline.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/purplemerit/collab-jobs/internal/core"
	"github.com/purplemerit/collab-jobs/internal/data"
	"github.com/purplemerit/collab-jobs/internal/domain/model"
)

// ErrForbidden is returned when an authenticated user lacks permission for
// the workspace or action.
var ErrForbidden = errors.New("user is not permitted to access this workspace")

// WorkspaceEventJobSubmitted is the event type fanned out when a job is accepted.
const WorkspaceEventJobSubmitted = "job.submitted"

// JobServiceOptions groups dependencies for JobService.
type JobServiceOptions struct {
	Jobs        core.JobRepository        // Required: job ledger
	Results     core.JobResultRepository  // Required: result document store
	Workspaces  core.WorkspaceRepository  // Required: workspace lookup
	Memberships core.MembershipRepository // Required: membership/role lookup
	Idempotency core.IdempotencyCache     // Optional: fast-path idempotency cache
	Publisher   core.DispatchPublisher    // Required: broker publisher
	Logger      *slog.Logger              // Optional: structured logger
}

// JobService is the submission coordinator: it orchestrates authorization,
// idempotency resolution, the dual-store writes, and the broker publish as
// one logical operation, and serves job status reads.
type JobService struct {
	jobs        core.JobRepository
	results     core.JobResultRepository
	workspaces  core.WorkspaceRepository
	memberships core.MembershipRepository
	idempotency core.IdempotencyCache
	publisher   core.DispatchPublisher
	logger      *slog.Logger
}

// NewJobService constructs a JobService.
func NewJobService(opts JobServiceOptions) (*JobService, error) {
	switch {
	case opts.Jobs == nil:
		return nil, errors.New("JobRepository is required")
	case opts.Results == nil:
		return nil, errors.New("JobResultRepository is required")
	case opts.Workspaces == nil:
		return nil, errors.New("WorkspaceRepository is required")
	case opts.Memberships == nil:
		return nil, errors.New("MembershipRepository is required")
	case opts.Publisher == nil:
		return nil, errors.New("DispatchPublisher is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &JobService{
		jobs:        opts.Jobs,
		results:     opts.Results,
		workspaces:  opts.Workspaces,
		memberships: opts.Memberships,
		idempotency: opts.Idempotency,
		publisher:   opts.Publisher,
		logger:      logger.With("component", "job_service"),
	}, nil
}

// MustNewJobService constructs a JobService and panics on error.
// Use this when you're certain the options are valid (e.g., in bootstrap).
func MustNewJobService(opts JobServiceOptions) *JobService {
	svc, err := NewJobService(opts)
	if err != nil {
		//nolint:forbidigo // Must constructor fails fast when dependencies are invalid during startup
		panic(fmt.Sprintf("failed to create JobService: %v", err))
	}
	return svc
}

// Submit accepts a unit of work for a workspace. The second return value is
// true when the submission replayed an existing job via its idempotency key.
//
// Step order is load-bearing: the ledger row must exist before the dispatch
// message is sent, or a worker could receive a message for a job it cannot
// find. A publish failure after the durable writes leaves the job pending
// and orphaned; the reconciler sweep picks those up rather than attempting a
// rollback here.
func (s *JobService) Submit(
	ctx context.Context,
	req *model.SubmitJobRequest,
	userID string,
) (*model.Job, bool, error) {
	if req == nil {
		return nil, false, errors.New("submit request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, false, err
	}

	workspace, err := s.authorize(ctx, req.WorkspaceID, userID, model.PermissionWrite)
	if err != nil {
		return nil, false, err
	}

	if req.IdempotencyKey != "" {
		existing, found, resolveErr := s.resolveExisting(ctx, req.IdempotencyKey, req.WorkspaceID)
		if resolveErr != nil {
			return nil, false, resolveErr
		}
		if found {
			s.logger.InfoContext(ctx, "job submission replayed",
				"job_id", existing.ID,
				"workspace_id", req.WorkspaceID,
				"idempotency_key", req.IdempotencyKey,
			)
			return existing, true, nil
		}
	}

	job, err := s.createAndDispatch(ctx, req, workspace)
	if err != nil {
		if errors.Is(err, data.ErrDuplicateIdempotencyKey) {
			// Lost a race against a concurrent identical submission: the
			// constraint is the real guard, so re-read and treat as replay.
			return s.recoverFromDuplicate(ctx, req)
		}
		return nil, false, err
	}

	s.logger.InfoContext(ctx, "job submitted",
		"job_id", job.ID,
		"type", job.Type,
		"workspace_id", job.WorkspaceID,
		"user_id", userID,
	)
	return job, false, nil
}

// GetStatus returns a job together with its result document. The result may
// be nil when the document store has no record (an accepted consistency gap).
func (s *JobService) GetStatus(
	ctx context.Context,
	jobID, userID string,
) (*model.Job, *model.JobResult, error) {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, nil, err
	}

	if _, err := s.authorize(ctx, job.WorkspaceID, userID, model.PermissionRead); err != nil {
		return nil, nil, err
	}

	result, err := s.results.FindByJobID(ctx, jobID)
	if errors.Is(err, data.ErrJobResultNotFound) {
		return job, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("find job result: %w", err)
	}
	return job, result, nil
}

// ListByWorkspace returns a workspace's jobs, newest first.
func (s *JobService) ListByWorkspace(
	ctx context.Context,
	workspaceID, userID string,
	limit, offset int,
) ([]*model.Job, error) {
	if _, err := s.authorize(ctx, workspaceID, userID, model.PermissionRead); err != nil {
		return nil, err
	}
	return s.jobs.ListByWorkspace(ctx, workspaceID, limit, offset)
}

// Stats returns per-status job counts for a workspace.
func (s *JobService) Stats(ctx context.Context, workspaceID, userID string) (*model.JobStats, error) {
	if _, err := s.authorize(ctx, workspaceID, userID, model.PermissionRead); err != nil {
		return nil, err
	}
	return s.jobs.Stats(ctx, workspaceID)
}

// authorize resolves the workspace and checks the user's role in the owning
// project against the requested permission.
func (s *JobService) authorize(
	ctx context.Context,
	workspaceID, userID string,
	permission model.Permission,
) (*model.Workspace, error) {
	workspace, err := s.workspaces.GetByID(ctx, workspaceID)
	if err != nil {
		return nil, err
	}

	member, err := s.memberships.GetByProjectAndUser(ctx, workspace.ProjectID, userID)
	if errors.Is(err, data.ErrMembershipNotFound) {
		return nil, ErrForbidden
	}
	if err != nil {
		return nil, fmt.Errorf("resolve membership: %w", err)
	}
	if !member.Role.Permits(permission) {
		return nil, ErrForbidden
	}
	return workspace, nil
}

// resolveExisting consults the cache and then the ledger for a prior job with
// the same (key, workspace) pair. Cache failures degrade to ledger reads.
func (s *JobService) resolveExisting(
	ctx context.Context,
	key, workspaceID string,
) (*model.Job, bool, error) {
	if s.idempotency != nil {
		jobID, hit, err := s.idempotency.Lookup(ctx, key, workspaceID)
		if err != nil {
			s.logger.WarnContext(ctx, "idempotency cache lookup failed",
				"workspace_id", workspaceID, "error", err)
		} else if hit {
			job, getErr := s.jobs.GetByID(ctx, jobID)
			if getErr == nil {
				return job, true, nil
			}
			if !errors.Is(getErr, data.ErrJobNotFound) {
				return nil, false, getErr
			}
			// Cache pointed at a job the ledger no longer has; fall through to
			// the authoritative read.
		}
	}

	job, err := s.jobs.GetByIdempotencyKey(ctx, key, workspaceID)
	if errors.Is(err, data.ErrJobNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	s.recordMapping(ctx, key, workspaceID, job.ID)
	return job, true, nil
}

func (s *JobService) createAndDispatch(
	ctx context.Context,
	req *model.SubmitJobRequest,
	workspace *model.Workspace,
) (*model.Job, error) {
	var idempotencyKey *string
	if req.IdempotencyKey != "" {
		idempotencyKey = &req.IdempotencyKey
	}

	job, err := s.jobs.Create(ctx, core.CreateJobParams{
		WorkspaceID:    req.WorkspaceID,
		Type:           req.Type,
		IdempotencyKey: idempotencyKey,
		MaxRetries:     req.MaxRetries,
	})
	if err != nil {
		return nil, err
	}

	if err := s.results.Create(ctx, core.CreateJobResultParams{
		JobID:        job.ID,
		InputPayload: req.Payload,
	}); err != nil {
		// The ledger row is durable; surfacing the error leaves the job
		// pending for the reconciler instead of attempting a rollback.
		return nil, fmt.Errorf("create job result: %w", err)
	}

	if err := s.publisher.PublishJob(ctx, model.DispatchMessage{
		JobID:       job.ID,
		WorkspaceID: job.WorkspaceID,
		Type:        job.Type,
		Payload:     req.Payload,
		Attempt:     0,
		Timestamp:   time.Now().UTC(),
	}); err != nil {
		return nil, fmt.Errorf("publish job %s: %w", job.ID, err)
	}

	if req.IdempotencyKey != "" {
		s.recordMapping(ctx, req.IdempotencyKey, req.WorkspaceID, job.ID)
	}

	s.fanOutSubmitted(ctx, workspace, job)
	return job, nil
}

// recoverFromDuplicate re-resolves the winning row after a unique-constraint
// conflict on (workspace_id, idempotency_key).
func (s *JobService) recoverFromDuplicate(
	ctx context.Context,
	req *model.SubmitJobRequest,
) (*model.Job, bool, error) {
	job, err := s.jobs.GetByIdempotencyKey(ctx, req.IdempotencyKey, req.WorkspaceID)
	if err != nil {
		return nil, false, fmt.Errorf("re-resolve job after idempotency conflict: %w", err)
	}
	s.recordMapping(ctx, req.IdempotencyKey, req.WorkspaceID, job.ID)
	return job, true, nil
}

// recordMapping writes the cache entry. Best-effort: the ledger's unique
// constraint is the correctness guarantee, the cache only saves a read.
func (s *JobService) recordMapping(ctx context.Context, key, workspaceID, jobID string) {
	if s.idempotency == nil {
		return
	}
	if err := s.idempotency.Record(ctx, key, workspaceID, jobID); err != nil {
		s.logger.WarnContext(ctx, "idempotency cache record failed",
			"workspace_id", workspaceID,
			"job_id", jobID,
			"error", err,
		)
	}
}

// fanOutSubmitted publishes the workspace event consumed by the
// collaboration layer. Best-effort.
func (s *JobService) fanOutSubmitted(ctx context.Context, workspace *model.Workspace, job *model.Job) {
	payload, err := json.Marshal(map[string]string{
		"job_id": job.ID,
		"type":   string(job.Type),
	})
	if err != nil {
		return
	}
	if err := s.publisher.PublishWorkspaceEvent(ctx, workspace.ID, WorkspaceEventJobSubmitted, payload); err != nil {
		s.logger.WarnContext(ctx, "workspace event publish failed",
			"workspace_id", workspace.ID,
			"job_id", job.ID,
			"error", err,
		)
	}
}
