// Package core defines the ports between the service layer and the
// infrastructure adapters. Services depend on these interfaces, never on
// concrete repositories or broker clients.
package core

import (
	"context"
	"encoding/json"

	"github.com/purplemerit/collab-jobs/internal/domain/model"
)

// CreateJobParams groups parameters for JobRepository.Create.
type CreateJobParams struct {
	WorkspaceID    string
	Type           model.JobType
	IdempotencyKey *string
	MaxRetries     int
}

// UpdateStatusParams groups parameters for JobRepository.UpdateStatus.
type UpdateStatusParams struct {
	ID           string
	Status       model.JobStatus
	ErrorMessage *string
}

// JobRepository is the authoritative ledger for job control-plane state.
type JobRepository interface {
	Create(ctx context.Context, params CreateJobParams) (*model.Job, error)
	GetByID(ctx context.Context, id string) (*model.Job, error)
	GetByIdempotencyKey(ctx context.Context, key, workspaceID string) (*model.Job, error)
	ListByWorkspace(ctx context.Context, workspaceID string, limit, offset int) ([]*model.Job, error)
	UpdateStatus(ctx context.Context, params UpdateStatusParams) (*model.Job, error)
	IncrementRetries(ctx context.Context, id string) (*model.Job, error)
	Stats(ctx context.Context, workspaceID string) (*model.JobStats, error)
	FindStuckPending(ctx context.Context, olderThanSeconds int, limit int) ([]*model.Job, error)
	FailStaleProcessing(ctx context.Context, olderThanSeconds int) (int64, error)
}

// CreateJobResultParams groups parameters for JobResultRepository.Create.
type CreateJobResultParams struct {
	JobID        string
	InputPayload json.RawMessage
}

// UpdateJobResultParams groups parameters for JobResultRepository.Update.
type UpdateJobResultParams struct {
	JobID        string
	OutputResult json.RawMessage
	Log          string
}

// JobResultRepository is the document store paired 1:1 with ledger rows.
type JobResultRepository interface {
	Create(ctx context.Context, params CreateJobResultParams) error
	FindByJobID(ctx context.Context, jobID string) (*model.JobResult, error)
	Update(ctx context.Context, params UpdateJobResultParams) error
	AppendLog(ctx context.Context, jobID, line string) error
	AppendError(ctx context.Context, jobID, message string) error
}

// IdempotencyCache maps (workspace, key) pairs to job IDs. It is a pure
// latency optimization: absence of a mapping proves nothing, and the ledger's
// unique constraint remains the correctness guarantee.
type IdempotencyCache interface {
	Lookup(ctx context.Context, key, workspaceID string) (string, bool, error)
	Record(ctx context.Context, key, workspaceID, jobID string) error
}

// WorkspaceRepository is the narrow collaborator interface for workspace lookup.
type WorkspaceRepository interface {
	GetByID(ctx context.Context, id string) (*model.Workspace, error)
}

// MembershipRepository resolves a user's role within a project.
type MembershipRepository interface {
	GetByProjectAndUser(ctx context.Context, projectID, userID string) (*model.ProjectMember, error)
}

// DispatchPublisher publishes job-execution messages to the work queue and
// fan-out events to the workspace topic exchange. PublishJob blocks until the
// broker confirms durable receipt.
type DispatchPublisher interface {
	PublishJob(ctx context.Context, msg model.DispatchMessage) error
	PublishWorkspaceEvent(ctx context.Context, workspaceID, eventType string, data json.RawMessage) error
}
