package testutil

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/purplemerit/collab-jobs/internal/domain/model"
)

// SubmitJobRequestBuilder provides a fluent interface for building
// SubmitJobRequest objects for testing.
type SubmitJobRequestBuilder struct {
	req *model.SubmitJobRequest
}

// NewSubmitJobRequest creates a new SubmitJobRequestBuilder with sensible defaults.
func NewSubmitJobRequest() *SubmitJobRequestBuilder {
	return &SubmitJobRequestBuilder{
		req: &model.SubmitJobRequest{
			WorkspaceID: uuid.NewString(),
			Type:        model.JobTypeCodeExecution,
			Payload:     json.RawMessage(`{"code": "console.log(1)"}`),
			MaxRetries:  model.DefaultMaxRetries,
		},
	}
}

// WithWorkspaceID sets the workspace ID.
func (b *SubmitJobRequestBuilder) WithWorkspaceID(workspaceID string) *SubmitJobRequestBuilder {
	b.req.WorkspaceID = workspaceID
	return b
}

// WithType sets the job type.
func (b *SubmitJobRequestBuilder) WithType(jobType model.JobType) *SubmitJobRequestBuilder {
	b.req.Type = jobType
	return b
}

// WithPayload sets the job payload.
func (b *SubmitJobRequestBuilder) WithPayload(payload json.RawMessage) *SubmitJobRequestBuilder {
	b.req.Payload = payload
	return b
}

// WithPayloadString sets the job payload from a string.
func (b *SubmitJobRequestBuilder) WithPayloadString(payload string) *SubmitJobRequestBuilder {
	b.req.Payload = json.RawMessage(payload)
	return b
}

// WithIdempotencyKey sets the idempotency key.
func (b *SubmitJobRequestBuilder) WithIdempotencyKey(key string) *SubmitJobRequestBuilder {
	b.req.IdempotencyKey = key
	return b
}

// WithMaxRetries sets the maximum number of retries.
func (b *SubmitJobRequestBuilder) WithMaxRetries(maxRetries int) *SubmitJobRequestBuilder {
	b.req.MaxRetries = maxRetries
	return b
}

// Build returns the constructed SubmitJobRequest.
func (b *SubmitJobRequestBuilder) Build() *model.SubmitJobRequest {
	return b.req
}

// SeededWorkspace groups the IDs created by SeedWorkspace.
type SeededWorkspace struct {
	ProjectID   string
	WorkspaceID string
	OwnerID     string
}

// SeedWorkspace inserts a project, a workspace, and an owner membership,
// returning the generated IDs.
func SeedWorkspace(t TestingTB, db *sql.DB) SeededWorkspace {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	seed := SeededWorkspace{
		ProjectID:   uuid.NewString(),
		WorkspaceID: uuid.NewString(),
		OwnerID:     uuid.NewString(),
	}

	if _, err := db.ExecContext(ctx,
		`INSERT INTO projects (id, name, owner_id) VALUES ($1, $2, $3)`,
		seed.ProjectID, "test project", seed.OwnerID); err != nil {
		t.Fatal("Failed to seed project:", err)
	}
	if _, err := db.ExecContext(ctx,
		`INSERT INTO workspaces (id, project_id, name) VALUES ($1, $2, $3)`,
		seed.WorkspaceID, seed.ProjectID, "test workspace"); err != nil {
		t.Fatal("Failed to seed workspace:", err)
	}
	SeedMember(t, db, seed.ProjectID, seed.OwnerID, model.RoleOwner)

	return seed
}

// SeedMember inserts a project membership with the given role.
func SeedMember(t TestingTB, db *sql.DB, projectID, userID string, role model.Role) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := db.ExecContext(ctx,
		`INSERT INTO project_members (id, project_id, user_id, role) VALUES ($1, $2, $3, $4)`,
		uuid.NewString(), projectID, userID, string(role)); err != nil {
		t.Fatal("Failed to seed project member:", err)
	}
}
