package data

import "errors"

// Shared sentinel errors for data-layer repositories.
var (
	// Job ledger sentinels.
	ErrJobNotFound             = errors.New("job not found")
	ErrDuplicateIdempotencyKey = errors.New("job with this idempotency key already exists in workspace")
	ErrJobIDRequired           = errors.New("job_id is required")

	// Job result store sentinels.
	ErrJobResultNotFound      = errors.New("job result not found")
	ErrJobResultNotConfigured = errors.New("job result repository not configured")

	// Collaborator lookup sentinels.
	ErrWorkspaceNotFound  = errors.New("workspace not found")
	ErrMembershipNotFound = errors.New("project membership not found")
)
