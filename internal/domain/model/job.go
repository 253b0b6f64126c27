// Package model defines the core data types shared across the job pipeline.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// JobType represents the kind of work a job carries.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type JobType string

// JobStatus represents the current lifecycle state of a job.
type JobStatus string

const (
	// JobTypeCodeExecution runs a submitted code snippet.
	JobTypeCodeExecution JobType = "code_execution"
	// JobTypeFileProcessing transforms an uploaded file.
	JobTypeFileProcessing JobType = "file_processing"
	// JobTypeExportProject packages a project for download.
	JobTypeExportProject JobType = "export_project"

	// JobStatusPending indicates a job is waiting to be picked up.
	JobStatusPending JobStatus = "pending"
	// JobStatusProcessing indicates a worker currently holds the job.
	JobStatusProcessing JobStatus = "processing"
	// JobStatusCompleted indicates the job finished successfully.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates the job exhausted its retries.
	JobStatusFailed JobStatus = "failed"
)

// DefaultMaxRetries is applied when a submission does not override the retry budget.
const DefaultMaxRetries = 3

// MaxIdempotencyKeyLength bounds client-supplied idempotency keys.
const MaxIdempotencyKeyLength = 255

// UnmarshalText implements encoding.TextUnmarshaler for JobType to allow env parsing.
func (t *JobType) UnmarshalText(text []byte) error {
	v := strings.ToLower(strings.TrimSpace(string(text)))
	jt := JobType(v)
	if jt.Valid() {
		*t = jt
		return nil
	}
	return fmt.Errorf("invalid JobType: %q", v)
}

// Valid returns true if the JobType is one of the supported values.
func (t JobType) Valid() bool {
	return t == JobTypeCodeExecution || t == JobTypeFileProcessing || t == JobTypeExportProject
}

// Valid returns true if the JobStatus is valid.
func (s JobStatus) Valid() bool {
	return s == JobStatusPending || s == JobStatusProcessing || s == JobStatusCompleted ||
		s == JobStatusFailed
}

// Terminal returns true once a job can no longer transition.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Job is the authoritative ledger record for a unit of submitted work.
// Control-plane fields only; payloads and logs live in the result store.
type Job struct {
	ID             string     `json:"id"                        db:"id"`
	WorkspaceID    string     `json:"workspace_id"              db:"workspace_id"`
	Type           JobType    `json:"type"                      db:"type"`
	Status         JobStatus  `json:"status"                    db:"status"`
	Retries        int        `json:"retries"                   db:"retries"`
	MaxRetries     int        `json:"max_retries"               db:"max_retries"`
	IdempotencyKey *string    `json:"idempotency_key,omitempty" db:"idempotency_key"`
	CreatedAt      time.Time  `json:"created_at"                db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"                db:"updated_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"    db:"completed_at"`
	ErrorMessage   *string    `json:"error_message,omitempty"   db:"error_message"`
}

// SubmitJobRequest is a request to enqueue a new job in a workspace.
type SubmitJobRequest struct {
	WorkspaceID    string          `json:"workspace_id"`
	Type           JobType         `json:"type"`
	Payload        json.RawMessage `json:"payload"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	MaxRetries     int             `json:"max_retries,omitempty"`
}

// Validate validates the SubmitJobRequest fields.
func (r *SubmitJobRequest) Validate() error {
	if strings.TrimSpace(r.WorkspaceID) == "" {
		return errors.New("workspace_id is required")
	}
	if !r.Type.Valid() {
		return fmt.Errorf("invalid job type: %q", r.Type)
	}
	if len(r.Payload) == 0 {
		return errors.New("payload is required")
	}
	if !json.Valid(r.Payload) {
		return errors.New("payload must be valid JSON")
	}
	if len(r.IdempotencyKey) > MaxIdempotencyKeyLength {
		return fmt.Errorf("idempotency key exceeds %d characters", MaxIdempotencyKeyLength)
	}
	if r.MaxRetries < 0 {
		return errors.New("max retries must be >= 0")
	}
	return nil
}

// DispatchMessage is the unit of work carried by the broker from submission to worker.
// It is ephemeral; the ledger row is the source of truth for job state.
type DispatchMessage struct {
	JobID       string          `json:"job_id"`
	WorkspaceID string          `json:"workspace_id"`
	Type        JobType         `json:"type"`
	Payload     json.RawMessage `json:"payload"`
	Attempt     int             `json:"attempt"`
	Timestamp   time.Time       `json:"timestamp"`
}

// Validate checks the fields a worker needs before it can act on a message.
func (m *DispatchMessage) Validate() error {
	if strings.TrimSpace(m.JobID) == "" {
		return errors.New("job_id is required")
	}
	if !m.Type.Valid() {
		return fmt.Errorf("invalid job type: %q", m.Type)
	}
	return nil
}

// JobStats counts jobs per status.
type JobStats struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}
