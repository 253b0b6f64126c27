package model

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobType_Valid(t *testing.T) {
	assert.True(t, JobTypeCodeExecution.Valid())
	assert.True(t, JobTypeFileProcessing.Valid())
	assert.True(t, JobTypeExportProject.Valid())
	assert.False(t, JobType("browser").Valid())
	assert.False(t, JobType("").Valid())
}

func TestJobType_UnmarshalText(t *testing.T) {
	var jt JobType
	require.NoError(t, jt.UnmarshalText([]byte(" Code_Execution ")))
	assert.Equal(t, JobTypeCodeExecution, jt)

	err := jt.UnmarshalText([]byte("bogus"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid JobType")
}

func TestJobStatus_Terminal(t *testing.T) {
	assert.True(t, JobStatusCompleted.Terminal())
	assert.True(t, JobStatusFailed.Terminal())
	assert.False(t, JobStatusPending.Terminal())
	assert.False(t, JobStatusProcessing.Terminal())
}

func TestSubmitJobRequest_Validate(t *testing.T) {
	valid := func() SubmitJobRequest {
		return SubmitJobRequest{
			WorkspaceID: "ws-1",
			Type:        JobTypeCodeExecution,
			Payload:     json.RawMessage(`{"code":"x"}`),
		}
	}

	t.Run("valid request", func(t *testing.T) {
		req := valid()
		require.NoError(t, req.Validate())
	})

	t.Run("valid with idempotency key", func(t *testing.T) {
		req := valid()
		req.IdempotencyKey = "abc"
		require.NoError(t, req.Validate())
	})

	tests := []struct {
		name    string
		mutate  func(*SubmitJobRequest)
		wantErr string
	}{
		{
			name:    "missing workspace",
			mutate:  func(r *SubmitJobRequest) { r.WorkspaceID = " " },
			wantErr: "workspace_id is required",
		},
		{
			name:    "invalid type",
			mutate:  func(r *SubmitJobRequest) { r.Type = "video_render" },
			wantErr: "invalid job type",
		},
		{
			name:    "missing payload",
			mutate:  func(r *SubmitJobRequest) { r.Payload = nil },
			wantErr: "payload is required",
		},
		{
			name:    "malformed payload",
			mutate:  func(r *SubmitJobRequest) { r.Payload = json.RawMessage(`{"code":`) },
			wantErr: "payload must be valid JSON",
		},
		{
			name: "oversized idempotency key",
			mutate: func(r *SubmitJobRequest) {
				r.IdempotencyKey = strings.Repeat("k", MaxIdempotencyKeyLength+1)
			},
			wantErr: "idempotency key exceeds",
		},
		{
			name:    "negative max retries",
			mutate:  func(r *SubmitJobRequest) { r.MaxRetries = -1 },
			wantErr: "max retries must be >= 0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid()
			tt.mutate(&req)
			err := req.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDispatchMessage_Validate(t *testing.T) {
	msg := DispatchMessage{
		JobID:       "job-1",
		WorkspaceID: "ws-1",
		Type:        JobTypeExportProject,
		Payload:     json.RawMessage(`{}`),
	}
	require.NoError(t, msg.Validate())

	msg.JobID = ""
	require.Error(t, msg.Validate())

	msg.JobID = "job-1"
	msg.Type = "unknown"
	require.Error(t, msg.Validate())
}
