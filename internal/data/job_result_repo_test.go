package data_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/purplemerit/collab-jobs/internal/core"
	"github.com/purplemerit/collab-jobs/internal/data"
	"github.com/purplemerit/collab-jobs/internal/testutil"
)

func setupResultRepo(t *testing.T) *data.JobResultRepo {
	t.Helper()

	mongoDB := testutil.SetupTestMongo(t)
	repo := data.NewJobResultRepo(mongoDB, data.RepoConfig{})
	require.NoError(t, repo.EnsureIndexes(context.Background()))
	return repo
}

func TestJobResultRepoCreateAndFind(t *testing.T) {
	repo := setupResultRepo(t)
	jobID := uuid.NewString()

	err := repo.Create(context.Background(), core.CreateJobResultParams{
		JobID:        jobID,
		InputPayload: json.RawMessage(`{"code":"print(1)"}`),
	})
	require.NoError(t, err)

	doc, err := repo.FindByJobID(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, jobID, doc.JobID)
	assert.JSONEq(t, `{"code":"print(1)"}`, string(doc.InputPayload))
	assert.Empty(t, doc.Logs)
	assert.Empty(t, doc.Errors)
	assert.Nil(t, doc.OutputResult)

	_, err = repo.FindByJobID(context.Background(), uuid.NewString())
	assert.ErrorIs(t, err, data.ErrJobResultNotFound)
}

func TestJobResultRepoUpdateAndAppend(t *testing.T) {
	repo := setupResultRepo(t)
	jobID := uuid.NewString()

	require.NoError(t, repo.Create(context.Background(), core.CreateJobResultParams{
		JobID:        jobID,
		InputPayload: json.RawMessage(`{}`),
	}))

	require.NoError(t, repo.AppendLog(context.Background(), jobID, "attempt 1 started"))
	require.NoError(t, repo.AppendError(context.Background(), jobID, "sandbox timeout"))
	require.NoError(t, repo.AppendError(context.Background(), jobID, "sandbox timeout"))

	require.NoError(t, repo.Update(context.Background(), core.UpdateJobResultParams{
		JobID:        jobID,
		OutputResult: json.RawMessage(`{"exit_code":0}`),
		Log:          "job completed",
	}))

	doc, err := repo.FindByJobID(context.Background(), jobID)
	require.NoError(t, err)
	assert.JSONEq(t, `{"exit_code":0}`, string(doc.OutputResult))
	assert.Equal(t, []string{"attempt 1 started", "job completed"}, doc.Logs)
	assert.Equal(t, []string{"sandbox timeout", "sandbox timeout"}, doc.Errors)
	assert.False(t, doc.UpdatedAt.Before(doc.CreatedAt))
}

func TestJobResultRepoUpdateMissingDoc(t *testing.T) {
	repo := setupResultRepo(t)

	err := repo.Update(context.Background(), core.UpdateJobResultParams{
		JobID:        uuid.NewString(),
		OutputResult: json.RawMessage(`{}`),
	})
	assert.ErrorIs(t, err, data.ErrJobResultNotFound)

	err = repo.AppendLog(context.Background(), uuid.NewString(), "orphan line")
	assert.ErrorIs(t, err, data.ErrJobResultNotFound)
}
