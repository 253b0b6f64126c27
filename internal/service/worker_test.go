package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/purplemerit/collab-jobs/internal/core"
	"github.com/purplemerit/collab-jobs/internal/domain/job"
	"github.com/purplemerit/collab-jobs/internal/domain/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// countingProcessor wraps a fixed outcome and counts invocations.
type countingProcessor struct {
	calls  int
	output json.RawMessage
	logs   []string
	err    error
	panics bool
}

func (p *countingProcessor) Process(_ context.Context, _ model.DispatchMessage) (json.RawMessage, []string, error) {
	p.calls++
	if p.panics {
		panic("processor exploded")
	}
	return p.output, p.logs, p.err
}

type workerFixture struct {
	worker    *WorkerService
	jobs      *stubJobRepo
	results   *stubResultRepo
	publisher *stubPublisher
	proc      *countingProcessor
}

// newWorkerFixture wires a worker with a millisecond retry schedule so retry
// timers fire within the test.
func newWorkerFixture(t *testing.T, proc *countingProcessor) *workerFixture {
	t.Helper()

	jobs := newStubJobRepo()
	results := newStubResultRepo()
	publisher := &stubPublisher{}

	worker, err := NewWorkerService(WorkerOptions{
		Jobs:      jobs,
		Results:   results,
		Publisher: publisher,
		Retry:     job.MustNewRetryPolicy([]time.Duration{time.Millisecond, time.Millisecond, time.Millisecond}),
		Processors: map[model.JobType]Processor{
			model.JobTypeCodeExecution: proc,
		},
		Logger: testLogger(),
	})
	require.NoError(t, err)

	return &workerFixture{
		worker:    worker,
		jobs:      jobs,
		results:   results,
		publisher: publisher,
		proc:      proc,
	}
}

// seedJob creates a pending ledger row with its result document and returns
// the matching dispatch message.
func (f *workerFixture) seedJob(t *testing.T) (*model.Job, model.DispatchMessage) {
	t.Helper()

	created, err := f.jobs.Create(context.Background(), core.CreateJobParams{
		WorkspaceID: uuid.NewString(),
		Type:        model.JobTypeCodeExecution,
		MaxRetries:  model.DefaultMaxRetries,
	})
	require.NoError(t, err)
	require.NoError(t, f.results.Create(context.Background(), core.CreateJobResultParams{
		JobID:        created.ID,
		InputPayload: json.RawMessage(`{"code":"print(1)"}`),
	}))

	return created, model.DispatchMessage{
		JobID:       created.ID,
		WorkspaceID: created.WorkspaceID,
		Type:        created.Type,
		Payload:     json.RawMessage(`{"code":"print(1)"}`),
		Timestamp:   time.Now().UTC(),
	}
}

func TestWorkerServiceHandleMessageSuccess(t *testing.T) {
	proc := &countingProcessor{
		output: json.RawMessage(`{"exit_code":0}`),
		logs:   []string{"ran fine"},
	}
	f := newWorkerFixture(t, proc)
	created, msg := f.seedJob(t)

	require.NoError(t, f.worker.HandleMessage(context.Background(), msg))

	got, err := f.jobs.GetByID(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, got.Status)
	assert.Equal(t, 0, got.Retries)

	doc, err := f.results.FindByJobID(context.Background(), created.ID)
	require.NoError(t, err)
	assert.JSONEq(t, `{"exit_code":0}`, string(doc.OutputResult))
	assert.Contains(t, doc.Logs, "attempt 1 started")
	assert.Contains(t, doc.Logs, "ran fine")
	assert.Contains(t, doc.Logs, "job completed")
	assert.Empty(t, doc.Errors)
}

func TestWorkerServiceHandleMessageRetry(t *testing.T) {
	proc := &countingProcessor{err: errors.New("sandbox timeout")}
	f := newWorkerFixture(t, proc)
	created, msg := f.seedJob(t)

	require.NoError(t, f.worker.HandleMessage(context.Background(), msg),
		"attempt failures must not surface as handler errors")
	f.worker.DrainRetries()

	got, err := f.jobs.GetByID(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusPending, got.Status)
	assert.Equal(t, 1, got.Retries)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, "sandbox timeout", *got.ErrorMessage)

	doc, err := f.results.FindByJobID(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"sandbox timeout"}, doc.Errors)

	require.Len(t, f.publisher.publishedJobs(), 1, "retried job must be republished")
	assert.Equal(t, created.ID, f.publisher.publishedJobs()[0].JobID)
	assert.Equal(t, 1, f.publisher.publishedJobs()[0].Attempt)
}

func TestWorkerServiceHandleMessageConcurrentRetryRepublishes(t *testing.T) {
	proc := &countingProcessor{err: errors.New("sandbox timeout")}
	f := newWorkerFixture(t, proc)

	// Overlapping retry timers publish from separate goroutines.
	const jobCount = 8
	ids := make(map[string]bool, jobCount)
	for i := 0; i < jobCount; i++ {
		created, msg := f.seedJob(t)
		ids[created.ID] = true
		require.NoError(t, f.worker.HandleMessage(context.Background(), msg))
	}
	f.worker.DrainRetries()

	published := f.publisher.publishedJobs()
	require.Len(t, published, jobCount)
	for _, msg := range published {
		assert.True(t, ids[msg.JobID])
		assert.Equal(t, 1, msg.Attempt)
	}
}

func TestWorkerServiceHandleMessageExhaustsRetries(t *testing.T) {
	proc := &countingProcessor{err: errors.New("sandbox timeout")}
	f := newWorkerFixture(t, proc)
	created, msg := f.seedJob(t)

	for i := 0; i < model.DefaultMaxRetries; i++ {
		require.NoError(t, f.worker.HandleMessage(context.Background(), msg))
	}
	f.worker.DrainRetries()

	got, err := f.jobs.GetByID(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, got.Status)
	assert.Equal(t, model.DefaultMaxRetries, got.Retries)
	assert.Equal(t, model.DefaultMaxRetries, proc.calls)

	doc, err := f.results.FindByJobID(context.Background(), created.ID)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(doc.Errors), model.DefaultMaxRetries+1)
	assert.Equal(t, "max retries exceeded: sandbox timeout", doc.Errors[len(doc.Errors)-1])

	// The final attempt must not be republished.
	assert.Len(t, f.publisher.publishedJobs(), model.DefaultMaxRetries-1)
}

func TestWorkerServiceHandleMessageSkipsFinishedJob(t *testing.T) {
	proc := &countingProcessor{output: json.RawMessage(`{}`)}
	f := newWorkerFixture(t, proc)
	created, msg := f.seedJob(t)

	_, err := f.jobs.UpdateStatus(context.Background(), core.UpdateStatusParams{
		ID:     created.ID,
		Status: model.JobStatusCompleted,
	})
	require.NoError(t, err)

	require.NoError(t, f.worker.HandleMessage(context.Background(), msg))
	assert.Zero(t, proc.calls)

	got, err := f.jobs.GetByID(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, got.Status)
}

func TestWorkerServiceHandleMessageLosesClaimToSweep(t *testing.T) {
	proc := &countingProcessor{output: json.RawMessage(`{"exit_code":0}`)}
	f := newWorkerFixture(t, proc)
	created, msg := f.seedJob(t)

	// A stale-processing sweep fails the job between the load and the claim;
	// the ledger's terminal guard hands back the failed row.
	f.jobs.updateHook = func(job *model.Job) {
		if job.ID == created.ID && job.Status == model.JobStatusPending {
			job.Status = model.JobStatusFailed
		}
	}

	require.NoError(t, f.worker.HandleMessage(context.Background(), msg))
	assert.Zero(t, proc.calls, "a lost claim must not run the processor")

	got, err := f.jobs.GetByID(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, got.Status)

	doc, err := f.results.FindByJobID(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Nil(t, doc.OutputResult)
	assert.NotContains(t, doc.Logs, "job completed")
}

func TestWorkerServiceHandleMessageUnknownJob(t *testing.T) {
	proc := &countingProcessor{}
	f := newWorkerFixture(t, proc)

	err := f.worker.HandleMessage(context.Background(), model.DispatchMessage{
		JobID: uuid.NewString(),
		Type:  model.JobTypeCodeExecution,
	})
	require.NoError(t, err, "messages for unknown jobs are dropped, not redelivered")
	assert.Zero(t, proc.calls)
}

func TestWorkerServiceHandleMessagePanicIsAFailedAttempt(t *testing.T) {
	proc := &countingProcessor{panics: true}
	f := newWorkerFixture(t, proc)
	created, msg := f.seedJob(t)

	require.NoError(t, f.worker.HandleMessage(context.Background(), msg))
	f.worker.DrainRetries()

	got, err := f.jobs.GetByID(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusPending, got.Status)
	assert.Equal(t, 1, got.Retries)

	doc, err := f.results.FindByJobID(context.Background(), created.ID)
	require.NoError(t, err)
	require.Len(t, doc.Errors, 1)
	assert.Contains(t, doc.Errors[0], "processor panic")
}

func TestWorkerServiceHandleMessageUnregisteredType(t *testing.T) {
	proc := &countingProcessor{}
	f := newWorkerFixture(t, proc)
	created, msg := f.seedJob(t)
	msg.Type = model.JobTypeExportProject

	require.NoError(t, f.worker.HandleMessage(context.Background(), msg))
	f.worker.DrainRetries()

	got, err := f.jobs.GetByID(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Retries)
	require.NotNil(t, got.ErrorMessage)
	assert.Contains(t, *got.ErrorMessage, "no processor registered")
}
