package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/purplemerit/collab-jobs/internal/core"
	"github.com/purplemerit/collab-jobs/internal/data"
	"github.com/purplemerit/collab-jobs/internal/domain/job"
	"github.com/purplemerit/collab-jobs/internal/domain/model"
)

// ErrUnknownJobType indicates a dispatch message named a type with no
// registered processor.
var ErrUnknownJobType = errors.New("no processor registered for job type")

// WorkerOptions groups dependencies for WorkerService.
type WorkerOptions struct {
	Jobs       core.JobRepository          // Required: job ledger
	Results    core.JobResultRepository    // Required: result document store
	Publisher  core.DispatchPublisher      // Required: retry republishing
	Retry      *job.RetryPolicy            // Optional: defaults to the standard schedule
	Processors map[model.JobType]Processor // Optional: defaults to DefaultProcessors
	Logger     *slog.Logger                // Optional: structured logger
}

// WorkerService drives a claimed job through its lifecycle: it marks the
// ledger row processing, runs the matching processor, and on failure applies
// the retry policy, republishing retried jobs after their backoff delay.
//
// HandleMessage returns a non-nil error only for infrastructure faults where
// broker redelivery is the right response. Processor failures are absorbed
// into the retry state machine and reported as nil so the delivery is acked.
type WorkerService struct {
	jobs      core.JobRepository
	results   core.JobResultRepository
	publisher core.DispatchPublisher
	retry     *job.RetryPolicy
	procs     map[model.JobType]Processor
	logger    *slog.Logger

	retries sync.WaitGroup
}

// NewWorkerService constructs a WorkerService.
func NewWorkerService(opts WorkerOptions) (*WorkerService, error) {
	switch {
	case opts.Jobs == nil:
		return nil, errors.New("JobRepository is required")
	case opts.Results == nil:
		return nil, errors.New("JobResultRepository is required")
	case opts.Publisher == nil:
		return nil, errors.New("DispatchPublisher is required")
	}

	retry := opts.Retry
	if retry == nil {
		retry = job.MustNewRetryPolicy(job.DefaultRetrySchedule())
	}
	procs := opts.Processors
	if procs == nil {
		procs = DefaultProcessors()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &WorkerService{
		jobs:      opts.Jobs,
		results:   opts.Results,
		publisher: opts.Publisher,
		retry:     retry,
		procs:     procs,
		logger:    logger.With("component", "worker_service"),
	}, nil
}

// HandleMessage processes one dispatch message end to end.
func (s *WorkerService) HandleMessage(ctx context.Context, msg model.DispatchMessage) error {
	current, err := s.jobs.GetByID(ctx, msg.JobID)
	if errors.Is(err, data.ErrJobNotFound) {
		// A message for a row the ledger never had (or no longer has) cannot
		// make progress; dropping it beats a redelivery loop.
		s.logger.WarnContext(ctx, "dropping message for unknown job", "job_id", msg.JobID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load job %s: %w", msg.JobID, err)
	}

	if current.Status.Terminal() {
		s.logger.InfoContext(ctx, "skipping redelivered message for finished job",
			"job_id", current.ID, "status", current.Status)
		return nil
	}

	claimed, err := s.jobs.UpdateStatus(ctx, core.UpdateStatusParams{
		ID:     current.ID,
		Status: model.JobStatusProcessing,
	})
	if err != nil {
		return fmt.Errorf("mark job %s processing: %w", current.ID, err)
	}
	if claimed.Status.Terminal() {
		// The ledger refused the claim: a stale-processing sweep finished the
		// job between the load and the update.
		s.logger.InfoContext(ctx, "job finished before the claim",
			"job_id", claimed.ID, "status", claimed.Status)
		return nil
	}

	s.appendLog(ctx, claimed.ID, fmt.Sprintf("attempt %d started", claimed.Retries+1))

	output, logs, procErr := s.process(ctx, msg)
	if procErr != nil {
		s.handleFailure(ctx, claimed, msg, procErr)
		return nil
	}
	return s.handleSuccess(ctx, claimed, output, logs)
}

// process dispatches to the processor for the message's type, converting
// panics into ordinary attempt failures so one bad payload cannot take the
// worker down.
func (s *WorkerService) process(
	ctx context.Context,
	msg model.DispatchMessage,
) (output []byte, logs []string, err error) {
	proc, ok := s.procs[msg.Type]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownJobType, msg.Type)
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("processor panic: %v", r)
		}
	}()
	return proc.Process(ctx, msg)
}

func (s *WorkerService) handleSuccess(
	ctx context.Context,
	claimed *model.Job,
	output []byte,
	logs []string,
) error {
	for _, line := range logs {
		s.appendLog(ctx, claimed.ID, line)
	}

	if err := s.results.Update(ctx, core.UpdateJobResultParams{
		JobID:        claimed.ID,
		OutputResult: output,
		Log:          "job completed",
	}); err != nil {
		// The output is lost if we ack now; let the broker redeliver.
		return fmt.Errorf("store output for job %s: %w", claimed.ID, err)
	}

	if _, err := s.jobs.UpdateStatus(ctx, core.UpdateStatusParams{
		ID:     claimed.ID,
		Status: model.JobStatusCompleted,
	}); err != nil {
		return fmt.Errorf("mark job %s completed: %w", claimed.ID, err)
	}

	s.logger.InfoContext(ctx, "job completed",
		"job_id", claimed.ID, "type", claimed.Type, "attempt", claimed.Retries+1)
	return nil
}

// handleFailure applies the retry policy after a processor error. Every ledger
// or result-store write here is best-effort: the attempt already failed, and a
// secondary failure must not crash the worker or trigger a redelivery storm.
func (s *WorkerService) handleFailure(
	ctx context.Context,
	claimed *model.Job,
	msg model.DispatchMessage,
	procErr error,
) {
	s.appendError(ctx, claimed.ID, procErr.Error())

	updated, err := s.jobs.IncrementRetries(ctx, claimed.ID)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to increment retries",
			"job_id", claimed.ID, "error", err)
		return
	}

	errMsg := procErr.Error()
	decision := s.retry.Evaluate(updated.Retries, updated.MaxRetries)
	if !decision.Retry {
		if _, err := s.jobs.UpdateStatus(ctx, core.UpdateStatusParams{
			ID:           updated.ID,
			Status:       model.JobStatusFailed,
			ErrorMessage: &errMsg,
		}); err != nil {
			s.logger.ErrorContext(ctx, "failed to mark job failed",
				"job_id", updated.ID, "error", err)
		}
		s.appendError(ctx, updated.ID, fmt.Sprintf("max retries exceeded: %s", errMsg))
		s.logger.WarnContext(ctx, "job exhausted its retries",
			"job_id", updated.ID,
			"type", updated.Type,
			"retries", updated.Retries,
			"error", errMsg,
		)
		return
	}

	if _, err := s.jobs.UpdateStatus(ctx, core.UpdateStatusParams{
		ID:           updated.ID,
		Status:       model.JobStatusPending,
		ErrorMessage: &errMsg,
	}); err != nil {
		s.logger.ErrorContext(ctx, "failed to return job to pending",
			"job_id", updated.ID, "error", err)
		return
	}

	s.logger.InfoContext(ctx, "job scheduled for retry",
		"job_id", updated.ID,
		"attempt", decision.Attempt,
		"delay", decision.Delay,
		"error", errMsg,
	)
	s.scheduleRetry(ctx, updated, msg, decision)
}

// scheduleRetry republishes the message after the backoff delay. The wait runs
// off the consumer goroutine so the delivery can be acked immediately and the
// queue keeps moving; a missed republish during shutdown is recovered by the
// reconciler sweep.
func (s *WorkerService) scheduleRetry(
	ctx context.Context,
	updated *model.Job,
	msg model.DispatchMessage,
	decision job.RetryDecision,
) {
	retryMsg := msg
	retryMsg.Attempt = decision.Attempt
	retryMsg.Timestamp = time.Now().UTC()

	s.retries.Add(1)
	go func() {
		defer s.retries.Done()

		timer := time.NewTimer(decision.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			s.logger.WarnContext(ctx, "retry republish abandoned by shutdown",
				"job_id", updated.ID, "attempt", decision.Attempt)
			return
		case <-timer.C:
		}

		if err := s.publisher.PublishJob(ctx, retryMsg); err != nil {
			s.logger.ErrorContext(ctx, "retry republish failed",
				"job_id", updated.ID, "attempt", decision.Attempt, "error", err)
		}
	}()
}

// DrainRetries blocks until all in-flight retry timers have fired or been
// cancelled. Call during shutdown after the consume context is cancelled.
func (s *WorkerService) DrainRetries() {
	s.retries.Wait()
}

func (s *WorkerService) appendLog(ctx context.Context, jobID, line string) {
	if err := s.results.AppendLog(ctx, jobID, line); err != nil {
		s.logger.WarnContext(ctx, "failed to append job log",
			"job_id", jobID, "error", err)
	}
}

func (s *WorkerService) appendError(ctx context.Context, jobID, message string) {
	if err := s.results.AppendError(ctx, jobID, message); err != nil {
		s.logger.WarnContext(ctx, "failed to append job error",
			"job_id", jobID, "error", err)
	}
}
