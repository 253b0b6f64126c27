package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/purplemerit/collab-jobs/internal/core"
	"github.com/purplemerit/collab-jobs/internal/data"
	"github.com/purplemerit/collab-jobs/internal/domain/model"
)

const (
	// DefaultReconcileInterval is how often the sweep runs.
	DefaultReconcileInterval = time.Minute
	// DefaultPendingThresholdSeconds is how long a pending job may sit
	// untouched before it is considered lost and republished.
	DefaultPendingThresholdSeconds = 300
	// DefaultProcessingThresholdSeconds is how long a processing job may sit
	// untouched before it is declared stalled and failed.
	DefaultProcessingThresholdSeconds = 600
	// DefaultReconcileBatch bounds how many stuck jobs one sweep republishes.
	DefaultReconcileBatch = 100
)

// ReconcilerOptions groups dependencies and tuning for ReconcilerService.
type ReconcilerOptions struct {
	Jobs      core.JobRepository       // Required: job ledger
	Results   core.JobResultRepository // Required: payload source for republish
	Publisher core.DispatchPublisher   // Required: broker publisher

	Interval                   time.Duration
	PendingThresholdSeconds    int
	ProcessingThresholdSeconds int
	Batch                      int
	Logger                     *slog.Logger
}

// ReconcilerService is the safety net under the dispatch channel: it
// republishes pending jobs whose messages were lost (broker wipe, publish
// crash, abandoned retry timer) and fails processing jobs whose worker died.
// Multiple instances coordinate through the ledger's advisory lock, so the
// sweep is safe to run on every node.
type ReconcilerService struct {
	jobs      core.JobRepository
	results   core.JobResultRepository
	publisher core.DispatchPublisher

	interval            time.Duration
	pendingThreshold    int
	processingThreshold int
	batch               int
	logger              *slog.Logger
}

// NewReconcilerService constructs a ReconcilerService.
func NewReconcilerService(opts ReconcilerOptions) (*ReconcilerService, error) {
	switch {
	case opts.Jobs == nil:
		return nil, errors.New("JobRepository is required")
	case opts.Results == nil:
		return nil, errors.New("JobResultRepository is required")
	case opts.Publisher == nil:
		return nil, errors.New("DispatchPublisher is required")
	}

	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultReconcileInterval
	}
	pendingThreshold := opts.PendingThresholdSeconds
	if pendingThreshold <= 0 {
		pendingThreshold = DefaultPendingThresholdSeconds
	}
	processingThreshold := opts.ProcessingThresholdSeconds
	if processingThreshold <= 0 {
		processingThreshold = DefaultProcessingThresholdSeconds
	}
	batch := opts.Batch
	if batch <= 0 {
		batch = DefaultReconcileBatch
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &ReconcilerService{
		jobs:                opts.Jobs,
		results:             opts.Results,
		publisher:           opts.Publisher,
		interval:            interval,
		pendingThreshold:    pendingThreshold,
		processingThreshold: processingThreshold,
		batch:               batch,
		logger:              logger.With("component", "reconciler_service"),
	}, nil
}

// Run sweeps on a fixed interval until the context is cancelled.
func (s *ReconcilerService) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "reconciler started",
		"interval", s.interval,
		"pending_threshold_seconds", s.pendingThreshold,
		"processing_threshold_seconds", s.processingThreshold,
	)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "reconciler stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				s.logger.ErrorContext(ctx, "reconcile sweep failed", "error", err)
			}
		}
	}
}

// Sweep runs one reconciliation pass.
func (s *ReconcilerService) Sweep(ctx context.Context) error {
	if err := s.republishStuckPending(ctx); err != nil {
		return fmt.Errorf("republish stuck pending: %w", err)
	}

	failed, err := s.jobs.FailStaleProcessing(ctx, s.processingThreshold)
	if err != nil {
		return fmt.Errorf("fail stale processing: %w", err)
	}
	if failed > 0 {
		s.logger.WarnContext(ctx, "failed stalled processing jobs", "count", failed)
	}
	return nil
}

func (s *ReconcilerService) republishStuckPending(ctx context.Context) error {
	stuck, err := s.jobs.FindStuckPending(ctx, s.pendingThreshold, s.batch)
	if err != nil {
		return err
	}

	for _, stale := range stuck {
		if err := s.republish(ctx, stale); err != nil {
			s.logger.ErrorContext(ctx, "failed to republish stuck job",
				"job_id", stale.ID, "error", err)
		}
	}
	return nil
}

// republish rebuilds the dispatch message from the stored input payload. A
// pending job with no result document cannot be replayed; it is failed as an
// orphaned submission instead of looping through every sweep.
func (s *ReconcilerService) republish(ctx context.Context, stale *model.Job) error {
	doc, err := s.results.FindByJobID(ctx, stale.ID)
	if errors.Is(err, data.ErrJobResultNotFound) {
		errMsg := "orphaned submission: result document missing"
		if _, failErr := s.jobs.UpdateStatus(ctx, core.UpdateStatusParams{
			ID:           stale.ID,
			Status:       model.JobStatusFailed,
			ErrorMessage: &errMsg,
		}); failErr != nil {
			return fmt.Errorf("fail orphaned job: %w", failErr)
		}
		s.logger.WarnContext(ctx, "failed orphaned pending job", "job_id", stale.ID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load result document: %w", err)
	}

	if err := s.publisher.PublishJob(ctx, model.DispatchMessage{
		JobID:       stale.ID,
		WorkspaceID: stale.WorkspaceID,
		Type:        stale.Type,
		Payload:     doc.InputPayload,
		Attempt:     stale.Retries,
		Timestamp:   time.Now().UTC(),
	}); err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "republished stuck pending job",
		"job_id", stale.ID, "retries", stale.Retries)
	return nil
}
