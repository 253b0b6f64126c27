package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	goredis "github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/sync/errgroup"

	"github.com/purplemerit/collab-jobs/config"
	"github.com/purplemerit/collab-jobs/internal/adapters/rabbitmq"
	redisadapter "github.com/purplemerit/collab-jobs/internal/adapters/redis"
	"github.com/purplemerit/collab-jobs/internal/data"
	"github.com/purplemerit/collab-jobs/internal/domain/job"
	"github.com/purplemerit/collab-jobs/internal/service"
)

// ServiceDeps groups dependencies for service initialization.
type ServiceDeps struct {
	Config      *config.AppConfig
	DB          *sql.DB
	RedisClient goredis.UniversalClient
	MongoDB     *mongo.Database
	Broker      *rabbitmq.Broker
	Logger      *slog.Logger
}

// ServiceContainer holds all application services.
type ServiceContainer struct {
	Jobs       *service.JobService
	Worker     *service.WorkerService
	Reconciler *service.ReconcilerService

	JobRepo       *data.JobRepo
	JobResultRepo *data.JobResultRepo
}

// NewServices wires repositories, adapters, and services from connected
// infrastructure.
func NewServices(deps *ServiceDeps) (ServiceContainer, error) {
	if deps == nil || deps.Config == nil {
		return ServiceContainer{}, errors.New("service dependencies are required")
	}

	repoCfg := data.RepoConfig{Logger: deps.Logger}
	jobRepo := data.NewJobRepo(deps.DB, repoCfg)
	resultRepo := data.NewJobResultRepo(deps.MongoDB, repoCfg)
	workspaceRepo := data.NewWorkspaceRepo(deps.DB)
	membershipRepo := data.NewMembershipRepo(deps.DB)

	idempotency := redisadapter.NewIdempotencyStoreWithTTL(
		deps.RedisClient, deps.Config.Redis.IdempotencyTTL)

	publisher, err := rabbitmq.NewPublisher(deps.Broker, deps.Logger)
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("create publisher: %w", err)
	}

	retryPolicy, err := job.NewRetryPolicy(deps.Config.Worker.RetrySchedule())
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("create retry policy: %w", err)
	}

	jobs, err := service.NewJobService(service.JobServiceOptions{
		Jobs:        jobRepo,
		Results:     resultRepo,
		Workspaces:  workspaceRepo,
		Memberships: membershipRepo,
		Idempotency: idempotency,
		Publisher:   publisher,
		Logger:      deps.Logger,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("create job service: %w", err)
	}

	worker, err := service.NewWorkerService(service.WorkerOptions{
		Jobs:      jobRepo,
		Results:   resultRepo,
		Publisher: publisher,
		Retry:     retryPolicy,
		Logger:    deps.Logger,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("create worker service: %w", err)
	}

	reconciler, err := service.NewReconcilerService(service.ReconcilerOptions{
		Jobs:                       jobRepo,
		Results:                    resultRepo,
		Publisher:                  publisher,
		Interval:                   deps.Config.Reconciler.Interval,
		PendingThresholdSeconds:    deps.Config.Reconciler.PendingThresholdSeconds,
		ProcessingThresholdSeconds: deps.Config.Reconciler.ProcessingThresholdSeconds,
		Batch:                      deps.Config.Reconciler.Batch,
		Logger:                     deps.Logger,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("create reconciler service: %w", err)
	}

	return ServiceContainer{
		Jobs:          jobs,
		Worker:        worker,
		Reconciler:    reconciler,
		JobRepo:       jobRepo,
		JobResultRepo: resultRepo,
	}, nil
}

// RunServicesWithShutdown starts the enabled services and blocks until a
// shutdown signal arrives, a service fails, or the broker connection drops.
func RunServicesWithShutdown(ctx context.Context, deps *ServiceDeps, container ServiceContainer) error {
	if err := ValidateServiceConfig(deps.Config); err != nil {
		return err
	}

	enabled, err := deps.Config.GetEnabledServices()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, ctx := errgroup.WithContext(ctx)

	if enabled[config.ServiceModeWorker] {
		consumer, consumerErr := rabbitmq.NewConsumer(deps.Broker, deps.Logger)
		if consumerErr != nil {
			return fmt.Errorf("create consumer: %w", consumerErr)
		}
		group.Go(func() error {
			deps.Logger.InfoContext(ctx, "worker started")
			defer container.Worker.DrainRetries()
			if consumeErr := consumer.ConsumeJobs(ctx, container.Worker.HandleMessage); consumeErr != nil &&
				!errors.Is(consumeErr, context.Canceled) {
				return fmt.Errorf("worker: %w", consumeErr)
			}
			return nil
		})
	}

	if enabled[config.ServiceModeReconciler] {
		group.Go(func() error {
			if runErr := container.Reconciler.Run(ctx); runErr != nil &&
				!errors.Is(runErr, context.Canceled) {
				return fmt.Errorf("reconciler: %w", runErr)
			}
			return nil
		})
	}

	// A dropped broker connection is fatal; the orchestrator restarts the
	// process rather than this code attempting reconnection.
	group.Go(func() error {
		select {
		case <-ctx.Done():
			return nil
		case amqpErr := <-deps.Broker.NotifyClose():
			if amqpErr != nil {
				return fmt.Errorf("broker connection lost: %w", amqpErr)
			}
			return nil
		}
	})

	deps.Logger.InfoContext(ctx, "services running", "enabled", GetEnabledServices(deps.Config))
	return group.Wait()
}
