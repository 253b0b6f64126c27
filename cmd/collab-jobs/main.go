package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/purplemerit/collab-jobs/config"
	"github.com/purplemerit/collab-jobs/internal/bootstrap"
)

func main() {
	ctx := context.Background()
	logger := bootstrap.InitLogger()
	if err := run(ctx, logger); err != nil {
		logger.ErrorContext(ctx, "fatal error", "error", err)
		os.Exit(1) //nolint:forbidigo // Main entrypoint should exit with non-zero status on fatal errors.
	}
}

func run(ctx context.Context, logger *slog.Logger) error {
	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		return err
	}

	logStartupInfo(ctx, logger, &cfg)

	cfgPtr := &cfg
	if err = bootstrap.ValidateServiceConfig(cfgPtr); err != nil {
		return err
	}

	infra, err := initInfrastructure(ctx, cfgPtr, logger)
	if err != nil {
		return err
	}
	defer infra.closeAll(ctx, logger)

	if cfg.Postgres.RunMigrationsOnStart {
		if err = bootstrap.RunMigrations(ctx, infra.deps.DB, logger); err != nil {
			return err
		}
	} else {
		logger.InfoContext(ctx, "skipping database migrations on startup", "reason", "disabled via config")
	}

	services, err := bootstrap.NewServices(infra.deps)
	if err != nil {
		return err
	}

	if err = bootstrap.EnsureIndexes(ctx, services.JobResultRepo, logger); err != nil {
		return err
	}

	return bootstrap.RunServicesWithShutdown(ctx, infra.deps, services)
}

func logStartupInfo(ctx context.Context, logger *slog.Logger, cfg *config.AppConfig) {
	logger.InfoContext(ctx, "starting collab-jobs service",
		"db_host", cfg.Postgres.Host,
		"db_port", cfg.Postgres.Port,
		"db_name", cfg.Postgres.Name,
		"mongo_database", cfg.Mongo.Database,
		"enabled_services", bootstrap.GetEnabledServices(cfg))
}

// infrastructure tracks connected dependencies and their close order.
type infrastructure struct {
	deps   *bootstrap.ServiceDeps
	closes []func(context.Context, *slog.Logger)
}

func (i *infrastructure) closeAll(ctx context.Context, logger *slog.Logger) {
	// Close in reverse connection order.
	for idx := len(i.closes) - 1; idx >= 0; idx-- {
		i.closes[idx](ctx, logger)
	}
}

// initInfrastructure connects shared dependencies used by the service runtime.
// On a partial failure everything already connected is closed before returning.
func initInfrastructure(
	ctx context.Context,
	cfg *config.AppConfig,
	logger *slog.Logger,
) (*infrastructure, error) {
	dbCfg := bootstrap.DatabaseConfig{
		DBConfig:    cfg.Postgres,
		RedisConfig: cfg.Redis,
		MongoConfig: cfg.Mongo,
		Logger:      logger,
	}

	infra := &infrastructure{deps: &bootstrap.ServiceDeps{Config: cfg, Logger: logger}}

	db, err := bootstrap.ConnectDB(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}
	infra.deps.DB = db
	infra.closes = append(infra.closes, func(ctx context.Context, logger *slog.Logger) {
		if cerr := db.Close(); cerr != nil {
			logger.ErrorContext(ctx, "close database failed", "error", cerr)
		}
	})

	redisClient, err := bootstrap.ConnectRedis(dbCfg)
	if err != nil {
		infra.closeAll(ctx, logger)
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	infra.deps.RedisClient = redisClient
	infra.closes = append(infra.closes, func(ctx context.Context, logger *slog.Logger) {
		if cerr := redisClient.Close(); cerr != nil {
			logger.ErrorContext(ctx, "close redis failed", "error", cerr)
		}
	})

	mongoClient, mongoDB, err := bootstrap.ConnectMongo(dbCfg)
	if err != nil {
		infra.closeAll(ctx, logger)
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	infra.deps.MongoDB = mongoDB
	infra.closes = append(infra.closes, func(ctx context.Context, logger *slog.Logger) {
		if cerr := mongoClient.Disconnect(ctx); cerr != nil {
			logger.ErrorContext(ctx, "disconnect mongo failed", "error", cerr)
		}
	})

	broker, err := bootstrap.ConnectBroker(cfg.Broker, logger)
	if err != nil {
		infra.closeAll(ctx, logger)
		return nil, fmt.Errorf("connect broker: %w", err)
	}
	infra.deps.Broker = broker
	infra.closes = append(infra.closes, func(ctx context.Context, logger *slog.Logger) {
		if cerr := broker.Close(); cerr != nil {
			logger.ErrorContext(ctx, "close broker failed", "error", cerr)
		}
	})

	return infra, nil
}
