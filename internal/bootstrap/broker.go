package bootstrap

import (
	"fmt"
	"log/slog"

	"github.com/purplemerit/collab-jobs/config"
	"github.com/purplemerit/collab-jobs/internal/adapters/rabbitmq"
)

// ConnectBroker establishes the RabbitMQ connection and declares the job
// pipeline topology.
func ConnectBroker(cfg config.BrokerConfig, logger *slog.Logger) (*rabbitmq.Broker, error) {
	broker, err := rabbitmq.Connect(rabbitmq.Config{
		URL:    cfg.URL,
		Logger: logger,
	})
	if err != nil {
		return nil, fmt.Errorf("connect broker: %w", err)
	}

	if logger != nil {
		logger.Info("broker connected", "addr", redactAddr(cfg.URL))
	}
	return broker, nil
}
