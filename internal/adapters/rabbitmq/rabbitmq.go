// Package rabbitmq implements the dispatch channel: a durable work queue
// carrying job-execution messages and a topic exchange fanning out workspace
// events.
package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Broker topology names. Declared durable on every connect so either side
// of the pipeline can start first.
const (
	// JobQueue is the point-to-point work queue for job execution.
	JobQueue = "jobs.pending"
	// RetryQueue holds messages parked for operational requeue tooling.
	RetryQueue = "jobs.retry"
	// DeadLetterQueue collects messages rejected without requeue.
	DeadLetterQueue = "jobs.dlq"
	// WorkspaceEventsExchange is the topic exchange for collaboration fan-out.
	WorkspaceEventsExchange = "workspace.events"
)

// ErrNotConnected is returned when an operation is attempted before Connect.
var ErrNotConnected = errors.New("rabbitmq connection not established")

// Config holds broker connection settings.
type Config struct {
	URL    string
	Logger *slog.Logger
}

// Broker owns one AMQP connection and channel with the pipeline topology
// declared. It is constructed once at process start and closed on shutdown.
type Broker struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	logger  *slog.Logger
}

// Connect dials the broker, opens a channel, and declares the topology.
func Connect(cfg Config) (*Broker, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "rabbitmq")

	conn, err := amqp.DialConfig(cfg.URL, amqp.Config{
		Heartbeat: 10 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		closeErr := conn.Close()
		if closeErr != nil {
			err = errors.Join(err, fmt.Errorf("close connection: %w", closeErr))
		}
		return nil, fmt.Errorf("open channel: %w", err)
	}

	b := &Broker{
		conn:    conn,
		channel: channel,
		logger:  logger,
	}

	if err := b.declareTopology(); err != nil {
		if closeErr := b.Close(); closeErr != nil {
			err = errors.Join(err, closeErr)
		}
		return nil, err
	}

	logger.Info("rabbitmq connected")
	return b, nil
}

func (b *Broker) declareTopology() error {
	for _, queue := range []string{RetryQueue, DeadLetterQueue} {
		if _, err := b.channel.QueueDeclare(queue, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare queue %s: %w", queue, err)
		}
	}

	// Rejections without requeue land on the dead-letter queue.
	if _, err := b.channel.QueueDeclare(JobQueue, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": DeadLetterQueue,
	}); err != nil {
		return fmt.Errorf("declare queue %s: %w", JobQueue, err)
	}

	if err := b.channel.ExchangeDeclare(
		WorkspaceEventsExchange, "topic", true, false, false, false, nil,
	); err != nil {
		return fmt.Errorf("declare exchange %s: %w", WorkspaceEventsExchange, err)
	}

	return nil
}

// Channel returns the underlying AMQP channel.
func (b *Broker) Channel() (*amqp.Channel, error) {
	if b == nil || b.channel == nil {
		return nil, ErrNotConnected
	}
	return b.channel, nil
}

// NotifyClose registers a listener for connection-level failures.
func (b *Broker) NotifyClose() <-chan *amqp.Error {
	return b.conn.NotifyClose(make(chan *amqp.Error, 1))
}

// Health reports whether the connection is still open.
func (b *Broker) Health(_ context.Context) error {
	if b == nil || b.conn == nil || b.conn.IsClosed() {
		return ErrNotConnected
	}
	return nil
}

// Close shuts down the channel and connection.
func (b *Broker) Close() error {
	if b == nil {
		return nil
	}

	var errs []error
	if b.channel != nil && !b.channel.IsClosed() {
		if err := b.channel.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close channel: %w", err))
		}
	}
	if b.conn != nil && !b.conn.IsClosed() {
		if err := b.conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close connection: %w", err))
		}
	}
	return errors.Join(errs...)
}
