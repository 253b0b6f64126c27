package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/purplemerit/collab-jobs/internal/domain/model"
	amqp "github.com/rabbitmq/amqp091-go"
)

// MessageHandler processes one dispatch message. A non-nil error causes a
// negative acknowledgment with requeue and immediate broker-level redelivery;
// this path is for infrastructure failures, distinct from the application
// retry/backoff state machine which the handler drives itself.
type MessageHandler func(ctx context.Context, msg model.DispatchMessage) error

// Consumer pulls dispatch messages from the work queue with prefetch=1:
// one unacknowledged message per worker process, for fair dispatch and a
// bounded redelivery window when a worker dies mid-job.
type Consumer struct {
	channel *amqp.Channel
	logger  *slog.Logger
}

// NewConsumer creates a Consumer with prefetch=1 on a dedicated channel, so
// consumer flow control stays independent of the confirm-mode publish channel.
func NewConsumer(b *Broker, logger *slog.Logger) (*Consumer, error) {
	if b == nil || b.conn == nil {
		return nil, ErrNotConnected
	}
	channel, err := b.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open consumer channel: %w", err)
	}
	if err := channel.Qos(1, 0, false); err != nil {
		return nil, fmt.Errorf("set prefetch: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Consumer{
		channel: channel,
		logger:  logger.With("component", "dispatch_consumer"),
	}, nil
}

// ConsumeJobs delivers work-queue messages to the handler until the context
// is cancelled or the delivery stream closes. Messages are acknowledged only
// after the handler returns nil; handler panics are recovered and treated as
// handler errors so a bad job never takes the worker process down.
func (c *Consumer) ConsumeJobs(ctx context.Context, handler MessageHandler) error {
	deliveries, err := c.channel.ConsumeWithContext(
		ctx,
		JobQueue,
		"",    // consumer tag, broker-generated
		false, // autoAck
		false, // exclusive
		false, // noLocal
		false, // noWait
		nil,
	)
	if err != nil {
		return fmt.Errorf("consume %s: %w", JobQueue, err)
	}

	c.logger.InfoContext(ctx, "consuming job queue", "queue", JobQueue)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case delivery, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed for %s", JobQueue)
			}
			c.handleDelivery(ctx, delivery, handler)
		}
	}
}

func (c *Consumer) handleDelivery(ctx context.Context, delivery amqp.Delivery, handler MessageHandler) {
	var msg model.DispatchMessage
	if err := json.Unmarshal(delivery.Body, &msg); err != nil {
		c.logger.ErrorContext(ctx, "undecodable dispatch message, dead-lettering", "error", err)
		// Requeueing a poison message would loop forever.
		c.reject(ctx, delivery, false)
		return
	}

	if err := c.invoke(ctx, msg, handler); err != nil {
		c.logger.ErrorContext(ctx, "dispatch handler failed, requeueing",
			"job_id", msg.JobID,
			"error", err,
		)
		c.reject(ctx, delivery, true)
		return
	}

	if err := delivery.Ack(false); err != nil {
		c.logger.ErrorContext(ctx, "ack failed", "job_id", msg.JobID, "error", err)
	}
}

// invoke runs the handler with panic recovery.
func (c *Consumer) invoke(
	ctx context.Context,
	msg model.DispatchMessage,
	handler MessageHandler,
) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(ctx, msg)
}

func (c *Consumer) reject(ctx context.Context, delivery amqp.Delivery, requeue bool) {
	if err := delivery.Nack(false, requeue); err != nil {
		c.logger.ErrorContext(ctx, "nack failed", "requeue", requeue, "error", err)
	}
}
