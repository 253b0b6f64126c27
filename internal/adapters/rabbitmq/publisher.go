package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/purplemerit/collab-jobs/internal/domain/model"
	amqp "github.com/rabbitmq/amqp091-go"
)

// WorkspaceEvent is the envelope published on the workspace topic exchange.
type WorkspaceEvent struct {
	WorkspaceID string          `json:"workspace_id"`
	EventType   string          `json:"event_type"`
	Data        json.RawMessage `json:"data,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
}

// Publisher publishes dispatch messages and workspace events. Job publishes
// run in confirm mode: PublishJob blocks until the broker acknowledges
// durable receipt, so a nil return means the message survived the handoff.
type Publisher struct {
	channel *amqp.Channel
	logger  *slog.Logger
}

// NewPublisher creates a Publisher on the broker's channel and enables
// publisher confirms.
func NewPublisher(b *Broker, logger *slog.Logger) (*Publisher, error) {
	channel, err := b.Channel()
	if err != nil {
		return nil, err
	}
	if err := channel.Confirm(false); err != nil {
		return nil, fmt.Errorf("enable publisher confirms: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Publisher{
		channel: channel,
		logger:  logger.With("component", "dispatch_publisher"),
	}, nil
}

// PublishJob sends a persistent dispatch message to the work queue and waits
// for the broker's confirm. Errors propagate to the submission coordinator.
func (p *Publisher) PublishJob(ctx context.Context, msg model.DispatchMessage) error {
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("invalid dispatch message: %w", err)
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal dispatch message: %w", err)
	}

	confirm, err := p.channel.PublishWithDeferredConfirmWithContext(
		ctx,
		"",       // default exchange, routed by queue name
		JobQueue, // routing key
		false,    // mandatory
		false,    // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    msg.Timestamp,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish job %s: %w", msg.JobID, err)
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("await publish confirm for job %s: %w", msg.JobID, err)
	}
	if !acked {
		return fmt.Errorf("broker nacked publish for job %s", msg.JobID)
	}

	p.logger.DebugContext(ctx, "job published",
		"job_id", msg.JobID,
		"type", msg.Type,
		"attempt", msg.Attempt,
	)
	return nil
}

// PublishWorkspaceEvent fans an event out on the topic exchange with routing
// key workspace.<id>.<type>. Consumed by the collaboration layer; fire and
// forget from the pipeline's perspective.
func (p *Publisher) PublishWorkspaceEvent(
	ctx context.Context,
	workspaceID, eventType string,
	data json.RawMessage,
) error {
	event := WorkspaceEvent{
		WorkspaceID: workspaceID,
		EventType:   eventType,
		Data:        data,
		Timestamp:   time.Now().UTC(),
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal workspace event: %w", err)
	}

	routingKey := "workspace." + workspaceID + "." + eventType
	if err := p.channel.PublishWithContext(
		ctx,
		WorkspaceEventsExchange,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    event.Timestamp,
			Body:         body,
		},
	); err != nil {
		return fmt.Errorf("publish workspace event %s: %w", routingKey, err)
	}

	p.logger.DebugContext(ctx, "workspace event published",
		"workspace_id", workspaceID,
		"event_type", eventType,
	)
	return nil
}
