package fanout

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/mlplatform/backend/internal/queue"
	"github.com/mlplatform/backend/shared/rabbitmq"
)

// wireEvent is the broker representation of an Event; owner travels in the
// body since AMQP routing is by event key, not by owner.
type wireEvent struct {
	Type    string         `json:"type"`
	OwnerID string         `json:"owner_id"`
	Data    map[string]any `json:"data,omitempty"`
}

// Publisher sends lifecycle events onto the broker so they reach whichever
// process holds the owner's live connections. Used by the task executor.
type Publisher struct {
	rabbit *rabbitmq.Client
	logger *slog.Logger
}

// NewPublisher creates an event publisher over an established client.
func NewPublisher(rabbit *rabbitmq.Client, logger *slog.Logger) *Publisher {
	return &Publisher{rabbit: rabbit, logger: logger}
}

// Publish sends one event. Failures are the publisher's to log, not the
// handler's to abort on; fanout is best effort by contract.
func (p *Publisher) Publish(ctx context.Context, ev Event) error {
	body, err := json.Marshal(wireEvent{Type: ev.Type, OwnerID: ev.OwnerID, Data: ev.Data})
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := p.rabbit.PublishKey(ctx, queue.EventKey, body); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	return nil
}

// Bridge consumes broker events and replays them into a local hub. The API
// service runs one bridge per process over an exclusive broadcast queue, so
// every process sees every event and filters by its own listeners.
type Bridge struct {
	rabbit *rabbitmq.Client
	hub    *Hub
	logger *slog.Logger
}

// NewBridge creates a bridge feeding the given hub.
func NewBridge(rabbit *rabbitmq.Client, hub *Hub, logger *slog.Logger) *Bridge {
	return &Bridge{rabbit: rabbit, hub: hub, logger: logger}
}

// Run binds a broadcast queue for job events and pumps them into the hub
// until the context is canceled.
func (b *Bridge) Run(ctx context.Context) error {
	queueName, err := b.rabbit.DeclareBroadcastQueue(queue.EventKey)
	if err != nil {
		return fmt.Errorf("failed to bind event queue: %w", err)
	}

	deliveries, err := b.rabbit.ConsumeQueue(queueName, "event-bridge")
	if err != nil {
		return fmt.Errorf("failed to consume events: %w", err)
	}

	b.logger.Info("Event bridge started",
		slog.String("queue", queueName),
	)

	for {
		select {
		case <-ctx.Done():
			b.logger.Info("Event bridge stopped - context canceled")
			return nil

		case delivery, ok := <-deliveries:
			if !ok {
				b.logger.Warn("Event delivery channel closed")
				return nil
			}

			var we wireEvent
			if err := json.Unmarshal(delivery.Body, &we); err != nil {
				b.logger.Error("Failed to parse event JSON",
					slog.String("error", err.Error()),
				)
				_ = delivery.Nack(false, false)
				continue
			}

			b.hub.Publish(Event{Type: we.Type, OwnerID: we.OwnerID, Data: we.Data})
			_ = delivery.Ack(false)
		}
	}
}
