// Package queue is the broker boundary between job submission and execution.
// Enqueue assigns each submission a task id and publishes it for exactly one
// worker; the task id doubles as the handle cancellation is addressed to.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/mlplatform/backend/shared/rabbitmq"
)

// Routing keys on the jobs exchange.
const (
	DispatchKey = "job.dispatch"
	CancelKey   = "job.cancel"
	EventKey    = "job.event"
)

// TaskMessage is the dispatch payload delivered to one worker.
type TaskMessage struct {
	TaskID       string `json:"task_id"`
	JobID        string `json:"job_id"`
	DatasetID    int64  `json:"dataset_id"`
	OwnerID      string `json:"owner_id"`
	JobType      string `json:"job_type"`
	TargetFormat string `json:"target_format,omitempty"`
}

// CancelMessage is broadcast to every worker; the one holding the task
// terminates it.
type CancelMessage struct {
	TaskID string `json:"task_id"`
	JobID  string `json:"job_id"`
}

// Broker enqueues tasks and cancellation signals over RabbitMQ.
type Broker struct {
	rabbit *rabbitmq.Client
	logger *slog.Logger
}

// NewBroker creates a broker over an established RabbitMQ client.
func NewBroker(rabbit *rabbitmq.Client, logger *slog.Logger) *Broker {
	return &Broker{
		rabbit: rabbit,
		logger: logger,
	}
}

// Enqueue durably queues a task for the given job and returns its task id.
// The call returns once the message is queued; execution starts later on a
// worker. Delivery is at least once, so workers must treat a repeated task
// id as already handled.
func (b *Broker) Enqueue(ctx context.Context, msg TaskMessage) (string, error) {
	msg.TaskID = uuid.New().String()

	body, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("failed to marshal task message: %w", err)
	}

	if err := b.rabbit.PublishKeyWithRetry(ctx, DispatchKey, body); err != nil {
		return "", fmt.Errorf("failed to enqueue task: %w", err)
	}

	b.logger.Info("Task enqueued",
		slog.String("task_id", msg.TaskID),
		slog.String("job_id", msg.JobID),
		slog.String("job_type", msg.JobType),
	)

	return msg.TaskID, nil
}

// Requeue puts an interrupted task back on the dispatch queue under its
// existing task id. Used when a worker shuts down with the task in flight.
func (b *Broker) Requeue(ctx context.Context, msg TaskMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal task message: %w", err)
	}

	if err := b.rabbit.PublishKeyWithRetry(ctx, DispatchKey, body); err != nil {
		return fmt.Errorf("failed to requeue task: %w", err)
	}

	b.logger.Info("Task requeued",
		slog.String("task_id", msg.TaskID),
		slog.String("job_id", msg.JobID),
	)

	return nil
}

// PublishCancel broadcasts a termination signal for an in-flight task.
func (b *Broker) PublishCancel(ctx context.Context, taskID, jobID string) error {
	body, err := json.Marshal(CancelMessage{TaskID: taskID, JobID: jobID})
	if err != nil {
		return fmt.Errorf("failed to marshal cancel message: %w", err)
	}

	if err := b.rabbit.PublishKey(ctx, CancelKey, body); err != nil {
		return fmt.Errorf("failed to publish cancel: %w", err)
	}

	b.logger.Info("Cancellation broadcast",
		slog.String("task_id", taskID),
		slog.String("job_id", jobID),
	)

	return nil
}
