package executor

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/mlplatform/backend/internal/queue"
)

// taskAttempt is one invocation of a task's handler. Fresh deliveries carry
// their AMQP delivery for ack/nack; in-process retries do not.
type taskAttempt struct {
	msg      queue.TaskMessage
	attempt  int
	delivery *amqp.Delivery
}

// dispatchLoop listens to broker deliveries and feeds the worker pool.
func (e *Executor) dispatchLoop(ctx context.Context, deliveries <-chan amqp.Delivery) {
	e.logger.Info("Task dispatcher started",
		slog.String("worker_id", e.workerID),
	)

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("Task dispatcher stopped - context canceled")
			return

		case <-e.stopChan:
			e.logger.Info("Task dispatcher stopped - executor stopping")
			return

		case delivery, ok := <-deliveries:
			if !ok {
				e.logger.Warn("RabbitMQ delivery channel closed")
				return
			}

			var msg queue.TaskMessage
			if err := json.Unmarshal(delivery.Body, &msg); err != nil {
				e.logger.Error("Failed to parse task message JSON",
					slog.String("error", err.Error()),
					slog.String("body", string(delivery.Body)),
				)
				// Malformed messages are dropped, not requeued.
				if nackErr := delivery.Nack(false, false); nackErr != nil {
					e.logger.Error("Failed to NACK malformed message",
						slog.String("error", nackErr.Error()),
					)
				}
				continue
			}

			if _, err := uuid.Parse(msg.JobID); err != nil {
				e.logger.Error("Invalid job_id in task message",
					slog.String("job_id", msg.JobID),
					slog.String("error", err.Error()),
				)
				if nackErr := delivery.Nack(false, false); nackErr != nil {
					e.logger.Error("Failed to NACK message with invalid job_id",
						slog.String("error", nackErr.Error()),
					)
				}
				continue
			}

			d := delivery
			select {
			case e.tasks <- &taskAttempt{msg: msg, attempt: 0, delivery: &d}:
			case <-ctx.Done():
				// Requeue so another worker can pick it up.
				if nackErr := delivery.Nack(false, true); nackErr != nil {
					e.logger.Error("Failed to NACK message on shutdown",
						slog.String("error", nackErr.Error()),
					)
				}
				return
			}
		}
	}
}

// cancelLoop consumes cancellation broadcasts and terminates matching
// in-flight tasks on this worker.
func (e *Executor) cancelLoop(ctx context.Context, deliveries <-chan amqp.Delivery) {
	defer e.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return

		case <-e.stopChan:
			return

		case delivery, ok := <-deliveries:
			if !ok {
				e.logger.Warn("Cancel delivery channel closed")
				return
			}

			var msg queue.CancelMessage
			if err := json.Unmarshal(delivery.Body, &msg); err != nil {
				e.logger.Error("Failed to parse cancel message JSON",
					slog.String("error", err.Error()),
				)
				_ = delivery.Nack(false, false)
				continue
			}

			if e.registry.cancel(msg.TaskID) {
				e.logger.Info("Cancellation signal delivered to in-flight task",
					slog.String("task_id", msg.TaskID),
					slog.String("job_id", msg.JobID),
				)
			} else {
				e.logger.Debug("Cancellation for task not running on this worker",
					slog.String("task_id", msg.TaskID),
				)
			}

			_ = delivery.Ack(false)
		}
	}
}
