package executor

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/mlplatform/backend/internal/executor/handlers"
	"github.com/mlplatform/backend/internal/fanout"
	"github.com/mlplatform/backend/internal/job"
	"github.com/mlplatform/backend/internal/queue"
)

// processTask runs one invocation of a task. First deliveries claim the job
// (PENDING -> PROCESSING); retries re-enter with the job still PROCESSING.
func (e *Executor) processTask(ctx context.Context, t *taskAttempt) {
	msg := t.msg

	var claimed *job.Job
	if t.attempt == 0 {
		j, err := e.store.ClaimJob(ctx, msg.JobID, msg.TaskID)
		if err != nil {
			if errors.Is(err, job.ErrJobAlreadyClaimed) {
				// Redelivery of a task whose job is already owned or
				// finished. At-least-once delivery makes this normal.
				e.logger.Warn("Skipping already claimed job",
					slog.String("job_id", msg.JobID),
					slog.String("task_id", msg.TaskID),
				)
				e.ack(t)
				return
			}
			e.logger.Error("Failed to claim job",
				slog.String("job_id", msg.JobID),
				slog.String("error", err.Error()),
			)
			e.nackRequeue(t)
			return
		}
		claimed = j
		// The database now carries the job's fate; the broker message has
		// served its purpose.
		e.ack(t)
	} else {
		j, err := e.store.GetJob(ctx, msg.JobID)
		if err != nil {
			if errors.Is(err, job.ErrJobNotFound) {
				e.logger.Warn("Dropping retry - job row is gone",
					slog.String("job_id", msg.JobID),
				)
				return
			}
			// Store trouble must not orphan the retry; try again after
			// another backoff without consuming the budget.
			e.logger.Error("Failed to load job for retry, rescheduling",
				slog.String("job_id", msg.JobID),
				slog.Int("attempt", t.attempt),
				slog.String("error", err.Error()),
			)
			e.scheduleRetry(ctx, msg, t.attempt, e.retryDelay(t.attempt))
			return
		}
		if !job.CanTransition(j.Status, job.StatusFailed) {
			// Cancelled, finished, or released back to PENDING during the
			// backoff window; this attempt has no outcome left to write.
			e.logger.Info("Dropping retry - job no longer processing",
				slog.String("job_id", msg.JobID),
				slog.String("status", j.Status),
			)
			return
		}
		claimed = j
	}

	dataset, err := e.store.GetDataset(ctx, msg.DatasetID, msg.OwnerID)
	if err != nil {
		// Unresolvable dataset reference: fail closed, no retry.
		e.failTask(ctx, msg, err)
		return
	}

	handler, err := e.handlers.Lookup(msg.JobType)
	if err != nil {
		e.failTask(ctx, msg, err)
		return
	}

	runCtx, cancelRun := context.WithTimeout(ctx, e.jobTimeout)
	e.registry.register(msg.TaskID, cancelRun)

	result, runErr := handler.Run(runCtx, &handlers.Task{Job: claimed, Dataset: dataset}, e.reporter(msg))

	wasCancelled := e.registry.deregister(msg.TaskID)
	cancelRun()

	if runErr == nil {
		e.completeTask(ctx, msg, result)
		return
	}

	if wasCancelled {
		// The cancellation path already wrote CANCELLED; progress and
		// result stay as they were.
		e.logger.Info("Task terminated by cancellation",
			slog.String("job_id", msg.JobID),
			slog.String("task_id", msg.TaskID),
		)
		return
	}

	if ctx.Err() != nil {
		// Shutdown aborted the handler. The delivery was acked at claim
		// time, so the row must go back to PENDING and the task back on
		// the dispatch queue or the job stays PROCESSING forever.
		e.logger.Warn("Task interrupted by shutdown, handing back",
			slog.String("job_id", msg.JobID),
			slog.String("task_id", msg.TaskID),
		)
		e.releaseTask(msg)
		return
	}

	if e.isTerminalFailure(runErr) {
		e.failTask(ctx, msg, runErr)
		return
	}

	if t.attempt < e.maxRetries {
		next := t.attempt + 1
		delay := e.retryDelay(next)
		e.logger.Warn("Task attempt failed, scheduling retry",
			slog.String("job_id", msg.JobID),
			slog.String("task_id", msg.TaskID),
			slog.Int("attempt", next),
			slog.Int("max_retries", e.maxRetries),
			slog.Duration("delay", delay),
			slog.String("error", runErr.Error()),
		)
		e.scheduleRetry(ctx, msg, next, delay)
		return
	}

	e.logger.Error("Task exhausted retry budget",
		slog.String("job_id", msg.JobID),
		slog.String("task_id", msg.TaskID),
		slog.Int("attempts", t.attempt+1),
		slog.String("error", runErr.Error()),
	)
	e.failTask(ctx, msg, runErr)
}

// isTerminalFailure reports failures that must not be retried.
func (e *Executor) isTerminalFailure(err error) bool {
	return errors.Is(err, job.ErrUnsupportedFormat) ||
		errors.Is(err, job.ErrDatasetNotFound) ||
		job.IsValidation(err)
}

// reporter builds the checkpoint callback for one task: an atomic progress
// write plus a job_update fanout.
func (e *Executor) reporter(msg queue.TaskMessage) handlers.ProgressFunc {
	return func(ctx context.Context, progress int) error {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := e.store.UpdateProgress(ctx, msg.JobID, progress); err != nil {
			return job.NewTransientError(err)
		}

		if err := e.events.Publish(ctx, fanout.ProgressEvent(msg.OwnerID, msg.JobID, progress)); err != nil {
			// Fanout is best effort; pollers reconcile from the store.
			e.logger.Warn("Failed to publish progress event",
				slog.String("job_id", msg.JobID),
				slog.String("error", err.Error()),
			)
		}

		return nil
	}
}

// completeTask writes the terminal COMPLETED state and fans out the result.
func (e *Executor) completeTask(ctx context.Context, msg queue.TaskMessage, result map[string]any) {
	if err := e.store.CompleteJob(ctx, msg.JobID, result); err != nil {
		if errors.Is(err, job.ErrInvalidState) {
			// Lost the race with cancellation; the terminal state stands.
			e.logger.Warn("Completion discarded - job already terminal",
				slog.String("job_id", msg.JobID),
			)
			return
		}
		e.logger.Error("Failed to mark job completed",
			slog.String("job_id", msg.JobID),
			slog.String("error", err.Error()),
		)
		return
	}

	e.logger.Info("Job completed successfully",
		slog.String("job_id", msg.JobID),
		slog.String("job_type", msg.JobType),
	)

	if err := e.events.Publish(ctx, fanout.CompletedEvent(msg.OwnerID, msg.JobID, result)); err != nil {
		e.logger.Warn("Failed to publish completion event",
			slog.String("job_id", msg.JobID),
			slog.String("error", err.Error()),
		)
	}
}

// failTask writes the terminal FAILED state with the captured error text and
// fans out the failure.
func (e *Executor) failTask(ctx context.Context, msg queue.TaskMessage, cause error) {
	errorMessage := cause.Error()

	if err := e.store.FailJob(ctx, msg.JobID, errorMessage); err != nil {
		if errors.Is(err, job.ErrInvalidState) {
			e.logger.Warn("Failure discarded - job already terminal",
				slog.String("job_id", msg.JobID),
			)
			return
		}
		e.logger.Error("Failed to mark job failed",
			slog.String("job_id", msg.JobID),
			slog.String("error", err.Error()),
		)
		return
	}

	if err := e.events.Publish(ctx, fanout.FailedEvent(msg.OwnerID, msg.JobID, errorMessage)); err != nil {
		e.logger.Warn("Failed to publish failure event",
			slog.String("job_id", msg.JobID),
			slog.String("error", err.Error()),
		)
	}
}

// scheduleRetry re-enqueues the task after the backoff delay without
// occupying a worker goroutine for the wait. A retry overtaken by shutdown
// is handed back instead of dropped.
func (e *Executor) scheduleRetry(ctx context.Context, msg queue.TaskMessage, attempt int, delay time.Duration) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()

		timer := time.NewTimer(delay)
		defer timer.Stop()

		select {
		case <-timer.C:
		case <-ctx.Done():
			e.releaseTask(msg)
			return
		case <-e.stopChan:
			e.releaseTask(msg)
			return
		}

		select {
		case e.tasks <- &taskAttempt{msg: msg, attempt: attempt}:
		case <-ctx.Done():
			e.releaseTask(msg)
		case <-e.stopChan:
			e.releaseTask(msg)
		}
	}()
}

// releaseTask hands an interrupted task back: the row returns to PENDING and
// the message goes back on the dispatch queue for a fresh claim. Writes use
// a detached context because the caller's is usually already canceled.
func (e *Executor) releaseTask(msg queue.TaskMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.store.ReleaseJob(ctx, msg.JobID); err != nil {
		if errors.Is(err, job.ErrInvalidState) {
			// Already terminal or never claimed; nothing to hand back.
			return
		}
		e.logger.Error("Failed to release interrupted job",
			slog.String("job_id", msg.JobID),
			slog.String("error", err.Error()),
		)
		return
	}

	if err := e.requeue.Requeue(ctx, msg); err != nil {
		e.logger.Error("Failed to requeue interrupted task",
			slog.String("job_id", msg.JobID),
			slog.String("task_id", msg.TaskID),
			slog.String("error", err.Error()),
		)
		return
	}

	e.logger.Info("Interrupted task handed back for redispatch",
		slog.String("job_id", msg.JobID),
		slog.String("task_id", msg.TaskID),
	)
}

// ack acknowledges a fresh delivery; retries carry no delivery.
func (e *Executor) ack(t *taskAttempt) {
	if t.delivery == nil {
		return
	}
	if err := t.delivery.Ack(false); err != nil {
		e.logger.Error("Failed to ACK message",
			slog.String("job_id", t.msg.JobID),
			slog.String("error", err.Error()),
		)
	}
}

// nackRequeue returns a fresh delivery to the queue for another worker.
func (e *Executor) nackRequeue(t *taskAttempt) {
	if t.delivery == nil {
		return
	}
	if err := t.delivery.Nack(false, true); err != nil {
		e.logger.Error("Failed to NACK message",
			slog.String("job_id", t.msg.JobID),
			slog.String("error", err.Error()),
		)
	}
}
