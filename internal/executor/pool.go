package executor

import (
	"context"
	"fmt"
	"log/slog"
)

// spawnWorkerPool spawns N worker goroutines based on concurrency
// configuration. The pool size bounds parallelism; each worker handles one
// task at a time.
func (e *Executor) spawnWorkerPool(ctx context.Context) {
	e.logger.Info("Spawning worker pool",
		slog.Int("concurrency", e.concurrency),
		slog.String("worker_id", e.workerID),
	)

	for i := 0; i < e.concurrency; i++ {
		e.wg.Add(1)
		go e.workerLoop(ctx, i)
	}
}

// workerLoop is the main processing loop for each worker goroutine.
func (e *Executor) workerLoop(ctx context.Context, workerNum int) {
	defer e.wg.Done()

	workerName := fmt.Sprintf("%s-%d", e.workerID, workerNum)
	e.logger.Info("Worker goroutine started",
		slog.String("worker_name", workerName),
	)

	for {
		select {
		case <-e.stopChan:
			e.logger.Info("Worker goroutine stopping - stopChan closed",
				slog.String("worker_name", workerName),
			)
			return

		case <-ctx.Done():
			e.logger.Info("Worker goroutine stopping - context canceled",
				slog.String("worker_name", workerName),
			)
			return

		case attempt, ok := <-e.tasks:
			if !ok {
				return
			}

			e.logger.Info("Worker received task",
				slog.String("worker_name", workerName),
				slog.String("job_id", attempt.msg.JobID),
				slog.String("task_id", attempt.msg.TaskID),
				slog.Int("attempt", attempt.attempt),
			)

			e.processTask(ctx, attempt)
		}
	}
}
