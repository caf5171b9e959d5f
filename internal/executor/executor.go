// Package executor runs job-type handlers on a bounded worker pool,
// enforcing the claim/progress/retry/cancellation protocol around them.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mlplatform/backend/internal/executor/handlers"
	"github.com/mlplatform/backend/internal/fanout"
	"github.com/mlplatform/backend/internal/job"
	"github.com/mlplatform/backend/internal/queue"
	"github.com/mlplatform/backend/shared/rabbitmq"
)

// Store is the slice of the job store the executor writes through.
type Store interface {
	ClaimJob(ctx context.Context, jobID, taskID string) (*job.Job, error)
	GetJob(ctx context.Context, jobID string) (*job.Job, error)
	UpdateProgress(ctx context.Context, jobID string, progress int) error
	CompleteJob(ctx context.Context, jobID string, result map[string]any) error
	FailJob(ctx context.Context, jobID, errorMessage string) error
	ReleaseJob(ctx context.Context, jobID string) error
	GetDataset(ctx context.Context, datasetID int64, ownerID string) (*job.Dataset, error)
}

// TaskRequeuer returns interrupted tasks to the dispatch queue so another
// claim can pick them up.
type TaskRequeuer interface {
	Requeue(ctx context.Context, msg queue.TaskMessage) error
}

// EventPublisher fans lifecycle events out to live listeners.
type EventPublisher interface {
	Publish(ctx context.Context, ev fanout.Event) error
}

// Config holds executor configuration.
type Config struct {
	Logger        *slog.Logger
	Store         Store
	Events        EventPublisher
	Requeue       TaskRequeuer
	RabbitClient  *rabbitmq.Client
	Handlers      handlers.Registry
	Concurrency   int
	PrefetchCount int
	JobTimeout    time.Duration
	MaxRetries    int
	BackoffBase   time.Duration
}

// Executor consumes dispatched tasks and executes them on a pool of worker
// goroutines. Retries are rescheduled through the internal task channel so
// a worker is never parked on a backoff window.
type Executor struct {
	logger       *slog.Logger
	store        Store
	events       EventPublisher
	requeue      TaskRequeuer
	rabbitClient *rabbitmq.Client
	handlers     handlers.Registry

	concurrency   int
	prefetchCount int
	jobTimeout    time.Duration
	maxRetries    int
	backoffBase   time.Duration

	workerID string
	tasks    chan *taskAttempt
	registry *cancelRegistry
	wg       sync.WaitGroup
	stopChan chan struct{}
}

// New creates an executor instance.
func New(cfg *Config) *Executor {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "worker"
	}

	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	backoffBase := cfg.BackoffBase
	if backoffBase <= 0 {
		backoffBase = time.Second
	}

	return &Executor{
		logger:        cfg.Logger,
		store:         cfg.Store,
		events:        cfg.Events,
		requeue:       cfg.Requeue,
		rabbitClient:  cfg.RabbitClient,
		handlers:      cfg.Handlers,
		concurrency:   cfg.Concurrency,
		prefetchCount: cfg.PrefetchCount,
		jobTimeout:    cfg.JobTimeout,
		maxRetries:    maxRetries,
		backoffBase:   backoffBase,
		workerID:      fmt.Sprintf("%s-%s", hostname, uuid.New().String()[:8]),
		tasks:         make(chan *taskAttempt, cfg.Concurrency),
		registry:      newCancelRegistry(),
		stopChan:      make(chan struct{}),
	}
}

// Start wires the consumers and spawns the pool, then blocks dispatching
// deliveries until the context is canceled.
func (e *Executor) Start(ctx context.Context) error {
	e.logger.Info("Starting executor",
		slog.String("worker_id", e.workerID),
		slog.Int("concurrency", e.concurrency),
		slog.Duration("job_timeout", e.jobTimeout),
		slog.Int("max_retries", e.maxRetries),
	)

	if err := e.rabbitClient.Qos(e.prefetchCount); err != nil {
		return err
	}

	deliveries, err := e.rabbitClient.Consume(e.workerID)
	if err != nil {
		return fmt.Errorf("failed to start task consumer: %w", err)
	}

	cancelQueue, err := e.rabbitClient.DeclareBroadcastQueue(queue.CancelKey)
	if err != nil {
		return fmt.Errorf("failed to bind cancel queue: %w", err)
	}
	cancels, err := e.rabbitClient.ConsumeQueue(cancelQueue, e.workerID+"-cancel")
	if err != nil {
		return fmt.Errorf("failed to start cancel consumer: %w", err)
	}

	e.spawnWorkerPool(ctx)

	e.wg.Add(1)
	go e.cancelLoop(ctx, cancels)

	e.dispatchLoop(ctx, deliveries)
	return nil
}

// Stop gracefully stops the executor, waiting for in-flight tasks, then
// hands back anything still queued internally so no job stays PROCESSING
// past the shutdown.
func (e *Executor) Stop() {
	e.logger.Info("Stopping executor...")
	close(e.stopChan)
	e.wg.Wait()

	for {
		select {
		case t := <-e.tasks:
			if t.delivery != nil {
				// Never claimed; the broker redelivers it elsewhere.
				e.nackRequeue(t)
				continue
			}
			e.releaseTask(t.msg)
		default:
			e.logger.Info("Executor stopped")
			return
		}
	}
}

// retryDelay returns the backoff before the given retry: base * 3^attempt,
// so with a one second base the schedule is 3s, 9s, 27s.
func (e *Executor) retryDelay(attempt int) time.Duration {
	delay := e.backoffBase
	for i := 0; i < attempt; i++ {
		delay *= 3
	}
	return delay
}
