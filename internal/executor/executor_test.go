package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlplatform/backend/internal/executor/handlers"
	"github.com/mlplatform/backend/internal/fanout"
	"github.com/mlplatform/backend/internal/job"
	"github.com/mlplatform/backend/internal/queue"
)

// fakeStore mirrors the real store's state-machine guards in memory.
type fakeStore struct {
	mu       sync.Mutex
	jobs     map[string]*job.Job
	datasets map[int64]*job.Dataset
	progress map[string][]int
	getErr   error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		jobs:     make(map[string]*job.Job),
		datasets: make(map[int64]*job.Dataset),
		progress: make(map[string][]int),
	}
}

func (s *fakeStore) ClaimJob(_ context.Context, jobID, taskID string) (*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok || j.Status != job.StatusPending {
		return nil, job.ErrJobAlreadyClaimed
	}
	j.Status = job.StatusProcessing
	j.TaskID = taskID
	copied := *j
	return &copied, nil
}

func (s *fakeStore) GetJob(_ context.Context, jobID string) (*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		err := s.getErr
		s.getErr = nil
		return nil, err
	}
	j, ok := s.jobs[jobID]
	if !ok {
		return nil, job.ErrJobNotFound
	}
	copied := *j
	return &copied, nil
}

func (s *fakeStore) UpdateProgress(_ context.Context, jobID string, progress int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok || j.Status != job.StatusProcessing || j.Progress > progress {
		return nil
	}
	j.Progress = progress
	s.progress[jobID] = append(s.progress[jobID], progress)
	return nil
}

func (s *fakeStore) CompleteJob(_ context.Context, jobID string, result map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok || j.Status != job.StatusProcessing {
		return job.ErrInvalidState
	}
	j.Status = job.StatusCompleted
	j.Progress = 100
	return nil
}

func (s *fakeStore) FailJob(_ context.Context, jobID, errorMessage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok || j.Status != job.StatusProcessing {
		return job.ErrInvalidState
	}
	j.Status = job.StatusFailed
	j.ErrorMessage = errorMessage
	return nil
}

func (s *fakeStore) ReleaseJob(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok || j.Status != job.StatusProcessing {
		return job.ErrInvalidState
	}
	j.Status = job.StatusPending
	j.TaskID = ""
	j.Progress = 0
	return nil
}

func (s *fakeStore) GetDataset(_ context.Context, datasetID int64, ownerID string) (*job.Dataset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.datasets[datasetID]
	if !ok || d.OwnerID != ownerID {
		return nil, job.ErrDatasetNotFound
	}
	copied := *d
	return &copied, nil
}

func (s *fakeStore) status(jobID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[jobID].Status
}

func (s *fakeStore) jobRow(jobID string) job.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.jobs[jobID]
}

type fakeEvents struct {
	mu     sync.Mutex
	events []fanout.Event
}

func (f *fakeEvents) Publish(_ context.Context, ev fanout.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeEvents) types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.events))
	for i, ev := range f.events {
		out[i] = ev.Type
	}
	return out
}

type fakeRequeuer struct {
	mu   sync.Mutex
	sent []queue.TaskMessage
}

func (f *fakeRequeuer) Requeue(_ context.Context, msg queue.TaskMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeRequeuer) msgs() []queue.TaskMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]queue.TaskMessage(nil), f.sent...)
}

type stubHandler struct {
	jobType string
	run     func(ctx context.Context, t *handlers.Task, report handlers.ProgressFunc) (map[string]any, error)
}

func (h *stubHandler) Type() string { return h.jobType }

func (h *stubHandler) Run(ctx context.Context, t *handlers.Task, report handlers.ProgressFunc) (map[string]any, error) {
	return h.run(ctx, t, report)
}

func newTestExecutor(store Store, events EventPublisher, h handlers.Handler) (*Executor, *fakeRequeuer) {
	requeue := &fakeRequeuer{}
	e := New(&Config{
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		Store:       store,
		Events:      events,
		Requeue:     requeue,
		Handlers:    handlers.Registry{h.Type(): h},
		Concurrency: 1,
		JobTimeout:  5 * time.Second,
		MaxRetries:  3,
		BackoffBase: time.Millisecond,
	})
	return e, requeue
}

func seedJob(store *fakeStore) queue.TaskMessage {
	store.jobs["job-1"] = &job.Job{
		JobID:     "job-1",
		OwnerID:   "alice",
		DatasetID: 5,
		JobType:   job.TypeValidateCSV,
		Status:    job.StatusPending,
	}
	store.datasets[5] = &job.Dataset{DatasetID: 5, OwnerID: "alice", FilePath: "datasets/input.csv"}

	return queue.TaskMessage{
		TaskID:    "task-1",
		JobID:     "job-1",
		DatasetID: 5,
		OwnerID:   "alice",
		JobType:   job.TypeValidateCSV,
	}
}

// drainRetry waits for a scheduled retry to land on the task channel.
func drainRetry(t *testing.T, e *Executor) *taskAttempt {
	t.Helper()
	select {
	case attempt := <-e.tasks:
		return attempt
	case <-time.After(2 * time.Second):
		t.Fatal("expected a scheduled retry")
		return nil
	}
}

func TestProcessTask_SuccessPath(t *testing.T) {
	store := newFakeStore()
	events := &fakeEvents{}
	msg := seedJob(store)

	handler := &stubHandler{
		jobType: job.TypeValidateCSV,
		run: func(ctx context.Context, task *handlers.Task, report handlers.ProgressFunc) (map[string]any, error) {
			require.Equal(t, "job-1", task.Job.JobID)
			require.Equal(t, int64(5), task.Dataset.DatasetID)
			if err := report(ctx, 25); err != nil {
				return nil, err
			}
			if err := report(ctx, 75); err != nil {
				return nil, err
			}
			return map[string]any{"row_count": 3}, nil
		},
	}

	e, _ := newTestExecutor(store, events, handler)
	e.processTask(context.Background(), &taskAttempt{msg: msg})

	row := store.jobRow("job-1")
	assert.Equal(t, job.StatusCompleted, row.Status)
	assert.Equal(t, 100, row.Progress)
	assert.Equal(t, "task-1", row.TaskID)
	assert.Empty(t, row.ErrorMessage)

	assert.Equal(t, []int{25, 75}, store.progress["job-1"])
	assert.Equal(t, []string{fanout.TypeJobUpdate, fanout.TypeJobUpdate, fanout.TypeJobCompleted}, events.types())
}

func TestProcessTask_RetriesThenFails(t *testing.T) {
	store := newFakeStore()
	events := &fakeEvents{}
	msg := seedJob(store)

	invocations := 0
	handler := &stubHandler{
		jobType: job.TypeValidateCSV,
		run: func(ctx context.Context, task *handlers.Task, report handlers.ProgressFunc) (map[string]any, error) {
			invocations++
			require.Equal(t, "job-1", task.Job.JobID, "retries must preserve job id")
			require.Equal(t, int64(5), task.Dataset.DatasetID, "retries must preserve dataset id")
			return nil, job.NewTransientError(errors.New("disk read failed"))
		},
	}

	e, _ := newTestExecutor(store, events, handler)

	attempt := &taskAttempt{msg: msg}
	e.processTask(context.Background(), attempt)

	// Status holds at PROCESSING across the whole retry window.
	for i := 0; i < 3; i++ {
		assert.Equal(t, job.StatusProcessing, store.status("job-1"))
		attempt = drainRetry(t, e)
		assert.Equal(t, i+1, attempt.attempt)
		e.processTask(context.Background(), attempt)
	}

	assert.Equal(t, 4, invocations, "initial attempt plus three retries")
	row := store.jobRow("job-1")
	assert.Equal(t, job.StatusFailed, row.Status)
	assert.Contains(t, row.ErrorMessage, "disk read failed")

	// No further retry after the budget is exhausted.
	select {
	case <-e.tasks:
		t.Fatal("no retry expected after exhaustion")
	case <-time.After(50 * time.Millisecond):
	}

	// job_failed fans out exactly once, on the terminal write.
	assert.Equal(t, []string{fanout.TypeJobFailed}, events.types())
}

func TestProcessTask_RedeliveryOfClaimedJobIsSkipped(t *testing.T) {
	store := newFakeStore()
	events := &fakeEvents{}
	msg := seedJob(store)
	store.jobs["job-1"].Status = job.StatusProcessing

	handler := &stubHandler{
		jobType: job.TypeValidateCSV,
		run: func(context.Context, *handlers.Task, handlers.ProgressFunc) (map[string]any, error) {
			t.Fatal("handler must not run for a redelivered claimed job")
			return nil, nil
		},
	}

	e, _ := newTestExecutor(store, events, handler)
	e.processTask(context.Background(), &taskAttempt{msg: msg})

	assert.Equal(t, job.StatusProcessing, store.status("job-1"))
	assert.Empty(t, events.types())
}

func TestProcessTask_UnsupportedFormatIsNotRetried(t *testing.T) {
	store := newFakeStore()
	events := &fakeEvents{}
	msg := seedJob(store)

	handler := &stubHandler{
		jobType: job.TypeValidateCSV,
		run: func(context.Context, *handlers.Task, handlers.ProgressFunc) (map[string]any, error) {
			return nil, fmt.Errorf("%w: %q", job.ErrUnsupportedFormat, "parquet")
		},
	}

	e, _ := newTestExecutor(store, events, handler)
	e.processTask(context.Background(), &taskAttempt{msg: msg})

	row := store.jobRow("job-1")
	assert.Equal(t, job.StatusFailed, row.Status)
	assert.Contains(t, row.ErrorMessage, "unsupported target format")

	select {
	case <-e.tasks:
		t.Fatal("unsupported format must not schedule a retry")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestProcessTask_MissingDatasetFailsClosed(t *testing.T) {
	store := newFakeStore()
	events := &fakeEvents{}
	msg := seedJob(store)
	delete(store.datasets, 5)

	handler := &stubHandler{
		jobType: job.TypeValidateCSV,
		run: func(context.Context, *handlers.Task, handlers.ProgressFunc) (map[string]any, error) {
			t.Fatal("handler must not run without a resolvable dataset")
			return nil, nil
		},
	}

	e, _ := newTestExecutor(store, events, handler)
	e.processTask(context.Background(), &taskAttempt{msg: msg})

	row := store.jobRow("job-1")
	assert.Equal(t, job.StatusFailed, row.Status)
	assert.Contains(t, row.ErrorMessage, "dataset not found")
	assert.Equal(t, []string{fanout.TypeJobFailed}, events.types())
}

func TestProcessTask_CancellationLeavesTerminalState(t *testing.T) {
	store := newFakeStore()
	events := &fakeEvents{}
	msg := seedJob(store)

	started := make(chan struct{})
	handler := &stubHandler{
		jobType: job.TypeValidateCSV,
		run: func(ctx context.Context, _ *handlers.Task, report handlers.ProgressFunc) (map[string]any, error) {
			if err := report(ctx, 25); err != nil {
				return nil, err
			}
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}

	e, _ := newTestExecutor(store, events, handler)

	go func() {
		<-started
		// The cancellation path: the API writes CANCELLED, then the cancel
		// broadcast reaches this worker's registry.
		store.mu.Lock()
		store.jobs["job-1"].Status = job.StatusCancelled
		store.mu.Unlock()
		e.registry.cancel("task-1")
	}()

	e.processTask(context.Background(), &taskAttempt{msg: msg})

	row := store.jobRow("job-1")
	assert.Equal(t, job.StatusCancelled, row.Status)
	assert.Empty(t, row.ErrorMessage, "cancellation must not set error_message")
	assert.Nil(t, row.ResultData, "cancellation must not set result_data")
	assert.Equal(t, 25, row.Progress, "cancellation leaves progress untouched")

	// Only the progress event before cancellation went out.
	assert.Equal(t, []string{fanout.TypeJobUpdate}, events.types())
}

func TestProcessTask_RetryDroppedWhenJobCancelledDuringBackoff(t *testing.T) {
	store := newFakeStore()
	events := &fakeEvents{}
	msg := seedJob(store)
	store.jobs["job-1"].Status = job.StatusCancelled

	handler := &stubHandler{
		jobType: job.TypeValidateCSV,
		run: func(context.Context, *handlers.Task, handlers.ProgressFunc) (map[string]any, error) {
			t.Fatal("handler must not run for a cancelled job")
			return nil, nil
		},
	}

	e, _ := newTestExecutor(store, events, handler)
	e.processTask(context.Background(), &taskAttempt{msg: msg, attempt: 1})

	assert.Equal(t, job.StatusCancelled, store.status("job-1"))
	assert.Empty(t, events.types())
}

func TestProcessTask_ShutdownHandsBackInFlightJob(t *testing.T) {
	store := newFakeStore()
	events := &fakeEvents{}
	msg := seedJob(store)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	handler := &stubHandler{
		jobType: job.TypeValidateCSV,
		run: func(runCtx context.Context, _ *handlers.Task, report handlers.ProgressFunc) (map[string]any, error) {
			if err := report(runCtx, 25); err != nil {
				return nil, err
			}
			// Shutdown arrives while the handler is mid-flight.
			cancel()
			<-runCtx.Done()
			return nil, runCtx.Err()
		},
	}

	e, requeued := newTestExecutor(store, events, handler)
	e.processTask(ctx, &taskAttempt{msg: msg})

	// The claim is undone so a fresh claim can pick the job up.
	row := store.jobRow("job-1")
	assert.Equal(t, job.StatusPending, row.Status)
	assert.Empty(t, row.TaskID)
	assert.Equal(t, 0, row.Progress)
	assert.Empty(t, row.ErrorMessage)
	assert.Nil(t, row.ResultData)

	// The task goes back on the dispatch queue with its identifiers intact.
	require.Len(t, requeued.msgs(), 1)
	assert.Equal(t, msg, requeued.msgs()[0])

	// No terminal event and no in-process retry for the aborted attempt.
	assert.Equal(t, []string{fanout.TypeJobUpdate}, events.types())
	select {
	case <-e.tasks:
		t.Fatal("shutdown must not schedule an in-process retry")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestProcessTask_RetryLoadFailureReschedules(t *testing.T) {
	store := newFakeStore()
	events := &fakeEvents{}
	msg := seedJob(store)
	store.jobs["job-1"].Status = job.StatusProcessing
	store.jobs["job-1"].TaskID = "task-1"
	store.getErr = errors.New("connection reset by peer")

	invocations := 0
	handler := &stubHandler{
		jobType: job.TypeValidateCSV,
		run: func(context.Context, *handlers.Task, handlers.ProgressFunc) (map[string]any, error) {
			invocations++
			return map[string]any{"row_count": 3}, nil
		},
	}

	e, _ := newTestExecutor(store, events, handler)
	e.processTask(context.Background(), &taskAttempt{msg: msg, attempt: 1})

	// The attempt is rescheduled without running or consuming the budget.
	assert.Equal(t, 0, invocations)
	assert.Equal(t, job.StatusProcessing, store.status("job-1"))
	retry := drainRetry(t, e)
	assert.Equal(t, 1, retry.attempt)

	// Once the store recovers the rescheduled attempt completes the job.
	e.processTask(context.Background(), retry)
	assert.Equal(t, 1, invocations)
	assert.Equal(t, job.StatusCompleted, store.status("job-1"))
}

func TestStop_HandsBackWaitingRetry(t *testing.T) {
	store := newFakeStore()
	events := &fakeEvents{}
	msg := seedJob(store)
	store.jobs["job-1"].Status = job.StatusProcessing
	store.jobs["job-1"].TaskID = "task-1"

	handler := &stubHandler{
		jobType: job.TypeValidateCSV,
		run: func(context.Context, *handlers.Task, handlers.ProgressFunc) (map[string]any, error) {
			t.Fatal("handler must not run during shutdown")
			return nil, nil
		},
	}

	e, requeued := newTestExecutor(store, events, handler)

	// A retry parked on a long backoff when the shutdown arrives.
	e.scheduleRetry(context.Background(), msg, 2, time.Hour)
	e.Stop()

	assert.Equal(t, job.StatusPending, store.status("job-1"))
	require.Len(t, requeued.msgs(), 1)
	assert.Equal(t, "task-1", requeued.msgs()[0].TaskID)
}

func TestRetryDelay_ExponentialSchedule(t *testing.T) {
	e := New(&Config{
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		Concurrency: 1,
		BackoffBase: time.Second,
	})

	assert.Equal(t, 3*time.Second, e.retryDelay(1))
	assert.Equal(t, 9*time.Second, e.retryDelay(2))
	assert.Equal(t, 27*time.Second, e.retryDelay(3))
}

func TestCancelRegistry(t *testing.T) {
	r := newCancelRegistry()

	ctx, cancel := context.WithCancel(context.Background())
	r.register("task-1", cancel)

	assert.False(t, r.cancel("task-unknown"))
	assert.True(t, r.cancel("task-1"))
	assert.Error(t, ctx.Err(), "cancel must fire the task context")
	assert.True(t, r.wasCancelled("task-1"))

	wasCancelled := r.deregister("task-1")
	assert.True(t, wasCancelled)
	assert.False(t, r.wasCancelled("task-1"), "deregister clears the record")
}
