package executor

import (
	"context"
	"sync"
)

// cancelRegistry maps in-flight task ids to their cancel functions. The task
// id acts as the capability a cancellation request is addressed to; only the
// worker actually holding the task resolves it.
type cancelRegistry struct {
	mu    sync.Mutex
	tasks map[string]context.CancelFunc
	// cancelled remembers ids cancelled through the registry so the worker
	// can tell an operator cancellation from a timeout or shutdown.
	cancelled map[string]struct{}
}

func newCancelRegistry() *cancelRegistry {
	return &cancelRegistry{
		tasks:     make(map[string]context.CancelFunc),
		cancelled: make(map[string]struct{}),
	}
}

// register binds a cancel function to a task id for the task's lifetime.
func (r *cancelRegistry) register(taskID string, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks[taskID] = cancel
}

// deregister removes a finished task and reports whether it had been
// cancelled while running.
func (r *cancelRegistry) deregister(taskID string) (wasCancelled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tasks, taskID)
	_, wasCancelled = r.cancelled[taskID]
	delete(r.cancelled, taskID)
	return wasCancelled
}

// cancel terminates the task if this worker holds it. Returns false when the
// task id is unknown here (another worker owns it, or it already finished).
func (r *cancelRegistry) cancel(taskID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cancelFn, ok := r.tasks[taskID]
	if !ok {
		return false
	}
	r.cancelled[taskID] = struct{}{}
	cancelFn()
	return true
}

// wasCancelled reports whether the task was cancelled through the registry.
func (r *cancelRegistry) wasCancelled(taskID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.cancelled[taskID]
	return ok
}
