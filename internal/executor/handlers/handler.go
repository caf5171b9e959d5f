// Package handlers contains one handler per job type. Each handler reads
// dataset content, reports progress at fixed semantic checkpoints and
// produces the job's result payload.
package handlers

import (
	"context"
	"fmt"

	"github.com/mlplatform/backend/internal/blob"
	"github.com/mlplatform/backend/internal/job"
)

// Task is the unit of work a handler executes: the claimed job plus its
// resolved dataset reference.
type Task struct {
	Job     *job.Job
	Dataset *job.Dataset
}

// ProgressFunc persists a progress checkpoint and fans it out to listeners.
// Handlers call it at fixed milestones; a non-nil error (cancellation) must
// abort the handler.
type ProgressFunc func(ctx context.Context, progress int) error

// Handler executes one job type against a dataset.
type Handler interface {
	Type() string
	Run(ctx context.Context, t *Task, report ProgressFunc) (map[string]any, error)
}

// Registry maps job types to their handlers.
type Registry map[string]Handler

// NewRegistry builds the full handler set over a blob store.
func NewRegistry(blobs blob.LocalFS) Registry {
	r := Registry{}
	for _, h := range []Handler{
		&CSVValidator{blobs: blobs},
		&ImageProcessor{blobs: blobs},
		&StatisticsGenerator{blobs: blobs},
		&FormatConverter{blobs: blobs},
	} {
		r[h.Type()] = h
	}
	return r
}

// Lookup resolves the handler for a job type.
func (r Registry) Lookup(jobType string) (Handler, error) {
	h, ok := r[jobType]
	if !ok {
		return nil, fmt.Errorf("no handler registered for job type %q", jobType)
	}
	return h, nil
}
