package handler

import (
	"context"
	"log/slog"

	"github.com/mlplatform/backend/internal/blob"
	"github.com/mlplatform/backend/internal/fanout"
	"github.com/mlplatform/backend/internal/job"
	"github.com/mlplatform/backend/internal/job/store"
	"github.com/mlplatform/backend/internal/queue"
)

// OwnerKey is the gin context key the identity middleware sets.
const OwnerKey = "owner_id"

// Store is the slice of the job store the API writes through.
type Store interface {
	CreateJob(ctx context.Context, j *job.Job) error
	GetJob(ctx context.Context, jobID string) (*job.Job, error)
	SetTaskID(ctx context.Context, jobID, taskID string) error
	CancelJob(ctx context.Context, jobID string) (*job.Job, error)
	ListJobs(ctx context.Context, filter store.JobFilter) ([]job.Job, error)
	CreateDataset(ctx context.Context, d *job.Dataset) (int64, error)
	GetDataset(ctx context.Context, datasetID int64, ownerID string) (*job.Dataset, error)
	DatasetHashExists(ctx context.Context, fileHash string) (bool, error)
}

// Broker hands submissions and cancellation signals to the message queue.
type Broker interface {
	Enqueue(ctx context.Context, msg queue.TaskMessage) (string, error)
	PublishCancel(ctx context.Context, taskID, jobID string) error
}

// HealthChecker reports backing-store liveness for the health endpoint.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger *slog.Logger
	Store  Store
	Broker Broker
	Hub    *fanout.Hub
	Blobs  blob.LocalFS
	Health HealthChecker
}

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	logger *slog.Logger
	store  Store
	broker Broker
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger: deps.Logger,
		store:  deps.Store,
		broker: deps.Broker,
	}
}

// DatasetHandler handles dataset upload requests
type DatasetHandler struct {
	logger *slog.Logger
	store  Store
	blobs  blob.LocalFS
}

// NewDatasetHandler creates a new DatasetHandler instance
func NewDatasetHandler(deps *Dependencies) *DatasetHandler {
	return &DatasetHandler{
		logger: deps.Logger,
		store:  deps.Store,
		blobs:  deps.Blobs,
	}
}
