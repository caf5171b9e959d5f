package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/mlplatform/backend/internal/api/dto"
	"github.com/mlplatform/backend/internal/job"
	"github.com/mlplatform/backend/internal/job/store"
	"github.com/mlplatform/backend/internal/queue"
)

// SubmitJob handles POST /api/v1/jobs
// Validates the submission, creates the PENDING row and enqueues the task.
func (h *JobHandler) SubmitJob(c *gin.Context) {
	ownerID := c.GetString(OwnerKey)

	var req job.SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	// Shape validation rejects the submission before any row exists.
	if err := req.Validate(); err != nil {
		h.logger.Warn("Job submission rejected",
			slog.String("owner_id", ownerID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusBadRequest, gin.H{
			"error": err.Error(),
		})
		return
	}

	// Dataset resolution is owner scoped and fails closed.
	if _, err := h.store.GetDataset(c.Request.Context(), req.DatasetID, ownerID); err != nil {
		if errors.Is(err, job.ErrDatasetNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Dataset not found",
			})
			return
		}
		h.logger.Error("Failed to resolve dataset", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to resolve dataset",
		})
		return
	}

	j := &job.Job{
		JobID:        uuid.New().String(),
		OwnerID:      ownerID,
		DatasetID:    req.DatasetID,
		JobType:      req.JobType,
		TargetFormat: req.TargetFormat,
		Status:       job.StatusPending,
	}

	if err := h.store.CreateJob(c.Request.Context(), j); err != nil {
		h.logger.Error("Failed to create job", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to create job",
		})
		return
	}

	taskID, err := h.broker.Enqueue(c.Request.Context(), queue.TaskMessage{
		JobID:        j.JobID,
		DatasetID:    j.DatasetID,
		OwnerID:      j.OwnerID,
		JobType:      j.JobType,
		TargetFormat: j.TargetFormat,
	})
	if err != nil {
		// The PENDING row stays; a broker outage must not lose the record.
		h.logger.Error("Failed to enqueue job",
			slog.String("job_id", j.JobID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to enqueue job",
		})
		return
	}

	if err := h.store.SetTaskID(c.Request.Context(), j.JobID, taskID); err != nil {
		h.logger.Error("Failed to record task id",
			slog.String("job_id", j.JobID),
			slog.String("error", err.Error()),
		)
	}
	j.TaskID = taskID

	c.JSON(http.StatusCreated, dto.NewJobDTO(j))
}

// GetJob handles GET /api/v1/jobs/:job_id
// Retrieves the full job record for its owner.
func (h *JobHandler) GetJob(c *gin.Context) {
	j, ok := h.resolveOwnedJob(c)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, dto.NewJobDTO(j))
}

// GetJobResult handles GET /api/v1/jobs/:job_id/result
// Returns the result payload of a COMPLETED job.
func (h *JobHandler) GetJobResult(c *gin.Context) {
	j, ok := h.resolveOwnedJob(c)
	if !ok {
		return
	}

	if j.Status != job.StatusCompleted {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Job has not completed",
		})
		return
	}

	c.JSON(http.StatusOK, dto.JobResultResponse{
		JobID:      j.JobID,
		Status:     j.Status,
		ResultData: j.ResultData,
	})
}

// CancelJob handles POST /api/v1/jobs/:job_id/cancel
// Moves a PROCESSING job to CANCELLED and broadcasts termination to workers.
func (h *JobHandler) CancelJob(c *gin.Context) {
	j, ok := h.resolveOwnedJob(c)
	if !ok {
		return
	}

	cancelled, err := h.store.CancelJob(c.Request.Context(), j.JobID)
	if err != nil {
		if errors.Is(err, job.ErrInvalidState) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Only PROCESSING jobs can be cancelled",
			})
			return
		}
		if errors.Is(err, job.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Job not found",
			})
			return
		}
		h.logger.Error("Failed to cancel job",
			slog.String("job_id", j.JobID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to cancel job",
		})
		return
	}

	// The row already reads CANCELLED; the broadcast only interrupts the
	// in-flight handler, so a delivery failure is not the caller's problem.
	if err := h.broker.PublishCancel(c.Request.Context(), cancelled.TaskID, cancelled.JobID); err != nil {
		h.logger.Warn("Failed to broadcast cancellation",
			slog.String("job_id", cancelled.JobID),
			slog.String("task_id", cancelled.TaskID),
			slog.String("error", err.Error()),
		)
	}

	c.JSON(http.StatusOK, dto.NewJobDTO(cancelled))
}

// ListJobs handles GET /api/v1/jobs
// Lists the requester's jobs with optional filtering and cursor pagination.
func (h *JobHandler) ListJobs(c *gin.Context) {
	ownerID := c.GetString(OwnerKey)

	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Error("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = 20
	}
	if req.PageSize > 100 {
		req.PageSize = 100
	}

	cursor, err := DecodeJobCursor(req.Cursor)
	if err != nil {
		h.logger.Error("Invalid cursor", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid cursor",
		})
		return
	}

	filter := store.JobFilter{
		OwnerID:  ownerID,
		JobType:  req.JobType,
		Status:   req.Status,
		PageSize: req.PageSize,
		Cursor:   cursor,
	}

	jobs, err := h.store.ListJobs(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("Failed to list jobs", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list jobs",
		})
		return
	}

	hasMore := len(jobs) > req.PageSize
	if hasMore {
		jobs = jobs[:req.PageSize]
	}

	jobResponse := make([]dto.JobDTO, len(jobs))
	for i := range jobs {
		jobResponse[i] = dto.NewJobDTO(&jobs[i])
	}

	var nextCursor string
	if hasMore {
		last := jobs[len(jobs)-1]
		nextCursor = EncodeJobCursor(&store.JobCursor{
			CreatedAt: last.CreatedAt,
			JobID:     last.JobID,
		})
	}

	c.JSON(http.StatusOK, dto.ListJobsResponse{
		Jobs:       jobResponse,
		NextCursor: nextCursor,
	})
}

// resolveOwnedJob loads the :job_id route parameter and enforces the owner
// capability check, writing the error response itself on failure.
func (h *JobHandler) resolveOwnedJob(c *gin.Context) (*job.Job, bool) {
	jobID := c.Param("job_id")

	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return nil, false
	}

	j, err := h.store.GetJob(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, job.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Job not found",
			})
			return nil, false
		}
		h.logger.Error("Failed to get job", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get job",
		})
		return nil, false
	}

	if !job.CanAccess(j, c.GetString(OwnerKey)) {
		c.JSON(http.StatusForbidden, gin.H{
			"error": "Forbidden",
		})
		return nil, false
	}

	return j, true
}
