package dto

import (
	"encoding/json"
	"time"

	"github.com/mlplatform/backend/internal/job"
)

type ListJobsRequest struct {
	JobType  string `form:"job_type"`
	Status   string `form:"status"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

type ListJobsResponse struct {
	Jobs       []JobDTO `json:"jobs"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

type JobDTO struct {
	JobID        string          `json:"job_id"`
	OwnerID      string          `json:"owner_id"`
	DatasetID    int64           `json:"dataset_id"`
	JobType      string          `json:"job_type"`
	TargetFormat string          `json:"target_format,omitempty"`
	Status       string          `json:"status"`
	Progress     int             `json:"progress"`
	TaskID       string          `json:"task_id,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	ResultData   json.RawMessage `json:"result_data,omitempty"`
	CreatedAt    string          `json:"created_at"`
	UpdatedAt    string          `json:"updated_at"`
	CompletedAt  string          `json:"completed_at,omitempty"`
}

// NewJobDTO maps a job row onto the wire representation.
func NewJobDTO(j *job.Job) JobDTO {
	d := JobDTO{
		JobID:        j.JobID,
		OwnerID:      j.OwnerID,
		DatasetID:    j.DatasetID,
		JobType:      j.JobType,
		TargetFormat: j.TargetFormat,
		Status:       j.Status,
		Progress:     j.Progress,
		TaskID:       j.TaskID,
		ErrorMessage: j.ErrorMessage,
		ResultData:   j.ResultData,
		CreatedAt:    j.CreatedAt.Format(time.RFC3339),
		UpdatedAt:    j.UpdatedAt.Format(time.RFC3339),
	}
	if j.CompletedAt != nil {
		d.CompletedAt = j.CompletedAt.Format(time.RFC3339)
	}
	return d
}

type JobResultResponse struct {
	JobID      string          `json:"job_id"`
	Status     string          `json:"status"`
	ResultData json.RawMessage `json:"result_data"`
}

type DatasetDTO struct {
	DatasetID    int64  `json:"dataset_id"`
	OwnerID      string `json:"owner_id"`
	Name         string `json:"name"`
	FilePath     string `json:"file_path"`
	OriginalName string `json:"original_name"`
	ContentType  string `json:"content_type"`
	SizeBytes    int64  `json:"size_bytes"`
	FileHash     string `json:"file_hash"`
	ImageWidth   *int   `json:"image_width,omitempty"`
	ImageHeight  *int   `json:"image_height,omitempty"`
	UploadedAt   string `json:"uploaded_at"`
}

// NewDatasetDTO maps a dataset row onto the wire representation.
func NewDatasetDTO(d *job.Dataset) DatasetDTO {
	return DatasetDTO{
		DatasetID:    d.DatasetID,
		OwnerID:      d.OwnerID,
		Name:         d.Name,
		FilePath:     d.FilePath,
		OriginalName: d.OriginalName,
		ContentType:  d.ContentType,
		SizeBytes:    d.SizeBytes,
		FileHash:     d.FileHash,
		ImageWidth:   d.ImageWidth,
		ImageHeight:  d.ImageHeight,
		UploadedAt:   d.UploadedAt.Format(time.RFC3339),
	}
}
