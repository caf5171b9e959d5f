package job

import (
	"encoding/json"
	"time"
)

// Job status values. COMPLETED, FAILED and CANCELLED are terminal.
const (
	StatusPending    = "PENDING"
	StatusProcessing = "PROCESSING"
	StatusCompleted  = "COMPLETED"
	StatusFailed     = "FAILED"
	StatusCancelled  = "CANCELLED"
)

// Job type values, one per handler.
const (
	TypeValidateCSV       = "validate_csv"
	TypeProcessImage      = "process_image"
	TypeGenerateStats     = "generate_statistics"
	TypeConvertFileFormat = "convert_file_format"
)

// Target formats accepted by convert_file_format.
const (
	FormatJSON  = "json"
	FormatExcel = "excel"
)

// Job is one unit of requested asynchronous work against a dataset.
type Job struct {
	JobID        string          `db:"job_id" json:"job_id"`
	OwnerID      string          `db:"owner_id" json:"owner_id"`
	DatasetID    int64           `db:"dataset_id" json:"dataset_id"`
	JobType      string          `db:"job_type" json:"job_type"`
	TargetFormat string          `db:"target_format" json:"target_format,omitempty"`
	Status       string          `db:"status" json:"status"`
	Progress     int             `db:"progress" json:"progress"`
	TaskID       string          `db:"task_id" json:"task_id,omitempty"`
	ErrorMessage string          `db:"error_message" json:"error_message,omitempty"`
	ResultData   json.RawMessage `db:"result_data" json:"result_data,omitempty"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at" json:"updated_at"`
	CompletedAt  *time.Time      `db:"completed_at" json:"completed_at,omitempty"`
}

// Dataset is the read-only file reference a job executes against.
type Dataset struct {
	DatasetID    int64     `db:"dataset_id" json:"dataset_id"`
	OwnerID      string    `db:"owner_id" json:"owner_id"`
	Name         string    `db:"name" json:"name"`
	FilePath     string    `db:"file_path" json:"file_path"`
	OriginalName string    `db:"original_name" json:"original_name"`
	ContentType  string    `db:"content_type" json:"content_type"`
	SizeBytes    int64     `db:"size_bytes" json:"size_bytes"`
	FileHash     string    `db:"file_hash" json:"file_hash"`
	ImageWidth   *int      `db:"image_width" json:"image_width,omitempty"`
	ImageHeight  *int      `db:"image_height" json:"image_height,omitempty"`
	UploadedAt   time.Time `db:"uploaded_at" json:"uploaded_at"`
}

// IsTerminal reports whether a status permits no further transitions.
func IsTerminal(status string) bool {
	switch status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// CanTransition reports whether a status change follows the job state machine:
// PENDING -> PROCESSING -> {COMPLETED, FAILED, CANCELLED}.
func CanTransition(from, to string) bool {
	switch from {
	case StatusPending:
		return to == StatusProcessing
	case StatusProcessing:
		return IsTerminal(to)
	}
	return false
}

// ValidType reports whether t names a known job type.
func ValidType(t string) bool {
	switch t {
	case TypeValidateCSV, TypeProcessImage, TypeGenerateStats, TypeConvertFileFormat:
		return true
	}
	return false
}

// ValidTargetFormat reports whether f is a supported conversion target.
func ValidTargetFormat(f string) bool {
	return f == FormatJSON || f == FormatExcel
}

// CanAccess is the authorization capability check: a requester may only
// operate on their own jobs.
func CanAccess(j *Job, requesterID string) bool {
	return j != nil && requesterID != "" && j.OwnerID == requesterID
}
