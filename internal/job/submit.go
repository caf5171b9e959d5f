package job

// SubmitRequest is the submission payload the controller accepts.
type SubmitRequest struct {
	DatasetID    int64  `json:"dataset_id"`
	JobType      string `json:"job_type"`
	TargetFormat string `json:"target_format,omitempty"`
}

// Validate checks the submission shape. target_format is required and
// non-empty iff job_type is convert_file_format; for every other job type
// it must be absent.
func (r *SubmitRequest) Validate() error {
	if r.DatasetID <= 0 {
		return NewValidationError("dataset_id", "must be a positive integer")
	}

	if r.JobType == "" {
		return NewValidationError("job_type", "is required")
	}

	if !ValidType(r.JobType) {
		return NewValidationError("job_type", "unknown job type: "+r.JobType)
	}

	if r.JobType == TypeConvertFileFormat {
		if r.TargetFormat == "" {
			return NewValidationError("target_format", "is required for convert_file_format")
		}
		if !ValidTargetFormat(r.TargetFormat) {
			return NewValidationError("target_format", "must be one of: json, excel")
		}
		return nil
	}

	if r.TargetFormat != "" {
		return NewValidationError("target_format", "is only valid for convert_file_format")
	}

	return nil
}
