package job

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmitRequest_Validate(t *testing.T) {
	tests := []struct {
		name      string
		req       SubmitRequest
		wantErr   bool
		errString string
	}{
		{
			name:    "valid csv validation",
			req:     SubmitRequest{DatasetID: 5, JobType: TypeValidateCSV},
			wantErr: false,
		},
		{
			name:    "valid conversion to json",
			req:     SubmitRequest{DatasetID: 7, JobType: TypeConvertFileFormat, TargetFormat: "json"},
			wantErr: false,
		},
		{
			name:    "valid conversion to excel",
			req:     SubmitRequest{DatasetID: 7, JobType: TypeConvertFileFormat, TargetFormat: "excel"},
			wantErr: false,
		},
		{
			name:      "missing job type",
			req:       SubmitRequest{DatasetID: 1},
			wantErr:   true,
			errString: "job_type",
		},
		{
			name:      "unknown job type",
			req:       SubmitRequest{DatasetID: 1, JobType: "shred_files"},
			wantErr:   true,
			errString: "unknown job type",
		},
		{
			name:      "conversion without target format",
			req:       SubmitRequest{DatasetID: 7, JobType: TypeConvertFileFormat},
			wantErr:   true,
			errString: "target_format",
		},
		{
			name:      "conversion to unsupported format",
			req:       SubmitRequest{DatasetID: 7, JobType: TypeConvertFileFormat, TargetFormat: "parquet"},
			wantErr:   true,
			errString: "must be one of",
		},
		{
			name:      "target format on non-conversion job",
			req:       SubmitRequest{DatasetID: 3, JobType: TypeGenerateStats, TargetFormat: "json"},
			wantErr:   true,
			errString: "only valid for convert_file_format",
		},
		{
			name:      "zero dataset id",
			req:       SubmitRequest{DatasetID: 0, JobType: TypeValidateCSV},
			wantErr:   true,
			errString: "dataset_id",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
				assert.True(t, IsValidation(err), "expected a validation error")
			} else {
				require.NoError(t, err)
			}
		})
	}
}
