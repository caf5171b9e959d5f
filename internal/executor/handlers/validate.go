package handlers

import (
	"context"
	"fmt"

	"github.com/mlplatform/backend/internal/blob"
	"github.com/mlplatform/backend/internal/job"
)

// CSVValidator parses tabular content and reports row and header counts.
// Checkpoints: 25 (file loaded), 75 (parsed).
type CSVValidator struct {
	blobs blob.LocalFS
}

func (h *CSVValidator) Type() string { return job.TypeValidateCSV }

func (h *CSVValidator) Run(ctx context.Context, t *Task, report ProgressFunc) (map[string]any, error) {
	f, err := h.blobs.Open(t.Dataset.FilePath)
	if err != nil {
		return nil, job.NewTransientError(fmt.Errorf("failed to open dataset file: %w", err))
	}
	defer f.Close()

	if err := report(ctx, 25); err != nil {
		return nil, err
	}

	headers, rows, err := readTable(f)
	if err != nil {
		return nil, err
	}

	if err := report(ctx, 75); err != nil {
		return nil, err
	}

	return map[string]any{
		"is_valid":     len(rows) > 0,
		"row_count":    len(rows),
		"headers":      headers,
		"header_count": len(headers),
	}, nil
}
