package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/mlplatform/backend/internal/blob"
	"github.com/mlplatform/backend/internal/job"
)

// FormatConverter re-encodes tabular content to json or excel.
// Checkpoints: 25 (loaded), 50 (parsed), 75 (converted). An unknown target
// format is a terminal failure, never retried.
type FormatConverter struct {
	blobs blob.LocalFS
}

func (h *FormatConverter) Type() string { return job.TypeConvertFileFormat }

func (h *FormatConverter) Run(ctx context.Context, t *Task, report ProgressFunc) (map[string]any, error) {
	target := t.Job.TargetFormat
	if !job.ValidTargetFormat(target) {
		return nil, fmt.Errorf("%w: %q", job.ErrUnsupportedFormat, target)
	}

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

	if err := report(ctx, 50); err != nil {
		return nil, err
	}

	var outputPath string
	switch target {
	case job.FormatJSON:
		outputPath, err = h.writeJSON(t.Dataset.DatasetID, rows)
	case job.FormatExcel:
		outputPath, err = h.writeExcel(t.Dataset.DatasetID, headers, rows)
	}
	if err != nil {
		return nil, err
	}

	if err := report(ctx, 75); err != nil {
		return nil, err
	}

	return map[string]any{
		"original_format": "csv",
		"target_format":   target,
		"output_path":     outputPath,
		"row_count":       len(rows),
	}, nil
}

func (h *FormatConverter) writeJSON(datasetID int64, rows []map[string]string) (string, error) {
	content, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode rows as JSON: %w", err)
	}

	path := fmt.Sprintf("converted/%d_converted.json", datasetID)
	if _, err := h.blobs.Put(path, bytes.NewReader(content)); err != nil {
		return "", job.NewTransientError(fmt.Errorf("failed to write JSON output: %w", err))
	}
	return path, nil
}

func (h *FormatConverter) writeExcel(datasetID int64, headers []string, rows []map[string]string) (string, error) {
	wb := excelize.NewFile()
	defer wb.Close()

	sheet := wb.GetSheetName(0)

	for col, header := range headers {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return "", fmt.Errorf("failed to address header cell: %w", err)
		}
		if err := wb.SetCellValue(sheet, cell, header); err != nil {
			return "", fmt.Errorf("failed to write header cell: %w", err)
		}
	}

	for rowIdx, row := range rows {
		for colIdx, header := range headers {
			cell, err := excelize.CoordinatesToCellName(colIdx+1, rowIdx+2)
			if err != nil {
				return "", fmt.Errorf("failed to address data cell: %w", err)
			}
			if err := wb.SetCellValue(sheet, cell, row[header]); err != nil {
				return "", fmt.Errorf("failed to write data cell: %w", err)
			}
		}
	}

	var buf bytes.Buffer
	if err := wb.Write(&buf); err != nil {
		return "", fmt.Errorf("failed to encode workbook: %w", err)
	}

	path := fmt.Sprintf("converted/%d_converted.xlsx", datasetID)
	if _, err := h.blobs.Put(path, &buf); err != nil {
		return "", job.NewTransientError(fmt.Errorf("failed to write Excel output: %w", err))
	}
	return path, nil
}
