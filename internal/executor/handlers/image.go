package handlers

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/mlplatform/backend/internal/blob"
	"github.com/mlplatform/backend/internal/job"
)

// Bounding boxes for the processed outputs; aspect ratio is preserved.
const (
	resizeMaxWidth  = 800
	resizeMaxHeight = 600
	thumbMaxWidth   = 200
	thumbMaxHeight  = 200
)

// ImageProcessor decodes an image and writes a bounded resize plus a
// thumbnail. Checkpoints: 30 (decoded), 50 (resizing), 75 (thumbnailing).
type ImageProcessor struct {
	blobs blob.LocalFS
}

func (h *ImageProcessor) Type() string { return job.TypeProcessImage }

func (h *ImageProcessor) Run(ctx context.Context, t *Task, report ProgressFunc) (map[string]any, error) {
	f, err := h.blobs.Open(t.Dataset.FilePath)
	if err != nil {
		return nil, job.NewTransientError(fmt.Errorf("failed to open dataset file: %w", err))
	}
	defer f.Close()

	src, format, err := image.Decode(f)
	if err != nil {
		return nil, job.NewTransientError(fmt.Errorf("failed to decode image: %w", err))
	}

	if err := report(ctx, 30); err != nil {
		return nil, err
	}

	bounds := src.Bounds()
	originalSize := []int{bounds.Dx(), bounds.Dy()}

	if err := report(ctx, 50); err != nil {
		return nil, err
	}

	resizedPath := fmt.Sprintf("processed/%d_resized.jpg", t.Dataset.DatasetID)
	resized := imaging.Fit(src, resizeMaxWidth, resizeMaxHeight, imaging.Lanczos)
	if err := h.saveJPEG(resizedPath, resized); err != nil {
		return nil, err
	}

	if err := report(ctx, 75); err != nil {
		return nil, err
	}

	thumbPath := fmt.Sprintf("processed/%d_thumb.jpg", t.Dataset.DatasetID)
	thumb := imaging.Fit(src, thumbMaxWidth, thumbMaxHeight, imaging.Lanczos)
	if err := h.saveJPEG(thumbPath, thumb); err != nil {
		return nil, err
	}

	return map[string]any{
		"original_size":  originalSize,
		"resized_path":   resizedPath,
		"thumbnail_path": thumbPath,
		"format":         strings.ToUpper(format),
	}, nil
}

func (h *ImageProcessor) saveJPEG(path string, img image.Image) error {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG); err != nil {
		return job.NewTransientError(fmt.Errorf("failed to encode image: %w", err))
	}
	if _, err := h.blobs.Put(path, &buf); err != nil {
		return job.NewTransientError(fmt.Errorf("failed to write image output: %w", err))
	}
	return nil
}
