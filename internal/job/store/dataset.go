package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mlplatform/backend/internal/job"
)

const datasetColumns = `
	dataset_id, owner_id, name, file_path, original_name, content_type,
	size_bytes, file_hash, image_width, image_height, uploaded_at
`

// CreateDataset inserts an uploaded dataset record and returns its id.
func (s *Storage) CreateDataset(ctx context.Context, d *job.Dataset) (int64, error) {
	query := `
		INSERT INTO datasets (
			owner_id, name, file_path, original_name, content_type,
			size_bytes, file_hash, image_width, image_height, uploaded_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		RETURNING dataset_id
	`

	var id int64
	err := s.db.GetContext(ctx, &id, query,
		d.OwnerID, d.Name, d.FilePath, d.OriginalName, d.ContentType,
		d.SizeBytes, d.FileHash, d.ImageWidth, d.ImageHeight,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to create dataset: %w", err)
	}

	s.logger.Info("Dataset created",
		slog.Int64("dataset_id", id),
		slog.String("owner_id", d.OwnerID),
		slog.String("file_path", d.FilePath),
	)

	return id, nil
}

// GetDataset resolves a dataset reference scoped to its owner. The core
// fails closed: a dataset that exists but belongs to someone else looks
// exactly like one that does not exist.
func (s *Storage) GetDataset(ctx context.Context, datasetID int64, ownerID string) (*job.Dataset, error) {
	var d job.Dataset
	query := `SELECT ` + datasetColumns + ` FROM datasets WHERE dataset_id = $1 AND owner_id = $2`

	if err := s.db.GetContext(ctx, &d, query, datasetID, ownerID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, job.ErrDatasetNotFound
		}
		return nil, fmt.Errorf("failed to get dataset: %w", err)
	}

	return &d, nil
}

// DatasetHashExists reports whether a dataset with the given content hash is
// already stored. Used for upload dedup.
func (s *Storage) DatasetHashExists(ctx context.Context, fileHash string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM datasets WHERE file_hash = $1)`

	if err := s.db.GetContext(ctx, &exists, query, fileHash); err != nil {
		return false, fmt.Errorf("failed to check dataset hash: %w", err)
	}

	return exists, nil
}
