package handler

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"path"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mlplatform/backend/internal/api/dto"
	"github.com/mlplatform/backend/internal/ingest"
	"github.com/mlplatform/backend/internal/job"
)

// UploadDataset handles POST /api/v1/datasets
// Accepts a multipart upload, validates the content and stores the dataset.
func (h *DatasetHandler) UploadDataset(c *gin.Context) {
	ownerID := c.GetString(OwnerKey)

	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "No file provided",
		})
		return
	}

	if fileHeader.Size > ingest.MaxUploadSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{
			"error": "File size exceeds 100 MiB limit",
		})
		return
	}

	f, err := fileHeader.Open()
	if err != nil {
		h.logger.Error("Failed to open upload", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to read upload",
		})
		return
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, ingest.MaxUploadSize+1))
	if err != nil {
		h.logger.Error("Failed to read upload", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to read upload",
		})
		return
	}
	if len(data) > ingest.MaxUploadSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{
			"error": "File size exceeds 100 MiB limit",
		})
		return
	}

	contentType := ingest.DetectContentType(fileHeader.Filename, data)
	if !ingest.Allowed(fileHeader.Filename, contentType) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Unsupported file type. Only CSV, image and spreadsheet files are allowed",
		})
		return
	}

	if err := ingest.ScanForViruses(data); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "File failed virus scan",
		})
		return
	}

	fileHash := ingest.FileHash(data)
	exists, err := h.store.DatasetHashExists(c.Request.Context(), fileHash)
	if err != nil {
		h.logger.Error("Failed to check file hash", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to check for duplicates",
		})
		return
	}
	if exists {
		c.JSON(http.StatusConflict, gin.H{
			"error": "A file with identical content has already been uploaded",
		})
		return
	}

	safeName := ingest.SanitizeFilename(fileHeader.Filename)
	storedPath, err := h.blobs.Put(path.Join("datasets", ingest.UniqueName(safeName)), bytes.NewReader(data))
	if err != nil {
		h.logger.Error("Failed to store upload", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to store upload",
		})
		return
	}

	name := c.PostForm("name")
	if name == "" {
		name = safeName
	}

	d := &job.Dataset{
		OwnerID:      ownerID,
		Name:         name,
		FilePath:     storedPath,
		OriginalName: fileHeader.Filename,
		ContentType:  contentType,
		SizeBytes:    int64(len(data)),
		FileHash:     fileHash,
	}

	if meta, ok := ingest.ExtractImageMeta(data); ok {
		d.ImageWidth = &meta.Width
		d.ImageHeight = &meta.Height
	}

	id, err := h.store.CreateDataset(c.Request.Context(), d)
	if err != nil {
		h.logger.Error("Failed to create dataset", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to create dataset",
		})
		return
	}
	d.DatasetID = id
	d.UploadedAt = time.Now()

	h.logger.Info("Dataset uploaded",
		slog.Int64("dataset_id", id),
		slog.String("owner_id", ownerID),
		slog.String("content_type", contentType),
		slog.Int("size_bytes", len(data)),
	)

	c.JSON(http.StatusCreated, dto.NewDatasetDTO(d))
}
