// Package ingest holds the data-contract helpers for dataset uploads:
// content sniffing, dedup hashing, filename handling and image metadata.
package ingest

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"image"
	"path/filepath"
	"regexp"
	"strings"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

// MaxUploadSize caps dataset uploads at 100 MiB.
const MaxUploadSize = 100 << 20

// allowedExtensions is the fallback allow-list when content sniffing is
// inconclusive (plain text has no reliable magic number).
var allowedExtensions = map[string]bool{
	".csv":  true,
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".xls":  true,
	".xlsx": true,
}

// DetectContentType sniffs the content type from the file's leading bytes.
// CSV cannot be recognized by magic number, so a .csv extension overrides a
// generic text detection.
func DetectContentType(name string, data []byte) string {
	detected := mimetype.Detect(data)

	if strings.EqualFold(filepath.Ext(name), ".csv") && strings.HasPrefix(detected.String(), "text/") {
		return "text/csv"
	}

	// Strip parameters such as "; charset=utf-8".
	ct := detected.String()
	if idx := strings.Index(ct, ";"); idx >= 0 {
		ct = strings.TrimSpace(ct[:idx])
	}
	return ct
}

// Allowed reports whether the upload is acceptable: CSV, images, or the
// common spreadsheet types, checked by sniffed type first and extension as
// the fallback.
func Allowed(name, contentType string) bool {
	switch {
	case contentType == "text/csv":
		return true
	case strings.HasPrefix(contentType, "image/"):
		return true
	case contentType == "application/vnd.ms-excel",
		contentType == "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":
		return true
	}
	return allowedExtensions[strings.ToLower(filepath.Ext(name))]
}

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// SanitizeFilename strips path separators and anything outside the safe
// character set, and refuses hidden-file names.
func SanitizeFilename(name string) string {
	name = strings.NewReplacer("\\", "", "/", "", "\x00", "").Replace(name)
	name = unsafeChars.ReplaceAllString(name, "_")
	name = strings.TrimLeft(name, ".-")
	if name == "" {
		return "file"
	}
	return name
}

// UniqueName builds a collision-free stored name, preserving the original
// extension.
func UniqueName(originalName string) string {
	ext := filepath.Ext(originalName)
	return strings.ReplaceAll(uuid.New().String(), "-", "") + ext
}

// FileHash returns the hex SHA-256 of the content, used for duplicate
// detection via the unique file_hash column.
func FileHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ImageMeta carries the dimensions of an uploaded image.
type ImageMeta struct {
	Width  int
	Height int
	Format string
}

// ExtractImageMeta decodes just the image header. Returns false for
// non-image content.
func ExtractImageMeta(data []byte) (*ImageMeta, bool) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, false
	}
	return &ImageMeta{Width: cfg.Width, Height: cfg.Height, Format: format}, true
}

// ScanForViruses is a placeholder for a real scanner integration (ClamAV or
// similar). It always reports the content as clean.
func ScanForViruses(data []byte) error {
	return nil
}
