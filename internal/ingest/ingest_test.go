package ingest

import (
	"bytes"
	"image"
	"image/png"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pngBytes(t *testing.T, width, height int) []byte {
	t.Helper()
	var buf bytes.Buffer
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestDetectContentType(t *testing.T) {
	tests := []struct {
		name     string
		fileName string
		data     []byte
		expected string
	}{
		{
			name:     "png magic number",
			fileName: "photo.png",
			data:     []byte("\x89PNG\r\n\x1a\n rest"),
			expected: "image/png",
		},
		{
			name:     "jpeg magic number",
			fileName: "photo.jpg",
			data:     []byte("\xff\xd8\xff\xe0 rest"),
			expected: "image/jpeg",
		},
		{
			name:     "gif magic number",
			fileName: "anim.gif",
			data:     []byte("GIF89a rest"),
			expected: "image/gif",
		},
		{
			name:     "csv resolved by extension",
			fileName: "data.csv",
			data:     []byte("id,name\n1,alpha\n"),
			expected: "text/csv",
		},
		{
			name:     "plain text without csv extension stays text",
			fileName: "notes.txt",
			data:     []byte("just some words"),
			expected: "text/plain",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, DetectContentType(tt.fileName, tt.data))
		})
	}
}

func TestAllowed(t *testing.T) {
	tests := []struct {
		name        string
		fileName    string
		contentType string
		expected    bool
	}{
		{"csv content type", "data.csv", "text/csv", true},
		{"png content type", "photo.png", "image/png", true},
		{"xlsx content type", "sheet.xlsx", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", true},
		{"extension fallback", "photo.JPG", "application/octet-stream", true},
		{"executable rejected", "tool.exe", "application/octet-stream", false},
		{"pdf rejected", "doc.pdf", "application/pdf", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Allowed(tt.fileName, tt.contentType))
		})
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"plain name untouched", "report_2024.csv", "report_2024.csv"},
		{"path traversal stripped", "../../etc/passwd", "etc_passwd"},
		{"backslashes stripped", `..\..\boot.ini`, "boot.ini"},
		{"spaces and unicode replaced", "my file (1).csv", "my_file__1_.csv"},
		{"hidden file prefix removed", ".bashrc", "bashrc"},
		{"null bytes removed", "a\x00b.csv", "ab.csv"},
		{"empty falls back", "", "file"},
		{"only unsafe chars falls back", "..//", "file"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SanitizeFilename(tt.input))
		})
	}
}

func TestUniqueName(t *testing.T) {
	first := UniqueName("photo.png")
	second := UniqueName("photo.png")

	assert.True(t, strings.HasSuffix(first, ".png"))
	assert.NotEqual(t, first, second)
	assert.Len(t, first, 32+len(".png"))

	assert.NotContains(t, UniqueName("noext"), ".")
}

func TestFileHash(t *testing.T) {
	// sha256("hello") is a fixed vector.
	assert.Equal(t,
		"2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824",
		FileHash([]byte("hello")),
	)

	assert.Equal(t, FileHash([]byte("same")), FileHash([]byte("same")))
	assert.NotEqual(t, FileHash([]byte("a")), FileHash([]byte("b")))
}

func TestExtractImageMeta(t *testing.T) {
	meta, ok := ExtractImageMeta(pngBytes(t, 640, 480))
	require.True(t, ok)
	assert.Equal(t, 640, meta.Width)
	assert.Equal(t, 480, meta.Height)
	assert.Equal(t, "png", meta.Format)

	_, ok = ExtractImageMeta([]byte("id,name\n1,alpha\n"))
	assert.False(t, ok)
}

func TestScanForViruses(t *testing.T) {
	assert.NoError(t, ScanForViruses([]byte("anything")))
}
