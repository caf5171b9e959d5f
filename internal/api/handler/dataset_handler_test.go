package handler_test

import (
	"bytes"
	"encoding/json"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlplatform/backend/internal/api/dto"
)

func (e *testEnv) upload(t *testing.T, ownerID, fileName string, content []byte) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", fileName)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/datasets", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	if ownerID != "" {
		req.Header.Set("X-Owner-ID", ownerID)
	}

	rec := httptest.NewRecorder()
	e.engine.ServeHTTP(rec, req)
	return rec
}

func TestUploadDataset_CSV(t *testing.T) {
	env := newTestEnv(t)

	rec := env.upload(t, "alice", "sales report.csv", []byte("id,amount\n1,10\n2,20\n"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp dto.DatasetDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "alice", resp.OwnerID)
	assert.Equal(t, "text/csv", resp.ContentType)
	assert.Equal(t, "sales report.csv", resp.OriginalName)
	assert.Equal(t, "sales_report.csv", resp.Name)
	assert.Equal(t, int64(20), resp.SizeBytes)
	assert.NotEmpty(t, resp.FileHash)
	assert.Nil(t, resp.ImageWidth)

	stored, ok := env.store.datasets[resp.DatasetID]
	require.True(t, ok)
	assert.Equal(t, resp.FileHash, stored.FileHash)
}

func TestUploadDataset_ImageDimensions(t *testing.T) {
	env := newTestEnv(t)

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 320, 240))))

	rec := env.upload(t, "alice", "photo.png", buf.Bytes())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp dto.DatasetDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "image/png", resp.ContentType)
	require.NotNil(t, resp.ImageWidth)
	require.NotNil(t, resp.ImageHeight)
	assert.Equal(t, 320, *resp.ImageWidth)
	assert.Equal(t, 240, *resp.ImageHeight)
}

func TestUploadDataset_DuplicateContent(t *testing.T) {
	env := newTestEnv(t)
	content := []byte("id,amount\n1,10\n")

	rec := env.upload(t, "alice", "first.csv", content)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.upload(t, "alice", "second.csv", content)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestUploadDataset_UnsupportedType(t *testing.T) {
	env := newTestEnv(t)

	rec := env.upload(t, "alice", "tool.exe", []byte{0x4d, 0x5a, 0x90, 0x00})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, env.store.datasets)
}

func TestUploadDataset_MissingFile(t *testing.T) {
	env := newTestEnv(t)

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/datasets", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("X-Owner-ID", "alice")

	rec := httptest.NewRecorder()
	env.engine.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUploadDataset_RequiresIdentity(t *testing.T) {
	env := newTestEnv(t)

	rec := env.upload(t, "", "data.csv", []byte("a,b\n1,2\n"))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
