package handler_test

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlplatform/backend/internal/api/handler"
	"github.com/mlplatform/backend/internal/job/store"
)

func TestJobCursorRoundTrip(t *testing.T) {
	original := &store.JobCursor{
		CreatedAt: time.Date(2026, 3, 14, 9, 26, 53, 589793238, time.UTC),
		JobID:     "0b1f6f46-8a3e-4e0f-9c4e-8c9b1a2d3e4f",
	}

	encoded := handler.EncodeJobCursor(original)
	decoded, err := handler.DecodeJobCursor(encoded)
	require.NoError(t, err)

	assert.True(t, decoded.CreatedAt.Equal(original.CreatedAt))
	assert.Equal(t, original.JobID, decoded.JobID)
}

func TestDecodeJobCursor_Empty(t *testing.T) {
	decoded, err := handler.DecodeJobCursor("")
	require.NoError(t, err)
	assert.Nil(t, decoded)
}

func TestDecodeJobCursor_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		cursor string
	}{
		{"not base64", "!!!"},
		{"missing separator", base64.StdEncoding.EncodeToString([]byte("12345"))},
		{"non-numeric timestamp", base64.StdEncoding.EncodeToString([]byte("abc|job-1"))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := handler.DecodeJobCursor(tt.cursor)
			assert.Error(t, err)
		})
	}
}
