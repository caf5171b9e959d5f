package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlplatform/backend/internal/api/handler"
	"github.com/mlplatform/backend/internal/api/router"
	"github.com/mlplatform/backend/internal/fanout"
)

type fakeHealth struct {
	err error
}

func (f *fakeHealth) HealthCheck(context.Context) error { return f.err }

func TestHealthEndpoint(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tests := []struct {
		name       string
		err        error
		wantCode   int
		wantStatus string
	}{
		{
			name:       "backing services reachable",
			wantCode:   http.StatusOK,
			wantStatus: "healthy",
		},
		{
			name:       "backing service down",
			err:        errors.New("rabbitmq connection is closed"),
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "unhealthy",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := router.SetupRouter(&handler.Dependencies{
				Logger: logger,
				Store:  newFakeStore(),
				Broker: &fakeBroker{},
				Hub:    fanout.NewHub(logger),
				Health: &fakeHealth{err: tt.err},
			})

			rec := httptest.NewRecorder()
			engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

			assert.Equal(t, tt.wantCode, rec.Code)

			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantStatus, body["status"])
			if tt.err != nil {
				assert.Equal(t, tt.err.Error(), body["error"])
			}
		})
	}
}
