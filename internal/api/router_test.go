package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stitts-dev/squad-optimizer/internal/api/handlers"
	"github.com/stitts-dev/squad-optimizer/internal/engine"
	"github.com/stitts-dev/squad-optimizer/internal/metrics"
	"github.com/stitts-dev/squad-optimizer/internal/scoring"
	"github.com/stitts-dev/squad-optimizer/pkg/logger"
)

func newRouter(t *testing.T, withOptional bool) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	e, err := engine.New(engine.Options{
		Scorer: scoring.NewScorer(scoring.DefaultOptions(), nil, logger.Discard()),
	}, logger.Discard())
	require.NoError(t, err)

	deps := Deps{
		Optimization: handlers.NewOptimizationHandler(e, logger.Discard()),
		Health:       handlers.NewHealthHandler("squad-optimizer", nil, logger.Discard()),
		Logger:       logger.Discard(),
	}
	if withOptional {
		deps.Metrics = metrics.New().Handler()
		deps.Progress = func(c *gin.Context) { c.Status(http.StatusTeapot) }
	}
	return NewRouter(deps)
}

func TestRouterMountsOptionalRoutes(t *testing.T) {
	tests := []struct {
		name     string
		optional bool
		path     string
		want     int
	}{
		{"health", false, "/health", http.StatusOK},
		{"metrics absent", false, "/metrics", http.StatusNotFound},
		{"progress absent", false, "/ws/runs/r1", http.StatusNotFound},
		{"snapshots absent", false, "/api/v1/snapshots", http.StatusNotFound},
		{"metrics", true, "/metrics", http.StatusOK},
		{"progress", true, "/ws/runs/r1", http.StatusTeapot},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			newRouter(t, tt.optional).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestRouterRejectsMalformedJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/optimize", nil)
	req.Header.Set("Content-Type", "application/json")
	newRouter(t, false).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "INVALID_REQUEST")
}
