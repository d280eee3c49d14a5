package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/stitts-dev/squad-optimizer/pkg/types"
)

// Check probes one backing connection.
type Check func(ctx context.Context) error

// HealthHandler reports on the optional backing services. All of them are optional, so a
// failing check degrades the service instead of taking it down.
type HealthHandler struct {
	service string
	checks  map[string]Check
	logger  *logrus.Entry
}

func NewHealthHandler(service string, checks map[string]Check, logger *logrus.Entry) *HealthHandler {
	return &HealthHandler{service: service, checks: checks, logger: logger}
}

// GetHealth handles GET /health.
func (h *HealthHandler) GetHealth(c *gin.Context) {
	response := types.HealthStatus{
		Status:    "ok",
		Service:   h.service,
		Timestamp: time.Now(),
		Checks:    make(map[string]string, len(h.checks)),
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	for name, check := range h.checks {
		if check == nil {
			response.Checks[name] = "not_configured"
			continue
		}
		if err := check(ctx); err != nil {
			response.Status = "degraded"
			response.Checks[name] = "failed: " + err.Error()
			h.logger.WithError(err).WithField("check", name).Warn("Health check failed")
		} else {
			response.Checks[name] = "ok"
		}
	}

	statusCode := http.StatusOK
	if response.Status == "degraded" {
		statusCode = http.StatusPartialContent
	}
	c.JSON(statusCode, response)
}
