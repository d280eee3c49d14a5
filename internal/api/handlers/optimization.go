package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/stitts-dev/squad-optimizer/internal/engine"
	"github.com/stitts-dev/squad-optimizer/pkg/types"
)

// OptimizationHandler serves the optimize, validate and score endpoints.
type OptimizationHandler struct {
	engine *engine.Engine
	logger *logrus.Entry
}

func NewOptimizationHandler(e *engine.Engine, logger *logrus.Entry) *OptimizationHandler {
	return &OptimizationHandler{engine: e, logger: logger}
}

// Optimize handles POST /api/v1/optimize.
func (h *OptimizationHandler) Optimize(c *gin.Context) {
	var req engine.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	result, err := h.engine.Run(c.Request.Context(), req)
	if err != nil {
		respondError(c, err, h.logger)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Validate handles POST /api/v1/optimize/validate.
func (h *OptimizationHandler) Validate(c *gin.Context) {
	var req engine.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	cs, n, err := h.engine.Validate(c.Request.Context(), req)
	if err != nil {
		respondError(c, err, h.logger)
		return
	}
	c.JSON(http.StatusOK, types.SuccessResponse{
		Message: "Optimization request is valid",
		Data: gin.H{
			"candidate_count": n,
			"constraints":     cs,
		},
	})
}

// Score handles POST /api/v1/score.
func (h *OptimizationHandler) Score(c *gin.Context) {
	var req engine.ScoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	res, err := h.engine.Score(c.Request.Context(), req)
	if err != nil {
		respondError(c, err, h.logger)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"candidates": res.Candidates,
		"warnings":   res.Warnings,
		"fallbacks":  res.Fallbacks,
	})
}
