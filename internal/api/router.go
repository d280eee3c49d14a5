// Package api assembles the HTTP surface of the optimizer service.
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/stitts-dev/squad-optimizer/internal/api/handlers"
)

// Deps are the handlers the router mounts. Snapshots, Progress and Metrics are optional.
type Deps struct {
	Optimization *handlers.OptimizationHandler
	Snapshots    *handlers.SnapshotHandler
	Health       *handlers.HealthHandler
	Progress     gin.HandlerFunc
	Metrics      http.Handler
	Logger       *logrus.Entry
}

func NewRouter(d Deps) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(d.Logger))

	apiV1 := router.Group("/api/v1")
	{
		apiV1.POST("/optimize", d.Optimization.Optimize)
		apiV1.POST("/optimize/validate", d.Optimization.Validate)
		apiV1.POST("/score", d.Optimization.Score)

		if d.Snapshots != nil {
			apiV1.GET("/snapshots", d.Snapshots.List)
			apiV1.GET("/snapshots/:name", d.Snapshots.Get)
			apiV1.PUT("/snapshots/:name", d.Snapshots.Put)
		}
	}

	if d.Progress != nil {
		router.GET("/ws/runs/:run_id", d.Progress)
	}
	router.GET("/health", d.Health.GetHealth)
	if d.Metrics != nil {
		router.GET("/metrics", gin.WrapH(d.Metrics))
	}
	return router
}

func requestLogger(logger *logrus.Entry) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := logger.WithFields(logrus.Fields{
			"http_method": c.Request.Method,
			"http_path":   c.FullPath(),
			"status":      c.Writer.Status(),
			"latency":     time.Since(start),
		})
		if c.Writer.Status() >= http.StatusInternalServerError {
			entry.Warn("Request completed")
		} else {
			entry.Debug("Request completed")
		}
	}
}
