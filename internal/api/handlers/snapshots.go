package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/stitts-dev/squad-optimizer/internal/ingest"
	"github.com/stitts-dev/squad-optimizer/internal/store"
	"github.com/stitts-dev/squad-optimizer/pkg/types"
)

// SnapshotStore is the persistence the snapshot endpoints need.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, name string, candidates []types.Candidate) error
	LoadSnapshot(ctx context.Context, name string) ([]types.Candidate, error)
	ListSnapshots(ctx context.Context) ([]store.SnapshotInfo, error)
}

// Invalidator drops cached copies of a snapshot after it is replaced.
type Invalidator interface {
	Invalidate(ctx context.Context, source string) error
}

type SnapshotHandler struct {
	store  SnapshotStore
	tables Invalidator
	logger *logrus.Entry
}

func NewSnapshotHandler(s SnapshotStore, tables Invalidator, logger *logrus.Entry) *SnapshotHandler {
	return &SnapshotHandler{store: s, tables: tables, logger: logger}
}

// List handles GET /api/v1/snapshots.
func (h *SnapshotHandler) List(c *gin.Context) {
	list, err := h.store.ListSnapshots(c.Request.Context())
	if err != nil {
		respondError(c, err, h.logger)
		return
	}
	c.JSON(http.StatusOK, gin.H{"snapshots": list})
}

// Get handles GET /api/v1/snapshots/:name.
func (h *SnapshotHandler) Get(c *gin.Context) {
	candidates, err := h.store.LoadSnapshot(c.Request.Context(), c.Param("name"))
	if err != nil {
		respondError(c, err, h.logger)
		return
	}
	c.JSON(http.StatusOK, gin.H{"name": c.Param("name"), "candidates": candidates})
}

// Put handles PUT /api/v1/snapshots/:name with a JSON array or a CSV table body.
func (h *SnapshotHandler) Put(c *gin.Context) {
	name := c.Param("name")

	var (
		candidates []types.Candidate
		err        error
	)
	if strings.HasPrefix(c.ContentType(), "text/csv") {
		var rows [][]string
		if rows, err = ingest.ReadCSV(c.Request.Body); err == nil {
			candidates, err = ingest.ParseRows(rows)
		}
	} else {
		candidates, err = ingest.DecodeJSON(c.Request.Body)
	}
	if err != nil {
		respondError(c, err, h.logger)
		return
	}

	if err := h.store.SaveSnapshot(c.Request.Context(), name, candidates); err != nil {
		respondError(c, err, h.logger)
		return
	}
	if h.tables != nil {
		if err := h.tables.Invalidate(c.Request.Context(), "snapshot:"+name); err != nil {
			h.logger.WithError(err).WithField("snapshot", name).Warn("Failed to invalidate cached snapshot")
		}
	}

	c.JSON(http.StatusOK, types.SuccessResponse{
		Message: "Snapshot saved",
		Data:    gin.H{"name": name, "candidates": len(candidates)},
	})
}
