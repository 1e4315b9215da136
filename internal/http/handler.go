package http

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"go.ngs.io/amm-index/internal/domain"
	"go.ngs.io/amm-index/internal/usecase"
)

// Handler handles HTTP requests for stored index runs.
type Handler struct {
	queryUC *usecase.QueryUseCase
	clock   clockwork.Clock
	logger  logrus.FieldLogger
}

// NewHandler creates a new HTTP handler.
func NewHandler(queryUC *usecase.QueryUseCase, clock clockwork.Clock, logger logrus.FieldLogger) *Handler {
	return &Handler{
		queryUC: queryUC,
		clock:   clock,
		logger:  logger,
	}
}

// ListRuns handles GET /v1/runs.
func (h *Handler) ListRuns(c *gin.Context) {
	runs, err := h.queryUC.ListRuns(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"runs":  runs,
		"count": len(runs),
	})
}

// GetRun handles GET /v1/runs/:id.
//
// Optional query parameters: ens (member index), start and end (RFC3339 or
// YYYY-MM-DD, inclusive).
func (h *Handler) GetRun(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid run id: %v", err)})
		return
	}

	var filter domain.RowFilter
	if s := c.Query("ens"); s != "" {
		member, err := strconv.Atoi(s)
		if err != nil || member < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid ens %q", s)})
			return
		}
		filter.Member = &member
	}
	if filter.Start, err = parseTime(c.Query("start")); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid start time: %v", err)})
		return
	}
	if filter.End, err = parseTime(c.Query("end")); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid end time: %v", err)})
		return
	}
	if !filter.Start.IsZero() && !filter.End.IsZero() && filter.End.Before(filter.Start) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "end must not be before start"})
		return
	}

	response, err := h.queryUC.GetRun(c.Request.Context(), id, filter)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, response)
}

// HealthCheck handles GET /health.
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   h.clock.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) fail(c *gin.Context, err error) {
	if errors.Is(err, domain.ErrMissingData) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	h.logger.WithFields(logrus.Fields{"path": c.FullPath(), "error": err}).Error("request failed")
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

// parseTime accepts RFC3339 or a bare date. Empty input yields the zero time.
func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("expected RFC3339 or YYYY-MM-DD, got %q", s)
	}
	return t, nil
}
