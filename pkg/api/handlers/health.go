package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/jordanlanch/commissionengine/pkg/logger"
	"github.com/jordanlanch/commissionengine/pkg/models"
)

// Pinger checks a backing service
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler reports database and cache connectivity
type HealthHandler struct {
	db    Pinger
	cache Pinger
	log   logger.Logger
}

// NewHealthHandler creates a health handler. cache may be nil.
func NewHealthHandler(db, cache Pinger, log logger.Logger) *HealthHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &HealthHandler{db: db, cache: cache, log: log}
}

// Check godoc
// @Summary Health check
// @Tags Health
// @Produce json
// @Success 200 {object} models.HealthResponse
// @Failure 503 {object} models.HealthResponse
// @Router /health [get]
func (h *HealthHandler) Check(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	resp := models.HealthResponse{Status: "ok", Database: "ok"}
	status := http.StatusOK

	if err := h.db.Ping(ctx); err != nil {
		h.log.Error("database health check failed", "error", err)
		resp.Status, resp.Database = "degraded", "unreachable"
		status = http.StatusServiceUnavailable
	}
	if h.cache != nil {
		resp.Cache = "ok"
		if err := h.cache.Ping(ctx); err != nil {
			// evaluation still works without the cache
			h.log.Warn("cache health check failed", "error", err)
			resp.Cache = "unreachable"
			if status == http.StatusOK {
				resp.Status = "degraded"
			}
		}
	}
	return c.JSON(status, resp)
}
