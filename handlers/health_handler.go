package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/labstack/echo/v4"

	"github.com/luojidr/easypush/pkg/kvstore"
)

// HealthHandler handles health checks.
type HealthHandler struct {
	db           *sqlx.DB
	kv           *kvstore.Client
	checkTimeout time.Duration
}

func NewHealthHandler(db *sqlx.DB, kv *kvstore.Client) *HealthHandler {
	return &HealthHandler{
		db:           db,
		kv:           kv,
		checkTimeout: 2 * time.Second,
	}
}

// Health returns overall status and basic component statuses (DB and the
// key-value store).
// @Summary Health check
// @Description Returns overall status with DB and key-value store connectivity results
// @Tags health
// @Accept json
// @Produce json
// @Success 200 {object} map[string]any
// @Router /health [get]
func (h *HealthHandler) Health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), h.checkTimeout)
	defer cancel()

	overallStatus := "ok"

	dbStatus := "up"
	if h.db == nil {
		dbStatus = "down"
		overallStatus = "down"
	} else if err := h.db.PingContext(ctx); err != nil {
		dbStatus = "down"
		overallStatus = "down"
	}

	kvStatus := "disabled"
	if h.kv != nil {
		if err := h.kv.Ping(ctx); err != nil {
			kvStatus = "down"
			overallStatus = "degraded"
		} else {
			kvStatus = "up"
		}
	}

	return c.JSON(http.StatusOK, map[string]any{
		"status":    overallStatus,
		"timestamp": time.Now().Format(time.RFC3339),
		"components": map[string]any{
			"database": map[string]any{
				"status": dbStatus,
			},
			"kvstore": map[string]any{
				"status": kvStatus,
			},
		},
	})
}
