package handlers

import (
	"context"

	"github.com/labstack/echo/v4"

	"github.com/luojidr/easypush/environments"
	"github.com/luojidr/easypush/internal/scheduler"
	"github.com/luojidr/easypush/pkg/response"
	"github.com/luojidr/easypush/pkg/validator"
)

type SchedulerHandler struct {
	scheduler  *scheduler.Scheduler
	rebuildJob *scheduler.RebuildJob
	ctx        context.Context
	config     *environments.Config
}

type StartSchedulerRequest struct {
	Interval       *int    `json:"interval,omitempty" validate:"omitempty,min=1"`
	AlertWebhook   *string `json:"alertWebhook,omitempty"`
	AlertThreshold *int    `json:"alertThreshold,omitempty" validate:"omitempty,min=1"`
}

func NewSchedulerHandler(
	sched *scheduler.Scheduler,
	rebuildJob *scheduler.RebuildJob,
	ctx context.Context,
	cfg *environments.Config,
) *SchedulerHandler {
	return &SchedulerHandler{
		scheduler:  sched,
		rebuildJob: rebuildJob,
		ctx:        ctx,
		config:     cfg,
	}
}

// StartScheduler godoc
// @Summary Start the delivery sweep
// @Description Starts the pending-record retry loop with optional parameters
// @Tags scheduler
// @Accept json
// @Produce json
// @Param x-push-auth-key header string true "API key for scheduler"
// @Param request body StartSchedulerRequest false "Sweep parameters (optional)"
// @Success 200 {object} response.SuccessResponse
// @Failure 422 {object} response.ErrorResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /api/v1/scheduler/start [post]
func (h *SchedulerHandler) StartScheduler(c echo.Context) error {
	if h.scheduler.IsRunning() {
		return response.OkWithMessage(c, "Delivery sweep is already running", h.scheduler.GetStatus())
	}

	var req StartSchedulerRequest
	if err := c.Bind(&req); err != nil {
		return response.BadRequest(c, err)
	}

	if err := c.Validate(&req); err != nil {
		return validator.HandleValidationError(c, err)
	}

	intervalSeconds := int(h.config.Push.SendInterval.Seconds())
	if intervalSeconds <= 0 {
		intervalSeconds = 10
	}
	if req.Interval != nil {
		intervalSeconds = *req.Interval
	}

	alertWebhook := ""
	if req.AlertWebhook != nil {
		alertWebhook = *req.AlertWebhook
	}

	alertThreshold := 0
	if req.AlertThreshold != nil {
		alertThreshold = *req.AlertThreshold
	}

	if err := h.scheduler.StartWithParams(h.ctx, intervalSeconds, alertWebhook, alertThreshold); err != nil {
		return response.InternalServerError(c, err)
	}

	return response.OkWithMessage(c, "Delivery sweep started", h.scheduler.GetStatus())
}

// StopScheduler godoc
// @Summary Stop the delivery sweep
// @Description Stops the pending-record retry loop
// @Tags scheduler
// @Accept json
// @Produce json
// @Param x-push-auth-key header string true "API key for scheduler"
// @Success 200 {object} response.SuccessResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /api/v1/scheduler/stop [post]
func (h *SchedulerHandler) StopScheduler(c echo.Context) error {
	if !h.scheduler.IsRunning() {
		return response.OkWithMessage(c, "Delivery sweep is already stopped", h.scheduler.GetStatus())
	}

	if err := h.scheduler.Stop(); err != nil {
		return response.InternalServerError(c, err)
	}

	return response.OkWithMessage(c, "Delivery sweep stopped", h.scheduler.GetStatus())
}

// GetSchedulerStatus godoc
// @Summary Get scheduler status
// @Description Returns the current status of the delivery sweep and the last fingerprint rebuild
// @Tags scheduler
// @Accept json
// @Produce json
// @Param x-push-auth-key header string true "API key for scheduler"
// @Success 200 {object} response.SuccessResponse
// @Router /api/v1/scheduler/status [get]
func (h *SchedulerHandler) GetSchedulerStatus(c echo.Context) error {
	status := map[string]any{
		"sweep": h.scheduler.GetStatus(),
	}

	if h.rebuildJob != nil {
		at, entries, err := h.rebuildJob.LastRun()
		rebuild := map[string]any{
			"lastRunAt": at,
			"entries":   entries,
		}
		if err != nil {
			rebuild["error"] = err.Error()
		}
		status["rebuild"] = rebuild
	}

	return response.Ok(c, status)
}
