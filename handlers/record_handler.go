package handlers

import (
	"fmt"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/luojidr/easypush/internal/service"
	"github.com/luojidr/easypush/pkg/response"
)

type RecordHandler struct {
	service *service.DispatchService
}

func NewRecordHandler(service *service.DispatchService) *RecordHandler {
	return &RecordHandler{service: service}
}

// GetPushRecords godoc
// @Summary List push records
// @Description Retrieves a paginated list of push records with optional state filter
// @Tags records
// @Accept json
// @Produce json
// @Param x-push-auth-key header string true "API key for push"
// @Param page query int false "Page number (default: 1)"
// @Param pageSize query int false "Page size (default: 20, max: 100)"
// @Param state query string false "Filter by state (pending, sent, failed)"
// @Success 200 {object} response.PaginatedResponse
// @Failure 400 {object} response.ErrorResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /api/v1/records [get]
func (h *RecordHandler) GetPushRecords(c echo.Context) error {
	page, pageSize, err := parsePaginationParams(c)
	if err != nil {
		return response.BadRequest(c, err)
	}

	records, totalCount, err := h.service.ListPush(c.Request().Context(), c.QueryParam("state"), page, pageSize)
	if err != nil {
		return response.InternalServerError(c, err)
	}

	return response.Paginated(c, records, page, pageSize, totalCount)
}

// GetStats godoc
// @Summary Get push statistics
// @Description Returns count of push records by delivery state
// @Tags records
// @Accept json
// @Produce json
// @Param x-push-auth-key header string true "API key for push"
// @Success 200 {object} response.SuccessResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /api/v1/records/stats [get]
func (h *RecordHandler) GetStats(c echo.Context) error {
	pending, sent, failed, err := h.service.GetStats(c.Request().Context())
	if err != nil {
		return response.InternalServerError(c, err)
	}

	return response.Ok(c, map[string]any{
		"pending": pending,
		"sent":    sent,
		"failed":  failed,
		"total":   pending + sent + failed,
	})
}

// ReplayAllFailed godoc
// @Summary Replay all failed push records
// @Description Clears the failure state so the delivery sweep resends them
// @Tags records
// @Accept json
// @Produce json
// @Param x-push-auth-key header string true "API key for push"
// @Success 200 {object} response.SuccessResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /api/v1/records/replay [post]
func (h *RecordHandler) ReplayAllFailed(c echo.Context) error {
	count, err := h.service.ReplayFailed(c.Request().Context(), "")
	if err != nil {
		return response.InternalServerError(c, err)
	}

	return response.Ok(c, map[string]any{
		"replayed": count,
	})
}

// ReplayFailed godoc
// @Summary Replay one failed push record
// @Description Clears the failure state of one record so the delivery sweep resends it
// @Tags records
// @Accept json
// @Produce json
// @Param x-push-auth-key header string true "API key for push"
// @Param msgUid path string true "Push record msg_uid"
// @Success 200 {object} response.SuccessResponse
// @Failure 404 {object} response.ErrorResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /api/v1/records/{msgUid}/replay [post]
func (h *RecordHandler) ReplayFailed(c echo.Context) error {
	msgUID := c.Param("msgUid")

	count, err := h.service.ReplayFailed(c.Request().Context(), msgUID)
	if err != nil {
		return response.InternalServerError(c, err)
	}
	if count == 0 {
		return response.NotFound(c, fmt.Sprintf("no failed push record with msg_uid %s", msgUID))
	}

	return response.Ok(c, map[string]any{
		"replayed": count,
	})
}

func parsePaginationParams(c echo.Context) (int, int, error) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)

	pageStr := c.QueryParam("page")
	pageSizeStr := c.QueryParam("pageSize")

	page := defaultPage
	if pageStr != "" {
		p, err := strconv.Atoi(pageStr)
		if err != nil || p <= 0 {
			return 0, 0, fmt.Errorf("page must be a positive integer")
		}
		page = p
	}

	pageSize := defaultPageSize
	if pageSizeStr != "" {
		ps, err := strconv.Atoi(pageSizeStr)
		if err != nil || ps <= 0 || ps > maxPageSize {
			return 0, 0, fmt.Errorf("pageSize must be between 1 and %d", maxPageSize)
		}

		pageSize = ps
	}

	return page, pageSize, nil
}
