package handlers

import (
	"github.com/labstack/echo/v4"

	"github.com/luojidr/easypush/internal/service"
	"github.com/luojidr/easypush/pkg/response"
	"github.com/luojidr/easypush/pkg/validator"
)

type PushHandler struct {
	service *service.DispatchService
}

func NewPushHandler(service *service.DispatchService) *PushHandler {
	return &PushHandler{service: service}
}

type SubmitPushRequest struct {
	AppToken string         `json:"appToken" validate:"required"`
	Alias    string         `json:"alias,omitempty"`
	MsgType  string         `json:"msgType" validate:"required"`
	MsgBody  map[string]any `json:"msgBody" validate:"required"`
	UserIDs  []string       `json:"userids,omitempty"`
	Mobiles  []string       `json:"mobiles,omitempty"`
	Remark   string         `json:"remark,omitempty"`
	Async    *bool          `json:"async,omitempty"`
}

type RecallPushRequest struct {
	Alias  string `json:"alias,omitempty"`
	MsgUID string `json:"msgUid" validate:"required"`
}

// SubmitPush godoc
// @Summary Submit a push
// @Description Validates, deduplicates and queues one message for a set of recipients
// @Tags push
// @Accept json
// @Produce json
// @Param x-push-auth-key header string true "API key for push"
// @Param request body SubmitPushRequest true "Push submission"
// @Success 201 {object} response.SuccessResponse
// @Failure 400 {object} response.ErrorResponse
// @Failure 401 {object} response.ErrorResponse
// @Failure 409 {object} response.ErrorResponse
// @Failure 422 {object} response.ErrorResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /api/v1/push [post]
func (h *PushHandler) SubmitPush(c echo.Context) error {
	var req SubmitPushRequest
	if err := c.Bind(&req); err != nil {
		return response.BadRequest(c, err)
	}

	if err := c.Validate(&req); err != nil {
		return validator.HandleValidationError(c, err)
	}

	result, err := h.service.Submit(c.Request().Context(), &service.SubmitRequest{
		AppToken: req.AppToken,
		Alias:    req.Alias,
		MsgType:  req.MsgType,
		Body:     req.MsgBody,
		UserIDs:  req.UserIDs,
		Mobiles:  req.Mobiles,
		Remark:   req.Remark,
		Async:    req.Async,
	})
	if err != nil {
		return response.FromServiceError(c, err)
	}

	return response.Created(c, "Push accepted", result)
}

// RecallPush godoc
// @Summary Recall a delivered push
// @Description Asks the vendor to withdraw one delivered message
// @Tags push
// @Accept json
// @Produce json
// @Param x-push-auth-key header string true "API key for push"
// @Param request body RecallPushRequest true "Recall target"
// @Success 200 {object} response.SuccessResponse
// @Failure 400 {object} response.ErrorResponse
// @Failure 422 {object} response.ErrorResponse
// @Failure 502 {object} response.ErrorResponse
// @Router /api/v1/push/recall [post]
func (h *PushHandler) RecallPush(c echo.Context) error {
	var req RecallPushRequest
	if err := c.Bind(&req); err != nil {
		return response.BadRequest(c, err)
	}

	if err := c.Validate(&req); err != nil {
		return validator.HandleValidationError(c, err)
	}

	result, err := h.service.Recall(c.Request().Context(), req.Alias, req.MsgUID)
	if err != nil {
		return response.FromServiceError(c, err)
	}

	return response.OkWithMessage(c, "Recall accepted", result)
}
