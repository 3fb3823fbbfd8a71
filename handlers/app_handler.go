package handlers

import (
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/luojidr/easypush/internal/domain"
	"github.com/luojidr/easypush/internal/service"
	"github.com/luojidr/easypush/pkg/response"
	"github.com/luojidr/easypush/pkg/validator"
)

type AppHandler struct {
	service *service.AppService
}

func NewAppHandler(service *service.AppService) *AppHandler {
	return &AppHandler{service: service}
}

type UpsertCredentialRequest struct {
	CorpID       string `json:"corpId,omitempty"`
	AppName      string `json:"appName" validate:"required,max=128"`
	AgentID      int64  `json:"agentId" validate:"required,min=1"`
	AppKey       string `json:"appKey" validate:"required"`
	AppSecret    string `json:"appSecret" validate:"required"`
	ExpireTime   int64  `json:"expireTime,omitempty"`
	PlatformType string `json:"platformType" validate:"required,platform"`
}

// UpsertCredential godoc
// @Summary Register or update an application credential
// @Description Stores the credential and returns it with a freshly minted app token
// @Tags apps
// @Accept json
// @Produce json
// @Param x-push-auth-key header string true "API key for admin"
// @Param request body UpsertCredentialRequest true "Credential"
// @Success 201 {object} response.SuccessResponse
// @Failure 400 {object} response.ErrorResponse
// @Failure 422 {object} response.ErrorResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /api/v1/apps [post]
func (h *AppHandler) UpsertCredential(c echo.Context) error {
	var req UpsertCredentialRequest
	if err := c.Bind(&req); err != nil {
		return response.BadRequest(c, err)
	}

	if err := c.Validate(&req); err != nil {
		return validator.HandleValidationError(c, err)
	}

	cred, err := h.service.UpsertCredential(c.Request().Context(), &domain.AppCredential{
		CorpID:       req.CorpID,
		AppName:      req.AppName,
		AgentID:      req.AgentID,
		AppKey:       req.AppKey,
		AppSecret:    req.AppSecret,
		ExpireTime:   req.ExpireTime,
		PlatformType: domain.Platform(req.PlatformType),
	})
	if err != nil {
		return response.FromServiceError(c, err)
	}

	return response.Created(c, "Credential saved", cred)
}

// ListCredentials godoc
// @Summary List application credentials
// @Description Retrieves a paginated list of registered credentials
// @Tags apps
// @Accept json
// @Produce json
// @Param x-push-auth-key header string true "API key for admin"
// @Param page query int false "Page number (default: 1)"
// @Param pageSize query int false "Page size (default: 20, max: 100)"
// @Success 200 {object} response.PaginatedResponse
// @Failure 400 {object} response.ErrorResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /api/v1/apps [get]
func (h *AppHandler) ListCredentials(c echo.Context) error {
	page, pageSize, err := parsePaginationParams(c)
	if err != nil {
		return response.BadRequest(c, err)
	}

	creds, totalCount, err := h.service.ListCredentials(c.Request().Context(), page, pageSize)
	if err != nil {
		return response.InternalServerError(c, err)
	}

	return response.Paginated(c, creds, page, pageSize, totalCount)
}

// DeleteCredential godoc
// @Summary Delete an application credential
// @Description Soft-deletes the credential; its app token stops resolving
// @Tags apps
// @Accept json
// @Produce json
// @Param x-push-auth-key header string true "API key for admin"
// @Param id path int true "Credential id"
// @Success 200 {object} response.SuccessResponse
// @Failure 400 {object} response.ErrorResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /api/v1/apps/{id} [delete]
func (h *AppHandler) DeleteCredential(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return response.BadRequestWithMessage(c, "id must be a positive integer")
	}

	if err := h.service.DeleteCredential(c.Request().Context(), id); err != nil {
		return response.InternalServerError(c, err)
	}

	return response.OkWithMessage(c, "Credential deleted", nil)
}
