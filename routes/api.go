package routes

import (
	"github.com/labstack/echo/v4"
	echoSwagger "github.com/swaggo/echo-swagger"

	"github.com/luojidr/easypush/environments"
	"github.com/luojidr/easypush/handlers"
	"github.com/luojidr/easypush/internal/middlewares"
)

// RegisterRoutes registers all API routes with middleware
func RegisterRoutes(
	e *echo.Echo,
	healthHandler *handlers.HealthHandler,
	pushHandler *handlers.PushHandler,
	recordHandler *handlers.RecordHandler,
	appHandler *handlers.AppHandler,
	schedulerHandler *handlers.SchedulerHandler,
	cfg *environments.Config,
) {
	e.GET("/health", healthHandler.Health)
	e.GET("/swagger/*", echoSwagger.WrapHandler)

	// API v1 base group
	v1 := e.Group("/api/v1")

	// Push submission and recall, authenticated with the push API key
	push := v1.Group("/push", middlewares.APIKeyAuth(cfg.Auth.PushAPIKey))

	push.POST("", pushHandler.SubmitPush)
	push.POST("/recall", pushHandler.RecallPush)

	// Push record queries share the push API key
	records := v1.Group("/records", middlewares.APIKeyAuth(cfg.Auth.PushAPIKey))

	records.GET("", recordHandler.GetPushRecords)
	records.GET("/stats", recordHandler.GetStats)
	records.POST("/replay", recordHandler.ReplayAllFailed)
	records.POST("/:msgUid/replay", recordHandler.ReplayFailed)

	// Credential administration with its own API key
	apps := v1.Group("/apps", middlewares.APIKeyAuth(cfg.Auth.AdminAPIKey))

	apps.POST("", appHandler.UpsertCredential)
	apps.GET("", appHandler.ListCredentials)
	apps.DELETE("/:id", appHandler.DeleteCredential)

	// Scheduler control with its own API key
	schedulerGroup := v1.Group("/scheduler", middlewares.APIKeyAuth(cfg.Auth.SchedulerAPIKey))

	schedulerGroup.POST("/start", schedulerHandler.StartScheduler)
	schedulerGroup.POST("/stop", schedulerHandler.StopScheduler)
	schedulerGroup.GET("/status", schedulerHandler.GetSchedulerStatus)
}
