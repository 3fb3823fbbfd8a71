package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/luojidr/easypush/environments"
	"github.com/luojidr/easypush/handlers"
	"github.com/luojidr/easypush/internal/backends"
	"github.com/luojidr/easypush/internal/dedup"
	"github.com/luojidr/easypush/internal/domain"
	"github.com/luojidr/easypush/internal/queue"
	"github.com/luojidr/easypush/internal/repository"
	"github.com/luojidr/easypush/internal/scheduler"
	"github.com/luojidr/easypush/internal/service"
	"github.com/luojidr/easypush/pkg/crypto"
	"github.com/luojidr/easypush/pkg/database"
	"github.com/luojidr/easypush/pkg/kvstore"
	"github.com/luojidr/easypush/pkg/lock"
	"github.com/luojidr/easypush/pkg/logger"
	"github.com/luojidr/easypush/pkg/snowflake"
	"github.com/luojidr/easypush/pkg/tokencache"
	"github.com/luojidr/easypush/pkg/validator"
	"github.com/luojidr/easypush/routes"

	_ "github.com/luojidr/easypush/docs" // swagger docs
)

// @title EasyPush Gateway API
// @version 1.0
// @description Multi-tenant outbound notification gateway

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8080
// @BasePath /

// @schemes http https
func main() {
	logger.Init()

	// Load config
	cfg := environments.Load()

	// Hard-fail if required secrets are missing
	if cfg.Crypto.TokenSecret == "" {
		logger.Fatalf("APP_TOKEN_SECRET is required but not set")
	}
	if cfg.Auth.PushAPIKey == "" {
		logger.Fatalf("PUSH_API_KEY is required but not set")
	}
	if cfg.Auth.AdminAPIKey == "" {
		logger.Fatalf("ADMIN_API_KEY is required but not set")
	}
	if cfg.Auth.SchedulerAPIKey == "" {
		logger.Fatalf("SCHEDULER_API_KEY is required but not set")
	}

	logger.Infof("Starting EasyPush Gateway...")

	// Init DB
	db, err := database.NewMySQLDB(cfg.Database)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}

	// Run migrations
	if err := database.RunMigrations(db); err != nil {
		logger.Fatalf("Failed to run migrations: %v", err)
	}

	// Init the key-value store. The fingerprint cache and the lease lock both
	// live here, so it is not optional.
	kv, err := kvstore.NewClient(cfg.Redis)
	if err != nil {
		logger.Fatalf("Failed to connect to key-value store: %v", err)
	}

	cipher, err := crypto.NewCipher(cfg.Crypto.TokenSecret)
	if err != nil {
		logger.Fatalf("Failed to build app token cipher: %v", err)
	}

	uids, err := snowflake.New(
		int64(environments.GetEnvAsInt("NODE_DATACENTER_ID", 0)),
		int64(environments.GetEnvAsInt("NODE_WORKER_ID", 0)),
	)
	if err != nil {
		logger.Fatalf("Failed to build uid generator: %v", err)
	}

	// Initialize repositories
	appRepo := repository.NewAppRepository(db)
	pushRepo := repository.NewPushRepository(db)

	// Shared dispatch collaborators
	locker := lock.New(kv)
	fingerprints := dedup.NewCache(kv, cfg.Push.FingerprintTTL)
	registry := backends.NewRegistry(backends.Deps{
		Locker: locker,
		Tokens: tokencache.New(0),
		Shared: kv,
	})

	// Delivery task queue
	var taskQueue queue.Queue
	switch cfg.Queue.Driver {
	case "amqp":
		taskQueue, err = queue.NewAMQPQueue(cfg.Queue.AMQPURL, cfg.Queue.QueueName)
		if err != nil {
			logger.Fatalf("Failed to connect to AMQP broker: %v", err)
		}
		logger.Infof("Delivery queue: AMQP (%s)", cfg.Queue.QueueName)
	default:
		taskQueue = queue.NewMemoryQueue()
		logger.Infof("Delivery queue: in-memory")
	}

	// Initialize services
	deliveryService := service.NewDeliveryService(pushRepo, registry, cfg.Backends, cfg.Push)
	dispatchService := service.NewDispatchService(
		appRepo, pushRepo, fingerprints, registry, taskQueue,
		deliveryService, cipher, uids, cfg.Backends, cfg.Push,
	)
	appService := service.NewAppService(appRepo, cipher)

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Seed data
	if os.Getenv("SEED_DATA") == "true" {
		cred, err := appService.UpsertCredential(ctx, &domain.AppCredential{
			AppName:      "demo",
			AgentID:      1000001,
			AppKey:       "demo-app-key",
			AppSecret:    "demo-app-secret",
			PlatformType: domain.PlatformDingTalk,
		})
		if err != nil {
			logger.Warnf("Failed to seed demo credential: %v", err)
		} else if err := database.SeedDemoData(db, cred.ID); err != nil {
			logger.Warnf("Failed to seed demo data: %v", err)
		}
	}

	// Queue consumer
	go func() {
		if err := taskQueue.Consume(ctx, deliveryService.HandleTask); err != nil && ctx.Err() == nil {
			logger.Errorf("Delivery queue consumer stopped: %v", err)
		}
	}()

	// Delivery sweep scheduler
	sched := scheduler.NewScheduler(deliveryService, cfg.Push.SendInterval)

	if os.Getenv("AUTO_START_SCHEDULER") != "false" {
		logger.Infof("Auto-starting delivery sweep...")
		if err := sched.Start(ctx); err != nil {
			logger.Warnf("Failed to auto-start delivery sweep: %v", err)
		}
	}

	// Fingerprint rebuild job: once at boot, then on the cron schedule
	rebuildJob := scheduler.NewRebuildJob(fingerprints, pushRepo, cfg.Push.RetentionDays, cfg.Push.RebuildCronSpec)
	if err := rebuildJob.Start(ctx); err != nil {
		logger.Warnf("Failed to schedule fingerprint rebuild: %v", err)
	}

	// Initialize handlers
	healthHandler := handlers.NewHealthHandler(db, kv)
	pushHandler := handlers.NewPushHandler(dispatchService)
	recordHandler := handlers.NewRecordHandler(dispatchService)
	appHandler := handlers.NewAppHandler(appService)
	schedulerHandler := handlers.NewSchedulerHandler(sched, rebuildJob, ctx, cfg)

	e := echo.New()
	e.HideBanner = true
	e.Validator = validator.New()

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.RequestID())
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{
			echo.HeaderOrigin,
			echo.HeaderContentType,
			echo.HeaderAccept,
			echo.HeaderAuthorization,
			"x-push-auth-key",
		},
	}))

	// Setup routes
	routes.RegisterRoutes(e, healthHandler, pushHandler, recordHandler, appHandler, schedulerHandler, cfg)

	// Start server in goroutine
	go func() {
		addr := ":" + cfg.Server.Port
		logger.Infof("Server starting on http://localhost%s", addr)
		logger.Infof("Swagger docs available at http://localhost%s/swagger/index.html", addr)
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Infof("Shutting down gracefully...")

	// Cancel context to signal all goroutines to stop
	cancel()

	// Stop background jobs first (with timeout)
	rebuildJob.Stop()

	if sched.IsRunning() {
		logger.Infof("Stopping delivery sweep...")
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()

		done := make(chan error, 1)
		go func() {
			done <- sched.Stop()
		}()

		select {
		case err := <-done:
			if err != nil {
				logger.Errorf("Error stopping delivery sweep: %v", err)
			}
		case <-stopCtx.Done():
			logger.Warnf("Delivery sweep stop timeout, forcing shutdown")
		}
	}

	if err := taskQueue.Close(); err != nil {
		logger.Errorf("Error closing delivery queue: %v", err)
	}

	// Shutdown HTTP server (with timeout)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	logger.Infof("Shutting down HTTP server...")
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	}

	// Close database connection
	if err := db.Close(); err != nil {
		logger.Errorf("Error closing database: %v", err)
	}

	if err := kv.Close(); err != nil {
		logger.Errorf("Error closing key-value store: %v", err)
	}

	logger.Infof("Graceful shutdown completed")
}
