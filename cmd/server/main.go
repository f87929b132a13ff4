// @title           Story Pipeline Backend API
// @version         1.0.0
// @description     Backend API for story generation runs. Resolves a consistent character, generates scene images and videos with WaveSpeed, and delivers the run payload to Supabase.

// @contact.name   API Support
// @contact.email  support@example.com

// @license.name  MIT
// @license.url   https://opensource.org/licenses/MIT

// @host      localhost:8080
// @BasePath  /api/v1

// @securityDefinitions.apikey Bearer
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"story-pipeline-backend/internal/config"
	"story-pipeline-backend/internal/database"
	"story-pipeline-backend/internal/handlers"
	"story-pipeline-backend/internal/middleware"
	"story-pipeline-backend/internal/observability"
	"story-pipeline-backend/internal/queue"
	"story-pipeline-backend/internal/services"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Set Gin mode
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracing(observability.TracingConfig{
		ServiceName: "story-pipeline-backend",
		Environment: cfg.Environment,
		Exporter:    cfg.OTelExporter,
		Endpoint:    cfg.OTelEndpoint,
		SampleRatio: cfg.OTelSampleRatio,
	})
	if err != nil {
		logger.Warn("tracing disabled", "error", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(shutdownCtx)
	}()

	// Run migrations
	if cfg.DatabaseURL == "" {
		logger.Warn("DATABASE_URL not set, migrations skipped and registry kept in memory")
	} else {
		migrator, err := database.NewMigrator(cfg.DatabaseURL, logger)
		if err != nil {
			logger.Warn("failed to initialize migrator", "error", err)
		} else {
			if err := migrator.Run(ctx); err != nil {
				logger.Warn("migration failed", "error", err)
			} else {
				logger.Info("migrations completed successfully")
			}
			migrator.Close()
		}
	}

	service, err := services.NewPipelineService(ctx, cfg, services.Options{Logger: logger})
	if err != nil {
		logger.Error("failed to initialize pipeline service", "error", err)
		os.Exit(1)
	}
	defer service.Close()

	// Queue is optional; without Redis runs execute in-process.
	var enqueuer handlers.RunEnqueuer
	if cfg.QueueEnabled() {
		client := queue.NewClient(cfg.RedisAddr, cfg.RedisPassword, cfg.QueueRunTimeout, logger)
		defer client.Close()
		enqueuer = client

		worker := queue.NewWorker(cfg.RedisAddr, cfg.RedisPassword, cfg.QueueConcurrency, service, logger)
		if err := worker.Start(); err != nil {
			logger.Error("failed to start queue worker", "error", err)
			os.Exit(1)
		}
		defer worker.Shutdown()
	}

	runsHandler := handlers.NewRunsHandler(service, enqueuer, logger)
	webhookHandler := handlers.NewWebhookHandler(cfg.WaveSpeedWebhookSecret, runsHandler, logger)

	// Setup router
	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	// Health check (no auth)
	router.GET("/health", handlers.HealthHandler)

	// API routes
	api := router.Group("/api/v1")
	api.Use(middleware.AuthMiddleware(cfg.OperatorJWTSecret))
	api.POST("/runs", runsHandler.TriggerRun)
	api.GET("/runs/:run_id", runsHandler.GetRun)

	// Webhook (no auth, uses HMAC)
	router.POST("/api/v1/webhooks/wavespeed", webhookHandler.HandleWebhook)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("failed to start server", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}
}
