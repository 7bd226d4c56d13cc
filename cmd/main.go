package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"workflow-service/internal/config"
	"workflow-service/internal/events"
	"workflow-service/internal/handlers"
	"workflow-service/internal/jobs"
	"workflow-service/internal/middleware"
	"workflow-service/internal/models"
	"workflow-service/internal/repository"
	"workflow-service/internal/seeders"
	"workflow-service/internal/sequence"
	"workflow-service/internal/services"
)

// @title Workflow Service API
// @version 1.0.0
// @description Multi-stage document approval workflow service

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8094
// @BasePath /api/v1

// @securityDefinitions.bearer BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.

func main() {
	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(logrus.InfoLevel)

	// Load .env file if present
	if err := godotenv.Load(); err != nil {
		logger.Debug("No .env file found, using environment variables")
	}

	cfg := config.Load()
	if cfg.Environment == "development" {
		logger.SetLevel(logrus.DebugLevel)
	}

	// Initialize database
	db, err := config.InitDB(cfg)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}

	// Run migrations
	if err := db.AutoMigrate(
		&models.WorkflowTemplate{},
		&models.StageDefinition{},
		&models.WorkflowInstance{},
		&models.StageInstance{},
		&models.Approval{},
		&models.AuditLog{},
		&models.AttachedFile{},
		&models.SequenceCounter{},
	); err != nil {
		logger.Fatalf("Failed to run migrations: %v", err)
	}
	logger.Info("Database migrations completed")

	// Seed default templates
	if err := seeders.SeedDefaultTemplates(db); err != nil {
		logger.Errorf("Failed to seed default templates: %v", err)
	}

	// Connect event publisher. The service runs without a broker; events are
	// then dropped.
	var publisher *events.Publisher
	if cfg.NATSURL != "" {
		publisher, err = events.NewPublisher(cfg.NATSURL, logger)
		if err != nil {
			logger.Warnf("Failed to connect to NATS, events disabled: %v", err)
		} else {
			logger.Info("Connected to NATS")
			defer publisher.Close()
		}
	}

	// Wire dependencies
	repo := repository.NewWorkflowRepository(db)
	allocator := sequence.NewAllocator(repo, cfg.NumberPrefix)
	workflowService := services.NewWorkflowService(repo, allocator, publisher)
	templateService := services.NewTemplateService(repo)
	workflowHandler := handlers.NewWorkflowHandler(workflowService)
	templateHandler := handlers.NewTemplateHandler(templateService, workflowService)

	// Start reminder job
	jobCtx, cancelJobs := context.WithCancel(context.Background())
	defer cancelJobs()
	reminderJob := jobs.NewReminderJob(repo, publisher, logger, cfg.ReminderInterval, cfg.ReminderAfter)
	go reminderJob.Start(jobCtx)

	// Setup router
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS())

	router.GET("/health", handlers.HealthCheck)
	router.GET("/ready", handlers.ReadinessCheck)
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	api := router.Group("/api/v1")
	api.Use(middleware.Auth(cfg.AuthJWTSecret))
	{
		workflows := api.Group("/workflows")
		{
			workflows.POST("", workflowHandler.CreateWorkflow)
			workflows.GET("/mine", workflowHandler.ListMyWorkflows)
			workflows.GET("/pending", workflowHandler.ListPending)
			workflows.GET("/:id", workflowHandler.GetWorkflow)
			workflows.DELETE("/:id", workflowHandler.Cancel)
			workflows.POST("/:id/submit", workflowHandler.Submit)
			workflows.POST("/:id/stages/:stageId/approve", workflowHandler.Approve)
			workflows.POST("/:id/stages/:stageId/reject", workflowHandler.Reject)
			workflows.GET("/:id/history", workflowHandler.GetHistory)
			workflows.POST("/:id/files", workflowHandler.RegisterFile)
			workflows.GET("/:id/files", workflowHandler.ListFiles)
		}

		templates := api.Group("/templates")
		{
			templates.POST("", templateHandler.CreateTemplate)
			templates.GET("", templateHandler.ListTemplates)
			templates.GET("/:id", templateHandler.GetTemplate)
			templates.PUT("/:id", templateHandler.UpdateTemplate)
		}

		api.POST("/sequences/reset", templateHandler.ResetSequence)
	}

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logger.Infof("Workflow service listening on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down workflow service...")

	cancelJobs()
	reminderJob.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	}
	logger.Info("Workflow service stopped")
}
