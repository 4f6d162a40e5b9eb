package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mailgate/services/mailer/configservice"
	"mailgate/services/mailer/events"
	"mailgate/services/mailer/handlers"
	"mailgate/services/mailer/models"
	"mailgate/services/mailer/repository"
	"mailgate/services/mailer/smtp"
	"mailgate/services/mailer/usecase"
	"mailgate/services/mailer/worker"
	"mailgate/shared/config"
	"mailgate/shared/database"
	"mailgate/shared/logger"
	"mailgate/shared/middleware"
	sharedmodels "mailgate/shared/models"
	"mailgate/shared/redis"

	"github.com/gin-gonic/gin"
)

func main() {
	// Initialize logger
	log := logger.New(&logger.Config{
		Level:       getLogLevel(),
		Format:      getLogFormat(),
		Environment: os.Getenv("ENVIRONMENT"),
	})

	log.Info("Starting Mailer service...")

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Connect to database
	db, err := database.Connect(database.DefaultConfig(cfg.Database.URL))
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	// Run GORM migrations
	if err := db.Migrate(
		&models.Setting{},
		&models.LegacySmtpConfiguration{},
		&models.EmailMessage{},
		&models.EmailAttachment{},
	); err != nil {
		log.Fatalf("Failed to run GORM migrations: %v", err)
	}

	log.Info("Database connected and migrations completed")

	// Connect to Redis
	redisClient, err := redis.ConnectRedis(redis.DefaultConfig(cfg.Redis.URL))
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()

	log.Info("Redis connected successfully")

	// Set Gin mode based on environment
	if os.Getenv("ENVIRONMENT") == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// External configuration service is optional
	var externalConfig configservice.Client
	if cfg.Mailer.ConfigServiceURL != "" {
		externalConfig = configservice.NewClient(cfg.Mailer.ConfigServiceURL, cfg.Mailer.ConfigLookupTimeout)
		log.Infof("Configuration service lookup enabled: %s", cfg.Mailer.ConfigServiceURL)
	} else {
		log.Info("Configuration service lookup disabled")
	}

	// Client cache owns the live SMTP clients
	clientCache := smtp.NewCache(smtp.NewClient)
	defer clientCache.CleanAll()

	// Delivery event hub
	eventHub := events.NewHub()
	go eventHub.Run()
	defer eventHub.Close()

	// Initialize repositories
	messageRepo := repository.NewMessageRepository(db)

	// Create JWT config
	jwtConfig := middleware.DefaultJWTConfig(cfg.JWT.Secret)

	// Initialize usecases
	configUC := usecase.NewConfigUsecase(db, externalConfig, clientCache, cfg.Mailer.ConfigLookupTimeout)
	mailUC := usecase.NewMailUsecase(messageRepo, configUC, clientCache, eventHub, cfg.Mailer.MaxAttempts, cfg.Mailer.RetryBatchSize)

	// Initialize background worker
	workerConfig := worker.DefaultWorkerConfig()
	workerConfig.WorkerID = fmt.Sprintf("mail-worker-%s", cfg.Server.Port)

	mailWorker := worker.NewMailWorker(mailUC, redisClient, workerConfig)
	if err := mailWorker.Start(); err != nil {
		log.Fatalf("Failed to start mail worker: %v", err)
	}
	log.Info("Mail worker started successfully")

	// Initialize handlers
	mailHandler := handlers.NewMailHandler(mailUC)
	settingHandler := handlers.NewSettingHandler(configUC)
	triggerHandler := handlers.NewTriggerHandler(mailUC, mailWorker)
	eventsHandler := handlers.NewEventsHandler(eventHub)

	// Create Gin router
	router := gin.New()
	middleware.SetupCommonMiddleware(router)

	setupRoutes(router, mailHandler, settingHandler, triggerHandler, eventsHandler, jwtConfig, db, redisClient)

	// Create HTTP server
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	// Start server in a goroutine
	go func() {
		log.Infof("Mailer service starting on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down Mailer service...")

	// Stop background worker first
	if err := mailWorker.Stop(); err != nil {
		log.Errorf("Error stopping mail worker: %v", err)
	}

	// Give outstanding requests 30 seconds to complete
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Errorf("Server forced to shutdown: %v", err)
	}

	log.Info("Mailer service stopped")
}

// setupRoutes configures all routes for the mailer service
func setupRoutes(
	router *gin.Engine,
	mailHandler *handlers.MailHandler,
	settingHandler *handlers.SettingHandler,
	triggerHandler *handlers.TriggerHandler,
	eventsHandler *handlers.EventsHandler,
	jwtConfig *middleware.JWTConfig,
	db *database.DB,
	redisClient *redis.Client,
) {
	// Health check endpoint
	router.GET("/health", createHealthHandler(db, redisClient))

	// API v1 routes (all require JWT authentication carrying the tenant id)
	v1 := router.Group("/api/v1")
	v1.Use(middleware.JWTMiddleware(jwtConfig))
	{
		v1.POST("/mail", mailHandler.SendMessage) // POST /api/v1/mail

		messages := v1.Group("/messages")
		{
			messages.GET("", mailHandler.GetMessages)               // GET /api/v1/messages
			messages.DELETE("/expired", triggerHandler.DeleteExpired) // DELETE /api/v1/messages/expired
			messages.GET("/:id", mailHandler.GetMessageByID)        // GET /api/v1/messages/:id
		}

		settings := v1.Group("/settings")
		{
			settings.GET("/smtp", settingHandler.GetSmtpSettings)    // GET /api/v1/settings/smtp
			settings.PUT("/smtp", settingHandler.UpdateSmtpSettings) // PUT /api/v1/settings/smtp
		}

		trigger := v1.Group("/trigger")
		trigger.Use(middleware.RequireRole(sharedmodels.RoleService, sharedmodels.RoleAdmin))
		{
			trigger.POST("/send", triggerHandler.TriggerSend)   // POST /api/v1/trigger/send
			trigger.POST("/retry", triggerHandler.TriggerRetry) // POST /api/v1/trigger/retry
		}

		v1.GET("/events/ws", eventsHandler.Subscribe) // GET /api/v1/events/ws
	}
}

// createHealthHandler builds the health check handler with dependency probes
func createHealthHandler(db *database.DB, redisClient *redis.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := "healthy"
		httpStatus := http.StatusOK

		checks := gin.H{}
		if err := db.Health(); err != nil {
			checks["database"] = err.Error()
			status = "unhealthy"
			httpStatus = http.StatusServiceUnavailable
		} else {
			checks["database"] = "ok"
		}

		if err := redisClient.Ping(); err != nil {
			checks["redis"] = err.Error()
			status = "unhealthy"
			httpStatus = http.StatusServiceUnavailable
		} else {
			checks["redis"] = "ok"
		}

		c.JSON(httpStatus, gin.H{
			"status":    status,
			"service":   "mailer-service",
			"checks":    checks,
			"timestamp": time.Now().Format(time.RFC3339),
		})
	}
}

// getLogLevel returns the log level from environment
func getLogLevel() string {
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		return level
	}
	return "info"
}

// getLogFormat returns the log format from environment
func getLogFormat() string {
	if format := os.Getenv("LOG_FORMAT"); format != "" {
		return format
	}
	return "json"
}
