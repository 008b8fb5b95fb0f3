package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"compliance-service/internal/auth"
	"compliance-service/internal/config"
	"compliance-service/internal/events"
	"compliance-service/internal/handlers"
	"compliance-service/internal/middleware"
	"compliance-service/internal/models"
	"compliance-service/internal/repository"
	"compliance-service/internal/seeders"
	"compliance-service/internal/services"
	"compliance-service/internal/storage"
)

// @title Compliance Workflow API
// @version 1.0.0
// @description KYC and BRA approval workflow service for corporate service providers

// @contact.name API Support
// @contact.email support@example.com

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8094
// @BasePath /api/v1

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.

func main() {
	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)
	logger.SetLevel(logrus.InfoLevel)

	// Load environment variables
	if err := godotenv.Load(); err != nil {
		logger.Info("No .env file found, using system environment variables")
	}

	// Initialize configuration
	cfg := config.Load()
	if cfg.JWTSecret == "" {
		logger.Fatal("JWT_SECRET must be configured")
	}

	// Initialize database
	db, err := config.InitDB(cfg)
	if err != nil {
		logger.Fatal("Failed to connect to database:", err)
	}

	// Run database migrations
	logger.Info("Running database migrations...")
	if err := db.AutoMigrate(
		&models.Role{},
		&models.User{},
		&models.Job{},
		&models.ApprovalProcess{},
		&models.WorkflowEvent{},
	); err != nil {
		logger.Fatalf("Failed to run migrations: %v", err)
	}
	if err := repository.EnsureActiveProcessIndex(db); err != nil {
		logger.Fatalf("Failed to create active process index: %v", err)
	}
	logger.Info("Database migrations completed")

	// Seed built-in roles
	if err := seeders.SeedSystemRoles(db); err != nil {
		logger.Fatalf("Failed to seed roles: %v", err)
	}

	// Initialize repositories
	processRepo := repository.NewProcessRepository(db)
	userRepo := repository.NewUserRepository(db)

	// Initialize event publisher (optional - service works without NATS)
	var publisher *events.Publisher
	if cfg.NATSURL != "" {
		publisher, err = events.NewPublisher(cfg.NATSURL, logger)
		if err != nil {
			logger.Warnf("Failed to initialize event publisher: %v. Events will not be published.", err)
		} else {
			logger.Info("Event publisher initialized")
			defer publisher.Close()
		}
	} else {
		logger.Info("NATS_URL not configured, event publishing disabled")
	}

	// Initialize document storage, S3 when configured, local disk otherwise
	var uploader storage.Uploader
	if cfg.S3Bucket != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		uploader, err = storage.NewS3Store(ctx, storage.S3Config{
			Bucket:       cfg.S3Bucket,
			Region:       cfg.S3Region,
			Endpoint:     cfg.S3Endpoint,
			AccessKey:    cfg.S3AccessKey,
			SecretKey:    cfg.S3SecretKey,
			UsePathStyle: cfg.S3UsePathStyle,
			PublicURL:    cfg.S3PublicURL,
		})
		cancel()
		if err != nil {
			logger.Fatalf("Failed to initialize S3 storage: %v", err)
		}
		logger.WithField("bucket", cfg.S3Bucket).Info("S3 document storage initialized")
	} else {
		uploader = storage.NewLocalStore(cfg.LocalStoreDir)
		logger.WithField("dir", cfg.LocalStoreDir).Warn("S3_BUCKET not configured, using local document storage")
	}

	// Initialize services
	workflowService := services.NewWorkflowService(processRepo, publisher, cfg.AllowReinitialize)

	// Initialize auth stack
	tokens := auth.NewTokenManager(cfg.JWTSecret, 24*time.Hour)
	authMiddleware := middleware.NewAuthMiddleware(tokens, userRepo)

	// Initialize handlers
	kycHandler := handlers.NewWorkflowHandler(workflowService, uploader, models.KindKYC)
	braHandler := handlers.NewWorkflowHandler(workflowService, uploader, models.KindBRA)
	adminHandler := handlers.NewAdminHandler(workflowService)

	// Initialize Gin router
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	// Add CORS middleware
	router.Use(middleware.CORS())

	// Health check endpoints (no auth required)
	router.GET("/health", handlers.HealthCheck)
	router.GET("/ready", handlers.ReadinessCheck)

	// Protected API routes
	api := router.Group("/api/v1")
	api.Use(authMiddleware.RequireAuth())

	// Verification workflow endpoints, one chain per kind
	kycHandler.RegisterRoutes(api.Group("/kyc"), authMiddleware)
	braHandler.RegisterRoutes(api.Group("/bra"), authMiddleware)

	// Admin endpoints
	admin := api.Group("/admin")
	admin.Use(authMiddleware.RequireRole(models.RoleAdmin))
	{
		admin.GET("/processes", adminHandler.ListProcesses)
	}

	// Swagger documentation
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// Start server
	port := cfg.Port
	if port == "" {
		port = "8094"
	}

	// Setup graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Infof("Compliance service starting on port %s", port)
		if err := router.Run(":" + port); err != nil {
			logger.Fatal("Failed to start server:", err)
		}
	}()

	// Wait for interrupt signal
	<-quit
	logger.Info("Shutting down server...")
}
