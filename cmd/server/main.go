package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	amqp "github.com/rabbitmq/amqp091-go"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	ginprometheus "github.com/zsais/go-gin-prometheus"

	"storybook-server/internal/ai"
	"storybook-server/internal/config"
	"storybook-server/internal/credits"
	"storybook-server/internal/database"
	"storybook-server/internal/handler"
	"storybook-server/internal/locks"
	applogger "storybook-server/internal/logger"
	"storybook-server/internal/messaging"
	appmiddleware "storybook-server/internal/middleware"
	"storybook-server/internal/models"
	"storybook-server/internal/pipeline"
	"storybook-server/internal/repository"
	"storybook-server/internal/retry"
	"storybook-server/internal/runs"
	"storybook-server/internal/service"
)

func main() {
	// .env опционален: в контейнере конфигурация приходит из окружения.
	if err := godotenv.Load(); err != nil {
		fmt.Println("No .env file found, using environment variables")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := applogger.New(applogger.Config{
		Level:    cfg.LogLevel,
		Encoding: "json",
	})
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	zap.ReplaceGlobals(logger)
	zap.L().Info("Logger initialized successfully", zap.String("logLevel", cfg.LogLevel))

	// --- External Connections ---
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	dbPort, err := strconv.Atoi(cfg.DBPort)
	if err != nil {
		zap.L().Fatal("Invalid DB_PORT", zap.String("port", cfg.DBPort), zap.Error(err))
	}

	db, err := database.New(database.Config{
		Host:     cfg.DBHost,
		Port:     dbPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		DBName:   cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
		MaxConns: int32(cfg.DBMaxConns),
	})
	if err != nil {
		zap.L().Fatal("Failed to connect to PostgreSQL", zap.Error(err))
	}
	defer db.Close()
	zap.L().Info("Connected to PostgreSQL")

	migrator := database.NewMigrator(db.Pool)
	if err := migrator.Up(ctx); err != nil {
		zap.L().Fatal("Failed to apply database migrations", zap.Error(err))
	}

	// --- Redis (лок прогонов) ---
	var runLock locks.RunLock = locks.NoopRunLock{}
	if cfg.RedisEnabled {
		redisClient := redis.NewClient(&redis.Options{
			Addr: cfg.RedisAddr,
			DB:   cfg.RedisDB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			zap.L().Fatal("Failed to connect to Redis", zap.Error(err))
		}
		defer redisClient.Close()
		zap.L().Info("Connected to Redis")
		runLock = locks.NewRedisRunLock(redisClient, cfg.RunLockTTL, logger)
	} else {
		zap.L().Warn("Redis disabled, run locking is process-local only")
	}

	// --- RabbitMQ (прогресс для клиента) ---
	var progressPublisher messaging.ProgressPublisher = messaging.NoopProgressPublisher{}
	mqConn, err := connectRabbitMQ(cfg.RabbitMQURL, logger)
	if err != nil {
		zap.L().Warn("RabbitMQ unavailable, client updates are disabled", zap.Error(err))
	} else {
		defer mqConn.Close()
		progressPublisher, err = messaging.NewRabbitMQProgressPublisher(mqConn, cfg.ClientUpdatesQueueName)
		if err != nil {
			zap.L().Fatal("Failed to create progress publisher", zap.Error(err))
		}
		zap.L().Info("Connected to RabbitMQ")
	}

	// --- AI Clients ---
	textClient, err := ai.NewTextClient(cfg)
	if err != nil {
		zap.L().Fatal("Failed to create AI text client", zap.Error(err))
	}
	imageClient, err := ai.NewImageClient(logger, cfg)
	if err != nil {
		zap.L().Fatal("Failed to create image client", zap.Error(err))
	}

	// --- Dependency Injection ---
	storyRepo := repository.NewPgStoryRepository(db.Pool, logger)
	errorSink := repository.NewPgErrorSink(db.Pool, logger)
	ledger := credits.NewPgLedger(db.Pool, logger)

	retryer := retry.NewExecutor(uint(cfg.RetryMaxAttempts), cfg.RetryBaseDelay, logger)
	costs := pipeline.NewCostTable(cfg)
	caps := pipeline.NewAICapabilities(textClient, imageClient, logger)
	steps := pipeline.NewSteps(ledger, caps, retryer, errorSink, costs, logger)
	orchestrator := pipeline.NewOrchestrator(
		steps, ledger, storyRepo, runLock, retryer,
		cfg.RedevelopIdeaOnResume, cfg.ImageConcurrency, logger,
	)

	runManager := runs.New(runs.Config{MaxRuns: cfg.MaxConcurrentRuns})

	makeTracker := func(story *models.Story) *pipeline.Tracker {
		return pipeline.NewTracker(story.ID, story.AuthorID, story.Length, progressPublisher, logger)
	}

	generationService := service.NewGenerationService(
		storyRepo, ledger, orchestrator, runManager, costs, makeTracker, cfg, logger,
	)
	storybookHandler := handler.NewStorybookHandler(generationService, cfg, logger)

	// Фоновая уборка завершенных прогонов.
	cleanupDone := make(chan struct{})
	go func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				runManager.Cleanup(cfg.RunRetention)
				generationService.PruneTrackers()
			case <-cleanupDone:
				return
			}
		}
	}()
	defer close(cleanupDone)

	// --- HTTP Server Setup (Gin) ---
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.RedirectTrailingSlash = true
	router.Use(appmiddleware.GinZapLogger(logger))
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = []string{"http://localhost:3000"}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization"}
	corsConfig.AllowCredentials = true
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	healthHandler := func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
	router.GET("/health", healthHandler)
	router.HEAD("/health", healthHandler)

	storybookHandler.RegisterRoutes(router)

	p := ginprometheus.NewPrometheus("gin")
	p.Use(router)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	zap.L().Info("Starting HTTP server", zap.String("port", cfg.Port))

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zap.L().Fatal("HTTP Server listen error", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zap.L().Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Даем активным прогонам шанс дорисоваться или откатиться.
	if err := runManager.Shutdown(shutdownCtx); err != nil {
		zap.L().Warn("Run manager did not drain in time", zap.Error(err))
	}

	if err := srv.Shutdown(shutdownCtx); err != nil {
		zap.L().Error("HTTP Server forced to shutdown", zap.Error(err))
	}

	zap.L().Info("Server exiting")
}

// connectRabbitMQ подключается к RabbitMQ с несколькими попытками.
func connectRabbitMQ(url string, logger *zap.Logger) (*amqp.Connection, error) {
	var conn *amqp.Connection
	var err error
	maxRetries := 5
	retryDelay := 3 * time.Second

	for i := 0; i < maxRetries; i++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			return conn, nil
		}
		logger.Warn("RabbitMQ connection failed, retrying...",
			zap.Int("attempt", i+1),
			zap.Int("max_retries", maxRetries),
			zap.Error(err))
		time.Sleep(retryDelay)
	}
	return nil, fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", maxRetries, err)
}
