package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/errorpulse/backend/internal/ai"
	"github.com/errorpulse/backend/internal/api/handlers"
	"github.com/errorpulse/backend/internal/broadcast"
	rediscache "github.com/errorpulse/backend/internal/cache/redis"
	"github.com/errorpulse/backend/internal/metrics"
	"github.com/errorpulse/backend/internal/middleware/ratelimit"
	"github.com/errorpulse/backend/internal/middleware/security"
	"github.com/errorpulse/backend/internal/middleware/validation"
	"github.com/errorpulse/backend/internal/pattern"
	"github.com/errorpulse/backend/internal/pipeline"
	"github.com/errorpulse/backend/internal/spike"
	"github.com/errorpulse/backend/internal/stats"
	"github.com/errorpulse/backend/internal/storage/sqlite"
	"github.com/errorpulse/backend/pkg/config"
	appLogger "github.com/errorpulse/backend/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting ErrorPulse API Server")

	metrics.Init()

	sqliteClient, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer sqliteClient.Close()

	err = sqliteClient.InitSchema()
	if err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	var statsCache *rediscache.Client
	if cfg.Redis.Enabled {
		statsCache, err = rediscache.NewClient(
			cfg.Redis.Host,
			cfg.Redis.Port,
			cfg.Redis.Password,
			cfg.Redis.DB,
			cfg.Redis.StatsTTL,
		)
		if err != nil {
			appLogger.Warn("Redis unavailable, stats caching disabled", zap.Error(err))
			statsCache = nil
		} else {
			defer statsCache.Close()
		}
	}

	aiClient := ai.NewClient(
		cfg.AI.APIKey,
		cfg.AI.Model,
		cfg.AI.Temperature,
		cfg.AI.MaxTokens,
		cfg.AI.TimeoutSec,
	)

	hub := broadcast.NewHub(cfg.Broadcast.ClientBuffer)
	matcher := pattern.NewMatcher(sqliteClient)
	detector := spike.NewDetector(sqliteClient)
	aggregator := stats.NewAggregator(sqliteClient)

	// A nil *rediscache.Client must not become a non-nil StatsCache interface.
	var pipeCache pipeline.StatsCache
	if statsCache != nil {
		pipeCache = statsCache
	}

	pipe := pipeline.New(sqliteClient, matcher, detector, aggregator, aiClient, hub, pipeCache)

	errorsHandler := handlers.NewErrorsHandler(pipe, sqliteClient, aggregator, statsCache)
	wsHandler := handlers.NewWebSocketHandler(hub, sqliteClient, aggregator, detector)

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Source",
		AllowMethods: "GET, POST, DELETE, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{
		IsDevelopment: cfg.Logging.Level == "debug",
	}))

	limiter := ratelimit.New(ratelimit.Config{
		MaxRequestsPerMinute: cfg.Ingest.MaxRequestsPerMinute,
		Logger:               appLogger.GetLogger(),
	})
	defer limiter.Stop()

	api := app.Group("/api/v1")

	api.Post("/errors",
		limiter.Middleware(),
		validation.Middleware(validation.Config{
			MaxBodySize:  cfg.Server.BodyLimit,
			MaxBatchSize: cfg.Ingest.MaxBatchSize,
			Logger:       appLogger.GetLogger(),
		}),
		errorsHandler.IngestErrors,
	)
	api.Get("/errors", errorsHandler.GetRecentErrors)
	api.Get("/errors/range/:start/:end", errorsHandler.GetErrorsInRange)
	api.Get("/errors/stats", errorsHandler.GetStats)
	api.Get("/errors/:id", errorsHandler.GetErrorByID)
	api.Delete("/errors", errorsHandler.ClearErrors)

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "healthy",
			"time":    time.Now().Unix(),
			"clients": hub.ClientCount(),
		})
	})

	app.Get("/metrics", metrics.MetricsHandler())

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws", websocket.New(wsHandler.HandleConnection))

	loopCtx, cancelLoop := context.WithCancel(context.Background())
	go pipe.RunStatsLoop(loopCtx, time.Duration(cfg.Broadcast.StatsIntervalSec)*time.Second)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	cancelLoop()
	app.Shutdown()
	pipe.Wait()
	appLogger.Info("Server stopped")
}
