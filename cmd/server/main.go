package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/musicverse/api/internal/auth"
	"github.com/musicverse/api/internal/client"
	"github.com/musicverse/api/internal/config"
	"github.com/musicverse/api/internal/credit"
	"github.com/musicverse/api/internal/handler"
	applog "github.com/musicverse/api/internal/logger"
	"github.com/musicverse/api/internal/middleware"
	"github.com/musicverse/api/internal/notify"
	"github.com/musicverse/api/internal/service"
	"github.com/musicverse/api/internal/store"
	"github.com/musicverse/api/internal/worker"
	"github.com/musicverse/api/internal/ws"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zl := applog.New(cfg.Server.Env, cfg.Server.LogLevel)

	ctx := context.Background()

	// Initialize Redis client
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		zl.Warn().Err(err).Msg("redis not available")
	}

	// Initialize Postgres pool and store
	pool, err := store.Connect(ctx, cfg.Postgres.URL)
	if err != nil {
		zl.Fatal().Err(err).Msg("postgres connection failed")
	}
	defer pool.Close()
	st := store.NewPostgresStore(pool)

	// Initialize Asynq client
	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
	asynqClient := asynq.NewClient(redisOpt)
	defer asynqClient.Close()

	// Initialize validator
	validate := validator.New()

	// Initialize WebSocket hub
	hub := ws.NewHub(zl)
	go hub.Run()

	// Initialize external clients
	sunoClient := client.NewSunoClient(&cfg.Suno, zl)

	// Initialize R2 client (optional - continues if not configured)
	var blobs client.BlobStore
	if cfg.R2.AccessKeyID != "" && cfg.R2.SecretAccessKey != "" {
		r2Client, err := client.NewR2Client(&cfg.R2)
		if err != nil {
			zl.Warn().Err(err).Msg("r2 client not initialized")
		} else {
			blobs = r2Client
		}
	} else {
		zl.Info().Msg("r2 storage not configured, completed media keeps provider urls")
	}

	// Initialize Zitadel JWKS verifier (optional - falls back to legacy JWT)
	var jwksVerifier *auth.JWKSVerifier
	if cfg.Zitadel.Issuer != "" {
		jwksVerifier, err = auth.NewJWKSVerifier(&cfg.Zitadel)
		if err != nil {
			zl.Warn().Err(err).Msg("jwks verifier not initialized")
		} else {
			defer jwksVerifier.Close()
		}
	}

	// Notifier
	var notifier notify.Notifier
	if cfg.Telegram.BotToken != "" {
		notifier = notify.NewTelegramNotifier(cfg.Telegram.BotToken, zl)
	} else {
		notifier = notify.NewNoopNotifier()
	}
	reporter := notify.NewResultReporter(notifier, cfg.Telegram.ChatID)

	// Credit ledger
	var ledger credit.Ledger
	if cfg.Credits.Enabled {
		ledger = credit.NewRedisLedger(redisClient)
	} else {
		ledger = credit.NewUnlimitedLedger()
	}

	// Initialize services
	completionService := service.NewCompletionService(st, blobs, hub, reporter, zl)
	generationService := service.NewGenerationService(st, sunoClient, cfg.Suno.ExpectedClips, zl)
	retryService := service.NewRetryService(st, generationService, time.Second, zl)
	sweepService := service.NewSweepService(st, sunoClient, completionService,
		cfg.Sweeper.StaleAfter, cfg.Sweeper.FailAfter, cfg.Sweeper.BatchLimit, zl)
	gcService := service.NewGCService(st, redisClient, blobs, cfg.GC.Retention,
		cfg.GC.PurgeFailed, cfg.GC.PurgeOrphans, cfg.GC.ExpireCounters, zl)

	// Initialize handlers
	generationHandler := handler.NewGenerationHandler(generationService, retryService, ledger, cfg.Credits.GenerationCost, validate)
	webhookHandler := handler.NewWebhookHandler(asynqClient, zl)
	maintenanceHandler := handler.NewMaintenanceHandler(sweepService, gcService)

	// Initialize auth middleware (with fallback support)
	var authMiddleware *middleware.AuthMiddleware
	if jwksVerifier != nil && cfg.JWT.Secret != "" {
		authMiddleware = middleware.NewAuthMiddlewareWithFallback(jwksVerifier, cfg.JWT.Secret)
	} else if jwksVerifier != nil {
		authMiddleware = middleware.NewAuthMiddleware(jwksVerifier)
	} else {
		authMiddleware = middleware.NewLegacyAuthMiddleware(cfg.JWT.Secret)
	}
	rateLimiter := middleware.NewRateLimiter(redisClient, middleware.NewMemoryCounter())

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"services": fiber.Map{
				"suno": sunoClient.IsConfigured(),
				"r2":   blobs != nil,
				"auth": jwksVerifier != nil || cfg.JWT.Secret != "",
			},
		})
	})

	// API routes
	api := app.Group("/api", authMiddleware.Authenticate())

	gen := api.Group("/generate")
	gen.Post("/", rateLimiter.GenerateLimit(cfg.RateLimit.GeneratePerHour), generationHandler.Start)
	gen.Get("/status/:requestId", generationHandler.Status)
	gen.Get("/result/:requestId", generationHandler.Result)
	gen.Post("/retry", rateLimiter.RetryLimit(cfg.RateLimit.RetryPerHour), generationHandler.Retry)

	// Provider callback
	app.Post("/webhooks/suno", webhookHandler.HandleSunoCallback)

	// Internal maintenance triggers
	internal := app.Group("/internal", middleware.InternalAuthMiddleware(cfg.Server.InternalSecret))
	internal.Post("/sweep", maintenanceHandler.Sweep)
	internal.Post("/gc", maintenanceHandler.GC)

	// WebSocket routes
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/requests/:requestId", websocket.New(func(c *websocket.Conn) {
		hub.HandleConnection(c, c.Params("requestId"))
	}))

	// Start Asynq worker server and scheduler
	go startWorkerServer(cfg, redisOpt, completionService, sweepService, gcService, zl)
	go startScheduler(cfg, redisOpt, zl)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		zl.Info().Msg("shutting down server")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			zl.Error().Err(err).Msg("server shutdown error")
		}
	}()

	addr := ":" + cfg.Server.Port
	zl.Info().Str("addr", addr).Msg("server starting")
	if err := app.Listen(addr); err != nil {
		zl.Fatal().Err(err).Msg("server error")
	}
}

func startWorkerServer(
	cfg *config.Config,
	redisOpt asynq.RedisClientOpt,
	completionService *service.CompletionService,
	sweepService *service.SweepService,
	gcService *service.GCService,
	zl zerolog.Logger,
) {
	asynqLogLevel := asynq.InfoLevel
	if strings.EqualFold(cfg.Server.LogLevel, "debug") {
		asynqLogLevel = asynq.DebugLevel
	} else if strings.EqualFold(cfg.Server.LogLevel, "warn") {
		asynqLogLevel = asynq.WarnLevel
	} else if strings.EqualFold(cfg.Server.LogLevel, "error") {
		asynqLogLevel = asynq.ErrorLevel
	}

	srv := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: 10,
			Queues: map[string]int{
				"completion":  6,
				"maintenance": 2,
				"default":     2,
			},
			LogLevel: asynqLogLevel,
		},
	)

	completionWorker := worker.NewCompletionWorker(completionService, zl)
	maintenanceWorker := worker.NewMaintenanceWorker(sweepService, gcService, zl)

	mux := asynq.NewServeMux()
	mux.HandleFunc(worker.TaskTypeCompletion, completionWorker.ProcessTask)
	mux.HandleFunc(worker.TaskTypeSweep, maintenanceWorker.ProcessSweep)
	mux.HandleFunc(worker.TaskTypeGC, maintenanceWorker.ProcessGC)

	if err := srv.Run(mux); err != nil {
		zl.Error().Err(err).Msg("asynq worker error")
	}
}

// startScheduler registers the periodic sweep and GC tasks.
func startScheduler(cfg *config.Config, redisOpt asynq.RedisClientOpt, zl zerolog.Logger) {
	scheduler := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{})

	sweepSpec := "@every " + cfg.Sweeper.Interval.String()
	if _, err := scheduler.Register(sweepSpec, worker.NewSweepTask(), asynq.Queue("maintenance")); err != nil {
		zl.Error().Err(err).Msg("failed to register sweep schedule")
	}
	gcSpec := "@every " + cfg.GC.Interval.String()
	if _, err := scheduler.Register(gcSpec, worker.NewGCTask(), asynq.Queue("maintenance")); err != nil {
		zl.Error().Err(err).Msg("failed to register gc schedule")
	}

	if err := scheduler.Run(); err != nil {
		zl.Error().Err(err).Msg("asynq scheduler error")
	}
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return c.Status(code).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    "SERVICE_ERROR",
			"message": message,
		},
	})
}
