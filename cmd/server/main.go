package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron"
	"gopkg.in/natefinch/lumberjack.v2"

	config "github.com/maheshrc27/seriesflow/configs"
	"github.com/maheshrc27/seriesflow/internal/api/handlers"
	"github.com/maheshrc27/seriesflow/internal/api/middleware"
	"github.com/maheshrc27/seriesflow/internal/content"
	job "github.com/maheshrc27/seriesflow/internal/jobs"
	"github.com/maheshrc27/seriesflow/internal/media"
	"github.com/maheshrc27/seriesflow/internal/publishing"
	"github.com/maheshrc27/seriesflow/internal/queue"
	"github.com/maheshrc27/seriesflow/internal/ratelimit"
	"github.com/maheshrc27/seriesflow/internal/repository"
	"github.com/maheshrc27/seriesflow/internal/series"
	"github.com/maheshrc27/seriesflow/internal/storage"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: Failed to load environment variables", err)
	}

	cfg := config.LoadConfig()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	setupLogger(cfg.Log)

	db, err := sql.Open("postgres", cfg.PostgresURI)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer closeDB(db)

	if err := db.Ping(); err != nil {
		log.Fatalf("Database is unreachable: %v", err)
	}

	redisConn := asynqRedis(cfg.RedisURI)
	client := asynq.NewClient(redisConn)
	defer client.Close()

	rdb := redisClient(cfg.RedisURI)

	seriesRepo := repository.NewSeriesRepository(db)
	socialAccountRepo := repository.NewSocialAccountRepository(db)
	cloudCredentialRepo := repository.NewCloudCredentialRepository(db)
	seriesRunRepo := repository.NewSeriesRunRepository(db)

	var limitStore ratelimit.Store = repository.NewRateLimitRepository(db)
	if cfg.Scheduler.RateLimitBackend == "redis" {
		limitStore = ratelimit.NewRedisStore(rdb)
	}
	limiter := ratelimit.NewLimiter(limitStore, ratelimit.WithLimit(cfg.Scheduler.DailyPostLimit))

	files := storage.NewDurableClient(
		storage.NewDriveBackend(),
		cloudCredentialRepo,
		storage.NewGoogleRefresher(cfg.Drive.ClientID, cfg.Drive.ClientSecret),
		cfg.SecretKey,
	)

	var videoTransformer media.Transformer
	if cfg.Transform.BaseURL != "" {
		videoTransformer = media.NewRemoteTransformer(cfg.Transform.BaseURL, cfg.Transform.APIKey, cfg.Transform.Timeout)
	}
	compressor := media.NewRouter(media.NewImageTransformer(), videoTransformer)

	adapter := publishing.NewAdapter(cfg.Publishing.BaseURL, cfg.Publishing.APIKey, cfg.Publishing.Timeout, compressor)
	registry := publishing.NewRegistry(publishing.NewQueuePublisher(adapter))
	for _, platform := range cfg.Scheduler.NativePlatforms {
		if platform != publishing.PlatformInstagram {
			slog.Warn("no native publisher for platform, using the queue", "platform", platform)
			continue
		}
		r2Client, err := publishing.NewR2Client(context.Background(), cfg.R2)
		if err != nil {
			log.Fatalf("Failed to configure R2: %v", err)
		}
		stager := publishing.NewR2Stager(r2Client, cfg.R2.BucketName, cfg.R2.PublicBaseURL)
		registry.Register(platform, publishing.NewInstagramPublisher(cfg.Instagram.GraphURL, socialAccountRepo, stager, compressor, cfg.SecretKey))
	}

	generator := content.NewGenerator(content.Config{
		BaseURL:     cfg.AI.BaseURL,
		APIKey:      cfg.AI.APIKey,
		VisionModel: cfg.AI.VisionModel,
		TextModel:   cfg.AI.TextModel,
		Timeout:     cfg.AI.Timeout,
	})

	orchestrator := series.NewOrchestrator(
		seriesRepo,
		socialAccountRepo,
		seriesRunRepo,
		files,
		generator,
		adapter,
		registry,
		limiter,
		series.Options{
			LockStaleAfter: cfg.Scheduler.LockStaleAfter,
			MinRunInterval: cfg.Scheduler.MinRunInterval,
		},
	)

	app := fiber.New(fiber.Config{
		ReadTimeout:  10 * time.Minute,
		WriteTimeout: 10 * time.Minute,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			slog.Error("request failed", "path", c.Path(), "error", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		},
	})

	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		MaxAge:       3600,
	}))
	app.Use(middleware.Metrics())

	health := handlers.NewHealthHandler(db)
	app.Get("/health", health.Health)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	api := app.Group("/api")
	api.Use(middleware.NewAPIKeyMiddleware(cfg.APIKey).APIKey())

	seriesHandler := handlers.NewSeriesHandler(orchestrator, seriesRunRepo, client, cfg.Scheduler.TaskUniqueWindow)
	api.Post("/series/:id/advance", seriesHandler.QueueAdvance)
	api.Post("/series/:id/run", seriesHandler.RunNow)
	api.Get("/series/:id/runs", seriesHandler.ListRuns)

	rateLimit := handlers.NewRateLimitHandler(limiter)
	api.Get("/ratelimit/:platform/:account", rateLimit.Status)

	// cron jobs
	dispatchJob := job.NewDispatchJob(seriesRepo, client, cfg.Scheduler.TaskUniqueWindow)
	credentialJob := job.NewCredentialRefreshJob(cloudCredentialRepo, files, cfg.Scheduler.Concurrency)

	c := cron.New()
	if err := c.AddFunc(cfg.Scheduler.DispatchEvery, func() { dispatchJob.EnqueueDue() }); err != nil {
		log.Fatalf("Invalid dispatch schedule %q: %v", cfg.Scheduler.DispatchEvery, err)
	}
	if err := c.AddFunc(cfg.Scheduler.CredentialEvery, credentialJob.RefreshCredentials); err != nil {
		log.Fatalf("Invalid credential refresh schedule %q: %v", cfg.Scheduler.CredentialEvery, err)
	}
	c.Start()

	//queue
	queueW := queue.NewQueue(orchestrator)
	server := asynq.NewServer(redisConn, asynq.Config{
		Concurrency: cfg.Scheduler.Concurrency,
	})

	go func() {
		mux := asynq.NewServeMux()
		mux.HandleFunc(queue.TaskTypeAdvanceSeries, queueW.HandleAdvanceTask)

		slog.Info("Starting the Asynq server...")
		if err := server.Run(mux); err != nil {
			log.Fatalf("Could not start Asynq server: %v", err)
		}
	}()

	go func() {
		if err := app.Listen(cfg.ListenAddr); err != nil {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()
	slog.Info("Server is running", "addr", cfg.ListenAddr)

	gracefulShutdown(app, server, c, rdb, db)
}

func setupLogger(cfg config.Log) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}

	var out io.Writer = os.Stdout
	if cfg.File != "" {
		out = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			Compress:   true,
		})
	}

	slog.SetDefault(slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level})))
}

// asynqRedis accepts either a redis:// URI or a bare host:port.
func asynqRedis(uri string) asynq.RedisConnOpt {
	if opt, err := asynq.ParseRedisURI(uri); err == nil {
		return opt
	}
	return asynq.RedisClientOpt{Addr: uri}
}

func redisClient(uri string) *redis.Client {
	opt, err := redis.ParseURL(uri)
	if err != nil {
		opt = &redis.Options{Addr: uri}
	}
	return redis.NewClient(opt)
}

func closeDB(db *sql.DB) {
	fmt.Fprint(os.Stdout, "Closing database connection... ")
	if err := db.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to close database: %v", err)
		return
	}
	fmt.Fprintln(os.Stdout, "Done")
}

func gracefulShutdown(app *fiber.App, server *asynq.Server, c *cron.Cron, rdb *redis.Client, db *sql.DB) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	<-quit
	slog.Info("Shutting down server...")

	c.Stop()
	if err := app.Shutdown(); err != nil {
		log.Fatalf("Failed to shut down server: %v", err)
	}
	server.Shutdown()

	if err := rdb.Close(); err != nil {
		slog.Warn("failed to close redis client", "error", err)
	}

	closeDB(db)
	slog.Info("Server shutdown complete.")
}
