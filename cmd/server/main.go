package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	config "github.com/maheshrc27/postflow/configs"
	"github.com/maheshrc27/postflow/internal/api/handlers"
	"github.com/maheshrc27/postflow/internal/api/middleware"
	job "github.com/maheshrc27/postflow/internal/jobs"
	"github.com/maheshrc27/postflow/internal/lock"
	"github.com/maheshrc27/postflow/internal/media"
	"github.com/maheshrc27/postflow/internal/publisher"
	"github.com/maheshrc27/postflow/internal/queue"
	"github.com/maheshrc27/postflow/internal/repository"
	"github.com/maheshrc27/postflow/internal/retry"
	"github.com/maheshrc27/postflow/internal/service"
	"github.com/maheshrc27/postflow/pkg/errtrack"
	"github.com/maheshrc27/postflow/pkg/logging"
	"github.com/robfig/cron"
	"go.uber.org/zap"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: Failed to load environment variables", err)
	}

	cfg := config.LoadConfig()

	zl, err := logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer zl.Sync()

	if err := cfg.Validate(); err != nil {
		zl.Fatal("invalid configuration", zap.Error(err))
	}

	if err := errtrack.Init(errtrack.Options{DSN: cfg.SentryDSN, Environment: cfg.SentryEnvironment}, zl); err != nil {
		zl.Warn("error tracking unavailable", zap.Error(err))
	}
	defer errtrack.Flush(2 * time.Second)

	db, err := sql.Open("postgres", cfg.PostgresURI)
	if err != nil {
		zl.Fatal("failed to connect to database", zap.Error(err))
	}
	defer closeDB(db, zl)

	if err := db.Ping(); err != nil {
		zl.Fatal("database is unreachable", zap.Error(err))
	}

	startCtx, cancelStart := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelStart()

	postRepo := repository.NewPostRepository(db)
	socialAccountRepo := repository.NewSocialAccountRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)
	userRepo := repository.NewUserRepository(db)

	// Redis backs the background queue and post leases. Without it runs are
	// driven in-process and guarded by the status re-check alone.
	var (
		asynqClient *asynq.Client
		queueClient *queue.Client
		redisOpt    asynq.RedisConnOpt
		jobOpts     []job.Option
	)
	if cfg.RedisURI != "" {
		redisOpt = asynqRedisOpt(cfg.RedisURI)
		asynqClient = asynq.NewClient(redisOpt)
		defer asynqClient.Close()
		queueClient = queue.NewClient(asynqClient, zl.Named("queue"))

		redisClient, err := lock.Connect(startCtx, cfg.RedisURI)
		if err != nil {
			zl.Warn("post leases disabled", zap.Error(err))
		} else {
			defer redisClient.Close()
			jobOpts = append(jobOpts, job.WithLocker(lock.NewRedisLocker(redisClient, "postflow:lease:"), cfg.Publisher.LeaseTTL))
		}
	} else {
		zl.Warn("REDIS_URI not set: background queue, email delivery and post leases are disabled")
	}

	var emails service.EmailEnqueuer
	if queueClient != nil {
		emails = queueClient
	}
	notificationService := service.NewNotificationService(*cfg, notificationRepo, emails, zl.Named("notify"))
	emailService := service.NewEmailService(notificationRepo, userRepo, service.NewSMTPMailer(cfg.SMTP), zl.Named("email"))

	httpClient := &http.Client{Timeout: 5 * time.Minute}

	tokenService := service.NewTokenService(*cfg, socialAccountRepo, notificationService, []service.TokenRefresher{
		service.NewTwitterRefresher(*cfg, httpClient),
		service.NewTiktokRefresher(*cfg, httpClient),
	}, zl.Named("tokens"))

	var fetcherOpts []media.Option
	presigner, err := media.NewR2Presigner(startCtx, cfg.R2)
	if err != nil {
		zl.Warn("r2 presigning disabled", zap.Error(err))
	} else if presigner != nil {
		fetcherOpts = append(fetcherOpts, media.WithPresigner(presigner, cfg.R2.BucketName))
	}
	fetcher := media.NewFetcher(zl.Named("media"), fetcherOpts...)

	registry := publisher.NewRegistry(
		publisher.NewTwitter(*cfg, httpClient, zl.Named("twitter")),
		publisher.NewLinkedIn(*cfg, httpClient, zl.Named("linkedin")),
		publisher.NewTiktok(*cfg, httpClient, zl.Named("tiktok")),
	)
	retrier := retry.NewHandler(retry.DefaultPolicy(), postRepo, zl.Named("retry"))

	publishJob := job.NewPublishJob(*cfg, postRepo, socialAccountRepo, tokenService, notificationService,
		registry, fetcher, retrier, zl.Named("publish"), jobOpts...)
	refreshTokenJob := job.NewTokenRefreshJob(socialAccountRepo, tokenService, zl.Named("token_refresh"))

	app := fiber.New(fiber.Config{
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Minute,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			zl.Error("request failed", zap.String("path", c.Path()), zap.Error(err))
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{"error": err.Error()})
		},
	})

	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		MaxAge:       3600,
	}))

	authMiddleware := middleware.NewAuthMiddleware(*cfg, zl.Named("http"))
	handlers.NewCronHandler(publishJob, zl.Named("http")).Register(app, authMiddleware.AuthMiddleware())

	c := cron.New()
	if queueClient != nil {
		err = c.AddFunc(cfg.Publisher.CronSpec, queueClient.ScheduledPublish)
	} else {
		err = c.AddFunc(cfg.Publisher.CronSpec, inProcessPublish(publishJob, zl))
	}
	if err != nil {
		zl.Fatal("invalid PUBLISH_CRON_SPEC", zap.String("spec", cfg.Publisher.CronSpec), zap.Error(err))
	}
	if err := c.AddFunc(cfg.Publisher.TokenRefreshCronSpec, refreshTokenJob.RefreshTokens); err != nil {
		zl.Fatal("invalid TOKEN_REFRESH_CRON_SPEC", zap.String("spec", cfg.Publisher.TokenRefreshCronSpec), zap.Error(err))
	}
	c.Start()

	var server *asynq.Server
	if asynqClient != nil {
		server = asynq.NewServer(redisOpt, asynq.Config{
			Concurrency: 10,
			Logger:      zl.Named("asynq").Sugar(),
		})

		mux := asynq.NewServeMux()
		queue.NewQueue(publishJob, emailService, zl.Named("worker")).Register(mux)

		go func() {
			defer errtrack.Recover()
			zl.Info("starting the asynq server")
			if err := server.Run(mux); err != nil {
				zl.Fatal("could not start asynq server", zap.Error(err))
			}
		}()
	}

	go func() {
		if err := app.Listen(cfg.HTTPAddr); err != nil {
			zl.Fatal("failed to start server", zap.Error(err))
		}
	}()
	zl.Info("server is running", zap.String("addr", cfg.HTTPAddr), zap.Strings("platforms", platformNames(registry)))

	gracefulShutdown(app, c, server, zl)
}

// asynqRedisOpt accepts either a redis:// URL or a bare host:port.
func asynqRedisOpt(uri string) asynq.RedisConnOpt {
	if strings.Contains(uri, "://") {
		opt, err := asynq.ParseRedisURI(uri)
		if err == nil {
			return opt
		}
		logging.GetLogger().Warn("unable to parse REDIS_URI, using it as an address", zap.Error(err))
	}
	return asynq.RedisClientOpt{Addr: uri}
}

func inProcessPublish(publishJob *job.PublishJob, zl *zap.Logger) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		defer cancel()

		if _, err := publishJob.Run(ctx, "cron"); err != nil {
			zl.Error("scheduled publish run failed", zap.Error(err))
		}
	}
}

func platformNames(r *publisher.Registry) []string {
	var names []string
	for _, p := range r.Platforms() {
		names = append(names, string(p))
	}
	return names
}

func closeDB(db *sql.DB, zl *zap.Logger) {
	if err := db.Close(); err != nil {
		zl.Error("failed to close database", zap.Error(err))
		return
	}
	zl.Info("database connection closed")
}

func gracefulShutdown(app *fiber.App, c *cron.Cron, server *asynq.Server, zl *zap.Logger) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	<-quit
	zl.Info("shutting down server")

	c.Stop()
	if server != nil {
		server.Shutdown()
	}
	if err := app.ShutdownWithTimeout(30 * time.Second); err != nil {
		zl.Error("failed to shut down server", zap.Error(err))
	}

	zl.Info("server shutdown complete")
}
