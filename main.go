package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/go-redis/redis/v8"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"outreach/config"
	controller "outreach/controllers"
	"outreach/middleware"
	"outreach/repository"
	"outreach/routes"
	"outreach/utils"
	"outreach/worker"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}
	config.ConfigureLogging(cfg.LogLevel, cfg.LogFormat)

	if err := config.InitSentry(cfg); err != nil {
		logrus.WithError(err).Warn("Continuing without Sentry")
	}
	defer sentry.Flush(2 * time.Second)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := config.ConnectDB(cfg)
	if err != nil {
		logrus.Fatalf("Failed to connect to database: %v", err)
	}
	repo := repository.NewGormRepository(db)

	// Activity lines go to Mongo when configured, otherwise to postgres.
	var activity repository.ActivityLogger = repository.NewGormActivityLogger(db, logrus.WithField("component", "activity"))
	mongoClient, mongoDB, err := config.ConnectMongo(ctx, cfg.Mongo)
	if err != nil {
		logrus.WithError(err).Warn("MongoDB unavailable, writing activity logs to postgres")
	} else if mongoDB != nil {
		mongoLogger := repository.NewMongoActivityLogger(mongoDB, logrus.WithField("component", "activity"))
		if err := mongoLogger.EnsureIndexes(ctx); err != nil {
			logrus.WithError(err).Warn("Failed to create activity log indexes")
		}
		activity = mongoLogger
		defer mongoClient.Disconnect(context.Background())
	}

	var (
		locker      utils.CampaignLocker = utils.NewLocalCampaignLocker()
		rateStorage fiber.Storage
	)
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logrus.Fatalf("Failed to connect to redis: %v", err)
		}
		defer rdb.Close()
		locker = utils.NewRedisCampaignLocker(rdb)
		rateStorage = middleware.NewRedisStorage(rdb)
		logrus.WithField("address", cfg.Redis.Address).Info("Connected to redis")
	}

	decrypt := utils.NewCredentialDecrypter(cfg.EncryptionKey)

	var transport utils.EmailTransport
	switch cfg.Worker.Transport {
	case utils.TransportSMTP:
		transport = utils.NewSMTPTransport(decrypt, logrus.WithField("component", "smtp_transport"))
	default:
		transport = utils.NewSimulatedTransport(logrus.WithField("component", "simulated_transport"))
	}

	personalizer := utils.NewAIPersonalizer(utils.AIPersonalizerConfig{
		OpenAIBaseURL:   cfg.AI.OpenAIBaseURL,
		DeepSeekBaseURL: cfg.AI.DeepSeekBaseURL,
		Timeout:         cfg.AI.Timeout,
	}, logrus.WithField("component", "ai_personalizer"))
	resolver := utils.NewContentResolver(
		utils.NewWebsiteEnricher(cfg.AI.EnrichTimeout),
		personalizer,
		repo,
		logrus.WithField("component", "content_resolver"),
	)

	hub := controller.NewProgressHub(logrus.WithField("component", "progress_hub"))

	sendWorker := worker.NewSendWorker(repo, activity, resolver, transport, locker, hub, worker.SendWorkerConfig{
		PollInterval:     cfg.Worker.SendPollInterval,
		BatchSize:        cfg.Worker.SendBatchSize,
		CycleBackoff:     cfg.Worker.CycleBackoff,
		SaturatedBackoff: cfg.Worker.SaturatedBackoff,
		LockTTL:          cfg.Worker.CampaignLockTTL,
		LeaseTTL:         cfg.Worker.ContactLeaseTTL,
	}, logrus.WithField("component", "send_worker"))

	correlator := utils.NewReplyCorrelator(repo, activity, logrus.WithField("component", "reply_correlator"))
	replyWorker := worker.NewReplyWorker(
		repo,
		utils.NewIMAPFetcher(decrypt, logrus.WithField("component", "imap_fetcher")),
		correlator,
		hub,
		cfg.Worker.ReplyFetchLimit,
		logrus.WithField("component", "reply_worker"),
	)
	resetWorker := worker.NewDailyResetWorker(repo, logrus.WithField("component", "daily_reset_worker"))

	waitWorkers := worker.StartAll(ctx, sendWorker, replyWorker, resetWorker)

	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			} else {
				utils.CaptureError("http_handler", err, map[string]interface{}{"path": c.Path()})
			}
			return utils.ErrorResponse(c, code, "Request failed", err)
		},
	})
	app.Use(middleware.CORS(middleware.CORSConfig{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowCredentials: true,
		AllowedMethods:   middleware.DefaultCORSConfig().AllowedMethods,
		AllowedHeaders:   middleware.DefaultCORSConfig().AllowedHeaders,
		MaxAge:           3600,
	}))

	campaigns := controller.NewCampaignController(repo, sendWorker, replyWorker, logrus.WithField("component", "campaign_controller"))
	routes.SetupRoutes(app, repo, campaigns, hub, routes.Options{
		JWTSecret:   cfg.JWTSecret,
		RateLimit:   cfg.APIRateLimit,
		RateStorage: rateStorage,
	})

	go func() {
		<-ctx.Done()
		logrus.Info("Shutting down server...")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			logrus.WithError(err).Error("Server shutdown failed")
		}
	}()

	logrus.Infof("Server starting on port %s", cfg.ServerPort)
	if err := app.Listen(":" + cfg.ServerPort); err != nil {
		logrus.WithError(err).Error("Server stopped")
	}

	// A send between transport and commit must finish before the process exits.
	stop()
	logrus.Info("Waiting for workers to finish...")
	waitWorkers()
	logrus.Info("Shutdown complete")
}
