package main

import (
	"context"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/sirupsen/logrus"

	"mailgateway/internal/adminapi"
	"mailgateway/internal/adminauth"
	"mailgateway/internal/config"
	"mailgateway/internal/credential"
	"mailgateway/internal/graphmail"
	"mailgateway/internal/httpapi"
	"mailgateway/internal/lockout"
	"mailgateway/internal/mailorchestrator"
	"mailgateway/internal/oauthbroker"
	"mailgateway/internal/pool"
	"mailgateway/internal/ratelimit"
	"mailgateway/internal/requestlog"
	"mailgateway/internal/retention"
	"mailgateway/internal/secretbox"
	"mailgateway/internal/sessiontoken"
	"mailgateway/internal/sharedstore"
	"mailgateway/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("failed to load configuration")
	}

	if cfg.Environment == "production" {
		if err := sentry.Init(sentry.ClientOptions{Environment: cfg.Environment}); err != nil {
			logrus.WithError(err).Warn("sentry init failed, continuing without crash reporting")
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	db, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		logrus.WithError(err).Fatal("failed to connect to database")
	}

	var shared sharedstore.Store
	if cfg.RedisURL != "" {
		redisStore := sharedstore.NewRedisStore(cfg.RedisURL, "", 0)
		if err := redisStore.Ping(context.Background()); err != nil {
			logrus.WithError(err).Warn("redis unreachable at startup, falling back to in-process counters")
			shared = sharedstore.NewMemoryStore()
		} else {
			logrus.WithField("redis_url", cfg.RedisURL).Info("using redis-backed shared counters")
			shared = redisStore
		}
	} else {
		logrus.Info("REDIS_URL not set, using in-process shared counters (single instance only)")
		shared = sharedstore.NewMemoryStore()
	}

	box := secretbox.New(cfg.EncryptionKey)
	limiter := ratelimit.New(shared)
	credentials := credential.New(db, limiter)
	allocator := pool.New(db, box)

	broker := oauthbroker.New(cfg.MSClientID, cfg.MSClientSecret, shared)
	graph := graphmail.New()
	orchestrator := mailorchestrator.New(db, broker, graph)
	requestLogger := requestlog.New(db)

	issuer, err := sessiontoken.New(cfg.JWTSecret, cfg.JWTExpiresIn)
	if err != nil {
		logrus.WithError(err).Fatal("failed to initialize session issuer")
	}
	guard := lockout.New(shared, cfg.AdminLoginMaxAttempts, time.Duration(cfg.AdminLoginLockMinutes)*time.Minute)
	auth := adminauth.New(db, box, issuer, guard, cfg.Admin2FASecret)

	app := fiber.New()
	app.Use(recover.New())
	if len(cfg.CORSOrigins) > 0 {
		app.Use(cors.New(cors.Config{
			AllowOrigins: joinOrigins(cfg.CORSOrigins),
		}))
	}

	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "running"})
	})

	httpapi.New(db, credentials, allocator, orchestrator, box, requestLogger).Register(app)
	adminapi.New(db, auth, allocator, box).Register(app)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	retentionJob := retention.New(db,
		time.Duration(cfg.APILogCleanupMinutes)*time.Minute,
		time.Duration(cfg.APILogRetentionDays)*24*time.Hour)
	go retentionJob.Start(ctx)

	logrus.WithField("port", cfg.Port).Info("gatewayd starting")
	if err := app.Listen(":" + cfg.Port); err != nil {
		logrus.WithError(err).Fatal("failed to start server")
	}
}

func joinOrigins(origins []string) string {
	out := origins[0]
	for _, o := range origins[1:] {
		out += "," + o
	}
	return out
}
