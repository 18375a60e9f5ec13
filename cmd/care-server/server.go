package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/JavidSumra/care-be/internal/config"
	"github.com/JavidSumra/care-be/internal/domain/bed"
	"github.com/JavidSumra/care-be/internal/domain/consent"
	"github.com/JavidSumra/care-be/internal/domain/consultation"
	"github.com/JavidSumra/care-be/internal/domain/facility"
	"github.com/JavidSumra/care-be/internal/domain/user"
	"github.com/JavidSumra/care-be/internal/platform/auth"
	"github.com/JavidSumra/care-be/internal/platform/blobstore"
	"github.com/JavidSumra/care-be/internal/platform/cache"
	"github.com/JavidSumra/care-be/internal/platform/db"
	"github.com/JavidSumra/care-be/internal/platform/events"
	"github.com/JavidSumra/care-be/internal/platform/metrics"
	"github.com/JavidSumra/care-be/internal/platform/middleware"
	"github.com/JavidSumra/care-be/internal/platform/notification"
	"github.com/JavidSumra/care-be/migrations"
)

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Env)
	if err := cfg.Validate(); err != nil {
		logger.Error().Err(err).Msg("invalid configuration")
		return err
	}
	if cfg.ResolvedAuthMode() == "development" {
		logger.Warn().Str("dev_user", cfg.DevUser).
			Msg("development auth enabled: requests without a token act as DEV_USER")
	}

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, db.PoolConfig{URL: cfg.DatabaseURL, MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns})
	if err != nil {
		logger.Error().Err(err).Msg("failed to connect to database")
		return err
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	applied, err := db.NewMigrator(pool, migrations.FS).Up(ctx)
	if err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	logger.Info().Int("applied", applied).Msg("migrations up to date")

	kv, closeKV, err := newKV(ctx, cfg.RedisURL)
	if err != nil {
		logger.Error().Err(err).Msg("failed to connect to redis")
		return err
	}
	defer closeKV()

	m := metrics.New()

	publisher := newPublisher(cfg, logger)
	defer publisher.Close()

	blobs, err := newBlobStore(ctx, cfg)
	if err != nil {
		logger.Error().Err(err).Msg("failed to configure blob store")
		return err
	}

	// Repositories and services
	txRunner := db.NewTxRunner(pool)
	facilityRepo := facility.NewRepo(pool)
	userRepo := user.NewRepo(pool)
	resolver := facility.NewResolver(facilityRepo, kv, cfg.FacilityCacheTTL, m, logger)

	summaries := consultation.NewSummaryQueue(
		consultation.NewSummaryMailer(blobs, newMailer(cfg, logger)),
		cfg.SummaryWorkers, cfg.SummaryQueue, logger, m)
	summaries.Start()

	consultationSvc := consultation.NewService(consultation.NewRepo(pool), bed.NewRepo(pool),
		userRepo, facilityRepo, resolver, txRunner, logger)
	consultationSvc.SetPublisher(publisher)
	consultationSvc.SetMetrics(m)
	consultationSvc.SetSummaryQueue(summaries)

	consentSvc := consent.NewService(consent.NewRepo(pool), consultationSvc, txRunner, logger)
	consentSvc.SetPublisher(publisher)
	consentSvc.SetMetrics(m)

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout, "/export/"))
	e.Use(m.Middleware())
	e.Use(authMiddleware(cfg))

	e.GET("/health", db.HealthHandler(pool, db.Check{Name: "cache", Ping: kv.Ping}))
	e.GET("/metrics", m.Handler())

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}

	// Every write runs in a request transaction unless its route opts out.
	atomic := db.NewAtomicRequests(pool, logger)

	apiV1 := e.Group("/api/v1",
		user.Middleware(userRepo, logger),
		middleware.Audit(logger, auditPublisher(publisher)),
		middleware.RateLimit(rateLimitCfg),
		atomic.Middleware(),
	)

	consultation.NewHandler(consultationSvc, logger).RegisterRoutes(apiV1, atomic)
	consent.NewHandler(consentSvc, logger).RegisterRoutes(apiV1)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown")
	}
	if err := summaries.Stop(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("discharge summary queue did not drain")
	}
	return nil
}

// authMiddleware picks token validation for the configured auth mode. In
// development mode requests that carry a token are still verified.
func authMiddleware(cfg *config.Config) echo.MiddlewareFunc {
	jwtCfg := auth.JWTConfig{
		Issuer:   cfg.AuthIssuer,
		Audience: cfg.AuthAudience,
		JWKSURL:  cfg.AuthJWKSURL,
		Skipper:  auth.AuthSkipper,
	}
	if cfg.AuthSigningKey != "" {
		jwtCfg.SigningKey = []byte(cfg.AuthSigningKey)
	}
	if cfg.ResolvedAuthMode() == "development" {
		if jwtCfg.SigningKey == nil && jwtCfg.JWKSURL == "" && jwtCfg.Issuer == "" {
			return auth.DevAuthMiddleware(cfg.DevUser, nil)
		}
		return auth.DevAuthMiddleware(cfg.DevUser, auth.JWTMiddleware(jwtCfg))
	}
	return auth.JWTMiddleware(jwtCfg)
}

// newKV connects to redis when REDIS_URL is set and otherwise keeps facility
// memberships in process memory.
func newKV(ctx context.Context, url string) (cache.KV, func(), error) {
	if url == "" {
		return cache.NewMemoryKV(), func() {}, nil
	}
	client, err := cache.NewRedisClient(ctx, url)
	if err != nil {
		return nil, nil, err
	}
	return cache.NewRedisKV(client), func() { _ = client.Close() }, nil
}

func newPublisher(cfg *config.Config, logger zerolog.Logger) events.Publisher {
	if len(cfg.KafkaBrokers) == 0 {
		logger.Info().Msg("KAFKA_BROKERS not set, lifecycle events are dropped")
		return events.Nop{}
	}
	return events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
}

func newBlobStore(ctx context.Context, cfg *config.Config) (blobstore.Store, error) {
	if cfg.S3Bucket == "" {
		return blobstore.NewInMemoryStore(cfg.BlobBaseURL), nil
	}
	return blobstore.NewS3Store(ctx, blobstore.S3Config{
		Bucket:          cfg.S3Bucket,
		Region:          cfg.S3Region,
		Endpoint:        cfg.S3Endpoint,
		PathStyle:       cfg.S3PathStyle,
		AccessKeyID:     os.Getenv("AWS_ACCESS_KEY_ID"),
		SecretAccessKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
	})
}

func newMailer(cfg *config.Config, logger zerolog.Logger) notification.EmailSender {
	if cfg.MailAPIURL == "" {
		return notification.NewLogMailer(logger)
	}
	return notification.NewHTTPMailer(notification.MailerConfig{
		BaseURL: cfg.MailAPIURL,
		APIKey:  cfg.MailAPIKey,
		From:    cfg.MailFrom,
		Timeout: 10 * time.Second,
		Retries: 2,
	})
}

// auditPublisher forwards audit entries to the event stream as
// record.accessed events keyed by the consultation.
func auditPublisher(p events.Publisher) middleware.AuditRecorder {
	return middleware.AuditRecorderFunc(func(entry middleware.AuditEntry) error {
		ev, err := events.New(events.RecordAccessed, entry.Resource, entry.ConsultationID, entry.Subject, auditPayload{
			Action:    entry.Action,
			ConsentID: entry.ConsentID,
			AssetID:   entry.AssetID,
			Method:    entry.Method,
			Path:      entry.Path,
			Status:    entry.StatusCode,
			RequestID: entry.RequestID,
		})
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return p.Publish(ctx, ev)
	})
}

type auditPayload struct {
	Action    string `json:"action"`
	ConsentID string `json:"consent_id,omitempty"`
	AssetID   string `json:"asset_id,omitempty"`
	Method    string `json:"method"`
	Path      string `json:"path"`
	Status    int    `json:"status"`
	RequestID string `json:"request_id,omitempty"`
}
