// @title Commission Engine API
// @version 1.0
// @description Affiliate commission rules: circles, functions and conversion evaluation.
// @BasePath /api/v1
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	sentryecho "github.com/getsentry/sentry-go/echo"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	echoSwagger "github.com/swaggo/echo-swagger"

	"github.com/jordanlanch/commissionengine/config"
	_ "github.com/jordanlanch/commissionengine/docs"
	apierrors "github.com/jordanlanch/commissionengine/pkg/api/errors"
	"github.com/jordanlanch/commissionengine/pkg/api/handlers"
	"github.com/jordanlanch/commissionengine/pkg/cache"
	"github.com/jordanlanch/commissionengine/pkg/database"
	"github.com/jordanlanch/commissionengine/pkg/dispatch"
	"github.com/jordanlanch/commissionengine/pkg/events"
	"github.com/jordanlanch/commissionengine/pkg/jobs"
	"github.com/jordanlanch/commissionengine/pkg/logger"
	"github.com/jordanlanch/commissionengine/pkg/metrics"
	custommiddleware "github.com/jordanlanch/commissionengine/pkg/middleware"
	"github.com/jordanlanch/commissionengine/pkg/program"
	"github.com/jordanlanch/commissionengine/pkg/rules"
	"github.com/jordanlanch/commissionengine/pkg/store/sqlstore"
	"github.com/jordanlanch/commissionengine/pkg/webhook"
)

func fatal(log logger.Logger, msg string, err error) {
	log.Error(msg, "error", err)
	os.Exit(1)
}

func main() {
	cfg := config.Load()
	log := logger.New(cfg.LogLevel)
	apierrors.SetLogger(log)
	log.Info("configuration loaded", "environment", cfg.APIEnvironment)

	if cfg.SentryDSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			Environment:      cfg.SentryEnvironment,
			TracesSampleRate: 0.2,
			AttachStacktrace: true,
		})
		if err != nil {
			log.Warn("failed to initialize sentry", "error", err)
		} else {
			log.Info("sentry initialized", "environment", cfg.SentryEnvironment)
			defer sentry.Flush(2 * time.Second)
		}
	} else {
		log.Info("sentry disabled (no DSN configured)")
	}

	ctx := context.Background()

	var sslCfg *database.SSLConfig
	if cfg.DatabaseDriver == "postgres" {
		sslCfg = &database.SSLConfig{
			Mode:         cfg.DBSSLMode,
			CertPath:     cfg.DBSSLCertPath,
			KeyPath:      cfg.DBSSLKeyPath,
			RootCertPath: cfg.DBSSLRootCertPath,
		}
	}
	pool := database.DefaultPoolConfig()
	pool.MaxOpenConns = cfg.DBMaxOpenConns
	pool.MaxIdleConns = cfg.DBMaxIdleConns

	db, err := database.Open(ctx, database.Config{
		Driver:      cfg.DatabaseDriver,
		URL:         cfg.DatabaseURL,
		Pool:        pool,
		SSL:         sslCfg,
		ReplicaURLs: cfg.DBReplicaURLs,
	}, log)
	if err != nil {
		fatal(log, "failed to connect to database", err)
	}
	defer db.Close()

	store := sqlstore.New(db, log)
	if err := store.Migrate(ctx); err != nil {
		fatal(log, "failed to migrate schema", err)
	}

	m := metrics.New(prometheus.DefaultRegisterer)
	bus := events.NewBus(log, m)

	dispatchOpts := []dispatch.Option{dispatch.WithLogger(log)}
	serviceOpts := []program.Option{program.WithLogger(log), program.WithMetrics(m)}
	health := handlers.NewHealthHandler(db, nil, log)

	if cfg.RedisURL != "" {
		redisClient, err := cache.NewClient(ctx, cfg.RedisURL, log)
		if err != nil {
			fatal(log, "failed to connect to redis", err)
		}
		defer redisClient.Close()

		bus.Subscribe("redis", events.NewRedisPublisher(redisClient, cfg.RedisEventsChannel))
		dispatchOpts = append(dispatchOpts, dispatch.WithLocker(cache.NewLocker(redisClient, "lock:promoter:", cfg.LockTTL)))
		serviceOpts = append(serviceOpts, program.WithReportCache(redisClient, cfg.GraphReportTTL))
		health = handlers.NewHealthHandler(db, redisClient, log)
	} else {
		log.Info("redis disabled, promoter locks are process local")
	}

	if len(cfg.KafkaBrokers) > 0 {
		kafkaPublisher, err := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			fatal(log, "failed to configure kafka publisher", err)
		}
		defer kafkaPublisher.Close()
		bus.Subscribe("kafka", kafkaPublisher)
	}

	if len(cfg.WebhookURLs) > 0 {
		bus.Subscribe("webhook", webhook.NewDispatcher(cfg.WebhookURLs, cfg.WebhookSecret, webhook.WithLogger(log)))
	}
	log.Info("event sinks configured", "count", bus.Len())
	outbound := events.NewAsync(bus,
		events.WithQueueSize(cfg.EventQueueSize),
		events.WithAsyncLogger(log),
		events.WithAsyncMetrics(m),
	)

	engine := rules.NewEngine(store,
		rules.WithLogger(log),
		rules.WithMetrics(m),
		rules.WithPublisher(outbound),
		rules.WithMaxAttempts(cfg.EvaluationAttempts),
	)
	dispatcher := dispatch.New(engine, cfg.DispatchShards, dispatchOpts...)
	service := program.NewService(store, serviceOpts...)

	var cronManager *jobs.CronManager
	if cfg.JobsEnabled {
		cronManager = jobs.NewCronManager(jobs.NewGraphAudit(service, m, log), cfg.GraphAuditSchedule, log)
		if err := cronManager.SetupJobs(); err != nil {
			fatal(log, "failed to setup cron jobs", err)
		}
		cronManager.Start()
	}

	e := echo.New()
	e.HideBanner = true

	rateLimiter := custommiddleware.NewRateLimiter(cfg.RateLimitRequestsPerMinute, cfg.RateLimitBurst)
	defer rateLimiter.Stop()

	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:  true,
		LogURI:     true,
		LogMethod:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			log.Info("request", "method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency)
			return nil
		},
	}))
	e.Use(middleware.Recover())
	if cfg.SentryDSN != "" {
		e.Use(sentryecho.New(sentryecho.Options{Repanic: true}))
	}
	e.Use(m.Middleware())
	e.Use(middleware.CORSWithConfig(custommiddleware.CORSConfig(cfg.CORSAllowedOrigins)))
	e.Use(middleware.Gzip())
	e.Use(middleware.Secure())
	e.Use(custommiddleware.SecurityHeaders(custommiddleware.DefaultSecurityHeadersConfig()))
	e.Use(rateLimiter.RateLimitMiddleware())

	e.GET("/health", health.Check)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	e.GET("/swagger/*", echoSwagger.WrapHandler)

	v1 := e.Group("/api/v1", custommiddleware.APIVersionMiddleware(custommiddleware.CurrentAPIVersion))
	handlers.Register(v1,
		handlers.NewEventHandler(dispatcher, cfg.EvaluationTimeout),
		handlers.NewCommissionHandler(store),
		handlers.NewProgramHandler(service),
	)

	address := fmt.Sprintf("%s:%s", cfg.APIHost, cfg.APIPort)
	log.Info("server starting",
		"address", address,
		"driver", cfg.DatabaseDriver,
		"shards", cfg.DispatchShards,
		"rate_limit", cfg.RateLimitRequestsPerMinute,
	)

	go func() {
		if err := e.Start(address); err != nil && err != http.ErrServerClosed {
			fatal(log, "failed to start server", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", "error", err)
	}
	dispatcher.Close()
	if err := outbound.Close(shutdownCtx); err != nil {
		log.Error("domain events left undelivered", "error", err)
	}
	if cronManager != nil {
		cronManager.Stop(shutdownCtx)
	}

	log.Info("server gracefully stopped")
}
