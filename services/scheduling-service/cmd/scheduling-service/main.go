package main

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/expertmeet/expertmeet/libs/config"
	"github.com/expertmeet/expertmeet/libs/db"
	"github.com/expertmeet/expertmeet/libs/httpx"
	"github.com/expertmeet/expertmeet/libs/kafkax"
	otelx "github.com/expertmeet/expertmeet/libs/otel"
	"github.com/expertmeet/expertmeet/libs/runtime"
	"github.com/expertmeet/expertmeet/services/scheduling-service/internal/booking"
	"github.com/expertmeet/expertmeet/services/scheduling-service/internal/disputes"
	"github.com/expertmeet/expertmeet/services/scheduling-service/internal/handlers"
	"github.com/expertmeet/expertmeet/services/scheduling-service/internal/meetings"
	"github.com/expertmeet/expertmeet/services/scheduling-service/internal/notify"
	"github.com/expertmeet/expertmeet/services/scheduling-service/internal/outbox"
	"github.com/expertmeet/expertmeet/services/scheduling-service/internal/payments"
	"github.com/expertmeet/expertmeet/services/scheduling-service/internal/profiles"
	"github.com/expertmeet/expertmeet/services/scheduling-service/internal/reconcile"
	"github.com/expertmeet/expertmeet/services/scheduling-service/internal/storage"
)

func main() {
	service := config.String("SERVICE_NAME", "scheduling-service")
	port, err := config.Port("PORT", "8081")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	bookingRepo := storage.NewBookingRepository(pool)
	availRepo := storage.NewAvailabilityRepository(pool)
	disputeRepo := storage.NewDisputeRepository(pool)
	outboxRepo := outbox.NewRepository(pool)

	// Profile lookups default to the local pg-backed directory; a
	// standalone directory service can take over via gRPC. The catalog
	// and approval surface stay local either way.
	pgDirectory := profiles.NewPGDirectory(pool)
	var directory profiles.Directory = pgDirectory
	if remote, err := profiles.NewRemoteDirectory(config.String("PROFILES_GRPC_ADDR", "")); err != nil {
		logger.Error("remote profile directory init failed; using local", "err", err)
	} else if remote != nil {
		directory = remote
	}

	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   config.String("KAFKA_BROKERS", ""),
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	var gateway payments.Gateway
	stripeKey := strings.TrimSpace(config.String("STRIPE_SECRET_KEY", ""))
	if stripeKey != "" {
		gateway, err = payments.NewStripeGateway(stripeKey, logger)
		if err != nil {
			panic(err)
		}
	} else {
		logger.Warn("STRIPE_SECRET_KEY missing, payments disabled (dev mode)")
		gateway = payments.NewNoopGateway(logger)
	}

	var provisioner meetings.Provisioner
	if config.String("ZOOM_ACCOUNT_ID", "") != "" {
		provisioner, err = meetings.NewZoomProvisioner(meetings.ZoomConfig{
			AccountID:    config.String("ZOOM_ACCOUNT_ID", ""),
			ClientID:     config.String("ZOOM_CLIENT_ID", ""),
			ClientSecret: config.String("ZOOM_CLIENT_SECRET", ""),
			HostEmail:    config.String("ZOOM_HOST_EMAIL", ""),
		})
		if err != nil {
			logger.Error("zoom setup failed, meetings disabled", "err", err)
			provisioner = meetings.NewNoopProvisioner()
		}
	} else {
		provisioner = meetings.NewNoopProvisioner()
	}

	feeRate := 0.10
	if v, err := strconv.ParseFloat(config.String("PLATFORM_FEE_RATE", "0.10"), 64); err == nil && v > 0 && v < 1 {
		feeRate = v
	}

	bookingSvc := booking.NewService(booking.Config{
		Store:        bookingRepo,
		Availability: availRepo,
		Directory:    directory,
		Catalog:      pgDirectory,
		Gateway:      gateway,
		Meetings:     provisioner,
		Events:       outboxRepo,
		Notify:       notify.NewOutboxSender(outboxRepo),
		Logger:       logger,
		FeeRate:      feeRate,
	})
	disputeSvc := disputes.NewService(disputeRepo, bookingSvc, logger)

	if err := startGrpcServer(ctx, logger, pgDirectory, bookingSvc); err != nil {
		logger.Error("grpc server failed to start", "err", err)
	}

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(config.String("KAFKA_BROKERS", ""))},
	)
	tolSeconds, err := strconv.Atoi(config.String("STRIPE_WEBHOOK_TOLERANCE_SECONDS", "300"))
	if err != nil || tolSeconds <= 0 {
		tolSeconds = 300
	}
	h := handlers.New(bookingSvc, disputeSvc, availRepo, pgDirectory, logger, handlers.Config{
		StripeWebhookSecret:           config.String("STRIPE_WEBHOOK_SECRET", ""),
		StripeWebhookToleranceSeconds: tolSeconds,
	})
	h.Register(mux)

	limitPerMinute := 120
	if v, err := strconv.Atoi(config.String("RATE_LIMIT_PER_MINUTE", "120")); err == nil && v > 0 {
		limitPerMinute = v
	}
	var rateLimitMW httpx.Middleware
	if addr := strings.TrimSpace(config.String("REDIS_ADDR", "")); addr != "" {
		redisDB := 0
		if v, err := strconv.Atoi(config.String("REDIS_DB", "0")); err == nil && v >= 0 {
			redisDB = v
		}
		rdb := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: config.String("REDIS_PASSWORD", ""),
			DB:       redisDB,
		})
		defer func() { _ = rdb.Close() }()

		rl := httpx.NewRedisRateLimiter(rdb, limitPerMinute, time.Minute, config.String("RATE_LIMIT_PREFIX", "rl"))
		rateLimitMW = rl.Middleware(logger, isTruthy(config.String("RATE_LIMIT_FAIL_OPEN", "true")))
		logger.Info("rate limiting enabled (redis)", "per_minute", limitPerMinute, "redis_addr", addr)
	} else {
		rl := httpx.NewRateLimiter(limitPerMinute, time.Minute)
		rateLimitMW = rl.Middleware()
		logger.Info("rate limiting enabled (in-memory)", "per_minute", limitPerMinute)
	}

	handler := httpx.Chain(mux,
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins:   parseList(config.String("CORS_ALLOWED_ORIGINS", "")),
			AllowedMethods:   parseList(config.String("CORS_ALLOWED_METHODS", "GET,POST,PUT,OPTIONS")),
			AllowedHeaders:   parseList(config.String("CORS_ALLOWED_HEADERS", "Content-Type,X-Request-Id,X-Actor-Role,X-Actor-Id")),
			AllowCredentials: isTruthy(config.String("CORS_ALLOW_CREDENTIALS", "false")),
			MaxAge:           time.Duration(corsMaxAgeSeconds()) * time.Second,
		}),
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithBodyLimit(1<<20),
		httpx.WithTimeout(15*time.Second),
		rateLimitMW,
	)
	handler = otelhttp.NewHandler(handler, "scheduling")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	// Refund reconciliation: self-heal REFUND_PENDING payments if
	// webhooks are missed.
	if isTruthy(config.String("REFUND_RECONCILE_ENABLED", "true")) && stripeKey != "" {
		intervalSeconds, _ := strconv.Atoi(config.String("REFUND_RECONCILE_INTERVAL_SECONDS", "300"))
		if intervalSeconds <= 0 {
			intervalSeconds = 300
		}
		batchSize, _ := strconv.Atoi(config.String("REFUND_RECONCILE_BATCH_SIZE", "50"))
		lockKey, _ := strconv.ParseInt(config.String("REFUND_RECONCILE_LOCK_KEY", "7391002"), 10, 64)
		rec := reconcile.NewRefundReconciler(pool, bookingRepo, bookingSvc, logger, reconcile.RefundReconcilerConfig{
			StripeSecretKey: stripeKey,
			BatchSize:       batchSize,
			AdvisoryLockKey: lockKey,
		})
		go rec.Run(ctx, time.Duration(intervalSeconds)*time.Second)
	}

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}

func parseList(raw string) []string {
	items := strings.Split(raw, ",")
	out := make([]string, 0, len(items))
	for _, item := range items {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func corsMaxAgeSeconds() int {
	value := 600
	if v, err := strconv.Atoi(config.String("CORS_MAX_AGE_SECONDS", "600")); err == nil && v > 0 {
		value = v
	}
	return value
}

func isTruthy(s string) bool {
	switch strings.TrimSpace(strings.ToLower(s)) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	default:
		return false
	}
}
