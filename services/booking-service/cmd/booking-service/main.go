package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/md-rashed-zaman/apptbook/libs/auth"
	"github.com/md-rashed-zaman/apptbook/libs/config"
	"github.com/md-rashed-zaman/apptbook/libs/db"
	"github.com/md-rashed-zaman/apptbook/libs/grpcx"
	"github.com/md-rashed-zaman/apptbook/libs/httpx"
	"github.com/md-rashed-zaman/apptbook/libs/kafkax"
	otelx "github.com/md-rashed-zaman/apptbook/libs/otel"
	"github.com/md-rashed-zaman/apptbook/libs/runtime"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/cache"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/conflict"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/handlers"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/storage"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func main() {
	service := config.String("SERVICE_NAME", "booking-service")
	port, err := config.Port("PORT", "8083")
	if err != nil {
		panic(err)
	}
	grpcPort, err := config.Port("GRPC_PORT", "9083")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	cfg, err := loadEngineConfig()
	if err != nil {
		logger.Error("invalid configuration", "err", err)
		panic(err)
	}

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown := func(context.Context) error { return nil }
	if otelCfg, err := otelx.ConfigFromEnv(service); err != nil {
		logger.Error("otel config invalid; tracing disabled", "err", err)
	} else if shutdown, err := otelx.Setup(ctx, otelCfg); err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		otelShutdown = shutdown
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	pool, err := db.Open(ctx, dbURL, db.WithMaxConns(cfg.DBMaxConns))
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	if cfg.DBAutoMigrate {
		if err := storage.EnsureSchema(ctx, pool); err != nil {
			logger.Error("schema migration failed", "err", err)
			panic(err)
		}
		logger.Info("schema ensured")
	}

	var rdb redis.Cmdable
	readyChecks := []runtime.ReadyCheck{{Name: "db", Check: db.ReadyCheck(pool)}}
	if cfg.KafkaBrokers != "" {
		// Outbox rows wait in Postgres while Kafka is down.
		readyChecks = append(readyChecks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(cfg.KafkaBrokers), Optional: true})
	}
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer func() { _ = client.Close() }()
		rdb = client
		readyChecks = append(readyChecks, runtime.ReadyCheck{Name: "redis", Optional: true, Check: func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		}})
	} else {
		logger.Info("REDIS_ADDR not set; schedule cache and shared rate limiting disabled")
	}

	outboxPublisher := outbox.NewPublisher(pool, logger, outbox.PublisherConfig{
		Brokers:   cfg.KafkaBrokers,
		PollEvery: cfg.OutboxPoll,
		BatchSize: cfg.OutboxBatch,
	})
	go outboxPublisher.Run(ctx)

	catalog := storage.NewScheduleRepository(pool)
	scheduleCache := cache.NewScheduleCache(rdb, cfg.ScheduleCacheTTL)
	advisory := cache.NewAdvisorySource(scheduleCache, catalog, logger)
	validator := conflict.NewValidator(logger)
	bookings := booking.NewService(storage.NewPgStore(pool), validator, logger, booking.Config{
		MaxAttempts: cfg.BookingMaxAttempts,
	})

	mux := runtime.NewBaseMuxWithReady(readyChecks...)
	handlers.Routes(mux,
		handlers.NewAvailabilityHandler(advisory, catalog, validator, logger, handlers.AvailabilityConfig{
			Step:    cfg.slotStep(),
			MaxDays: cfg.DayRangeMaxDays,
		}),
		handlers.NewAppointmentHandler(bookings, catalog, logger),
		handlers.NewScheduleHandler(catalog, scheduleCache, logger),
		func(next http.Handler) http.Handler { return auth.RequireHS256(cfg.AuthJWTSecret, next) },
	)

	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithRecover(logger),
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins: cfg.CORSAllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
			AllowedHeaders: []string{"Authorization", "Content-Type", "Idempotency-Key", "X-Request-Id", "X-Business-Id"},
			MaxAge:         10 * time.Minute,
		}),
		rateLimiter(ctx, rdb, cfg, logger),
		httpx.WithBodyLimit(cfg.BodyLimitBytes),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "booking")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	grpcServer, health := grpcx.NewServer(logger)
	health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	lis, err := net.Listen("tcp", ":"+grpcPort)
	if err != nil {
		logger.Error("grpc listen failed", "err", err)
		panic(err)
	}
	go func() {
		logger.Info("grpc server starting", "addr", lis.Addr().String())
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("grpc server error", "err", err)
		}
	}()

	go func() {
		logger.Info("http server starting", "addr", srv.Addr,
			"slot_step", cfg.slotStep().String(),
			"cache", scheduleCache.Enabled(),
			"outbox", outboxPublisher.Enabled(),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	health.Shutdown()
	_ = runtime.Shutdown(logger, 10*time.Second,
		runtime.ShutdownStep{Name: "http", Stop: srv.Shutdown},
		runtime.ShutdownStep{Name: "grpc", Stop: func(context.Context) error {
			grpcServer.GracefulStop()
			return nil
		}},
		runtime.ShutdownStep{Name: "otel", Stop: otelShutdown},
	)
}

// rateLimiter prefers the shared Redis window so every replica counts the same
// client together.
func rateLimiter(ctx context.Context, rdb redis.Cmdable, cfg engineConfig, logger *slog.Logger) httpx.Middleware {
	if rdb != nil {
		return httpx.NewRedisRateLimiter(rdb, cfg.RateLimit, cfg.RateWindow, "apptbook:rl").Middleware(logger, cfg.RateFailOpen)
	}
	rl := httpx.NewRateLimiter(cfg.RateLimit, cfg.RateWindow)
	go func() {
		ticker := time.NewTicker(cfg.RateWindow)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rl.Sweep(cfg.RateWindow)
			}
		}
	}()
	return rl.Middleware()
}
