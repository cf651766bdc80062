package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/md-rashed-zaman/slotkeeper/libs/auth"
	"github.com/md-rashed-zaman/slotkeeper/libs/config"
	"github.com/md-rashed-zaman/slotkeeper/libs/db"
	"github.com/md-rashed-zaman/slotkeeper/libs/httpx"
	"github.com/md-rashed-zaman/slotkeeper/libs/kafkax"
	otelx "github.com/md-rashed-zaman/slotkeeper/libs/otel"
	"github.com/md-rashed-zaman/slotkeeper/libs/runtime"
	"github.com/md-rashed-zaman/slotkeeper/services/scheduling-service/internal/accounts"
	"github.com/md-rashed-zaman/slotkeeper/services/scheduling-service/internal/availability"
	"github.com/md-rashed-zaman/slotkeeper/services/scheduling-service/internal/booking"
	"github.com/md-rashed-zaman/slotkeeper/services/scheduling-service/internal/completion"
	"github.com/md-rashed-zaman/slotkeeper/services/scheduling-service/internal/consumer"
	"github.com/md-rashed-zaman/slotkeeper/services/scheduling-service/internal/grpcserver"
	"github.com/md-rashed-zaman/slotkeeper/services/scheduling-service/internal/handlers"
	"github.com/md-rashed-zaman/slotkeeper/services/scheduling-service/internal/outbox"
	"github.com/md-rashed-zaman/slotkeeper/services/scheduling-service/internal/payment"
	"github.com/md-rashed-zaman/slotkeeper/services/scheduling-service/internal/storage"
	"github.com/md-rashed-zaman/slotkeeper/services/scheduling-service/internal/storage/memory"
	"github.com/md-rashed-zaman/slotkeeper/services/scheduling-service/internal/storage/migrations"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		panic(err)
	}
	service := config.String("SERVICE_NAME", "scheduling-service")
	port, err := config.Port("PORT", "8083")
	if err != nil {
		panic(err)
	}
	grpcPort, err := config.Port("GRPC_PORT", "9090")
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

	brokers := config.String("KAFKA_BROKERS", "")
	checks := []runtime.ReadyCheck{}

	var (
		store storage.Store
		pool  *db.Pool
	)
	driver := strings.ToLower(config.String("STORE_DRIVER", "postgres"))
	stripeKey := config.String("STRIPE_SECRET_KEY", "")
	if err := checkStoreGateway(driver, stripeKey); err != nil {
		panic(err)
	}
	switch driver {
	case "memory":
		logger.Warn("using in-memory store; data is lost on restart")
		store = memory.New()
	case "postgres":
		pool, err = openPostgres(ctx, logger)
		if err != nil {
			logger.Error("db connection failed", "err", err)
			panic(err)
		}
		defer pool.Close()
		store = storage.NewPostgresStore(pool)
		checks = append(checks, runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)})
	default:
		panic(fmt.Sprintf("unknown STORE_DRIVER %q", driver))
	}

	granularity := config.Duration("SLOT_GRANULARITY", availability.DefaultGranularity)
	resolver := availability.NewResolver(store, logger, availability.WithGranularity(granularity))
	bookings := booking.NewService(store, logger, time.Now)
	payments := payment.NewService(store, newGateway(logger, stripeKey), logger, payment.Config{
		RatePerMinuteCents: int64(config.Int("RATE_PER_MINUTE_CENTS", payment.DefaultRatePerMinuteCents)),
		Currency:           config.String("CURRENCY", payment.DefaultCurrency),
	}, time.Now)

	if pool != nil {
		if publisher := outbox.NewPublisher(pool, outbox.NewRepository(), logger, outbox.PublisherConfig{
			Brokers:   brokers,
			PollEvery: config.Duration("OUTBOX_POLL_INTERVAL", 2*time.Second),
			BatchSize: config.Int("OUTBOX_BATCH_SIZE", 50),
			Retention: config.Duration("OUTBOX_RETENTION", 7*24*time.Hour),
		}); publisher != nil {
			go publisher.Run(ctx)
		}
	}
	if brokerList := kafkax.SplitBrokers(brokers); len(brokerList) > 0 {
		purger := accounts.NewPurger(store, logger)
		accountConsumer := consumer.New(logger, consumer.Config{
			Brokers: brokers,
			GroupID: config.String("KAFKA_GROUP_ID", service),
			Topic:   config.String("KAFKA_ACCOUNT_TOPIC", accounts.AccountDeletedTopic),
		}, purger.HandleAccountDeleted)
		go accountConsumer.Run(ctx)
		checks = append(checks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokerList, 2*time.Second)})
	}

	sweeper := completion.NewWorker(bookings, logger, completion.WorkerConfig{
		Interval:  config.Duration("COMPLETION_SWEEP_INTERVAL", time.Minute),
		BatchSize: config.Int("COMPLETION_BATCH_SIZE", 100),
	})
	go sweeper.Run(ctx)

	rateLimit, redisCheck := newRateLimit(logger)
	if redisCheck != nil {
		checks = append(checks, *redisCheck)
	}

	mux := runtime.NewBaseMuxWithReady(checks...)
	handlers.Register(mux, handlers.Deps{
		Store:        store,
		Resolver:     resolver,
		Bookings:     bookings,
		Payments:     payments,
		Logger:       logger,
		Authenticate: auth.RequireAuth(newVerifier(logger)),
	})

	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithSecurityHeaders,
		httpx.WithCORS(config.List("CORS_ALLOWED_ORIGINS")),
		rateLimit,
		httpx.WithBodyLimit(int64(config.Int("HTTP_BODY_LIMIT_BYTES", 1<<20))),
		httpx.WithTimeout(config.Duration("HTTP_REQUEST_TIMEOUT", 15*time.Second)),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "scheduling")

	lis, err := net.Listen("tcp", ":"+grpcPort)
	if err != nil {
		logger.Error("grpc listen failed", "err", err)
		panic(err)
	}
	grpcSrv := grpcserver.New(logger, checks...)
	go func() {
		if err := grpcSrv.Serve(ctx, lis); err != nil {
			logger.Error("grpc server error", "err", err)
		}
	}()

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	runtime.ServeUntilDone(ctx, logger, srv, 10*time.Second)
}

func openPostgres(ctx context.Context, logger *slog.Logger) (*db.Pool, error) {
	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		return nil, err
	}
	pool, err := db.Open(ctx, dbURL, db.Options{
		MaxConns: int32(config.Int("DB_MAX_CONNS", 10)),
		MinConns: int32(config.Int("DB_MIN_CONNS", 1)),
	})
	if err != nil {
		return nil, err
	}
	if config.Bool("MIGRATE_ON_START", true) {
		applied, err := migrations.Up(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("apply migrations: %w", err)
		}
		if len(applied) > 0 {
			logger.Info("migrations applied", "files", applied)
		}
	}
	return pool, nil
}

// checkStoreGateway refuses the in-memory store with a real gateway: the memory store
// serialises every transaction behind one lock, and redeem charges inside its transaction.
func checkStoreGateway(driver, stripeKey string) error {
	if driver == "memory" && stripeKey != "" {
		return errors.New("STORE_DRIVER=memory cannot be combined with STRIPE_SECRET_KEY; use postgres or unset the key")
	}
	return nil
}

func newGateway(logger *slog.Logger, key string) payment.Gateway {
	if key == "" {
		logger.Info("payment gateway: simulated")
		return payment.SimulatedGateway{}
	}
	gw, err := payment.NewStripeGateway(key)
	if err != nil {
		logger.Error("stripe gateway init failed; using simulated gateway", "err", err)
		return payment.SimulatedGateway{}
	}
	logger.Info("payment gateway: stripe")
	return gw
}

func newVerifier(logger *slog.Logger) *auth.Verifier {
	secret := config.String("JWT_SECRET", "")
	var jwks *auth.JWKSClient
	if url := config.String("JWKS_URL", ""); url != "" {
		jwks = auth.NewJWKSClient(url, time.Duration(config.Int("JWKS_CACHE_SECONDS", 300))*time.Second)
	}
	if secret == "" && jwks == nil {
		logger.Warn("neither JWT_SECRET nor JWKS_URL is set; every API request will be rejected")
	}
	return auth.NewVerifier(secret, jwks)
}

// newRateLimit prefers the shared Redis limiter and falls back to a per-process one.
func newRateLimit(logger *slog.Logger) (httpx.Middleware, *runtime.ReadyCheck) {
	limit := config.Int("RATE_LIMIT_PER_MINUTE", 120)
	addr := config.String("REDIS_ADDR", "")
	if addr == "" {
		return httpx.NewRateLimiter(limit, time.Minute, httpx.ClientIP).Middleware(), nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: config.String("REDIS_PASSWORD", ""),
		DB:       config.Int("REDIS_DB", 0),
	})
	rl := httpx.NewRedisRateLimiter(rdb, limit, time.Minute, "slotkeeper:rl", httpx.ClientIP)
	return rl.Middleware(logger, config.Bool("RATE_LIMIT_FAIL_OPEN", true)),
		&runtime.ReadyCheck{Name: "redis", Check: httpx.RedisReadyCheck(rdb)}
}
