package app

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/john25coder/pizzaria-app/internal/domain/catalog"
	"github.com/john25coder/pizzaria-app/internal/domain/coupon"
	"github.com/john25coder/pizzaria-app/internal/domain/order"
	"github.com/john25coder/pizzaria-app/internal/domain/payment"
	"github.com/john25coder/pizzaria-app/internal/handler"
	"github.com/john25coder/pizzaria-app/internal/notify"
	"github.com/john25coder/pizzaria-app/internal/storage/postgres"
	redisstore "github.com/john25coder/pizzaria-app/internal/storage/redis"
	"github.com/john25coder/pizzaria-app/internal/stripe"
	"github.com/john25coder/pizzaria-app/pkg/health"
	"github.com/john25coder/pizzaria-app/pkg/httpmiddleware"
)

const serviceName = "pizzaria-api"

// Deps are the external resources the API is built on.
type Deps struct {
	Pool *pgxpool.Pool
	// Redis is optional. Without it Idempotency-Key is ignored and rate
	// limits are kept per process.
	Redis     goredis.UniversalClient
	Processor payment.Processor
	Notifier  payment.Notifier
	Health    *health.Health
}

// NewAPI wires repositories, domain services and handlers over deps and
// returns the complete HTTP handler, middleware included.
func NewAPI(ctx context.Context, m httpmiddleware.Telemetry, cfg *Config, deps Deps) (http.Handler, error) {
	pool := deps.Pool

	// Repositories.
	catalogRepo := postgres.NewCatalogRepository(pool)
	customerRepo := postgres.NewCustomerRepository(pool)
	couponRepo := postgres.NewCouponRepository(pool)
	orderRepo := postgres.NewOrderRepository(pool)
	paymentRepo := postgres.NewPaymentRepository(pool)
	apikeyRepo := postgres.NewAPIKeyRepository(pool)
	tx := postgres.NewTxManager(pool)

	// Domain services.
	catalogService := catalog.NewService(catalogRepo, catalogRepo)
	couponService := coupon.NewService(couponRepo)
	pricer := order.NewPricer(catalogRepo, catalogRepo, couponService, cfg.DeliveryFee())
	orderService := order.NewService(customerRepo, pricer, couponRepo, orderRepo, tx)
	paymentService, err := payment.NewService(paymentRepo, paymentRepo, orderRepo, deps.Processor, deps.Notifier, tx,
		payment.Options{
			Currency: cfg.Order.Currency,
			Meter:    m.MeterProvider().Meter("pizzaria/payment"),
		},
	)
	if err != nil {
		return nil, errors.Wrap(err, "create payment service")
	}

	var (
		idempotency handler.IdempotencyStore
		limiter     httpmiddleware.Limiter
	)
	if deps.Redis != nil {
		idempotency = redisstore.NewIdempotencyStore(deps.Redis, cfg.Redis.IdempotencyTTL)
		limiter = httpmiddleware.NewRedisLimiter(deps.Redis, "pizzaria:ratelimit:", cfg.RateLimit.Max, cfg.RateLimit.Window)
	} else {
		mem := httpmiddleware.NewMemoryLimiter(cfg.RateLimit.Max, cfg.RateLimit.Window)
		go mem.RunEviction(ctx)
		limiter = mem
	}

	h := handler.New(
		handler.Config{
			APIKeyPepper:    []byte(cfg.AdminAPIKeyPepper),
			MaxWebhookBytes: cfg.MaxWebhookBytes,
		},
		catalogService,
		orderService,
		couponService,
		paymentService,
		idempotency,
		apikeyRepo,
	)
	api := h.Routes()
	routeFinder := httpmiddleware.MakeRouteFinder(api)

	// Mux: health endpoints + API routes on one server.
	mux := http.NewServeMux()
	mux.HandleFunc("/livez", deps.Health.LiveEndpoint)
	mux.HandleFunc("/readyz", deps.Health.ReadyEndpoint)
	mux.Handle("/api/", api)

	return httpmiddleware.Wrap(mux,
		httpmiddleware.Recovery(),
		httpmiddleware.CORS(httpmiddleware.CORSConfig{
			AllowOrigins: cfg.CORS.Origins,
			AllowHeaders: []string{
				"Content-Type", "Authorization", handler.APIKeyHeader, "X-API-Key",
				handler.IdempotencyKeyHeader, httpmiddleware.RequestIDHeader,
			},
			ExposeHeaders:    []string{httpmiddleware.RequestIDHeader, "Idempotent-Replayed", "Retry-After"},
			AllowCredentials: cfg.CORS.AllowCredentials,
			MaxAge:           86400,
		}),
		httpmiddleware.RequestID(),
		httpmiddleware.InjectLogger(zctx.From(ctx)),
		httpmiddleware.RateLimit(limiter, httpmiddleware.RateLimitConfig{
			Max:    cfg.RateLimit.Max,
			Window: cfg.RateLimit.Window,
			Skip:   httpmiddleware.SkipPaths("/livez", "/readyz", "/api/payments/webhook"),
		}),
		httpmiddleware.Instrument(serviceName, routeFinder, m),
		httpmiddleware.LogRequests(routeFinder),
		httpmiddleware.Labeler(routeFinder),
	), nil
}

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	// PostgreSQL pool + migrations.
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(pool))
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))

	deps := Deps{
		Pool:      pool,
		Processor: stripe.New(cfg.Stripe, lg.Named("stripe")),
		Notifier:  notify.LogNotifier{},
		Health:    healthSvc,
	}

	if cfg.Redis.Addr != "" {
		client, err := newRedisClient(cfg.Redis.Addr)
		if err != nil {
			return errors.Wrap(err, "create redis client")
		}
		defer func() { _ = client.Close() }()
		deps.Redis = client
		// The API keeps serving without Redis, so it only degrades readiness.
		healthSvc.AddReadinessCheck("redis", 2*time.Second, health.PingCheck(redisPinger{client}), health.Optional())
	} else {
		lg.Warn("Redis not configured, Idempotency-Key support disabled")
	}

	if len(cfg.Kafka.Brokers) > 0 {
		kn := notify.NewKafkaNotifier(notify.NewKafkaWriter(cfg.Kafka.Topic, cfg.Kafka.Brokers...), cfg.Kafka.WriteTimeout)
		defer func() {
			if err := kn.Close(); err != nil {
				lg.Warn("Close kafka writer", zap.Error(err))
			}
		}()
		deps.Notifier = kn
		lg.Info("Publishing order events", zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.Topic))
	}

	apiHandler, err := NewAPI(ctx, m, cfg, deps)
	if err != nil {
		return err
	}

	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler:           apiHandler,
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}

// newRedisClient accepts a redis:// URL or a plain host:port.
func newRedisClient(addr string) (*goredis.Client, error) {
	if strings.HasPrefix(addr, "redis://") || strings.HasPrefix(addr, "rediss://") {
		opts, err := goredis.ParseURL(addr)
		if err != nil {
			return nil, errors.Wrap(err, "parse redis url")
		}
		return goredis.NewClient(opts), nil
	}
	return goredis.NewClient(&goredis.Options{Addr: addr}), nil
}

type redisPinger struct {
	client goredis.Cmdable
}

func (p redisPinger) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}
