package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/kart-fulfillment/internal/domain"
	"github.com/xenking/kart-fulfillment/internal/domain/cart"
	"github.com/xenking/kart-fulfillment/internal/domain/coupon"
	"github.com/xenking/kart-fulfillment/internal/domain/customer"
	"github.com/xenking/kart-fulfillment/internal/domain/event"
	"github.com/xenking/kart-fulfillment/internal/domain/inventory"
	"github.com/xenking/kart-fulfillment/internal/domain/money"
	"github.com/xenking/kart-fulfillment/internal/domain/order"
	"github.com/xenking/kart-fulfillment/internal/domain/product"
	"github.com/xenking/kart-fulfillment/internal/domain/promotion"
	"github.com/xenking/kart-fulfillment/internal/eventbus"
	"github.com/xenking/kart-fulfillment/internal/handler"
	"github.com/xenking/kart-fulfillment/internal/storage/postgres"
	"github.com/xenking/kart-fulfillment/internal/storage/redis"
	"github.com/xenking/kart-fulfillment/pkg/health"
	"github.com/xenking/kart-fulfillment/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server and the payment
// expiry worker, and handles graceful shutdown. It is the single wiring
// point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))
	ctx = zctx.Base(ctx, lg)

	if err := money.SetDefaultCurrency(cfg.Currency); err != nil {
		return errors.Wrap(err, "currency")
	}
	domain.SetMaxRetries(cfg.MaxRetries)

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.DB)
	if err != nil {
		return errors.Wrap(err, "connect redis")
	}
	defer func() { _ = rdb.Close() }()

	healthSvc := health.New()
	healthSvc.Register(health.Readiness, health.Check{
		Name: "postgres", Timeout: 5 * time.Second, Func: health.PingCheck("postgres", pool),
	})
	healthSvc.Register(health.Readiness, health.Check{
		Name: "redis", Timeout: 2 * time.Second,
		Func: func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
	})
	healthSvc.Register(health.Liveness, health.Check{
		Name: "goroutines", Func: health.GoroutineCountCheck(10000),
	})
	healthSvc.Register(health.Liveness, health.Check{
		Name: "gc_pause", Func: health.GCMaxPauseCheck(time.Second),
	})

	publisher, kafka, err := newPublisher(ctx, cfg.Kafka, m.TracerProvider(), m.MeterProvider())
	if err != nil {
		return err
	}
	if kafka != nil {
		defer kafka.Close()
		healthSvc.Register(health.Readiness, health.Check{
			Name: "kafka", Timeout: 5 * time.Second, Func: health.PingCheck("kafka", kafka),
		})
	}

	healthSvc.Start(ctx, 10*time.Second)
	defer healthSvc.Stop()

	st := wire(pool, rdb, publisher, cfg)

	var couponGuard httpmiddleware.Middleware
	if cfg.CouponGuard.MaxFailures > 0 {
		couponGuard = httpmiddleware.FailureLimit(ctx, httpmiddleware.FailureLimitConfig{
			Max:    cfg.CouponGuard.MaxFailures,
			Window: cfg.CouponGuard.Window,
		})
	}
	r := newRouter(st, healthSvc, couponGuard)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(r,
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(lg),
			httpmiddleware.Instrument("kart-api", m.TracerProvider(), m.MeterProvider()),
		),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return expireUnpaid(gctx, st.orders, cfg.Orders.PaymentTimeout, cfg.Orders.ExpiryInterval)
	})
	g.Go(func() error {
		lg.Info("Server listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			return errors.Wrap(err, "shutdown")
		}
		return nil
	})

	healthSvc.SetReady(true)
	return g.Wait()
}

// newPublisher returns the Kafka publisher when brokers are configured and
// the log publisher otherwise, instrumented either way. The Kafka client is
// returned so the caller can health-check and close it.
func newPublisher(ctx context.Context, cfg KafkaConfig, tp trace.TracerProvider, mp metric.MeterProvider) (event.Publisher, *kgo.Client, error) {
	var (
		next   event.Publisher = eventbus.LogPublisher{}
		client *kgo.Client
	)
	if cfg.Brokers != "" {
		var err error
		client, err = eventbus.NewKafkaClient(cfg.Brokers, cfg.ClientID)
		if err != nil {
			return nil, nil, err
		}
		if err := eventbus.EnsureTopic(ctx, client, cfg.Topic, cfg.Partitions, cfg.Replication); err != nil {
			client.Close()
			return nil, nil, err
		}
		next = eventbus.NewKafkaPublisher(client, cfg.Topic)
	} else {
		zctx.From(ctx).Info("No Kafka brokers configured, domain events are only logged")
	}

	p, err := eventbus.Instrument(next, tp, mp)
	if err != nil {
		if client != nil {
			client.Close()
		}
		return nil, nil, errors.Wrap(err, "instrument publisher")
	}
	return p, client, nil
}

// stack holds the wired services.
type stack struct {
	handler.Services
	orders *order.Service
}

// wire builds repositories and domain services over the given connections.
func wire(pool *pgxpool.Pool, rdb goredis.UniversalClient, publisher event.Publisher, cfg *Config) stack {
	productRepo := postgres.NewProductRepository(pool)
	cartRepo := redis.NewCartRepository(rdb, cfg.Redis.CartTTL)

	inventorySvc := inventory.NewService(postgres.NewInventoryRepository(pool), publisher)
	cartSvc := cart.NewService(cartRepo, product.NewCatalog(productRepo, inventorySvc))
	categorySvc := product.NewCategoryService(postgres.NewCategoryRepository(pool), productRepo)
	couponSvc := coupon.NewService(postgres.NewCouponRepository(pool), publisher)
	promotionSvc := promotion.NewService(postgres.NewPromotionRepository(pool), publisher)
	customerSvc := customer.NewService(postgres.NewCustomerRepository(pool), publisher)

	orderOpts := []order.Option{
		order.WithSpending(customerSvc),
		order.WithEvents(publisher),
	}
	if cfg.Orders.AutoPromotions {
		orderOpts = append(orderOpts, order.WithPromotions(promotionSvc))
	}
	orderSvc := order.NewService(postgres.NewOrderRepository(pool), cartSvc, inventorySvc, couponSvc, orderOpts...)

	return stack{
		Services: handler.Services{
			Products:   productRepo,
			Categories: categorySvc,
			Carts:      cartSvc,
			Orders:     orderSvc,
			Coupons:    couponSvc,
			Promotions: promotionSvc,
			Customers:  customerSvc,
			Inventory:  inventorySvc,
		},
		orders: orderSvc,
	}
}

// newRouter mounts the health endpoints and the REST API. Route-aware
// middleware is installed here; request IDs, logger injection and otelhttp
// wrap the router from outside.
func newRouter(st stack, hs *health.Health, couponGuard httpmiddleware.Middleware) chi.Router {
	r := chi.NewRouter()
	r.Use(
		httpmiddleware.LogRequests(),
		httpmiddleware.Labeler(),
		httpmiddleware.Recovery(),
	)
	r.Get("/livez", hs.Handler(health.Liveness))
	r.Get("/readyz", hs.Handler(health.Readiness))
	handler.NewHandler(st.Services).Routes(r, couponGuard)
	return r
}
