package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/fresh-pickup/internal/domain/auth"
	"github.com/xenking/fresh-pickup/internal/domain/catalog"
	"github.com/xenking/fresh-pickup/internal/domain/coupon"
	"github.com/xenking/fresh-pickup/internal/domain/order"
	"github.com/xenking/fresh-pickup/internal/domain/quantity"
	"github.com/xenking/fresh-pickup/internal/domain/slot"
	"github.com/xenking/fresh-pickup/internal/handler"
	"github.com/xenking/fresh-pickup/internal/notify"
	"github.com/xenking/fresh-pickup/internal/scheduler"
	"github.com/xenking/fresh-pickup/internal/storage/memory"
	"github.com/xenking/fresh-pickup/internal/storage/postgres"
	"github.com/xenking/fresh-pickup/pkg/health"
	"github.com/xenking/fresh-pickup/pkg/httpmiddleware"
)

// repositories groups the persistence ports the services need.
type repositories struct {
	catalog catalog.Repository
	slots   slot.Repository
	coupons coupon.Repository
	orders  order.Store
	keys    auth.Repository
}

// openStore connects the configured store. The returned close function
// must be called on shutdown.
func openStore(ctx context.Context, lg *zap.Logger, cfg *Config, hs *health.Health) (*repositories, func(), error) {
	if cfg.Store == "memory" {
		lg.Warn("Using in-memory store, data is lost on restart")
		s := memory.New()
		return &repositories{catalog: s, slots: s, coupons: s, orders: s, keys: s}, func() {}, nil
	}

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, errors.Wrap(err, "create db pool")
	}
	if err := postgres.RunMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, errors.Wrap(err, "run migrations")
	}
	hs.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck("postgres", pool))

	return &repositories{
		catalog: postgres.NewCatalogRepository(pool),
		slots:   postgres.NewSlotRepository(pool),
		coupons: postgres.NewCouponRepository(pool),
		orders:  postgres.NewOrderRepository(pool),
		keys:    postgres.NewAPIKeyRepository(pool),
	}, pool.Close, nil
}

// notifications builds the dispatcher and, when WhatsApp is configured, the
// operator broadcaster used by the digest.
func notifications(lg *zap.Logger, m *app.Telemetry, cfg *Config, hs *health.Health) (*notify.Dispatcher, *notify.WhatsApp, func(), error) {
	var (
		channels []notify.Channel
		wa       *notify.WhatsApp
	)
	if c := cfg.Notify.WhatsApp; c.Enabled() {
		wa = notify.NewWhatsApp(notify.WhatsAppConfig{
			BaseURL:       c.BaseURL,
			APIVersion:    c.APIVersion,
			AccessToken:   c.Token,
			PhoneNumberID: c.PhoneNumberID,
			Operators:     c.Operators,
		})
		channels = append(channels, wa)
	}
	if c := cfg.Notify.SMTP; c.Host != "" {
		channels = append(channels, notify.NewEmail(notify.SMTPConfig{
			Host:     c.Host,
			Port:     c.Port,
			Username: c.Username,
			Password: c.Password,
			From:     c.From,
			FromName: c.FromName,
		}))
	}
	if cfg.Notify.PrinterURL != "" {
		channels = append(channels, notify.NewPrinter(cfg.Notify.PrinterURL, 0))
	}

	var (
		q       notify.Queue
		closeFn = func() {}
	)
	switch cfg.Notify.Queue {
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Notify.RedisAddr,
			Password: cfg.Notify.RedisPassword,
			DB:       cfg.Notify.RedisDB,
		})
		hs.AddReadinessCheck("redis", 2*time.Second, func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		})
		q = notify.NewRedisQueue(rdb, notify.RedisQueueOptions{MaxLen: int64(cfg.Notify.Buffer)})
		closeFn = func() { _ = rdb.Close() }
	default:
		q = notify.NewMemoryQueue(cfg.Notify.Buffer)
	}

	names := make([]string, 0, len(channels))
	for _, c := range channels {
		names = append(names, c.Name())
	}
	lg.Info("Notification channels", zap.Strings("channels", names), zap.String("queue", cfg.Notify.Queue))

	d, err := notify.NewDispatcher(q, channels, notify.Options{
		Workers:       cfg.Notify.Workers,
		Logger:        lg.Named("notify"),
		MeterProvider: m.MeterProvider(),
	})
	if err != nil {
		closeFn()
		return nil, nil, nil, errors.Wrap(err, "create dispatcher")
	}
	return d, wa, closeFn, nil
}

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr), zap.String("store", cfg.Store))

	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	minKg, err := cfg.MinWeightKg()
	if err != nil {
		return err
	}
	policy, err := cfg.StockPolicy()
	if err != nil {
		return err
	}
	lowStock, err := cfg.LowStockKg()
	if err != nil {
		return err
	}

	healthSvc := health.New()
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))

	repos, closeStore, err := openStore(ctx, lg, cfg, healthSvc)
	if err != nil {
		return err
	}
	defer closeStore()

	dispatcher, whatsapp, closeQueue, err := notifications(lg, m, cfg, healthSvc)
	if err != nil {
		return err
	}
	defer closeQueue()

	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// Domain services.
	resolver := slot.NewResolver(repos.slots)
	couponValidator := coupon.NewRepoValidator(repos.coupons)
	orderService, err := order.NewService(order.Deps{
		Catalog:        repos.catalog,
		Quantity:       quantity.NewModel(minKg),
		Coupons:        couponValidator,
		Slots:          resolver,
		Store:          repos.orders,
		Notifier:       dispatcher,
		Policy:         policy,
		Location:       loc,
		MeterProvider:  m.MeterProvider(),
		TracerProvider: m.TracerProvider(),
	})
	if err != nil {
		return errors.Wrap(err, "create order service")
	}

	// Delivery runs on its own context so queued jobs are still sent while
	// the server drains.
	notifyCtx, stopNotify := context.WithCancel(context.WithoutCancel(ctx))
	defer stopNotify()
	go func() {
		if err := dispatcher.Run(notifyCtx); err != nil {
			lg.Error("Notification dispatcher stopped", zap.Error(err))
		}
	}()

	var digest *scheduler.Scheduler
	if whatsapp != nil {
		digest, err = scheduler.New(scheduler.Config{
			Spec:       cfg.Digest.Cron,
			LowStockKg: lowStock,
			Location:   loc,
		}, repos.catalog, resolver, whatsapp, lg.Named("scheduler"))
		if err != nil {
			return errors.Wrap(err, "create scheduler")
		}
		digest.Start()
	} else {
		lg.Info("WhatsApp not configured, operator digest disabled")
	}

	// HTTP handlers.
	h := handler.New(
		handler.Config{Location: loc},
		orderService,
		resolver,
		couponValidator,
		auth.NewAuthenticator(repos.keys, []byte(cfg.APIKeyPepper)),
	)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler:           newRouter(ctx, cfg, healthSvc, h, m.MeterProvider(), m.TracerProvider()),
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
		if digest != nil {
			digest.Stop()
		}
		if err := dispatcher.Shutdown(shutdownCtx); err != nil {
			lg.Warn("Notification queue not drained in time", zap.Error(err))
		}
		stopNotify()
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

// newRouter mounts the health probes and API routes behind the middleware
// chain. The rate limiter's cleanup stops with ctx.
func newRouter(ctx context.Context, cfg *Config, hs *health.Health, h *handler.Handler, mp metric.MeterProvider, tp trace.TracerProvider) http.Handler {
	mux := http.NewServeMux()
	hs.Register(mux)
	h.Register(mux)

	return httpmiddleware.Wrap(mux,
		httpmiddleware.Recovery(),
		httpmiddleware.CORS(httpmiddleware.CORSConfig{
			AllowOrigins:     cfg.CORS.Origins,
			AllowHeaders:     []string{"Content-Type", "Authorization", httpmiddleware.APIKeyHeader},
			AllowCredentials: cfg.CORS.AllowCredentials,
			MaxAge:           86400,
		}),
		httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
			Max:    cfg.RateLimit.Max,
			Window: cfg.RateLimit.Window,
		}),
		httpmiddleware.RequestID(),
		httpmiddleware.InjectLogger(zctx.From(ctx)),
		httpmiddleware.Instrument("pickup-api", mp, tp),
		httpmiddleware.LogRequests(),
	)
}
