package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	_ "time/tzdata"

	"go.uber.org/zap"

	"github.com/hackgods/clinic-appointments/internal/api"
	"github.com/hackgods/clinic-appointments/internal/appointment"
	"github.com/hackgods/clinic-appointments/internal/catalog"
	"github.com/hackgods/clinic-appointments/internal/config"
	"github.com/hackgods/clinic-appointments/internal/db"
	"github.com/hackgods/clinic-appointments/internal/logger"
	"github.com/hackgods/clinic-appointments/internal/metrics"
	"github.com/hackgods/clinic-appointments/internal/notify"
	"github.com/hackgods/clinic-appointments/internal/payment"
	redisclient "github.com/hackgods/clinic-appointments/internal/redis"
	"github.com/hackgods/clinic-appointments/internal/tracing"
)

type serviceCatalog interface {
	appointment.Catalog
	api.ServiceLister
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	zlog, err := logger.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = zlog.Sync() }()

	if err := run(cfg, zlog); err != nil {
		zlog.Fatal("api-server stopped", zap.Error(err))
	}
}

func run(cfg config.Config, zlog *zap.Logger) error {
	zlog.Info("api-server starting up",
		zap.String("env", cfg.Env),
		zap.String("http_port", cfg.HTTPPort),
		zap.String("store", cfg.StoreDriver),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := tracing.Init(rootCtx, tracing.Config{
		ServiceName:    "clinic-api",
		ServiceVersion: cfg.Version,
		Environment:    cfg.Env,
		OTLPEndpoint:   cfg.OTLPEndpoint,
	})
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			zlog.Warn("tracer shutdown", zap.Error(err))
		}
	}()

	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	template, err := appointment.ParseDayTemplate(cfg.BusinessHours)
	if err != nil {
		return fmt.Errorf("BUSINESS_HOURS: %w", err)
	}

	m := metrics.New()
	hub := notify.NewHub(zlog.Named("notify"), notify.WithObserver(m))
	defer hub.Close()

	var (
		repo   appointment.Repository
		cat    serviceCatalog
		checks []api.HealthCheck
	)

	switch cfg.StoreDriver {
	case config.StoreDriverPostgres:
		if cfg.AutoMigrate {
			if err := db.Migrate(cfg.PostgresDSN, db.ActionUp, zlog); err != nil {
				return fmt.Errorf("auto migrate: %w", err)
			}
		}

		pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
		pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, zlog)
		cancelPg()
		if err != nil {
			return fmt.Errorf("postgres connection error: %w", err)
		}
		defer pgPool.Close()

		repo = appointment.NewPgRepository(pgPool, loc)
		cat = catalog.NewPgCatalog(pgPool)
		checks = append(checks, api.HealthCheck{Name: "postgres", Critical: true, Ping: pgPool.Ping})
	default:
		zlog.Warn("using in-memory store, data is lost on restart")
		repo = appointment.NewMemoryRepository()
		cat = catalog.NewStaticCatalog(catalog.DefaultServices()...)
	}

	deps := appointment.Deps{
		Repo:             repo,
		Catalog:          cat,
		Payments:         payment.NewBreaker(payment.NewMockGateway(cfg.PaymentDeclineTokens), payment.DefaultBreakerConfig(), zlog.Named("payment")),
		Notifier:         hub,
		Metrics:          m,
		Logger:           zlog.Named("appointment"),
		Template:         template,
		Location:         loc,
		Timeout:          cfg.OperationTimeout,
		BookingIDLength:  cfg.BookingIDLength,
		BookingIDRetries: cfg.BookingIDRetries,
	}

	if cfg.RedisEnabled() {
		rdb, err := redisclient.NewRedisClient(rootCtx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
		if err != nil {
			return fmt.Errorf("redis connection error: %w", err)
		}
		defer func() {
			if err := rdb.Close(); err != nil {
				zlog.Warn("error closing redis", zap.Error(err))
			}
		}()
		zlog.Info("connected to Redis", zap.String("addr", cfg.RedisAddr))

		deps.Locker = redisclient.NewSlotLocker(rdb, cfg.LockTTL, cfg.LockWait, zlog.Named("lock"))

		relay := redisclient.NewRelay(rdb, cfg.EventChannel, hub, zlog.Named("relay"))
		hub.SetForwarder(relay)
		go func() {
			if err := relay.Run(rootCtx); err != nil {
				zlog.Error("event relay stopped", zap.Error(err))
			}
		}()

		checks = append(checks, api.HealthCheck{
			Name: "redis",
			Ping: func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		})
	}

	svc := appointment.NewService(deps)

	router := api.NewRouter(api.RouterConfig{
		Service:        svc,
		Catalog:        cat,
		LiveFeed:       notify.NewHandler(hub, cfg.CORSAllowedOrigins, zlog.Named("ws")),
		Metrics:        m,
		Exporter:       m.Handler(),
		Health:         checks,
		Logger:         zlog.Named("http"),
		JWTSecret:      []byte(cfg.JWTSecret),
		AllowedOrigins: cfg.CORSAllowedOrigins,
		Env:            cfg.Env,
		Version:        cfg.Version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		zlog.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-rootCtx.Done():
	}

	zlog.Info("shutting down api-server", zap.Duration("timeout", cfg.ShutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}
