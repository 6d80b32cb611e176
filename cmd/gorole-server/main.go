// Command gorole-server receives Stripe webhooks and keeps each user's role
// in sync with their subscription.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/mihaimyh/gorole/internal/config"
	"github.com/mihaimyh/gorole/pkg/billing"
	billingPromMetrics "github.com/mihaimyh/gorole/pkg/billing/metrics/prometheus"
	"github.com/mihaimyh/gorole/pkg/billing/stripe"
	"github.com/mihaimyh/gorole/pkg/gorole"
	zerologAdapter "github.com/mihaimyh/gorole/pkg/gorole/logger/zerolog"
	rolePromMetrics "github.com/mihaimyh/gorole/pkg/gorole/metrics/prometheus"
	natsNotify "github.com/mihaimyh/gorole/pkg/notify/nats"
)

const metricsNamespace = "gorole"

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath); err != nil {
		fmt.Fprintf(os.Stderr, "gorole-server: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	zlog, err := newZerolog(cfg.Log)
	if err != nil {
		return err
	}
	logger := zerologAdapter.NewLogger(zlog)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	store, err := openBackend(ctx, cfg, zlog)
	if err != nil {
		return fmt.Errorf("open %s storage: %w", cfg.Storage.Driver, err)
	}
	defer store.Close()

	manager, err := gorole.NewManager(store.storage, gorole.Config{
		DefaultRoleID: cfg.Roles.Default,
		CacheConfig:   &gorole.CacheConfig{Enabled: true, TTL: 30 * time.Second},
		CircuitBreakerConfig: &gorole.CircuitBreakerConfig{
			Enabled:          cfg.Storage.Driver != config.DriverMemory,
			FailureThreshold: 5,
			ResetTimeout:     30 * time.Second,
		},
		Metrics: rolePromMetrics.NewMetrics(registry, metricsNamespace),
		Logger:  logger,
	})
	if err != nil {
		return fmt.Errorf("create role manager: %w", err)
	}

	var onRoleChange billing.RoleChangeCallback
	if cfg.NATS.URL != "" {
		nc, err := nats.Connect(cfg.NATS.URL, nats.Name("gorole-server"))
		if err != nil {
			return fmt.Errorf("connect to nats: %w", err)
		}
		defer func() { _ = nc.Drain() }()

		publisher, err := natsNotify.NewPublisher(nc, natsNotify.Config{
			Subject: cfg.NATS.Subject,
			Logger:  logger,
		})
		if err != nil {
			return err
		}
		onRoleChange = publisher.Callback()
		zlog.Info().Str("subject", publisher.Subject()).Msg("publishing role changes to nats")
	}

	provider, err := stripe.NewProvider(stripe.Config{
		Config: billing.Config{
			Manager:            manager,
			PriceRoles:         cfg.Roles.PriceRoles,
			PlanPrices:         cfg.Roles.PlanPrices,
			WebhookSecret:      cfg.Stripe.WebhookSecret,
			APIKey:             cfg.Stripe.APIKey,
			UserMetadataKey:    cfg.Stripe.UserMetadataKey,
			LookupTimeout:      cfg.Stripe.LookupTimeout,
			SignatureTolerance: cfg.Stripe.Tolerance,
			RejectStaleEvents:  cfg.Reconcile.RejectStaleEvents,
			OnRoleChange:       onRoleChange,
			Metrics:            billingPromMetrics.NewMetrics(registry, metricsNamespace),
			Logger:             logger,
		},
		RateLimitRequests: cfg.Stripe.RateLimit,
		TrustedProxies:    cfg.Stripe.TrustedProxies,
	})
	if err != nil {
		return fmt.Errorf("create stripe provider: %w", err)
	}

	router, err := newRouter(routerDeps{
		cfg:      cfg,
		manager:  manager,
		provider: provider,
		registry: registry,
		health:   store,
		log:      zlog,
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		zlog.Info().
			Str("addr", cfg.Server.Addr).
			Str("storage", cfg.Storage.Driver).
			Bool("reject_stale_events", cfg.Reconcile.RejectStaleEvents).
			Msg("gorole-server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		zlog.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func newZerolog(cfg config.LogConfig) (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		return zerolog.Logger{}, fmt.Errorf("invalid log level: %w", err)
	}

	var zlog zerolog.Logger
	if cfg.Format == "console" {
		zlog = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	} else {
		zlog = zerolog.New(os.Stdout)
	}
	return zlog.Level(level).With().Timestamp().Logger(), nil
}
