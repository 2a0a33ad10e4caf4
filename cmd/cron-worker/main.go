package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/idealindiska/livs-backend/internal/cron"
	"github.com/idealindiska/livs-backend/internal/reconcile"
	"github.com/idealindiska/livs-backend/pkg/config"
	"github.com/idealindiska/livs-backend/pkg/db"
	"github.com/idealindiska/livs-backend/pkg/logger"
	"github.com/idealindiska/livs-backend/pkg/metrics"
	"github.com/idealindiska/livs-backend/pkg/migrate"
	"github.com/idealindiska/livs-backend/pkg/redis"
	"github.com/idealindiska/livs-backend/pkg/stripe"
	"github.com/idealindiska/livs-backend/pkg/woocommerce"
)

func main() {
	once := flag.Bool("once", false, "run a single cycle and exit (for one-off scheduler dynos)")
	jobs := flag.String("jobs", "", "comma separated job names to run; empty runs all")
	flag.Parse()

	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Env:         cfg.App.Env,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      cfg.App.LogFormat,
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		logg.Error(ctx, "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	commerceMetrics := metrics.NewCommerce(prometheus.DefaultRegisterer)

	wc, err := woocommerce.New(cfg.WooCommerce, commerceMetrics)
	if err != nil {
		logg.Error(ctx, "failed to create woocommerce client", err)
		os.Exit(1)
	}
	stripeClient, err := stripe.NewClient(ctx, cfg.Stripe, logg)
	if err != nil {
		logg.Error(ctx, "failed to create stripe client", err)
		os.Exit(1)
	}

	reconcileJob, err := cron.NewReconciliationJob(cron.ReconciliationJobParams{
		Logger:          logg,
		Reconciliations: reconcile.NewRepository(dbClient.DB()),
		Payments:        stripeClient,
		Orders:          wc,
		BatchSize:       cfg.Cron.ReconcileBatchSize,
	})
	if err != nil {
		logg.Error(ctx, "failed to create reconciliation job", err)
		os.Exit(1)
	}

	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey("cron", lockScope(cfg.App.Env)), cfg.Cron.LockTTL)
	if err != nil {
		logg.Error(ctx, "failed to create cron lock", err)
		os.Exit(1)
	}

	registry := cron.NewRegistry()
	if err := registry.Register(reconcileJob); err != nil {
		logg.Error(ctx, "failed to register cron jobs", err)
		os.Exit(1)
	}
	selected, err := registry.Select(splitJobs(*jobs)...)
	if err != nil {
		logg.Error(ctx, "invalid -jobs", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: selected,
		Lock:     lock,
		Metrics:  commerceMetrics,
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		logg.Error(ctx, "failed to create cron service", err)
		os.Exit(1)
	}

	ctx = logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"interval": cfg.Cron.Interval.String(),
	})
	if *once {
		logg.Info(ctx, "running cron cycle once")
		if err := service.RunOnce(ctx); err != nil {
			logg.Error(ctx, "cron cycle incomplete", err)
			os.Exit(1)
		}
		return
	}
	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func splitJobs(raw string) []string {
	var names []string
	for _, name := range strings.Split(raw, ",") {
		if name = strings.TrimSpace(name); name != "" {
			names = append(names, name)
		}
	}
	return names
}

func lockScope(env string) string {
	if env == "" {
		return "local"
	}
	return env
}
