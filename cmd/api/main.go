package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/multierr"

	"github.com/idealindiska/livs-backend/api/controllers"
	"github.com/idealindiska/livs-backend/api/routes"
	"github.com/idealindiska/livs-backend/internal/bundles"
	"github.com/idealindiska/livs-backend/internal/cart"
	"github.com/idealindiska/livs-backend/internal/catalog"
	"github.com/idealindiska/livs-backend/internal/checkout"
	"github.com/idealindiska/livs-backend/internal/commerce"
	"github.com/idealindiska/livs-backend/internal/contact"
	"github.com/idealindiska/livs-backend/internal/reconcile"
	"github.com/idealindiska/livs-backend/internal/shipping"
	"github.com/idealindiska/livs-backend/internal/webhooks/revalidate"
	stripewebhook "github.com/idealindiska/livs-backend/internal/webhooks/stripe"
	"github.com/idealindiska/livs-backend/pkg/config"
	"github.com/idealindiska/livs-backend/pkg/db"
	"github.com/idealindiska/livs-backend/pkg/logger"
	"github.com/idealindiska/livs-backend/pkg/mailer"
	"github.com/idealindiska/livs-backend/pkg/metrics"
	"github.com/idealindiska/livs-backend/pkg/migrate"
	"github.com/idealindiska/livs-backend/pkg/redis"
	"github.com/idealindiska/livs-backend/pkg/stripe"
	"github.com/idealindiska/livs-backend/pkg/woocommerce"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	requireResource(context.Background(), logg, "config", err)

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Env:         cfg.App.Env,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      cfg.App.LogFormat,
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var closers []io.Closer

	dbClient, err := db.New(ctx, cfg.DB, logg)
	requireResource(ctx, logg, "database", err)
	closers = append(closers, dbClient)

	requireResource(ctx, logg, "dev migrations", migrate.MaybeRunDev(ctx, cfg, logg, dbClient))

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	requireResource(ctx, logg, "redis", err)
	closers = append(closers, redisClient)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	commerceMetrics := metrics.NewCommerce(registry)

	wc, err := woocommerce.New(cfg.WooCommerce, commerceMetrics)
	requireResource(ctx, logg, "woocommerce", err)

	stripeClient, err := stripe.NewClient(ctx, cfg.Stripe, logg)
	requireResource(ctx, logg, "stripe", err)

	catalogService, err := catalog.NewService(catalog.ServiceParams{
		Upstream:         wc,
		Cache:            redisClient,
		TTL:              cfg.Commerce.ProductCacheTTL,
		FallbackCurrency: cfg.Commerce.FallbackCurrency,
		Logger:           logg,
	})
	requireResource(ctx, logg, "catalog service", err)

	rules, err := commerce.LoadRules(cfg.Commerce.RulesFile)
	requireResource(ctx, logg, "commerce rules", err)

	checker := shipping.NewChecker(catalogService, cfg.Commerce.UpstreamFetchLimit)
	calculator, err := shipping.NewCalculator(shipping.CalculatorParams{
		Zones:        wc,
		Restrictions: checker,
		Cache:        redisClient,
		CacheTTL:     cfg.Commerce.ShippingQuoteTTL,
		Metrics:      commerceMetrics,
		Logger:       logg,
	})
	requireResource(ctx, logg, "shipping calculator", err)

	cartRepo, err := cart.NewRepository(redisClient, cfg.Commerce.CartTTL)
	requireResource(ctx, logg, "cart repository", err)

	cartService, err := cart.NewService(cart.ServiceParams{
		Repo:     cartRepo,
		Products: catalogService,
		Policy:   rules,
		Quoter:   calculator,
		Logger:   logg,
	})
	requireResource(ctx, logg, "cart service", err)

	offers, err := bundles.LoadOffers(cfg.Commerce.BundlesFile)
	requireResource(ctx, logg, "bundle offers", err)

	bundleService, err := bundles.NewService(bundles.ServiceParams{
		Offers:     offers,
		Products:   catalogService,
		Cart:       cartService,
		FetchLimit: cfg.Commerce.UpstreamFetchLimit,
		Logger:     logg,
	})
	requireResource(ctx, logg, "bundle service", err)

	reconciliations := reconcile.NewRepository(dbClient.DB())

	checkoutService, err := checkout.NewService(checkout.ServiceParams{
		Orders:          wc,
		Payments:        stripeClient,
		Carts:           cartService,
		Catalog:         catalogService,
		Restrictions:    checker,
		Reconciliations: reconciliations,
		Metrics:         commerceMetrics,
		Logger:          logg,
		StoreName:       cfg.Site.Name,
		SiteURL:         cfg.Site.URL,
		BusinessPhone:   cfg.WhatsApp.BusinessPhone,
	})
	requireResource(ctx, logg, "checkout service", err)

	stripeWebhookService, err := stripewebhook.NewService(stripewebhook.ServiceParams{
		Orders:          wc,
		Reconciliations: reconciliations,
		Metrics:         commerceMetrics,
		Logger:          logg,
	})
	requireResource(ctx, logg, "stripe webhook service", err)

	stripeGuard, err := stripewebhook.NewEventGuard(redisClient, cfg.Commerce.StripeEventTTL, "stripe:event")
	requireResource(ctx, logg, "stripe webhook guard", err)

	services := routes.Services{
		Catalog:         catalogService,
		Cart:            cartService,
		Bundles:         bundleService,
		Restrictions:    checker,
		Checkout:        checkoutService,
		Reconciliations: reconciliations,
		StripeWebhook:   stripeWebhookService,
		StripeClient:    stripeClient,
		StripeGuard:     stripeGuard,
	}

	sharedSecret := strings.TrimSpace(cfg.Revalidation.Secret)
	if sharedSecret == "" {
		sharedSecret = cfg.WooCommerce.WebhookSecret
	}
	if revalidateService, err := revalidate.NewService(revalidate.ServiceParams{
		Cache:         redisClient,
		WebhookSecret: cfg.WooCommerce.WebhookSecret,
		SharedSecret:  sharedSecret,
		Metrics:       commerceMetrics,
		Logger:        logg,
	}); err != nil {
		logg.Warn(logg.WithField(ctx, "error", err.Error()), "revalidation disabled")
	} else {
		services.Revalidate = revalidateService
	}

	if contactService, err := contact.NewService(contact.ServiceParams{
		Mailer:  newMailer(cfg, logg),
		Counter: redisClient,
		Limits: contact.Limits{
			Window:   cfg.RateLimit.ContactWindow,
			PerIP:    cfg.RateLimit.ContactIPLimit,
			PerEmail: cfg.RateLimit.ContactEmailLimit,
		},
		AdminEmail: cfg.SMTP.AdminEmail,
		StoreName:  cfg.Site.Name,
		Logger:     logg,
	}); err != nil {
		logg.Warn(logg.WithField(ctx, "error", err.Error()), "contact forms disabled")
	} else {
		services.Contact = contactService
	}

	readiness := map[string]controllers.Pinger{
		"database": dbClient,
		"redis":    redisClient,
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	id := os.Getenv("DYNO")
	if id == "" {
		id = "local"
	}
	ctx = logg.WithFields(ctx, map[string]any{
		"env":        cfg.App.Env,
		"addr":       addr,
		"instance":   id,
		"stripe_env": stripeClient.Environment(),
		"bundles":    len(offers),
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr:              addr,
		Handler:           routes.NewRouter(cfg, logg, redisClient, readiness, metrics.Handler(registry), services),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			_ = closeAll(closers)
			os.Exit(1)
		}
	case <-ctx.Done():
		logg.Info(ctx, "shutting down api server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	errs := server.Shutdown(shutdownCtx)
	errs = multierr.Append(errs, closeAll(closers))
	if errs != nil {
		logg.Error(ctx, "api shutdown incomplete", errs)
		os.Exit(1)
	}
	logg.Info(ctx, "api server stopped")
}

// newMailer prefers SMTP and falls back to logging messages when it is not
// configured.
func newMailer(cfg *config.Config, logg *logger.Logger) mailer.Sender {
	if !cfg.SMTP.Enabled() {
		return mailer.LogSender{Logger: logg}
	}
	smtp, err := mailer.NewSMTP(cfg.SMTP)
	if err != nil {
		logg.Warn(logg.WithField(context.Background(), "error", err.Error()), "smtp misconfigured, mail will be logged")
		return mailer.LogSender{Logger: logg}
	}
	return smtp
}

// closeAll closes resources in reverse order of creation.
func closeAll(closers []io.Closer) error {
	var errs error
	for i := len(closers) - 1; i >= 0; i-- {
		errs = multierr.Append(errs, closers[i].Close())
	}
	return errs
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
