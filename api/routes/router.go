package routes

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/idealindiska/livs-backend/api/controllers"
	cartcontrollers "github.com/idealindiska/livs-backend/api/controllers/cart"
	checkoutcontrollers "github.com/idealindiska/livs-backend/api/controllers/checkout"
	webhookcontrollers "github.com/idealindiska/livs-backend/api/controllers/webhooks"
	"github.com/idealindiska/livs-backend/api/middleware"
	"github.com/idealindiska/livs-backend/internal/bundles"
	"github.com/idealindiska/livs-backend/internal/cart"
	"github.com/idealindiska/livs-backend/internal/catalog"
	checkoutsvc "github.com/idealindiska/livs-backend/internal/checkout"
	"github.com/idealindiska/livs-backend/internal/contact"
	"github.com/idealindiska/livs-backend/internal/reconcile"
	"github.com/idealindiska/livs-backend/internal/shipping"
	"github.com/idealindiska/livs-backend/internal/webhooks/revalidate"
	"github.com/idealindiska/livs-backend/pkg/config"
	"github.com/idealindiska/livs-backend/pkg/logger"
)

// Store is the redis surface used by the HTTP middleware.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	SetTagged(ctx context.Context, key string, value any, ttl time.Duration, tags ...string) error
	Del(ctx context.Context, keys ...string) error
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
	IdempotencyKey(scope, id string) string
	RateLimitKey(scope string) string
	CacheKey(parts ...string) string
}

type RestrictionChecker interface {
	Check(ctx context.Context, lines []shipping.Line, dest shipping.Address) shipping.Result
}

type StripeEventGuard interface {
	Claim(ctx context.Context, eventID string) (bool, error)
	Release(ctx context.Context, eventID string) error
}

type StripeSigner interface {
	SigningSecret() string
}

// Services are the handlers' dependencies. Nil services answer 500.
type Services struct {
	Catalog         catalog.Service
	Cart            cart.Service
	Bundles         bundles.Service
	Restrictions    RestrictionChecker
	Checkout        checkoutsvc.Service
	Contact         contact.Service
	Reconciliations reconcile.Repository
	Revalidate      webhookcontrollers.RevalidateService
	StripeWebhook   webhookcontrollers.StripeWebhookService
	StripeClient    StripeSigner
	StripeGuard     StripeEventGuard
}

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	store Store,
	readiness map[string]controllers.Pinger,
	metricsHandler http.Handler,
	svc Services,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.Site.CORSOrigins...),
		middleware.ClientIP(),
	)

	checkoutPolicy := middleware.NewRateLimitPolicy(
		"checkout",
		cfg.RateLimit.CheckoutWindow,
		cfg.RateLimit.CheckoutIPLimit,
		cfg.RateLimit.CheckoutEmailLimit,
	)
	idempotent := middleware.Idempotency(store, logg)
	checkoutLimit := middleware.RateLimit(checkoutPolicy, store, logg)
	cacheTTL := cfg.Commerce.ResponseCacheTTL

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, readiness, logg))
	})
	if metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", metricsHandler)
	}

	r.Route("/api", func(r chi.Router) {
		r.Route("/products/{id}", func(r chi.Router) {
			r.Use(middleware.ResponseCache(store, cacheTTL, productTags, logg))
			r.Get("/", controllers.ProductGet(svc.Catalog, logg))
			r.Get("/variations/{variationId}", controllers.VariationGet(svc.Catalog, logg))
		})
		r.With(middleware.ResponseCache(store, cacheTTL, middleware.StaticTags(revalidate.TagBundles, revalidate.TagPromotions), logg)).
			Get("/bundles", controllers.BundleList(svc.Bundles, logg))
		r.Post("/shipping/restrictions", controllers.ShippingRestrictions(svc.Restrictions, logg))
		r.Get("/checkout/payment-methods", checkoutcontrollers.PaymentMethods(svc.Catalog, logg))
		r.Get("/checkout/stripe/return", checkoutcontrollers.StripeReturn(svc.Checkout, logg))

		r.Post("/stripe/webhook", webhookcontrollers.StripeWebhook(svc.StripeWebhook, svc.StripeClient, svc.StripeGuard, logg))
		r.Post("/revalidate", webhookcontrollers.Revalidate(svc.Revalidate, logg))
		r.Post("/contact", controllers.ContactSubmit(svc.Contact, logg))
		r.Post("/exit-survey", controllers.ExitSurveySubmit(svc.Contact, logg))

		r.Group(func(r chi.Router) {
			r.Use(middleware.CartSession(cfg.Commerce, logg))

			r.Route("/cart", func(r chi.Router) {
				r.Get("/", cartcontrollers.CartFetch(svc.Cart, logg))
				r.Delete("/", cartcontrollers.CartClear(svc.Cart, logg))
				r.Post("/items", cartcontrollers.CartAddItem(svc.Cart, logg))
				r.Patch("/items/{key}", cartcontrollers.CartUpdateItem(svc.Cart, logg))
				r.Delete("/items/{key}", cartcontrollers.CartRemoveItem(svc.Cart, logg))
				r.Put("/shipping-address", cartcontrollers.CartSetShippingAddress(svc.Cart, logg))
				r.Post("/shipping/calculate", cartcontrollers.CartCalculateShipping(svc.Cart, logg))
				r.Put("/shipping-method", cartcontrollers.CartSelectShippingMethod(svc.Cart, logg))
				r.Delete("/shipping", cartcontrollers.CartClearShipping(svc.Cart, logg))
			})

			r.With(idempotent).Post("/bundles/{bundleId}/add-to-cart", controllers.BundleAddToCart(svc.Bundles, logg))
			r.Post("/checkout/coupon", checkoutcontrollers.CouponValidate(svc.Catalog, svc.Cart, logg))
			r.With(checkoutLimit, idempotent).Post("/checkout/whatsapp", checkoutcontrollers.WhatsAppOrder(svc.Checkout, logg))
			r.With(checkoutLimit, idempotent).Post("/checkout/stripe/payment-intent", checkoutcontrollers.PaymentIntent(svc.Checkout, logg))
			r.With(idempotent).Patch("/orders/{orderId}/mark-paid", checkoutcontrollers.MarkPaid(svc.Checkout, logg))
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.AdminToken(cfg.Admin.APIToken, logg))
			r.Get("/reconciliations", controllers.AdminReconciliations(svc.Reconciliations, logg))
		})
	})

	return r
}

// productTags ties a cached product response to the product's revalidation tag.
func productTags(r *http.Request) []string {
	tags := []string{catalog.TagProducts}
	if id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64); err == nil && id > 0 {
		tags = append(tags, catalog.ProductTag(id))
	}
	return tags
}
