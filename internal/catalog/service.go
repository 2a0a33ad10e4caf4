package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/idealindiska/livs-backend/pkg/logger"
	"github.com/idealindiska/livs-backend/pkg/redis"
	"github.com/idealindiska/livs-backend/pkg/woocommerce"
)

const (
	// TagProducts groups every cached product and variation.
	TagProducts = "products"
	// TagSettings groups cached store settings.
	TagSettings = "settings"

	currencySettingID = "woocommerce_currency"
)

// ProductTag returns the cache tag of a single product.
func ProductTag(id int64) string {
	return "product:" + strconv.FormatInt(id, 10)
}

// CashOnDelivery is offered when the gateway list cannot be loaded.
var CashOnDelivery = Gateway{
	ID:          "cod",
	Title:       "Cash on Delivery",
	Description: "Pay with cash upon delivery.",
}

type upstream interface {
	GetProduct(ctx context.Context, id int64) (*woocommerce.Product, error)
	GetVariation(ctx context.Context, productID, variationID int64) (*woocommerce.Variation, error)
	ListPaymentGateways(ctx context.Context) ([]woocommerce.PaymentGateway, error)
	GetCouponByCode(ctx context.Context, code string) (*woocommerce.Coupon, error)
	GetGeneralSettings(ctx context.Context) ([]woocommerce.Setting, error)
}

type cache interface {
	Get(ctx context.Context, key string) (string, error)
	SetTagged(ctx context.Context, key string, value any, ttl time.Duration, tags ...string) error
	CacheKey(parts ...string) string
}

// Gateway is a payment method offered at checkout.
type Gateway struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// Service serves storefront reads from WooCommerce through a redis cache.
type Service interface {
	GetProduct(ctx context.Context, id int64) (*woocommerce.Product, error)
	GetVariation(ctx context.Context, productID, variationID int64) (*woocommerce.Variation, error)
	PaymentGateways(ctx context.Context) []Gateway
	ValidateCoupon(ctx context.Context, input CouponInput) *CouponResult
	StoreCurrency(ctx context.Context) string
}

// ServiceParams wires the catalog. Cache is optional.
type ServiceParams struct {
	Upstream         upstream
	Cache            cache
	TTL              time.Duration
	FallbackCurrency string
	Logger           *logger.Logger
	Now              func() time.Time
}

type service struct {
	upstream upstream
	cache    cache
	ttl      time.Duration
	currency string
	logg     *logger.Logger
	now      func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	if params.Upstream == nil {
		return nil, fmt.Errorf("woocommerce client required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	currency := strings.ToUpper(strings.TrimSpace(params.FallbackCurrency))
	if currency == "" {
		currency = "SEK"
	}
	return &service{
		upstream: params.Upstream,
		cache:    params.Cache,
		ttl:      params.TTL,
		currency: currency,
		logg:     params.Logger,
		now:      now,
	}, nil
}

func (s *service) GetProduct(ctx context.Context, id int64) (*woocommerce.Product, error) {
	var out woocommerce.Product
	key := []string{"product", strconv.FormatInt(id, 10)}
	err := s.cached(ctx, key, []string{TagProducts, ProductTag(id)}, &out, func() (any, error) {
		return s.upstream.GetProduct(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *service) GetVariation(ctx context.Context, productID, variationID int64) (*woocommerce.Variation, error) {
	var out woocommerce.Variation
	key := []string{"variation", strconv.FormatInt(productID, 10), strconv.FormatInt(variationID, 10)}
	err := s.cached(ctx, key, []string{TagProducts, ProductTag(productID)}, &out, func() (any, error) {
		return s.upstream.GetVariation(ctx, productID, variationID)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// PaymentGateways lists enabled gateways, falling back to cash on delivery
// when WooCommerce is unreachable or reports none.
func (s *service) PaymentGateways(ctx context.Context) []Gateway {
	gateways, err := s.upstream.ListPaymentGateways(ctx)
	if err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "catalog.payment_gateways.fallback")
		return []Gateway{CashOnDelivery}
	}
	out := make([]Gateway, 0, len(gateways))
	for _, g := range gateways {
		if !g.Enabled {
			continue
		}
		title := g.Title
		if title == "" {
			title = g.MethodTitle
		}
		out = append(out, Gateway{ID: g.ID, Title: title, Description: g.Description})
	}
	if len(out) == 0 {
		return []Gateway{CashOnDelivery}
	}
	return out
}

// StoreCurrency returns the WooCommerce store currency, or the configured
// fallback when settings cannot be read.
func (s *service) StoreCurrency(ctx context.Context) string {
	var currency string
	err := s.cached(ctx, []string{"settings", "currency"}, []string{TagSettings}, &currency, func() (any, error) {
		settings, err := s.upstream.GetGeneralSettings(ctx)
		if err != nil {
			return nil, err
		}
		for _, setting := range settings {
			if setting.ID == currencySettingID {
				if v := strings.TrimSpace(setting.StringValue()); v != "" {
					return strings.ToUpper(v), nil
				}
			}
		}
		return nil, fmt.Errorf("%s not set", currencySettingID)
	})
	if err != nil || currency == "" {
		if err != nil {
			s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "catalog.currency.fallback")
		}
		return s.currency
	}
	return currency
}

// cached reads key into out, loading and storing it on a miss. Cache
// failures fall through to the upstream.
func (s *service) cached(ctx context.Context, key []string, tags []string, out any, load func() (any, error)) error {
	var cacheKey string
	if s.cache != nil {
		cacheKey = s.cache.CacheKey(key...)
		raw, err := s.cache.Get(ctx, cacheKey)
		switch {
		case err == nil:
			if jsonErr := json.Unmarshal([]byte(raw), out); jsonErr == nil {
				return nil
			}
		case !errors.Is(err, redis.Nil):
			s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "catalog.cache.read_failed")
		}
	}

	value, err := load()
	if err != nil {
		return err
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", strings.Join(key, ":"), err)
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("decode %s: %w", strings.Join(key, ":"), err)
	}
	if s.cache != nil {
		if err := s.cache.SetTagged(ctx, cacheKey, string(payload), s.ttl, tags...); err != nil {
			s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "catalog.cache.write_failed")
		}
	}
	return nil
}

// CouponInput is the coupon check payload.
type CouponInput struct {
	Code     string          `json:"code" validate:"required,max=64"`
	Subtotal decimal.Decimal `json:"subtotal"`
	Email    string          `json:"email" validate:"omitempty,email"`
}

// CouponResult reports whether a coupon applies. Errors are shopper-facing.
type CouponResult struct {
	Valid        bool            `json:"valid"`
	Code         string          `json:"code"`
	DiscountType string          `json:"discount_type,omitempty"`
	Amount       decimal.Decimal `json:"amount"`
	Errors       []string        `json:"errors"`
}
