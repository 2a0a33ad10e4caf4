package shipping

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/idealindiska/livs-backend/pkg/logger"
	"github.com/idealindiska/livs-backend/pkg/metrics"
	"github.com/idealindiska/livs-backend/pkg/redis"
	"github.com/idealindiska/livs-backend/pkg/woocommerce"
)

// restOfWorldZoneID is WooCommerce's "Locations not covered by your other zones".
const restOfWorldZoneID = 0

// CacheTag groups the cached zone table for invalidation.
const CacheTag = "shipping"

// ZoneSource lists WooCommerce shipping zones.
type ZoneSource interface {
	ListShippingZones(ctx context.Context) ([]woocommerce.ShippingZone, error)
	ListShippingZoneLocations(ctx context.Context, zoneID int64) ([]woocommerce.ShippingZoneLocation, error)
	ListShippingZoneMethods(ctx context.Context, zoneID int64) ([]woocommerce.ShippingZoneMethod, error)
}

type zoneCache interface {
	Get(ctx context.Context, key string) (string, error)
	SetTagged(ctx context.Context, key string, value any, ttl time.Duration, tags ...string) error
	CacheKey(parts ...string) string
}

type restrictionChecker interface {
	Check(ctx context.Context, lines []Line, dest Address) Result
}

type zoneRecord struct {
	Zone      woocommerce.ShippingZone           `json:"zone"`
	Locations []woocommerce.ShippingZoneLocation `json:"locations"`
	Methods   []woocommerce.ShippingZoneMethod   `json:"methods"`
}

// CalculatorParams wires a Calculator. Cache, Metrics and Logger are optional.
type CalculatorParams struct {
	Zones        ZoneSource
	Restrictions restrictionChecker
	Cache        zoneCache
	CacheTTL     time.Duration
	Metrics      *metrics.Commerce
	Logger       *logger.Logger
}

// Calculator quotes shipping methods from the WooCommerce zone table.
type Calculator struct {
	zones        ZoneSource
	restrictions restrictionChecker
	cache        zoneCache
	ttl          time.Duration
	metrics      *metrics.Commerce
	logg         *logger.Logger
}

func NewCalculator(params CalculatorParams) (*Calculator, error) {
	if params.Zones == nil {
		return nil, fmt.Errorf("zone source required")
	}
	if params.Restrictions == nil {
		return nil, fmt.Errorf("restriction checker required")
	}
	return &Calculator{
		zones:        params.Zones,
		restrictions: params.Restrictions,
		cache:        params.Cache,
		ttl:          params.CacheTTL,
		metrics:      params.Metrics,
		logg:         params.Logger,
	}, nil
}

// Quote matches the destination to a zone and maps its enabled methods.
func (c *Calculator) Quote(ctx context.Context, req QuoteRequest) (*Quote, error) {
	start := time.Now()
	quote, err := c.quote(ctx, req)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	c.metrics.ShippingQuote(outcome, time.Since(start))
	return quote, err
}

func (c *Calculator) quote(ctx context.Context, req QuoteRequest) (*Quote, error) {
	if strings.TrimSpace(req.Address.Postcode) == "" {
		return nil, fmt.Errorf("postcode is required")
	}
	zones, err := c.loadZones(ctx)
	if err != nil {
		return nil, err
	}
	zone, ok := matchZone(zones, req.Address)
	if !ok {
		return nil, fmt.Errorf("no shipping zone for %s %s", req.Address.CountryCode(), NormalizePostcode(req.Address.Postcode))
	}

	quote := &Quote{
		Zone:                  zone.Zone.Name,
		Methods:               make([]Method, 0, len(zone.Methods)),
		FreeShippingThreshold: decimal.Zero,
		AmountToFreeShipping:  decimal.Zero,
	}
	for _, zm := range sortedEnabled(zone.Methods) {
		method, threshold, ok := c.mapMethod(ctx, zm)
		if !ok {
			continue
		}
		if method.IsFree() && threshold.GreaterThan(quote.FreeShippingThreshold) {
			quote.FreeShippingThreshold = threshold
		}
		quote.Methods = append(quote.Methods, method)
	}
	if quote.FreeShippingThreshold.IsPositive() {
		remaining := quote.FreeShippingThreshold.Sub(req.Subtotal)
		if remaining.IsPositive() {
			quote.AmountToFreeShipping = remaining
		}
	}
	quote.Restrictions = c.restrictions.Check(ctx, req.Lines, req.Address)
	if quote.Restrictions.Degraded && c.logg != nil {
		c.logg.Warn(c.logg.WithField(ctx, "cause", fmt.Sprint(quote.Restrictions.Cause)), "shipping.restrictions.degraded")
	}
	return quote, nil
}

func (c *Calculator) mapMethod(ctx context.Context, zm woocommerce.ShippingZoneMethod) (Method, decimal.Decimal, bool) {
	label := zm.Title
	if label == "" {
		label = zm.MethodTitle
	}
	method := Method{
		ID:       fmt.Sprintf("%s:%d", zm.MethodID, zm.InstanceID),
		MethodID: zm.MethodID,
		Label:    label,
	}
	threshold := decimal.Zero

	if zm.MethodID == FreeShippingMethodID {
		switch zm.Setting("requires") {
		case "coupon", "both":
			// needs a coupon we cannot see at quote time
			return Method{}, decimal.Zero, false
		case "min_amount", "either":
			if minAmount, err := decimal.NewFromString(strings.TrimSpace(zm.Setting("min_amount"))); err == nil && minAmount.IsPositive() {
				threshold = minAmount
			}
		}
		method.Cost = decimal.Zero
		method.TotalCost = decimal.Zero
		return method, threshold, true
	}

	raw := strings.TrimSpace(zm.Setting("cost"))
	cost := decimal.Zero
	if raw != "" {
		parsed, err := decimal.NewFromString(strings.ReplaceAll(raw, ",", "."))
		if err != nil {
			if c.logg != nil {
				c.logg.Warn(c.logg.WithFields(ctx, map[string]any{"method": method.ID, "cost": raw}), "shipping.method.unsupported_cost")
			}
			return Method{}, decimal.Zero, false
		}
		cost = parsed
	}
	method.Cost = cost
	method.TotalCost = cost
	return method, threshold, true
}

func (c *Calculator) loadZones(ctx context.Context) ([]zoneRecord, error) {
	var key string
	if c.cache != nil {
		key = c.cache.CacheKey("shipping", "zones")
		raw, err := c.cache.Get(ctx, key)
		switch {
		case err == nil:
			var zones []zoneRecord
			if jsonErr := json.Unmarshal([]byte(raw), &zones); jsonErr == nil {
				return zones, nil
			}
		case !errors.Is(err, redis.Nil) && c.logg != nil:
			c.logg.Warn(c.logg.WithField(ctx, "error", err.Error()), "shipping.zones.cache_read_failed")
		}
	}

	zones, err := c.fetchZones(ctx)
	if err != nil {
		return nil, err
	}

	if c.cache != nil {
		if payload, err := json.Marshal(zones); err == nil {
			if err := c.cache.SetTagged(ctx, key, string(payload), c.ttl, CacheTag); err != nil && c.logg != nil {
				c.logg.Warn(c.logg.WithField(ctx, "error", err.Error()), "shipping.zones.cache_write_failed")
			}
		}
	}
	return zones, nil
}

func (c *Calculator) fetchZones(ctx context.Context) ([]zoneRecord, error) {
	zones, err := c.zones.ListShippingZones(ctx)
	if err != nil {
		return nil, fmt.Errorf("list shipping zones: %w", err)
	}
	hasRest := false
	for _, z := range zones {
		if z.ID == restOfWorldZoneID {
			hasRest = true
		}
	}
	if !hasRest {
		zones = append(zones, woocommerce.ShippingZone{ID: restOfWorldZoneID, Name: "Rest of the world"})
	}

	records := make([]zoneRecord, 0, len(zones))
	for _, z := range zones {
		rec := zoneRecord{Zone: z}
		if z.ID != restOfWorldZoneID {
			rec.Locations, err = c.zones.ListShippingZoneLocations(ctx, z.ID)
			if err != nil {
				return nil, fmt.Errorf("list locations for zone %d: %w", z.ID, err)
			}
		}
		rec.Methods, err = c.zones.ListShippingZoneMethods(ctx, z.ID)
		if err != nil {
			return nil, fmt.Errorf("list methods for zone %d: %w", z.ID, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// matchZone picks the first zone (by zone order) whose region and postcode
// rules both match, falling back to the rest-of-world zone.
func matchZone(zones []zoneRecord, addr Address) (zoneRecord, bool) {
	ordered := make([]zoneRecord, len(zones))
	copy(ordered, zones)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Zone.Order < ordered[j].Zone.Order })

	var fallback *zoneRecord
	for i := range ordered {
		z := ordered[i]
		if z.Zone.ID == restOfWorldZoneID {
			fallback = &ordered[i]
			continue
		}
		if z.matches(addr) {
			return z, true
		}
	}
	if fallback != nil && len(fallback.Methods) > 0 {
		return *fallback, true
	}
	return zoneRecord{}, false
}

func (z zoneRecord) matches(addr Address) bool {
	var regions, postcodes []woocommerce.ShippingZoneLocation
	for _, loc := range z.Locations {
		if loc.Type == "postcode" {
			postcodes = append(postcodes, loc)
		} else {
			regions = append(regions, loc)
		}
	}
	if len(regions) == 0 && len(postcodes) == 0 {
		return false
	}

	country := addr.CountryCode()
	regionOK := len(regions) == 0
	for _, loc := range regions {
		if matchRegion(loc, country) {
			regionOK = true
			break
		}
	}
	postcodeOK := len(postcodes) == 0
	for _, loc := range postcodes {
		if matchPostcode(loc.Code, addr.Postcode) {
			postcodeOK = true
			break
		}
	}
	return regionOK && postcodeOK
}

func matchRegion(loc woocommerce.ShippingZoneLocation, country string) bool {
	code := strings.ToUpper(strings.TrimSpace(loc.Code))
	switch loc.Type {
	case "country":
		return code == country
	case "state":
		c, _, _ := strings.Cut(code, ":")
		return c == country
	case "continent":
		return continentOf[country] == code
	}
	return false
}

// continentOf covers the countries the store ships to.
var continentOf = map[string]string{
	"SE": "EU", "NO": "EU", "DK": "EU", "FI": "EU", "IS": "EU", "DE": "EU",
	"NL": "EU", "BE": "EU", "FR": "EU", "PL": "EU", "EE": "EU", "LV": "EU",
	"LT": "EU", "AT": "EU", "ES": "EU", "IT": "EU", "IE": "EU", "GB": "EU",
	"US": "NA", "CA": "NA", "IN": "AS", "PK": "AS", "BD": "AS", "LK": "AS",
}

func sortedEnabled(methods []woocommerce.ShippingZoneMethod) []woocommerce.ShippingZoneMethod {
	out := make([]woocommerce.ShippingZoneMethod, 0, len(methods))
	for _, m := range methods {
		if m.Enabled {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}
