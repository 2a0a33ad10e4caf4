package shipping

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/idealindiska/livs-backend/pkg/redis"
	"github.com/idealindiska/livs-backend/pkg/woocommerce"
)

type fakeZones struct {
	zones     []woocommerce.ShippingZone
	locations map[int64][]woocommerce.ShippingZoneLocation
	methods   map[int64][]woocommerce.ShippingZoneMethod
	err       error
	listCalls int
}

func (f *fakeZones) ListShippingZones(context.Context) ([]woocommerce.ShippingZone, error) {
	f.listCalls++
	if f.err != nil {
		return nil, f.err
	}
	return f.zones, nil
}

func (f *fakeZones) ListShippingZoneLocations(_ context.Context, id int64) ([]woocommerce.ShippingZoneLocation, error) {
	return f.locations[id], nil
}

func (f *fakeZones) ListShippingZoneMethods(_ context.Context, id int64) ([]woocommerce.ShippingZoneMethod, error) {
	return f.methods[id], nil
}

type fakeCache struct {
	data map[string]string
	tags map[string][]string
}

func newFakeCache() *fakeCache {
	return &fakeCache{data: map[string]string{}, tags: map[string][]string{}}
}

func (f *fakeCache) Get(_ context.Context, key string) (string, error) {
	v, ok := f.data[key]
	if !ok {
		return "", redis.Nil
	}
	return v, nil
}

func (f *fakeCache) SetTagged(_ context.Context, key string, value any, _ time.Duration, tags ...string) error {
	f.data[key] = value.(string)
	for _, tag := range tags {
		f.tags[tag] = append(f.tags[tag], key)
	}
	return nil
}

func (f *fakeCache) CacheKey(parts ...string) string {
	out := "test"
	for _, p := range parts {
		out += ":" + p
	}
	return out
}

type staticChecker struct{ result Result }

func (s staticChecker) Check(context.Context, []Line, Address) Result { return s.result }

func setting(v string) woocommerce.MethodSetting {
	raw, _ := json.Marshal(v)
	return woocommerce.MethodSetting{Value: raw}
}

func swedishZones() *fakeZones {
	return &fakeZones{
		zones: []woocommerce.ShippingZone{
			{ID: 0, Name: "Rest of the world"},
			{ID: 2, Name: "Sweden", Order: 1},
			{ID: 1, Name: "Stockholm", Order: 0},
		},
		locations: map[int64][]woocommerce.ShippingZoneLocation{
			1: {{Code: "SE", Type: "country"}, {Code: "10000...19999", Type: "postcode"}},
			2: {{Code: "SE", Type: "country"}},
		},
		methods: map[int64][]woocommerce.ShippingZoneMethod{
			1: {
				{InstanceID: 11, Title: "Home delivery", Enabled: true, MethodID: "flat_rate", Order: 1, Settings: map[string]woocommerce.MethodSetting{"cost": setting("39")}},
				{InstanceID: 10, Title: "Free delivery", Enabled: true, MethodID: FreeShippingMethodID, Order: 0, Settings: map[string]woocommerce.MethodSetting{"requires": setting("min_amount"), "min_amount": setting("500")}},
				{InstanceID: 12, Title: "Disabled", Enabled: false, MethodID: "flat_rate", Settings: map[string]woocommerce.MethodSetting{"cost": setting("1")}},
			},
			2: {
				{InstanceID: 21, Title: "DHL Service Point", Enabled: true, MethodID: "flat_rate", Settings: map[string]woocommerce.MethodSetting{"cost": setting("79,00")}},
				{InstanceID: 22, Title: "Formula", Enabled: true, MethodID: "flat_rate", Order: 2, Settings: map[string]woocommerce.MethodSetting{"cost": setting("10 * [qty]")}},
			},
			0: {
				{InstanceID: 31, Title: "International", Enabled: true, MethodID: "flat_rate", Settings: map[string]woocommerce.MethodSetting{"cost": setting("299")}},
			},
		},
	}
}

func newTestCalculator(t *testing.T, zones *fakeZones, cache zoneCache) *Calculator {
	t.Helper()
	calc, err := NewCalculator(CalculatorParams{
		Zones:        zones,
		Restrictions: staticChecker{result: Result{Valid: true, Restricted: []RestrictedProduct{}}},
		Cache:        cache,
		CacheTTL:     time.Minute,
	})
	require.NoError(t, err)
	return calc
}

func TestQuoteStockholmZoneWithFreeThreshold(t *testing.T) {
	calc := newTestCalculator(t, swedishZones(), nil)

	quote, err := calc.Quote(context.Background(), QuoteRequest{
		Address:  Address{Postcode: "115 20", Country: "SE"},
		Subtotal: decimal.NewFromInt(480),
	})
	require.NoError(t, err)
	assert.Equal(t, "Stockholm", quote.Zone)
	require.Len(t, quote.Methods, 2)
	assert.Equal(t, "free_shipping:10", quote.Methods[0].ID)
	assert.True(t, quote.Methods[0].IsFree())
	assert.Equal(t, "flat_rate:11", quote.Methods[1].ID)
	assert.True(t, quote.Methods[1].Cost.Equal(decimal.NewFromInt(39)))
	assert.True(t, quote.FreeShippingThreshold.Equal(decimal.NewFromInt(500)))
	assert.True(t, quote.AmountToFreeShipping.Equal(decimal.NewFromInt(20)))
}

func TestQuoteFallsBackToCountryZoneAndSkipsFormulaCosts(t *testing.T) {
	calc := newTestCalculator(t, swedishZones(), nil)

	quote, err := calc.Quote(context.Background(), QuoteRequest{
		Address:  Address{Postcode: "411 01"},
		Subtotal: decimal.NewFromInt(800),
	})
	require.NoError(t, err)
	assert.Equal(t, "Sweden", quote.Zone)
	require.Len(t, quote.Methods, 1)
	assert.True(t, quote.Methods[0].Cost.Equal(decimal.NewFromInt(79)))
	assert.True(t, quote.FreeShippingThreshold.IsZero())
	assert.True(t, quote.AmountToFreeShipping.IsZero())
}

func TestQuoteRestOfWorld(t *testing.T) {
	calc := newTestCalculator(t, swedishZones(), nil)

	quote, err := calc.Quote(context.Background(), QuoteRequest{Address: Address{Postcode: "10115", Country: "DE"}})
	require.NoError(t, err)
	assert.Equal(t, "Rest of the world", quote.Zone)
	require.Len(t, quote.Methods, 1)
	assert.Equal(t, "flat_rate:31", quote.Methods[0].ID)
}

func TestQuoteAmountToFreeIsNeverNegative(t *testing.T) {
	calc := newTestCalculator(t, swedishZones(), nil)
	quote, err := calc.Quote(context.Background(), QuoteRequest{
		Address:  Address{Postcode: "115 20"},
		Subtotal: decimal.NewFromInt(520),
	})
	require.NoError(t, err)
	assert.True(t, quote.AmountToFreeShipping.IsZero())
}

func TestQuoteUsesZoneCache(t *testing.T) {
	zones := swedishZones()
	cache := newFakeCache()
	calc := newTestCalculator(t, zones, cache)

	for i := 0; i < 3; i++ {
		_, err := calc.Quote(context.Background(), QuoteRequest{Address: Address{Postcode: "115 20"}})
		require.NoError(t, err)
	}
	assert.Equal(t, 1, zones.listCalls)
	assert.Equal(t, []string{"test:shipping:zones"}, cache.tags[CacheTag])
}

func TestQuoteErrors(t *testing.T) {
	zones := swedishZones()
	zones.err = errors.New("timeout")
	calc := newTestCalculator(t, zones, nil)

	_, err := calc.Quote(context.Background(), QuoteRequest{Address: Address{Postcode: "115 20"}})
	assert.Error(t, err)

	_, err = calc.Quote(context.Background(), QuoteRequest{Address: Address{}})
	assert.Error(t, err)
}

func TestQuoteAttachesRestrictions(t *testing.T) {
	calc, err := NewCalculator(CalculatorParams{
		Zones: swedishZones(),
		Restrictions: staticChecker{result: Result{
			Valid:      false,
			Restricted: []RestrictedProduct{{ProductID: 1, ProductName: "Paneer", Reason: ReasonPerishable}},
		}},
	})
	require.NoError(t, err)

	quote, err := calc.Quote(context.Background(), QuoteRequest{Address: Address{Postcode: "411 01"}, Lines: []Line{{ProductID: 1, Quantity: 1}}})
	require.NoError(t, err)
	assert.False(t, quote.Restrictions.Valid)
	assert.Len(t, quote.Restrictions.Restricted, 1)
}

func TestFreeShippingRequiringCouponIsHidden(t *testing.T) {
	zones := swedishZones()
	zones.methods[1][1].Settings["requires"] = setting("coupon")
	calc := newTestCalculator(t, zones, nil)

	quote, err := calc.Quote(context.Background(), QuoteRequest{Address: Address{Postcode: "115 20"}})
	require.NoError(t, err)
	require.Len(t, quote.Methods, 1)
	assert.False(t, quote.Methods[0].IsFree())
}
