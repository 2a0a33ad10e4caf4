package woocommerce

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Price is a WooCommerce decimal string such as "49.00". WooCommerce sends an
// empty string when a price is not set; that decodes to an invalid Price.
type Price struct {
	Amount decimal.Decimal
	Valid  bool
}

// NewPrice returns a valid price for amount.
func NewPrice(amount decimal.Decimal) Price {
	return Price{Amount: amount, Valid: true}
}

// MustPrice parses s and panics on malformed input. Intended for fixtures.
func MustPrice(s string) Price {
	p, err := ParsePrice(s)
	if err != nil {
		panic(err)
	}
	return p
}

// ParsePrice parses a WooCommerce price string.
func ParsePrice(s string) (Price, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Price{}, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Price{}, fmt.Errorf("malformed price %q: %w", s, err)
	}
	if d.IsNegative() {
		return Price{}, fmt.Errorf("negative price %q", s)
	}
	return Price{Amount: d, Valid: true}, nil
}

// Or returns the price amount, or fallback when unset.
func (p Price) Or(fallback decimal.Decimal) decimal.Decimal {
	if !p.Valid {
		return fallback
	}
	return p.Amount
}

func (p Price) String() string {
	if !p.Valid {
		return ""
	}
	return p.Amount.StringFixed(2)
}

func (p Price) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

func (p *Price) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*p = Price{}
		return nil
	}
	var raw string
	if len(data) > 0 && data[0] == '"' {
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
	} else {
		raw = string(data)
	}
	parsed, err := ParsePrice(raw)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

type Category struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

type Image struct {
	ID  int64  `json:"id,omitempty"`
	Src string `json:"src"`
	Alt string `json:"alt,omitempty"`
}

// MetaData is a WooCommerce meta entry. Values are arbitrary JSON.
type MetaData struct {
	ID    int64           `json:"id,omitempty"`
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

// StringMeta builds a meta entry holding a string value.
func StringMeta(key, value string) MetaData {
	raw, _ := json.Marshal(value)
	return MetaData{Key: key, Value: raw}
}

// StringValue returns the value when it is a JSON string (or scalar).
func (m MetaData) StringValue() string {
	return rawString(m.Value)
}

type Attribute struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Option string `json:"option"`
}

type Product struct {
	ID            int64      `json:"id"`
	Name          string     `json:"name"`
	Slug          string     `json:"slug"`
	SKU           string     `json:"sku"`
	Type          string     `json:"type"`
	Status        string     `json:"status"`
	Price         Price      `json:"price"`
	RegularPrice  Price      `json:"regular_price"`
	SalePrice     Price      `json:"sale_price"`
	OnSale        bool       `json:"on_sale"`
	StockStatus   string     `json:"stock_status"`
	StockQuantity *int       `json:"stock_quantity"`
	ShippingClass string     `json:"shipping_class"`
	Categories    []Category `json:"categories"`
	Images        []Image    `json:"images"`
	MetaData      []MetaData `json:"meta_data"`
	Variations    []int64    `json:"variations,omitempty"`
}

// Meta returns the string value of the first meta entry with key.
func (p Product) Meta(key string) (string, bool) {
	for _, m := range p.MetaData {
		if m.Key == key {
			return m.StringValue(), true
		}
	}
	return "", false
}

// HasCategory reports whether any product category slug is in slugs.
func (p Product) HasCategory(slugs ...string) bool {
	for _, c := range p.Categories {
		for _, s := range slugs {
			if strings.EqualFold(c.Slug, s) {
				return true
			}
		}
	}
	return false
}

// CategoryIDs lists the ids of the product categories.
func (p Product) CategoryIDs() []int64 {
	ids := make([]int64, 0, len(p.Categories))
	for _, c := range p.Categories {
		ids = append(ids, c.ID)
	}
	return ids
}

type Variation struct {
	ID            int64       `json:"id"`
	SKU           string      `json:"sku"`
	Price         Price       `json:"price"`
	RegularPrice  Price       `json:"regular_price"`
	SalePrice     Price       `json:"sale_price"`
	OnSale        bool        `json:"on_sale"`
	StockStatus   string      `json:"stock_status"`
	StockQuantity *int        `json:"stock_quantity"`
	ShippingClass string      `json:"shipping_class"`
	Attributes    []Attribute `json:"attributes"`
	Image         *Image      `json:"image,omitempty"`
}

// Label joins the variation attribute options, e.g. "1 kg / Organic".
func (v Variation) Label() string {
	opts := make([]string, 0, len(v.Attributes))
	for _, a := range v.Attributes {
		if a.Option != "" {
			opts = append(opts, a.Option)
		}
	}
	return strings.Join(opts, " / ")
}

type Address struct {
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Company   string `json:"company,omitempty"`
	Address1  string `json:"address_1,omitempty"`
	Address2  string `json:"address_2,omitempty"`
	City      string `json:"city,omitempty"`
	State     string `json:"state,omitempty"`
	Postcode  string `json:"postcode,omitempty"`
	Country   string `json:"country,omitempty"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
}

type OrderLineItem struct {
	ID          int64  `json:"id,omitempty"`
	Name        string `json:"name,omitempty"`
	ProductID   int64  `json:"product_id"`
	VariationID int64  `json:"variation_id,omitempty"`
	Quantity    int    `json:"quantity"`
	Subtotal    string `json:"subtotal,omitempty"`
	Total       string `json:"total,omitempty"`
}

type ShippingLine struct {
	ID          int64  `json:"id,omitempty"`
	MethodID    string `json:"method_id"`
	MethodTitle string `json:"method_title"`
	Total       string `json:"total"`
}

type CouponLine struct {
	Code string `json:"code"`
}

type Order struct {
	ID                 int64           `json:"id"`
	OrderKey           string          `json:"order_key"`
	Number             string          `json:"number"`
	Status             string          `json:"status"`
	Currency           string          `json:"currency"`
	Total              Price           `json:"total"`
	ShippingTotal      Price           `json:"shipping_total"`
	PaymentMethod      string          `json:"payment_method"`
	PaymentMethodTitle string          `json:"payment_method_title"`
	TransactionID      string          `json:"transaction_id"`
	CustomerNote       string          `json:"customer_note"`
	Billing            Address         `json:"billing"`
	Shipping           Address         `json:"shipping"`
	LineItems          []OrderLineItem `json:"line_items"`
	ShippingLines      []ShippingLine  `json:"shipping_lines"`
	MetaData           []MetaData      `json:"meta_data"`
	DateCreated        string          `json:"date_created"`
}

// NewOrder is the POST /orders payload.
type NewOrder struct {
	PaymentMethod      string          `json:"payment_method"`
	PaymentMethodTitle string          `json:"payment_method_title"`
	SetPaid            bool            `json:"set_paid"`
	Status             string          `json:"status,omitempty"`
	Currency           string          `json:"currency,omitempty"`
	CustomerNote       string          `json:"customer_note,omitempty"`
	Billing            Address         `json:"billing"`
	Shipping           Address         `json:"shipping"`
	LineItems          []OrderLineItem `json:"line_items"`
	ShippingLines      []ShippingLine  `json:"shipping_lines,omitempty"`
	CouponLines        []CouponLine    `json:"coupon_lines,omitempty"`
	MetaData           []MetaData      `json:"meta_data,omitempty"`
}

// OrderUpdate is the PUT /orders/{id} payload. Zero fields are omitted.
type OrderUpdate struct {
	Status        string     `json:"status,omitempty"`
	SetPaid       *bool      `json:"set_paid,omitempty"`
	TransactionID string     `json:"transaction_id,omitempty"`
	MetaData      []MetaData `json:"meta_data,omitempty"`
}

type OrderNote struct {
	ID           int64  `json:"id,omitempty"`
	Note         string `json:"note"`
	CustomerNote bool   `json:"customer_note"`
}

type ShippingZone struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Order int    `json:"order"`
}

// ShippingZoneLocation types are "postcode", "country", "state" and "continent".
type ShippingZoneLocation struct {
	Code string `json:"code"`
	Type string `json:"type"`
}

type MethodSetting struct {
	ID    string          `json:"id"`
	Label string          `json:"label"`
	Value json.RawMessage `json:"value"`
}

type ShippingZoneMethod struct {
	InstanceID  int64                    `json:"instance_id"`
	Title       string                   `json:"title"`
	Order       int                      `json:"order"`
	Enabled     bool                     `json:"enabled"`
	MethodID    string                   `json:"method_id"`
	MethodTitle string                   `json:"method_title"`
	Settings    map[string]MethodSetting `json:"settings"`
}

// Setting returns the string value of a method setting.
func (m ShippingZoneMethod) Setting(key string) string {
	s, ok := m.Settings[key]
	if !ok {
		return ""
	}
	return rawString(s.Value)
}

type PaymentGateway struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Enabled     bool   `json:"enabled"`
	MethodTitle string `json:"method_title"`
}

type Coupon struct {
	ID                 int64    `json:"id"`
	Code               string   `json:"code"`
	Amount             Price    `json:"amount"`
	DiscountType       string   `json:"discount_type"`
	DateExpires        *string  `json:"date_expires"`
	UsageCount         int      `json:"usage_count"`
	UsageLimit         *int     `json:"usage_limit"`
	MinimumAmount      Price    `json:"minimum_amount"`
	MaximumAmount      Price    `json:"maximum_amount"`
	ProductIDs         []int64  `json:"product_ids"`
	ExcludedProductIDs []int64  `json:"excluded_product_ids"`
	EmailRestrictions  []string `json:"email_restrictions"`
}

type Setting struct {
	ID    string          `json:"id"`
	Label string          `json:"label"`
	Value json.RawMessage `json:"value"`
}

// StringValue returns the setting value when it is a string.
func (s Setting) StringValue() string {
	return rawString(s.Value)
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func rawString(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
		return ""
	}
	if raw[0] == '{' || raw[0] == '[' {
		return ""
	}
	return string(raw)
}
