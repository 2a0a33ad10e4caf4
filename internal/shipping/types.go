package shipping

import (
	"strings"

	"github.com/shopspring/decimal"
)

// FreeShippingMethodID is the WooCommerce method id of free shipping rates.
const FreeShippingMethodID = "free_shipping"

const defaultCountry = "SE"

// Address is the shopper supplied destination. It is replaced wholesale.
type Address struct {
	Postcode string `json:"postcode" validate:"required,max=16"`
	City     string `json:"city" validate:"max=100"`
	Country  string `json:"country" validate:"omitempty,len=2"`
}

// CountryCode returns the upper-cased country, defaulting to Sweden.
func (a Address) CountryCode() string {
	c := strings.ToUpper(strings.TrimSpace(a.Country))
	if c == "" {
		return defaultCountry
	}
	return c
}

// Method is one shipping rate offered for a destination.
type Method struct {
	ID        string          `json:"id"`
	MethodID  string          `json:"method_id"`
	Label     string          `json:"label"`
	Cost      decimal.Decimal `json:"cost"`
	TotalCost decimal.Decimal `json:"total_cost"`
}

// IsFree reports whether the method is the free-shipping rate.
func (m Method) IsFree() bool {
	return m.MethodID == FreeShippingMethodID
}

// RestrictedProduct names a product that cannot ship to the destination.
type RestrictedProduct struct {
	ProductID   int64  `json:"product_id"`
	ProductName string `json:"product_name"`
	Reason      string `json:"reason"`
}

// Line is the shipping view of a cart line.
type Line struct {
	ProductID   int64           `json:"product_id" validate:"required,gt=0"`
	VariationID int64           `json:"variation_id,omitempty"`
	Quantity    int             `json:"quantity" validate:"required,gt=0"`
	LineTotal   decimal.Decimal `json:"line_total"`
}

// QuoteRequest is the input of a shipping calculation.
type QuoteRequest struct {
	Address  Address         `json:"address"`
	Lines    []Line          `json:"lines"`
	Subtotal decimal.Decimal `json:"subtotal"`
}

// Quote is the result of a shipping calculation.
type Quote struct {
	Zone                  string          `json:"zone"`
	Methods               []Method        `json:"methods"`
	Restrictions          Result          `json:"restrictions"`
	FreeShippingThreshold decimal.Decimal `json:"free_shipping_threshold"`
	AmountToFreeShipping  decimal.Decimal `json:"amount_to_free_shipping"`
}
