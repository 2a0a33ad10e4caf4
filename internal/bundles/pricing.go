package bundles

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/idealindiska/livs-backend/pkg/woocommerce"
)

const pricePlaces = 2

// Line is a bundle item resolved against its live product.
type Line struct {
	Product   woocommerce.Product `json:"product"`
	Quantity  int                 `json:"quantity"`
	UnitPrice decimal.Decimal     `json:"unit_price"`
}

// Resolved is an offer priced against live products.
type Resolved struct {
	Offer         Offer           `json:"offer"`
	Lines         []Line          `json:"lines"`
	OriginalTotal decimal.Decimal `json:"original_total"`
	BundlePrice   decimal.Decimal `json:"bundle_price"`
	Savings       decimal.Decimal `json:"savings"`
}

// Visible reports whether the offer should be shown: it needs a positive
// saving or an explicit fixed price.
func (r Resolved) Visible() bool {
	return r.Offer.FixedPrice != nil || r.Savings.IsPositive()
}

// Resolve prices the offer with each product's regular price (or current
// price when no regular price is set).
func Resolve(offer Offer, products map[int64]woocommerce.Product) (*Resolved, error) {
	res := &Resolved{Offer: offer, Lines: make([]Line, 0, len(offer.Items))}
	total := decimal.Zero
	for _, item := range offer.Items {
		p, ok := products[item.ProductID]
		if !ok {
			return nil, fmt.Errorf("bundle %s: product %d not loaded", offer.ID, item.ProductID)
		}
		unit := p.RegularPrice.Or(p.Price.Or(decimal.Zero))
		res.Lines = append(res.Lines, Line{Product: p, Quantity: item.Quantity, UnitPrice: unit})
		total = total.Add(unit.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	res.OriginalTotal = total

	switch {
	case offer.FixedPrice != nil:
		res.BundlePrice = *offer.FixedPrice
	case offer.Savings != nil:
		res.BundlePrice = total.Sub(*offer.Savings)
	default:
		res.BundlePrice = total
	}
	res.Savings = total.Sub(res.BundlePrice)
	return res, nil
}

// Allocation is a bundle line carrying its share of the bundle price. Part
// tells apart the split lines of one product; see Allocate.
type Allocation struct {
	Product   woocommerce.Product
	Quantity  int
	UnitPrice decimal.Decimal
	Part      int
}

// LineTotal is unit price times quantity.
func (a Allocation) LineTotal() decimal.Decimal {
	return a.UnitPrice.Mul(decimal.NewFromInt(int64(a.Quantity)))
}

// Allocate spreads the bundle price across the lines in proportion to their
// original price, rounded to two decimals. One line absorbs the residual so
// the line totals add up to the bundle price: the last single-unit line, or
// the last line when every quantity is above one. A multi-unit absorber that
// cannot carry the residual evenly is split into a line at the rounded-down
// unit price and a single unit holding the leftover cents.
// The returned product snapshots carry the allocated price and are on sale.
func Allocate(r *Resolved) ([]Allocation, error) {
	if r == nil || len(r.Lines) == 0 {
		return nil, fmt.Errorf("bundle has no lines")
	}
	if !r.OriginalTotal.IsPositive() {
		return nil, fmt.Errorf("bundle %s has no original total", r.Offer.ID)
	}
	if r.BundlePrice.IsNegative() {
		return nil, fmt.Errorf("bundle %s price is negative", r.Offer.ID)
	}

	absorber := len(r.Lines) - 1
	for i := len(r.Lines) - 1; i >= 0; i-- {
		if r.Lines[i].Quantity == 1 {
			absorber = i
			break
		}
	}

	ratio := r.BundlePrice.Div(r.OriginalTotal)
	out := make([]Allocation, len(r.Lines), len(r.Lines)+1)
	allocated := decimal.Zero
	for i, line := range r.Lines {
		if i == absorber {
			continue
		}
		out[i] = allocation(line, line.UnitPrice.Mul(ratio).Round(pricePlaces))
		allocated = allocated.Add(out[i].LineTotal())
	}

	tail := r.Lines[absorber]
	remaining := r.BundlePrice.Sub(allocated)
	if remaining.IsNegative() {
		return nil, fmt.Errorf("bundle %s allocation overran the bundle price", r.Offer.ID)
	}
	qty := decimal.NewFromInt(int64(tail.Quantity))
	unit := remaining.Div(qty).RoundFloor(pricePlaces)
	leftover := remaining.Sub(unit.Mul(qty))
	out[absorber] = allocation(tail, unit)
	if leftover.IsZero() {
		return out, nil
	}
	out[absorber].Quantity--
	odd := allocation(tail, unit.Add(leftover))
	odd.Quantity, odd.Part = 1, 1
	return append(out, odd), nil
}

func allocation(line Line, unit decimal.Decimal) Allocation {
	p := line.Product
	p.Price = woocommerce.NewPrice(unit)
	p.SalePrice = woocommerce.NewPrice(unit)
	p.OnSale = true
	return Allocation{Product: p, Quantity: line.Quantity, UnitPrice: unit}
}
