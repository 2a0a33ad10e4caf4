package shipping

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/idealindiska/livs-backend/pkg/woocommerce"
)

const (
	StockholmOnlyClass = "stockholm-only"
	RestrictionMetaKey = "_shipping_restriction"
	MetaStockholmOnly  = "stockholm_only"
	MetaSwedenOnly     = "sweden_only"

	ReasonStockholmOnly = "Only delivered within Stockholm (postcodes 100-199)"
	ReasonSwedenOnly    = "Only delivered within Sweden"
	ReasonPerishable    = "Fresh and perishable goods are only delivered within Stockholm"
)

// PerishableCategories are category slugs restricted to Stockholm delivery.
var PerishableCategories = []string{"perishable", "fresh-food", "catering"}

// ProductSource loads live product records.
type ProductSource interface {
	GetProduct(ctx context.Context, id int64) (*woocommerce.Product, error)
}

// Result is the outcome of a restriction check. Degraded marks a fail-open
// result: the check could not run and checkout is allowed regardless.
type Result struct {
	Valid      bool                `json:"valid"`
	Restricted []RestrictedProduct `json:"restricted_products"`
	Degraded   bool                `json:"degraded"`
	Cause      error               `json:"-"`
}

// Checker evaluates per-product delivery restrictions for a destination.
type Checker struct {
	products ProductSource
	limit    int
}

// NewChecker builds a checker fetching at most limit products concurrently.
func NewChecker(products ProductSource, limit int) *Checker {
	if limit <= 0 {
		limit = 4
	}
	return &Checker{products: products, limit: limit}
}

// Check fetches every line's product and evaluates the rules in order. Any
// fetch failure fails open with a degraded result.
func (c *Checker) Check(ctx context.Context, lines []Line, dest Address) Result {
	if len(lines) == 0 {
		return Result{Valid: true, Restricted: []RestrictedProduct{}}
	}
	if c == nil || c.products == nil {
		return degraded(fmt.Errorf("restriction checker not configured"))
	}

	products := make([]*woocommerce.Product, len(lines))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.limit)
	for i, line := range lines {
		i, line := i, line
		g.Go(func() error {
			p, err := c.products.GetProduct(gctx, line.ProductID)
			if err != nil {
				return fmt.Errorf("product %d: %w", line.ProductID, err)
			}
			products[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return degraded(err)
	}

	restricted := make([]RestrictedProduct, 0)
	for _, p := range products {
		restricted = append(restricted, Evaluate(*p, dest)...)
	}
	return Result{Valid: len(restricted) == 0, Restricted: restricted}
}

// Evaluate applies the shipping class, meta flag and category checks to one
// product. A product failing several checks gets one entry per check.
func Evaluate(p woocommerce.Product, dest Address) []RestrictedProduct {
	var out []RestrictedProduct
	inStockholm := dest.CountryCode() == defaultCountry && IsStockholmPostcode(dest.Postcode)

	if p.ShippingClass == StockholmOnlyClass && !inStockholm {
		out = append(out, restrictedEntry(p, ReasonStockholmOnly))
	}
	if flag, ok := p.Meta(RestrictionMetaKey); ok {
		switch flag {
		case MetaStockholmOnly:
			if !inStockholm {
				out = append(out, restrictedEntry(p, ReasonStockholmOnly))
			}
		case MetaSwedenOnly:
			if dest.CountryCode() != defaultCountry {
				out = append(out, restrictedEntry(p, ReasonSwedenOnly))
			}
		}
	}
	if p.HasCategory(PerishableCategories...) && !inStockholm {
		out = append(out, restrictedEntry(p, ReasonPerishable))
	}
	return out
}

func restrictedEntry(p woocommerce.Product, reason string) RestrictedProduct {
	return RestrictedProduct{ProductID: p.ID, ProductName: p.Name, Reason: reason}
}

func degraded(cause error) Result {
	return Result{Valid: true, Restricted: []RestrictedProduct{}, Degraded: true, Cause: cause}
}
