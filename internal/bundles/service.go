package bundles

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/idealindiska/livs-backend/internal/cart"
	pkgerrors "github.com/idealindiska/livs-backend/pkg/errors"
	"github.com/idealindiska/livs-backend/pkg/logger"
	"github.com/idealindiska/livs-backend/pkg/woocommerce"
)

type productSource interface {
	GetProduct(ctx context.Context, id int64) (*woocommerce.Product, error)
}

type cartAdder interface {
	AddProducts(ctx context.Context, session string, lines []cart.ProductLine) (*cart.View, error)
}

// Service resolves bundle offers against live products and adds them to carts.
type Service interface {
	List(ctx context.Context) ([]Resolved, error)
	Get(ctx context.Context, id string) (*Resolved, error)
	AddToCart(ctx context.Context, session, offerID string) (*cart.View, error)
}

// ServiceParams wires the bundle service.
type ServiceParams struct {
	Offers     []Offer
	Products   productSource
	Cart       cartAdder
	FetchLimit int
	Logger     *logger.Logger
}

type service struct {
	offers   []Offer
	byID     map[string]Offer
	products productSource
	cart     cartAdder
	limit    int
	logg     *logger.Logger
}

func NewService(params ServiceParams) (Service, error) {
	if params.Products == nil {
		return nil, fmt.Errorf("product source required")
	}
	if params.Cart == nil {
		return nil, fmt.Errorf("cart service required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	limit := params.FetchLimit
	if limit <= 0 {
		limit = 4
	}
	byID := make(map[string]Offer, len(params.Offers))
	for _, o := range params.Offers {
		byID[o.ID] = o
	}
	return &service{
		offers:   params.Offers,
		byID:     byID,
		products: params.Products,
		cart:     params.Cart,
		limit:    limit,
		logg:     params.Logger,
	}, nil
}

// List returns the visible offers. Offers whose products cannot be loaded are
// left out.
func (s *service) List(ctx context.Context) ([]Resolved, error) {
	out := make([]Resolved, 0, len(s.offers))
	for _, offer := range s.offers {
		res, err := s.resolve(ctx, offer)
		if err != nil {
			s.logg.Warn(s.logg.WithFields(ctx, map[string]any{"bundle_id": offer.ID, "error": err.Error()}), "bundles.resolve_failed")
			continue
		}
		if res.Visible() {
			out = append(out, *res)
		}
	}
	return out, nil
}

func (s *service) Get(ctx context.Context, id string) (*Resolved, error) {
	offer, ok := s.byID[id]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "bundle not found")
	}
	res, err := s.resolve(ctx, offer)
	if err != nil {
		return nil, err
	}
	if !res.Visible() {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "bundle not found")
	}
	return res, nil
}

// AddToCart allocates the bundle price and adds every line to the session cart.
func (s *service) AddToCart(ctx context.Context, session, offerID string) (*cart.View, error) {
	res, err := s.Get(ctx, offerID)
	if err != nil {
		return nil, err
	}
	for _, line := range res.Lines {
		if line.Product.StockStatus == "outofstock" {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, fmt.Sprintf("%s is out of stock", line.Product.Name))
		}
	}
	allocations, err := Allocate(res)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "bundle cannot be priced")
	}

	lines := make([]cart.ProductLine, 0, len(allocations))
	for _, a := range allocations {
		lines = append(lines, cart.ProductLine{Product: a.Product, Quantity: a.Quantity, Bundle: res.Offer.ID, Part: a.Part})
	}
	return s.cart.AddProducts(ctx, session, lines)
}

func (s *service) resolve(ctx context.Context, offer Offer) (*Resolved, error) {
	products, err := s.fetch(ctx, offer)
	if err != nil {
		return nil, err
	}
	return Resolve(offer, products)
}

func (s *service) fetch(ctx context.Context, offer Offer) (map[int64]woocommerce.Product, error) {
	var mu sync.Mutex
	products := make(map[int64]woocommerce.Product, len(offer.Items))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.limit)
	for _, item := range offer.Items {
		id := item.ProductID
		g.Go(func() error {
			p, err := s.products.GetProduct(gctx, id)
			if err != nil {
				return err
			}
			mu.Lock()
			products[id] = *p
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return products, nil
}
