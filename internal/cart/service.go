package cart

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/idealindiska/livs-backend/internal/shipping"
	pkgerrors "github.com/idealindiska/livs-backend/pkg/errors"
	"github.com/idealindiska/livs-backend/pkg/logger"
	"github.com/idealindiska/livs-backend/pkg/woocommerce"
)

type productLoader interface {
	GetProduct(ctx context.Context, id int64) (*woocommerce.Product, error)
	GetVariation(ctx context.Context, productID, variationID int64) (*woocommerce.Variation, error)
}

type snapshotRepository interface {
	Load(ctx context.Context, sessionID string) (Snapshot, error)
	Save(ctx context.Context, sessionID string, snap Snapshot) error
}

// Service exposes session-scoped cart operations to HTTP controllers.
type Service interface {
	Get(ctx context.Context, session string) (*View, error)
	AddItem(ctx context.Context, session string, input AddItemInput) (*View, error)
	AddProducts(ctx context.Context, session string, lines []ProductLine) (*View, error)
	UpdateQuantity(ctx context.Context, session, key string, quantity int) (*View, error)
	RemoveItem(ctx context.Context, session, key string) (*View, error)
	Clear(ctx context.Context, session string) (*View, error)
	SetShippingAddress(ctx context.Context, session string, addr shipping.Address) (*View, error)
	CalculateShipping(ctx context.Context, session string) (*View, error)
	SelectShippingMethod(ctx context.Context, session, methodID string) (*View, error)
	ClearShipping(ctx context.Context, session string) (*View, error)
	Load(ctx context.Context, session string) (*Store, error)
	Save(ctx context.Context, session string, store *Store) error
}

// AddItemInput is the add-to-cart payload. Quantity defaults to 1.
type AddItemInput struct {
	ProductID   int64 `json:"product_id" validate:"required,gt=0"`
	VariationID int64 `json:"variation_id" validate:"omitempty,gt=0"`
	Quantity    int   `json:"quantity" validate:"omitempty,gt=0,lte=999"`
}

// ProductLine adds an already resolved product snapshot, e.g. a bundle line
// carrying its allocated price. Lines with a Bundle id become bundle lines.
type ProductLine struct {
	Product   woocommerce.Product
	Variation *woocommerce.Variation
	Quantity  int
	Bundle    string
	Part      int
}

// ServiceParams wires the cart service.
type ServiceParams struct {
	Repo     snapshotRepository
	Products productLoader
	Policy   QuantityPolicy
	Quoter   ShippingQuoter
	Logger   *logger.Logger
}

type service struct {
	repo     snapshotRepository
	products productLoader
	policy   QuantityPolicy
	quoter   ShippingQuoter
	logg     *logger.Logger
}

// NewService builds a cart service backed by the provided stack.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("cart repository required")
	}
	if params.Products == nil {
		return nil, fmt.Errorf("product loader required")
	}
	if params.Quoter == nil {
		return nil, fmt.Errorf("shipping quoter required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		repo:     params.Repo,
		products: params.Products,
		policy:   params.Policy,
		quoter:   params.Quoter,
		logg:     params.Logger,
	}, nil
}

func (s *service) Get(ctx context.Context, session string) (*View, error) {
	store, err := s.Load(ctx, session)
	if err != nil {
		return nil, err
	}
	return store.View(), nil
}

func (s *service) AddItem(ctx context.Context, session string, input AddItemInput) (*View, error) {
	if input.ProductID <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "product_id is required")
	}
	quantity := input.Quantity
	if quantity <= 0 {
		quantity = 1
	}

	product, err := s.products.GetProduct(ctx, input.ProductID)
	if err != nil {
		return nil, err
	}
	if product.Type == "variable" && input.VariationID == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "variation_id is required for variable products")
	}
	var variation *woocommerce.Variation
	if input.VariationID > 0 {
		variation, err = s.products.GetVariation(ctx, input.ProductID, input.VariationID)
		if err != nil {
			return nil, err
		}
	}
	if err := purchasable(*product, variation); err != nil {
		return nil, err
	}

	return s.mutate(ctx, session, true, func(store *Store) error {
		store.AddItem(*product, quantity, variation)
		return nil
	})
}

func (s *service) AddProducts(ctx context.Context, session string, lines []ProductLine) (*View, error) {
	if len(lines) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "no products to add")
	}
	return s.mutate(ctx, session, true, func(store *Store) error {
		for _, line := range lines {
			if line.Bundle != "" {
				store.AddBundleItem(line.Bundle, line.Part, line.Product, line.Quantity)
				continue
			}
			store.AddItem(line.Product, line.Quantity, line.Variation)
		}
		return nil
	})
}

func (s *service) UpdateQuantity(ctx context.Context, session, key string, quantity int) (*View, error) {
	return s.mutate(ctx, session, true, func(store *Store) error {
		if item, ok := store.Item(key); ok && item.Bundle != "" && quantity > 0 {
			return pkgerrors.New(pkgerrors.CodeConflict, "bundle items can only be removed")
		}
		if !store.UpdateQuantity(key, quantity) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "cart item not found")
		}
		return nil
	})
}

func (s *service) RemoveItem(ctx context.Context, session, key string) (*View, error) {
	return s.mutate(ctx, session, true, func(store *Store) error {
		store.RemoveItem(key)
		return nil
	})
}

func (s *service) Clear(ctx context.Context, session string) (*View, error) {
	return s.mutate(ctx, session, false, func(store *Store) error {
		store.ClearCart()
		return nil
	})
}

func (s *service) SetShippingAddress(ctx context.Context, session string, addr shipping.Address) (*View, error) {
	if strings.TrimSpace(addr.Postcode) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "postcode is required")
	}
	return s.mutate(ctx, session, false, func(store *Store) error {
		ticket := store.SetShippingAddress(addr)
		s.await(ctx, ticket)
		return nil
	})
}

func (s *service) CalculateShipping(ctx context.Context, session string) (*View, error) {
	return s.mutate(ctx, session, true, func(*Store) error { return nil })
}

func (s *service) SelectShippingMethod(ctx context.Context, session, methodID string) (*View, error) {
	return s.mutate(ctx, session, false, func(store *Store) error {
		for _, m := range store.AvailableShippingMethods() {
			if m.ID != methodID {
				continue
			}
			threshold := store.FreeShippingThreshold()
			if m.IsFree() && store.Subtotal().LessThan(threshold) {
				return pkgerrors.New(pkgerrors.CodeValidation,
					fmt.Sprintf("free shipping requires a subtotal of at least %s", threshold.StringFixed(2)))
			}
			store.SelectShippingMethod(m)
			return nil
		}
		return pkgerrors.New(pkgerrors.CodeNotFound, "shipping method not available")
	})
}

func (s *service) ClearShipping(ctx context.Context, session string) (*View, error) {
	return s.mutate(ctx, session, false, func(store *Store) error {
		store.ClearShipping()
		return nil
	})
}

// Load restores the session cart into a fresh store.
func (s *service) Load(ctx context.Context, session string) (*Store, error) {
	snap, err := s.repo.Load(ctx, session)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart")
	}
	store := NewStore(s.policy)
	store.Restore(snap)
	return store, nil
}

func (s *service) Save(ctx context.Context, session string, store *Store) error {
	err := s.repo.Save(ctx, session, store.Snapshot())
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrStaleCart):
		return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "cart was updated by another request")
	default:
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save cart")
	}
}

// mutateAttempts bounds the reload-and-reapply loop on concurrent writes.
const mutateAttempts = 3

// mutate loads the cart, applies fn, optionally re-quotes shipping for the
// new contents and persists the result. A save that lost against a
// concurrent request is retried on a fresh copy of the cart.
func (s *service) mutate(ctx context.Context, session string, recalc bool, fn func(*Store) error) (*View, error) {
	ctx = s.logg.WithCartSession(ctx, session)
	var err error
	for attempt := 1; attempt <= mutateAttempts; attempt++ {
		var store *Store
		store, err = s.Load(ctx, session)
		if err != nil {
			return nil, err
		}
		if err := fn(store); err != nil {
			return nil, err
		}
		if recalc {
			s.await(ctx, store.BeginShipping())
		}
		err = s.Save(ctx, session, store)
		if err == nil {
			return store.View(), nil
		}
		if !errors.Is(err, ErrStaleCart) {
			return nil, err
		}
		s.logg.Debug(s.logg.WithField(ctx, "attempt", attempt), "cart.save.stale")
	}
	return nil, err
}

func (s *service) await(ctx context.Context, ticket *ShippingTicket) {
	applied, err := ticket.Await(ctx, s.quoter)
	if err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "cart.shipping.calculate_failed")
		return
	}
	if !applied && ticket.Ready() {
		s.logg.Debug(ctx, "cart.shipping.stale_quote_discarded")
	}
}

func purchasable(product woocommerce.Product, variation *woocommerce.Variation) error {
	status := product.StockStatus
	if variation != nil && variation.StockStatus != "" {
		status = variation.StockStatus
	}
	if status == "outofstock" {
		return pkgerrors.New(pkgerrors.CodeConflict, fmt.Sprintf("%s is out of stock", product.Name))
	}
	if product.Status != "" && product.Status != "publish" {
		return pkgerrors.New(pkgerrors.CodeNotFound, "product not found")
	}
	return nil
}
