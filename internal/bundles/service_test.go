package bundles

import (
	"context"
	"io"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/idealindiska/livs-backend/internal/cart"
	pkgerrors "github.com/idealindiska/livs-backend/pkg/errors"
	"github.com/idealindiska/livs-backend/pkg/logger"
	"github.com/idealindiska/livs-backend/pkg/woocommerce"
)

type stubProducts map[int64]woocommerce.Product

func (s stubProducts) GetProduct(_ context.Context, id int64) (*woocommerce.Product, error) {
	p, ok := s[id]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "product not found")
	}
	return &p, nil
}

type recordingCart struct {
	session string
	lines   []cart.ProductLine
}

func (r *recordingCart) AddProducts(_ context.Context, session string, lines []cart.ProductLine) (*cart.View, error) {
	r.session = session
	r.lines = lines
	store := cart.NewStore(nil)
	for _, l := range lines {
		store.AddBundleItem(l.Bundle, l.Part, l.Product, l.Quantity)
	}
	return store.View(), nil
}

func newBundleService(t *testing.T, products stubProducts, rc *recordingCart) Service {
	t.Helper()
	svc, err := NewService(ServiceParams{
		Offers: []Offer{
			{ID: "curry-kit", Title: "Curry kit", Items: []Item{{ProductID: 1, Quantity: 1}, {ProductID: 2, Quantity: 1}}, FixedPrice: decPtr("80")},
			{ID: "no-deal", Title: "No deal", Items: []Item{{ProductID: 1, Quantity: 1}}},
			{ID: "broken", Title: "Broken", Items: []Item{{ProductID: 99, Quantity: 1}}, Savings: decPtr("5")},
		},
		Products:   products,
		Cart:       rc,
		FetchLimit: 2,
		Logger:     logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
	})
	require.NoError(t, err)
	return svc
}

func TestListSkipsHiddenAndBrokenOffers(t *testing.T) {
	svc := newBundleService(t, stubProducts{1: productAt(1, "40"), 2: productAt(2, "60")}, &recordingCart{})

	offers, err := svc.List(context.Background())
	require.NoError(t, err)
	require.Len(t, offers, 1)
	assert.Equal(t, "curry-kit", offers[0].Offer.ID)
	assert.True(t, offers[0].Savings.Equal(decimal.NewFromInt(20)))
}

func TestAddToCartUsesAllocatedPrices(t *testing.T) {
	rc := &recordingCart{}
	svc := newBundleService(t, stubProducts{1: productAt(1, "40"), 2: productAt(2, "60")}, rc)

	view, err := svc.AddToCart(context.Background(), "sess", "curry-kit")
	require.NoError(t, err)
	assert.Equal(t, "sess", rc.session)
	require.Len(t, rc.lines, 2)
	assert.Equal(t, "curry-kit", rc.lines[0].Bundle)
	require.Len(t, view.Items, 2)
	assert.Equal(t, "1~curry-kit", view.Items[0].Key)
	assert.True(t, view.Items[0].UnitPrice.Equal(decimal.NewFromInt(32)))
	assert.True(t, view.Items[1].UnitPrice.Equal(decimal.NewFromInt(48)))
	assert.True(t, view.Subtotal.Equal(decimal.NewFromInt(80)))
}

func TestAddToCartErrors(t *testing.T) {
	soldOut := productAt(2, "60")
	soldOut.StockStatus = "outofstock"
	svc := newBundleService(t, stubProducts{1: productAt(1, "40"), 2: soldOut}, &recordingCart{})
	ctx := context.Background()

	_, err := svc.AddToCart(ctx, "s", "unknown")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	_, err = svc.AddToCart(ctx, "s", "no-deal")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	_, err = svc.AddToCart(ctx, "s", "curry-kit")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict))

	_, err = svc.AddToCart(ctx, "s", "broken")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}
