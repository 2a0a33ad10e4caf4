package checkout

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v84"

	"github.com/idealindiska/livs-backend/internal/cart"
	"github.com/idealindiska/livs-backend/internal/catalog"
	"github.com/idealindiska/livs-backend/internal/shipping"
	"github.com/idealindiska/livs-backend/pkg/db/models"
	pkgerrors "github.com/idealindiska/livs-backend/pkg/errors"
	"github.com/idealindiska/livs-backend/pkg/logger"
	stripeclient "github.com/idealindiska/livs-backend/pkg/stripe"
	"github.com/idealindiska/livs-backend/pkg/types"
	"github.com/idealindiska/livs-backend/pkg/woocommerce"
)

type fakeOrders struct {
	created   []woocommerce.NewOrder
	createErr error
	updates   map[int64][]woocommerce.OrderUpdate
	updateErr error
	statuses  map[int64]string
	notes     map[int64][]string
	nextID    int64
	total     string
}

func newFakeOrders() *fakeOrders {
	return &fakeOrders{
		updates:  map[int64][]woocommerce.OrderUpdate{},
		statuses: map[int64]string{},
		notes:    map[int64][]string{},
		nextID:   1234,
	}
}

func (f *fakeOrders) CreateOrder(_ context.Context, order woocommerce.NewOrder) (*woocommerce.Order, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created = append(f.created, order)
	out := &woocommerce.Order{ID: f.nextID, OrderKey: "wc_order_abc", Status: order.Status}
	if f.total != "" {
		out.Total = woocommerce.MustPrice(f.total)
	}
	return out, nil
}

func (f *fakeOrders) UpdateOrder(_ context.Context, id int64, update woocommerce.OrderUpdate) (*woocommerce.Order, error) {
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	f.updates[id] = append(f.updates[id], update)
	return &woocommerce.Order{ID: id, Status: update.Status}, nil
}

func (f *fakeOrders) UpdateOrderStatus(_ context.Context, id int64, status string) (*woocommerce.Order, error) {
	f.statuses[id] = status
	return &woocommerce.Order{ID: id, Status: status}, nil
}

func (f *fakeOrders) AddOrderNote(_ context.Context, id int64, note string, _ bool) (*woocommerce.OrderNote, error) {
	f.notes[id] = append(f.notes[id], note)
	return &woocommerce.OrderNote{Note: note}, nil
}

type fakePayments struct {
	intents   map[string]*stripe.PaymentIntent
	params    []stripeclient.PaymentIntentParams
	createErr error
}

func (f *fakePayments) CreatePaymentIntent(_ context.Context, p stripeclient.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.params = append(f.params, p)
	return &stripe.PaymentIntent{
		ID:           "pi_123",
		ClientSecret: "pi_123_secret_456",
		Amount:       stripeclient.MinorUnits(p.Amount, p.Currency),
		Currency:     stripe.Currency(p.Currency),
		Metadata:     p.Metadata,
		Status:       stripe.PaymentIntentStatusRequiresPaymentMethod,
	}, nil
}

func (f *fakePayments) GetPaymentIntent(_ context.Context, id string) (*stripe.PaymentIntent, error) {
	pi, ok := f.intents[id]
	if !ok {
		return nil, errors.New("no such payment_intent")
	}
	return pi, nil
}

func (f *fakePayments) PublishableKey() string { return "pk_test_livs" }

type fakeCarts struct {
	snaps map[string]cart.Snapshot
	loads int
	saves int
}

func (f *fakeCarts) Load(_ context.Context, session string) (*cart.Store, error) {
	f.loads++
	store := cart.NewStore(nil)
	store.Restore(f.snaps[session])
	return store, nil
}

func (f *fakeCarts) Save(_ context.Context, session string, store *cart.Store) error {
	f.saves++
	f.snaps[session] = store.Snapshot()
	return nil
}

type fakeCatalog struct{}

func (fakeCatalog) ValidateCoupon(_ context.Context, input catalog.CouponInput) *catalog.CouponResult {
	if input.Code == "WELCOME10" {
		return &catalog.CouponResult{Valid: true, Code: "welcome10", Errors: []string{}}
	}
	return &catalog.CouponResult{Code: input.Code, Errors: []string{"Coupon \"" + input.Code + "\" does not exist"}}
}

func (fakeCatalog) StoreCurrency(context.Context) string { return "SEK" }

type fakeReconciliations struct {
	records []models.PaymentReconciliation
	err     error
}

func (f *fakeReconciliations) Record(_ context.Context, rec *models.PaymentReconciliation) (*models.PaymentReconciliation, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.records = append(f.records, *rec)
	return rec, nil
}

type fixture struct {
	svc      Service
	orders   *fakeOrders
	payments *fakePayments
	carts    *fakeCarts
	recon    *fakeReconciliations
}

const session = "0c6f8a52-4b8e-4f7d-9d0e-2f9c3b1a7e55"

var flatRate = shipping.Method{
	ID:        "flat_rate:11",
	MethodID:  "flat_rate",
	Label:     "Home delivery",
	Cost:      decimal.NewFromInt(49),
	TotalCost: decimal.NewFromInt(49),
}

func riceItem(quantity int) cart.Item {
	return cart.Item{
		Key:       cart.ItemKey(7, 0),
		ProductID: 7,
		Quantity:  quantity,
		UnitPrice: decimal.NewFromInt(49),
		Product:   woocommerce.Product{ID: 7, Name: "Basmati rice 1kg", Price: woocommerce.MustPrice("49")},
	}
}

func paneerItem(quantity int) cart.Item {
	return cart.Item{
		Key:       cart.ItemKey(12, 0),
		ProductID: 12,
		Quantity:  quantity,
		UnitPrice: decimal.NewFromInt(35),
		Product:   woocommerce.Product{ID: 12, Name: "Fresh Paneer", Price: woocommerce.MustPrice("35"), ShippingClass: shipping.StockholmOnlyClass},
	}
}

// cartProducts serves the live product records of the items in a snapshot.
type cartProducts map[int64]woocommerce.Product

func (p cartProducts) GetProduct(_ context.Context, id int64) (*woocommerce.Product, error) {
	prod, ok := p[id]
	if !ok {
		return nil, errors.New("product not found")
	}
	return &prod, nil
}

func productsOf(snap cart.Snapshot) cartProducts {
	out := cartProducts{}
	for _, item := range snap.Items {
		out[item.ProductID] = item.Product
	}
	return out
}

func readyCart() cart.Snapshot {
	m := flatRate
	return cart.Snapshot{
		Items:            []cart.Item{riceItem(3)},
		ShippingAddress:  &shipping.Address{Postcode: "11520", City: "Stockholm"},
		AvailableMethods: []shipping.Method{flatRate},
		SelectedMethod:   &m,
	}
}

func newFixture(t *testing.T, snap cart.Snapshot) *fixture {
	t.Helper()
	f := &fixture{
		orders:   newFakeOrders(),
		payments: &fakePayments{intents: map[string]*stripe.PaymentIntent{}},
		carts:    &fakeCarts{snaps: map[string]cart.Snapshot{session: snap}},
		recon:    &fakeReconciliations{},
	}
	svc, err := NewService(ServiceParams{
		Orders:          f.orders,
		Payments:        f.payments,
		Carts:           f.carts,
		Catalog:         fakeCatalog{},
		Restrictions:    shipping.NewChecker(productsOf(snap), 2),
		Reconciliations: f.recon,
		Logger:          logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
		StoreName:       "Ideal Indiska LIVS",
		SiteURL:         "https://www.idealindiska.se/",
		BusinessPhone:   "+46 70 123 45 67",
	})
	require.NoError(t, err)
	f.svc = svc
	return f
}

func validInput() OrderInput {
	return OrderInput{
		Customer: Customer{FirstName: "Anna", LastName: "Svensson", Email: "anna@example.se", Phone: "070-123 45 67"},
		Shipping: ShippingDetails{Address1: "Storgatan 1", City: "Stockholm", Postcode: "115 20"},
	}
}

func TestWhatsAppOrderRejectsMissingStreetAddress(t *testing.T) {
	f := newFixture(t, readyCart())
	input := validInput()
	input.Shipping.Address1 = ""

	res := f.svc.CreateWhatsAppOrder(context.Background(), session, input)

	assert.Equal(t, types.ActionResult{Success: false, Error: "Shipping validation failed: Street address is required"}, res)
	assert.Empty(t, f.orders.created)
	assert.Zero(t, f.carts.loads)
}

func TestWhatsAppOrderRejectsInvalidCustomer(t *testing.T) {
	f := newFixture(t, readyCart())
	input := validInput()
	input.Customer.Email = "not-an-email"
	input.Customer.LastName = " "

	res := f.svc.CreateWhatsAppOrder(context.Background(), session, input)

	assert.False(t, res.Success)
	assert.Equal(t, "Customer validation failed: Last name is required, Please enter a valid email address", res.Error)
	assert.Empty(t, f.orders.created)
}

func TestWhatsAppOrderCreatesUnpaidOrder(t *testing.T) {
	f := newFixture(t, readyCart())
	f.orders.total = "196.00"
	input := validInput()
	input.Note = "<b>Ring</b> the bell"

	res := f.svc.CreateWhatsAppOrder(context.Background(), session, input)
	require.True(t, res.Success, res.Error)

	require.Len(t, f.orders.created, 1)
	order := f.orders.created[0]
	assert.Equal(t, "whatsapp", order.PaymentMethod)
	assert.False(t, order.SetPaid)
	assert.Equal(t, "pending", order.Status)
	assert.Equal(t, "SEK", order.Currency)
	assert.Equal(t, "Ring the bell", order.CustomerNote)
	assert.Equal(t, "Storgatan 1", order.Shipping.Address1)
	assert.Equal(t, "SE", order.Shipping.Country)
	assert.Equal(t, "anna@example.se", order.Billing.Email)
	require.Len(t, order.LineItems, 1)
	assert.Equal(t, woocommerce.OrderLineItem{Name: "Basmati rice 1kg", ProductID: 7, Quantity: 3, Subtotal: "147.00", Total: "147.00"}, order.LineItems[0])
	require.Len(t, order.ShippingLines, 1)
	assert.Equal(t, "flat_rate", order.ShippingLines[0].MethodID)
	assert.Equal(t, "49.00", order.ShippingLines[0].Total)
	assert.Contains(t, order.MetaData, woocommerce.StringMeta("_cart_session", session))

	data, ok := res.Data.(WhatsAppOrder)
	require.True(t, ok)
	assert.Equal(t, int64(1234), data.OrderID)
	assert.True(t, strings.HasPrefix(data.WhatsAppURL, "https://api.whatsapp.com/send?phone=46701234567&text="))
	assert.Contains(t, data.Message, "Order #1234")
	assert.Contains(t, data.Message, "- 3 x Basmati rice 1kg: 147.00 kr")
	assert.Contains(t, data.Message, "Total: 196.00 kr")
	assert.Contains(t, data.Message, "115 20 Stockholm")

	assert.Empty(t, f.carts.snaps[session].Items)
	assert.Nil(t, f.carts.snaps[session].SelectedMethod)
}

func TestWhatsAppOrderMobileLink(t *testing.T) {
	f := newFixture(t, readyCart())
	input := validInput()
	input.UserAgent = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X)"

	res := f.svc.CreateWhatsAppOrder(context.Background(), session, input)
	require.True(t, res.Success, res.Error)
	assert.True(t, strings.HasPrefix(res.Data.(WhatsAppOrder).WhatsAppURL, "https://wa.me/46701234567?text="))
}

func TestWhatsAppOrderCartFailures(t *testing.T) {
	t.Run("empty cart", func(t *testing.T) {
		f := newFixture(t, cart.Snapshot{})
		res := f.svc.CreateWhatsAppOrder(context.Background(), session, validInput())
		assert.Equal(t, types.Failed("Your cart is empty"), res)
		assert.Empty(t, f.orders.created)
	})

	t.Run("restricted products", func(t *testing.T) {
		snap := readyCart()
		snap.RestrictedProducts = []shipping.RestrictedProduct{{ProductID: 7, ProductName: "Frozen paneer", Reason: "Stockholm only"}}
		f := newFixture(t, snap)
		res := f.svc.CreateWhatsAppOrder(context.Background(), session, validInput())
		assert.False(t, res.Success)
		assert.Contains(t, res.Error, "Frozen paneer")
		assert.Empty(t, f.orders.created)
	})

	t.Run("invalid coupon", func(t *testing.T) {
		f := newFixture(t, readyCart())
		input := validInput()
		input.CouponCode = "NOPE"
		res := f.svc.CreateWhatsAppOrder(context.Background(), session, input)
		assert.Equal(t, `Coupon validation failed: Coupon "NOPE" does not exist`, res.Error)
		assert.Empty(t, f.orders.created)
	})

	t.Run("woocommerce down keeps the cart", func(t *testing.T) {
		f := newFixture(t, readyCart())
		f.orders.createErr = errors.New("503")
		res := f.svc.CreateWhatsAppOrder(context.Background(), session, validInput())
		assert.False(t, res.Success)
		assert.Contains(t, res.Error, "could not create your order")
		assert.Len(t, f.carts.snaps[session].Items, 1)
		assert.Zero(t, f.carts.saves)
	})
}

func TestWhatsAppOrderAppliesCoupon(t *testing.T) {
	f := newFixture(t, readyCart())
	input := validInput()
	input.CouponCode = "WELCOME10"

	res := f.svc.CreateWhatsAppOrder(context.Background(), session, input)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, []woocommerce.CouponLine{{Code: "welcome10"}}, f.orders.created[0].CouponLines)
}

func TestWhatsAppOrderChecksRestrictionsForCheckoutAddress(t *testing.T) {
	snap := readyCart()
	snap.Items = append(snap.Items, paneerItem(1))
	snap.ShippingAddress, snap.AvailableMethods, snap.SelectedMethod = nil, nil, nil
	f := newFixture(t, snap)
	input := validInput()
	input.Shipping.City, input.Shipping.Postcode = "Göteborg", "411 01"

	res := f.svc.CreateWhatsAppOrder(context.Background(), session, input)

	assert.False(t, res.Success)
	assert.Equal(t, "Some products cannot be delivered to your address: Fresh Paneer", res.Error)
	assert.Empty(t, f.orders.created)
}

func TestWhatsAppOrderRejectsAddressOtherThanQuoted(t *testing.T) {
	f := newFixture(t, readyCart())
	input := validInput()
	input.Shipping.City, input.Shipping.Postcode = "Göteborg", "411 01"

	res := f.svc.CreateWhatsAppOrder(context.Background(), session, input)

	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "differs from the one shipping was calculated for")
	assert.Empty(t, f.orders.created)
}

func TestWhatsAppOrderAcceptsQuotedAddressWithSpacing(t *testing.T) {
	snap := readyCart()
	snap.Items = append(snap.Items, paneerItem(2))
	f := newFixture(t, snap)

	res := f.svc.CreateWhatsAppOrder(context.Background(), session, validInput())
	require.True(t, res.Success, res.Error)
	require.Len(t, f.orders.created, 1)
}

func TestCreatePaymentRequiresShippingMethod(t *testing.T) {
	snap := readyCart()
	snap.SelectedMethod = nil
	f := newFixture(t, snap)

	res := f.svc.CreatePayment(context.Background(), session, validInput())

	assert.Equal(t, types.Failed("Please choose a shipping method"), res)
	assert.Empty(t, f.orders.created)
	assert.Empty(t, f.payments.params)
}

func TestCreatePaymentRejectsAddressOtherThanQuoted(t *testing.T) {
	f := newFixture(t, readyCart())
	input := validInput()
	input.Shipping.Country = "NO"
	input.Shipping.City, input.Shipping.Postcode = "Oslo", "11520"

	res := f.svc.CreatePayment(context.Background(), session, input)

	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "differs from the one shipping was calculated for")
	assert.Empty(t, f.orders.created)
	assert.Empty(t, f.payments.params)
}

func TestCreatePaymentRechecksRestrictions(t *testing.T) {
	snap := readyCart()
	snap.Items = append(snap.Items, paneerItem(1))
	snap.ShippingAddress = &shipping.Address{Postcode: "41101", City: "Göteborg"}
	f := newFixture(t, snap)
	input := validInput()
	input.Shipping.City, input.Shipping.Postcode = "Göteborg", "411 01"

	res := f.svc.CreatePayment(context.Background(), session, input)

	assert.Equal(t, types.Failed("Some products cannot be delivered to your address: Fresh Paneer"), res)
	assert.Empty(t, f.orders.created)
	assert.Empty(t, f.payments.params)
}

func TestCreatePaymentOpensIntent(t *testing.T) {
	f := newFixture(t, readyCart())
	f.orders.total = "196.00"

	res := f.svc.CreatePayment(context.Background(), session, validInput())
	require.True(t, res.Success, res.Error)

	require.Len(t, f.orders.created, 1)
	assert.Equal(t, "stripe", f.orders.created[0].PaymentMethod)
	assert.False(t, f.orders.created[0].SetPaid)

	require.Len(t, f.payments.params, 1)
	p := f.payments.params[0]
	assert.True(t, p.Amount.Equal(decimal.NewFromInt(196)))
	assert.Equal(t, "sek", p.Currency)
	assert.Equal(t, "wc-order-1234", p.IdempotencyKey)
	assert.Equal(t, map[string]string{MetaOrderID: "1234", MetaOrderKey: "wc_order_abc", MetaCartSession: session}, p.Metadata)

	data := res.Data.(PaymentSession)
	assert.Equal(t, "pi_123_secret_456", data.ClientSecret)
	assert.Equal(t, "pk_test_livs", data.PublishableKey)
	assert.Equal(t, StateConfirmingPayment, data.State)
	assert.Len(t, f.carts.snaps[session].Items, 1)
}

func TestCreatePaymentCancelsOrderWhenIntentFails(t *testing.T) {
	f := newFixture(t, readyCart())
	f.payments.createErr = errors.New("card_declined")

	res := f.svc.CreatePayment(context.Background(), session, validInput())

	assert.False(t, res.Success)
	assert.Equal(t, "cancelled", f.orders.statuses[1234])
}

func TestConfirmReturn(t *testing.T) {
	f := newFixture(t, readyCart())
	cases := map[stripe.PaymentIntentStatus]string{
		stripe.PaymentIntentStatusSucceeded:             "succeeded",
		stripe.PaymentIntentStatusProcessing:            "processing",
		stripe.PaymentIntentStatusRequiresPaymentMethod: "failed",
		stripe.PaymentIntentStatusCanceled:              "canceled",
		stripe.PaymentIntentStatusRequiresAction:        "pending",
	}
	for status, want := range cases {
		f.payments.intents["pi_1"] = &stripe.PaymentIntent{ID: "pi_1", Status: status, Metadata: map[string]string{MetaOrderID: "55"}}
		got, err := f.svc.ConfirmReturn(context.Background(), "pi_1")
		require.NoError(t, err)
		assert.Equal(t, want, got.Status, string(status))
		assert.Equal(t, int64(55), got.OrderID)
	}

	_, err := f.svc.ConfirmReturn(context.Background(), "pi_missing")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))
	_, err = f.svc.ConfirmReturn(context.Background(), "")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func succeededIntent(orderID string) *stripe.PaymentIntent {
	return &stripe.PaymentIntent{
		ID:       "pi_paid",
		Status:   stripe.PaymentIntentStatusSucceeded,
		Amount:   19600,
		Currency: stripe.Currency("sek"),
		Metadata: map[string]string{MetaOrderID: orderID},
	}
}

func TestMarkPaidUpdatesOrder(t *testing.T) {
	f := newFixture(t, readyCart())
	f.payments.intents["pi_paid"] = succeededIntent("1234")

	res, err := f.svc.MarkPaid(context.Background(), session, 1234, "pi_paid")
	require.NoError(t, err)
	assert.Equal(t, StateOrderUpdated, res.State)
	assert.Equal(t, "processing", res.OrderStatus)

	require.Len(t, f.orders.updates[1234], 1)
	update := f.orders.updates[1234][0]
	assert.Equal(t, "processing", update.Status)
	require.NotNil(t, update.SetPaid)
	assert.True(t, *update.SetPaid)
	assert.Equal(t, "pi_paid", update.TransactionID)
	require.Len(t, f.orders.notes[1234], 1)
	assert.Contains(t, f.orders.notes[1234][0], "pi_paid")
	assert.Empty(t, f.carts.snaps[session].Items)
	assert.Empty(t, f.recon.records)
}

func TestMarkPaidRejectsForeignOrNotSucceededPayments(t *testing.T) {
	f := newFixture(t, readyCart())
	f.payments.intents["pi_paid"] = succeededIntent("999")

	_, err := f.svc.MarkPaid(context.Background(), session, 1234, "pi_paid")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))

	f.payments.intents["pi_open"] = &stripe.PaymentIntent{
		ID:       "pi_open",
		Status:   stripe.PaymentIntentStatusRequiresPaymentMethod,
		Metadata: map[string]string{MetaOrderID: "1234"},
	}
	_, err = f.svc.MarkPaid(context.Background(), session, 1234, "pi_open")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))

	f.payments.intents["pi_slow"] = &stripe.PaymentIntent{
		ID:       "pi_slow",
		Status:   stripe.PaymentIntentStatusProcessing,
		Metadata: map[string]string{MetaOrderID: "1234"},
	}
	res, err := f.svc.MarkPaid(context.Background(), session, 1234, "pi_slow")
	require.NoError(t, err)
	assert.Equal(t, StateConfirmingPayment, res.State)

	assert.Empty(t, f.orders.updates)
}

func TestMarkPaidRecordsReconciliationWhenUpdateFails(t *testing.T) {
	f := newFixture(t, readyCart())
	f.payments.intents["pi_paid"] = succeededIntent("1234")
	f.orders.updateErr = errors.New("woocommerce timeout")

	res, err := f.svc.MarkPaid(context.Background(), session, 1234, "pi_paid")
	assert.Nil(t, res)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeReconciliation))
	assert.Equal(t, SupportMessage("pi_paid"), pkgerrors.As(err).Message())
	assert.Contains(t, pkgerrors.As(err).Message(), "pi_paid")

	require.Len(t, f.recon.records, 1)
	rec := f.recon.records[0]
	assert.Equal(t, int64(1234), rec.OrderID)
	assert.Equal(t, "pi_paid", rec.PaymentIntentID)
	assert.Equal(t, int64(19600), rec.AmountMinor)
	assert.Equal(t, "sek", rec.Currency)
	assert.Contains(t, rec.Reason, "timeout")
	assert.Len(t, f.carts.snaps[session].Items, 1)
}

func TestMarkPaidStillReportsWhenRecordingFails(t *testing.T) {
	f := newFixture(t, readyCart())
	f.payments.intents["pi_paid"] = succeededIntent("1234")
	f.orders.updateErr = errors.New("woocommerce timeout")
	f.recon.err = errors.New("db down")

	_, err := f.svc.MarkPaid(context.Background(), session, 1234, "pi_paid")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeReconciliation))
}

func TestNewServiceValidation(t *testing.T) {
	_, err := NewService(ServiceParams{})
	assert.Error(t, err)
}
