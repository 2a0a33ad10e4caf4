package checkout

import (
	"context"
	"fmt"
	"html"
	"strconv"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v84"

	"github.com/idealindiska/livs-backend/internal/cart"
	"github.com/idealindiska/livs-backend/internal/catalog"
	"github.com/idealindiska/livs-backend/internal/shipping"
	"github.com/idealindiska/livs-backend/internal/whatsapp"
	"github.com/idealindiska/livs-backend/pkg/db/models"
	pkgerrors "github.com/idealindiska/livs-backend/pkg/errors"
	"github.com/idealindiska/livs-backend/pkg/logger"
	"github.com/idealindiska/livs-backend/pkg/metrics"
	stripeclient "github.com/idealindiska/livs-backend/pkg/stripe"
	"github.com/idealindiska/livs-backend/pkg/types"
	"github.com/idealindiska/livs-backend/pkg/woocommerce"
)

const (
	PathWhatsApp = "whatsapp"
	PathStripe   = "stripe"

	// Metadata keys stamped on PaymentIntents.
	MetaOrderID     = "wc_order_id"
	MetaOrderKey    = "wc_order_key"
	MetaCartSession = "cart_session"

	maxNoteLength = 1000
)

type orderWriter interface {
	CreateOrder(ctx context.Context, order woocommerce.NewOrder) (*woocommerce.Order, error)
	UpdateOrder(ctx context.Context, id int64, update woocommerce.OrderUpdate) (*woocommerce.Order, error)
	UpdateOrderStatus(ctx context.Context, id int64, status string) (*woocommerce.Order, error)
	AddOrderNote(ctx context.Context, id int64, note string, customerNote bool) (*woocommerce.OrderNote, error)
}

type paymentProvider interface {
	CreatePaymentIntent(ctx context.Context, p stripeclient.PaymentIntentParams) (*stripe.PaymentIntent, error)
	GetPaymentIntent(ctx context.Context, id string) (*stripe.PaymentIntent, error)
	PublishableKey() string
}

type cartStore interface {
	Load(ctx context.Context, session string) (*cart.Store, error)
	Save(ctx context.Context, session string, store *cart.Store) error
}

type storeCatalog interface {
	ValidateCoupon(ctx context.Context, input catalog.CouponInput) *catalog.CouponResult
	StoreCurrency(ctx context.Context) string
}

type restrictionChecker interface {
	Check(ctx context.Context, lines []shipping.Line, dest shipping.Address) shipping.Result
}

type reconciliationRecorder interface {
	Record(ctx context.Context, rec *models.PaymentReconciliation) (*models.PaymentReconciliation, error)
}

// Service runs the two checkout paths. Write paths report shopper facing
// failures through types.ActionResult.
type Service interface {
	CreateWhatsAppOrder(ctx context.Context, session string, input OrderInput) types.ActionResult
	CreatePayment(ctx context.Context, session string, input OrderInput) types.ActionResult
	ConfirmReturn(ctx context.Context, paymentIntentID string) (*PaymentStatus, error)
	MarkPaid(ctx context.Context, session string, orderID int64, paymentIntentID string) (*MarkPaidResult, error)
}

// OrderInput is the checkout form.
type OrderInput struct {
	Customer   Customer        `json:"customer"`
	Shipping   ShippingDetails `json:"shipping"`
	Note       string          `json:"note"`
	CouponCode string          `json:"coupon_code"`
	UserAgent  string          `json:"-"`
}

// WhatsAppOrder is the data of a successful WhatsApp checkout.
type WhatsAppOrder struct {
	OrderID     int64  `json:"order_id"`
	OrderNumber string `json:"order_number"`
	OrderKey    string `json:"order_key"`
	WhatsAppURL string `json:"whatsapp_url"`
	Message     string `json:"message"`
}

// PaymentSession is what the storefront needs to mount Stripe Elements.
type PaymentSession struct {
	OrderID         int64           `json:"order_id"`
	OrderNumber     string          `json:"order_number"`
	OrderKey        string          `json:"order_key"`
	PaymentIntentID string          `json:"payment_intent_id"`
	ClientSecret    string          `json:"client_secret"`
	PublishableKey  string          `json:"publishable_key"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	State           State           `json:"state"`
}

// PaymentStatus is the shopper view of a PaymentIntent after a redirect.
type PaymentStatus struct {
	PaymentIntentID string `json:"payment_intent_id"`
	Status          string `json:"status"`
	Message         string `json:"message"`
	OrderID         int64  `json:"order_id,omitempty"`
	OrderKey        string `json:"order_key,omitempty"`
}

// MarkPaidResult reports the order state after a mark-paid request.
type MarkPaidResult struct {
	OrderID         int64  `json:"order_id"`
	PaymentIntentID string `json:"payment_intent_id"`
	OrderStatus     string `json:"order_status"`
	State           State  `json:"state"`
}

// ServiceParams wires the checkout service.
type ServiceParams struct {
	Orders          orderWriter
	Payments        paymentProvider
	Carts           cartStore
	Catalog         storeCatalog
	Restrictions    restrictionChecker
	Reconciliations reconciliationRecorder
	Metrics         *metrics.Commerce
	Logger          *logger.Logger
	StoreName       string
	SiteURL         string
	BusinessPhone   string
}

type service struct {
	orders          orderWriter
	payments        paymentProvider
	carts           cartStore
	catalog         storeCatalog
	restrictions    restrictionChecker
	reconciliations reconciliationRecorder
	metrics         *metrics.Commerce
	logg            *logger.Logger
	storeName       string
	siteURL         string
	businessPhone   string
}

var notePolicy = bluemonday.StrictPolicy()

// NewService builds the checkout service.
func NewService(params ServiceParams) (Service, error) {
	if params.Orders == nil {
		return nil, fmt.Errorf("order writer required")
	}
	if params.Payments == nil {
		return nil, fmt.Errorf("payment provider required")
	}
	if params.Carts == nil {
		return nil, fmt.Errorf("cart store required")
	}
	if params.Catalog == nil {
		return nil, fmt.Errorf("catalog required")
	}
	if params.Restrictions == nil {
		return nil, fmt.Errorf("restriction checker required")
	}
	if params.Reconciliations == nil {
		return nil, fmt.Errorf("reconciliation recorder required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		orders:          params.Orders,
		payments:        params.Payments,
		carts:           params.Carts,
		catalog:         params.Catalog,
		restrictions:    params.Restrictions,
		reconciliations: params.Reconciliations,
		metrics:         params.Metrics,
		logg:            params.Logger,
		storeName:       params.StoreName,
		siteURL:         strings.TrimRight(params.SiteURL, "/"),
		businessPhone:   params.BusinessPhone,
	}, nil
}

// checkoutCart is a validated cart ready to become an order.
type checkoutCart struct {
	store    *cart.Store
	view     *cart.View
	order    woocommerce.NewOrder
	currency string
	note     string
}

// prepare validates the form and the cart and builds the order payload.
// A non-empty message means the checkout must stop before WooCommerce is
// called.
func (s *service) prepare(ctx context.Context, session, path string, input OrderInput) (*checkoutCart, string) {
	if errs := ValidateCustomer(input.Customer); len(errs) > 0 {
		return nil, "Customer validation failed: " + strings.Join(errs, ", ")
	}
	if errs := ValidateShipping(input.Shipping); len(errs) > 0 {
		return nil, "Shipping validation failed: " + strings.Join(errs, ", ")
	}

	store, err := s.carts.Load(ctx, session)
	if err != nil {
		s.logg.Error(ctx, "checkout.cart.load_failed", err)
		return nil, "We could not load your cart, please try again"
	}
	view := store.View()
	if len(view.Items) == 0 {
		return nil, "Your cart is empty"
	}
	if len(view.RestrictedProducts) > 0 {
		return nil, restrictedMessage(view.RestrictedProducts)
	}
	dest := input.Shipping.destination()
	if quoted := view.ShippingAddress; quoted != nil && !sameDestination(*quoted, dest) {
		return nil, "Your delivery address differs from the one shipping was calculated for. Please update your shipping address"
	}
	if res := s.restrictions.Check(ctx, restrictionLines(view.Items), dest); len(res.Restricted) > 0 {
		return nil, restrictedMessage(res.Restricted)
	} else if res.Degraded {
		s.logg.Warn(s.logg.WithField(ctx, "error", fmt.Sprint(res.Cause)), "checkout.restrictions.degraded")
	}

	var coupons []woocommerce.CouponLine
	if code := strings.TrimSpace(input.CouponCode); code != "" {
		res := s.catalog.ValidateCoupon(ctx, catalog.CouponInput{Code: code, Subtotal: view.Subtotal, Email: input.Customer.Email})
		if !res.Valid {
			return nil, "Coupon validation failed: " + strings.Join(res.Errors, ", ")
		}
		coupons = append(coupons, woocommerce.CouponLine{Code: res.Code})
	}

	currency := s.catalog.StoreCurrency(ctx)
	note := sanitizeNote(input.Note)
	addr := input.Shipping.address(input.Customer)
	shippingAddr := addr
	shippingAddr.Email, shippingAddr.Phone = "", ""

	order := woocommerce.NewOrder{
		SetPaid:      false,
		Status:       "pending",
		Currency:     currency,
		CustomerNote: note,
		Billing:      addr,
		Shipping:     shippingAddr,
		LineItems:    make([]woocommerce.OrderLineItem, 0, len(view.Items)),
		CouponLines:  coupons,
		MetaData: []woocommerce.MetaData{
			woocommerce.StringMeta("_order_source", path),
			woocommerce.StringMeta("_cart_session", session),
		},
	}
	for _, item := range view.Items {
		total := item.LineTotal.StringFixed(2)
		order.LineItems = append(order.LineItems, woocommerce.OrderLineItem{
			Name:        itemName(item.Item),
			ProductID:   item.ProductID,
			VariationID: item.VariationID,
			Quantity:    item.Quantity,
			Subtotal:    total,
			Total:       total,
		})
	}
	if m := view.SelectedMethod; m != nil {
		order.ShippingLines = []woocommerce.ShippingLine{{
			MethodID:    m.MethodID,
			MethodTitle: m.Label,
			Total:       view.ShippingCost.StringFixed(2),
		}}
	}
	return &checkoutCart{store: store, view: view, order: order, currency: currency, note: note}, ""
}

// sameDestination compares what decides the shipping zone and the delivery
// restrictions.
func sameDestination(a, b shipping.Address) bool {
	return a.CountryCode() == b.CountryCode() &&
		shipping.NormalizePostcode(a.Postcode) == shipping.NormalizePostcode(b.Postcode)
}

func restrictionLines(items []cart.ItemView) []shipping.Line {
	lines := make([]shipping.Line, 0, len(items))
	for _, item := range items {
		lines = append(lines, shipping.Line{ProductID: item.ProductID, VariationID: item.VariationID, Quantity: item.Quantity, LineTotal: item.LineTotal})
	}
	return lines
}

// CreateWhatsAppOrder records the order in WooCommerce unpaid and returns a
// chat link the shopper uses to confirm it with the store.
func (s *service) CreateWhatsAppOrder(ctx context.Context, session string, input OrderInput) types.ActionResult {
	ctx = s.logg.WithCustomerEmail(s.logg.WithCartSession(ctx, session), input.Customer.Email)
	cc, failure := s.prepare(ctx, session, PathWhatsApp, input)
	if failure != "" {
		s.metrics.OrderCreated(PathWhatsApp, "rejected")
		return types.Failed(failure)
	}
	cc.order.PaymentMethod = "whatsapp"
	cc.order.PaymentMethodTitle = "WhatsApp"

	order, err := s.orders.CreateOrder(ctx, cc.order)
	if err != nil {
		s.logg.Error(ctx, "checkout.whatsapp.create_order_failed", err)
		s.metrics.OrderCreated(PathWhatsApp, "error")
		return types.Failed("We could not create your order. Please try again or contact us.")
	}
	ctx = s.logg.WithOrderID(ctx, order.ID)

	message := whatsapp.FormatOrderMessage(s.summary(order, cc, input))
	link, err := whatsapp.GenerateURL(s.businessPhone, message, input.UserAgent)
	if err != nil {
		s.logg.Error(ctx, "checkout.whatsapp.link_failed", err)
		s.metrics.OrderCreated(PathWhatsApp, "error")
		return types.Failed(fmt.Sprintf("Your order #%s was created but WhatsApp could not be opened. Please contact us to confirm it.", orderNumber(order)))
	}

	cc.store.ClearCart()
	cc.store.ClearShipping()
	if err := s.carts.Save(ctx, session, cc.store); err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "checkout.cart.clear_failed")
	}
	s.metrics.OrderCreated(PathWhatsApp, "ok")
	s.logg.Info(ctx, "checkout.whatsapp.order_created")

	return types.Succeeded(WhatsAppOrder{
		OrderID:     order.ID,
		OrderNumber: orderNumber(order),
		OrderKey:    order.OrderKey,
		WhatsAppURL: link,
		Message:     message,
	})
}

func (s *service) summary(order *woocommerce.Order, cc *checkoutCart, input OrderInput) whatsapp.OrderSummary {
	sum := whatsapp.OrderSummary{
		StoreName:    s.storeName,
		OrderNumber:  orderNumber(order),
		OrderURL:     s.orderURL(order),
		CustomerName: input.Customer.FullName(),
		Phone:        strings.TrimSpace(input.Customer.Phone),
		Email:        strings.TrimSpace(input.Customer.Email),
		AddressLines: input.Shipping.Lines(),
		Items:        make([]whatsapp.OrderLine, 0, len(cc.view.Items)),
		Subtotal:     cc.view.Subtotal,
		ShippingCost: cc.view.ShippingCost,
		Total:        order.Total.Or(cc.view.Total),
		Currency:     cc.currency,
		Note:         cc.note,
	}
	if m := cc.view.SelectedMethod; m != nil {
		sum.ShippingLabel = m.Label
	}
	for _, item := range cc.view.Items {
		sum.Items = append(sum.Items, whatsapp.OrderLine{Name: itemName(item.Item), Quantity: item.Quantity, LineTotal: item.LineTotal})
	}
	return sum
}

// CreatePayment records a pending order and opens a PaymentIntent for it.
// The cart must have a quoted destination and a selected shipping method.
func (s *service) CreatePayment(ctx context.Context, session string, input OrderInput) types.ActionResult {
	ctx = s.logg.WithCustomerEmail(s.logg.WithCartSession(ctx, session), input.Customer.Email)
	cc, failure := s.prepare(ctx, session, PathStripe, input)
	if failure != "" {
		s.metrics.OrderCreated(PathStripe, "rejected")
		return types.Failed(failure)
	}
	flow := ResumeFlow(cc.view)
	if flow.State() != StateSelectingPayment {
		s.metrics.OrderCreated(PathStripe, "rejected")
		if msg := flow.Blocked(); msg != "" {
			return types.Failed(msg)
		}
		return types.Failed("Please choose a shipping method")
	}
	cc.order.PaymentMethod = "stripe"
	cc.order.PaymentMethodTitle = "Card"

	order, err := s.orders.CreateOrder(ctx, cc.order)
	if err != nil {
		s.logg.Error(ctx, "checkout.stripe.create_order_failed", err)
		s.metrics.OrderCreated(PathStripe, "error")
		return types.Failed("We could not create your order. Please try again.")
	}
	ctx = s.logg.WithOrderID(ctx, order.ID)

	amount := order.Total.Or(cc.view.Total)
	if !amount.IsPositive() {
		amount = cc.view.Total
	}
	orderID := strconv.FormatInt(order.ID, 10)
	pi, err := s.payments.CreatePaymentIntent(ctx, stripeclient.PaymentIntentParams{
		Amount:       amount,
		Currency:     strings.ToLower(cc.currency),
		Description:  fmt.Sprintf("%s order #%s", s.displayName(), orderNumber(order)),
		ReceiptEmail: strings.TrimSpace(input.Customer.Email),
		Metadata: map[string]string{
			MetaOrderID:     orderID,
			MetaOrderKey:    order.OrderKey,
			MetaCartSession: session,
		},
		IdempotencyKey: "wc-order-" + orderID,
	})
	if err != nil {
		s.logg.Error(ctx, "checkout.stripe.create_intent_failed", err)
		if _, cancelErr := s.orders.UpdateOrderStatus(ctx, order.ID, "cancelled"); cancelErr != nil {
			s.logg.Warn(s.logg.WithField(ctx, "error", cancelErr.Error()), "checkout.stripe.cancel_order_failed")
		}
		s.metrics.OrderCreated(PathStripe, "error")
		return types.Failed("We could not start the payment. Please try again.")
	}
	if err := flow.StartPayment(); err != nil {
		return types.Failed(err.Error())
	}

	s.metrics.OrderCreated(PathStripe, "ok")
	s.logg.Info(s.logg.WithPaymentIntentID(ctx, pi.ID), "checkout.stripe.payment_started")
	return types.Succeeded(PaymentSession{
		OrderID:         order.ID,
		OrderNumber:     orderNumber(order),
		OrderKey:        order.OrderKey,
		PaymentIntentID: pi.ID,
		ClientSecret:    pi.ClientSecret,
		PublishableKey:  s.payments.PublishableKey(),
		Amount:          amount,
		Currency:        strings.ToUpper(cc.currency),
		State:           flow.State(),
	})
}

// ConfirmReturn re-derives the payment outcome after an off-site redirect.
func (s *service) ConfirmReturn(ctx context.Context, paymentIntentID string) (*PaymentStatus, error) {
	if strings.TrimSpace(paymentIntentID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment_intent is required")
	}
	pi, err := s.payments.GetPaymentIntent(ctx, paymentIntentID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "could not retrieve payment")
	}
	status := &PaymentStatus{PaymentIntentID: pi.ID, OrderKey: pi.Metadata[MetaOrderKey]}
	status.OrderID, _ = metadataOrderID(pi)
	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded:
		status.Status, status.Message = "succeeded", "Payment successful!"
	case stripe.PaymentIntentStatusProcessing:
		status.Status, status.Message = "processing", "Your payment is processing. We will update you when payment is received."
	case stripe.PaymentIntentStatusRequiresPaymentMethod:
		status.Status, status.Message = "failed", "Payment failed. Please try another payment method."
	case stripe.PaymentIntentStatusCanceled:
		status.Status, status.Message = "canceled", "The payment was cancelled."
	default:
		status.Status, status.Message = "pending", "The payment has not been completed yet."
	}
	return status, nil
}

// MarkPaid moves the order of a succeeded PaymentIntent to processing. If
// the payment was captured but the order cannot be updated, the payment is
// queued for manual reconciliation and a support message is returned.
func (s *service) MarkPaid(ctx context.Context, session string, orderID int64, paymentIntentID string) (*MarkPaidResult, error) {
	if orderID <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id must be positive")
	}
	if strings.TrimSpace(paymentIntentID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment_intent_id is required")
	}
	ctx = s.logg.WithOrderID(s.logg.WithPaymentIntentID(ctx, paymentIntentID), orderID)

	pi, err := s.payments.GetPaymentIntent(ctx, paymentIntentID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "could not retrieve payment")
	}
	if owner, ok := metadataOrderID(pi); !ok || owner != orderID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "payment does not belong to this order")
	}

	flow := &Flow{state: StateConfirmingPayment}
	result := &MarkPaidResult{OrderID: orderID, PaymentIntentID: pi.ID}
	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded:
	case stripe.PaymentIntentStatusProcessing:
		result.OrderStatus, result.State = "pending", flow.State()
		return result, nil
	default:
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "payment has not succeeded").WithDetails(map[string]any{
			"payment_intent_id": pi.ID,
			"status":            string(pi.Status),
		})
	}

	paid := true
	if _, err := s.orders.UpdateOrder(ctx, orderID, woocommerce.OrderUpdate{
		Status:        "processing",
		SetPaid:       &paid,
		TransactionID: pi.ID,
	}); err != nil {
		_ = flow.Complete(false)
		return nil, s.reconciliationRequired(ctx, orderID, pi, err)
	}
	_ = flow.Complete(true)

	if _, err := s.orders.AddOrderNote(ctx, orderID, fmt.Sprintf("Payment confirmed via Stripe. PaymentIntent: %s", pi.ID), false); err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "checkout.mark_paid.note_failed")
	}
	if session != "" {
		s.clearCart(ctx, session)
	}
	s.logg.Info(ctx, "checkout.mark_paid.order_updated")

	result.OrderStatus, result.State = "processing", flow.State()
	return result, nil
}

// SupportMessage is shown when a captured payment could not be applied to
// its order.
func SupportMessage(paymentIntentID string) string {
	return fmt.Sprintf("Your payment was received but we could not update your order. Please contact support and quote payment ID %s.", paymentIntentID)
}

func (s *service) reconciliationRequired(ctx context.Context, orderID int64, pi *stripe.PaymentIntent, cause error) error {
	s.logg.Error(ctx, "checkout.mark_paid.order_update_failed", cause)
	rec := &models.PaymentReconciliation{
		OrderID:         orderID,
		PaymentIntentID: pi.ID,
		AmountMinor:     pi.Amount,
		Currency:        string(pi.Currency),
		Reason:          truncate(cause.Error(), 500),
	}
	if _, err := s.reconciliations.Record(ctx, rec); err != nil {
		s.logg.Error(ctx, "checkout.reconciliation.record_failed", err)
	}
	return pkgerrors.Wrap(pkgerrors.CodeReconciliation, cause, SupportMessage(pi.ID)).WithDetails(map[string]any{
		"payment_intent_id": pi.ID,
		"order_id":          orderID,
	})
}

func (s *service) clearCart(ctx context.Context, session string) {
	store, err := s.carts.Load(ctx, session)
	if err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "checkout.cart.clear_failed")
		return
	}
	store.ClearCart()
	store.ClearShipping()
	if err := s.carts.Save(ctx, session, store); err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "checkout.cart.clear_failed")
	}
}

func (s *service) orderURL(order *woocommerce.Order) string {
	if s.siteURL == "" {
		return ""
	}
	return fmt.Sprintf("%s/order-confirmation/%d?key=%s", s.siteURL, order.ID, order.OrderKey)
}

func (s *service) displayName() string {
	if s.storeName == "" {
		return "Ideal Indiska LIVS"
	}
	return s.storeName
}

func metadataOrderID(pi *stripe.PaymentIntent) (int64, bool) {
	raw, ok := pi.Metadata[MetaOrderID]
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func orderNumber(order *woocommerce.Order) string {
	if order.Number != "" {
		return order.Number
	}
	return strconv.FormatInt(order.ID, 10)
}

func itemName(item cart.Item) string {
	name := item.Product.Name
	if item.Variation != nil {
		if label := item.Variation.Label(); label != "" {
			name += " - " + label
		}
	}
	return name
}

func sanitizeNote(note string) string {
	clean := strings.TrimSpace(html.UnescapeString(notePolicy.Sanitize(note)))
	return truncate(clean, maxNoteLength)
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
