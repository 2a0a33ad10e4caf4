package stripewebhook

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/stripe/stripe-go/v84"

	pkgerrors "github.com/idealindiska/livs-backend/pkg/errors"
	"github.com/idealindiska/livs-backend/pkg/logger"
	"github.com/idealindiska/livs-backend/pkg/metrics"
	"github.com/idealindiska/livs-backend/pkg/woocommerce"
)

const (
	metadataOrderID = "wc_order_id"
	resolvedBy      = "stripe_webhook"
)

type orderUpdater interface {
	UpdateOrder(ctx context.Context, id int64, update woocommerce.OrderUpdate) (*woocommerce.Order, error)
	AddOrderNote(ctx context.Context, id int64, note string, customerNote bool) (*woocommerce.OrderNote, error)
}

type reconciliationResolver interface {
	ResolveByPaymentIntent(ctx context.Context, paymentIntentID, resolvedBy string) (bool, error)
}

type ServiceParams struct {
	Orders          orderUpdater
	Reconciliations reconciliationResolver
	Metrics         *metrics.Commerce
	Logger          *logger.Logger
}

// Service applies PaymentIntent lifecycle events to WooCommerce orders.
type Service struct {
	orders          orderUpdater
	reconciliations reconciliationResolver
	metrics         *metrics.Commerce
	logg            *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Orders == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "order updater required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &Service{
		orders:          params.Orders,
		reconciliations: params.Reconciliations,
		metrics:         params.Metrics,
		logg:            params.Logger,
	}, nil
}

// transition is the order change driven by one PaymentIntent event.
type transition struct {
	status  string
	setPaid bool
	note    string
}

var transitions = map[stripe.EventType]transition{
	stripe.EventTypePaymentIntentSucceeded:     {status: "processing", setPaid: true, note: "Payment succeeded via Stripe"},
	stripe.EventTypePaymentIntentPaymentFailed: {status: "failed", note: "Payment failed via Stripe"},
	stripe.EventTypePaymentIntentCanceled:      {status: "cancelled", note: "Payment cancelled via Stripe"},
	stripe.EventTypePaymentIntentProcessing:    {status: "on-hold", note: "Payment processing via Stripe"},
}

// HandleEvent updates the order named in the PaymentIntent metadata. Events
// of other types, and intents without an order, are ignored.
func (s *Service) HandleEvent(ctx context.Context, event *stripe.Event) error {
	if event == nil || event.Data == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "stripe event data required")
	}
	t, ok := transitions[event.Type]
	if !ok {
		s.metrics.WebhookEvent("stripe", string(event.Type), "ignored")
		return nil
	}

	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		s.metrics.WebhookEvent("stripe", string(event.Type), "error")
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode payment intent event")
	}
	ctx = s.logg.WithPaymentIntentID(ctx, pi.ID)

	orderID, err := strconv.ParseInt(strings.TrimSpace(pi.Metadata[metadataOrderID]), 10, 64)
	if err != nil || orderID <= 0 {
		s.logg.Warn(s.logg.WithField(ctx, "event_type", string(event.Type)), "stripe.webhook.order_id_missing")
		s.metrics.WebhookEvent("stripe", string(event.Type), "ignored")
		return nil
	}
	ctx = s.logg.WithOrderID(ctx, orderID)

	update := woocommerce.OrderUpdate{Status: t.status}
	if t.setPaid {
		paid := true
		update.SetPaid = &paid
		update.TransactionID = pi.ID
	}
	if _, err := s.orders.UpdateOrder(ctx, orderID, update); err != nil {
		s.metrics.WebhookEvent("stripe", string(event.Type), "error")
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("update order %d", orderID))
	}

	if _, err := s.orders.AddOrderNote(ctx, orderID, noteFor(t, &pi), false); err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "stripe.webhook.note_failed")
	}

	if t.setPaid && s.reconciliations != nil {
		resolved, err := s.reconciliations.ResolveByPaymentIntent(ctx, pi.ID, resolvedBy)
		switch {
		case err != nil:
			s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "stripe.webhook.reconciliation_resolve_failed")
		case resolved:
			s.logg.Info(ctx, "stripe.webhook.reconciliation_resolved")
		}
	}

	s.metrics.WebhookEvent("stripe", string(event.Type), "processed")
	s.logg.Info(s.logg.WithField(ctx, "order_status", t.status), "stripe.webhook.order_updated")
	return nil
}

func noteFor(t transition, pi *stripe.PaymentIntent) string {
	note := fmt.Sprintf("%s. PaymentIntent: %s", t.note, pi.ID)
	if t.status == "failed" && pi.LastPaymentError != nil && pi.LastPaymentError.Msg != "" {
		note += ". Reason: " + pi.LastPaymentError.Msg
	}
	return note
}
