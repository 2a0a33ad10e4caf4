package cron

import (
	"context"
	"fmt"

	"github.com/stripe/stripe-go/v84"
	"go.uber.org/multierr"

	"github.com/idealindiska/livs-backend/pkg/db/models"
	"github.com/idealindiska/livs-backend/pkg/logger"
	"github.com/idealindiska/livs-backend/pkg/woocommerce"
)

const (
	reconciliationJobName  = "payment_reconciliation"
	reconciliationResolver = "cron:payment_reconciliation"
	defaultReconcileBatch  = 50
)

type reconciliationStore interface {
	ListOpen(ctx context.Context, limit int) ([]models.PaymentReconciliation, error)
	ResolveByPaymentIntent(ctx context.Context, paymentIntentID, resolvedBy string) (bool, error)
}

type paymentReader interface {
	GetPaymentIntent(ctx context.Context, id string) (*stripe.PaymentIntent, error)
}

type paidOrderWriter interface {
	UpdateOrder(ctx context.Context, id int64, update woocommerce.OrderUpdate) (*woocommerce.Order, error)
	AddOrderNote(ctx context.Context, id int64, note string, customerNote bool) (*woocommerce.OrderNote, error)
}

// ReconciliationJobParams configure the payment reconciliation retry.
type ReconciliationJobParams struct {
	Logger          *logger.Logger
	Reconciliations reconciliationStore
	Payments        paymentReader
	Orders          paidOrderWriter
	BatchSize       int
}

// NewReconciliationJob builds the job that retries marking captured payments
// paid on their WooCommerce orders.
func NewReconciliationJob(params ReconciliationJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Reconciliations == nil {
		return nil, fmt.Errorf("reconciliation store required")
	}
	if params.Payments == nil {
		return nil, fmt.Errorf("payment reader required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("order writer required")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultReconcileBatch
	}
	return &reconciliationJob{
		logg:            params.Logger,
		reconciliations: params.Reconciliations,
		payments:        params.Payments,
		orders:          params.Orders,
		batch:           batch,
	}, nil
}

type reconciliationJob struct {
	logg            *logger.Logger
	reconciliations reconciliationStore
	payments        paymentReader
	orders          paidOrderWriter
	batch           int
}

func (j *reconciliationJob) Name() string { return reconciliationJobName }

// Run retries every open record of the batch. A failing record does not stop
// the others; all failures are returned together.
func (j *reconciliationJob) Run(ctx context.Context) error {
	open, err := j.reconciliations.ListOpen(ctx, j.batch)
	if err != nil {
		return fmt.Errorf("list open reconciliations: %w", err)
	}

	var (
		errs     error
		resolved int
	)
	for _, rec := range open {
		ok, err := j.retry(ctx, rec)
		errs = multierr.Append(errs, err)
		if ok {
			resolved++
		}
	}
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"open":     len(open),
		"resolved": resolved,
	}), "cron.reconciliation.batch_done")
	return errs
}

func (j *reconciliationJob) retry(ctx context.Context, rec models.PaymentReconciliation) (bool, error) {
	ctx = j.logg.WithOrderID(j.logg.WithPaymentIntentID(ctx, rec.PaymentIntentID), rec.OrderID)

	pi, err := j.payments.GetPaymentIntent(ctx, rec.PaymentIntentID)
	if err != nil {
		return false, fmt.Errorf("payment intent %s: %w", rec.PaymentIntentID, err)
	}
	if pi.Status != stripe.PaymentIntentStatusSucceeded {
		j.logg.Warn(j.logg.WithField(ctx, "status", string(pi.Status)), "cron.reconciliation.not_succeeded")
		return false, nil
	}

	paid := true
	if _, err := j.orders.UpdateOrder(ctx, rec.OrderID, woocommerce.OrderUpdate{
		Status:        "processing",
		SetPaid:       &paid,
		TransactionID: pi.ID,
	}); err != nil {
		return false, fmt.Errorf("order %d: %w", rec.OrderID, err)
	}
	if _, err := j.orders.AddOrderNote(ctx, rec.OrderID, fmt.Sprintf("Payment reconciled automatically. PaymentIntent: %s", pi.ID), false); err != nil {
		j.logg.Warn(j.logg.WithField(ctx, "error", err.Error()), "cron.reconciliation.note_failed")
	}
	if _, err := j.reconciliations.ResolveByPaymentIntent(ctx, pi.ID, reconciliationResolver); err != nil {
		return false, fmt.Errorf("resolve %s: %w", pi.ID, err)
	}
	j.logg.Info(ctx, "cron.reconciliation.resolved")
	return true, nil
}
