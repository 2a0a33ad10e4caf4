package reconcile

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/idealindiska/livs-backend/pkg/db"
	"github.com/idealindiska/livs-backend/pkg/db/models"
)

// Repository stores payments that were captured but whose order could not
// be marked paid.
type Repository interface {
	Record(ctx context.Context, rec *models.PaymentReconciliation) (*models.PaymentReconciliation, error)
	ListOpen(ctx context.Context, limit int) ([]models.PaymentReconciliation, error)
	FindOpenByPaymentIntent(ctx context.Context, paymentIntentID string) (*models.PaymentReconciliation, error)
	ResolveByPaymentIntent(ctx context.Context, paymentIntentID, resolvedBy string) (bool, error)
}

type repository struct {
	db  *gorm.DB
	now func() time.Time
}

// NewRepository builds a reconciliation repository bound to the provided DB.
func NewRepository(conn *gorm.DB) Repository {
	return &repository{db: conn, now: time.Now}
}

// Record inserts an open record. A payment intent has at most one open
// record; recording it again returns the existing row.
func (r *repository) Record(ctx context.Context, rec *models.PaymentReconciliation) (*models.PaymentReconciliation, error) {
	existing, err := r.FindOpenByPaymentIntent(ctx, rec.PaymentIntentID)
	if err == nil {
		return existing, nil
	}
	if !db.IsNotFound(err) {
		return nil, err
	}
	rec.Status = models.ReconciliationOpen
	if err := r.db.WithContext(ctx).Create(rec).Error; err != nil {
		if db.IsUniqueViolation(err, "") {
			return r.FindOpenByPaymentIntent(ctx, rec.PaymentIntentID)
		}
		return nil, err
	}
	return rec, nil
}

func (r *repository) ListOpen(ctx context.Context, limit int) ([]models.PaymentReconciliation, error) {
	if limit <= 0 || limit > 200 {
		limit = 200
	}
	var rows []models.PaymentReconciliation
	err := r.db.WithContext(ctx).
		Where("status = ?", models.ReconciliationOpen).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) FindOpenByPaymentIntent(ctx context.Context, paymentIntentID string) (*models.PaymentReconciliation, error) {
	var rec models.PaymentReconciliation
	err := r.db.WithContext(ctx).
		Where("payment_intent_id = ? AND status = ?", paymentIntentID, models.ReconciliationOpen).
		First(&rec).Error
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// ResolveByPaymentIntent closes the open record of the payment intent and
// reports whether one existed.
func (r *repository) ResolveByPaymentIntent(ctx context.Context, paymentIntentID, resolvedBy string) (bool, error) {
	now := r.now().UTC()
	res := r.db.WithContext(ctx).
		Model(&models.PaymentReconciliation{}).
		Where("payment_intent_id = ? AND status = ?", paymentIntentID, models.ReconciliationOpen).
		Updates(map[string]any{
			"status":      models.ReconciliationResolved,
			"resolved_by": resolvedBy,
			"resolved_at": now,
			"updated_at":  now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
