package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/idealindiska/livs-backend/api/responses"
	"github.com/idealindiska/livs-backend/api/validators"
	"github.com/idealindiska/livs-backend/pkg/db/models"
	pkgerrors "github.com/idealindiska/livs-backend/pkg/errors"
	"github.com/idealindiska/livs-backend/pkg/logger"
)

type reconciliationLister interface {
	ListOpen(ctx context.Context, limit int) ([]models.PaymentReconciliation, error)
}

type reconciliationResponse struct {
	ID              uuid.UUID `json:"id"`
	OrderID         int64     `json:"order_id"`
	PaymentIntentID string    `json:"payment_intent_id"`
	AmountMinor     int64     `json:"amount_minor"`
	Currency        string    `json:"currency"`
	Reason          string    `json:"reason"`
	Status          string    `json:"status"`
	CreatedAt       time.Time `json:"created_at"`
}

// AdminReconciliations lists captured payments whose orders still need a
// manual update, oldest first.
func AdminReconciliations(repo reconciliationLister, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if repo == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "reconciliation store unavailable"))
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", 50, 1, 200)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		rows, err := repo.ListOpen(r.Context(), limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list reconciliations"))
			return
		}
		out := make([]reconciliationResponse, 0, len(rows))
		for _, row := range rows {
			out = append(out, reconciliationResponse{
				ID:              row.ID,
				OrderID:         row.OrderID,
				PaymentIntentID: row.PaymentIntentID,
				AmountMinor:     row.AmountMinor,
				Currency:        row.Currency,
				Reason:          row.Reason,
				Status:          row.Status,
				CreatedAt:       row.CreatedAt,
			})
		}
		responses.WriteSuccess(w, out)
	}
}
