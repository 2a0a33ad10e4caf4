package controllers

import (
	"context"
	"net/http"

	"github.com/idealindiska/livs-backend/api/responses"
	"github.com/idealindiska/livs-backend/api/validators"
	"github.com/idealindiska/livs-backend/internal/shipping"
	pkgerrors "github.com/idealindiska/livs-backend/pkg/errors"
	"github.com/idealindiska/livs-backend/pkg/logger"
)

type restrictionChecker interface {
	Check(ctx context.Context, lines []shipping.Line, dest shipping.Address) shipping.Result
}

type restrictionRequest struct {
	Lines   []shipping.Line  `json:"lines" validate:"required,min=1,max=100,dive"`
	Address shipping.Address `json:"address"`
}

// ShippingRestrictions reports which products cannot be delivered to an
// address. Upstream failures answer a degraded but valid result.
func ShippingRestrictions(checker restrictionChecker, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "restriction checker unavailable"))
			return
		}
		var payload restrictionRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		result := checker.Check(r.Context(), payload.Lines, payload.Address)
		if result.Degraded && logg != nil {
			ctx := r.Context()
			if result.Cause != nil {
				ctx = logg.WithField(ctx, "error", result.Cause.Error())
			}
			logg.Warn(ctx, "shipping.restrictions.degraded")
		}
		responses.WriteSuccess(w, result)
	}
}
