package controllers

import (
	"net/http"

	"github.com/idealindiska/livs-backend/api/middleware"
	"github.com/idealindiska/livs-backend/api/responses"
	"github.com/idealindiska/livs-backend/api/validators"
	"github.com/idealindiska/livs-backend/internal/bundles"
	pkgerrors "github.com/idealindiska/livs-backend/pkg/errors"
	"github.com/idealindiska/livs-backend/pkg/logger"
)

// BundleList returns the visible bundle offers priced against live products.
func BundleList(svc bundles.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "bundle service unavailable"))
			return
		}
		offers, err := svc.List(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, offers)
	}
}

// BundleAddToCart adds every line of a bundle at its allocated price.
func BundleAddToCart(svc bundles.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "bundle service unavailable"))
			return
		}
		id, err := validators.ParseURLToken(r, "bundleId", validators.Slug)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		view, err := svc.AddToCart(r.Context(), middleware.CartSessionFromContext(r.Context()), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, view)
	}
}
