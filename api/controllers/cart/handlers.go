package cart

import (
	"net/http"
	"strings"


	"github.com/idealindiska/livs-backend/api/middleware"
	"github.com/idealindiska/livs-backend/api/responses"
	"github.com/idealindiska/livs-backend/api/validators"
	cartsvc "github.com/idealindiska/livs-backend/internal/cart"
	"github.com/idealindiska/livs-backend/internal/shipping"
	pkgerrors "github.com/idealindiska/livs-backend/pkg/errors"
	"github.com/idealindiska/livs-backend/pkg/logger"
)

// CartFetch renders the session's cart.
func CartFetch(svc cartsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !ready(svc, logg, w, r) {
			return
		}
		view, err := svc.Get(r.Context(), session(r))
		write(logg, w, r, view, err)
	}
}

// CartAddItem adds a product (or variation) to the cart.
func CartAddItem(svc cartsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !ready(svc, logg, w, r) {
			return
		}
		var payload cartsvc.AddItemInput
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		view, err := svc.AddItem(r.Context(), session(r), payload)
		write(logg, w, r, view, err)
	}
}

// CartUpdateItem sets a line quantity; zero removes the line.
func CartUpdateItem(svc cartsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !ready(svc, logg, w, r) {
			return
		}
		key, ok := itemKey(logg, w, r)
		if !ok {
			return
		}
		var payload updateQuantityRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		view, err := svc.UpdateQuantity(r.Context(), session(r), key, *payload.Quantity)
		write(logg, w, r, view, err)
	}
}

// CartRemoveItem drops a line. Unknown keys leave the cart unchanged.
func CartRemoveItem(svc cartsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !ready(svc, logg, w, r) {
			return
		}
		key, ok := itemKey(logg, w, r)
		if !ok {
			return
		}
		view, err := svc.RemoveItem(r.Context(), session(r), key)
		write(logg, w, r, view, err)
	}
}

// CartClear empties the cart.
func CartClear(svc cartsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !ready(svc, logg, w, r) {
			return
		}
		view, err := svc.Clear(r.Context(), session(r))
		write(logg, w, r, view, err)
	}
}

// CartSetShippingAddress replaces the destination and recalculates shipping.
func CartSetShippingAddress(svc cartsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !ready(svc, logg, w, r) {
			return
		}
		var payload shipping.Address
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		view, err := svc.SetShippingAddress(r.Context(), session(r), payload)
		write(logg, w, r, view, err)
	}
}

// CartCalculateShipping recalculates shipping for the stored address.
func CartCalculateShipping(svc cartsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !ready(svc, logg, w, r) {
			return
		}
		view, err := svc.CalculateShipping(r.Context(), session(r))
		write(logg, w, r, view, err)
	}
}

// CartSelectShippingMethod picks one of the available shipping methods.
func CartSelectShippingMethod(svc cartsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !ready(svc, logg, w, r) {
			return
		}
		var payload selectMethodRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		view, err := svc.SelectShippingMethod(r.Context(), session(r), strings.TrimSpace(payload.MethodID))
		write(logg, w, r, view, err)
	}
}

// CartClearShipping drops the address, methods and selection.
func CartClearShipping(svc cartsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !ready(svc, logg, w, r) {
			return
		}
		view, err := svc.ClearShipping(r.Context(), session(r))
		write(logg, w, r, view, err)
	}
}

func ready(svc cartsvc.Service, logg *logger.Logger, w http.ResponseWriter, r *http.Request) bool {
	if svc == nil {
		responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "cart service unavailable"))
		return false
	}
	if session(r) == "" {
		responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "cart session required"))
		return false
	}
	return true
}

func session(r *http.Request) string {
	return middleware.CartSessionFromContext(r.Context())
}

func itemKey(logg *logger.Logger, w http.ResponseWriter, r *http.Request) (string, bool) {
	key, err := validators.ParseURLToken(r, "key", validators.CartItemKey)
	if err != nil {
		responses.WriteError(r.Context(), logg, w, err)
		return "", false
	}
	return key, true
}

func write(logg *logger.Logger, w http.ResponseWriter, r *http.Request, view *cartsvc.View, err error) {
	if err != nil {
		responses.WriteError(r.Context(), logg, w, err)
		return
	}
	responses.WriteSuccess(w, view)
}
