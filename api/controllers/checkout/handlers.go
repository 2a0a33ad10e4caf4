package checkout

import (
	"context"
	"net/http"

	"github.com/idealindiska/livs-backend/api/middleware"
	"github.com/idealindiska/livs-backend/api/responses"
	"github.com/idealindiska/livs-backend/api/validators"
	cartsvc "github.com/idealindiska/livs-backend/internal/cart"
	"github.com/idealindiska/livs-backend/internal/catalog"
	checkoutsvc "github.com/idealindiska/livs-backend/internal/checkout"
	pkgerrors "github.com/idealindiska/livs-backend/pkg/errors"
	"github.com/idealindiska/livs-backend/pkg/logger"
)

type gatewayLister interface {
	PaymentGateways(ctx context.Context) []catalog.Gateway
}

type couponValidator interface {
	ValidateCoupon(ctx context.Context, input catalog.CouponInput) *catalog.CouponResult
}

type cartReader interface {
	Get(ctx context.Context, session string) (*cartsvc.View, error)
}

// PaymentMethods lists the gateways offered at checkout.
func PaymentMethods(svc gatewayLister, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "catalog service unavailable"))
			return
		}
		responses.WriteSuccess(w, map[string]any{"gateways": svc.PaymentGateways(r.Context())})
	}
}

// CouponValidate checks a coupon against the session cart's subtotal.
func CouponValidate(coupons couponValidator, carts cartReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if coupons == nil || carts == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "coupon service unavailable"))
			return
		}
		var payload couponRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		input := catalog.CouponInput{Code: payload.Code, Email: payload.Email}
		if session := middleware.CartSessionFromContext(r.Context()); session != "" {
			view, err := carts.Get(r.Context(), session)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
			input.Subtotal = view.Subtotal
		}
		responses.WriteSuccess(w, coupons.ValidateCoupon(r.Context(), input))
	}
}

// WhatsAppOrder places a pending order and returns the WhatsApp hand-off link.
func WhatsAppOrder(svc checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		input, ok := orderInput(svc, logg, w, r)
		if !ok {
			return
		}
		responses.WriteResult(w, svc.CreateWhatsAppOrder(r.Context(), middleware.CartSessionFromContext(r.Context()), input))
	}
}

// PaymentIntent places a pending order and opens a Stripe PaymentIntent for it.
func PaymentIntent(svc checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		input, ok := orderInput(svc, logg, w, r)
		if !ok {
			return
		}
		responses.WriteResult(w, svc.CreatePayment(r.Context(), middleware.CartSessionFromContext(r.Context()), input))
	}
}

// StripeReturn reports the payment outcome after a redirect back from Stripe.
func StripeReturn(svc checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}
		id := validators.SanitizeString(r.URL.Query().Get("payment_intent"), 255)
		status, err := svc.ConfirmReturn(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, status)
	}
}

// MarkPaid moves the order of a succeeded payment to processing.
func MarkPaid(svc checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}
		orderID, err := validators.ParseURLID(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload markPaidRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		result, err := svc.MarkPaid(r.Context(), middleware.CartSessionFromContext(r.Context()), orderID, payload.PaymentIntentID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

func orderInput(svc checkoutsvc.Service, logg *logger.Logger, w http.ResponseWriter, r *http.Request) (checkoutsvc.OrderInput, bool) {
	var input checkoutsvc.OrderInput
	if svc == nil {
		responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
		return input, false
	}
	if middleware.CartSessionFromContext(r.Context()) == "" {
		responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "cart session required"))
		return input, false
	}
	if err := validators.DecodeJSONBody(r, &input); err != nil {
		responses.WriteError(r.Context(), logg, w, err)
		return input, false
	}
	input.UserAgent = r.UserAgent()
	return input, true
}
