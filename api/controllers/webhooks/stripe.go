package webhooks

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"

	"github.com/idealindiska/livs-backend/api/responses"
	pkgerrors "github.com/idealindiska/livs-backend/pkg/errors"
	"github.com/idealindiska/livs-backend/pkg/logger"
)

const maxStripePayload = int64(65536)

type StripeWebhookService interface {
	HandleEvent(ctx context.Context, event *stripe.Event) error
}

type stripeWebhookGuard interface {
	Claim(ctx context.Context, eventID string) (bool, error)
	Release(ctx context.Context, eventID string) error
}

type stripeClient interface {
	SigningSecret() string
}

type stripeAck struct {
	Received  bool `json:"received"`
	Duplicate bool `json:"duplicate,omitempty"`
}

// StripeWebhook verifies and dispatches Stripe payment events. Once the
// signature and payload are accepted it always answers 200: processing
// failures are logged and the event id released so a manual resend is
// handled again.
func StripeWebhook(svc StripeWebhookService, client stripeClient, guard stripeWebhookGuard, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}
		if client == nil || client.SigningSecret() == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "stripe webhook secret not configured"))
			return
		}

		payload, err := io.ReadAll(io.LimitReader(r.Body, maxStripePayload))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}

		sigHeader := strings.TrimSpace(r.Header.Get("Stripe-Signature"))
		if sigHeader == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "stripe signature missing"))
			return
		}
		if err := webhook.ValidatePayload(payload, sigHeader, client.SigningSecret()); err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid stripe signature"))
			return
		}

		var event stripe.Event
		if err := json.Unmarshal(payload, &event); err != nil || event.ID == "" {
			if err == nil {
				err = pkgerrors.New(pkgerrors.CodeValidation, "event id missing")
			}
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "malformed stripe event"))
			return
		}

		if logg != nil {
			ctx = logg.WithFields(ctx, map[string]any{"event_id": event.ID, "event_type": string(event.Type)})
		}

		claimed := true
		if guard != nil {
			ok, err := guard.Claim(ctx, event.ID)
			switch {
			case err != nil:
				if logg != nil {
					logg.Warn(logg.WithField(ctx, "error", err.Error()), "webhook.stripe.guard_unavailable")
				}
				claimed = false
			case !ok:
				if logg != nil {
					logg.Info(ctx, "webhook.stripe.duplicate")
				}
				responses.WriteSuccess(w, stripeAck{Received: true, Duplicate: true})
				return
			}
		}

		if err := svc.HandleEvent(ctx, &event); err != nil {
			if guard != nil && claimed {
				if releaseErr := guard.Release(ctx, event.ID); releaseErr != nil && logg != nil {
					logg.Warn(logg.WithField(ctx, "error", releaseErr.Error()), "webhook.stripe.release_failed")
				}
			}
			if logg != nil {
				logg.Error(ctx, "webhook.stripe.processing_failed", err)
			}
			responses.WriteSuccess(w, stripeAck{Received: true})
			return
		}

		if logg != nil {
			logg.Info(ctx, "webhook.stripe.processed")
		}
		responses.WriteSuccess(w, stripeAck{Received: true})
	}
}
