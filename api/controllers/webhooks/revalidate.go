package webhooks

import (
	"context"
	"io"
	"net/http"

	"github.com/idealindiska/livs-backend/api/responses"
	"github.com/idealindiska/livs-backend/internal/webhooks/revalidate"
	pkgerrors "github.com/idealindiska/livs-backend/pkg/errors"
	"github.com/idealindiska/livs-backend/pkg/logger"
	"github.com/idealindiska/livs-backend/pkg/woocommerce"
)

const maxRevalidatePayload = int64(1 << 20)

type RevalidateService interface {
	Handle(ctx context.Context, d revalidate.Delivery) (*revalidate.Result, error)
}

// Revalidate accepts signed WooCommerce deliveries and shared-secret custom
// payloads and drops the cache entries they name.
func Revalidate(svc RevalidateService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "revalidation unavailable"))
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxRevalidatePayload))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}

		result, err := svc.Handle(ctx, revalidate.Delivery{
			Body:      body,
			Signature: r.Header.Get(woocommerce.SignatureHeader),
			Topic:     r.Header.Get(woocommerce.TopicHeader),
			Secret:    r.Header.Get(revalidate.SecretHeader),
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}
