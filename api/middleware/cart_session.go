package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/idealindiska/livs-backend/api/responses"
	pkgAuth "github.com/idealindiska/livs-backend/pkg/auth"
	"github.com/idealindiska/livs-backend/pkg/config"
	pkgerrors "github.com/idealindiska/livs-backend/pkg/errors"
	"github.com/idealindiska/livs-backend/pkg/logger"
)

// CartTokenHeader carries the signed cart session token in both directions.
const CartTokenHeader = "X-Cart-Token"

// CartSession resolves the shopper's cart session from X-Cart-Token. A new
// session is minted when the header is absent or no longer valid, and the
// token in use is always echoed on the response.
func CartSession(cfg config.CommerceConfig, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			raw := strings.TrimSpace(r.Header.Get(CartTokenHeader))

			var sessionID string
			if raw != "" {
				claims, err := pkgAuth.ParseCartToken(cfg, raw)
				if err == nil {
					sessionID = claims.SessionID.String()
				} else if logg != nil {
					logg.Warn(logg.WithField(ctx, "error", err.Error()), "cart_session.token_rejected")
				}
			}

			if sessionID == "" {
				id := uuid.New()
				token, err := pkgAuth.MintCartToken(cfg, time.Now().UTC(), id)
				if err != nil {
					responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mint cart session"))
					return
				}
				sessionID = id.String()
				raw = token
			}

			w.Header().Set(CartTokenHeader, raw)

			ctx = WithCartSession(ctx, sessionID)
			if logg != nil {
				ctx = logg.WithCartSession(ctx, sessionID)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
