package auth

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// CartTokenClaims identify an anonymous shopper's cart. The subject is the
// cart session id.
type CartTokenClaims struct {
	SessionID uuid.UUID `json:"cart_session"`
	jwt.RegisteredClaims
}
