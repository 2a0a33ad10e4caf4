package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/idealindiska/livs-backend/pkg/config"
)

var jwtSigningMethod = jwt.SigningMethodHS256

// MintCartToken issues a signed cart token for sessionID valid for the
// configured cart TTL.
func MintCartToken(cfg config.CommerceConfig, now time.Time, sessionID uuid.UUID) (string, error) {
	if cfg.CartSessionSecret == "" {
		return "", fmt.Errorf("cart session secret is required")
	}
	if cfg.CartSessionIssuer == "" {
		return "", fmt.Errorf("cart session issuer is required")
	}
	if cfg.CartTTL <= 0 {
		return "", fmt.Errorf("cart ttl must be positive")
	}
	if sessionID == uuid.Nil {
		return "", fmt.Errorf("cart session id is required")
	}

	claims := CartTokenClaims{
		SessionID: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.CartSessionIssuer,
			Subject:   sessionID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(cfg.CartTTL)),
			ID:        uuid.NewString(),
		},
	}

	token := jwt.NewWithClaims(jwtSigningMethod, claims)
	signed, err := token.SignedString([]byte(cfg.CartSessionSecret))
	if err != nil {
		return "", fmt.Errorf("signing cart token: %w", err)
	}
	return signed, nil
}

// ParseCartToken validates the token string and returns typed claims.
func ParseCartToken(cfg config.CommerceConfig, tokenString string) (*CartTokenClaims, error) {
	if cfg.CartSessionSecret == "" {
		return nil, fmt.Errorf("cart session secret is required")
	}
	claims := &CartTokenClaims{}
	_, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		func(token *jwt.Token) (interface{}, error) {
			if token.Method != jwtSigningMethod {
				return nil, fmt.Errorf("unexpected signing method %s", token.Header["alg"])
			}
			return []byte(cfg.CartSessionSecret), nil
		},
		jwt.WithValidMethods([]string{jwtSigningMethod.Alg()}),
		jwt.WithIssuer(cfg.CartSessionIssuer),
	)
	if err != nil {
		return nil, err
	}
	if claims.SessionID == uuid.Nil || claims.Subject != claims.SessionID.String() {
		return nil, fmt.Errorf("cart token subject mismatch")
	}
	return claims, nil
}
