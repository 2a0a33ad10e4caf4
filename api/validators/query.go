package validators

import (
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	pkgerrors "github.com/idealindiska/livs-backend/pkg/errors"
)

// CartItemKey matches "productId", "productId-variationId" or the bundle line
// keys "productId~bundleId" and "productId~bundleId~part".
var CartItemKey = regexp.MustCompile(`^[1-9][0-9]*(?:-[1-9][0-9]*|~[a-z0-9]+(?:[-_][a-z0-9]+)*(?:~[1-9][0-9]*)?)?$`)

// Slug matches configured identifiers such as bundle ids.
var Slug = regexp.MustCompile(`^[a-z0-9]+(?:[-_][a-z0-9]+)*$`)

// ParseQueryInt reads an optional integer query parameter, falling back to
// def when it is absent.
func ParseQueryInt(r *http.Request, key string, def, min, max int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return def, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, invalidParam(key, "must be a number")
	}
	if value < min || value > max {
		return 0, invalidParam(key, fmt.Sprintf("must be between %d and %d", min, max))
	}
	return value, nil
}

// ParseURLID reads a positive numeric route parameter such as a WooCommerce
// product or order id.
func ParseURLID(r *http.Request, key string) (int64, error) {
	value, err := strconv.ParseInt(strings.TrimSpace(chi.URLParam(r, key)), 10, 64)
	if err != nil || value <= 0 {
		return 0, invalidParam(key, "must be a positive number")
	}
	return value, nil
}

// ParseURLToken reads a route parameter that must match pattern.
func ParseURLToken(r *http.Request, key string, pattern *regexp.Regexp) (string, error) {
	value := strings.TrimSpace(chi.URLParam(r, key))
	if value == "" {
		return "", invalidParam(key, "is required")
	}
	if len(value) > 128 || !pattern.MatchString(value) {
		return "", invalidParam(key, "is malformed")
	}
	return value, nil
}

func invalidParam(key, problem string) error {
	return pkgerrors.New(pkgerrors.CodeValidation, "invalid "+key).
		WithDetails(map[string]any{key: problem})
}
