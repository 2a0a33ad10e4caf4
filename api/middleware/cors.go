package middleware

import (
	"net/http"
	"slices"
	"strings"

	"github.com/go-chi/cors"
)

var defaultCORSOrigins = []string{
	"http://localhost:3000", // local dev
	"https://idealindiska.se",
	"https://www.idealindiska.se",
}

// CORS returns middleware that applies the API's allowed origin policy.
// Extra origins (for example preview deployments) are appended to the
// defaults.
func CORS(extra ...string) func(http.Handler) http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins: allowedOrigins(extra),
		AllowedMethods: []string{
			http.MethodGet, http.MethodPost, http.MethodPut,
			http.MethodPatch, http.MethodDelete, http.MethodOptions,
		},
		AllowedHeaders: []string{
			"Accept", "Authorization", "Content-Type", "X-Requested-With",
			CartTokenHeader, IdempotencyKeyHeader, RequestIDHeader,
		},
		ExposedHeaders:   []string{CartTokenHeader, RequestIDHeader, ReplayedHeader, "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}).Handler
}

func allowedOrigins(extra []string) []string {
	out := append([]string{}, defaultCORSOrigins...)
	for _, origin := range extra {
		origin = strings.TrimRight(strings.TrimSpace(origin), "/")
		if origin != "" && !slices.Contains(out, origin) {
			out = append(out, origin)
		}
	}
	return out
}
