package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/idealindiska/livs-backend/pkg/logger"
	pkgredis "github.com/idealindiska/livs-backend/pkg/redis"
)

const cacheStatusHeader = "X-Cache"

type responseStore interface {
	Get(ctx context.Context, key string) (string, error)
	SetTagged(ctx context.Context, key string, value any, ttl time.Duration, tags ...string) error
	CacheKey(parts ...string) string
}

// TagFunc names the cache tags of a request besides its path tag.
type TagFunc func(r *http.Request) []string

// ResponseCache stores successful GET responses in redis, tagged with the
// request path so revalidation webhooks can drop them. Cache failures never
// fail the request.
func ResponseCache(store responseStore, ttl time.Duration, tags TagFunc, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if store == nil || ttl <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()
			key := store.CacheKey("response", r.URL.RequestURI())

			cached, err := store.Get(ctx, key)
			switch {
			case err == nil && cached != "":
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set(cacheStatusHeader, "HIT")
				w.WriteHeader(http.StatusOK)
				_, _ = w.Write([]byte(cached))
				return
			case err != nil && !errors.Is(err, redis.Nil) && logg != nil:
				logg.Warn(logg.WithField(ctx, "error", err.Error()), "response_cache.read_failed")
			}

			w.Header().Set(cacheStatusHeader, "MISS")
			rec := &responseCapture{ResponseWriter: w}
			next.ServeHTTP(rec, r)
			if rec.statusCode() != http.StatusOK || rec.body.Len() == 0 {
				return
			}

			entryTags := []string{pkgredis.PathTag(r.URL.Path)}
			if tags != nil {
				entryTags = append(entryTags, tags(r)...)
			}
			if err := store.SetTagged(ctx, key, rec.body.String(), ttl, entryTags...); err != nil && logg != nil {
				logg.Warn(logg.WithField(ctx, "error", err.Error()), "response_cache.write_failed")
			}
		})
	}
}

// StaticTags tags every response with the same tags.
func StaticTags(tags ...string) TagFunc {
	return func(*http.Request) []string {
		return tags
	}
}
