package webhooks

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/idealindiska/livs-backend/internal/webhooks/revalidate"
	"github.com/idealindiska/livs-backend/pkg/logger"
	"github.com/idealindiska/livs-backend/pkg/woocommerce"
)

type countingCache struct {
	tags []string
}

func (c *countingCache) InvalidateTags(_ context.Context, tags ...string) (int, error) {
	c.tags = append(c.tags, tags...)
	return len(tags), nil
}

func newRevalidateHandler(t *testing.T, cache *countingCache) http.Handler {
	t.Helper()
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	svc, err := revalidate.NewService(revalidate.ServiceParams{
		Cache:         cache,
		WebhookSecret: "wc-secret",
		SharedSecret:  "shared",
		Logger:        logg,
	})
	require.NoError(t, err)
	return Revalidate(svc, logg)
}

func TestRevalidateSignedDelivery(t *testing.T) {
	cache := &countingCache{}
	handler := newRevalidateHandler(t, cache)
	body := []byte(`{"id":42}`)

	req := httptest.NewRequest(http.MethodPost, "/api/revalidate", bytes.NewReader(body))
	req.Header.Set(woocommerce.SignatureHeader, woocommerce.Sign(body, "wc-secret"))
	req.Header.Set(woocommerce.TopicHeader, "product.updated")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"revalidated":true`)
	assert.Contains(t, cache.tags, "product:42")
}

func TestRevalidateStatusCodes(t *testing.T) {
	cases := []struct {
		name   string
		body   string
		header map[string]string
		want   int
	}{
		{name: "no auth", body: `{"type":"product"}`, want: http.StatusUnauthorized},
		{name: "bad secret", body: `{"type":"product"}`, header: map[string]string{revalidate.SecretHeader: "nope"}, want: http.StatusUnauthorized},
		{name: "malformed", body: `{"type":`, header: map[string]string{revalidate.SecretHeader: "shared"}, want: http.StatusBadRequest},
		{name: "custom ok", body: `{"type":"promotion"}`, header: map[string]string{revalidate.SecretHeader: "shared"}, want: http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			handler := newRevalidateHandler(t, &countingCache{})
			req := httptest.NewRequest(http.MethodPost, "/api/revalidate", bytes.NewBufferString(tc.body))
			for k, v := range tc.header {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, tc.want, rec.Code)
		})
	}
}
