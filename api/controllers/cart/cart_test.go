package cart

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/idealindiska/livs-backend/api/middleware"
	cartsvc "github.com/idealindiska/livs-backend/internal/cart"
	"github.com/idealindiska/livs-backend/internal/shipping"
	pkgerrors "github.com/idealindiska/livs-backend/pkg/errors"
	"github.com/idealindiska/livs-backend/pkg/logger"
	"github.com/idealindiska/livs-backend/pkg/redis"
	"github.com/idealindiska/livs-backend/pkg/woocommerce"
)

type memoryStore struct {
	data map[string]string
}

func (m *memoryStore) Get(_ context.Context, key string) (string, error) {
	v, ok := m.data[key]
	if !ok {
		return "", redis.Nil
	}
	return v, nil
}

func (m *memoryStore) Set(_ context.Context, key string, value any, _ time.Duration) error {
	m.data[key] = value.(string)
	return nil
}

func (m *memoryStore) SetIfUnchanged(_ context.Context, key, old, value string, _ time.Duration) (bool, error) {
	if cur, ok := m.data[key]; (ok && cur != old) || (!ok && old != "") {
		return false, nil
	}
	m.data[key] = value
	return true, nil
}

func (m *memoryStore) Del(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

func (m *memoryStore) CartKey(sessionID string) string { return "cart:" + sessionID }

type stubProducts struct{}

func (stubProducts) GetProduct(_ context.Context, id int64) (*woocommerce.Product, error) {
	if id != 1 {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "product not found")
	}
	return &woocommerce.Product{
		ID:          1,
		Name:        "Basmati rice",
		Status:      "publish",
		Type:        "simple",
		Price:       woocommerce.MustPrice("49"),
		StockStatus: "instock",
	}, nil
}

func (stubProducts) GetVariation(context.Context, int64, int64) (*woocommerce.Variation, error) {
	return nil, pkgerrors.New(pkgerrors.CodeNotFound, "variation not found")
}

type flatQuoter struct{}

func (flatQuoter) Quote(_ context.Context, req shipping.QuoteRequest) (*shipping.Quote, error) {
	cost := decimal.NewFromInt(49)
	return &shipping.Quote{
		Methods:      []shipping.Method{{ID: "flat_rate:1", MethodID: "flat_rate", Label: "Standard", Cost: cost, TotalCost: cost}},
		Restrictions: shipping.Result{Valid: true, Restricted: []shipping.RestrictedProduct{}},
	}, nil
}

func newRouter(t *testing.T) http.Handler {
	t.Helper()
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	repo, err := cartsvc.NewRepository(&memoryStore{data: map[string]string{}}, time.Hour)
	if err != nil {
		t.Fatalf("repo: %v", err)
	}
	svc, err := cartsvc.NewService(cartsvc.ServiceParams{
		Repo:     repo,
		Products: stubProducts{},
		Quoter:   flatQuoter{},
		Logger:   logg,
	})
	if err != nil {
		t.Fatalf("service: %v", err)
	}

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(middleware.WithCartSession(req.Context(), "session-1")))
		})
	})
	r.Get("/api/cart", CartFetch(svc, logg))
	r.Post("/api/cart/items", CartAddItem(svc, logg))
	r.Patch("/api/cart/items/{key}", CartUpdateItem(svc, logg))
	r.Delete("/api/cart/items/{key}", CartRemoveItem(svc, logg))
	r.Put("/api/cart/shipping-address", CartSetShippingAddress(svc, logg))
	r.Put("/api/cart/shipping-method", CartSelectShippingMethod(svc, logg))
	return r
}

type envelope struct {
	Data  map[string]any `json:"data"`
	Error struct {
		Code string `json:"code"`
	} `json:"error"`
}

func do(t *testing.T, h http.Handler, method, path, body string) (int, envelope) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, reader))
	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode %s %s: %v (%s)", method, path, err, rec.Body.String())
	}
	return rec.Code, env
}

func TestCartLifecycle(t *testing.T) {
	h := newRouter(t)

	code, env := do(t, h, http.MethodPost, "/api/cart/items", `{"product_id":1,"quantity":2}`)
	if code != http.StatusOK {
		t.Fatalf("add item: expected 200 got %d", code)
	}
	if env.Data["total_items"].(float64) != 2 || env.Data["subtotal"] != "98" {
		t.Fatalf("unexpected cart after add: %v", env.Data)
	}

	code, env = do(t, h, http.MethodPatch, "/api/cart/items/1", `{"quantity":3}`)
	if code != http.StatusOK || env.Data["total_items"].(float64) != 3 {
		t.Fatalf("update: code=%d data=%v", code, env.Data)
	}

	code, env = do(t, h, http.MethodPut, "/api/cart/shipping-address", `{"postcode":"11520","city":"Stockholm"}`)
	if code != http.StatusOK {
		t.Fatalf("address: expected 200 got %d", code)
	}
	methods, _ := env.Data["available_shipping_methods"].([]any)
	if len(methods) != 1 {
		t.Fatalf("expected one shipping method, got %v", env.Data["available_shipping_methods"])
	}

	code, _ = do(t, h, http.MethodPut, "/api/cart/shipping-method", `{"method_id":"flat_rate:1"}`)
	if code != http.StatusOK {
		t.Fatalf("select method: expected 200 got %d", code)
	}

	code, env = do(t, h, http.MethodDelete, "/api/cart/items/1", "")
	if code != http.StatusOK || env.Data["total_items"].(float64) != 0 {
		t.Fatalf("remove: code=%d data=%v", code, env.Data)
	}

	code, env = do(t, h, http.MethodGet, "/api/cart", "")
	if code != http.StatusOK || env.Data["total_items"].(float64) != 0 {
		t.Fatalf("fetch: code=%d data=%v", code, env.Data)
	}
}

func TestCartErrors(t *testing.T) {
	h := newRouter(t)

	cases := []struct {
		name   string
		method string
		path   string
		body   string
		status int
		code   pkgerrors.Code
	}{
		{"missing product", http.MethodPost, "/api/cart/items", `{"quantity":1}`, http.StatusBadRequest, pkgerrors.CodeValidation},
		{"unknown product", http.MethodPost, "/api/cart/items", `{"product_id":99}`, http.StatusNotFound, pkgerrors.CodeNotFound},
		{"missing quantity", http.MethodPatch, "/api/cart/items/1", `{}`, http.StatusBadRequest, pkgerrors.CodeValidation},
		{"unknown line", http.MethodPatch, "/api/cart/items/7", `{"quantity":2}`, http.StatusNotFound, pkgerrors.CodeNotFound},
		{"no postcode", http.MethodPut, "/api/cart/shipping-address", `{"city":"Stockholm"}`, http.StatusBadRequest, pkgerrors.CodeValidation},
		{"unknown method", http.MethodPut, "/api/cart/shipping-method", `{"method_id":"pickup"}`, http.StatusNotFound, pkgerrors.CodeNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, env := do(t, h, tc.method, tc.path, tc.body)
			if status != tc.status {
				t.Fatalf("expected %d got %d", tc.status, status)
			}
			if env.Error.Code != string(tc.code) {
				t.Fatalf("expected code %s got %s", tc.code, env.Error.Code)
			}
		})
	}
}

func TestCartRequiresSession(t *testing.T) {
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	repo, _ := cartsvc.NewRepository(&memoryStore{data: map[string]string{}}, time.Hour)
	svc, _ := cartsvc.NewService(cartsvc.ServiceParams{Repo: repo, Products: stubProducts{}, Quoter: flatQuoter{}, Logger: logg})

	rec := httptest.NewRecorder()
	CartFetch(svc, logg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/cart", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a session, got %d", rec.Code)
	}
}
