package woocommerce

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/idealindiska/livs-backend/pkg/config"
	pkgerrors "github.com/idealindiska/livs-backend/pkg/errors"
	"github.com/idealindiska/livs-backend/pkg/metrics"
)

// restPath is the WooCommerce REST API v3 base path.
const restPath = "/wp-json/wc/v3"

// userAgent identifies this client; WooCommerce hosts behind a WAF tend to
// throttle requests without one.
const userAgent = "livs-backend/1.0"

const maxPerPage = 100

// Client talks to the WooCommerce REST API using consumer key/secret Basic auth.
type Client struct {
	httpClient     *http.Client
	baseURL        string
	consumerKey    string
	consumerSecret string
	metrics        *metrics.Commerce
}

// New builds a client from configuration. m may be nil.
func New(cfg config.WooCommerceConfig, m *metrics.Commerce) (*Client, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("woocommerce url is required")
	}
	if cfg.ConsumerKey == "" || cfg.ConsumerSecret == "" {
		return nil, fmt.Errorf("woocommerce consumer credentials are required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		httpClient:     &http.Client{Timeout: timeout},
		baseURL:        strings.TrimSuffix(strings.TrimSpace(cfg.URL), "/"),
		consumerKey:    cfg.ConsumerKey,
		consumerSecret: cfg.ConsumerSecret,
		metrics:        m,
	}, nil
}

// ListParams filters GET /products.
type ListParams struct {
	Include  []int64
	Category int64
	Search   string
	Status   string
	Page     int
	PerPage  int
}

func (p ListParams) values() url.Values {
	q := url.Values{}
	if len(p.Include) > 0 {
		ids := make([]string, 0, len(p.Include))
		for _, id := range p.Include {
			ids = append(ids, strconv.FormatInt(id, 10))
		}
		q.Set("include", strings.Join(ids, ","))
	}
	if p.Category > 0 {
		q.Set("category", strconv.FormatInt(p.Category, 10))
	}
	if p.Search != "" {
		q.Set("search", p.Search)
	}
	status := p.Status
	if status == "" {
		status = "publish"
	}
	q.Set("status", status)
	if p.Page > 0 {
		q.Set("page", strconv.Itoa(p.Page))
	}
	perPage := p.PerPage
	if perPage <= 0 || perPage > maxPerPage {
		perPage = maxPerPage
	}
	q.Set("per_page", strconv.Itoa(perPage))
	return q
}

func (c *Client) GetProduct(ctx context.Context, id int64) (*Product, error) {
	var out Product
	if err := c.do(ctx, "get_product", http.MethodGet, fmt.Sprintf("/products/%d", id), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListProducts(ctx context.Context, params ListParams) ([]Product, error) {
	var out []Product
	if err := c.do(ctx, "list_products", http.MethodGet, "/products", params.values(), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetVariation(ctx context.Context, productID, variationID int64) (*Variation, error) {
	var out Variation
	path := fmt.Sprintf("/products/%d/variations/%d", productID, variationID)
	if err := c.do(ctx, "get_variation", http.MethodGet, path, nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CreateOrder(ctx context.Context, order NewOrder) (*Order, error) {
	var out Order
	if err := c.do(ctx, "create_order", http.MethodPost, "/orders", nil, order, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetOrder(ctx context.Context, id int64) (*Order, error) {
	var out Order
	if err := c.do(ctx, "get_order", http.MethodGet, fmt.Sprintf("/orders/%d", id), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdateOrder(ctx context.Context, id int64, update OrderUpdate) (*Order, error) {
	var out Order
	if err := c.do(ctx, "update_order", http.MethodPut, fmt.Sprintf("/orders/%d", id), nil, update, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdateOrderStatus(ctx context.Context, id int64, status string) (*Order, error) {
	return c.UpdateOrder(ctx, id, OrderUpdate{Status: status})
}

// AddOrderNote appends a private (or customer-visible) note to an order.
func (c *Client) AddOrderNote(ctx context.Context, id int64, note string, customerNote bool) (*OrderNote, error) {
	var out OrderNote
	body := OrderNote{Note: note, CustomerNote: customerNote}
	if err := c.do(ctx, "add_order_note", http.MethodPost, fmt.Sprintf("/orders/%d/notes", id), nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetGeneralSettings(ctx context.Context) ([]Setting, error) {
	var out []Setting
	if err := c.do(ctx, "get_settings", http.MethodGet, "/settings/general", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ListShippingZones(ctx context.Context) ([]ShippingZone, error) {
	var out []ShippingZone
	if err := c.do(ctx, "list_shipping_zones", http.MethodGet, "/shipping/zones", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ListShippingZoneLocations(ctx context.Context, zoneID int64) ([]ShippingZoneLocation, error) {
	var out []ShippingZoneLocation
	path := fmt.Sprintf("/shipping/zones/%d/locations", zoneID)
	if err := c.do(ctx, "list_shipping_zone_locations", http.MethodGet, path, nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ListShippingZoneMethods(ctx context.Context, zoneID int64) ([]ShippingZoneMethod, error) {
	var out []ShippingZoneMethod
	path := fmt.Sprintf("/shipping/zones/%d/methods", zoneID)
	if err := c.do(ctx, "list_shipping_zone_methods", http.MethodGet, path, nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ListPaymentGateways(ctx context.Context) ([]PaymentGateway, error) {
	var out []PaymentGateway
	if err := c.do(ctx, "list_payment_gateways", http.MethodGet, "/payment_gateways", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetCouponByCode looks a coupon up by its code. Unknown codes return NOT_FOUND.
func (c *Client) GetCouponByCode(ctx context.Context, code string) (*Coupon, error) {
	var out []Coupon
	q := url.Values{}
	q.Set("code", code)
	if err := c.do(ctx, "get_coupon", http.MethodGet, "/coupons", q, nil, &out); err != nil {
		return nil, err
	}
	for i := range out {
		if strings.EqualFold(out[i].Code, code) {
			return &out[i], nil
		}
	}
	return nil, pkgerrors.New(pkgerrors.CodeNotFound, "coupon not found")
}

func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, body, out any) error {
	var bodyReader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling %s request: %w", op, err)
		}
		bodyReader = bytes.NewReader(payload)
	}

	endpoint := c.baseURL + restPath + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, bodyReader)
	if err != nil {
		return fmt.Errorf("creating %s request: %w", op, err)
	}
	req.SetBasicAuth(c.consumerKey, c.consumerSecret)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	c.metrics.ObserveUpstream("woocommerce", op, time.Since(start))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "woocommerce unreachable")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reading woocommerce response")
	}

	if resp.StatusCode >= 400 {
		return parseErrorResponse(resp.StatusCode, respBody)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("malformed woocommerce %s response", op))
	}
	return nil
}

func parseErrorResponse(status int, body []byte) error {
	var wcErr apiError
	_ = json.Unmarshal(body, &wcErr)

	switch status {
	case http.StatusNotFound:
		msg := wcErr.Message
		if msg == "" {
			msg = "resource not found"
		}
		return pkgerrors.New(pkgerrors.CodeNotFound, msg)
	case http.StatusUnauthorized, http.StatusForbidden:
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "woocommerce authentication failed")
	case http.StatusBadRequest:
		msg := wcErr.Message
		if msg == "" {
			msg = "invalid request"
		}
		return pkgerrors.New(pkgerrors.CodeValidation, msg).WithDetails(map[string]any{"upstream_code": wcErr.Code})
	case http.StatusTooManyRequests:
		return pkgerrors.New(pkgerrors.CodeRateLimit, "woocommerce rate limit exceeded")
	default:
		return pkgerrors.Wrap(pkgerrors.CodeDependency,
			fmt.Errorf("status %d: %s - %s", status, wcErr.Code, wcErr.Message),
			"woocommerce request failed")
	}
}
