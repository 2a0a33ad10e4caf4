package revalidate

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/multierr"

	"github.com/idealindiska/livs-backend/internal/catalog"
	pkgerrors "github.com/idealindiska/livs-backend/pkg/errors"
	"github.com/idealindiska/livs-backend/pkg/logger"
	"github.com/idealindiska/livs-backend/pkg/metrics"
	"github.com/idealindiska/livs-backend/pkg/redis"
	"github.com/idealindiska/livs-backend/pkg/woocommerce"
)

// Scope is the kind of content that changed.
type Scope string

const (
	ScopeProduct   Scope = "product"
	ScopeCategory  Scope = "category"
	ScopeOrder     Scope = "order"
	ScopePromotion Scope = "promotion"
)

const (
	TagCategories = "categories"
	TagOrders     = "orders"
	TagPromotions = "promotions"
	TagBundles    = "bundles"
)

// SecretHeader carries the shared secret of custom deliveries.
const SecretHeader = "X-Webhook-Secret"

// Request is the custom revalidation payload.
type Request struct {
	Type  string   `json:"type"`
	ID    int64    `json:"id,omitempty"`
	Slug  string   `json:"slug,omitempty"`
	Paths []string `json:"paths,omitempty"`
	Tags  []string `json:"tags,omitempty"`
}

// Delivery is one inbound webhook call.
type Delivery struct {
	Body      []byte
	Signature string
	Topic     string
	Secret    string
}

// Plan lists what to drop from the cache.
type Plan struct {
	Scope Scope
	Tags  []string
	Paths []string
}

// Result reports what a delivery invalidated.
type Result struct {
	Revalidated bool     `json:"revalidated"`
	Scope       Scope    `json:"scope,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Paths       []string `json:"paths,omitempty"`
	Entries     int      `json:"entries"`
	Message     string   `json:"message,omitempty"`
}

type tagInvalidator interface {
	InvalidateTags(ctx context.Context, tags ...string) (int, error)
}

type ServiceParams struct {
	Cache         tagInvalidator
	WebhookSecret string
	SharedSecret  string
	Metrics       *metrics.Commerce
	Logger        *logger.Logger
}

// Service authenticates content webhooks and drops the cache entries they
// make stale.
type Service struct {
	cache         tagInvalidator
	webhookSecret string
	sharedSecret  string
	metrics       *metrics.Commerce
	logg          *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Cache == nil {
		return nil, fmt.Errorf("cache required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.WebhookSecret == "" && params.SharedSecret == "" {
		return nil, fmt.Errorf("at least one revalidation secret required")
	}
	return &Service{
		cache:         params.Cache,
		webhookSecret: params.WebhookSecret,
		sharedSecret:  params.SharedSecret,
		metrics:       params.Metrics,
		logg:          params.Logger,
	}, nil
}

// Handle authenticates the delivery, resolves its plan and invalidates it.
// Signed WooCommerce deliveries take precedence over the shared secret.
func (s *Service) Handle(ctx context.Context, d Delivery) (*Result, error) {
	var (
		plan Plan
		err  error
	)
	switch {
	case d.Signature != "":
		if !woocommerce.VerifySignature(d.Body, s.webhookSecret, d.Signature) {
			s.metrics.WebhookEvent("woocommerce", d.Topic, "unauthorized")
			return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid webhook signature")
		}
		if isPing(d.Body) {
			s.metrics.WebhookEvent("woocommerce", "ping", "processed")
			return &Result{Message: "webhook ping acknowledged"}, nil
		}
		var ok bool
		plan, ok, err = planForTopic(d.Topic, d.Body)
		if err != nil {
			return nil, err
		}
		if !ok {
			s.metrics.WebhookEvent("woocommerce", d.Topic, "ignored")
			return &Result{Message: fmt.Sprintf("topic %q ignored", d.Topic)}, nil
		}
	case d.Secret != "":
		if s.sharedSecret == "" || subtle.ConstantTimeCompare([]byte(d.Secret), []byte(s.sharedSecret)) != 1 {
			s.metrics.WebhookEvent("custom", "revalidate", "unauthorized")
			return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid webhook secret")
		}
		var req Request
		if err := json.Unmarshal(d.Body, &req); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "malformed revalidation payload")
		}
		if plan, err = PlanFor(req); err != nil {
			return nil, err
		}
	default:
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "webhook signature or secret required")
	}

	return s.Invalidate(ctx, plan)
}

// Invalidate drops every tag of the plan and the cached responses of its
// paths. All tags are attempted even when some fail.
func (s *Service) Invalidate(ctx context.Context, plan Plan) (*Result, error) {
	tags := append([]string{}, plan.Tags...)
	for _, p := range plan.Paths {
		tags = append(tags, redis.PathTag(p))
	}

	var (
		entries int
		errs    error
	)
	for _, tag := range tags {
		n, err := s.cache.InvalidateTags(ctx, tag)
		entries += n
		errs = multierr.Append(errs, err)
	}
	s.metrics.Invalidated(string(plan.Scope), entries)

	ctx = s.logg.WithFields(ctx, map[string]any{
		"scope":   string(plan.Scope),
		"tags":    plan.Tags,
		"paths":   plan.Paths,
		"entries": entries,
	})
	if errs != nil {
		s.metrics.WebhookEvent("revalidate", string(plan.Scope), "error")
		s.logg.Error(ctx, "revalidate.invalidate_failed", errs)
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, errs, "cache invalidation failed")
	}
	s.metrics.WebhookEvent("revalidate", string(plan.Scope), "processed")
	s.logg.Info(ctx, "revalidate.invalidated")

	return &Result{
		Revalidated: true,
		Scope:       plan.Scope,
		Tags:        plan.Tags,
		Paths:       plan.Paths,
		Entries:     entries,
	}, nil
}

// PlanFor maps a custom payload to its tags and paths. Extra tags and paths
// are added to the scope defaults; a payload without a known type must name
// at least one of them.
func PlanFor(req Request) (Plan, error) {
	plan := scopePlan(Scope(strings.ToLower(strings.TrimSpace(req.Type))), req.ID)
	if plan.Scope == "" && strings.TrimSpace(req.Type) != "" && strings.ToLower(req.Type) != "custom" {
		return Plan{}, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown revalidation type %q", req.Type))
	}
	for _, tag := range req.Tags {
		if tag = strings.TrimSpace(tag); tag != "" {
			plan.Tags = appendUnique(plan.Tags, tag)
		}
	}
	for _, p := range req.Paths {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if !strings.HasPrefix(p, "/") {
			return Plan{}, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("path %q must start with /", p))
		}
		plan.Paths = appendUnique(plan.Paths, p)
	}
	if len(plan.Tags) == 0 && len(plan.Paths) == 0 {
		return Plan{}, pkgerrors.New(pkgerrors.CodeValidation, "type, tags or paths required")
	}
	if plan.Scope == "" {
		plan.Scope = "custom"
	}
	return plan, nil
}

func scopePlan(scope Scope, id int64) Plan {
	switch scope {
	case ScopeProduct:
		plan := Plan{Scope: scope, Tags: []string{catalog.TagProducts}, Paths: []string{}}
		if id > 0 {
			plan.Tags = append(plan.Tags, catalog.ProductTag(id))
			plan.Paths = append(plan.Paths, fmt.Sprintf("/api/products/%d", id))
		}
		return plan
	case ScopeCategory:
		return Plan{Scope: scope, Tags: []string{TagCategories, catalog.TagProducts}, Paths: []string{}}
	case ScopeOrder:
		return Plan{Scope: scope, Tags: []string{TagOrders}, Paths: []string{}}
	case ScopePromotion:
		return Plan{Scope: scope, Tags: []string{TagPromotions, TagBundles}, Paths: []string{"/api/bundles"}}
	}
	return Plan{Paths: []string{}}
}

// wcResources maps WooCommerce webhook resources to scopes.
var wcResources = map[string]Scope{
	"product":     ScopeProduct,
	"product_cat": ScopeCategory,
	"category":    ScopeCategory,
	"order":       ScopeOrder,
	"coupon":      ScopePromotion,
}

// planForTopic maps a signed WooCommerce delivery such as
// "product.updated". Unknown resources report ok=false.
func planForTopic(topic string, body []byte) (Plan, bool, error) {
	resource, _, _ := strings.Cut(strings.ToLower(strings.TrimSpace(topic)), ".")
	scope, ok := wcResources[resource]
	if !ok {
		return Plan{}, false, nil
	}
	var payload struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return Plan{}, false, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "malformed webhook payload")
	}
	return scopePlan(scope, payload.ID), true, nil
}

// isPing reports WooCommerce's form-encoded "webhook_id=N" test delivery.
func isPing(body []byte) bool {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] == '{' {
		return false
	}
	values, err := url.ParseQuery(string(trimmed))
	return err == nil && values.Get("webhook_id") != ""
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}
