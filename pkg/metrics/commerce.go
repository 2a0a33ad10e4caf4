package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Commerce records storefront backend activity. A nil *Commerce is a no-op.
type Commerce struct {
	webhookEvents  *prometheus.CounterVec
	shippingQuotes *prometheus.CounterVec
	quoteDuration  *prometheus.HistogramVec
	orders         *prometheus.CounterVec
	invalidations  *prometheus.CounterVec
	upstream       *prometheus.HistogramVec
	jobRuns        *prometheus.CounterVec
	jobDuration    *prometheus.HistogramVec
}

// NewCommerce registers the storefront metrics on the provided registerer.
func NewCommerce(reg prometheus.Registerer) *Commerce {
	if reg == nil {
		return &Commerce{}
	}
	webhookEvents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "livs_webhook_events_total",
		Help: "Inbound webhook deliveries by source, type and outcome.",
	}, []string{"source", "type", "outcome"})
	shippingQuotes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "livs_shipping_quotes_total",
		Help: "Shipping quote calculations by outcome.",
	}, []string{"outcome"})
	quoteDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "livs_shipping_quote_duration_seconds",
		Help:    "Duration of shipping quote calculations in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"outcome"})
	orders := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "livs_orders_created_total",
		Help: "WooCommerce orders created by checkout path and outcome.",
	}, []string{"path", "outcome"})
	invalidations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "livs_cache_invalidations_total",
		Help: "Cache entries dropped by revalidation scope.",
	}, []string{"scope"})
	upstream := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "livs_upstream_request_duration_seconds",
		Help:    "Duration of upstream API calls in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"upstream", "operation"})
	jobRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "livs_cron_job_runs_total",
		Help: "Scheduled job runs by job and outcome.",
	}, []string{"job", "outcome"})
	jobDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "livs_cron_job_duration_seconds",
		Help:    "Duration of scheduled job runs in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
	reg.MustRegister(webhookEvents, shippingQuotes, quoteDuration, orders, invalidations, upstream, jobRuns, jobDuration)
	return &Commerce{
		webhookEvents:  webhookEvents,
		shippingQuotes: shippingQuotes,
		quoteDuration:  quoteDuration,
		orders:         orders,
		invalidations:  invalidations,
		upstream:       upstream,
		jobRuns:        jobRuns,
		jobDuration:    jobDuration,
	}
}

// WebhookEvent counts one inbound webhook delivery.
func (c *Commerce) WebhookEvent(source, eventType, outcome string) {
	if c == nil || c.webhookEvents == nil {
		return
	}
	c.webhookEvents.WithLabelValues(normalizeLabel(source), normalizeLabel(eventType), normalizeLabel(outcome)).Inc()
}

// ShippingQuote counts a quote and records how long it took.
func (c *Commerce) ShippingQuote(outcome string, duration time.Duration) {
	if c == nil || c.shippingQuotes == nil {
		return
	}
	label := normalizeLabel(outcome)
	c.shippingQuotes.WithLabelValues(label).Inc()
	if c.quoteDuration != nil {
		c.quoteDuration.WithLabelValues(label).Observe(duration.Seconds())
	}
}

// OrderCreated counts an order creation attempt for a checkout path.
func (c *Commerce) OrderCreated(path, outcome string) {
	if c == nil || c.orders == nil {
		return
	}
	c.orders.WithLabelValues(normalizeLabel(path), normalizeLabel(outcome)).Inc()
}

// Invalidated adds the number of cache entries dropped for a scope.
func (c *Commerce) Invalidated(scope string, entries int) {
	if c == nil || c.invalidations == nil || entries <= 0 {
		return
	}
	c.invalidations.WithLabelValues(normalizeLabel(scope)).Add(float64(entries))
}

// ObserveUpstream records the latency of an upstream API call.
func (c *Commerce) ObserveUpstream(upstream, operation string, duration time.Duration) {
	if c == nil || c.upstream == nil {
		return
	}
	c.upstream.WithLabelValues(normalizeLabel(upstream), normalizeLabel(operation)).Observe(duration.Seconds())
}

// JobRun records one scheduled job run.
func (c *Commerce) JobRun(job, outcome string, duration time.Duration) {
	if c == nil || c.jobRuns == nil {
		return
	}
	c.jobRuns.WithLabelValues(normalizeLabel(job), normalizeLabel(outcome)).Inc()
	c.jobDuration.WithLabelValues(normalizeLabel(job)).Observe(duration.Seconds())
}

// Handler exposes the registry for scraping.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
