package metrics

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestCommerceMetricsExportCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCommerce(reg)

	m.WebhookEvent("stripe", "payment_intent.succeeded", "processed")
	m.WebhookEvent("stripe", "payment_intent.succeeded", "processed")
	m.ShippingQuote("ok", 120*time.Millisecond)
	m.OrderCreated("whatsapp", "")
	m.Invalidated("product", 3)
	m.Invalidated("product", 0)
	m.JobRun("payment_reconciliation", "ok", 2*time.Second)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	if got, err := fetchCounterValue(mfs, "livs_webhook_events_total", "source", "stripe"); err != nil {
		t.Fatalf("fetch webhook: %v", err)
	} else if got != 2 {
		t.Fatalf("expected webhook=2, got %f", got)
	}
	if got, err := fetchCounterValue(mfs, "livs_orders_created_total", "outcome", "unknown"); err != nil {
		t.Fatalf("fetch orders: %v", err)
	} else if got != 1 {
		t.Fatalf("expected orders=1, got %f", got)
	}
	if got, err := fetchCounterValue(mfs, "livs_cache_invalidations_total", "scope", "product"); err != nil {
		t.Fatalf("fetch invalidations: %v", err)
	} else if got != 3 {
		t.Fatalf("expected invalidations=3, got %f", got)
	}
	if got, err := fetchCounterValue(mfs, "livs_cron_job_runs_total", "job", "payment_reconciliation"); err != nil {
		t.Fatalf("fetch job runs: %v", err)
	} else if got != 1 {
		t.Fatalf("expected job runs=1, got %f", got)
	}
	if got, err := fetchHistogramSum(mfs, "livs_shipping_quote_duration_seconds", "outcome", "ok"); err != nil {
		t.Fatalf("fetch duration: %v", err)
	} else if got <= 0 {
		t.Fatalf("expected duration sum > 0, got %f", got)
	}
}

func TestNilCommerceIsNoop(t *testing.T) {
	var m *Commerce
	m.WebhookEvent("stripe", "x", "y")
	m.ShippingQuote("ok", time.Second)
	m.OrderCreated("stripe", "ok")
	m.Invalidated("order", 1)
	m.ObserveUpstream("woocommerce", "get_product", time.Second)
	m.JobRun("payment_reconciliation", "ok", time.Second)

	unregistered := NewCommerce(nil)
	unregistered.WebhookEvent("stripe", "x", "y")
}

func TestHandlerServesRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewCommerce(reg).OrderCreated("stripe", "ok")

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "livs_orders_created_total") {
		t.Fatalf("expected orders metric in output")
	}
}

func fetchCounterValue(mfs []*dto.MetricFamily, name, label, value string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabel(metric.GetLabel(), label, value) {
			return metric.GetCounter().GetValue(), nil
		}
	}
	return 0, fmt.Errorf("metric %q missing label %s=%s", name, label, value)
}

func fetchHistogramSum(mfs []*dto.MetricFamily, name, label, value string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabel(metric.GetLabel(), label, value) {
			return metric.GetHistogram().GetSampleSum(), nil
		}
	}
	return 0, fmt.Errorf("metric %q missing label %s=%s", name, label, value)
}

func findMetricFamily(mfs []*dto.MetricFamily, name string) *dto.MetricFamily {
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func matchesLabel(labels []*dto.LabelPair, name, value string) bool {
	for _, lp := range labels {
		if lp.GetName() == name && lp.GetValue() == value {
			return true
		}
	}
	return false
}
