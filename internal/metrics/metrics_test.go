package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func newTestMetrics(t *testing.T) (*Metrics, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return InitMetrics(reg), reg
}

func TestInitMetricsRegistersAll(t *testing.T) {
	m, reg := newTestMetrics(t)

	m.RecordHTTPRequest("GET", "/health", 200, time.Millisecond)
	m.RecordEvent("page_view", 35, false)
	m.RecordEvent("scroll_depth", 0, true)
	m.RecordTierChange("cold", "warm")
	m.RecordFunnelEvent("awareness")
	m.RecordDispatch("hot_lead", "scheduled")
	m.RecordDelivery("hot_lead", false, time.Millisecond)
	m.RecordFallbackWrite(true)
	m.AddPending(1)
	m.RecordAlert("phone_calls_low", "warning")
	m.RecordAnalyticsDropped("kafka", 2)
	m.SetActiveSessions(3)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"leadflow_http_requests_total",
		"leadflow_events_applied_total",
		"leadflow_event_errors_total",
		"leadflow_score_delta",
		"leadflow_tier_changes_total",
		"leadflow_funnel_events_total",
		"leadflow_workflow_dispatches_total",
		"leadflow_workflow_deliveries_total",
		"leadflow_fallback_writes_total",
		"leadflow_workflow_pending",
		"leadflow_alerts_total",
		"leadflow_analytics_dropped_total",
		"leadflow_active_sessions",
	} {
		if !names[want] {
			t.Errorf("metric %q not registered", want)
		}
	}

	if got := testutil.ToFloat64(m.DeliveriesTotal.WithLabelValues("hot_lead", "failure")); got != 1 {
		t.Errorf("deliveries failure = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.AnalyticsDroppedTotal.WithLabelValues("kafka")); got != 2 {
		t.Errorf("analytics dropped = %v, want 2", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.RecordEvent("page_view", 5, false)
	m.RecordDispatch("x", "fired")
	m.AddPending(-1)
}

func TestMiddlewareUsesRoutePattern(t *testing.T) {
	m, _ := newTestMetrics(t)
	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/v1/sessions/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/sessions/abc", nil))

	got := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/v1/sessions/{id}", "404"))
	if got != 1 {
		t.Errorf("requests{/v1/sessions/{id},404} = %v, want 1", got)
	}
}
