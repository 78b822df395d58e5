// Package metrics holds the Prometheus instruments of the engine. All
// recording helpers are safe to call on a nil *Metrics.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpDurationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}
	deliveryBuckets     = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	scoreDeltaBuckets   = []float64{0, 5, 10, 25, 50, 75, 100, 200}
)

// Metrics holds all Prometheus metric instruments for the engine.
type Metrics struct {
	// HTTP
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Scoring
	EventsAppliedTotal *prometheus.CounterVec
	EventErrorsTotal   *prometheus.CounterVec
	ScoreDelta         prometheus.Histogram
	TierChangesTotal   *prometheus.CounterVec

	// Funnel
	FunnelEventsTotal *prometheus.CounterVec

	// Workflows
	DispatchesTotal   *prometheus.CounterVec
	DeliveriesTotal   *prometheus.CounterVec
	DeliveryDuration  *prometheus.HistogramVec
	FallbackWrites    *prometheus.CounterVec
	PendingDispatches prometheus.Gauge

	// Alerts & sinks
	AlertsTotal           *prometheus.CounterVec
	AnalyticsDroppedTotal *prometheus.CounterVec
	ActiveSessions        prometheus.Gauge
}

// InitMetrics creates and registers all instruments.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "leadflow_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "leadflow_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: httpDurationBuckets,
		}, []string{"method", "path_pattern"}),

		EventsAppliedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "leadflow_events_applied_total",
			Help: "Total number of events applied to sessions.",
		}, []string{"type"}),
		EventErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "leadflow_event_errors_total",
			Help: "Events whose attributes did not match their schema.",
		}, []string{"type"}),
		ScoreDelta: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "leadflow_score_delta",
			Help:    "Points awarded per applied event.",
			Buckets: scoreDeltaBuckets,
		}),
		TierChangesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "leadflow_tier_changes_total",
			Help: "Session tier transitions.",
		}, []string{"from", "to"}),

		FunnelEventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "leadflow_funnel_events_total",
			Help: "Accepted funnel events by stage.",
		}, []string{"stage"}),

		DispatchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "leadflow_workflow_dispatches_total",
			Help: "Workflow dispatch decisions.",
		}, []string{"workflow_id", "status"}),
		DeliveriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "leadflow_workflow_deliveries_total",
			Help: "Automation sink deliveries.",
		}, []string{"workflow_id", "result"}),
		DeliveryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "leadflow_workflow_delivery_duration_seconds",
			Help:    "Automation sink call duration in seconds.",
			Buckets: deliveryBuckets,
		}, []string{"workflow_id"}),
		FallbackWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "leadflow_fallback_writes_total",
			Help: "Fallback store writes for failed deliveries.",
		}, []string{"result"}),
		PendingDispatches: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "leadflow_workflow_pending",
			Help: "Deferred dispatches waiting to run.",
		}),

		AlertsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "leadflow_alerts_total",
			Help: "Alerts raised by the monitor.",
		}, []string{"type", "severity"}),
		AnalyticsDroppedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "leadflow_analytics_dropped_total",
			Help: "Analytics notifications that could not be delivered.",
		}, []string{"sink"}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "leadflow_active_sessions",
			Help: "Sessions with activity inside the monitor window.",
		}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.EventsAppliedTotal,
		m.EventErrorsTotal,
		m.ScoreDelta,
		m.TierChangesTotal,
		m.FunnelEventsTotal,
		m.DispatchesTotal,
		m.DeliveriesTotal,
		m.DeliveryDuration,
		m.FallbackWrites,
		m.PendingDispatches,
		m.AlertsTotal,
		m.AnalyticsDroppedTotal,
		m.ActiveSessions,
	)

	return m
}

// --- Recording helpers ---

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(method, pathPattern string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pathPattern).Observe(duration.Seconds())
}

// RecordEvent records one applied event and its score delta.
func (m *Metrics) RecordEvent(eventType string, delta int, failed bool) {
	if m == nil {
		return
	}
	m.EventsAppliedTotal.WithLabelValues(eventType).Inc()
	if failed {
		m.EventErrorsTotal.WithLabelValues(eventType).Inc()
	}
	m.ScoreDelta.Observe(float64(delta))
}

func (m *Metrics) RecordTierChange(from, to string) {
	if m == nil {
		return
	}
	m.TierChangesTotal.WithLabelValues(from, to).Inc()
}

func (m *Metrics) RecordFunnelEvent(stage string) {
	if m == nil {
		return
	}
	m.FunnelEventsTotal.WithLabelValues(stage).Inc()
}

// RecordDispatch records a dispatch decision (fired, scheduled or skipped).
func (m *Metrics) RecordDispatch(workflowID, status string) {
	if m == nil {
		return
	}
	m.DispatchesTotal.WithLabelValues(workflowID, status).Inc()
}

// RecordDelivery records one automation sink call.
func (m *Metrics) RecordDelivery(workflowID string, ok bool, duration time.Duration) {
	if m == nil {
		return
	}
	result := "success"
	if !ok {
		result = "failure"
	}
	m.DeliveriesTotal.WithLabelValues(workflowID, result).Inc()
	m.DeliveryDuration.WithLabelValues(workflowID).Observe(duration.Seconds())
}

func (m *Metrics) RecordFallbackWrite(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.FallbackWrites.WithLabelValues("success").Inc()
	} else {
		m.FallbackWrites.WithLabelValues("failure").Inc()
	}
}

// AddPending adjusts the deferred dispatch gauge.
func (m *Metrics) AddPending(delta float64) {
	if m == nil {
		return
	}
	m.PendingDispatches.Add(delta)
}

func (m *Metrics) RecordAlert(alertType, severity string) {
	if m == nil {
		return
	}
	m.AlertsTotal.WithLabelValues(alertType, severity).Inc()
}

func (m *Metrics) RecordAnalyticsDropped(sink string, n int) {
	if m == nil {
		return
	}
	m.AnalyticsDroppedTotal.WithLabelValues(sink).Add(float64(n))
}

func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.ActiveSessions.Set(float64(n))
}

// --- HTTP Middleware ---

// Middleware records request metrics keyed by chi's route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		m.RecordHTTPRequest(r.Method, routePattern(r), sw.status, time.Since(start))
	})
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// HandlerFor serves the given gatherer, e.g. a test registry.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return r.URL.Path
	}
	pattern := strings.TrimSuffix(strings.Join(rctx.RoutePatterns, ""), "/*")
	if pattern == "" {
		return r.URL.Path
	}
	return pattern
}

type statusWriter struct {
	http.ResponseWriter
	status  int
	written bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.written {
		w.status = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	w.written = true
	return w.ResponseWriter.Write(b)
}
