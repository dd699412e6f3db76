package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	initOnce sync.Once

	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	gateDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "access_gate_decisions_total",
			Help: "Access gate evaluations by outcome.",
		},
		[]string{"state", "reason"},
	)

	billingLookupDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "billing_lookup_duration_seconds",
			Help:    "Billing provider entitlement lookups in seconds.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"result"},
	)

	panelRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "panel_runs_total",
			Help: "Feature panel invocations by panel and result.",
		},
		[]string{"panel", "result"},
	)

	readyGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "service_ready",
		Help: "1 when the last readiness probe succeeded.",
	})
)

// Init registers all metrics in the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			gateDecisions, billingLookupDuration, panelRunsTotal, readyGauge,
		)
	})
}

// Handler serves the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordGateDecision counts one access gate evaluation.
func RecordGateDecision(state, reason string) {
	if reason == "" {
		reason = "none"
	}
	gateDecisions.WithLabelValues(state, reason).Inc()
}

// ObserveBillingLookup records the latency of one billing provider lookup.
func ObserveBillingLookup(result string, d time.Duration) {
	billingLookupDuration.WithLabelValues(result).Observe(d.Seconds())
}

// RecordPanelRun counts one feature panel invocation.
func RecordPanelRun(panel, result string) {
	panelRunsTotal.WithLabelValues(panel, result).Inc()
}

// SetReady reflects the latest readiness probe.
func SetReady(ok bool) {
	if ok {
		readyGauge.Set(1)
		return
	}
	readyGauge.Set(0)
}

// Instrument measures request rate, latency and in-flight count.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// CanonicalPath maps a request path onto a bounded label set so that
// arbitrary URLs cannot blow up metric cardinality.
func CanonicalPath(raw string) string {
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		raw = raw[:i]
	}
	if raw == "" {
		return "/"
	}
	switch raw {
	case "/", "/login", "/logout", "/auth/callback",
		"/healthz", "/readyz", "/metrics", "/v1/info",
		"/v1/me", "/v1/history",
		"/v1/panels/keywords", "/v1/panels/ideas", "/v1/panels/retention":
		return raw
	}
	if strings.HasPrefix(raw, "/assets/") {
		return "/assets/*"
	}
	return "other"
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
