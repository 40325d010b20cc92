// ABOUTME: Prometheus collectors for ceremonies, sessions, access checks and HTTP traffic
// ABOUTME: All recording methods are nil-safe so metrics stay optional

package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Ceremony names used as label values.
const (
	CeremonyRegistration = "registration"
	CeremonyLogin        = "login"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Ceremony metrics
	CeremoniesStarted    *prometheus.CounterVec
	CeremoniesCompleted  *prometheus.CounterVec
	VerificationDuration *prometheus.HistogramVec

	// Security events such as counter replays
	SecurityEventsTotal *prometheus.CounterVec

	// Session and access metrics
	SessionsCreatedTotal prometheus.Counter
	SessionRejectsTotal  *prometheus.CounterVec
	AccessDeniedTotal    *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates and registers all metrics on registry.
func New(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "larder_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "larder_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		CeremoniesStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "larder_ceremonies_started_total",
				Help: "WebAuthn ceremonies started",
			},
			[]string{"ceremony"},
		),
		CeremoniesCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "larder_ceremonies_completed_total",
				Help: "WebAuthn ceremonies finished, by outcome",
			},
			[]string{"ceremony", "outcome"},
		),
		VerificationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "larder_webauthn_verification_duration_seconds",
				Help:    "Time spent in WebAuthn verification",
				Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5},
			},
			[]string{"ceremony"},
		),
		SecurityEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "larder_security_events_total",
				Help: "Security-relevant events such as signature counter replays",
			},
			[]string{"kind"},
		),
		SessionsCreatedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "larder_sessions_created_total",
				Help: "Sessions issued after successful ceremonies",
			},
		),
		SessionRejectsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "larder_session_rejects_total",
				Help: "Requests rejected by the session middleware",
			},
			[]string{"reason"},
		),
		AccessDeniedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "larder_access_denied_total",
				Help: "Authenticated requests refused by document access control",
			},
			[]string{"operation"},
		),
		registry: registry,
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.CeremoniesStarted,
		m.CeremoniesCompleted,
		m.VerificationDuration,
		m.SecurityEventsTotal,
		m.SessionsCreatedTotal,
		m.SessionRejectsTotal,
		m.AccessDeniedTotal,
	)

	return m
}

// CeremonyStarted records the start of a ceremony.
func (m *Metrics) CeremonyStarted(ceremony string) {
	if m == nil {
		return
	}
	m.CeremoniesStarted.WithLabelValues(ceremony).Inc()
}

// CeremonyFinished records a ceremony outcome ("success" or an error class).
func (m *Metrics) CeremonyFinished(ceremony, outcome string) {
	if m == nil {
		return
	}
	m.CeremoniesCompleted.WithLabelValues(ceremony, outcome).Inc()
}

// ObserveVerification records how long the verifier took.
func (m *Metrics) ObserveVerification(ceremony string, d time.Duration) {
	if m == nil {
		return
	}
	m.VerificationDuration.WithLabelValues(ceremony).Observe(d.Seconds())
}

// SecurityEvent counts a security event of the given kind.
func (m *Metrics) SecurityEvent(kind string) {
	if m == nil {
		return
	}
	m.SecurityEventsTotal.WithLabelValues(kind).Inc()
}

// SessionCreated counts an issued session.
func (m *Metrics) SessionCreated() {
	if m == nil {
		return
	}
	m.SessionsCreatedTotal.Inc()
}

// SessionRejected counts a request the middleware turned away.
func (m *Metrics) SessionRejected(reason string) {
	if m == nil {
		return
	}
	m.SessionRejectsTotal.WithLabelValues(reason).Inc()
}

// AccessDenied counts a 403 for the named operation.
func (m *Metrics) AccessDenied(operation string) {
	if m == nil {
		return
	}
	m.AccessDeniedTotal.WithLabelValues(operation).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware instruments requests. Routes are labelled by the ServeMux
// pattern that matched, so path parameters do not explode cardinality.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		m.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
