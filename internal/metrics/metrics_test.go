package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNew_RegistersCollectors(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	m.CeremonyStarted(CeremonyLogin)
	m.CeremonyFinished(CeremonyLogin, "success")
	m.SecurityEvent("replay")
	m.SessionCreated()

	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	if len(families) == 0 {
		t.Fatal("expected registered metric families")
	}

	if got := testutil.ToFloat64(m.SecurityEventsTotal.WithLabelValues("replay")); got != 1 {
		t.Errorf("replay events = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.CeremoniesCompleted.WithLabelValues(CeremonyLogin, "success")); got != 1 {
		t.Errorf("completed logins = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.SessionsCreatedTotal); got != 1 {
		t.Errorf("sessions created = %v, want 1", got)
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.CeremonyStarted(CeremonyRegistration)
	m.CeremonyFinished(CeremonyRegistration, "success")
	m.ObserveVerification(CeremonyRegistration, time.Millisecond)
	m.SecurityEvent("replay")
	m.SessionCreated()
	m.SessionRejected("expired")
	m.AccessDenied("delete")

	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	if got := m.Middleware(h); got == nil {
		t.Fatal("Middleware returned nil handler")
	}
}

func TestMiddleware_LabelsByPattern(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /inventories/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	handler := m.Middleware(mux)

	for _, id := range []string{"a", "b", "c"} {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/inventories/"+id, nil))
	}

	got := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "GET /inventories/{id}", "403"))
	if got != 3 {
		t.Errorf("requests for pattern = %v, want 3", got)
	}
}

func TestHandler_ExposesMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)
	m.SessionCreated()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "larder_sessions_created_total 1") {
		t.Errorf("metrics output missing sessions counter:\n%s", body)
	}
}
