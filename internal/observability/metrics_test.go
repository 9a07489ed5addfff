package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMiddlewareRecordsRoutePattern(t *testing.T) {
	m := NewMetrics()
	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/api/core/users/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/core/users/42", nil))
	require.Equal(t, 1.0, testutil.ToFloat64(m.requestsTotal.WithLabelValues("/api/core/users/{id}", "418")))
}

func TestObserveDecision(t *testing.T) {
	m := NewMetrics()
	m.ObserveDecision("cached", true)
	m.ObserveDecision("cached", true)
	m.ObserveDecision("no roles", false)
	require.Equal(t, 2.0, testutil.ToFloat64(m.decisions.WithLabelValues("cached", "true")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.decisions.WithLabelValues("no roles", "false")))

	var nilMetrics *Metrics
	nilMetrics.ObserveDecision("x", false)

	res := httptest.NewRecorder()
	m.Handler().ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Contains(t, res.Body.String(), "warden_authz_decisions_total")
}
