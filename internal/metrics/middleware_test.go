package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMiddlewareLabelsRoutePattern(t *testing.T) {
	Init()
	const pattern = "/v1/jobs/{job_id}"
	httpRequestDurationSeconds.DeleteLabelValues(http.MethodGet, pattern)
	httpRequestDurationSeconds.DeleteLabelValues(http.MethodPost, "/v1/jobs")

	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get(pattern, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Post("/v1/jobs", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	okBefore := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "200"))
	fullBefore := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodPost, "503"))

	for _, id := range []string{"a1", "b2"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/jobs/"+id, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("GET /v1/jobs/%s = %d", id, rec.Code)
		}
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/jobs", nil))

	if val := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "200")); val != okBefore+2 {
		t.Errorf("GET 200 counter grew by %f, want 2", val-okBefore)
	}
	if val := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodPost, "503")); val != fullBefore+1 {
		t.Errorf("POST 503 counter grew by %f, want 1", val-fullBefore)
	}
	// Both job lookups share the pattern series rather than one series per id.
	if !httpRequestDurationSeconds.DeleteLabelValues(http.MethodGet, pattern) {
		t.Errorf("no latency series for route %q", pattern)
	}
	if httpRequestDurationSeconds.DeleteLabelValues(http.MethodGet, "/v1/jobs/a1") {
		t.Error("latency recorded under the raw path")
	}
	if !httpRequestDurationSeconds.DeleteLabelValues(http.MethodPost, "/v1/jobs") {
		t.Error("no latency series for POST /v1/jobs")
	}
}

func TestMiddlewareWithoutRouterUsesUnknownRoute(t *testing.T) {
	Init()
	httpRequestDurationSeconds.DeleteLabelValues(http.MethodGet, "unknown")

	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "418"))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusTeapot {
		t.Fatalf("status = %d, want 418", rec.Code)
	}
	if val := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "418")); val != before+1 {
		t.Errorf("GET 418 counter grew by %f, want 1", val-before)
	}
	if !httpRequestDurationSeconds.DeleteLabelValues(http.MethodGet, "unknown") {
		t.Error("request outside a chi router was not labeled unknown")
	}
}
