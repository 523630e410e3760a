package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	jobmetrics "github.com/odyssey-erp/hospital-costing/internal/jobs"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rr.Code)
	}
	return rr.Body.String()
}

func TestMetricsHandlerExposesJobMetrics(t *testing.T) {
	metrics := NewMetrics()
	jobs := jobmetrics.NewMetrics(metrics.Registerer())
	_ = jobs.Track("allocation:notify").End(nil)

	body := scrape(t, metrics)
	if !strings.Contains(body, "costing_jobs_total") {
		t.Fatalf("expected body to contain costing_jobs_total, got: %s", body)
	}
}

func TestMetricsMiddlewareRecordsRequest(t *testing.T) {
	metrics := NewMetrics()

	handler := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	routeCtx := chi.NewRouteContext()
	routeCtx.RoutePatterns = append(routeCtx.RoutePatterns, "/test")

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	ctx := context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx)
	req = req.WithContext(ctx)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusTeapot {
		t.Fatalf("expected status %d, got %d", http.StatusTeapot, rr.Code)
	}

	body := scrape(t, metrics)
	if !strings.Contains(body, "http_requests_total{code=\"418\",route=\"/test\"} 1") {
		t.Fatalf("expected metrics to record request, got: %s", body)
	}
	if !strings.Contains(body, "http_request_duration_seconds_bucket{route=\"/test\"") {
		t.Fatalf("expected duration histogram to be present, got: %s", body)
	}
}

func TestAllocationMetrics(t *testing.T) {
	metrics := NewMetrics()
	metrics.ObserveExecution("ok", 6, 1, 250*time.Millisecond)
	metrics.ObserveExecution("conflict", 0, 0, time.Millisecond)
	metrics.ObserveTransition("post", "rejected")

	body := scrape(t, metrics)
	for _, want := range []string{
		`costing_allocation_executions_total{outcome="ok"} 1`,
		`costing_allocation_executions_total{outcome="conflict"} 1`,
		`costing_allocation_journals_total 6`,
		`costing_allocation_skipped_rules_total 1`,
		`costing_allocation_batch_transitions_total{action="post",outcome="rejected"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in metrics output", want)
		}
	}

	var nilMetrics *Metrics
	nilMetrics.ObserveExecution("ok", 1, 0, time.Second)
	nilMetrics.ObserveTransition("post", "ok")
}
