package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// TestMetricsMiddleware_UsesRoutePattern ensures the metrics middleware labels
// by the chi route pattern instead of the raw URL path.
func TestMetricsMiddleware_UsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(MetricsMiddleware)
	r.Post("/streams/{id}/next", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("/streams/{id}/next", http.MethodPost, "200"))
	for _, id := range []string{"a", "b", "c"} {
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/streams/"+id+"/next", nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}
	}
	after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("/streams/{id}/next", http.MethodPost, "200"))
	if after != before+3 {
		t.Fatalf("expected 3 requests under the route pattern, got %v", after-before)
	}
	if n := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("/streams/a/next", http.MethodPost, "200")); n != 0 {
		t.Fatalf("raw path leaked into labels: %v", n)
	}
}
