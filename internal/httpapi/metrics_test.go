package httpapi

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"wundot/internal/manager"
	"wundot/internal/runtime"
)

// TestMetricsMiddleware_EmitsRequestCounters verifies that wrapping a handler
// with MetricsMiddleware results in request metrics being exposed via the
// Prometheus /metrics handler.
func TestMetricsMiddleware_EmitsRequestCounters(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	MetricsMiddleware(next).ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	mrr := httptest.NewRecorder()
	promhttp.Handler().ServeHTTP(mrr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if mrr.Code != http.StatusOK {
		t.Fatalf("/metrics status=%d", mrr.Code)
	}
	body := mrr.Body.Bytes()
	if !bytes.Contains(body, []byte("wundot_http_requests_total")) {
		previewLen := min(len(body), 200)
		t.Fatalf("expected to find wundot_http_requests_total in metrics; got: %q", string(body[:previewLen]))
	}
}

func TestRejectReason(t *testing.T) {
	m := manager.NewWithConfig(manager.ManagerConfig{})
	_, notReady := m.Run(context.Background(), manager.Request{Prompt: "x"})
	if !manager.IsNotReady(notReady) {
		t.Fatalf("expected not ready, got %v", notReady)
	}
	cases := []struct {
		name     string
		err      error
		stopping bool
		want     string
		ok       bool
	}{
		{"not ready", notReady, false, rejectNotReady, true},
		{"unavailable", runtime.ErrUnavailable("no llama"), false, rejectUnavailable, true},
		{"stopping wins", errors.New("canceled"), true, rejectServerStopped, true},
		{"decode failure", errors.New("boom"), false, "", false},
	}
	for _, c := range cases {
		got, ok := rejectReason(c.err, c.stopping)
		if got != c.want || ok != c.ok {
			t.Fatalf("%s: got %q,%v want %q,%v", c.name, got, ok, c.want, c.ok)
		}
	}
}

func TestSurfaceOf(t *testing.T) {
	cases := map[string]string{
		"/generate":       "generate",
		"/streams":        "streams",
		"/streams/x/next": "streams",
		"/streamsx":       "admin",
		"/status":         "admin",
	}
	for path, want := range cases {
		if got := surfaceOf(path); got != want {
			t.Fatalf("surfaceOf(%q) = %q want %q", path, got, want)
		}
	}
}
