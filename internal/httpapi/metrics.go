package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"wundot/internal/manager"
)

// Rejection reasons for requests refused before any token was generated.
const (
	rejectPoolBusy      = "pool_busy"
	rejectNotReady      = "not_ready"
	rejectUnavailable   = "runtime_unavailable"
	rejectServerStopped = "server_stopping"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wundot",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route pattern, method and status",
		},
		[]string{"route", "method", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "wundot",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency, including the wait for a pooled session",
			Buckets:   []float64{.005, .025, .1, .25, 1, 2.5, 10, 30, 60, 120},
		},
		[]string{"route", "method", "status"},
	)

	httpInflight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "wundot",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Requests being served, by route pattern",
		},
		[]string{"route"},
	)

	rejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wundot",
			Subsystem: "http",
			Name:      "rejected_total",
			Help:      "Generation requests refused before decoding, by reason",
		},
		[]string{"reason"},
	)

	generatedTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wundot",
			Subsystem: "http",
			Name:      "generated_tokens_total",
			Help:      "Tokens generated for /generate, by finish reason",
		},
		[]string{"finish_reason"},
	)

	promptTokensTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "wundot",
			Subsystem: "http",
			Name:      "prompt_tokens_total",
			Help:      "Prompt tokens decoded for /generate",
		},
	)

	streamFragmentsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "wundot",
			Subsystem: "http",
			Name:      "stream_fragments_total",
			Help:      "Fragments returned by /streams/{id}/next",
		},
	)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal, httpRequestDuration, httpInflight,
		rejectedTotal, generatedTokensTotal, promptTokensTotal, streamFragmentsTotal)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (sr *statusRecorder) Unwrap() http.ResponseWriter { return sr.ResponseWriter }

// MetricsMiddleware records per-route request counts, latency and in-flight
// requests. Labels use the chi route pattern so stream ids stay out of them.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The pattern is unknown until chi has routed; in-flight is keyed by
		// the generation surface instead.
		inflight := httpInflight.WithLabelValues(surfaceOf(r.URL.Path))
		inflight.Inc()
		defer inflight.Dec()

		sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(sr, r)

		route := routeLabel(r)
		status := strconv.Itoa(sr.status)
		httpRequestsTotal.WithLabelValues(route, r.Method, status).Inc()
		httpRequestDuration.WithLabelValues(route, r.Method, status).Observe(time.Since(start).Seconds())
	})
}

func routeLabel(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

// surfaceOf buckets a raw path into generate, streams or admin.
func surfaceOf(path string) string {
	switch {
	case path == "/generate":
		return "generate"
	case path == "/streams" || strings.HasPrefix(path, "/streams/"):
		return "streams"
	default:
		return "admin"
	}
}

// rejectReason classifies err when it means no generation was attempted;
// ok is false for failures that happened while decoding.
func rejectReason(err error, serverStopping bool) (string, bool) {
	switch {
	case serverStopping:
		return rejectServerStopped, true
	case manager.IsTooBusy(err):
		return rejectPoolBusy, true
	case manager.IsNotReady(err):
		return rejectNotReady, true
	case manager.IsDependencyUnavailable(err):
		return rejectUnavailable, true
	default:
		return "", false
	}
}

func recordRejection(err error, serverStopping bool) {
	if reason, ok := rejectReason(err, serverStopping); ok {
		rejectedTotal.WithLabelValues(reason).Inc()
	}
}

func recordGeneration(res manager.Result) {
	generatedTokensTotal.WithLabelValues(res.FinishReason).Add(float64(res.Tokens))
	promptTokensTotal.Add(float64(res.PromptTokens))
}
