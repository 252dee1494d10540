package manager

import "github.com/prometheus/client_golang/prometheus"

var (
	generateTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wundot",
			Subsystem: "generate",
			Name:      "requests_total",
			Help:      "Batch generation calls by outcome",
		},
		[]string{"outcome"},
	)

	generateDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "wundot",
			Subsystem: "generate",
			Name:      "duration_seconds",
			Help:      "Batch generation latency including the wait for a session",
			Buckets:   prometheus.DefBuckets,
		},
	)

	tokensGenerated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "wundot",
			Subsystem: "generate",
			Name:      "tokens_total",
			Help:      "Tokens produced by batch generation",
		},
	)

	streamsOpen = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "wundot",
			Subsystem: "stream",
			Name:      "open",
			Help:      "Streaming sessions currently open",
		},
	)

	streamTokens = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "wundot",
			Subsystem: "stream",
			Name:      "tokens_total",
			Help:      "Fragments delivered by streaming sessions",
		},
	)

	modelLoadSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "wundot",
			Subsystem: "model",
			Name:      "load_seconds",
			Help:      "Time to load the model and build the session pool",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		},
	)
)

func init() {
	prometheus.MustRegister(generateTotal, generateDuration, tokensGenerated, streamsOpen, streamTokens, modelLoadSeconds)
}
