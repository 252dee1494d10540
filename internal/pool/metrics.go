package pool

import "github.com/prometheus/client_golang/prometheus"

var (
	sessionsCheckedOut = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "wundot",
			Subsystem: "pool",
			Name:      "sessions_checked_out",
			Help:      "Sessions currently checked out of the pool",
		},
	)

	acquireTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wundot",
			Subsystem: "pool",
			Name:      "acquire_total",
			Help:      "Acquire attempts by outcome",
		},
		[]string{"outcome"},
	)

	acquireWait = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "wundot",
			Subsystem: "pool",
			Name:      "acquire_wait_seconds",
			Help:      "Time spent waiting for a session",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		},
	)

	doubleReleaseTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "wundot",
			Subsystem: "pool",
			Name:      "double_release_total",
			Help:      "Rejected releases of sessions that were not checked out",
		},
	)

	samplerRebuildTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "wundot",
			Subsystem: "pool",
			Name:      "sampler_rebuild_total",
			Help:      "Samplers rebuilt after a policy change",
		},
	)
)

func init() {
	prometheus.MustRegister(sessionsCheckedOut, acquireTotal, acquireWait, doubleReleaseTotal, samplerRebuildTotal)
}
