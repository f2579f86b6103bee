package series

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Runs partitioned by how they ended
	runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "series_runs_total",
			Help: "Total number of series advance runs by outcome",
		},
		[]string{"outcome"},
	)

	runDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "series_run_duration_seconds",
			Help:    "Duration of series advance runs in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
	)

	publishTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "series_publish_total",
			Help: "Total number of publish calls by publisher and result",
		},
		[]string{"publisher", "result"},
	)

	rateLimitDenied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ratelimit_denied_total",
			Help: "Runs stopped by the daily post limit, by platform",
		},
		[]string{"platform"},
	)
)
