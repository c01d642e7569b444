package tools

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_function_calls_total",
		Help: "Function calls dispatched, by outcome",
	}, []string{"status"})

	metricCallMS = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "bridge_function_call_ms",
		Help:    "Function call handler latency (ms)",
		Buckets: prometheus.ExponentialBuckets(1, 2, 14),
	})
)
