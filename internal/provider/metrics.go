package provider

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricConnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "provider_connects_total",
		Help: "Backend connection attempts by provider and result",
	}, []string{"provider", "result"})

	metricConnectMS = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "provider_connect_ms",
		Help:    "Time to establish backend connection incl. handshake (ms)",
		Buckets: prometheus.ExponentialBuckets(10, 1.8, 10),
	}, []string{"provider"})

	metricEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "provider_events_total",
		Help: "Normalized backend events emitted",
	}, []string{"provider", "kind"})

	metricSendDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "provider_send_drops_total",
		Help: "Outbound frames dropped due to backpressure",
	}, []string{"provider"})

	metricAudioSuppressed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "provider_audio_suppressed_total",
		Help: "Audio chunks of interrupted responses discarded locally",
	})
)
