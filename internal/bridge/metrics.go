package bridge

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bridge_sessions_active",
		Help: "Sessions currently held by the manager (0 or 1)",
	})

	metricCalls = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bridge_calls_total",
		Help: "Telephony calls started",
	})

	metricLegsReplaced = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_legs_replaced_total",
		Help: "Legs forcibly closed because a newer one attached",
	}, []string{"leg"})

	metricBargeIns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_barge_ins_total",
		Help: "Barge-ins handled, by mode (truncate, interrupt)",
	}, []string{"mode"})

	metricAudioRelayed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bridge_audio_chunks_relayed_total",
		Help: "Assistant audio chunks relayed to the telephony leg",
	})

	metricFramesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_frames_dropped_total",
		Help: "Frames dropped, by reason",
	}, []string{"reason"})

	metricProviderFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_provider_failures_total",
		Help: "Provider unavailability, by stage (config, connect, lost)",
	}, []string{"stage"})

	metricResultsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bridge_function_results_dropped_total",
		Help: "Function results discarded because their provider was gone",
	})

	metricLegSendDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_leg_send_drops_total",
		Help: "Outbound leg frames dropped due to backpressure",
	}, []string{"leg"})
)
