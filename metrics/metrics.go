package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_events_ingested_total",
			Help: "Total number of events ingested",
		},
		[]string{"source"},
	)

	NormalizationFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_normalization_failures_total",
			Help: "Total number of records dropped during normalization",
		},
		[]string{"reason"},
	)

	AlertsGenerated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_alerts_generated_total",
			Help: "Total number of alerts admitted by deduplication",
		},
		[]string{"severity", "type"},
	)

	AlertsSuppressed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_alerts_suppressed_total",
			Help: "Total number of alerts suppressed by the cool-down",
		},
		[]string{"type"},
	)

	RuleEvaluationPanics = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_rule_evaluation_panics_total",
			Help: "Total number of panics recovered at the rule boundary",
		},
		[]string{"rule_id"},
	)

	EventProcessingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "argus_event_processing_duration_seconds",
			Help:    "Time taken to evaluate all rules for one event",
			Buckets: prometheus.DefBuckets,
		},
	)

	WindowKeysTracked = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "argus_window_keys_tracked",
			Help: "Number of keys currently held in the windowed state store",
		},
		[]string{"rule_id"},
	)

	WindowKeysEvicted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_window_keys_evicted_total",
			Help: "Total number of keys evicted from the windowed state store",
		},
		[]string{"rule_id", "reason"},
	)

	AlertSinkFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "argus_alert_sink_failures_total",
			Help: "Total number of alert persistence failures after retries",
		},
	)

	WebsocketClients = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "argus_websocket_clients",
			Help: "Number of connected websocket subscribers",
		},
		[]string{"stream"},
	)
)
