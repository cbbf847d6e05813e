// Package metrics provides the bridge's Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "voicebridge"

// Metrics holds all Prometheus metrics for the bridge.
type Metrics struct {
	// Session metrics
	SessionsTotal   *prometheus.CounterVec
	SessionsActive  prometheus.Gauge
	SessionDuration prometheus.Histogram
	SessionOutcomes *prometheus.CounterVec

	// Audio pipeline metrics
	FramesInbound  prometheus.Counter
	FramesOutbound prometheus.Counter
	FramesDropped  *prometheus.CounterVec
	BargeIns       prometheus.Counter

	// Provider metrics
	ProviderConnects   *prometheus.CounterVec
	ProviderFallbacks  *prometheus.CounterVec
	ProviderReconnects prometheus.Counter

	// Handoff metrics
	Handoffs        *prometheus.CounterVec
	TransferLatency prometheus.Histogram
}

// Default is the process-wide metrics instance.
var Default = New()

// New creates and registers all bridge metrics.
func New() *Metrics {
	return &Metrics{
		SessionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total call sessions started",
		}, []string{"tenant"}),
		SessionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Currently active call sessions",
		}),
		SessionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Call session duration in seconds",
			Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1800},
		}),
		SessionOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_outcomes_total",
			Help:      "Session outcomes by disposition",
		}, []string{"outcome"}),

		FramesInbound: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_inbound_total",
			Help:      "Audio frames received from telephony",
		}),
		FramesOutbound: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_outbound_total",
			Help:      "Audio frames sent to telephony",
		}),
		FramesDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_dropped_total",
			Help:      "Audio frames dropped",
		}, []string{"reason"}),
		BargeIns: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "barge_ins_total",
			Help:      "Caller interruptions that canceled agent playback",
		}),

		ProviderConnects: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_connects_total",
			Help:      "Provider adapter connect attempts by result",
		}, []string{"provider", "result"}),
		ProviderFallbacks: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_fallbacks_total",
			Help:      "Mid-call fallbacks to the next configured provider",
		}, []string{"from", "to"}),
		ProviderReconnects: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_reconnects_total",
			Help:      "Proactive reconnects ahead of provider session expiry",
		}),

		Handoffs: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handoffs_total",
			Help:      "Escalations by reason and result",
		}, []string{"reason", "result"}),
		TransferLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transfer_latency_seconds",
			Help:      "Time from escalation trigger to terminal handoff outcome",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 45},
		}),
	}
}
