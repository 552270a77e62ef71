package observability

import "github.com/prometheus/client_golang/prometheus"

var (
	// PhaseDispatchedTotal counts phase events dispatched, by phase kind.
	PhaseDispatchedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "phase_dispatched_total",
			Help: "Total number of phase events dispatched by the worker loop",
		},
		[]string{"phase"},
	)
	// PhaseDispatchLatencySeconds records how long a phase handler took to run.
	PhaseDispatchLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "phase_dispatch_latency_seconds",
			Help:    "Phase handler execution latency in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"phase"},
	)
	// AICallsTotal counts AI client calls by operation and outcome.
	AICallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_calls_total",
			Help: "Total number of AI decision-oracle calls by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)
	// AIResponseTokensEstimate records the estimated token size of AI responses.
	AIResponseTokensEstimate = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ai_response_tokens_estimate",
			Help:    "Estimated token count of AI decision-oracle responses",
			Buckets: []float64{8, 16, 32, 64, 128, 256, 512},
		},
		[]string{"operation"},
	)
	// BroadcastsTotal counts broadcast publish attempts by channel and outcome.
	BroadcastsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broadcasts_total",
			Help: "Total number of broadcast publish attempts by channel and outcome",
		},
		[]string{"channel", "outcome"},
	)
	// EliminationsAppliedTotal counts wallets eliminated, by session.
	EliminationsAppliedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eliminations_applied_total",
			Help: "Total number of players eliminated",
		},
		[]string{"session_id"},
	)
	// VotesTalliedTotal counts vote tallies resolved, by result.
	VotesTalliedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "votes_tallied_total",
			Help: "Total number of lobby vote tallies resolved by result",
		},
		[]string{"result"},
	)
	// SecondsUntilNextEvent is a live gauge of the worker's sleep horizon.
	SecondsUntilNextEvent = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "seconds_until_next_event",
			Help: "Seconds remaining until the next scheduled phase event",
		},
	)
)

// InitMetrics registers all collectors with the default Prometheus registry.
// Safe to call once at process startup.
func InitMetrics() {
	prometheus.MustRegister(
		PhaseDispatchedTotal,
		PhaseDispatchLatencySeconds,
		AICallsTotal,
		AIResponseTokensEstimate,
		BroadcastsTotal,
		EliminationsAppliedTotal,
		VotesTalliedTotal,
		SecondsUntilNextEvent,
	)
}
