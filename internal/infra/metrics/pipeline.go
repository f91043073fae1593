package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		pipelineMessages,
		pipelineLatencyMs,
		quotaBlocks,
		scorerFailures,
		replierFailures,
	)
}

var (
	pipelineMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_messages_total",
			Help: "Inbound messages by terminal status (delivered/quota_exceeded/error).",
		},
		[]string{"status"},
	)

	pipelineLatencyMs = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pipeline_latency_ms",
			Help:    "End-to-end pipeline latency per inbound message in milliseconds.",
			Buckets: []float64{10, 25, 50, 100, 200, 400, 800, 1600, 3000, 5000},
		},
	)

	quotaBlocks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "quota_blocks_total",
			Help: "Anonymous messages rejected at the free-tier limit.",
		},
	)

	scorerFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scorer_failures_total",
			Help: "Emotion scorer calls that failed (degraded, non-fatal).",
		},
	)

	replierFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "replier_failures_total",
			Help: "Reply generator calls that failed (degraded, non-fatal).",
		},
	)
)

func ObservePipeline(status string, latencyMs int64) {
	pipelineMessages.WithLabelValues(status).Inc()
	pipelineLatencyMs.Observe(float64(latencyMs))
}

func QuotaBlocked() { quotaBlocks.Inc() }

func ScorerFailed() { scorerFailures.Inc() }

func ReplierFailed() { replierFailures.Inc() }
