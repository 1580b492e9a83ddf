package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Webhook outcomes recorded by RelayMetrics.WebhookOutcome.
const (
	OutcomeDispatched = "dispatched"
	OutcomeQueueFull  = "queue_full"
	OutcomeDuplicate  = "duplicate"
	OutcomeBot        = "bot"
	OutcomeNoResponse = "no_response"
	OutcomeEmpty      = "empty"
	OutcomeInvalid    = "invalid"
	OutcomeError      = "error"
)

// RelayMetrics groups the pipeline collectors. A nil *RelayMetrics is valid
// and records nothing, so components can take one optionally.
type RelayMetrics struct {
	webhookEvents  *prometheus.CounterVec
	tasks          *prometheus.CounterVec
	taskDuration   prometheus.Histogram
	nluRequests    *prometheus.CounterVec
	nluLatency     prometheus.Histogram
	outboundErrors *prometheus.CounterVec
	dedupEvicted   prometheus.Counter
	verifications  *prometheus.CounterVec

	reg prometheus.Registerer
}

// NewRelayMetrics registers the relay collectors on reg
// (prometheus.DefaultRegisterer in production, a fresh registry in tests).
func NewRelayMetrics(reg prometheus.Registerer) *RelayMetrics {
	f := promauto.With(reg)
	return &RelayMetrics{
		reg: reg,
		webhookEvents: f.NewCounterVec(prometheus.CounterOpts{
			Name: "livechat_webhook_events_total",
			Help: "Webhook deliveries by pipeline outcome.",
		}, []string{"outcome"}),
		tasks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "livechat_relay_tasks_total",
			Help: "Background relay tasks by final status.",
		}, []string{"status"}),
		taskDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "livechat_relay_task_duration_seconds",
			Help:    "Wall-clock duration of background relay tasks.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}),
		nluRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "livechat_nlu_requests_total",
			Help: "NLU agent calls by result.",
		}, []string{"result"}),
		nluLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "livechat_nlu_latency_seconds",
			Help:    "Latency of NLU agent calls.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2, 5, 10},
		}),
		outboundErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "livechat_outbound_failures_total",
			Help: "Failed chat-platform calls by operation.",
		}, []string{"op"}),
		dedupEvicted: f.NewCounter(prometheus.CounterOpts{
			Name: "livechat_dedup_evicted_total",
			Help: "Dedup cache entries removed by the sweeper.",
		}),
		verifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "livechat_verifications_total",
			Help: "Human-verification attempts by kind and result.",
		}, []string{"kind", "result"}),
	}
}

// WebhookOutcome counts one webhook delivery.
func (m *RelayMetrics) WebhookOutcome(outcome string) {
	if m == nil {
		return
	}
	m.webhookEvents.WithLabelValues(outcome).Inc()
}

// TaskFinished matches dispatch.Options.OnFinish.
func (m *RelayMetrics) TaskFinished(status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.tasks.WithLabelValues(status).Inc()
	m.taskDuration.Observe(elapsed.Seconds())
}

// NLUCall matches nlu.Client.Observe.
func (m *RelayMetrics) NLUCall(success bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if !success {
		result = "error"
	}
	m.nluRequests.WithLabelValues(result).Inc()
	m.nluLatency.Observe(elapsed.Seconds())
}

// OutboundFailed counts a failed chat-platform call.
func (m *RelayMetrics) OutboundFailed(op string) {
	if m == nil {
		return
	}
	m.outboundErrors.WithLabelValues(op).Inc()
}

// DedupSwept matches the dedup.RunSweeper callback.
func (m *RelayMetrics) DedupSwept(removed int) {
	if m == nil || removed <= 0 {
		return
	}
	m.dedupEvicted.Add(float64(removed))
}

// Verification counts a verify/refresh attempt.
func (m *RelayMetrics) Verification(refresh, success bool) {
	if m == nil {
		return
	}
	kind, result := "verify", "ok"
	if refresh {
		kind = "refresh"
	}
	if !success {
		result = "failed"
	}
	m.verifications.WithLabelValues(kind, result).Inc()
}

// ObserveQueueDepth exposes fn as the livechat_dispatch_queue_depth gauge.
func (m *RelayMetrics) ObserveQueueDepth(fn func() int) {
	if m == nil || fn == nil {
		return
	}
	promauto.With(m.reg).NewGaugeFunc(prometheus.GaugeOpts{
		Name: "livechat_dispatch_queue_depth",
		Help: "Relay tasks waiting for a worker.",
	}, func() float64 { return float64(fn()) })
}

// ObserveDedupSize exposes fn as the livechat_dedup_entries gauge.
func (m *RelayMetrics) ObserveDedupSize(fn func() int) {
	if m == nil || fn == nil {
		return
	}
	promauto.With(m.reg).NewGaugeFunc(prometheus.GaugeOpts{
		Name: "livechat_dedup_entries",
		Help: "Keys currently tracked by the in-memory dedup cache.",
	}, func() float64 { return float64(fn()) })
}
