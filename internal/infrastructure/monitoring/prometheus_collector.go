package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"peercall/internal/core/domain"
)

// PrometheusCollector implements ports.MetricsRecorder over a Prometheus
// registry. Metrics are registered once per process via promauto.
type PrometheusCollector struct {
	callActive prometheus.Gauge

	callsStartedTotal *prometheus.CounterVec
	callsAnswered     prometheus.Counter
	callsEndedTotal   *prometheus.CounterVec

	callDuration prometheus.Histogram

	renegotiationsTotal prometheus.Counter
	candidatesTotal     *prometheus.CounterVec
	staleSignalsTotal   *prometheus.CounterVec
	failuresTotal       *prometheus.CounterVec

	streamLoss *prometheus.GaugeVec
}

func NewPrometheusCollector() *PrometheusCollector {
	return &PrometheusCollector{
		callActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "peercall_call_active",
			Help: "Whether a call attempt is currently active (0 or 1)",
		}),

		callsStartedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "peercall_calls_started_total",
			Help: "Calls started locally, by call type",
		}, []string{"type"}),

		callsAnswered: promauto.NewCounter(prometheus.CounterOpts{
			Name: "peercall_calls_answered_total",
			Help: "Calls answered locally",
		}),

		callsEndedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "peercall_calls_ended_total",
			Help: "Calls ended, by teardown reason",
		}, []string{"reason"}),

		callDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "peercall_call_duration_seconds",
			Help:    "Duration of call attempts from start to teardown",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),

		renegotiationsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "peercall_renegotiations_total",
			Help: "Completed renegotiation rounds",
		}),

		candidatesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "peercall_candidates_total",
			Help: "Connectivity candidates exchanged, by direction",
		}, []string{"direction"}),

		staleSignalsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "peercall_stale_signals_total",
			Help: "Signaling payloads dropped as stale or duplicate, by kind",
		}, []string{"kind"}),

		failuresTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "peercall_negotiation_failures_total",
			Help: "Fatal call attempt failures, by failing operation",
		}, []string{"op"}),

		streamLoss: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "peercall_stream_fraction_lost",
			Help: "Most recent RTCP fraction of lost packets, by stream kind",
		}, []string{"kind"}),
	}
}

func (p *PrometheusCollector) RecordCallStarted(callType domain.CallType) {
	p.callsStartedTotal.WithLabelValues(string(callType)).Inc()
}

func (p *PrometheusCollector) RecordCallAnswered() {
	p.callsAnswered.Inc()
}

func (p *PrometheusCollector) RecordCallEnded(reason string, duration time.Duration) {
	p.callsEndedTotal.WithLabelValues(reason).Inc()
	p.callDuration.Observe(duration.Seconds())
}

func (p *PrometheusCollector) RecordRenegotiation() {
	p.renegotiationsTotal.Inc()
}

func (p *PrometheusCollector) RecordCandidate(direction string) {
	p.candidatesTotal.WithLabelValues(direction).Inc()
}

func (p *PrometheusCollector) RecordStaleSignal(kind string) {
	p.staleSignalsTotal.WithLabelValues(kind).Inc()
}

func (p *PrometheusCollector) RecordNegotiationFailure(op string) {
	p.failuresTotal.WithLabelValues(op).Inc()
}

func (p *PrometheusCollector) RecordStreamLoss(kind string, fractionLost float64) {
	p.streamLoss.WithLabelValues(kind).Set(fractionLost)
}

func (p *PrometheusCollector) SetCallActive(active bool) {
	if active {
		p.callActive.Set(1)
	} else {
		p.callActive.Set(0)
	}
}
