// Package metrics holds the Prometheus collectors of the engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "quizmaster"

// Submission outcomes.
const (
	OutcomeAccepted   = "accepted"
	OutcomeResubmit   = "resubmitted"
	OutcomeRejected   = "rejected"
	OutcomeStoreError = "error"
)

// Metrics is safe to use through a nil pointer; every method is then a no-op.
type Metrics struct {
	submissions       *prometheus.CounterVec
	gradedAnswers     *prometheus.CounterVec
	settlements       prometheus.Counter
	dedupZeroed       prometheus.Counter
	broadcastFailures prometheus.Counter
	operationDuration *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Round submissions by outcome.",
		}, []string{"outcome"}),
		gradedAnswers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "graded_answers_total",
			Help:      "Answers graded, by question kind.",
		}, []string{"kind"}),
		settlements: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "betting_settlements_total",
			Help:      "Betting questions settled.",
		}),
		dedupZeroed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dedup_zeroed_answers_total",
			Help:      "Answers zeroed as repeats within a round.",
		}),
		broadcastFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_failures_total",
			Help:      "Events that could not be published.",
		}),
		operationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Latency of engine write operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.submissions,
			m.gradedAnswers,
			m.settlements,
			m.dedupZeroed,
			m.broadcastFailures,
			m.operationDuration,
		)
	}
	return m
}

func (m *Metrics) Submission(outcome string) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Graded(kind string) {
	if m == nil {
		return
	}
	m.gradedAnswers.WithLabelValues(kind).Inc()
}

func (m *Metrics) Settled() {
	if m == nil {
		return
	}
	m.settlements.Inc()
}

func (m *Metrics) DedupZeroed(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.dedupZeroed.Add(float64(n))
}

func (m *Metrics) BroadcastFailed() {
	if m == nil {
		return
	}
	m.broadcastFailures.Inc()
}

// Observe records how long operation took since start.
func (m *Metrics) Observe(operation string, start time.Time) {
	if m == nil {
		return
	}
	m.operationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
