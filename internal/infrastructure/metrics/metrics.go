package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels
const (
	OutcomeApplied   = "applied"
	OutcomeSkipped   = "skipped"
	OutcomeFailed    = "failed"
	OutcomeUpdated   = "updated"
	OutcomeUnchanged = "unchanged"
)

// ReconcilerMetrics counts reconciliation and verification work.
// Atomic counters are always maintained; Prometheus collectors only after Register.
// A nil *ReconcilerMetrics is valid and records nothing.
type ReconcilerMetrics struct {
	EventsApplied atomic.Uint64
	EventsSkipped atomic.Uint64
	EventsFailed  atomic.Uint64
	DoubleMints   atomic.Uint64
	SweepUpdated  atomic.Uint64
	SweepFailed   atomic.Uint64
	Verifications atomic.Uint64

	registerOnce        sync.Once
	eventsCounter       *prometheus.CounterVec
	sweepRowsCounter    *prometheus.CounterVec
	sweepDuration       prometheus.Histogram
	doubleMintCounter   prometheus.Counter
	listenerBlockGauge  prometheus.Gauge
	verificationCounter *prometheus.CounterVec
	ledgerRetryCounter  prometheus.Counter
}

func NewReconcilerMetrics() *ReconcilerMetrics {
	return &ReconcilerMetrics{}
}

// Register registers Prometheus metrics with the given registry.
// If registry is nil, this is a no-op. Subsequent calls are no-ops.
func (m *ReconcilerMetrics) Register(registry prometheus.Registerer) {
	if m == nil || registry == nil {
		return
	}

	m.registerOnce.Do(func() {
		factory := promauto.With(registry)

		m.eventsCounter = factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pharmachain_ledger_events_total",
			Help: "Ledger events handled by the reconciler, by event type and outcome",
		}, []string{"event", "outcome"})

		m.sweepRowsCounter = factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pharmachain_sweep_rows_total",
			Help: "Rows visited by the reconciliation sweep, by outcome",
		}, []string{"outcome"})

		m.sweepDuration = factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "pharmachain_sweep_duration_seconds",
			Help:    "Duration of full reconciliation sweeps",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		})

		m.doubleMintCounter = factory.NewCounter(prometheus.CounterOpts{
			Name: "pharmachain_double_mint_observed_total",
			Help: "Mint events for a batch already bound to a different token",
		})

		m.listenerBlockGauge = factory.NewGauge(prometheus.GaugeOpts{
			Name: "pharmachain_listener_block",
			Help: "Last block fully processed by the ledger listener",
		})

		m.verificationCounter = factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pharmachain_verifications_total",
			Help: "Authenticity verifications, by verdict",
		}, []string{"verdict"})

		m.ledgerRetryCounter = factory.NewCounter(prometheus.CounterOpts{
			Name: "pharmachain_ledger_call_retries_total",
			Help: "Ledger calls retried after a transient failure",
		})
	})
}

// IncEvent records one handled ledger event.
func (m *ReconcilerMetrics) IncEvent(event, outcome string) {
	if m == nil {
		return
	}
	switch outcome {
	case OutcomeApplied:
		m.EventsApplied.Add(1)
	case OutcomeSkipped:
		m.EventsSkipped.Add(1)
	case OutcomeFailed:
		m.EventsFailed.Add(1)
	}
	if m.eventsCounter != nil {
		m.eventsCounter.WithLabelValues(event, outcome).Inc()
	}
}

// IncSweepRow records one sweep row outcome.
func (m *ReconcilerMetrics) IncSweepRow(outcome string) {
	if m == nil {
		return
	}
	switch outcome {
	case OutcomeUpdated:
		m.SweepUpdated.Add(1)
	case OutcomeFailed:
		m.SweepFailed.Add(1)
	}
	if m.sweepRowsCounter != nil {
		m.sweepRowsCounter.WithLabelValues(outcome).Inc()
	}
}

func (m *ReconcilerMetrics) ObserveSweep(d time.Duration) {
	if m == nil || m.sweepDuration == nil {
		return
	}
	m.sweepDuration.Observe(d.Seconds())
}

func (m *ReconcilerMetrics) IncDoubleMint() {
	if m == nil {
		return
	}
	m.DoubleMints.Add(1)
	if m.doubleMintCounter != nil {
		m.doubleMintCounter.Inc()
	}
}

func (m *ReconcilerMetrics) SetListenerBlock(block uint64) {
	if m == nil || m.listenerBlockGauge == nil {
		return
	}
	m.listenerBlockGauge.Set(float64(block))
}

func (m *ReconcilerMetrics) IncVerification(authentic bool) {
	if m == nil {
		return
	}
	m.Verifications.Add(1)
	if m.verificationCounter == nil {
		return
	}
	verdict := "authentic"
	if !authentic {
		verdict = "rejected"
	}
	m.verificationCounter.WithLabelValues(verdict).Inc()
}

func (m *ReconcilerMetrics) IncLedgerRetry() {
	if m == nil || m.ledgerRetryCounter == nil {
		return
	}
	m.ledgerRetryCounter.Inc()
}
