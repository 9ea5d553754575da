package auditry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts records through capture and persistence. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	Captured        *prometheus.CounterVec
	CaptureFailures *prometheus.CounterVec
	Persisted       *prometheus.CounterVec
	Dropped         *prometheus.CounterVec
	PersistDuration prometheus.Histogram
	InFlight        prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg when it is non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Captured: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auditry_records_captured_total",
				Help: "Audit records captured, by logical table and operation",
			},
			[]string{"table", "operation"},
		),
		CaptureFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auditry_capture_failures_total",
				Help: "Entities skipped because their strategy failed",
			},
			[]string{"table"},
		),
		Persisted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auditry_records_persisted_total",
				Help: "Audit records written to storage",
			},
			[]string{"table"},
		),
		Dropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auditry_records_dropped_total",
				Help: "Audit records dropped, by reason",
			},
			[]string{"table", "reason"},
		),
		PersistDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "auditry_persist_duration_seconds",
				Help:    "Time spent writing one audit record",
				Buckets: prometheus.DefBuckets,
			},
		),
		InFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "auditry_batches_in_flight",
				Help: "Committed batches still being persisted",
			},
		),
	}
	if reg != nil {
		reg.MustRegister(m.Captured, m.CaptureFailures, m.Persisted, m.Dropped, m.PersistDuration, m.InFlight)
	}
	return m
}

func (m *Metrics) captured(r Record) {
	if m == nil {
		return
	}
	m.Captured.WithLabelValues(r.TableName, r.Operation.String()).Inc()
}

func (m *Metrics) captureFailed(table string) {
	if m == nil {
		return
	}
	m.CaptureFailures.WithLabelValues(table).Inc()
}

func (m *Metrics) persisted(table string, seconds float64) {
	if m == nil {
		return
	}
	m.Persisted.WithLabelValues(table).Inc()
	m.PersistDuration.Observe(seconds)
}

func (m *Metrics) dropped(table, reason string) {
	if m == nil {
		return
	}
	m.Dropped.WithLabelValues(table, reason).Inc()
}

func (m *Metrics) batchStarted() {
	if m == nil {
		return
	}
	m.InFlight.Inc()
}

func (m *Metrics) batchDone() {
	if m == nil {
		return
	}
	m.InFlight.Dec()
}
