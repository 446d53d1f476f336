package dremio

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the client-side Prometheus collectors.
// A nil *Metrics records nothing.
type Metrics struct {
	sessions       *prometheus.CounterVec
	openSessions   prometheus.Gauge
	queries        *prometheus.CounterVec
	batches        prometheus.Counter
	rows           prometheus.Counter
	resolveSeconds prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with reg.
// A nil reg creates unregistered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		sessions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dremio_flight_sessions_established_total",
			Help: "Number of session establishment attempts by strategy and result",
		}, []string{"strategy", "result"}),
		openSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "dremio_flight_sessions_open",
			Help: "Number of sessions not yet closed",
		}),
		queries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dremio_flight_queries_total",
			Help: "Number of executed queries by result",
		}, []string{"result"}),
		batches: factory.NewCounter(prometheus.CounterOpts{
			Name: "dremio_flight_record_batches_total",
			Help: "Number of record batches received",
		}),
		rows: factory.NewCounter(prometheus.CounterOpts{
			Name: "dremio_flight_rows_total",
			Help: "Number of rows received",
		}),
		resolveSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "dremio_flight_resolve_duration_seconds",
			Help:    "Latency of resolving a query into a ticket",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "error"
	}
}

func (m *Metrics) observeEstablish(strategy AuthStrategyKind, err error) {
	if m == nil {
		return
	}
	m.sessions.WithLabelValues(strategy.String(), resultLabel(err)).Inc()
	if err == nil {
		m.openSessions.Inc()
	}
}

func (m *Metrics) observeClose() {
	if m == nil {
		return
	}
	m.openSessions.Dec()
}

func (m *Metrics) observeQuery(err error) {
	if m == nil {
		return
	}
	m.queries.WithLabelValues(resultLabel(err)).Inc()
}

func (m *Metrics) observeResolve(d time.Duration) {
	if m == nil {
		return
	}
	m.resolveSeconds.Observe(d.Seconds())
}

func (m *Metrics) observeBatch(rows int64) {
	if m == nil {
		return
	}
	m.batches.Inc()
	m.rows.Add(float64(rows))
}
