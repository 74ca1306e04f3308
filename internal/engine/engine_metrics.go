package engine

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the processing pipeline.
type Metrics struct {
	TransactionsTotal    *prometheus.CounterVec
	ApplyDuration        prometheus.Histogram
	AnomaliesTotal       *prometheus.CounterVec
	SLABreachesTotal     prometheus.Counter
	IntervalsTotal       *prometheus.CounterVec
	IncidentsOpenedTotal *prometheus.CounterVec
	IncidentsClosedTotal *prometheus.CounterVec
	ActiveSLATimers      prometheus.Gauge
}

// NewMetrics registers and returns pipeline metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TransactionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "edict_transactions_total",
			Help: "Total transaction submissions by result.",
		}, []string{"result"}),
		ApplyDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "edict_apply_duration_seconds",
			Help:    "Duration of transaction apply, normalization included.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12), // 0.5ms .. ~1s
		}),
		AnomaliesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "edict_anomalies_total",
			Help: "Total sequencing anomalies by kind.",
		}, []string{"kind"}),
		SLABreachesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "edict_sla_breaches_total",
			Help: "Total SLA interval breaches.",
		}),
		IntervalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "edict_sla_intervals_total",
			Help: "Total completed SLA intervals by outcome.",
		}, []string{"outcome"}),
		IncidentsOpenedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "edict_incidents_opened_total",
			Help: "Total incidents opened by kind and severity.",
		}, []string{"kind", "severity"}),
		IncidentsClosedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "edict_incidents_closed_total",
			Help: "Total incidents closed by kind.",
		}, []string{"kind"}),
		ActiveSLATimers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "edict_sla_timers_active",
			Help: "Currently armed SLA deadline timers.",
		}),
	}

	reg.MustRegister(
		m.TransactionsTotal,
		m.ApplyDuration,
		m.AnomaliesTotal,
		m.SLABreachesTotal,
		m.IntervalsTotal,
		m.IncidentsOpenedTotal,
		m.IncidentsClosedTotal,
		m.ActiveSLATimers,
	)

	return m
}

// Hooks returns a Hooks that updates the corresponding metrics.
func (m *Metrics) Hooks() Hooks {
	return Hooks{
		OnSubmit: func(result string, seconds float64) {
			m.TransactionsTotal.WithLabelValues(result).Inc()
			m.ApplyDuration.Observe(seconds)
		},
		OnAnomaly: func(kind string) {
			m.AnomaliesTotal.WithLabelValues(kind).Inc()
		},
		OnBreach: func() {
			m.SLABreachesTotal.Inc()
		},
		OnInterval: func(onTime bool) {
			outcome := "on_time"
			if !onTime {
				outcome = "breached"
			}
			m.IntervalsTotal.WithLabelValues(outcome).Inc()
		},
		OnIncidentOpened: func(kind, severity string) {
			m.IncidentsOpenedTotal.WithLabelValues(kind, severity).Inc()
		},
		OnIncidentClosed: func(kind string) {
			m.IncidentsClosedTotal.WithLabelValues(kind).Inc()
		},
		OnTimerArmed: func() {
			m.ActiveSLATimers.Inc()
		},
		OnTimerDisarmed: func() {
			m.ActiveSLATimers.Dec()
		},
	}
}
