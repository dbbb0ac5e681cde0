package service

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"nifty-etl/internal/fetcher"
)

// Metrics holds the pipeline's Prometheus collectors on a private registry.
type Metrics struct {
	registry      *prometheus.Registry
	fetchAttempts *prometheus.CounterVec
	tickerOutcome *prometheus.CounterVec
	dqVerdicts    *prometheus.CounterVec
	runDuration   prometheus.Histogram
	lastSuccess   prometheus.Gauge
}

// NewMetrics creates and registers the pipeline collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		fetchAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "niftyetl_fetch_attempts_total",
				Help: "Provider batch calls by result",
			},
			[]string{"provider", "result"},
		),
		tickerOutcome: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "niftyetl_ticker_outcomes_total",
				Help: "Tickers by fetch outcome",
			},
			[]string{"outcome"},
		),
		dqVerdicts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "niftyetl_dq_verdicts_total",
				Help: "Data-quality verdicts by result",
			},
			[]string{"verdict"},
		),
		runDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "niftyetl_run_duration_seconds",
				Help:    "Wall time of a pipeline run",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
		),
		lastSuccess: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "niftyetl_last_success_timestamp_seconds",
				Help: "Unix time of the last completed run",
			},
		),
	}

	m.registry.MustRegister(
		m.fetchAttempts,
		m.tickerOutcome,
		m.dqVerdicts,
		m.runDuration,
		m.lastSuccess,
	)
	return m
}

// Registry exposes the registry for a /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Attempt implements fetcher.Observer.
func (m *Metrics) Attempt(provider string, ok bool) {
	if m == nil {
		return
	}
	result := "error"
	if ok {
		result = "ok"
	}
	m.fetchAttempts.WithLabelValues(provider, result).Inc()
}

// Outcome implements fetcher.Observer.
func (m *Metrics) Outcome(outcome fetcher.Outcome) {
	if m == nil {
		return
	}
	m.tickerOutcome.WithLabelValues(string(outcome)).Inc()
}

func (m *Metrics) verdict(pass bool) {
	if m == nil {
		return
	}
	label := "fail"
	if pass {
		label = "pass"
	}
	m.dqVerdicts.WithLabelValues(label).Inc()
}

func (m *Metrics) finished(started, ended time.Time) {
	if m == nil {
		return
	}
	m.runDuration.Observe(ended.Sub(started).Seconds())
	m.lastSuccess.Set(float64(ended.Unix()))
}

var _ fetcher.Observer = (*Metrics)(nil)
