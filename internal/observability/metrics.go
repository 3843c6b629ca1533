// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics are the tracker's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	FixesReceived  prometheus.Counter
	FixesAccepted  prometheus.Counter
	FixesRejected  *prometheus.CounterVec
	SensorErrors   *prometheus.CounterVec
	Retries        prometheus.Counter
	Degrades       prometheus.Counter
	Transitions    *prometheus.CounterVec
	Advisories     *prometheus.CounterVec
	HazardsLoaded  prometheus.Gauge
	RankingLatency prometheus.Histogram
}

// NewMetrics registers the collectors on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		FixesReceived: f.NewCounter(prometheus.CounterOpts{
			Name: "safetrack_fixes_received_total",
			Help: "Raw fixes reported by the position sensor",
		}),
		FixesAccepted: f.NewCounter(prometheus.CounterOpts{
			Name: "safetrack_fixes_accepted_total",
			Help: "Fixes that passed the rate and accuracy filter",
		}),
		FixesRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "safetrack_fixes_rejected_total",
			Help: "Fixes dropped by the filter, by reason",
		}, []string{"reason"}),
		SensorErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "safetrack_sensor_errors_total",
			Help: "Sensor errors by code",
		}, []string{"code"}),
		Retries: f.NewCounter(prometheus.CounterOpts{
			Name: "safetrack_acquisition_retries_total",
			Help: "High-accuracy retries scheduled",
		}),
		Degrades: f.NewCounter(prometheus.CounterOpts{
			Name: "safetrack_acquisition_degraded_total",
			Help: "Times acquisition fell back to the standard watch",
		}),
		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "safetrack_acquisition_transitions_total",
			Help: "State machine transitions by target state",
		}, []string{"to"}),
		Advisories: f.NewCounterVec(prometheus.CounterOpts{
			Name: "safetrack_advisories_total",
			Help: "Advisories raised to consumers, by kind",
		}, []string{"kind"}),
		HazardsLoaded: f.NewGauge(prometheus.GaugeOpts{
			Name: "safetrack_hazards_loaded",
			Help: "Hazard markers in the current snapshot",
		}),
		RankingLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "safetrack_ranking_latency_seconds",
			Help:    "Time to rank the hazard set",
			Buckets: prometheus.ExponentialBuckets(0.00001, 4, 8),
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) FixReceived() {
	if m != nil {
		m.FixesReceived.Inc()
	}
}

func (m *Metrics) FixAccepted() {
	if m != nil {
		m.FixesAccepted.Inc()
	}
}

func (m *Metrics) FixRejected(reason string) {
	if m != nil {
		m.FixesRejected.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) SensorError(code string) {
	if m != nil {
		m.SensorErrors.WithLabelValues(code).Inc()
	}
}

func (m *Metrics) Retry(int) {
	if m != nil {
		m.Retries.Inc()
	}
}

func (m *Metrics) Degraded() {
	if m != nil {
		m.Degrades.Inc()
	}
}

func (m *Metrics) Transition(_, to string) {
	if m != nil {
		m.Transitions.WithLabelValues(to).Inc()
	}
}

func (m *Metrics) Advisory(kind string) {
	if m != nil {
		m.Advisories.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) SetHazards(n int) {
	if m != nil {
		m.HazardsLoaded.Set(float64(n))
	}
}

func (m *Metrics) ObserveRanking(start time.Time) {
	if m != nil {
		m.RankingLatency.Observe(time.Since(start).Seconds())
	}
}
