package guide

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/linnemanlabs/sightline/internal/partner"
)

// Metrics holds Prometheus metrics for classification and triage.
type Metrics struct {
	ClassifyTotal    *prometheus.CounterVec
	ClassifyDuration *prometheus.HistogramVec
	PartnerAttempts  *prometheus.CounterVec
	PartnerDuration  *prometheus.HistogramVec
	Resolutions      *prometheus.CounterVec
	CacheLookups     *prometheus.CounterVec
	SweepEvictions   prometheus.Counter
	TriageVerdicts   *prometheus.CounterVec
	Notifications    *prometheus.CounterVec
}

// NewMetrics registers and returns the metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ClassifyTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sightline_classify_total",
			Help: "Classification requests by outcome.",
		}, []string{"outcome"}),
		ClassifyDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sightline_classify_duration_seconds",
			Help:    "End-to-end classification latency in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms .. ~82s
		}, []string{"outcome"}),
		PartnerAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sightline_partner_attempts_total",
			Help: "Individual partner calls by backend and outcome.",
		}, []string{"backend", "outcome"}),
		PartnerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sightline_partner_attempt_duration_seconds",
			Help:    "Duration of individual partner calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 13), // 10ms .. ~41s
		}, []string{"backend"}),
		Resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sightline_resolutions_total",
			Help: "Label resolutions by match kind.",
		}, []string{"matched_by"}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sightline_session_lookups_total",
			Help: "Session cache lookups by outcome.",
		}, []string{"outcome"}),
		SweepEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sightline_session_sweep_evictions_total",
			Help: "Sessions evicted by the background sweeper.",
		}),
		TriageVerdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sightline_triage_verdicts_total",
			Help: "Triage verdicts by urgency level and rule.",
		}, []string{"level", "rule_id"}),
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sightline_notifications_total",
			Help: "Urgent triage notifications by result.",
		}, []string{"result"}),
	}

	reg.MustRegister(
		m.ClassifyTotal,
		m.ClassifyDuration,
		m.PartnerAttempts,
		m.PartnerDuration,
		m.Resolutions,
		m.CacheLookups,
		m.SweepEvictions,
		m.TriageVerdicts,
		m.Notifications,
	)

	return m
}

// PartnerHooks returns partner.Hooks that record every attempt.
func (m *Metrics) PartnerHooks() partner.Hooks {
	if m == nil {
		return partner.Hooks{}
	}
	return partner.Hooks{
		OnAttempt: func(backend string, _ int, outcome string, seconds float64) {
			m.PartnerAttempts.WithLabelValues(backend, outcome).Inc()
			m.PartnerDuration.WithLabelValues(backend).Observe(seconds)
		},
	}
}

// ObserveSweep is the sweeper callback.
func (m *Metrics) ObserveSweep(evicted int) {
	if m == nil {
		return
	}
	m.SweepEvictions.Add(float64(evicted))
}

func (m *Metrics) classify(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.ClassifyTotal.WithLabelValues(outcome).Inc()
	m.ClassifyDuration.WithLabelValues(outcome).Observe(seconds)
}

func (m *Metrics) resolution(kind string) {
	if m != nil {
		m.Resolutions.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) lookup(outcome string) {
	if m != nil {
		m.CacheLookups.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) verdict(level, ruleID string) {
	if m != nil {
		m.TriageVerdicts.WithLabelValues(level, ruleID).Inc()
	}
}

func (m *Metrics) notification(result string) {
	if m != nil {
		m.Notifications.WithLabelValues(result).Inc()
	}
}
