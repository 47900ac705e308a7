package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Cycle metrics
	CyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telhawk_anomaly_cycles_total",
			Help: "Total number of evaluation cycles by result (ok, failed, skipped)",
		},
		[]string{"result"},
	)

	CycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "telhawk_anomaly_cycle_duration_seconds",
			Help:    "Duration of evaluation cycles in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	LastCycleTimestamp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "telhawk_anomaly_last_cycle_timestamp_seconds",
			Help: "Unix time of the last completed evaluation cycle",
		},
	)

	// Rule evaluation metrics
	RuleEvaluations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telhawk_anomaly_rule_evaluations_total",
			Help: "Total number of rule evaluations by result (ok, failed)",
		},
		[]string{"result"},
	)

	RuleMatches = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "telhawk_anomaly_rule_matches_total",
			Help: "Total number of rule matches produced",
		},
	)

	// Alert metrics
	AlertUpserts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telhawk_anomaly_alert_upserts_total",
			Help: "Total number of alert upserts by action (created, updated, failed)",
		},
		[]string{"action"},
	)

	AlertTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telhawk_anomaly_alert_transitions_total",
			Help: "Total number of alert lifecycle transitions by action and outcome",
		},
		[]string{"action", "outcome"},
	)
)
