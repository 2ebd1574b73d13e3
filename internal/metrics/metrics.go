// Package metrics holds the Prometheus collectors of the ledger.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TasksCompleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ledger_tasks_completed_total",
			Help: "Total number of daily tasks completed",
		},
	)

	RewardsCredited = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_rewards_credited_total",
			Help: "Total currency units credited as rewards",
		},
		[]string{"source"},
	)

	TransactionTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_transaction_transitions_total",
			Help: "Deposit and withdrawal state transitions",
		},
		[]string{"type", "status"},
	)

	ReferralCascadeFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ledger_referral_cascade_failures_total",
			Help: "Referral bonuses that could not be credited",
		},
	)

	TasksGenerated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ledger_daily_tasks_generated_total",
			Help: "Daily task rows created",
		},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{.005, .01, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"method", "route", "status"},
	)
)
