package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TransfersTotal counts custody transfers by chain outcome
	TransfersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "custody_transfers_total",
			Help: "Total number of custody transfers",
		},
		[]string{"chain_outcome"},
	)

	// RegistrationsTotal counts equipment registrations by source and chain outcome
	RegistrationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "custody_registrations_total",
			Help: "Total number of equipment registrations",
		},
		[]string{"source", "chain_outcome"},
	)

	// ChainCallsTotal counts chain gateway calls by operation and result
	ChainCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "custody_chain_calls_total",
			Help: "Total number of chain gateway calls",
		},
		[]string{"operation", "result"},
	)

	// ChainCallDuration tracks chain call latency (dominated by confirmation wait)
	ChainCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "custody_chain_call_duration_seconds",
			Help:    "Chain gateway call duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"operation"},
	)

	// IntakeMessagesTotal counts intake messages by outcome
	IntakeMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "custody_intake_messages_total",
			Help: "Total number of intake messages processed",
		},
		[]string{"outcome"},
	)

	// IdentityLookupsTotal counts identity resolutions by result
	IdentityLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "custody_identity_lookups_total",
			Help: "Total number of holder address resolutions",
		},
		[]string{"result"},
	)
)
