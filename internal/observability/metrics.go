package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	AssignmentsTotal    = promauto.NewCounter(prometheus.CounterOpts{Namespace: "cleancare_dispatch", Name: "assignments_total", Help: "Total successful rider assignments"})
	AssignConflicts     = promauto.NewCounter(prometheus.CounterOpts{Namespace: "cleancare_dispatch", Name: "assign_conflicts_total", Help: "Assign attempts lost to a concurrent assigner"})
	NoRiderAvailable    = promauto.NewCounter(prometheus.CounterOpts{Namespace: "cleancare_dispatch", Name: "no_rider_available_total", Help: "Assign attempts that found no eligible rider"})
	DeliveriesCompleted = promauto.NewCounter(prometheus.CounterOpts{Namespace: "cleancare_dispatch", Name: "deliveries_completed_total", Help: "Delivery requests that reached delivered"})
	LedgerDuplicates    = promauto.NewCounter(prometheus.CounterOpts{Namespace: "cleancare_dispatch", Name: "ledger_duplicate_events_total", Help: "Completion events absorbed as duplicates by the earnings ledger"})
	RidersOnline        = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "cleancare_dispatch", Name: "riders_online", Help: "Riders currently reporting online"})

	CandidateSearchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "cleancare_dispatch",
		Name:      "candidate_search_duration_seconds",
		Help:      "Latency of candidate lookups against the rider directory",
	})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "cleancare_dispatch", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "cleancare_dispatch",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
