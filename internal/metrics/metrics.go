// Package metrics declares the Prometheus instruments the pipeline
// observes. Collectors register on the default registry at init; the API
// serves them at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/scholargrid/harvester/internal/domain"
)

var (
	JobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "harvester",
		Name:      "jobs_total",
		Help:      "Scrape jobs finished, by source and outcome.",
	}, []string{"source", "outcome"})

	JobsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "harvester",
		Name:      "jobs_in_flight",
		Help:      "Scrape jobs currently executing.",
	})

	CandidatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "harvester",
		Name:      "candidates_total",
		Help:      "Raw candidates extracted from upstream listings.",
	}, []string{"source"})

	AdmittedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "harvester",
		Name:      "records_admitted_total",
		Help:      "Records accepted by the ingestion gate, by disposition.",
	}, []string{"source", "disposition"})

	RejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "harvester",
		Name:      "records_rejected_total",
		Help:      "Candidates dropped before persistence, by reason.",
	}, []string{"source", "reason"})

	ValidationScore = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "harvester",
		Name:      "validation_score",
		Help:      "Quality scores assigned by the link validator.",
		Buckets:   prometheus.LinearBuckets(0, 10, 11),
	})

	FetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "harvester",
		Name:      "fetch_duration_seconds",
		Help:      "Wall time of outbound fetches, including rate-limit waits.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
	}, []string{"host"})

	BreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "harvester",
		Name:      "breaker_state",
		Help:      "Circuit breaker state per source: 0 closed, 1 half-open, 2 open.",
	}, []string{"source"})
)

// Rejection reason labels. Fixed set to keep cardinality bounded.
const (
	ReasonInvalid     = "invalid"
	ReasonLowScore    = "below_threshold"
	ReasonPlaceholder = "placeholder"
)

// StateValue maps a breaker state onto the gauge encoding.
func StateValue(state domain.BreakerState) float64 {
	switch state {
	case domain.BreakerOpen:
		return 2
	case domain.BreakerHalfOpen:
		return 1
	default:
		return 0
	}
}
