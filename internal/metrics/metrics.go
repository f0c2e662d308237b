// Package metrics holds the Prometheus collectors for credcore domain events.
// HTTP request metrics live in the api package.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	rotationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "credcore_rotation_transitions_total",
		Help: "Rotation lifecycle actions by action and outcome.",
	}, []string{"action", "outcome"})

	policyRejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "credcore_policy_rejections_total",
		Help: "Candidate secrets rejected by password policy.",
	}, []string{"kind"})

	reuseSkippedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "credcore_reuse_check_skipped_total",
		Help: "History entries skipped by reuse checks because they could not be decrypted.",
	})

	decryptionFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "credcore_decryption_failures_total",
		Help: "Envelope decryption failures by purpose.",
	}, []string{"purpose"})

	breachChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "credcore_breach_checks_total",
		Help: "Breach range checks by result: clean, breached or unavailable.",
	}, []string{"result"})

	breachRangeCacheTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "credcore_breach_range_cache_total",
		Help: "Breach range cache lookups by result: hit or miss.",
	}, []string{"result"})

	breachRequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "credcore_breach_request_duration_seconds",
		Help:    "Latency of breach range requests.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	})

	similarityScanDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "credcore_similarity_scan_duration_seconds",
		Help:    "Duration of vault similarity scans.",
		Buckets: prometheus.DefBuckets,
	})

	credentialsTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "credcore_credentials",
		Help: "Number of stored credentials.",
	})

	scheduledRotations = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "credcore_rotations_scheduled",
		Help: "Number of rotation records in SCHEDULED state.",
	})
)

// Rotation outcomes.
const (
	OutcomeSuccess  = "success"
	OutcomeRejected = "rejected"
	OutcomeConflict = "conflict"
	OutcomeError    = "error"
)

func RotationTransition(action, outcome string) {
	rotationsTotal.WithLabelValues(action, outcome).Inc()
}

// PolicyRejection counts a rejection; kind is "validation" or "reuse".
func PolicyRejection(kind string) {
	policyRejectionsTotal.WithLabelValues(kind).Inc()
}

func ReuseSkipped(n int) {
	if n > 0 {
		reuseSkippedTotal.Add(float64(n))
	}
}

func DecryptionFailure(purpose string) {
	decryptionFailuresTotal.WithLabelValues(purpose).Inc()
}

func BreachCheck(result string) {
	breachChecksTotal.WithLabelValues(result).Inc()
}

func BreachCache(hit bool) {
	if hit {
		breachRangeCacheTotal.WithLabelValues("hit").Inc()
		return
	}
	breachRangeCacheTotal.WithLabelValues("miss").Inc()
}

func ObserveBreachRequest(d time.Duration) {
	breachRequestDuration.Observe(d.Seconds())
}

func ObserveSimilarityScan(d time.Duration) {
	similarityScanDuration.Observe(d.Seconds())
}

// SetInventory publishes storage counts, refreshed by the health endpoint.
func SetInventory(credentials, scheduled int64) {
	credentialsTotal.Set(float64(credentials))
	scheduledRotations.Set(float64(scheduled))
}
