// Package metrics holds the Prometheus collectors for grading, generation
// and shadow evaluation. Collectors register on the default registry and
// are served by the daemon under /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "aula"

// Outcome label values shared by the recorders below.
const (
	OutcomeOK       = "ok"
	OutcomeFallback = "fallback"
	OutcomeFailed   = "failed"
	OutcomeSkipped  = "skipped"
	OutcomeJoined   = "joined"
	OutcomeCached   = "cached"
)

var (
	// judgeCalls counts AI judge scoring calls.
	// Labels: outcome (ok, fallback, failed)
	judgeCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "judge",
		Name:      "calls_total",
		Help:      "AI judge scoring calls by outcome",
	}, []string{"outcome"})

	// judgeLatency measures the duration of judge completion calls.
	judgeLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "judge",
		Name:      "latency_seconds",
		Help:      "AI judge call latency in seconds",
		Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
	})

	// shadowEvaluations counts shadow evaluator runs.
	// Labels: evaluator (criteria, quality, insights), outcome (ok, failed, skipped)
	shadowEvaluations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "shadow",
		Name:      "evaluations_total",
		Help:      "Shadow monitor evaluator runs by evaluator and outcome",
	}, []string{"evaluator", "outcome"})

	// generations counts content generation requests.
	// Labels: outcome (ok, failed, cached, joined)
	generations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "content",
		Name:      "generations_total",
		Help:      "Exercise content generation requests by outcome",
	}, []string{"outcome"})

	// tokensUsed sums completion tokens spent per purpose.
	// Labels: purpose (generation, grading, tutor, shadow)
	tokensUsed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "llm",
		Name:      "tokens_total",
		Help:      "Completion tokens spent by purpose",
	}, []string{"purpose"})

	// gradesPublished counts instructor grades that were published.
	gradesPublished = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "progress",
		Name:      "grades_published_total",
		Help:      "Grades published by instructors",
	})

	// transitions counts progress status changes.
	// Labels: to (target status)
	transitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "progress",
		Name:      "transitions_total",
		Help:      "Progress status transitions by target status",
	}, []string{"to"})
)

// RecordJudge records one judge call and its latency.
func RecordJudge(outcome string, durationSec float64) {
	judgeCalls.WithLabelValues(outcome).Inc()
	judgeLatency.Observe(durationSec)
}

// RecordJudgeFallback records a grading request answered with the neutral fallback.
func RecordJudgeFallback() {
	judgeCalls.WithLabelValues(OutcomeFallback).Inc()
}

// RecordShadow records one shadow evaluator run.
func RecordShadow(evaluator, outcome string) {
	shadowEvaluations.WithLabelValues(evaluator, outcome).Inc()
}

// RecordGeneration records one content generation request.
func RecordGeneration(outcome string) {
	generations.WithLabelValues(outcome).Inc()
}

// RecordTokens adds spent tokens for a purpose. Non-positive counts are ignored.
func RecordTokens(purpose string, n int) {
	if n > 0 {
		tokensUsed.WithLabelValues(purpose).Add(float64(n))
	}
}

// RecordGradePublished increments the published grades counter.
func RecordGradePublished() {
	gradesPublished.Inc()
}

// RecordTransition records a progress status change.
func RecordTransition(to string) {
	transitions.WithLabelValues(to).Inc()
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
