// Package observability provides the Prometheus metrics and OpenTelemetry
// tracing shared by the intake workers, sweep and HTTP surface.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the intake pipeline.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Queue metrics
	JobsEnqueuedTotal *prometheus.CounterVec
	JobsTotal         *prometheus.CounterVec
	JobSeconds        *prometheus.HistogramVec
	QueueDepth        *prometheus.GaugeVec

	// Pipeline metrics
	StageOutcomesTotal  *prometheus.CounterVec
	InferenceSeconds    *prometheus.HistogramVec
	InferenceConfidence *prometheus.HistogramVec

	// Review metrics
	ReviewRaisedTotal   *prometheus.CounterVec
	ReviewResolvedTotal *prometheus.CounterVec

	// Sweep metrics
	SweepRunsTotal   prometheus.Counter
	SweepFailedTotal prometheus.Counter
	SweepErrorsTotal prometheus.Counter
}

// NewMetrics registers the intake metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		JobsEnqueuedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "intake_jobs_enqueued_total",
				Help: "Total jobs enqueued per job type",
			},
			[]string{"job_type"},
		),
		JobsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "intake_jobs_total",
				Help: "Total jobs handled per job type and result",
			},
			[]string{"job_type", "result"},
		),
		JobSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "intake_job_seconds",
				Help:    "Job handling latency",
				Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
			[]string{"job_type"},
		),
		QueueDepth: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "intake_queue_depth",
				Help: "Jobs waiting per queue",
			},
			[]string{"queue"},
		),
		StageOutcomesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "intake_stage_outcomes_total",
				Help: "Pipeline stage outcomes by kind",
			},
			[]string{"stage", "outcome"},
		),
		InferenceSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "intake_inference_seconds",
				Help:    "Inference call latency",
				Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"operation", "provider"},
		),
		InferenceConfidence: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "intake_inference_confidence",
				Help:    "Confidence reported by the inference provider",
				Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.75, 0.8, 0.9, 1.0},
			},
			[]string{"operation"},
		),
		ReviewRaisedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "intake_review_raised_total",
				Help: "Review items raised per reason",
			},
			[]string{"reason", "created"},
		),
		ReviewResolvedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "intake_review_resolved_total",
				Help: "Review resolutions per resolution kind",
			},
			[]string{"resolution"},
		),
		SweepRunsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "intake_sweep_runs_total",
			Help: "Recovery sweep passes",
		}),
		SweepFailedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "intake_sweep_failed_vocals_total",
			Help: "Vocals closed as terminal failures by the recovery sweep",
		}),
		SweepErrorsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "intake_sweep_errors_total",
			Help: "Errors encountered while sweeping individual vocals",
		}),
	}
}

// RecordEnqueued records a job pushed onto a queue.
func (m *Metrics) RecordEnqueued(jobType string) {
	if m == nil {
		return
	}
	m.JobsEnqueuedTotal.WithLabelValues(jobType).Inc()
}

// RecordJob records a handled job.
func (m *Metrics) RecordJob(jobType, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.JobsTotal.WithLabelValues(jobType, result).Inc()
	m.JobSeconds.WithLabelValues(jobType).Observe(d.Seconds())
}

// SetQueueDepth sets the current depth of a queue.
func (m *Metrics) SetQueueDepth(queue string, depth int64) {
	if m == nil {
		return
	}
	m.QueueDepth.WithLabelValues(queue).Set(float64(depth))
}

// RecordStage records a stage outcome.
func (m *Metrics) RecordStage(stage, outcome string) {
	if m == nil {
		return
	}
	m.StageOutcomesTotal.WithLabelValues(stage, outcome).Inc()
}

// RecordInference records latency and confidence of an inference call.
func (m *Metrics) RecordInference(operation, provider string, d time.Duration, confidence float64) {
	if m == nil {
		return
	}
	m.InferenceSeconds.WithLabelValues(operation, provider).Observe(d.Seconds())
	m.InferenceConfidence.WithLabelValues(operation).Observe(confidence)
}

// RecordReviewRaised records a review raise. created is false when an
// existing open item absorbed the raise.
func (m *Metrics) RecordReviewRaised(reason string, created bool) {
	if m == nil {
		return
	}
	label := "false"
	if created {
		label = "true"
	}
	m.ReviewRaisedTotal.WithLabelValues(reason, label).Inc()
}

// RecordReviewResolved records a review resolution.
func (m *Metrics) RecordReviewResolved(resolution string) {
	if m == nil {
		return
	}
	m.ReviewResolvedTotal.WithLabelValues(resolution).Inc()
}

// RecordSweep records one sweep pass.
func (m *Metrics) RecordSweep(failed, errs int) {
	if m == nil {
		return
	}
	m.SweepRunsTotal.Inc()
	m.SweepFailedTotal.Add(float64(failed))
	m.SweepErrorsTotal.Add(float64(errs))
}
