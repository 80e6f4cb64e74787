package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements repository.Metrics using Prometheus.
type Recorder struct {
	webhooks  *prometheus.CounterVec
	decisions *prometheus.CounterVec
	jobs      *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
}

// New registers the collectors on reg (prometheus.DefaultRegisterer in production).
func New(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		webhooks: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signalgate_webhook_events_total",
				Help: "Webhook deliveries by strategy and admission status",
			},
			[]string{"strategy", "status"},
		),
		decisions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signalgate_decisions_total",
				Help: "Recorded decisions by strategy and outcome",
			},
			[]string{"strategy", "outcome"},
		),
		jobs: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signalgate_jobs_finished_total",
				Help: "Job attempts by type and resulting status",
			},
			[]string{"type", "status"},
		),
		errors: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signalgate_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "signalgate_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

func (r *Recorder) RecordWebhook(strategy, status string) {
	r.webhooks.WithLabelValues(strategy, status).Inc()
}

func (r *Recorder) RecordDecision(strategy, outcome string) {
	r.decisions.WithLabelValues(strategy, outcome).Inc()
}

func (r *Recorder) RecordJob(jobType, status string) {
	r.jobs.WithLabelValues(jobType, status).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errors.WithLabelValues(kind).Inc()
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

// Nop discards all measurements.
type Nop struct{}

func (Nop) RecordWebhook(string, string) {}
func (Nop) RecordDecision(string, string) {}
func (Nop) RecordJob(string, string) {}
func (Nop) RecordError(string) {}
func (Nop) RecordLatency(string, float64) {}
