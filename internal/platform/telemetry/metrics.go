package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for certificate generation.
type Metrics struct {
	// Pipeline runs by questionnaire kind and outcome ("done", "failed")
	PipelineRuns *prometheus.CounterVec

	// Stage latencies
	StageDuration *prometheus.HistogramVec

	// Cleanup expunges that failed, by resource type
	ExpungeFailures *prometheus.CounterVec

	EnrichmentFailures prometheus.Counter

	// Signature checks by result ("valid", "invalid", "unsigned")
	Verifications *prometheus.CounterVec
}

// New registers the mediator metrics with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		PipelineRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ddcc_pipeline_runs_total",
			Help: "Total certificate pipeline runs by kind and outcome",
		}, []string{"kind", "outcome"}),

		StageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ddcc_pipeline_stage_duration_seconds",
			Help:    "Duration of certificate pipeline stages",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"stage"}),

		ExpungeFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ddcc_cleanup_expunge_failures_total",
			Help: "Expunge calls that failed during cleanup, by resource type",
		}, []string{"resource_type"}),

		EnrichmentFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "ddcc_enrichment_failures_total",
			Help: "Content enrichment attempts that failed",
		}),

		Verifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ddcc_signature_verifications_total",
			Help: "Signature verifications by result",
		}, []string{"result"}),
	}
}

// IncrementRun records the terminal state of a pipeline run.
func (m *Metrics) IncrementRun(kind, outcome string) {
	if m != nil {
		m.PipelineRuns.WithLabelValues(kind, outcome).Inc()
	}
}

// ObserveStage records how long a stage took.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m != nil {
		m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
	}
}

func (m *Metrics) IncrementExpungeFailure(resourceType string) {
	if m != nil {
		m.ExpungeFailures.WithLabelValues(resourceType).Inc()
	}
}

func (m *Metrics) IncrementEnrichmentFailure() {
	if m != nil {
		m.EnrichmentFailures.Inc()
	}
}

func (m *Metrics) IncrementVerification(result string) {
	if m != nil {
		m.Verifications.WithLabelValues(result).Inc()
	}
}
