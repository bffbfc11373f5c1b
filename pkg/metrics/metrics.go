package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Reconciler metrics
	ReconcileRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "canopy_reconcile_runs_total",
			Help: "Total number of reconciliation runs by outcome",
		},
		[]string{"outcome"},
	)

	ReconcileDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "canopy_reconcile_duration_seconds",
			Help:    "Duration of full reconciliation runs in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 4, 10),
		},
	)

	// Stage metrics
	StageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "canopy_stage_duration_seconds",
			Help:    "Duration of stage execution in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 4, 10),
		},
		[]string{"stage"},
	)

	StagesFailed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "canopy_stages_failed_total",
			Help: "Total number of failed stage executions by stage",
		},
		[]string{"stage"},
	)

	StagesSkipped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "canopy_stages_skipped_total",
			Help: "Total number of stages skipped as already validated",
		},
	)

	// Provider metrics
	ProvisionRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "canopy_provision_retries_total",
			Help: "Total number of provisioning retries by provider",
		},
		[]string{"provider"},
	)

	ValidationChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "canopy_validation_checks_total",
			Help: "Total number of validation checks by result",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(ReconcileRunsTotal)
	prometheus.MustRegister(ReconcileDuration)
	prometheus.MustRegister(StageDuration)
	prometheus.MustRegister(StagesFailed)
	prometheus.MustRegister(StagesSkipped)
	prometheus.MustRegister(ProvisionRetries)
	prometheus.MustRegister(ValidationChecks)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
