package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus counters for the analysis service
type Metrics struct {
	RunsTotal      prometheus.Counter
	RunsFailed     prometheus.Counter
	CacheHits      prometheus.Counter
	RowsDropped    prometheus.Counter
	ModelFits      *prometheus.CounterVec
	ModelFitErrors *prometheus.CounterVec
	RunDuration    prometheus.Histogram
}

// New creates and registers all metrics on the default registry
func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith registers the metrics on a caller-supplied registry so tests
// and embedded uses do not collide on the process-global one.
func NewWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RunsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "uplift_runs_total",
			Help: "Total number of analysis runs started",
		}),
		RunsFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "uplift_runs_failed",
			Help: "Number of analysis runs that failed before producing any estimate",
		}),
		CacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "uplift_cache_hits",
			Help: "Number of runs served from the fingerprint result cache",
		}),
		RowsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "uplift_rows_dropped",
			Help: "Panel rows dropped for zero recorded exposure",
		}),
		ModelFits: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "uplift_model_fits",
			Help: "Successful model fits by model",
		}, []string{"model"}),
		ModelFitErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "uplift_model_fit_errors",
			Help: "Model fit failures by model",
		}, []string{"model"}),
		RunDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "uplift_run_duration_seconds",
			Help:    "Wall-clock duration of full analysis runs",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
	}
}
