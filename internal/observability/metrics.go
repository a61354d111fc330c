package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "ndvi"

// Metrics holds the Prometheus counters, histograms, and gauges for the NDVI pipeline.
type Metrics struct {
	RunsStarted      prometheus.Counter
	RunsCompleted    *prometheus.CounterVec // labels: outcome={ready,failed}, reason
	RunsInFlight     prometheus.Gauge
	RunDuration      prometheus.Histogram
	StageTransitions *prometheus.CounterVec // labels: stage

	// Per-observation metrics.
	ObservationsProcessed prometheus.Counter
	AbsentPoints          prometheus.Counter

	// Imagery source metrics.
	SourceRequests    *prometheus.CounterVec // labels: outcome={success,empty,transient,permanent}
	SourceRetries     prometheus.Counter
	SourceAPIDuration prometheus.Histogram

	CacheEntries     prometheus.Gauge
	ForecastOutcomes *prometheus.CounterVec // labels: outcome={fitted,insufficient_history,model_fit}
	SinkErrors       *prometheus.CounterVec // labels: sink
	ScheduledRuns    *prometheus.CounterVec // labels: outcome={succeeded,failed}
}

// NewMetrics creates and registers all pipeline metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics(true)
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting creates Metrics with a fresh registry to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics(false)
}

func newMetrics(withHelp bool) *Metrics {
	help := func(s string) string {
		if withHelp {
			return s
		}
		return ""
	}
	return &Metrics{
		RunsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_started_total",
			Help:      help("Total pipeline runs started."),
		}),
		RunsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_completed_total",
			Help:      help("Pipeline runs reaching a terminal state, by outcome and reason."),
		}, []string{"outcome", "reason"}),
		RunsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "runs_in_flight",
			Help:      help("Runs currently executing."),
		}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      help("Duration of a pipeline run from fetch to publish."),
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),
		StageTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_transitions_total",
			Help:      help("Run state transitions by target stage."),
		}, []string{"stage"}),
		ObservationsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "observations_processed_total",
			Help:      help("Scenes converted to NDVI and reduced over a region."),
		}),
		AbsentPoints: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "absent_points_total",
			Help:      help("Series points with no valid samples."),
		}),
		SourceRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_requests_total",
			Help:      help("Imagery source requests by outcome."),
		}, []string{"outcome"}),
		SourceRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_retries_total",
			Help:      help("Imagery fetches retried after a transient failure."),
		}),
		SourceAPIDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "source_api_duration_seconds",
			Help:      help("Imagery API request duration in seconds."),
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		CacheEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_entries",
			Help:      help("Completed results held in the result cache."),
		}),
		ForecastOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "forecast_outcomes_total",
			Help:      help("Forecast attempts by outcome."),
		}, []string{"outcome"}),
		SinkErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_errors_total",
			Help:      help("Result sink publish failures by sink."),
		}, []string{"sink"}),
		ScheduledRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scheduled_runs_total",
			Help:      help("Scheduled refreshes of watched regions by outcome."),
		}, []string{"outcome"}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.RunsStarted,
		m.RunsCompleted,
		m.RunsInFlight,
		m.RunDuration,
		m.StageTransitions,
		m.ObservationsProcessed,
		m.AbsentPoints,
		m.SourceRequests,
		m.SourceRetries,
		m.SourceAPIDuration,
		m.CacheEntries,
		m.ForecastOutcomes,
		m.SinkErrors,
		m.ScheduledRuns,
	}
}
