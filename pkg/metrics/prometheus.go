package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	ingested      *prometheus.CounterVec
	errorsTotal   *prometheus.CounterVec
	trainings     *prometheus.CounterVec
	forecasts     *prometheus.CounterVec
	activeVersion *prometheus.GaugeVec
	latency       *prometheus.HistogramVec
}

// New registers the recorder on the default Prometheus registry.
func New() *Recorder {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer registers the recorder on reg.
func NewWithRegisterer(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		ingested: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "farecast_observations_ingested_total",
				Help: "Raw fare records processed, by source and result",
			},
			[]string{"source", "result"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "farecast_errors_total",
				Help: "Total number of errors encountered, by kind",
			},
			[]string{"kind"},
		),
		trainings: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "farecast_trainings_total",
				Help: "Retrain attempts by route and outcome",
			},
			[]string{"route", "outcome"},
		),
		forecasts: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "farecast_forecasts_total",
				Help: "Forecast requests served, by route and mode",
			},
			[]string{"route", "mode"},
		),
		activeVersion: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "farecast_active_model_version",
				Help: "Version id of the active model per route",
			},
			[]string{"route"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "farecast_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

func (r *Recorder) RecordIngested(source, result string) {
	r.ingested.WithLabelValues(source, result).Inc()
}

func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

func (r *Recorder) RecordTraining(route, outcome string) {
	r.trainings.WithLabelValues(route, outcome).Inc()
}

func (r *Recorder) RecordForecast(route string, degraded bool) {
	mode := "model"
	if degraded {
		mode = "degraded"
	}
	r.forecasts.WithLabelValues(route, mode).Inc()
}

func (r *Recorder) RecordActiveVersion(route string, version int64) {
	r.activeVersion.WithLabelValues(route).Set(float64(version))
}

func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}
