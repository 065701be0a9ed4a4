// Package metrics provides Prometheus metrics for the HAR model lifecycle
// service: training runs, predictions, model reloads, pipeline stages and the
// HTTP API.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics of the service.
type Metrics struct {
	// Prediction metrics
	PredictionsTotal   prometheus.Counter   // Successful single predictions
	PredictionFailures prometheus.Counter   // Predictions that failed after validation
	ValidationFailures prometheus.Counter   // Requests rejected by input validation
	PredictionLatency  prometheus.Histogram // Prediction latency in seconds
	BatchRows          prometheus.Counter   // Rows scored by batch prediction

	// Model lifecycle metrics
	ModelReloads       *prometheus.CounterVec // Snapshot reloads by result
	TrainingRuns       *prometheus.CounterVec // Training runs by result
	TrainingDuration   prometheus.Histogram   // Training duration in seconds
	EvaluationAccuracy prometheus.Gauge       // Held-out accuracy of the last evaluation

	// Pipeline metrics
	StageDuration *prometheus.HistogramVec // Pipeline stage duration by stage
	StageFailures *prometheus.CounterVec   // Pipeline stage failures by stage
	PipelineRuns  *prometheus.CounterVec   // Pipeline runs by outcome

	// HTTP metrics
	HTTPRequests      *prometheus.CounterVec   // Requests by route and status code
	HTTPDuration      *prometheus.HistogramVec // Request duration by route
	StreamConnections prometheus.Gauge         // Open websocket streams
}

// New creates and registers all metrics with the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates metrics with a custom registry (useful for testing).
func NewWithRegistry(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		PredictionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "har_predictions_total",
			Help: "Total number of successful predictions",
		}),
		PredictionFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "har_prediction_failures_total",
			Help: "Total number of predictions that failed inside the model",
		}),
		ValidationFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "har_validation_failures_total",
			Help: "Total number of prediction inputs rejected by validation",
		}),
		PredictionLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "har_prediction_latency_seconds",
			Help:    "Prediction latency in seconds",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 5.0},
		}),
		BatchRows: factory.NewCounter(prometheus.CounterOpts{
			Name: "har_batch_rows_total",
			Help: "Total number of rows scored by batch prediction",
		}),
		ModelReloads: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "har_model_reloads_total",
			Help: "Total number of model snapshot reloads",
		}, []string{"result"}),
		TrainingRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "har_training_runs_total",
			Help: "Total number of training runs",
		}, []string{"result"}),
		TrainingDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "har_training_duration_seconds",
			Help:    "Duration of training runs in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 14),
		}),
		EvaluationAccuracy: factory.NewGauge(prometheus.GaugeOpts{
			Name: "har_evaluation_accuracy",
			Help: "Held-out accuracy of the most recent evaluation",
		}),
		StageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "har_pipeline_stage_duration_seconds",
			Help:    "Duration of pipeline stages in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 16),
		}, []string{"stage"}),
		StageFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "har_pipeline_stage_failures_total",
			Help: "Total number of failed pipeline stages",
		}, []string{"stage"}),
		PipelineRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "har_pipeline_runs_total",
			Help: "Total number of pipeline runs by outcome",
		}, []string{"outcome"}),
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "har_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"route", "code"}),
		HTTPDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "har_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		StreamConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "har_stream_connections",
			Help: "Number of open prediction streams",
		}),
	}
}
