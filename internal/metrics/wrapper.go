package metrics

import (
	"strconv"
	"time"
)

func result(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

// Wrapper adapts Metrics to the narrow metrics interfaces of the ml, pipeline
// and api packages, which cannot import this package's prometheus types.
type Wrapper struct {
	m *Metrics
}

func NewWrapper(m *Metrics) *Wrapper {
	return &Wrapper{m: m}
}

func (w *Wrapper) PredictionsInc() {
	w.m.PredictionsTotal.Inc()
}

func (w *Wrapper) PredictionFailuresInc() {
	w.m.PredictionFailures.Inc()
}

func (w *Wrapper) ValidationFailuresInc() {
	w.m.ValidationFailures.Inc()
}

func (w *Wrapper) PredictionLatencyObserve(seconds float64) {
	w.m.PredictionLatency.Observe(seconds)
}

func (w *Wrapper) BatchRowsAdd(n int) {
	w.m.BatchRows.Add(float64(n))
}

func (w *Wrapper) ModelReloadsInc(success bool) {
	w.m.ModelReloads.WithLabelValues(result(success)).Inc()
}

func (w *Wrapper) TrainingRunsInc(success bool) {
	w.m.TrainingRuns.WithLabelValues(result(success)).Inc()
}

func (w *Wrapper) TrainingDurationObserve(seconds float64) {
	w.m.TrainingDuration.Observe(seconds)
}

func (w *Wrapper) EvaluationAccuracySet(v float64) {
	w.m.EvaluationAccuracy.Set(v)
}

func (w *Wrapper) StageObserve(stage string, d time.Duration, err error) {
	w.m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
	if err != nil {
		w.m.StageFailures.WithLabelValues(stage).Inc()
	}
}

func (w *Wrapper) PipelineRunsInc(outcome string) {
	w.m.PipelineRuns.WithLabelValues(outcome).Inc()
}

func (w *Wrapper) HTTPRequestObserve(route string, code int, d time.Duration) {
	w.m.HTTPRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	w.m.HTTPDuration.WithLabelValues(route).Observe(d.Seconds())
}

func (w *Wrapper) StreamOpened() {
	w.m.StreamConnections.Inc()
}

func (w *Wrapper) StreamClosed() {
	w.m.StreamConnections.Dec()
}
