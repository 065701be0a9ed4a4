package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewWrapper(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewWithRegistry(registry)
	wrapper := NewWrapper(metrics)

	if wrapper == nil {
		t.Fatal("NewWrapper returned nil")
	}
	if wrapper.m != metrics {
		t.Error("Wrapper does not contain correct metrics instance")
	}
}

func TestWrapper_PredictionMethods(t *testing.T) {
	metrics := NewWithRegistry(prometheus.NewRegistry())
	wrapper := NewWrapper(metrics)

	wrapper.PredictionsInc()
	wrapper.PredictionsInc()
	if got := testutil.ToFloat64(metrics.PredictionsTotal); got != 2 {
		t.Errorf("Expected 2 predictions, got %f", got)
	}

	wrapper.PredictionFailuresInc()
	if got := testutil.ToFloat64(metrics.PredictionFailures); got != 1 {
		t.Errorf("Expected 1 prediction failure, got %f", got)
	}

	wrapper.ValidationFailuresInc()
	if got := testutil.ToFloat64(metrics.ValidationFailures); got != 1 {
		t.Errorf("Expected 1 validation failure, got %f", got)
	}

	wrapper.BatchRowsAdd(561)
	if got := testutil.ToFloat64(metrics.BatchRows); got != 561 {
		t.Errorf("Expected 561 batch rows, got %f", got)
	}

	wrapper.PredictionLatencyObserve(0.002)
	if n := testutil.CollectAndCount(metrics.PredictionLatency); n != 1 {
		t.Errorf("Expected 1 latency series, got %d", n)
	}
}

func TestWrapper_LifecycleMethods(t *testing.T) {
	metrics := NewWithRegistry(prometheus.NewRegistry())
	wrapper := NewWrapper(metrics)

	wrapper.TrainingRunsInc(true)
	wrapper.TrainingRunsInc(false)
	wrapper.TrainingRunsInc(true)
	if got := testutil.ToFloat64(metrics.TrainingRuns.WithLabelValues("success")); got != 2 {
		t.Errorf("Expected 2 successful training runs, got %f", got)
	}
	if got := testutil.ToFloat64(metrics.TrainingRuns.WithLabelValues("failure")); got != 1 {
		t.Errorf("Expected 1 failed training run, got %f", got)
	}

	wrapper.ModelReloadsInc(false)
	if got := testutil.ToFloat64(metrics.ModelReloads.WithLabelValues("failure")); got != 1 {
		t.Errorf("Expected 1 failed reload, got %f", got)
	}

	wrapper.EvaluationAccuracySet(0.9712)
	if got := testutil.ToFloat64(metrics.EvaluationAccuracy); got != 0.9712 {
		t.Errorf("Expected accuracy 0.9712, got %f", got)
	}

	wrapper.TrainingDurationObserve(12.5)
}

func TestWrapper_PipelineAndHTTP(t *testing.T) {
	metrics := NewWithRegistry(prometheus.NewRegistry())
	wrapper := NewWrapper(metrics)

	wrapper.StageObserve("train", time.Second, nil)
	wrapper.StageObserve("train", time.Second, errors.New("boom"))
	wrapper.StageObserve("ingest", time.Millisecond, nil)
	if got := testutil.ToFloat64(metrics.StageFailures.WithLabelValues("train")); got != 1 {
		t.Errorf("Expected 1 train stage failure, got %f", got)
	}
	if n := testutil.CollectAndCount(metrics.StageDuration); n != 2 {
		t.Errorf("Expected 2 stage duration series, got %d", n)
	}

	wrapper.PipelineRunsInc("aborted")
	if got := testutil.ToFloat64(metrics.PipelineRuns.WithLabelValues("aborted")); got != 1 {
		t.Errorf("Expected 1 aborted run, got %f", got)
	}

	wrapper.HTTPRequestObserve("/har/predict", 422, 3*time.Millisecond)
	if got := testutil.ToFloat64(metrics.HTTPRequests.WithLabelValues("/har/predict", "422")); got != 1 {
		t.Errorf("Expected 1 request with 422, got %f", got)
	}

	wrapper.StreamOpened()
	wrapper.StreamOpened()
	wrapper.StreamClosed()
	if got := testutil.ToFloat64(metrics.StreamConnections); got != 1 {
		t.Errorf("Expected 1 open stream, got %f", got)
	}
}

func TestNew_RegistersWithDefaultRegistry(t *testing.T) {
	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("New panicked: %v", r)
		}
	}()
	m := New()
	if m.PredictionsTotal == nil {
		t.Fatal("PredictionsTotal not created")
	}
}
