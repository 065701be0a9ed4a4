package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockMetrics struct {
	mu       sync.Mutex
	stages   []string
	failures []string
	outcomes []string
}

func (m *mockMetrics) StageObserve(stage string, _ time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stages = append(m.stages, stage)
	if err != nil {
		m.failures = append(m.failures, stage)
	}
}

func (m *mockMetrics) PipelineRunsInc(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, outcome)
}

func recordingStages(ran *[]string, failing string) []Stage {
	var stages []Stage
	for _, name := range []string{"ingest", "train", "predict", "evaluate"} {
		name := name
		stages = append(stages, Stage{Name: name, Run: func(context.Context) error {
			*ran = append(*ran, name)
			if name == failing {
				return errors.New(name + " exploded")
			}
			return nil
		}})
	}
	return stages
}

func statuses(s Summary) []Status {
	out := make([]Status, len(s.Stages))
	for i, r := range s.Stages {
		out[i] = r.Status
	}
	return out
}

func TestOrchestrator_AbortOnFailureSkipsRemainingStages(t *testing.T) {
	var ran []string
	metrics := &mockMetrics{}
	summary := New(AbortOnFailure, metrics).Run(context.Background(), recordingStages(&ran, "train"))

	assert.Equal(t, []string{"ingest", "train"}, ran)
	assert.Equal(t, []Status{StatusSucceeded, StatusFailed, StatusSkipped, StatusSkipped}, statuses(summary))
	assert.Equal(t, "aborted", summary.Outcome)
	assert.Equal(t, "abort", summary.Policy)
	assert.False(t, summary.Succeeded())
	assert.NotEmpty(t, summary.RunID)

	require.Len(t, summary.Failed(), 1)
	assert.Equal(t, "train exploded", summary.Failed()[0].Error)
	assert.ErrorContains(t, summary.Err(), "stage train: train exploded")

	assert.Equal(t, []string{"ingest", "train"}, metrics.stages)
	assert.Equal(t, []string{"train"}, metrics.failures)
	assert.Equal(t, []string{"aborted"}, metrics.outcomes)
}

func TestOrchestrator_BestEffortContinues(t *testing.T) {
	var ran []string
	summary := New(BestEffort, nil).Run(context.Background(), recordingStages(&ran, "train"))

	assert.Equal(t, []string{"ingest", "train", "predict", "evaluate"}, ran)
	assert.Equal(t, []Status{StatusSucceeded, StatusFailed, StatusSucceeded, StatusSucceeded}, statuses(summary))
	assert.Equal(t, "failed", summary.Outcome)
	assert.Error(t, summary.Err())
}

func TestOrchestrator_AllSucceed(t *testing.T) {
	var ran []string
	summary := New(AbortOnFailure, nil).Run(context.Background(), recordingStages(&ran, ""))

	assert.True(t, summary.Succeeded())
	assert.Equal(t, "succeeded", summary.Outcome)
	assert.NoError(t, summary.Err())
	assert.GreaterOrEqual(t, summary.Elapsed, time.Duration(0))
	for _, r := range summary.Stages {
		assert.False(t, r.StartedAt.IsZero())
	}
}

func TestOrchestrator_RecoversPanickingStage(t *testing.T) {
	stages := []Stage{
		{Name: "boom", Run: func(context.Context) error { panic("nil map") }},
		{Name: "after", Run: func(context.Context) error { return nil }},
		{Name: "missing"},
	}
	summary := New(BestEffort, nil).Run(context.Background(), stages)

	assert.Equal(t, []Status{StatusFailed, StatusSucceeded, StatusFailed}, statuses(summary))
	assert.Contains(t, summary.Stages[0].Error, "panicked")
}

func TestOrchestrator_CanceledContextSkips(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	stages := []Stage{
		{Name: "first", Run: func(context.Context) error { cancel(); return nil }},
		{Name: "second", Run: func(context.Context) error { t.Error("must not run"); return nil }},
	}
	summary := New(BestEffort, nil).Run(ctx, stages)

	assert.Equal(t, []Status{StatusSucceeded, StatusSkipped}, statuses(summary))
	assert.Equal(t, "canceled", summary.Outcome)
}

func TestParsePolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    Policy
		wantErr bool
	}{
		{"", AbortOnFailure, false},
		{"abort", AbortOnFailure, false},
		{"Best-Effort", BestEffort, false},
		{"continue", BestEffort, false},
		{"yolo", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePolicy(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
	assert.Equal(t, "best-effort", BestEffort.String())
}

func TestSelect(t *testing.T) {
	var ran []string
	stages := recordingStages(&ran, "")

	got, err := Select(stages, []string{"predict", "ingest"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "ingest", got[0].Name)
	assert.Equal(t, "predict", got[1].Name)

	all, err := Select(stages, nil)
	require.NoError(t, err)
	assert.Len(t, all, 4)

	_, err = Select(stages, []string{"deploy", "train"})
	assert.ErrorContains(t, err, "deploy")
}
