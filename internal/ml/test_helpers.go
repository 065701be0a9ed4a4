package ml

import "sync"

// MockMetrics implements MetricsInterface for testing
type MockMetrics struct {
	mu                 sync.Mutex
	Predictions        int
	PredictionFailures int
	ValidationFailures int
	LatencySum         float64
	BatchRows          int
	Reloads            int
	ReloadFailures     int
	TrainingRuns       int
	TrainingFailures   int
	TrainingSeconds    float64
	Accuracy           float64
}

func (m *MockMetrics) PredictionsInc() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Predictions++
}

func (m *MockMetrics) PredictionFailuresInc() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PredictionFailures++
}

func (m *MockMetrics) ValidationFailuresInc() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ValidationFailures++
}

func (m *MockMetrics) PredictionLatencyObserve(v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LatencySum += v
}

func (m *MockMetrics) BatchRowsAdd(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.BatchRows += n
}

func (m *MockMetrics) ModelReloadsInc(success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if success {
		m.Reloads++
	} else {
		m.ReloadFailures++
	}
}

func (m *MockMetrics) TrainingRunsInc(success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if success {
		m.TrainingRuns++
	} else {
		m.TrainingFailures++
	}
}

func (m *MockMetrics) TrainingDurationObserve(v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TrainingSeconds += v
}

func (m *MockMetrics) EvaluationAccuracySet(v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Accuracy = v
}
