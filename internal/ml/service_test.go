package ml

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func wideArtifact(t *testing.T, version string, width int) (*Artifact, *countingModel) {
	t.Helper()
	model := &countingModel{Model: constModel{schema: featureNames(width), classes: 3, code: 2}}
	return &Artifact{
		VersionID:      version,
		Model:          model,
		Vocabulary:     mustVocabulary("WALKING", "LAYING", "SITTING"),
		ModelFile:      "/data/models/model_har_" + version + ".json",
		VocabularyFile: "/data/models/labels_har_" + version + ".json",
	}, model
}

func TestInferenceService_RejectsWrongLengthWithoutInvokingModel(t *testing.T) {
	art, model := wideArtifact(t, "v1", 561)
	metrics := &MockMetrics{}
	svc, err := NewInferenceService(ResolverFunc(func() (*Artifact, error) { return art, nil }), metrics)
	require.NoError(t, err)

	for _, n := range []int{0, 560, 562} {
		_, err := svc.Predict(make([]float64, n))
		assert.True(t, errors.Is(err, ErrValidation), "n=%d got %v", n, err)
	}
	bad := make([]float64, 561)
	bad[10] = math.Inf(1)
	_, err = svc.Predict(bad)
	assert.True(t, errors.Is(err, ErrValidation))

	assert.Equal(t, 0, model.Calls())
	assert.Equal(t, 4, metrics.ValidationFailures)

	rec, err := svc.Predict(make([]float64, 561))
	require.NoError(t, err)
	assert.Equal(t, "WALKING", rec.Label, "code 2 of the sorted vocabulary")
	assert.Equal(t, "v1", rec.VersionID)
	assert.Equal(t, 1, model.Calls())
	assert.Equal(t, 1, metrics.Predictions)
}

func TestInferenceService_RefusesToStartWithoutArtifact(t *testing.T) {
	_, err := NewInferenceService(ResolverFunc(func() (*Artifact, error) {
		return nil, ErrNotFound
	}), nil)
	assert.ErrorIs(t, err, ErrNotFound)

	art, _ := wideArtifact(t, "v1", 3)
	art.Vocabulary = mustVocabulary("a", "b")
	_, err = NewInferenceService(ResolverFunc(func() (*Artifact, error) { return art, nil }), nil)
	assert.ErrorIs(t, err, ErrCorruptArtifact)
}

func TestInferenceService_InfoIsIdempotent(t *testing.T) {
	art, _ := wideArtifact(t, "20240101T000000.000001-000", 561)
	svc, err := NewInferenceService(ResolverFunc(func() (*Artifact, error) { return art, nil }), nil)
	require.NoError(t, err)

	first := svc.Info()
	assert.Equal(t, "model_har_20240101T000000.000001-000.json", first.ModelFile)
	assert.Equal(t, "labels_har_20240101T000000.000001-000.json", first.LabelEncoder)
	assert.Equal(t, []int{561}, first.InputShape)
	require.Len(t, first.Features, 561)
	assert.Equal(t, featureNames(561)[0], first.Features[0])
	assert.Equal(t, []string{"LAYING", "SITTING", "WALKING"}, first.OutputLabels)
	assert.Equal(t, "20240101T000000.000001-000", first.Version)

	first.OutputLabels[0] = "mutated"
	first.Features[0] = "mutated"
	for i := 0; i < 3; i++ {
		again := svc.Info()
		assert.Equal(t, []string{"LAYING", "SITTING", "WALKING"}, again.OutputLabels)
		assert.Equal(t, []string(featureNames(561)), again.Features)
		assert.Equal(t, first.Version, again.Version)
	}
}

func TestInferenceService_PredictionErrors(t *testing.T) {
	art, model := wideArtifact(t, "v1", 4)
	model.err = errors.New("tree traversal failed")
	metrics := &MockMetrics{}
	svc, err := NewInferenceService(ResolverFunc(func() (*Artifact, error) { return art, nil }), metrics)
	require.NoError(t, err)

	_, err = svc.Predict([]float64{1, 2, 3, 4})
	assert.True(t, errors.Is(err, ErrPrediction))
	assert.Contains(t, err.Error(), "v1")
	assert.Equal(t, 1, metrics.PredictionFailures)

	// a code outside the vocabulary is corruption, surfaced as a prediction error
	art2 := &Artifact{
		VersionID:  "v2",
		Model:      constModel{schema: featureNames(4), classes: 2, code: 7},
		Vocabulary: mustVocabulary("a", "b"),
	}
	svc2, err := NewInferenceService(ResolverFunc(func() (*Artifact, error) { return art2, nil }), nil)
	require.NoError(t, err)
	_, err = svc2.Predict([]float64{1, 2, 3, 4})
	assert.True(t, errors.Is(err, ErrPrediction))
}

type panicModel struct{ constModel }

func (panicModel) Predict([][]float64) ([]int, error) { panic("index out of range") }

func TestInferenceService_RecoversModelPanic(t *testing.T) {
	art := &Artifact{
		VersionID:  "v1",
		Model:      panicModel{constModel{schema: featureNames(2), classes: 2}},
		Vocabulary: mustVocabulary("a", "b"),
	}
	svc, err := NewInferenceService(ResolverFunc(func() (*Artifact, error) { return art, nil }), nil)
	require.NoError(t, err)

	_, err = svc.Predict([]float64{1, 2})
	assert.True(t, errors.Is(err, ErrPrediction))
}

func TestInferenceService_Reload(t *testing.T) {
	v1, _ := wideArtifact(t, "v1", 3)
	v2, _ := wideArtifact(t, "v2", 5)

	var mu sync.Mutex
	current, resolveErr := v1, error(nil)
	resolver := ResolverFunc(func() (*Artifact, error) {
		mu.Lock()
		defer mu.Unlock()
		return current, resolveErr
	})
	metrics := &MockMetrics{}
	svc, err := NewInferenceService(resolver, metrics)
	require.NoError(t, err)
	assert.Equal(t, "v1", svc.Version())

	mu.Lock()
	current = v2
	mu.Unlock()
	require.NoError(t, svc.Reload())
	assert.Equal(t, "v2", svc.Version())
	assert.Equal(t, []int{5}, svc.Info().InputShape)
	assert.Equal(t, []string(featureNames(5)), svc.Info().Features)

	_, err = svc.Predict(make([]float64, 3))
	assert.True(t, errors.Is(err, ErrValidation), "old width is rejected after reload")

	mu.Lock()
	resolveErr = ErrCorruptArtifact
	current = nil
	mu.Unlock()
	assert.ErrorIs(t, svc.Reload(), ErrCorruptArtifact)
	assert.Equal(t, "v2", svc.Version(), "failed reload keeps serving the previous snapshot")

	assert.Equal(t, 1, metrics.Reloads)
	assert.Equal(t, 1, metrics.ReloadFailures)
}

func TestInferenceService_ConcurrentPredictAndReload(t *testing.T) {
	store := newMemStore()
	trainer := NewTrainer(store, fastTrainerConfig(), nil)
	ds := synthDataset(40, 6, "a", "b")
	_, err := trainer.Train(context.Background(), ds)
	require.NoError(t, err)

	svc, err := NewInferenceService(store, nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 200)
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				rec, err := svc.Predict(ds.Features[i%ds.Len()])
				if err != nil {
					errs <- err
					continue
				}
				if rec.Label != "a" && rec.Label != "b" {
					errs <- errors.New("unexpected label " + rec.Label)
				}
			}
		}()
	}
	for i := 0; i < 3; i++ {
		_, err := trainer.Train(context.Background(), ds)
		require.NoError(t, err)
		require.NoError(t, svc.Reload())
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
	assert.Equal(t, "v004", svc.Version())
}
