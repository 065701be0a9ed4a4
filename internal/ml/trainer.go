package ml

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"har-lifecycle/internal/dataset"
)

// Publisher persists trained pairs. The artifact store implements it.
type Publisher interface {
	NextVersionID() (string, error)
	Put(versionID string, model Model, vocab *Vocabulary) error
}

// ReportWriter receives evaluation reports. kind names the producer, for
// example "training" or "evaluation".
type ReportWriter interface {
	WriteEvaluation(kind, versionID string, ev *Evaluation) error
}

// TrainerConfig controls the split and the forest.
type TrainerConfig struct {
	TestRatio float64
	Seed      int64
	Forest    ForestConfig
	// MinAccuracy blocks publication when the held-out accuracy is lower.
	// Zero disables the gate.
	MinAccuracy float64
	// ImportanceTop keeps the n most important features, by permutation on
	// the held-out split, in the training report. Zero skips the computation.
	ImportanceTop int
}

// DefaultTrainerConfig returns an 80/20 split with seed 42.
func DefaultTrainerConfig() TrainerConfig {
	return TrainerConfig{
		TestRatio: 0.2,
		Seed:      42,
		Forest:    DefaultForestConfig(),
	}
}

// TrainResult describes one successful training run.
type TrainResult struct {
	VersionID  string
	Evaluation *Evaluation
	TrainRows  int
	TestRows   int
	Duration   time.Duration
}

// Trainer turns a labeled dataset into a new published artifact version.
type Trainer struct {
	publisher Publisher
	reports   ReportWriter
	cfg       TrainerConfig
	metrics   MetricsInterface
}

func NewTrainer(publisher Publisher, cfg TrainerConfig, metrics MetricsInterface) *Trainer {
	if cfg.TestRatio == 0 {
		cfg.TestRatio = 0.2
	}
	if cfg.Forest.NEstimators == 0 {
		cfg.Forest = DefaultForestConfig()
	}
	return &Trainer{publisher: publisher, cfg: cfg, metrics: metrics}
}

// WithReports attaches a report writer. Report failures are logged and never
// undo a publication.
func (t *Trainer) WithReports(w ReportWriter) *Trainer {
	t.reports = w
	return t
}

// Train builds the vocabulary from every observed label, fits a forest on the
// stratified train partition, evaluates it on the held-out partition and
// publishes the pair. Nothing is published when any step fails.
func (t *Trainer) Train(ctx context.Context, ds *dataset.Dataset) (*TrainResult, error) {
	start := time.Now()
	res, err := t.train(ctx, ds)
	if t.metrics != nil {
		t.metrics.TrainingRunsInc(err == nil)
		t.metrics.TrainingDurationObserve(time.Since(start).Seconds())
	}
	if err != nil {
		log.Error().Err(err).Msg("Training run failed")
		return nil, err
	}
	res.Duration = time.Since(start)
	log.Info().
		Str("version", res.VersionID).
		Int("train_rows", res.TrainRows).
		Int("test_rows", res.TestRows).
		Float64("accuracy", res.Evaluation.Accuracy).
		Dur("duration", res.Duration).
		Msg("Published new model version")
	return res, nil
}

func (t *Trainer) train(ctx context.Context, ds *dataset.Dataset) (*TrainResult, error) {
	if ds == nil || ds.Schema.Len() == 0 {
		return nil, fmt.Errorf("%w: dataset has an empty feature schema", ErrSchema)
	}
	if err := ds.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchema, err)
	}
	if !ds.Labeled() {
		return nil, fmt.Errorf("%w: dataset has no label column", ErrSchema)
	}

	vocab, err := NewVocabulary(ds.Labels)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchema, err)
	}
	codes, err := vocab.EncodeAll(ds.Labels)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchema, err)
	}

	trainIdx, testIdx, err := StratifiedSplit(codes, vocab.Len(), t.cfg.TestRatio, t.cfg.Seed)
	if err != nil {
		return nil, err
	}

	xTrain, yTrain := gather(ds.Features, codes, trainIdx)
	xTest, yTest := gather(ds.Features, codes, testIdx)

	schema := append(dataset.Schema(nil), ds.Schema...)
	forest, err := TrainForest(ctx, schema, xTrain, yTrain, vocab.Len(), t.cfg.Forest)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: fit forest: %v", ErrSchema, err)
	}

	predicted, err := forest.Predict(xTest)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPrediction, err)
	}
	ev, err := Evaluate(vocab, yTest, predicted)
	if err != nil {
		return nil, err
	}
	logEvaluation("Training evaluation", ev)
	if t.metrics != nil {
		t.metrics.EvaluationAccuracySet(ev.Accuracy)
	}

	if t.cfg.ImportanceTop > 0 {
		imp, err := PermutationImportance(ctx, forest, schema, xTest, yTest, t.cfg.Seed)
		if err != nil {
			return nil, fmt.Errorf("feature importance: %w", err)
		}
		ev.Importance = TopFeatures(imp, t.cfg.ImportanceTop)
		logImportance(ev.Importance)
	}

	if t.cfg.MinAccuracy > 0 && ev.Accuracy < t.cfg.MinAccuracy {
		return nil, fmt.Errorf("%w: accuracy %.4f below %.4f", ErrQualityGate, ev.Accuracy, t.cfg.MinAccuracy)
	}

	versionID, err := t.publisher.NextVersionID()
	if err != nil {
		return nil, persistence(err)
	}
	if err := t.publisher.Put(versionID, forest, vocab); err != nil {
		return nil, persistence(err)
	}
	ev.VersionID = versionID

	if t.reports != nil {
		if err := t.reports.WriteEvaluation("training", versionID, ev); err != nil {
			log.Warn().Err(err).Str("version", versionID).Msg("Failed to write training report")
		}
	}

	return &TrainResult{
		VersionID:  versionID,
		Evaluation: ev,
		TrainRows:  len(trainIdx),
		TestRows:   len(testIdx),
	}, nil
}

func persistence(err error) error {
	if errors.Is(err, ErrPersistence) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrPersistence, err)
}

func gather(features [][]float64, codes []int, idx []int) ([][]float64, []int) {
	x := make([][]float64, len(idx))
	y := make([]int, len(idx))
	for i, r := range idx {
		x[i] = features[r]
		y[i] = codes[r]
	}
	return x, y
}

func logEvaluation(msg string, ev *Evaluation) {
	for _, c := range ev.Classes {
		log.Debug().
			Str("label", c.Label).
			Float64("precision", c.Precision).
			Float64("recall", c.Recall).
			Float64("f1", c.F1).
			Int("support", c.Support).
			Msg("Class score")
	}
	log.Info().
		Float64("accuracy", ev.Accuracy).
		Float64("macro_f1", ev.MacroAvg.F1).
		Float64("weighted_f1", ev.WeightedAvg.F1).
		Int("samples", ev.Samples).
		Msg(msg)
}
