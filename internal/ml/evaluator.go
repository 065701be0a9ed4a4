package ml

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"har-lifecycle/internal/dataset"
)

// Evaluator scores the latest published artifact on a stratified held-out
// slice of a labeled dataset. It never publishes anything.
type Evaluator struct {
	resolver  Resolver
	reports   ReportWriter
	TestRatio float64
	Seed      int64
}

// NewEvaluator uses a 70/30 split with seed 42.
func NewEvaluator(resolver Resolver, reports ReportWriter) *Evaluator {
	return &Evaluator{resolver: resolver, reports: reports, TestRatio: 0.3, Seed: 42}
}

func (e *Evaluator) Evaluate(ctx context.Context, ds *dataset.Dataset) (*Evaluation, error) {
	art, err := e.resolver.Latest()
	if err != nil {
		return nil, err
	}
	if ds == nil || !ds.Labeled() {
		return nil, fmt.Errorf("%w: evaluation needs a labeled dataset", ErrSchema)
	}

	rows, err := AlignRows(art.Model.Schema(), ds)
	if err != nil {
		return nil, err
	}
	codes, err := art.Vocabulary.EncodeAll(ds.Labels)
	if err != nil {
		return nil, fmt.Errorf("%w: version %s: %v", ErrSchemaMismatch, art.VersionID, err)
	}

	_, testIdx, err := StratifiedSplit(codes, art.Vocabulary.Len(), e.TestRatio, e.Seed)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	x, truth := gather(rows, codes, testIdx)

	predicted, err := art.Model.Predict(x)
	if err != nil {
		return nil, fmt.Errorf("%w: version %s: %v", ErrPrediction, art.VersionID, err)
	}
	ev, err := Evaluate(art.Vocabulary, truth, predicted)
	if err != nil {
		return nil, err
	}
	ev.VersionID = art.VersionID
	logEvaluation("Model evaluation", ev)

	if e.reports != nil {
		if err := e.reports.WriteEvaluation("evaluation", art.VersionID, ev); err != nil {
			return ev, fmt.Errorf("%w: write evaluation report: %v", ErrPersistence, err)
		}
	}
	log.Info().Str("version", art.VersionID).Int("test_rows", len(testIdx)).Msg("Evaluation completed")
	return ev, nil
}
