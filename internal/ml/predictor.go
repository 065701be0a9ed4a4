package ml

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"har-lifecycle/internal/dataset"
)

// MetricsInterface defines the metrics the training and prediction paths
// report. A nil implementation disables reporting.
type MetricsInterface interface {
	PredictionsInc()
	PredictionFailuresInc()
	ValidationFailuresInc()
	PredictionLatencyObserve(float64)
	BatchRowsAdd(int)
	ModelReloadsInc(success bool)
	TrainingRunsInc(success bool)
	TrainingDurationObserve(float64)
	EvaluationAccuracySet(float64)
}

const batchChunk = 1024

// Predictor applies the latest artifact to a batch of rows.
type Predictor struct {
	resolver Resolver
	metrics  MetricsInterface
}

func NewPredictor(resolver Resolver, metrics MetricsInterface) *Predictor {
	return &Predictor{resolver: resolver, metrics: metrics}
}

// Run resolves the latest artifact, reorders the input columns into the
// model's schema by name and returns one record per row, in input order.
func (p *Predictor) Run(ctx context.Context, ds *dataset.Dataset) ([]PredictionRecord, error) {
	start := time.Now()
	art, err := p.resolver.Latest()
	if err != nil {
		return nil, err
	}

	rows, err := AlignRows(art.Model.Schema(), ds)
	if err != nil {
		p.fail(err)
		return nil, err
	}

	records := make([]PredictionRecord, 0, len(rows))
	for lo := 0; lo < len(rows); lo += batchChunk {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		hi := lo + batchChunk
		if hi > len(rows) {
			hi = len(rows)
		}
		codes, err := art.Model.Predict(rows[lo:hi])
		if err != nil {
			err = fmt.Errorf("%w: version %s: %v", ErrPrediction, art.VersionID, err)
			p.fail(err)
			return nil, err
		}
		for i, code := range codes {
			label, err := art.Vocabulary.Decode(code)
			if err != nil {
				err = fmt.Errorf("%w: version %s: %v", ErrPrediction, art.VersionID, err)
				p.fail(err)
				return nil, err
			}
			records = append(records, PredictionRecord{
				Row:       lo + i,
				Features:  ds.Features[lo+i],
				VersionID: art.VersionID,
				Label:     label,
			})
		}
	}

	if p.metrics != nil {
		p.metrics.BatchRowsAdd(len(records))
		p.metrics.PredictionLatencyObserve(time.Since(start).Seconds())
	}
	log.Info().
		Str("version", art.VersionID).
		Int("rows", len(records)).
		Dur("duration", time.Since(start)).
		Msg("Batch prediction completed")
	return records, nil
}

func (p *Predictor) fail(err error) {
	if p.metrics == nil {
		return
	}
	if Kind(err) == ErrPrediction {
		p.metrics.PredictionFailuresInc()
	} else {
		p.metrics.ValidationFailuresInc()
	}
}

// AlignRows returns the dataset rows with columns in the order of schema.
// Columns are matched by name; a missing or unknown column is an
// ErrSchemaMismatch and non-finite values are an ErrValidation.
func AlignRows(schema dataset.Schema, ds *dataset.Dataset) ([][]float64, error) {
	if ds == nil {
		return nil, fmt.Errorf("%w: no input dataset", ErrValidation)
	}
	mapping, err := schema.Reconcile(ds.Schema)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchemaMismatch, err)
	}
	for r, row := range ds.Features {
		if len(row) != ds.Schema.Len() {
			return nil, fmt.Errorf("%w: row %d has %d values, expected %d", ErrValidation, r, len(row), ds.Schema.Len())
		}
		if err := checkFinite(row); err != nil {
			return nil, fmt.Errorf("%w: row %d: %v", ErrValidation, r, err)
		}
	}
	if dataset.Identity(mapping) {
		return ds.Features, nil
	}
	out := make([][]float64, len(ds.Features))
	for r, row := range ds.Features {
		aligned := make([]float64, len(mapping))
		for i, src := range mapping {
			aligned[i] = row[src]
		}
		out[r] = aligned
	}
	return out, nil
}

func checkFinite(row []float64) error {
	for i, v := range row {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("value %d is not finite", i)
		}
	}
	return nil
}
