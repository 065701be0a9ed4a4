package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"har-lifecycle/internal/dataset"
	"har-lifecycle/internal/ml"
	"har-lifecycle/internal/storage"
)

// Stage names of the standard pipeline, in run order.
const (
	StageIngest   = "ingest"
	StageTrain    = "train"
	StagePredict  = "predict"
	StageEvaluate = "evaluate"
)

// StageNames lists the standard stages in run order.
var StageNames = []string{StageIngest, StageTrain, StagePredict, StageEvaluate}

// Deps wires the standard stages to their collaborators.
type Deps struct {
	// UCIDir is the unpacked UCI HAR dataset read by ingest.
	UCIDir string
	// RawDataset is the merged CSV written by ingest and read by later stages.
	RawDataset string

	Trainer   *ml.Trainer
	Predictor *ml.Predictor
	Evaluator *ml.Evaluator
	Batches   *storage.Store

	Now func() time.Time
}

// Standard builds the ingest, train, predict and evaluate stages. Each stage
// reads its input from disk, so it only depends on what earlier stages
// committed.
func Standard(d Deps) []Stage {
	if d.Now == nil {
		d.Now = time.Now
	}
	return []Stage{
		{Name: StageIngest, Run: d.ingest},
		{Name: StageTrain, Run: d.train},
		{Name: StagePredict, Run: d.predict},
		{Name: StageEvaluate, Run: d.evaluate},
	}
}

// Select returns the named stages in pipeline order. An empty list selects
// every stage.
func Select(stages []Stage, names []string) ([]Stage, error) {
	if len(names) == 0 {
		return stages, nil
	}
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	var out []Stage
	for _, st := range stages {
		if want[st.Name] {
			out = append(out, st)
			delete(want, st.Name)
		}
	}
	if len(want) > 0 {
		unknown := make([]string, 0, len(want))
		for n := range want {
			unknown = append(unknown, n)
		}
		sort.Strings(unknown)
		return nil, fmt.Errorf("unknown stages: %s", strings.Join(unknown, ", "))
	}
	return out, nil
}

func (d Deps) ingest(ctx context.Context) error {
	ds, err := dataset.ImportUCI(d.UCIDir)
	if err != nil {
		return fmt.Errorf("import UCI dataset: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := dataset.WriteCSVFile(d.RawDataset, ds); err != nil {
		return fmt.Errorf("write merged dataset: %w", err)
	}
	log.Info().
		Str("file", d.RawDataset).
		Int("rows", ds.Len()).
		Int("features", ds.Schema.Len()).
		Msg("Merged dataset written")
	return nil
}

func (d Deps) load(requireLabels bool) (*dataset.Dataset, error) {
	return dataset.ReadCSVFile(d.RawDataset, dataset.Options{
		MetaColumns:   dataset.DefaultMetaColumns,
		RequireLabels: requireLabels,
	})
}

func (d Deps) train(ctx context.Context) error {
	if d.Trainer == nil {
		return fmt.Errorf("no trainer configured")
	}
	ds, err := d.load(true)
	if err != nil {
		return err
	}
	_, err = d.Trainer.Train(ctx, ds)
	return err
}

func (d Deps) predict(ctx context.Context) error {
	if d.Predictor == nil || d.Batches == nil {
		return fmt.Errorf("no predictor or batch store configured")
	}
	ds, err := d.load(false)
	if err != nil {
		return err
	}
	records, err := d.Predictor.Run(ctx, ds.Unlabeled())
	if err != nil {
		return err
	}
	now := d.Now()
	meta := storage.BatchMeta{
		Generation: storage.NewGeneration(now),
		Source:     filepath.Base(d.RawDataset),
		CreatedAt:  now.UTC(),
	}
	if err := d.Batches.SaveBatch(meta, records, ds); err != nil {
		return fmt.Errorf("save prediction batch: %w", err)
	}
	log.Info().Str("generation", meta.Generation).Int("rows", len(records)).Msg("Prediction batch saved")
	return nil
}

func (d Deps) evaluate(ctx context.Context) error {
	if d.Evaluator == nil {
		return fmt.Errorf("no evaluator configured")
	}
	ds, err := d.load(true)
	if err != nil {
		return err
	}
	_, err = d.Evaluator.Evaluate(ctx, ds)
	return err
}
