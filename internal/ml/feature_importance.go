package ml

import (
	"context"
	"fmt"
	"math/rand"
	"sort"

	"github.com/rs/zerolog/log"

	"har-lifecycle/internal/dataset"
)

// FeatureImportance is the accuracy lost when one feature column is shuffled.
type FeatureImportance struct {
	Name       string  `json:"name"`
	Importance float64 `json:"importance"`
}

// PermutationImportance measures, per feature, the accuracy drop of model on
// x when that column is shuffled across rows. Results are sorted by
// importance, highest first; negative drops are reported as 0.
func PermutationImportance(ctx context.Context, model Model, schema dataset.Schema, x [][]float64, codes []int, seed int64) ([]FeatureImportance, error) {
	if len(x) == 0 {
		return nil, fmt.Errorf("%w: no rows to permute", ErrInsufficientData)
	}
	if len(x) != len(codes) {
		return nil, fmt.Errorf("%w: %d rows for %d labels", ErrValidation, len(x), len(codes))
	}

	baseline, err := accuracy(model, x, codes)
	if err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewSource(seed))
	permuted := make([][]float64, len(x))
	for i := range x {
		permuted[i] = append([]float64(nil), x[i]...)
	}
	order := make([]int, len(x))

	out := make([]FeatureImportance, 0, len(schema))
	for j, name := range schema {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for i := range order {
			order[i] = i
		}
		rng.Shuffle(len(order), func(a, b int) { order[a], order[b] = order[b], order[a] })
		for i := range permuted {
			permuted[i][j] = x[order[i]][j]
		}

		score, err := accuracy(model, permuted, codes)
		if err != nil {
			return nil, err
		}
		drop := baseline - score
		if drop < 0 {
			drop = 0
		}
		out = append(out, FeatureImportance{Name: name, Importance: drop})

		for i := range permuted {
			permuted[i][j] = x[i][j]
		}
	}

	sort.SliceStable(out, func(a, b int) bool { return out[a].Importance > out[b].Importance })
	return out, nil
}

// TopFeatures returns at most n leading entries.
func TopFeatures(imp []FeatureImportance, n int) []FeatureImportance {
	if n > len(imp) {
		n = len(imp)
	}
	return append([]FeatureImportance(nil), imp[:n]...)
}

func accuracy(model Model, x [][]float64, codes []int) (float64, error) {
	predicted, err := model.Predict(x)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrPrediction, err)
	}
	correct := 0
	for i, p := range predicted {
		if p == codes[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(codes)), nil
}

func logImportance(imp []FeatureImportance) {
	for i, f := range imp {
		log.Info().Int("rank", i+1).Str("feature", f.Name).Float64("importance", f.Importance).Msg("Feature importance")
	}
}
