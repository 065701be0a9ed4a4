package ml

import "fmt"

// ClassMetrics are the per-class scores of a classification report.
type ClassMetrics struct {
	Label     string  `json:"label"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1_score"`
	Support   int     `json:"support"`
}

// Averages aggregates per-class scores.
type Averages struct {
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1_score"`
	Support   int     `json:"support"`
}

// Evaluation is a classification report over one held-out partition.
// Confusion[i][j] counts rows of true class i predicted as class j.
type Evaluation struct {
	VersionID   string         `json:"version_id,omitempty"`
	Labels      []string       `json:"labels"`
	Classes     []ClassMetrics `json:"classes"`
	Accuracy    float64        `json:"accuracy"`
	MacroAvg    Averages       `json:"macro_avg"`
	WeightedAvg Averages       `json:"weighted_avg"`
	Confusion   [][]int        `json:"confusion_matrix"`
	Samples     int            `json:"samples"`
	// Importance is filled by the trainer when enabled.
	Importance []FeatureImportance `json:"feature_importance,omitempty"`
}

// Evaluate scores predicted codes against true codes. Scores of classes with
// no predictions or no support are reported as 0.
func Evaluate(vocab *Vocabulary, truth, predicted []int) (*Evaluation, error) {
	if len(truth) != len(predicted) {
		return nil, fmt.Errorf("%w: truth has %d rows, predictions %d", ErrPrediction, len(truth), len(predicted))
	}
	if len(truth) == 0 {
		return nil, fmt.Errorf("%w: nothing to evaluate", ErrInsufficientData)
	}

	k := vocab.Len()
	confusion := make([][]int, k)
	for i := range confusion {
		confusion[i] = make([]int, k)
	}
	correct := 0
	for i := range truth {
		t, p := truth[i], predicted[i]
		if t < 0 || t >= k || p < 0 || p >= k {
			return nil, fmt.Errorf("%w: row %d: code outside vocabulary", ErrPrediction, i)
		}
		confusion[t][p]++
		if t == p {
			correct++
		}
	}

	ev := &Evaluation{
		Labels:    vocab.Labels(),
		Classes:   make([]ClassMetrics, k),
		Accuracy:  float64(correct) / float64(len(truth)),
		Confusion: confusion,
		Samples:   len(truth),
	}

	for c := 0; c < k; c++ {
		tp := confusion[c][c]
		support, predictedAs := 0, 0
		for j := 0; j < k; j++ {
			support += confusion[c][j]
			predictedAs += confusion[j][c]
		}
		m := ClassMetrics{Label: ev.Labels[c], Support: support}
		m.Precision = ratio(tp, predictedAs)
		m.Recall = ratio(tp, support)
		if m.Precision+m.Recall > 0 {
			m.F1 = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
		}
		ev.Classes[c] = m

		ev.MacroAvg.Precision += m.Precision / float64(k)
		ev.MacroAvg.Recall += m.Recall / float64(k)
		ev.MacroAvg.F1 += m.F1 / float64(k)

		w := float64(support) / float64(len(truth))
		ev.WeightedAvg.Precision += m.Precision * w
		ev.WeightedAvg.Recall += m.Recall * w
		ev.WeightedAvg.F1 += m.F1 * w
	}
	ev.MacroAvg.Support = len(truth)
	ev.WeightedAvg.Support = len(truth)
	return ev, nil
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}
