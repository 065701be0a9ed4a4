package ml

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStratifiedSplit_EveryClassOnBothSides(t *testing.T) {
	codes := make([]int, 0, 53)
	for i := 0; i < 40; i++ {
		codes = append(codes, 0)
	}
	for i := 0; i < 10; i++ {
		codes = append(codes, 1)
	}
	codes = append(codes, 2, 2, 2)

	train, test, err := StratifiedSplit(codes, 3, 0.2, 42)
	require.NoError(t, err)
	assert.Len(t, append(train, test...), len(codes))

	count := func(idx []int) map[int]int {
		m := map[int]int{}
		for _, i := range idx {
			m[codes[i]]++
		}
		return m
	}
	tc := count(test)
	assert.Equal(t, 8, tc[0])
	assert.Equal(t, 2, tc[1])
	assert.Equal(t, 1, tc[2])

	trc := count(train)
	assert.Equal(t, 32, trc[0])
	assert.Equal(t, 8, trc[1])
	assert.Equal(t, 2, trc[2])

	seen := map[int]bool{}
	for _, i := range append(train, test...) {
		assert.False(t, seen[i], "row %d assigned twice", i)
		seen[i] = true
	}
}

func TestStratifiedSplit_Reproducible(t *testing.T) {
	codes := []int{0, 1, 0, 1, 0, 1, 0, 1, 0, 1, 0, 1}
	train1, test1, err := StratifiedSplit(codes, 2, 0.3, 42)
	require.NoError(t, err)
	train2, test2, err := StratifiedSplit(codes, 2, 0.3, 42)
	require.NoError(t, err)
	assert.Equal(t, train1, train2)
	assert.Equal(t, test1, test2)
}

func TestStratifiedSplit_Infeasible(t *testing.T) {
	tests := []struct {
		name  string
		codes []int
		k     int
	}{
		{"single class", []int{0, 0, 0, 0}, 1},
		{"singleton class", []int{0, 0, 0, 1}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := StratifiedSplit(tt.codes, tt.k, 0.2, 42)
			assert.True(t, errors.Is(err, ErrInsufficientData), "got %v", err)
		})
	}

	_, _, err := StratifiedSplit([]int{0, 1}, 2, 1.5, 42)
	assert.True(t, errors.Is(err, ErrInsufficientData), "got %v", err)
	_, _, err = StratifiedSplit([]int{0, 3}, 2, 0.2, 42)
	assert.True(t, errors.Is(err, ErrSchema), "got %v", err)
}

func TestEvaluate(t *testing.T) {
	vocab := mustVocabulary("a", "b")
	ev, err := Evaluate(vocab, []int{0, 0, 1, 1}, []int{0, 1, 1, 1})
	require.NoError(t, err)

	assert.Equal(t, [][]int{{1, 1}, {0, 2}}, ev.Confusion)
	assert.InDelta(t, 0.75, ev.Accuracy, 1e-9)

	a, b := ev.Classes[0], ev.Classes[1]
	assert.Equal(t, "a", a.Label)
	assert.InDelta(t, 1.0, a.Precision, 1e-9)
	assert.InDelta(t, 0.5, a.Recall, 1e-9)
	assert.InDelta(t, 2.0/3.0, a.F1, 1e-9)
	assert.InDelta(t, 2.0/3.0, b.Precision, 1e-9)
	assert.InDelta(t, 1.0, b.Recall, 1e-9)
	assert.InDelta(t, 0.8, b.F1, 1e-9)
	assert.Equal(t, 2, b.Support)

	assert.InDelta(t, (2.0/3.0+0.8)/2, ev.MacroAvg.F1, 1e-9)
	assert.Equal(t, 4, ev.WeightedAvg.Support)

	_, err = Evaluate(vocab, []int{0}, []int{0, 1})
	assert.True(t, errors.Is(err, ErrPrediction), "got %v", err)
	_, err = Evaluate(vocab, nil, nil)
	assert.True(t, errors.Is(err, ErrInsufficientData), "got %v", err)
	_, err = Evaluate(vocab, []int{0}, []int{5})
	assert.True(t, errors.Is(err, ErrPrediction), "got %v", err)
}
