package ml

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
)

// StratifiedSplit partitions row indices into train and test sets so that
// every class appears in both. Each class contributes
// clamp(round(n*testRatio), 1, n-1) rows to the test side. The shuffle is
// driven by seed only, so the same codes and seed always give the same split.
func StratifiedSplit(codes []int, numClasses int, testRatio float64, seed int64) (train, test []int, err error) {
	if testRatio <= 0 || testRatio >= 1 {
		return nil, nil, fmt.Errorf("%w: test ratio %.3f must be in (0, 1)", ErrInsufficientData, testRatio)
	}
	byClass := make([][]int, numClasses)
	for i, c := range codes {
		if c < 0 || c >= numClasses {
			return nil, nil, fmt.Errorf("%w: row %d: code %d outside [0, %d)", ErrSchema, i, c, numClasses)
		}
		byClass[c] = append(byClass[c], i)
	}

	present := 0
	for c, rows := range byClass {
		if len(rows) == 0 {
			continue
		}
		present++
		if len(rows) < 2 {
			return nil, nil, fmt.Errorf("%w: class %d has %d row, need at least 2", ErrInsufficientData, c, len(rows))
		}
	}
	if present < 2 {
		return nil, nil, fmt.Errorf("%w: need at least 2 classes, got %d", ErrInsufficientData, present)
	}

	rnd := rand.New(rand.NewSource(seed))
	for _, rows := range byClass {
		if len(rows) == 0 {
			continue
		}
		rnd.Shuffle(len(rows), func(i, j int) { rows[i], rows[j] = rows[j], rows[i] })

		n := len(rows)
		k := int(math.Round(float64(n) * testRatio))
		if k < 1 {
			k = 1
		}
		if k > n-1 {
			k = n - 1
		}
		test = append(test, rows[:k]...)
		train = append(train, rows[k:]...)
	}

	sort.Ints(train)
	sort.Ints(test)
	return train, test, nil
}
