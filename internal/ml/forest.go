package ml

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"runtime"
	"sort"
	"sync"

	"har-lifecycle/internal/dataset"
)

// ForestConfig holds the random forest hyperparameters.
type ForestConfig struct {
	NEstimators     int   `json:"n_estimators" yaml:"nEstimators"`
	MaxDepth        int   `json:"max_depth" yaml:"maxDepth"` // 0 => unlimited
	MinSamplesSplit int   `json:"min_samples_split" yaml:"minSamplesSplit"`
	MinSamplesLeaf  int   `json:"min_samples_leaf" yaml:"minSamplesLeaf"`
	MaxFeatures     int   `json:"max_features" yaml:"maxFeatures"` // 0 => sqrt(p)
	Bootstrap       bool  `json:"bootstrap" yaml:"bootstrap"`
	Seed            int64 `json:"seed" yaml:"seed"`
}

// DefaultForestConfig mirrors a 100-tree forest with unlimited depth.
func DefaultForestConfig() ForestConfig {
	return ForestConfig{
		NEstimators:     100,
		MaxDepth:        0,
		MinSamplesSplit: 2,
		MinSamplesLeaf:  1,
		MaxFeatures:     0,
		Bootstrap:       true,
		Seed:            42,
	}
}

// TreeNode is one node of a flattened CART tree. Internal nodes send rows with
// x[FeatureIdx] <= Threshold to LeftChild.
type TreeNode struct {
	FeatureIdx int     `json:"feature_idx"`
	Threshold  float64 `json:"threshold"`
	LeftChild  int     `json:"left_child"`
	RightChild int     `json:"right_child"`
	ClassLabel int     `json:"class_label"`
	IsLeaf     bool    `json:"is_leaf"`
}

// Tree is a flattened decision tree; Nodes[0] is the root.
type Tree struct {
	Nodes []TreeNode `json:"nodes"`
}

// Forest is a random forest classifier bound to a feature schema.
type Forest struct {
	Features dataset.Schema `json:"features"`
	Classes  int            `json:"num_classes"`
	Params   ForestConfig   `json:"params"`
	Trees    []Tree         `json:"trees"`
}

// Schema implements Model.
func (f *Forest) Schema() dataset.Schema {
	return f.Features
}

// NumClasses implements Model.
func (f *Forest) NumClasses() int {
	return f.Classes
}

// Validate checks the structural integrity of a loaded forest so that a
// damaged file fails at load time rather than mid-request.
func (f *Forest) Validate() error {
	if err := f.Features.Validate(); err != nil {
		return fmt.Errorf("forest schema: %w", err)
	}
	if f.Classes < 2 {
		return fmt.Errorf("forest has %d classes", f.Classes)
	}
	if len(f.Trees) == 0 {
		return fmt.Errorf("forest has no trees")
	}
	width := f.Features.Len()
	for t, tree := range f.Trees {
		if len(tree.Nodes) == 0 {
			return fmt.Errorf("tree %d is empty", t)
		}
		for i, n := range tree.Nodes {
			if n.IsLeaf {
				if n.ClassLabel < 0 || n.ClassLabel >= f.Classes {
					return fmt.Errorf("tree %d node %d: class %d out of range", t, i, n.ClassLabel)
				}
				continue
			}
			if n.FeatureIdx < 0 || n.FeatureIdx >= width {
				return fmt.Errorf("tree %d node %d: feature %d out of range", t, i, n.FeatureIdx)
			}
			// children are always appended after their parent
			if n.LeftChild <= i || n.LeftChild >= len(tree.Nodes) || n.RightChild <= i || n.RightChild >= len(tree.Nodes) {
				return fmt.Errorf("tree %d node %d: invalid children", t, i)
			}
		}
	}
	return nil
}

// Predict implements Model. Every row must have exactly one value per schema
// column; votes are tallied per row and ties go to the lowest code.
func (f *Forest) Predict(rows [][]float64) ([]int, error) {
	width := f.Features.Len()
	out := make([]int, len(rows))
	votes := make([]int, f.Classes)
	for r, row := range rows {
		if len(row) != width {
			return nil, fmt.Errorf("%w: row %d has %d features, model expects %d", ErrSchemaMismatch, r, len(row), width)
		}
		for c := range votes {
			votes[c] = 0
		}
		for t := range f.Trees {
			class, err := f.Trees[t].predict(row)
			if err != nil {
				return nil, fmt.Errorf("tree %d: %w", t, err)
			}
			votes[class]++
		}
		out[r] = argmax(votes)
	}
	return out, nil
}

func (t *Tree) predict(row []float64) (int, error) {
	idx := 0
	for steps := 0; steps <= len(t.Nodes); steps++ {
		n := t.Nodes[idx]
		if n.IsLeaf {
			return n.ClassLabel, nil
		}
		if row[n.FeatureIdx] <= n.Threshold {
			idx = n.LeftChild
		} else {
			idx = n.RightChild
		}
		if idx < 0 || idx >= len(t.Nodes) {
			return 0, errors.New("invalid tree state")
		}
	}
	return 0, errors.New("tree traversal did not terminate")
}

// TrainForest fits a forest on rows x with class codes y in [0, classes).
// Trees are built concurrently, each from its own seed, so the result only
// depends on the inputs and cfg.Seed.
func TrainForest(ctx context.Context, schema dataset.Schema, x [][]float64, y []int, classes int, cfg ForestConfig) (*Forest, error) {
	if len(x) == 0 {
		return nil, errors.New("forest: empty training set")
	}
	if len(x) != len(y) {
		return nil, errors.New("forest: rows and labels length mismatch")
	}
	if cfg.NEstimators <= 0 {
		return nil, fmt.Errorf("forest: n_estimators must be positive, got %d", cfg.NEstimators)
	}
	if cfg.MinSamplesSplit < 2 {
		cfg.MinSamplesSplit = 2
	}
	if cfg.MinSamplesLeaf < 1 {
		cfg.MinSamplesLeaf = 1
	}
	p := schema.Len()
	maxFeatures := cfg.MaxFeatures
	if maxFeatures <= 0 || maxFeatures > p {
		maxFeatures = int(math.Max(1, math.Floor(math.Sqrt(float64(p)))))
	}

	forest := &Forest{
		Features: schema,
		Classes:  classes,
		Params:   cfg,
		Trees:    make([]Tree, cfg.NEstimators),
	}

	workers := runtime.GOMAXPROCS(0)
	if workers > cfg.NEstimators {
		workers = cfg.NEstimators
	}
	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				b := &treeBuilder{
					x:           x,
					y:           y,
					classes:     classes,
					cfg:         cfg,
					maxFeatures: maxFeatures,
					rnd:         rand.New(rand.NewSource(cfg.Seed + int64(i))),
				}
				forest.Trees[i] = Tree{Nodes: b.fit()}
			}
		}()
	}

	var err error
	for i := 0; i < cfg.NEstimators; i++ {
		if err = ctx.Err(); err != nil {
			break
		}
		jobs <- i
	}
	close(jobs)
	wg.Wait()
	if err != nil {
		return nil, err
	}
	return forest, nil
}

type treeBuilder struct {
	x           [][]float64
	y           []int
	classes     int
	cfg         ForestConfig
	maxFeatures int
	rnd         *rand.Rand
	nodes       []TreeNode
}

func (b *treeBuilder) fit() []TreeNode {
	n := len(b.x)
	idx := make([]int, n)
	for i := range idx {
		if b.cfg.Bootstrap {
			idx[i] = b.rnd.Intn(n)
		} else {
			idx[i] = i
		}
	}
	b.build(idx, 0)
	return b.nodes
}

func (b *treeBuilder) build(idx []int, depth int) int {
	id := len(b.nodes)
	b.nodes = append(b.nodes, TreeNode{})

	counts := make([]int, b.classes)
	for _, i := range idx {
		counts[b.y[i]]++
	}
	leaf := TreeNode{FeatureIdx: -1, LeftChild: -1, RightChild: -1, ClassLabel: argmax(counts), IsLeaf: true}

	if isPure(counts) || len(idx) < b.cfg.MinSamplesSplit || (b.cfg.MaxDepth > 0 && depth >= b.cfg.MaxDepth) {
		b.nodes[id] = leaf
		return id
	}

	feature, threshold, ok := b.bestSplit(idx, counts)
	if !ok {
		b.nodes[id] = leaf
		return id
	}

	var left, right []int
	for _, i := range idx {
		if b.x[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}

	l := b.build(left, depth+1)
	r := b.build(right, depth+1)
	b.nodes[id] = TreeNode{FeatureIdx: feature, Threshold: threshold, LeftChild: l, RightChild: r}
	return id
}

// bestSplit searches a random subset of features for the threshold with the
// lowest weighted gini impurity.
func (b *treeBuilder) bestSplit(idx []int, counts []int) (int, float64, bool) {
	n := len(idx)
	parent := gini(counts, n)
	bestScore := parent - 1e-12
	bestFeature, bestThreshold := -1, 0.0

	p := len(b.x[0])
	features := b.rnd.Perm(p)[:b.maxFeatures]
	sorted := make([]int, n)
	leftCounts := make([]int, b.classes)
	rightCounts := make([]int, b.classes)

	for _, f := range features {
		copy(sorted, idx)
		sort.Slice(sorted, func(a, c int) bool { return b.x[sorted[a]][f] < b.x[sorted[c]][f] })

		for c := range leftCounts {
			leftCounts[c] = 0
		}
		copy(rightCounts, counts)

		for k := 0; k < n-1; k++ {
			cls := b.y[sorted[k]]
			leftCounts[cls]++
			rightCounts[cls]--

			nl := k + 1
			nr := n - nl
			if nl < b.cfg.MinSamplesLeaf || nr < b.cfg.MinSamplesLeaf {
				continue
			}
			v, next := b.x[sorted[k]][f], b.x[sorted[k+1]][f]
			if v == next {
				continue
			}
			score := (float64(nl)*gini(leftCounts, nl) + float64(nr)*gini(rightCounts, nr)) / float64(n)
			if score < bestScore {
				bestScore = score
				bestFeature = f
				bestThreshold = v + (next-v)/2
			}
		}
	}
	return bestFeature, bestThreshold, bestFeature >= 0
}

func gini(counts []int, n int) float64 {
	if n == 0 {
		return 0
	}
	sum := 0.0
	for _, c := range counts {
		p := float64(c) / float64(n)
		sum += p * p
	}
	return 1 - sum
}

func isPure(counts []int) bool {
	nonZero := 0
	for _, c := range counts {
		if c > 0 {
			nonZero++
		}
	}
	return nonZero <= 1
}

func argmax(values []int) int {
	best := 0
	for i := 1; i < len(values); i++ {
		if values[i] > values[best] {
			best = i
		}
	}
	return best
}
