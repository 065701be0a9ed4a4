package ml

import (
	"fmt"
	"math/rand"
	"sort"
	"sync"

	"har-lifecycle/internal/dataset"
)

// memStore is an in-memory Publisher and Resolver.
type memStore struct {
	mu       sync.Mutex
	next     int
	versions map[string]*Artifact
	putErr   error
}

func newMemStore() *memStore {
	return &memStore{versions: make(map[string]*Artifact)}
}

func (m *memStore) NextVersionID() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next++
	return fmt.Sprintf("v%03d", m.next), nil
}

func (m *memStore) Put(versionID string, model Model, vocab *Vocabulary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putErr != nil {
		return m.putErr
	}
	m.versions[versionID] = &Artifact{
		VersionID:      versionID,
		Model:          model,
		Vocabulary:     vocab,
		ModelFile:      "models/model_har_" + versionID + ".json",
		VocabularyFile: "models/labels_har_" + versionID + ".json",
	}
	return nil
}

func (m *memStore) Latest() (*Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.versions))
	for id := range m.versions {
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, ErrNotFound
	}
	sort.Strings(ids)
	return m.versions[ids[len(ids)-1]], nil
}

func (m *memStore) Get(id string) (*Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.versions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return a, nil
}

func featureNames(n int) dataset.Schema {
	s := make(dataset.Schema, n)
	for i := range s {
		s[i] = fmt.Sprintf("f%d", i)
	}
	return s
}

// synthDataset returns rows spread evenly over the given labels. Class c is
// centered on 3*c in every feature, so the classes are separable.
func synthDataset(rows, features int, labels ...string) *dataset.Dataset {
	rnd := rand.New(rand.NewSource(7))
	ds := &dataset.Dataset{
		Schema:      featureNames(features),
		Features:    make([][]float64, rows),
		Labels:      make([]string, rows),
		LabelColumn: dataset.DefaultLabelColumn,
	}
	for r := 0; r < rows; r++ {
		c := r % len(labels)
		row := make([]float64, features)
		for f := range row {
			row[f] = 3*float64(c) + rnd.Float64() - 0.5
		}
		ds.Features[r] = row
		ds.Labels[r] = labels[c]
	}
	return ds
}

func fastTrainerConfig() TrainerConfig {
	cfg := DefaultTrainerConfig()
	cfg.Forest.NEstimators = 15
	return cfg
}

// countingModel wraps a model and counts Predict calls.
type countingModel struct {
	Model
	mu    sync.Mutex
	calls int
	err   error
}

func (c *countingModel) Predict(rows [][]float64) ([]int, error) {
	c.mu.Lock()
	c.calls++
	err := c.err
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return c.Model.Predict(rows)
}

func (c *countingModel) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// constModel always predicts the same code over a fixed-width schema.
type constModel struct {
	schema  dataset.Schema
	classes int
	code    int
}

func (m constModel) Schema() dataset.Schema { return m.schema }
func (m constModel) NumClasses() int        { return m.classes }
func (m constModel) Predict(rows [][]float64) ([]int, error) {
	out := make([]int, len(rows))
	for i := range out {
		out[i] = m.code
	}
	return out, nil
}

func mustVocabulary(labels ...string) *Vocabulary {
	v, err := NewVocabulary(labels)
	if err != nil {
		panic(err)
	}
	return v
}
