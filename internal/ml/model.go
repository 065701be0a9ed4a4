// Package ml implements the HAR model lifecycle: label vocabularies, the
// random forest classifier, training with stratified evaluation, batch
// prediction, and the snapshot-based inference service.
//
// Every consumer resolves a (model, vocabulary) pair as one Artifact, so a
// code is always decoded by the vocabulary produced alongside the model that
// emitted it.
package ml

import (
	"encoding/json"
	"fmt"
	"time"

	"har-lifecycle/internal/dataset"
)

// Model is a fitted classifier bound to the ordered feature schema it was
// trained on. Predict returns one class code per row.
type Model interface {
	Schema() dataset.Schema
	NumClasses() int
	Predict(rows [][]float64) ([]int, error)
}

// Artifact is one published, immutable (model, vocabulary) pair.
type Artifact struct {
	VersionID      string
	Model          Model
	Vocabulary     *Vocabulary
	ModelFile      string
	VocabularyFile string
	CreatedAt      time.Time
}

// PredictionRecord ties one input row to the version that scored it and the
// decoded label.
type PredictionRecord struct {
	Row       int       `json:"row"`
	Features  []float64 `json:"features,omitempty"`
	VersionID string    `json:"version_id"`
	Label     string    `json:"label"`
}

// Resolver returns the latest published artifact.
type Resolver interface {
	Latest() (*Artifact, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func() (*Artifact, error)

// Latest calls f.
func (f ResolverFunc) Latest() (*Artifact, error) {
	return f()
}

const kindRandomForest = "random_forest"

// EncodeModel serializes a model and returns its kind tag.
func EncodeModel(m Model) (string, json.RawMessage, error) {
	switch mm := m.(type) {
	case *Forest:
		raw, err := json.Marshal(mm)
		if err != nil {
			return "", nil, fmt.Errorf("encode forest: %w", err)
		}
		return kindRandomForest, raw, nil
	default:
		return "", nil, fmt.Errorf("unsupported model type %T", m)
	}
}

// DecodeModel restores a model serialized by EncodeModel and checks its
// structure.
func DecodeModel(kind string, raw json.RawMessage) (Model, error) {
	switch kind {
	case kindRandomForest:
		var f Forest
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, fmt.Errorf("decode forest: %w", err)
		}
		if err := f.Validate(); err != nil {
			return nil, err
		}
		return &f, nil
	default:
		return nil, fmt.Errorf("unsupported model kind %q", kind)
	}
}
