package ml

import (
	"fmt"
	"path/filepath"
	"sort"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// Info describes the artifact the service currently serves.
type Info struct {
	ModelFile    string   `json:"model_file"`
	LabelEncoder string   `json:"label_encoder"`
	InputShape   []int    `json:"input_shape"`
	OutputLabels []string `json:"output_labels"`
	Features     []string `json:"features"`
	Version      string   `json:"version"`
}

// snapshot is never mutated after construction.
type snapshot struct {
	artifact *Artifact
	width    int
	info     Info
}

func newSnapshot(art *Artifact) (*snapshot, error) {
	if art == nil || art.Model == nil || art.Vocabulary == nil {
		return nil, fmt.Errorf("%w: incomplete artifact", ErrCorruptArtifact)
	}
	if art.Model.NumClasses() != art.Vocabulary.Len() {
		return nil, fmt.Errorf("%w: version %s: model has %d classes, vocabulary %d labels",
			ErrCorruptArtifact, art.VersionID, art.Model.NumClasses(), art.Vocabulary.Len())
	}
	labels := art.Vocabulary.Labels()
	sort.Strings(labels)
	schema := art.Model.Schema()
	width := schema.Len()
	return &snapshot{
		artifact: art,
		width:    width,
		info: Info{
			ModelFile:    filepath.Base(art.ModelFile),
			LabelEncoder: filepath.Base(art.VocabularyFile),
			InputShape:   []int{width},
			OutputLabels: labels,
			Features:     append([]string(nil), schema...),
			Version:      art.VersionID,
		},
	}, nil
}

// InferenceService answers single predictions from an immutable snapshot of
// the latest artifact. Reload swaps in a new snapshot; requests in flight
// finish against the one they loaded.
type InferenceService struct {
	resolver Resolver
	metrics  MetricsInterface
	current  atomic.Pointer[snapshot]
}

// NewInferenceService resolves the latest artifact immediately and refuses to
// start without one.
func NewInferenceService(resolver Resolver, metrics MetricsInterface) (*InferenceService, error) {
	s := &InferenceService{resolver: resolver, metrics: metrics}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *InferenceService) load() error {
	art, err := s.resolver.Latest()
	if err != nil {
		return err
	}
	snap, err := newSnapshot(art)
	if err != nil {
		return err
	}
	s.current.Store(snap)
	log.Info().
		Str("version", snap.info.Version).
		Int("input_width", snap.width).
		Strs("labels", snap.info.OutputLabels).
		Msg("Model snapshot loaded")
	return nil
}

// Reload resolves the latest artifact again. On failure the previous snapshot
// keeps serving.
func (s *InferenceService) Reload() error {
	prev := s.current.Load()
	err := s.load()
	if s.metrics != nil {
		s.metrics.ModelReloadsInc(err == nil)
	}
	if err != nil {
		log.Warn().Err(err).Str("serving", prev.info.Version).Msg("Model reload failed, keeping current snapshot")
		return err
	}
	next := s.current.Load()
	if !next.artifact.Model.Schema().Equal(prev.artifact.Model.Schema()) {
		log.Warn().
			Str("previous", prev.info.Version).
			Str("version", next.info.Version).
			Int("input_width", next.width).
			Msg("Input schema changed on reload")
	}
	return nil
}

// Predict validates one feature vector against the served model and returns
// the decoded activity. The model is not invoked for invalid input.
func (s *InferenceService) Predict(features []float64) (rec PredictionRecord, err error) {
	start := time.Now()
	snap := s.current.Load()

	if len(features) != snap.width {
		s.validationFailed()
		return rec, fmt.Errorf("%w: expected %d features, got %d", ErrValidation, snap.width, len(features))
	}
	if err := checkFinite(features); err != nil {
		s.validationFailed()
		return rec, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: version %s: model panicked: %v", ErrPrediction, snap.info.Version, r)
		}
		if err != nil {
			log.Error().Err(err).Str("version", snap.info.Version).Msg("Prediction failed")
			if s.metrics != nil {
				s.metrics.PredictionFailuresInc()
			}
		}
	}()

	codes, err := snap.artifact.Model.Predict([][]float64{features})
	if err != nil {
		return rec, fmt.Errorf("%w: version %s: %v", ErrPrediction, snap.info.Version, err)
	}
	if len(codes) != 1 {
		return rec, fmt.Errorf("%w: version %s: model returned %d codes", ErrPrediction, snap.info.Version, len(codes))
	}
	label, err := snap.artifact.Vocabulary.Decode(codes[0])
	if err != nil {
		return rec, fmt.Errorf("%w: version %s: %v", ErrPrediction, snap.info.Version, err)
	}

	if s.metrics != nil {
		s.metrics.PredictionsInc()
		s.metrics.PredictionLatencyObserve(time.Since(start).Seconds())
	}
	return PredictionRecord{
		Features:  features,
		VersionID: snap.info.Version,
		Label:     label,
	}, nil
}

func (s *InferenceService) validationFailed() {
	if s.metrics != nil {
		s.metrics.ValidationFailuresInc()
	}
}

// Info returns metadata of the current snapshot.
func (s *InferenceService) Info() Info {
	info := s.current.Load().info
	info.InputShape = append([]int(nil), info.InputShape...)
	info.OutputLabels = append([]string(nil), info.OutputLabels...)
	info.Features = append([]string(nil), info.Features...)
	return info
}

// Version returns the served version id.
func (s *InferenceService) Version() string {
	return s.current.Load().info.Version
}
