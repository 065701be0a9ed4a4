// Package artifact persists (model, vocabulary) pairs as versioned files and
// resolves the latest complete pair.
//
// Each version is two JSON files sharing a version id:
//
//	model_har_<id>.json
//	labels_har_<id>.json
//
// Ids are fixed-width UTC timestamps with a disambiguating counter, so sorting
// file names of either family descending lists the newest version first.
package artifact

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"

	"har-lifecycle/internal/fsutil"
	"har-lifecycle/internal/ml"
)

const (
	modelPrefix = "model_har_"
	vocabPrefix = "labels_har_"
	fileExt     = ".json"

	timeLayout = "20060102T150405.000000"
	idLen      = len(timeLayout) + 4

	// settleDelay is how long Latest waits for another process to finish
	// publishing before it reports a vocabulary without a model as corrupt.
	settleDelay = 50 * time.Millisecond
)

type modelFile struct {
	VersionID string          `json:"version_id"`
	Kind      string          `json:"kind"`
	CreatedAt time.Time       `json:"created_at"`
	Model     json.RawMessage `json:"model"`
}

type vocabularyFile struct {
	VersionID string    `json:"version_id"`
	CreatedAt time.Time `json:"created_at"`
	Labels    []string  `json:"labels"`
}

// Store is the on-disk artifact store. It is safe for concurrent use; Put and
// Latest are serialized against each other within the process.
type Store struct {
	dir    string
	now    func() time.Time
	rename func(oldpath, newpath string) error
	settle time.Duration

	mu     sync.RWMutex
	idMu   sync.Mutex
	lastID string

	cacheSize int
	cache     *lru.Cache[string, *ml.Artifact]
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the clock used for version ids.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithCacheSize sets how many loaded versions are kept in memory.
func WithCacheSize(n int) Option {
	return func(s *Store) { s.cacheSize = n }
}

// Open creates dir if needed and returns a store rooted there.
func Open(dir string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create models directory: %v", ml.ErrPersistence, err)
	}
	s := &Store{
		dir:       dir,
		now:       time.Now,
		rename:    os.Rename,
		settle:    settleDelay,
		cacheSize: 8,
	}
	for _, o := range opts {
		o(s)
	}
	if s.cacheSize < 1 {
		s.cacheSize = 1
	}
	cache, err := lru.New[string, *ml.Artifact](s.cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create artifact cache: %w", err)
	}
	s.cache = cache
	return s, nil
}

// Dir returns the models directory.
func (s *Store) Dir() string {
	return s.dir
}

// Paths returns the model and vocabulary file paths of a version.
func (s *Store) Paths(versionID string) (modelPath, vocabPath string) {
	return filepath.Join(s.dir, modelPrefix+versionID+fileExt),
		filepath.Join(s.dir, vocabPrefix+versionID+fileExt)
}

// NextVersionID returns an id greater than every id in the store and every id
// this store handed out before, even when the clock goes backwards.
func (s *Store) NextVersionID() (string, error) {
	s.idMu.Lock()
	defer s.idMu.Unlock()

	models, vocabs, err := s.scan()
	if err != nil {
		return "", err
	}
	floor := s.lastID
	for _, set := range []map[string]bool{models, vocabs} {
		for id := range set {
			if id > floor {
				floor = id
			}
		}
	}

	id := s.now().UTC().Format(timeLayout) + "-000"
	if id <= floor {
		id, err = successor(floor)
		if err != nil {
			return "", err
		}
	}
	s.lastID = id
	return id, nil
}

func successor(id string) (string, error) {
	ts, counter, err := parseID(id)
	if err != nil {
		return "", err
	}
	if counter < 999 {
		return fmt.Sprintf("%s-%03d", ts.Format(timeLayout), counter+1), nil
	}
	return ts.Add(time.Microsecond).Format(timeLayout) + "-000", nil
}

func parseID(id string) (time.Time, int, error) {
	if len(id) != idLen || id[len(timeLayout)] != '-' {
		return time.Time{}, 0, fmt.Errorf("malformed version id %q", id)
	}
	ts, err := time.Parse(timeLayout, id[:len(timeLayout)])
	if err != nil {
		return time.Time{}, 0, fmt.Errorf("malformed version id %q: %w", id, err)
	}
	counter, err := strconv.Atoi(id[len(timeLayout)+1:])
	if err != nil {
		return time.Time{}, 0, fmt.Errorf("malformed version id %q: %w", id, err)
	}
	return ts, counter, nil
}

// ValidID reports whether id has the store's version id format.
func ValidID(id string) bool {
	_, _, err := parseID(id)
	return err == nil
}

// Put publishes a pair under versionID. Both halves are written to hidden
// temporary files first; the vocabulary is renamed into place before the
// model. On any failure whatever was published is removed again and the
// error wraps ml.ErrPersistence.
func (s *Store) Put(versionID string, model ml.Model, vocab *ml.Vocabulary) error {
	created, _, err := parseID(versionID)
	if err != nil {
		return fmt.Errorf("%w: %v", ml.ErrPersistence, err)
	}
	if model == nil || vocab == nil {
		return fmt.Errorf("%w: incomplete pair for %s", ml.ErrPersistence, versionID)
	}
	if model.NumClasses() != vocab.Len() {
		return fmt.Errorf("%w: model has %d classes, vocabulary %d labels", ml.ErrPersistence, model.NumClasses(), vocab.Len())
	}
	kind, raw, err := ml.EncodeModel(model)
	if err != nil {
		return fmt.Errorf("%w: %v", ml.ErrPersistence, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	modelPath, vocabPath := s.Paths(versionID)
	for _, p := range []string{modelPath, vocabPath} {
		if _, err := os.Stat(p); err == nil {
			return fmt.Errorf("%w: version %s already exists", ml.ErrPersistence, versionID)
		}
	}

	vocabTmp, err := fsutil.CreateTemp(vocabPath, 0o644, jsonWriter(vocabularyFile{
		VersionID: versionID,
		CreatedAt: created,
		Labels:    vocab.Labels(),
	}))
	if err != nil {
		return fmt.Errorf("%w: write vocabulary: %v", ml.ErrPersistence, err)
	}
	modelTmp, err := fsutil.CreateTemp(modelPath, 0o644, jsonWriter(modelFile{
		VersionID: versionID,
		Kind:      kind,
		CreatedAt: created,
		Model:     raw,
	}))
	if err != nil {
		os.Remove(vocabTmp)
		return fmt.Errorf("%w: write model: %v", ml.ErrPersistence, err)
	}

	if err := s.rename(vocabTmp, vocabPath); err != nil {
		os.Remove(vocabTmp)
		os.Remove(modelTmp)
		return fmt.Errorf("%w: publish vocabulary: %v", ml.ErrPersistence, err)
	}
	if err := s.rename(modelTmp, modelPath); err != nil {
		os.Remove(modelTmp)
		os.Remove(vocabPath)
		return fmt.Errorf("%w: publish model: %v", ml.ErrPersistence, err)
	}
	fsutil.SyncDir(s.dir)

	log.Info().
		Str("version", versionID).
		Str("model_file", filepath.Base(modelPath)).
		Str("label_file", filepath.Base(vocabPath)).
		Int("classes", vocab.Len()).
		Msg("Artifact published")
	return nil
}

func jsonWriter(v any) func(io.Writer) error {
	return func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
}

// Latest loads the version with the greatest id. It fails with
// ml.ErrNotFound on an empty store and with ml.ErrCorruptArtifact when that
// version is incomplete or inconsistent; it never falls back to an older one.
func (s *Store) Latest() (*ml.Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, models, vocabs, err := s.greatest()
	if err != nil {
		return nil, err
	}
	if vocabs[id] && !models[id] && s.settle > 0 {
		// another process may be between its two renames
		time.Sleep(s.settle)
		if id, models, vocabs, err = s.greatest(); err != nil {
			return nil, err
		}
	}
	return s.load(id, models[id], vocabs[id])
}

func (s *Store) greatest() (string, map[string]bool, map[string]bool, error) {
	models, vocabs, err := s.scan()
	if err != nil {
		return "", nil, nil, err
	}
	var id string
	for _, set := range []map[string]bool{models, vocabs} {
		for v := range set {
			if v > id {
				id = v
			}
		}
	}
	if id == "" {
		return "", nil, nil, fmt.Errorf("%w: no artifacts in %s", ml.ErrNotFound, s.dir)
	}
	return id, models, vocabs, nil
}

// Get loads a specific version. Loaded versions are cached since they never
// change.
func (s *Store) Get(versionID string) (*ml.Artifact, error) {
	if art, ok := s.cache.Get(versionID); ok {
		return art, nil
	}
	if !ValidID(versionID) {
		return nil, fmt.Errorf("%w: invalid version id %q", ml.ErrNotFound, versionID)
	}
	modelPath, vocabPath := s.Paths(versionID)
	hasModel, hasVocab := exists(modelPath), exists(vocabPath)
	if !hasModel && !hasVocab {
		return nil, fmt.Errorf("%w: version %s", ml.ErrNotFound, versionID)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.load(versionID, hasModel, hasVocab)
}

// Versions returns the ids of complete versions in ascending order.
func (s *Store) Versions() ([]string, error) {
	models, vocabs, err := s.scan()
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(models))
	for id := range models {
		if vocabs[id] {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *Store) load(id string, hasModel, hasVocab bool) (*ml.Artifact, error) {
	if art, ok := s.cache.Get(id); ok && hasModel && hasVocab {
		return art, nil
	}
	switch {
	case !hasModel:
		return nil, fmt.Errorf("%w: version %s has a vocabulary but no model", ml.ErrCorruptArtifact, id)
	case !hasVocab:
		return nil, fmt.Errorf("%w: version %s has a model but no vocabulary", ml.ErrCorruptArtifact, id)
	}

	modelPath, vocabPath := s.Paths(id)

	var mf modelFile
	if err := readJSON(modelPath, &mf); err != nil {
		return nil, fmt.Errorf("%w: version %s model: %v", ml.ErrCorruptArtifact, id, err)
	}
	if mf.VersionID != id {
		return nil, fmt.Errorf("%w: %s carries version %q", ml.ErrCorruptArtifact, filepath.Base(modelPath), mf.VersionID)
	}
	model, err := ml.DecodeModel(mf.Kind, mf.Model)
	if err != nil {
		return nil, fmt.Errorf("%w: version %s model: %v", ml.ErrCorruptArtifact, id, err)
	}

	var vf vocabularyFile
	if err := readJSON(vocabPath, &vf); err != nil {
		return nil, fmt.Errorf("%w: version %s vocabulary: %v", ml.ErrCorruptArtifact, id, err)
	}
	if vf.VersionID != id {
		return nil, fmt.Errorf("%w: %s carries version %q", ml.ErrCorruptArtifact, filepath.Base(vocabPath), vf.VersionID)
	}
	vocab, err := ml.VocabularyFromLabels(vf.Labels)
	if err != nil {
		return nil, fmt.Errorf("%w: version %s vocabulary: %v", ml.ErrCorruptArtifact, id, err)
	}
	if vocab.Len() != model.NumClasses() {
		return nil, fmt.Errorf("%w: version %s: model has %d classes, vocabulary %d labels",
			ml.ErrCorruptArtifact, id, model.NumClasses(), vocab.Len())
	}

	art := &ml.Artifact{
		VersionID:      id,
		Model:          model,
		Vocabulary:     vocab,
		ModelFile:      modelPath,
		VocabularyFile: vocabPath,
		CreatedAt:      mf.CreatedAt,
	}
	s.cache.Add(id, art)
	return art, nil
}

// scan lists version ids per file family. Temporary files are hidden and
// never match.
func (s *Store) scan() (models, vocabs map[string]bool, err error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]bool{}, map[string]bool{}, nil
		}
		return nil, nil, fmt.Errorf("list %s: %w", s.dir, err)
	}
	models = make(map[string]bool)
	vocabs = make(map[string]bool)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if id, ok := idFromName(e.Name(), modelPrefix); ok {
			models[id] = true
		} else if id, ok := idFromName(e.Name(), vocabPrefix); ok {
			vocabs[id] = true
		}
	}
	return models, vocabs, nil
}

func idFromName(name, prefix string) (string, bool) {
	if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, fileExt) {
		return "", false
	}
	id := strings.TrimSuffix(strings.TrimPrefix(name, prefix), fileExt)
	return id, ValidID(id)
}

// IsArtifactFile reports whether name is a published model or vocabulary file.
func IsArtifactFile(name string) bool {
	base := filepath.Base(name)
	_, m := idFromName(base, modelPrefix)
	_, v := idFromName(base, vocabPrefix)
	return m || v
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
