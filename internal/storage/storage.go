// Package storage keeps batch prediction output in BoltDB. Every batch is a
// generation: one metadata record plus one record per input row, written in a
// single transaction so a generation is either complete or absent.
package storage

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"har-lifecycle/internal/dataset"
	"har-lifecycle/internal/ml"
)

const (
	batchesBucket     = "batches"     // generation -> BatchMeta
	predictionsBucket = "predictions" // generation_row -> PredictionRow

	dbFile           = "har-predictions.db"
	generationLayout = "20060102T150405.000000"
)

// ErrNoBatches is returned when no generation has been saved yet.
var ErrNoBatches = errors.New("no prediction batches")

// BatchMeta describes one saved generation.
type BatchMeta struct {
	Generation  string         `json:"generation"`
	VersionID   string         `json:"version_id"`
	Source      string         `json:"source"`
	Rows        int            `json:"rows"`
	LabelCounts map[string]int `json:"label_counts"`
	CreatedAt   time.Time      `json:"created_at"`
}

// PredictionRow is the stored form of a prediction record. Features are not
// stored. Actual and Meta are copied from the source dataset so a generation
// stays auditable after the dataset is rewritten.
type PredictionRow struct {
	Row       int               `json:"row"`
	VersionID string            `json:"version_id"`
	Label     string            `json:"label"`
	Actual    string            `json:"actual,omitempty"`
	Meta      map[string]string `json:"meta,omitempty"`
}

// Store provides persistent storage for prediction batches.
type Store struct {
	db *bbolt.DB
}

// New opens (or creates) the predictions database under dataPath.
func New(dataPath string) (*Store, error) {
	if err := os.MkdirAll(dataPath, 0o755); err != nil {
		return nil, fmt.Errorf("create predictions directory: %w", err)
	}
	dbPath := filepath.Join(dataPath, dbFile)

	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(batchesBucket)); err != nil {
			return fmt.Errorf("create batches bucket: %w", err)
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(predictionsBucket)); err != nil {
			return fmt.Errorf("create predictions bucket: %w", err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// NewGeneration formats a generation id for t. Ids are fixed width, so byte
// order in the database equals chronological order.
func NewGeneration(t time.Time) string {
	return t.UTC().Format(generationLayout)
}

func rowKey(generation string, row int) []byte {
	return []byte(fmt.Sprintf("%s_%08d", generation, row))
}

// SaveBatch stores a generation. source is the dataset the records were
// predicted from; when non-nil its label and meta columns are stored with
// each row. An existing generation is never overwritten.
func (s *Store) SaveBatch(meta BatchMeta, records []ml.PredictionRecord, source *dataset.Dataset) error {
	if meta.Generation == "" {
		return errors.New("batch has no generation id")
	}
	if source != nil && source.Len() != len(records) {
		return fmt.Errorf("batch has %d records for %d source rows", len(records), source.Len())
	}
	meta.Rows = len(records)
	meta.LabelCounts = make(map[string]int)
	for _, r := range records {
		meta.LabelCounts[r.Label]++
		if meta.VersionID == "" {
			meta.VersionID = r.VersionID
		}
	}
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = time.Now().UTC()
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		batches := tx.Bucket([]byte(batchesBucket))
		if batches.Get([]byte(meta.Generation)) != nil {
			return fmt.Errorf("generation %s already exists", meta.Generation)
		}
		rows := tx.Bucket([]byte(predictionsBucket))
		for _, r := range records {
			data, err := json.Marshal(newRow(r, source))
			if err != nil {
				return fmt.Errorf("marshal prediction: %w", err)
			}
			if err := rows.Put(rowKey(meta.Generation, r.Row), data); err != nil {
				return err
			}
		}

		data, err := json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("marshal batch meta: %w", err)
		}
		return batches.Put([]byte(meta.Generation), data)
	})
}

func newRow(r ml.PredictionRecord, source *dataset.Dataset) PredictionRow {
	row := PredictionRow{Row: r.Row, VersionID: r.VersionID, Label: r.Label}
	if source == nil {
		return row
	}
	if source.Labeled() {
		row.Actual = source.Labels[r.Row]
	}
	if len(source.Meta) > 0 {
		row.Meta = make(map[string]string, len(source.Meta))
		for _, c := range source.Meta {
			row.Meta[c.Name] = c.Values[r.Row]
		}
	}
	return row
}

// Batches returns every generation, oldest first.
func (s *Store) Batches() ([]BatchMeta, error) {
	var out []BatchMeta
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(batchesBucket)).ForEach(func(_, v []byte) error {
			var meta BatchMeta
			if err := json.Unmarshal(v, &meta); err != nil {
				return fmt.Errorf("unmarshal batch meta: %w", err)
			}
			out = append(out, meta)
			return nil
		})
	})
	return out, err
}

// LatestBatch returns the newest generation.
func (s *Store) LatestBatch() (*BatchMeta, error) {
	var meta *BatchMeta
	err := s.db.View(func(tx *bbolt.Tx) error {
		_, v := tx.Bucket([]byte(batchesBucket)).Cursor().Last()
		if v == nil {
			return ErrNoBatches
		}
		meta = &BatchMeta{}
		return json.Unmarshal(v, meta)
	})
	if err != nil {
		return nil, err
	}
	return meta, nil
}

// GetPredictions returns the rows of a generation in row order.
func (s *Store) GetPredictions(generation string) ([]PredictionRow, error) {
	var rows []PredictionRow

	err := s.db.View(func(tx *bbolt.Tx) error {
		if tx.Bucket([]byte(batchesBucket)).Get([]byte(generation)) == nil {
			return fmt.Errorf("generation %s not found", generation)
		}
		c := tx.Bucket([]byte(predictionsBucket)).Cursor()
		prefix := []byte(generation + "_")

		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var row PredictionRow
			if err := json.Unmarshal(v, &row); err != nil {
				continue // Skip malformed records
			}
			rows = append(rows, row)
		}
		return nil
	})

	return rows, err
}
