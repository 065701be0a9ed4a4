package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"har-lifecycle/internal/fsutil"
)

// Options controls how a CSV table is split into features, label and
// passthrough columns.
type Options struct {
	// LabelColumn is the target column. When empty, DefaultLabelColumn is used.
	LabelColumn string
	// MetaColumns are carried through untouched and never used as features.
	MetaColumns []string
	// RequireLabels fails the read when the label column is absent.
	RequireLabels bool
}

// DefaultMetaColumns are the identifier columns the HAR importer writes next
// to the features.
var DefaultMetaColumns = []string{"subject", "activity", "set"}

// ReadCSVFile loads a dataset from a CSV file with a header row.
func ReadCSVFile(path string, opts Options) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	defer f.Close()

	ds, err := ReadCSV(f, opts)
	if err != nil {
		return nil, fmt.Errorf("read dataset %s: %w", path, err)
	}
	return ds, nil
}

// ReadCSV parses a CSV table. Every column that is neither the label nor a
// meta column is a numeric feature, in header order.
func ReadCSV(r io.Reader, opts Options) (*Dataset, error) {
	labelColumn := opts.LabelColumn
	if labelColumn == "" {
		labelColumn = DefaultLabelColumn
	}
	isMeta := make(map[string]bool, len(opts.MetaColumns))
	for _, m := range opts.MetaColumns {
		isMeta[m] = true
	}

	cr := csv.NewReader(r)
	cr.ReuseRecord = true
	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("missing header row")
		}
		return nil, fmt.Errorf("read header: %w", err)
	}

	labelIdx := -1
	var featureIdx []int
	var metaIdx []int
	ds := &Dataset{LabelColumn: labelColumn}
	for i, name := range header {
		switch {
		case name == labelColumn:
			labelIdx = i
		case isMeta[name]:
			metaIdx = append(metaIdx, i)
			ds.Meta = append(ds.Meta, Column{Name: name})
		default:
			featureIdx = append(featureIdx, i)
			ds.Schema = append(ds.Schema, name)
		}
	}
	if labelIdx < 0 && opts.RequireLabels {
		return nil, fmt.Errorf("label column %q not found", labelColumn)
	}
	if labelIdx >= 0 {
		ds.Labels = []string{}
	}

	for line := 2; ; line++ {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		row := make([]float64, len(featureIdx))
		for k, i := range featureIdx {
			v, err := strconv.ParseFloat(record[i], 64)
			if err != nil {
				return nil, fmt.Errorf("line %d column %q: %w", line, header[i], err)
			}
			row[k] = v
		}
		ds.Features = append(ds.Features, row)
		if labelIdx >= 0 {
			ds.Labels = append(ds.Labels, record[labelIdx])
		}
		for k, i := range metaIdx {
			ds.Meta[k].Values = append(ds.Meta[k].Values, record[i])
		}
	}

	if err := ds.Validate(); err != nil {
		return nil, err
	}
	return ds, nil
}

// WriteCSVFile replaces path with the dataset atomically, so a failed write
// never leaves a truncated dataset behind.
func WriteCSVFile(path string, ds *Dataset) error {
	return fsutil.WriteFileAtomic(path, 0o644, func(w io.Writer) error {
		return WriteCSV(w, ds)
	})
}

// WriteCSV writes meta columns first, then the label column, then features.
func WriteCSV(w io.Writer, ds *Dataset) error {
	cw := csv.NewWriter(w)

	header := make([]string, 0, len(ds.Meta)+1+ds.Schema.Len())
	for _, c := range ds.Meta {
		header = append(header, c.Name)
	}
	labelColumn := ds.LabelColumn
	if labelColumn == "" {
		labelColumn = DefaultLabelColumn
	}
	if ds.Labeled() {
		header = append(header, labelColumn)
	}
	header = append(header, ds.Schema...)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	record := make([]string, len(header))
	for i, row := range ds.Features {
		k := 0
		for _, c := range ds.Meta {
			record[k] = c.Values[i]
			k++
		}
		if ds.Labeled() {
			record[k] = ds.Labels[i]
			k++
		}
		for _, v := range row {
			record[k] = strconv.FormatFloat(v, 'g', -1, 64)
			k++
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write row %d: %w", i, err)
		}
	}
	cw.Flush()
	return cw.Error()
}
