package dataset

import (
	"fmt"
	"math"
	"sort"
)

// DefaultLabelColumn is the target column of the merged HAR dataset.
const DefaultLabelColumn = "activity_name"

// Column is a passthrough, non-feature column such as the subject id.
type Column struct {
	Name   string
	Values []string
}

// Dataset is an immutable table of feature rows with an optional categorical
// label per row. Callers must treat the slices as read-only once the dataset
// has been constructed.
type Dataset struct {
	Schema   Schema
	Features [][]float64
	// Labels is nil for unlabeled prediction input.
	Labels      []string
	LabelColumn string
	Meta        []Column
}

// New builds a dataset and validates it.
func New(schema Schema, features [][]float64, labels []string) (*Dataset, error) {
	ds := &Dataset{
		Schema:      schema,
		Features:    features,
		Labels:      labels,
		LabelColumn: DefaultLabelColumn,
	}
	if err := ds.Validate(); err != nil {
		return nil, err
	}
	return ds, nil
}

// Len returns the number of rows.
func (d *Dataset) Len() int {
	return len(d.Features)
}

// Labeled reports whether every row carries a label.
func (d *Dataset) Labeled() bool {
	return d.Labels != nil
}

// Validate checks the schema and that every row conforms to it.
func (d *Dataset) Validate() error {
	if err := d.Schema.Validate(); err != nil {
		return err
	}
	width := d.Schema.Len()
	for i, row := range d.Features {
		if len(row) != width {
			return fmt.Errorf("row %d has %d features, schema has %d", i, len(row), width)
		}
		for j, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("row %d column %q is not a finite number", i, d.Schema[j])
			}
		}
	}
	if d.Labels != nil {
		if len(d.Labels) != len(d.Features) {
			return fmt.Errorf("%d labels for %d rows", len(d.Labels), len(d.Features))
		}
		for i, l := range d.Labels {
			if l == "" {
				return fmt.Errorf("row %d has an empty label", i)
			}
		}
	}
	for _, c := range d.Meta {
		if len(c.Values) != len(d.Features) {
			return fmt.Errorf("meta column %q has %d values for %d rows", c.Name, len(c.Values), len(d.Features))
		}
	}
	return nil
}

// LabelSet returns the distinct labels, sorted.
func (d *Dataset) LabelSet() []string {
	seen := make(map[string]struct{})
	for _, l := range d.Labels {
		seen[l] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for l := range seen {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}

// Subset returns a dataset holding the rows at the given indices, in that
// order. Row slices are shared with the receiver.
func (d *Dataset) Subset(indices []int) *Dataset {
	out := &Dataset{
		Schema:      d.Schema,
		Features:    make([][]float64, len(indices)),
		LabelColumn: d.LabelColumn,
	}
	if d.Labels != nil {
		out.Labels = make([]string, len(indices))
	}
	for _, c := range d.Meta {
		out.Meta = append(out.Meta, Column{Name: c.Name, Values: make([]string, len(indices))})
	}
	for k, i := range indices {
		out.Features[k] = d.Features[i]
		if d.Labels != nil {
			out.Labels[k] = d.Labels[i]
		}
		for m, c := range d.Meta {
			out.Meta[m].Values[k] = c.Values[i]
		}
	}
	return out
}

// Unlabeled returns a view of the dataset without its label column.
func (d *Dataset) Unlabeled() *Dataset {
	return &Dataset{
		Schema:   d.Schema,
		Features: d.Features,
		Meta:     d.Meta,
	}
}

// MetaValue returns the value of a passthrough column for a row, or "" when
// the column is absent.
func (d *Dataset) MetaValue(name string, row int) string {
	for _, c := range d.Meta {
		if c.Name == name {
			return c.Values[row]
		}
	}
	return ""
}
