// Package dataset holds the tabular training and prediction inputs of the HAR
// pipeline: an ordered feature Schema, the Dataset rows that conform to it,
// and the codecs that move datasets to and from disk.
package dataset

import (
	"fmt"
	"sort"
	"strings"
)

// Schema is the ordered list of feature column names a dataset or model is
// bound to. Names are unique; order is significant.
type Schema []string

// Len returns the number of feature columns.
func (s Schema) Len() int {
	return len(s)
}

// Validate checks that the schema is non-empty and free of blank or
// duplicate names.
func (s Schema) Validate() error {
	if len(s) == 0 {
		return fmt.Errorf("feature schema is empty")
	}
	seen := make(map[string]struct{}, len(s))
	for i, name := range s {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("feature column %d has an empty name", i)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("duplicate feature column %q", name)
		}
		seen[name] = struct{}{}
	}
	return nil
}

// Equal reports whether both schemas list the same names in the same order.
func (s Schema) Equal(other Schema) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i] != other[i] {
			return false
		}
	}
	return true
}

// MismatchError describes how an input schema differs from the schema it is
// being reconciled against.
type MismatchError struct {
	Missing    []string
	Unexpected []string
}

func (e *MismatchError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, fmt.Sprintf("missing columns %s", summarize(e.Missing)))
	}
	if len(e.Unexpected) > 0 {
		parts = append(parts, fmt.Sprintf("unexpected columns %s", summarize(e.Unexpected)))
	}
	return strings.Join(parts, "; ")
}

// Reconcile matches the input schema to s by column name and returns, for each
// column of s in order, the position of that column in input. Positions are
// never trusted: a reordered input is mapped back, while a missing or extra
// column yields a *MismatchError.
func (s Schema) Reconcile(input Schema) ([]int, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}
	pos := make(map[string]int, len(input))
	for i, name := range input {
		pos[name] = i
	}

	mapping := make([]int, len(s))
	var mismatch MismatchError
	for i, name := range s {
		j, ok := pos[name]
		if !ok {
			mismatch.Missing = append(mismatch.Missing, name)
			continue
		}
		mapping[i] = j
		delete(pos, name)
	}
	for name := range pos {
		mismatch.Unexpected = append(mismatch.Unexpected, name)
	}
	if len(mismatch.Missing) > 0 || len(mismatch.Unexpected) > 0 {
		sort.Strings(mismatch.Unexpected)
		return nil, &mismatch
	}
	return mapping, nil
}

// Identity reports whether a mapping returned by Reconcile keeps every column
// in place.
func Identity(mapping []int) bool {
	for i, j := range mapping {
		if i != j {
			return false
		}
	}
	return true
}

func summarize(names []string) string {
	const limit = 5
	if len(names) <= limit {
		return fmt.Sprintf("%q", names)
	}
	return fmt.Sprintf("%q and %d more", names[:limit], len(names)-limit)
}
