package dataset

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// UCISplits are the partitions shipped with the UCI HAR dataset. They are
// merged into one table; the split name is kept in the "set" column.
var UCISplits = []string{"train", "test"}

// ImportUCI reads the UCI HAR dataset directory and merges its train and test
// partitions into one labeled dataset. Feature names come from features.txt
// with repeated names suffixed _2, _3 and so on; activity ids are mapped to
// names through activity_labels.txt.
func ImportUCI(dir string) (*Dataset, error) {
	names, err := readFeatureNames(filepath.Join(dir, "features.txt"))
	if err != nil {
		return nil, err
	}
	activities, err := readActivityLabels(filepath.Join(dir, "activity_labels.txt"))
	if err != nil {
		return nil, err
	}

	ds := &Dataset{
		Schema:      names,
		Labels:      []string{},
		LabelColumn: DefaultLabelColumn,
		Meta: []Column{
			{Name: "subject"},
			{Name: "activity"},
			{Name: "set"},
		},
	}

	for _, split := range UCISplits {
		splitDir := filepath.Join(dir, split)
		x, err := readMatrix(filepath.Join(splitDir, "X_"+split+".txt"), len(names))
		if err != nil {
			return nil, err
		}
		y, err := readColumn(filepath.Join(splitDir, "y_"+split+".txt"))
		if err != nil {
			return nil, err
		}
		subjects, err := readColumn(filepath.Join(splitDir, "subject_"+split+".txt"))
		if err != nil {
			return nil, err
		}
		if len(y) != len(x) || len(subjects) != len(x) {
			return nil, fmt.Errorf("%s split: %d feature rows, %d labels, %d subjects", split, len(x), len(y), len(subjects))
		}

		for i := range x {
			name, ok := activities[y[i]]
			if !ok {
				return nil, fmt.Errorf("%s split row %d: unknown activity id %s", split, i+1, y[i])
			}
			ds.Features = append(ds.Features, x[i])
			ds.Labels = append(ds.Labels, name)
			ds.Meta[0].Values = append(ds.Meta[0].Values, subjects[i])
			ds.Meta[1].Values = append(ds.Meta[1].Values, y[i])
			ds.Meta[2].Values = append(ds.Meta[2].Values, split)
		}
		log.Info().Str("split", split).Int("rows", len(x)).Msg("loaded UCI HAR split")
	}

	if err := ds.Validate(); err != nil {
		return nil, err
	}
	return ds, nil
}

// DedupeNames suffixes repeated names with their occurrence count, starting
// at _2 for the second occurrence.
func DedupeNames(names []string) []string {
	seen := make(map[string]int, len(names))
	out := make([]string, len(names))
	for i, name := range names {
		seen[name]++
		if n := seen[name]; n > 1 {
			out[i] = fmt.Sprintf("%s_%d", name, n)
		} else {
			out[i] = name
		}
	}
	return out
}

func readFeatureNames(path string) (Schema, error) {
	var raw []string
	err := scanLines(path, func(line int, fields []string) error {
		if len(fields) < 2 {
			return fmt.Errorf("expected index and name")
		}
		raw = append(raw, strings.Join(fields[1:], " "))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return Schema(DedupeNames(raw)), nil
}

func readActivityLabels(path string) (map[string]string, error) {
	labels := make(map[string]string)
	err := scanLines(path, func(line int, fields []string) error {
		if len(fields) != 2 {
			return fmt.Errorf("expected id and label")
		}
		labels[fields[0]] = fields[1]
		return nil
	})
	return labels, err
}

func readMatrix(path string, width int) ([][]float64, error) {
	var rows [][]float64
	err := scanLines(path, func(line int, fields []string) error {
		if len(fields) != width {
			return fmt.Errorf("expected %d values, got %d", width, len(fields))
		}
		row := make([]float64, width)
		for j, f := range fields {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return fmt.Errorf("column %d: %w", j+1, err)
			}
			row[j] = v
		}
		rows = append(rows, row)
		return nil
	})
	return rows, err
}

func readColumn(path string) ([]string, error) {
	var values []string
	err := scanLines(path, func(line int, fields []string) error {
		if len(fields) != 1 {
			return fmt.Errorf("expected a single value")
		}
		values = append(values, fields[0])
		return nil
	})
	return values, err
}

// scanLines calls fn with the whitespace separated fields of every non-blank
// line of a file.
func scanLines(path string, fn func(line int, fields []string) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 1<<16), 1<<22)
	line := 0
	for sc.Scan() {
		line++
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		if err := fn(line, fields); err != nil {
			return fmt.Errorf("%s line %d: %w", filepath.Base(path), line, err)
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("scan %s: %w", path, err)
	}
	return nil
}
