package dataset

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"har-lifecycle/internal/fsutil"
)

// ExportUCI writes a labeled dataset in the UCI HAR directory layout that
// ImportUCI reads. Rows go to the split named by their "set" column; without
// one every fourth row is a test row. Activity ids come from the "activity"
// column when present, otherwise from the sorted label order.
func ExportUCI(dir string, ds *Dataset) error {
	if err := ds.Validate(); err != nil {
		return err
	}
	if !ds.Labeled() {
		return fmt.Errorf("export UCI: dataset has no labels")
	}
	for _, name := range ds.Schema {
		if strings.TrimSpace(name) != name || name == "" {
			return fmt.Errorf("export UCI: feature name %q has surrounding whitespace", name)
		}
	}

	ids, err := activityIDs(ds)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	if err := writeLines(filepath.Join(dir, "features.txt"), len(ds.Schema), func(i int) string {
		return fmt.Sprintf("%d %s", i+1, ds.Schema[i])
	}); err != nil {
		return err
	}

	labels := make([]string, 0, len(ids))
	for label := range ids {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(a, b int) bool {
		ia, _ := strconv.Atoi(ids[labels[a]])
		ib, _ := strconv.Atoi(ids[labels[b]])
		return ia < ib
	})
	if err := writeLines(filepath.Join(dir, "activity_labels.txt"), len(labels), func(i int) string {
		return ids[labels[i]] + " " + labels[i]
	}); err != nil {
		return err
	}

	rows := make(map[string][]int, len(UCISplits))
	for i := 0; i < ds.Len(); i++ {
		split := ds.MetaValue("set", i)
		if split != "train" && split != "test" {
			split = "train"
			if i%4 == 3 {
				split = "test"
			}
		}
		rows[split] = append(rows[split], i)
	}

	for _, split := range UCISplits {
		idx := rows[split]
		splitDir := filepath.Join(dir, split)
		if err := os.MkdirAll(splitDir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", splitDir, err)
		}
		if err := writeLines(filepath.Join(splitDir, "X_"+split+".txt"), len(idx), func(i int) string {
			return formatRow(ds.Features[idx[i]])
		}); err != nil {
			return err
		}
		if err := writeLines(filepath.Join(splitDir, "y_"+split+".txt"), len(idx), func(i int) string {
			return ids[ds.Labels[idx[i]]]
		}); err != nil {
			return err
		}
		if err := writeLines(filepath.Join(splitDir, "subject_"+split+".txt"), len(idx), func(i int) string {
			if s := ds.MetaValue("subject", idx[i]); s != "" {
				return s
			}
			return "1"
		}); err != nil {
			return err
		}
	}
	return nil
}

func activityIDs(ds *Dataset) (map[string]string, error) {
	ids := make(map[string]string)
	for _, label := range ds.LabelSet() {
		if strings.ContainsAny(label, " \t") {
			return nil, fmt.Errorf("export UCI: label %q contains whitespace", label)
		}
	}

	hasColumn := false
	for _, c := range ds.Meta {
		hasColumn = hasColumn || c.Name == "activity"
	}
	if !hasColumn {
		for i, label := range ds.LabelSet() {
			ids[label] = strconv.Itoa(i + 1)
		}
		return ids, nil
	}

	for i, label := range ds.Labels {
		id := ds.MetaValue("activity", i)
		if prev, ok := ids[label]; ok && prev != id {
			return nil, fmt.Errorf("export UCI: label %s has activity ids %s and %s", label, prev, id)
		}
		if _, err := strconv.Atoi(id); err != nil {
			return nil, fmt.Errorf("export UCI: row %d: activity id %q is not an integer", i, id)
		}
		ids[label] = id
	}
	return ids, nil
}

func formatRow(row []float64) string {
	parts := make([]string, len(row))
	for j, v := range row {
		parts[j] = strconv.FormatFloat(v, 'e', -1, 64)
	}
	return strings.Join(parts, " ")
}

func writeLines(path string, n int, line func(i int) string) error {
	return fsutil.WriteFileAtomic(path, 0o644, func(w io.Writer) error {
		bw := bufio.NewWriter(w)
		for i := 0; i < n; i++ {
			if _, err := bw.WriteString(line(i) + "\n"); err != nil {
				return err
			}
		}
		return bw.Flush()
	})
}
