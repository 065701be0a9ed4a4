// Package report writes evaluation and pipeline reports to the reports
// directory.
package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"har-lifecycle/internal/fsutil"
	"har-lifecycle/internal/ml"
)

// Digits is the precision of the text classification report.
const Digits = 4

// Reporter generates report files under one output directory. Files are
// replaced atomically, so a reader never sees a half-written report.
type Reporter struct {
	outputPath string
	now        func() time.Time
}

// NewReporter creates a new reporter
func NewReporter(outputPath string) *Reporter {
	return &Reporter{outputPath: outputPath, now: time.Now}
}

// Dir returns the output directory.
func (r *Reporter) Dir() string {
	return r.outputPath
}

// WriteEvaluation writes the text report, the confusion matrix and a JSON
// document for one evaluation. kind prefixes every file name.
func (r *Reporter) WriteEvaluation(kind, versionID string, ev *ml.Evaluation) error {
	if err := os.MkdirAll(r.outputPath, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	if err := r.generateClassificationReport(kind, versionID, ev); err != nil {
		return err
	}
	if err := r.generateConfusionMatrix(kind, ev); err != nil {
		return err
	}
	if err := r.generateConfusionMatrixPlot(kind, versionID, ev); err != nil {
		return err
	}
	return r.WriteJSON(kind+"_report.json", map[string]interface{}{
		"kind":         kind,
		"version_id":   versionID,
		"evaluation":   ev,
		"generated_at": r.now().UTC(),
	})
}

func (r *Reporter) generateClassificationReport(kind, versionID string, ev *ml.Evaluation) error {
	path := filepath.Join(r.outputPath, kind+"_classification_report.txt")
	err := fsutil.WriteFileAtomic(path, 0o644, func(w io.Writer) error {
		fmt.Fprintf(w, "CLASSIFICATION REPORT (%s)\n", strings.ToUpper(kind))
		fmt.Fprintf(w, "Model version: %s\n", versionID)
		fmt.Fprintf(w, "Samples: %d\n\n", ev.Samples)
		_, err := io.WriteString(w, FormatClassificationReport(ev, Digits))
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to write classification report: %w", err)
	}
	log.Info().Str("file", path).Msg("Classification report generated")
	return nil
}

func (r *Reporter) generateConfusionMatrix(kind string, ev *ml.Evaluation) error {
	path := filepath.Join(r.outputPath, kind+"_confusion_matrix.csv")
	err := fsutil.WriteFileAtomic(path, 0o644, func(w io.Writer) error {
		writer := csv.NewWriter(w)

		header := append([]string{"true\\predicted"}, ev.Labels...)
		if err := writer.Write(header); err != nil {
			return err
		}
		for i, row := range ev.Confusion {
			record := make([]string, 0, len(row)+1)
			record = append(record, ev.Labels[i])
			for _, n := range row {
				record = append(record, strconv.Itoa(n))
			}
			if err := writer.Write(record); err != nil {
				return err
			}
		}
		writer.Flush()
		return writer.Error()
	})
	if err != nil {
		return fmt.Errorf("failed to write confusion matrix: %w", err)
	}
	log.Info().Str("file", path).Msg("Confusion matrix generated")
	return nil
}

// WriteJSON writes v as indented JSON to name inside the output directory.
func (r *Reporter) WriteJSON(name string, v interface{}) error {
	path := filepath.Join(r.outputPath, name)
	err := fsutil.WriteFileAtomic(path, 0o644, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	})
	if err != nil {
		return fmt.Errorf("failed to write JSON report: %w", err)
	}
	log.Info().Str("file", path).Msg("JSON report generated")
	return nil
}

// FormatClassificationReport renders per-class precision, recall, F1 and
// support followed by accuracy and the macro and weighted averages.
func FormatClassificationReport(ev *ml.Evaluation, digits int) string {
	width := len("weighted avg")
	for _, l := range ev.Labels {
		if len(l) > width {
			width = len(l)
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%*s ", width, "")
	for _, h := range []string{"precision", "recall", "f1-score", "support"} {
		fmt.Fprintf(&b, " %9s", h)
	}
	b.WriteString("\n\n")

	row := func(name string, p, r, f float64, support int) {
		fmt.Fprintf(&b, "%*s  %9.*f %9.*f %9.*f %9d\n", width, name, digits, p, digits, r, digits, f, support)
	}
	for _, c := range ev.Classes {
		row(c.Label, c.Precision, c.Recall, c.F1, c.Support)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "%*s  %9s %9s %9.*f %9d\n", width, "accuracy", "", "", digits, ev.Accuracy, ev.Samples)
	row("macro avg", ev.MacroAvg.Precision, ev.MacroAvg.Recall, ev.MacroAvg.F1, ev.MacroAvg.Support)
	row("weighted avg", ev.WeightedAvg.Precision, ev.WeightedAvg.Recall, ev.WeightedAvg.F1, ev.WeightedAvg.Support)
	return b.String()
}
