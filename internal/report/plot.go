package report

import (
	"fmt"
	"io"
	"math"
	"path/filepath"
	"strconv"

	"github.com/rs/zerolog/log"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"har-lifecycle/internal/fsutil"
	"har-lifecycle/internal/ml"
)

// confusionGrid adapts a confusion matrix to plotter.GridXYZ. Columns are
// predicted classes; rows are true classes with the first label on top.
type confusionGrid struct {
	m [][]int
}

func (g confusionGrid) Dims() (c, r int)   { return len(g.m), len(g.m) }
func (g confusionGrid) X(c int) float64    { return float64(c) }
func (g confusionGrid) Y(r int) float64    { return float64(r) }
func (g confusionGrid) Z(c, r int) float64 { return float64(g.m[len(g.m)-1-r][c]) }

// generateConfusionMatrixPlot renders the confusion matrix as an annotated
// heatmap PNG.
func (r *Reporter) generateConfusionMatrixPlot(kind, versionID string, ev *ml.Evaluation) error {
	n := len(ev.Labels)
	if n == 0 || len(ev.Confusion) != n {
		return fmt.Errorf("confusion matrix has %d rows for %d labels", len(ev.Confusion), n)
	}
	grid := confusionGrid{m: ev.Confusion}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Confusion matrix (%s, %s)", kind, versionID)
	p.X.Label.Text = "Predicted"
	p.Y.Label.Text = "True"

	hm := plotter.NewHeatMap(grid, palette.Heat(16, 1))
	if hm.Max == hm.Min {
		hm.Max = hm.Min + 1
	}
	p.Add(hm)

	cells := plotter.XYLabels{
		XYs:    make(plotter.XYs, 0, n*n),
		Labels: make([]string, 0, n*n),
	}
	for c := 0; c < n; c++ {
		for row := 0; row < n; row++ {
			cells.XYs = append(cells.XYs, plotter.XY{X: float64(c), Y: float64(row)})
			cells.Labels = append(cells.Labels, strconv.Itoa(int(grid.Z(c, row))))
		}
	}
	counts, err := plotter.NewLabels(cells)
	if err != nil {
		return fmt.Errorf("failed to label confusion matrix: %w", err)
	}
	for i := range counts.TextStyle {
		counts.TextStyle[i].XAlign = draw.XCenter
		counts.TextStyle[i].YAlign = draw.YCenter
	}
	p.Add(counts)

	xticks := make([]plot.Tick, n)
	yticks := make([]plot.Tick, n)
	for i, label := range ev.Labels {
		xticks[i] = plot.Tick{Value: float64(i), Label: label}
		yticks[n-1-i] = plot.Tick{Value: float64(n - 1 - i), Label: label}
	}
	p.X.Tick.Marker = plot.ConstantTicks(xticks)
	p.Y.Tick.Marker = plot.ConstantTicks(yticks)
	p.X.Tick.Label.Rotation = math.Pi / 4
	p.X.Tick.Label.XAlign = draw.XRight
	p.X.Tick.Label.YAlign = draw.YCenter

	size := vg.Length(n)*vg.Centimeter + 8*vg.Centimeter
	wt, err := p.WriterTo(size, size, "png")
	if err != nil {
		return fmt.Errorf("failed to render confusion matrix plot: %w", err)
	}

	path := filepath.Join(r.outputPath, kind+"_confusion_matrix.png")
	err = fsutil.WriteFileAtomic(path, 0o644, func(w io.Writer) error {
		_, err := wt.WriteTo(w)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to write confusion matrix plot: %w", err)
	}
	log.Info().Str("file", path).Msg("Confusion matrix plot generated")
	return nil
}
