package analysis

import (
	"fmt"
	"image/color"
	"os"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette/moreland"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"
)

var (
	trainingColor = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	detectedColor = color.RGBA{R: 214, G: 39, B: 40, A: 255}
)

// SaveDensityPlot plots a density curve of the object volumes
func SaveDensityPlot(d *Density, width, height vg.Length, path string) error {
	p := plot.New()
	p.Title.Text = "Bubble volume density"
	p.X.Label.Text = "Volume (voxels)"
	p.Y.Label.Text = "Density"

	pts := make(plotter.XYs, len(d.X))
	for i := range d.X {
		pts[i] = plotter.XY{X: d.X[i], Y: d.Y[i]}
	}
	line, err := plotter.NewLine(pts)
	if err != nil {
		return fmt.Errorf("density line: %w", err)
	}
	line.Color = trainingColor
	line.Width = vg.Points(1.5)
	p.Add(line, plotter.NewGrid())

	if err := p.Save(width, height, path); err != nil {
		return fmt.Errorf("save density plot: %w", err)
	}
	return nil
}

// SaveCentersPlot draws the binned object centers as a heat map
func SaveCentersPlot(g *BinGrid, width, height vg.Length, path string) error {
	p := plot.New()
	p.Title.Text = "Bubble centers"
	p.X.Label.Text = "x"
	p.Y.Label.Text = "y"

	cmap := moreland.ExtendedBlackBody()
	cmap.SetMin(0)
	cmap.SetMax(float64(g.Max()) + 1)
	hm := plotter.NewHeatMap(g, cmap.Palette(255))
	hm.Min = 0
	hm.Max = float64(g.Max())
	p.Add(hm)

	if err := p.Save(width, height, path); err != nil {
		return fmt.Errorf("save centers plot: %w", err)
	}
	return nil
}

// SaveComparisonPlot draws the log10 volume histograms next to a scatter
// of detected and training centers
func SaveComparisonPlot(cmp *Comparison, detected, training []LabelStats, width, height vg.Length, path string) error {
	hist := plot.New()
	hist.Title.Text = "Volume Comparison (Log10)"
	hist.X.Label.Text = "log10(volume)"
	hist.Y.Label.Text = "Count"
	for _, series := range []struct {
		name   string
		counts []float64
		fill   color.Color
	}{
		{"Training Volumes", cmp.Training, trainingColor},
		{"Watershed Volumes", cmp.Detected, color.RGBA{R: 214, G: 39, B: 40, A: 128}},
	} {
		h, err := binnedHistogram(cmp.Edges, series.counts)
		if err != nil {
			return err
		}
		h.FillColor = series.fill
		hist.Add(h)
		hist.Legend.Add(series.name, h)
	}
	hist.Legend.Top = true

	centers := plot.New()
	centers.Title.Text = "Bubble centers"
	centers.X.Label.Text = "x"
	centers.Y.Label.Text = "y"
	for _, series := range []struct {
		name  string
		stats []LabelStats
		color color.Color
	}{
		{"Watershed Bubbles", detected, detectedColor},
		{"Training Bubbles", training, trainingColor},
	} {
		if len(series.stats) == 0 {
			continue
		}
		pts := make(plotter.XYs, len(series.stats))
		for i, s := range series.stats {
			pts[i] = plotter.XY{X: s.X, Y: s.Y}
		}
		sc, err := plotter.NewScatter(pts)
		if err != nil {
			return fmt.Errorf("center scatter: %w", err)
		}
		sc.GlyphStyle.Color = series.color
		sc.GlyphStyle.Radius = vg.Points(2)
		centers.Add(sc)
		centers.Legend.Add(series.name, sc)
	}
	centers.Legend.Top = true

	return saveRow([]*plot.Plot{hist, centers}, width, height, path)
}

// binnedHistogram builds a histogram with the given edges and counts. The
// two edge points carry no weight and pin the bin layout.
func binnedHistogram(edges, counts []float64) (*plotter.Histogram, error) {
	n := len(counts)
	pts := make(plotter.XYs, 0, n+2)
	pts = append(pts, plotter.XY{X: edges[0]}, plotter.XY{X: edges[n]})
	for i, c := range counts {
		pts = append(pts, plotter.XY{X: (edges[i] + edges[i+1]) / 2, Y: c})
	}
	h, err := plotter.NewHistogram(pts, n)
	if err != nil {
		return nil, fmt.Errorf("histogram: %w", err)
	}
	return h, nil
}

// saveRow draws plots side by side, each width x height, into one PNG
func saveRow(plots []*plot.Plot, width, height vg.Length, path string) error {
	img := vgimg.New(width*vg.Length(len(plots)), height)
	dc := draw.New(img)
	t := draw.Tiles{
		Rows: 1,
		Cols: len(plots),
		PadX: vg.Millimeter,
		PadY: vg.Millimeter,
	}
	canvases := plot.Align([][]*plot.Plot{plots}, t, dc)
	for i, p := range plots {
		p.Draw(canvases[0][i])
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()
	png := vgimg.PngCanvas{Canvas: img}
	if _, err := png.WriteTo(file); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
