package visualization

import (
	"fmt"
	"math"
	"os"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"

	"volseg/internal/models"
)

// Reducer combines the samples along a projection ray
type Reducer int

const (
	// Sum adds the samples, used for intensity images
	Sum Reducer = iota
	// Max keeps the largest sample, used for label images
	Max
)

// ParseReducer parses "sum" or "max"
func ParseReducer(s string) (Reducer, error) {
	switch s {
	case "sum":
		return Sum, nil
	case "max":
		return Max, nil
	default:
		return 0, fmt.Errorf("unknown projection mode %q", s)
	}
}

// Grid is a 2D image that satisfies plotter.GridXYZ. Row 0 is drawn at the bottom.
type Grid struct {
	Cols, Rows int
	Data       []float64
}

func newGrid(cols, rows int) *Grid {
	return &Grid{Cols: cols, Rows: rows, Data: make([]float64, cols*rows)}
}

func (g *Grid) Dims() (c, r int)        { return g.Cols, g.Rows }
func (g *Grid) Z(c, r int) float64      { return g.Data[r*g.Cols+c] }
func (g *Grid) X(c int) float64         { return float64(c) }
func (g *Grid) Y(r int) float64         { return float64(r) }
func (g *Grid) set(c, r int, v float64) { g.Data[r*g.Cols+c] = v }

// MinMax returns the smallest and largest value of the grid
func (g *Grid) MinMax() (float64, float64) {
	return floats.Min(g.Data), floats.Max(g.Data)
}

// ProjectionNames are the panel names of the projections along z, x and y
var ProjectionNames = [3]string{"xy", "zy", "zx"}

// Projection reduces vol along axis. Projecting along z gives an x by y
// grid, along x a z by y grid and along y a z by x grid.
func Projection(vol *models.Volume, axis string, reducer Reducer) (*Grid, error) {
	if err := vol.Validate(); err != nil {
		return nil, err
	}

	var g *Grid
	var cell func(x, y, z int) (c, r int)
	switch axis {
	case "z", "Z":
		g = newGrid(vol.Width, vol.Height)
		cell = func(x, y, z int) (int, int) { return x, y }
	case "x", "X":
		g = newGrid(vol.Depth, vol.Height)
		cell = func(x, y, z int) (int, int) { return z, y }
	case "y", "Y":
		g = newGrid(vol.Depth, vol.Width)
		cell = func(x, y, z int) (int, int) { return z, x }
	default:
		return nil, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	if reducer == Max {
		for i := range g.Data {
			g.Data[i] = math.Inf(-1)
		}
	}
	for z := 0; z < vol.Depth; z++ {
		for y := 0; y < vol.Height; y++ {
			for x := 0; x < vol.Width; x++ {
				c, r := cell(x, y, z)
				v := vol.At(x, y, z)
				switch reducer {
				case Max:
					if v > g.Z(c, r) {
						g.set(c, r, v)
					}
				default:
					g.set(c, r, g.Z(c, r)+v)
				}
			}
		}
	}
	return g, nil
}

// heatMap builds an image plot of g. The color range is [lo, hi]; values
// outside it take the end colors.
func heatMap(g *Grid, pal palette.Palette, lo, hi float64, title, xLabel, yLabel string) *plot.Plot {
	if hi <= lo {
		hi = lo + 1
	}
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = xLabel
	p.Y.Label.Text = yLabel

	hm := plotter.NewHeatMap(g, pal)
	hm.Min = lo
	hm.Max = hi
	cols := pal.Colors()
	hm.Underflow = cols[0]
	hm.Overflow = cols[len(cols)-1]
	p.Add(hm)
	return p
}

// SaveProjections draws the xy, zy and zx projections of vol side by side.
// Each panel uses its own color range.
func SaveProjections(vol *models.Volume, reducer Reducer, paletteName string, width, height vg.Length, path string) error {
	pal, err := PaletteByName(paletteName)
	if err != nil {
		return err
	}

	plots := make([]*plot.Plot, 3)
	for i, axis := range []string{"z", "x", "y"} {
		g, err := Projection(vol, axis, reducer)
		if err != nil {
			return err
		}
		name := ProjectionNames[i]
		lo, hi := g.MinMax()
		if reducer == Max {
			lo = math.Min(lo, 0)
		}
		plots[i] = heatMap(g, pal, lo, hi, name+" Projection", name[:1], name[1:])
	}
	return saveRow(plots, width, height, path)
}

// planeGrid returns plane z of vol as a grid
func planeGrid(vol *models.Volume, z int) *Grid {
	g := newGrid(vol.Width, vol.Height)
	copy(g.Data, vol.Slice(z))
	return g
}

// SaveSlice draws plane z of vol
func SaveSlice(vol *models.Volume, z int, paletteName string, width, height vg.Length, path string) error {
	if z < 0 || z >= vol.Depth {
		return fmt.Errorf("slice %d outside depth %d", z, vol.Depth)
	}
	pal, err := PaletteByName(paletteName)
	if err != nil {
		return err
	}
	g := planeGrid(vol, z)
	lo, hi := g.MinMax()
	p := heatMap(g, pal, lo, hi, fmt.Sprintf("Slice %d", z), "x", "y")
	if err := p.Save(width, height, path); err != nil {
		return fmt.Errorf("save slice plot: %w", err)
	}
	return nil
}

// PanelStats are the values reported in the pipeline panel titles
type PanelStats struct {
	Slice        int
	DistanceMin  float64
	DistanceMax  float64
	DistanceMean float64

	// DistanceRange is the standard deviation of |d| on the slice, the
	// half width of the symmetric distance color range
	DistanceRange float64

	// Labels is the number of distinct watershed labels in the whole volume
	Labels int
}

// SavePipelinePanel draws the middle slice of the bubble image, the
// distance map and the watershed labels side by side
func SavePipelinePanel(bubble, dmap, ws *models.Volume, width, height vg.Length, path string) (*PanelStats, error) {
	for _, vol := range []*models.Volume{bubble, dmap, ws} {
		if err := vol.Validate(); err != nil {
			return nil, err
		}
	}
	if !bubble.SameGrid(ws) || !dmap.SameGrid(ws) {
		return nil, fmt.Errorf("%w: pipeline images differ in size", models.ErrDimensionMismatch)
	}

	mid := ws.Depth / 2
	d := dmap.Slice(mid)
	abs := make([]float64, len(d))
	for i, v := range d {
		abs[i] = math.Abs(v)
	}
	_, spread := stat.PopMeanStdDev(abs, nil)
	if spread == 0 {
		spread = 1
	}
	ps := &PanelStats{
		Slice:         mid,
		DistanceMin:   floats.Min(d),
		DistanceMax:   floats.Max(d),
		DistanceMean:  stat.Mean(d, nil),
		DistanceRange: spread,
		Labels:        countLabels(ws),
	}

	bonePal, _ := PaletteByName(PaletteBone)
	divPal, _ := PaletteByName(PaletteDiverging)
	specPal, _ := PaletteByName(PaletteSpectral)

	bg := planeGrid(bubble, mid)
	blo, bhi := bg.MinMax()
	lg := planeGrid(ws, mid)
	_, lhi := lg.MinMax()

	plots := []*plot.Plot{
		heatMap(bg, bonePal, blo, bhi, "Bubble Image", "x", "y"),
		heatMap(planeGrid(dmap, mid), divPal, -spread, spread,
			fmt.Sprintf("Distance Image\nMin:%2.2f, Max:%2.2f, Mean: %2.2f", ps.DistanceMin, ps.DistanceMax, ps.DistanceMean), "x", "y"),
		heatMap(lg, specPal, 0, lhi, fmt.Sprintf("Watershed\nLabels Found:%d", ps.Labels), "x", "y"),
	}
	if err := saveRow(plots, width, height, path); err != nil {
		return nil, err
	}
	return ps, nil
}

// countLabels returns the number of distinct positive values
func countLabels(vol *models.Volume) int {
	seen := make(map[float64]struct{})
	for _, v := range vol.Data {
		if v > 0 {
			seen[v] = struct{}{}
		}
	}
	return len(seen)
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
