package visualization

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"
	"sort"

	"github.com/disintegration/imaging"
	log "github.com/sirupsen/logrus"
	"golang.org/x/image/vector"

	"volseg/internal/models"
	"volseg/pkg/analysis"
	"volseg/pkg/stl"
)

// RenderOptions control RenderLabelSurfaces
type RenderOptions struct {
	// Every selects labels 1, 1+Every, 1+2*Every, ... below the largest label
	Every int

	// Elevation and Azimuth are the view angles in degrees
	Elevation float64
	Azimuth   float64

	// Size is the edge length of the square output image in pixels
	Size int

	// NumCores bounds the surface extraction workers
	NumCores int
}

// surfaceAlpha is the opacity of one label surface
const surfaceAlpha = 0.25

// camera is an orthographic view of the index grid
type camera struct {
	eye, right, up [3]float64
	center         [3]float64
	scale          float64
	offset         [2]float64
}

func newCamera(vol *models.Volume, elevation, azimuth float64, size int) *camera {
	el := elevation * math.Pi / 180
	az := azimuth * math.Pi / 180
	c := &camera{
		eye:    [3]float64{math.Cos(el) * math.Cos(az), math.Cos(el) * math.Sin(az), math.Sin(el)},
		right:  [3]float64{-math.Sin(az), math.Cos(az), 0},
		up:     [3]float64{-math.Sin(el) * math.Cos(az), -math.Sin(el) * math.Sin(az), math.Cos(el)},
		center: [3]float64{float64(vol.Width) / 2, float64(vol.Height) / 2, float64(vol.Depth) / 2},
		scale:  1,
	}

	// fit the grid's bounding box into 90% of the image
	lo := [2]float64{math.Inf(1), math.Inf(1)}
	hi := [2]float64{math.Inf(-1), math.Inf(-1)}
	for i := 0; i < 8; i++ {
		p := [3]float64{
			float64(i&1) * float64(vol.Width),
			float64(i>>1&1) * float64(vol.Height),
			float64(i>>2&1) * float64(vol.Depth),
		}
		u, v := c.plane(p)
		lo[0], hi[0] = math.Min(lo[0], u), math.Max(hi[0], u)
		lo[1], hi[1] = math.Min(lo[1], v), math.Max(hi[1], v)
	}
	extent := math.Max(hi[0]-lo[0], hi[1]-lo[1])
	if extent > 0 {
		c.scale = 0.9 * float64(size) / extent
	}
	c.offset = [2]float64{
		float64(size)/2 - c.scale*(lo[0]+hi[0])/2,
		float64(size)/2 + c.scale*(lo[1]+hi[1])/2,
	}
	return c
}

// plane returns the view plane coordinates of p
func (c *camera) plane(p [3]float64) (u, v float64) {
	d := [3]float64{p[0] - c.center[0], p[1] - c.center[1], p[2] - c.center[2]}
	return dot(d, c.right), dot(d, c.up)
}

// screen returns the pixel position of p; image y grows downwards
func (c *camera) screen(p [3]float32) (float32, float32) {
	u, v := c.plane([3]float64{float64(p[0]), float64(p[1]), float64(p[2])})
	return float32(c.offset[0] + c.scale*u), float32(c.offset[1] - c.scale*v)
}

// depth grows towards the viewer
func (c *camera) depth(p [3]float32) float64 {
	d := [3]float64{float64(p[0]) - c.center[0], float64(p[1]) - c.center[1], float64(p[2]) - c.center[2]}
	return dot(d, c.eye)
}

func dot(a, b [3]float64) float64 {
	return a[0]*b[0] + a[1]*b[1] + a[2]*b[2]
}

// labelSurface is the extracted surface of one label
type labelSurface struct {
	label     int
	triangles []stl.Triangle
	depth     float64
}

// RenderLabelSurfaces extracts the surface of every selected label with
// marching cubes and paints them into a PNG as seen from the given
// elevation and azimuth. Surfaces are painted back to front with a fixed
// opacity. It returns the number of labels drawn.
func RenderLabelSurfaces(labels *models.Volume, opts RenderOptions, path string) (int, error) {
	if err := labels.Validate(); err != nil {
		return 0, err
	}
	if opts.Every < 1 {
		return 0, errors.New("label stride must be at least 1")
	}
	if opts.Size < 16 {
		return 0, fmt.Errorf("render size %d is too small", opts.Size)
	}

	stats, err := analysis.ComputeLabelStats(labels, opts.NumCores)
	if err != nil {
		return 0, err
	}
	cam := newCamera(labels, opts.Elevation, opts.Azimuth, opts.Size)
	viewer := NewViewer(labels)

	maxLabel := 0
	for _, s := range stats {
		if s.Label > maxLabel {
			maxLabel = s.Label
		}
	}

	var surfaces []labelSurface
	for _, s := range stats {
		if s.Label >= maxLabel || (s.Label-1)%opts.Every != 0 {
			continue
		}

		triangles, err := extractSurface(viewer, s, opts.NumCores)
		if err != nil {
			return 0, fmt.Errorf("label %d: %w", s.Label, err)
		}
		if len(triangles) == 0 {
			continue
		}
		depth := 0.0
		for _, t := range triangles {
			depth += cam.depth(t.Vertex1) + cam.depth(t.Vertex2) + cam.depth(t.Vertex3)
		}
		surfaces = append(surfaces, labelSurface{
			label:     s.Label,
			triangles: triangles,
			depth:     depth / float64(3*len(triangles)),
		})
	}
	log.Debugf("Rendering %d of %d labels", len(surfaces), len(stats))

	// colors follow label order, painting follows depth
	pal, _ := PaletteByName(PaletteSpectral)
	cols := pal.Colors()[1:]
	fill := make(map[int]color.NRGBA, len(surfaces))
	for i, s := range surfaces {
		idx := len(cols) - 1
		if len(surfaces) > 1 {
			idx = (len(cols) - 1) * (len(surfaces) - 1 - i) / (len(surfaces) - 1)
		}
		r, g, b, _ := cols[idx].RGBA()
		fill[s.label] = color.NRGBA{R: uint8(r >> 8), G: uint8(g >> 8), B: uint8(b >> 8), A: uint8(255 * surfaceAlpha)}
	}
	sort.SliceStable(surfaces, func(i, j int) bool { return surfaces[i].depth < surfaces[j].depth })

	img := imaging.New(opts.Size, opts.Size, color.White)
	raster := vector.NewRasterizer(opts.Size, opts.Size)
	for _, s := range surfaces {
		raster.Reset(opts.Size, opts.Size)
		raster.DrawOp = draw.Over
		for _, t := range s.triangles {
			addTriangle(raster, cam, t)
		}
		raster.Draw(img, img.Bounds(), image.NewUniform(fill[s.label]), image.Point{})
	}

	if err := imaging.Save(img, path); err != nil {
		return 0, fmt.Errorf("save rendering: %w", err)
	}
	return len(surfaces), nil
}

// extractSurface runs marching cubes on the bounding box of one label,
// padded with background so the surface is closed
func extractSurface(viewer *Viewer, s analysis.LabelStats, numCores int) ([]stl.Triangle, error) {
	vol := viewer.vol
	dims := [3]int{vol.Width, vol.Height, vol.Depth}
	var start, size [3]int
	for i := 0; i < 3; i++ {
		lo := s.Min[i] - 1
		if lo < 0 {
			lo = 0
		}
		hi := s.Max[i] + 1
		if hi > dims[i]-1 {
			hi = dims[i] - 1
		}
		start[i], size[i] = lo, hi-lo+1
	}
	region, err := viewer.ExtractRegion(start, size)
	if err != nil {
		return nil, err
	}

	w, h, d := size[0]+2, size[1]+2, size[2]+2
	mask := make([]float64, w*h*d)
	label := float64(s.Label)
	for z := 0; z < size[2]; z++ {
		for y := 0; y < size[1]; y++ {
			for x := 0; x < size[0]; x++ {
				if region.At(x, y, z) == label {
					mask[(z+1)*w*h+(y+1)*w+x+1] = 1
				}
			}
		}
	}

	mc := stl.NewMarchingCubes(mask, w, h, d, 0.5)
	mc.SetOrigin(float32(start[0]-1), float32(start[1]-1), float32(start[2]-1))
	mc.SetNumWorkers(numCores)
	return mc.GenerateTriangles(), nil
}

// addTriangle adds the screen projection of t to the rasterizer. All
// triangles are wound the same way so overlapping ones do not cancel.
func addTriangle(r *vector.Rasterizer, cam *camera, t stl.Triangle) {
	ax, ay := cam.screen(t.Vertex1)
	bx, by := cam.screen(t.Vertex2)
	cx, cy := cam.screen(t.Vertex3)
	if (bx-ax)*(cy-ay)-(by-ay)*(cx-ax) < 0 {
		bx, by, cx, cy = cx, cy, bx, by
	}
	r.MoveTo(ax, ay)
	r.LineTo(bx, by)
	r.LineTo(cx, cy)
	r.ClosePath()
}
