package visualization

import (
	"fmt"
	"image/color"

	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/palette/moreland"
)

// Palette names accepted by the plotting functions
const (
	PaletteBone      = "bone"
	PaletteBoneR     = "bone_r"
	PaletteSpectral  = "spectral"
	PaletteDiverging = "diverging"
)

const paletteSize = 256

// colors is a fixed list of colors satisfying palette.Palette
type colors []color.Color

func (c colors) Colors() []color.Color { return c }

// bone is a gray ramp with a slight blue tint in the mid tones
func bone(n int) colors {
	out := make(colors, n)
	for i := range out {
		t := float64(i) / float64(n-1)
		blue := 0.0
		if t < 0.75 {
			blue = t / 0.75 * 0.1
		} else {
			blue = (1 - t) / 0.25 * 0.1
		}
		out[i] = color.NRGBA{
			R: uint8(255 * clamp01(t*0.9)),
			G: uint8(255 * clamp01(t*0.9+blue/2)),
			B: uint8(255 * clamp01(t*0.9+blue)),
			A: 255,
		}
	}
	// the ramp ends on white
	out[n-1] = color.NRGBA{R: 255, G: 255, B: 255, A: 255}
	return out
}

// spectral starts at black for the background label and sweeps the hue
// circle for the others
func spectral(n int) colors {
	out := colors{color.NRGBA{A: 255}}
	return append(out, palette.Rainbow(n-1, palette.Magenta, palette.Red, 1, 1, 1).Colors()...)
}

// diverging runs from red through white to blue
func diverging(n int) colors {
	cmap := moreland.SmoothBlueRed()
	cmap.SetMin(0)
	cmap.SetMax(1)
	return reversed(cmap.Palette(n).Colors())
}

func reversed(c colors) colors {
	out := make(colors, len(c))
	for i := range c {
		out[len(c)-1-i] = c[i]
	}
	return out
}

// PaletteByName returns the named palette
func PaletteByName(name string) (palette.Palette, error) {
	switch name {
	case PaletteBone:
		return bone(paletteSize), nil
	case PaletteBoneR:
		return reversed(bone(paletteSize)), nil
	case PaletteSpectral:
		return spectral(paletteSize), nil
	case PaletteDiverging:
		return diverging(paletteSize), nil
	default:
		return nil, fmt.Errorf("unknown palette %q", name)
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
