// Command segmentationviz draws the figures of a watershed segmentation run:
// projections, the pipeline panel and a surface rendering of the labels.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
	"gonum.org/v1/plot/vg"

	"volseg/internal/cli"
	"volseg/internal/models"
	"volseg/pkg/analysis"
	"volseg/pkg/visualization"
	"volseg/pkg/volumeio"
)

const usage = "<InputFileName> <BubbleFileName> <DistanceMapFileName> <WatershedOutputFileName> " +
	"<CleanSegmentationFileName> <InputProjectionsOutputFileName> <PipelineImagesOutputFileName> " +
	"<SegmentationProjectionsOutputFileName> <CleanSegmentationProjectionsOutputFileName> " +
	"<VolumeRenderingOutputFileName>"

func main() {
	fs := cli.NewFlagSet()
	htmlPath := fs.String("html", "", "Write an interactive chart of the object centers to this HTML file")
	slicesDir := fs.String("slices-dir", "", "Save every z slice of the clean segmentation to this directory")
	inv := cli.Parse(usage, 10, fs)

	if err := run(inv, *htmlPath, *slicesDir); err != nil {
		log.Errorf("Visualization failed: %v", err)
		os.Exit(1)
	}
}

func run(inv *cli.Invocation, htmlPath, slicesDir string) error {
	cfg := inv.Config.Visualization
	args := inv.Args
	width := vg.Length(cfg.PanelWidth) * vg.Inch
	height := vg.Length(cfg.PanelHeight) * vg.Inch

	log.Info("Step 1: Reading images")
	names := []string{"input", "bubble", "distance map", "watershed", "clean segmentation"}
	vols := make([]*models.Volume, len(names))
	for i, name := range names {
		vol, err := volumeio.Read(args[i])
		if err != nil {
			return fmt.Errorf("failed to read %s image: %w", name, err)
		}
		vols[i] = vol
	}
	input, bubble, dmap, ws, clean := vols[0], vols[1], vols[2], vols[3], vols[4]

	log.Info("Step 2: Input projections")
	if err := visualization.SaveProjections(input, visualization.Sum, visualization.PaletteBoneR, width, height, args[5]); err != nil {
		return err
	}
	bubblePath := siblingPath(args[5], "bubble_slice")
	if err := visualization.SaveSlice(bubble, bubble.Depth/2, visualization.PaletteBone, width, height, bubblePath); err != nil {
		return err
	}

	log.Info("Step 3: Pipeline panel")
	panel, err := visualization.SavePipelinePanel(bubble, dmap, ws, width, height, args[6])
	if err != nil {
		return err
	}
	log.Debugf("Slice %d distance range [%.2f, %.2f], %d watershed labels",
		panel.Slice, panel.DistanceMin, panel.DistanceMax, panel.Labels)

	log.Info("Step 4: Segmentation projections")
	if err := visualization.SaveProjections(ws, visualization.Max, visualization.PaletteSpectral, width, height, args[7]); err != nil {
		return err
	}
	if err := visualization.SaveProjections(clean, visualization.Max, visualization.PaletteSpectral, width, height, args[8]); err != nil {
		return err
	}

	log.Infof("Step 5: Rendering every %d label surface", cfg.RenderEvery)
	n, err := visualization.RenderLabelSurfaces(clean, visualization.RenderOptions{
		Every:     cfg.RenderEvery,
		Elevation: cfg.Elevation,
		Azimuth:   cfg.Azimuth,
		Size:      cfg.RenderSize,
		NumCores:  inv.Config.Processing.NumCores,
	}, args[9])
	if err != nil {
		return err
	}
	fmt.Printf("Rendered %d label surfaces to %s\n", n, args[9])

	if htmlPath != "" {
		stats, err := analysis.ComputeLabelStats(clean, inv.Config.Processing.NumCores)
		if err != nil {
			return err
		}
		if err := visualization.SaveCentersHTML(stats, "Bubble centers", htmlPath); err != nil {
			return err
		}
		fmt.Printf("Centers chart saved to: %s\n", htmlPath)
	}

	if slicesDir != "" {
		viewer := visualization.NewViewer(clean)
		if err := viewer.SaveSliceSequence("z", slicesDir); err != nil {
			log.Warnf("Failed to save slices: %v", err)
		}
	}
	return nil
}

// siblingPath returns a PNG path named name next to path
func siblingPath(path, name string) string {
	return filepath.Join(filepath.Dir(path), name+".png")
}
