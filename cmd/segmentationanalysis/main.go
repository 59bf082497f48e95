// Command segmentationanalysis measures the objects of a clean segmentation,
// writes their statistics and compares them with training statistics.
package main

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"gonum.org/v1/plot/vg"

	"volseg/internal/cli"
	"volseg/pkg/analysis"
	"volseg/pkg/volumeio"
)

const usage = "<CleanSegmentationFileName> <TrainingBubbleVolumeStatsFileName> " +
	"<BubbleVolumeStatsOutputFileName> <BubbleVolumeStatsSampleTableOutputFileName> " +
	"<BubbleVolumeDensityStatsPlotOutputFileName> <BubbleCentersPlotOutputFileName> " +
	"<BubbleStatsComparisonPlotOutputFileName>"

func main() {
	inv := cli.Parse(usage, 7, nil)
	if err := run(inv); err != nil {
		log.Errorf("Analysis failed: %v", err)
		os.Exit(1)
	}
}

func run(inv *cli.Invocation) error {
	cfg := inv.Config.Analysis
	args := inv.Args
	width := vg.Length(inv.Config.Visualization.PanelWidth) * vg.Inch
	height := vg.Length(inv.Config.Visualization.PanelHeight) * vg.Inch

	log.Infof("Step 1: Reading segmentation %s", args[0])
	labels, err := volumeio.Read(args[0])
	if err != nil {
		return err
	}

	log.Info("Step 2: Measuring objects")
	stats, err := analysis.ComputeLabelStats(labels, inv.Config.Processing.NumCores)
	if err != nil {
		return err
	}
	if len(stats) == 0 {
		return fmt.Errorf("no objects in %s", args[0])
	}
	if err := analysis.WriteCSVFile(args[2], stats); err != nil {
		return err
	}

	log.Infof("Step 3: Sampling %d rows", cfg.SampleSize)
	if err := analysis.WriteCSVFile(args[3], analysis.Sample(stats, cfg.SampleSize, cfg.Seed)); err != nil {
		return err
	}

	log.Info("Step 4: Plotting the volume density")
	density, err := analysis.KernelDensity(analysis.Volumes(stats), cfg.DensityPoints)
	if err != nil {
		return err
	}
	if err := analysis.SaveDensityPlot(density, width, height, args[4]); err != nil {
		return err
	}

	log.Info("Step 5: Plotting the object centers")
	xs := make([]float64, len(stats))
	ys := make([]float64, len(stats))
	for i, s := range stats {
		xs[i], ys[i] = s.X, s.Y
	}
	grid, err := analysis.HexbinCounts(xs, ys, cfg.HexbinGridSize)
	if err != nil {
		return err
	}
	if err := analysis.SaveCentersPlot(grid, width, height, args[5]); err != nil {
		return err
	}

	log.Infof("Step 6: Comparing with training statistics %s", args[1])
	training, err := analysis.ReadCSVFile(args[1])
	if err != nil {
		return err
	}
	cmp, err := analysis.Compare(stats, training, cfg.HistogramBins)
	if err != nil {
		return err
	}
	if err := analysis.SaveComparisonPlot(cmp, stats, training, width, height, args[6]); err != nil {
		return err
	}

	fmt.Printf("Objects found: %d (training: %d)\n", len(stats), len(training))
	fmt.Printf("Mean log10 volume: %.3f (training: %.3f)\n", cmp.DetectedLogVolume, cmp.TrainingLogVolume)
	fmt.Printf("Mean distance to the nearest training center: %.3f\n", cmp.MeanNearest)

	if cfg.StatsDB != "" {
		log.Infof("Step 7: Recording statistics in %s", cfg.StatsDB)
		store, err := analysis.OpenStore(cfg.StatsDB)
		if err != nil {
			return err
		}
		defer store.Close()
		runID, err := store.RecordRun(args[0], stats)
		if err != nil {
			return err
		}
		fmt.Printf("Recorded run %s\n", runID)
	}
	return nil
}
