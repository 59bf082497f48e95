// Command watershedseg segments touching objects in a binary image with a
// watershed on its signed distance map.
package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"

	"volseg/internal/cli"
	"volseg/pkg/segmentation"
)

const usage = "<InputFileName> <ReversedInputOutputFileName> <DistanceMapOutputFileName> " +
	"<WatershedOutputFileName> <SegmentationResultOutputImageFile> <BinarizingRadius> " +
	"<MajorityThreshold> <WatershedThreshold> <Level> <CleaningStructuringElementRadius>"

func main() {
	inv := cli.Parse(usage, 10, nil)
	args := inv.Args

	params := segmentation.NewParams(inv.Config)
	params.InputFile = args[0]
	params.BubbleFile = args[1]
	params.DistanceMapFile = args[2]
	params.WatershedFile = args[3]
	params.SegmentationFile = args[4]

	var err error
	if params.BinarizingRadius, err = strconv.Atoi(args[5]); err != nil {
		fail("BinarizingRadius", err)
	}
	if params.MajorityThreshold, err = strconv.Atoi(args[6]); err != nil {
		fail("MajorityThreshold", err)
	}
	if params.WatershedThreshold, err = strconv.ParseFloat(args[7], 64); err != nil {
		fail("WatershedThreshold", err)
	}
	if params.Level, err = strconv.ParseFloat(args[8], 64); err != nil {
		fail("Level", err)
	}
	if params.CleaningRadius, err = strconv.Atoi(args[9]); err != nil {
		fail("CleaningStructuringElementRadius", err)
	}

	fmt.Println("================================")
	fmt.Println("WATERSHED SEGMENTATION WITH A SIGNED DISTANCE MAP")
	fmt.Println("================================")

	segmenter := segmentation.NewSegmenter(params)
	start := time.Now()
	if err := segmenter.Process(); err != nil {
		log.Errorf("Segmentation failed: %v", err)
		os.Exit(1)
	}

	fmt.Printf("\nSegmentation completed in %.2f seconds using %d cores\n", time.Since(start).Seconds(), params.NumCores)
	fmt.Print(segmenter.Summary())
	fmt.Printf("Segmentation result saved to: %s\n", params.SegmentationFile)

	if params.SaveIntermediaryResults {
		fmt.Println("\nIntermediary results saved to:")
		fmt.Printf("%s\n", params.IntermediaryDir)
	}
}

func fail(name string, err error) {
	log.Errorf("Invalid %s: %v", name, err)
	os.Exit(1)
}
