// Command thresholdinplace binarizes an image in place and shows that the
// filter output shares the input's object and pixel buffer.
package main

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"

	"volseg/internal/cli"
	"volseg/pkg/filters"
	"volseg/pkg/volumeio"
)

func main() {
	inv := cli.Parse("<filename>", 1, nil)
	cfg := inv.Config
	filename := inv.Args[0]

	image, err := volumeio.Read(filename)
	if err != nil {
		log.Errorf("Failed to read %s: %v", filename, err)
		os.Exit(1)
	}
	buffer := &image.Data[0]

	fmt.Println("Input image:")
	fmt.Print(image)

	thresholded, err := filters.BinaryThresholdInPlace(image,
		cfg.Threshold.Lower, cfg.Threshold.Upper, cfg.Threshold.Inside, cfg.Threshold.Outside)
	if err != nil {
		log.Errorf("Threshold failed: %v", err)
		os.Exit(1)
	}

	fmt.Println("Thresholded image:")
	fmt.Print(thresholded)
	fmt.Printf("Same object: %t\n", image == thresholded)
	fmt.Printf("Same pixel buffer: %t\n", buffer == &thresholded.Data[0])
}
