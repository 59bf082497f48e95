// Command meshtoimage rasterizes a closed triangle mesh onto the grid of a
// reference image.
package main

import (
	"fmt"
	"os"
	"time"

	log "github.com/sirupsen/logrus"

	"volseg/internal/cli"
	"volseg/pkg/meshio"
	"volseg/pkg/rasterize"
	"volseg/pkg/volumeio"
)

func main() {
	inv := cli.Parse("<input_image> <input_mesh> <output_image>", 3, nil)
	cfg := inv.Config
	imagePath, meshPath, outputPath := inv.Args[0], inv.Args[1], inv.Args[2]

	start := time.Now()

	log.Infof("Step 1: Reading reference image %s", imagePath)
	reference, err := volumeio.Read(imagePath)
	if err != nil {
		log.Errorf("Failed to read reference image: %v", err)
		os.Exit(1)
	}

	log.Infof("Step 2: Reading mesh %s", meshPath)
	mesh, err := meshio.Read(meshPath)
	if err != nil {
		log.Errorf("Failed to read mesh: %v", err)
		os.Exit(1)
	}
	log.Debugf("Mesh has %d vertices and %d triangles", len(mesh.Vertices), len(mesh.Faces))

	log.Infof("Step 3: Rasterizing (%s) with %d cores", cfg.Mesh.Method, cfg.Processing.NumCores)
	out, err := rasterize.Voxelize(cfg.Mesh.Method, mesh, reference,
		cfg.Mesh.InsideValue, cfg.Mesh.OutsideValue, cfg.Processing.NumCores)
	if err != nil {
		log.Errorf("Rasterization failed: %v", err)
		os.Exit(1)
	}

	log.Infof("Step 4: Writing %s", outputPath)
	if err := volumeio.Write(outputPath, out); err != nil {
		log.Errorf("Failed to write output image: %v", err)
		os.Exit(1)
	}

	inside := 0
	for _, v := range out.Data {
		if v == cfg.Mesh.InsideValue {
			inside++
		}
	}
	fmt.Printf("Rasterized %d of %d voxels inside the mesh in %.2f seconds\n",
		inside, len(out.Data), time.Since(start).Seconds())
}
