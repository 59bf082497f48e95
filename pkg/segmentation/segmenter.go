// Package segmentation runs the watershed segmentation pipeline: binarize
// the input with hole filling, compute a signed distance map, flood it with
// a watershed and clean the labels with a morphological opening.
package segmentation

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"volseg/internal/models"
	"volseg/pkg/config"
	"volseg/pkg/filters"
	"volseg/pkg/volumeio"
)

// Params holds the pipeline inputs, outputs and tuning values
type Params struct {
	// InputFile is the image to segment, read as unsigned char
	InputFile string

	// BubbleFile receives the hole filled binary image
	BubbleFile string

	// DistanceMapFile receives the signed distance map
	DistanceMapFile string

	// WatershedFile receives the raw watershed labels
	WatershedFile string

	// SegmentationFile receives the cleaned labels
	SegmentationFile string

	// BinarizingRadius is the hole filling neighbourhood radius on every axis
	BinarizingRadius int

	// MajorityThreshold is the extra vote count needed to fill a hole
	MajorityThreshold int

	// WatershedThreshold and Level are fractions of the distance map range
	WatershedThreshold float64
	Level              float64

	// CleaningRadius is the radius of the ball used to open the labels
	CleaningRadius int

	// NumCores bounds the goroutines used by the filters
	NumCores int

	MaxIterations    int
	Foreground       float64
	Background       float64
	InsideIsPositive bool
	UseImageSpacing  bool
	FullyConnected   bool

	// Relabel renumbers cleaned labels by size, dropping those below MinLabelSize
	Relabel      bool
	MinLabelSize int

	// SaveIntermediaryResults writes the middle slice of every stage as PNG
	SaveIntermediaryResults bool
	IntermediaryDir         string
}

// NewParams returns parameters with the tuning values taken from cfg
func NewParams(cfg *config.Config) *Params {
	return &Params{
		NumCores:                cfg.Processing.NumCores,
		MaxIterations:           cfg.Segmentation.MaxIterations,
		Foreground:              cfg.Segmentation.Foreground,
		Background:              cfg.Segmentation.Background,
		InsideIsPositive:        cfg.Segmentation.InsideIsPositive,
		UseImageSpacing:         cfg.Segmentation.UseImageSpacing,
		FullyConnected:          cfg.Segmentation.FullyConnected,
		Relabel:                 cfg.Segmentation.Relabel,
		MinLabelSize:            cfg.Segmentation.MinLabelSize,
		SaveIntermediaryResults: cfg.Output.SaveIntermediaryResults,
		IntermediaryDir:         cfg.Output.IntermediaryDir,
	}
}

// Validate checks the parameters before any file is read
func (p *Params) Validate() error {
	if p.InputFile == "" {
		return fmt.Errorf("no input file")
	}
	if p.BinarizingRadius < 0 {
		return fmt.Errorf("binarizing radius must not be negative, got %d", p.BinarizingRadius)
	}
	if p.CleaningRadius < 0 {
		return fmt.Errorf("cleaning radius must not be negative, got %d", p.CleaningRadius)
	}
	if p.WatershedThreshold < 0 || p.WatershedThreshold > 1 {
		return fmt.Errorf("watershed threshold %g is outside [0, 1]", p.WatershedThreshold)
	}
	if p.Level < 0 || p.Level > 1 {
		return fmt.Errorf("watershed level %g is outside [0, 1]", p.Level)
	}
	if p.MaxIterations < 1 {
		return fmt.Errorf("max iterations must be at least 1")
	}
	if err := volumeio.CheckImageOutput(p.DistanceMapFile, models.Float, 1); err != nil {
		return err
	}
	return nil
}

// Stage is the timing of one pipeline step
type Stage struct {
	Name     string
	Duration time.Duration
}

// Summary reports what the pipeline produced
type Summary struct {
	HoleFillingIterations int
	FilledVoxels          int
	DistanceMin           float64
	DistanceMax           float64
	Minima                int
	WatershedLabels       int
	CleanLabels           int
	Stages                []Stage
}

// Segmenter runs the pipeline once
type Segmenter struct {
	params *Params

	input       *models.Volume
	bubble      *models.Volume
	distanceMap *models.Volume
	watershed   *models.Volume
	cleaned     *models.Volume

	summary Summary
}

// NewSegmenter creates a segmenter for params
func NewSegmenter(params *Params) *Segmenter {
	return &Segmenter{params: params}
}

// Process runs every step in order, writing each output as soon as it is available
func (s *Segmenter) Process() error {
	p := s.params
	if err := p.Validate(); err != nil {
		return err
	}
	filters.SetNumCores(p.NumCores)

	if p.SaveIntermediaryResults {
		if err := os.MkdirAll(p.IntermediaryDir, 0755); err != nil {
			return fmt.Errorf("failed to create intermediary directory: %w", err)
		}
	}

	// Step 1: Read the input
	err := s.stage("read input", func() error {
		log.Infof("Step 1: Reading %s...", p.InputFile)
		vol, err := volumeio.ReadAs(p.InputFile, models.UChar)
		if err != nil {
			return fmt.Errorf("failed to read input: %w", err)
		}
		s.input = vol
		log.Debugf("Input:\n%s", vol)
		return s.saveIntermediaryResult("01_input", vol)
	})
	if err != nil {
		return err
	}

	// Step 2: Fill holes to get the bubble image
	err = s.stage("hole filling", func() error {
		log.Infof("Step 2: Filling holes (radius %d, majority %d)...", p.BinarizingRadius, p.MajorityThreshold)
		r := p.BinarizingRadius
		bubble, res, err := filters.VotingBinaryIterativeHoleFilling(s.input, filters.HoleFillingParams{
			Radius:            [3]int{r, r, r},
			Background:        p.Background,
			Foreground:        p.Foreground,
			MajorityThreshold: p.MajorityThreshold,
			MaxIterations:     p.MaxIterations,
		})
		if err != nil {
			return fmt.Errorf("failed to fill holes: %w", err)
		}
		s.bubble = bubble
		s.summary.HoleFillingIterations = res.Iterations
		s.summary.FilledVoxels = res.ChangedVoxels
		log.Debugf("Hole filling changed %d voxels in %d iterations", res.ChangedVoxels, res.Iterations)
		if err := s.write(p.BubbleFile, bubble); err != nil {
			return err
		}
		return s.saveIntermediaryResult("02_bubble", bubble)
	})
	if err != nil {
		return err
	}

	// Steps 3 to 5: Scale, clamp and compute the distance map
	err = s.stage("distance map", func() error {
		log.Info("Step 3: Scaling the bubble image...")
		scaled := filters.MultiplyConstant(s.bubble, 255)

		log.Info("Step 4: Clamping to [0, 255]...")
		clamped, err := filters.Clamp(scaled, 0, 255)
		if err != nil {
			return err
		}

		log.Info("Step 5: Computing the signed distance map...")
		dmap, err := filters.SignedMaurerDistanceMap(clamped, filters.DistanceMapParams{
			Background:       0,
			InsideIsPositive: p.InsideIsPositive,
			UseImageSpacing:  p.UseImageSpacing,
		})
		if err != nil {
			return fmt.Errorf("failed to compute distance map: %w", err)
		}
		s.distanceMap = dmap
		s.summary.DistanceMin, s.summary.DistanceMax = dmap.MinMax()
		if err := s.write(p.DistanceMapFile, dmap); err != nil {
			return err
		}
		return s.saveIntermediaryResult("03_distance_map", dmap)
	})
	if err != nil {
		return err
	}

	// Step 6: Watershed
	err = s.stage("watershed", func() error {
		log.Infof("Step 6: Watershed (threshold %g, level %g)...", p.WatershedThreshold, p.Level)
		labels, res, err := filters.Watershed(s.distanceMap, filters.WatershedParams{
			Threshold:      p.WatershedThreshold,
			Level:          p.Level,
			FullyConnected: p.FullyConnected,
		})
		if err != nil {
			return fmt.Errorf("failed to run watershed: %w", err)
		}
		s.watershed = labels
		s.summary.Minima = res.Minima
		s.summary.WatershedLabels = res.Labels
		log.Debugf("Watershed merged %d minima into %d labels", res.Minima, res.Labels)
		if err := s.write(p.WatershedFile, labels); err != nil {
			return err
		}
		return s.saveIntermediaryResult("04_watershed", labels)
	})
	if err != nil {
		return err
	}

	// Step 7: Remove small objects
	err = s.stage("cleaning", func() error {
		log.Infof("Step 7: Opening labels with a ball of radius %d...", p.CleaningRadius)
		r := p.CleaningRadius
		se, err := filters.BallStructuringElement([3]int{r, r, r})
		if err != nil {
			return err
		}
		cleaned := filters.LabelOpening(s.watershed, se)
		if p.Relabel {
			var n int
			cleaned, n, err = filters.RelabelComponents(cleaned, p.MinLabelSize)
			if err != nil {
				return err
			}
			s.summary.CleanLabels = n
		} else {
			s.summary.CleanLabels = countLabels(cleaned)
		}
		s.cleaned = cleaned
		if err := s.write(p.SegmentationFile, cleaned); err != nil {
			return err
		}
		return s.saveIntermediaryResult("05_segmentation", cleaned)
	})
	return err
}

// stage runs fn and records its duration
func (s *Segmenter) stage(name string, fn func() error) error {
	start := time.Now()
	err := fn()
	s.summary.Stages = append(s.summary.Stages, Stage{Name: name, Duration: time.Since(start)})
	return err
}

func (s *Segmenter) write(path string, vol *models.Volume) error {
	if path == "" {
		return nil
	}
	if err := volumeio.Write(path, vol); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	log.Debugf("Wrote %s", path)
	return nil
}

// saveIntermediaryResult writes the middle slice of vol as a PNG preview
func (s *Segmenter) saveIntermediaryResult(stage string, vol *models.Volume) error {
	if !s.params.SaveIntermediaryResults {
		return nil
	}
	filename := filepath.Join(s.params.IntermediaryDir, stage+".png")
	if err := volumeio.WritePreview(filename, vol, vol.Depth/2); err != nil {
		log.Warnf("Failed to save intermediary result %s: %v", stage, err)
	}
	return nil
}

func countLabels(vol *models.Volume) int {
	seen := make(map[float64]struct{})
	for _, l := range vol.Data {
		if l != 0 {
			seen[l] = struct{}{}
		}
	}
	return len(seen)
}

// Bubble returns the hole filled binary image
func (s *Segmenter) Bubble() *models.Volume { return s.bubble }

// DistanceMap returns the signed distance map
func (s *Segmenter) DistanceMap() *models.Volume { return s.distanceMap }

// Watershed returns the raw watershed labels
func (s *Segmenter) Watershed() *models.Volume { return s.watershed }

// Segmentation returns the cleaned labels
func (s *Segmenter) Segmentation() *models.Volume { return s.cleaned }

// Summary returns the statistics gathered by Process
func (s *Segmenter) Summary() Summary { return s.summary }

// String formats the summary for the console
func (sum Summary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Hole filling: %d voxels in %d iterations\n", sum.FilledVoxels, sum.HoleFillingIterations)
	fmt.Fprintf(&b, "Distance map range: [%.3f, %.3f]\n", sum.DistanceMin, sum.DistanceMax)
	fmt.Fprintf(&b, "Watershed: %d minima, %d labels\n", sum.Minima, sum.WatershedLabels)
	fmt.Fprintf(&b, "Segmentation: %d labels\n", sum.CleanLabels)
	for _, st := range sum.Stages {
		fmt.Fprintf(&b, "- %s: %.3fs\n", st.Name, st.Duration.Seconds())
	}
	return b.String()
}
