// Package config provides configuration loading and management for volseg.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Processing parameters
	Processing struct {
		// NumCores specifies how many CPU cores the filters may use
		NumCores int `yaml:"numCores"`
	} `yaml:"processing"`

	// Threshold parameters for the in-place threshold driver
	Threshold struct {
		Lower   float64 `yaml:"lower"`
		Upper   float64 `yaml:"upper"`
		Inside  float64 `yaml:"inside"`
		Outside float64 `yaml:"outside"`
	} `yaml:"threshold"`

	// Segmentation parameters that are not exposed as positional arguments
	Segmentation struct {
		// Foreground and Background are the binary values used by hole filling
		Foreground float64 `yaml:"foreground"`
		Background float64 `yaml:"background"`

		// MaxIterations bounds the iterative hole filling
		MaxIterations int `yaml:"maxIterations"`

		// InsideIsPositive flips the sign convention of the distance map
		InsideIsPositive bool `yaml:"insideIsPositive"`

		// UseImageSpacing measures distances in physical units
		UseImageSpacing bool `yaml:"useImageSpacing"`

		// FullyConnected selects 26-connectivity for the watershed
		FullyConnected bool `yaml:"fullyConnected"`

		// Relabel renumbers the cleaned labels by decreasing size
		Relabel bool `yaml:"relabel"`

		// MinLabelSize drops cleaned labels smaller than this many voxels
		MinLabelSize int `yaml:"minLabelSize"`
	} `yaml:"segmentation"`

	// Mesh rasterization parameters
	Mesh struct {
		InsideValue  float64 `yaml:"insideValue"`
		OutsideValue float64 `yaml:"outsideValue"`

		// Method is "scanline" or "collider"
		Method string `yaml:"method"`
	} `yaml:"mesh"`

	// Analysis parameters
	Analysis struct {
		// SampleSize is the number of rows in the sample table
		SampleSize int `yaml:"sampleSize"`

		// Seed drives the sample selection; 0 means time based
		Seed int64 `yaml:"seed"`

		// HistogramBins is the bin count of the volume comparison histogram
		HistogramBins int `yaml:"histogramBins"`

		// HexbinGridSize is the number of bins per axis in the centers plot
		HexbinGridSize int `yaml:"hexbinGridSize"`

		// DensityPoints is the number of evaluation points of the density curve
		DensityPoints int `yaml:"densityPoints"`

		// StatsDB is an optional SQLite database path for recording label stats
		StatsDB string `yaml:"statsDB"`
	} `yaml:"analysis"`

	// Visualization parameters
	Visualization struct {
		// RenderEvery renders one label out of this many in the 3D view
		RenderEvery int `yaml:"renderEvery"`

		// Elevation and Azimuth set the 3D view angles in degrees
		Elevation float64 `yaml:"elevation"`
		Azimuth   float64 `yaml:"azimuth"`

		// PanelWidth and PanelHeight are the size in inches of a single figure panel
		PanelWidth  float64 `yaml:"panelWidth"`
		PanelHeight float64 `yaml:"panelHeight"`

		// RenderSize is the edge length in pixels of the 3D rendering
		RenderSize int `yaml:"renderSize"`
	} `yaml:"visualization"`

	// Output parameters
	Output struct {
		// SaveIntermediaryResults determines whether to save intermediary processing results
		SaveIntermediaryResults bool `yaml:"saveIntermediaryResults"`

		// IntermediaryDir is where intermediary results go
		IntermediaryDir string `yaml:"intermediaryDir"`

		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Processing.NumCores = runtime.NumCPU() // Use all available cores by default

	cfg.Threshold.Lower = 10
	cfg.Threshold.Upper = 50
	cfg.Threshold.Inside = 255
	cfg.Threshold.Outside = 0

	cfg.Segmentation.Foreground = 255
	cfg.Segmentation.Background = 0
	cfg.Segmentation.MaxIterations = 10
	cfg.Segmentation.InsideIsPositive = false
	cfg.Segmentation.UseImageSpacing = true
	cfg.Segmentation.FullyConnected = false
	cfg.Segmentation.Relabel = true
	cfg.Segmentation.MinLabelSize = 0

	cfg.Mesh.InsideValue = 255
	cfg.Mesh.OutsideValue = 0
	cfg.Mesh.Method = "scanline"

	cfg.Analysis.SampleSize = 5
	cfg.Analysis.Seed = 0
	cfg.Analysis.HistogramBins = 20
	cfg.Analysis.HexbinGridSize = 5
	cfg.Analysis.DensityPoints = 200

	cfg.Visualization.RenderEvery = 10
	cfg.Visualization.Elevation = 45
	cfg.Visualization.Azimuth = 45
	cfg.Visualization.PanelWidth = 4
	cfg.Visualization.PanelHeight = 4
	cfg.Visualization.RenderSize = 1000

	cfg.Output.SaveIntermediaryResults = false
	cfg.Output.IntermediaryDir = "intermediary_results"
	cfg.Output.Verbose = false

	return cfg
}

// Validate rejects settings the filters cannot work with
func (c *Config) Validate() error {
	if c.Processing.NumCores < 1 {
		return fmt.Errorf("processing.numCores must be at least 1, got %d", c.Processing.NumCores)
	}
	if c.Threshold.Lower > c.Threshold.Upper {
		return fmt.Errorf("threshold.lower %g exceeds threshold.upper %g", c.Threshold.Lower, c.Threshold.Upper)
	}
	if c.Segmentation.MaxIterations < 1 {
		return fmt.Errorf("segmentation.maxIterations must be at least 1")
	}
	if c.Analysis.HistogramBins < 1 || c.Analysis.HexbinGridSize < 1 {
		return fmt.Errorf("analysis bin counts must be positive")
	}
	switch c.Mesh.Method {
	case "", "scanline", "collider":
	default:
		return fmt.Errorf("mesh.method must be scanline or collider, got %q", c.Mesh.Method)
	}
	if c.Visualization.RenderEvery < 1 {
		return fmt.Errorf("visualization.renderEvery must be at least 1")
	}
	return nil
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if configPath == "" {
		return cfg, nil
	}

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", configPath, err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}
