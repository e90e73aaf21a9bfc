// Package config loads the bioimagelab application configuration from YAML
// files and provides default values. The pipeline definition itself lives
// in a separate file handled by the pipeline package.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"

	"bioimagelab/internal/models"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Processing parameters
	Processing struct {
		// Workers is the number of images processed concurrently
		Workers int `yaml:"workers"`

		// CancelCheckInterval is the number of watershed queue pops between
		// two cancellation checks
		CancelCheckInterval int `yaml:"cancelCheckInterval"`
	} `yaml:"processing"`

	// Input parameters
	Input struct {
		// VoxelSize is the calibration applied to images whose files carry none
		VoxelSize models.VoxelSize `yaml:"voxelSize"`

		// TimeInterval is the time between T points in seconds
		TimeInterval float64 `yaml:"timeInterval"`

		// Unit names the spatial unit of VoxelSize
		Unit string `yaml:"unit"`

		// Extensions lists the file extensions read from input directories
		Extensions []string `yaml:"extensions"`
	} `yaml:"input"`

	// Output parameters
	Output struct {
		// SaveLabelImages writes a label overlay PNG per succeeded image
		SaveLabelImages bool `yaml:"saveLabelImages"`

		// SaveArtifacts writes the final intensity image of every succeeded image
		SaveArtifacts bool `yaml:"saveArtifacts"`

		// Database is the SQLite results file inside the output directory;
		// empty disables the export
		Database string `yaml:"database"`
	} `yaml:"output"`

	// Logging parameters
	Logging struct {
		// Level is one of debug, info, warn, error
		Level string `yaml:"level"`

		// Format is console or json
		Format string `yaml:"format"`
	} `yaml:"logging"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Processing.Workers = runtime.NumCPU()
	cfg.Processing.CancelCheckInterval = 4096

	cfg.Input.VoxelSize = models.VoxelSize{X: 1, Y: 1, Z: 1}
	cfg.Input.Unit = "um"
	cfg.Input.Extensions = []string{".png", ".tif", ".tiff"}

	cfg.Output.SaveLabelImages = true
	cfg.Output.SaveArtifacts = false
	cfg.Output.Database = "results.db"

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "console"

	return cfg
}

// Calibration returns the input calibration described by the config.
func (c *Config) Calibration() models.Calibration {
	return models.Calibration{VoxelSize: c.Input.VoxelSize, TimeInterval: c.Input.TimeInterval, Unit: c.Input.Unit}
}

// Validate rejects values no run can work with.
func (c *Config) Validate() error {
	if c.Processing.Workers < 1 {
		return fmt.Errorf("processing.workers must be at least 1, got %d", c.Processing.Workers)
	}
	if c.Processing.CancelCheckInterval < 1 {
		return fmt.Errorf("processing.cancelCheckInterval must be at least 1, got %d", c.Processing.CancelCheckInterval)
	}
	v := c.Input.VoxelSize
	if v.X <= 0 || v.Y <= 0 || v.Z <= 0 {
		return fmt.Errorf("input.voxelSize must be positive, got %+v", v)
	}
	if len(c.Input.Extensions) == 0 {
		return fmt.Errorf("input.extensions must not be empty")
	}
	return nil
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

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
	return SaveConfig(DefaultConfig(), configPath)
}
