// Package config provides configuration loading and management for mrivista.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Codec parameters
	Codec struct {
		// Dialect forces how sub-images are interpreted on read: "auto",
		// "anatomical", "functional" or "map"
		Dialect string `yaml:"dialect"`

		// MaxVoxels bounds the size of a single decoded sub-image
		MaxVoxels int `yaml:"maxVoxels"`

		// Compress is the gzip level for written files, 0 to disable and -1 to
		// compress only paths ending in .gz
		Compress int `yaml:"compress"`
	} `yaml:"codec"`

	// Output parameters
	Output struct {
		// Verbose enables debug logging
		Verbose bool `yaml:"verbose"`

		// LogLevel is a logrus level name, overridden by Verbose
		LogLevel string `yaml:"logLevel"`

		// SlicesDir is where slice previews are saved, empty for none
		SlicesDir string `yaml:"slicesDir"`

		// SliceQuality is the JPEG quality of slice previews (1-100)
		SliceQuality int `yaml:"sliceQuality"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	// Set default codec parameters
	cfg.Codec.Dialect = "auto"
	cfg.Codec.MaxVoxels = 1 << 30
	cfg.Codec.Compress = -1

	// Set default output parameters
	cfg.Output.Verbose = false
	cfg.Output.LogLevel = "info"
	cfg.Output.SlicesDir = ""
	cfg.Output.SliceQuality = 90

	return cfg
}

// Validate checks value ranges that YAML cannot express
func (c *Config) Validate() error {
	if c.Codec.MaxVoxels < 0 {
		return fmt.Errorf("codec.maxVoxels must not be negative, got %d", c.Codec.MaxVoxels)
	}
	if c.Codec.Compress < -1 || c.Codec.Compress > 9 {
		return fmt.Errorf("codec.compress must be between -1 and 9, got %d", c.Codec.Compress)
	}
	if c.Output.SliceQuality < 1 || c.Output.SliceQuality > 100 {
		return fmt.Errorf("output.sliceQuality must be between 1 and 100, got %d", c.Output.SliceQuality)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// Level returns the configured log level
func (c *Config) Level() (logrus.Level, error) {
	if c.Output.Verbose {
		return logrus.DebugLevel, nil
	}
	level, err := logrus.ParseLevel(c.Output.LogLevel)
	if err != nil {
		return logrus.InfoLevel, fmt.Errorf("output.logLevel: %w", err)
	}
	return level, nil
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	// Read config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// Parse YAML
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
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	// Marshal config to YAML
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	// Write to file
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
