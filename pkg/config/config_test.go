package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestLoadMissingFileGivesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Codec.Dialect != "auto" || cfg.Codec.Compress != -1 {
		t.Errorf("Expected default codec settings, got %+v", cfg.Codec)
	}
	if cfg.Output.SliceQuality != 90 {
		t.Errorf("Expected slice quality 90, got %d", cfg.Output.SliceQuality)
	}
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "mrivista.yaml")
	cfg := DefaultConfig()
	cfg.Codec.Dialect = "functional"
	cfg.Output.LogLevel = "warn"
	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}
	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if loaded.Codec.Dialect != "functional" {
		t.Errorf("Expected dialect functional, got %q", loaded.Codec.Dialect)
	}
	if level, _ := loaded.Level(); level != logrus.WarnLevel {
		t.Errorf("Expected warn level, got %s", level)
	}
}

func TestLoadPartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partial.yaml")
	if err := os.WriteFile(path, []byte("codec:\n  compress: 6\n"), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Codec.Compress != 6 {
		t.Errorf("Expected compress 6, got %d", cfg.Codec.Compress)
	}
	if cfg.Codec.MaxVoxels != 1<<30 {
		t.Errorf("Expected default maxVoxels, got %d", cfg.Codec.MaxVoxels)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"compress", func(c *Config) { c.Codec.Compress = 12 }},
		{"quality", func(c *Config) { c.Output.SliceQuality = 0 }},
		{"level", func(c *Config) { c.Output.LogLevel = "loud" }},
		{"voxels", func(c *Config) { c.Codec.MaxVoxels = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			if err := cfg.Validate(); err == nil {
				t.Errorf("Expected a validation error")
			}
		})
	}
	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("Expected defaults to validate, got %v", err)
	}
}

func TestVerboseOverridesLevel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Output.LogLevel = "error"
	cfg.Output.Verbose = true
	if level, err := cfg.Level(); err != nil || level != logrus.DebugLevel {
		t.Errorf("Expected debug level, got %s (%v)", level, err)
	}
}
