package main

import (
	"os"
	"path/filepath"
	"testing"

	"mrivista/pkg/config"
)

// TestPreviewDirFromConfig verifies that a slices directory set only in the
// config file enables previews
func TestPreviewDirFromConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mrivista.yaml")
	if err := os.WriteFile(path, []byte("output:\n  slicesDir: previews\n"), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	cfg, err := config.LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	dir, ok := previewDir(cfg, 3)
	if !ok {
		t.Fatal("Expected previews to be enabled by the config file")
	}
	if want := filepath.Join("previews", "image_03"); dir != want {
		t.Errorf("Expected %s, got %s", want, dir)
	}
}

// TestPreviewDirDefault verifies that previews are off by default
func TestPreviewDirDefault(t *testing.T) {
	if dir, ok := previewDir(config.DefaultConfig(), 0); ok {
		t.Errorf("Expected no previews by default, got %s", dir)
	}
}
