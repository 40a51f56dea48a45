package visualization

import (
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"testing"

	"mrivista/pkg/propmap"
	"mrivista/pkg/value"
	"mrivista/pkg/volume"
)

// createVolume returns a float64 image filled by pattern
func createVolume(t *testing.T, size volume.Size, pattern func(x, y, z, tp int) float64) *volume.Image {
	c, err := volume.NewChunk(value.TypeFloat64, size)
	if err != nil {
		t.Fatalf("Failed to create chunk: %v", err)
	}
	for tp := 0; tp < size[volume.TimeDim]; tp++ {
		for z := 0; z < size[volume.SliceDim]; z++ {
			for y := 0; y < size[volume.PhaseDim]; y++ {
				for x := 0; x < size[volume.ReadDim]; x++ {
					c.SetFloat64At(x, y, z, tp, pattern(x, y, z, tp))
				}
			}
		}
	}
	propmap.Put(c.Props(), volume.PropVoxelSize, value.Vector4{0.5, 0.5, 2, 0})
	img, err := volume.NewImage(c)
	if err != nil {
		t.Fatalf("Failed to create image: %v", err)
	}
	return img
}

// TestNewViewer verifies that a new viewer picks up the volume extents and window
func TestNewViewer(t *testing.T) {
	width, height, depth := 10, 8, 5
	img := createVolume(t, volume.NewSize(width, height, depth, 2), func(x, y, z, tp int) float64 {
		return float64(x + y + z + 100*tp)
	})

	viewer, err := NewViewer(img, 1)
	if err != nil {
		t.Fatalf("NewViewer failed: %v", err)
	}
	w, h, d := viewer.Dimensions()
	if w != width || h != height || d != depth {
		t.Errorf("Expected dimensions %dx%dx%d, got %dx%dx%d", width, height, depth, w, h, d)
	}
	low, high := viewer.Window()
	if low != 100 || high != float64(100+width+height+depth-3) {
		t.Errorf("Expected window of time point 1, got [%g, %g]", low, high)
	}
	if sx, sy, _ := viewer.PixelSpacing("x"); sx != 2 || sy != 0.5 {
		t.Errorf("Expected x slice spacing 2x0.5, got %gx%g", sx, sy)
	}

	if _, err := NewViewer(img, 2); !errors.Is(err, volume.ErrInvalidShape) {
		t.Errorf("Expected ErrInvalidShape for a missing time point, got %v", err)
	}
}

// TestExtractSlice verifies that slices are correctly extracted from the volume
func TestExtractSlice(t *testing.T) {
	width, height, depth := 10, 10, 5
	// each slice along Z has a unique value
	img := createVolume(t, volume.NewSize(width, height, depth), func(x, y, z, tp int) float64 {
		return float64(z)
	})
	viewer, err := NewViewer(img, 0)
	if err != nil {
		t.Fatalf("NewViewer failed: %v", err)
	}

	for z := 0; z < depth; z++ {
		slice, err := viewer.ExtractSlice("z", z)
		if err != nil {
			t.Fatalf("Failed to extract Z slice at position %d: %v", z, err)
		}

		bounds := slice.Bounds()
		if bounds.Dx() != width || bounds.Dy() != height {
			t.Errorf("Expected Z slice dimensions %dx%d, got %dx%d",
				width, height, bounds.Dx(), bounds.Dy())
		}

		gray16Img, ok := slice.(*image.Gray16)
		if !ok {
			t.Fatalf("Expected *image.Gray16, got %T", slice)
		}
		want := []uint16{0, 16384, 32768, 49151, 65535}[z]
		got := gray16Img.Gray16At(width/2, height/2).Y
		if diff := int(got) - int(want); diff < -1 || diff > 1 {
			t.Errorf("Expected Z slice value ~%d at center, got %d", want, got)
		}
	}

	sliceX, err := viewer.ExtractSlice("x", width/2)
	if err != nil {
		t.Fatalf("Failed to extract X slice: %v", err)
	}
	if b := sliceX.Bounds(); b.Dx() != depth || b.Dy() != height {
		t.Errorf("Expected X slice dimensions %dx%d, got %dx%d", depth, height, b.Dx(), b.Dy())
	}

	sliceY, err := viewer.ExtractSlice("y", height/2)
	if err != nil {
		t.Fatalf("Failed to extract Y slice: %v", err)
	}
	if b := sliceY.Bounds(); b.Dx() != width || b.Dy() != depth {
		t.Errorf("Expected Y slice dimensions %dx%d, got %dx%d", width, depth, b.Dx(), b.Dy())
	}

	if _, err := viewer.ExtractSlice("invalid", 0); err == nil {
		t.Error("Expected error for invalid axis, got nil")
	}
	if _, err := viewer.ExtractSlice("z", depth+1); err == nil {
		t.Error("Expected error for out of bounds position, got nil")
	}
}

// TestWindow verifies that values outside the window saturate
func TestWindow(t *testing.T) {
	img := createVolume(t, volume.NewSize(3, 1, 1), func(x, y, z, tp int) float64 {
		return []float64{-10, 5, 50}[x]
	})
	viewer, err := NewViewer(img, 0)
	if err != nil {
		t.Fatalf("NewViewer failed: %v", err)
	}
	if err := viewer.SetWindow(0, 10); err != nil {
		t.Fatalf("SetWindow failed: %v", err)
	}
	slice, _ := viewer.ExtractSlice("z", 0)
	g := slice.(*image.Gray16)
	for x, want := range []uint16{0, 32768, 65535} {
		if got := g.Gray16At(x, 0).Y; got != want {
			t.Errorf("Expected pixel %d to be %d, got %d", x, want, got)
		}
	}
	if err := viewer.SetWindow(1, 0); err == nil {
		t.Error("Expected error for an empty window, got nil")
	}
}

// TestExtractRegion verifies that 3D regions are correctly extracted
func TestExtractRegion(t *testing.T) {
	width, height, depth := 10, 10, 5
	pattern := func(x, y, z, tp int) float64 { return float64(x + 10*y + 100*z) }
	viewer, err := NewViewer(createVolume(t, volume.NewSize(width, height, depth), pattern), 0)
	if err != nil {
		t.Fatalf("NewViewer failed: %v", err)
	}

	startX, startY, startZ := 2, 3, 1
	sizeX, sizeY, sizeZ := 4, 3, 2
	region, err := viewer.ExtractRegion(startX, startY, startZ, sizeX, sizeY, sizeZ)
	if err != nil {
		t.Fatalf("Failed to extract region: %v", err)
	}
	if len(region) != sizeX*sizeY*sizeZ {
		t.Errorf("Expected region size %d, got %d", sizeX*sizeY*sizeZ, len(region))
	}
	for z := 0; z < sizeZ; z++ {
		for y := 0; y < sizeY; y++ {
			for x := 0; x < sizeX; x++ {
				want := pattern(startX+x, startY+y, startZ+z, 0)
				if got := region[z*sizeX*sizeY+y*sizeX+x]; got != want {
					t.Errorf("Region value mismatch at (%d,%d,%d): expected %f, got %f", x, y, z, want, got)
				}
			}
		}
	}

	if _, err := viewer.ExtractRegion(-1, 0, 0, 1, 1, 1); err == nil {
		t.Error("Expected error for negative start coordinate, got nil")
	}
	if _, err := viewer.ExtractRegion(0, 0, 0, 0, 1, 1); err == nil {
		t.Error("Expected error for zero size, got nil")
	}
	if _, err := viewer.ExtractRegion(width-1, 0, 0, 2, 1, 1); err == nil {
		t.Error("Expected error for region extending beyond volume, got nil")
	}
}

// TestSaveSliceSequence verifies that a sequence of slices can be saved
func TestSaveSliceSequence(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping file I/O test in short mode")
	}

	width, height, depth := 5, 5, 3
	img := createVolume(t, volume.NewSize(width, height, depth), func(x, y, z, tp int) float64 {
		return float64(x * y)
	})
	viewer, err := NewViewer(img, 0)
	if err != nil {
		t.Fatalf("NewViewer failed: %v", err)
	}

	outputDir := filepath.Join(t.TempDir(), "slices")
	n, err := viewer.SaveSliceSequence("z", outputDir)
	if err != nil {
		t.Fatalf("Failed to save slice sequence: %v", err)
	}
	if n != depth {
		t.Errorf("Expected %d files, got %d", depth, n)
	}
	for z := 0; z < depth; z++ {
		filename := filepath.Join(outputDir, fmt.Sprintf("slice_z_%03d.jpg", z))
		if _, err := os.Stat(filename); os.IsNotExist(err) {
			t.Errorf("Expected slice file does not exist: %s", filename)
		}
	}

	if _, err := viewer.SaveSliceSequence("invalid", outputDir); err == nil {
		t.Error("Expected error for invalid axis, got nil")
	}
}
