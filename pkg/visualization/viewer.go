// Package visualization renders planar previews of volume images.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"math"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/floats"

	"mrivista/pkg/volume"
)

// Viewer holds one time point of an image as a flat intensity volume and
// windows it to the full grey range.
type Viewer struct {
	// volumeData holds the voxels, read index fastest
	volumeData []float64

	// dimensions of the volume
	width  int
	height int
	depth  int

	// voxel is the physical voxel size in mm
	voxel [3]float64

	// intensity window mapped to black and white
	low  float64
	high float64

	// Quality is the JPEG quality of saved slices
	Quality int
}

// NewViewer creates a viewer over the given time point of img
func NewViewer(img *volume.Image, timePoint int) (*Viewer, error) {
	data, size, err := img.Float64Data()
	if err != nil {
		return nil, err
	}
	if timePoint < 0 || timePoint >= size[volume.TimeDim] {
		return nil, fmt.Errorf("time point %d outside 0..%d: %w", timePoint, size[volume.TimeDim]-1, volume.ErrInvalidShape)
	}
	n := size[volume.ReadDim] * size[volume.PhaseDim] * size[volume.SliceDim]
	v := &Viewer{
		volumeData: data[timePoint*n : (timePoint+1)*n],
		width:      size[volume.ReadDim],
		height:     size[volume.PhaseDim],
		depth:      size[volume.SliceDim],
		Quality:    90,
	}
	chunks, err := img.Chunks()
	if err != nil {
		return nil, err
	}
	vs := chunks[0].VoxelSize()
	v.voxel = [3]float64{vs.X, vs.Y, vs.Z}
	v.low, v.high = floats.Min(v.volumeData), floats.Max(v.volumeData)
	return v, nil
}

// Dimensions returns the width, height and depth in voxels
func (v *Viewer) Dimensions() (int, int, int) {
	return v.width, v.height, v.depth
}

// SetWindow changes the intensity range mapped to black and white
func (v *Viewer) SetWindow(low, high float64) error {
	if high < low {
		return fmt.Errorf("window [%g, %g] is empty", low, high)
	}
	v.low, v.high = low, high
	return nil
}

// Window returns the intensity range mapped to black and white
func (v *Viewer) Window() (float64, float64) {
	return v.low, v.high
}

func (v *Viewer) grey(f float64) color.Gray16 {
	if v.high <= v.low {
		return color.Gray16{}
	}
	s := (f - v.low) / (v.high - v.low)
	return color.Gray16{Y: uint16(math.Max(0, math.Min(65535, math.Round(s*65535))))}
}

// ExtractSlice extracts a 2D slice from the volume along the specified axis
func (v *Viewer) ExtractSlice(axis string, position int) (image.Image, error) {
	if position < 0 {
		return nil, fmt.Errorf("position must be non-negative")
	}

	var img *image.Gray16

	switch axis {
	case "x", "X":
		// Extract slice along YZ plane
		if position >= v.width {
			return nil, fmt.Errorf("position %d exceeds width %d", position, v.width)
		}

		img = image.NewGray16(image.Rect(0, 0, v.depth, v.height))
		for y := 0; y < v.height; y++ {
			for z := 0; z < v.depth; z++ {
				idx := z*v.width*v.height + y*v.width + position
				img.SetGray16(z, y, v.grey(v.volumeData[idx]))
			}
		}

	case "y", "Y":
		// Extract slice along XZ plane
		if position >= v.height {
			return nil, fmt.Errorf("position %d exceeds height %d", position, v.height)
		}

		img = image.NewGray16(image.Rect(0, 0, v.width, v.depth))
		for z := 0; z < v.depth; z++ {
			for x := 0; x < v.width; x++ {
				idx := z*v.width*v.height + position*v.width + x
				img.SetGray16(x, z, v.grey(v.volumeData[idx]))
			}
		}

	case "z", "Z":
		// Extract slice along XY plane
		if position >= v.depth {
			return nil, fmt.Errorf("position %d exceeds depth %d", position, v.depth)
		}

		img = image.NewGray16(image.Rect(0, 0, v.width, v.height))
		for y := 0; y < v.height; y++ {
			for x := 0; x < v.width; x++ {
				idx := position*v.width*v.height + y*v.width + x
				img.SetGray16(x, y, v.grey(v.volumeData[idx]))
			}
		}

	default:
		return nil, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	return img, nil
}

// ExtractRegion extracts a 3D subregion from the volume
func (v *Viewer) ExtractRegion(startX, startY, startZ, sizeX, sizeY, sizeZ int) ([]float64, error) {
	if startX < 0 || startY < 0 || startZ < 0 {
		return nil, fmt.Errorf("start coordinates must be non-negative")
	}

	if sizeX <= 0 || sizeY <= 0 || sizeZ <= 0 {
		return nil, fmt.Errorf("size dimensions must be positive")
	}

	if startX+sizeX > v.width || startY+sizeY > v.height || startZ+sizeZ > v.depth {
		return nil, fmt.Errorf("region extends beyond volume boundaries")
	}

	region := make([]float64, sizeX*sizeY*sizeZ)
	for z := 0; z < sizeZ; z++ {
		for y := 0; y < sizeY; y++ {
			src := (startZ+z)*v.width*v.height + (startY+y)*v.width + startX
			copy(region[z*sizeX*sizeY+y*sizeX:], v.volumeData[src:src+sizeX])
		}
	}

	return region, nil
}

// PixelSpacing returns the physical size in mm of a pixel of a slice along axis,
// horizontal first
func (v *Viewer) PixelSpacing(axis string) (float64, float64, error) {
	switch axis {
	case "x", "X":
		return v.voxel[2], v.voxel[1], nil
	case "y", "Y":
		return v.voxel[0], v.voxel[2], nil
	case "z", "Z":
		return v.voxel[0], v.voxel[1], nil
	}
	return 0, 0, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
}

// SaveSlice saves an extracted slice as a JPEG image
func (v *Viewer) SaveSlice(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	if err := jpeg.Encode(file, img, &jpeg.Options{Quality: v.Quality}); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// SaveSliceSequence extracts and saves every slice along the specified axis
// and returns the number of files written
func (v *Viewer) SaveSliceSequence(axis string, outputDir string) (int, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return 0, err
	}

	var maxPos int
	switch axis {
	case "x", "X":
		maxPos = v.width
	case "y", "Y":
		maxPos = v.height
	case "z", "Z":
		maxPos = v.depth
	default:
		return 0, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	for pos := 0; pos < maxPos; pos++ {
		img, err := v.ExtractSlice(axis, pos)
		if err != nil {
			return pos, err
		}

		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%s_%03d.jpg", axis, pos))
		if err := v.SaveSlice(img, filename); err != nil {
			return pos, err
		}
	}

	return maxPos, nil
}
