// Package volume holds voxel data: Chunks are contiguous, single typed buffers
// of up to four dimensions carrying their own property map, and an Image is an
// ordered set of Chunks tiling one rectangular volume.
//
// Dimensions are always addressed in the order read, phase, slice, time. The
// first index runs fastest in memory.
package volume

import (
	"errors"
	"fmt"
	"strings"
)

// Dimension indices.
const (
	ReadDim = iota
	PhaseDim
	SliceDim
	TimeDim
	NDims
)

var dimNames = [NDims]string{"read", "phase", "slice", "time"}

// DimName returns the name of a dimension index.
func DimName(dim int) string {
	if dim < 0 || dim >= NDims {
		return fmt.Sprintf("dim(%d)", dim)
	}
	return dimNames[dim]
}

var (
	// ErrInvalidShape is returned for zero or oversized extents.
	ErrInvalidShape = errors.New("invalid shape")
	// ErrGeometryMismatch is returned when chunks cannot tile one volume.
	ErrGeometryMismatch = errors.New("geometry mismatch")
	// ErrAmbiguousOrientation is returned when the orientation vectors have
	// no single dominant axis.
	ErrAmbiguousOrientation = errors.New("ambiguous orientation")
)

// Size holds the extent along each dimension.
type Size [NDims]int

// NewSize fills the missing trailing extents with 1.
func NewSize(extents ...int) Size {
	s := Size{1, 1, 1, 1}
	copy(s[:], extents)
	return s
}

// Voxels returns the number of voxels.
func (s Size) Voxels() int {
	n := 1
	for _, e := range s {
		n *= e
	}
	return n
}

// Index returns the linear position of a voxel.
func (s Size) Index(x, y, z, t int) int {
	return x + s[ReadDim]*(y+s[PhaseDim]*(z+s[SliceDim]*t))
}

// Coords is the inverse of Index.
func (s Size) Coords(i int) [NDims]int {
	var c [NDims]int
	for d := 0; d < NDims; d++ {
		c[d] = i % s[d]
		i /= s[d]
	}
	return c
}

// Contains reports whether the coordinates lie inside the extents.
func (s Size) Contains(x, y, z, t int) bool {
	c := [NDims]int{x, y, z, t}
	for d, v := range c {
		if v < 0 || v >= s[d] {
			return false
		}
	}
	return true
}

// Relevant returns the number of dimensions up to and including the last one
// with an extent above 1.
func (s Size) Relevant() int {
	for d := NDims - 1; d >= 0; d-- {
		if s[d] > 1 {
			return d + 1
		}
	}
	return 1
}

// Validate rejects non-positive extents and sizes above maxVoxels (0 means unbounded).
func (s Size) Validate(maxVoxels int) error {
	total := 1
	for d, e := range s {
		if e <= 0 {
			return fmt.Errorf("%s extent %d: %w", DimName(d), e, ErrInvalidShape)
		}
		if maxVoxels > 0 && total > maxVoxels/e {
			return fmt.Errorf("size %s exceeds %d voxels: %w", s, maxVoxels, ErrInvalidShape)
		}
		total *= e
	}
	return nil
}

func (s Size) String() string {
	parts := make([]string, NDims)
	for d, e := range s {
		parts[d] = fmt.Sprint(e)
	}
	return strings.Join(parts, "x")
}
