package volume

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"mrivista/pkg/value"
)

// Orientation classifies the slice direction of a voxel grid relative to the
// patient axes.
type Orientation int

const (
	OrientationUnknown Orientation = iota
	Axial
	ReversedAxial
	Sagittal
	ReversedSagittal
	Coronal
	ReversedCoronal
)

var orientationNames = map[Orientation]string{
	OrientationUnknown: "unknown",
	Axial:              "axial",
	ReversedAxial:      "reversed axial",
	Sagittal:           "sagittal",
	ReversedSagittal:   "reversed sagittal",
	Coronal:            "coronal",
	ReversedCoronal:    "reversed coronal",
}

func (o Orientation) String() string {
	if n, ok := orientationNames[o]; ok {
		return n
	}
	return fmt.Sprintf("Orientation(%d)", int(o))
}

// Base folds the reversed variants onto their forward orientation.
func (o Orientation) Base() Orientation {
	switch o {
	case ReversedAxial:
		return Axial
	case ReversedSagittal:
		return Sagittal
	case ReversedCoronal:
		return Coronal
	}
	return o
}

// Reversed reports whether o is one of the reversed variants.
func (o Orientation) Reversed() bool {
	return o != o.Base()
}

// ParseOrientation accepts the base names case sensitively, as stored in
// headers.
func ParseOrientation(s string) (Orientation, error) {
	for o, n := range orientationNames {
		if n == s && o != OrientationUnknown {
			return o, nil
		}
	}
	return OrientationUnknown, fmt.Errorf("unknown orientation %q", s)
}

// Vectors returns the canonical read, phase and slice vectors of o.
func (o Orientation) Vectors() (read, phase, slice r3.Vec) {
	switch o.Base() {
	case Sagittal:
		read, phase, slice = r3.Vec{Y: 1}, r3.Vec{Z: -1}, r3.Vec{X: 1}
	case Coronal:
		read, phase, slice = r3.Vec{X: 1}, r3.Vec{Z: -1}, r3.Vec{Y: -1}
	default:
		read, phase, slice = r3.Vec{X: 1}, r3.Vec{Y: 1}, r3.Vec{Z: 1}
	}
	if o.Reversed() {
		slice = r3.Scale(-1, slice)
	}
	return read, phase, slice
}

const orientationEpsilon = 1e-6

// ClassifyOrientation finds the dominant patient axis of the slice direction.
// A degenerate slice vector is replaced by the cross product of read and
// phase. Ties between axes, or no direction at all, yield
// ErrAmbiguousOrientation.
func ClassifyOrientation(read, phase, slice r3.Vec) (Orientation, error) {
	n := slice
	if r3.Norm(n) < orientationEpsilon {
		n = r3.Cross(read, phase)
	}
	if r3.Norm(n) < orientationEpsilon {
		return OrientationUnknown, fmt.Errorf("degenerate orientation vectors: %w", ErrAmbiguousOrientation)
	}
	n = r3.Unit(n)
	comps := [3]float64{math.Abs(n.X), math.Abs(n.Y), math.Abs(n.Z)}
	best := 0
	for i := 1; i < 3; i++ {
		if comps[i] > comps[best] {
			best = i
		}
	}
	for i := 0; i < 3; i++ {
		if i != best && comps[best]-comps[i] < orientationEpsilon {
			return OrientationUnknown, fmt.Errorf("slice direction %v has no dominant axis: %w", n, ErrAmbiguousOrientation)
		}
	}
	switch best {
	case 0:
		if n.X > 0 {
			return Sagittal, nil
		}
		return ReversedSagittal, nil
	case 1:
		if n.Y < 0 {
			return Coronal, nil
		}
		return ReversedCoronal, nil
	}
	if n.Z > 0 {
		return Axial, nil
	}
	return ReversedAxial, nil
}

// SliceOffset returns the index origin shift of the k-th slice for spacing
// sliceSize. Sagittal stacks advance on the X slot, coronal stacks retreat on
// the Y slot and axial stacks advance on the Z slot, whatever the sign of the
// slice vector.
func SliceOffset(o Orientation, k int, sliceSize float64) r3.Vec {
	d := float64(k) * sliceSize
	switch o.Base() {
	case Sagittal:
		return r3.Vec{X: d}
	case Coronal:
		return r3.Vec{Y: -d}
	}
	return r3.Vec{Z: d}
}

// Vec3 drops the fourth component of a stored vector.
func Vec3(v value.Vector4) r3.Vec {
	return r3.Vec{X: v[0], Y: v[1], Z: v[2]}
}

// Vec4 widens a vector for storage.
func Vec4(v r3.Vec) value.Vector4 {
	return value.Vector4{v.X, v.Y, v.Z, 0}
}
