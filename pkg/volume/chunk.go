package volume

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"mrivista/pkg/diag"
	"mrivista/pkg/propmap"
	"mrivista/pkg/value"
)

// Property names every chunk carries, plus the acquisition properties the
// splice and codec code maintain.
const (
	PropVoxelSize         = "voxelSize"
	PropReadVec           = "readVec"
	PropPhaseVec          = "phaseVec"
	PropSliceVec          = "sliceVec"
	PropIndexOrigin       = "indexOrigin"
	PropAcquisitionNumber = "acquisitionNumber"
	PropAcquisitionTime   = "acquisitionTime"
	PropRepetitionTime    = "repetitionTime"
	PropSequenceNumber    = "sequenceNumber"
)

// DefaultMaxVoxels bounds the allocation of a single chunk.
const DefaultMaxVoxels = 1 << 30

type chunkOptions struct {
	maxVoxels int
}

// Option configures NewChunk.
type Option func(*chunkOptions)

// WithMaxVoxels overrides DefaultMaxVoxels. Zero or less disables the bound.
func WithMaxVoxels(n int) Option {
	return func(o *chunkOptions) {
		o.maxVoxels = n
	}
}

// Chunk is a contiguous voxel buffer of one element type with its own
// properties. A Chunk is not safe for concurrent mutation.
type Chunk struct {
	size  Size
	data  any
	props *propmap.Map
}

// NewChunk allocates a zeroed chunk of type t and sets the mandatory geometry
// to an axial unit grid at the origin.
func NewChunk(t value.TypeID, size Size, opts ...Option) (*Chunk, error) {
	o := chunkOptions{maxVoxels: DefaultMaxVoxels}
	for _, opt := range opts {
		opt(&o)
	}
	if err := size.Validate(o.maxVoxels); err != nil {
		return nil, err
	}
	buf, err := makeBuffer(t, size.Voxels())
	if err != nil {
		return nil, err
	}
	return newChunk(buf, size), nil
}

// NewChunkFrom wraps data without copying. len(data) must match size.
func NewChunkFrom[T Element](data []T, size Size) (*Chunk, error) {
	if err := size.Validate(0); err != nil {
		return nil, err
	}
	if len(data) != size.Voxels() {
		return nil, fmt.Errorf("%d voxels for size %s: %w", len(data), size, ErrInvalidShape)
	}
	return newChunk(data, size), nil
}

func newChunk(buf any, size Size) *Chunk {
	c := &Chunk{size: size, data: buf, props: propmap.New()}
	read, phase, slice := Axial.Vectors()
	propmap.Put(c.props, PropVoxelSize, value.Vector4{1, 1, 1, 0})
	propmap.Put(c.props, PropReadVec, Vec4(read))
	propmap.Put(c.props, PropPhaseVec, Vec4(phase))
	propmap.Put(c.props, PropSliceVec, Vec4(slice))
	propmap.Put(c.props, PropIndexOrigin, value.Vector4{})
	propmap.Put[uint32](c.props, PropAcquisitionNumber, 0)
	return c
}

// TypeID returns the element type.
func (c *Chunk) TypeID() value.TypeID { return bufferType(c.data) }

// Size returns the extents.
func (c *Chunk) Size() Size { return c.size }

// Props returns the chunk's own property map. Edits are visible to the chunk.
func (c *Chunk) Props() *propmap.Map { return c.props }

// Buffer returns the underlying slice, e.g. []int16. It is shared, not copied.
func (c *Chunk) Buffer() any { return c.data }

// Data returns the typed buffer.
func Data[T Element](c *Chunk) ([]T, error) {
	d, ok := c.data.([]T)
	if !ok {
		return nil, fmt.Errorf("chunk holds %s, not %s: %w", c.TypeID(), value.TypeOf[T](), value.ErrTypeMismatch)
	}
	return d, nil
}

// Voxel returns one element. The coordinates are not range checked beyond
// the buffer bounds and T must match the element type; both are the caller's
// contract, violating it panics.
func Voxel[T Element](c *Chunk, x, y, z, t int) T {
	return c.data.([]T)[c.size.Index(x, y, z, t)]
}

// SetVoxel stores one element under the same contract as Voxel.
func SetVoxel[T Element](c *Chunk, x, y, z, t int, v T) {
	c.data.([]T)[c.size.Index(x, y, z, t)] = v
}

// Float64At reads any element type as float64.
func (c *Chunk) Float64At(x, y, z, t int) float64 {
	return getFloat(c.data, c.size.Index(x, y, z, t))
}

// SetFloat64At stores f, rounding and clamping it for integer chunks.
func (c *Chunk) SetFloat64At(x, y, z, t int, f float64) {
	setFloat(c.data, c.size.Index(x, y, z, t), f)
}

// MinMax returns the smallest and largest element.
func (c *Chunk) MinMax() (float64, float64) {
	return bufferMinMax(c.data)
}

// Clone returns a deep copy of buffer and properties.
func (c *Chunk) Clone() *Chunk {
	return &Chunk{size: c.size, data: cloneBuffer(c.data), props: c.props.Clone()}
}

func (c *Chunk) vec(path string) r3.Vec {
	v, err := propmap.GetAs[value.Vector4](c.props, path)
	if err != nil {
		return r3.Vec{}
	}
	return Vec3(v)
}

// VoxelSize returns the voxel extent in mm.
func (c *Chunk) VoxelSize() r3.Vec { return c.vec(PropVoxelSize) }

// ReadVec returns the direction of the first dimension.
func (c *Chunk) ReadVec() r3.Vec { return c.vec(PropReadVec) }

// PhaseVec returns the direction of the second dimension.
func (c *Chunk) PhaseVec() r3.Vec { return c.vec(PropPhaseVec) }

// SliceVec returns the direction of the third dimension.
func (c *Chunk) SliceVec() r3.Vec { return c.vec(PropSliceVec) }

// IndexOrigin returns the position of the first voxel.
func (c *Chunk) IndexOrigin() r3.Vec { return c.vec(PropIndexOrigin) }

// SetIndexOrigin replaces the position of the first voxel.
func (c *Chunk) SetIndexOrigin(o r3.Vec) {
	propmap.Put(c.props, PropIndexOrigin, Vec4(o))
}

// Orientation classifies the chunk's orientation vectors.
func (c *Chunk) Orientation() (Orientation, error) {
	return ClassifyOrientation(c.ReadVec(), c.PhaseVec(), c.SliceVec())
}

// AcquisitionNumber returns the acquisition number, 0 if unset.
func (c *Chunk) AcquisitionNumber() uint32 {
	n, _ := propmap.GetAs[uint32](c.props, PropAcquisitionNumber)
	return n
}

// Slice copies the hyperplane at index along dim into a chunk of extent 1 on
// that axis. Its properties are those of c with the placement of that
// hyperplane:
//
//   - read, phase: indexOrigin moves by index*voxelSize along the axis vector
//   - slice: indexOrigin moves by SliceOffset of the chunk's orientation,
//     acquisitionNumber grows by index
//   - time: indexOrigin stays, acquisitionNumber grows by index times the slice
//     count, acquisitionTime by index*repetitionTime when both are known
func (c *Chunk) Slice(dim, index int) (*Chunk, error) {
	if dim < 0 || dim >= NDims {
		return nil, fmt.Errorf("slice along %s: %w", DimName(dim), ErrInvalidShape)
	}
	if index < 0 || index >= c.size[dim] {
		return nil, fmt.Errorf("slice %d along %s of extent %d: %w", index, DimName(dim), c.size[dim], ErrInvalidShape)
	}

	props := c.props.Clone()
	origin := c.IndexOrigin()
	voxel := c.VoxelSize()
	acq := c.AcquisitionNumber()
	switch dim {
	case ReadDim:
		origin = r3.Add(origin, r3.Scale(float64(index)*voxel.X, c.ReadVec()))
	case PhaseDim:
		origin = r3.Add(origin, r3.Scale(float64(index)*voxel.Y, c.PhaseVec()))
	case SliceDim:
		o, err := c.Orientation()
		if err != nil {
			return nil, fmt.Errorf("slice along %s: %w", DimName(dim), err)
		}
		origin = r3.Add(origin, SliceOffset(o, index, voxel.Z))
		acq += uint32(index)
	case TimeDim:
		acq += uint32(index * c.size[SliceDim])
		tr, errTR := propmap.GetAs[float64](props, PropRepetitionTime)
		at, errAT := props.Get(PropAcquisitionTime)
		if errTR == nil && errAT == nil {
			if f, err := at.Float64(); err == nil {
				if shifted, err := value.Of(f + float64(index)*tr).CastTo(at.TypeID()); err == nil {
					props.Set(PropAcquisitionTime, shifted)
				}
			}
		}
	}
	propmap.Put(props, PropIndexOrigin, Vec4(origin))
	propmap.Put(props, PropAcquisitionNumber, acq)

	ns := c.size
	ns[dim] = 1
	buf, _ := makeBuffer(c.TypeID(), ns.Voxels())
	for t := 0; t < ns[TimeDim]; t++ {
		for z := 0; z < ns[SliceDim]; z++ {
			for y := 0; y < ns[PhaseDim]; y++ {
				src := [NDims]int{0, y, z, t}
				src[dim] = index
				n := ns[ReadDim]
				if dim == ReadDim {
					n = 1
				}
				copyRun(buf, ns.Index(0, y, z, t), c.data, c.size.Index(src[0], src[1], src[2], src[3]), n)
			}
		}
	}
	return &Chunk{size: ns, data: buf, props: props}, nil
}

// Splice decomposes c along dim into size[dim] chunks in increasing index
// order, each placed as described for Slice.
func (c *Chunk) Splice(dim int) ([]*Chunk, error) {
	if dim < 0 || dim >= NDims {
		return nil, fmt.Errorf("splice along %s: %w", DimName(dim), ErrInvalidShape)
	}
	out := make([]*Chunk, 0, c.size[dim])
	for i := 0; i < c.size[dim]; i++ {
		s, err := c.Slice(dim, i)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// Scaling returns the linear map (v*scale + offset) that brings the value range
// [lo, hi] into the range of t. Ranges that already fit map unchanged.
func Scaling(lo, hi float64, t value.TypeID) (scale, offset float64) {
	tlo, thi := value.Range(t)
	if t == value.TypeBool || (lo >= tlo && hi <= thi) {
		return 1, 0
	}
	if lo >= 0 || tlo < 0 {
		scale = math.Inf(1)
		if hi > 0 {
			scale = thi / hi
		}
		if lo < 0 {
			scale = math.Min(scale, tlo/lo)
		}
		return scale, 0
	}
	scale = thi / (hi - lo)
	return scale, -lo * scale
}

// ConvertTo returns a copy of c with element type t. Values are mapped through
// Scaling(lo, hi, t); pass the range of a whole image to convert its chunks
// consistently. Applied scaling is reported as a warning.
func (c *Chunk) ConvertTo(t value.TypeID, lo, hi float64, rep *diag.Report) (*Chunk, error) {
	if t == c.TypeID() {
		return c.Clone(), nil
	}
	n := c.size.Voxels()
	buf, err := makeBuffer(t, n)
	if err != nil {
		return nil, err
	}
	scale, offset := Scaling(lo, hi, t)
	if scale != 1 || offset != 0 {
		rep.Warnf("values in [%g, %g] do not fit %s, scaling by %g with offset %g", lo, hi, t, scale, offset)
	}
	for i := 0; i < n; i++ {
		setFloat(buf, i, getFloat(c.data, i)*scale+offset)
	}
	return &Chunk{size: c.size, data: buf, props: c.props.Clone()}, nil
}
