package volume

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"

	"mrivista/pkg/diag"
	"mrivista/pkg/propmap"
	"mrivista/pkg/value"
)

// positionTolerance is the distance in mm below which two chunk origins are
// considered the same slice position.
const positionTolerance = 1e-3

// Image is an ordered set of equally sized chunks tiling one 4D volume.
// Chunks at distinct slice positions stack along the slice dimension, chunks
// sharing a position stack along time in acquisitionNumber order. Neighbouring
// positions must be exactly one chunk thickness apart.
type Image struct {
	chunks []*Chunk
	props  *propmap.Map

	// index, rebuilt lazily after Append
	ordered   []*Chunk
	positions int
	size      Size

	orient    Orientation
	orientKey [3]r3.Vec
	orientOK  bool
}

// NewImage builds an image from chunks and validates the tiling.
func NewImage(chunks ...*Chunk) (*Image, error) {
	img := &Image{props: propmap.New()}
	for _, c := range chunks {
		if err := img.Append(c); err != nil {
			return nil, err
		}
	}
	if err := img.index(); err != nil {
		return nil, err
	}
	return img, nil
}

// Append adds a chunk. Its extents must equal those of the chunks already
// present and its element type must be compatible with theirs. The tiling
// itself is checked once the image is used.
func (img *Image) Append(c *Chunk) error {
	if img.props == nil {
		img.props = propmap.New()
	}
	if len(img.chunks) > 0 {
		first := img.chunks[0]
		if c.Size() != first.Size() {
			return fmt.Errorf("chunk size %s differs from %s: %w", c.Size(), first.Size(), ErrGeometryMismatch)
		}
		if (c.TypeID() == value.TypeBool) != (first.TypeID() == value.TypeBool) {
			return fmt.Errorf("cannot mix %s with %s chunks: %w", c.TypeID(), first.TypeID(), ErrGeometryMismatch)
		}
	}
	img.chunks = append(img.chunks, c)
	img.ordered = nil
	return nil
}

// Len returns the number of chunks.
func (img *Image) Len() int { return len(img.chunks) }

// sortKey projects an origin on the stacking axis, following the same
// per-orientation law as SliceOffset so spliced chunks keep their order.
func sortKey(o Orientation, origin, normal r3.Vec) float64 {
	switch o.Base() {
	case Sagittal:
		return origin.X
	case Coronal:
		return -origin.Y
	case Axial:
		return origin.Z
	}
	return r3.Dot(origin, normal)
}

func (img *Image) index() error {
	if img.ordered != nil {
		return nil
	}
	if len(img.chunks) == 0 {
		return fmt.Errorf("image has no chunks: %w", ErrGeometryMismatch)
	}
	first := img.chunks[0]
	normal := first.SliceVec()
	if r3.Norm(normal) < orientationEpsilon {
		normal = r3.Cross(first.ReadVec(), first.PhaseVec())
	}
	if r3.Norm(normal) >= orientationEpsilon {
		normal = r3.Unit(normal)
	}
	o, _ := first.Orientation()

	type entry struct {
		c   *Chunk
		pos float64
		acq uint32
		grp int
	}
	entries := make([]entry, len(img.chunks))
	for i, c := range img.chunks {
		entries[i] = entry{c: c, pos: sortKey(o, c.IndexOrigin(), normal), acq: c.AcquisitionNumber()}
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].pos < entries[j].pos })
	groups := 0
	start := math.Inf(-1)
	var starts []float64
	for i := range entries {
		if entries[i].pos-start > positionTolerance {
			start = entries[i].pos
			starts = append(starts, start)
			groups++
		}
		entries[i].grp = groups - 1
	}
	cs := first.Size()
	spacing := float64(cs[SliceDim]) * first.VoxelSize().Z
	for g := 1; g < groups; g++ {
		d := starts[g] - starts[g-1]
		switch {
		case d < spacing-positionTolerance:
			return fmt.Errorf("slice positions %g and %g overlap, %g mm apart for a %g mm stack: %w", starts[g-1], starts[g], d, spacing, ErrGeometryMismatch)
		case d > spacing+positionTolerance:
			return fmt.Errorf("gap between slice positions %g and %g, %g mm apart for a %g mm stack: %w", starts[g-1], starts[g], d, spacing, ErrGeometryMismatch)
		}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].grp != entries[j].grp {
			return entries[i].grp < entries[j].grp
		}
		return entries[i].acq < entries[j].acq
	})

	perGroup := len(entries) / groups
	counts := make([]int, groups)
	for _, e := range entries {
		counts[e.grp]++
	}
	for g, n := range counts {
		if n != perGroup || perGroup*groups != len(entries) {
			return fmt.Errorf("slice position %d holds %d of %d chunks: %w", g, n, len(entries), ErrGeometryMismatch)
		}
	}
	ordered := make([]*Chunk, len(entries))
	for i, e := range entries {
		ordered[e.grp+groups*(i-e.grp*perGroup)] = e.c
	}

	img.size = Size{cs[ReadDim], cs[PhaseDim], cs[SliceDim] * groups, cs[TimeDim] * perGroup}
	img.positions = groups
	img.ordered = ordered
	return nil
}

// Size returns the extents of the whole volume.
func (img *Image) Size() (Size, error) {
	if err := img.index(); err != nil {
		return Size{}, err
	}
	return img.size, nil
}

// Chunks returns the chunks in volume order: slice position first, then time.
func (img *Image) Chunks() ([]*Chunk, error) {
	if err := img.index(); err != nil {
		return nil, err
	}
	return append([]*Chunk(nil), img.ordered...), nil
}

// TypeID returns the element type shared by all chunks or, for mixed chunks,
// the smallest type covering all of them.
func (img *Image) TypeID() value.TypeID {
	if len(img.chunks) == 0 {
		return value.TypeInvalid
	}
	types := make([]value.TypeID, 0, len(img.chunks))
	for _, c := range img.chunks {
		types = append(types, c.TypeID())
	}
	return commonType(types)
}

var promotionOrder = []value.TypeID{
	value.TypeInt8, value.TypeUint8, value.TypeInt16, value.TypeUint16,
	value.TypeInt32, value.TypeUint32, value.TypeInt64, value.TypeUint64,
	value.TypeFloat32, value.TypeFloat64,
}

func commonType(types []value.TypeID) value.TypeID {
	same := true
	anyFloat := false
	for _, t := range types {
		same = same && t == types[0]
		anyFloat = anyFloat || t.IsFloat()
	}
	if same {
		return types[0]
	}
	for _, cand := range promotionOrder {
		if anyFloat && !cand.IsFloat() {
			continue
		}
		clo, chi := value.Range(cand)
		covers := true
		for _, t := range types {
			lo, hi := value.Range(t)
			covers = covers && clo <= lo && chi >= hi
		}
		if covers {
			return cand
		}
	}
	return value.TypeFloat64
}

// ChunkFor returns the chunk holding a voxel and the voxel's coordinates
// inside it.
func (img *Image) ChunkFor(x, y, z, t int) (*Chunk, [NDims]int, error) {
	if err := img.index(); err != nil {
		return nil, [NDims]int{}, err
	}
	if !img.size.Contains(x, y, z, t) {
		return nil, [NDims]int{}, fmt.Errorf("voxel (%d,%d,%d,%d) outside %s: %w", x, y, z, t, img.size, ErrInvalidShape)
	}
	cs := img.ordered[0].Size()
	c := img.ordered[z/cs[SliceDim]+img.positions*(t/cs[TimeDim])]
	return c, [NDims]int{x, y, z % cs[SliceDim], t % cs[TimeDim]}, nil
}

// Float64At reads one voxel of any element type.
func (img *Image) Float64At(x, y, z, t int) (float64, error) {
	c, l, err := img.ChunkFor(x, y, z, t)
	if err != nil {
		return 0, err
	}
	return c.Float64At(l[0], l[1], l[2], l[3]), nil
}

// MinMax scans every chunk, whatever its element type.
func (img *Image) MinMax() (float64, float64, error) {
	if len(img.chunks) == 0 {
		return 0, 0, fmt.Errorf("min/max of empty image: %w", ErrGeometryMismatch)
	}
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, c := range img.chunks {
		clo, chi := c.MinMax()
		lo = math.Min(lo, clo)
		hi = math.Max(hi, chi)
	}
	return lo, hi, nil
}

// MainOrientation classifies the orientation vectors of the first chunk. The
// result is cached until those vectors change.
func (img *Image) MainOrientation() (Orientation, error) {
	if err := img.index(); err != nil {
		return OrientationUnknown, err
	}
	c := img.ordered[0]
	key := [3]r3.Vec{c.ReadVec(), c.PhaseVec(), c.SliceVec()}
	if img.orientOK && key == img.orientKey {
		return img.orient, nil
	}
	o, err := ClassifyOrientation(key[0], key[1], key[2])
	if err != nil {
		img.orientOK = false
		return OrientationUnknown, err
	}
	img.orient, img.orientKey, img.orientOK = o, key, true
	return o, nil
}

// Props returns the image's own property map.
func (img *Image) Props() *propmap.Map {
	if img.props == nil {
		img.props = propmap.New()
	}
	return img.props
}

// Properties returns the image level view: the leaves equal in every chunk,
// overridden by the image's own properties.
func (img *Image) Properties() *propmap.Map {
	common := propmap.New()
	if len(img.chunks) > 0 {
		first := img.chunks[0].Props()
		for _, k := range first.Keys() {
			v, _ := first.Get(k)
			shared := true
			for _, c := range img.chunks[1:] {
				o, err := c.Props().Get(k)
				if err != nil || !o.Equal(v) {
					shared = false
					break
				}
			}
			if shared {
				common.Set(k, v)
			}
		}
	}
	common.Join(img.Props(), true)
	return common
}

// Property returns an image level property.
func (img *Image) Property(path string) (value.Value, error) {
	if v, err := img.Props().Get(path); err == nil {
		return v, nil
	}
	return img.Properties().Get(path)
}

// HasProperty reports whether an image level property exists.
func (img *Image) HasProperty(path string) bool {
	_, err := img.Property(path)
	return err == nil
}

// HasBranch reports whether an image level branch exists.
func (img *Image) HasBranch(path string) bool {
	return img.Properties().HasBranch(path)
}

// Branch returns a copy of an image level branch.
func (img *Image) Branch(path string) *propmap.Map {
	return img.Properties().Branch(path)
}

// Keys lists the image level property paths.
func (img *Image) Keys() []string {
	return img.Properties().Keys()
}

// SpliceDownTo splits every chunk until none extends beyond dim. Splitting
// down to SliceDim leaves one chunk per slice and time point.
func (img *Image) SpliceDownTo(dim int) error {
	if dim < ReadDim || dim > TimeDim {
		return fmt.Errorf("splice down to %s: %w", DimName(dim), ErrInvalidShape)
	}
	chunks := img.chunks
	for d := TimeDim; d >= dim; d-- {
		var next []*Chunk
		for _, c := range chunks {
			if c.Size()[d] == 1 {
				next = append(next, c)
				continue
			}
			parts, err := c.Splice(d)
			if err != nil {
				return err
			}
			next = append(next, parts...)
		}
		chunks = next
	}
	img.chunks = chunks
	img.ordered = nil
	return img.index()
}

// As returns a copy of the image with every chunk converted to t. The whole
// image shares one scaling, derived from its value range.
func (img *Image) As(t value.TypeID, rep *diag.Report) (*Image, error) {
	chunks, err := img.Chunks()
	if err != nil {
		return nil, err
	}
	lo, hi, err := img.MinMax()
	if err != nil {
		return nil, err
	}
	out := &Image{props: img.Props().Clone()}
	warned := false
	for _, c := range chunks {
		r := rep
		if warned {
			r = nil
		}
		conv, err := c.ConvertTo(t, lo, hi, r)
		if err != nil {
			return nil, err
		}
		if s, o := Scaling(lo, hi, t); s != 1 || o != 0 {
			warned = true
		}
		out.chunks = append(out.chunks, conv)
	}
	return out, out.index()
}

// Transform returns the 4x4 matrix mapping voxel indices (i, j, k, 1) to
// physical coordinates.
func (img *Image) Transform() (*mat.Dense, error) {
	if err := img.index(); err != nil {
		return nil, err
	}
	c := img.ordered[0]
	v := c.VoxelSize()
	slice := c.SliceVec()
	if r3.Norm(slice) < orientationEpsilon {
		slice = r3.Unit(r3.Cross(c.ReadVec(), c.PhaseVec()))
	}
	cols := [4]r3.Vec{
		r3.Scale(v.X, c.ReadVec()),
		r3.Scale(v.Y, c.PhaseVec()),
		r3.Scale(v.Z, slice),
		c.IndexOrigin(),
	}
	m := mat.NewDense(4, 4, nil)
	for j, col := range cols {
		m.Set(0, j, col.X)
		m.Set(1, j, col.Y)
		m.Set(2, j, col.Z)
	}
	m.Set(3, 3, 1)
	return m, nil
}

// Float64Data copies the volume into one flat buffer, read index fastest.
func (img *Image) Float64Data() ([]float64, Size, error) {
	size, err := img.Size()
	if err != nil {
		return nil, Size{}, err
	}
	out := make([]float64, size.Voxels())
	cs := img.ordered[0].Size()
	for ci, c := range img.ordered {
		z0 := (ci % img.positions) * cs[SliceDim]
		t0 := (ci / img.positions) * cs[TimeDim]
		for t := 0; t < cs[TimeDim]; t++ {
			for z := 0; z < cs[SliceDim]; z++ {
				for y := 0; y < cs[PhaseDim]; y++ {
					for x := 0; x < cs[ReadDim]; x++ {
						out[size.Index(x, y, z0+z, t0+t)] = c.Float64At(x, y, z, t)
					}
				}
			}
		}
	}
	return out, size, nil
}

// BuildImages groups chunks by sequenceNumber, in order of first appearance,
// and builds one image per group.
func BuildImages(chunks []*Chunk) ([]*Image, error) {
	var order []uint32
	groups := make(map[uint32][]*Chunk)
	for _, c := range chunks {
		seq, _ := propmap.GetAs[uint32](c.Props(), PropSequenceNumber)
		if _, ok := groups[seq]; !ok {
			order = append(order, seq)
		}
		groups[seq] = append(groups[seq], c)
	}
	images := make([]*Image, 0, len(order))
	for _, seq := range order {
		img, err := NewImage(groups[seq]...)
		if err != nil {
			return nil, fmt.Errorf("sequence %d: %w", seq, err)
		}
		images = append(images, img)
	}
	return images, nil
}
