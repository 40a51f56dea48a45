package vista

import (
	"bytes"
	"fmt"
	"io"
	"math"

	"github.com/klauspost/compress/gzip"
	"gonum.org/v1/gonum/spatial/r3"

	"mrivista/pkg/diag"
	"mrivista/pkg/propmap"
	"mrivista/pkg/value"
	"mrivista/pkg/volume"
)

// subImage is a decoded image object.
type subImage struct {
	index int
	obj   *Object
	bands int
	rows  int
	cols  int
	repn  string
}

func newSubImage(index int, obj *Object) (*subImage, error) {
	s := &subImage{index: index, obj: obj}
	var err error
	if s.bands, err = obj.Attrs.GetInt(attrBands); err != nil {
		return nil, err
	}
	if s.rows, err = obj.Attrs.GetInt(attrRows); err != nil {
		return nil, err
	}
	if s.cols, err = obj.Attrs.GetInt(attrColumns); err != nil {
		return nil, err
	}
	var ok bool
	if s.repn, ok = obj.Attrs.GetString(attrRepn); !ok {
		return nil, fmt.Errorf("image %d has no repn: %w", index, ErrMalformed)
	}
	return s, nil
}

func (s *subImage) attr(name string) (string, bool) {
	return s.obj.Attrs.GetString(name)
}

// chunk decodes the pixels. Bands become slices, or time points when
// functional is set.
func (s *subImage) chunk(functional bool, o *options, rep *diag.Report) (*volume.Chunk, error) {
	size := volume.NewSize(s.cols, s.rows, s.bands)
	if functional {
		size = volume.NewSize(s.cols, s.rows, 1, s.bands)
	}
	if err := size.Validate(o.maxVoxels); err != nil {
		return nil, fmt.Errorf("image %d: %w", s.index, err)
	}
	buf, err := decodePixels(s.obj.Data, s.repn, size.Voxels())
	if err != nil {
		return nil, fmt.Errorf("image %d: %w", s.index, err)
	}
	c, err := wrapBuffer(buf, size)
	if err != nil {
		return nil, fmt.Errorf("image %d: %w", s.index, err)
	}
	applyHeader(c, s.obj.Attrs, rep)
	return c, nil
}

func wrapBuffer(buf interface{}, size volume.Size) (*volume.Chunk, error) {
	switch b := buf.(type) {
	case []bool:
		return volume.NewChunkFrom(b, size)
	case []uint8:
		return volume.NewChunkFrom(b, size)
	case []int8:
		return volume.NewChunkFrom(b, size)
	case []int16:
		return volume.NewChunkFrom(b, size)
	case []int32:
		return volume.NewChunkFrom(b, size)
	case []float32:
		return volume.NewChunkFrom(b, size)
	case []float64:
		return volume.NewChunkFrom(b, size)
	}
	return nil, fmt.Errorf("buffer %T: %w", buf, ErrUnsupportedType)
}

// Read decodes a container from r into chunks, following the dialect given
// with WithDialect or detected from the sub-images. Gzip input is
// recognized. The report carries the diagnostics of the call.
func Read(r io.Reader, opts ...Option) ([]*volume.Chunk, *diag.Report, error) {
	o, rep := applyOptions(opts)
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, rep, err
	}
	if len(data) >= 2 && data[0] == 0x1f && data[1] == 0x8b {
		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, rep, fmt.Errorf("gzip: %w", err)
		}
		if data, err = io.ReadAll(zr); err != nil {
			return nil, rep, fmt.Errorf("gzip: %w", err)
		}
	}
	f, err := Parse(data)
	if err != nil {
		return nil, rep, err
	}
	chunks, err := decodeChunks(f, o, rep)
	return chunks, rep, err
}

// ReadImages reads and groups the chunks into images by sequence number.
func ReadImages(r io.Reader, opts ...Option) ([]*volume.Image, *diag.Report, error) {
	chunks, rep, err := Read(r, opts...)
	if err != nil {
		return nil, rep, err
	}
	images, err := volume.BuildImages(chunks)
	return images, rep, err
}

// DetectDialect applies the autodetection rules to a parsed container.
func DetectDialect(f *File) (Dialect, error) {
	subs, err := subImages(f)
	if err != nil {
		return DialectAuto, err
	}
	return detect(subs, nil), nil
}

// attachHistory copies the file history onto c. History wins over header
// attributes stored at the same path, and every such collision is reported.
func attachHistory(c *volume.Chunk, history *propmap.Map, index int, rep *diag.Report) {
	for _, path := range c.Props().Join(history, true) {
		rep.Warnf("image %d: history entry %s overwrites a header attribute", index, path)
	}
}

func subImages(f *File) ([]*subImage, error) {
	var subs []*subImage
	for i, obj := range f.Images() {
		s, err := newSubImage(i, obj)
		if err != nil {
			return nil, err
		}
		subs = append(subs, s)
	}
	return subs, nil
}

func detect(subs []*subImage, rep *diag.Report) Dialect {
	if len(subs) > 1 {
		shorts := 0
		voxels := make(map[string]bool)
		rows := make(map[int]bool)
		cols := make(map[int]bool)
		for _, s := range subs {
			if s.repn != RepnShort {
				continue
			}
			shorts++
			rows[s.rows] = true
			cols[s.cols] = true
			if v, ok := s.attr(attrVoxel); ok {
				voxels[v] = true
			}
		}
		if shorts > 1 && len(voxels) == 1 && len(rows) == 1 && len(cols) == 1 {
			rep.Infof("%d short images share one geometry, assuming functional data", shorts)
			return DialectFunctional
		}
		rep.Infof("%d images found, assuming a set of anatomical images", len(subs))
		return DialectAnatomical
	}
	if len(subs) == 1 && subs[0].repn == RepnFloat {
		rep.Infof("single float image found, assuming a statistical map")
		return DialectMap
	}
	rep.Infof("assuming an anatomical image")
	return DialectAnatomical
}

func decodeChunks(f *File, o *options, rep *diag.Report) ([]*volume.Chunk, error) {
	subs, err := subImages(f)
	if err != nil {
		return nil, err
	}
	if len(subs) == 0 {
		return nil, fmt.Errorf("file holds no images: %w", ErrNothingLoaded)
	}
	rep.Infof("found %d images", len(subs))
	history := readHistory(f)

	dialect := o.dialect
	if dialect == DialectAuto {
		dialect = detect(subs, rep)
	}

	var chunks []*volume.Chunk
	switch dialect {
	case DialectFunctional:
		chunks, err = readFunctional(subs, history, o, rep)
	case DialectMap:
		chunks, err = readMap(subs, history, o, rep)
	case DialectAnatomical:
		chunks, err = readAnatomical(subs, history, 0, o, rep)
	default:
		return nil, fmt.Errorf("%q: %w", dialect, ErrUnknownDialect)
	}
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, ErrNothingLoaded
	}
	rep.Debugf("%d chunks loaded", len(chunks))
	return chunks, nil
}

// readAnatomical loads every supported sub-image as one volume. Sequence
// numbers count the loaded chunks, starting at first.
func readAnatomical(subs []*subImage, history *propmap.Map, first uint32, o *options, rep *diag.Report) ([]*volume.Chunk, error) {
	var chunks []*volume.Chunk
	seq := first
	for _, s := range subs {
		if _, ok := TypeForRepn(s.repn); !ok {
			rep.Warnf("image %d has unsupported repn %q, discarded", s.index, s.repn)
			continue
		}
		c, err := s.chunk(false, o, rep)
		if err != nil {
			return nil, err
		}
		propmap.Put(c.Props(), volume.PropSequenceNumber, seq)
		attachHistory(c, history, s.index, rep)
		chunks = append(chunks, c)
		seq++
	}
	return chunks, nil
}

func readMap(subs []*subImage, history *propmap.Map, o *options, rep *diag.Report) ([]*volume.Chunk, error) {
	for _, s := range subs {
		if s.repn != RepnFloat {
			continue
		}
		if len(subs) > 1 {
			rep.Warnf("%d images found, using float image %d and discarding the other %d", len(subs), s.index, len(subs)-1)
		}
		c, err := s.chunk(false, o, rep)
		if err != nil {
			return nil, err
		}
		propmap.Put[uint32](c.Props(), volume.PropSequenceNumber, 0)
		attachHistory(c, history, s.index, rep)
		return []*volume.Chunk{c}, nil
	}
	return nil, fmt.Errorf("no float image among %d: %w", len(subs), ErrNoUsableImage)
}

// readFunctional rebuilds a time series from the short sub-images, one per
// slice with the time points in the bands. Other sub-images are loaded as
// anatomical volumes after it.
func readFunctional(subs []*subImage, history *propmap.Map, o *options, rep *diag.Report) ([]*volume.Chunk, error) {
	var eligible, residual []*subImage
	for _, s := range subs {
		if s.repn == RepnShort {
			eligible = append(eligible, s)
		} else {
			residual = append(residual, s)
		}
	}
	if len(eligible) == 0 {
		return nil, fmt.Errorf("no short images for functional data: %w", ErrNoUsableImage)
	}

	// geometry must agree before anything is loaded
	var orient, voxel string
	for _, s := range eligible {
		o, ok := s.attr(attrOrientation)
		if !ok {
			return nil, fmt.Errorf("image %d: %s: %w", s.index, attrOrientation, ErrMissingGeometry)
		}
		v, ok := s.attr(attrVoxel)
		if !ok {
			return nil, fmt.Errorf("image %d: %s: %w", s.index, attrVoxel, ErrMissingGeometry)
		}
		if orient == "" {
			orient, voxel = o, v
			continue
		}
		if o != orient {
			return nil, fmt.Errorf("image %d: orientation %q differs from %q: %w", s.index, o, orient, ErrInconsistentGeometry)
		}
		if v != voxel {
			return nil, fmt.Errorf("image %d: voxel %q differs from %q: %w", s.index, v, voxel, ErrInconsistentGeometry)
		}
	}
	orientation, err := volume.ParseOrientation(orient)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, ErrInconsistentGeometry)
	}
	voxelSize, err := value.As[value.Vector4](value.Of(voxel))
	if err != nil {
		return nil, fmt.Errorf("voxel %q: %w", voxel, ErrMissingGeometry)
	}

	slices := make([]*volume.Chunk, len(eligible))
	var biggest float64
	for k, s := range eligible {
		c, err := s.chunk(true, o, rep)
		if err != nil {
			return nil, err
		}
		slices[k] = c
		if c.Props().Has(volume.PropRepetitionTime) {
			continue
		}
		if t, err := propmap.GetAs[float64](c.Props(), volume.PropAcquisitionTime); err == nil && t > biggest {
			biggest = t + (t - biggest)
		}
	}

	var chunks []*volume.Chunk
	origin0 := slices[0].IndexOrigin()
	for k, c := range slices {
		if !c.Props().Has(volume.PropRepetitionTime) && biggest > 0 {
			tr := uint16(math.Min(biggest, math.MaxUint16))
			rep.Debugf("slice %d: repetition time %d derived from slice times", k, tr)
			propmap.Put(c.Props(), volume.PropRepetitionTime, tr)
		}
		tr, _ := propmap.GetAs[float64](c.Props(), volume.PropRepetitionTime)
		sliceTime, errTime := propmap.GetAs[float32](c.Props(), volume.PropAcquisitionTime)

		origin := r3.Add(origin0, volume.SliceOffset(orientation, k, voxelSize[2]))
		c.SetIndexOrigin(origin)
		attachHistory(c, history, eligible[k].index, rep)
		parts, err := c.Splice(volume.TimeDim)
		if err != nil {
			return nil, err
		}
		for t, p := range parts {
			props := p.Props()
			p.SetIndexOrigin(origin)
			propmap.Put[uint32](props, volume.PropSequenceNumber, 0)
			propmap.Put(props, volume.PropAcquisitionNumber, uint32(k+len(eligible)*t))
			if tr != 0 && errTime == nil {
				propmap.Put(props, volume.PropAcquisitionTime, sliceTime+float32(tr)*float32(t))
			}
			chunks = append(chunks, p)
		}
	}

	rest, err := readAnatomical(residual, history, 1, o, rep)
	if err != nil {
		return nil, err
	}
	return append(chunks, rest...), nil
}
