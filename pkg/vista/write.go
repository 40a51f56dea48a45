package vista

import (
	"fmt"
	"io"
	"strconv"

	"mrivista/pkg/diag"
	"mrivista/pkg/value"
	"mrivista/pkg/volume"
)

// Write encodes img as a Vista container. Images with more than one time point
// are written as one short sub-image per slice, the time points in the bands;
// everything else as a single sub-image. The container is built completely
// before anything is written to w.
func Write(w io.Writer, img *volume.Image, opts ...Option) (*diag.Report, error) {
	o, rep := applyOptions(opts)
	f, err := BuildFile(img, rep)
	if err != nil {
		return rep, err
	}
	level := o.compress
	if level < 0 {
		level = 0
	}
	return rep, encodeTo(w, f, level)
}

// BuildFile converts img into a container without encoding it.
func BuildFile(img *volume.Image, rep *diag.Report) (*File, error) {
	size, err := img.Size()
	if err != nil {
		return nil, err
	}
	f := NewFile()
	if size[volume.TimeDim] > 1 {
		err = addFunctional(f, img, rep)
	} else {
		err = addVolume(f, img, rep)
	}
	if err != nil {
		return nil, err
	}
	if h := historyAttrs(img, rep); h != nil {
		f.Attrs.Prepend(attrHistory, h)
	}
	return f, nil
}

func imageObject(data []byte, bands, rows, cols int, repn string, header *AttrList) *Object {
	attrs := NewAttrList()
	attrs.Append(attrBands, strconv.Itoa(bands))
	attrs.Append(attrRows, strconv.Itoa(rows))
	attrs.Append(attrColumns, strconv.Itoa(cols))
	attrs.Append(attrRepn, repn)
	for _, a := range header.Attrs() {
		attrs.Append(a.Name, a.Value)
	}
	return &Object{Type: "image", Attrs: attrs, Data: data}
}

// addFunctional writes one short sub-image per slice with nbands equal to the
// number of time points.
func addFunctional(f *File, img *volume.Image, rep *diag.Report) error {
	if img.TypeID() != value.TypeInt16 {
		rep.Infof("time series of type %s written as %s", img.TypeID(), value.TypeInt16)
	}
	conv, err := img.As(value.TypeInt16, rep)
	if err != nil {
		return err
	}
	if err := conv.SpliceDownTo(volume.SliceDim); err != nil {
		return err
	}
	size, err := conv.Size()
	if err != nil {
		return err
	}
	chunks, err := conv.Chunks()
	if err != nil {
		return err
	}
	nx, ny, nz, nt := size[volume.ReadDim], size[volume.PhaseDim], size[volume.SliceDim], size[volume.TimeDim]
	plane := nx * ny
	for z := 0; z < nz; z++ {
		pix := make([]int16, plane*nt)
		for t := 0; t < nt; t++ {
			data, err := volume.Data[int16](chunks[z+nz*t])
			if err != nil {
				return err
			}
			copy(pix[t*plane:], data)
		}
		header, err := headerAttrs(conv, chunks[z], true, z, nz, rep)
		if err != nil {
			return err
		}
		data, err := encodePixels(pix)
		if err != nil {
			return err
		}
		f.Attrs.Append("image", imageObject(data, nt, ny, nx, RepnShort, header))
	}
	rep.Debugf("wrote %d slices of %d time points", nz, nt)
	return nil
}

// addVolume writes the image as one sub-image with nbands equal to the number
// of slices.
func addVolume(f *File, img *volume.Image, rep *diag.Report) error {
	src := img.TypeID()
	target, repn, fellBack, ok := writeType(src)
	if !ok {
		return fmt.Errorf("voxel type %s: %w", src, ErrUnsupportedType)
	}
	if fellBack {
		rep.Warnf("voxel type %s has no pixel representation, writing %s", src, target)
	}
	chunks, err := img.Chunks()
	if err != nil {
		return err
	}
	if target != src || !sameType(chunks, target) {
		conv, err := img.As(target, rep)
		if err != nil {
			return err
		}
		img = conv
		if chunks, err = img.Chunks(); err != nil {
			return err
		}
	}
	size, err := img.Size()
	if err != nil {
		return err
	}
	buf, err := concat(chunks, target)
	if err != nil {
		return err
	}
	data, err := encodePixels(buf)
	if err != nil {
		return err
	}
	header, err := headerAttrs(img, chunks[0], false, 0, size[volume.SliceDim], rep)
	if err != nil {
		return err
	}
	f.Attrs.Append("image", imageObject(data, size[volume.SliceDim], size[volume.PhaseDim], size[volume.ReadDim], repn, header))
	return nil
}

func sameType(chunks []*volume.Chunk, t value.TypeID) bool {
	for _, c := range chunks {
		if c.TypeID() != t {
			return false
		}
	}
	return true
}

// concat joins the buffers of chunks ordered along the slice axis.
func concat(chunks []*volume.Chunk, t value.TypeID) (interface{}, error) {
	switch t {
	case value.TypeBool:
		return concatData[bool](chunks)
	case value.TypeUint8:
		return concatData[uint8](chunks)
	case value.TypeInt8:
		return concatData[int8](chunks)
	case value.TypeInt16:
		return concatData[int16](chunks)
	case value.TypeInt32:
		return concatData[int32](chunks)
	case value.TypeFloat32:
		return concatData[float32](chunks)
	case value.TypeFloat64:
		return concatData[float64](chunks)
	}
	return nil, fmt.Errorf("voxel type %s: %w", t, ErrUnsupportedType)
}

func concatData[T volume.Element](chunks []*volume.Chunk) ([]T, error) {
	var out []T
	for _, c := range chunks {
		data, err := volume.Data[T](c)
		if err != nil {
			return nil, err
		}
		out = append(out, data...)
	}
	return out, nil
}
