package vista

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"mrivista/pkg/propmap"
	"mrivista/pkg/value"
	"mrivista/pkg/volume"
)

// createTestImage returns a single chunk int16 image whose voxels hold their
// linear index
func createTestImage(t *testing.T, size volume.Size) *volume.Image {
	c, err := volume.NewChunk(value.TypeInt16, size)
	if err != nil {
		t.Fatalf("Failed to create chunk: %v", err)
	}
	data, _ := volume.Data[int16](c)
	for i := range data {
		data[i] = int16(i)
	}
	propmap.Put(c.Props(), volume.PropVoxelSize, value.Vector4{1, 1, 3, 0})
	c.SetIndexOrigin(r3.Vec{X: 10, Y: -5, Z: 2})
	img, err := volume.NewImage(c)
	if err != nil {
		t.Fatalf("Failed to create image: %v", err)
	}
	return img
}

// createSubImage returns a short image object of the given extents with the
// usual geometry attributes
func createSubImage(repn string, bands, rows, cols int, voxel, orientation string) *Object {
	attrs := NewAttrList()
	attrs.Append(attrBands, strconv.Itoa(bands))
	attrs.Append(attrRows, strconv.Itoa(rows))
	attrs.Append(attrColumns, strconv.Itoa(cols))
	attrs.Append(attrRepn, repn)
	if voxel != "" {
		attrs.Append(attrVoxel, voxel)
	}
	if orientation != "" {
		attrs.Append(attrOrientation, orientation)
	}
	attrs.Append(attrIndexOrigin, "0 0 0")
	return &Object{Type: "image", Attrs: attrs, Data: make([]byte, pixelBytes(repn, bands*rows*cols))}
}

func encodeFile(t *testing.T, objs ...*Object) *bytes.Buffer {
	f := NewFile()
	for _, o := range objs {
		f.Attrs.Append("image", o)
	}
	var buf bytes.Buffer
	if err := Encode(&buf, f); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	return &buf
}

func TestAnatomicalRoundTrip(t *testing.T) {
	img := createTestImage(t, volume.NewSize(4, 3, 2))
	var buf bytes.Buffer
	if _, err := Write(&buf, img); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	chunks, _, err := Read(&buf)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("Expected 1 chunk, got %d", len(chunks))
	}
	c := chunks[0]
	if c.Size() != volume.NewSize(4, 3, 2) {
		t.Errorf("Expected size 4x3x2x1, got %s", c.Size())
	}
	if c.TypeID() != value.TypeInt16 {
		t.Errorf("Expected int16 voxels, got %s", c.TypeID())
	}
	data, _ := volume.Data[int16](c)
	for i, v := range data {
		if v != int16(i) {
			t.Errorf("Expected voxel %d to be %d, got %d", i, i, v)
			break
		}
	}
	if v := c.VoxelSize(); v != (r3.Vec{X: 1, Y: 1, Z: 3}) {
		t.Errorf("Expected voxel size 1 1 3, got %v", v)
	}
	if o := c.IndexOrigin(); o != (r3.Vec{X: 10, Y: -5, Z: 2}) {
		t.Errorf("Expected origin 10 -5 2, got %v", o)
	}
	read, phase, slice := volume.Axial.Vectors()
	if c.ReadVec() != read || c.PhaseVec() != phase || c.SliceVec() != slice {
		t.Errorf("Expected axial vectors, got %v %v %v", c.ReadVec(), c.PhaseVec(), c.SliceVec())
	}
	if seq, _ := propmap.GetAs[uint32](c.Props(), volume.PropSequenceNumber); seq != 0 {
		t.Errorf("Expected sequence number 0, got %d", seq)
	}
}

func TestRoundTripTypes(t *testing.T) {
	for _, typ := range []value.TypeID{value.TypeBool, value.TypeUint8, value.TypeInt8, value.TypeInt32, value.TypeFloat32, value.TypeFloat64} {
		t.Run(typ.String(), func(t *testing.T) {
			c, err := volume.NewChunk(typ, volume.NewSize(3, 3))
			if err != nil {
				t.Fatalf("Failed to create chunk: %v", err)
			}
			c.SetFloat64At(1, 1, 0, 0, 1)
			c.SetFloat64At(2, 0, 0, 0, 1)
			img, _ := volume.NewImage(c)

			var buf bytes.Buffer
			if _, err := Write(&buf, img, WithDialect(DialectAnatomical)); err != nil {
				t.Fatalf("Write failed: %v", err)
			}
			chunks, _, err := Read(&buf, WithDialect(DialectAnatomical))
			if err != nil {
				t.Fatalf("Read failed: %v", err)
			}
			got := chunks[0]
			if got.TypeID() != typ {
				t.Errorf("Expected %s, got %s", typ, got.TypeID())
			}
			for _, p := range [][2]int{{1, 1}, {2, 0}, {0, 0}} {
				if a, b := got.Float64At(p[0], p[1], 0, 0), c.Float64At(p[0], p[1], 0, 0); a != b {
					t.Errorf("Expected voxel %v to be %g, got %g", p, b, a)
				}
			}
		})
	}
}

func TestUint16FallsBack(t *testing.T) {
	c, _ := volume.NewChunk(value.TypeUint16, volume.NewSize(2, 2))
	c.SetFloat64At(1, 0, 0, 0, 500)
	img, _ := volume.NewImage(c)

	var buf bytes.Buffer
	rep, err := Write(&buf, img)
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if len(rep.Warnings()) == 0 {
		t.Errorf("Expected a fallback warning")
	}
	chunks, _, err := Read(&buf)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if chunks[0].TypeID() != value.TypeInt16 || chunks[0].Float64At(1, 0, 0, 0) != 500 {
		t.Errorf("Expected int16 voxel 500, got %s %g", chunks[0].TypeID(), chunks[0].Float64At(1, 0, 0, 0))
	}
}

func TestDetectDialect(t *testing.T) {
	var six []*Object
	for i := 0; i < 6; i++ {
		six = append(six, createSubImage(RepnShort, 1, 2, 2, "1 1 3", "axial"))
	}
	tests := []struct {
		name string
		objs []*Object
		want Dialect
	}{
		{"six shorts", six, DialectFunctional},
		{"one float", []*Object{createSubImage(RepnFloat, 1, 2, 2, "1 1 1", "")}, DialectMap},
		{"one short", []*Object{createSubImage(RepnShort, 1, 2, 2, "1 1 1", "")}, DialectAnatomical},
		{"two sizes", []*Object{
			createSubImage(RepnShort, 1, 2, 2, "1 1 1", ""),
			createSubImage(RepnShort, 1, 3, 3, "1 1 1", ""),
		}, DialectAnatomical},
		{"two voxel sizes", []*Object{
			createSubImage(RepnShort, 1, 2, 2, "1 1 1", ""),
			createSubImage(RepnShort, 1, 2, 2, "1 1 2", ""),
		}, DialectAnatomical},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := Parse(encodeFile(t, tt.objs...).Bytes())
			if err != nil {
				t.Fatalf("Parse failed: %v", err)
			}
			got, err := DetectDialect(f)
			if err != nil {
				t.Fatalf("DetectDialect failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestDetectDialectMalformed(t *testing.T) {
	obj := createSubImage(RepnShort, 1, 2, 2, "1 1 1", "")
	obj.Attrs.Remove(attrRepn)
	f := NewFile()
	f.Attrs.Append("image", obj)
	if _, err := DetectDialect(f); !errors.Is(err, ErrMalformed) {
		t.Errorf("Expected ErrMalformed for an image without repn, got %v", err)
	}
}

func TestFunctionalOrigins(t *testing.T) {
	var objs []*Object
	for i := 0; i < 4; i++ {
		o := createSubImage(RepnShort, 2, 2, 2, "1 1 3", "axial")
		o.Attrs.Append(attrRepetitionTime, "2000")
		objs = append(objs, o)
	}
	chunks, _, err := Read(encodeFile(t, objs...))
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if len(chunks) != 8 {
		t.Fatalf("Expected 8 chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		k, tp := i/2, i%2
		if z := c.IndexOrigin().Z; z != float64(3*k) {
			t.Errorf("Expected chunk %d at z=%d, got %g", i, 3*k, z)
		}
		if acq := c.AcquisitionNumber(); acq != uint32(k+4*tp) {
			t.Errorf("Expected acquisition number %d, got %d", k+4*tp, acq)
		}
		if c.Size() != volume.NewSize(2, 2) {
			t.Errorf("Expected 2x2x1x1 chunks, got %s", c.Size())
		}
	}
	images, err := volume.BuildImages(chunks)
	if err != nil || len(images) != 1 {
		t.Fatalf("Expected one image, got %d (%v)", len(images), err)
	}
	if size, _ := images[0].Size(); size != volume.NewSize(2, 2, 4, 2) {
		t.Errorf("Expected size 2x2x4x2, got %s", size)
	}
}

func TestFunctionalRoundTrip(t *testing.T) {
	img := createTestImage(t, volume.NewSize(2, 2, 3, 4))
	chunks, _ := img.Chunks()
	propmap.Put[uint16](chunks[0].Props(), volume.PropRepetitionTime, 2000)

	var buf bytes.Buffer
	if _, err := Write(&buf, img); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	f, err := Parse(buf.Bytes())
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	subs := f.Images()
	if len(subs) != 3 {
		t.Fatalf("Expected one sub-image per slice, got %d", len(subs))
	}
	for z, s := range subs {
		if n, _ := s.Attrs.GetInt(attrBands); n != 4 {
			t.Errorf("Expected 4 bands, got %d", n)
		}
		if st, _ := s.Attrs.GetInt(attrSliceTime); st != 666*z {
			t.Errorf("Expected slice time %d, got %d", 666*z, st)
		}
	}

	images, _, err := ReadImages(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("ReadImages failed: %v", err)
	}
	if len(images) != 1 {
		t.Fatalf("Expected 1 image, got %d", len(images))
	}
	want, _, _ := img.Float64Data()
	got, size, err := images[0].Float64Data()
	if err != nil {
		t.Fatalf("Float64Data failed: %v", err)
	}
	if size != volume.NewSize(2, 2, 3, 4) {
		t.Errorf("Expected size 2x2x3x4, got %s", size)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Expected voxel %d to be %g, got %g", i, want[i], got[i])
			break
		}
	}
	back, _ := images[0].Chunks()
	if at, err := propmap.GetAs[float32](back[1].Props(), volume.PropAcquisitionTime); err != nil || at != 666 {
		t.Errorf("Expected acquisition time 666 on slice 1, got %g (%v)", at, err)
	}
	if at, _ := propmap.GetAs[float32](back[3+1].Props(), volume.PropAcquisitionTime); at != 2666 {
		t.Errorf("Expected acquisition time 2666 one repetition later, got %g", at)
	}
}

func TestFunctionalInconsistentOrientation(t *testing.T) {
	buf := encodeFile(t,
		createSubImage(RepnShort, 2, 2, 2, "1 1 3", "axial"),
		createSubImage(RepnShort, 2, 2, 2, "1 1 3", "sagittal"),
	)
	chunks, _, err := Read(buf, WithDialect(DialectFunctional))
	if !errors.Is(err, ErrInconsistentGeometry) {
		t.Errorf("Expected ErrInconsistentGeometry, got %v", err)
	}
	if len(chunks) != 0 {
		t.Errorf("Expected no chunks, got %d", len(chunks))
	}
}

func TestFunctionalMissingOrientation(t *testing.T) {
	buf := encodeFile(t,
		createSubImage(RepnShort, 2, 2, 2, "1 1 3", "axial"),
		createSubImage(RepnShort, 2, 2, 2, "1 1 3", ""),
	)
	if _, _, err := Read(buf); !errors.Is(err, ErrMissingGeometry) {
		t.Errorf("Expected ErrMissingGeometry, got %v", err)
	}
}

func TestFunctionalResidualImages(t *testing.T) {
	buf := encodeFile(t,
		createSubImage(RepnShort, 1, 2, 2, "1 1 3", "axial"),
		createSubImage(RepnShort, 1, 2, 2, "1 1 3", "axial"),
		createSubImage(RepnUByte, 3, 4, 4, "1 1 1", "axial"),
	)
	chunks, _, err := Read(buf)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if len(chunks) != 3 {
		t.Fatalf("Expected 3 chunks, got %d", len(chunks))
	}
	last := chunks[2]
	if last.TypeID() != value.TypeUint8 {
		t.Errorf("Expected the residual image as uint8, got %s", last.TypeID())
	}
	if seq, _ := propmap.GetAs[uint32](last.Props(), volume.PropSequenceNumber); seq != 1 {
		t.Errorf("Expected residual sequence number 1, got %d", seq)
	}
}

func TestMapDialect(t *testing.T) {
	buf := encodeFile(t,
		createSubImage(RepnShort, 1, 2, 2, "1 1 1", ""),
		createSubImage(RepnFloat, 1, 3, 3, "1 1 1", ""),
	)
	chunks, rep, err := Read(buf, WithDialect(DialectMap))
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if len(chunks) != 1 || chunks[0].TypeID() != value.TypeFloat32 {
		t.Fatalf("Expected one float chunk, got %d", len(chunks))
	}
	if len(rep.Warnings()) != 1 {
		t.Errorf("Expected one warning about discarded images, got %v", rep.Warnings())
	}

	buf = encodeFile(t, createSubImage(RepnShort, 1, 2, 2, "1 1 1", ""))
	if _, _, err := Read(buf, WithDialect(DialectMap)); !errors.Is(err, ErrNoUsableImage) {
		t.Errorf("Expected ErrNoUsableImage, got %v", err)
	}
}

func TestAnatomicalSkipsUnsupported(t *testing.T) {
	odd := createSubImage(RepnShort, 1, 2, 2, "1 1 1", "")
	odd.Attrs.Set(attrRepn, "complex")
	buf := encodeFile(t, odd, createSubImage(RepnUByte, 1, 2, 2, "1 1 1", ""))
	chunks, rep, err := Read(buf)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if len(chunks) != 1 || len(rep.Warnings()) != 1 {
		t.Errorf("Expected 1 chunk and 1 warning, got %d and %v", len(chunks), rep.Warnings())
	}

	buf = encodeFile(t, odd)
	if _, _, err := Read(buf); !errors.Is(err, ErrNothingLoaded) {
		t.Errorf("Expected ErrNothingLoaded, got %v", err)
	}
}

func TestHeaderProperties(t *testing.T) {
	img := createTestImage(t, volume.NewSize(2, 2, 2))
	chunks, _ := img.Chunks()
	props := chunks[0].Props()
	sel, _ := value.NewSelection(genders, "female")
	propmap.Put(props, PropSubjectGender, sel)
	propmap.Put[float32](props, PropEchoTime, 30.5)
	propmap.Put[uint16](props, PropFlipAngle, 90)
	propmap.Put(props, PropTransmitCoil, "Body")
	propmap.Put[uint16](props, volume.PropRepetitionTime, 2500)
	propmap.Put(props, BranchVista+"/scanner", "Trio")
	propmap.Put(props, HistoryPrefix+"1", "vconvert:in.dcm")
	propmap.Put(props, HistoryPrefix+"2", "vwrite:out v")

	var buf bytes.Buffer
	if _, err := Write(&buf, img); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	chunksBack, _, err := Read(&buf)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	back := chunksBack[0].Props()
	if g, _ := propmap.GetAs[string](back, PropSubjectGender); g != "female" {
		t.Errorf("Expected gender female, got %q", g)
	}
	if te, _ := propmap.GetAs[float32](back, PropEchoTime); te != 30.5 {
		t.Errorf("Expected echo time 30.5, got %g", te)
	}
	if fa, _ := propmap.GetAs[uint16](back, PropFlipAngle); fa != 90 {
		t.Errorf("Expected flip angle 90, got %d", fa)
	}
	if tc, _ := propmap.GetAs[string](back, PropTransmitCoil); tc != "Body" {
		t.Errorf("Expected transmit coil Body, got %q", tc)
	}
	if tr, _ := propmap.GetAs[uint16](back, volume.PropRepetitionTime); tr != 2500 {
		t.Errorf("Expected repetition time 2500, got %d", tr)
	}
	if s, _ := propmap.GetAs[string](back, BranchVista+"/scanner"); s != "Trio" {
		t.Errorf("Expected passthrough scanner Trio, got %q", s)
	}
	for i, want := range []string{"vconvert:in.dcm", "vwrite:out v"} {
		got, _ := propmap.GetAs[string](back, HistoryPrefix+strconv.Itoa(i+1))
		if got != want {
			t.Errorf("Expected history line %d %q, got %q", i+1, want, got)
		}
	}
}

func TestHistoryOrdinalGaps(t *testing.T) {
	img := createTestImage(t, volume.NewSize(2, 2, 1))
	chunks, _ := img.Chunks()
	props := chunks[0].Props()
	propmap.Put(props, HistoryPrefix+"7", "vtal:seven")
	propmap.Put(props, HistoryPrefix+"1", "vconvert:one")
	propmap.Put(props, HistoryPrefix+"3", "vflip:three")

	var buf bytes.Buffer
	rep, err := Write(&buf, img)
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if len(rep.Warnings()) != 0 {
		t.Errorf("Expected no warnings, got %v", rep.Warnings())
	}
	back, _, err := Read(&buf)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	for i, want := range []string{"vconvert:one", "vflip:three", "vtal:seven"} {
		got, err := propmap.GetAs[string](back[0].Props(), HistoryPrefix+strconv.Itoa(i+1))
		if err != nil || got != want {
			t.Errorf("Expected history line %d %q, got %q (%v)", i+1, want, got, err)
		}
	}
	if back[0].Props().Has(HistoryPrefix + "4") {
		t.Error("Expected exactly 3 history lines")
	}
}

func TestHistoryOverwriteReported(t *testing.T) {
	obj := createSubImage(RepnUByte, 1, 2, 2, "1 1 1", "axial")
	obj.Attrs.Append("HistoryLine1", "stale")
	history := NewAttrList()
	history.Append("vconvert", "in.dcm")
	f := NewFile()
	f.Attrs.Append(attrHistory, history)
	f.Attrs.Append("image", obj)
	var buf bytes.Buffer
	if err := Encode(&buf, f); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	chunks, rep, err := Read(&buf)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if got, _ := propmap.GetAs[string](chunks[0].Props(), HistoryPrefix+"1"); got != "vconvert:in.dcm" {
		t.Errorf("Expected the file history to win, got %q", got)
	}
	found := false
	for _, w := range rep.Warnings() {
		found = found || strings.Contains(w, HistoryPrefix+"1")
	}
	if !found {
		t.Errorf("Expected a warning naming %s, got %v", HistoryPrefix+"1", rep.Warnings())
	}
}

func TestSequenceStartZone(t *testing.T) {
	img := createTestImage(t, volume.NewSize(2, 2, 1))
	chunks, _ := img.Chunks()
	start := time.Date(2023, time.March, 14, 9, 26, 53, 0, time.FixedZone("CET", 3600))
	propmap.Put(chunks[0].Props(), PropSequenceStart, start)

	var buf bytes.Buffer
	if _, err := Write(&buf, img); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	back, _, err := Read(&buf)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	got, err := propmap.GetAs[time.Time](back[0].Props(), PropSequenceStart)
	if err != nil {
		t.Fatalf("Expected %s, got %v", PropSequenceStart, err)
	}
	if !got.Equal(start) {
		t.Errorf("Expected %s, got %s (shifted by %s)", start, got, got.Sub(start))
	}
}

func TestWriteUnsupportedType(t *testing.T) {
	c, _ := volume.NewChunk(value.TypeInt64, volume.NewSize(2, 2))
	img, _ := volume.NewImage(c)
	dir := t.TempDir()
	path := filepath.Join(dir, "out.v")

	_, err := WriteFile(path, img)
	if !errors.Is(err, ErrUnsupportedType) {
		t.Errorf("Expected ErrUnsupportedType, got %v", err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("Expected no file written, found %d entries", len(entries))
	}
}

func TestFileRoundTripCompressed(t *testing.T) {
	img := createTestImage(t, volume.NewSize(4, 4, 2))
	path := filepath.Join(t.TempDir(), "vol.v.gz")
	if _, err := WriteFile(path, img); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read back file: %v", err)
	}
	if len(raw) < 2 || raw[0] != 0x1f || raw[1] != 0x8b {
		t.Errorf("Expected gzip magic at the start of the file")
	}
	images, _, err := ReadImageFile(path)
	if err != nil {
		t.Fatalf("ReadImageFile failed: %v", err)
	}
	v, err := images[0].Float64At(3, 3, 1, 0)
	if err != nil || v != 31 {
		t.Errorf("Expected voxel value 31, got %g (%v)", v, err)
	}
}

func TestReadFileMissing(t *testing.T) {
	_, _, err := ReadFile(filepath.Join(t.TempDir(), "none.v"))
	var pe *PathError
	if !errors.As(err, &pe) || pe.Op != "open" {
		t.Errorf("Expected a PathError for open, got %v", err)
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Expected the error to unwrap to ErrNotExist, got %v", err)
	}
}

func TestParseDialect(t *testing.T) {
	for in, want := range map[string]Dialect{"": DialectAuto, "auto": DialectAuto, "map": DialectMap, "functional": DialectFunctional} {
		if got, err := ParseDialect(in); err != nil || got != want {
			t.Errorf("Expected %q for %q, got %q (%v)", want, in, got, err)
		}
	}
	if _, err := ParseDialect("nifti"); !errors.Is(err, ErrUnknownDialect) {
		t.Errorf("Expected ErrUnknownDialect, got %v", err)
	}
}
