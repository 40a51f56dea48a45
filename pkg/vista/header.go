package vista

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"mrivista/pkg/diag"
	"mrivista/pkg/propmap"
	"mrivista/pkg/value"
	"mrivista/pkg/volume"
)

// Property names besides the geometry ones defined by package volume.
const (
	// BranchVista holds header attributes without a dedicated property. They
	// are written back verbatim.
	BranchVista = "Vista"
	// HistoryPrefix, followed by an ordinal starting at 1, names history
	// entries of the form "name:value".
	HistoryPrefix = BranchVista + propmap.Separator + "HistoryLine"

	PropSubjectGender = "subjectGender"
	PropEchoTime      = "echoTime"
	PropFlipAngle     = "flipAngle"
	PropTransmitCoil  = "transmitCoil"
	PropSequenceStart = "sequenceStart"
	// PropMosaicAcqTimes lists per slice acquisition times of mosaic scans.
	PropMosaicAcqTimes = "DICOM/CSAImageHeaderInfo/MosaicRefAcqTimes"
)

// Header attribute names.
const (
	attrVoxel          = "voxel"
	attrColumnVec      = "columnVec"
	attrRowVec         = "rowVec"
	attrSliceVec       = "sliceVec"
	attrIndexOrigin    = "indexOrigin"
	attrOrientation    = "orientation"
	attrRepetitionTime = "repetitionTime"
	attrRepetitionAlt  = "repetition_time"
	attrSliceTime      = "slice_time"
	attrSex            = "sex"
	attrDate           = "date"
	attrTime           = "time"
	attrHistory        = "history"

	attrBands   = "nbands"
	attrRows    = "nrows"
	attrColumns = "ncolumns"
	attrRepn    = "repn"
)

const (
	dateLayout = "2006-Jan-02"
	timeLayout = "15:04:05.999999"
)

var genders = []string{"male", "female", "other"}

func formatVec(v r3.Vec) string {
	f := func(x float64) string { return strconv.FormatFloat(x, 'g', -1, 64) }
	return f(v.X) + " " + f(v.Y) + " " + f(v.Z)
}

func shortString(f float64) (string, bool) {
	v, err := value.Of(math.Round(f)).CastTo(value.TypeInt16)
	if err != nil {
		return "", false
	}
	return v.String(), true
}

// headerAttrs builds the non structural attributes of one written sub-image.
// ref is the chunk whose origin the sub-image starts at; slice and nslices are
// used by functional output only.
func headerAttrs(img *volume.Image, ref *volume.Chunk, functional bool, slice, nslices int, rep *diag.Report) (*AttrList, error) {
	l := NewAttrList()
	props := img.Properties()

	voxel, err := propmap.GetAs[value.Vector4](props, volume.PropVoxelSize)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", volume.PropVoxelSize, ErrMissingGeometry)
	}
	l.Append(attrVoxel, formatVec(volume.Vec3(voxel)))
	for _, m := range []struct{ prop, attr string }{
		{volume.PropReadVec, attrColumnVec},
		{volume.PropPhaseVec, attrRowVec},
		{volume.PropSliceVec, attrSliceVec},
	} {
		v, err := propmap.GetAs[value.Vector4](props, m.prop)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", m.prop, ErrMissingGeometry)
		}
		l.Append(m.attr, formatVec(volume.Vec3(v)))
	}
	l.Append(attrIndexOrigin, formatVec(ref.IndexOrigin()))
	o, err := img.MainOrientation()
	if err != nil {
		return nil, fmt.Errorf("orientation: %w", err)
	}
	l.Append(attrOrientation, o.Base().String())

	if tr, err := props.Get(volume.PropRepetitionTime); err == nil {
		f, _ := tr.Float64()
		if s, ok := shortString(f); ok {
			l.Append(attrRepetitionAlt, s)
			l.Append(attrRepetitionTime, s)
		} else {
			rep.Warnf("repetition time %s does not fit a short, omitted", tr)
		}
	}

	if functional {
		l.appendSliceTime(img, ref, slice, nslices, rep)
	}

	if g, err := props.Get(PropSubjectGender); err == nil {
		l.Append(attrSex, g.String())
	}
	if te, err := propmap.GetAs[float32](props, PropEchoTime); err == nil {
		l.Append(PropEchoTime, strconv.FormatFloat(float64(te), 'g', -1, 32))
	}
	if fa, err := propmap.GetAs[int16](props, PropFlipAngle); err == nil {
		l.Append(PropFlipAngle, strconv.Itoa(int(fa)))
	}
	if tc, err := propmap.GetAs[string](props, PropTransmitCoil); err == nil {
		l.Append(PropTransmitCoil, tc)
	}
	if ts, err := propmap.GetAs[time.Time](props, PropSequenceStart); err == nil {
		ts = ts.UTC()
		l.Append(attrDate, ts.Format(dateLayout))
		l.Append(attrTime, ts.Format(timeLayout))
	}

	branch := props.Branch(BranchVista)
	for _, key := range branch.Keys() {
		if strings.HasPrefix(key, "HistoryLine") {
			continue
		}
		v, _ := branch.Get(key)
		if _, ok := RepnForType(v.TypeID()); !ok && !v.Is(value.TypeString) {
			rep.Warnf("%s/%s of type %s has no header representation, omitted", BranchVista, key, v.TypeID())
			continue
		}
		s := v.String()
		if v.Is(value.TypeBool) {
			s = "0"
			if b, _ := value.As[bool](v); b {
				s = "1"
			}
		}
		l.Append(key, s)
	}
	return l, nil
}

// appendSliceTime writes the acquisition offset of a functional slice, taken
// from a mosaic time list, the slice's own acquisition time, or interpolated
// from the repetition time, in that order.
func (l *AttrList) appendSliceTime(img *volume.Image, ref *volume.Chunk, slice, nslices int, rep *diag.Report) {
	chunks, _ := img.Chunks()
	var t float64
	if times, err := propmap.GetAs[[]float64](chunks[0].Props(), PropMosaicAcqTimes); err == nil && slice < len(times) {
		t = times[slice]
	} else if at, err := propmap.GetAs[float64](ref.Props(), volume.PropAcquisitionTime); err == nil {
		t = at
	} else if tr, err := propmap.GetAs[int64](img.Properties(), volume.PropRepetitionTime); err == nil {
		t = float64((tr / int64(nslices)) * int64(slice))
	} else {
		rep.Warnf("no repetition time, cannot interpolate slice time of slice %d", slice)
		return
	}
	if s, ok := shortString(t); ok {
		l.Append(attrSliceTime, s)
	} else {
		rep.Warnf("slice time %g of slice %d does not fit a short, omitted", t, slice)
	}
}

// historyAttrs collects the numbered history properties of img ordered by
// ordinal. Gaps in the numbering are closed.
func historyAttrs(img *volume.Image, rep *diag.Report) *AttrList {
	props := img.Properties()
	type line struct {
		ordinal int
		entry   string
	}
	var lines []line
	for _, k := range props.Keys() {
		rest, ok := strings.CutPrefix(k, HistoryPrefix)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(rest)
		if err != nil || n < 1 {
			continue
		}
		entry, err := propmap.GetAs[string](props, k)
		if err != nil {
			rep.Warnf("history entry %s is not text (%v), skipped", k, err)
			continue
		}
		lines = append(lines, line{n, entry})
	}
	if len(lines) == 0 {
		return nil
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].ordinal < lines[j].ordinal })
	h := NewAttrList()
	for _, l := range lines {
		name, val, _ := strings.Cut(l.entry, ":")
		h.Append(name, val)
	}
	return h
}

// readHistory turns a "history" attribute list into numbered properties.
func readHistory(f *File) *propmap.Map {
	m := propmap.New()
	v, ok := f.Attrs.Get(attrHistory)
	if !ok {
		return m
	}
	l, ok := v.(*AttrList)
	if !ok {
		return m
	}
	n := 0
	for _, a := range l.Attrs() {
		if s, ok := a.Value.(string); ok {
			n++
			propmap.Put(m, HistoryPrefix+strconv.Itoa(n), a.Name+":"+s)
		}
	}
	return m
}

var structural = map[string]bool{attrBands: true, attrRows: true, attrColumns: true, attrRepn: true}

// applyHeader maps the attributes of a sub-image onto chunk properties.
// Attributes without a dedicated property land in the Vista branch.
func applyHeader(c *volume.Chunk, attrs *AttrList, rep *diag.Report) {
	props := c.Props()
	var orient, date, clock string
	seen := make(map[string]bool)
	passthrough := func(name string, v interface{}) {
		flattenInto(props, BranchVista+propmap.Separator+name, v, rep)
	}

	for _, a := range attrs.Attrs() {
		if structural[a.Name] {
			continue
		}
		s, ok := a.Value.(string)
		if !ok {
			passthrough(a.Name, a.Value)
			continue
		}
		var err error
		switch a.Name {
		case attrVoxel:
			err = putParsed[value.Vector4](props, volume.PropVoxelSize, s)
		case attrColumnVec:
			err = putParsed[value.Vector4](props, volume.PropReadVec, s)
		case attrRowVec:
			err = putParsed[value.Vector4](props, volume.PropPhaseVec, s)
		case attrSliceVec:
			err = putParsed[value.Vector4](props, volume.PropSliceVec, s)
		case attrIndexOrigin:
			err = putParsed[value.Vector4](props, volume.PropIndexOrigin, s)
		case attrOrientation:
			orient = s
		case attrRepetitionTime, attrRepetitionAlt:
			err = putParsed[uint16](props, volume.PropRepetitionTime, s)
		case attrSliceTime:
			err = putParsed[float32](props, volume.PropAcquisitionTime, s)
		case PropEchoTime:
			err = putParsed[float32](props, PropEchoTime, s)
		case PropFlipAngle:
			err = putParsed[uint16](props, PropFlipAngle, s)
		case PropTransmitCoil:
			err = propmap.Put(props, PropTransmitCoil, s)
		case attrSex:
			var sel value.Selection
			if sel, err = value.NewSelection(genders, s); err == nil {
				err = propmap.Put(props, PropSubjectGender, sel)
			}
		case attrDate:
			date = s
		case attrTime:
			clock = s
		default:
			passthrough(a.Name, s)
		}
		if err != nil {
			rep.Warnf("attribute %s = %q not understood (%v), kept verbatim", a.Name, s, err)
			passthrough(a.Name, s)
			continue
		}
		seen[a.Name] = true
	}

	if date != "" {
		ts, err := value.ParseTime(strings.TrimSpace(date + " " + clock))
		if err == nil {
			propmap.Put(props, PropSequenceStart, ts)
		} else {
			passthrough(attrDate, date)
			if clock != "" {
				passthrough(attrTime, clock)
			}
		}
	} else if clock != "" {
		passthrough(attrTime, clock)
	}

	o, err := volume.ParseOrientation(orient)
	if orient != "" && err != nil {
		rep.Warnf("orientation %q not understood, kept verbatim", orient)
		passthrough(attrOrientation, orient)
	}
	if err == nil {
		read, phase, slice := o.Vectors()
		if !seen[attrColumnVec] {
			propmap.Put(props, volume.PropReadVec, volume.Vec4(read))
		}
		if !seen[attrRowVec] {
			propmap.Put(props, volume.PropPhaseVec, volume.Vec4(phase))
		}
		if !seen[attrSliceVec] {
			propmap.Put(props, volume.PropSliceVec, volume.Vec4(slice))
		}
	} else if !seen[attrSliceVec] && (seen[attrColumnVec] || seen[attrRowVec]) {
		n := r3.Cross(c.ReadVec(), c.PhaseVec())
		if r3.Norm(n) > 0 {
			propmap.Put(props, volume.PropSliceVec, volume.Vec4(r3.Unit(n)))
		}
	}
}

func putParsed[T value.Type](m *propmap.Map, path, s string) error {
	x, err := value.As[T](value.Of(s))
	if err != nil {
		return err
	}
	return propmap.Put(m, path, x)
}

func flattenInto(m *propmap.Map, path string, v interface{}, rep *diag.Report) {
	switch x := v.(type) {
	case string:
		if err := propmap.Put(m, path, x); err != nil {
			rep.Warnf("attribute %s: %v", path, err)
		}
	case *AttrList:
		for _, a := range x.Attrs() {
			flattenInto(m, path+propmap.Separator+a.Name, a.Value, rep)
		}
	case *Object:
		rep.Warnf("nested %s object %s ignored", x.Type, path)
	}
}
