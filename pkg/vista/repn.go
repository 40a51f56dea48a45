package vista

import (
	"mrivista/pkg/value"
)

// Pixel representation names as they appear in the "repn" attribute.
const (
	RepnBit    = "bit"
	RepnUByte  = "ubyte"
	RepnSByte  = "sbyte"
	RepnShort  = "short"
	RepnLong   = "long"
	RepnFloat  = "float"
	RepnDouble = "double"
)

// repnTable is the single mapping between voxel types and pixel
// representations, used by both directions.
var repnTable = []struct {
	repn string
	typ  value.TypeID
	bits int
}{
	{RepnBit, value.TypeBool, 1},
	{RepnUByte, value.TypeUint8, 8},
	{RepnSByte, value.TypeInt8, 8},
	{RepnShort, value.TypeInt16, 16},
	{RepnLong, value.TypeInt32, 32},
	{RepnFloat, value.TypeFloat32, 32},
	{RepnDouble, value.TypeFloat64, 64},
}

// writeFallback names the voxel types that have no representation of their
// own but may be stored, with a warning, as another type.
var writeFallback = map[value.TypeID]value.TypeID{
	value.TypeUint16: value.TypeInt16,
}

// TypeForRepn returns the voxel type of a pixel representation.
func TypeForRepn(repn string) (value.TypeID, bool) {
	for _, r := range repnTable {
		if r.repn == repn {
			return r.typ, true
		}
	}
	return value.TypeInvalid, false
}

// RepnForType returns the pixel representation of a voxel type, without
// fallbacks.
func RepnForType(t value.TypeID) (string, bool) {
	for _, r := range repnTable {
		if r.typ == t {
			return r.repn, true
		}
	}
	return "", false
}

// writeType resolves the type a voxel type is written as. fellBack is set
// when a fallback was used.
func writeType(t value.TypeID) (target value.TypeID, repn string, fellBack bool, ok bool) {
	if r, found := RepnForType(t); found {
		return t, r, false, true
	}
	if f, found := writeFallback[t]; found {
		r, _ := RepnForType(f)
		return f, r, true, true
	}
	return value.TypeInvalid, "", false, false
}

// pixelBytes returns the encoded size of n pixels.
func pixelBytes(repn string, n int) int {
	for _, r := range repnTable {
		if r.repn == repn {
			return (n*r.bits + 7) / 8
		}
	}
	return 0
}
