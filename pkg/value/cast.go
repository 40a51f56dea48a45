package value

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// CastTo converts v to type t.
//
// Numbers convert to any other numeric type as long as the value fits the
// target range (floats are rounded when the target is an integer; narrowing
// float64 to float32 loses precision but not range). Every type converts to
// its string form, and strings parse into every type except Selection.
// Anything else fails with ErrTypeMismatch.
func (v Value) CastTo(t TypeID) (Value, error) {
	if v.t == t {
		return v, nil
	}
	if v.t == TypeInvalid || t == TypeInvalid || int(t) >= len(typeNames) {
		return Value{}, mismatch(v, t)
	}
	switch {
	case v.t.IsNumeric() && t.IsNumeric():
		return castNumber(v, t)
	case t == TypeString:
		return Value{TypeString, v.String()}, nil
	case v.t == TypeString:
		return parseString(v.v.(string), t)
	}

	switch x := v.v.(type) {
	case Vector4:
		switch t {
		case TypeIVector4:
			var r IVector4
			for i, f := range x {
				if f != math.Trunc(f) || !fitsFloat(f, TypeInt64) {
					return Value{}, mismatch(v, t)
				}
				r[i] = int64(f)
			}
			return Value{t, r}, nil
		case TypeFloatList:
			return Value{t, append([]float64(nil), x[:]...)}, nil
		}
	case IVector4:
		switch t {
		case TypeVector4:
			var r Vector4
			for i, n := range x {
				r[i] = float64(n)
			}
			return Value{t, r}, nil
		case TypeIntList:
			return Value{t, append([]int64(nil), x[:]...)}, nil
		case TypeFloatList:
			l := make([]float64, 4)
			for i, n := range x {
				l[i] = float64(n)
			}
			return Value{t, l}, nil
		}
	case Selection:
		if t.IsInteger() && x.Index() >= 0 {
			return castNumber(Value{TypeInt64, int64(x.Index())}, t)
		}
	case []int64:
		switch t {
		case TypeFloatList:
			l := make([]float64, len(x))
			for i, n := range x {
				l[i] = float64(n)
			}
			return Value{t, l}, nil
		case TypeIVector4:
			if len(x) <= 4 {
				var r IVector4
				copy(r[:], x)
				return Value{t, r}, nil
			}
		case TypeVector4:
			if len(x) <= 4 {
				var r Vector4
				for i, n := range x {
					r[i] = float64(n)
				}
				return Value{t, r}, nil
			}
		case TypeStringList:
			l := make([]string, len(x))
			for i, n := range x {
				l[i] = strconv.FormatInt(n, 10)
			}
			return Value{t, l}, nil
		}
	case []float64:
		switch t {
		case TypeIntList:
			l := make([]int64, len(x))
			for i, f := range x {
				if f != math.Trunc(f) || !fitsFloat(f, TypeInt64) {
					return Value{}, mismatch(v, t)
				}
				l[i] = int64(f)
			}
			return Value{t, l}, nil
		case TypeVector4:
			if len(x) <= 4 {
				var r Vector4
				copy(r[:], x)
				return Value{t, r}, nil
			}
		case TypeStringList:
			l := make([]string, len(x))
			for i, f := range x {
				l[i] = strconv.FormatFloat(f, 'g', -1, 64)
			}
			return Value{t, l}, nil
		}
	case []string:
		out := make([]Value, len(x))
		var elem TypeID
		switch t {
		case TypeIntList:
			elem = TypeInt64
		case TypeFloatList:
			elem = TypeFloat64
		default:
			return Value{}, mismatch(v, t)
		}
		for i, s := range x {
			e, err := parseString(s, elem)
			if err != nil {
				return Value{}, err
			}
			out[i] = e
		}
		if elem == TypeInt64 {
			l := make([]int64, len(out))
			for i, e := range out {
				l[i] = e.v.(int64)
			}
			return Value{t, l}, nil
		}
		l := make([]float64, len(out))
		for i, e := range out {
			l[i] = e.v.(float64)
		}
		return Value{t, l}, nil
	}
	if v.t.IsNumeric() {
		switch t {
		case TypeIntList, TypeFloatList:
			elem := TypeInt64
			if t == TypeFloatList {
				elem = TypeFloat64
			}
			e, err := castNumber(v, elem)
			if err != nil {
				return Value{}, err
			}
			if t == TypeIntList {
				return Value{t, []int64{e.v.(int64)}}, nil
			}
			return Value{t, []float64{e.v.(float64)}}, nil
		}
	}
	return Value{}, mismatch(v, t)
}

func mismatch(v Value, t TypeID) error {
	return fmt.Errorf("cannot convert %s %q to %s: %w", v.t, v.String(), t, ErrTypeMismatch)
}

// intRange returns the inclusive bounds of an integer (or bool) type.
func intRange(t TypeID) (lo int64, hi uint64) {
	switch t {
	case TypeBool:
		return 0, 1
	case TypeInt8:
		return math.MinInt8, math.MaxInt8
	case TypeUint8:
		return 0, math.MaxUint8
	case TypeInt16:
		return math.MinInt16, math.MaxInt16
	case TypeUint16:
		return 0, math.MaxUint16
	case TypeInt32:
		return math.MinInt32, math.MaxInt32
	case TypeUint32:
		return 0, math.MaxUint32
	case TypeInt64:
		return math.MinInt64, math.MaxInt64
	case TypeUint64:
		return 0, math.MaxUint64
	}
	return 0, 0
}

// Range returns the representable bounds of a numeric type as float64.
func Range(t TypeID) (lo, hi float64) {
	switch t {
	case TypeFloat32:
		return -math.MaxFloat32, math.MaxFloat32
	case TypeFloat64:
		return -math.MaxFloat64, math.MaxFloat64
	}
	l, h := intRange(t)
	return float64(l), float64(h)
}

func fitsFloat(f float64, t TypeID) bool {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return false
	}
	lo, hi := intRange(t)
	if f < float64(lo) {
		return false
	}
	// float64(hi) rounds up to 2^63 / 2^64 for the 64 bit types
	if hi >= 1<<53 {
		return f < float64(hi)
	}
	return f <= float64(hi)
}

func signedOf(v Value) int64 {
	switch x := v.v.(type) {
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case int64:
		return x
	}
	return 0
}

func unsignedOf(v Value) uint64 {
	switch x := v.v.(type) {
	case bool:
		if x {
			return 1
		}
		return 0
	case uint8:
		return uint64(x)
	case uint16:
		return uint64(x)
	case uint32:
		return uint64(x)
	case uint64:
		return x
	}
	return 0
}

func castNumber(v Value, t TypeID) (Value, error) {
	if t.IsFloat() {
		f, _ := v.Float64()
		if t == TypeFloat32 {
			if !math.IsInf(f, 0) && math.Abs(f) > math.MaxFloat32 {
				return Value{}, mismatch(v, t)
			}
			return Value{t, float32(f)}, nil
		}
		return Value{t, f}, nil
	}
	lo, hi := intRange(t)
	switch {
	case v.t.IsFloat():
		f, _ := v.Float64()
		r := math.Round(f)
		if !fitsFloat(r, t) {
			return Value{}, mismatch(v, t)
		}
		if t.IsSigned() {
			return makeInt(t, int64(r)), nil
		}
		return makeUint(t, uint64(r)), nil
	case v.t.IsSigned():
		i := signedOf(v)
		if i < lo || (i > 0 && uint64(i) > hi) {
			return Value{}, mismatch(v, t)
		}
		if t.IsSigned() {
			return makeInt(t, i), nil
		}
		return makeUint(t, uint64(i)), nil
	default:
		u := unsignedOf(v)
		if u > hi {
			return Value{}, mismatch(v, t)
		}
		if t.IsSigned() {
			return makeInt(t, int64(u)), nil
		}
		return makeUint(t, u), nil
	}
}

func makeInt(t TypeID, i int64) Value {
	switch t {
	case TypeInt8:
		return Value{t, int8(i)}
	case TypeInt16:
		return Value{t, int16(i)}
	case TypeInt32:
		return Value{t, int32(i)}
	}
	return Value{TypeInt64, i}
}

func makeUint(t TypeID, u uint64) Value {
	switch t {
	case TypeBool:
		return Value{t, u == 1}
	case TypeUint8:
		return Value{t, uint8(u)}
	case TypeUint16:
		return Value{t, uint16(u)}
	case TypeUint32:
		return Value{t, uint32(u)}
	}
	return Value{TypeUint64, u}
}

// timeLayouts lists the accepted textual timestamp forms, most specific first.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-Jan-02 15:04:05.999999999",
	"2006-Jan-02 15:04:05",
	"2006-01-02",
	"2006-Jan-02",
	"20060102",
}

// ParseTime parses a timestamp in any of the accepted layouts.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse %q as timestamp: %w", s, ErrTypeMismatch)
}

// splitFields splits a textual vector or list on whitespace and commas,
// dropping surrounding brackets.
func splitFields(s string) []string {
	s = strings.Trim(strings.TrimSpace(s), "<>[]()")
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	})
}

func parseString(s string, t TypeID) (Value, error) {
	src := Value{TypeString, s}
	trimmed := strings.TrimSpace(s)
	switch {
	case t == TypeBool:
		b, err := strconv.ParseBool(trimmed)
		if err != nil {
			return Value{}, mismatch(src, t)
		}
		return Value{t, b}, nil
	case t.IsInteger():
		if t.IsSigned() {
			if i, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
				return castNumber(Value{TypeInt64, i}, t)
			}
		} else if u, err := strconv.ParseUint(trimmed, 10, 64); err == nil {
			return castNumber(Value{TypeUint64, u}, t)
		}
		f, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			return Value{}, mismatch(src, t)
		}
		return castNumber(Value{TypeFloat64, f}, t)
	case t.IsFloat():
		f, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			return Value{}, mismatch(src, t)
		}
		return castNumber(Value{TypeFloat64, f}, t)
	case t == TypeTimestamp:
		tm, err := ParseTime(trimmed)
		if err != nil {
			return Value{}, err
		}
		return Value{t, tm}, nil
	case t == TypeVector4 || t == TypeIVector4:
		fields := splitFields(s)
		if len(fields) == 0 || len(fields) > 4 {
			return Value{}, mismatch(src, t)
		}
		var vec Vector4
		for i, f := range fields {
			x, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return Value{}, mismatch(src, t)
			}
			vec[i] = x
		}
		return Value{TypeVector4, vec}.CastTo(t)
	case t == TypeStringList:
		parts := strings.Split(s, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return Value{t, parts}, nil
	case t == TypeIntList || t == TypeFloatList:
		return Value{TypeStringList, splitFields(s)}.CastTo(t)
	}
	return Value{}, mismatch(src, t)
}
