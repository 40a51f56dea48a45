// Package value implements the closed set of typed scientific values that are
// stored in property maps and used as voxel element types.
//
// A Value is immutable once constructed. Its type is identified by a TypeID
// taken from a fixed table; conversion to another type goes through CastTo,
// which refuses any conversion that would silently lose data.
package value

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrTypeMismatch is returned when a value cannot be converted to the requested type.
var ErrTypeMismatch = errors.New("type mismatch")

// TypeID is the stable identifier of a value type.
type TypeID uint8

const (
	TypeInvalid TypeID = iota
	TypeBool
	TypeInt8
	TypeUint8
	TypeInt16
	TypeUint16
	TypeInt32
	TypeUint32
	TypeInt64
	TypeUint64
	TypeFloat32
	TypeFloat64
	TypeString
	TypeVector4
	TypeIVector4
	TypeTimestamp
	TypeSelection
	TypeIntList
	TypeFloatList
	TypeStringList
)

var typeNames = [...]string{
	TypeInvalid:    "invalid",
	TypeBool:       "bool",
	TypeInt8:       "int8",
	TypeUint8:      "uint8",
	TypeInt16:      "int16",
	TypeUint16:     "uint16",
	TypeInt32:      "int32",
	TypeUint32:     "uint32",
	TypeInt64:      "int64",
	TypeUint64:     "uint64",
	TypeFloat32:    "float32",
	TypeFloat64:    "float64",
	TypeString:     "string",
	TypeVector4:    "vector4",
	TypeIVector4:   "ivector4",
	TypeTimestamp:  "timestamp",
	TypeSelection:  "selection",
	TypeIntList:    "intlist",
	TypeFloatList:  "floatlist",
	TypeStringList: "stringlist",
}

// String returns the stable name of the type.
func (t TypeID) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return fmt.Sprintf("TypeID(%d)", uint8(t))
}

// ParseTypeID returns the TypeID with the given name.
func ParseTypeID(name string) (TypeID, error) {
	for id, n := range typeNames {
		if n == name && TypeID(id) != TypeInvalid {
			return TypeID(id), nil
		}
	}
	return TypeInvalid, fmt.Errorf("unknown type name %q", name)
}

// IsNumeric reports whether the type is a scalar number (bool counts as 0/1).
func (t TypeID) IsNumeric() bool {
	return t >= TypeBool && t <= TypeFloat64
}

// IsInteger reports whether the type is a scalar integer type.
func (t TypeID) IsInteger() bool {
	return t >= TypeInt8 && t <= TypeUint64
}

// IsFloat reports whether the type is a floating point type.
func (t TypeID) IsFloat() bool {
	return t == TypeFloat32 || t == TypeFloat64
}

// IsSigned reports whether the type can hold negative numbers.
func (t TypeID) IsSigned() bool {
	switch t {
	case TypeInt8, TypeInt16, TypeInt32, TypeInt64, TypeFloat32, TypeFloat64:
		return true
	}
	return false
}

// Vector4 is a fixed-length floating point vector, used for geometry.
type Vector4 [4]float64

// IVector4 is a fixed-length integer vector.
type IVector4 [4]int64

// Selection is an enumerated choice out of a fixed set of options.
// The zero Selection has no options and no current choice.
type Selection struct {
	options []string
	index   int
}

// NewSelection creates a selection over options with current selected.
// An empty current leaves the selection unset.
func NewSelection(options []string, current string) (Selection, error) {
	s := Selection{options: append([]string(nil), options...), index: -1}
	if current == "" {
		return s, nil
	}
	if err := s.set(current); err != nil {
		return Selection{}, err
	}
	return s, nil
}

func (s *Selection) set(name string) error {
	for i, o := range s.options {
		if strings.EqualFold(o, name) {
			s.index = i
			return nil
		}
	}
	return fmt.Errorf("%q is not one of %v: %w", name, s.options, ErrTypeMismatch)
}

// With returns a copy of s with name selected.
func (s Selection) With(name string) (Selection, error) {
	c := Selection{options: s.options, index: -1}
	if err := c.set(name); err != nil {
		return Selection{}, err
	}
	return c, nil
}

// Options returns the selectable names.
func (s Selection) Options() []string { return append([]string(nil), s.options...) }

// Index returns the position of the current choice, or -1 when unset.
func (s Selection) Index() int {
	if len(s.options) == 0 {
		return -1
	}
	return s.index
}

// String returns the current choice, or "" when unset.
func (s Selection) String() string {
	if s.Index() < 0 {
		return ""
	}
	return s.options[s.index]
}

func (s Selection) equal(o Selection) bool {
	if s.String() != o.String() || len(s.options) != len(o.options) {
		return false
	}
	for i := range s.options {
		if s.options[i] != o.options[i] {
			return false
		}
	}
	return true
}

// Type is the set of Go types a Value can hold.
type Type interface {
	bool | int8 | uint8 | int16 | uint16 | int32 | uint32 | int64 | uint64 | float32 | float64 |
		string | Vector4 | IVector4 | time.Time | Selection | []int64 | []float64 | []string
}

// Value is a typed, immutable scientific value.
type Value struct {
	t TypeID
	v any
}

// TypeOf returns the TypeID for the Go type T.
func TypeOf[T Type]() TypeID {
	var zero T
	return typeOfAny(any(zero))
}

func typeOfAny(x any) TypeID {
	switch x.(type) {
	case bool:
		return TypeBool
	case int8:
		return TypeInt8
	case uint8:
		return TypeUint8
	case int16:
		return TypeInt16
	case uint16:
		return TypeUint16
	case int32:
		return TypeInt32
	case uint32:
		return TypeUint32
	case int64:
		return TypeInt64
	case uint64:
		return TypeUint64
	case float32:
		return TypeFloat32
	case float64:
		return TypeFloat64
	case string:
		return TypeString
	case Vector4:
		return TypeVector4
	case IVector4:
		return TypeIVector4
	case time.Time:
		return TypeTimestamp
	case Selection:
		return TypeSelection
	case []int64:
		return TypeIntList
	case []float64:
		return TypeFloatList
	case []string:
		return TypeStringList
	}
	return TypeInvalid
}

// Of wraps x in a Value.
func Of[T Type](x T) Value {
	v, _ := New(x)
	return v
}

// New wraps a Go value. Besides the types listed in Type it accepts int, uint,
// [3]float64, [4]float64, []int and []float32, which are widened to the
// nearest supported type.
func New(x any) (Value, error) {
	switch y := x.(type) {
	case int:
		return Value{TypeInt64, int64(y)}, nil
	case uint:
		return Value{TypeUint64, uint64(y)}, nil
	case [4]float64:
		return Value{TypeVector4, Vector4(y)}, nil
	case [3]float64:
		return Value{TypeVector4, Vector4{y[0], y[1], y[2], 0}}, nil
	case []int:
		l := make([]int64, len(y))
		for i, e := range y {
			l[i] = int64(e)
		}
		return Value{TypeIntList, l}, nil
	case []float32:
		l := make([]float64, len(y))
		for i, e := range y {
			l[i] = float64(e)
		}
		return Value{TypeFloatList, l}, nil
	case []int64:
		return Value{TypeIntList, append([]int64(nil), y...)}, nil
	case []float64:
		return Value{TypeFloatList, append([]float64(nil), y...)}, nil
	case []string:
		return Value{TypeStringList, append([]string(nil), y...)}, nil
	case Value:
		return y, nil
	}
	t := typeOfAny(x)
	if t == TypeInvalid {
		return Value{}, fmt.Errorf("cannot store %T in a value: %w", x, ErrTypeMismatch)
	}
	return Value{t, x}, nil
}

// MustNew is like New but panics on unsupported input.
func MustNew(x any) Value {
	v, err := New(x)
	if err != nil {
		panic(err)
	}
	return v
}

// TypeID returns the type of the value.
func (v Value) TypeID() TypeID { return v.t }

// IsValid reports whether v holds anything.
func (v Value) IsValid() bool { return v.t != TypeInvalid }

// Is reports whether v holds exactly type t.
func (v Value) Is(t TypeID) bool { return v.t == t }

// Is reports whether v holds exactly the Go type T.
func Is[T Type](v Value) bool { return v.t == TypeOf[T]() }

// Interface returns the wrapped Go value. Lists are copied.
func (v Value) Interface() any {
	switch l := v.v.(type) {
	case []int64:
		return append([]int64(nil), l...)
	case []float64:
		return append([]float64(nil), l...)
	case []string:
		return append([]string(nil), l...)
	}
	return v.v
}

// As converts v to the Go type T through CastTo.
func As[T Type](v Value) (T, error) {
	var zero T
	c, err := v.CastTo(TypeOf[T]())
	if err != nil {
		return zero, err
	}
	return c.Interface().(T), nil
}

// Float64 returns a numeric value as float64.
func (v Value) Float64() (float64, error) {
	if !v.t.IsNumeric() {
		return 0, fmt.Errorf("%s is not numeric: %w", v.t, ErrTypeMismatch)
	}
	switch x := v.v.(type) {
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	case float32:
		return float64(x), nil
	case float64:
		return x, nil
	}
	if v.t.IsSigned() {
		return float64(signedOf(v)), nil
	}
	return float64(unsignedOf(v)), nil
}

// String formats the value for diagnostics and textual headers.
func (v Value) String() string {
	switch x := v.v.(type) {
	case nil:
		return ""
	case bool:
		return strconv.FormatBool(x)
	case float32:
		return strconv.FormatFloat(float64(x), 'g', -1, 32)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case string:
		return x
	case Vector4:
		return joinFloats(x[:])
	case IVector4:
		return joinInts(x[:])
	case time.Time:
		return x.Format(time.RFC3339Nano)
	case Selection:
		return x.String()
	case []int64:
		return joinInts(x)
	case []float64:
		return joinFloats(x)
	case []string:
		return strings.Join(x, ",")
	}
	if v.t.IsSigned() {
		return strconv.FormatInt(signedOf(v), 10)
	}
	return strconv.FormatUint(unsignedOf(v), 10)
}

// Equal reports whether both values have the same type and content.
func (v Value) Equal(o Value) bool {
	if v.t != o.t {
		return false
	}
	switch x := v.v.(type) {
	case time.Time:
		return x.Equal(o.v.(time.Time))
	case Selection:
		return x.equal(o.v.(Selection))
	case []int64:
		y := o.v.([]int64)
		if len(x) != len(y) {
			return false
		}
		for i := range x {
			if x[i] != y[i] {
				return false
			}
		}
		return true
	case []float64:
		y := o.v.([]float64)
		if len(x) != len(y) {
			return false
		}
		for i := range x {
			if x[i] != y[i] {
				return false
			}
		}
		return true
	case []string:
		y := o.v.([]string)
		if len(x) != len(y) {
			return false
		}
		for i := range x {
			if x[i] != y[i] {
				return false
			}
		}
		return true
	}
	return v.v == o.v
}

// Less orders two values. Numbers compare by magnitude regardless of their
// concrete type; strings and timestamps compare within their own type.
func (v Value) Less(o Value) (bool, error) {
	switch {
	case v.t.IsNumeric() && o.t.IsNumeric():
		if v.t.IsInteger() && o.t.IsInteger() && !v.t.IsSigned() && !o.t.IsSigned() {
			return unsignedOf(v) < unsignedOf(o), nil
		}
		if v.t.IsInteger() && o.t.IsInteger() && v.t.IsSigned() && o.t.IsSigned() {
			return signedOf(v) < signedOf(o), nil
		}
		a, _ := v.Float64()
		b, _ := o.Float64()
		return a < b, nil
	case v.t == TypeString && o.t == TypeString:
		return v.v.(string) < o.v.(string), nil
	case v.t == TypeTimestamp && o.t == TypeTimestamp:
		return v.v.(time.Time).Before(o.v.(time.Time)), nil
	}
	return false, fmt.Errorf("cannot order %s and %s: %w", v.t, o.t, ErrTypeMismatch)
}

func joinFloats(f []float64) string {
	parts := make([]string, len(f))
	for i, x := range f {
		parts[i] = strconv.FormatFloat(x, 'g', -1, 64)
	}
	return strings.Join(parts, " ")
}

func joinInts(n []int64) string {
	parts := make([]string, len(n))
	for i, x := range n {
		parts[i] = strconv.FormatInt(x, 10)
	}
	return strings.Join(parts, " ")
}
