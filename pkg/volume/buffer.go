package volume

import (
	"fmt"
	"math"
	"reflect"

	"gonum.org/v1/gonum/floats"

	"mrivista/pkg/value"
)

// Element lists the Go types a Chunk can store.
type Element interface {
	bool | int8 | uint8 | int16 | uint16 | int32 | uint32 | int64 | uint64 | float32 | float64
}

// IsVoxelType reports whether t can be a Chunk element type.
func IsVoxelType(t value.TypeID) bool {
	return t.IsNumeric()
}

func makeBuffer(t value.TypeID, n int) (any, error) {
	switch t {
	case value.TypeBool:
		return make([]bool, n), nil
	case value.TypeInt8:
		return make([]int8, n), nil
	case value.TypeUint8:
		return make([]uint8, n), nil
	case value.TypeInt16:
		return make([]int16, n), nil
	case value.TypeUint16:
		return make([]uint16, n), nil
	case value.TypeInt32:
		return make([]int32, n), nil
	case value.TypeUint32:
		return make([]uint32, n), nil
	case value.TypeInt64:
		return make([]int64, n), nil
	case value.TypeUint64:
		return make([]uint64, n), nil
	case value.TypeFloat32:
		return make([]float32, n), nil
	case value.TypeFloat64:
		return make([]float64, n), nil
	}
	return nil, fmt.Errorf("%s is not a voxel type: %w", t, value.ErrTypeMismatch)
}

func bufferType(b any) value.TypeID {
	switch b.(type) {
	case []bool:
		return value.TypeBool
	case []int8:
		return value.TypeInt8
	case []uint8:
		return value.TypeUint8
	case []int16:
		return value.TypeInt16
	case []uint16:
		return value.TypeUint16
	case []int32:
		return value.TypeInt32
	case []uint32:
		return value.TypeUint32
	case []int64:
		return value.TypeInt64
	case []uint64:
		return value.TypeUint64
	case []float32:
		return value.TypeFloat32
	case []float64:
		return value.TypeFloat64
	}
	return value.TypeInvalid
}

func getFloat(b any, i int) float64 {
	switch s := b.(type) {
	case []bool:
		if s[i] {
			return 1
		}
		return 0
	case []int8:
		return float64(s[i])
	case []uint8:
		return float64(s[i])
	case []int16:
		return float64(s[i])
	case []uint16:
		return float64(s[i])
	case []int32:
		return float64(s[i])
	case []uint32:
		return float64(s[i])
	case []int64:
		return float64(s[i])
	case []uint64:
		return float64(s[i])
	case []float32:
		return float64(s[i])
	case []float64:
		return s[i]
	}
	return math.NaN()
}

// setFloat stores f, rounding and clamping for integer buffers.
func setFloat(b any, i int, f float64) {
	if _, isFloat := b.([]float32); !isFloat {
		if _, isDouble := b.([]float64); !isDouble {
			lo, hi := value.Range(bufferType(b))
			f = math.Max(lo, math.Min(hi, math.Round(f)))
		}
	}
	switch s := b.(type) {
	case []bool:
		s[i] = f != 0
	case []int8:
		s[i] = int8(f)
	case []uint8:
		s[i] = uint8(f)
	case []int16:
		s[i] = int16(f)
	case []uint16:
		s[i] = uint16(f)
	case []int32:
		s[i] = int32(f)
	case []uint32:
		s[i] = uint32(f)
	case []int64:
		if f >= math.MaxInt64 {
			s[i] = math.MaxInt64
		} else {
			s[i] = int64(f)
		}
	case []uint64:
		if f >= math.MaxUint64 {
			s[i] = math.MaxUint64
		} else {
			s[i] = uint64(f)
		}
	case []float32:
		s[i] = float32(f)
	case []float64:
		s[i] = f
	}
}

func bufferLen(b any) int {
	return reflect.ValueOf(b).Len()
}

func cloneBuffer(b any) any {
	src := reflect.ValueOf(b)
	dst := reflect.MakeSlice(src.Type(), src.Len(), src.Len())
	reflect.Copy(dst, src)
	return dst.Interface()
}

// copyRun copies n elements between buffers of the same type.
func copyRun(dst any, di int, src any, si, n int) {
	reflect.Copy(reflect.ValueOf(dst).Slice(di, di+n), reflect.ValueOf(src).Slice(si, si+n))
}

func minMaxOf[T int8 | uint8 | int16 | uint16 | int32 | uint32 | int64 | uint64 | float32](s []T) (float64, float64) {
	lo, hi := s[0], s[0]
	for _, v := range s[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return float64(lo), float64(hi)
}

func bufferMinMax(b any) (float64, float64) {
	if bufferLen(b) == 0 {
		return 0, 0
	}
	switch s := b.(type) {
	case []bool:
		lo, hi := 1.0, 0.0
		for _, v := range s {
			if v {
				hi = 1
			} else {
				lo = 0
			}
		}
		return lo, hi
	case []int8:
		return minMaxOf(s)
	case []uint8:
		return minMaxOf(s)
	case []int16:
		return minMaxOf(s)
	case []uint16:
		return minMaxOf(s)
	case []int32:
		return minMaxOf(s)
	case []uint32:
		return minMaxOf(s)
	case []int64:
		return minMaxOf(s)
	case []uint64:
		return minMaxOf(s)
	case []float32:
		return minMaxOf(s)
	case []float64:
		return floats.Min(s), floats.Max(s)
	}
	return 0, 0
}
