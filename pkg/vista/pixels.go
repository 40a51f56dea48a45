package vista

import (
	"encoding/binary"
	"fmt"
	"math"
)

// encodePixels serializes a voxel buffer big-endian. Bit buffers are packed
// eight pixels per byte, most significant bit first.
func encodePixels(buf interface{}) ([]byte, error) {
	be := binary.BigEndian
	switch s := buf.(type) {
	case []bool:
		out := make([]byte, (len(s)+7)/8)
		for i, v := range s {
			if v {
				out[i/8] |= 0x80 >> (i % 8)
			}
		}
		return out, nil
	case []uint8:
		return append([]byte(nil), s...), nil
	case []int8:
		out := make([]byte, len(s))
		for i, v := range s {
			out[i] = byte(v)
		}
		return out, nil
	case []int16:
		out := make([]byte, 2*len(s))
		for i, v := range s {
			be.PutUint16(out[2*i:], uint16(v))
		}
		return out, nil
	case []int32:
		out := make([]byte, 4*len(s))
		for i, v := range s {
			be.PutUint32(out[4*i:], uint32(v))
		}
		return out, nil
	case []float32:
		out := make([]byte, 4*len(s))
		for i, v := range s {
			be.PutUint32(out[4*i:], math.Float32bits(v))
		}
		return out, nil
	case []float64:
		out := make([]byte, 8*len(s))
		for i, v := range s {
			be.PutUint64(out[8*i:], math.Float64bits(v))
		}
		return out, nil
	}
	return nil, fmt.Errorf("buffer %T: %w", buf, ErrUnsupportedType)
}

// decodePixels is the inverse of encodePixels for n pixels of repn.
func decodePixels(data []byte, repn string, n int) (interface{}, error) {
	if want := pixelBytes(repn, n); want == 0 && n > 0 {
		return nil, fmt.Errorf("repn %q: %w", repn, ErrUnsupportedType)
	} else if len(data) != want {
		return nil, fmt.Errorf("%d bytes for %d %s pixels, want %d: %w", len(data), n, repn, want, ErrMalformed)
	}
	be := binary.BigEndian
	switch repn {
	case RepnBit:
		out := make([]bool, n)
		for i := range out {
			out[i] = data[i/8]&(0x80>>(i%8)) != 0
		}
		return out, nil
	case RepnUByte:
		return append([]uint8(nil), data...), nil
	case RepnSByte:
		out := make([]int8, n)
		for i := range out {
			out[i] = int8(data[i])
		}
		return out, nil
	case RepnShort:
		out := make([]int16, n)
		for i := range out {
			out[i] = int16(be.Uint16(data[2*i:]))
		}
		return out, nil
	case RepnLong:
		out := make([]int32, n)
		for i := range out {
			out[i] = int32(be.Uint32(data[4*i:]))
		}
		return out, nil
	case RepnFloat:
		out := make([]float32, n)
		for i := range out {
			out[i] = math.Float32frombits(be.Uint32(data[4*i:]))
		}
		return out, nil
	case RepnDouble:
		out := make([]float64, n)
		for i := range out {
			out[i] = math.Float64frombits(be.Uint64(data[8*i:]))
		}
		return out, nil
	}
	return nil, fmt.Errorf("repn %q: %w", repn, ErrUnsupportedType)
}
