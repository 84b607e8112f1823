package tensor

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/x448/float16"
)

// Decode converts little-endian raw bytes into float64 values.
func (dt DataType) Decode(data []byte) ([]float64, error) {
	size := dt.Size()
	if len(data)%size != 0 {
		return nil, fmt.Errorf("%s data length %d is not a multiple of %d", dt, len(data), size)
	}

	out := make([]float64, len(data)/size)
	for i := range out {
		chunk := data[i*size : (i+1)*size]
		switch dt {
		case Float32:
			out[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(chunk)))
		case Float64:
			out[i] = math.Float64frombits(binary.LittleEndian.Uint64(chunk))
		case Float16:
			out[i] = float64(float16.Frombits(binary.LittleEndian.Uint16(chunk)).Float32())
		case BFloat16:
			out[i] = float64(bf16ToFloat32(binary.LittleEndian.Uint16(chunk)))
		}
	}
	return out, nil
}

// Encode converts float64 values into little-endian raw bytes, rounding to dt.
func (dt DataType) Encode(values []float64) []byte {
	size := dt.Size()
	out := make([]byte, len(values)*size)
	for i, v := range values {
		chunk := out[i*size : (i+1)*size]
		switch dt {
		case Float32:
			binary.LittleEndian.PutUint32(chunk, math.Float32bits(float32(v)))
		case Float64:
			binary.LittleEndian.PutUint64(chunk, math.Float64bits(v))
		case Float16:
			binary.LittleEndian.PutUint16(chunk, float16.Fromfloat32(float32(v)).Bits())
		case BFloat16:
			binary.LittleEndian.PutUint16(chunk, float32ToBF16(float32(v)))
		}
	}
	return out
}
