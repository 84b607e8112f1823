// Package tensor describes the storage precision of checkpoint tensors.
//
// Parameters are held in memory as float64 but every value is rounded to the
// precision of the tensor it was loaded from, so arithmetic on a float16 layer
// observes float16 results the same way it would on an accelerator.
package tensor

import (
	"fmt"
	"math"

	"github.com/x448/float16"
)

// DataType represents runtime type information for floating-point tensors.
type DataType int

// Supported data types for tensors.
const (
	Float32 DataType = iota
	Float64
	Float16
	BFloat16
)

// Size returns the byte size of the data type.
func (dt DataType) Size() int {
	switch dt {
	case Float32:
		return 4
	case Float64:
		return 8
	case Float16, BFloat16:
		return 2
	default:
		panic("unknown data type")
	}
}

// String returns a human-readable name for the data type.
func (dt DataType) String() string {
	switch dt {
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	case Float16:
		return "float16"
	case BFloat16:
		return "bfloat16"
	default:
		return "unknown"
	}
}

// SafeTensorsName returns the dtype tag used in SafeTensors headers.
func (dt DataType) SafeTensorsName() string {
	switch dt {
	case Float32:
		return "F32"
	case Float64:
		return "F64"
	case Float16:
		return "F16"
	case BFloat16:
		return "BF16"
	default:
		return "F32"
	}
}

// ParseSafeTensors converts a SafeTensors dtype tag to a DataType.
// Integer and boolean tensors are rejected: nothing in a smoothing pass reads them.
func ParseSafeTensors(name string) (DataType, error) {
	switch name {
	case "F32":
		return Float32, nil
	case "F64":
		return Float64, nil
	case "F16":
		return Float16, nil
	case "BF16":
		return BFloat16, nil
	default:
		return 0, fmt.Errorf("unsupported dtype: %s", name)
	}
}

// Round returns v rounded to the nearest value representable in dt.
func (dt DataType) Round(v float64) float64 {
	switch dt {
	case Float32:
		return float64(float32(v))
	case Float16:
		return float64(float16.Fromfloat32(float32(v)).Float32())
	case BFloat16:
		return float64(bf16ToFloat32(float32ToBF16(float32(v))))
	default:
		return v
	}
}

// RoundAll rounds every element of values in place.
func (dt DataType) RoundAll(values []float64) {
	if dt == Float64 {
		return
	}
	for i, v := range values {
		values[i] = dt.Round(v)
	}
}

// float32ToBF16 keeps the upper 16 bits of f with round-to-nearest-even.
func float32ToBF16(f float32) uint16 {
	bits := math.Float32bits(f)
	if f != f { // NaN: keep it quiet
		return uint16(bits>>16) | 0x0040
	}
	rounding := uint32(0x7FFF) + ((bits >> 16) & 1)
	return uint16((bits + rounding) >> 16)
}

func bf16ToFloat32(b uint16) float32 {
	return math.Float32frombits(uint32(b) << 16)
}
