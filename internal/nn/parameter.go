package nn

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/born-ml/smoothquant/internal/tensor"
)

// Parameter represents a named layer parameter.
//
// The name is the fully qualified checkpoint key (e.g. "model.decoder.layers.0.fc1.weight"),
// so a mutated parameter can be written back to the tensor it was loaded from.
// Values are held in row-major order and are always representable in DType.
//
// Example:
//
//	w := nn.NewParameter("fc1.weight", tensor.Float16, tensor.Shape{4, 8}, data)
//	m := w.Matrix() // aliases data
type Parameter struct {
	name  string
	dtype tensor.DataType
	shape tensor.Shape
	data  []float64
}

// NewParameter creates a parameter over data, rounding every element to dtype.
//
// The slice is retained, not copied. It panics if len(data) does not match shape.
func NewParameter(name string, dtype tensor.DataType, shape tensor.Shape, data []float64) *Parameter {
	if shape.NumElements() != len(data) {
		panic(fmt.Sprintf("NewParameter: %s has shape %v but %d values", name, shape, len(data)))
	}
	dtype.RoundAll(data)
	return &Parameter{
		name:  name,
		dtype: dtype,
		shape: shape.Clone(),
		data:  data,
	}
}

// Name returns the parameter name.
func (p *Parameter) Name() string {
	return p.name
}

// DType returns the storage precision.
func (p *Parameter) DType() tensor.DataType {
	return p.dtype
}

// Shape returns the parameter shape.
func (p *Parameter) Shape() tensor.Shape {
	return p.shape
}

// Data returns the backing slice.
func (p *Parameter) Data() []float64 {
	return p.data
}

// Vec returns a vector view of a 1-D parameter.
func (p *Parameter) Vec() *mat.VecDense {
	if len(p.shape) != 1 {
		panic(fmt.Sprintf("Parameter.Vec: %s is not 1-D (shape %v)", p.name, p.shape))
	}
	return mat.NewVecDense(len(p.data), p.data)
}

// Matrix returns a matrix view of a 2-D parameter.
func (p *Parameter) Matrix() *mat.Dense {
	if len(p.shape) != 2 {
		panic(fmt.Sprintf("Parameter.Matrix: %s is not 2-D (shape %v)", p.name, p.shape))
	}
	return mat.NewDense(p.shape[0], p.shape[1], p.data)
}

// Round re-rounds every value to the storage precision after a mutation.
func (p *Parameter) Round() {
	p.dtype.RoundAll(p.data)
}

// Clone returns a deep copy of the parameter.
func (p *Parameter) Clone() *Parameter {
	data := make([]float64, len(p.data))
	copy(data, p.data)
	return &Parameter{
		name:  p.name,
		dtype: p.dtype,
		shape: p.shape.Clone(),
		data:  data,
	}
}
