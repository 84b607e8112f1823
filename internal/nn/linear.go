package nn

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/born-ml/smoothquant/internal/tensor"
)

// Linear implements a fully connected (dense) layer.
//
// Performs the transformation: y = x @ W.T + b
// where:
//   - x is the input with shape [batch_size, in_features]
//   - W is the weight matrix with shape [out_features, in_features]
//   - b is the optional bias vector with shape [out_features]
//
// Example:
//
//	w := nn.NewParameter("fc1.weight", tensor.Float32, tensor.Shape{128, 784}, data)
//	layer, err := nn.NewLinear(w, nil)
//	output := layer.Forward(input) // [32, 784] -> [32, 128]
type Linear struct {
	inFeatures  int
	outFeatures int
	weight      *Parameter // [out_features, in_features]
	bias        *Parameter // [out_features], may be nil
}

// NewLinear creates a Linear layer over existing parameters. bias may be nil.
func NewLinear(weight, bias *Parameter) (*Linear, error) {
	shape := weight.Shape()
	if len(shape) != 2 {
		return nil, fmt.Errorf("linear %s: weight must be 2-D, got %v", weight.Name(), shape)
	}
	if bias != nil && !bias.Shape().Equal(tensor.Shape{shape[0]}) {
		return nil, fmt.Errorf("linear %s: bias shape mismatch: expected %v, got %v",
			weight.Name(), tensor.Shape{shape[0]}, bias.Shape())
	}
	return &Linear{
		inFeatures:  shape[1],
		outFeatures: shape[0],
		weight:      weight,
		bias:        bias,
	}, nil
}

// LinearFromState loads prefix+".weight" and, when present, prefix+".bias".
func LinearFromState(src ParameterSource, prefix string) (*Linear, error) {
	weight, err := loadParameter(src, prefix+".weight", nil)
	if err != nil {
		return nil, err
	}

	var bias *Parameter
	if src.Has(prefix + ".bias") {
		bias, err = loadParameter(src, prefix+".bias", nil)
		if err != nil {
			return nil, err
		}
	}
	return NewLinear(weight, bias)
}

// Forward computes y = x @ W.T + b.
//
// Input shape: [batch_size, in_features]
// Output shape: [batch_size, out_features]
func (l *Linear) Forward(input *mat.Dense) *mat.Dense {
	rows, cols := input.Dims()
	if cols != l.inFeatures {
		panic(fmt.Sprintf("Linear.Forward: expected input with %d features, got %d", l.inFeatures, cols))
	}

	output := mat.NewDense(rows, l.outFeatures, nil)
	output.Mul(input, l.weight.Matrix().T())

	if l.bias != nil {
		b := l.bias.Data()
		for i := 0; i < rows; i++ {
			row := output.RawRowView(i)
			for j := range row {
				row[j] += b[j]
			}
		}
	}
	return output
}

// Parameters returns [weight, bias] if bias is present, otherwise [weight].
func (l *Linear) Parameters() []*Parameter {
	if l.bias != nil {
		return []*Parameter{l.weight, l.bias}
	}
	return []*Parameter{l.weight}
}

// Weight returns the weight parameter.
func (l *Linear) Weight() *Parameter {
	return l.weight
}

// Bias returns the bias parameter, or nil.
func (l *Linear) Bias() *Parameter {
	return l.bias
}

// InFeatures returns the number of input features.
func (l *Linear) InFeatures() int {
	return l.inFeatures
}

// OutFeatures returns the number of output features.
func (l *Linear) OutFeatures() int {
	return l.outFeatures
}

// DataType returns the storage precision of the weight.
func (l *Linear) DataType() tensor.DataType {
	return l.weight.DType()
}
