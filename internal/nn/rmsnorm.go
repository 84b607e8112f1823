package nn

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/born-ml/smoothquant/internal/tensor"
)

// RMSNorm applies Root Mean Square Normalization along the feature dimension.
//
// Formula: Y = X / sqrt(mean(X^2) + eps) * gamma
//
// RMSNorm has no shift parameter; it is the norm used by LLaMA and Mistral.
type RMSNorm struct {
	Gamma   *Parameter // scale [channels]
	Epsilon float64
}

// NewRMSNorm creates an RMSNorm over an existing gamma parameter.
func NewRMSNorm(gamma *Parameter, epsilon float64) (*RMSNorm, error) {
	if len(gamma.Shape()) != 1 {
		return nil, fmt.Errorf("rmsnorm %s: gamma must be 1-D, got %v", gamma.Name(), gamma.Shape())
	}
	return &RMSNorm{Gamma: gamma, Epsilon: epsilon}, nil
}

// RMSNormFromState loads prefix+".weight".
func RMSNormFromState(src ParameterSource, prefix string, epsilon float64) (*RMSNorm, error) {
	gamma, err := loadParameter(src, prefix+".weight", nil)
	if err != nil {
		return nil, err
	}
	return NewRMSNorm(gamma, epsilon)
}

// Forward applies RMSNorm to a [batch, channels] input.
func (r *RMSNorm) Forward(x *mat.Dense) *mat.Dense {
	rows, cols := x.Dims()
	if cols != r.Channels() {
		panic(fmt.Sprintf("RMSNorm.Forward: expected %d channels, got %d", r.Channels(), cols))
	}

	gamma := r.Gamma.Data()
	out := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		row := x.RawRowView(i)
		var ms float64
		for _, v := range row {
			ms += v * v
		}
		rrms := 1 / math.Sqrt(ms/float64(cols)+r.Epsilon)

		dst := out.RawRowView(i)
		for j, v := range row {
			dst[j] = v * rrms * gamma[j]
		}
	}
	return out
}

// Parameters returns gamma.
func (r *RMSNorm) Parameters() []*Parameter {
	return []*Parameter{r.Gamma}
}

// Channels returns the normalized feature count.
func (r *RMSNorm) Channels() int {
	return r.Gamma.Shape()[0]
}

// Scale returns gamma.
func (r *RMSNorm) Scale() *Parameter {
	return r.Gamma
}

// Shift returns nil: RMSNorm has no bias.
func (r *RMSNorm) Shift() *Parameter {
	return nil
}

// DataType returns the storage precision of gamma.
func (r *RMSNorm) DataType() tensor.DataType {
	return r.Gamma.DType()
}
