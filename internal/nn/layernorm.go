package nn

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/born-ml/smoothquant/internal/tensor"
)

// LayerNorm applies Layer Normalization along the feature dimension.
//
// Formula: Y = gamma * (X - mean(X)) / sqrt(var(X) + eps) + beta
//
// Where:
//   - gamma is the scale parameter [channels]
//   - beta is the shift parameter [channels]
//   - mean and variance are computed per row
type LayerNorm struct {
	Gamma   *Parameter // scale [channels]
	Beta    *Parameter // shift [channels]
	Epsilon float64
}

// NewLayerNorm creates a LayerNorm over existing gamma and beta parameters.
func NewLayerNorm(gamma, beta *Parameter, epsilon float64) (*LayerNorm, error) {
	if len(gamma.Shape()) != 1 {
		return nil, fmt.Errorf("layernorm %s: gamma must be 1-D, got %v", gamma.Name(), gamma.Shape())
	}
	if !gamma.Shape().Equal(beta.Shape()) {
		return nil, fmt.Errorf("layernorm %s: beta shape %v does not match gamma %v",
			gamma.Name(), beta.Shape(), gamma.Shape())
	}
	return &LayerNorm{Gamma: gamma, Beta: beta, Epsilon: epsilon}, nil
}

// LayerNormFromState loads prefix+".weight" and prefix+".bias".
func LayerNormFromState(src ParameterSource, prefix string, epsilon float64) (*LayerNorm, error) {
	gamma, err := loadParameter(src, prefix+".weight", nil)
	if err != nil {
		return nil, err
	}
	beta, err := loadParameter(src, prefix+".bias", gamma.Shape())
	if err != nil {
		return nil, err
	}
	return NewLayerNorm(gamma, beta, epsilon)
}

// Forward applies LayerNorm to a [batch, channels] input.
func (l *LayerNorm) Forward(x *mat.Dense) *mat.Dense {
	rows, cols := x.Dims()
	if cols != l.Channels() {
		panic(fmt.Sprintf("LayerNorm.Forward: expected %d channels, got %d", l.Channels(), cols))
	}

	gamma := l.Gamma.Data()
	beta := l.Beta.Data()
	out := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		row := x.RawRowView(i)

		var mean float64
		for _, v := range row {
			mean += v
		}
		mean /= float64(cols)

		var variance float64
		for _, v := range row {
			d := v - mean
			variance += d * d
		}
		variance /= float64(cols)

		rstd := 1 / math.Sqrt(variance+l.Epsilon)
		dst := out.RawRowView(i)
		for j, v := range row {
			dst[j] = gamma[j]*(v-mean)*rstd + beta[j]
		}
	}
	return out
}

// Parameters returns gamma and beta.
func (l *LayerNorm) Parameters() []*Parameter {
	return []*Parameter{l.Gamma, l.Beta}
}

// Channels returns the normalized feature count.
func (l *LayerNorm) Channels() int {
	return l.Gamma.Shape()[0]
}

// Scale returns gamma.
func (l *LayerNorm) Scale() *Parameter {
	return l.Gamma
}

// Shift returns beta.
func (l *LayerNorm) Shift() *Parameter {
	return l.Beta
}

// DataType returns the storage precision of gamma.
func (l *LayerNorm) DataType() tensor.DataType {
	return l.Gamma.DType()
}
