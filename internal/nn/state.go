package nn

import (
	"fmt"

	"github.com/born-ml/smoothquant/internal/tensor"
)

// ParameterSource resolves checkpoint keys to decoded parameters.
type ParameterSource interface {
	Parameter(name string) (*Parameter, error)
	Has(name string) bool
}

func loadParameter(src ParameterSource, name string, shape tensor.Shape) (*Parameter, error) {
	p, err := src.Parameter(name)
	if err != nil {
		return nil, err
	}
	if shape != nil && !p.Shape().Equal(shape) {
		return nil, fmt.Errorf("%s shape mismatch: expected %v, got %v", name, shape, p.Shape())
	}
	return p, nil
}
