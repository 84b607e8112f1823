package loader

import (
	"fmt"
	"sort"

	"github.com/born-ml/smoothquant/internal/nn"
	"github.com/born-ml/smoothquant/internal/tensor"
)

// Tensor is one checkpoint entry, kept as raw little-endian bytes.
//
// Tensors of dtypes the smoothing pass never reads (integers, bool) are carried
// through unchanged so a rewritten checkpoint is complete.
type Tensor struct {
	Name      string
	DTypeName string // SafeTensors dtype tag, e.g. "F16"
	Shape     tensor.Shape
	Data      []byte
}

// NewTensor encodes values as a dtype tensor of the given shape.
func NewTensor(name string, dtype tensor.DataType, shape tensor.Shape, values []float64) (*Tensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidShape, name, err)
	}
	if len(values) != shape.NumElements() {
		return nil, fmt.Errorf("%w: %s has %d elements, got %d values",
			ErrSizeMismatch, name, shape.NumElements(), len(values))
	}
	return &Tensor{
		Name:      name,
		DTypeName: dtype.SafeTensorsName(),
		Shape:     shape.Clone(),
		Data:      dtype.Encode(values),
	}, nil
}

// DType returns the floating-point dtype of the tensor.
func (t *Tensor) DType() (tensor.DataType, error) {
	dt, err := tensor.ParseSafeTensors(t.DTypeName)
	if err != nil {
		return 0, fmt.Errorf("%w: %s is %s", ErrNotFloat, t.Name, t.DTypeName)
	}
	return dt, nil
}

// Float64s decodes the tensor values.
func (t *Tensor) Float64s() ([]float64, error) {
	dt, err := t.DType()
	if err != nil {
		return nil, err
	}
	return dt.Decode(t.Data)
}

// SetFloat64s re-encodes values in the tensor's own dtype.
func (t *Tensor) SetFloat64s(values []float64) error {
	dt, err := t.DType()
	if err != nil {
		return err
	}
	if len(values) != t.Shape.NumElements() {
		return fmt.Errorf("%w: %s has %d elements, got %d values",
			ErrSizeMismatch, t.Name, t.Shape.NumElements(), len(values))
	}
	t.Data = dt.Encode(values)
	return nil
}

// StateDict maps checkpoint keys to tensors.
type StateDict map[string]*Tensor

// Names returns all tensor names, sorted.
func (sd StateDict) Names() []string {
	names := make([]string, 0, len(sd))
	for name := range sd {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Has reports whether name is present.
func (sd StateDict) Has(name string) bool {
	_, ok := sd[name]
	return ok
}

// Parameter decodes name into a layer parameter.
func (sd StateDict) Parameter(name string) (*nn.Parameter, error) {
	t, ok := sd[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTensorNotFound, name)
	}
	dt, err := t.DType()
	if err != nil {
		return nil, err
	}
	values, err := dt.Decode(t.Data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}
	return nn.NewParameter(name, dt, t.Shape, values), nil
}

// Update writes a parameter back to the tensor it was loaded from.
func (sd StateDict) Update(p *nn.Parameter) error {
	t, ok := sd[p.Name()]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTensorNotFound, p.Name())
	}
	if !t.Shape.Equal(p.Shape()) {
		return fmt.Errorf("%w: %s shape %v, parameter %v", ErrSizeMismatch, p.Name(), t.Shape, p.Shape())
	}
	return t.SetFloat64s(p.Data())
}

var _ nn.ParameterSource = StateDict(nil)
