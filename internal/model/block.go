package model

import (
	"github.com/born-ml/smoothquant/internal/nn"
)

// Group is one normalization layer and the linear layers that read its output
// with no nonlinearity in between.
type Group struct {
	Key ScaleKey
	// Name is the module whose recorded input statistics apply to the group,
	// e.g. "model.decoder.layers.0.self_attn.q_proj".
	Name      string
	Norm      nn.AffineNorm
	Consumers []nn.Projection
}

// Parameters returns every parameter a smoothing pass over g rewrites.
func (g Group) Parameters() []*nn.Parameter {
	params := []*nn.Parameter{g.Norm.Scale()}
	if shift := g.Norm.Shift(); shift != nil {
		params = append(params, shift)
	}
	for _, fc := range g.Consumers {
		params = append(params, fc.Weight())
	}
	return params
}

// Block is a smoothable transformer block.
type Block interface {
	Index() int
	Groups() []Group
}

// Architecture binds checkpoint tensors to the blocks of one model family.
type Architecture interface {
	// Name returns the architecture name (e.g. "opt").
	Name() string

	// Detect reports whether the tensor names look like this architecture.
	Detect(names []string) bool

	// Bind builds every block from src.
	Bind(src nn.ParameterSource, names []string) ([]Block, error)
}
