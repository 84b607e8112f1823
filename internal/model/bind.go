package model

import (
	"fmt"

	"github.com/born-ml/smoothquant/internal/nn"
)

// binder loads layers from one source and remembers the first failure, so a
// block constructor reads as a flat list of layer names.
type binder struct {
	src nn.ParameterSource
	err error
}

func (b *binder) layerNorm(prefix string, eps float64) *nn.LayerNorm {
	if b.err != nil {
		return nil
	}
	ln, err := nn.LayerNormFromState(b.src, prefix, eps)
	if err != nil {
		b.err = fmt.Errorf("bind %s: %w", prefix, err)
	}
	return ln
}

func (b *binder) rmsNorm(prefix string, eps float64) *nn.RMSNorm {
	if b.err != nil {
		return nil
	}
	rms, err := nn.RMSNormFromState(b.src, prefix, eps)
	if err != nil {
		b.err = fmt.Errorf("bind %s: %w", prefix, err)
	}
	return rms
}

func (b *binder) linear(prefix string) *nn.Linear {
	if b.err != nil {
		return nil
	}
	fc, err := nn.LinearFromState(b.src, prefix)
	if err != nil {
		b.err = fmt.Errorf("bind %s: %w", prefix, err)
	}
	return fc
}

func projections(layers ...*nn.Linear) []nn.Projection {
	out := make([]nn.Projection, len(layers))
	for i, l := range layers {
		out[i] = l
	}
	return out
}
