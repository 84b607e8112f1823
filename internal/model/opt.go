package model

import (
	"fmt"

	"github.com/born-ml/smoothquant/internal/nn"
)

const optLayerNormEps = 1e-5

var optPrefixes = []string{"model.decoder.layers.", "decoder.layers."}

// optArch covers OPTDecoderLayer:
//
//	self_attn_layer_norm -> self_attn.{q,k,v}_proj
//	final_layer_norm     -> fc1
type optArch struct{}

func (optArch) Name() string {
	return ArchitectureOPT
}

func (optArch) Detect(names []string) bool {
	_, ok := findPrefix(names, optPrefixes, ".self_attn_layer_norm.weight")
	return ok
}

func (optArch) Bind(src nn.ParameterSource, names []string) ([]Block, error) {
	prefix, ok := findPrefix(names, optPrefixes, ".self_attn_layer_norm.weight")
	if !ok {
		return nil, fmt.Errorf("opt: no decoder layers found")
	}

	var blocks []Block
	for _, i := range layerIndices(names, prefix) {
		p := fmt.Sprintf("%s%d", prefix, i)
		b := &binder{src: src}
		block := &optBlock{
			index:    i,
			prefix:   p,
			attnNorm: b.layerNorm(p+".self_attn_layer_norm", optLayerNormEps),
			q:        b.linear(p + ".self_attn.q_proj"),
			k:        b.linear(p + ".self_attn.k_proj"),
			v:        b.linear(p + ".self_attn.v_proj"),
			ffnNorm:  b.layerNorm(p+".final_layer_norm", optLayerNormEps),
			fc1:      b.linear(p + ".fc1"),
		}
		if b.err != nil {
			return nil, b.err
		}
		blocks = append(blocks, block)
	}
	return blocks, nil
}

type optBlock struct {
	index    int
	prefix   string
	attnNorm *nn.LayerNorm
	q, k, v  *nn.Linear
	ffnNorm  *nn.LayerNorm
	fc1      *nn.Linear
}

func (b *optBlock) Index() int {
	return b.index
}

func (b *optBlock) Groups() []Group {
	return []Group{
		{
			Key:       ScaleKey{Block: b.index, Role: RoleQKVInput},
			Name:      b.prefix + ".self_attn.q_proj",
			Norm:      b.attnNorm,
			Consumers: projections(b.q, b.k, b.v),
		},
		{
			Key:       ScaleKey{Block: b.index, Role: RoleFFNInput},
			Name:      b.prefix + ".fc1",
			Norm:      b.ffnNorm,
			Consumers: projections(b.fc1),
		},
	}
}
