package model

import (
	"fmt"

	"github.com/born-ml/smoothquant/internal/nn"
)

const bloomLayerNormEps = 1e-5

var bloomPrefixes = []string{"transformer.h.", "h."}

// bloomArch covers BloomBlock, whose attention projection is fused:
//
//	input_layernorm          -> self_attention.query_key_value
//	post_attention_layernorm -> mlp.dense_h_to_4h
type bloomArch struct{}

func (bloomArch) Name() string {
	return ArchitectureBLOOM
}

func (bloomArch) Detect(names []string) bool {
	_, ok := findPrefix(names, bloomPrefixes, ".self_attention.query_key_value.weight")
	return ok
}

func (bloomArch) Bind(src nn.ParameterSource, names []string) ([]Block, error) {
	prefix, ok := findPrefix(names, bloomPrefixes, ".self_attention.query_key_value.weight")
	if !ok {
		return nil, fmt.Errorf("bloom: no blocks found")
	}

	var blocks []Block
	for _, i := range layerIndices(names, prefix) {
		p := fmt.Sprintf("%s%d", prefix, i)
		b := &binder{src: src}
		block := &bloomBlock{
			index:    i,
			prefix:   p,
			attnNorm: b.layerNorm(p+".input_layernorm", bloomLayerNormEps),
			qkv:      b.linear(p + ".self_attention.query_key_value"),
			ffnNorm:  b.layerNorm(p+".post_attention_layernorm", bloomLayerNormEps),
			fc1:      b.linear(p + ".mlp.dense_h_to_4h"),
		}
		if b.err != nil {
			return nil, b.err
		}
		blocks = append(blocks, block)
	}
	return blocks, nil
}

type bloomBlock struct {
	index    int
	prefix   string
	attnNorm *nn.LayerNorm
	qkv      *nn.Linear
	ffnNorm  *nn.LayerNorm
	fc1      *nn.Linear
}

func (b *bloomBlock) Index() int {
	return b.index
}

func (b *bloomBlock) Groups() []Group {
	return []Group{
		{
			Key:       ScaleKey{Block: b.index, Role: RoleQKVInput},
			Name:      b.prefix + ".self_attention.query_key_value",
			Norm:      b.attnNorm,
			Consumers: projections(b.qkv),
		},
		{
			Key:       ScaleKey{Block: b.index, Role: RoleFFNInput},
			Name:      b.prefix + ".mlp.dense_h_to_4h",
			Norm:      b.ffnNorm,
			Consumers: projections(b.fc1),
		},
	}
}
