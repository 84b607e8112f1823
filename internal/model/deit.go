package model

import (
	"fmt"

	"github.com/born-ml/smoothquant/internal/nn"
)

const deitLayerNormEps = 1e-6

var deitPrefixes = []string{"blocks.", "model.blocks."}

// deitArch covers timm ViT/DeiT blocks:
//
//	norm1 -> attn.qkv
//	norm2 -> mlp.fc1
//
// Activation statistics for these models are recorded under
// "model.blocks[i].attn.qkv" and "model.blocks[i].mlp.fc1".
type deitArch struct{}

func (deitArch) Name() string {
	return ArchitectureDeiT
}

func (deitArch) Detect(names []string) bool {
	_, ok := findPrefix(names, deitPrefixes, ".attn.qkv.weight")
	return ok
}

func (deitArch) Bind(src nn.ParameterSource, names []string) ([]Block, error) {
	prefix, ok := findPrefix(names, deitPrefixes, ".attn.qkv.weight")
	if !ok {
		return nil, fmt.Errorf("deit: no blocks found")
	}

	var blocks []Block
	for _, i := range layerIndices(names, prefix) {
		p := fmt.Sprintf("%s%d", prefix, i)
		b := &binder{src: src}
		block := &deitBlock{
			index:  i,
			norm1:  b.layerNorm(p+".norm1", deitLayerNormEps),
			qkv:    b.linear(p + ".attn.qkv"),
			norm2:  b.layerNorm(p+".norm2", deitLayerNormEps),
			mlpFC1: b.linear(p + ".mlp.fc1"),
		}
		if b.err != nil {
			return nil, b.err
		}
		blocks = append(blocks, block)
	}
	return blocks, nil
}

type deitBlock struct {
	index  int
	norm1  *nn.LayerNorm
	qkv    *nn.Linear
	norm2  *nn.LayerNorm
	mlpFC1 *nn.Linear
}

func (b *deitBlock) Index() int {
	return b.index
}

func (b *deitBlock) Groups() []Group {
	return []Group{
		{
			Key:       ScaleKey{Block: b.index, Role: RoleQKVInput},
			Name:      fmt.Sprintf("model.blocks[%d].attn.qkv", b.index),
			Norm:      b.norm1,
			Consumers: projections(b.qkv),
		},
		{
			Key:       ScaleKey{Block: b.index, Role: RoleFFNInput},
			Name:      fmt.Sprintf("model.blocks[%d].mlp.fc1", b.index),
			Norm:      b.norm2,
			Consumers: projections(b.mlpFC1),
		},
	}
}
