package model

import (
	"fmt"
	"strings"

	"github.com/born-ml/smoothquant/internal/nn"
)

const llamaRMSNormEps = 1e-6

var llamaPrefixes = []string{"model.layers.", "layers."}

// llamaArch covers LLaMA-style decoder layers (LLaMA 1-3, Mistral, Mixtral):
//
//	input_layernorm          -> self_attn.{q,k,v}_proj
//	post_attention_layernorm -> mlp.{gate,up}_proj
//
// Mixtral layers replace the MLP with block_sparse_moe; there the router and
// every expert's w1/w3 read the post-attention norm output:
//
//	post_attention_layernorm -> block_sparse_moe.gate, experts.{j}.w1, experts.{j}.w3
type llamaArch struct {
	name string
}

func (a llamaArch) Name() string {
	return a.name
}

// Detect tells Mixtral (mistral) apart from dense LLaMA by its MoE tensors;
// dense Mistral checkpoints are indistinguishable from LLaMA and bind the same way.
func (a llamaArch) Detect(names []string) bool {
	if _, ok := findPrefix(names, llamaPrefixes, ".input_layernorm.weight"); !ok {
		return false
	}
	return hasMoE(names) == (a.name == ArchitectureMistral)
}

func hasMoE(names []string) bool {
	for _, name := range names {
		if strings.Contains(name, ".block_sparse_moe.") {
			return true
		}
	}
	return false
}

func (a llamaArch) Bind(src nn.ParameterSource, names []string) ([]Block, error) {
	prefix, ok := findPrefix(names, llamaPrefixes, ".input_layernorm.weight")
	if !ok {
		return nil, fmt.Errorf("%s: no decoder layers found", a.name)
	}

	var blocks []Block
	for _, i := range layerIndices(names, prefix) {
		p := fmt.Sprintf("%s%d", prefix, i)
		b := &binder{src: src}
		block := &llamaBlock{
			index:    i,
			prefix:   p,
			attnNorm: b.rmsNorm(p+".input_layernorm", llamaRMSNormEps),
			q:        b.linear(p + ".self_attn.q_proj"),
			k:        b.linear(p + ".self_attn.k_proj"),
			v:        b.linear(p + ".self_attn.v_proj"),
			ffnNorm:  b.rmsNorm(p+".post_attention_layernorm", llamaRMSNormEps),
		}

		moePrefix := p + ".block_sparse_moe"
		if src.Has(moePrefix + ".gate.weight") {
			block.ffnName = moePrefix + ".gate"
			block.ffn = []*nn.Linear{b.linear(moePrefix + ".gate")}
			for _, j := range layerIndices(names, moePrefix+".experts.") {
				e := fmt.Sprintf("%s.experts.%d", moePrefix, j)
				block.ffn = append(block.ffn, b.linear(e+".w1"), b.linear(e+".w3"))
			}
		} else {
			block.ffnName = p + ".mlp.gate_proj"
			block.ffn = []*nn.Linear{b.linear(p + ".mlp.gate_proj"), b.linear(p + ".mlp.up_proj")}
		}

		if b.err != nil {
			return nil, b.err
		}
		blocks = append(blocks, block)
	}
	return blocks, nil
}

type llamaBlock struct {
	index    int
	prefix   string
	attnNorm *nn.RMSNorm
	q, k, v  *nn.Linear
	ffnNorm  *nn.RMSNorm
	ffnName  string
	ffn      []*nn.Linear
}

func (b *llamaBlock) Index() int {
	return b.index
}

func (b *llamaBlock) Groups() []Group {
	return []Group{
		{
			Key:       ScaleKey{Block: b.index, Role: RoleQKVInput},
			Name:      b.prefix + ".self_attn.q_proj",
			Norm:      b.attnNorm,
			Consumers: projections(b.q, b.k, b.v),
		},
		{
			Key:       ScaleKey{Block: b.index, Role: RoleFFNInput},
			Name:      b.ffnName,
			Norm:      b.ffnNorm,
			Consumers: projections(b.ffn...),
		},
	}
}
