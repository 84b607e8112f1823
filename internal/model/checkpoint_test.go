package model

import (
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/born-ml/smoothquant/internal/loader"
	"github.com/born-ml/smoothquant/internal/tensor"
)

// synthetic builds small random checkpoints with the tensor layout of each
// supported architecture.
type synthetic struct {
	t     *testing.T
	rng   *rand.Rand
	dtype tensor.DataType
	sd    loader.StateDict
}

func newSynthetic(t *testing.T) *synthetic {
	t.Helper()
	return &synthetic{
		t:     t,
		rng:   rand.New(rand.NewPCG(7, 11)),
		dtype: tensor.Float32,
		sd:    loader.StateDict{},
	}
}

func (s *synthetic) add(name string, shape tensor.Shape, values []float64) {
	s.t.Helper()
	tt, err := loader.NewTensor(name, s.dtype, shape, values)
	require.NoError(s.t, err)
	s.sd[name] = tt
}

func (s *synthetic) uniform(n int, lo, hi float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = lo + (hi-lo)*s.rng.Float64()
	}
	return out
}

func (s *synthetic) layerNorm(prefix string, channels int) {
	s.add(prefix+".weight", tensor.Shape{channels}, s.uniform(channels, 0.5, 1.5))
	s.add(prefix+".bias", tensor.Shape{channels}, s.uniform(channels, -0.2, 0.2))
}

func (s *synthetic) rmsNorm(prefix string, channels int) {
	s.add(prefix+".weight", tensor.Shape{channels}, s.uniform(channels, 0.5, 1.5))
}

func (s *synthetic) linear(prefix string, out, in int, bias bool) {
	s.add(prefix+".weight", tensor.Shape{out, in}, s.uniform(out*in, -1, 1))
	if bias {
		s.add(prefix+".bias", tensor.Shape{out}, s.uniform(out, -0.1, 0.1))
	}
}

func (s *synthetic) opt(blocks, hidden int) loader.StateDict {
	s.add("model.decoder.embed_tokens.weight", tensor.Shape{4, hidden}, s.uniform(4*hidden, -1, 1))
	for i := range blocks {
		p := fmt.Sprintf("model.decoder.layers.%d", i)
		s.layerNorm(p+".self_attn_layer_norm", hidden)
		for _, proj := range []string{"q_proj", "k_proj", "v_proj", "out_proj"} {
			s.linear(p+".self_attn."+proj, hidden, hidden, true)
		}
		s.layerNorm(p+".final_layer_norm", hidden)
		s.linear(p+".fc1", 2*hidden, hidden, true)
		s.linear(p+".fc2", hidden, 2*hidden, true)
	}
	return s.sd
}

func (s *synthetic) bloom(blocks, hidden int) loader.StateDict {
	for i := range blocks {
		p := fmt.Sprintf("transformer.h.%d", i)
		s.layerNorm(p+".input_layernorm", hidden)
		s.linear(p+".self_attention.query_key_value", 3*hidden, hidden, true)
		s.linear(p+".self_attention.dense", hidden, hidden, true)
		s.layerNorm(p+".post_attention_layernorm", hidden)
		s.linear(p+".mlp.dense_h_to_4h", 4*hidden, hidden, true)
		s.linear(p+".mlp.dense_4h_to_h", hidden, 4*hidden, true)
	}
	return s.sd
}

func (s *synthetic) deit(blocks, hidden int) loader.StateDict {
	s.add("cls_token", tensor.Shape{1, 1, hidden}, s.uniform(hidden, -1, 1))
	for i := range blocks {
		p := fmt.Sprintf("blocks.%d", i)
		s.layerNorm(p+".norm1", hidden)
		s.linear(p+".attn.qkv", 3*hidden, hidden, true)
		s.linear(p+".attn.proj", hidden, hidden, true)
		s.layerNorm(p+".norm2", hidden)
		s.linear(p+".mlp.fc1", 4*hidden, hidden, true)
		s.linear(p+".mlp.fc2", hidden, 4*hidden, true)
	}
	return s.sd
}

func (s *synthetic) llama(blocks, hidden int) loader.StateDict {
	for i := range blocks {
		p := fmt.Sprintf("model.layers.%d", i)
		s.rmsNorm(p+".input_layernorm", hidden)
		for _, proj := range []string{"q_proj", "k_proj", "v_proj", "o_proj"} {
			s.linear(p+".self_attn."+proj, hidden, hidden, false)
		}
		s.rmsNorm(p+".post_attention_layernorm", hidden)
		s.linear(p+".mlp.gate_proj", 2*hidden, hidden, false)
		s.linear(p+".mlp.up_proj", 2*hidden, hidden, false)
		s.linear(p+".mlp.down_proj", hidden, 2*hidden, false)
	}
	s.rmsNorm("model.norm", hidden)
	return s.sd
}

func (s *synthetic) mixtral(blocks, hidden, experts int) loader.StateDict {
	for i := range blocks {
		p := fmt.Sprintf("model.layers.%d", i)
		s.rmsNorm(p+".input_layernorm", hidden)
		for _, proj := range []string{"q_proj", "k_proj", "v_proj", "o_proj"} {
			s.linear(p+".self_attn."+proj, hidden, hidden, false)
		}
		s.rmsNorm(p+".post_attention_layernorm", hidden)
		s.linear(p+".block_sparse_moe.gate", experts, hidden, false)
		for j := range experts {
			e := fmt.Sprintf("%s.block_sparse_moe.experts.%d", p, j)
			s.linear(e+".w1", 2*hidden, hidden, false)
			s.linear(e+".w2", hidden, 2*hidden, false)
			s.linear(e+".w3", 2*hidden, hidden, false)
		}
	}
	return s.sd
}

// actScales returns positive statistics for every group of m, with one
// outlier channel per group.
func (s *synthetic) actScales(m *Model) map[string][]float64 {
	named := make(map[string][]float64)
	for _, g := range m.Groups() {
		v := s.uniform(g.Norm.Channels(), 0.1, 2)
		v[s.rng.IntN(len(v))] = 60
		named[g.Name] = v
	}
	return named
}
