// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package smooth_test

import (
	"context"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/smoothquant/loader"
	"github.com/born-ml/smoothquant/nn"
	"github.com/born-ml/smoothquant/smooth"
	"github.com/born-ml/smoothquant/tensor"
)

func TestApply(t *testing.T) {
	gamma := nn.NewParameter("ln.weight", tensor.Float64, tensor.Shape{4}, []float64{1, 1, 1, 1})
	beta := nn.NewParameter("ln.bias", tensor.Float64, tensor.Shape{4}, []float64{0, 0, 0, 0})
	ln, err := nn.NewLayerNorm(gamma, beta, 1e-5)
	require.NoError(t, err)

	w := nn.NewParameter("fc1.weight", tensor.Float64, tensor.Shape{2, 4}, []float64{
		2, -4, 0.5, 8,
		-1, 1, -1, 3,
	})
	fc1, err := nn.NewLinear(w, nil)
	require.NoError(t, err)

	require.NoError(t, smooth.Apply(ln, []nn.Projection{fc1}, []float64{8, 2, 4, 1}, 0.5))

	s := []float64{2, math.Sqrt(0.5), 2, math.Sqrt(0.125)}
	for c := range s {
		assert.InDelta(t, 1/s[c], gamma.Data()[c], 1e-12)
	}
	assert.InDelta(t, 8*s[3], w.Matrix().At(0, 3), 1e-12)

	err = smooth.Apply(ln, []nn.Projection{fc1}, []float64{1, 1, 1}, 0.5)
	assert.ErrorIs(t, err, smooth.ErrShapeMismatch)
}

func TestNew(t *testing.T) {
	b, err := smooth.New(smooth.WithFloor(1e-3))
	require.NoError(t, err)
	assert.Equal(t, 1e-3, b.Floor())

	_, err = smooth.New(smooth.WithFloor(0))
	assert.ErrorIs(t, err, smooth.ErrInvalidFloor)
}

func TestModel(t *testing.T) {
	sd := loader.StateDict{}
	add := func(name string, shape tensor.Shape, values ...float64) {
		tt := &loader.Tensor{Name: name, DTypeName: "F32", Shape: shape}
		require.NoError(t, tt.SetFloat64s(values))
		sd[name] = tt
	}
	p := "model.decoder.layers.0"
	add(p+".self_attn_layer_norm.weight", tensor.Shape{2}, 1, 1)
	add(p+".self_attn_layer_norm.bias", tensor.Shape{2}, 0, 0)
	for _, proj := range []string{"q_proj", "k_proj", "v_proj"} {
		add(fmt.Sprintf("%s.self_attn.%s.weight", p, proj), tensor.Shape{2, 2}, 1, 1, 1, 1)
	}
	add(p+".final_layer_norm.weight", tensor.Shape{2}, 1, 1)
	add(p+".final_layer_norm.bias", tensor.Shape{2}, 0, 0)
	add(p+".fc1.weight", tensor.Shape{2, 2}, 1, 1, 1, 1)

	m, err := smooth.Load(sd, "")
	require.NoError(t, err)
	assert.Contains(t, smooth.Architectures(), m.Arch.Name())

	scales := map[string][]float64{
		p + ".self_attn.q_proj": {4, 1},
		p + ".fc1":              {9, 1},
	}
	report, err := smooth.Model(context.Background(), m, scales, smooth.DefaultOptions())
	require.NoError(t, err)
	require.Len(t, report.Groups, 2)
	assert.InDelta(t, 3, report.Groups[1].MaxScale, 1e-6)

	require.NoError(t, m.Export(sd))
	values, err := sd[p+".final_layer_norm.weight"].Float64s()
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{1.0 / 3, 1}, values, 1e-6)

	delete(scales, p+".fc1")
	_, err = smooth.Model(context.Background(), m, scales, smooth.DefaultOptions())
	assert.ErrorIs(t, err, smooth.ErrMissingScale)
}
