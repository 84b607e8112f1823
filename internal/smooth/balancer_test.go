package smooth

import (
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/born-ml/smoothquant/internal/nn"
	"github.com/born-ml/smoothquant/internal/tensor"
)

func param(name string, dtype tensor.DataType, shape tensor.Shape, values []float64) *nn.Parameter {
	data := make([]float64, len(values))
	copy(data, values)
	return nn.NewParameter(name, dtype, shape, data)
}

func layerNorm(t *testing.T, gamma, beta []float64) *nn.LayerNorm {
	t.Helper()
	c := len(gamma)
	ln, err := nn.NewLayerNorm(
		param("ln.weight", tensor.Float64, tensor.Shape{c}, gamma),
		param("ln.bias", tensor.Float64, tensor.Shape{c}, beta),
		1e-5,
	)
	require.NoError(t, err)
	return ln
}

func linear(t *testing.T, name string, dtype tensor.DataType, out, in int, weight, bias []float64) *nn.Linear {
	t.Helper()
	var b *nn.Parameter
	if bias != nil {
		b = param(name+".bias", dtype, tensor.Shape{out}, bias)
	}
	fc, err := nn.NewLinear(param(name+".weight", dtype, tensor.Shape{out, in}, weight), b)
	require.NoError(t, err)
	return fc
}

func randSlice(r *rand.Rand, n int, scale float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = (r.Float64()*2 - 1) * scale
	}
	return out
}

func randPositive(r *rand.Rand, n int, scale float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = r.Float64() * scale
	}
	return out
}

// composed runs x through norm and then every consumer.
func composed(norm nn.AffineNorm, consumers []nn.Projection, x *mat.Dense) []*mat.Dense {
	h := norm.Forward(x)
	out := make([]*mat.Dense, len(consumers))
	for i, fc := range consumers {
		out[i] = fc.Forward(h)
	}
	return out
}

func maxAbsDiff(a, b *mat.Dense) float64 {
	return floats.Distance(a.RawMatrix().Data, b.RawMatrix().Data, math.Inf(1))
}

// TestApply_EndToEnd checks the four-channel worked example literally.
func TestApply_EndToEnd(t *testing.T) {
	ln := layerNorm(t, []float64{1, 1, 1, 1}, []float64{0, 0, 0, 0})
	// Per-channel abs-max over rows: [2, 4, 1, 8].
	weight := []float64{
		2, -4, 0.5, 8,
		-1, 1, -1, 3,
	}
	fc := linear(t, "fc1", tensor.Float64, 2, 4, weight, []float64{0.1, -0.2})
	consumers := []nn.Projection{fc}
	act := []float64{8, 2, 4, 1}

	x := mat.NewDense(1, 4, []float64{1, -2, 3, 0.5})
	before := composed(ln, consumers, x)

	assert.Equal(t, []float64{2, 4, 1, 8}, WeightScales(consumers))

	require.NoError(t, Apply(ln, consumers, act, 0.5))

	want := []float64{2, math.Sqrt(0.5), 2, math.Sqrt(0.125)}
	assert.InDeltaSlice(t, []float64{1 / want[0], 1 / want[1], 1 / want[2], 1 / want[3]}, ln.Gamma.Data(), 1e-12)
	assert.Equal(t, []float64{0, 0, 0, 0}, ln.Beta.Data())

	w := fc.Weight().Matrix()
	for i := 0; i < 2; i++ {
		for c := 0; c < 4; c++ {
			assert.InDelta(t, weight[i*4+c]*want[c], w.At(i, c), 1e-12, "W[%d][%d]", i, c)
		}
	}

	after := composed(ln, consumers, x)
	assert.Less(t, maxAbsDiff(before[0], after[0]), 1e-9)
}

func TestComputeScales_DoesNotMutate(t *testing.T) {
	ln := layerNorm(t, []float64{1, 2}, []float64{3, 4})
	fc := linear(t, "fc", tensor.Float64, 1, 2, []float64{1, 1}, nil)

	scales, err := defaultBalancer.ComputeScales(ln, []nn.Projection{fc}, []float64{4, 9}, 0.5)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{2, 3}, scales, 1e-12)

	assert.Equal(t, []float64{1, 2}, ln.Gamma.Data())
	assert.Equal(t, []float64{3, 4}, ln.Beta.Data())
	assert.Equal(t, []float64{1, 1}, fc.Weight().Data())
}

func TestApply_ValuePreservation(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	const channels = 16

	for _, alpha := range []float64{0, 0.25, 0.5, 0.75, 1} {
		ln := layerNorm(t, randSlice(r, channels, 2), randSlice(r, channels, 1))
		q := linear(t, "q", tensor.Float64, 8, channels, randSlice(r, 8*channels, 1), randSlice(r, 8, 1))
		k := linear(t, "k", tensor.Float64, 8, channels, randSlice(r, 8*channels, 3), nil)
		v := linear(t, "v", tensor.Float64, 4, channels, randSlice(r, 4*channels, 0.5), randSlice(r, 4, 1))
		consumers := []nn.Projection{q, k, v}

		act := randPositive(r, channels, 20)
		act[3] = 0 // dead channel

		x := mat.NewDense(5, channels, randSlice(r, 5*channels, 10))
		before := composed(ln, consumers, x)

		require.NoError(t, Apply(ln, consumers, act, alpha))

		after := composed(ln, consumers, x)
		for i := range before {
			assert.Less(t, maxAbsDiff(before[i], after[i]), 1e-8, "alpha=%g consumer %d", alpha, i)
		}
	}
}

func TestApply_RMSNormValuePreservation(t *testing.T) {
	r := rand.New(rand.NewPCG(3, 4))
	const channels = 8

	rms, err := nn.NewRMSNorm(param("norm.weight", tensor.Float64, tensor.Shape{channels}, randSlice(r, channels, 1)), 1e-6)
	require.NoError(t, err)
	gate := linear(t, "gate", tensor.Float64, 12, channels, randSlice(r, 12*channels, 1), nil)
	up := linear(t, "up", tensor.Float64, 12, channels, randSlice(r, 12*channels, 1), nil)
	consumers := []nn.Projection{gate, up}

	x := mat.NewDense(3, channels, randSlice(r, 3*channels, 4))
	before := composed(rms, consumers, x)

	require.NoError(t, Apply(rms, consumers, randPositive(r, channels, 50), 0.8))

	after := composed(rms, consumers, x)
	for i := range before {
		assert.Less(t, maxAbsDiff(before[i], after[i]), 1e-9)
	}
}

func TestComputeScales_Positivity(t *testing.T) {
	tests := []struct {
		name   string
		act    []float64
		weight []float64
		alpha  float64
	}{
		{"zero activations", []float64{0, 0, 0}, []float64{1, 2, 3}, 0.5},
		{"zero weights", []float64{1, 2, 3}, []float64{0, 0, 0}, 0.5},
		{"all zero", []float64{0, 0, 0}, []float64{0, 0, 0}, 0.5},
		{"all zero alpha one", []float64{0, 0, 0}, []float64{0, 0, 0}, 1},
		{"huge weights alpha zero", []float64{1, 1, 1}, []float64{1e12, 1e12, 1e12}, 0},
		{"tiny activations", []float64{1e-30, 1e-20, 0}, []float64{5, 5, 5}, 0.9},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ln := layerNorm(t, []float64{1, 1, 1}, []float64{0, 0, 0})
			fc := linear(t, "fc", tensor.Float64, 1, 3, tt.weight, nil)

			scales, err := defaultBalancer.ComputeScales(ln, []nn.Projection{fc}, tt.act, tt.alpha)
			require.NoError(t, err)
			for c, s := range scales {
				assert.GreaterOrEqual(t, s, DefaultFloor, "channel %d", c)
			}
		})
	}
}

func TestComputeScales_DeadChannelUsesFloor(t *testing.T) {
	ln := layerNorm(t, []float64{1, 1}, []float64{0, 0})
	fc := linear(t, "fc", tensor.Float64, 1, 2, []float64{0, 0}, nil)

	scales, err := defaultBalancer.ComputeScales(ln, []nn.Projection{fc}, []float64{0, 0}, 0.5)
	require.NoError(t, err)
	assert.Equal(t, []float64{DefaultFloor, DefaultFloor}, scales)
}

func TestComputeScales_AlphaLimits(t *testing.T) {
	r := rand.New(rand.NewPCG(5, 6))
	const channels = 6

	ln := layerNorm(t, randSlice(r, channels, 1), randSlice(r, channels, 1))
	fc := linear(t, "fc", tensor.Float64, 3, channels, randSlice(r, 3*channels, 4), nil)
	consumers := []nn.Projection{fc}
	act := randPositive(r, channels, 30)
	weightScales := WeightScales(consumers)

	// alpha = 0: scale depends only on the weights.
	scales, err := defaultBalancer.ComputeScales(ln, consumers, act, 0)
	require.NoError(t, err)
	for c := range scales {
		want := math.Max(1/math.Max(weightScales[c], DefaultFloor), DefaultFloor)
		assert.InDelta(t, want, scales[c], 1e-12, "alpha=0 channel %d", c)
	}

	// Changing activations has no effect at alpha = 0.
	other, err := defaultBalancer.ComputeScales(ln, consumers, randPositive(r, channels, 1000), 0)
	require.NoError(t, err)
	assert.Equal(t, scales, other)

	// alpha = 1: scale depends only on the activations.
	scales, err = defaultBalancer.ComputeScales(ln, consumers, act, 1)
	require.NoError(t, err)
	for c := range scales {
		assert.InDelta(t, math.Max(act[c], DefaultFloor), scales[c], 1e-12, "alpha=1 channel %d", c)
	}

	// Near the limits the closed form converges to the same values.
	near, err := defaultBalancer.ComputeScales(ln, consumers, act, 1-1e-9)
	require.NoError(t, err)
	assert.InDeltaSlice(t, scales, near, 1e-6)
}

// TestComputeScales_MaxAcrossConsumers distinguishes the element-wise maximum
// from an average of the consumers' weight maxima.
func TestComputeScales_MaxAcrossConsumers(t *testing.T) {
	ln := layerNorm(t, []float64{1, 1}, []float64{0, 0})
	a := linear(t, "a", tensor.Float64, 1, 2, []float64{1, -4}, nil)
	b := linear(t, "b", tensor.Float64, 1, 2, []float64{-4, 1}, nil)
	consumers := []nn.Projection{a, b}

	assert.Equal(t, []float64{4, 4}, WeightScales(consumers))

	scales, err := defaultBalancer.ComputeScales(ln, consumers, []float64{16, 16}, 0.5)
	require.NoError(t, err)

	// max: sqrt(16)/sqrt(4) = 2; mean would give 4/sqrt(2.5).
	assert.InDeltaSlice(t, []float64{2, 2}, scales, 1e-12)
	assert.NotEqual(t, 4/math.Sqrt(2.5), scales[0])
}

// TestApply_NotIdempotent asserts that a second pass keeps changing the
// parameters: the weight maxima it sees have already been scaled.
func TestApply_NotIdempotent(t *testing.T) {
	ln := layerNorm(t, []float64{1, 1, 1, 1}, []float64{0.5, 0.5, 0.5, 0.5})
	fc := linear(t, "fc", tensor.Float64, 1, 4, []float64{2, 4, 1, 8}, nil)
	consumers := []nn.Projection{fc}
	act := []float64{8, 2, 4, 1}

	require.NoError(t, Apply(ln, consumers, act, 0.5))
	first := ln.Gamma.Clone()

	second, err := defaultBalancer.ComputeScales(ln, consumers, act, 0.5)
	require.NoError(t, err)
	// s2 = sqrt(s1) for this layout, which is 1 only where s1 was.
	assert.InDelta(t, math.Sqrt(2), second[0], 1e-12)

	require.NoError(t, Apply(ln, consumers, act, 0.5))
	assert.NotEqual(t, first.Data(), ln.Gamma.Data())
}

func TestApply_ValidationLeavesParametersUntouched(t *testing.T) {
	fc3 := func(t *testing.T) *nn.Linear {
		return linear(t, "fc3", tensor.Float64, 2, 3, []float64{1, 2, 3, 4, 5, 6}, nil)
	}

	tests := []struct {
		name      string
		consumers func(t *testing.T, fc *nn.Linear) []nn.Projection
		act       []float64
		alpha     float64
		want      error
	}{
		{
			name:      "consumer in_features mismatch",
			consumers: func(t *testing.T, fc *nn.Linear) []nn.Projection { return []nn.Projection{fc, fc3(t)} },
			act:       []float64{1, 1},
			alpha:     0.5,
			want:      ErrShapeMismatch,
		},
		{
			name:      "activation length mismatch",
			consumers: func(t *testing.T, fc *nn.Linear) []nn.Projection { return []nn.Projection{fc} },
			act:       []float64{1, 1, 1},
			alpha:     0.5,
			want:      ErrShapeMismatch,
		},
		{
			name:      "no consumers",
			consumers: func(t *testing.T, fc *nn.Linear) []nn.Projection { return nil },
			act:       []float64{1, 1},
			alpha:     0.5,
			want:      ErrNoConsumers,
		},
		{
			name:      "alpha above one",
			consumers: func(t *testing.T, fc *nn.Linear) []nn.Projection { return []nn.Projection{fc} },
			act:       []float64{1, 1},
			alpha:     1.5,
			want:      ErrInvalidAlpha,
		},
		{
			name:      "alpha below zero",
			consumers: func(t *testing.T, fc *nn.Linear) []nn.Projection { return []nn.Projection{fc} },
			act:       []float64{1, 1},
			alpha:     -0.1,
			want:      ErrInvalidAlpha,
		},
		{
			name:      "alpha NaN",
			consumers: func(t *testing.T, fc *nn.Linear) []nn.Projection { return []nn.Projection{fc} },
			act:       []float64{1, 1},
			alpha:     math.NaN(),
			want:      ErrInvalidAlpha,
		},
		{
			name:      "negative activation scale",
			consumers: func(t *testing.T, fc *nn.Linear) []nn.Projection { return []nn.Projection{fc} },
			act:       []float64{1, -1},
			alpha:     0.5,
			want:      ErrInvalidActivationScale,
		},
		{
			name:      "infinite activation scale",
			consumers: func(t *testing.T, fc *nn.Linear) []nn.Projection { return []nn.Projection{fc} },
			act:       []float64{math.Inf(1), 1},
			alpha:     0.5,
			want:      ErrInvalidActivationScale,
		},
		{
			name:      "same consumer twice",
			consumers: func(t *testing.T, fc *nn.Linear) []nn.Projection { return []nn.Projection{fc, fc} },
			act:       []float64{1, 1},
			alpha:     0.5,
			want:      ErrDuplicateConsumer,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ln := layerNorm(t, []float64{1, 2}, []float64{3, 4})
			fc := linear(t, "fc", tensor.Float64, 2, 2, []float64{1, 2, 3, 4}, nil)

			err := Apply(ln, tt.consumers(t, fc), tt.act, tt.alpha)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)

			var verr *ValidationError
			assert.True(t, errors.As(err, &verr))

			assert.Equal(t, []float64{1, 2}, ln.Gamma.Data())
			assert.Equal(t, []float64{3, 4}, ln.Beta.Data())
			assert.Equal(t, []float64{1, 2, 3, 4}, fc.Weight().Data())
		})
	}
}

func TestApply_UnsupportedLayer(t *testing.T) {
	fc := linear(t, "fc", tensor.Float64, 1, 2, []float64{1, 2}, nil)
	err := Apply(nil, []nn.Projection{fc}, []float64{1, 1}, 0.5)
	assert.ErrorIs(t, err, ErrUnsupportedLayer)
}

func TestApply_Float16(t *testing.T) {
	ln, err := nn.NewLayerNorm(
		param("ln.weight", tensor.Float16, tensor.Shape{3}, []float64{1, 1, 1}),
		param("ln.bias", tensor.Float16, tensor.Shape{3}, []float64{0.25, 0.25, 0.25}),
		1e-5,
	)
	require.NoError(t, err)
	fc := linear(t, "fc", tensor.Float16, 2, 3, []float64{0.3, 1.7, 2.9, -0.6, 0.1, 5}, nil)
	consumers := []nn.Projection{fc}
	act := []float64{3.3, 0.07, 11}

	scales, err := defaultBalancer.ComputeScales(ln, consumers, act, 0.5)
	require.NoError(t, err)
	for _, s := range scales {
		assert.Equal(t, tensor.Float16.Round(s), s, "scale must be representable in float16")
	}

	require.NoError(t, Apply(ln, consumers, act, 0.5))
	for _, p := range append(ln.Parameters(), fc.Parameters()...) {
		for _, v := range p.Data() {
			assert.Equal(t, tensor.Float16.Round(v), v, "%s must stay in float16", p.Name())
		}
	}
}

func TestApply_DegenerateScale(t *testing.T) {
	ln := layerNorm(t, []float64{1}, []float64{0})
	fc := linear(t, "fc", tensor.Float16, 1, 1, []float64{1}, nil)

	// 1e6 overflows float16 once coerced to the weight precision.
	err := Apply(ln, []nn.Projection{fc}, []float64{1e6}, 1)
	assert.ErrorIs(t, err, ErrDegenerateScale)
	assert.Equal(t, []float64{1}, ln.Gamma.Data())
	assert.Equal(t, []float64{1}, fc.Weight().Data())
}

func TestNew_Floor(t *testing.T) {
	b, err := New(WithFloor(1e-3))
	require.NoError(t, err)
	assert.Equal(t, 1e-3, b.Floor())

	ln := layerNorm(t, []float64{1}, []float64{0})
	fc := linear(t, "fc", tensor.Float64, 1, 1, []float64{0}, nil)
	scales, err := b.ComputeScales(ln, []nn.Projection{fc}, []float64{0}, 0.5)
	require.NoError(t, err)
	assert.Equal(t, []float64{1e-3}, scales)

	for _, floor := range []float64{0, -1, math.NaN(), math.Inf(1)} {
		_, err := New(WithFloor(floor))
		assert.ErrorIs(t, err, ErrInvalidFloor)
	}
}

func TestApplyScales_Rejects(t *testing.T) {
	ln := layerNorm(t, []float64{1, 1}, []float64{0, 0})
	fc := linear(t, "fc", tensor.Float64, 1, 2, []float64{1, 1}, nil)
	consumers := []nn.Projection{fc}

	assert.ErrorIs(t, ApplyScales(ln, consumers, []float64{1}), ErrShapeMismatch)
	assert.ErrorIs(t, ApplyScales(ln, consumers, []float64{1, 0}), ErrDegenerateScale)
	assert.ErrorIs(t, ApplyScales(ln, consumers, []float64{1, math.Inf(1)}), ErrDegenerateScale)
	assert.Equal(t, []float64{1, 1}, ln.Gamma.Data())
}

// TestApply_Float16DeadChannelOverflow covers a zero-activation channel whose
// floored scale would push gamma past the float16 range.
func TestApply_Float16DeadChannelOverflow(t *testing.T) {
	gamma := param("ln.weight", tensor.Float16, tensor.Shape{2}, []float64{1, 1})
	beta := param("ln.bias", tensor.Float16, tensor.Shape{2}, []float64{0.1, 0.1})
	ln, err := nn.NewLayerNorm(gamma, beta, 1e-5)
	require.NoError(t, err)
	fc := linear(t, "fc", tensor.Float16, 1, 2, []float64{1, 1}, nil)
	consumers := []nn.Projection{fc}

	wantGamma := append([]float64(nil), gamma.Data()...)
	wantBeta := append([]float64(nil), beta.Data()...)

	_, err = defaultBalancer.ComputeScales(ln, consumers, []float64{0, 4}, 0.5)
	assert.ErrorIs(t, err, ErrDegenerateScale)

	err = Apply(ln, consumers, []float64{0, 4}, 0.5)
	require.ErrorIs(t, err, ErrDegenerateScale)
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "ln.weight", verr.Layer)
	assert.Contains(t, verr.Details, "channel 0")

	assert.Equal(t, wantGamma, gamma.Data())
	assert.Equal(t, wantBeta, beta.Data())
	assert.Equal(t, []float64{1, 1}, fc.Weight().Data())

	// Handing the same scale straight to ApplyScales is rejected too.
	assert.ErrorIs(t, ApplyScales(ln, consumers, []float64{tensor.Float16.Round(1e-5), 1}), ErrDegenerateScale)
	assert.Equal(t, wantGamma, gamma.Data())
}

func TestApply_Float16WeightOverflow(t *testing.T) {
	ln := layerNorm(t, []float64{1, 1}, []float64{0, 0})
	fc := linear(t, "fc", tensor.Float16, 1, 2, []float64{60000, 1}, nil)

	// alpha 1 gives s = act, and 60000 * 4 exceeds the float16 range.
	err := Apply(ln, []nn.Projection{fc}, []float64{4, 1}, 1)
	require.ErrorIs(t, err, ErrDegenerateScale)
	assert.ErrorContains(t, err, "fc.weight")
	assert.Equal(t, []float64{1, 1}, ln.Gamma.Data())
	assert.Equal(t, []float64{60000, 1}, fc.Weight().Data())
}
