package smooth

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/born-ml/smoothquant/internal/nn"
)

// DefaultFloor is the lower bound applied to weight maxima and smoothing scales.
const DefaultFloor = 1e-5

// DefaultAlpha balances migration evenly between activations and weights.
const DefaultAlpha = 0.5

// Balancer computes and applies smoothing scales.
// The zero value is not usable; create one with New.
type Balancer struct {
	floor float64
}

// Option configures a Balancer.
type Option func(*Balancer)

// WithFloor overrides the clamp floor.
func WithFloor(floor float64) Option {
	return func(b *Balancer) {
		b.floor = floor
	}
}

// New creates a Balancer.
func New(opts ...Option) (*Balancer, error) {
	b := &Balancer{floor: DefaultFloor}
	for _, opt := range opts {
		opt(b)
	}
	if math.IsNaN(b.floor) || math.IsInf(b.floor, 0) || b.floor <= 0 {
		return nil, invalid(ErrInvalidFloor, "", "got %g", b.floor)
	}
	return b, nil
}

var defaultBalancer = &Balancer{floor: DefaultFloor}

// Floor returns the clamp floor.
func (b *Balancer) Floor() float64 {
	return b.floor
}

// Apply smooths norm and consumers in place with the default floor.
func Apply(norm nn.AffineNorm, consumers []nn.Projection, actScales []float64, alpha float64) error {
	return defaultBalancer.Apply(norm, consumers, actScales, alpha)
}

// Apply computes the smoothing scale for (norm, consumers) and rewrites their
// parameters in place. Nothing is modified unless every precondition holds and
// the scale is fully computed.
func (b *Balancer) Apply(norm nn.AffineNorm, consumers []nn.Projection, actScales []float64, alpha float64) error {
	scales, err := b.ComputeScales(norm, consumers, actScales, alpha)
	if err != nil {
		return err
	}
	return ApplyScales(norm, consumers, scales)
}

// ComputeScales returns the smoothing scale for (norm, consumers) without
// modifying any parameter.
//
// Arithmetic follows the precision of the first consumer's weight: activation
// scales are rounded to it on entry and the result is rounded to it on exit.
func (b *Balancer) ComputeScales(norm nn.AffineNorm, consumers []nn.Projection, actScales []float64, alpha float64) ([]float64, error) {
	if err := Validate(norm, consumers, actScales, alpha); err != nil {
		return nil, err
	}

	dtype := consumers[0].DataType()
	channels := norm.Channels()

	act := make([]float64, channels)
	for c, v := range actScales {
		act[c] = dtype.Round(v)
	}

	weightScales := WeightScales(consumers)

	scales := make([]float64, channels)
	for c := range scales {
		w := math.Max(weightScales[c], b.floor)
		s := math.Pow(act[c], alpha) / math.Pow(w, 1-alpha)
		s = dtype.Round(math.Max(s, b.floor))
		if math.IsInf(s, 0) || math.IsNaN(s) || s <= 0 {
			return nil, invalid(ErrDegenerateScale, norm.Scale().Name(),
				"channel %d: activation %g, weight %g, alpha %g", c, act[c], w, alpha)
		}
		scales[c] = s
	}
	if err := checkRewrite(norm, consumers, scales); err != nil {
		return nil, err
	}
	return scales, nil
}

// WeightScales returns the per-input-channel maximum absolute weight across
// all consumers, before flooring.
func WeightScales(consumers []nn.Projection) []float64 {
	if len(consumers) == 0 {
		return nil
	}
	out := make([]float64, consumers[0].InFeatures())
	for _, fc := range consumers {
		for c, v := range columnAbsMax(fc) {
			out[c] = math.Max(out[c], v)
		}
	}
	return out
}

// ApplyScales divides the norm's gamma and beta by scales and multiplies
// column c of every consumer weight by scales[c].
//
// The same scales slice is used for every parameter; it is not modified.
func ApplyScales(norm nn.AffineNorm, consumers []nn.Projection, scales []float64) error {
	if err := validateLayers(norm, consumers); err != nil {
		return err
	}
	if len(scales) != norm.Channels() {
		return invalid(ErrShapeMismatch, norm.Scale().Name(),
			"%d smoothing scales for %d channels", len(scales), norm.Channels())
	}
	for c, s := range scales {
		if math.IsInf(s, 0) || math.IsNaN(s) || s <= 0 {
			return invalid(ErrDegenerateScale, norm.Scale().Name(), "channel %d: scale %g", c, s)
		}
	}
	if err := checkRewrite(norm, consumers, scales); err != nil {
		return err
	}

	gamma := norm.Scale()
	floats.Div(gamma.Data(), scales)
	gamma.Round()

	if beta := norm.Shift(); beta != nil {
		floats.Div(beta.Data(), scales)
		beta.Round()
	}

	for _, fc := range consumers {
		weight := fc.Weight()
		w := weight.Matrix()
		rows, _ := w.Dims()
		for i := 0; i < rows; i++ {
			floats.Mul(w.RawRowView(i), scales)
		}
		weight.Round()
	}
	return nil
}

// checkRewrite reports ErrDegenerateScale if dividing the norm parameters or
// multiplying a consumer column by scales would leave a value that is not
// finite in its storage precision. A float16 gamma of 1 over a floored scale
// of 1e-5 is one such case.
func checkRewrite(norm nn.AffineNorm, consumers []nn.Projection, scales []float64) error {
	for _, p := range []*nn.Parameter{norm.Scale(), norm.Shift()} {
		if p == nil {
			continue
		}
		dtype := p.DType()
		for c, v := range p.Data() {
			if r := dtype.Round(v / scales[c]); math.IsInf(r, 0) || math.IsNaN(r) {
				return invalid(ErrDegenerateScale, p.Name(),
					"channel %d: %g / scale %g overflows %s", c, v, scales[c], dtype)
			}
		}
	}
	for _, fc := range consumers {
		weight := fc.Weight()
		dtype := weight.DType()
		for c, m := range columnAbsMax(fc) {
			if r := dtype.Round(m * scales[c]); math.IsInf(r, 0) || math.IsNaN(r) {
				return invalid(ErrDegenerateScale, weight.Name(),
					"channel %d: |W| %g * scale %g overflows %s", c, m, scales[c], dtype)
			}
		}
	}
	return nil
}

// columnAbsMax reduces |W| over the output dimension.
func columnAbsMax(fc nn.Projection) []float64 {
	w := fc.Weight().Matrix()
	rows, cols := w.Dims()
	out := make([]float64, cols)
	for i := 0; i < rows; i++ {
		for j, v := range w.RawRowView(i) {
			if a := math.Abs(v); a > out[j] {
				out[j] = a
			}
		}
	}
	return out
}
