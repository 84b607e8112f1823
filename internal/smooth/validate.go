package smooth

import (
	"math"

	"github.com/born-ml/smoothquant/internal/nn"
)

// Validate checks every precondition of Apply without touching any parameter.
//
// Preconditions:
//   - norm has a 1-D gamma of C channels and, if present, a beta of the same shape
//   - consumers is non-empty, each a distinct linear layer with in_features == C
//   - len(actScales) == C, every entry finite and non-negative
//   - 0 <= alpha <= 1
func Validate(norm nn.AffineNorm, consumers []nn.Projection, actScales []float64, alpha float64) error {
	if err := validateLayers(norm, consumers); err != nil {
		return err
	}

	channels := norm.Channels()
	if len(actScales) != channels {
		return invalid(ErrShapeMismatch, norm.Scale().Name(),
			"%d activation scales for %d channels", len(actScales), channels)
	}
	for c, v := range actScales {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return invalid(ErrInvalidActivationScale, norm.Scale().Name(), "channel %d: %g", c, v)
		}
	}

	if math.IsNaN(alpha) || alpha < 0 || alpha > 1 {
		return invalid(ErrInvalidAlpha, "", "got %g", alpha)
	}
	return nil
}

func validateLayers(norm nn.AffineNorm, consumers []nn.Projection) error {
	if norm == nil || norm.Scale() == nil {
		return invalid(ErrUnsupportedLayer, "", "normalization layer has no scale parameter")
	}

	gamma := norm.Scale()
	if len(gamma.Shape()) != 1 {
		return invalid(ErrUnsupportedLayer, gamma.Name(), "scale must be 1-D, got %v", gamma.Shape())
	}
	channels := norm.Channels()
	if beta := norm.Shift(); beta != nil && !beta.Shape().Equal(gamma.Shape()) {
		return invalid(ErrShapeMismatch, beta.Name(), "shift shape %v does not match scale %v",
			beta.Shape(), gamma.Shape())
	}

	if len(consumers) == 0 {
		return invalid(ErrNoConsumers, gamma.Name(), "at least one linear layer must read the norm output")
	}

	seen := make(map[*nn.Parameter]bool, len(consumers))
	for i, fc := range consumers {
		if fc == nil || fc.Weight() == nil {
			return invalid(ErrUnsupportedLayer, "", "consumer %d has no weight", i)
		}
		weight := fc.Weight()
		if len(weight.Shape()) != 2 {
			return invalid(ErrUnsupportedLayer, weight.Name(), "weight must be 2-D, got %v", weight.Shape())
		}
		if fc.InFeatures() != channels {
			return invalid(ErrShapeMismatch, weight.Name(), "in_features %d, norm has %d channels",
				fc.InFeatures(), channels)
		}
		if seen[weight] {
			return invalid(ErrDuplicateConsumer, weight.Name(), "consumer %d", i)
		}
		seen[weight] = true
	}
	return nil
}
