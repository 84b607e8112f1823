// Package nn implements the layer types a smoothing pass rewrites.
//
// This package provides:
//   - Parameter: a named, typed parameter vector or matrix loaded from a checkpoint
//   - LayerNorm, RMSNorm: affine-per-channel normalization layers
//   - Linear: fully connected layer with a [out_features, in_features] weight
//   - AffineNorm, Projection: the capabilities the smoothing balancer needs
//
// Layer parameters are exposed as gonum views that alias the parameter's
// storage, so writing through a view mutates the layer in place.
package nn

import (
	"gonum.org/v1/gonum/mat"

	"github.com/born-ml/smoothquant/internal/tensor"
)

// Module is the base interface for all layers.
type Module interface {
	// Forward computes the output of the module for a [batch, features] input.
	Forward(input *mat.Dense) *mat.Dense

	// Parameters returns all parameters of this module.
	Parameters() []*Parameter
}

// AffineNorm is a normalization layer whose output is gamma * normalize(x) + beta,
// applied per channel.
//
// Shift returns nil for norms without a bias term (RMSNorm).
type AffineNorm interface {
	Module
	Channels() int
	Scale() *Parameter
	Shift() *Parameter
	DataType() tensor.DataType
}

// Projection is a linear layer computing x @ W.T + b.
type Projection interface {
	Module
	InFeatures() int
	OutFeatures() int
	Weight() *Parameter
	DataType() tensor.DataType
}

var (
	_ AffineNorm = (*LayerNorm)(nil)
	_ AffineNorm = (*RMSNorm)(nil)
	_ Projection = (*Linear)(nil)
)
