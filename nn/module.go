// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package nn provides the layers a smoothing pass rewrites.
//
// # Overview
//
// This package contains:
//   - Parameter: a named parameter with a storage dtype and shape
//   - LayerNorm, RMSNorm: per-channel affine normalization layers
//   - Linear: fully connected layer with a [out_features, in_features] weight
//   - AffineNorm, Projection: the capabilities the balancer works on
//
// # Basic Usage
//
//	gamma := nn.NewParameter("ln.weight", tensor.Float16, tensor.Shape{4}, []float64{1, 1, 1, 1})
//	beta := nn.NewParameter("ln.bias", tensor.Float16, tensor.Shape{4}, make([]float64, 4))
//	norm, err := nn.NewLayerNorm(gamma, beta, 1e-5)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	w := nn.NewParameter("fc1.weight", tensor.Float16, tensor.Shape{8, 4}, weights)
//	fc1, err := nn.NewLinear(w, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Layer parameters alias their storage: the gonum views returned by
// Parameter.Vec and Parameter.Matrix write straight into the parameter.
package nn

import (
	"github.com/born-ml/smoothquant/internal/nn"
	"github.com/born-ml/smoothquant/tensor"
)

// Module is the base interface for all layers.
type Module = nn.Module

// AffineNorm is a normalization layer computing gamma * normalize(x) + beta per
// channel. Shift returns nil when the layer has no beta.
type AffineNorm = nn.AffineNorm

// Projection is a linear layer computing x @ W.T + b.
type Projection = nn.Projection

// ParameterSource provides parameters by checkpoint name.
type ParameterSource = nn.ParameterSource

// Parameter is a named parameter held as float64 and rounded to its dtype.
type Parameter = nn.Parameter

// LayerNorm is gamma * (x - mean) / sqrt(var + eps) + beta.
type LayerNorm = nn.LayerNorm

// RMSNorm is gamma * x / sqrt(mean(x^2) + eps).
type RMSNorm = nn.RMSNorm

// Linear is a fully connected layer.
type Linear = nn.Linear

// NewParameter wraps data as a parameter, rounding it to dtype.
// The slice is retained.
func NewParameter(name string, dtype tensor.DataType, shape tensor.Shape, data []float64) *Parameter {
	return nn.NewParameter(name, dtype, shape, data)
}

// NewLayerNorm creates a LayerNorm over existing parameters.
func NewLayerNorm(gamma, beta *Parameter, epsilon float64) (*LayerNorm, error) {
	return nn.NewLayerNorm(gamma, beta, epsilon)
}

// NewRMSNorm creates an RMSNorm over an existing gamma.
func NewRMSNorm(gamma *Parameter, epsilon float64) (*RMSNorm, error) {
	return nn.NewRMSNorm(gamma, epsilon)
}

// NewLinear creates a Linear layer; bias may be nil.
func NewLinear(weight, bias *Parameter) (*Linear, error) {
	return nn.NewLinear(weight, bias)
}

// LayerNormFromState loads prefix.weight and prefix.bias from src.
func LayerNormFromState(src ParameterSource, prefix string, epsilon float64) (*LayerNorm, error) {
	return nn.LayerNormFromState(src, prefix, epsilon)
}

// RMSNormFromState loads prefix.weight from src.
func RMSNormFromState(src ParameterSource, prefix string, epsilon float64) (*RMSNorm, error) {
	return nn.RMSNormFromState(src, prefix, epsilon)
}

// LinearFromState loads prefix.weight and the optional prefix.bias from src.
func LinearFromState(src ParameterSource, prefix string) (*Linear, error) {
	return nn.LinearFromState(src, prefix)
}
