// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package smooth migrates quantization difficulty from activations to weights.
//
// # Overview
//
// For a normalization layer with C channels and the linear layers that read
// its output, a per-channel scale s is computed from the recorded activation
// maxima a and the weight column maxima w:
//
//	s[c] = a[c]^alpha / w[c]^(1-alpha)
//
// The norm's gamma and beta are divided by s and column c of every consumer
// weight is multiplied by s[c]. The block computes the same function as
// before, but its activations have smaller outliers.
//
// # Single group
//
//	err := smooth.Apply(norm, []nn.Projection{q, k, v}, actScales, 0.5)
//
// # Whole model
//
//	ckpt, _ := loader.OpenCheckpoint("opt-125m")
//	m, _ := smooth.Load(ckpt.Tensors, "") // auto-detect the architecture
//	scales, _ := loader.ReadActivationScales("act_scales.safetensors")
//
//	report, err := smooth.Model(ctx, m, scales, smooth.DefaultOptions())
//	if err != nil {
//	    log.Fatal(err) // the model is unchanged
//	}
//	_ = m.Export(ckpt.Tensors)
//	_ = loader.WriteSafeTensors("smoothed.safetensors", ckpt.Tensors, nil)
//
// Supported architectures: opt, bloom, deit, llama, mistral (Mixtral MoE).
package smooth

import (
	"context"

	"github.com/born-ml/smoothquant/internal/loader"
	"github.com/born-ml/smoothquant/internal/model"
	"github.com/born-ml/smoothquant/internal/nn"
	"github.com/born-ml/smoothquant/internal/smooth"
)

// Defaults.
const (
	DefaultAlpha = smooth.DefaultAlpha
	DefaultFloor = smooth.DefaultFloor
)

// Balancer computes and applies smoothing scales.
type Balancer = smooth.Balancer

// Option configures a Balancer.
type Option = smooth.Option

// ValidationError describes a rejected input.
type ValidationError = smooth.ValidationError

// Errors reported by the balancer.
var (
	ErrShapeMismatch          = smooth.ErrShapeMismatch
	ErrUnsupportedLayer       = smooth.ErrUnsupportedLayer
	ErrNoConsumers            = smooth.ErrNoConsumers
	ErrInvalidAlpha           = smooth.ErrInvalidAlpha
	ErrInvalidActivationScale = smooth.ErrInvalidActivationScale
	ErrInvalidFloor           = smooth.ErrInvalidFloor
	ErrDuplicateConsumer      = smooth.ErrDuplicateConsumer
	ErrDegenerateScale        = smooth.ErrDegenerateScale
)

// New creates a Balancer.
func New(opts ...Option) (*Balancer, error) {
	return smooth.New(opts...)
}

// WithFloor overrides the clamp floor (default 1e-5).
func WithFloor(floor float64) Option {
	return smooth.WithFloor(floor)
}

// Apply smooths norm and consumers in place. Nothing is modified on error.
func Apply(norm nn.AffineNorm, consumers []nn.Projection, actScales []float64, alpha float64) error {
	return smooth.Apply(norm, consumers, actScales, alpha)
}

// Validate checks the inputs of Apply without modifying anything.
func Validate(norm nn.AffineNorm, consumers []nn.Projection, actScales []float64, alpha float64) error {
	return smooth.Validate(norm, consumers, actScales, alpha)
}

// WeightScales returns the per-input-channel max |W| across consumers.
func WeightScales(consumers []nn.Projection) []float64 {
	return smooth.WeightScales(consumers)
}

// Role identifies which norm of a block a group covers.
type Role = model.Role

// Roles.
const (
	RoleQKVInput = model.RoleQKVInput
	RoleFFNInput = model.RoleFFNInput
)

// ScaleKey identifies the statistics one group needs.
type ScaleKey = model.ScaleKey

// Group is one norm and its consumers.
type Group = model.Group

// Block is a smoothable transformer block.
type Block = model.Block

// Architecture binds checkpoint tensors to blocks.
type Architecture = model.Architecture

// BoundModel is a checkpoint bound to an architecture.
type BoundModel = model.Model

// Options configures Model.
type Options = model.Options

// Report summarizes a smoothing pass.
type Report = model.Report

// GroupReport summarizes one group.
type GroupReport = model.GroupReport

// Errors reported by the model driver.
var (
	ErrMissingScale        = model.ErrMissingScale
	ErrUnknownArchitecture = model.ErrUnknownArchitecture
	ErrOverlappingGroups   = model.ErrOverlappingGroups
)

// DefaultOptions returns alpha 0.5 and floor 1e-5.
func DefaultOptions() Options {
	return model.DefaultOptions()
}

// Architectures returns the supported architecture names.
func Architectures() []string {
	return model.Names()
}

// Load binds a state dict to an architecture; an empty name auto-detects it.
func Load(sd loader.StateDict, arch string) (*BoundModel, error) {
	return model.Load(sd, arch)
}

// Model smooths every group of m. Either every group is smoothed or, on
// error, none is.
func Model(ctx context.Context, m *BoundModel, actScales map[string][]float64, opts Options) (*Report, error) {
	return model.Smooth(ctx, m, actScales, opts)
}
