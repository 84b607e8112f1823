// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package loader reads and writes SafeTensors checkpoints and activation scales.
//
// This package wraps the internal loader and exports a small public API.
//
// Example usage:
//
//	import "github.com/born-ml/smoothquant/loader"
//
//	// Open a file, a model directory, or a sharded checkpoint
//	ckpt, err := loader.OpenCheckpoint("path/to/opt-125m")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("%d tensors in %d shards\n", len(ckpt.Tensors), len(ckpt.Shards))
//
//	// Per-channel max |x| recorded at each linear layer input
//	scales, err := loader.ReadActivationScales("act_scales/opt-125m.safetensors")
//	if err != nil {
//	    log.Fatal(err)
//	}
package loader

import (
	"github.com/born-ml/smoothquant/internal/loader"
)

// Tensor is one checkpoint entry kept as raw little-endian bytes.
type Tensor = loader.Tensor

// StateDict maps checkpoint keys to tensors.
type StateDict = loader.StateDict

// Checkpoint is a fully loaded, possibly sharded, checkpoint.
type Checkpoint = loader.Checkpoint

// SafeTensorsReader reads tensors from a single SafeTensors file on demand.
type SafeTensorsReader = loader.SafeTensorsReader

// Well-known file names inside a Hugging Face model directory.
const (
	SingleFileName = loader.SingleFileName
	IndexFileName  = loader.IndexFileName
)

// Errors returned by the loader.
var (
	ErrTensorNotFound   = loader.ErrTensorNotFound
	ErrNotFloat         = loader.ErrNotFloat
	ErrUnsupportedInput = loader.ErrUnsupportedInput
	ErrInvalidShape     = loader.ErrInvalidShape
)

// OpenCheckpoint loads every tensor of a checkpoint.
//
// path may be a .safetensors file, or a directory holding either
// model.safetensors or model.safetensors.index.json.
func OpenCheckpoint(path string) (*Checkpoint, error) {
	return loader.OpenCheckpoint(path)
}

// NewSafeTensorsReader opens a SafeTensors file.
func NewSafeTensorsReader(path string) (*SafeTensorsReader, error) {
	return loader.NewSafeTensorsReader(path)
}

// WriteSafeTensors writes sd to path atomically.
func WriteSafeTensors(path string, sd StateDict, metadata map[string]string) error {
	return loader.WriteSafeTensors(path, sd, metadata)
}

// ReadActivationScales reads per-module activation scales from a .safetensors
// or .json file.
func ReadActivationScales(path string) (map[string][]float64, error) {
	return loader.ReadActivationScales(path)
}

// WriteActivationScales writes activation scales as a .safetensors file.
func WriteActivationScales(path string, scales map[string][]float64) error {
	return loader.WriteActivationScales(path, scales)
}
