// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package tensor provides the storage dtypes of checkpoint parameters.
//
// Parameters are held in memory as float64 and rounded to their storage dtype
// after every mutation, so a smoothed checkpoint contains exactly the values a
// framework computing in that dtype would have produced.
//
// # Supported dtypes
//
//   - Float32 (F32)
//   - Float64 (F64)
//   - Float16 (F16, IEEE 754 half precision)
//   - BFloat16 (BF16, round-to-nearest-even)
//
// # Example
//
//	dt, err := tensor.ParseSafeTensors("BF16")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(dt.Round(1.0 + 1.0/4096)) // 1
package tensor

import "github.com/born-ml/smoothquant/internal/tensor"

// DataType is a floating-point storage dtype.
type DataType = tensor.DataType

// Supported dtypes.
const (
	Float32  = tensor.Float32
	Float64  = tensor.Float64
	Float16  = tensor.Float16
	BFloat16 = tensor.BFloat16
)

// Shape represents the dimensions of a tensor.
type Shape = tensor.Shape

// ParseSafeTensors converts a SafeTensors dtype tag (e.g. "F16") to a DataType.
func ParseSafeTensors(name string) (DataType, error) {
	return tensor.ParseSafeTensors(name)
}
