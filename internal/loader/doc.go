// Package loader reads and writes model checkpoints and activation statistics.
//
// This package implements:
//   - SafeTensors reading with header and bounds validation
//   - SafeTensors writing (atomic rename on completion)
//   - Hugging Face model directories, single-file or sharded via
//     model.safetensors.index.json
//   - Activation-scale files keyed by module name (.safetensors or .json)
//
// Tensors are kept as raw bytes and decoded on demand, so tensors a smoothing
// pass never touches are written back bit-for-bit.
//
// Example:
//
//	ckpt, err := loader.OpenCheckpoint("facebook-opt-125m/")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	gamma, err := ckpt.Tensors.Parameter("model.decoder.layers.0.final_layer_norm.weight")
package loader
