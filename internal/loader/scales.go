package loader

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ReadActivationScales loads per-module activation statistics.
//
// Keys are fully qualified module names (e.g. "model.decoder.layers.0.fc1").
// Supported inputs:
//   - .safetensors: one 1-D floating-point tensor per module
//   - .json: {"<module>": [v0, v1, ...], ...}
func ReadActivationScales(path string) (map[string][]float64, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".safetensors":
		return readScalesSafeTensors(path)
	case ".json":
		return readScalesJSON(path)
	default:
		return nil, fmt.Errorf("%w: %s (expected .safetensors or .json)", ErrUnsupportedInput, path)
	}
}

func readScalesSafeTensors(path string) (map[string][]float64, error) {
	r, err := NewSafeTensorsReader(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = r.Close() // Read-only; nothing to flush
	}()

	out := make(map[string][]float64)
	for _, name := range r.TensorNames() {
		t, err := r.LoadTensor(name)
		if err != nil {
			return nil, err
		}
		if len(t.Shape) != 1 {
			return nil, fmt.Errorf("activation scales %s: expected 1-D tensor, got shape %v", name, t.Shape)
		}
		values, err := t.Float64s()
		if err != nil {
			return nil, fmt.Errorf("activation scales %s: %w", name, err)
		}
		out[name] = values
	}
	return out, nil
}

func readScalesJSON(path string) (map[string][]float64, error) {
	//nolint:gosec // G304: File path comes from user input
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read activation scales: %w", err)
	}
	var out map[string][]float64
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return out, nil
}

// WriteActivationScales stores scales as a float32 SafeTensors file.
func WriteActivationScales(path string, scales map[string][]float64) error {
	sd := make(StateDict, len(scales))
	for name, values := range scales {
		t := &Tensor{Name: name, DTypeName: "F32", Shape: []int{len(values)}}
		if err := t.SetFloat64s(values); err != nil {
			return err
		}
		sd[name] = t
	}
	return WriteSafeTensors(path, sd, map[string]string{"format": "pt"})
}
