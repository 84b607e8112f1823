package loader

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Well-known file names inside a Hugging Face model directory.
const (
	SingleFileName = "model.safetensors"
	IndexFileName  = "model.safetensors.index.json"
)

// ShardIndex is the model.safetensors.index.json layout.
type ShardIndex struct {
	Metadata  map[string]any    `json:"metadata"`
	WeightMap map[string]string `json:"weight_map"`
}

// Checkpoint is a fully loaded model checkpoint.
type Checkpoint struct {
	Path     string
	Shards   []string
	Metadata map[string]string
	Tensors  StateDict
}

// OpenCheckpoint loads every tensor of a checkpoint.
//
// path may be a .safetensors file, or a directory holding either
// model.safetensors or a sharded model.safetensors.index.json.
func OpenCheckpoint(path string) (*Checkpoint, error) {
	stat, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint: %w", err)
	}

	if !stat.IsDir() {
		if strings.ToLower(filepath.Ext(path)) != ".safetensors" {
			return nil, fmt.Errorf("%w: %s (expected .safetensors)", ErrUnsupportedInput, path)
		}
		return loadShards(path, []string{path})
	}

	indexPath := filepath.Join(path, IndexFileName)
	if _, err := os.Stat(indexPath); err == nil {
		shards, err := readShardIndex(indexPath)
		if err != nil {
			return nil, err
		}
		return loadShards(path, shards)
	}

	single := filepath.Join(path, SingleFileName)
	if _, err := os.Stat(single); err == nil {
		return loadShards(path, []string{single})
	}
	return nil, fmt.Errorf("%w: %s has neither %s nor %s", ErrUnsupportedInput, path, SingleFileName, IndexFileName)
}

func readShardIndex(indexPath string) ([]string, error) {
	//nolint:gosec // G304: index path is derived from the user-supplied model directory
	data, err := os.ReadFile(indexPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read shard index: %w", err)
	}

	var index ShardIndex
	if err := json.Unmarshal(data, &index); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", indexPath, err)
	}
	if len(index.WeightMap) == 0 {
		return nil, fmt.Errorf("%w: %s has an empty weight_map", ErrUnsupportedInput, indexPath)
	}

	dir := filepath.Dir(indexPath)
	seen := make(map[string]bool)
	var shards []string
	for _, file := range index.WeightMap {
		if seen[file] {
			continue
		}
		seen[file] = true
		shards = append(shards, filepath.Join(dir, file))
	}
	sort.Strings(shards)
	return shards, nil
}

func loadShards(path string, shards []string) (*Checkpoint, error) {
	ckpt := &Checkpoint{
		Path:     path,
		Shards:   shards,
		Metadata: make(map[string]string),
		Tensors:  make(StateDict),
	}

	for _, shard := range shards {
		if err := ckpt.addShard(shard); err != nil {
			return nil, err
		}
	}
	return ckpt, nil
}

func (c *Checkpoint) addShard(shard string) error {
	r, err := NewSafeTensorsReader(shard)
	if err != nil {
		return err
	}
	defer func() {
		_ = r.Close() // Read-only; nothing to flush
	}()

	for k, v := range r.Metadata() {
		c.Metadata[k] = v
	}

	sd, err := r.StateDict()
	if err != nil {
		return fmt.Errorf("%s: %w", shard, err)
	}
	for name, t := range sd {
		if _, dup := c.Tensors[name]; dup {
			return fmt.Errorf("tensor %s appears in more than one shard", name)
		}
		c.Tensors[name] = t
	}
	return nil
}
