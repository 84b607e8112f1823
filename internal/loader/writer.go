package loader

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// SafeTensorsWriter writes a state dict in SafeTensors format.
//
// Output goes to a temporary file in the destination directory and is renamed
// into place on Close, so an interrupted run never leaves a truncated checkpoint.
type SafeTensorsWriter struct {
	path   string
	file   *os.File
	closed bool
	failed bool
}

// NewSafeTensorsWriter creates a new SafeTensors file writer.
func NewSafeTensorsWriter(path string) (*SafeTensorsWriter, error) {
	file, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}
	return &SafeTensorsWriter{path: path, file: file, failed: true}, nil
}

// WriteSafeTensors writes sd to path. Tensors are laid out in alphabetical order.
func WriteSafeTensors(path string, sd StateDict, metadata map[string]string) error {
	w, err := NewSafeTensorsWriter(path)
	if err != nil {
		return err
	}
	if err := w.WriteStateDict(sd, metadata); err != nil {
		_ = w.Close() // Best effort cleanup
		return err
	}
	return w.Close()
}

// WriteStateDict writes the header followed by every tensor's bytes.
func (w *SafeTensorsWriter) WriteStateDict(sd StateDict, metadata map[string]string) error {
	if w.closed {
		return fmt.Errorf("writer is closed")
	}
	w.failed = true

	names := sd.Names()
	header := make(map[string]any, len(names)+1)
	if len(metadata) > 0 {
		header[metadataKey] = metadata
	}

	var offset int64
	for _, name := range names {
		t := sd[name]
		size := int64(len(t.Data))
		shape := []int(t.Shape)
		if shape == nil {
			shape = []int{} // scalars serialize as [], not null
		}
		header[name] = SafeTensorInfo{
			DType:       t.DTypeName,
			Shape:       shape,
			DataOffsets: [2]int64{offset, offset + size},
		}
		offset += size
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("failed to marshal header: %w", err)
	}

	buf := bufio.NewWriter(w.file)
	if err := binary.Write(buf, binary.LittleEndian, uint64(len(headerJSON))); err != nil {
		return fmt.Errorf("failed to write header size: %w", err)
	}
	if _, err := buf.Write(headerJSON); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for _, name := range names {
		if _, err := buf.Write(sd[name].Data); err != nil {
			return fmt.Errorf("failed to write tensor %s: %w", name, err)
		}
	}
	if err := buf.Flush(); err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}

	w.failed = false
	return nil
}

// Close finalizes the file. If WriteStateDict failed or was never called, the
// temporary file is removed and the destination is left untouched.
func (w *SafeTensorsWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	tmp := w.file.Name()
	if err := w.file.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if w.failed {
		return os.Remove(tmp)
	}
	if err := os.Rename(tmp, w.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to move %s into place: %w", w.path, err)
	}
	return nil
}
