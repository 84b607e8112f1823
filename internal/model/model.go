package model

import (
	"errors"
	"fmt"

	"github.com/born-ml/smoothquant/internal/loader"
	"github.com/born-ml/smoothquant/internal/nn"
)

// ErrOverlappingGroups is returned when two groups share a parameter. Groups
// are smoothed independently, so a shared tensor would be scaled twice.
var ErrOverlappingGroups = errors.New("groups share a parameter")

// Model is a checkpoint bound to the blocks of one architecture.
type Model struct {
	Arch   Architecture
	Blocks []Block
}

// Load binds sd to an architecture. An empty name auto-detects it.
func Load(sd loader.StateDict, name string) (*Model, error) {
	names := sd.Names()

	var (
		arch Architecture
		err  error
	)
	if name == "" {
		arch, err = Detect(names)
	} else {
		arch, err = Lookup(name)
	}
	if err != nil {
		return nil, err
	}
	return Bind(sd, names, arch)
}

// Bind builds the model's blocks from src.
func Bind(src nn.ParameterSource, names []string, arch Architecture) (*Model, error) {
	blocks, err := arch.Bind(src, names)
	if err != nil {
		return nil, err
	}
	if len(blocks) == 0 {
		return nil, fmt.Errorf("%s: checkpoint has no blocks", arch.Name())
	}

	m := &Model{Arch: arch, Blocks: blocks}
	if _, err := m.parameters(); err != nil {
		return nil, err
	}
	return m, nil
}

// Groups returns every smoothable group in block order.
func (m *Model) Groups() []Group {
	var groups []Group
	for _, b := range m.Blocks {
		groups = append(groups, b.Groups()...)
	}
	return groups
}

// Parameters returns every parameter a smoothing pass may rewrite.
func (m *Model) Parameters() []*nn.Parameter {
	params, _ := m.parameters()
	return params
}

func (m *Model) parameters() ([]*nn.Parameter, error) {
	owner := make(map[string]ScaleKey)
	var params []*nn.Parameter
	for _, g := range m.Groups() {
		for _, p := range g.Parameters() {
			if prev, dup := owner[p.Name()]; dup {
				return nil, fmt.Errorf("%w: %s in %s and %s", ErrOverlappingGroups, p.Name(), prev, g.Key)
			}
			owner[p.Name()] = g.Key
			params = append(params, p)
		}
	}
	return params, nil
}

// Export writes every bound parameter back into sd in its original dtype.
func (m *Model) Export(sd loader.StateDict) error {
	for _, p := range m.Parameters() {
		if err := sd.Update(p); err != nil {
			return fmt.Errorf("export %s: %w", p.Name(), err)
		}
	}
	return nil
}
