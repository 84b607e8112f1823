package model

import (
	"errors"
	"fmt"
)

// ErrMissingScale is returned when a group has no activation statistics.
var ErrMissingScale = errors.New("missing activation scales")

// Scales holds one activation-scale vector per group.
type Scales map[ScaleKey][]float64

// ResolveScales maps each group's module name to its statistics in named.
// Every key must resolve; the first missing one is reported by name.
func ResolveScales(groups []Group, named map[string][]float64) (Scales, error) {
	out := make(Scales, len(groups))
	for _, g := range groups {
		v, ok := named[g.Name]
		if !ok {
			return nil, fmt.Errorf("%w: %s (%s)", ErrMissingScale, g.Name, g.Key)
		}
		out[g.Key] = v
	}
	return out, nil
}

// MissingScales lists the module names of groups absent from named.
func MissingScales(groups []Group, named map[string][]float64) []string {
	var missing []string
	for _, g := range groups {
		if _, ok := named[g.Name]; !ok {
			missing = append(missing, g.Name)
		}
	}
	return missing
}
