package model

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Architecture names.
const (
	ArchitectureOPT     = "opt"
	ArchitectureBLOOM   = "bloom"
	ArchitectureDeiT    = "deit"
	ArchitectureLLaMA   = "llama"
	ArchitectureMistral = "mistral"
)

// ErrUnknownArchitecture is returned when no registered architecture matches.
var ErrUnknownArchitecture = errors.New("unknown architecture")

// Detection order matters: the more specific families come first.
var architectures = []Architecture{
	optArch{},
	bloomArch{},
	deitArch{},
	llamaArch{name: ArchitectureLLaMA},
	llamaArch{name: ArchitectureMistral},
}

// Names returns the registered architecture names.
func Names() []string {
	names := make([]string, len(architectures))
	for i, a := range architectures {
		names[i] = a.Name()
	}
	return names
}

// Lookup returns the architecture registered under name.
func Lookup(name string) (Architecture, error) {
	for _, a := range architectures {
		if strings.EqualFold(a.Name(), name) {
			return a, nil
		}
	}
	return nil, fmt.Errorf("%w: %q (known: %s)", ErrUnknownArchitecture, name, strings.Join(Names(), ", "))
}

// Detect attempts to detect the architecture from tensor names.
func Detect(names []string) (Architecture, error) {
	for _, a := range architectures {
		if a.Detect(names) {
			return a, nil
		}
	}
	return nil, fmt.Errorf("%w: no registered architecture matches the checkpoint tensors", ErrUnknownArchitecture)
}

// findPrefix returns the first candidate that prefixes a name ending in marker.
func findPrefix(names []string, candidates []string, marker string) (string, bool) {
	for _, prefix := range candidates {
		for _, name := range names {
			if strings.HasPrefix(name, prefix) && strings.HasSuffix(name, marker) {
				return prefix, true
			}
		}
	}
	return "", false
}

// layerIndices returns the sorted, distinct block indices i of names shaped
// prefix + "{i}." + rest.
func layerIndices(names []string, prefix string) []int {
	seen := make(map[int]bool)
	for _, name := range names {
		rest, ok := strings.CutPrefix(name, prefix)
		if !ok {
			continue
		}
		idx, _, ok := strings.Cut(rest, ".")
		if !ok {
			continue
		}
		i, err := strconv.Atoi(idx)
		if err != nil || i < 0 {
			continue
		}
		seen[i] = true
	}

	out := make([]int, 0, len(seen))
	for i := range seen {
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}
