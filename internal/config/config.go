// Package config loads the optional smoothquant configuration file.
//
// The file lives at ~/.config/smoothquant.{json,yaml,yml} unless a path is
// given explicitly. Every field is optional; a value set on the command line
// always wins over the file.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/born-ml/smoothquant/internal/model"
)

// Flag names the file values correspond to.
const (
	FlagAlpha        = "alpha"
	FlagFloor        = "floor"
	FlagWorkers      = "workers"
	FlagArchitecture = "arch"
	FlagRoleAlpha    = "role-alpha"
)

// File is the configuration file format.
type File struct {
	Alpha        *float64           `json:"alpha,omitempty" yaml:"alpha,omitempty"`
	Floor        *float64           `json:"floor,omitempty" yaml:"floor,omitempty"`
	Workers      *int               `json:"workers,omitempty" yaml:"workers,omitempty"`
	Architecture string             `json:"architecture,omitempty" yaml:"architecture,omitempty"`
	RoleAlpha    map[string]float64 `json:"role-alpha,omitempty" yaml:"role-alpha,omitempty"`
}

// DefaultPath returns the config file path.
// Checks in order: smoothquant.json, smoothquant.yaml, smoothquant.yml
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	dir := filepath.Join(home, ".config")

	candidates := []string{
		filepath.Join(dir, "smoothquant.json"),
		filepath.Join(dir, "smoothquant.yaml"),
		filepath.Join(dir, "smoothquant.yml"),
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return candidates[0]
}

// Load reads the config file at path, or at DefaultPath when path is empty.
// A missing default file yields an empty config; a missing explicit file is an
// error.
func Load(path string) (*File, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultPath()
		if path == "" {
			return &File{}, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicit {
			return &File{}, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := &File{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyTo copies file values into opts and arch for every flag that changed
// reports as unset.
func (f *File) ApplyTo(opts *model.Options, arch *string, changed func(flag string) bool) error {
	if f.Alpha != nil && !changed(FlagAlpha) {
		opts.Alpha = *f.Alpha
	}
	if f.Floor != nil && !changed(FlagFloor) {
		opts.Floor = *f.Floor
	}
	if f.Workers != nil && !changed(FlagWorkers) {
		opts.Workers = *f.Workers
	}
	if f.Architecture != "" && !changed(FlagArchitecture) {
		*arch = f.Architecture
	}
	if len(f.RoleAlpha) > 0 && !changed(FlagRoleAlpha) {
		roles, err := ParseRoleAlpha(f.RoleAlpha)
		if err != nil {
			return err
		}
		opts.RoleAlpha = roles
	}
	return nil
}

// ParseRoleAlpha converts {"qkv": 0.8} into per-role overrides.
func ParseRoleAlpha(raw map[string]float64) (map[model.Role]float64, error) {
	out := make(map[model.Role]float64, len(raw))
	for name, alpha := range raw {
		role, err := model.ParseRole(name)
		if err != nil {
			return nil, fmt.Errorf("role-alpha: %w", err)
		}
		out[role] = alpha
	}
	return out, nil
}
