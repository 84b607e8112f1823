package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/born-ml/smoothquant/internal/config"
	"github.com/born-ml/smoothquant/internal/loader"
	"github.com/born-ml/smoothquant/internal/model"
)

// Metadata keys recorded in a smoothed checkpoint.
const (
	metaPrefix = "smoothquant."
	metaAlpha  = metaPrefix + "alpha"
	metaFloor  = metaPrefix + "floor"
	metaArch   = metaPrefix + "architecture"
)

// ErrShadowedOutput is returned when the output would be written as
// model.safetensors next to a shard index, which loaders read first.
var ErrShadowedOutput = errors.New("output is shadowed by a shard index")

type smoothFlags struct {
	modelPath string
	actScales string
	output    string
	arch      string
	roleAlpha map[string]string
	opts      model.Options
}

func newSmoothCmd(ro *RootOpts) *cobra.Command {
	f := &smoothFlags{opts: model.DefaultOptions()}

	cmd := &cobra.Command{
		Use:   "smooth",
		Short: "Smooth a checkpoint using recorded activation scales",
		Long: `Smooth every attention-input and feed-forward-input normalization layer of a
checkpoint and write the rewritten tensors to a new safetensors file.

Activation scales are read from a .safetensors file with one 1-D tensor per
module name, or from a JSON object mapping module names to arrays.

Examples:
  smoothquant smooth --model ./opt-125m --act-scales act_scales/opt-125m.safetensors --output opt-125m-smoothed.safetensors
  smoothquant smooth --model ./llama --act-scales llama.json --alpha 0.85 --role-alpha ffn=0.7 --output out/`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSmooth(cmd, ro, f)
		},
	}

	fl := cmd.Flags()
	fl.StringVarP(&f.modelPath, "model", "m", "", "Checkpoint file or directory")
	fl.StringVar(&f.actScales, "act-scales", "", "Activation scales (.safetensors or .json)")
	fl.StringVarP(&f.output, "output", "o", "", "Output .safetensors file or directory")
	fl.StringVar(&f.arch, config.FlagArchitecture, "", "Architecture (default: auto-detect)")
	fl.Float64Var(&f.opts.Alpha, config.FlagAlpha, f.opts.Alpha, "Migration strength in [0,1]")
	fl.Float64Var(&f.opts.Floor, config.FlagFloor, f.opts.Floor, "Lower clamp for weight maxima and scales")
	fl.IntVar(&f.opts.Workers, config.FlagWorkers, 0, "Concurrent groups (default: number of CPUs)")
	fl.StringToStringVar(&f.roleAlpha, config.FlagRoleAlpha, nil, "Per-role alpha, e.g. qkv=0.8,ffn=0.6")
	_ = cmd.MarkFlagRequired("model")
	_ = cmd.MarkFlagRequired("act-scales")
	_ = cmd.MarkFlagRequired("output")

	return cmd
}

func runSmooth(cmd *cobra.Command, ro *RootOpts, f *smoothFlags) error {
	logger := ro.Logger()

	if err := resolveOptions(cmd, ro, f); err != nil {
		return err
	}
	f.opts.Logger = logger

	out, err := outputPath(f.output)
	if err != nil {
		return err
	}

	ckpt, err := loader.OpenCheckpoint(f.modelPath)
	if err != nil {
		return err
	}
	logger.Info("loaded checkpoint", "path", f.modelPath, "shards", len(ckpt.Shards), "tensors", len(ckpt.Tensors))

	m, err := model.Load(ckpt.Tensors, f.arch)
	if err != nil {
		return err
	}

	named, err := loader.ReadActivationScales(f.actScales)
	if err != nil {
		return err
	}

	report, err := model.Smooth(cmd.Context(), m, named, f.opts)
	if err != nil {
		return err
	}
	if err := m.Export(ckpt.Tensors); err != nil {
		return err
	}

	metadata := map[string]string{"format": "pt"}
	for k, v := range ckpt.Metadata {
		// Provenance of an earlier pass does not describe this one.
		if strings.HasPrefix(k, metaPrefix) {
			continue
		}
		metadata[k] = v
	}
	metadata[metaArch] = m.Arch.Name()
	metadata[metaAlpha] = strconv.FormatFloat(f.opts.Alpha, 'g', -1, 64)
	for role, alpha := range f.opts.RoleAlpha {
		metadata[metaAlpha+"."+role.String()] = strconv.FormatFloat(alpha, 'g', -1, 64)
	}
	metadata[metaFloor] = strconv.FormatFloat(report.Floor, 'g', -1, 64)

	if err := loader.WriteSafeTensors(out, ckpt.Tensors, metadata); err != nil {
		return err
	}
	logger.Info("wrote smoothed checkpoint", "path", out)

	if ro.JSONOut {
		return writeJSON(cmd.OutOrStdout(), report)
	}
	printReport(cmd.OutOrStdout(), report)
	return nil
}

// resolveOptions merges the config file under the explicitly set flags.
func resolveOptions(cmd *cobra.Command, ro *RootOpts, f *smoothFlags) error {
	cfg, err := config.Load(ro.Config)
	if err != nil {
		return err
	}
	if err := cfg.ApplyTo(&f.opts, &f.arch, cmd.Flags().Changed); err != nil {
		return err
	}

	if cmd.Flags().Changed(config.FlagRoleAlpha) {
		raw := make(map[string]float64, len(f.roleAlpha))
		for role, v := range f.roleAlpha {
			alpha, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return fmt.Errorf("--role-alpha %s=%s: %w", role, v, err)
			}
			raw[role] = alpha
		}
		roles, err := config.ParseRoleAlpha(raw)
		if err != nil {
			return err
		}
		f.opts.RoleAlpha = roles
	}
	return nil
}

// outputPath appends model.safetensors when out names a directory. It refuses
// a model.safetensors whose directory already holds a shard index.
func outputPath(out string) (string, error) {
	if stat, err := os.Stat(out); err == nil && stat.IsDir() {
		out = filepath.Join(out, loader.SingleFileName)
	} else if len(out) > 0 && os.IsPathSeparator(out[len(out)-1]) {
		if err := os.MkdirAll(out, 0o755); err != nil {
			return "", err
		}
		out = filepath.Join(out, loader.SingleFileName)
	}

	if filepath.Base(out) == loader.SingleFileName {
		index := filepath.Join(filepath.Dir(out), loader.IndexFileName)
		if _, err := os.Stat(index); err == nil {
			return "", fmt.Errorf("%w: %s; write to another directory or file name", ErrShadowedOutput, index)
		}
	}
	return out, nil
}

func printReport(w io.Writer, r *model.Report) {
	fmt.Fprintf(w, "Architecture: %s\n", r.Architecture)
	fmt.Fprintf(w, "Groups:       %d\n", len(r.Groups))
	fmt.Fprintf(w, "Duration:     %s\n\n", r.Duration)
	fmt.Fprintf(w, "%-6s %-4s %-6s %-5s %-10s %-10s %-7s %s\n",
		"BLOCK", "ROLE", "ALPHA", "CONS", "MIN S", "MAX S", "FLOORED", "NAME")
	for _, g := range r.Groups {
		fmt.Fprintf(w, "%-6d %-4s %-6.2f %-5d %-10.4g %-10.4g %-7d %s\n",
			g.Block, g.Role, g.Alpha, g.Consumers, g.MinScale, g.MaxScale, g.Floored, g.Name)
	}
}
