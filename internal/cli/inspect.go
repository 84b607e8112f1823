package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/floats"

	"github.com/born-ml/smoothquant/internal/config"
	"github.com/born-ml/smoothquant/internal/loader"
	"github.com/born-ml/smoothquant/internal/model"
	"github.com/born-ml/smoothquant/internal/nn"
	"github.com/born-ml/smoothquant/internal/smooth"
)

// InspectResult describes the smoothable groups of a checkpoint.
type InspectResult struct {
	Path         string         `json:"path"`
	Architecture string         `json:"architecture"`
	Blocks       int            `json:"blocks"`
	Groups       []InspectGroup `json:"groups"`
	// Missing lists group names without activation scales; set only when
	// scales were given.
	Missing []string `json:"missing,omitempty"`
}

// InspectGroup describes one norm and its consumers.
type InspectGroup struct {
	Block     int      `json:"block"`
	Role      string   `json:"role"`
	Name      string   `json:"name"`
	Norm      string   `json:"norm"`
	NormKind  string   `json:"norm_kind"`
	DType     string   `json:"dtype"`
	Channels  int      `json:"channels"`
	Consumers []string `json:"consumers"`
	// WeightMax is the largest column maximum across consumers.
	WeightMax float64 `json:"weight_max"`
	// ActMax is the largest recorded activation scale, if scales were given.
	ActMax *float64 `json:"act_max,omitempty"`
}

func newInspectCmd(ro *RootOpts) *cobra.Command {
	var (
		modelPath string
		actScales string
		arch      string
	)

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "List the smoothable groups of a checkpoint",
		Long: `Detect the architecture of a checkpoint and list every normalization layer
with the linear layers it feeds. With --act-scales, also report which groups
have activation statistics.

Examples:
  smoothquant inspect --model ./opt-125m
  smoothquant inspect --model ./opt-125m --act-scales act_scales.safetensors --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(ro.Config)
			if err != nil {
				return err
			}
			if arch == "" {
				arch = cfg.Architecture
			}

			ckpt, err := loader.OpenCheckpoint(modelPath)
			if err != nil {
				return err
			}
			m, err := model.Load(ckpt.Tensors, arch)
			if err != nil {
				return err
			}

			var named map[string][]float64
			if actScales != "" {
				if named, err = loader.ReadActivationScales(actScales); err != nil {
					return err
				}
			}

			result := inspect(modelPath, m, named)
			ro.Logger().Debug("inspected checkpoint", "architecture", result.Architecture, "groups", len(result.Groups))

			if ro.JSONOut {
				return writeJSON(cmd.OutOrStdout(), result)
			}
			printInspect(cmd.OutOrStdout(), result, named != nil)
			return nil
		},
	}

	cmd.Flags().StringVarP(&modelPath, "model", "m", "", "Checkpoint file or directory")
	cmd.Flags().StringVar(&actScales, "act-scales", "", "Activation scales (.safetensors or .json)")
	cmd.Flags().StringVar(&arch, config.FlagArchitecture, "", "Architecture (default: auto-detect)")
	_ = cmd.MarkFlagRequired("model")

	return cmd
}

func inspect(path string, m *model.Model, named map[string][]float64) *InspectResult {
	groups := m.Groups()
	result := &InspectResult{
		Path:         path,
		Architecture: m.Arch.Name(),
		Blocks:       len(m.Blocks),
		Groups:       make([]InspectGroup, len(groups)),
	}

	for i, g := range groups {
		ig := InspectGroup{
			Block:     g.Key.Block,
			Role:      g.Key.Role.String(),
			Name:      g.Name,
			Norm:      g.Norm.Scale().Name(),
			NormKind:  normKind(g.Norm),
			DType:     g.Consumers[0].DataType().String(),
			Channels:  g.Norm.Channels(),
			WeightMax: floats.Max(smooth.WeightScales(g.Consumers)),
		}
		for _, fc := range g.Consumers {
			ig.Consumers = append(ig.Consumers, fc.Weight().Name())
		}
		if v, ok := named[g.Name]; ok && len(v) > 0 {
			amax := floats.Max(v)
			ig.ActMax = &amax
		}
		result.Groups[i] = ig
	}

	if named != nil {
		result.Missing = model.MissingScales(groups, named)
	}
	return result
}

func normKind(norm nn.AffineNorm) string {
	switch norm.(type) {
	case *nn.LayerNorm:
		return "layernorm"
	case *nn.RMSNorm:
		return "rmsnorm"
	default:
		return fmt.Sprintf("%T", norm)
	}
}

func printInspect(w io.Writer, r *InspectResult, withScales bool) {
	fmt.Fprintf(w, "Checkpoint:   %s\n", r.Path)
	fmt.Fprintf(w, "Architecture: %s\n", r.Architecture)
	fmt.Fprintf(w, "Blocks:       %d\n\n", r.Blocks)

	for _, g := range r.Groups {
		fmt.Fprintf(w, "[%d %s] %s (%s, %d channels, %s)\n", g.Block, g.Role, g.Norm, g.NormKind, g.Channels, g.DType)
		for _, c := range g.Consumers {
			fmt.Fprintf(w, "    -> %s\n", c)
		}
		if withScales {
			if g.ActMax != nil {
				fmt.Fprintf(w, "    scales %s: max |x| %.4g, max |W| %.4g\n", g.Name, *g.ActMax, g.WeightMax)
			} else {
				fmt.Fprintf(w, "    scales %s: MISSING\n", g.Name)
			}
		}
	}

	if withScales {
		fmt.Fprintln(w)
		if len(r.Missing) == 0 {
			fmt.Fprintln(w, "All groups have activation scales.")
		} else {
			fmt.Fprintf(w, "%d of %d groups have no activation scales.\n", len(r.Missing), len(r.Groups))
		}
	}
}
