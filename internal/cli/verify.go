package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand/v2"

	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/mat"

	"github.com/born-ml/smoothquant/internal/config"
	"github.com/born-ml/smoothquant/internal/loader"
	"github.com/born-ml/smoothquant/internal/model"
	"github.com/born-ml/smoothquant/internal/parallel"
)

// ErrVerifyFailed is returned when a smoothed group deviates beyond tolerance.
var ErrVerifyFailed = errors.New("smoothed outputs deviate from the original")

// VerifyResult compares the group outputs of two checkpoints.
type VerifyResult struct {
	Architecture string        `json:"architecture"`
	Samples      int           `json:"samples"`
	Tolerance    float64       `json:"tolerance"`
	MaxRelDiff   float64       `json:"max_rel_diff"`
	Passed       bool          `json:"passed"`
	Groups       []VerifyGroup `json:"groups"`
}

// VerifyGroup is the worst deviation over the consumers of one group.
type VerifyGroup struct {
	Block      int     `json:"block"`
	Role       string  `json:"role"`
	Name       string  `json:"name"`
	MaxAbsDiff float64 `json:"max_abs_diff"`
	MaxRelDiff float64 `json:"max_rel_diff"`
}

type verifyFlags struct {
	original  string
	smoothed  string
	arch      string
	samples   int
	seed      uint64
	tolerance float64
	workers   int
}

func newVerifyCmd(ro *RootOpts) *cobra.Command {
	f := &verifyFlags{}

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check that a smoothed checkpoint computes the same outputs",
		Long: `Feed random inputs through every normalization layer and its linear consumers
in both checkpoints and compare the outputs. The relative deviation of each
group is its largest absolute difference divided by the largest absolute
original output.

Examples:
  smoothquant verify --model ./opt-125m --smoothed opt-125m-smoothed.safetensors
  smoothquant verify --model ./opt-125m --smoothed out/ --samples 64 --tolerance 1e-3`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(ro.Config)
			if err != nil {
				return err
			}
			if f.arch == "" {
				f.arch = cfg.Architecture
			}

			result, err := verify(cmd.Context(), f)
			if err != nil {
				return err
			}
			ro.Logger().Info("verified checkpoint",
				"groups", len(result.Groups), "max_rel_diff", result.MaxRelDiff, "passed", result.Passed)

			if ro.JSONOut {
				err = writeJSON(cmd.OutOrStdout(), result)
			} else {
				printVerify(cmd.OutOrStdout(), result)
			}
			if err != nil {
				return err
			}
			if !result.Passed {
				return fmt.Errorf("%w: %.3g > %.3g", ErrVerifyFailed, result.MaxRelDiff, result.Tolerance)
			}
			return nil
		},
	}

	fl := cmd.Flags()
	fl.StringVarP(&f.original, "model", "m", "", "Original checkpoint file or directory")
	fl.StringVar(&f.smoothed, "smoothed", "", "Smoothed checkpoint file or directory")
	fl.StringVar(&f.arch, config.FlagArchitecture, "", "Architecture (default: auto-detect)")
	fl.IntVar(&f.samples, "samples", 16, "Random input rows per group")
	fl.Uint64Var(&f.seed, "seed", 1, "Random seed")
	fl.Float64Var(&f.tolerance, "tolerance", 1e-2, "Maximum allowed relative deviation")
	fl.IntVar(&f.workers, config.FlagWorkers, 0, "Concurrent groups (default: number of CPUs)")
	_ = cmd.MarkFlagRequired("model")
	_ = cmd.MarkFlagRequired("smoothed")

	return cmd
}

func verify(ctx context.Context, f *verifyFlags) (*VerifyResult, error) {
	if f.samples <= 0 {
		return nil, fmt.Errorf("--samples must be positive, got %d", f.samples)
	}

	orig, err := loadModel(f.original, f.arch)
	if err != nil {
		return nil, err
	}
	smoothed, err := loadModel(f.smoothed, orig.Arch.Name())
	if err != nil {
		return nil, err
	}

	og, sg := orig.Groups(), smoothed.Groups()
	if len(og) != len(sg) {
		return nil, fmt.Errorf("checkpoints differ: %d groups vs %d", len(og), len(sg))
	}

	result := &VerifyResult{
		Architecture: orig.Arch.Name(),
		Samples:      f.samples,
		Tolerance:    f.tolerance,
		Groups:       make([]VerifyGroup, len(og)),
	}
	err = parallel.ForEach(ctx, len(og), func(_ context.Context, i int) error {
		if og[i].Name != sg[i].Name || len(og[i].Consumers) != len(sg[i].Consumers) {
			return fmt.Errorf("checkpoints differ at %s: %s vs %s", og[i].Key, og[i].Name, sg[i].Name)
		}
		rng := rand.New(rand.NewPCG(f.seed, uint64(i)))
		result.Groups[i] = compareGroup(og[i], sg[i], randomInput(rng, f.samples, og[i].Norm.Channels()))
		return nil
	}, parallel.WithWorkers(f.workers))
	if err != nil {
		return nil, err
	}

	for _, g := range result.Groups {
		result.MaxRelDiff = math.Max(result.MaxRelDiff, g.MaxRelDiff)
	}
	result.Passed = result.MaxRelDiff <= f.tolerance
	return result, nil
}

func loadModel(path, arch string) (*model.Model, error) {
	ckpt, err := loader.OpenCheckpoint(path)
	if err != nil {
		return nil, err
	}
	m, err := model.Load(ckpt.Tensors, arch)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// randomInput draws rows of activations with a few large channels, the
// pattern smoothing is meant for.
func randomInput(rng *rand.Rand, rows, channels int) *mat.Dense {
	x := mat.NewDense(rows, channels, nil)
	outliers := map[int]bool{rng.IntN(channels): true, rng.IntN(channels): true}
	for i := range rows {
		for j := range channels {
			v := rng.NormFloat64()
			if outliers[j] {
				v *= 20
			}
			x.Set(i, j, v)
		}
	}
	return x
}

func compareGroup(orig, smoothed model.Group, x *mat.Dense) VerifyGroup {
	vg := VerifyGroup{Block: orig.Key.Block, Role: orig.Key.Role.String(), Name: orig.Name}

	on := orig.Norm.Forward(x)
	sn := smoothed.Norm.Forward(x)
	for j := range orig.Consumers {
		want := orig.Consumers[j].Forward(on)
		got := smoothed.Consumers[j].Forward(sn)

		var diff mat.Dense
		diff.Sub(want, got)
		absDiff := maxAbs(&diff)
		scale := maxAbs(want)

		rel := absDiff
		if scale > 0 {
			rel = absDiff / scale
		}
		vg.MaxAbsDiff = math.Max(vg.MaxAbsDiff, absDiff)
		vg.MaxRelDiff = math.Max(vg.MaxRelDiff, rel)
	}
	return vg
}

func maxAbs(m *mat.Dense) float64 {
	var out float64
	for _, v := range m.RawMatrix().Data {
		out = math.Max(out, math.Abs(v))
	}
	return out
}

func printVerify(w io.Writer, r *VerifyResult) {
	fmt.Fprintf(w, "Architecture: %s\n", r.Architecture)
	fmt.Fprintf(w, "Samples:      %d per group\n\n", r.Samples)
	fmt.Fprintf(w, "%-6s %-4s %-12s %-12s %s\n", "BLOCK", "ROLE", "MAX ABS", "MAX REL", "NAME")
	for _, g := range r.Groups {
		fmt.Fprintf(w, "%-6d %-4s %-12.4g %-12.4g %s\n", g.Block, g.Role, g.MaxAbsDiff, g.MaxRelDiff, g.Name)
	}
	status := "PASS"
	if !r.Passed {
		status = "FAIL"
	}
	fmt.Fprintf(w, "\n%s: max relative deviation %.4g (tolerance %.4g)\n", status, r.MaxRelDiff, r.Tolerance)
}
