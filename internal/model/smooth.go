package model

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gonum.org/v1/gonum/floats"

	"github.com/born-ml/smoothquant/internal/parallel"
	"github.com/born-ml/smoothquant/internal/smooth"
)

// Options configures a smoothing pass.
type Options struct {
	// Alpha is the smoothing strength for every group without a role override.
	Alpha float64
	// RoleAlpha overrides Alpha per role.
	RoleAlpha map[Role]float64
	// Floor is the clamp floor; it must be positive. DefaultOptions sets
	// smooth.DefaultFloor.
	Floor float64
	// Workers bounds how many groups are processed concurrently; zero uses
	// every CPU and one runs sequentially.
	Workers int
	Logger  *slog.Logger
}

// DefaultOptions returns alpha 0.5 and the default floor.
func DefaultOptions() Options {
	return Options{
		Alpha: smooth.DefaultAlpha,
		Floor: smooth.DefaultFloor,
	}
}

// AlphaFor returns the smoothing strength for role.
func (o Options) AlphaFor(role Role) float64 {
	if a, ok := o.RoleAlpha[role]; ok {
		return a
	}
	return o.Alpha
}

// GroupReport summarizes the scale applied to one group.
type GroupReport struct {
	Key       ScaleKey `json:"-"`
	Block     int      `json:"block"`
	Role      string   `json:"role"`
	Name      string   `json:"name"`
	Channels  int      `json:"channels"`
	Consumers int      `json:"consumers"`
	Alpha     float64  `json:"alpha"`
	MinScale  float64  `json:"min_scale"`
	MaxScale  float64  `json:"max_scale"`
	// Floored counts channels whose scale was clamped to the floor.
	Floored int `json:"floored"`
}

// Report summarizes a smoothing pass.
type Report struct {
	Architecture string        `json:"architecture"`
	Floor        float64       `json:"floor"`
	Groups       []GroupReport `json:"groups"`
	Duration     time.Duration `json:"duration_ns"`
}

// Smooth applies the balancer to every group of m.
//
// The pass runs in two phases. First every group's statistics are resolved,
// validated and turned into a scale vector without touching any parameter; any
// failure aborts the pass with the model unchanged. Then the precomputed scales
// are applied. Groups never share parameters (Bind enforces it), so both phases
// run concurrently across groups.
//
// Callers must not read the model from other goroutines while Smooth runs.
func Smooth(ctx context.Context, m *Model, named map[string][]float64, opts Options) (*Report, error) {
	start := time.Now()
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	balancer, err := smooth.New(smooth.WithFloor(opts.Floor))
	if err != nil {
		return nil, err
	}

	groups := m.Groups()
	scales, err := ResolveScales(groups, named)
	if err != nil {
		return nil, err
	}

	cfg := parallel.WithWorkers(opts.Workers)
	computed := make([][]float64, len(groups))
	err = parallel.ForEach(ctx, len(groups), func(_ context.Context, i int) error {
		g := groups[i]
		s, err := balancer.ComputeScales(g.Norm, g.Consumers, scales[g.Key], opts.AlphaFor(g.Key.Role))
		if err != nil {
			return fmt.Errorf("%s (%s): %w", g.Name, g.Key, err)
		}
		computed[i] = s
		return nil
	}, cfg)
	if err != nil {
		return nil, err
	}

	// Past this point every group is known to be valid; only cancellation can
	// stop the pass, and it is checked before any group starts.
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	err = parallel.ForEach(context.WithoutCancel(ctx), len(groups), func(_ context.Context, i int) error {
		g := groups[i]
		if err := smooth.ApplyScales(g.Norm, g.Consumers, computed[i]); err != nil {
			return fmt.Errorf("%s (%s): %w", g.Name, g.Key, err)
		}
		return nil
	}, cfg)
	if err != nil {
		return nil, err
	}

	report := &Report{
		Architecture: m.Arch.Name(),
		Floor:        balancer.Floor(),
		Groups:       make([]GroupReport, len(groups)),
	}
	for i, g := range groups {
		s := computed[i]
		gr := GroupReport{
			Key:       g.Key,
			Block:     g.Key.Block,
			Role:      g.Key.Role.String(),
			Name:      g.Name,
			Channels:  len(s),
			Consumers: len(g.Consumers),
			Alpha:     opts.AlphaFor(g.Key.Role),
			MinScale:  floats.Min(s),
			MaxScale:  floats.Max(s),
		}
		clamped := g.Consumers[0].DataType().Round(balancer.Floor())
		for _, v := range s {
			if v <= clamped {
				gr.Floored++
			}
		}
		report.Groups[i] = gr

		logger.Debug("smoothed group",
			"block", g.Key.Block,
			"role", g.Key.Role.String(),
			"name", g.Name,
			"channels", gr.Channels,
			"consumers", gr.Consumers,
			"alpha", gr.Alpha,
			"min_scale", gr.MinScale,
			"max_scale", gr.MaxScale,
			"floored", gr.Floored,
		)
	}
	report.Duration = time.Since(start)

	logger.Info("smoothing complete",
		"architecture", report.Architecture,
		"blocks", len(m.Blocks),
		"groups", len(groups),
		"duration", report.Duration,
	)
	return report, nil
}
