// Package cli implements the smoothquant command line.
package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// RootOpts holds the persistent flags shared by every command.
type RootOpts struct {
	Config   string
	LogLevel string
	Verbose  bool
	Quiet    bool
	JSONOut  bool

	logger *slog.Logger
}

// Logger returns the logger configured from the flags.
func (ro *RootOpts) Logger() *slog.Logger {
	if ro.logger == nil {
		return slog.Default()
	}
	return ro.logger
}

// Execute runs the root command.
func Execute(version string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return NewRootCmd(version).ExecuteContext(ctx)
}

// NewRootCmd builds the command tree.
func NewRootCmd(version string) *cobra.Command {
	ro := &RootOpts{}

	root := &cobra.Command{
		Use:   "smoothquant",
		Short: "Migrate activation outliers into weights before quantization",
		Long: `smoothquant rewrites a transformer checkpoint so that its activations are
easier to quantize. For every normalization layer feeding linear layers it
divides the norm's scale and shift by a per-channel factor and multiplies the
matching weight columns by the same factor, leaving the outputs unchanged.

Activation statistics (the per-channel max |x| seen at each linear layer's
input) must be collected beforehand.

Examples:
  smoothquant inspect --model ./opt-125m
  smoothquant smooth --model ./opt-125m --act-scales act_scales.safetensors --output smoothed.safetensors
  smoothquant verify --model ./opt-125m --smoothed smoothed.safetensors`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger(cmd.ErrOrStderr(), ro)
			if err != nil {
				return err
			}
			ro.logger = logger
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&ro.Config, "config", "", "Config file (default: ~/.config/smoothquant.{json,yaml,yml})")
	pf.StringVar(&ro.LogLevel, "log-level", "info", "Log level: debug, info, warn, error")
	pf.BoolVarP(&ro.Verbose, "verbose", "v", false, "Verbose logging (same as --log-level debug)")
	pf.BoolVarP(&ro.Quiet, "quiet", "q", false, "Only log errors")
	pf.BoolVar(&ro.JSONOut, "json", false, "Machine-readable JSON output and logs")

	root.AddCommand(
		newSmoothCmd(ro),
		newInspectCmd(ro),
		newVerifyCmd(ro),
		newVersionCmd(ro, version),
	)
	return root
}
