package cli

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/born-ml/smoothquant/internal/model"
)

func newVersionCmd(ro *RootOpts, version string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if ro.JSONOut {
				return writeJSON(cmd.OutOrStdout(), map[string]any{
					"version":       version,
					"go":            runtime.Version(),
					"architectures": model.Names(),
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "smoothquant %s (%s, %s/%s)\n", version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
			return nil
		},
	}
}
