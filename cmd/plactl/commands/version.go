package commands

import (
	"runtime"
	"runtime/debug"

	"github.com/spf13/cobra"
)

// Version is set at link time with -ldflags "-X plaindex/cmd/plactl/commands.Version=...".
var Version = "dev"

type versionResult struct {
	Version string `json:"version" yaml:"version"`
	Go      string `json:"go" yaml:"go"`
	Module  string `json:"module,omitempty" yaml:"module,omitempty"`
}

func (r versionResult) table() ([]string, [][]string) {
	return fields("plactl", r.Version, "go", r.Go, "module", r.Module)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		res := versionResult{Version: Version, Go: runtime.Version()}
		if info, ok := debug.ReadBuildInfo(); ok {
			res.Module = info.Main.Path
		}
		return render(cmd, res)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
