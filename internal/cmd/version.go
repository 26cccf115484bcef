package cmd

import (
	"fmt"
	"io"
	"runtime"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/spf13/cobra"
)

var extended bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  "Print version information. Use --extended to include commit, build date, Go and gofulmen versions.",
	RunE: func(cmd *cobra.Command, args []string) error {
		printVersion(cmd.OutOrStdout(), GetAppIdentity().BinaryName, extended)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	versionCmd.Flags().BoolVarP(&extended, "extended", "e", false, "show extended version information")
}

func printVersion(w io.Writer, binary string, extended bool) {
	_, _ = fmt.Fprintf(w, "%s %s\n", binary, versionInfo.Version)
	if !extended {
		return
	}
	_, _ = fmt.Fprintf(w, "Commit: %s\n", versionInfo.Commit)
	_, _ = fmt.Fprintf(w, "Built: %s\n", versionInfo.BuildDate)
	_, _ = fmt.Fprintf(w, "Go: %s\n\n", runtime.Version())

	deps := crucible.GetVersion()
	_, _ = fmt.Fprintf(w, "Gofulmen: %s\n", deps.Gofulmen)
	_, _ = fmt.Fprintf(w, "Crucible: %s\n", deps.Crucible)
}
