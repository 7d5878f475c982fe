package commands

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/isgasho/flize/ebr"
)

var (
	versionShort   bool
	versionRequire string
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Long: `Display the ebr version, build information, and system details.

With --require, exit with an error unless the built-in ebr package is
compatible with the given semantic version.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()

		if versionRequire != "" {
			ok, err := ebr.Compatible(versionRequire)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("ebr %s does not satisfy %s", ebr.Version, versionRequire)
			}
		}

		if versionShort {
			fmt.Fprintln(out, ebr.Version)
			return nil
		}

		info := ebr.GetInfo()
		fmt.Fprintf(out, "ebrstress %s (%s)\n", info.Version, info.Scheme)
		fmt.Fprintf(out, "  Commit:     %s\n", Commit)
		fmt.Fprintf(out, "  Built:      %s\n", Date)
		fmt.Fprintf(out, "  Go version: %s\n", runtime.Version())
		fmt.Fprintf(out, "  OS/Arch:    %s/%s\n", runtime.GOOS, runtime.GOARCH)
		return nil
	},
}

func init() {
	versionCmd.Flags().BoolVar(&versionShort, "short", false, "Show only version number")
	versionCmd.Flags().StringVar(&versionRequire, "require", "", "Fail unless compatible with this version (e.g. v0.1.0)")
}
