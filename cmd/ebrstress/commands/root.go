// Package commands implements the ebrstress CLI commands.
package commands

import (
	"github.com/spf13/cobra"
)

var (
	// Build information injected by main.
	Commit = "none"
	Date   = "unknown"

	// Global flags.
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "ebrstress",
	Short: "ebrstress - stress tester for epoch-based reclamation",
	Long: `ebrstress hammers an ebr.Collector with concurrent readers and writers
and checks that no reader ever observes a retired node after it was
reclaimed.

Configuration is read from flags, EBRSTRESS_* environment variables and an
optional YAML file, in that order of precedence.

Use "ebrstress [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. It is called by main.main().
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}
