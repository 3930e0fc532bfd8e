package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/Charca/pkgshield/pkg/logger"
	"github.com/spf13/cobra"
)

// Version is set during build using ldflags
var Version = "dev"

var verbose bool

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "pkgshield",
	Short: "Checks npm dependencies for supply chain risk signals",
	Long: `pkgshield audits the dependencies installed in an npm project using the
registry's publish history. It flags packages that are suspiciously new,
versions installed very soon after release, and packages that appear to be
unmaintained.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logger.SetVerbose(verbose)
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		// Strict mode failures have already been reported in the output.
		if !errors.Is(err, ErrWarningsFound) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "Enable debug logging")
	rootCmd.AddCommand(newCheckCmd())
}
