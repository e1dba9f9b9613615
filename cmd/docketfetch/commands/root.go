package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"docketfetch/lib/telemetry"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "docketfetch",
	Short: "docketfetch downloads court documents from an open Harris County District Clerk case tab.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		telemetry.InitSlog(verbose)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging.")
}

func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
