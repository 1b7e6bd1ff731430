// Command rfctl drives the on-device runtime from a host: training a
// forest from a CSV dataset, classifying a single row against a saved
// model, and exercising the serial transfer protocol against a local file.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	os.Exit(run())
}

func run() int {
	root := newRootCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "rfctl: %v\n", err)
		return exitCodeFor(err)
	}
	return exitSuccess
}

// debugLevel is the process-wide diagnostic level every subcommand builds
// its platform.Context at, set by the root command's persistent flag
// (spec §7: level 0 suppresses everything, level 3 emits per-chunk and
// per-tree traces).
var debugLevel int

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "rfctl",
		Short:         "Train and run the on-device random-forest runtime from a host",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().IntVar(&debugLevel, "debug_level", 0, "diagnostic level: 0=none 1=error 2=info 3=trace")
	root.AddCommand(newTrainCommand())
	root.AddCommand(newPredictCommand())
	root.AddCommand(newXferCommand())
	return root
}
