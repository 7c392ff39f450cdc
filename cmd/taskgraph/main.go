// Command taskgraph runs pipelines of shell tasks as a dependency graph.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "taskgraph",
	Short: "Run pipelines of shell tasks as a dependency graph",
	Long: `taskgraph executes the tasks of a pipeline file in dependency order.

Independent tasks run concurrently on a worker pool, ui-* tasks run one at a
time on a dedicated loop, and the first failure skips every dependent task.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(runCmd, planCmd, historyCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
