// Command engram runs an adaptive memory engine for conversational agents:
// it stores interaction history, ingests knowledge sources, and answers
// queries with context assembled from both.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var noColor bool

var rootCmd = &cobra.Command{
	Use:           "engram",
	Short:         "Adaptive memory engine for conversational agents",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&designPath, "design", "engram.json", "path to the design file")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "directory for the engine database (default: design file directory)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(recordsCmd)
	rootCmd.AddCommand(pruneCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}
