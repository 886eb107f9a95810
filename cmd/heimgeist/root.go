package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags.
var version = "dev"

var rootFlags struct {
	configPath string
}

var rootCmd = &cobra.Command{
	Use:   "heimgeist",
	Short: "Self-regulating correlation engine for software-delivery telemetry",
	Long: "Heimgeist ingests CI, deployment and incident events from the chronik\n" +
		"event log, derives graded insights through an observer/critic pipeline,\n" +
		"and plans remedial actions throttled by its own self-model.",
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rootFlags.configPath, "config", "", "Path to YAML config (defaults apply when omitted)")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(insightsCmd)
	rootCmd.AddCommand(actionsCmd)
	rootCmd.AddCommand(analyseCmd)
	rootCmd.Version = version
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
