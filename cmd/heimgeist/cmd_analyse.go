package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var analyseFlags struct {
	jsonOut bool
}

var analyseCmd = &cobra.Command{
	Use:   "analyse [request]",
	Short: "Produce a findings report over the recorded insights",
	Long: `Summarizes the current insight set as a findings report with an
uncertainty score. Findings are observations, never commands. An
optional request filters findings to matching insights.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAnalyse,
}

func init() {
	analyseCmd.Flags().BoolVar(&analyseFlags.jsonOut, "json", false, "Emit the report as JSON")
}

func runAnalyse(cmd *cobra.Command, args []string) error {
	e, cleanup, err := loadConfigAndBuild()
	if err != nil {
		return err
	}
	defer cleanup()

	request := ""
	if len(args) > 0 {
		request = args[0]
	}
	rep := e.Analyse(request)

	out := cmd.OutOrStdout()
	if analyseFlags.jsonOut {
		data, err := json.MarshalIndent(rep, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(out, string(data))
		return nil
	}

	fmt.Fprintf(out, "Report by %s at %s: %s\n",
		rep.Agent, rep.GeneratedAt.Format("2006-01-02 15:04:05 MST"), rep.Scope)
	fmt.Fprintf(out, "uncertainty %.2f (%d unknown events, %d malformed payloads)\n",
		rep.Uncertainty.Score, rep.Uncertainty.UnknownEvents, rep.Uncertainty.MalformedPayloads)
	fmt.Fprintln(out, strings.Repeat("-", 60))
	for _, f := range rep.Findings {
		fmt.Fprintf(out, "  %s\n", f)
	}
	return nil
}
