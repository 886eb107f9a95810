package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"heimgeist/internal/insight"
)

var insightsFlags struct {
	severity string
	explain  string
}

var insightsCmd = &cobra.Command{
	Use:   "insights",
	Short: "List recorded insights",
	RunE:  runInsights,
}

func init() {
	f := insightsCmd.Flags()
	f.StringVar(&insightsFlags.severity, "severity", "", "Only show insights at least this severe (low, medium, high, critical)")
	f.StringVar(&insightsFlags.explain, "explain", "", "Explain one insight by id instead of listing")
}

func runInsights(cmd *cobra.Command, _ []string) error {
	e, cleanup, err := loadConfigAndBuild()
	if err != nil {
		return err
	}
	defer cleanup()
	out := cmd.OutOrStdout()

	if insightsFlags.explain != "" {
		text, err := e.Explain(insightsFlags.explain)
		if err != nil {
			return err
		}
		fmt.Fprint(out, text)
		return nil
	}

	min := insight.Severity(insightsFlags.severity)
	if insightsFlags.severity != "" && min.Rank() < 0 {
		return fmt.Errorf("unknown severity %q", insightsFlags.severity)
	}

	ins := e.GetInsights()
	shown := 0
	for _, in := range ins {
		if insightsFlags.severity != "" && !in.Severity.AtLeast(min) {
			continue
		}
		fmt.Fprintf(out, "%s  [%s/%-8s]  %s\n", in.ID, in.Role, in.Severity, in.Title)
		shown++
	}
	if shown == 0 {
		fmt.Fprintln(out, "No insights recorded.")
	}
	return nil
}
