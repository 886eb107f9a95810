package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show engine status and self-model state",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, _ []string) error {
	e, cleanup, err := loadConfigAndBuild()
	if err != nil {
		return err
	}
	defer cleanup()

	st := e.GetStatus()
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Autonomy:         %s\n", st.AutonomyLevel)
	fmt.Fprintf(out, "Events processed: %d\n", st.EventsProcessed)
	fmt.Fprintf(out, "Insights:         %d\n", st.Insights)
	fmt.Fprintf(out, "Actions:          %d (%d pending)\n", st.Actions, st.PendingActions)
	fmt.Fprintf(out, "Persist failures: %d\n", st.PersistFailures)
	fmt.Fprintf(out, "Self-model:       mode=%s confidence=%.2f fatigue=%.2f risk=%.2f\n",
		st.SelfState.AutonomyMode, st.SelfState.Confidence, st.SelfState.Fatigue, st.SelfState.RiskTension)
	if st.SafetyGate.Safe {
		fmt.Fprintf(out, "Safety gate:      safe\n")
	} else {
		fmt.Fprintf(out, "Safety gate:      UNSAFE (%s)\n", st.SafetyGate.Reason)
	}
	for _, b := range st.SelfState.BasisSignals {
		fmt.Fprintf(out, "  basis: %s\n", b)
	}
	return nil
}
