package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var actionsFlags struct {
	approve string
	reject  string
	execute string
	abandon string
}

var actionsCmd = &cobra.Command{
	Use:   "actions",
	Short: "List planned actions and drive their state machine",
	RunE:  runActions,
}

func init() {
	f := actionsCmd.Flags()
	f.StringVar(&actionsFlags.approve, "approve", "", "Approve the pending action with this id")
	f.StringVar(&actionsFlags.reject, "reject", "", "Reject the pending action with this id")
	f.StringVar(&actionsFlags.execute, "execute", "", "Execute the action with this id")
	f.StringVar(&actionsFlags.abandon, "abandon", "", "Mark the action with this id as failed without retrying")
	actionsCmd.MarkFlagsMutuallyExclusive("approve", "reject", "execute", "abandon")
}

func runActions(cmd *cobra.Command, _ []string) error {
	e, cleanup, err := loadConfigAndBuild()
	if err != nil {
		return err
	}
	defer cleanup()
	out := cmd.OutOrStdout()

	switch {
	case actionsFlags.approve != "":
		if err := e.ApproveAction(actionsFlags.approve); err != nil {
			return err
		}
		fmt.Fprintf(out, "approved %s\n", actionsFlags.approve)
		return nil
	case actionsFlags.reject != "":
		if err := e.RejectAction(actionsFlags.reject); err != nil {
			return err
		}
		fmt.Fprintf(out, "rejected %s\n", actionsFlags.reject)
		return nil
	case actionsFlags.execute != "":
		ok, err := e.ExecuteAction(cmd.Context(), actionsFlags.execute)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("execution of %s failed; action left open for retry", actionsFlags.execute)
		}
		fmt.Fprintf(out, "executed %s\n", actionsFlags.execute)
		return nil
	case actionsFlags.abandon != "":
		if err := e.AbandonAction(actionsFlags.abandon); err != nil {
			return err
		}
		fmt.Fprintf(out, "abandoned %s\n", actionsFlags.abandon)
		return nil
	}

	acts := e.GetPlannedActions()
	if len(acts) == 0 {
		fmt.Fprintln(out, "No planned actions.")
		return nil
	}
	for _, a := range acts {
		confirm := ""
		if a.RequiresConfirmation {
			confirm = " (requires confirmation)"
		}
		trigger := ""
		if a.Trigger != nil {
			trigger = a.Trigger.Title
		}
		fmt.Fprintf(out, "%s  [%-8s]%s  %s\n", a.ID, a.Status, confirm, trigger)
		for _, s := range a.Steps {
			fmt.Fprintf(out, "    %d. %-18s %s [%s]\n", s.Order, s.Tool, s.Description, s.Status)
		}
	}
	return nil
}
