package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"heimgeist/internal/logging"
)

var runFlags struct {
	interval time.Duration
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the correlation loop against the chronik event log",
	Long: `Polls the chronik event log on a fixed cadence, feeds matching events
through the role pipeline, and auto-executes actions the confirmation
policy permits. Stops cleanly on SIGINT/SIGTERM after the current tick.`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().DurationVar(&runFlags.interval, "interval", 5*time.Second, "Pause between polling ticks")
}

func runRun(cmd *cobra.Command, _ []string) error {
	e, cleanup, err := loadConfigAndBuild()
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		e.Stop()
	}()

	logging.New("cli").Info("heimgeist loop starting", "interval", runFlags.interval)
	if err := e.Run(ctx, runFlags.interval); err != nil && err != context.Canceled {
		return err
	}
	return nil
}
