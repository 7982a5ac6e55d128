package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/chesno-labs/bankflow/internal/pipeline"
)

// workerOpts is the invocation contract shared by every worker command.
type workerOpts struct {
	Once      bool
	Interval  time.Duration
	BatchSize int
}

// addWorkerFlags registers the shared worker flags.
func addWorkerFlags(cmd *cobra.Command, defaultInterval, defaultBatch int) {
	cmd.Flags().Bool("once", false, "run a single cycle and exit")
	cmd.Flags().Int("interval", defaultInterval, "seconds between cycles")
	cmd.Flags().Int("batch-size", defaultBatch, "maximum items per cycle")
	cmd.Flags().Bool("verbose", false, "debug logging")
}

func parseWorkerOpts(cmd *cobra.Command) workerOpts {
	once, _ := cmd.Flags().GetBool("once")
	interval, _ := cmd.Flags().GetInt("interval")
	batch, _ := cmd.Flags().GetInt("batch-size")
	return workerOpts{
		Once:      once,
		Interval:  time.Duration(interval) * time.Second,
		BatchSize: batch,
	}
}

// runWorker drives a cycle function under the shared loop with graceful
// SIGINT/SIGTERM stop. The in-flight cycle finishes before the loop exits.
func runWorker(cmd *cobra.Command, name string, log *pipeline.RunLog, cycle pipeline.CycleFunc) error {
	opts := parseWorkerOpts(cmd)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	w := &pipeline.Worker{
		Name:     name,
		Interval: opts.Interval,
		Once:     opts.Once,
		Log:      log,
		Cycle:    cycle,
	}
	err := w.Run(ctx)
	if err != nil && ctx.Err() != nil {
		// A cycle interrupted by shutdown is a clean stop.
		return nil
	}
	return err
}

// notifyContext is the graceful-stop context used by non-loop commands.
func notifyContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
}
