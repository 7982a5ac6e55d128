package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/chesno-labs/bankflow/internal/pipeline"
	"github.com/chesno-labs/bankflow/internal/watcher"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the intake directory and enqueue import jobs",
	Long: `Monitors the configured intake directory for new or changed files.
Filesystem events are debounced; a periodic full scan backstops missed
events. Changed files are enqueued for the importer, at most one queued
job per path. With --once a single scan runs and the command exits;
--interval overrides the configured poll interval.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := notifyContext(cmd)
		defer stop()

		pool, err := storePool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		opts := parseWorkerOpts(cmd)
		pollInterval := time.Duration(cfg.Intake.PollInterval) * time.Second
		if cmd.Flags().Changed("interval") {
			pollInterval = opts.Interval
		}

		w := watcher.New(
			cfg.Intake.Dir,
			cfg.Intake.Patterns,
			cfg.Intake.Debounce(),
			pollInterval,
			watcher.NewStore(pool),
			pipeline.NewRunLog(pool),
		)

		if opts.Once {
			return w.ScanOnce(ctx)
		}
		return w.Run(ctx)
	},
}

func init() {
	addWorkerFlags(watchCmd, 300, 0)
	rootCmd.AddCommand(watchCmd)
}
