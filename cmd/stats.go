package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/chesno-labs/bankflow/internal/pipeline"
	"github.com/chesno-labs/bankflow/internal/stats"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Aggregate statistics snapshots",
	Long: `Each cycle computes totals and breakdowns over the whole store inside
one repeatable-read transaction and appends an immutable snapshot row.
Consumers read the latest snapshot; history is never rewritten.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := notifyContext(cmd)
		defer stop()

		pool, err := storePool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		agg := stats.New(pool, cfg.Stats.TopCourts)

		return runWorker(cmd, "stats", pipeline.NewRunLog(pool), func(ctx context.Context) (*pipeline.RunResult, error) {
			snap, err := agg.Snapshot(ctx)
			if err != nil {
				return nil, err
			}
			return &pipeline.RunResult{
				Items: 1,
				Metadata: map[string]any{
					"snapshot_id": snap.ID,
					"total_cases": snap.TotalCases,
				},
			}, nil
		})
	},
}

func init() {
	addWorkerFlags(statsCmd, 3600, 0)
	rootCmd.AddCommand(statsCmd)
}
