package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/chesno-labs/bankflow/internal/dedup"
	"github.com/chesno-labs/bankflow/internal/pipeline"
)

var dedupCmd = &cobra.Command{
	Use:   "dedup",
	Short: "Resolve creditor mentions into canonical creditors",
	Long: `Each cycle assigns pending mentions to canonical creditors or open
clusters by registry code and name similarity, then finalizes clusters
that have been stable for the configured window. Processing order is
deterministic: the same pending set always resolves the same way.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := notifyContext(cmd)
		defer stop()

		pool, err := storePool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		d := dedup.New(pool, cfg.Dedup.SimilarityThreshold, cfg.Dedup.StabilityWindow())

		opts := parseWorkerOpts(cmd)
		return runWorker(cmd, "dedup", pipeline.NewRunLog(pool), func(ctx context.Context) (*pipeline.RunResult, error) {
			resolved, err := d.ProcessBatch(ctx, opts.BatchSize)
			if err != nil {
				return nil, err
			}
			finalized, err := d.FinalizeClusters(ctx)
			if err != nil {
				return nil, err
			}
			return &pipeline.RunResult{
				Items: int64(resolved),
				Metadata: map[string]any{
					"finalized": finalized,
				},
			}, nil
		})
	},
}

func init() {
	addWorkerFlags(dedupCmd, 60, 100)
	rootCmd.AddCommand(dedupCmd)
}
