package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/chesno-labs/bankflow/internal/extractor"
	"github.com/chesno-labs/bankflow/internal/pipeline"
	"github.com/chesno-labs/bankflow/pkg/anthropic"
)

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Extract creditor mentions from pending cases",
	Long: `Sends each pending case announcement to the Anthropic API and stores
the returned creditor mentions. Failed cases are retried with capped
exponential backoff until the attempt budget is exhausted, then marked
failed. --requeue-failed re-arms failed cases; --force re-extracts
everything, relying on the mention uniqueness to avoid duplicates.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := notifyContext(cmd)
		defer stop()

		if cfg.Anthropic.Key == "" {
			return eris.New("extract: no anthropic.key configured (set BANKFLOW_ANTHROPIC_KEY)")
		}

		pool, err := storePool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		ex := extractor.New(pool, anthropic.NewClient(cfg.Anthropic.Key), extractor.Config{
			Model:       cfg.Anthropic.Model,
			MaxTokens:   cfg.Anthropic.MaxTokens,
			Timeout:     cfg.Extractor.Timeout(),
			MaxAttempts: cfg.Extractor.MaxAttempts,
			BackoffBase: time.Duration(cfg.Extractor.BackoffBaseSecs) * time.Second,
			BackoffCap:  time.Duration(cfg.Extractor.BackoffCapSecs) * time.Second,
			RatePerSec:  cfg.Extractor.RatePerSec,
		})

		if force, _ := cmd.Flags().GetBool("force"); force {
			n, err := ex.RequeueAll(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Requeued %d cases for re-extraction\n", n)
		} else if requeue, _ := cmd.Flags().GetBool("requeue-failed"); requeue {
			n, err := ex.RequeueFailed(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Requeued %d failed cases\n", n)
		}

		opts := parseWorkerOpts(cmd)
		return runWorker(cmd, "extractor", pipeline.NewRunLog(pool), func(ctx context.Context) (*pipeline.RunResult, error) {
			n, err := ex.ProcessBatch(ctx, opts.BatchSize)
			if err != nil {
				return nil, err
			}
			return &pipeline.RunResult{Items: int64(n)}, nil
		})
	},
}

func init() {
	addWorkerFlags(extractCmd, 30, 20)
	extractCmd.Flags().Bool("requeue-failed", false, "re-arm terminally failed cases first")
	extractCmd.Flags().Bool("force", false, "requeue every case, including extracted ones")
	rootCmd.AddCommand(extractCmd)
}
