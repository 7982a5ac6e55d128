package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/chesno-labs/bankflow/internal/dedup"
	"github.com/chesno-labs/bankflow/internal/extractor"
	"github.com/chesno-labs/bankflow/internal/importer"
	"github.com/chesno-labs/bankflow/internal/pipeline"
	"github.com/chesno-labs/bankflow/internal/stats"
	"github.com/chesno-labs/bankflow/internal/watcher"
	"github.com/chesno-labs/bankflow/pkg/anthropic"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the whole pipeline in one process",
	Long: `Runs watcher, importer, extractor, deduplicator, and stats aggregator
together. The workers stay independent: they coordinate only through the
store, exactly as when run as separate processes. Intended for small
deployments and local development.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := notifyContext(cmd)
		defer stop()

		pool, err := storePool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		if err := pipeline.Migrate(ctx, pool); err != nil {
			return err
		}

		runlog := pipeline.NewRunLog(pool)
		log := zap.L().With(zap.String("command", "run"))

		g, ctx := errgroup.WithContext(ctx)

		w := watcher.New(
			cfg.Intake.Dir,
			cfg.Intake.Patterns,
			cfg.Intake.Debounce(),
			time.Duration(cfg.Intake.PollInterval)*time.Second,
			watcher.NewStore(pool),
			runlog,
		)
		g.Go(func() error { return w.Run(ctx) })

		delim := '\t'
		if cfg.Importer.Delimiter != "" {
			delim = rune(cfg.Importer.Delimiter[0])
		}
		im := importer.New(pool, delim)
		g.Go(func() error {
			worker := &pipeline.Worker{
				Name: "importer", Interval: 30 * time.Second, Log: runlog,
				Cycle: func(ctx context.Context) (*pipeline.RunResult, error) {
					res, jobs, err := im.DrainQueue(ctx)
					if err != nil {
						return nil, err
					}
					return &pipeline.RunResult{
						Items:    int64(res.Accepted),
						Metadata: map[string]any{"jobs": jobs, "rejected": res.Rejected, "skipped": res.Skipped},
					}, nil
				},
			}
			return worker.Run(ctx)
		})

		if cfg.Anthropic.Key != "" {
			ex := extractor.New(pool, anthropic.NewClient(cfg.Anthropic.Key), extractor.Config{
				Model:       cfg.Anthropic.Model,
				MaxTokens:   cfg.Anthropic.MaxTokens,
				Timeout:     cfg.Extractor.Timeout(),
				MaxAttempts: cfg.Extractor.MaxAttempts,
				BackoffBase: time.Duration(cfg.Extractor.BackoffBaseSecs) * time.Second,
				BackoffCap:  time.Duration(cfg.Extractor.BackoffCapSecs) * time.Second,
				RatePerSec:  cfg.Extractor.RatePerSec,
			})
			g.Go(func() error {
				worker := &pipeline.Worker{
					Name: "extractor", Interval: 30 * time.Second, Log: runlog,
					Cycle: func(ctx context.Context) (*pipeline.RunResult, error) {
						n, err := ex.ProcessBatch(ctx, 20)
						if err != nil {
							return nil, err
						}
						return &pipeline.RunResult{Items: int64(n)}, nil
					},
				}
				return worker.Run(ctx)
			})
		} else {
			log.Warn("no anthropic key configured, extractor disabled")
		}

		d := dedup.New(pool, cfg.Dedup.SimilarityThreshold, cfg.Dedup.StabilityWindow())
		g.Go(func() error {
			worker := &pipeline.Worker{
				Name: "dedup", Interval: time.Minute, Log: runlog,
				Cycle: func(ctx context.Context) (*pipeline.RunResult, error) {
					resolved, err := d.ProcessBatch(ctx, 100)
					if err != nil {
						return nil, err
					}
					finalized, err := d.FinalizeClusters(ctx)
					if err != nil {
						return nil, err
					}
					return &pipeline.RunResult{
						Items:    int64(resolved),
						Metadata: map[string]any{"finalized": finalized},
					}, nil
				},
			}
			return worker.Run(ctx)
		})

		agg := stats.New(pool, cfg.Stats.TopCourts)
		g.Go(func() error {
			worker := &pipeline.Worker{
				Name: "stats", Interval: time.Hour, Log: runlog,
				Cycle: func(ctx context.Context) (*pipeline.RunResult, error) {
					snap, err := agg.Snapshot(ctx)
					if err != nil {
						return nil, err
					}
					return &pipeline.RunResult{Items: 1, Metadata: map[string]any{"snapshot_id": snap.ID}}, nil
				},
			}
			return worker.Run(ctx)
		})

		log.Info("pipeline running")
		return g.Wait()
	},
}

func init() {
	runCmd.Flags().Bool("verbose", false, "debug logging")
	rootCmd.AddCommand(runCmd)
}
