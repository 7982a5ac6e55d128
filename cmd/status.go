package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/chesno-labs/bankflow/internal/pipeline"
	"github.com/chesno-labs/bankflow/internal/query"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show recent worker runs and backlog depths",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := notifyContext(cmd)
		defer stop()

		pool, err := storePool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		backlog, err := query.New(pool).GetBacklog(ctx)
		if err != nil {
			return err
		}

		fmt.Println("Backlog:")
		fmt.Printf("  queued imports:     %d\n", backlog.QueuedImports)
		fmt.Printf("  pending extraction: %d\n", backlog.PendingExtraction)
		fmt.Printf("  failed extraction:  %d\n", backlog.FailedExtraction)
		fmt.Printf("  pending mentions:   %d\n", backlog.PendingMentions)
		fmt.Printf("  open clusters:      %d\n", backlog.OpenClusters)
		if backlog.OldestQueuedAt != nil {
			fmt.Printf("  oldest queued job:  %s\n", backlog.OldestQueuedAt.Format(time.RFC3339))
		}

		limit, _ := cmd.Flags().GetInt("limit")
		runs, err := pipeline.NewRunLog(pool).ListRecent(ctx, limit)
		if err != nil {
			return err
		}

		fmt.Println("\nRecent runs:")
		if len(runs) == 0 {
			fmt.Println("  (none)")
			return nil
		}
		for _, r := range runs {
			line := fmt.Sprintf("  %-9s %-8s items=%-6d started=%s run=%s",
				r.Worker, r.Status, r.Items, r.StartedAt.Format(time.RFC3339), r.RunUID)
			if r.Error != "" {
				line += " error=" + r.Error
			}
			fmt.Println(line)
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().Int("limit", 20, "number of recent runs to show")
	rootCmd.AddCommand(statusCmd)
}
