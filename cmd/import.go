package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/chesno-labs/bankflow/internal/importer"
	"github.com/chesno-labs/bankflow/internal/pipeline"
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import queued intake files",
	Long: `Drains the import job queue, parsing each intake file and upserting
courts, companies, and cases. Re-importing a file is idempotent: unchanged
rows are counted as skipped, never duplicated.

Use --file to import one file directly, bypassing the queue.
Use --full to truncate all imported data first (asks for confirmation).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := notifyContext(cmd)
		defer stop()

		pool, err := storePool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		delim := '\t'
		if cfg.Importer.Delimiter != "" {
			delim = rune(cfg.Importer.Delimiter[0])
		}
		im := importer.New(pool, delim)
		log := zap.L().With(zap.String("command", "import"))

		if full, _ := cmd.Flags().GetBool("full"); full {
			if yes, _ := cmd.Flags().GetBool("yes"); !yes && !confirm("This deletes ALL imported cases, companies, courts, and mentions. Continue?") {
				fmt.Println("Aborted")
				return nil
			}
			if err := im.FullReplace(ctx); err != nil {
				return eris.Wrap(err, "import: full replace")
			}
			log.Info("store truncated for full reload")
		}

		if file, _ := cmd.Flags().GetString("file"); file != "" {
			res, err := im.ImportFile(ctx, file)
			if err != nil {
				return eris.Wrapf(err, "import: %s", file)
			}
			fmt.Printf("Imported %s: accepted=%d rejected=%d skipped=%d\n",
				file, res.Accepted, res.Rejected, res.Skipped)
			return nil
		}

		return runWorker(cmd, "importer", pipeline.NewRunLog(pool), func(ctx context.Context) (*pipeline.RunResult, error) {
			res, jobs, err := im.DrainQueue(ctx)
			if err != nil {
				return nil, err
			}
			return &pipeline.RunResult{
				Items: int64(res.Accepted),
				Metadata: map[string]any{
					"jobs":     jobs,
					"accepted": res.Accepted,
					"rejected": res.Rejected,
					"skipped":  res.Skipped,
				},
			}, nil
		})
	},
}

// confirm prompts on stdin and accepts y/yes.
func confirm(question string) bool {
	fmt.Printf("%s [y/N]: ", question)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

func init() {
	addWorkerFlags(importCmd, 60, 0)
	importCmd.Flags().String("file", "", "import a single file directly")
	importCmd.Flags().Bool("full", false, "truncate imported data before importing")
	importCmd.Flags().Bool("yes", false, "skip the --full confirmation prompt")
	rootCmd.AddCommand(importCmd)
}
