package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chesno-labs/bankflow/internal/api"
	"github.com/chesno-labs/bankflow/internal/query"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the read-only consumer API",
	Long:  "HTTP API over committed store state: case listings, case detail with resolved creditors, canonical creditors, and the latest statistics snapshot. No write path.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := notifyContext(cmd)
		defer stop()

		pool, err := storePool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		srv := api.New(fmt.Sprintf(":%d", cfg.Server.Port), query.New(pool))
		return srv.Run(ctx)
	},
}

func init() {
	serveCmd.Flags().Bool("verbose", false, "debug logging")
	rootCmd.AddCommand(serveCmd)
}
