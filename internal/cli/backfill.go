package cli

import (
	"github.com/spf13/cobra"

	"nifty-etl/internal/app"
)

var (
	backfillTickers []string
	backfillDryRun  bool
	backfillWorkers int
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Mirror stored DuckDB tables into PostgreSQL",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.BackfillOptions{
			Tickers: backfillTickers,
			DryRun:  backfillDryRun,
			Workers: backfillWorkers,
		}
		return getApp().Backfill(cmd.Context(), opts)
	},
}

func init() {
	backfillCmd.Flags().StringSliceVar(&backfillTickers, "tickers", nil, "Tickers to mirror (defaults to config)")
	backfillCmd.Flags().BoolVar(&backfillDryRun, "dry-run", false, "Read tables without writing to PostgreSQL")
	backfillCmd.Flags().IntVar(&backfillWorkers, "workers", 2, "Number of concurrent upserts")
}
