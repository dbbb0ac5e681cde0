package cli

import (
	"github.com/spf13/cobra"

	"nifty-etl/internal/app"
)

var (
	runOpts      app.RunOptions
	runOverwrite bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the pipeline once and print the run summary",
	RunE: func(cmd *cobra.Command, args []string) error {
		a := getApp()
		if err := a.Apply(runOptions(cmd)); err != nil {
			return err
		}
		return a.Run(cmd.Context())
	},
}

func init() {
	runCmd.Flags().StringSliceVar(&runOpts.Tickers, "tickers", nil, "Comma separated tickers (defaults to config)")
	runCmd.Flags().StringVar(&runOpts.Period, "period", "", "History period such as 1y, 6mo, 30d or max")
	runCmd.Flags().StringVar(&runOpts.Start, "start", "", "Start date YYYY-MM-DD (overrides --period)")
	runCmd.Flags().StringVar(&runOpts.End, "end", "", "End date YYYY-MM-DD")
	runCmd.Flags().BoolVar(&runOverwrite, "overwrite", true, "Replace existing parquet files and tables (--overwrite=false keeps them)")
	runCmd.Flags().StringVar(&runOpts.OutBase, "out", "", "Output base directory")
}

// runOptions returns the flag overrides; --overwrite only applies when given.
func runOptions(cmd *cobra.Command) app.RunOptions {
	opts := runOpts
	if cmd.Flags().Changed("overwrite") {
		overwrite := runOverwrite
		opts.Overwrite = &overwrite
	}
	return opts
}
