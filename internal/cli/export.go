package cli

import (
	"github.com/spf13/cobra"

	"nifty-etl/internal/app"
	"nifty-etl/internal/config"
)

var (
	exportTicker    string
	exportFrom      string
	exportTo        string
	exportPNGPath   string
	exportCSVPath   string
	exportMaxPoints int
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export a stored ticker as CSV and/or PNG chart",
	RunE: func(cmd *cobra.Command, args []string) error {
		from, err := config.ParseDate(exportFrom)
		if err != nil {
			return err
		}
		to, err := config.ParseDate(exportTo)
		if err != nil {
			return err
		}

		opts := app.ExportOptions{
			Ticker:    exportTicker,
			From:      from,
			To:        to,
			PNGPath:   exportPNGPath,
			CSVPath:   exportCSVPath,
			MaxPoints: exportMaxPoints,
		}
		return getApp().Export(cmd.Context(), opts)
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportTicker, "ticker", "", "Ticker to export, e.g. RELIANCE.NS")
	exportCmd.Flags().StringVar(&exportFrom, "from", "", "First date YYYY-MM-DD (inclusive)")
	exportCmd.Flags().StringVar(&exportTo, "to", "", "Last date YYYY-MM-DD (inclusive)")
	exportCmd.Flags().StringVar(&exportPNGPath, "png", "", "Path to write PNG chart")
	exportCmd.Flags().StringVar(&exportCSVPath, "csv", "", "Path to write CSV data")
	exportCmd.Flags().IntVar(&exportMaxPoints, "max-points", 0, "Maximum rows to export (0 keeps all)")
}
