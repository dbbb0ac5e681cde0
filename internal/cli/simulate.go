package cli

import (
	"github.com/spf13/cobra"
)

var simulateTickers []string

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "Send a synthetic DQ failure alert through the configured channel",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().SimulateAlert(cmd.Context(), simulateTickers)
	},
}

func init() {
	simulateCmd.Flags().StringSliceVar(&simulateTickers, "tickers", nil, "Tickers to report as failing (defaults to config)")
}
