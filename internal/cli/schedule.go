package cli

import (
	"github.com/spf13/cobra"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run the pipeline on the configured interval and serve reports and metrics",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Schedule(cmd.Context())
	},
}
