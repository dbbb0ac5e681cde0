package cli

import (
	"github.com/spf13/cobra"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve generated HTML reports",
	RunE: func(cmd *cobra.Command, args []string) error {
		a := getApp()
		if serveAddr != "" {
			a.Config.Server.Addr = serveAddr
		}
		return a.Serve(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (defaults to server.addr)")
}
