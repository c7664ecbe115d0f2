package cli

import (
	"github.com/spf13/cobra"

	"github.com/markdave123-py/pdfchat/internal/app"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the background ingestion workers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return app.Run(cmd.Context(), GetConfig())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
