// Package cli is the pdfchat command line: run the server, ingest a PDF in
// the foreground, or ask a question about an ingested document.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/markdave123-py/pdfchat/internal/config"
)

var (
	cfgFile string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "pdfchat",
	Short: "Chat with your PDF documents",
	Long: `pdfchat ingests PDF files into a vector index and answers questions
about them with a local or hosted language model.

Example usage:
  pdfchat serve                                  # Run the HTTP API
  pdfchat ingest report.pdf --user alice         # Ingest a file in the foreground
  pdfchat ask <document-id> what is the budget?  # Ask about an ingested document`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.FromEnvironment(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		return nil
	},
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "YAML config file (default is $"+config.FileEnv+")")
}

func GetConfig() *config.Config {
	return cfg
}
