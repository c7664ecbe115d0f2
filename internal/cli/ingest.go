package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/markdave123-py/pdfchat/internal/app"
	"github.com/markdave123-py/pdfchat/internal/models"
)

var ingestUser string

var ingestCmd = &cobra.Command{
	Use:   "ingest <file.pdf>",
	Short: "Ingest a PDF in the foreground",
	Long: `Store a PDF, then chunk, embed and index it while showing progress.
The document is owned by --user and shows up in that user's document list.

Examples:
  pdfchat ingest report.pdf --user alice`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)
	ingestCmd.Flags().StringVarP(&ingestUser, "user", "u", "", "owner user id (required)")
	ingestCmd.MarkFlagRequired("user")
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	path := args[0]

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	a, err := app.NewApp(ctx, GetConfig())
	if err != nil {
		return err
	}
	defer a.Close()

	job, err := a.Documents.Store(ctx, ingestUser, filepath.Base(path), f)
	if err != nil {
		return err
	}

	sub := a.Documents.Subscribe(job.DocumentID, job.UserID)
	defer sub.Close()

	done := make(chan error, 1)
	go func() {
		done <- a.DocProcessor.ProcessOne(ctx, job)
	}()

	bar := newIngestBar()
	events := sub.C
	var last models.Progress
	for events != nil {
		select {
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			last = ev
			renderProgress(bar, ev)
			if ev.Terminal {
				events = nil
			}
		case err = <-done:
			drainProgress(bar, sub.C, &last)
			return reportIngest(job.DocumentID, last, err)
		}
	}
	return reportIngest(job.DocumentID, last, <-done)
}

func newIngestBar() *progressbar.ProgressBar {
	return progressbar.NewOptions(100,
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionSetDescription("[cyan]Ingesting[reset]"),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionOnCompletion(func() {
			fmt.Println()
		}),
	)
}

func renderProgress(bar *progressbar.ProgressBar, ev models.Progress) {
	bar.Describe(fmt.Sprintf("[cyan]%s[reset]", ev.Status))
	_ = bar.Set(ev.Percent)
}

// drainProgress renders whatever is already buffered once the run is over.
func drainProgress(bar *progressbar.ProgressBar, events <-chan models.Progress, last *models.Progress) {
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			*last = ev
			renderProgress(bar, ev)
		default:
			return
		}
	}
}

func reportIngest(docID string, last models.Progress, err error) error {
	fmt.Println()
	if err != nil {
		if last.Error != "" {
			return fmt.Errorf("ingestion failed: %s", last.Error)
		}
		return fmt.Errorf("ingestion failed: %w", err)
	}
	fmt.Printf("Document %s is ready.\n", docID)
	return nil
}
