package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/markdave123-py/pdfchat/internal/app"
	"github.com/markdave123-py/pdfchat/internal/models"
)

var (
	askUser string
	askJSON bool
)

var askCmd = &cobra.Command{
	Use:   "ask <document-id> <question...>",
	Short: "Ask a question about an ingested document",
	Long: `Answer a question from the indexed chunks of one document.

With --user the exchange is checked against the document owner and saved
to that user's chat history, the same way the HTTP API does it.

Examples:
  pdfchat ask 3f2a... what does section 2 say about pricing
  pdfchat ask 3f2a... --user alice --json summarize the introduction`,
	Args: cobra.MinimumNArgs(2),
	RunE: runAsk,
}

func init() {
	rootCmd.AddCommand(askCmd)
	askCmd.Flags().StringVarP(&askUser, "user", "u", "", "ask as this user and keep the chat history")
	askCmd.Flags().BoolVar(&askJSON, "json", false, "output as JSON")
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	docID := args[0]
	query := strings.Join(args[1:], " ")

	a, err := app.NewApp(ctx, GetConfig())
	if err != nil {
		return err
	}
	defer a.Close()

	var answer models.ChatAnswer
	if askUser != "" {
		res, err := a.Chat.Ask(ctx, askUser, docID, query)
		if err != nil {
			return err
		}
		answer = res.ChatAnswer
	} else {
		answer, err = a.Composer.Answer(ctx, query, docID)
		if err != nil {
			return err
		}
	}

	if askJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(answer)
	}

	fmt.Println(answer.Response)
	for _, s := range answer.Sources {
		fmt.Printf("\n  [page %d, score %.3f] %s\n", s.PageNumber, s.SimilarityScore, s.TextPreview)
	}
	return nil
}
