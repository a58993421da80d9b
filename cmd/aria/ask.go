package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/agentoven/aria/internal/pipeline"
	"github.com/agentoven/aria/internal/responder"
	"github.com/agentoven/aria/pkg/models"
)

var (
	askData   string
	askJSON   bool
	askStream bool
)

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask one question against a territory snapshot",
	Long: `Ask one question against a territory snapshot.

The snapshot is a JSON file shaped like the "data" field of the ask API:
{"periodLabel": "...", "entities": [...], "events": [...], "objectives": [...], "crm": {...}}`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().StringVar(&askData, "data", "", "Territory snapshot (JSON file)")
	askCmd.Flags().BoolVar(&askJSON, "json", false, "Print the full result as JSON")
	askCmd.Flags().BoolVar(&askStream, "stream", true, "Print the answer as it is generated")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var data pipeline.Data
	if askData != "" {
		raw, err := os.ReadFile(askData)
		if err != nil {
			return fmt.Errorf("read data: %w", err)
		}
		if err := json.Unmarshal(raw, &data); err != nil {
			return fmt.Errorf("parse data %s: %w", askData, err)
		}
	}

	srv, err := loadServer(ctx)
	if err != nil {
		return err
	}
	defer srv.Close(context.Background())

	conv := pipeline.NewConversation("cli", srv.Config.Pipeline.HistoryWindow, srv.Config.Pipeline.ChartHistory)
	llm := srv.Bind(srv.Settings.Get(profile))
	question := strings.Join(args, " ")
	out := cmd.OutOrStdout()

	var res *models.PipelineResult
	if askStream && !askJSON {
		streamed := false
		res = conv.AskStream(ctx, srv.Engine, llm, question, data, func(chunk string) {
			streamed = true
			fmt.Fprint(out, chunk)
		})
		if !streamed {
			fmt.Fprint(out, res.TextContent)
		}
		fmt.Fprintln(out)
	} else {
		res = conv.Ask(ctx, srv.Engine, llm, question, data)
	}

	if askJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	if !askStream {
		fmt.Fprintln(out, res.TextContent)
	}
	if res.Chart != nil {
		fmt.Fprintln(out)
		fmt.Fprintln(out, responder.ChartSummary(res.Chart))
	}
	if len(res.Suggestions) > 0 {
		fmt.Fprintln(out, "\nSuggestions:")
		for _, s := range res.Suggestions {
			fmt.Fprintln(out, "  - "+s)
		}
	}
	fmt.Fprintf(out, "\n(%s, %s, %dms)\n", res.Source, orLocal(res.Provider), res.LatencyMs)
	return nil
}

func orLocal(provider string) string {
	if provider == "" {
		return "aucun fournisseur"
	}
	return provider
}
