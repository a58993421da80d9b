package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/agentoven/aria/internal/providers"
)

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "List known LLM providers",
	RunE: func(cmd *cobra.Command, args []string) error {
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "KIND\tFORMAT\tDEFAULT MODEL\tKEY PREFIX\tBASE URL")
		for _, p := range providers.Catalog() {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", p.Kind, p.Format, p.DefaultModel, p.KeyPrefix, p.BaseURL)
		}
		return w.Flush()
	},
}

var providersTestCmd = &cobra.Command{
	Use:   "test",
	Short: "Test the saved provider configuration (or the local provider)",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		srv, err := loadServer(ctx)
		if err != nil {
			return err
		}
		defer srv.Close(ctx)

		cfg := srv.Settings.Get(profile)
		credential := ""
		if cfg != nil {
			credential = cfg.APIKey
		}
		res := srv.Invoker.Validate(ctx, srv.Resolver.Resolve(cfg), credential)

		out := cmd.OutOrStdout()
		if res.Healthy {
			fmt.Fprintf(out, "✅ %s (%s) OK in %dms\n", res.Provider, res.Model, res.LatencyMs)
			return nil
		}
		fmt.Fprintf(out, "❌ %s (%s): %s\n", res.Provider, res.Model, res.Cause)
		return fmt.Errorf("provider test failed: %s", res.Error)
	},
}

func init() {
	providersCmd.AddCommand(providersTestCmd)
	rootCmd.AddCommand(providersCmd)
}
