// ARIA: territory copilot for field medical representatives.
//
// Commands:
//   - serve: HTTP API (conversations, provider settings, knowledge base)
//   - ask: one question against a territory snapshot, from the terminal
//   - providers: list the provider catalog, test the saved configuration
package main

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/agentoven/aria/internal/config"
	"github.com/agentoven/aria/pkg/server"
)

var (
	envFile string
	profile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:           "aria",
	Short:         "ARIA territory copilot",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging(verbose)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Optional .env file loaded before the environment")
	rootCmd.PersistentFlags().StringVar(&profile, "profile", "default", "Settings profile")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Debug logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}

func setupLogging(debug bool) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

// loadServer reads configuration and assembles the service.
func loadServer(ctx context.Context) (*server.Server, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, err
	}
	if !verbose {
		if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
			zerolog.SetGlobalLevel(lvl)
		}
	}
	return server.New(ctx, cfg, server.Options{})
}
