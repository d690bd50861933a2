// Package cmd defines and implements the CLI commands for the musiclive executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jefferyschmidt/CharlestonMusicLive/internal/config"
	"github.com/jefferyschmidt/CharlestonMusicLive/internal/logging"
	"github.com/jefferyschmidt/CharlestonMusicLive/internal/metrics"
)

var cfgFile string

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "musiclive",
		Short: "An intelligent live-music event crawler.",
		Long: `musiclive discovers local event sources for a city, picks the right
extraction strategy per venue, and persists normalized events to
Postgres. It learns which extractors work per domain and blacklists
sources that repeatedly fail.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (defaults plus MUSICLIVE_* env vars apply without one)")

	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newDiscoverCmd())
	cmd.AddCommand(newServeCmd())
	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadEnvironment loads config, builds the logger, and registers the
// Prometheus collectors. Every subcommand starts here.
func loadEnvironment() (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("init logger: %w", err)
	}
	zap.ReplaceGlobals(logger)
	metrics.Init()
	return cfg, logger, nil
}
