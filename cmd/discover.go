package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jefferyschmidt/CharlestonMusicLive/internal/discovery"
	collyfetcher "github.com/jefferyschmidt/CharlestonMusicLive/internal/fetcher/colly"
)

// newDiscoverCmd creates the 'discover' subcommand. It runs source
// discovery only and prints the ranked candidates as JSON, without
// touching the database.
func newDiscoverCmd() *cobra.Command {
	var maxSources int

	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Discovers event sources without crawling them",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDiscoverCommand(cmd.Context(), maxSources)
		},
	}

	cmd.Flags().IntVar(&maxSources, "max-sources", 0,
		"cap on sources to discover (0 uses discovery.max_sources)")
	return cmd
}

func runDiscoverCommand(parent context.Context, maxSources int) error {
	cfg, logger, err := loadEnvironment()
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	httpFetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:     cfg.HTTP.UserAgent,
		RespectRobots: true,
		Timeout:       cfg.HTTPTimeout(),
	})
	discoverer := discovery.New(httpFetcher, discovery.DefaultBlacklist(), discovery.Options{
		SiteSlug:       cfg.Site.Slug,
		City:           cfg.Site.City,
		State:          cfg.Site.State,
		KnownVenueURLs: cfg.Discovery.KnownVenueURLs,
	}, logger.Named("discovery"))

	if maxSources <= 0 {
		maxSources = cfg.Discovery.MaxSources
	}
	result, err := discoverer.Discover(ctx, maxSources)
	if err != nil {
		return fmt.Errorf("discover sources: %w", err)
	}

	logger.Info("discovery finished",
		zap.Int("sources", len(result.Sources)),
		zap.Duration("took", result.ExecutionTime))

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(result.Sources); err != nil {
		return fmt.Errorf("encode sources: %w", err)
	}
	return nil
}
