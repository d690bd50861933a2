package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// newCrawlCmd creates the 'crawl' subcommand, which runs one full
// session: discovery, prioritization, crawling, and persistence.
func newCrawlCmd() *cobra.Command {
	var maxSources int

	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Runs one full crawl session",
		Long: `Discovers event sources for the configured city, crawls the best
candidates, and stores extracted events in the database. The session
blacklists sources that fail repeatedly and feeds successful extractor
choices back into future runs.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCrawlCommand(cmd.Context(), maxSources)
		},
	}

	cmd.Flags().IntVar(&maxSources, "max-sources", 0,
		"cap on sources to crawl this session (0 uses crawler.max_sources_to_crawl)")
	return cmd
}

func runCrawlCommand(parent context.Context, maxSources int) error {
	cfg, logger, err := loadEnvironment()
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer application.Close()

	session, err := application.orchestrator.DiscoverAndCrawl(ctx, maxSources)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run crawl session: %w", err)
	}

	logger.Info("crawl finished",
		zap.Int("sources_discovered", session.SourcesDiscovered),
		zap.Int("sources_crawled", session.SourcesCrawled),
		zap.Int("events", session.TotalEventsFound),
		zap.Int("successful", session.SuccessfulCrawls),
		zap.Int("failed", session.FailedCrawls))
	return nil
}
