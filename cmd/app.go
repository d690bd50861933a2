package cmd

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	gcsarchive "github.com/jefferyschmidt/CharlestonMusicLive/internal/archive/gcs"
	"github.com/jefferyschmidt/CharlestonMusicLive/internal/clock/system"
	"github.com/jefferyschmidt/CharlestonMusicLive/internal/config"
	"github.com/jefferyschmidt/CharlestonMusicLive/internal/crawl"
	"github.com/jefferyschmidt/CharlestonMusicLive/internal/crawler"
	"github.com/jefferyschmidt/CharlestonMusicLive/internal/discovery"
	"github.com/jefferyschmidt/CharlestonMusicLive/internal/enrich"
	"github.com/jefferyschmidt/CharlestonMusicLive/internal/extractor"
	"github.com/jefferyschmidt/CharlestonMusicLive/internal/fetcher"
	collyfetcher "github.com/jefferyschmidt/CharlestonMusicLive/internal/fetcher/colly"
	headlessfetcher "github.com/jefferyschmidt/CharlestonMusicLive/internal/fetcher/headless"
	"github.com/jefferyschmidt/CharlestonMusicLive/internal/hash/sha256"
	"github.com/jefferyschmidt/CharlestonMusicLive/internal/id/uuid"
	"github.com/jefferyschmidt/CharlestonMusicLive/internal/policy/ratelimit"
	"github.com/jefferyschmidt/CharlestonMusicLive/internal/policy/recovery"
	memorypublisher "github.com/jefferyschmidt/CharlestonMusicLive/internal/publisher/memory"
	gcppublisher "github.com/jefferyschmidt/CharlestonMusicLive/internal/publisher/pubsub"
	pgstore "github.com/jefferyschmidt/CharlestonMusicLive/internal/storage/postgres"
)

// app holds the wired dependencies shared by the crawl and serve
// commands.
type app struct {
	cfg    config.Config
	logger *zap.Logger

	store        crawl.EventStore
	headless     *headlessfetcher.Fetcher
	gcpPublisher *gcppublisher.Publisher
	archiver     *gcsarchive.Archiver
	orchestrator *crawler.Orchestrator
}

// buildApp wires the full crawl stack. The database is required; the
// headless browser and Pub/Sub degrade gracefully when unavailable.
func buildApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app, error) {
	if cfg.DB.DSN == "" {
		return nil, fmt.Errorf("db.dsn must be set")
	}

	a := &app{cfg: cfg, logger: logger}

	store, err := pgstore.NewEventStore(ctx, pgstore.EventStoreConfig{
		DSN:      cfg.DB.DSN,
		MaxConns: cfg.DB.MaxConns,
	})
	if err != nil {
		return nil, fmt.Errorf("event store init failed: %w", err)
	}
	a.store = store

	httpFetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:     cfg.HTTP.UserAgent,
		RespectRobots: true,
		Timeout:       cfg.HTTPTimeout(),
	})
	logger.Info("using colly probe fetcher", zap.String("user_agent", cfg.HTTP.UserAgent))

	var browser crawl.Fetcher = headlessfetcher.NewNoop()
	if cfg.Headless.Enabled {
		headless, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.HTTP.UserAgent,
			NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
		})
		if err != nil {
			logger.Warn("headless fetcher init failed, browser sources degrade to plain HTTP errors", zap.Error(err))
		} else {
			a.headless = headless
			browser = headless
			logger.Info("using headless fetcher", zap.Int("max_parallel", cfg.Headless.MaxParallel))
		}
	}

	selector := &fetcher.Selector{HTTP: httpFetcher, Browser: browser}

	discoverer := discovery.New(httpFetcher, discovery.DefaultBlacklist(), discovery.Options{
		SiteSlug:       cfg.Site.Slug,
		City:           cfg.Site.City,
		State:          cfg.Site.State,
		KnownVenueURLs: cfg.Discovery.KnownVenueURLs,
	}, logger.Named("discovery"))

	publisher, err := a.setupPublisher(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	var archiver crawl.Archiver
	if cfg.Archive.Bucket != "" {
		gcsArchiver, err := gcsarchive.Open(ctx, gcsarchive.Config{Bucket: cfg.Archive.Bucket}, logger.Named("archive"))
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("snapshot archiver init failed: %w", err)
		}
		a.archiver = gcsArchiver
		archiver = gcsArchiver
		logger.Info("snapshot archiving enabled", zap.String("bucket", cfg.Archive.Bucket))
	}

	var enricher crawl.ArtistEnricher
	if cfg.Enrich.Enabled {
		enricher = enrich.NewResearcher(httpFetcher, enrich.Options{
			BatchSize:  cfg.Enrich.BatchSize,
			BatchDelay: time.Duration(cfg.Enrich.BatchDelayMs) * time.Millisecond,
		}, logger.Named("enrich"))
		logger.Info("artist enrichment enabled", zap.Int("batch_size", cfg.Enrich.BatchSize))
	}

	limiter := ratelimit.New(ratelimit.Config{
		DefaultRPS:   cfg.Crawler.DefaultRPS,
		DefaultBurst: 1,
	})

	policy := recovery.NewPolicy()
	if cfg.Crawler.PersistBlacklist {
		urls, err := store.InactiveSourceURLs(ctx, cfg.Site.Slug)
		if err != nil {
			logger.Warn("blacklist seed query failed", zap.Error(err))
		} else if len(urls) > 0 {
			policy.SeedBlacklist(urls)
			logger.Info("seeded blacklist from inactive sources", zap.Int("sources", len(urls)))
		}
	}

	a.orchestrator = crawler.New(
		discoverer,
		selector,
		extractor.NewFactory(""),
		store,
		enricher,
		publisher,
		limiter,
		policy,
		sha256.New(),
		archiver,
		system.New(),
		uuid.New(),
		crawler.Config{
			SiteSlug:             cfg.Site.Slug,
			City:                 cfg.Site.City,
			State:                cfg.Site.State,
			MaxSourcesToDiscover: cfg.Discovery.MaxSources,
			MaxSourcesToCrawl:    cfg.Crawler.MaxSourcesToCrawl,
			MinConfidence:        cfg.Crawler.MinConfidence,
			CrawlDelay:           cfg.CrawlDelay(),
			CompletionTopic:      cfg.Crawler.CompletionTopicName,
		},
		logger.Named("crawler"),
	)

	return a, nil
}

func (a *app) setupPublisher(ctx context.Context) (crawl.Publisher, error) {
	if a.cfg.PubSub.ProjectID == "" || a.cfg.Crawler.CompletionTopicName == "" {
		a.logger.Warn("no Pub/Sub topic configured, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	pub, err := gcppublisher.New(ctx, a.cfg.PubSub.ProjectID, a.cfg.Crawler.CompletionTopicName, a.logger.Named("pubsub"))
	if err != nil {
		return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	a.gcpPublisher = pub
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.Crawler.CompletionTopicName))
	return pub, nil
}

// Close releases the app's external resources.
func (a *app) Close() {
	if a.headless != nil {
		a.headless.Close()
	}
	if a.gcpPublisher != nil {
		if err := a.gcpPublisher.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.archiver != nil {
		if err := a.archiver.Close(); err != nil {
			a.logger.Warn("archive client close failed", zap.Error(err))
		}
	}
	if a.store != nil {
		a.store.Close()
	}
}
