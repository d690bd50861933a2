// Package crawler orchestrates a full crawl session: source discovery,
// prioritization, polite fetching, adaptive extraction, enrichment, and
// persistence.
package crawler

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jefferyschmidt/CharlestonMusicLive/internal/crawl"
	"github.com/jefferyschmidt/CharlestonMusicLive/internal/extractor"
	"github.com/jefferyschmidt/CharlestonMusicLive/internal/metrics"
	"github.com/jefferyschmidt/CharlestonMusicLive/internal/policy/recovery"
)

// SourceDiscoverer finds candidate event sources for the configured city.
type SourceDiscoverer interface {
	Discover(ctx context.Context, maxSources int) (crawl.DiscoveryResult, error)
}

// FetcherSelector picks the fetcher implementation for a source.
type FetcherSelector interface {
	For(source crawl.DiscoveredSource) crawl.Fetcher
}

// ExtractorFactory chooses an extractor configuration per source and
// accepts learned domain feedback.
type ExtractorFactory interface {
	AnalyzeSource(sourceURL, rawHTML string, meta crawl.DiscoveredSource) extractor.Match
	LearnDomain(domain string, venueType extractor.VenueType)
}

// RatePolicy enforces per-domain politeness.
type RatePolicy interface {
	Wait(ctx context.Context, rawURL string) error
	SetDomainRPS(domain string, rps float64)
}

// Config bounds one crawl session.
type Config struct {
	SiteSlug             string
	City                 string
	State                string
	MaxSourcesToDiscover int
	MaxSourcesToCrawl    int
	MinConfidence        float64
	CrawlDelay           time.Duration
	CompletionTopic      string
}

// Orchestrator runs crawl sessions. It is not safe for concurrent use;
// callers run one session at a time.
type Orchestrator struct {
	discoverer SourceDiscoverer
	fetchers   FetcherSelector
	factory    ExtractorFactory
	store      crawl.EventStore
	enricher   crawl.ArtistEnricher
	publisher  crawl.Publisher
	limiter    RatePolicy
	recovery   *recovery.Policy
	hasher     crawl.Hasher
	archiver   crawl.Archiver
	clock      crawl.Clock
	idGen      crawl.IDGenerator
	cfg        Config
	logger     *zap.Logger

	// sleep is swapped out in tests so retry backoffs don't run in
	// real time.
	sleep func(ctx context.Context, delay time.Duration) error

	session   *crawl.CrawlSession
	sessionID string
	sourceIDs map[string]int64
	learning  *learningState
}

// New wires an Orchestrator. Enricher, publisher, and archiver may be
// nil; the corresponding phases are skipped.
func New(
	discoverer SourceDiscoverer,
	fetchers FetcherSelector,
	factory ExtractorFactory,
	store crawl.EventStore,
	enricher crawl.ArtistEnricher,
	publisher crawl.Publisher,
	limiter RatePolicy,
	recoveryPolicy *recovery.Policy,
	hasher crawl.Hasher,
	archiver crawl.Archiver,
	clock crawl.Clock,
	idGen crawl.IDGenerator,
	cfg Config,
	logger *zap.Logger,
) *Orchestrator {
	if cfg.MaxSourcesToDiscover <= 0 {
		cfg.MaxSourcesToDiscover = 50
	}
	if cfg.MaxSourcesToCrawl <= 0 {
		cfg.MaxSourcesToCrawl = 20
	}
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = 0.4
	}
	if cfg.CrawlDelay <= 0 {
		cfg.CrawlDelay = time.Second
	}
	if recoveryPolicy == nil {
		recoveryPolicy = recovery.NewPolicy()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		discoverer: discoverer,
		fetchers:   fetchers,
		factory:    factory,
		store:      store,
		enricher:   enricher,
		publisher:  publisher,
		limiter:    limiter,
		recovery:   recoveryPolicy,
		hasher:     hasher,
		archiver:   archiver,
		clock:      clock,
		idGen:      idGen,
		cfg:        cfg,
		logger:     logger,
		sleep:      sleepCtx,
		sourceIDs:  make(map[string]int64),
		learning:   newLearningState(),
	}
}

// RunFullCrawl runs one complete session: discover, persist sources,
// prioritize, crawl, learn, publish. On error the partial session is
// returned alongside the error so callers can still inspect it.
func (o *Orchestrator) RunFullCrawl(ctx context.Context) (*crawl.CrawlSession, error) {
	sessionID, err := o.idGen.NewID()
	if err != nil {
		return nil, fmt.Errorf("generate session id: %w", err)
	}
	o.sessionID = sessionID
	session := &crawl.CrawlSession{
		SiteSlug:  o.cfg.SiteSlug,
		City:      o.cfg.City,
		State:     o.cfg.State,
		StartTime: o.clock.Now(),
	}
	o.session = session

	metrics.IncActiveSessions()
	defer metrics.DecActiveSessions()

	o.logger.Info("starting crawl session",
		zap.String("session_id", sessionID),
		zap.String("city", o.cfg.City),
		zap.String("state", o.cfg.State))

	discovery, err := o.discoverer.Discover(ctx, o.cfg.MaxSourcesToDiscover)
	if err != nil {
		o.finish(session)
		return session, fmt.Errorf("discover sources: %w", err)
	}
	session.SourcesDiscovered = len(discovery.Sources)
	o.logger.Info("discovery complete",
		zap.Int("sources", len(discovery.Sources)),
		zap.Duration("took", discovery.ExecutionTime))

	if err := o.storeDiscoveredSources(ctx, discovery.Sources); err != nil {
		o.finish(session)
		return session, fmt.Errorf("store discovered sources: %w", err)
	}

	prioritized := prioritizeSources(discovery.Sources, o.cfg.MinConfidence)
	if len(prioritized) > o.cfg.MaxSourcesToCrawl {
		prioritized = prioritized[:o.cfg.MaxSourcesToCrawl]
	}

	o.crawlSources(ctx, session, prioritized)
	o.learnFromSession()
	o.finish(session)

	o.logger.Info("crawl session completed",
		zap.String("session_id", sessionID),
		zap.Int("sources_crawled", session.SourcesCrawled),
		zap.Int("events", session.TotalEventsFound),
		zap.Int("successful", session.SuccessfulCrawls),
		zap.Int("failed", session.FailedCrawls))

	o.publishCompletion(ctx, session)
	return session, ctx.Err()
}

// DiscoverAndCrawl bounds the session to maxSources crawled sources,
// discovering twice as many candidates to choose from.
func (o *Orchestrator) DiscoverAndCrawl(ctx context.Context, maxSources int) (*crawl.CrawlSession, error) {
	if maxSources > 0 {
		o.cfg.MaxSourcesToCrawl = maxSources
		o.cfg.MaxSourcesToDiscover = maxSources * 2
	}
	return o.RunFullCrawl(ctx)
}

func (o *Orchestrator) finish(session *crawl.CrawlSession) {
	now := o.clock.Now()
	session.EndTime = &now
	session.SuccessfulCrawls = 0
	session.FailedCrawls = 0
	for _, result := range session.Results {
		if result.Success {
			session.SuccessfulCrawls++
		} else {
			session.FailedCrawls++
		}
	}
}

func (o *Orchestrator) storeDiscoveredSources(ctx context.Context, sources []crawl.DiscoveredSource) error {
	if len(sources) == 0 {
		return nil
	}
	return o.store.InTx(ctx, func(tx crawl.EventTx) error {
		siteID, err := tx.EnsureSite(ctx, o.cfg.SiteSlug)
		if err != nil {
			return fmt.Errorf("ensure site: %w", err)
		}
		for _, source := range sources {
			id, err := tx.EnsureSource(ctx, siteID, source.Name, source.URL, source.RequiresBrowser, source.RateLimitRPS)
			if err != nil {
				return fmt.Errorf("ensure source %s: %w", source.URL, err)
			}
			o.sourceIDs[source.URL] = id
			o.limiter.SetDomainRPS(metrics.SanitizeDomain(source.URL), source.RateLimitRPS)
		}
		return nil
	})
}

func (o *Orchestrator) crawlSources(ctx context.Context, session *crawl.CrawlSession, sources []crawl.DiscoveredSource) {
	for i, source := range sources {
		if ctx.Err() != nil {
			return
		}
		if o.recovery.IsBlacklisted(source.URL) {
			o.logger.Info("skipping blacklisted source", zap.String("url", source.URL))
			continue
		}
		o.logger.Info("crawling source",
			zap.Int("position", i+1),
			zap.Int("total", len(sources)),
			zap.String("name", source.Name),
			zap.String("url", source.URL))

		result := o.crawlSource(ctx, source)
		session.Results = append(session.Results, result)
		session.SourcesCrawled++
		if result.Success {
			session.TotalEventsFound += result.EventsExtracted
		}
		metrics.ObserveCrawl(source.URL, statusLabel(result), result.CrawlDuration)

		if i < len(sources)-1 {
			if err := o.sleep(ctx, o.cfg.CrawlDelay); err != nil {
				return
			}
		}
	}
}

func (o *Orchestrator) crawlSource(ctx context.Context, source crawl.DiscoveredSource) crawl.CrawlResult {
	start := o.clock.Now()
	result := crawl.CrawlResult{SourceURL: source.URL, ExtractorUsed: "none"}

	resp, err := o.fetchWithRecovery(ctx, source)
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
		result.CrawlDuration = o.clock.Now().Sub(start)
		o.learning.recordFailure(result)
		return result
	}

	rawHTML := string(resp.Body)
	match := o.factory.AnalyzeSource(source.URL, rawHTML, source)
	ext := extractor.NewExtractor(o.cfg.SiteSlug, source.URL, match.Config, o.logger.Named("extractor"))
	events := ext.Extract(rawHTML)
	metrics.ObserveExtraction(match.Name, len(events))
	o.stampContentHash(resp.Body, events)
	o.archiveSnapshot(ctx, source, resp.Body, events)

	if len(events) > 0 && o.enricher != nil {
		o.researchArtists(ctx, events)
	}

	stored, err := o.persistEvents(ctx, source, events)
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
		result.ExtractorUsed = match.Name
		result.EventsFound = len(events)
		result.CrawlDuration = o.clock.Now().Sub(start)
		o.learning.recordFailure(result)
		return result
	}

	result.EventsFound = len(events)
	result.EventsExtracted = stored
	result.ExtractionConfidence = match.ConfidenceScore
	result.ExtractorUsed = match.Name
	result.Success = true
	result.CrawlDuration = o.clock.Now().Sub(start)
	o.learning.recordSuccess(result, match.Config.VenueType)
	return result
}

// fetchWithRecovery fetches one source, consulting the recovery policy
// on each failure. Retry delays and blacklisting follow its decisions.
func (o *Orchestrator) fetchWithRecovery(ctx context.Context, source crawl.DiscoveredSource) (crawl.FetchResponse, error) {
	fetch := o.fetchers.For(source)
	for attempt := 1; ; attempt++ {
		if err := o.limiter.Wait(ctx, source.URL); err != nil {
			return crawl.FetchResponse{}, err
		}
		resp, err := fetch.Fetch(ctx, crawl.FetchRequest{URL: source.URL})
		if err == nil && resp.StatusCode < 400 {
			return resp, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return crawl.FetchResponse{}, fmt.Errorf("fetch %s: %w", source.URL, ctxErr)
		}

		kind := recovery.Classify(resp.StatusCode, err)
		metrics.ObserveError(string(kind))
		decision := o.recovery.Handle(crawl.ErrorRecord{
			Kind:       kind,
			SourceURL:  source.URL,
			Timestamp:  o.clock.Now(),
			RetryCount: attempt,
			Context:    fmt.Sprintf("status %d", resp.StatusCode),
		})
		o.logger.Warn("fetch failed",
			zap.String("url", source.URL),
			zap.String("kind", string(kind)),
			zap.String("action", string(decision.Action)),
			zap.Int("attempt", attempt),
			zap.Error(err))

		switch decision.Action {
		case recovery.ActionRetry:
			if sleepErr := o.sleep(ctx, decision.Delay); sleepErr != nil {
				return crawl.FetchResponse{}, sleepErr
			}
		case recovery.ActionBlacklist:
			o.deactivateSource(ctx, source)
			return crawl.FetchResponse{}, fmt.Errorf("fetch %s: %s", source.URL, decision.Message)
		default:
			return crawl.FetchResponse{}, fmt.Errorf("fetch %s: %s", source.URL, decision.Message)
		}
	}
}

// deactivateSource marks a blacklisted source inactive so future
// sessions stop picking it up. Best effort.
func (o *Orchestrator) deactivateSource(ctx context.Context, source crawl.DiscoveredSource) {
	sourceID, ok := o.sourceIDs[source.URL]
	if !ok {
		return
	}
	err := o.store.InTx(ctx, func(tx crawl.EventTx) error {
		return tx.MarkSourceInactive(ctx, sourceID)
	})
	if err != nil {
		o.logger.Warn("failed to deactivate source", zap.String("url", source.URL), zap.Error(err))
		return
	}
	o.logger.Info("source deactivated after repeated failures", zap.String("url", source.URL))
}

// persistEvents stores one source's events in a single transaction. A
// failure rolls back the whole source, leaving other sources untouched.
func (o *Orchestrator) persistEvents(ctx context.Context, source crawl.DiscoveredSource, events []crawl.ExtractedEvent) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}
	stored := 0
	err := o.store.InTx(ctx, func(tx crawl.EventTx) error {
		siteID, err := tx.EnsureSite(ctx, o.cfg.SiteSlug)
		if err != nil {
			return fmt.Errorf("ensure site: %w", err)
		}
		sourceID, err := tx.EnsureSource(ctx, siteID, source.Name, source.URL, source.RequiresBrowser, source.RateLimitRPS)
		if err != nil {
			return fmt.Errorf("ensure source: %w", err)
		}
		runID, err := tx.BeginIngestRun(ctx, sourceID)
		if err != nil {
			return fmt.Errorf("begin ingest run: %w", err)
		}
		for _, event := range events {
			venueID, err := tx.UpsertVenue(ctx, siteID, event.VenueName, event.TZName)
			if err != nil {
				return fmt.Errorf("upsert venue %q: %w", event.VenueName, err)
			}
			eventID, err := tx.InsertEventInstance(ctx, siteID, venueID, event)
			if err != nil {
				return fmt.Errorf("insert event %q: %w", event.Title, err)
			}
			if _, err := tx.UpsertEventSourceLink(ctx, eventID, sourceID, runID, event.ExternalID, event.SourceURL, event.RawData); err != nil {
				return fmt.Errorf("link event %q: %w", event.Title, err)
			}
			stored++
		}
		return tx.FinishIngestRun(ctx, runID, "completed")
	})
	if err != nil {
		return 0, err
	}
	return stored, nil
}

// stampContentHash records the digest of the fetched page in each
// event's raw data, tying stored events back to the exact content they
// were extracted from.
func (o *Orchestrator) stampContentHash(body []byte, events []crawl.ExtractedEvent) {
	if o.hasher == nil || len(events) == 0 {
		return
	}
	digest, err := o.hasher.Hash(body)
	if err != nil {
		o.logger.Warn("content hash failed", zap.Error(err))
		return
	}
	for i := range events {
		if events[i].RawData == nil {
			events[i].RawData = map[string]any{}
		}
		events[i].RawData["content_hash"] = digest
	}
}

// archiveSnapshot uploads the fetched page and records its URI in each
// event's raw data. Best effort; a failed upload never fails the crawl.
func (o *Orchestrator) archiveSnapshot(ctx context.Context, source crawl.DiscoveredSource, body []byte, events []crawl.ExtractedEvent) {
	if o.archiver == nil || len(events) == 0 {
		return
	}
	path := fmt.Sprintf("%s/%s/%s.html", o.cfg.SiteSlug, o.sessionID, metrics.SanitizeDomain(source.URL))
	uri, err := o.archiver.Archive(ctx, path, "text/html", body)
	if err != nil {
		o.logger.Warn("snapshot archive failed", zap.String("url", source.URL), zap.Error(err))
		return
	}
	for i := range events {
		if events[i].RawData == nil {
			events[i].RawData = map[string]any{}
		}
		events[i].RawData["snapshot_uri"] = uri
	}
}

// researchArtists enriches events in place: matched artist profiles are
// folded into each event's raw data before persistence. Failures are
// logged and never block the crawl.
func (o *Orchestrator) researchArtists(ctx context.Context, events []crawl.ExtractedEvent) {
	var queries []crawl.ArtistQuery
	seen := map[string]struct{}{}
	for _, event := range events {
		if event.ArtistName == "" {
			continue
		}
		if _, dup := seen[event.ArtistName]; dup {
			continue
		}
		seen[event.ArtistName] = struct{}{}
		queries = append(queries, crawl.ArtistQuery{
			Name:      event.ArtistName,
			VenueName: event.VenueName,
			Title:     event.Title,
			SourceURL: event.SourceURL,
		})
	}
	if len(queries) == 0 {
		return
	}

	profiles, err := o.enricher.ResearchArtists(ctx, queries)
	if err != nil {
		o.logger.Warn("artist research failed", zap.Error(err))
		return
	}
	byName := make(map[string]crawl.ArtistProfile, len(profiles))
	for _, profile := range profiles {
		byName[profile.Name] = profile
	}
	for i := range events {
		profile, ok := byName[events[i].ArtistName]
		if !ok || profile.ConfidenceScore == 0 {
			continue
		}
		if events[i].RawData == nil {
			events[i].RawData = map[string]any{}
		}
		if len(profile.GenreTags) > 0 {
			events[i].RawData["artist_genres"] = profile.GenreTags
		}
		if profile.OfficialWebsite != "" {
			events[i].RawData["artist_website"] = profile.OfficialWebsite
		}
	}
	o.logger.Info("artist research complete",
		zap.Int("queried", len(queries)),
		zap.Int("profiles", len(profiles)))
}

func (o *Orchestrator) learnFromSession() {
	for domain, venueType := range o.learning.domainTypes {
		o.factory.LearnDomain(domain, venueType)
	}
	summary := o.recovery.Summarize()
	o.logger.Info("learning complete",
		zap.Int("successful_patterns", len(o.learning.successful)),
		zap.Int("failed_patterns", len(o.learning.failed)),
		zap.Int("domain_mappings", len(o.learning.domainTypes)),
		zap.Int("total_errors", summary.TotalErrors),
		zap.Int("blacklisted_sources", summary.BlacklistedSources))
}

type sessionSummary struct {
	SessionID         string     `json:"session_id"`
	SiteSlug          string     `json:"site_slug"`
	City              string     `json:"city"`
	State             string     `json:"state"`
	StartTime         time.Time  `json:"start_time"`
	EndTime           *time.Time `json:"end_time"`
	SourcesDiscovered int        `json:"sources_discovered"`
	SourcesCrawled    int        `json:"sources_crawled"`
	TotalEventsFound  int        `json:"total_events_found"`
	SuccessfulCrawls  int        `json:"successful_crawls"`
	FailedCrawls      int        `json:"failed_crawls"`
}

func (o *Orchestrator) publishCompletion(ctx context.Context, session *crawl.CrawlSession) {
	if o.publisher == nil || o.cfg.CompletionTopic == "" {
		return
	}
	payload := sessionSummary{
		SessionID:         o.sessionID,
		SiteSlug:          session.SiteSlug,
		City:              session.City,
		State:             session.State,
		StartTime:         session.StartTime,
		EndTime:           session.EndTime,
		SourcesDiscovered: session.SourcesDiscovered,
		SourcesCrawled:    session.SourcesCrawled,
		TotalEventsFound:  session.TotalEventsFound,
		SuccessfulCrawls:  session.SuccessfulCrawls,
		FailedCrawls:      session.FailedCrawls,
	}
	id, err := o.publisher.Publish(ctx, o.cfg.CompletionTopic, payload)
	if err != nil {
		o.logger.Warn("failed to publish session completion", zap.Error(err))
		return
	}
	o.logger.Info("session completion published", zap.String("message_id", id))
}

// Statistics reports the latest session's aggregate numbers, or an
// empty map when no session has run.
func (o *Orchestrator) Statistics() map[string]any {
	if o.session == nil {
		return map[string]any{}
	}
	session := o.session
	end := o.clock.Now()
	if session.EndTime != nil {
		end = *session.EndTime
	}
	successRate := 0.0
	if session.SourcesCrawled > 0 {
		successRate = float64(session.SuccessfulCrawls) / float64(session.SourcesCrawled)
	}
	eventsPerSource := 0.0
	if session.SuccessfulCrawls > 0 {
		eventsPerSource = float64(session.TotalEventsFound) / float64(session.SuccessfulCrawls)
	}
	return map[string]any{
		"session_id":         o.sessionID,
		"site_slug":          session.SiteSlug,
		"city":               session.City,
		"state":              session.State,
		"start_time":         session.StartTime,
		"end_time":           session.EndTime,
		"duration_seconds":   end.Sub(session.StartTime).Seconds(),
		"sources_discovered": session.SourcesDiscovered,
		"sources_crawled":    session.SourcesCrawled,
		"total_events_found": session.TotalEventsFound,
		"successful_crawls":  session.SuccessfulCrawls,
		"failed_crawls":      session.FailedCrawls,
		"success_rate":       successRate,
		"events_per_source":  eventsPerSource,
		"learning_data": map[string]int{
			"successful_patterns": len(o.learning.successful),
			"failed_patterns":     len(o.learning.failed),
			"domain_mappings":     len(o.learning.domainTypes),
		},
	}
}

func statusLabel(result crawl.CrawlResult) string {
	if result.Success {
		return "success"
	}
	return "failure"
}

func sleepCtx(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("crawl interrupted: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
