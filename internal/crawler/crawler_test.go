package crawler

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jefferyschmidt/CharlestonMusicLive/internal/crawl"
	"github.com/jefferyschmidt/CharlestonMusicLive/internal/extractor"
	"github.com/jefferyschmidt/CharlestonMusicLive/internal/hash/sha256"
	"github.com/jefferyschmidt/CharlestonMusicLive/internal/policy/recovery"
)

const eventPage = `<html><body>
<div class="event-item">
  <h3>Jane Doe Trio</h3>
  <p>January 15, 2025 8:00 PM</p>
  <p>Tickets $15</p>
</div>
<div class="event-item">
  <h3>Harbor Lights Duo</h3>
  <p>January 16, 2025 9:00 PM</p>
  <p>Tickets $20</p>
</div>
</body></html>`

type fakeDiscoverer struct {
	sources      []crawl.DiscoveredSource
	err          error
	requestedMax int
}

func (d *fakeDiscoverer) Discover(_ context.Context, maxSources int) (crawl.DiscoveryResult, error) {
	d.requestedMax = maxSources
	if d.err != nil {
		return crawl.DiscoveryResult{}, d.err
	}
	return crawl.DiscoveryResult{
		Sources:         d.sources,
		TotalDiscovered: len(d.sources),
		DiscoveryMethod: "multi_strategy",
	}, nil
}

type fakeFetcher struct {
	mu       sync.Mutex
	pages    map[string]string
	statuses map[string]int
	fetched  []string
}

func (f *fakeFetcher) Fetch(_ context.Context, request crawl.FetchRequest) (crawl.FetchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetched = append(f.fetched, request.URL)
	if status, ok := f.statuses[request.URL]; ok {
		return crawl.FetchResponse{URL: request.URL, StatusCode: status},
			fmt.Errorf("fetch %s: status %d", request.URL, status)
	}
	body, ok := f.pages[request.URL]
	if !ok {
		return crawl.FetchResponse{URL: request.URL, StatusCode: 404},
			fmt.Errorf("fetch %s: status 404", request.URL)
	}
	return crawl.FetchResponse{URL: request.URL, StatusCode: 200, Body: []byte(body)}, nil
}

type fakeSelector struct {
	fetcher crawl.Fetcher
}

func (s *fakeSelector) For(_ crawl.DiscoveredSource) crawl.Fetcher {
	return s.fetcher
}

type fakeLimiter struct {
	mu    sync.Mutex
	rates map[string]float64
	waits int
}

func (l *fakeLimiter) Wait(ctx context.Context, _ string) error {
	l.mu.Lock()
	l.waits++
	l.mu.Unlock()
	return ctx.Err()
}

func (l *fakeLimiter) SetDomainRPS(domain string, rps float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.rates == nil {
		l.rates = map[string]float64{}
	}
	l.rates[domain] = rps
}

type fakeStore struct {
	mu        sync.Mutex
	nextID    int64
	sites     map[string]int64
	sources   map[string]int64
	events    []crawl.ExtractedEvent
	rawByID   map[int64]map[string]any
	inactive  []int64
	runStatus map[int64]string
	txErr     error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		sites:     map[string]int64{},
		sources:   map[string]int64{},
		rawByID:   map[int64]map[string]any{},
		runStatus: map[int64]string{},
	}
}

func (s *fakeStore) InTx(_ context.Context, fn func(tx crawl.EventTx) error) error {
	if s.txErr != nil {
		return s.txErr
	}
	return fn(&fakeTx{store: s})
}

func (s *fakeStore) Close() {}

func (s *fakeStore) id() int64 {
	s.nextID++
	return s.nextID
}

type fakeTx struct {
	store *fakeStore
}

func (t *fakeTx) EnsureSite(_ context.Context, slug string) (int64, error) {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.sites[slug]; ok {
		return id, nil
	}
	id := s.id()
	s.sites[slug] = id
	return id, nil
}

func (t *fakeTx) EnsureSource(_ context.Context, _ int64, _, url string, _ bool, _ float64) (int64, error) {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.sources[url]; ok {
		return id, nil
	}
	id := s.id()
	s.sources[url] = id
	return id, nil
}

func (t *fakeTx) BeginIngestRun(_ context.Context, _ int64) (int64, error) {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.id()
	s.runStatus[id] = "running"
	return id, nil
}

func (t *fakeTx) FinishIngestRun(_ context.Context, runID int64, status string) error {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runStatus[runID] = status
	return nil
}

func (t *fakeTx) UpsertVenue(_ context.Context, _ int64, _, _ string) (int64, error) {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id(), nil
}

func (t *fakeTx) InsertEventInstance(_ context.Context, _, _ int64, event crawl.ExtractedEvent) (int64, error) {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	id := s.id()
	s.rawByID[id] = event.RawData
	return id, nil
}

func (t *fakeTx) UpsertEventSourceLink(_ context.Context, _, _, _ int64, _, _ string, _ map[string]any) (int64, error) {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id(), nil
}

func (t *fakeTx) MarkSourceInactive(_ context.Context, sourceID int64) error {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inactive = append(s.inactive, sourceID)
	return nil
}

type fakeArchiver struct {
	mu    sync.Mutex
	paths []string
}

func (a *fakeArchiver) Archive(_ context.Context, path, _ string, _ []byte) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.paths = append(a.paths, path)
	return "gs://fake/" + path, nil
}

type fakePublisher struct {
	mu       sync.Mutex
	topics   []string
	payloads []any
}

func (p *fakePublisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	p.payloads = append(p.payloads, payload)
	return "msg-1", nil
}

type fakeEnricher struct {
	profiles []crawl.ArtistProfile
	queries  []crawl.ArtistQuery
}

func (e *fakeEnricher) ResearchArtists(_ context.Context, queries []crawl.ArtistQuery) ([]crawl.ArtistProfile, error) {
	e.queries = append(e.queries, queries...)
	return e.profiles, nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type fakeIDGen struct{}

func (fakeIDGen) NewID() (string, error) { return "session-1", nil }

func venueSource(url string) crawl.DiscoveredSource {
	return crawl.DiscoveredSource{
		URL:              url,
		Name:             "Music Farm",
		Type:             crawl.SourceTypeVenue,
		ConfidenceScore:  0.9,
		PriorityScore:    1.0,
		CalendarDetected: true,
		RateLimitRPS:     1.0,
	}
}

func newTestOrchestrator(t *testing.T, discoverer *fakeDiscoverer, fetcher *fakeFetcher, store *fakeStore, enricher crawl.ArtistEnricher, publisher crawl.Publisher, policy *recovery.Policy) (*Orchestrator, *fakeLimiter) {
	t.Helper()
	limiter := &fakeLimiter{}
	cfg := Config{
		SiteSlug:        "charleston",
		City:            "Charleston",
		State:           "SC",
		MinConfidence:   0.4,
		CrawlDelay:      time.Millisecond,
		CompletionTopic: "crawl.sessions",
	}
	o := New(
		discoverer,
		&fakeSelector{fetcher: fetcher},
		extractor.NewFactory("America/New_York"),
		store,
		enricher,
		publisher,
		limiter,
		policy,
		sha256.New(),
		nil,
		&fakeClock{now: time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)},
		fakeIDGen{},
		cfg,
		zap.NewNop(),
	)
	return o, limiter
}

func TestRunFullCrawlPersistsEvents(t *testing.T) {
	t.Parallel()

	const url = "https://www.musicfarm.com/events"
	discoverer := &fakeDiscoverer{sources: []crawl.DiscoveredSource{
		venueSource(url),
		{URL: "https://lowconfidence.example.com", Name: "Maybe", ConfidenceScore: 0.2},
	}}
	fetcher := &fakeFetcher{pages: map[string]string{url: eventPage}}
	store := newFakeStore()
	publisher := &fakePublisher{}

	o, limiter := newTestOrchestrator(t, discoverer, fetcher, store, nil, publisher, nil)
	session, err := o.RunFullCrawl(context.Background())
	require.NoError(t, err)

	require.Equal(t, 2, session.SourcesDiscovered)
	// the low-confidence source never makes the crawl list
	require.Equal(t, 1, session.SourcesCrawled)
	require.Equal(t, 1, session.SuccessfulCrawls)
	require.Zero(t, session.FailedCrawls)
	require.Equal(t, 2, session.TotalEventsFound)
	require.NotNil(t, session.EndTime)

	require.Len(t, store.events, 2)
	require.Equal(t, "Jane Doe Trio", store.events[0].Title)
	require.NotEmpty(t, store.events[0].RawData["content_hash"])
	require.Equal(t, "completed", store.runStatus[firstRunID(store)])
	// both discovered sources are persisted even when only one is crawled
	require.Len(t, store.sources, 2)
	require.InDelta(t, 1.0, limiter.rates["www.musicfarm.com"], 0.001)

	require.Equal(t, []string{"crawl.sessions"}, publisher.topics)
	summary, ok := publisher.payloads[0].(sessionSummary)
	require.True(t, ok)
	require.Equal(t, "session-1", summary.SessionID)
	require.Equal(t, 2, summary.TotalEventsFound)
}

func firstRunID(store *fakeStore) int64 {
	for id := range store.runStatus {
		return id
	}
	return 0
}

func TestRunFullCrawlIsolatesSourceFailures(t *testing.T) {
	t.Parallel()

	const good = "https://www.musicfarm.com/events"
	const bad = "https://broken.example.com/events"
	badSource := venueSource(bad)
	badSource.Name = "Broken Venue"

	discoverer := &fakeDiscoverer{sources: []crawl.DiscoveredSource{venueSource(good), badSource}}
	fetcher := &fakeFetcher{
		pages:    map[string]string{good: eventPage},
		statuses: map[string]int{bad: 404},
	}
	store := newFakeStore()

	o, _ := newTestOrchestrator(t, discoverer, fetcher, store, nil, nil, nil)
	session, err := o.RunFullCrawl(context.Background())
	require.NoError(t, err)

	require.Equal(t, 2, session.SourcesCrawled)
	require.Equal(t, 1, session.SuccessfulCrawls)
	require.Equal(t, 1, session.FailedCrawls)
	require.Equal(t, 2, session.TotalEventsFound)
	require.Len(t, store.events, 2)

	var failed crawl.CrawlResult
	for _, result := range session.Results {
		if !result.Success {
			failed = result
		}
	}
	require.Equal(t, bad, failed.SourceURL)
	require.NotEmpty(t, failed.Errors)
}

func TestRunFullCrawlSkipsBlacklistedSource(t *testing.T) {
	t.Parallel()

	const url = "https://blocked.example.com/events"
	discoverer := &fakeDiscoverer{sources: []crawl.DiscoveredSource{venueSource(url)}}
	fetcher := &fakeFetcher{pages: map[string]string{url: eventPage}}
	store := newFakeStore()

	policy := recovery.NewPolicy()
	policy.SeedBlacklist([]string{url})

	o, _ := newTestOrchestrator(t, discoverer, fetcher, store, nil, nil, policy)
	session, err := o.RunFullCrawl(context.Background())
	require.NoError(t, err)

	require.Zero(t, session.SourcesCrawled)
	require.Empty(t, fetcher.fetched)
}

func TestRunFullCrawlStopsAtThirdServerError(t *testing.T) {
	t.Parallel()

	const url = "https://flaky.example.com/events"
	discoverer := &fakeDiscoverer{sources: []crawl.DiscoveredSource{venueSource(url)}}
	fetcher := &fakeFetcher{statuses: map[string]int{url: 500}}
	store := newFakeStore()

	o, _ := newTestOrchestrator(t, discoverer, fetcher, store, nil, nil, nil)
	var delays []time.Duration
	o.sleep = func(_ context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}

	session, err := o.RunFullCrawl(context.Background())
	require.NoError(t, err)

	// the third consecutive 500 is the skip, so exactly three fetches
	// with two backoffs in between
	require.Len(t, fetcher.fetched, 3)
	require.Equal(t, []time.Duration{60 * time.Second, 120 * time.Second}, delays)
	require.Equal(t, 1, session.FailedCrawls)
	require.False(t, session.Results[0].Success)
}

func TestRunFullCrawlDeactivatesAfterRepeatedFailures(t *testing.T) {
	t.Parallel()

	const url = "https://flaky.example.com/events"
	discoverer := &fakeDiscoverer{sources: []crawl.DiscoveredSource{venueSource(url)}}
	fetcher := &fakeFetcher{statuses: map[string]int{url: 404}}
	store := newFakeStore()

	policy := recovery.NewPolicy()
	// four prior failures of the same kind; the next one crosses the
	// per-kind blacklist threshold
	for i := 0; i < 4; i++ {
		policy.Handle(crawl.ErrorRecord{Kind: crawl.ErrUnknown, SourceURL: url})
	}

	o, _ := newTestOrchestrator(t, discoverer, fetcher, store, nil, nil, policy)
	session, err := o.RunFullCrawl(context.Background())
	require.NoError(t, err)

	require.Equal(t, 1, session.FailedCrawls)
	require.True(t, policy.IsBlacklisted(url))
	require.Len(t, store.inactive, 1)
	require.Equal(t, store.sources[url], store.inactive[0])
}

func TestRunFullCrawlEnrichesArtists(t *testing.T) {
	t.Parallel()

	const url = "https://www.musicfarm.com/events"
	discoverer := &fakeDiscoverer{sources: []crawl.DiscoveredSource{venueSource(url)}}
	fetcher := &fakeFetcher{pages: map[string]string{url: eventPage}}
	store := newFakeStore()
	enricher := &fakeEnricher{profiles: []crawl.ArtistProfile{{
		Name:            "Jane Doe Trio",
		GenreTags:       []string{"jazz"},
		OfficialWebsite: "https://www.janedoetrio.com",
		ConfidenceScore: 0.5,
	}}}

	o, _ := newTestOrchestrator(t, discoverer, fetcher, store, enricher, nil, nil)
	_, err := o.RunFullCrawl(context.Background())
	require.NoError(t, err)

	require.Len(t, enricher.queries, 2)

	var enriched *crawl.ExtractedEvent
	for i := range store.events {
		if store.events[i].Title == "Jane Doe Trio" {
			enriched = &store.events[i]
		}
	}
	require.NotNil(t, enriched)
	require.Equal(t, []string{"jazz"}, enriched.RawData["artist_genres"])
	require.Equal(t, "https://www.janedoetrio.com", enriched.RawData["artist_website"])
}

func TestRunFullCrawlArchivesSnapshots(t *testing.T) {
	t.Parallel()

	const url = "https://www.musicfarm.com/events"
	discoverer := &fakeDiscoverer{sources: []crawl.DiscoveredSource{venueSource(url)}}
	fetcher := &fakeFetcher{pages: map[string]string{url: eventPage}}
	store := newFakeStore()
	archiver := &fakeArchiver{}

	o, _ := newTestOrchestrator(t, discoverer, fetcher, store, nil, nil, nil)
	o.archiver = archiver
	_, err := o.RunFullCrawl(context.Background())
	require.NoError(t, err)

	require.Len(t, archiver.paths, 1)
	require.Equal(t, "charleston/session-1/www.musicfarm.com.html", archiver.paths[0])
	require.Len(t, store.events, 2)
	for _, event := range store.events {
		require.Equal(t, "gs://fake/"+archiver.paths[0], event.RawData["snapshot_uri"])
	}
}

func TestRunFullCrawlReturnsSessionOnDiscoveryError(t *testing.T) {
	t.Parallel()

	discoverer := &fakeDiscoverer{err: fmt.Errorf("network down")}
	o, _ := newTestOrchestrator(t, discoverer, &fakeFetcher{}, newFakeStore(), nil, nil, nil)

	session, err := o.RunFullCrawl(context.Background())
	require.Error(t, err)
	require.NotNil(t, session)
	require.NotNil(t, session.EndTime)
	require.Zero(t, session.SourcesCrawled)
}

func TestDiscoverAndCrawlWidensDiscovery(t *testing.T) {
	t.Parallel()

	discoverer := &fakeDiscoverer{}
	o, _ := newTestOrchestrator(t, discoverer, &fakeFetcher{}, newFakeStore(), nil, nil, nil)

	_, err := o.DiscoverAndCrawl(context.Background(), 5)
	require.NoError(t, err)
	require.Equal(t, 10, discoverer.requestedMax)
}

func TestStatistics(t *testing.T) {
	t.Parallel()

	const url = "https://www.musicfarm.com/events"
	discoverer := &fakeDiscoverer{sources: []crawl.DiscoveredSource{venueSource(url)}}
	fetcher := &fakeFetcher{pages: map[string]string{url: eventPage}}

	o, _ := newTestOrchestrator(t, discoverer, fetcher, newFakeStore(), nil, nil, nil)
	require.Empty(t, o.Statistics())

	_, err := o.RunFullCrawl(context.Background())
	require.NoError(t, err)

	stats := o.Statistics()
	require.Equal(t, "session-1", stats["session_id"])
	require.Equal(t, 1, stats["sources_crawled"])
	require.Equal(t, 1.0, stats["success_rate"])
	require.Equal(t, 2.0, stats["events_per_source"])
}

func TestPrioritizeSourcesTiersAndDedup(t *testing.T) {
	t.Parallel()

	calendarVenue := crawl.DiscoveredSource{
		URL: "https://venue.example.com", Type: crawl.SourceTypeVenue,
		ConfidenceScore: 0.8, CalendarDetected: true,
	}
	ticketing := crawl.DiscoveredSource{
		URL: "https://tickets.example.com", Type: crawl.SourceTypeTicketing,
		ConfidenceScore: 0.9,
	}
	marginal := crawl.DiscoveredSource{
		URL: "https://blog.example.com", Type: crawl.SourceTypeMedia,
		ConfidenceScore: 0.5,
	}
	belowFloor := crawl.DiscoveredSource{
		URL: "https://weak.example.com", Type: crawl.SourceTypeUnknown,
		ConfidenceScore: 0.3,
	}

	ordered := prioritizeSources([]crawl.DiscoveredSource{
		belowFloor, marginal, ticketing, calendarVenue,
	}, 0.4)

	require.Len(t, ordered, 3)
	// tier 1: confident venue with a calendar, even though the
	// ticketing platform has higher raw confidence
	require.Equal(t, calendarVenue.URL, ordered[0].URL)
	require.Equal(t, ticketing.URL, ordered[1].URL)
	require.Equal(t, marginal.URL, ordered[2].URL)
}

func TestPrioritizeSourcesConfidenceOrderWithinTier(t *testing.T) {
	t.Parallel()

	a := crawl.DiscoveredSource{URL: "https://a.example.com", ConfidenceScore: 0.81, CalendarDetected: true}
	b := crawl.DiscoveredSource{URL: "https://b.example.com", ConfidenceScore: 0.95, CalendarDetected: true}

	ordered := prioritizeSources([]crawl.DiscoveredSource{a, b}, 0.4)
	require.Equal(t, b.URL, ordered[0].URL)
	require.Equal(t, a.URL, ordered[1].URL)
}
