package discovery

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jefferyschmidt/CharlestonMusicLive/internal/crawl"
)

// fakeFetcher serves canned pages by URL and records every fetch.
type fakeFetcher struct {
	mu      sync.Mutex
	pages   map[string]string
	fetched []string
}

func (f *fakeFetcher) Fetch(_ context.Context, request crawl.FetchRequest) (crawl.FetchResponse, error) {
	f.mu.Lock()
	f.fetched = append(f.fetched, request.URL)
	f.mu.Unlock()

	body, ok := f.pages[request.URL]
	if !ok {
		return crawl.FetchResponse{}, errors.New("connection refused")
	}
	return crawl.FetchResponse{URL: request.URL, StatusCode: 200, Body: []byte(body)}, nil
}

func (f *fakeFetcher) fetchedURLs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.fetched...)
}

func calendarPage(title string) string {
	var b strings.Builder
	b.WriteString("<html><head><title>" + title + "</title></head><body>")
	b.WriteString(`<div class="event-calendar schedule">`)
	for i := 0; i < 8; i++ {
		b.WriteString(`<div class="event-item">live music tickets January 15 doors buy tickets</div>`)
	}
	b.WriteString("</div></body></html>")
	return b.String()
}

func testOptions() Options {
	return Options{
		SiteSlug: "charleston",
		City:     "charleston",
		State:    "sc",
		KnownVenueURLs: []string{
			"https://www.musicfarm.com",
			"https://www.pourhouse.com",
		},
	}
}

func TestDiscoverDirectVenuesFirstWorkingPath(t *testing.T) {
	fetcher := &fakeFetcher{pages: map[string]string{
		"https://www.musicfarm.com/calendar": calendarPage("Music Farm Venue"),
		"https://www.pourhouse.com/events":   calendarPage("The Pour House Venue"),
	}}
	d := New(fetcher, DefaultBlacklist(), testOptions(), zap.NewNop())

	result, err := d.Discover(context.Background(), 30)
	require.NoError(t, err)

	var urls []string
	for _, s := range result.Sources {
		urls = append(urls, s.URL)
	}
	require.Contains(t, urls, "https://www.musicfarm.com/calendar")
	require.Contains(t, urls, "https://www.pourhouse.com/events")

	// Probing stops at the first working calendar path per venue.
	require.NotContains(t, fetcher.fetchedURLs(), "https://www.musicfarm.com/shows")

	for _, s := range result.Sources {
		if s.URL == "https://www.musicfarm.com/calendar" || s.URL == "https://www.pourhouse.com/events" {
			require.Equal(t, crawl.SourceTypeVenue, s.Type)
		}
	}
}

func TestDiscoverDeduplicatesAcrossStrategies(t *testing.T) {
	// The aggregator search URL also appears as an outbound link on a
	// venue page. It must only be reported once.
	aggURL := "https://www.eventbrite.com/d/charleston--sc/live-music/"
	venuePage := calendarPage("Music Farm Venue") +
		`<a href="` + aggURL + `">Tickets</a>`

	fetcher := &fakeFetcher{pages: map[string]string{
		"https://www.musicfarm.com/events": venuePage,
		aggURL:                             calendarPage("Charleston Event Tickets"),
	}}
	d := New(fetcher, DefaultBlacklist(), testOptions(), zap.NewNop())

	result, err := d.Discover(context.Background(), 30)
	require.NoError(t, err)

	count := 0
	for _, s := range result.Sources {
		if s.URL == aggURL {
			count++
		}
	}
	require.Equal(t, 1, count)
}

func TestDiscoverBlacklistedDomainNeverFetched(t *testing.T) {
	fetcher := &fakeFetcher{pages: map[string]string{}}
	bl := NewDomainBlacklist(map[string]string{
		"eventbrite.com": "test block",
	})
	opts := testOptions()
	opts.KnownVenueURLs = nil
	d := New(fetcher, bl, opts, zap.NewNop())

	_, err := d.Discover(context.Background(), 30)
	require.NoError(t, err)

	for _, u := range fetcher.fetchedURLs() {
		require.NotContains(t, u, "eventbrite.com")
	}
}

func TestDiscoverOrderedByPriority(t *testing.T) {
	fetcher := &fakeFetcher{pages: map[string]string{
		"https://www.musicfarm.com/events": calendarPage("Music Farm Venue"),
		"https://www.eventbrite.com/d/charleston--sc/live-music/": calendarPage("Charleston Event Tickets"),
	}}
	d := New(fetcher, DefaultBlacklist(), testOptions(), zap.NewNop())

	result, err := d.Discover(context.Background(), 30)
	require.NoError(t, err)
	require.NotEmpty(t, result.Sources)

	// Known local venue outranks the ticketing aggregator.
	require.Equal(t, "https://www.musicfarm.com/events", result.Sources[0].URL)
	for i := 1; i < len(result.Sources); i++ {
		require.GreaterOrEqual(t, result.Sources[i-1].PriorityScore, result.Sources[i].PriorityScore)
	}
	for _, s := range result.Sources {
		require.LessOrEqual(t, s.PriorityScore, 1.0)
		require.GreaterOrEqual(t, s.PriorityScore, 0.0)
	}
}

func TestDiscoverProbeFailuresAreOmitted(t *testing.T) {
	// No pages resolve at all: discovery still succeeds with zero sources.
	fetcher := &fakeFetcher{pages: map[string]string{}}
	d := New(fetcher, DefaultBlacklist(), testOptions(), zap.NewNop())

	result, err := d.Discover(context.Background(), 30)
	require.NoError(t, err)
	require.Empty(t, result.Sources)
	require.Zero(t, result.TotalDiscovered)
	require.Equal(t, "multi_strategy", result.DiscoveryMethod)
}

func TestDiscoverRespectsMaxSources(t *testing.T) {
	pages := map[string]string{}
	opts := testOptions()
	opts.KnownVenueURLs = []string{
		"https://www.musicfarm.com",
		"https://www.pourhouse.com",
		"https://www.charlestonmusichall.com",
		"https://www.themillcharleston.com",
		"https://www.acescharleston.com",
		"https://www.theroyalamerican.com",
	}
	for _, v := range opts.KnownVenueURLs {
		pages[v+"/events"] = calendarPage("Venue")
	}
	fetcher := &fakeFetcher{pages: pages}
	d := New(fetcher, DefaultBlacklist(), opts, zap.NewNop())

	result, err := d.Discover(context.Background(), 6)
	require.NoError(t, err)
	// Direct venue discovery is capped at a third of the budget.
	require.LessOrEqual(t, len(result.Sources), 6)
	require.LessOrEqual(t, result.TotalDiscovered, 6)
}
