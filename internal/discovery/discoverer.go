package discovery

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jefferyschmidt/CharlestonMusicLive/internal/crawl"
	"github.com/jefferyschmidt/CharlestonMusicLive/internal/metrics"
)

// Calendar page paths probed off each known venue root.
var venueCalendarPaths = []string{
	"/events", "/calendar", "/shows", "/schedule", "/upcoming-events",
}

// venuePattern carries the canonical display name of a known local
// venue plus the tokens that identify it in discovered page titles.
type venuePattern struct {
	Name     string
	Keywords []string
}

var charlestonVenuePatterns = map[string]venuePattern{
	"musicfarm":          {Name: "Music Farm", Keywords: []string{"music farm", "musicfarm"}},
	"pourhouse":          {Name: "The Pour House", Keywords: []string{"pour house", "pourhouse"}},
	"charlestonmusichall": {Name: "Charleston Music Hall", Keywords: []string{"charleston music hall", "charlestonmusichall"}},
	"themillcharleston":  {Name: "The Mill", Keywords: []string{"the mill", "themillcharleston"}},
	"acescharleston":     {Name: "Aces", Keywords: []string{"aces", "acescharleston"}},
	"theroyalamerican":   {Name: "The Royal American", Keywords: []string{"the royal american", "theroyalamerican"}},
}

var titlePattern = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)

// Options configures a Discoverer. KnownVenueURLs are the roots probed
// by direct venue discovery; City/State/SiteSlug seed aggregator search
// URLs and priority scoring.
type Options struct {
	SiteSlug       string
	City           string
	State          string
	KnownVenueURLs []string
}

// Discoverer finds candidate event sources for one site using several
// strategies, deduplicates them by URL, and orders them by priority.
type Discoverer struct {
	fetcher   crawl.Fetcher
	blacklist *DomainBlacklist
	opts      Options
	logger    *zap.Logger
}

func New(fetcher crawl.Fetcher, blacklist *DomainBlacklist, opts Options, logger *zap.Logger) *Discoverer {
	if blacklist == nil {
		blacklist = DefaultBlacklist()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Discoverer{
		fetcher:   fetcher,
		blacklist: blacklist,
		opts:      opts,
		logger:    logger,
	}
}

// Discover runs all strategies in order. Each strategy gets a share of
// maxSources; URLs already seen by an earlier strategy are dropped.
// Individual probe failures degrade to omitted sources, never an error.
func (d *Discoverer) Discover(ctx context.Context, maxSources int) (crawl.DiscoveryResult, error) {
	start := time.Now()
	seen := map[string]struct{}{}
	var discovered []crawl.DiscoveredSource

	add := func(strategy string, sources []crawl.DiscoveredSource) {
		for _, source := range sources {
			if _, dup := seen[source.URL]; dup {
				continue
			}
			seen[source.URL] = struct{}{}
			discovered = append(discovered, source)
			metrics.ObserveDiscovery(strategy, 1)
		}
	}

	d.logger.Info("starting direct venue discovery")
	add("direct_venue", d.discoverDirectVenues(ctx, maxSources/3))

	d.logger.Info("starting search engine discovery")
	add("search_engine", d.discoverViaSearchEngines(ctx, maxSources/3))

	d.logger.Info("starting aggregator discovery")
	add("aggregator", d.discoverViaAggregators(ctx, maxSources/6))

	d.logger.Info("starting cross-reference discovery")
	add("cross_reference", d.discoverViaCrossReferences(ctx, discovered, maxSources/6))

	for i := range discovered {
		discovered[i].PriorityScore = d.priorityScore(discovered[i])
	}
	sort.SliceStable(discovered, func(i, j int) bool {
		if discovered[i].PriorityScore != discovered[j].PriorityScore {
			return discovered[i].PriorityScore > discovered[j].PriorityScore
		}
		return discovered[i].ConfidenceScore > discovered[j].ConfidenceScore
	})

	total := len(discovered)
	if len(discovered) > maxSources {
		discovered = discovered[:maxSources]
	}

	d.logger.Info("discovery complete",
		zap.Int("total_discovered", total),
		zap.Int("returned", len(discovered)),
		zap.Duration("elapsed", time.Since(start)))

	return crawl.DiscoveryResult{
		Sources:         discovered,
		TotalDiscovered: total,
		DiscoveryMethod: "multi_strategy",
		SearchTerms: []string{
			d.opts.City + " live music",
			d.opts.City + " concerts",
			d.opts.City + " venues",
		},
		ExecutionTime: time.Since(start),
	}, ctx.Err()
}

// discoverDirectVenues probes the known venue roots for a working
// calendar page and keeps the first path per venue whose analyzed
// confidence exceeds 0.5.
func (d *Discoverer) discoverDirectVenues(ctx context.Context, maxSources int) []crawl.DiscoveredSource {
	var sources []crawl.DiscoveredSource
	for _, venueURL := range d.opts.KnownVenueURLs {
		for _, path := range venueCalendarPaths {
			calendarURL := strings.TrimRight(venueURL, "/") + path
			source, ok := d.analyzeCandidate(ctx, calendarURL, "Charleston Venue")
			if !ok || source.ConfidenceScore <= 0.5 {
				continue
			}
			source.Type = crawl.SourceTypeVenue
			sources = append(sources, source)
			break
		}
		if len(sources) >= maxSources {
			break
		}
	}
	return sources
}

// discoverViaSearchEngines is intentionally inert: the major engines
// are blacklisted or need API keys. The strategy slot stays in the
// pipeline so the cap arithmetic and logging match the other three.
func (d *Discoverer) discoverViaSearchEngines(_ context.Context, _ int) []crawl.DiscoveredSource {
	d.logger.Info("skipping search engine discovery, engines blacklisted or require API keys")
	return nil
}

func (d *Discoverer) discoverViaAggregators(ctx context.Context, maxSources int) []crawl.DiscoveredSource {
	searches := []string{
		fmt.Sprintf("https://www.eventbrite.com/d/%s--%s/live-music/", d.opts.City, d.opts.State),
		fmt.Sprintf("https://www.bandsintown.com/?location=%s%%2C%s", d.opts.City, d.opts.State),
		fmt.Sprintf("https://www.songkick.com/search?query=%s%%2C%s", d.opts.City, d.opts.State),
		fmt.Sprintf("https://www.jambase.com/place/%s-%s", d.opts.City, d.opts.State),
	}

	var sources []crawl.DiscoveredSource
	for _, searchURL := range searches {
		source, ok := d.analyzeCandidate(ctx, searchURL, d.opts.City+" Events")
		if !ok {
			continue
		}
		sources = append(sources, source)
		if len(sources) >= maxSources {
			break
		}
	}
	return sources
}

// discoverViaCrossReferences scans the first existing sources for
// event-relevant outbound links and keeps those that analyze above a
// 0.4 confidence floor.
func (d *Discoverer) discoverViaCrossReferences(ctx context.Context, existing []crawl.DiscoveredSource, maxSources int) []crawl.DiscoveredSource {
	const maxScannedSources = 10
	const maxLinksPerSource = 20

	var sources []crawl.DiscoveredSource
	checked := map[string]struct{}{}

	scan := existing
	if len(scan) > maxScannedSources {
		scan = scan[:maxScannedSources]
	}

	for _, source := range scan {
		response, err := d.fetcher.Fetch(ctx, crawl.FetchRequest{URL: source.URL})
		if err != nil || response.StatusCode != 200 {
			continue
		}
		for _, link := range ExtractEventLinks(source.URL, string(response.Body), maxLinksPerSource) {
			if _, dup := checked[link]; dup || len(sources) >= maxSources {
				continue
			}
			checked[link] = struct{}{}
			candidate, ok := d.analyzeCandidate(ctx, link, "Cross-referenced")
			if ok && candidate.ConfidenceScore > 0.4 {
				sources = append(sources, candidate)
			}
		}
	}
	return sources
}

// analyzeCandidate fetches one URL and scores it. Blacklisted domains
// are skipped before any fetch; fetch or status failures return ok=false.
func (d *Discoverer) analyzeCandidate(ctx context.Context, rawURL, fallbackName string) (crawl.DiscoveredSource, bool) {
	if reason, blocked := d.blacklist.Reason(rawURL); blocked {
		d.logger.Info("skipping blacklisted source",
			zap.String("url", rawURL),
			zap.String("reason", reason))
		return crawl.DiscoveredSource{}, false
	}

	response, err := d.fetcher.Fetch(ctx, crawl.FetchRequest{URL: rawURL})
	if err != nil {
		d.logger.Debug("candidate fetch failed", zap.String("url", rawURL), zap.Error(err))
		return crawl.DiscoveredSource{}, false
	}
	if response.StatusCode != 200 {
		return crawl.DiscoveredSource{}, false
	}

	html := string(response.Body)
	title := pageTitle(html)
	if title == "" {
		title = fallbackName
	}
	return AnalyzePage(rawURL, title, html), true
}

// priorityScore ranks a source for crawl ordering on top of its
// confidence: venues first, known local venues above that, calendars
// and busy pages boosted, aggregators and ticketing nudged down.
func (d *Discoverer) priorityScore(source crawl.DiscoveredSource) float64 {
	score := source.ConfidenceScore

	if source.Type == crawl.SourceTypeVenue {
		score += 0.3
	}
	if d.opts.SiteSlug == "charleston" {
		nameLower := strings.ToLower(source.Name)
		for _, pattern := range charlestonVenuePatterns {
			if strings.Contains(nameLower, strings.ToLower(pattern.Name)) {
				score += 0.4
				break
			}
		}
	}
	if source.CalendarDetected {
		score += 0.2
	}
	if source.EventCount > 10 {
		score += 0.1
	}
	if source.Type == crawl.SourceTypeAggregator || source.Type == crawl.SourceTypeTicketing {
		score -= 0.1
	}
	return crawl.ClampScore(score)
}

func pageTitle(html string) string {
	if match := titlePattern.FindStringSubmatch(html); len(match) == 2 {
		return strings.TrimSpace(match[1])
	}
	return ""
}
