package extractor

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"

	"github.com/jefferyschmidt/CharlestonMusicLive/internal/crawl"
)

// Match describes which extraction configuration fits a source, with a
// confidence score and a human-readable reason.
type Match struct {
	Name            string
	ConfidenceScore float64
	Reasoning       string
	Config          Config
}

// knownSource is a hand-tuned match for a specific venue site.
type knownSource struct {
	name       string
	patterns   []string
	confidence float64
	venueType  VenueType
}

var knownSources = []knownSource{
	{name: "music_farm", patterns: []string{"music farm", "musicfarm"}, confidence: 0.9, venueType: VenueTypeConcert},
	{name: "sample_venue", patterns: []string{"sample", "test", "fixture"}, confidence: 0.8, venueType: VenueTypeGeneric},
}

// Vocabulary per venue type; markup hits weigh double because class
// names and ids are stronger signals than prose.
var venueTypeIndicators = map[VenueType][]string{
	VenueTypeConcert:    {"concert", "venue", "theater", "amphitheater", "arena"},
	VenueTypeBar:        {"bar", "pub", "tavern", "lounge", "club"},
	VenueTypeRestaurant: {"restaurant", "cafe", "bistro", "grill", "kitchen"},
	VenueTypeOutdoor:    {"park", "plaza", "square", "beach", "outdoor"},
}

var classifierVenueTypes = []VenueType{
	VenueTypeConcert, VenueTypeBar, VenueTypeRestaurant, VenueTypeOutdoor,
}

var (
	calendarStructureIndicators = []string{
		"calendar", "datepicker", "month", "week", "day",
		"event-calendar", "schedule", "upcoming", "events",
	}
	ticketingIndicators = []string{
		"buy tickets", "get tickets", "purchase tickets",
		"ticket", "rsvp", "reserve", "booking",
	}
	foodMenuIndicators = []string{
		"menu", "appetizer", "entree", "dessert", "breakfast",
		"lunch", "dinner", "chef", "kitchen", "cuisine",
	}
	drinkMenuIndicators = []string{
		"cocktail", "beer", "wine", "spirits", "drinks",
		"bar menu", "happy hour", "specialty drinks",
	}

	dateClassPattern = regexp.MustCompile(`(?i)date|time|calendar`)
)

// Factory classifies sources and synthesizes extraction configs. A
// learned domain bias, fed back by the orchestrator, short-circuits
// classification for domains that already extracted well.
type Factory struct {
	mu         sync.RWMutex
	domainBias map[string]VenueType
	tzName     string
}

func NewFactory(tzName string) *Factory {
	if tzName == "" {
		tzName = defaultTZName
	}
	return &Factory{
		domainBias: map[string]VenueType{},
		tzName:     tzName,
	}
}

// LearnDomain records that the given venue type extracted well for a
// domain, so future sources there skip classification.
func (f *Factory) LearnDomain(domain string, venueType VenueType) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.domainBias[strings.ToLower(domain)] = venueType
}

// AnalyzeSource picks the best extraction config for a source. It is
// total: when nothing matches it falls back to the generic config.
func (f *Factory) AnalyzeSource(sourceURL, rawHTML string, meta crawl.DiscoveredSource) Match {
	urlLower := strings.ToLower(sourceURL)
	htmlLower := strings.ToLower(rawHTML)

	for _, known := range knownSources {
		for _, pattern := range known.patterns {
			if strings.Contains(urlLower, pattern) || strings.Contains(htmlLower, pattern) {
				cfg := ConfigFor(known.venueType)
				cfg.TZName = f.tzName
				return Match{
					Name:            known.name,
					ConfidenceScore: known.confidence,
					Reasoning:       fmt.Sprintf("exact match with %s extractor", known.name),
					Config:          cfg,
				}
			}
		}
	}

	if venueType, ok := f.biasFor(domainOf(sourceURL)); ok {
		cfg := ConfigFor(venueType)
		cfg.TZName = f.tzName
		return Match{
			Name:            string(venueType) + "_venue",
			ConfidenceScore: 0.7,
			Reasoning:       "learned domain bias",
			Config:          cfg,
		}
	}

	venueType := classifyVenueType(rawHTML, htmlLower)
	cfg := ConfigFor(venueType)
	cfg.TZName = f.tzName

	confidence := 0.6
	if venueType == VenueTypeGeneric {
		confidence = 0.5
	}
	return Match{
		Name:            string(venueType) + "_venue",
		ConfidenceScore: confidence,
		Reasoning:       fmt.Sprintf("generic extractor for %s venue type", venueType),
		Config:          cfg,
	}
}

func (f *Factory) biasFor(domain string) (VenueType, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	venueType, ok := f.domainBias[domain]
	return venueType, ok
}

// classifyVenueType scores the page against each venue type vocabulary
// and structural boosts, keeping the winner only above a 0.5 floor.
func classifyVenueType(rawHTML, htmlLower string) VenueType {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return VenueTypeGeneric
	}
	textLower := strings.ToLower(doc.Text())

	scores := map[VenueType]float64{}
	for venueType, indicators := range venueTypeIndicators {
		score := 0.0
		for _, indicator := range indicators {
			score += float64(strings.Count(textLower, indicator))*0.1 +
				float64(strings.Count(htmlLower, indicator))*0.2
		}
		scores[venueType] = score
	}

	if hasCalendarStructure(doc, htmlLower) {
		scores[VenueTypeConcert] += 0.3
	}
	if containsAny(htmlLower, ticketingIndicators) {
		scores[VenueTypeConcert] += 0.2
	}
	if containsAny(htmlLower, foodMenuIndicators) {
		scores[VenueTypeRestaurant] += 0.3
	}
	if containsAny(htmlLower, drinkMenuIndicators) {
		scores[VenueTypeBar] += 0.3
	}

	best := VenueTypeGeneric
	bestScore := 0.0
	for _, venueType := range classifierVenueTypes {
		if scores[venueType] > bestScore {
			best = venueType
			bestScore = scores[venueType]
		}
	}
	if bestScore <= 0.5 {
		return VenueTypeGeneric
	}
	return best
}

func hasCalendarStructure(doc *goquery.Document, htmlLower string) bool {
	if containsAny(htmlLower, calendarStructureIndicators) {
		return true
	}
	dated := 0
	doc.Find("time, span, div").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if class, ok := s.Attr("class"); ok && dateClassPattern.MatchString(class) {
			dated++
		}
		return dated <= 2
	})
	return dated > 2
}

func domainOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

func containsAny(haystack string, needles []string) bool {
	for _, needle := range needles {
		if strings.Contains(haystack, needle) {
			return true
		}
	}
	return false
}
