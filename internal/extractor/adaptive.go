package extractor

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/jefferyschmidt/CharlestonMusicLive/internal/crawl"
)

// Generic container selectors tried after the configured chain.
var genericContainerSelectors = []string{
	".event", ".show", ".performance", ".gig", ".concert",
	".event-item", ".show-item", ".performance-item",
	".event-card", ".show-card", ".performance-card",
	"article", ".card", ".item", ".listing", ".entry",
	`[class*="event"]`, `[class*="show"]`, `[class*="concert"]`,
	`[class*="performance"]`, `[class*="gig"]`,
	`li[class*="event"]`, `li[class*="show"]`,
	`div[class*="event"]`, `div[class*="show"]`,
}

var genericTitleSelectors = []string{
	"h1", "h2", "h3", "h4", "h5", "h6",
	".title", ".name", ".event-title", ".show-title",
	".artist-name", ".performer", ".band-name",
	`[class*="title"]`, `[class*="name"]`,
}

var ticketLinkSelectors = []string{
	`a[href*="ticket"]`, `a[href*="buy"]`, `a[href*="purchase"]`,
	`a[href*="rsvp"]`, `a[href*="reserve"]`, `a[href*="booking"]`,
}

var externalIDAttributes = []string{"data-event-id", "data-show-id", "data-id", "id"}

// Text that is navigation or schedule chrome rather than an event title.
var metadataIndicators = []string{
	"calendar", "schedule", "events", "shows", "concerts",
	"doors", "show starts", "buy tickets", "rsvp",
	"today", "tomorrow", "this week", "next week",
}

var (
	properNamePattern = regexp.MustCompile(`\b[A-Z][a-z]+(?:\s+[A-Z][a-z]+)*\b`)
	bareDatePattern   = regexp.MustCompile(`^\d+[/-]\d+[/-]\d+$`)

	singlePricePatterns = []*regexp.Regexp{
		regexp.MustCompile(`\$(\d+(?:\.\d{2})?)`),
		regexp.MustCompile(`(\d+(?:\.\d{2})?)\s*\$`),
		regexp.MustCompile(`(?i)price:\s*\$?(\d+(?:\.\d{2})?)`),
		regexp.MustCompile(`(?i)tickets?\s*\$?(\d+(?:\.\d{2})?)`),
		regexp.MustCompile(`(?i)cost:\s*\$?(\d+(?:\.\d{2})?)`),
		regexp.MustCompile(`(?i)admission:\s*\$?(\d+(?:\.\d{2})?)`),
	}
	rangePricePatterns = []*regexp.Regexp{
		regexp.MustCompile(`\$(\d+(?:\.\d{2})?)\s*[-–]\s*\$(\d+(?:\.\d{2})?)`),
		regexp.MustCompile(`(\d+(?:\.\d{2})?)\s*[-–]\s*(\d+(?:\.\d{2})?)\s*\$`),
	}
	freePricePattern = regexp.MustCompile(`(?i)\b(?:free|no cover|free admission|complimentary)\b`)
)

// Extractor pulls normalized events out of arbitrary venue HTML. It is
// deterministic, performs no I/O, and never panics; unparseable input
// yields an empty slice. Not safe for concurrent use.
type Extractor struct {
	siteSlug  string
	sourceURL string
	venueName string
	cfg       Config
	logger    *zap.Logger

	// Per-parse diagnostics: why containers were dropped.
	dropReasons map[string]int
}

func NewExtractor(siteSlug, sourceURL string, cfg Config, logger *zap.Logger) *Extractor {
	if cfg.TZName == "" {
		cfg.TZName = defaultTZName
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{
		siteSlug:    siteSlug,
		sourceURL:   sourceURL,
		venueName:   venueNameFromURL(sourceURL),
		cfg:         cfg,
		logger:      logger,
		dropReasons: map[string]int{},
	}
}

// DropReasons reports how many containers the last Extract call
// discarded, keyed by reason.
func (e *Extractor) DropReasons() map[string]int {
	out := make(map[string]int, len(e.dropReasons))
	for k, v := range e.dropReasons {
		out[k] = v
	}
	return out
}

// Extract runs the strategy chain: configured container patterns,
// then structural signature grouping, then date-anchored clustering.
// The first strategy that yields events wins.
func (e *Extractor) Extract(rawHTML string) []crawl.ExtractedEvent {
	e.dropReasons = map[string]int{}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		e.logger.Debug("unparseable html", zap.String("url", e.sourceURL), zap.Error(err))
		return nil
	}

	events := e.extractAll(e.findEventContainers(doc), "pattern_match")
	if len(events) == 0 {
		events = e.extractAll(e.analyzeStructure(doc), "structural_analysis")
	}
	if len(events) == 0 {
		events = e.extractAll(e.findDateAnchoredContainers(doc), "date_discovery")
	}

	e.logger.Debug("extraction complete",
		zap.String("url", e.sourceURL),
		zap.Int("events", len(events)))
	return events
}

func (e *Extractor) extractAll(containers []*goquery.Selection, method string) []crawl.ExtractedEvent {
	var events []crawl.ExtractedEvent
	for _, container := range containers {
		if event, ok := e.extractEvent(container, method); ok {
			events = append(events, event)
		}
	}
	return events
}

// findEventContainers tries the configured selector chain and then the
// generic one, collecting up to 50 unique containers.
func (e *Extractor) findEventContainers(doc *goquery.Document) []*goquery.Selection {
	const maxContainers = 50

	var containers []*goquery.Selection
	seen := map[*html.Node]struct{}{}

	selectors := append(clone(e.cfg.ContainerSelectors), genericContainerSelectors...)
	for _, selector := range selectors {
		doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
			node := s.Get(0)
			if _, dup := seen[node]; dup {
				return
			}
			seen[node] = struct{}{}
			containers = append(containers, s)
		})
		if len(containers) > maxContainers {
			containers = containers[:maxContainers]
			break
		}
	}
	return containers
}

// analyzeStructure groups block elements by a structure signature and
// keeps members of groups repeated at least three times whose text
// carries a date.
func (e *Extractor) analyzeStructure(doc *goquery.Document) []*goquery.Selection {
	const minGroupSize = 3
	const maxPerGroup = 20

	groups := map[string][]*goquery.Selection{}
	var order []string
	doc.Find("div, article, section, li").Each(func(_ int, s *goquery.Selection) {
		sig := structureSignature(s)
		if _, known := groups[sig]; !known {
			order = append(order, sig)
		}
		groups[sig] = append(groups[sig], s)
	})

	var containers []*goquery.Selection
	for _, sig := range order {
		members := groups[sig]
		if len(members) < minGroupSize {
			continue
		}
		kept := 0
		for _, member := range members {
			if kept >= maxPerGroup {
				break
			}
			if containsDate(member.Text()) {
				containers = append(containers, member)
				kept++
			}
		}
	}
	return containers
}

func structureSignature(s *goquery.Selection) string {
	class, _ := s.Attr("class")
	id, _ := s.Attr("id")
	return strings.Join([]string{
		goquery.NodeName(s),
		truncateString(class, 50),
		truncateString(id, 50),
		strconv.Itoa(s.Children().Length()),
	}, "|")
}

// findDateAnchoredContainers collects the parents of date-bearing
// elements, clusters them by tag and class prefix, and returns the
// largest cluster.
func (e *Extractor) findDateAnchoredContainers(doc *goquery.Document) []*goquery.Selection {
	seen := map[*html.Node]struct{}{}
	var parents []*goquery.Selection

	doc.Find("body *").Each(func(_ int, s *goquery.Selection) {
		if !containsDate(s.Text()) {
			return
		}
		parent := s.Parent()
		if parent.Length() == 0 {
			return
		}
		node := parent.Get(0)
		if _, dup := seen[node]; dup {
			return
		}
		seen[node] = struct{}{}
		parents = append(parents, parent)
	})

	if len(parents) <= 1 {
		return parents
	}

	clusters := map[string][]*goquery.Selection{}
	var order []string
	for _, parent := range parents {
		class, _ := parent.Attr("class")
		key := goquery.NodeName(parent) + "-" + truncateString(class, 20)
		if _, known := clusters[key]; !known {
			order = append(order, key)
		}
		clusters[key] = append(clusters[key], parent)
	}

	var largest []*goquery.Selection
	for _, key := range order {
		if len(clusters[key]) > len(largest) {
			largest = clusters[key]
		}
	}
	return largest
}

// extractEvent pulls one event out of a container. Containers without
// a usable title or start time are dropped, with the reason tallied.
func (e *Extractor) extractEvent(container *goquery.Selection, method string) (crawl.ExtractedEvent, bool) {
	title := e.extractTitle(container)
	if title == "" {
		e.dropReasons["missing_title"]++
		return crawl.ExtractedEvent{}, false
	}

	text := container.Text()
	dateInfo, err := parseDateTime(text, e.cfg.TZName)
	if err != nil {
		e.dropReasons["missing_start_time"]++
		return crawl.ExtractedEvent{}, false
	}

	priceMin, priceMax := extractPrice(text)

	event := crawl.ExtractedEvent{
		SiteSlug:     e.siteSlug,
		VenueName:    e.venueName,
		Title:        title,
		ArtistName:   title,
		StartsAtUTC:  dateInfo.StartsAtUTC,
		DoorsTimeUTC: dateInfo.DoorsTimeUTC,
		TZName:       e.cfg.TZName,
		PriceMin:     priceMin,
		PriceMax:     priceMax,
		Currency:     "USD",
		TicketURL:    extractTicketURL(container),
		SourceURL:    e.sourceURL,
		ExternalID:   extractExternalID(container),
		RawData:      e.extractRawData(container, method, text),
	}
	return event, true
}

func (e *Extractor) extractTitle(container *goquery.Selection) string {
	selectors := append(clone(e.cfg.TitleSelectors), genericTitleSelectors...)
	for _, selector := range selectors {
		el := container.Find(selector).First()
		if el.Length() == 0 {
			continue
		}
		title := strings.TrimSpace(el.Text())
		if len(title) > 3 && !isMetadataText(title) {
			return title
		}
	}

	// Fall back to the best-scoring text block.
	bestScore := 0.0
	bestTitle := ""
	container.Find("p, div, span").Each(func(_ int, block *goquery.Selection) {
		text := strings.TrimSpace(block.Text())
		if len(text) <= 10 || len(text) >= 200 {
			return
		}
		if score := scoreTitleCandidate(text); score > bestScore {
			bestScore = score
			bestTitle = text
		}
	})
	return bestTitle
}

func isMetadataText(text string) bool {
	lower := strings.ToLower(text)
	for _, indicator := range metadataIndicators {
		if strings.Contains(lower, indicator) {
			return true
		}
	}
	return false
}

func scoreTitleCandidate(text string) float64 {
	score := 0.0
	if len(text) >= 10 && len(text) <= 100 {
		score += 0.3
	}
	if properNamePattern.MatchString(text) {
		score += 0.4
	}
	if bareDatePattern.MatchString(text) {
		score -= 0.5
	}
	switch strings.ToLower(text) {
	case "event", "show", "concert", "performance", "gig":
		score -= 0.3
	}
	return score
}

// extractPrice resolves a price range, a single price, or a free
// admission literal (price 0), in that order.
func extractPrice(text string) (priceMin, priceMax *float64) {
	for _, pattern := range rangePricePatterns {
		if m := pattern.FindStringSubmatch(text); m != nil {
			lo, loOK := parsePrice(m[1])
			hi, hiOK := parsePrice(m[2])
			if loOK && hiOK {
				return &lo, &hi
			}
		}
	}
	for _, pattern := range singlePricePatterns {
		if m := pattern.FindStringSubmatch(text); m != nil {
			if price, ok := parsePrice(m[1]); ok {
				return &price, &price
			}
		}
	}
	if freePricePattern.MatchString(text) {
		zero := 0.0
		return &zero, &zero
	}
	return nil, nil
}

func parsePrice(s string) (float64, bool) {
	price, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return price, true
}

func extractTicketURL(container *goquery.Selection) string {
	for _, selector := range ticketLinkSelectors {
		if href, ok := container.Find(selector).First().Attr("href"); ok && href != "" {
			return href
		}
	}
	return ""
}

func extractExternalID(container *goquery.Selection) string {
	for _, attr := range externalIDAttributes {
		if value, ok := container.Attr(attr); ok && value != "" {
			return value
		}
	}
	return ""
}

var (
	descriptionSelectors    = []string{".description", ".desc", ".details", `[class*="desc"]`}
	ageRestrictionSelectors = []string{".age", ".age-restriction", `[class*="age"]`}
)

func (e *Extractor) extractRawData(container *goquery.Selection, method, text string) map[string]any {
	raw := map[string]any{"extraction_method": method}

	for _, selector := range descriptionSelectors {
		if desc := strings.TrimSpace(container.Find(selector).First().Text()); desc != "" {
			raw["description"] = desc
			break
		}
	}
	for _, selector := range ageRestrictionSelectors {
		if age := strings.TrimSpace(container.Find(selector).First().Text()); age != "" {
			raw["age_restriction"] = age
			break
		}
	}
	if dateText := shortMonthDayPattern.FindString(text); dateText != "" {
		raw["date_text"] = dateText
	}
	return raw
}

// venueNameFromURL derives a display name from the source hostname,
// e.g. https://www.musicfarm.com -> "Musicfarm".
func venueNameFromURL(sourceURL string) string {
	u, err := url.Parse(sourceURL)
	if err != nil || u.Hostname() == "" {
		return "Unknown Venue"
	}
	name := strings.ToLower(u.Hostname())
	name = strings.TrimPrefix(name, "www.")
	for _, suffix := range []string{".com", ".org", ".net"} {
		name = strings.TrimSuffix(name, suffix)
	}
	name = strings.NewReplacer("-", " ", "_", " ").Replace(name)
	return titleCase(name)
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, word := range words {
		words[i] = strings.ToUpper(word[:1]) + word[1:]
	}
	return strings.Join(words, " ")
}

func truncateString(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
