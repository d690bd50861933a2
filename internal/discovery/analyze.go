package discovery

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/jefferyschmidt/CharlestonMusicLive/internal/crawl"
)

// Event-related vocabulary used for content detection.
var eventKeywords = []string{
	"live music", "concerts", "shows", "events", "calendar",
	"tickets", "performances", "gigs", "bands", "artists",
}

// Calendar detection patterns: month/day tokens, weekday abbreviations,
// relative-day words, and ticketing verbs.
var calendarPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(?:january|february|march|april|may|june|july|august|september|october|november|december)\s+\d{1,2}`),
	regexp.MustCompile(`(?i)\b(?:mon|tue|wed|thu|fri|sat|sun)\s+\d{1,2}`),
	regexp.MustCompile(`\d{1,2}/\d{1,2}/\d{4}`),
	regexp.MustCompile(`\d{4}-\d{2}-\d{2}`),
	regexp.MustCompile(`(?i)\b(?:today|tomorrow|this week|next week)\b`),
	regexp.MustCompile(`(?i)\b(?:doors|show starts|performance)\b`),
	regexp.MustCompile(`(?i)\b(?:buy tickets|rsvp|get tickets)\b`),
}

var calendarElements = []string{
	"calendar", "datepicker", "month", "week", "day",
	"event-calendar", "schedule", "upcoming",
}

// Known aggregator/ticketing domains with their source type.
var knownAggregators = map[string]crawl.SourceType{
	"eventbrite.com":   crawl.SourceTypeTicketing,
	"ticketmaster.com": crawl.SourceTypeTicketing,
	"bandsintown.com":  crawl.SourceTypeAggregator,
	"songkick.com":     crawl.SourceTypeAggregator,
	"jambase.com":      crawl.SourceTypeAggregator,
	"pollstar.com":     crawl.SourceTypeAggregator,
	"seatgeek.com":     crawl.SourceTypeTicketing,
	"stubhub.com":      crawl.SourceTypeTicketing,
}

var eventCountIndicators = []string{
	"event-item", "event-list", "show-item", "concert-item",
	"ticket-item", "performance-item",
}

var shortDatePattern = regexp.MustCompile(`(?i)\b(?:jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)\s+\d{1,2}`)

// SPA framework markers that signal JavaScript-rendered content.
var jsIndicators = []string{
	"react", "vue", "angular", "spa", "single-page",
	"data-react", "data-vue", "ng-", "v-",
}

var (
	addressPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\d+\s+[A-Za-z\s]+(?:Street|St|Avenue|Ave|Road|Rd|Boulevard|Blvd)`),
		regexp.MustCompile(`[A-Za-z\s]+,?\s+[A-Z]{2}\s+\d{5}`),
	}
	phonePattern = regexp.MustCompile(`\(?\d{3}\)?[\s.-]?\d{3}[\s.-]?\d{4}`)
)

// AnalyzePage scores a fetched page and classifies it as a candidate
// event source. It is a pure function of its inputs and tolerates
// arbitrary (including empty or adversarial) HTML; scores are always
// clamped to [0,1].
func AnalyzePage(pageURL, title, html string) crawl.DiscoveredSource {
	htmlLower := strings.ToLower(html)
	titleLower := strings.ToLower(title)
	confidence := 0.0

	calendarScore := detectCalendarIndicators(html, htmlLower)
	calendarDetected := calendarScore > 0.5
	if calendarDetected {
		confidence += 0.3
	}

	confidence += detectEventContent(htmlLower) * 0.4

	domain := hostnameOf(pageURL)
	sourceType := crawl.SourceTypeUnknown
	switch {
	case aggregatorType(domain) != crawl.SourceTypeUnknown:
		sourceType = aggregatorType(domain)
		confidence += 0.2
	case strings.Contains(titleLower, "venue") || strings.Contains(titleLower, "club") || strings.Contains(titleLower, "theater"):
		sourceType = crawl.SourceTypeVenue
		confidence += 0.2
	case strings.Contains(titleLower, "ticket") || strings.Contains(titleLower, "event"):
		sourceType = crawl.SourceTypeTicketing
		confidence += 0.2
	case strings.Contains(titleLower, "bar") || strings.Contains(titleLower, "restaurant"):
		sourceType = crawl.SourceTypeSocial
		confidence += 0.1
	}

	venueName, address, phone, description := extractStructuredData(html, title)

	eventCount := countPotentialEvents(htmlLower)
	if eventCount > 0 {
		confidence += minFloat(float64(eventCount)*0.05, 0.3)
	}

	requiresBrowser := requiresJavascript(htmlLower)
	if requiresBrowser {
		confidence -= 0.1
	}

	name := title
	if name == "" {
		name = venueName
	}
	if name == "" {
		name = domain
	}

	return crawl.DiscoveredSource{
		URL:              pageURL,
		Name:             name,
		Type:             sourceType,
		ConfidenceScore:  crawl.ClampScore(confidence),
		VenueName:        venueName,
		Address:          address,
		Phone:            phone,
		Description:      description,
		EventCount:       eventCount,
		CalendarDetected: calendarDetected,
		RequiresBrowser:  requiresBrowser,
		RateLimitRPS:     1.0,
	}
}

func detectCalendarIndicators(html, htmlLower string) float64 {
	score := 0.0
	for _, pattern := range calendarPatterns {
		if matches := len(pattern.FindAllStringIndex(html, -1)); matches > 0 {
			score += minFloat(float64(matches)*0.1, 0.5)
		}
	}
	for _, element := range calendarElements {
		if strings.Contains(htmlLower, element) {
			score += 0.1
		}
	}
	return minFloat(score, 1.0)
}

func detectEventContent(htmlLower string) float64 {
	score := 0.0
	for _, keyword := range eventKeywords {
		if matches := strings.Count(htmlLower, keyword); matches > 0 {
			score += minFloat(float64(matches)*0.05, 0.3)
		}
	}
	return minFloat(score, 1.0)
}

func aggregatorType(domain string) crawl.SourceType {
	for agg, sourceType := range knownAggregators {
		if domain == agg || strings.HasSuffix(domain, "."+agg) {
			return sourceType
		}
	}
	return crawl.SourceTypeUnknown
}

func countPotentialEvents(htmlLower string) int {
	count := 0
	for _, indicator := range eventCountIndicators {
		count += strings.Count(htmlLower, indicator)
	}
	count += len(shortDatePattern.FindAllStringIndex(htmlLower, -1))
	return count
}

func requiresJavascript(htmlLower string) bool {
	for _, indicator := range jsIndicators {
		if strings.Contains(htmlLower, indicator) {
			return true
		}
	}
	return false
}

// extractStructuredData pulls venue name, postal address, phone, and
// description out of the page via selector fallback chains. Each field
// is best-effort and empty on failure.
func extractStructuredData(html, title string) (venueName, address, phone, description string) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", "", "", ""
	}

	venueName = extractVenueName(doc, title)

	text := doc.Text()
	for _, pattern := range addressPatterns {
		if match := pattern.FindString(text); match != "" {
			address = strings.TrimSpace(match)
			break
		}
	}
	if match := phonePattern.FindString(text); match != "" {
		phone = match
	}
	description = extractDescription(doc)
	return venueName, address, phone, description
}

func extractVenueName(doc *goquery.Document, title string) string {
	selectors := []string{
		"h1", "h2", ".venue-name", ".business-name",
		`[class*="venue"]`, `[class*="business"]`, `[class*="name"]`,
	}
	for _, selector := range selectors {
		if el := doc.Find(selector).First(); el.Length() > 0 {
			text := strings.TrimSpace(el.Text())
			if text != "" && len(text) < 100 {
				return text
			}
		}
	}
	titleLower := strings.ToLower(title)
	for _, word := range []string{"venue", "club", "theater", "bar", "restaurant"} {
		if strings.Contains(titleLower, word) {
			return title
		}
	}
	return ""
}

func extractDescription(doc *goquery.Document) string {
	if content, ok := doc.Find(`meta[name="description"]`).Attr("content"); ok && content != "" {
		return truncate(content, 200)
	}
	if p := doc.Find("p").First(); p.Length() > 0 {
		text := strings.TrimSpace(p.Text())
		if len(text) > 20 {
			return truncate(text, 200)
		}
	}
	return ""
}

// ExtractEventLinks returns up to limit absolute links whose URL or
// anchor text suggests event content.
func ExtractEventLinks(baseURL, html string, limit int) []string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil
	}

	var links []string
	doc.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		href, _ := a.Attr("href")
		resolved := resolveLink(base, href)
		if resolved == "" {
			return true
		}
		// Relevance is judged on the raw href, not the resolved URL:
		// resolving against an event-ish hostname would make every
		// on-site link look relevant.
		if isRelevantLink(href, a.Text()) {
			links = append(links, resolved)
		}
		return len(links) < limit
	})
	return links
}

func resolveLink(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	if strings.HasPrefix(href, "/") {
		ref, err := url.Parse(href)
		if err != nil {
			return ""
		}
		return base.ResolveReference(ref).String()
	}
	return ""
}

var relevantLinkKeywords = []string{
	"events", "calendar", "shows", "concerts", "tickets",
	"venue", "club", "theater", "bar", "restaurant",
}

func isRelevantLink(href, text string) bool {
	urlLower := strings.ToLower(href)
	textLower := strings.ToLower(text)
	for _, keyword := range relevantLinkKeywords {
		if strings.Contains(urlLower, keyword) || strings.Contains(textLower, keyword) {
			return true
		}
	}
	return false
}

func hostnameOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
