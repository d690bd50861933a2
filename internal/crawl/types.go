// Package crawl defines core types shared across subsystems.
package crawl

import (
	"net/http"
	"time"
)

// SourceType classifies what kind of site a discovered source is.
type SourceType string

// Source type values assigned during discovery.
const (
	SourceTypeVenue      SourceType = "venue"
	SourceTypeTicketing  SourceType = "ticketing"
	SourceTypeAggregator SourceType = "aggregator"
	SourceTypeMedia      SourceType = "media"
	SourceTypeSocial     SourceType = "social"
	SourceTypeUnknown    SourceType = "unknown"
)

// DiscoveredSource is a candidate event source produced by one discovery pass.
// ConfidenceScore and PriorityScore are always clamped to [0,1].
type DiscoveredSource struct {
	URL              string
	Name             string
	Type             SourceType
	ConfidenceScore  float64
	PriorityScore    float64
	VenueName        string
	Address          string
	Phone            string
	Description      string
	EventCount       int
	CalendarDetected bool
	RequiresBrowser  bool
	RateLimitRPS     float64
}

// DiscoveryResult is the output of one discovery run. Sources are ordered
// by priority score descending, confidence score breaking ties.
type DiscoveryResult struct {
	Sources         []DiscoveredSource
	TotalDiscovered int
	DiscoveryMethod string
	SearchTerms     []string
	ExecutionTime   time.Duration
}

// ExtractedEvent is the normalized record produced by any extractor.
// StartsAtUTC is required; an extractor that cannot resolve a start time
// must discard the candidate rather than emit a partial record.
type ExtractedEvent struct {
	SiteSlug       string
	VenueName      string
	Title          string
	ArtistName     string
	StartsAtUTC    time.Time
	EndsAtUTC      *time.Time
	DoorsTimeUTC   *time.Time
	TZName         string
	PriceMin       *float64
	PriceMax       *float64
	Currency       string
	TicketURL      string
	AgeRestriction string
	IsCancelled    bool
	SourceURL      string
	ExternalID     string
	RawData        map[string]any
}

// CrawlResult records the outcome of processing one source.
type CrawlResult struct {
	SourceURL            string
	EventsFound          int
	EventsExtracted      int
	ExtractionConfidence float64
	ExtractorUsed        string
	CrawlDuration        time.Duration
	Errors               []string
	Success              bool
}

// CrawlSession aggregates one full run. It is created at session start,
// mutated incrementally by the orchestrator, and frozen once EndTime is set.
type CrawlSession struct {
	SiteSlug          string
	City              string
	State             string
	StartTime         time.Time
	EndTime           *time.Time
	SourcesDiscovered int
	SourcesCrawled    int
	TotalEventsFound  int
	SuccessfulCrawls  int
	FailedCrawls      int
	Results           []CrawlResult
}

// ErrorKind enumerates the failure taxonomy used by the recovery policy.
type ErrorKind string

// Error kinds surfaced by fetchers and extractors.
const (
	ErrRateLimited ErrorKind = "rate_limited"
	ErrForbidden   ErrorKind = "forbidden"
	ErrServer      ErrorKind = "server_error"
	ErrTimeout     ErrorKind = "timeout"
	ErrConnection  ErrorKind = "connection_error"
	ErrParsing     ErrorKind = "parsing_error"
	ErrExtraction  ErrorKind = "extraction_error"
	ErrUnknown     ErrorKind = "unknown"
)

// ErrorRecord captures one observed failure with enough context for the
// recovery policy to decide what happens next.
type ErrorRecord struct {
	Kind       ErrorKind
	SourceURL  string
	Timestamp  time.Time
	RetryCount int
	Context    string
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL        string
	Headers    http.Header
	AcceptJSON bool
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL         string
	StatusCode  int
	Headers     http.Header
	Body        []byte
	Duration    time.Duration
	UsedBrowser bool
}

// ArtistQuery pairs an artist name with the event context it was seen in.
type ArtistQuery struct {
	Name      string
	VenueName string
	Title     string
	SourceURL string
}

// ArtistProfile is the enrichment result for one artist.
type ArtistProfile struct {
	Name            string
	Bio             string
	GenreTags       []string
	OfficialWebsite string
	SocialMedia     map[string]string
	ConfidenceScore float64
}

// ClampScore restricts a score to the [0,1] range shared by confidence
// and priority scores.
func ClampScore(score float64) float64 {
	switch {
	case score < 0:
		return 0
	case score > 1:
		return 1
	default:
		return score
	}
}
