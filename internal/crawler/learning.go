package crawler

import (
	"time"

	"github.com/jefferyschmidt/CharlestonMusicLive/internal/crawl"
	"github.com/jefferyschmidt/CharlestonMusicLive/internal/extractor"
	"github.com/jefferyschmidt/CharlestonMusicLive/internal/metrics"
)

// patternSample records how one extractor performed against one source.
type patternSample struct {
	Confidence      float64
	EventsFound     int
	EventsExtracted int
	Duration        time.Duration
}

// learningState accumulates per-extractor outcomes across a session.
// Domains where an extractor produced events feed back into the factory
// so the next session short-circuits classification for them.
type learningState struct {
	successful  map[string][]patternSample
	failed      map[string][]string
	domainTypes map[string]extractor.VenueType
}

func newLearningState() *learningState {
	return &learningState{
		successful:  make(map[string][]patternSample),
		failed:      make(map[string][]string),
		domainTypes: make(map[string]extractor.VenueType),
	}
}

func (l *learningState) recordSuccess(result crawl.CrawlResult, venueType extractor.VenueType) {
	l.successful[result.ExtractorUsed] = append(l.successful[result.ExtractorUsed], patternSample{
		Confidence:      result.ExtractionConfidence,
		EventsFound:     result.EventsFound,
		EventsExtracted: result.EventsExtracted,
		Duration:        result.CrawlDuration,
	})
	if result.EventsExtracted == 0 {
		return
	}
	if domain := metrics.SanitizeDomain(result.SourceURL); domain != "unknown" {
		l.domainTypes[domain] = venueType
	}
}

func (l *learningState) recordFailure(result crawl.CrawlResult) {
	l.failed[result.ExtractorUsed] = append(l.failed[result.ExtractorUsed], result.Errors...)
}
