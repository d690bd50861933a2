package crawler

import (
	"sort"

	"github.com/jefferyschmidt/CharlestonMusicLive/internal/crawl"
)

// prioritizeSources orders candidates into three tiers: confident
// venues with detected calendars, then ticketing/aggregator platforms,
// then everything else above the confidence floor. Within a tier higher
// confidence wins; duplicates keep their first (highest) tier.
func prioritizeSources(sources []crawl.DiscoveredSource, minConfidence float64) []crawl.DiscoveredSource {
	sorted := make([]crawl.DiscoveredSource, len(sources))
	copy(sorted, sources)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].ConfidenceScore > sorted[j].ConfidenceScore
	})

	var prioritized []crawl.DiscoveredSource
	seen := map[string]struct{}{}
	add := func(source crawl.DiscoveredSource) {
		if _, dup := seen[source.URL]; dup {
			return
		}
		seen[source.URL] = struct{}{}
		prioritized = append(prioritized, source)
	}

	for _, source := range sorted {
		if source.ConfidenceScore > 0.7 && source.CalendarDetected {
			add(source)
		}
	}
	for _, source := range sorted {
		if (source.Type == crawl.SourceTypeTicketing || source.Type == crawl.SourceTypeAggregator) &&
			source.ConfidenceScore > 0.5 {
			add(source)
		}
	}
	for _, source := range sorted {
		if source.ConfidenceScore > minConfidence {
			add(source)
		}
	}
	return prioritized
}
