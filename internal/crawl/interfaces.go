package crawl

import (
	"context"
	"time"
)

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// EventTx exposes the storage port operations that run inside one
// transaction per crawled source.
type EventTx interface {
	EnsureSite(ctx context.Context, slug string) (int64, error)
	EnsureSource(ctx context.Context, siteID int64, name, url string, requiresBrowser bool, rateLimitRPS float64) (int64, error)
	BeginIngestRun(ctx context.Context, sourceID int64) (int64, error)
	FinishIngestRun(ctx context.Context, runID int64, status string) error
	UpsertVenue(ctx context.Context, siteID int64, name, tzName string) (int64, error)
	InsertEventInstance(ctx context.Context, siteID, venueID int64, event ExtractedEvent) (int64, error)
	UpsertEventSourceLink(ctx context.Context, eventID, sourceID, runID int64, externalID, sourceURL string, rawData map[string]any) (int64, error)
	MarkSourceInactive(ctx context.Context, sourceID int64) error
}

// EventStore is the relational storage port. InTx commits when fn returns
// nil and rolls the whole source's work back otherwise.
type EventStore interface {
	InTx(ctx context.Context, fn func(tx EventTx) error) error
	Close()
}

// ArtistEnricher researches artist metadata for a batch of names seen in
// extracted events. Failures never block event persistence.
type ArtistEnricher interface {
	ResearchArtists(ctx context.Context, queries []ArtistQuery) ([]ArtistProfile, error)
}

// Archiver stores raw page snapshots fetched during a session and
// returns a stable URI for each stored object.
type Archiver interface {
	Archive(ctx context.Context, path, contentType string, body []byte) (string, error)
}

// Publisher pushes session-completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// Hasher computes digests for provenance/integrity.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// IDGenerator produces session IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
