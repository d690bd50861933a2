// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jefferyschmidt/CharlestonMusicLive/internal/crawl"
)

// EventStoreConfig controls the Postgres connection pool.
type EventStoreConfig struct {
	DSN      string
	MaxConns int32
}

type txBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// EventStore persists crawl output (sites, sources, venues, events,
// links, ingest runs) in Postgres. It implements crawl.EventStore.
type EventStore struct {
	pool txBeginner
}

// NewEventStore creates a Postgres-backed EventStore.
func NewEventStore(ctx context.Context, cfg EventStoreConfig) (*EventStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &EventStore{pool: pool}, nil
}

// NewEventStoreWithPool constructs a store from an existing pool
// (primarily for testing).
func NewEventStoreWithPool(pool txBeginner) (*EventStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &EventStore{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *EventStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// InTx runs fn inside one transaction. All writes for a source commit
// together or not at all.
func (s *EventStore) InTx(ctx context.Context, fn func(tx crawl.EventTx) error) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("event store is not configured")
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(&eventTx{tx: tx}); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return fmt.Errorf("rollback after %w: %v", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// InactiveSourceURLs lists source URLs previously marked inactive for a
// site, used to seed the blacklist when persistence is enabled.
func (s *EventStore) InactiveSourceURLs(ctx context.Context, siteSlug string) ([]string, error) {
	if s == nil || s.pool == nil {
		return nil, fmt.Errorf("event store is not configured")
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const query = `
SELECT s.url FROM source s
JOIN site st ON st.id = s.site_id
WHERE st.site_slug = $1 AND s.active = false`
	rows, err := tx.Query(ctx, query, siteSlug)
	if err != nil {
		return nil, fmt.Errorf("query inactive sources: %w", err)
	}
	defer rows.Close()

	var urls []string
	for rows.Next() {
		var url string
		if err := rows.Scan(&url); err != nil {
			return nil, fmt.Errorf("scan source url: %w", err)
		}
		urls = append(urls, url)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate inactive sources: %w", err)
	}
	return urls, nil
}

type eventTx struct {
	tx pgx.Tx
}

func (t *eventTx) EnsureSite(ctx context.Context, slug string) (int64, error) {
	const query = `
INSERT INTO site (site_slug, display_name)
VALUES ($1, $2)
ON CONFLICT (site_slug) DO UPDATE SET display_name = EXCLUDED.display_name
RETURNING id`
	var id int64
	if err := t.tx.QueryRow(ctx, query, slug, displayName(slug)).Scan(&id); err != nil {
		return 0, fmt.Errorf("ensure site %q: %w", slug, err)
	}
	return id, nil
}

func (t *eventTx) EnsureSource(ctx context.Context, siteID int64, name, url string, requiresBrowser bool, rateLimitRPS float64) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `SELECT id FROM source WHERE site_id = $1 AND url = $2`, siteID, url).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("find source %q: %w", url, err)
	}

	const insert = `
INSERT INTO source (site_id, name, url, requires_browser, rate_limit_rps, active)
VALUES ($1, $2, $3, $4, $5, true)
RETURNING id`
	if err := t.tx.QueryRow(ctx, insert, siteID, name, url, requiresBrowser, rateLimitRPS).Scan(&id); err != nil {
		return 0, fmt.Errorf("insert source %q: %w", url, err)
	}
	return id, nil
}

func (t *eventTx) BeginIngestRun(ctx context.Context, sourceID int64) (int64, error) {
	const query = `
INSERT INTO ingest_run (source_id, started_at, status)
VALUES ($1, now(), 'running')
RETURNING id`
	var id int64
	if err := t.tx.QueryRow(ctx, query, sourceID).Scan(&id); err != nil {
		return 0, fmt.Errorf("begin ingest run for source %d: %w", sourceID, err)
	}
	return id, nil
}

func (t *eventTx) FinishIngestRun(ctx context.Context, runID int64, status string) error {
	const query = `UPDATE ingest_run SET status = $2, finished_at = now() WHERE id = $1`
	if _, err := t.tx.Exec(ctx, query, runID, status); err != nil {
		return fmt.Errorf("finish ingest run %d: %w", runID, err)
	}
	return nil
}

func (t *eventTx) UpsertVenue(ctx context.Context, siteID int64, name, tzName string) (int64, error) {
	const query = `
INSERT INTO venue (site_id, name, tz_name)
VALUES ($1, $2, $3)
ON CONFLICT (site_id, name) DO UPDATE SET
	tz_name = EXCLUDED.tz_name,
	updated_at = now()
RETURNING id`
	var id int64
	if err := t.tx.QueryRow(ctx, query, siteID, name, tzName).Scan(&id); err != nil {
		return 0, fmt.Errorf("upsert venue %q: %w", name, err)
	}
	return id, nil
}

func (t *eventTx) InsertEventInstance(ctx context.Context, siteID, venueID int64, event crawl.ExtractedEvent) (int64, error) {
	const query = `
INSERT INTO event_instance (
	site_id, venue_id, title, description, artist_name, starts_at_utc, ends_at_utc, tz_name,
	doors_time_utc, price_min, price_max, currency, ticket_url, age_restriction, is_cancelled
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8,
	$9, $10, $11, $12, $13, $14, $15
) RETURNING id`

	var description *string
	if d, ok := event.RawData["description"].(string); ok && d != "" {
		description = &d
	}

	var id int64
	err := t.tx.QueryRow(ctx, query,
		siteID,
		venueID,
		event.Title,
		description,
		event.ArtistName,
		event.StartsAtUTC,
		event.EndsAtUTC,
		event.TZName,
		event.DoorsTimeUTC,
		event.PriceMin,
		event.PriceMax,
		event.Currency,
		nullable(event.TicketURL),
		nullable(event.AgeRestriction),
		event.IsCancelled,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert event %q: %w", event.Title, err)
	}
	return id, nil
}

func (t *eventTx) UpsertEventSourceLink(ctx context.Context, eventID, sourceID, runID int64, externalID, sourceURL string, rawData map[string]any) (int64, error) {
	const query = `
INSERT INTO event_source_link (
	event_instance_id, source_id, ingest_run_id, external_id, source_url, raw_data
) VALUES (
	$1, $2, $3, $4, $5, $6
)
ON CONFLICT (event_instance_id, source_id) DO UPDATE SET
	ingest_run_id = EXCLUDED.ingest_run_id,
	external_id = EXCLUDED.external_id,
	source_url = EXCLUDED.source_url,
	raw_data = COALESCE(EXCLUDED.raw_data, event_source_link.raw_data),
	updated_at = now()
RETURNING id`

	var rawJSON []byte
	if len(rawData) > 0 {
		encoded, err := json.Marshal(rawData)
		if err != nil {
			return 0, fmt.Errorf("marshal raw data: %w", err)
		}
		rawJSON = encoded
	}

	var id int64
	err := t.tx.QueryRow(ctx, query, eventID, sourceID, runID, nullable(externalID), sourceURL, rawJSON).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upsert event source link: %w", err)
	}
	return id, nil
}

func (t *eventTx) MarkSourceInactive(ctx context.Context, sourceID int64) error {
	if _, err := t.tx.Exec(ctx, `UPDATE source SET active = false WHERE id = $1`, sourceID); err != nil {
		return fmt.Errorf("mark source %d inactive: %w", sourceID, err)
	}
	return nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// displayName turns a site slug into a readable default display name,
// e.g. "charleston" -> "Charleston".
func displayName(slug string) string {
	words := strings.FieldsFunc(slug, func(r rune) bool { return r == '-' || r == '_' })
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
